package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/anomaly"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/events"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/metrics"
)

// DefaultRetention is how long a resolved or dismissed alert is kept.
const DefaultRetention = 30 * 24 * time.Hour

// ErrSuppressed is returned by CreateAlert when the violation falls inside
// the quiet period of its node and metric.
var ErrSuppressed = errors.New("alert suppressed by quiet period")

// Store persists alerts. Implementations return copies.
type Store interface {
	Insert(ctx context.Context, a *data.Alert) error
	Get(ctx context.Context, id string) (*data.Alert, error)
	// Update applies fn to the latest stored version of the alert
	// atomically with respect to other store writes.
	Update(ctx context.Context, id string, fn func(*data.Alert) error) (*data.Alert, error)
	List(ctx context.Context, f data.AlertFilter) ([]*data.Alert, int, error)
	CountUnread(ctx context.Context, owner string) (int, error)
	MarkAllRead(ctx context.Context, owner string, at time.Time) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	DeleteByNode(ctx context.Context, nodeID string) (int, error)
}

// QuietPeriod decides whether a (node, metric) key may raise another alert
// within window.
type QuietPeriod interface {
	Allow(ctx context.Context, key string, window time.Duration) (bool, error)
}

// Publisher delivers events to real-time subscribers.
type Publisher interface {
	Emit(ev events.Event) int
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Option configures the manager.
type Option func(*Manager)

func WithClock(c Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithQuietPeriod enables deduplication per (node, metric). A zero window
// leaves it off.
func WithQuietPeriod(q QuietPeriod, window time.Duration) Option {
	return func(m *Manager) {
		m.quiet = q
		m.quietWindow = window
	}
}

func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// Manager owns the alert lifecycle: creation from violations, guarded
// transitions with an audit trail, read state and retention.
type Manager struct {
	store       Store
	log         *zap.Logger
	clock       Clock
	publisher   Publisher
	quiet       QuietPeriod
	quietWindow time.Duration
	retention   time.Duration
	locks       *keyedMutex
}

func NewManager(store Store, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		log:       logger.Named("alerts"),
		clock:     systemClock{},
		retention: DefaultRetention,
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateAlert records a new active alert for a violation on node. The
// reading is only read.
func (m *Manager) CreateAlert(ctx context.Context, v anomaly.Violation, node *data.SensorNodeState, reading *data.SensorReading) (*data.Alert, error) {
	if node == nil || node.NodeID == "" || node.Owner == "" {
		return nil, fmt.Errorf("%w: alert needs a node with an owner", data.ErrValidation)
	}
	if !v.Severity.Valid() || !v.AlertType.Valid() {
		return nil, fmt.Errorf("%w: violation has severity %q type %q", data.ErrValidation, v.Severity, v.AlertType)
	}

	if m.quiet != nil && m.quietWindow > 0 {
		key := node.NodeID + ":" + string(v.Metric)
		ok, err := m.quiet.Allow(ctx, key, m.quietWindow)
		if err != nil {
			m.log.Warn("quiet period check failed, raising alert", zap.String("key", key), zap.Error(err))
		} else if !ok {
			metrics.AlertsSuppressedTotal.Inc()
			return nil, ErrSuppressed
		}
	}

	now := m.clock.Now()
	a := &data.Alert{
		ID:            uuid.NewString(),
		Type:          v.AlertType,
		Severity:      v.Severity,
		Title:         v.Title,
		Message:       v.Message,
		Owner:         node.Owner,
		NodeID:        node.NodeID,
		Status:        data.AlertActive,
		Actions:       []data.AlertAction{},
		Notifications: map[data.Channel]data.NotificationRecord{},
		Metadata:      v.Metadata(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if reading != nil {
		a.ReadingID = reading.ID
	}
	if err := m.store.Insert(ctx, a); err != nil {
		return nil, fmt.Errorf("insert alert: %w", err)
	}

	metrics.AlertsCreatedTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	m.log.Info("alert created",
		zap.String("alert_id", a.ID),
		zap.String("node_id", a.NodeID),
		zap.String("metric", string(v.Metric)),
		zap.String("severity", string(a.Severity)),
	)
	return a, nil
}

// transitions is the lifecycle state machine. Terminal states have no row.
var transitions = map[data.AlertStatus]map[data.ActionType]data.AlertStatus{
	data.AlertActive: {
		data.ActionAcknowledge: data.AlertAcknowledged,
		data.ActionResolve:     data.AlertResolved,
		data.ActionDismiss:     data.AlertDismissed,
	},
	data.AlertAcknowledged: {
		data.ActionResolve: data.AlertResolved,
		data.ActionDismiss: data.AlertDismissed,
	},
}

// NextStatus returns the status an action leads to from status.
func NextStatus(status data.AlertStatus, action data.ActionType) (data.AlertStatus, bool) {
	if action == data.ActionEscalate {
		return status, !status.Terminal()
	}
	next, ok := transitions[status][action]
	return next, ok
}

func (m *Manager) Acknowledge(ctx context.Context, alertID, actor, notes string) (*data.Alert, error) {
	return m.Apply(ctx, alertID, data.ActionAcknowledge, actor, notes)
}

func (m *Manager) Resolve(ctx context.Context, alertID, actor, notes string) (*data.Alert, error) {
	return m.Apply(ctx, alertID, data.ActionResolve, actor, notes)
}

func (m *Manager) Dismiss(ctx context.Context, alertID, actor, notes string) (*data.Alert, error) {
	return m.Apply(ctx, alertID, data.ActionDismiss, actor, notes)
}

// Escalate raises severity one step without changing status.
func (m *Manager) Escalate(ctx context.Context, alertID, actor, notes string) (*data.Alert, error) {
	return m.Apply(ctx, alertID, data.ActionEscalate, actor, notes)
}

// Apply performs a lifecycle action on behalf of actor, who must own the
// alert. The change is persisted even if ctx is cancelled mid-way.
func (m *Manager) Apply(ctx context.Context, alertID string, action data.ActionType, actor, notes string) (*data.Alert, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, fmt.Errorf("%w: actor is required", data.ErrValidation)
	}
	switch action {
	case data.ActionAcknowledge, data.ActionResolve, data.ActionDismiss, data.ActionEscalate:
	default:
		return nil, fmt.Errorf("%w: unknown action %q", data.ErrValidation, action)
	}
	ctx = context.WithoutCancel(ctx)

	unlock := m.locks.Lock(alertID)
	defer unlock()

	if _, err := m.owned(ctx, alertID, actor); err != nil {
		return nil, err
	}

	a, err := m.store.Update(ctx, alertID, func(a *data.Alert) error {
		return m.transition(a, action, actor, notes)
	})
	if err != nil {
		var terr *data.TransitionError
		if errors.As(err, &terr) {
			metrics.AlertTransitionsTotal.WithLabelValues(string(action), "rejected").Inc()
			return nil, err
		}
		return nil, fmt.Errorf("update alert %s: %w", alertID, err)
	}
	metrics.AlertTransitionsTotal.WithLabelValues(string(action), "applied").Inc()
	m.log.Info("alert transition",
		zap.String("alert_id", a.ID),
		zap.String("action", string(action)),
		zap.String("status", string(a.Status)),
		zap.String("actor", actor),
	)

	m.publish(events.AlertUpdated{AlertID: a.ID, OwnerID: a.Owner, Status: a.Status})
	return a, nil
}

// transition applies action to a in place.
func (m *Manager) transition(a *data.Alert, action data.ActionType, actor, notes string) error {
	next, ok := NextStatus(a.Status, action)
	if ok && action == data.ActionEscalate {
		a.Severity, ok = a.Severity.Escalated()
	}
	if !ok {
		return &data.TransitionError{AlertID: a.ID, From: a.Status, Action: action}
	}

	now := m.clock.Now()
	if last, ok := a.LastAction(); ok && last.PerformedAt.After(now) {
		now = last.PerformedAt
	}
	a.Actions = append(a.Actions, data.AlertAction{
		Action:      action,
		PerformedBy: actor,
		PerformedAt: now,
		Notes:       notes,
	})
	a.Status = next
	if action != data.ActionEscalate {
		a.IsRead = true
	}
	a.UpdatedAt = now
	if next.Terminal() {
		expires := now.Add(m.retention)
		a.ExpiresAt = &expires
	}
	return nil
}

// MarkAllRead flags every unread alert of owner as read. The store applies
// it under the same lock as Update.
func (m *Manager) MarkAllRead(ctx context.Context, owner string) (int, error) {
	if strings.TrimSpace(owner) == "" {
		return 0, fmt.Errorf("%w: owner is required", data.ErrValidation)
	}
	n, err := m.store.MarkAllRead(context.WithoutCancel(ctx), owner, m.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("mark alerts read: %w", err)
	}
	m.publish(events.AlertsMarkedRead{OwnerID: owner, Count: n})
	return n, nil
}

// Get returns an alert owned by caller. Alerts of other owners are reported
// as not found.
func (m *Manager) Get(ctx context.Context, alertID, caller string) (*data.Alert, error) {
	return m.owned(ctx, alertID, caller)
}

// List returns one page of the filter owner's alerts and the total count.
func (m *Manager) List(ctx context.Context, f data.AlertFilter) ([]*data.Alert, int, error) {
	if f.Owner == "" {
		return nil, 0, fmt.Errorf("%w: owner is required", data.ErrValidation)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", data.ErrValidation, f.Status)
	}
	if f.Type != "" && !f.Type.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown type %q", data.ErrValidation, f.Type)
	}
	if f.Limit < 0 || f.Offset < 0 {
		return nil, 0, fmt.Errorf("%w: negative paging", data.ErrValidation)
	}
	return m.store.List(ctx, f)
}

func (m *Manager) UnreadCount(ctx context.Context, owner string) (int, error) {
	return m.store.CountUnread(ctx, owner)
}

// PurgeExpired deletes terminal alerts whose retention has elapsed.
func (m *Manager) PurgeExpired(ctx context.Context) (int, error) {
	n, err := m.store.DeleteExpired(ctx, m.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("purge alerts: %w", err)
	}
	if n > 0 {
		metrics.AlertsPurgedTotal.Add(float64(n))
		m.log.Info("purged expired alerts", zap.Int("count", n))
	}
	return n, nil
}

// RunJanitor purges expired alerts every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.PurgeExpired(ctx); err != nil {
				m.log.Error("alert janitor", zap.Error(err))
			}
		}
	}
}

// DeleteByNode removes every alert of a deleted node.
func (m *Manager) DeleteByNode(ctx context.Context, nodeID string) (int, error) {
	return m.store.DeleteByNode(ctx, nodeID)
}

func (m *Manager) owned(ctx context.Context, alertID, caller string) (*data.Alert, error) {
	a, err := m.store.Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a.Owner != caller {
		return nil, fmt.Errorf("%w: alert %s", data.ErrNotFound, alertID)
	}
	return a, nil
}

// publish never fails the caller: a broken publisher is logged and ignored.
func (m *Manager) publish(ev events.Event) {
	if m.publisher == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("alert_publish").Inc()
			m.log.Error("publish panicked", zap.String("kind", string(ev.Kind())), zap.Any("panic", r))
		}
	}()
	m.publisher.Emit(ev)
}
