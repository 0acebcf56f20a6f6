// Package nodes manages the sensor node registry: registration, thresholds,
// liveness and deletion.
package nodes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/events"
)

const DefaultOfflineAfter = 5 * time.Minute

type Store interface {
	Create(ctx context.Context, n *data.SensorNodeState) error
	Get(ctx context.Context, nodeID string) (*data.SensorNodeState, error)
	List(ctx context.Context, owner string) ([]*data.SensorNodeState, error)
	Update(ctx context.Context, nodeID string, fn func(*data.SensorNodeState) error) (*data.SensorNodeState, error)
	Delete(ctx context.Context, nodeID string) error
}

// Readings is the reading history of nodes.
type Readings interface {
	Recent(ctx context.Context, nodeID string, limit int) ([]*data.SensorReading, error)
	DeleteNode(ctx context.Context, nodeID string) (int, error)
}

// AlertPurger drops the alerts of a deleted node.
type AlertPurger interface {
	DeleteByNode(ctx context.Context, nodeID string) (int, error)
}

type Publisher interface {
	Emit(ev events.Event) int
}

type Option func(*Service)

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithDefaultPolicy sets the thresholds a new node starts with.
func WithDefaultPolicy(p data.ThresholdPolicy) Option {
	return func(s *Service) {
		if len(p) > 0 {
			s.defaultPolicy = p.Clone()
		}
	}
}

// WithOfflineAfter sets how long a node may stay silent before it is
// reported offline.
func WithOfflineAfter(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.offlineAfter = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

type Service struct {
	store         Store
	readings      Readings
	alerts        AlertPurger
	publisher     Publisher
	defaultPolicy data.ThresholdPolicy
	offlineAfter  time.Duration
	now           func() time.Time
	log           *zap.Logger
}

func NewService(store Store, readings Readings, alerts AlertPurger, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:         store,
		readings:      readings,
		alerts:        alerts,
		defaultPolicy: data.DefaultPolicy(),
		offlineAfter:  DefaultOfflineAfter,
		now:           func() time.Time { return time.Now().UTC() },
		log:           logger.Named("nodes"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registration is a request to add a node.
type Registration struct {
	NodeID string `json:"nodeId"`
	Name   string `json:"name"`
}

// Register adds a node for owner with the default thresholds. The node
// starts offline until its first reading.
func (s *Service) Register(ctx context.Context, owner string, reg Registration) (*data.SensorNodeState, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("%w: owner is required", data.ErrValidation)
	}
	reg.NodeID = strings.TrimSpace(reg.NodeID)
	reg.Name = strings.TrimSpace(reg.Name)
	if err := data.ValidateNodeID(reg.NodeID); err != nil {
		return nil, err
	}
	if err := data.ValidateNodeName(reg.Name); err != nil {
		return nil, err
	}

	now := s.now()
	n := &data.SensorNodeState{
		NodeID:    reg.NodeID,
		Name:      reg.Name,
		Owner:     owner,
		Status:    data.NodeOffline,
		Policy:    s.defaultPolicy.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, err
	}
	s.log.Info("node registered", zap.String("node_id", n.NodeID), zap.String("owner", owner))
	s.emit(events.NodeRegistered{NodeID: n.NodeID, Name: n.Name, Owner: owner})
	return s.present(n), nil
}

// Get returns a node of owner. Nodes of other owners are not found.
func (s *Service) Get(ctx context.Context, owner, nodeID string) (*data.SensorNodeState, error) {
	n, err := s.owned(ctx, owner, nodeID)
	if err != nil {
		return nil, err
	}
	return s.present(n), nil
}

// Owned returns the node for ingestion. Unknown and foreign nodes are both
// an ownership failure.
func (s *Service) Owned(ctx context.Context, owner, nodeID string) (*data.SensorNodeState, error) {
	n, err := s.store.Get(ctx, nodeID)
	if err != nil || n.Owner != owner {
		return nil, fmt.Errorf("%w: node %s", data.ErrOwnership, nodeID)
	}
	return n, nil
}

// ListFilter pages an owner's nodes. Zero Limit returns all.
type ListFilter struct {
	Status data.NodeStatus
	Limit  int
	Offset int
}

// List returns one page of owner's nodes, newest first, and the total.
// Status filters on the effective status.
func (s *Service) List(ctx context.Context, owner string, f ListFilter) ([]*data.SensorNodeState, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", data.ErrValidation, f.Status)
	}
	if f.Limit < 0 || f.Offset < 0 {
		return nil, 0, fmt.Errorf("%w: negative paging", data.ErrValidation)
	}
	all, err := s.store.List(ctx, owner)
	if err != nil {
		return nil, 0, err
	}
	matched := make([]*data.SensorNodeState, 0, len(all))
	for _, n := range all {
		n = s.present(n)
		if f.Status == "" || n.Status == f.Status {
			matched = append(matched, n)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	if f.Offset >= total {
		return []*data.SensorNodeState{}, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

// UpdatePolicy replaces the bounds of the metrics present in policy. Other
// metrics keep their thresholds.
func (s *Service) UpdatePolicy(ctx context.Context, owner, nodeID string, policy data.ThresholdPolicy) (*data.SensorNodeState, error) {
	if len(policy) == 0 {
		return nil, fmt.Errorf("%w: no thresholds given", data.ErrValidation)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.owned(ctx, owner, nodeID); err != nil {
		return nil, err
	}
	n, err := s.store.Update(ctx, nodeID, func(n *data.SensorNodeState) error {
		if n.Owner != owner {
			return fmt.Errorf("%w: node %s", data.ErrNotFound, nodeID)
		}
		if n.Policy == nil {
			n.Policy = make(data.ThresholdPolicy)
		}
		for metric, b := range policy {
			n.Policy[metric] = b
		}
		n.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("thresholds updated", zap.String("node_id", nodeID), zap.Int("metrics", len(policy)))
	return s.present(n), nil
}

// RecordSeen marks the node online and copies battery and signal from the
// reading when present.
func (s *Service) RecordSeen(ctx context.Context, nodeID string, r *data.SensorReading) (*data.SensorNodeState, error) {
	return s.store.Update(ctx, nodeID, func(n *data.SensorNodeState) error {
		n.Status = data.NodeOnline
		n.LastSeen = r.ReceivedAt
		if v, ok := r.Metrics.Value(data.MetricBattery); ok {
			n.Battery = v
		}
		if v, ok := r.Metrics.Value(data.MetricSignal); ok {
			n.Signal = v
		}
		n.UpdatedAt = r.ReceivedAt
		return nil
	})
}

// Recent returns up to limit readings of owner's node, newest first.
func (s *Service) Recent(ctx context.Context, owner, nodeID string, limit int) ([]*data.SensorReading, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", data.ErrValidation)
	}
	if _, err := s.owned(ctx, owner, nodeID); err != nil {
		return nil, err
	}
	return s.readings.Recent(ctx, nodeID, limit)
}

// Delete removes owner's node with its readings and alerts.
func (s *Service) Delete(ctx context.Context, owner, nodeID string) error {
	n, err := s.owned(ctx, owner, nodeID)
	if err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	readings, err := s.readings.DeleteNode(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("delete readings of %s: %w", nodeID, err)
	}
	alerts, err := s.alerts.DeleteByNode(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("delete alerts of %s: %w", nodeID, err)
	}
	if err := s.store.Delete(ctx, nodeID); err != nil {
		return err
	}
	s.log.Info("node deleted",
		zap.String("node_id", nodeID),
		zap.Int("readings", readings),
		zap.Int("alerts", alerts),
	)
	s.emit(events.NodeDeleted{NodeID: nodeID, Owner: n.Owner})
	return nil
}

func (s *Service) owned(ctx context.Context, owner, nodeID string) (*data.SensorNodeState, error) {
	n, err := s.store.Get(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if n.Owner != owner {
		return nil, fmt.Errorf("%w: node %s", data.ErrNotFound, nodeID)
	}
	return n, nil
}

// present reports the effective status.
func (s *Service) present(n *data.SensorNodeState) *data.SensorNodeState {
	out := n.Clone()
	if out.Status == data.NodeOnline {
		out.Status = out.EffectiveStatus(s.now(), s.offlineAfter)
	}
	return out
}

func (s *Service) emit(ev events.Event) {
	if s.publisher != nil {
		s.publisher.Emit(ev)
	}
}
