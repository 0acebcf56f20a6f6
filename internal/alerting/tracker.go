package alerting

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/metrics"
)

// Tracker records per-channel notification attempts on alerts. It never
// delivers anything itself. Writes share the manager's per-alert lock.
type Tracker struct {
	m *Manager
}

func (m *Manager) Tracker() *Tracker {
	return &Tracker{m: m}
}

// RecordDispatch marks channel as delivered to destination.
func (t *Tracker) RecordDispatch(ctx context.Context, alertID string, channel data.Channel, destination string) error {
	now := t.m.clock.Now()
	return t.record(ctx, alertID, data.NotificationRecord{
		Channel:     channel,
		Sent:        true,
		SentAt:      &now,
		Destination: destination,
	})
}

// RecordFailure keeps sent=false and the failure text for channel.
func (t *Tracker) RecordFailure(ctx context.Context, alertID string, channel data.Channel, destination string, cause error) error {
	rec := data.NotificationRecord{Channel: channel, Destination: destination}
	if cause != nil {
		rec.Error = cause.Error()
	}
	return t.record(ctx, alertID, rec)
}

func (t *Tracker) record(ctx context.Context, alertID string, rec data.NotificationRecord) error {
	if !rec.Channel.Valid() {
		return fmt.Errorf("%w: %w: unknown channel %q", data.ErrDispatchRecord, data.ErrValidation, rec.Channel)
	}
	ctx = context.WithoutCancel(ctx)

	unlock := t.m.locks.Lock(alertID)
	defer unlock()

	_, err := t.m.store.Update(ctx, alertID, func(a *data.Alert) error {
		if a.Notifications == nil {
			a.Notifications = make(map[data.Channel]data.NotificationRecord)
		}
		a.Notifications[rec.Channel] = rec
		return nil
	})
	if err != nil {
		return t.fail(alertID, rec.Channel, err)
	}
	return nil
}

func (t *Tracker) fail(alertID string, channel data.Channel, err error) error {
	t.m.log.Warn("notification record failed",
		zap.String("alert_id", alertID),
		zap.String("channel", string(channel)),
		zap.Error(err),
	)
	metrics.DispatchTotal.WithLabelValues(string(channel), "record_failed").Inc()
	return fmt.Errorf("%w: %w", data.ErrDispatchRecord, err)
}
