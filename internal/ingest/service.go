// Package ingest accepts sensor readings: it validates them, updates node
// state, evaluates thresholds, raises alerts and publishes the results.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/alerting"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/anomaly"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/events"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/metrics"
)

type Nodes interface {
	Owned(ctx context.Context, owner, nodeID string) (*data.SensorNodeState, error)
	RecordSeen(ctx context.Context, nodeID string, r *data.SensorReading) (*data.SensorNodeState, error)
}

type Readings interface {
	Add(ctx context.Context, r *data.SensorReading) error
}

type Alerts interface {
	CreateAlert(ctx context.Context, v anomaly.Violation, node *data.SensorNodeState, reading *data.SensorReading) (*data.Alert, error)
}

// Dispatcher queues notifications of a new alert without blocking.
type Dispatcher interface {
	Enqueue(a *data.Alert) int
}

type Publisher interface {
	Emit(ev events.Event) int
}

type sourceKey struct{}

// WithSource tags ctx with the transport a reading arrived on.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return "http"
}

type Option func(*Service)

func WithDetector(d *anomaly.Detector) Option {
	return func(s *Service) {
		if d != nil {
			s.detector = d
		}
	}
}

func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

type Service struct {
	nodes      Nodes
	readings   Readings
	alerts     Alerts
	detector   *anomaly.Detector
	dispatcher Dispatcher
	publisher  Publisher
	now        func() time.Time
	log        *zap.Logger
}

func NewService(nodes Nodes, readings Readings, alerts Alerts, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		nodes:    nodes,
		readings: readings,
		alerts:   alerts,
		detector: anomaly.NewDetector(),
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.Named("ingest"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result is the stored reading and the alerts it raised.
type Result struct {
	Reading *data.SensorReading `json:"sensorData"`
	Alerts  []*data.Alert       `json:"alerts"`
}

// Submit records one reading of nodeID on behalf of caller. Nothing changes
// when the input is invalid or the node is not the caller's. Once the reading
// is stored the rest runs to completion even if ctx is cancelled.
func (s *Service) Submit(ctx context.Context, nodeID string, in data.ReadingInput, caller string) (*Result, error) {
	source := sourceFrom(ctx)
	now := s.now()

	if err := in.Validate(now); err != nil {
		metrics.ReadingsTotal.WithLabelValues(source, "invalid").Inc()
		return nil, err
	}
	node, err := s.nodes.Owned(ctx, caller, nodeID)
	if err != nil {
		metrics.ReadingsTotal.WithLabelValues(source, "rejected").Inc()
		return nil, err
	}

	reading := &data.SensorReading{
		ID:         uuid.NewString(),
		NodeID:     nodeID,
		Timestamp:  in.Timestamp.UTC(),
		ReceivedAt: now,
		Metrics:    in.Metrics.Clone(),
	}
	if in.Timestamp.IsZero() {
		reading.Timestamp = now
	}
	if err := s.readings.Add(ctx, reading); err != nil {
		metrics.ReadingsTotal.WithLabelValues(source, "failed").Inc()
		return nil, fmt.Errorf("store reading: %w", err)
	}
	ctx = context.WithoutCancel(ctx)

	node, err = s.nodes.RecordSeen(ctx, nodeID, reading)
	if err != nil {
		metrics.ReadingsTotal.WithLabelValues(source, "failed").Inc()
		return nil, fmt.Errorf("update node %s: %w", nodeID, err)
	}
	metrics.ReadingsTotal.WithLabelValues(source, "accepted").Inc()

	violations := s.detector.Check(reading, node.Policy)
	created := make([]*data.Alert, 0, len(violations))
	for _, v := range violations {
		metrics.ViolationsTotal.WithLabelValues(string(v.Metric), string(v.Bound)).Inc()
		a, err := s.alerts.CreateAlert(ctx, v, node, reading)
		if errors.Is(err, alerting.ErrSuppressed) {
			s.log.Debug("violation inside quiet period",
				zap.String("node_id", nodeID),
				zap.String("metric", string(v.Metric)),
			)
			continue
		}
		if err != nil {
			s.log.Error("create alert",
				zap.String("node_id", nodeID),
				zap.String("metric", string(v.Metric)),
				zap.Error(err),
			)
			continue
		}
		if s.dispatcher != nil {
			s.dispatcher.Enqueue(a)
		}
		created = append(created, a)
	}

	s.log.Debug("reading accepted",
		zap.String("node_id", nodeID),
		zap.String("reading_id", reading.ID),
		zap.String("source", source),
		zap.Int("violations", len(violations)),
		zap.Int("alerts", len(created)),
	)

	s.publish(events.ReadingReceived{NodeID: nodeID, Owner: node.Owner, Data: reading.Clone()})
	for _, a := range created {
		s.publish(events.AlertCreated{OwnerID: a.Owner, Alert: a.Summary()})
	}
	return &Result{Reading: reading, Alerts: created}, nil
}

// publish never fails the submission: a broken publisher is logged and
// ignored.
func (s *Service) publish(ev events.Event) {
	if s.publisher == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("ingest_publish").Inc()
			s.log.Error("publish panicked", zap.String("kind", string(ev.Kind())), zap.Any("panic", r))
		}
	}()
	s.publisher.Emit(ev)
}
