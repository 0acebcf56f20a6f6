package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/alerting"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/anomaly"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/events"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/nodes"
	"github.com/Jsackitey1/AgroMesh-sub000/internal/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Emit(ev events.Event) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return 1
}

func (p *recordingPublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Kind, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Kind())
	}
	return out
}

type recordingDispatcher struct {
	mu     sync.Mutex
	alerts []string
}

func (d *recordingDispatcher) Enqueue(a *data.Alert) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, a.ID)
	return 1
}

type failingAlerts struct{}

func (failingAlerts) CreateAlert(context.Context, anomaly.Violation, *data.SensorNodeState, *data.SensorReading) (*data.Alert, error) {
	return nil, errors.New("alert store offline")
}

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	nodes    *nodes.Service
	readings *storage.MemoryReadingStore
	manager  *alerting.Manager
	pub      *recordingPublisher
	disp     *recordingDispatcher
}

func newFixture(t *testing.T, alertOpts ...alerting.Option) *fixture {
	t.Helper()
	now := func() time.Time { return t0 }
	f := &fixture{
		readings: storage.NewMemoryReadingStore(10),
		pub:      &recordingPublisher{},
		disp:     &recordingDispatcher{},
	}
	f.manager = alerting.NewManager(storage.NewMemoryAlertStore(), zap.NewNop(), alertOpts...)
	f.nodes = nodes.NewService(storage.NewMemoryNodeStore(), f.readings, f.manager, zap.NewNop(), nodes.WithClock(now))
	f.svc = NewService(f.nodes, f.readings, f.manager, zap.NewNop(),
		WithClock(now),
		WithPublisher(f.pub),
		WithDispatcher(f.disp),
	)
	_, err := f.nodes.Register(context.Background(), "alice", nodes.Registration{NodeID: "node-a", Name: "North field"})
	require.NoError(t, err)
	return f
}

func input(values map[data.Metric]float64) data.ReadingInput {
	var in data.ReadingInput
	for m, v := range values {
		in.Metrics.Set(m, v)
	}
	return in
}

func TestSubmitRaisesAlertPerViolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := input(map[data.Metric]float64{
		data.MetricSoilMoisture: 15,
		data.MetricTemperature:  40,
		data.MetricBattery:      64,
	})

	res, err := f.svc.Submit(ctx, "node-a", in, "alice")
	require.NoError(t, err)

	assert.Equal(t, "node-a", res.Reading.NodeID)
	assert.Equal(t, t0, res.Reading.Timestamp)
	assert.Equal(t, in.Metrics, res.Reading.Metrics)

	require.Len(t, res.Alerts, 2)
	soil, temp := res.Alerts[0], res.Alerts[1]
	assert.Equal(t, data.AlertIrrigation, soil.Type)
	assert.Equal(t, data.SeverityHigh, soil.Severity)
	assert.Equal(t, data.MetricSoilMoisture, soil.Metadata.Metric)
	assert.Equal(t, data.SeverityHigh, temp.Severity)
	assert.Equal(t, data.MetricTemperature, temp.Metadata.Metric)
	for _, a := range res.Alerts {
		assert.Equal(t, data.AlertActive, a.Status)
		assert.Equal(t, res.Reading.ID, a.ReadingID)
		assert.Equal(t, "alice", a.Owner)
	}

	assert.Equal(t, []events.Kind{
		events.KindReadingReceived,
		events.KindAlertCreated,
		events.KindAlertCreated,
	}, f.pub.kinds())
	assert.Equal(t, []string{soil.ID, temp.ID}, f.disp.alerts)

	node, err := f.nodes.Get(ctx, "alice", "node-a")
	require.NoError(t, err)
	assert.Equal(t, data.NodeOnline, node.Status)
	assert.Equal(t, t0, node.LastSeen)
	assert.Equal(t, 64.0, node.Battery)

	history, err := f.readings.Recent(ctx, "node-a", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, res.Reading.ID, history[0].ID)

	unread, err := f.manager.UnreadCount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, unread)
}

func TestSubmitWithinBoundsRaisesNothing(t *testing.T) {
	f := newFixture(t)
	in := input(map[data.Metric]float64{data.MetricSoilMoisture: 20, data.MetricTemperature: 35, data.MetricPH: 6.5})
	in.Timestamp = t0.Add(-time.Minute)

	res, err := f.svc.Submit(context.Background(), "node-a", in, "alice")
	require.NoError(t, err)
	assert.Empty(t, res.Alerts)
	assert.Equal(t, t0.Add(-time.Minute), res.Reading.Timestamp)
	assert.Equal(t, t0, res.Reading.ReceivedAt)
	assert.Equal(t, []events.Kind{events.KindReadingReceived}, f.pub.kinds())
	assert.Empty(t, f.disp.alerts)
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []data.ReadingInput{
		{},
		input(map[data.Metric]float64{data.MetricSoilMoisture: 140}),
		{Timestamp: t0.Add(time.Hour), Metrics: input(map[data.Metric]float64{data.MetricPH: 6}).Metrics},
	}
	for _, in := range cases {
		_, err := f.svc.Submit(ctx, "node-a", in, "alice")
		assert.ErrorIs(t, err, data.ErrValidation)
	}

	history, err := f.readings.Recent(ctx, "node-a", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
	node, err := f.nodes.Get(ctx, "alice", "node-a")
	require.NoError(t, err)
	assert.Equal(t, data.NodeOffline, node.Status)
	assert.Empty(t, f.pub.kinds())
}

func TestSubmitRejectsForeignAndUnknownNodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := input(map[data.Metric]float64{data.MetricSoilMoisture: 5})

	_, err := f.svc.Submit(ctx, "node-a", in, "bob")
	assert.ErrorIs(t, err, data.ErrOwnership)
	_, err = f.svc.Submit(ctx, "node-z", in, "alice")
	assert.ErrorIs(t, err, data.ErrOwnership)

	history, err := f.readings.Recent(ctx, "node-a", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, f.pub.kinds())
	assert.Empty(t, f.disp.alerts)
}

func TestSubmitHonoursQuietPeriod(t *testing.T) {
	f := newFixture(t, alerting.WithQuietPeriod(storage.NewMemoryQuietPeriod(), time.Hour))
	ctx := context.Background()
	in := input(map[data.Metric]float64{data.MetricSoilMoisture: 10})

	first, err := f.svc.Submit(ctx, "node-a", in, "alice")
	require.NoError(t, err)
	assert.Len(t, first.Alerts, 1)

	second, err := f.svc.Submit(ctx, "node-a", in, "alice")
	require.NoError(t, err)
	assert.Empty(t, second.Alerts)
	assert.NotEqual(t, first.Reading.ID, second.Reading.ID)
}

func TestSubmitSurvivesAlertFailure(t *testing.T) {
	readings := storage.NewMemoryReadingStore(10)
	nodeSvc := nodes.NewService(storage.NewMemoryNodeStore(), readings, storage.NewMemoryAlertStore(), zap.NewNop())
	_, err := nodeSvc.Register(context.Background(), "alice", nodes.Registration{NodeID: "node-a", Name: "North field"})
	require.NoError(t, err)
	pub := &recordingPublisher{}
	svc := NewService(nodeSvc, readings, failingAlerts{}, zap.NewNop(), WithPublisher(pub))

	res, err := svc.Submit(context.Background(), "node-a", input(map[data.Metric]float64{data.MetricSoilMoisture: 10}), "alice")
	require.NoError(t, err)
	assert.Empty(t, res.Alerts)
	assert.Equal(t, []events.Kind{events.KindReadingReceived}, pub.kinds())
}

type panickingPublisher struct{}

func (panickingPublisher) Emit(events.Event) int { panic("hub gone") }

func TestSubmitSurvivesPanickingPublisher(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc = NewService(f.nodes, f.readings, f.manager, zap.NewNop(),
		WithClock(func() time.Time { return t0 }),
		WithPublisher(panickingPublisher{}),
		WithDispatcher(f.disp),
	)

	var res *Result
	require.NotPanics(t, func() {
		var err error
		res, err = f.svc.Submit(ctx, "node-a", input(map[data.Metric]float64{data.MetricSoilMoisture: 10}), "alice")
		require.NoError(t, err)
	})
	require.Len(t, res.Alerts, 1)

	stored, err := f.readings.Recent(ctx, "node-a", 10)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	got, err := f.manager.Get(ctx, res.Alerts[0].ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, data.AlertActive, got.Status)
}

func TestSubmitUsesDetectorRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc = NewService(f.nodes, f.readings, f.manager, zap.NewNop(),
		WithClock(func() time.Time { return t0 }),
		WithDetector(anomaly.NewDetector(anomaly.Rule{
			Metric:   data.MetricHumidity,
			Bound:    anomaly.BoundHigh,
			Severity: data.SeverityLow,
			Type:     data.AlertPestRisk,
			Title:    "Humidity high",
		})),
	)
	_, err := f.nodes.UpdatePolicy(ctx, "alice", "node-a", data.ThresholdPolicy{data.MetricHumidity: {Min: 30, Max: 80}})
	require.NoError(t, err)

	res, err := f.svc.Submit(ctx, "node-a", input(map[data.Metric]float64{data.MetricHumidity: 92}), "alice")
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, data.AlertPestRisk, res.Alerts[0].Type)
	assert.Equal(t, data.SeverityLow, res.Alerts[0].Severity)
}

func TestSourceFromContext(t *testing.T) {
	assert.Equal(t, "http", sourceFrom(context.Background()))
	assert.Equal(t, "mqtt", sourceFrom(WithSource(context.Background(), "mqtt")))
}
