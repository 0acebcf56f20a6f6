package data

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReading_FlatPayload(t *testing.T) {
	in, err := ParseReading([]byte(`{"timestamp":"2024-05-01T10:00:00Z","soilMoisture":15,"temperature":40,"batteryLevel":82,"signalStrength":-70}`))
	require.NoError(t, err)

	v, ok := in.Metrics.Value(MetricSoilMoisture)
	assert.True(t, ok)
	assert.Equal(t, 15.0, v)
	v, _ = in.Metrics.Value(MetricTemperature)
	assert.Equal(t, 40.0, v)
	v, _ = in.Metrics.Value(MetricBattery)
	assert.Equal(t, 82.0, v)
	v, _ = in.Metrics.Value(MetricSignal)
	assert.Equal(t, -70.0, v)
	_, ok = in.Metrics.Value(MetricPH)
	assert.False(t, ok)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), in.Timestamp.UTC())
}

func TestParseReading_NestedPayload(t *testing.T) {
	in, err := ParseReading([]byte(`{"readings":{"ph":{"value":6.1,"unit":"pH"},"humidity":{"value":55}},"metadata":{"batteryLevel":50}}`))
	require.NoError(t, err)

	v, ok := in.Metrics.Value(MetricPH)
	assert.True(t, ok)
	assert.Equal(t, 6.1, v)
	v, _ = in.Metrics.Value(MetricHumidity)
	assert.Equal(t, 55.0, v)
	v, _ = in.Metrics.Value(MetricBattery)
	assert.Equal(t, 50.0, v)
	assert.True(t, in.Timestamp.IsZero())
}

func TestParseReading_Malformed(t *testing.T) {
	_, err := ParseReading([]byte(`{not json`))
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = ParseReading([]byte(`{"temperature":20,"timestamp":"yesterday"}`))
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestReadingInput_Validate(t *testing.T) {
	now := time.Now()
	ok := ReadingInput{}
	ok.Metrics.Set(MetricTemperature, 21)
	assert.NoError(t, ok.Validate(now))

	empty := ReadingInput{}
	assert.ErrorIs(t, empty.Validate(now), ErrValidation)

	outOfRange := ReadingInput{}
	outOfRange.Metrics.Set(MetricSoilMoisture, 140)
	assert.ErrorIs(t, outOfRange.Validate(now), ErrValidation)

	future := ReadingInput{Timestamp: now.Add(time.Hour)}
	future.Metrics.Set(MetricTemperature, 21)
	assert.ErrorIs(t, future.Validate(now), ErrValidation)
}

func TestThresholdPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.ErrorIs(t, ThresholdPolicy{MetricPH: {Min: 7, Max: 7}}.Validate(), ErrValidation)
	assert.ErrorIs(t, ThresholdPolicy{"rainfall": {Min: 0, Max: 1}}.Validate(), ErrValidation)
}

func TestValidateNodeID(t *testing.T) {
	assert.NoError(t, ValidateNodeID("field-07_a"))
	assert.Error(t, ValidateNodeID("ab"))
	assert.Error(t, ValidateNodeID("has space"))
}

func TestMetricsClone_SharesNoMemory(t *testing.T) {
	var m Metrics
	m.Set(MetricTemperature, 20)
	c := m.Clone()
	*c.Temperature = 99
	v, _ := m.Value(MetricTemperature)
	assert.Equal(t, 20.0, v)
}

func TestTransitionError_Is(t *testing.T) {
	err := &TransitionError{AlertID: "a1", From: AlertResolved, Action: ActionAcknowledge}
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "resolved")
}

func TestNodeEffectiveStatus(t *testing.T) {
	now := time.Now()
	n := &SensorNodeState{Status: NodeOnline, LastSeen: now.Add(-10 * time.Minute)}
	assert.Equal(t, NodeOffline, n.EffectiveStatus(now, 5*time.Minute))
	n.LastSeen = now.Add(-time.Minute)
	assert.Equal(t, NodeOnline, n.EffectiveStatus(now, 5*time.Minute))
}

func TestSeverityEscalated(t *testing.T) {
	next, ok := SeverityMedium.Escalated()
	assert.True(t, ok)
	assert.Equal(t, SeverityHigh, next)
	_, ok = SeverityCritical.Escalated()
	assert.False(t, ok)
}
