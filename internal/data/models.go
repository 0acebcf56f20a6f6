// internal/data/models.go
package data

import (
	"fmt"
	"time"
)

// Metric names one sensor channel carried by a reading.
type Metric string

const (
	MetricSoilMoisture Metric = "soilMoisture"
	MetricTemperature  Metric = "temperature"
	MetricHumidity     Metric = "humidity"
	MetricPH           Metric = "ph"
	MetricLight        Metric = "light"
	MetricBattery      Metric = "battery"
	MetricSignal       Metric = "signal"
)

// AllMetrics lists every metric in a stable order.
var AllMetrics = []Metric{
	MetricSoilMoisture,
	MetricTemperature,
	MetricHumidity,
	MetricPH,
	MetricLight,
	MetricBattery,
	MetricSignal,
}

// Metrics holds the values reported by a node. A nil field was not reported.
type Metrics struct {
	SoilMoisture *float64 `json:"soilMoisture,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	Humidity     *float64 `json:"humidity,omitempty"`
	PH           *float64 `json:"ph,omitempty"`
	Light        *float64 `json:"light,omitempty"`
	Battery      *float64 `json:"battery,omitempty"`
	Signal       *float64 `json:"signal,omitempty"`
}

func (m *Metrics) field(metric Metric) **float64 {
	switch metric {
	case MetricSoilMoisture:
		return &m.SoilMoisture
	case MetricTemperature:
		return &m.Temperature
	case MetricHumidity:
		return &m.Humidity
	case MetricPH:
		return &m.PH
	case MetricLight:
		return &m.Light
	case MetricBattery:
		return &m.Battery
	case MetricSignal:
		return &m.Signal
	}
	return nil
}

// Value returns the reported value for metric, if any.
func (m Metrics) Value(metric Metric) (float64, bool) {
	f := m.field(metric)
	if f == nil || *f == nil {
		return 0, false
	}
	return **f, true
}

// Set records a value for metric. Unknown metrics are ignored.
func (m *Metrics) Set(metric Metric, v float64) {
	if f := m.field(metric); f != nil {
		*f = &v
	}
}

// Empty reports whether no metric was reported.
func (m Metrics) Empty() bool {
	for _, metric := range AllMetrics {
		if _, ok := m.Value(metric); ok {
			return false
		}
	}
	return true
}

// Clone deep-copies the value pointers so the copy shares no memory.
func (m Metrics) Clone() Metrics {
	var out Metrics
	for _, metric := range AllMetrics {
		if v, ok := m.Value(metric); ok {
			out.Set(metric, v)
		}
	}
	return out
}

// SensorReading is one accepted sample from a node. It is never mutated after
// it is recorded; stores hand out clones.
type SensorReading struct {
	ID         string    `json:"id"`
	NodeID     string    `json:"nodeId"`
	Timestamp  time.Time `json:"timestamp"`
	ReceivedAt time.Time `json:"receivedAt"`
	Metrics    Metrics   `json:"readings"`
}

func (r *SensorReading) Clone() *SensorReading {
	if r == nil {
		return nil
	}
	out := *r
	out.Metrics = r.Metrics.Clone()
	return &out
}

// Bounds is the accepted [Min, Max] interval of a metric.
type Bounds struct {
	Min float64 `json:"min" mapstructure:"min"`
	Max float64 `json:"max" mapstructure:"max"`
}

// ThresholdPolicy maps metrics to their bounds. Metrics without an entry are
// not evaluated.
type ThresholdPolicy map[Metric]Bounds

// Validate enforces min < max for every entry.
func (p ThresholdPolicy) Validate() error {
	for metric, b := range p {
		if (&Metrics{}).field(metric) == nil {
			return fmt.Errorf("%w: unknown metric %q in policy", ErrValidation, metric)
		}
		if !(b.Min < b.Max) {
			return fmt.Errorf("%w: %s threshold min %.2f must be below max %.2f", ErrValidation, metric, b.Min, b.Max)
		}
	}
	return nil
}

func (p ThresholdPolicy) Clone() ThresholdPolicy {
	if p == nil {
		return nil
	}
	out := make(ThresholdPolicy, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// DefaultPolicy returns the thresholds applied to newly registered nodes.
func DefaultPolicy() ThresholdPolicy {
	return ThresholdPolicy{
		MetricSoilMoisture: {Min: 20, Max: 80},
		MetricTemperature:  {Min: 10, Max: 35},
		MetricPH:           {Min: 5.5, Max: 7.5},
	}
}

type NodeStatus string

const (
	NodeOnline      NodeStatus = "online"
	NodeOffline     NodeStatus = "offline"
	NodeMaintenance NodeStatus = "maintenance"
	NodeError       NodeStatus = "error"
)

func (s NodeStatus) Valid() bool {
	switch s {
	case NodeOnline, NodeOffline, NodeMaintenance, NodeError:
		return true
	}
	return false
}

// SensorNodeState is the registry entry of a field node.
type SensorNodeState struct {
	NodeID    string          `json:"nodeId"`
	Name      string          `json:"name"`
	Owner     string          `json:"owner"`
	Status    NodeStatus      `json:"status"`
	LastSeen  time.Time       `json:"lastSeen"`
	Battery   float64         `json:"batteryLevel"`
	Signal    float64         `json:"signalStrength"`
	Policy    ThresholdPolicy `json:"thresholds"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// EffectiveStatus reports offline once the node has been silent longer than
// offlineAfter, otherwise the stored status.
func (n *SensorNodeState) EffectiveStatus(now time.Time, offlineAfter time.Duration) NodeStatus {
	if offlineAfter > 0 && now.Sub(n.LastSeen) > offlineAfter {
		return NodeOffline
	}
	return n.Status
}

func (n *SensorNodeState) Clone() *SensorNodeState {
	if n == nil {
		return nil
	}
	out := *n
	out.Policy = n.Policy.Clone()
	return &out
}
