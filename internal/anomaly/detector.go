// internal/anomaly/detector.go
package anomaly

import (
	"fmt"
	"strconv"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
)

// Bound names the side of the policy interval a value crossed.
type Bound string

const (
	BoundLow  Bound = "low"
	BoundHigh Bound = "high"
)

// Rule is one row of the rule table: crossing Bound of Metric raises an
// alert of Type at Severity.
type Rule struct {
	Metric   data.Metric
	Bound    Bound
	Severity data.Severity
	Type     data.AlertType
	Title    string
	Unit     string
}

// DefaultRules is the built-in rule table. Order is evaluation order.
var DefaultRules = []Rule{
	{Metric: data.MetricSoilMoisture, Bound: BoundLow, Severity: data.SeverityHigh, Type: data.AlertIrrigation, Title: "Soil moisture low", Unit: "%"},
	{Metric: data.MetricSoilMoisture, Bound: BoundHigh, Severity: data.SeverityMedium, Type: data.AlertThreshold, Title: "Soil moisture high", Unit: "%"},
	{Metric: data.MetricTemperature, Bound: BoundLow, Severity: data.SeverityMedium, Type: data.AlertThreshold, Title: "Temperature low", Unit: "°C"},
	{Metric: data.MetricTemperature, Bound: BoundHigh, Severity: data.SeverityHigh, Type: data.AlertThreshold, Title: "Temperature high", Unit: "°C"},
	{Metric: data.MetricPH, Bound: BoundLow, Severity: data.SeverityMedium, Type: data.AlertThreshold, Title: "pH out of range"},
	{Metric: data.MetricPH, Bound: BoundHigh, Severity: data.SeverityMedium, Type: data.AlertThreshold, Title: "pH out of range"},
}

// Violation is one metric found outside its policy bounds.
type Violation struct {
	Metric    data.Metric
	Bound     Bound
	Value     float64
	Limit     float64
	Severity  data.Severity
	AlertType data.AlertType
	Title     string
	Message   string
}

// Metadata is the alert metadata describing the violation.
func (v Violation) Metadata() data.AlertMetadata {
	return data.AlertMetadata{Metric: v.Metric, Value: v.Value, Bound: string(v.Bound), Threshold: v.Limit}
}

// Evaluate checks a reading against a policy with the default rule table.
func Evaluate(metrics data.Metrics, policy data.ThresholdPolicy) []Violation {
	return evaluate(DefaultRules, metrics, policy)
}

// Detector evaluates readings against a rule table.
type Detector struct {
	rules []Rule
}

// NewDetector starts from DefaultRules. A rule with the same metric and bound
// as an existing row replaces it; others are appended.
func NewDetector(rules ...Rule) *Detector {
	table := append([]Rule(nil), DefaultRules...)
	for _, r := range rules {
		replaced := false
		for i := range table {
			if table[i].Metric == r.Metric && table[i].Bound == r.Bound {
				table[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			table = append(table, r)
		}
	}
	return &Detector{rules: table}
}

func (d *Detector) Rules() []Rule {
	return append([]Rule(nil), d.rules...)
}

// Check evaluates the reading's metrics against policy. It never modifies the
// reading.
func (d *Detector) Check(reading *data.SensorReading, policy data.ThresholdPolicy) []Violation {
	if reading == nil {
		return nil
	}
	return evaluate(d.rules, reading.Metrics, policy)
}

func evaluate(rules []Rule, metrics data.Metrics, policy data.ThresholdPolicy) []Violation {
	var out []Violation
	for _, r := range rules {
		value, ok := metrics.Value(r.Metric)
		if !ok {
			continue
		}
		bounds, ok := policy[r.Metric]
		if !ok {
			continue
		}

		var limit float64
		switch r.Bound {
		case BoundLow:
			if !(value < bounds.Min) {
				continue
			}
			limit = bounds.Min
		case BoundHigh:
			if !(value > bounds.Max) {
				continue
			}
			limit = bounds.Max
		default:
			continue
		}

		out = append(out, Violation{
			Metric:    r.Metric,
			Bound:     r.Bound,
			Value:     value,
			Limit:     limit,
			Severity:  r.Severity,
			AlertType: r.Type,
			Title:     r.title(),
			Message:   r.message(value, bounds),
		})
	}
	return out
}

func (r Rule) title() string {
	if r.Title != "" {
		return r.Title
	}
	return fmt.Sprintf("%s %s", r.Metric, r.Bound)
}

func (r Rule) message(value float64, b data.Bounds) string {
	v := num(value) + r.Unit
	if r.Bound == BoundLow {
		return fmt.Sprintf("%s is too low: %s (min: %s%s, range: %s-%s)", r.Metric, v, num(b.Min), r.Unit, num(b.Min), num(b.Max))
	}
	return fmt.Sprintf("%s is too high: %s (max: %s%s, range: %s-%s)", r.Metric, v, num(b.Max), r.Unit, num(b.Min), num(b.Max))
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
