package data

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MaxClockSkew bounds how far in the future a device timestamp may be.
const MaxClockSkew = 5 * time.Minute

// physical ranges a sensor can report
var metricRanges = map[Metric]Bounds{
	MetricSoilMoisture: {Min: 0, Max: 100},
	MetricTemperature:  {Min: -50, Max: 100},
	MetricHumidity:     {Min: 0, Max: 100},
	MetricPH:           {Min: 0, Max: 14},
	MetricLight:        {Min: 0, Max: 100000},
	MetricBattery:      {Min: 0, Max: 100},
	MetricSignal:       {Min: -120, Max: 0},
}

// Validate rejects readings that carry nothing or values no sensor can produce.
func (in ReadingInput) Validate(now time.Time) error {
	if in.Metrics.Empty() {
		return fmt.Errorf("%w: reading carries no metrics", ErrValidation)
	}
	for _, metric := range AllMetrics {
		v, ok := in.Metrics.Value(metric)
		if !ok {
			continue
		}
		r := metricRanges[metric]
		if v < r.Min || v > r.Max {
			return fmt.Errorf("%w: %s %.2f outside [%.2f, %.2f]", ErrValidation, metric, v, r.Min, r.Max)
		}
	}
	if !in.Timestamp.IsZero() && in.Timestamp.After(now.Add(MaxClockSkew)) {
		return fmt.Errorf("%w: timestamp %s is in the future", ErrValidation, in.Timestamp.Format(time.RFC3339))
	}
	return nil
}

var nodeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,50}$`)

// ValidateNodeID checks the registration format of a node id.
func ValidateNodeID(id string) error {
	if !nodeIDPattern.MatchString(id) {
		return fmt.Errorf("%w: node id must be 3-50 letters, numbers, hyphens or underscores", ErrValidation)
	}
	return nil
}

// ValidateNodeName checks a human-readable node name.
func ValidateNodeName(name string) error {
	n := len([]rune(strings.TrimSpace(name)))
	if n < 2 || n > 100 {
		return fmt.Errorf("%w: name must be between 2 and 100 characters", ErrValidation)
	}
	return nil
}
