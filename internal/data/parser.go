// internal/data/parser.go
package data

import (
	"encoding/json"
	"fmt"
	"time"
)

// ReadingInput is a reading as submitted by a device, before it is accepted.
type ReadingInput struct {
	Timestamp time.Time
	Metrics   Metrics
}

// metadata keys that carry battery and signal in the nested payload form
var metadataKeys = map[string]Metric{
	"batteryLevel":   MetricBattery,
	"signalStrength": MetricSignal,
}

// ParseReading decodes a device payload. Two shapes are accepted:
//
//	{"timestamp": "...", "soilMoisture": 15, "temperature": 40, "batteryLevel": 80}
//	{"timestamp": "...", "readings": {"soilMoisture": {"value": 15}}, "metadata": {"batteryLevel": 80}}
func ParseReading(raw []byte) (ReadingInput, error) {
	var in ReadingInput

	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return in, fmt.Errorf("%w: malformed reading payload: %v", ErrValidation, err)
	}

	for _, metric := range AllMetrics {
		if v, ok := numberAt(generic, string(metric)); ok {
			in.Metrics.Set(metric, v)
		}
	}
	for key, metric := range metadataKeys {
		if v, ok := numberAt(generic, key); ok {
			in.Metrics.Set(metric, v)
		}
	}

	if nested, ok := generic["readings"].(map[string]interface{}); ok {
		for _, metric := range AllMetrics {
			switch entry := nested[string(metric)].(type) {
			case map[string]interface{}:
				if v, ok := numberAt(entry, "value"); ok {
					in.Metrics.Set(metric, v)
				}
			case float64:
				in.Metrics.Set(metric, entry)
			}
		}
	}
	if meta, ok := generic["metadata"].(map[string]interface{}); ok {
		for key, metric := range metadataKeys {
			if v, ok := numberAt(meta, key); ok {
				in.Metrics.Set(metric, v)
			}
		}
	}

	if ts, ok := generic["timestamp"].(string); ok && ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return in, fmt.Errorf("%w: timestamp %q is not RFC 3339", ErrValidation, ts)
		}
		in.Timestamp = t
	}
	return in, nil
}

func numberAt(m map[string]interface{}, key string) (float64, bool) {
	v, ok := m[key].(float64)
	return v, ok
}
