package alerts

import (
	"time"

	"facade-monitor/internal/telemetry/domain"
)

// DefaultInactivityThreshold is how long a sensor may stay silent.
const DefaultInactivityThreshold = 10 * time.Minute

// DetectInvalid returns one critical sensor_error alert per null or negative reading.
func DetectInvalid(measurements []telemetry.Measurement, now time.Time) []Alert {
	var result []Alert
	for _, m := range measurements {
		if !m.Invalid() {
			continue
		}
		result = append(result, SensorErrorAlert(m, now))
	}
	return result
}

// DetectThresholds returns one alert per reading outside its sensor rule.
// Invalid readings and sensors without a rule are skipped.
func DetectThresholds(measurements []telemetry.Measurement, table ThresholdTable, now time.Time) []Alert {
	var result []Alert
	for _, m := range measurements {
		if m.Invalid() {
			continue
		}
		rule, ok := table.Lookup(m.SensorName)
		if !ok {
			continue
		}
		violation, broken := rule.Check(*m.Value)
		if !broken {
			continue
		}
		result = append(result, ThresholdAlert(m, violation, now))
	}
	return result
}

// Stale reports whether a reading taken at ts is strictly older than threshold.
func Stale(ts, now time.Time, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = DefaultInactivityThreshold
	}
	return ts.Before(now.Add(-threshold))
}

// DetectInactive returns one sensor_inactive alert per stale latest reading.
func DetectInactive(readings []telemetry.LatestReading, threshold time.Duration, now time.Time) []Alert {
	if threshold <= 0 {
		threshold = DefaultInactivityThreshold
	}
	var result []Alert
	for _, r := range readings {
		if !Stale(r.TS, now, threshold) {
			continue
		}
		result = append(result, InactiveAlert(r, threshold, now))
	}
	return result
}
