package alerts

import (
	"fmt"
	"strconv"
	"time"

	"facade-monitor/internal/telemetry/domain"
)

// AlertType classifies a detected condition.
type AlertType string

const (
	TypeSensorError    AlertType = "sensor_error"
	TypeBelowThreshold AlertType = "value_below_threshold"
	TypeAboveThreshold AlertType = "value_above_threshold"
	TypeSensorInactive AlertType = "sensor_inactive"
)

// Severity ranks an alert for operators.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityMedium   Severity = "medium"
)

// Known reports whether s is one of the severities alerts are stored with.
func (s Severity) Known() bool {
	switch s {
	case SeverityWarning, SeverityCritical, SeverityMedium:
		return true
	}
	return false
}

// DefaultRetention is how long alert rows are kept.
const DefaultRetention = 30 * 24 * time.Hour

// Alert is a detected condition requiring operator attention.
type Alert struct {
	ID          string    `json:"id"`
	FacadeID    string    `json:"facade_id"`
	SensorName  string    `json:"sensor_name"`
	Type        AlertType `json:"alert_type"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Value       *float64  `json:"value"`
	Threshold   *float64  `json:"threshold"`
	CreatedAt   time.Time `json:"created_at"`
}

// Expired reports whether the alert falls outside the retention window.
func (a Alert) Expired(now time.Time, retention time.Duration) bool {
	return a.CreatedAt.Before(RetentionCutoff(now, retention))
}

// RetentionCutoff returns the instant before which alerts are pruned.
func RetentionCutoff(now time.Time, retention time.Duration) time.Time {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return now.UTC().Add(-retention)
}

// SensorErrorAlert builds the alert for a null or negative reading.
func SensorErrorAlert(m telemetry.Measurement, createdAt time.Time) Alert {
	return Alert{
		FacadeID:    m.FacadeID,
		SensorName:  m.SensorName,
		Type:        TypeSensorError,
		Severity:    SeverityCritical,
		Description: fmt.Sprintf("Sensor %s reported invalid value: %s", m.SensorName, formatValue(m.Value)),
		Value:       copyFloat(m.Value),
		CreatedAt:   createdAt.UTC(),
	}
}

// ThresholdAlert builds the alert for a range violation.
func ThresholdAlert(m telemetry.Measurement, v Violation, createdAt time.Time) Alert {
	direction := "above maximum"
	if v.Type == TypeBelowThreshold {
		direction = "below minimum"
	}
	var value float64
	if m.Value != nil {
		value = *m.Value
	}
	boundary := v.Boundary
	return Alert{
		FacadeID:    m.FacadeID,
		SensorName:  m.SensorName,
		Type:        v.Type,
		Severity:    v.Severity,
		Description: fmt.Sprintf("Sensor %s value (%.2f) %s (%s)", m.SensorName, value, direction, strconv.FormatFloat(boundary, 'f', -1, 64)),
		Value:       copyFloat(m.Value),
		Threshold:   &boundary,
		CreatedAt:   createdAt.UTC(),
	}
}

// InactiveAlert builds the alert for a sensor that stopped reporting.
func InactiveAlert(r telemetry.LatestReading, threshold time.Duration, createdAt time.Time) Alert {
	return Alert{
		FacadeID:    r.FacadeID,
		SensorName:  r.SensorName,
		Type:        TypeSensorInactive,
		Severity:    SeverityMedium,
		Description: fmt.Sprintf("Sensor %s inactive for > %d minutes. Last reading: %s", r.SensorName, int(threshold.Minutes()), r.TS.UTC().Format(time.RFC3339)),
		CreatedAt:   createdAt.UTC(),
	}
}

func formatValue(value *float64) string {
	if value == nil {
		return "null"
	}
	return strconv.FormatFloat(*value, 'f', -1, 64)
}

func copyFloat(value *float64) *float64 {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
