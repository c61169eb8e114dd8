package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	alerts "facade-monitor/internal/alerts/domain"
	telemetry "facade-monitor/internal/telemetry/domain"
)

// DefaultStatusMinutes is the inactivity window of a status check.
const DefaultStatusMinutes = 30

// Sensor status values.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// SensorState is the activity of one sensor.
type SensorState struct {
	SensorName         string    `json:"sensor_name"`
	Status             string    `json:"status"`
	LastReading        time.Time `json:"last_reading"`
	LastValue          *float64  `json:"last_value"`
	DeviceID           string    `json:"device_id"`
	MinutesSinceUpdate float64   `json:"minutes_since_update"`
}

// StatusSummary counts sensors per status.
type StatusSummary struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

// SensorStatusReport is the activity report of one facade.
type SensorStatusReport struct {
	FacadeID                   string               `json:"facade_id"`
	FacadeType                 telemetry.FacadeType `json:"facade_type,omitempty"`
	CheckTime                  time.Time            `json:"check_time"`
	InactivityThresholdMinutes int                  `json:"inactivity_threshold_minutes"`
	Sensors                    []SensorState        `json:"sensors"`
	Summary                    StatusSummary        `json:"summary"`
}

// StatusService reports per-sensor activity from durable telemetry.
type StatusService struct {
	readings ReadingSource
	clock    Clock
}

// NewStatusService constructs a status service.
func NewStatusService(readings ReadingSource, clock Clock) (*StatusService, error) {
	if readings == nil {
		return nil, errors.New("sensor status: nil reading source")
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &StatusService{readings: readings, clock: clock}, nil
}

// SensorStatus marks each sensor of the facade active when its latest reading
// falls within the last minutes, inactive otherwise.
func (s *StatusService) SensorStatus(ctx context.Context, facadeID string, facadeType telemetry.FacadeType, minutes int) (SensorStatusReport, error) {
	if facadeID == "" {
		return SensorStatusReport{}, alerts.ErrInvalidQuery
	}
	if minutes <= 0 {
		minutes = DefaultStatusMinutes
	}
	if facadeType != "" {
		facadeType = telemetry.ParseFacadeType(string(facadeType))
	}
	latest, err := s.readings.LatestPerSensor(ctx, telemetry.MeasurementFilter{
		FacadeID:   facadeID,
		FacadeType: facadeType,
	})
	if err != nil {
		return SensorStatusReport{}, fmt.Errorf("sensor status: %w", err)
	}

	now := s.clock.Now().UTC()
	threshold := time.Duration(minutes) * time.Minute
	report := SensorStatusReport{
		FacadeID:                   facadeID,
		FacadeType:                 facadeType,
		CheckTime:                  now,
		InactivityThresholdMinutes: minutes,
		Sensors:                    make([]SensorState, 0, len(latest)),
	}
	for _, reading := range latest {
		state := SensorState{
			SensorName:         reading.SensorName,
			Status:             StatusActive,
			LastReading:        reading.TS,
			LastValue:          reading.Value,
			DeviceID:           reading.DeviceID,
			MinutesSinceUpdate: now.Sub(reading.TS).Minutes(),
		}
		if !reading.TS.After(now.Add(-threshold)) {
			state.Status = StatusInactive
			report.Summary.Inactive++
		} else {
			report.Summary.Active++
		}
		report.Sensors = append(report.Sensors, state)
	}
	report.Summary.Total = len(report.Sensors)
	return report, nil
}
