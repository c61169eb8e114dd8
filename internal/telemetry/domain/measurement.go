package telemetry

import (
	"context"
	"time"
)

// Measurement is one sensor reading at one instant.
type Measurement struct {
	FacadeID   string
	DeviceID   string
	FacadeType FacadeType
	SensorName string
	Value      *float64
	TS         time.Time
}

// Invalid reports whether the reading is null or negative.
func (m Measurement) Invalid() bool {
	return m.Value == nil || *m.Value < 0
}

// Envelope is the decoded form of one inbound telemetry message.
type Envelope struct {
	FacadeID     string
	DeviceID     string
	FacadeType   FacadeType
	TS           time.Time
	Measurements []Measurement
}

// CacheEntry is the last known value of one sensor.
type CacheEntry struct {
	Value      *float64   `json:"value"`
	TS         time.Time  `json:"ts"`
	DeviceID   string     `json:"device_id"`
	FacadeType FacadeType `json:"facade_type"`
}

// LatestReading is the most recent durable reading of one sensor.
type LatestReading struct {
	FacadeID   string
	FacadeType FacadeType
	DeviceID   string
	SensorName string
	Value      *float64
	TS         time.Time
}

// MeasurementFilter narrows measurement queries.
type MeasurementFilter struct {
	Since      time.Time
	Until      time.Time
	FacadeID   string
	// FacadeIDs restricts results to the listed facades when non-empty.
	FacadeIDs  []string
	FacadeType FacadeType
	Sensors    []string
	Limit      int
}

// SensorBounds is the accepted value range of one sensor.
type SensorBounds struct {
	Sensor string
	Min    float64
	Max    float64
}

// TelemetryRepository persists telemetry measurements.
type TelemetryRepository interface {
	InsertMeasurements(ctx context.Context, measurements []Measurement) error
}

// LatestCache keeps the last value of every sensor per facade.
type LatestCache interface {
	Apply(ctx context.Context, envelope Envelope) error
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
