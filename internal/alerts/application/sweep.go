package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	alerts "facade-monitor/internal/alerts/domain"
	"facade-monitor/internal/observability/metrics"
	telemetry "facade-monitor/internal/telemetry/domain"
)

// Check names used in logs and metrics.
const (
	CheckInvalid    = "invalid_values"
	CheckThresholds = "thresholds"
	CheckInactivity = "inactivity"
	CheckRetention  = "retention"
)

// DefaultDetectionWindow is how far back each anomaly pass looks.
const DefaultDetectionWindow = 5 * time.Minute

// ReadingSource reads durable telemetry for detection.
type ReadingSource interface {
	InvalidReadings(ctx context.Context, filter telemetry.MeasurementFilter) ([]telemetry.Measurement, error)
	ValidReadings(ctx context.Context, filter telemetry.MeasurementFilter) ([]telemetry.Measurement, error)
	OutOfRangeReadings(ctx context.Context, filter telemetry.MeasurementFilter, bounds []telemetry.SensorBounds) ([]telemetry.Measurement, error)
	LatestPerSensor(ctx context.Context, filter telemetry.MeasurementFilter) ([]telemetry.LatestReading, error)
}

// AlertStore persists and prunes alerts.
type AlertStore interface {
	InsertAlerts(ctx context.Context, list []alerts.Alert) (int, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlertNotifier receives every newly stored alert.
type AlertNotifier interface {
	Notify(ctx context.Context, alert alerts.Alert)
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SweepEngine runs the periodic detection checks against the durable store.
type SweepEngine struct {
	readings   ReadingSource
	store      AlertStore
	thresholds alerts.ThresholdTable
	notifier   AlertNotifier
	clock      Clock
	logger     *log.Logger

	window     time.Duration
	inactivity time.Duration
	retention  time.Duration
}

// SweepOption configures the engine.
type SweepOption func(*SweepEngine)

// WithNotifier sets the notifier for new alerts.
func WithNotifier(notifier AlertNotifier) SweepOption {
	return func(e *SweepEngine) {
		e.notifier = notifier
	}
}

// WithClock overrides the engine clock.
func WithClock(clock Clock) SweepOption {
	return func(e *SweepEngine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithDetectionWindow overrides the look-back window of anomaly checks.
func WithDetectionWindow(window time.Duration) SweepOption {
	return func(e *SweepEngine) {
		if window > 0 {
			e.window = window
		}
	}
}

// WithInactivityThreshold overrides how long a sensor may stay silent.
func WithInactivityThreshold(threshold time.Duration) SweepOption {
	return func(e *SweepEngine) {
		if threshold > 0 {
			e.inactivity = threshold
		}
	}
}

// WithRetention overrides the alert retention period.
func WithRetention(retention time.Duration) SweepOption {
	return func(e *SweepEngine) {
		if retention > 0 {
			e.retention = retention
		}
	}
}

// NewSweepEngine constructs a sweep engine.
func NewSweepEngine(readings ReadingSource, store AlertStore, thresholds alerts.ThresholdTable, logger *log.Logger, opts ...SweepOption) (*SweepEngine, error) {
	if readings == nil {
		return nil, errors.New("sweep: nil reading source")
	}
	if store == nil {
		return nil, errors.New("sweep: nil alert store")
	}
	if logger == nil {
		logger = log.Default()
	}
	engine := &SweepEngine{
		readings:   readings,
		store:      store,
		thresholds: thresholds,
		clock:      systemClock{},
		logger:     logger,
		window:     DefaultDetectionWindow,
		inactivity: alerts.DefaultInactivityThreshold,
		retention:  alerts.DefaultRetention,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// Now returns the engine clock time.
func (e *SweepEngine) Now() time.Time {
	return e.clock.Now().UTC()
}

// CheckInvalidValues raises sensor_error alerts for null or negative readings
// received within the detection window ending at now.
func (e *SweepEngine) CheckInvalidValues(ctx context.Context, now time.Time) (int, error) {
	started := time.Now()
	readings, err := e.readings.InvalidReadings(ctx, telemetry.MeasurementFilter{
		Since: now.Add(-e.window),
		Until: now,
	})
	if err != nil {
		err = fmt.Errorf("sweep: invalid readings: %w", err)
		metrics.ObserveSweepCheck(CheckInvalid, err, time.Since(started))
		return 0, err
	}
	count, err := e.persist(ctx, alerts.DetectInvalid(readings, now))
	metrics.ObserveSweepCheck(CheckInvalid, err, time.Since(started))
	return count, err
}

// CheckThresholds raises range alerts for valid readings of sensors with a rule.
func (e *SweepEngine) CheckThresholds(ctx context.Context, now time.Time) (int, error) {
	if e.thresholds.Len() == 0 {
		return 0, nil
	}
	started := time.Now()
	readings, err := e.readings.ValidReadings(ctx, telemetry.MeasurementFilter{
		Since:   now.Add(-e.window),
		Until:   now,
		Sensors: e.thresholds.Sensors(),
	})
	if err != nil {
		err = fmt.Errorf("sweep: valid readings: %w", err)
		metrics.ObserveSweepCheck(CheckThresholds, err, time.Since(started))
		return 0, err
	}
	count, err := e.persist(ctx, alerts.DetectThresholds(readings, e.thresholds, now))
	metrics.ObserveSweepCheck(CheckThresholds, err, time.Since(started))
	return count, err
}

// CheckInactivity raises sensor_inactive alerts for sensors whose latest
// reading is older than the inactivity threshold.
func (e *SweepEngine) CheckInactivity(ctx context.Context, now time.Time) (int, error) {
	started := time.Now()
	latest, err := e.readings.LatestPerSensor(ctx, telemetry.MeasurementFilter{})
	if err != nil {
		err = fmt.Errorf("sweep: latest readings: %w", err)
		metrics.ObserveSweepCheck(CheckInactivity, err, time.Since(started))
		return 0, err
	}
	count, err := e.persist(ctx, alerts.DetectInactive(latest, e.inactivity, now))
	metrics.ObserveSweepCheck(CheckInactivity, err, time.Since(started))
	return count, err
}

// PruneAlerts deletes alerts older than the retention period.
func (e *SweepEngine) PruneAlerts(ctx context.Context, now time.Time) (int64, error) {
	started := time.Now()
	deleted, err := e.store.DeleteBefore(ctx, alerts.RetentionCutoff(now, e.retention))
	if err != nil {
		err = fmt.Errorf("sweep: prune alerts: %w", err)
		metrics.ObserveSweepCheck(CheckRetention, err, time.Since(started))
		return 0, err
	}
	metrics.ObserveSweepCheck(CheckRetention, nil, time.Since(started))
	metrics.AddAlertsPruned(deleted)
	if deleted > 0 {
		e.logger.Printf("sweep: pruned %d alerts", deleted)
	}
	return deleted, nil
}

// RunAnomalyPass runs the invalid value and threshold checks. A failing check
// does not prevent the other from running.
func (e *SweepEngine) RunAnomalyPass(ctx context.Context, now time.Time) error {
	_, errInvalid := e.CheckInvalidValues(ctx, now)
	_, errThreshold := e.CheckThresholds(ctx, now)
	return errors.Join(errInvalid, errThreshold)
}

func (e *SweepEngine) persist(ctx context.Context, detected []alerts.Alert) (int, error) {
	if len(detected) == 0 {
		return 0, nil
	}
	count, err := e.store.InsertAlerts(ctx, detected)
	if err != nil {
		return 0, fmt.Errorf("sweep: store alerts: %w", err)
	}
	for _, alert := range detected {
		metrics.IncAlert(string(alert.Type), string(alert.Severity))
		if e.notifier != nil {
			e.notifier.Notify(ctx, alert)
		}
	}
	return count, nil
}
