package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"facade-monitor/internal/telemetry/domain"
)

const defaultMeasurementsTable = "measurements"

// TelemetryRepository appends measurements to the time-series table.
type TelemetryRepository struct {
	db    *sql.DB
	table string
}

// NewTelemetryRepository constructs a repository with default table name.
func NewTelemetryRepository(db *sql.DB, opts ...RepositoryOption) *TelemetryRepository {
	repo := &TelemetryRepository{db: db, table: defaultMeasurementsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*TelemetryRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *TelemetryRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// InsertMeasurements writes all measurements in one transaction. Rows are
// never updated; duplicates are stored as independent rows. The batch is
// rejected before any write when a row lacks its facade, sensor or time.
func (r *TelemetryRepository) InsertMeasurements(ctx context.Context, measurements []telemetry.Measurement) error {
	if r == nil || r.db == nil {
		return errors.New("telemetry repo: nil db")
	}
	if len(measurements) == 0 {
		return nil
	}
	for i, m := range measurements {
		if m.FacadeID == "" || m.SensorName == "" || m.TS.IsZero() {
			return fmt.Errorf("telemetry repo: measurement %d incomplete", i)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (ts, facade_id, device_id, facade_type, sensor_name, value) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.table))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range measurements {
		if _, err := stmt.ExecContext(ctx,
			m.TS.UTC(), m.FacadeID, m.DeviceID, string(m.FacadeType), m.SensorName, nullFloat(m.Value),
		); err != nil {
			return fmt.Errorf("telemetry repo: insert %s/%s: %w", m.FacadeID, m.SensorName, err)
		}
	}
	return tx.Commit()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
