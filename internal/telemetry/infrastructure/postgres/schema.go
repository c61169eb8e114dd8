package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log"
)

var measurementsSchema = []string{
	`CREATE TABLE IF NOT EXISTS measurements (
	ts TIMESTAMPTZ NOT NULL,
	facade_id TEXT NOT NULL,
	device_id TEXT NOT NULL,
	facade_type TEXT NOT NULL DEFAULT 'unknown',
	sensor_name TEXT NOT NULL,
	value DOUBLE PRECISION,
	unit TEXT,
	tags JSONB
)`,
	`CREATE INDEX IF NOT EXISTS idx_measurements_facade_sensor ON measurements (facade_id, sensor_name)`,
	`CREATE INDEX IF NOT EXISTS idx_measurements_ts_desc ON measurements (ts DESC)`,
}

// hypertable conversion needs the timescaledb extension; plain Postgres keeps
// the table as a regular one.
var measurementsTimescale = []string{
	`CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE`,
	`SELECT create_hypertable('measurements', 'ts', if_not_exists => TRUE)`,
}

// EnsureSchema creates the measurements table and its indexes.
func EnsureSchema(ctx context.Context, db *sql.DB, logger *log.Logger) error {
	if db == nil {
		return errors.New("telemetry schema: nil db")
	}
	if logger == nil {
		logger = log.Default()
	}
	for _, stmt := range measurementsSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	for _, stmt := range measurementsTimescale {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			logger.Printf("telemetry schema: timescale step skipped: %v", err)
			return nil
		}
	}
	return nil
}
