package postgres

import (
	"context"
	"database/sql"
	"errors"
)

var alertsSchema = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	facade_id TEXT NOT NULL,
	sensor_name TEXT NOT NULL,
	alert_type TEXT NOT NULL,
	severity TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	value DOUBLE PRECISION,
	threshold DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_facade_sensor ON alerts (facade_id, sensor_name)`,
}

// EnsureSchema creates the alerts table and its indexes.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("alert schema: nil db")
	}
	for _, stmt := range alertsSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
