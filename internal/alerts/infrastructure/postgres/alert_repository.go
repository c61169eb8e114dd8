package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	alerts "facade-monitor/internal/alerts/domain"
)

const defaultAlertsTable = "alerts"

// AlertFilter narrows stored alert listings.
type AlertFilter struct {
	FacadeID string
	// FacadeIDs restricts the listing to these facades when non-empty.
	FacadeIDs []string
	Type      alerts.AlertType
	Severity  alerts.Severity
	Since     time.Time
	Until     time.Time
	Limit     int
}

// AlertRepository is a Postgres repository for alerts.
type AlertRepository struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db, table: defaultAlertsTable, now: func() time.Time { return time.Now().UTC() }}
}

// InsertAlerts stores all alerts in one transaction and assigns missing ids.
func (r *AlertRepository) InsertAlerts(ctx context.Context, list []alerts.Alert) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("alert repo: nil db")
	}
	if len(list) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	id, facade_id, sensor_name, alert_type, severity, description, value, threshold, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9
)`, r.table))
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	for i := range list {
		alert := &list[i]
		if alert.FacadeID == "" || alert.SensorName == "" || alert.Type == "" {
			_ = tx.Rollback()
			return 0, errors.New("alert repo: missing fields")
		}
		if alert.ID == "" {
			alert.ID = uuid.NewString()
		}
		if alert.CreatedAt.IsZero() {
			alert.CreatedAt = r.now()
		}
		if _, err := stmt.ExecContext(ctx,
			alert.ID,
			alert.FacadeID,
			alert.SensorName,
			string(alert.Type),
			string(alert.Severity),
			alert.Description,
			nullableFloat(alert.Value),
			nullableFloat(alert.Threshold),
			alert.CreatedAt.UTC(),
		); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(list), nil
}

// GetByID fetches an alert by id.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT id, facade_id, sensor_name, alert_type, severity, description, value, threshold, created_at
FROM %s
WHERE id = $1`, r.table), id)
	alert, err := scanAlert(row)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerts.ErrNotFound
	}
	return alert, nil
}

// ListAlerts lists stored alerts newest first.
func (r *AlertRepository) ListAlerts(ctx context.Context, filter AlertFilter) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if filter.Limit <= 0 {
		return nil, alerts.ErrInvalidQuery
	}
	var (
		conds []string
		args  []any
	)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.FacadeID != "" {
		conds = append(conds, "facade_id = "+arg(filter.FacadeID))
	}
	if len(filter.FacadeIDs) > 0 {
		placeholders := make([]string, 0, len(filter.FacadeIDs))
		for _, id := range filter.FacadeIDs {
			placeholders = append(placeholders, arg(id))
		}
		conds = append(conds, "facade_id IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Type != "" {
		conds = append(conds, "alert_type = "+arg(string(filter.Type)))
	}
	if filter.Severity != "" {
		conds = append(conds, "severity = "+arg(string(filter.Severity)))
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "created_at >= "+arg(filter.Since.UTC()))
	}
	if !filter.Until.IsZero() {
		conds = append(conds, "created_at < "+arg(filter.Until.UTC()))
	}

	query := fmt.Sprintf(`
SELECT id, facade_id, sensor_name, alert_type, severity, description, value, threshold, created_at
FROM %s`, r.table)
	if len(conds) > 0 {
		query += "\nWHERE " + strings.Join(conds, " AND ")
	}
	query += "\nORDER BY created_at DESC, id ASC\nLIMIT " + arg(filter.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteBefore removes alerts created strictly before cutoff.
func (r *AlertRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("alert repo: nil db")
	}
	if cutoff.IsZero() {
		return 0, alerts.ErrInvalidQuery
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE created_at < $1`, r.table), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type alertScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row alertScanner) (*alerts.Alert, error) {
	var (
		alert     alerts.Alert
		alertType string
		severity  string
		value     sql.NullFloat64
		threshold sql.NullFloat64
	)
	if err := row.Scan(
		&alert.ID,
		&alert.FacadeID,
		&alert.SensorName,
		&alertType,
		&severity,
		&alert.Description,
		&value,
		&threshold,
		&alert.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	alert.Type = alerts.AlertType(alertType)
	alert.Severity = alerts.Severity(severity)
	alert.CreatedAt = alert.CreatedAt.UTC()
	if value.Valid {
		v := value.Float64
		alert.Value = &v
	}
	if threshold.Valid {
		t := threshold.Float64
		alert.Threshold = &t
	}
	return &alert, nil
}

func nullableFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}
