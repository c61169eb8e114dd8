package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"facade-monitor/internal/telemetry/domain"
)

// TelemetryQuery reads measurements back for detection and reporting.
type TelemetryQuery struct {
	db    *sql.DB
	table string
}

// NewTelemetryQuery constructs a query with default table name.
func NewTelemetryQuery(db *sql.DB, opts ...QueryOption) *TelemetryQuery {
	query := &TelemetryQuery{db: db, table: defaultMeasurementsTable}
	for _, opt := range opts {
		opt(query)
	}
	return query
}

// QueryOption configures the telemetry query.
type QueryOption func(*TelemetryQuery)

// WithQueryTable overrides the default table name for queries.
func WithQueryTable(table string) QueryOption {
	return func(query *TelemetryQuery) {
		if query != nil && table != "" {
			query.table = table
		}
	}
}

// InvalidReadings returns null or negative readings in the filter window, newest first.
func (q *TelemetryQuery) InvalidReadings(ctx context.Context, filter telemetry.MeasurementFilter) ([]telemetry.Measurement, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("telemetry query: nil db")
	}
	if filter.Since.IsZero() {
		return nil, errors.New("telemetry query: since required")
	}
	b := newWhere(filter)
	b.add("(value IS NULL OR value < 0)")
	return q.selectMeasurements(ctx, b, filter.Limit)
}

// ValidReadings returns non-null, non-negative readings in the filter window,
// restricted to filter.Sensors when set, newest first.
func (q *TelemetryQuery) ValidReadings(ctx context.Context, filter telemetry.MeasurementFilter) ([]telemetry.Measurement, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("telemetry query: nil db")
	}
	if filter.Since.IsZero() {
		return nil, errors.New("telemetry query: since required")
	}
	b := newWhere(filter)
	b.add("value IS NOT NULL AND value >= 0")
	return q.selectMeasurements(ctx, b, filter.Limit)
}

// OutOfRangeReadings returns valid readings outside their sensor bounds,
// newest first. Sensors without bounds are ignored; no bounds means no rows.
func (q *TelemetryQuery) OutOfRangeReadings(ctx context.Context, filter telemetry.MeasurementFilter, bounds []telemetry.SensorBounds) ([]telemetry.Measurement, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("telemetry query: nil db")
	}
	if filter.Since.IsZero() {
		return nil, errors.New("telemetry query: since required")
	}
	if len(bounds) == 0 {
		return nil, nil
	}
	filter.Sensors = nil
	b := newWhere(filter)
	b.add("value IS NOT NULL AND value >= 0")
	ranges := make([]string, 0, len(bounds))
	for _, bound := range bounds {
		ranges = append(ranges, fmt.Sprintf("(sensor_name = %s AND (value < %s OR value > %s))",
			b.arg(bound.Sensor), b.arg(bound.Min), b.arg(bound.Max)))
	}
	b.add("(" + strings.Join(ranges, " OR ") + ")")
	return q.selectMeasurements(ctx, b, filter.Limit)
}

// LatestPerSensor returns the most recent reading of every (facade, sensor).
// Only FacadeID and FacadeType of the filter apply.
func (q *TelemetryQuery) LatestPerSensor(ctx context.Context, filter telemetry.MeasurementFilter) ([]telemetry.LatestReading, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("telemetry query: nil db")
	}
	b := &whereBuilder{}
	if filter.FacadeID != "" {
		b.add("facade_id = " + b.arg(filter.FacadeID))
	}
	if filter.FacadeType != "" {
		b.add("facade_type = " + b.arg(string(filter.FacadeType)))
	}

	query := fmt.Sprintf(`
SELECT DISTINCT ON (facade_id, sensor_name)
	facade_id, facade_type, device_id, sensor_name, value, ts
FROM %s%s
ORDER BY facade_id, sensor_name, ts DESC`, q.table, b.clause())

	rows, err := q.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []telemetry.LatestReading
	for rows.Next() {
		var (
			reading    telemetry.LatestReading
			facadeType string
			value      sql.NullFloat64
		)
		if err := rows.Scan(&reading.FacadeID, &facadeType, &reading.DeviceID, &reading.SensorName, &value, &reading.TS); err != nil {
			return nil, err
		}
		reading.FacadeType = telemetry.FacadeType(facadeType)
		reading.TS = reading.TS.UTC()
		if value.Valid {
			reading.Value = telemetry.Float(value.Float64)
		}
		result = append(result, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (q *TelemetryQuery) selectMeasurements(ctx context.Context, b *whereBuilder, limit int) ([]telemetry.Measurement, error) {
	query := fmt.Sprintf(`
SELECT facade_id, device_id, facade_type, sensor_name, value, ts
FROM %s%s
ORDER BY ts DESC`, q.table, b.clause())
	if limit > 0 {
		query += " LIMIT " + b.arg(limit)
	}

	rows, err := q.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []telemetry.Measurement
	for rows.Next() {
		var (
			m          telemetry.Measurement
			facadeType string
			value      sql.NullFloat64
		)
		if err := rows.Scan(&m.FacadeID, &m.DeviceID, &facadeType, &m.SensorName, &value, &m.TS); err != nil {
			return nil, err
		}
		m.FacadeType = telemetry.FacadeType(facadeType)
		m.TS = m.TS.UTC()
		if value.Valid {
			m.Value = telemetry.Float(value.Float64)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type whereBuilder struct {
	conds []string
	args  []any
}

func newWhere(filter telemetry.MeasurementFilter) *whereBuilder {
	b := &whereBuilder{}
	b.add("ts >= " + b.arg(filter.Since.UTC()))
	if !filter.Until.IsZero() {
		b.add("ts <= " + b.arg(filter.Until.UTC()))
	}
	if filter.FacadeID != "" {
		b.add("facade_id = " + b.arg(filter.FacadeID))
	}
	if len(filter.FacadeIDs) > 0 {
		b.add("facade_id IN (" + b.list(filter.FacadeIDs) + ")")
	}
	if filter.FacadeType != "" {
		b.add("facade_type = " + b.arg(string(filter.FacadeType)))
	}
	if len(filter.Sensors) > 0 {
		b.add("sensor_name IN (" + b.list(filter.Sensors) + ")")
	}
	return b
}

func (b *whereBuilder) list(values []string) string {
	placeholders := make([]string, 0, len(values))
	for _, value := range values {
		placeholders = append(placeholders, b.arg(value))
	}
	return strings.Join(placeholders, ", ")
}

func (b *whereBuilder) arg(value any) string {
	b.args = append(b.args, value)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *whereBuilder) add(cond string) {
	b.conds = append(b.conds, cond)
}

func (b *whereBuilder) clause() string {
	if len(b.conds) == 0 {
		return ""
	}
	return "\nWHERE " + strings.Join(b.conds, "\n\tAND ")
}
