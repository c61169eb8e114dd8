package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"facade-monitor/internal/telemetry/domain"
)

var measurementColumns = []string{"facade_id", "device_id", "facade_type", "sensor_name", "value", "ts"}

func TestInsertMeasurements(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO measurements"))
	prep.ExpectExec().WithArgs(ts, "F1", "dev-1", "refrigerada", "Irradiancia", 700.0).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(ts, "F1", "dev-1", "refrigerada", "Humedad", nil).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewTelemetryRepository(db)
	err = repo.InsertMeasurements(context.Background(), []telemetry.Measurement{
		{FacadeID: "F1", DeviceID: "dev-1", FacadeType: telemetry.FacadeRefrigerated, SensorName: "Irradiancia", Value: telemetry.Float(700), TS: ts},
		{FacadeID: "F1", DeviceID: "dev-1", FacadeType: telemetry.FacadeRefrigerated, SensorName: "Humedad", TS: ts},
	})
	if err != nil {
		t.Fatalf("insert measurements: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertMeasurementsRejectsIncomplete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo := NewTelemetryRepository(db, WithTable("facade_measurements"))
	err = repo.InsertMeasurements(context.Background(), []telemetry.Measurement{{FacadeID: "F1", SensorName: "Humedad"}})
	if err == nil {
		t.Fatalf("expected missing timestamp error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expected no statements for an incomplete batch: %v", err)
	}
}

func TestInvalidReadingsQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	since := time.Date(2024, 6, 1, 11, 55, 0, 0, time.UTC)
	until := since.Add(5 * time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE ts >= $1\n\tAND ts <= $2\n\tAND facade_type = $3\n\tAND (value IS NULL OR value < 0)\nORDER BY ts DESC LIMIT $4")).
		WithArgs(since, until, "refrigerada", 100).
		WillReturnRows(sqlmock.NewRows(measurementColumns).
			AddRow("F1", "dev-1", "refrigerada", "Humedad", nil, until).
			AddRow("F1", "dev-1", "refrigerada", "Irradiancia", -1.0, since))

	list, err := NewTelemetryQuery(db).InvalidReadings(context.Background(), telemetry.MeasurementFilter{
		Since:      since,
		Until:      until,
		FacadeType: telemetry.FacadeRefrigerated,
		Limit:      100,
	})
	if err != nil {
		t.Fatalf("invalid readings: %v", err)
	}
	if len(list) != 2 || list[0].Value != nil || *list[1].Value != -1 {
		t.Fatalf("unexpected readings %+v", list)
	}
	if list[0].FacadeType != telemetry.FacadeRefrigerated {
		t.Fatalf("unexpected facade type %q", list[0].FacadeType)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestValidReadingsSensorFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	since := time.Date(2024, 6, 1, 11, 55, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("AND sensor_name IN ($2, $3)\n\tAND value IS NOT NULL AND value >= 0\nORDER BY ts DESC")).
		WithArgs(since, "Humedad", "Irradiancia").
		WillReturnRows(sqlmock.NewRows(measurementColumns).
			AddRow("F1", "dev-1", "refrigerada", "Irradiancia", 1600.0, since))

	list, err := NewTelemetryQuery(db).ValidReadings(context.Background(), telemetry.MeasurementFilter{
		Since:   since,
		Sensors: []string{"Humedad", "Irradiancia"},
	})
	if err != nil {
		t.Fatalf("valid readings: %v", err)
	}
	if len(list) != 1 || *list[0].Value != 1600 {
		t.Fatalf("unexpected readings %+v", list)
	}

	if _, err := NewTelemetryQuery(db).ValidReadings(context.Background(), telemetry.MeasurementFilter{}); err == nil {
		t.Fatalf("expected since required error")
	}
}

func TestLatestPerSensor(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ON (facade_id, sensor_name)")).
		WithArgs("F1").
		WillReturnRows(sqlmock.NewRows([]string{"facade_id", "facade_type", "device_id", "sensor_name", "value", "ts"}).
			AddRow("F1", "refrigerada", "dev-1", "Humedad", 40.0, ts).
			AddRow("F1", "refrigerada", "dev-2", "Irradiancia", nil, ts.Add(-time.Hour)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ON (facade_id, sensor_name)")).
		WillReturnError(errors.New("connection reset"))

	query := NewTelemetryQuery(db)
	list, err := query.LatestPerSensor(context.Background(), telemetry.MeasurementFilter{FacadeID: "F1"})
	if err != nil {
		t.Fatalf("latest per sensor: %v", err)
	}
	if len(list) != 2 || list[1].DeviceID != "dev-2" || list[1].Value != nil {
		t.Fatalf("unexpected readings %+v", list)
	}
	if _, err := query.LatestPerSensor(context.Background(), telemetry.MeasurementFilter{}); err == nil {
		t.Fatalf("expected query error")
	}
}

func TestOutOfRangeReadingsLimitedInSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	since := time.Date(2024, 5, 25, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE ts >= $1\n\tAND facade_id IN ($2, $3)\n\tAND value IS NOT NULL AND value >= 0\n\t" +
		"AND ((sensor_name = $4 AND (value < $5 OR value > $6)) OR (sensor_name = $7 AND (value < $8 OR value > $9)))\n" +
		"ORDER BY ts DESC LIMIT $10")).
		WithArgs(since, "F1", "F2", "Humedad", 0.0, 100.0, "Irradiancia", 0.0, 1500.0, 50).
		WillReturnRows(sqlmock.NewRows(measurementColumns).
			AddRow("F1", "dev-1", "refrigerada", "Irradiancia", 1600.0, since.Add(time.Hour)))

	list, err := NewTelemetryQuery(db).OutOfRangeReadings(context.Background(), telemetry.MeasurementFilter{
		Since:     since,
		FacadeIDs: []string{"F1", "F2"},
		Sensors:   []string{"ignored"},
		Limit:     50,
	}, []telemetry.SensorBounds{
		{Sensor: "Humedad", Min: 0, Max: 100},
		{Sensor: "Irradiancia", Min: 0, Max: 1500},
	})
	if err != nil {
		t.Fatalf("out of range readings: %v", err)
	}
	if len(list) != 1 || *list[0].Value != 1600 {
		t.Fatalf("unexpected readings %+v", list)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}

	none, err := NewTelemetryQuery(db).OutOfRangeReadings(context.Background(), telemetry.MeasurementFilter{Since: since}, nil)
	if err != nil || none != nil {
		t.Fatalf("expected no query without bounds, got %+v %v", none, err)
	}
}
