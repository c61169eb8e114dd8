package application

import (
	"context"
	"testing"
	"time"

	alerts "facade-monitor/internal/alerts/domain"
	telemetry "facade-monitor/internal/telemetry/domain"
)

func TestHistoryQueryNormalize(t *testing.T) {
	q := HistoryQuery{}.Normalize()
	if q.Hours != DefaultHistoryHours || q.Limit != DefaultHistoryLimit {
		t.Fatalf("unexpected defaults %+v", q)
	}
	q = HistoryQuery{Hours: 5000, Limit: 5000, FacadeType: "Refrigerated"}.Normalize()
	if q.Hours != MaxHistoryHours || q.Limit != MaxHistoryLimit {
		t.Fatalf("expected clamped bounds, got %+v", q)
	}
	if q.FacadeType != telemetry.FacadeRefrigerated {
		t.Fatalf("expected normalized facade type, got %q", q.FacadeType)
	}
	q = HistoryQuery{Hours: -3, Limit: -1}.Normalize()
	if q.Hours != 1 || q.Limit != 1 {
		t.Fatalf("expected lower clamp, got %+v", q)
	}
}

func TestHistoryMergesNewestFirst(t *testing.T) {
	t1 := sweepNow.Add(-3 * time.Hour)
	t2 := sweepNow.Add(-2 * time.Hour)
	t3 := sweepNow.Add(-1 * time.Hour)
	readings := &fakeReadings{
		invalid: []telemetry.Measurement{
			measurement("Humedad", nil, t1),
			measurement("Humedad", nil, t1),
			measurement("Irradiancia", telemetry.Float(-1), t3),
		},
		outOfRange: []telemetry.Measurement{
			measurement("Irradiancia", telemetry.Float(1600), t2),
			measurement("Irradiancia", telemetry.Float(900), t2),
		},
	}
	history, err := NewHistoryAggregator(readings, alerts.DefaultThresholds(), fixedClock{now: sweepNow})
	if err != nil {
		t.Fatalf("new history aggregator: %v", err)
	}

	items, err := history.History(context.Background(), HistoryQuery{Hours: 24})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 deduped items, got %d: %+v", len(items), items)
	}
	if !items[0].CreatedAt.Equal(t3) || !items[1].CreatedAt.Equal(t2) || !items[2].CreatedAt.Equal(t1) {
		t.Fatalf("expected newest first, got %s %s %s", items[0].CreatedAt, items[1].CreatedAt, items[2].CreatedAt)
	}
	if items[1].Type != alerts.TypeAboveThreshold || items[1].Severity != alerts.SeverityCritical {
		t.Fatalf("unexpected anomaly item %+v", items[1])
	}
	if items[0].Type != alerts.TypeSensorError {
		t.Fatalf("unexpected error item %+v", items[0])
	}
	wantID := HistoryID("anomaly", "dev-1", t2, "Irradiancia")
	if items[1].ID != wantID {
		t.Fatalf("expected id %s, got %s", wantID, items[1].ID)
	}

	if !readings.filters[0].Since.Equal(sweepNow.Add(-24 * time.Hour)) {
		t.Fatalf("unexpected since %s", readings.filters[0].Since)
	}
	for i, filter := range readings.filters[:2] {
		if filter.Limit != DefaultHistoryLimit {
			t.Fatalf("query %d: expected limit %d, got %d", i, DefaultHistoryLimit, filter.Limit)
		}
	}
	if len(readings.bounds) != alerts.DefaultThresholds().Len() {
		t.Fatalf("expected every rule as bounds, got %d", len(readings.bounds))
	}

	limited, err := history.History(context.Background(), HistoryQuery{Hours: 24, Limit: 2})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(limited) != 2 || !limited[0].CreatedAt.Equal(t3) {
		t.Fatalf("expected 2 newest items, got %+v", limited)
	}
}

func TestHistoryPassesFacadeScope(t *testing.T) {
	readings := &fakeReadings{}
	history, err := NewHistoryAggregator(readings, alerts.DefaultThresholds(), fixedClock{now: sweepNow})
	if err != nil {
		t.Fatalf("new history aggregator: %v", err)
	}
	if _, err := history.History(context.Background(), HistoryQuery{Limit: 2, FacadeIDs: []string{"F1"}}); err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(readings.filters) != 2 {
		t.Fatalf("expected 2 reading queries, got %d", len(readings.filters))
	}
	for i, filter := range readings.filters {
		if len(filter.FacadeIDs) != 1 || filter.FacadeIDs[0] != "F1" || filter.Limit != 2 {
			t.Fatalf("query %d: expected scope F1 limit 2, got %+v", i, filter)
		}
	}
}

func TestHistoryID(t *testing.T) {
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if got := HistoryID("error", "dev-1", ts, "Humedad"); got != "error_dev-1_1717243200_Humedad" {
		t.Fatalf("unexpected id %s", got)
	}
	if got := HistoryID("error", "dev-1", ts.Add(500*time.Millisecond), "Humedad"); got != "error_dev-1_1717243200.5_Humedad" {
		t.Fatalf("unexpected fractional id %s", got)
	}
}

func TestMergeHistoryStableTies(t *testing.T) {
	ts := sweepNow
	items := []HistoryItem{
		{ID: "a", CreatedAt: ts},
		{ID: "b", CreatedAt: ts},
		{ID: "c", CreatedAt: ts.Add(time.Second)},
	}
	merged := MergeHistory(items, 0)
	if merged[0].ID != "c" || merged[1].ID != "a" || merged[2].ID != "b" {
		t.Fatalf("unexpected order %v %v %v", merged[0].ID, merged[1].ID, merged[2].ID)
	}
}

func TestSensorStatus(t *testing.T) {
	readings := &fakeReadings{
		latest: []telemetry.LatestReading{
			{FacadeID: "F1", SensorName: "Humedad", DeviceID: "dev-1", Value: telemetry.Float(40), TS: sweepNow.Add(-5 * time.Minute)},
			{FacadeID: "F1", SensorName: "Irradiancia", DeviceID: "dev-1", Value: telemetry.Float(700), TS: sweepNow.Add(-45 * time.Minute)},
			{FacadeID: "F1", SensorName: "Presion_Alta", DeviceID: "dev-1", TS: sweepNow.Add(-30 * time.Minute)},
		},
	}
	status, err := NewStatusService(readings, fixedClock{now: sweepNow})
	if err != nil {
		t.Fatalf("new status service: %v", err)
	}

	report, err := status.SensorStatus(context.Background(), "F1", "refrigerated", 0)
	if err != nil {
		t.Fatalf("sensor status: %v", err)
	}
	if report.InactivityThresholdMinutes != DefaultStatusMinutes {
		t.Fatalf("expected default minutes, got %d", report.InactivityThresholdMinutes)
	}
	if report.FacadeType != telemetry.FacadeRefrigerated {
		t.Fatalf("expected normalized facade type, got %q", report.FacadeType)
	}
	if report.Summary.Total != 3 || report.Summary.Active != 1 || report.Summary.Inactive != 2 {
		t.Fatalf("unexpected summary %+v", report.Summary)
	}
	if report.Sensors[0].Status != StatusActive || report.Sensors[2].Status != StatusInactive {
		t.Fatalf("unexpected states %+v", report.Sensors)
	}
	if readings.filters[0].FacadeID != "F1" {
		t.Fatalf("expected facade filter, got %+v", readings.filters[0])
	}

	if _, err := status.SensorStatus(context.Background(), "", "", 0); err != alerts.ErrInvalidQuery {
		t.Fatalf("expected invalid query, got %v", err)
	}
}
