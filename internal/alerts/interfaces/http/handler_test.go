package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	alertapp "facade-monitor/internal/alerts/application"
	alerts "facade-monitor/internal/alerts/domain"
	alertrepo "facade-monitor/internal/alerts/infrastructure/postgres"
	"facade-monitor/internal/auth"
	telemetry "facade-monitor/internal/telemetry/domain"
)

type stubHistory struct {
	items []alertapp.HistoryItem
	query alertapp.HistoryQuery
}

func (s *stubHistory) History(_ context.Context, query alertapp.HistoryQuery) ([]alertapp.HistoryItem, error) {
	s.query = query
	return s.items, nil
}

type stubAlerts struct {
	list   []alerts.Alert
	byID   map[string]alerts.Alert
	filter alertrepo.AlertFilter
	err    error
}

func (s *stubAlerts) ListAlerts(_ context.Context, filter alertrepo.AlertFilter) ([]alerts.Alert, error) {
	s.filter = filter
	return s.list, s.err
}

func (s *stubAlerts) GetByID(_ context.Context, id string) (*alerts.Alert, error) {
	alert, ok := s.byID[id]
	if !ok {
		return nil, alerts.ErrNotFound
	}
	return &alert, nil
}

type stubStatus struct {
	facadeID string
	minutes  int
}

func (s *stubStatus) SensorStatus(_ context.Context, facadeID string, facadeType telemetry.FacadeType, minutes int) (alertapp.SensorStatusReport, error) {
	s.facadeID = facadeID
	s.minutes = minutes
	return alertapp.SensorStatusReport{FacadeID: facadeID, FacadeType: facadeType, InactivityThresholdMinutes: minutes}, nil
}

func newTestHandler(t *testing.T, history *stubHistory, store AlertReader, status *stubStatus) *Handler {
	t.Helper()
	handler, err := NewHandler(history, store, status, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler
}

func scoped(req *http.Request, facades ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), auth.RoleViewer, "viewer-1", facades))
}

func TestListAlertsFiltersAndScope(t *testing.T) {
	store := &stubAlerts{list: []alerts.Alert{
		{ID: "a-1", FacadeID: "F1", Type: alerts.TypeSensorError},
		{ID: "a-2", FacadeID: "F2", Type: alerts.TypeSensorError},
	}}
	handler := newTestHandler(t, &stubHistory{}, store, &stubStatus{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts?type=sensor_error&since=2024-06-01T00:00:00Z&limit=5000", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, scoped(req, "F1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []alerts.Alert
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a-1" {
		t.Fatalf("expected only scoped alert, got %+v", got)
	}
	if store.filter.Limit != maxListLimit || store.filter.Type != alerts.TypeSensorError {
		t.Fatalf("unexpected filter %+v", store.filter)
	}
	if len(store.filter.FacadeIDs) != 1 || store.filter.FacadeIDs[0] != "F1" {
		t.Fatalf("expected scope pushed into the filter, got %+v", store.filter.FacadeIDs)
	}
	if !store.filter.Since.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected since %s", store.filter.Since)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/alerts?facade_id=F2", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, scoped(req, "F1"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for out of scope facade, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/alerts?since=yesterday", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad since, got %d", rec.Code)
	}
}

func TestListAlertsSeverity(t *testing.T) {
	store := &stubAlerts{}
	handler := newTestHandler(t, &stubHistory{}, store, &stubStatus{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts?severity=warning", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if store.filter.Severity != alerts.SeverityWarning {
		t.Fatalf("expected severity filter, got %+v", store.filter)
	}
	if store.filter.FacadeIDs != nil {
		t.Fatalf("expected unscoped caller to list every facade, got %v", store.filter.FacadeIDs)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts?severity=urgent", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown severity, got %d", rec.Code)
	}
}

// scopedAlerts honours the facade scope the way the repository does, so the
// limit applies to the caller's facades only.
type scopedAlerts struct {
	stubAlerts
}

func (s *scopedAlerts) ListAlerts(_ context.Context, filter alertrepo.AlertFilter) ([]alerts.Alert, error) {
	s.filter = filter
	var out []alerts.Alert
	for _, alert := range s.list {
		for _, id := range filter.FacadeIDs {
			if alert.FacadeID == id {
				out = append(out, alert)
			}
		}
		if len(filter.FacadeIDs) == 0 {
			out = append(out, alert)
		}
		if len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func TestListAlertsScopedLimit(t *testing.T) {
	store := &scopedAlerts{stubAlerts{list: []alerts.Alert{
		{ID: "f2-new", FacadeID: "F2"},
		{ID: "f2-old", FacadeID: "F2"},
		{ID: "f1", FacadeID: "F1"},
	}}}
	handler := newTestHandler(t, &stubHistory{}, store, &stubStatus{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, scoped(httptest.NewRequest(http.MethodGet, "/api/v1/alerts?limit=2", nil), "F1"))
	var got []alerts.Alert
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != "f1" {
		t.Fatalf("expected the scoped facade's alert despite newer foreign rows, got %+v", got)
	}
}

func TestListAlertsStoreError(t *testing.T) {
	handler := newTestHandler(t, &stubHistory{}, &stubAlerts{err: errors.New("db down")}, &stubStatus{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestGetAlert(t *testing.T) {
	store := &stubAlerts{byID: map[string]alerts.Alert{
		"a-1": {ID: "a-1", FacadeID: "F1"},
		"a-2": {ID: "a-2", FacadeID: "F2"},
	}}
	handler := newTestHandler(t, &stubHistory{}, store, &stubStatus{})

	cases := []struct {
		path string
		code int
	}{
		{"/api/v1/alerts/a-1", http.StatusOK},
		{"/api/v1/alerts/a-2", http.StatusNotFound},
		{"/api/v1/alerts/missing", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, scoped(httptest.NewRequest(http.MethodGet, tc.path, nil), "F1"))
		if rec.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.path, tc.code, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/a-1", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	history := &stubHistory{items: []alertapp.HistoryItem{
		{ID: "anomaly_dev-1_1717243200_Irradiancia", FacadeID: "F1", Type: alerts.TypeAboveThreshold},
		{ID: "error_dev-2_1717243100_Humedad", FacadeID: "F2", Type: alerts.TypeSensorError},
	}}
	handler := newTestHandler(t, history, &stubAlerts{}, &stubStatus{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, scoped(httptest.NewRequest(http.MethodGet, "/api/v1/alerts/history?hours=24&limit=2&facade_type=refrigerada", nil), "F1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if history.query.Hours != 24 || history.query.Limit != 2 || history.query.FacadeType != telemetry.FacadeRefrigerated {
		t.Fatalf("unexpected query %+v", history.query)
	}
	if len(history.query.FacadeIDs) != 1 || history.query.FacadeIDs[0] != "F1" {
		t.Fatalf("expected scope pushed into the query, got %+v", history.query.FacadeIDs)
	}
	var got []alertapp.HistoryItem
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].FacadeID != "F1" {
		t.Fatalf("expected scoped history, got %+v", got)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts/history?hours=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSensorStatusEndpoint(t *testing.T) {
	status := &stubStatus{}
	handler := newTestHandler(t, &stubHistory{}, &stubAlerts{}, status)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/facades/F1/sensors/status?minutes=15", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if status.facadeID != "F1" || status.minutes != 15 {
		t.Fatalf("unexpected status call %+v", status)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, scoped(httptest.NewRequest(http.MethodGet, "/api/v1/facades/F2/sensors/status", nil), "F1"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestSSEBrokerFiltersByVisibility(t *testing.T) {
	broker := NewSSEBroker()
	all := broker.Subscribe(nil)
	onlyF1 := broker.Subscribe(func(facadeID string) bool { return facadeID == "F1" })
	if broker.Clients() != 2 {
		t.Fatalf("expected 2 clients, got %d", broker.Clients())
	}

	broker.Notify(context.Background(), alerts.Alert{ID: "a-2", FacadeID: "F2"})
	broker.Notify(context.Background(), alerts.Alert{ID: "a-1", FacadeID: "F1"})

	if len(all) != 2 {
		t.Fatalf("expected 2 events for unfiltered client, got %d", len(all))
	}
	if len(onlyF1) != 1 {
		t.Fatalf("expected 1 event for filtered client, got %d", len(onlyF1))
	}
	broker.Unsubscribe(all)
	broker.Unsubscribe(onlyF1)
	if broker.Clients() != 0 {
		t.Fatalf("expected no clients, got %d", broker.Clients())
	}
}

func TestStreamHandlerDeliversAlerts(t *testing.T) {
	broker := NewSSEBroker()
	server := httptest.NewServer(NewStreamHandler(broker))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"?facade_id=F1", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || strings.TrimSpace(line) != "event: ready" {
		t.Fatalf("expected ready event, got %q %v", line, err)
	}
	// data line and blank separator
	_, _ = reader.ReadString('\n')
	_, _ = reader.ReadString('\n')

	broker.Notify(context.Background(), alerts.Alert{ID: "skip", FacadeID: "F2"})
	broker.Notify(context.Background(), alerts.Alert{ID: "a-1", FacadeID: "F1", Type: alerts.TypeSensorInactive})

	line, _ = reader.ReadString('\n')
	if strings.TrimSpace(line) != "event: alert" {
		t.Fatalf("expected alert event, got %q", line)
	}
	data, _ := reader.ReadString('\n')
	var alert alerts.Alert
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(data), "data: ")), &alert); err != nil {
		t.Fatalf("decode alert: %v", err)
	}
	if alert.ID != "a-1" {
		t.Fatalf("expected filtered alert a-1, got %s", alert.ID)
	}
}
