package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	alertapp "facade-monitor/internal/alerts/application"
	alerts "facade-monitor/internal/alerts/domain"
	alertrepo "facade-monitor/internal/alerts/infrastructure/postgres"
	"facade-monitor/internal/auth"
	telemetry "facade-monitor/internal/telemetry/domain"
)

const timeLayout = time.RFC3339

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// HistoryReader recomputes the alert history feed.
type HistoryReader interface {
	History(ctx context.Context, query alertapp.HistoryQuery) ([]alertapp.HistoryItem, error)
}

// AlertReader reads stored alerts.
type AlertReader interface {
	ListAlerts(ctx context.Context, filter alertrepo.AlertFilter) ([]alerts.Alert, error)
	GetByID(ctx context.Context, id string) (*alerts.Alert, error)
}

// StatusReader reports sensor activity.
type StatusReader interface {
	SensorStatus(ctx context.Context, facadeID string, facadeType telemetry.FacadeType, minutes int) (alertapp.SensorStatusReport, error)
}

// Handler provides alert HTTP endpoints.
type Handler struct {
	history HistoryReader
	store   AlertReader
	status  StatusReader
	logger  *log.Logger
}

// NewHandler constructs a handler.
func NewHandler(history HistoryReader, store AlertReader, status StatusReader, logger *log.Logger) (*Handler, error) {
	if history == nil {
		return nil, errors.New("alerts handler: nil history")
	}
	if store == nil {
		return nil, errors.New("alerts handler: nil store")
	}
	if status == nil {
		return nil, errors.New("alerts handler: nil status")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{history: history, store: store, status: status, logger: logger}, nil
}

// ServeHTTP handles /api/v1/alerts, /api/v1/alerts/history, /api/v1/alerts/{id}
// and /api/v1/facades/{facade_id}/sensors/status.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch {
	case r.URL.Path == "/api/v1/alerts":
		h.handleList(w, r)
	case r.URL.Path == "/api/v1/alerts/history":
		h.handleHistory(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/alerts/"):
		h.handleGet(w, r, strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/"))
	case strings.HasPrefix(r.URL.Path, "/api/v1/facades/") && strings.HasSuffix(r.URL.Path, "/sensors/status"):
		facadeID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/facades/"), "/sensors/status")
		h.handleStatus(w, r, facadeID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	hours, err := parseIntQuery(r, "hours")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := parseIntQuery(r, "limit")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	items, err := h.history.History(r.Context(), alertapp.HistoryQuery{
		Hours:      hours,
		Limit:      limit,
		FacadeType: telemetry.FacadeType(r.URL.Query().Get("facade_type")),
		FacadeIDs:  auth.ScopedFacades(r.Context()),
	})
	if err != nil {
		h.logger.Printf("alerts handler: history: %v", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	visible := make([]alertapp.HistoryItem, 0, len(items))
	for _, item := range items {
		if auth.FacadeVisible(r.Context(), item.FacadeID) {
			visible = append(visible, item)
		}
	}
	writeJSON(w, visible)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	facadeID := r.URL.Query().Get("facade_id")
	if err := auth.EnsureFacadeAccess(r.Context(), facadeID); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	since, err := parseOptionalTime(r, "since")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	until, err := parseOptionalTime(r, "until")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !since.IsZero() && !until.IsZero() && !until.After(since) {
		http.Error(w, "until must be after since", http.StatusBadRequest)
		return
	}
	severity := alerts.Severity(r.URL.Query().Get("severity"))
	if severity != "" && !severity.Known() {
		http.Error(w, "unknown severity", http.StatusBadRequest)
		return
	}
	limit, err := parseIntQuery(r, "limit")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	filter := alertrepo.AlertFilter{
		FacadeID: facadeID,
		Type:     alerts.AlertType(r.URL.Query().Get("type")),
		Severity: severity,
		Since:    since,
		Until:    until,
		Limit:    limit,
	}
	if facadeID == "" {
		filter.FacadeIDs = auth.ScopedFacades(r.Context())
	}
	list, err := h.store.ListAlerts(r.Context(), filter)
	if err != nil {
		h.logger.Printf("alerts handler: list: %v", err)
		http.Error(w, "alerts unavailable", http.StatusInternalServerError)
		return
	}
	visible := make([]alerts.Alert, 0, len(list))
	for _, alert := range list {
		if auth.FacadeVisible(r.Context(), alert.FacadeID) {
			visible = append(visible, alert)
		}
	}
	writeJSON(w, visible)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	alert, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.logger.Printf("alerts handler: get %s: %v", id, err)
		http.Error(w, "alert unavailable", http.StatusInternalServerError)
		return
	}
	if !auth.FacadeVisible(r.Context(), alert.FacadeID) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, alert)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request, facadeID string) {
	if facadeID == "" || strings.Contains(facadeID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := auth.EnsureFacadeAccess(r.Context(), facadeID); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	minutes, err := parseIntQuery(r, "minutes")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	report, err := h.status.SensorStatus(r.Context(), facadeID, telemetry.FacadeType(r.URL.Query().Get("facade_type")), minutes)
	if err != nil {
		if errors.Is(err, alerts.ErrInvalidQuery) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Printf("alerts handler: sensor status %s: %v", facadeID, err)
		http.Error(w, "status unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, report)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func parseIntQuery(r *http.Request, key string) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return parsed, nil
}

func parseOptionalTime(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
