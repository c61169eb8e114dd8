package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"facade-monitor/internal/audit"
	"facade-monitor/internal/auth"
	telemetry "facade-monitor/internal/telemetry/domain"
	telemetryredis "facade-monitor/internal/telemetry/infrastructure/redis"
)

// LatestStore reads and invalidates cached sensor values.
type LatestStore interface {
	Latest(ctx context.Context, facadeID string, facadeType telemetry.FacadeType) (map[string]telemetry.CacheEntry, bool, error)
	Invalidate(ctx context.Context, facadeID string, facadeType telemetry.FacadeType) (bool, error)
}

type latestResponse struct {
	FacadeID   string                          `json:"facade_id"`
	FacadeType telemetry.FacadeType            `json:"facade_type"`
	Sensors    map[string]telemetry.CacheEntry `json:"sensors"`
}

// LatestHandler serves the cached last value of every sensor of a facade.
type LatestHandler struct {
	store  LatestStore
	audit  audit.Logger
	logger *log.Logger
}

// LatestOption configures the handler.
type LatestOption func(*LatestHandler)

// WithAuditLogger records cache invalidations.
func WithAuditLogger(logger audit.Logger) LatestOption {
	return func(h *LatestHandler) {
		h.audit = logger
	}
}

// NewLatestHandler constructs a handler.
func NewLatestHandler(store LatestStore, logger *log.Logger, opts ...LatestOption) (*LatestHandler, error) {
	if store == nil {
		return nil, errors.New("latest handler: nil store")
	}
	if logger == nil {
		logger = log.Default()
	}
	h := &LatestHandler{store: store, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ServeHTTP handles GET and DELETE /api/v1/facades/{facade_id}/latest.
func (h *LatestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	facadeID, ok := facadeFromPath(r.URL.Path)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := auth.EnsureFacadeAccess(r.Context(), facadeID); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	facadeType := telemetry.ParseFacadeType(r.URL.Query().Get("facade_type"))

	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r, facadeID, facadeType)
	case http.MethodDelete:
		h.handleDelete(w, r, facadeID, facadeType)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *LatestHandler) handleGet(w http.ResponseWriter, r *http.Request, facadeID string, facadeType telemetry.FacadeType) {
	entries, found, err := h.store.Latest(r.Context(), facadeID, facadeType)
	if err != nil {
		h.logger.Printf("latest handler: read facade=%s type=%s: %v", facadeID, facadeType, err)
		http.Error(w, "cache unavailable", http.StatusServiceUnavailable)
		return
	}
	if !found {
		http.Error(w, "no data", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(latestResponse{FacadeID: facadeID, FacadeType: facadeType, Sensors: entries})
}

func (h *LatestHandler) handleDelete(w http.ResponseWriter, r *http.Request, facadeID string, facadeType telemetry.FacadeType) {
	removed, err := h.store.Invalidate(r.Context(), facadeID, facadeType)
	if err != nil {
		h.logger.Printf("latest handler: invalidate facade=%s type=%s: %v", facadeID, facadeType, err)
		http.Error(w, "cache unavailable", http.StatusServiceUnavailable)
		return
	}
	h.logger.Printf("latest handler: invalidated facade=%s type=%s removed=%t subject=%s", facadeID, facadeType, removed, auth.SubjectFromContext(r.Context()))
	if h.audit != nil {
		key := telemetryredis.Key(facadeID, facadeType)
		entry := audit.FromRequest(r, audit.LatestInvalidation(facadeID, string(facadeType), key, removed))
		if err := h.audit.Log(r.Context(), entry); err != nil {
			h.logger.Printf("latest handler: audit log failed: %v", err)
		}
	}
	if !removed {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// IsLatestPath reports whether path addresses the latest values of a facade.
func IsLatestPath(path string) bool {
	_, ok := facadeFromPath(path)
	return ok
}

func facadeFromPath(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/api/v1/facades/")
	if !ok {
		return "", false
	}
	facadeID, ok := strings.CutSuffix(rest, "/latest")
	if !ok || facadeID == "" || strings.Contains(facadeID, "/") {
		return "", false
	}
	return facadeID, true
}
