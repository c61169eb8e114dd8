package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"facade-monitor/internal/observability/metrics"
	telemetryapp "facade-monitor/internal/telemetry/application"
	telemetry "facade-monitor/internal/telemetry/domain"
	telemetrymqtt "facade-monitor/internal/telemetry/interfaces/mqtt"
)

const maxIngestBody = 1 << 20

// Ingester fans a decoded envelope out to the sinks.
type Ingester interface {
	Ingest(ctx context.Context, env telemetry.Envelope) telemetryapp.Result
}

// IngestHandler accepts telemetry messages over HTTP for collectors that
// cannot reach the broker. The body is the same JSON as the MQTT payload.
type IngestHandler struct {
	ingester Ingester
	logger   *log.Logger
	now      func() time.Time
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(ingester Ingester, logger *log.Logger) (*IngestHandler, error) {
	if ingester == nil {
		return nil, errors.New("telemetry ingest: nil ingester")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{ingester: ingester, logger: logger, now: time.Now}, nil
}

// ServeHTTP handles POST /ingest/telemetry.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		h.logger.Printf("telemetry ingest: read body error: %v", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	topic := ""
	if deviceID := r.URL.Query().Get("device_id"); deviceID != "" {
		topic = "sensors/" + deviceID + "/all"
	}
	env, err := telemetrymqtt.Decode(topic, body, h.now())
	if err != nil {
		metrics.IncDecodeError(telemetrymqtt.DecodeErrorReason(err))
		h.logger.Printf("telemetry ingest: invalid payload: %v", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	// the server base context is cancelled at shutdown while accepted
	// requests still drain; sink timeouts bound the writes instead.
	result := h.ingester.Ingest(context.WithoutCancel(r.Context()), env)
	resp := map[string]any{
		"facade_id":    env.FacadeID,
		"device_id":    env.DeviceID,
		"measurements": len(env.Measurements),
		"cache":        sinkStatus(result.CacheErr),
		"durable":      sinkStatus(result.DurableErr),
	}
	status := http.StatusAccepted
	switch {
	case result.CacheErr != nil && result.DurableErr != nil:
		status = http.StatusBadGateway
	case !result.OK():
		status = http.StatusMultiStatus
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func sinkStatus(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
