package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	alerts "facade-monitor/internal/alerts/domain"
	"facade-monitor/internal/auth"
)

const keepAliveInterval = 30 * time.Second

type subscriber struct {
	ch      chan []byte
	visible func(facadeID string) bool
}

type streamEvent struct {
	facadeID string
	payload  []byte
}

// SSEBroker fans out new alerts to connected clients.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan []byte]subscriber
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[chan []byte]subscriber)}
}

// Notify implements the sweep AlertNotifier.
func (b *SSEBroker) Notify(_ context.Context, alert alerts.Alert) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return
	}
	b.broadcast(streamEvent{facadeID: alert.FacadeID, payload: payload})
}

// Subscribe registers a new client channel. visible filters alerts by facade;
// nil receives every alert.
func (b *SSEBroker) Subscribe(visible func(facadeID string) bool) chan []byte {
	if b == nil {
		return nil
	}
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.clients[ch] = subscriber{ch: ch, visible: visible}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel.
func (b *SSEBroker) Unsubscribe(ch chan []byte) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
	close(ch)
}

// Clients returns the number of connected clients.
func (b *SSEBroker) Clients() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *SSEBroker) broadcast(event streamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.clients {
		if sub.visible != nil && !sub.visible(event.facadeID) {
			continue
		}
		// drop for slow clients
		select {
		case sub.ch <- event.payload:
		default:
		}
	}
}

// StreamHandler serves the SSE alert stream.
type StreamHandler struct {
	broker *SSEBroker
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *SSEBroker) *StreamHandler {
	return &StreamHandler{broker: broker}
}

// ServeHTTP handles GET /api/v1/alerts/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	facadeFilter := r.URL.Query().Get("facade_id")
	ch := h.broker.Subscribe(func(facadeID string) bool {
		if facadeFilter != "" && facadeID != facadeFilter {
			return false
		}
		return auth.FacadeVisible(ctx, facadeID)
	})
	if ch == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	defer h.broker.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: alert\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-keepAlive.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
