package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	alerts "facade-monitor/internal/alerts/domain"
)

// Message is one rendered alert ready for delivery.
type Message struct {
	Text  string
	Alert alerts.Alert
}

// Channel delivers messages to an external receiver.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

type webhookPayload struct {
	MsgType string       `json:"msgtype"`
	Text    webhookText  `json:"text"`
	Alert   webhookAlert `json:"alert"`
}

type webhookText struct {
	Content string `json:"content"`
}

type webhookAlert struct {
	ID        string   `json:"id,omitempty"`
	FacadeID  string   `json:"facade_id"`
	Sensor    string   `json:"sensor"`
	Type      string   `json:"type"`
	Severity  string   `json:"severity"`
	Value     *float64 `json:"value"`
	Threshold *float64 `json:"threshold,omitempty"`
	CreatedAt string   `json:"created_at"`
}

// WebhookChannel posts messages as JSON to a chat or incident webhook.
type WebhookChannel struct {
	url      string
	token    string
	client   *http.Client
	attempts int
	backoff  time.Duration
}

type WebhookOption func(*WebhookChannel)

func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// WithBearerToken sends an Authorization header with every request.
func WithBearerToken(token string) WebhookOption {
	return func(ch *WebhookChannel) {
		ch.token = token
	}
}

// WithRetry retries transport errors and 5xx responses up to attempts times,
// sleeping backoff*n before attempt n+1.
func WithRetry(attempts int, backoff time.Duration) WebhookOption {
	return func(ch *WebhookChannel) {
		if attempts > 0 {
			ch.attempts = attempts
		}
		if backoff >= 0 {
			ch.backoff = backoff
		}
	}
}

func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{
		url:      url,
		client:   &http.Client{Timeout: 10 * time.Second},
		attempts: 1,
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Send posts msg. 4xx responses are returned without retrying.
func (w *WebhookChannel) Send(ctx context.Context, msg Message) error {
	if w == nil || w.url == "" {
		return errors.New("webhook channel: empty url")
	}
	body, err := json.Marshal(newWebhookPayload(msg))
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		retry, err := w.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == w.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.backoff * time.Duration(attempt)):
		}
	}
	return lastErr
}

func (w *WebhookChannel) post(ctx context.Context, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return resp.StatusCode >= 500, fmt.Errorf("webhook channel: status %d", resp.StatusCode)
	}
	return false, nil
}

func newWebhookPayload(msg Message) webhookPayload {
	alert := msg.Alert
	payload := webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: msg.Text},
		Alert: webhookAlert{
			ID:        alert.ID,
			FacadeID:  alert.FacadeID,
			Sensor:    alert.SensorName,
			Type:      string(alert.Type),
			Severity:  string(alert.Severity),
			Value:     alert.Value,
			Threshold: alert.Threshold,
		},
	}
	if !alert.CreatedAt.IsZero() {
		payload.Alert.CreatedAt = alert.CreatedAt.UTC().Format(time.RFC3339)
	}
	return payload
}
