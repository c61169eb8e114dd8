package notify

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	alerts "facade-monitor/internal/alerts/domain"
)

// Clock provides time for suppression windows.
type Clock interface {
	Now() time.Time
}

// Notifier renders alerts and sends them through a channel. Repeated alerts
// for the same facade, sensor and type are suppressed within the cooldown.
type Notifier struct {
	channel        Channel
	template       *Template
	clock          Clock
	logger         *log.Logger
	suppress       *suppressor
	minSeverity    alerts.Severity
	requestTimeout time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithLogger sets the logger for delivery failures.
func WithLogger(logger *log.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithRequestTimeout bounds each channel send.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same
// facade, sensor and alert type.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.suppress.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.suppress.window = window
		}
	}
}

// WithMinSeverity drops alerts ranked below severity.
func WithMinSeverity(severity alerts.Severity) Option {
	return func(n *Notifier) {
		n.minSeverity = severity
	}
}

// NewNotifier constructs an alert notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:        channel,
		template:       template,
		clock:          systemClock{},
		logger:         log.Default(),
		suppress:       newSuppressor(),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements the sweep AlertNotifier.
func (n *Notifier) Notify(ctx context.Context, alert alerts.Alert) {
	if n == nil || n.channel == nil {
		return
	}
	if severityRank(alert.Severity) < severityRank(n.minSeverity) {
		return
	}
	now := n.clock.Now().UTC()
	if !n.suppress.allow(alert, now) {
		return
	}
	text, err := n.template.Render(buildTemplateData(alert))
	if err != nil {
		n.logger.Printf("alert notifier: render: %v", err)
		return
	}
	sendCtx := ctx
	if n.requestTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, n.requestTimeout)
		defer cancel()
	}
	if err := n.channel.Send(sendCtx, Message{Text: text, Alert: alert}); err != nil {
		n.logger.Printf("alert notifier: send facade=%s sensor=%s type=%s: %v", alert.FacadeID, alert.SensorName, alert.Type, err)
		return
	}
	n.suppress.record(alert, now)
}

func buildTemplateData(alert alerts.Alert) TemplateData {
	data := TemplateData{
		FacadeID:    alert.FacadeID,
		Sensor:      alert.SensorName,
		Type:        string(alert.Type),
		TypeLabel:   typeLabel(alert.Type),
		Value:       "n/a",
		Severity:    string(alert.Severity),
		CreatedAt:   alert.CreatedAt.UTC().Format(time.RFC3339),
		Description: alert.Description,
		Suggestion:  suggestionFor(alert.Type),
	}
	if alert.Value != nil {
		data.Value = formatFloat(*alert.Value)
	}
	if alert.Threshold != nil {
		data.Threshold = formatFloat(*alert.Threshold)
	}
	return data
}

func typeLabel(alertType alerts.AlertType) string {
	switch alertType {
	case alerts.TypeSensorError:
		return "Sensor Error"
	case alerts.TypeBelowThreshold:
		return "Below Threshold"
	case alerts.TypeAboveThreshold:
		return "Above Threshold"
	case alerts.TypeSensorInactive:
		return "Sensor Inactive"
	default:
		return string(alertType)
	}
}

func suggestionFor(alertType alerts.AlertType) string {
	switch alertType {
	case alerts.TypeSensorError:
		return "Check the sensor wiring and the collector device."
	case alerts.TypeSensorInactive:
		return "Verify the collector is powered and connected."
	default:
		return "Verify the reading on site and inspect the facade."
	}
}

func severityRank(value alerts.Severity) int {
	switch value {
	case alerts.SeverityCritical:
		return 3
	case alerts.SeverityWarning:
		return 2
	case alerts.SeverityMedium:
		return 1
	default:
		return 0
	}
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
