package notify

import (
	"context"

	alertapp "facade-monitor/internal/alerts/application"
	alerts "facade-monitor/internal/alerts/domain"
)

// MultiNotifier dispatches alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []alertapp.AlertNotifier
}

// NewMultiNotifier constructs a MultiNotifier. Nil notifiers are skipped.
func NewMultiNotifier(notifiers ...alertapp.AlertNotifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify forwards the alert to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, alert alerts.Alert) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		if notifier != nil {
			notifier.Notify(ctx, alert)
		}
	}
}
