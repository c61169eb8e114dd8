package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	alerts "facade-monitor/internal/alerts/domain"
	telemetry "facade-monitor/internal/telemetry/domain"
)

// History query bounds.
const (
	DefaultHistoryHours = 168
	MaxHistoryHours     = 720
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// HistoryQuery selects the alert history window.
type HistoryQuery struct {
	Hours      int
	FacadeType telemetry.FacadeType
	// FacadeIDs limits the feed to these facades; empty means all.
	FacadeIDs []string
	Limit     int
}

// HistoryItem is one entry of the recomputed alert feed.
type HistoryItem struct {
	ID         string               `json:"id"`
	Type       alerts.AlertType     `json:"type"`
	FacadeID   string               `json:"facade_id"`
	FacadeType telemetry.FacadeType `json:"facade_type"`
	DeviceID   string               `json:"device_id"`
	SensorName string               `json:"sensor_name"`
	Message    string               `json:"message"`
	Severity   alerts.Severity      `json:"severity"`
	Value      *float64             `json:"value"`
	Threshold  *float64             `json:"threshold,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
}

// HistoryAggregator recomputes the alert feed from durable telemetry.
type HistoryAggregator struct {
	readings   ReadingSource
	thresholds alerts.ThresholdTable
	clock      Clock
}

// NewHistoryAggregator constructs an aggregator.
func NewHistoryAggregator(readings ReadingSource, thresholds alerts.ThresholdTable, clock Clock) (*HistoryAggregator, error) {
	if readings == nil {
		return nil, errors.New("history: nil reading source")
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &HistoryAggregator{readings: readings, thresholds: thresholds, clock: clock}, nil
}

// Normalize applies defaults and clamps the query bounds.
func (q HistoryQuery) Normalize() HistoryQuery {
	if q.Hours == 0 {
		q.Hours = DefaultHistoryHours
	}
	if q.Limit == 0 {
		q.Limit = DefaultHistoryLimit
	}
	q.Hours = clamp(q.Hours, 1, MaxHistoryHours)
	q.Limit = clamp(q.Limit, 1, MaxHistoryLimit)
	if q.FacadeType != "" {
		q.FacadeType = telemetry.ParseFacadeType(string(q.FacadeType))
	}
	return q
}

// History merges sensor errors and threshold violations of the window into
// one feed, newest first, truncated to the query limit.
func (h *HistoryAggregator) History(ctx context.Context, query HistoryQuery) ([]HistoryItem, error) {
	if h == nil || h.readings == nil {
		return nil, errors.New("history: nil aggregator")
	}
	query = query.Normalize()
	now := h.clock.Now().UTC()
	since := now.Add(-time.Duration(query.Hours) * time.Hour)

	filter := telemetry.MeasurementFilter{
		Since:      since,
		FacadeIDs:  query.FacadeIDs,
		FacadeType: query.FacadeType,
		Limit:      query.Limit,
	}
	invalid, err := h.readings.InvalidReadings(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("history: invalid readings: %w", err)
	}
	items := make([]HistoryItem, 0, len(invalid))
	for _, m := range invalid {
		items = append(items, historyItem("error", m, alerts.SensorErrorAlert(m, m.TS)))
	}

	if h.thresholds.Len() > 0 {
		// each source is limited on its own; the newest limit of the union
		// is always contained in the two limited sets.
		violations, err := h.readings.OutOfRangeReadings(ctx, filter, h.thresholds.Bounds())
		if err != nil {
			return nil, fmt.Errorf("history: out of range readings: %w", err)
		}
		for _, m := range violations {
			rule, ok := h.thresholds.Lookup(m.SensorName)
			if !ok {
				continue
			}
			violation, broken := rule.Check(*m.Value)
			if !broken {
				continue
			}
			items = append(items, historyItem("anomaly", m, alerts.ThresholdAlert(m, violation, m.TS)))
		}
	}

	return MergeHistory(items, query.Limit), nil
}

// MergeHistory dedupes items by ID, sorts them newest first keeping the input
// order of ties, and truncates to limit.
func MergeHistory(items []HistoryItem, limit int) []HistoryItem {
	seen := make(map[string]struct{}, len(items))
	merged := make([]HistoryItem, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		merged = append(merged, item)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// HistoryID derives the synthetic identity of a history entry.
func HistoryID(prefix, deviceID string, ts time.Time, sensorName string) string {
	seconds := float64(ts.UnixMicro()) / 1e6
	return prefix + "_" + deviceID + "_" + strconv.FormatFloat(seconds, 'f', -1, 64) + "_" + sensorName
}

func historyItem(prefix string, m telemetry.Measurement, alert alerts.Alert) HistoryItem {
	return HistoryItem{
		ID:         HistoryID(prefix, m.DeviceID, m.TS, m.SensorName),
		Type:       alert.Type,
		FacadeID:   m.FacadeID,
		FacadeType: m.FacadeType,
		DeviceID:   m.DeviceID,
		SensorName: m.SensorName,
		Message:    alert.Description,
		Severity:   alert.Severity,
		Value:      alert.Value,
		Threshold:  alert.Threshold,
		CreatedAt:  m.TS.UTC(),
	}
}

func clamp(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
