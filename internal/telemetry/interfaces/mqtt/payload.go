package mqtt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"facade-monitor/internal/telemetry/domain"
)

const unknownID = "unknown"

// timestamp layouts accepted after normalizing a trailing Z to +00:00.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

type payload struct {
	FacadeID   json.RawMessage            `json:"facade_id"`
	DeviceID   json.RawMessage            `json:"device_id"`
	FacadeType json.RawMessage            `json:"facade_type"`
	TS         json.RawMessage            `json:"ts"`
	Data       map[string]json.RawMessage `json:"data"`
}

// Decode parses one telemetry message into an envelope with one measurement
// per sensor entry. Unparsable sensor values are kept as null readings.
func Decode(topic string, body []byte, receivedAt time.Time) (telemetry.Envelope, error) {
	var p payload
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return telemetry.Envelope{}, telemetry.ErrMalformedPayload
	}
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return telemetry.Envelope{}, fmt.Errorf("%w: %v", telemetry.ErrMalformedPayload, err)
	}

	ts, err := parseTimestamp(rawString(p.TS), receivedAt)
	if err != nil {
		return telemetry.Envelope{}, err
	}
	if len(p.Data) == 0 {
		return telemetry.Envelope{}, telemetry.ErrEmptyData
	}

	deviceID := rawString(p.DeviceID)
	if deviceID == "" {
		if fromTopic, ok := DeviceIDFromTopic(topic); ok {
			deviceID = fromTopic
		}
	}
	env := telemetry.Envelope{
		FacadeID:   orUnknown(rawString(p.FacadeID)),
		DeviceID:   orUnknown(deviceID),
		FacadeType: telemetry.ParseFacadeType(rawString(p.FacadeType)),
		TS:         ts,
	}

	names := make([]string, 0, len(p.Data))
	for name := range p.Data {
		names = append(names, name)
	}
	sort.Strings(names)

	env.Measurements = make([]telemetry.Measurement, 0, len(names))
	for _, name := range names {
		env.Measurements = append(env.Measurements, telemetry.Measurement{
			FacadeID:   env.FacadeID,
			DeviceID:   env.DeviceID,
			FacadeType: env.FacadeType,
			SensorName: name,
			Value:      coerceValue(p.Data[name]),
			TS:         ts,
		})
	}
	return env, nil
}

// DeviceIDFromTopic extracts the wildcard segment of sensors/{device_id}/all.
func DeviceIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "sensors" || parts[2] != "all" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func parseTimestamp(value string, receivedAt time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		if receivedAt.IsZero() {
			receivedAt = time.Now()
		}
		return receivedAt.UTC(), nil
	}
	if strings.HasSuffix(value, "Z") {
		value = strings.TrimSuffix(value, "Z") + "+00:00"
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", telemetry.ErrInvalidTimestamp, value)
}

func coerceValue(raw json.RawMessage) *float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return &number
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return nil
	}
	return &parsed
}

// rawString accepts JSON strings and numbers, so numeric ids survive.
func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		return number.String()
	}
	return ""
}

func orUnknown(value string) string {
	if value == "" {
		return unknownID
	}
	return value
}

// DecodeErrorReason maps a Decode error to a metrics label.
func DecodeErrorReason(err error) string {
	switch {
	case errors.Is(err, telemetry.ErrInvalidTimestamp):
		return "invalid_timestamp"
	case errors.Is(err, telemetry.ErrEmptyData):
		return "empty_data"
	case errors.Is(err, telemetry.ErrMalformedPayload):
		return "malformed"
	default:
		return "unknown"
	}
}
