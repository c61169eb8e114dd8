package telemetry

import "errors"

var (
	// ErrMalformedPayload indicates the message body is not a JSON object.
	ErrMalformedPayload = errors.New("telemetry: malformed payload")
	// ErrInvalidTimestamp indicates the ts field could not be parsed.
	ErrInvalidTimestamp = errors.New("telemetry: invalid timestamp")
	// ErrEmptyData indicates the message carries no sensor readings.
	ErrEmptyData = errors.New("telemetry: empty sensor data")
)
