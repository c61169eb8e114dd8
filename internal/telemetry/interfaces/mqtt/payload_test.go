package mqtt

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"facade-monitor/internal/telemetry/domain"
)

var receivedAt = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

func TestDecodeFullPayload(t *testing.T) {
	body := []byte(`{"facade_id":"1","device_id":"d1","facade_type":"no_refrigerada","ts":"2025-01-01T00:00:00Z","data":{"Irradiancia":1600,"Humedad":"45.5"}}`)
	env, err := Decode("sensors/d1/all", body, receivedAt)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.FacadeID != "1" || env.DeviceID != "d1" || env.FacadeType != telemetry.FacadeNonRefrigerated {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	wantTS := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if !env.TS.Equal(wantTS) {
		t.Fatalf("expected ts %s, got %s", wantTS, env.TS)
	}
	if len(env.Measurements) != 2 {
		t.Fatalf("expected 2 measurements, got %d", len(env.Measurements))
	}
	// sorted by sensor name
	if env.Measurements[0].SensorName != "Humedad" || *env.Measurements[0].Value != 45.5 {
		t.Fatalf("unexpected first measurement: %+v", env.Measurements[0])
	}
	if env.Measurements[1].SensorName != "Irradiancia" || *env.Measurements[1].Value != 1600 {
		t.Fatalf("unexpected second measurement: %+v", env.Measurements[1])
	}
}

func TestDecodeIdempotent(t *testing.T) {
	body := []byte(`{"facade_id":"7","facade_type":"refrigerated","ts":"2025-01-01T10:00:00.250Z","data":{"a":1,"b":null,"c":"x","d":-2}}`)
	first, err := Decode("sensors/dev-7/all", body, receivedAt)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	second, err := Decode("sensors/dev-7/all", body, receivedAt)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("decode not deterministic:\n%+v\n%+v", first, second)
	}
}

func TestDecodeDefaults(t *testing.T) {
	env, err := Decode("sensors/dev-9/all", []byte(`{"data":{"Humedad":12}}`), receivedAt)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.FacadeID != "unknown" {
		t.Fatalf("expected unknown facade id, got %q", env.FacadeID)
	}
	if env.DeviceID != "dev-9" {
		t.Fatalf("expected device id from topic, got %q", env.DeviceID)
	}
	if env.FacadeType != telemetry.FacadeUnknown {
		t.Fatalf("expected unknown facade type, got %q", env.FacadeType)
	}
	if !env.TS.Equal(receivedAt) {
		t.Fatalf("expected receipt time, got %s", env.TS)
	}

	env, err = Decode("other/topic", []byte(`{"facade_id":3,"data":{"Humedad":12}}`), receivedAt)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.DeviceID != "unknown" || env.FacadeID != "3" {
		t.Fatalf("unexpected ids: facade=%q device=%q", env.FacadeID, env.DeviceID)
	}
}

func TestDecodeValueCoercion(t *testing.T) {
	env, err := Decode("", []byte(`{"ts":"2025-01-01T00:00:00+00:00","data":{"a":null,"b":"abc","c":true,"d":-1,"e":" 2.5 "}}`), receivedAt)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	values := map[string]*float64{}
	for _, m := range env.Measurements {
		values[m.SensorName] = m.Value
	}
	for _, name := range []string{"a", "b", "c"} {
		if values[name] != nil {
			t.Fatalf("expected %s to be null, got %v", name, *values[name])
		}
	}
	if values["d"] == nil || *values["d"] != -1 {
		t.Fatalf("expected d=-1")
	}
	if values["e"] == nil || *values["e"] != 2.5 {
		t.Fatalf("expected e=2.5")
	}
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		want   error
		reason string
	}{
		{name: "not json", body: `hello`, want: telemetry.ErrMalformedPayload, reason: "malformed"},
		{name: "array", body: `[1,2]`, want: telemetry.ErrMalformedPayload, reason: "malformed"},
		{name: "bad ts", body: `{"ts":"yesterday","data":{"a":1}}`, want: telemetry.ErrInvalidTimestamp, reason: "invalid_timestamp"},
		{name: "empty data", body: `{"ts":"2025-01-01T00:00:00Z","data":{}}`, want: telemetry.ErrEmptyData, reason: "empty_data"},
		{name: "missing data", body: `{"facade_id":"1"}`, want: telemetry.ErrEmptyData, reason: "empty_data"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode("sensors/d/all", []byte(tc.body), receivedAt)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if got := DecodeErrorReason(err); got != tc.reason {
				t.Fatalf("expected reason %s, got %s", tc.reason, got)
			}
		})
	}
}

func TestDeviceIDFromTopic(t *testing.T) {
	if id, ok := DeviceIDFromTopic("sensors/abc/all"); !ok || id != "abc" {
		t.Fatalf("expected abc, got %q %v", id, ok)
	}
	for _, topic := range []string{"sensors//all", "sensors/abc", "foo/abc/all", "sensors/abc/all/extra"} {
		if _, ok := DeviceIDFromTopic(topic); ok {
			t.Fatalf("expected %q to be rejected", topic)
		}
	}
}
