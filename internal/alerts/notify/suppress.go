package notify

import (
	"crypto/sha1"
	"encoding/hex"
	"sync"
	"time"

	alerts "facade-monitor/internal/alerts/domain"
)

type sendRecord struct {
	at          time.Time
	fingerprint string
}

// suppressor remembers the last delivery per facade, sensor and alert type.
// A cooldown mutes the key entirely; a dedupe window only mutes repeats of
// the same description.
type suppressor struct {
	mu       sync.Mutex
	cooldown time.Duration
	window   time.Duration
	last     map[string]sendRecord
}

func newSuppressor() *suppressor {
	return &suppressor{last: make(map[string]sendRecord)}
}

func (s *suppressor) enabled() bool {
	return s.cooldown > 0 || s.window > 0
}

func (s *suppressor) allow(alert alerts.Alert, now time.Time) bool {
	if !s.enabled() {
		return true
	}
	s.mu.Lock()
	record, ok := s.last[suppressionKey(alert)]
	s.mu.Unlock()
	if !ok {
		return true
	}
	age := now.Sub(record.at)
	if s.cooldown > 0 && age < s.cooldown {
		return false
	}
	return !(s.window > 0 && age < s.window && record.fingerprint == fingerprint(alert.Description))
}

func (s *suppressor) record(alert alerts.Alert, now time.Time) {
	if !s.enabled() {
		return
	}
	s.mu.Lock()
	s.last[suppressionKey(alert)] = sendRecord{at: now, fingerprint: fingerprint(alert.Description)}
	s.mu.Unlock()
}

func suppressionKey(alert alerts.Alert) string {
	return alert.FacadeID + "|" + alert.SensorName + "|" + string(alert.Type)
}

func fingerprint(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}
