package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderIngestTimestamp = "X-Ingest-Timestamp"
	HeaderIngestSignature = "X-Ingest-Signature"
)

const defaultIngestBodyLimit = 1 << 20

var (
	errIngestUnconfigured = errors.New("ingest auth not configured")
	errIngestMissing      = errors.New("missing ingest signature")
	errIngestTimestamp    = errors.New("invalid ingest timestamp")
	errIngestExpired      = errors.New("ingest signature expired")
	errIngestMismatch     = errors.New("invalid ingest signature")
)

// IngestAuthMiddleware checks the collector HMAC on push ingestion. The
// signed message is the unix timestamp header, a newline, then the raw body.
type IngestAuthMiddleware struct {
	Secret  []byte
	MaxSkew time.Duration
	MaxBody int64
	now     func() time.Time
}

func NewIngestAuthMiddleware(secret []byte, maxSkew time.Duration) *IngestAuthMiddleware {
	return &IngestAuthMiddleware{Secret: secret, MaxSkew: maxSkew, MaxBody: defaultIngestBodyLimit, now: time.Now}
}

// Wrap rejects unsigned or stale requests with 401 and hands the buffered
// body to next on success.
func (m *IngestAuthMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timestamp := strings.TrimSpace(r.Header.Get(HeaderIngestTimestamp))
		signature := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderIngestSignature)))
		if err := m.checkHeaders(timestamp, signature); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		limit := m.MaxBody
		if limit <= 0 {
			limit = defaultIngestBodyLimit
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, limit))
		_ = r.Body.Close()
		if err != nil {
			http.Error(w, "read body error", http.StatusBadRequest)
			return
		}
		if !hmac.Equal([]byte(signature), []byte(SignIngest(m.Secret, timestamp, body))) {
			http.Error(w, errIngestMismatch.Error(), http.StatusUnauthorized)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (m *IngestAuthMiddleware) checkHeaders(timestamp, signature string) error {
	if len(m.Secret) == 0 {
		return errIngestUnconfigured
	}
	if timestamp == "" || signature == "" {
		return errIngestMissing
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errIngestTimestamp
	}
	if m.MaxSkew <= 0 {
		return nil
	}
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	skew := now().Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > m.MaxSkew {
		return errIngestExpired
	}
	return nil
}

// SignIngest returns the lowercase hex HMAC-SHA256 a collector sends in
// HeaderIngestSignature.
func SignIngest(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp + "\n"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
