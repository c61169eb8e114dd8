package audit

import (
	"net"
	"net/http"
	"strings"

	"facade-monitor/internal/auth"
)

// FromRequest fills the caller fields of entry from the authenticated request.
func FromRequest(r *http.Request, entry Entry) Entry {
	if r == nil {
		return entry
	}
	ctx := r.Context()
	entry.Actor = auth.SubjectFromContext(ctx)
	entry.Role = string(auth.RoleFromContext(ctx))
	entry.IP = ClientIP(r)
	entry.UserAgent = r.UserAgent()
	return entry
}

// ClientIP prefers the first proxy hop, then X-Real-IP, then RemoteAddr.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
