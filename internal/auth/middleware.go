package auth

import (
	"errors"
	"net/http"
	"strings"
)

var errNoToken = errors.New("auth: no bearer token")

// Middleware authenticates API requests with HS256 tokens and checks the
// caller's role against Policy.
type Middleware struct {
	Secret []byte
	Policy Policy
}

func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{Secret: secret, Policy: policy}
}

// Wrap guards next. Requests the policy does not cover pass through untouched.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, guarded := m.Policy.RequiredRole(r)
		if !guarded {
			next.ServeHTTP(w, r)
			return
		}
		identity, err := m.authenticate(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !RoleAtLeast(identity.Role, required) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ctx := WithIdentity(r.Context(), identity.Role, identity.Subject, identity.Facades)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) authenticate(r *http.Request) (Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return Identity{}, errNoToken
	}
	claims, err := ParseJWT(token, m.Secret)
	if err != nil {
		return Identity{}, err
	}
	role, _ := NormalizeRole(claims.Role)
	return Identity{Role: role, Subject: claims.Subject, Facades: claims.Facades}, nil
}

// bearerToken prefers the Authorization header. EventSource clients cannot
// set headers, so access_token in the query is accepted when it is absent.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return r.URL.Query().Get("access_token")
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
