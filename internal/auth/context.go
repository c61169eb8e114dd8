package auth

import "context"

type identityKey struct{}

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	Role    Role
	Subject string
	// Facades limits visibility; empty means every facade.
	Facades []string
}

// WithIdentity attaches the caller identity to ctx.
func WithIdentity(ctx context.Context, role Role, subject string, facades []string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{Role: role, Subject: subject, Facades: facades})
}

// IdentityFromContext returns the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func RoleFromContext(ctx context.Context) Role {
	id, _ := IdentityFromContext(ctx)
	return id.Role
}

func SubjectFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Subject
}

func FacadesFromContext(ctx context.Context) []string {
	id, _ := IdentityFromContext(ctx)
	return id.Facades
}
