package auth

import (
	"context"
	"errors"
)

// ErrFacadeForbidden indicates the caller is not scoped to the facade.
var ErrFacadeForbidden = errors.New("auth: facade not in scope")

// EnsureFacadeAccess verifies the identity in ctx may read facadeID. Admins
// and identities without a facade scope may read every facade.
func EnsureFacadeAccess(ctx context.Context, facadeID string) error {
	if RoleFromContext(ctx) == RoleAdmin {
		return nil
	}
	facades := FacadesFromContext(ctx)
	if len(facades) == 0 || facadeID == "" {
		return nil
	}
	for _, allowed := range facades {
		if allowed == facadeID {
			return nil
		}
	}
	return ErrFacadeForbidden
}

// FacadeVisible reports whether facadeID passes the scope in ctx.
func FacadeVisible(ctx context.Context, facadeID string) bool {
	return EnsureFacadeAccess(ctx, facadeID) == nil
}

// ScopedFacades returns the facades the caller is limited to, or nil when
// the caller may see every facade.
func ScopedFacades(ctx context.Context) []string {
	if RoleFromContext(ctx) == RoleAdmin {
		return nil
	}
	return FacadesFromContext(ctx)
}
