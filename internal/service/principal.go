package service

import (
	"context"

	"github.com/GoPolymarket/venuegate/internal/model"
)

// Principal is the authenticated caller of one request.
type Principal struct {
	IdentityID  uint64
	APIKey      string
	Permissions []model.Permission
	Status      model.IdentityStatus
}

func (p *Principal) Can(required model.Permission) bool {
	return p != nil && model.HasPermission(p.Permissions, required)
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns nil for unauthenticated requests.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
