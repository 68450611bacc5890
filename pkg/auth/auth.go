// Package auth authenticates API callers. Two credential kinds exist:
// reviewer/admin JWTs issued by the identity provider, and per-organization
// API keys issued at provisioning time.
package auth

import (
	"context"
	"errors"
)

// Role names used in claims and permission checks.
const (
	RoleAdmin    = "admin"
	RoleReviewer = "reviewer"
	RoleSystem   = "system"
)

// Principal is any authenticated caller.
type Principal interface {
	GetID() string
	GetOrgID() string
	GetRoles() []string
	HasRole(role string) bool
}

// BasePrincipal is the claims-backed Principal implementation.
type BasePrincipal struct {
	ID    string
	OrgID string
	Roles []string
}

func (b *BasePrincipal) GetID() string      { return b.ID }
func (b *BasePrincipal) GetOrgID() string   { return b.OrgID }
func (b *BasePrincipal) GetRoles() []string { return b.Roles }

func (b *BasePrincipal) HasRole(role string) bool {
	for _, r := range b.Roles {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the Principal from the context.
func GetPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok {
		return nil, errors.New("no principal in context")
	}
	return p, nil
}

// GetOrgID returns the caller's organization binding.
func GetOrgID(ctx context.Context) (string, error) {
	p, err := GetPrincipal(ctx)
	if err != nil {
		return "", err
	}
	return p.GetOrgID(), nil
}
