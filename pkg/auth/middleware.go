package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aic-pulse/platform/core/pkg/tenants"
)

// Claims are the JWT claims expected by the certification API.
type Claims struct {
	jwt.RegisteredClaims
	OrgID string   `json:"org_id"`
	Roles []string `json:"roles"`
}

// JWTValidator validates bearer tokens signed with a shared HMAC secret.
type JWTValidator struct {
	secret []byte
}

func NewJWTValidator(secret []byte) *JWTValidator {
	if len(secret) == 0 {
		return nil
	}
	return &JWTValidator{secret: secret}
}

// Validate parses and validates a token string.
func (v *JWTValidator) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// KeyResolver looks up the stored API key hash for an organization.
type KeyResolver interface {
	OrganizationKeyHash(ctx context.Context, orgID string) (string, error)
}

var publicPaths = []string{
	"/healthz",
	"/v1/incidents",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// Unauthorized is the rejection hook, injected to keep the error shape
// consistent with the rest of the API surface.
type Unauthorized func(w http.ResponseWriter, r *http.Request, detail string)

// NewMiddleware authenticates requests. Bearer JWTs carry reviewer or admin
// roles; X-API-Key paired with X-Org-ID authenticates an organization's own
// systems. Public paths pass through. With no validator configured, every
// non-public request is rejected.
func NewMiddleware(validator *JWTValidator, keys KeyResolver, reject Unauthorized) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" && keys != nil {
				orgID := r.Header.Get("X-Org-ID")
				if orgID == "" {
					reject(w, r, "X-Org-ID header is required with X-API-Key")
					return
				}
				hash, err := keys.OrganizationKeyHash(r.Context(), orgID)
				if err != nil || !tenants.VerifyAPIKey(hash, apiKey) {
					reject(w, r, "invalid API key")
					return
				}
				principal := &BasePrincipal{ID: "system:" + orgID, OrgID: orgID, Roles: []string{RoleSystem}}
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				reject(w, r, "missing Authorization header")
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				reject(w, r, "invalid Authorization header format (expected 'Bearer <token>')")
				return
			}

			if validator == nil {
				reject(w, r, "authentication not configured")
				return
			}

			claims, err := validator.Validate(parts[1])
			if err != nil {
				reject(w, r, "invalid or expired token")
				return
			}
			if claims.Subject == "" {
				reject(w, r, "token subject is required")
				return
			}

			principal := &BasePrincipal{
				ID:    claims.Subject,
				OrgID: claims.OrgID,
				Roles: claims.Roles,
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}
