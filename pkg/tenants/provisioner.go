package tenants

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/aic-pulse/platform/core/pkg/lifecycle"
)

// Registry is the persistence surface the provisioner needs.
type Registry interface {
	InsertOrganization(ctx context.Context, org Organization, apiKeyHash string) error
	OrganizationByID(ctx context.Context, id string) (Organization, error)
}

// Provisioner registers new organizations. Every organization starts in
// DRAFT with an API key issued exactly once; only the bcrypt hash is stored.
type Provisioner struct {
	registry Registry
	clock    func() time.Time
}

func NewProvisioner(registry Registry) *Provisioner {
	return &Provisioner{registry: registry, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (p *Provisioner) WithClock(clock func() time.Time) *Provisioner {
	p.clock = clock
	return p
}

// Create registers an organization and returns it along with the raw API key.
// The raw key is never persisted and cannot be recovered later.
func (p *Provisioner) Create(ctx context.Context, req CreateRequest) (Organization, string, error) {
	if req.Name == "" {
		return Organization{}, "", fmt.Errorf("organization name is required")
	}

	tier := req.Tier
	if tier == "" {
		tier = Tier3
	}

	rawKey, err := generateAPIKey()
	if err != nil {
		return Organization{}, "", err
	}
	keyHash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return Organization{}, "", fmt.Errorf("hash api key: %w", err)
	}

	org := Organization{
		ID:                  uuid.New().String(),
		Name:                req.Name,
		Tier:                tier,
		CertificationStatus: lifecycle.Initial,
		ContactEmail:        req.ContactEmail,
		CreatedAt:           p.clock().UTC(),
	}

	if err := p.registry.InsertOrganization(ctx, org, string(keyHash)); err != nil {
		return Organization{}, "", fmt.Errorf("persist organization: %w", err)
	}
	return org, rawKey, nil
}

// VerifyAPIKey compares a presented raw key against a stored bcrypt hash.
func VerifyAPIKey(storedHash, rawKey string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(rawKey)) == nil
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return "aic_" + hex.EncodeToString(buf), nil
}
