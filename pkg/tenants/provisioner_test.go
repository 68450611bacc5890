package tenants_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aic-pulse/platform/core/pkg/lifecycle"
	"github.com/aic-pulse/platform/core/pkg/store"
	"github.com/aic-pulse/platform/core/pkg/tenants"
)

func TestProvisionerCreate(t *testing.T) {
	mem := store.NewMemoryStore()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	prov := tenants.NewProvisioner(mem).WithClock(func() time.Time { return now })

	org, rawKey, err := prov.Create(context.Background(), tenants.CreateRequest{
		Name:         "Vertex Lending",
		Tier:         tenants.Tier1,
		ContactEmail: "ops@vertex.example",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, org.ID)
	assert.Equal(t, tenants.Tier1, org.Tier)
	assert.Equal(t, lifecycle.StatusDraft, org.CertificationStatus)
	assert.Equal(t, now, org.CreatedAt)
	assert.True(t, strings.HasPrefix(rawKey, "aic_"), "api key should carry the aic_ prefix")

	stored, err := mem.OrganizationByID(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, org, stored)
}

func TestProvisionerDefaultsToTier3(t *testing.T) {
	mem := store.NewMemoryStore()
	prov := tenants.NewProvisioner(mem)

	org, _, err := prov.Create(context.Background(), tenants.CreateRequest{Name: "Small Shop"})
	require.NoError(t, err)
	assert.Equal(t, tenants.Tier3, org.Tier)
}

func TestProvisionerRequiresName(t *testing.T) {
	prov := tenants.NewProvisioner(store.NewMemoryStore())

	_, _, err := prov.Create(context.Background(), tenants.CreateRequest{})
	assert.Error(t, err)
}

func TestAPIKeyNeverStoredRaw(t *testing.T) {
	mem := store.NewMemoryStore()
	prov := tenants.NewProvisioner(mem)

	org, rawKey, err := prov.Create(context.Background(), tenants.CreateRequest{Name: "Acme"})
	require.NoError(t, err)

	hash, err := mem.OrganizationKeyHash(context.Background(), org.ID)
	require.NoError(t, err)
	assert.NotEqual(t, rawKey, hash)
	assert.True(t, tenants.VerifyAPIKey(hash, rawKey))
	assert.False(t, tenants.VerifyAPIKey(hash, "aic_wrong"))
}
