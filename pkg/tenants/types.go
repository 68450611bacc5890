// Package tenants provides organization (tenant) records and provisioning.
// Each organization owns an isolated certification lifecycle and ledger chain.
package tenants

import (
	"time"

	"github.com/aic-pulse/platform/core/pkg/lifecycle"
)

// Tier classifies an organization's regulatory exposure.
type Tier string

const (
	Tier1 Tier = "TIER_1"
	Tier2 Tier = "TIER_2"
	Tier3 Tier = "TIER_3"
)

// Organization is a certified (or certifying) tenant.
type Organization struct {
	ID                     string           `json:"id"`
	Name                   string           `json:"name"`
	Tier                   Tier             `json:"tier"`
	CertificationStatus    lifecycle.Status `json:"certification_status"`
	IntegrityScore         int              `json:"integrity_score"` // externally computed, display only
	ContactEmail           string           `json:"contact_email,omitempty"`
	PublicDirectoryVisible bool             `json:"public_directory_visible"`
	CreatedAt              time.Time        `json:"created_at"`
}

// CreateRequest contains the data needed to register a new organization.
type CreateRequest struct {
	Name         string `json:"name"`
	Tier         Tier   `json:"tier,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
}
