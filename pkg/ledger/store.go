package ledger

import (
	"context"

	"github.com/aic-pulse/platform/core/pkg/incidents"
	"github.com/aic-pulse/platform/core/pkg/lifecycle"
)

// Store is the relational persistence collaborator for the ledger core.
// Implementations must enforce a uniqueness constraint on
// (tenant_id, sequence) and surface violations of it as ErrConflict.
//
// There is deliberately no update or delete operation for entries.
type Store interface {
	// Latest returns the entry with the highest sequence for the tenant.
	// ok is false when the tenant has no chain yet.
	Latest(ctx context.Context, tenantID string) (e Entry, ok bool, err error)

	// AllEntries returns the tenant's full chain ordered by sequence
	// ascending. The result is finite and restartable.
	AllEntries(ctx context.Context, tenantID string) ([]Entry, error)

	// CertificationStatus returns the organization's current status.
	CertificationStatus(ctx context.Context, tenantID string) (lifecycle.Status, error)

	// RunInTx executes fn inside one atomic unit of work. All mutations in
	// fn commit together or not at all.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional mutation surface available inside RunInTx.
// It pairs the ledger append with the state mutations that must commit in
// the same unit.
type Tx interface {
	// AppendEntry persists e. Fails with ErrConflict if an entry already
	// exists at (e.TenantID, e.Sequence).
	AppendEntry(ctx context.Context, e Entry) error

	// SetCertificationStatus moves the organization from `from` to `to`.
	// Fails with ErrStaleStatus if the stored status is no longer `from`.
	SetCertificationStatus(ctx context.Context, tenantID string, from, to lifecycle.Status) error

	// SetIncidentStatus moves an incident from `from` to `to`. Fails with
	// ErrStaleStatus if the stored status is no longer `from`.
	SetIncidentStatus(ctx context.Context, incidentID string, from, to incidents.Status) error

	// MarkDecisionOverridden flags a decision record as human-overridden.
	MarkDecisionOverridden(ctx context.Context, decisionID, actorID, reason string) error
}
