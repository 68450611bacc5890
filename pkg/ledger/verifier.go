package ledger

import (
	"context"
	"fmt"

	"github.com/aic-pulse/platform/core/pkg/hashchain"
)

// BreakReason classifies why a chain failed verification.
type BreakReason string

const (
	ReasonHashMismatch       BreakReason = "hash_mismatch"
	ReasonBrokenLink         BreakReason = "broken_link"
	ReasonMissingPredecessor BreakReason = "missing_predecessor"
)

// Verdict is the outcome of a chain verification. A broken chain is an
// expected, inspectable outcome — never an error.
type Verdict struct {
	Intact   bool        `json:"intact"`
	BrokenAt int64       `json:"broken_at,omitempty"`
	Reason   BreakReason `json:"reason,omitempty"`
	Entries  int         `json:"entries"`
}

func (v Verdict) String() string {
	if v.Intact {
		return fmt.Sprintf("intact (%d entries)", v.Entries)
	}
	return fmt.Sprintf("broken at sequence %d: %s", v.BrokenAt, v.Reason)
}

// Verifier proves that no entry of a tenant's chain was altered or
// reordered. It is read-only and never repairs.
type Verifier struct {
	store Store
}

func NewVerifier(store Store) *Verifier {
	return &Verifier{store: store}
}

// Verify walks the tenant's full chain in sequence order. For each entry it
// checks the link to its predecessor and independently recomputes the stored
// hash from the stored fields, catching tampering that modified a field
// without updating the hash. An empty chain is intact.
func (v *Verifier) Verify(ctx context.Context, tenantID string) (Verdict, error) {
	entries, err := v.store.AllEntries(ctx, tenantID)
	if err != nil {
		return Verdict{}, &PersistenceError{Op: "chain read", Err: err}
	}

	verdict := Verdict{Intact: true, Entries: len(entries)}

	for i, entry := range entries {
		if entry.Sequence != int64(i) {
			return broken(entry.Sequence, ReasonMissingPredecessor, len(entries)), nil
		}

		if i == 0 {
			if entry.PreviousHash != "" {
				return broken(entry.Sequence, ReasonMissingPredecessor, len(entries)), nil
			}
		} else if entry.PreviousHash != entries[i-1].CurrentHash {
			return broken(entry.Sequence, ReasonBrokenLink, len(entries)), nil
		}

		computed, err := hashchain.Compute(hashchain.ChainInput{
			PreviousHash: entry.PreviousHash,
			EntryType:    string(entry.Type),
			TenantID:     entry.TenantID,
			Sequence:     entry.Sequence,
			Timestamp:    entry.Timestamp,
			Payload:      entry.Payload,
		})
		if err != nil {
			return Verdict{}, err
		}
		if computed != entry.CurrentHash {
			return broken(entry.Sequence, ReasonHashMismatch, len(entries)), nil
		}
	}

	return verdict, nil
}

func broken(at int64, reason BreakReason, entries int) Verdict {
	return Verdict{Intact: false, BrokenAt: at, Reason: reason, Entries: entries}
}
