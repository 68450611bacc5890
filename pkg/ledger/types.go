// Package ledger — the append-only, hash-chained audit ledger.
//
// Every formal governance event (approval, promotion to formal audit, human
// override, regulatory escalation) is recorded as an immutable entry linked
// to its predecessor by hash. Entries are appended exactly once, after the
// lifecycle state machine has validated any accompanying status transition,
// and are never updated or deleted.
package ledger

import (
	"errors"
	"fmt"
	"time"
)

// EntryType is the closed set of governance events the ledger records.
type EntryType string

const (
	EntryFormalAudit EntryType = "FORMAL_AUDIT"
	EntryPromotion   EntryType = "PROMOTION"
	EntryApproval    EntryType = "APPROVAL"
	EntryEscalation  EntryType = "ESCALATION"
	EntryOverride    EntryType = "OVERRIDE"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryFormalAudit, EntryPromotion, EntryApproval, EntryEscalation, EntryOverride:
		return true
	}
	return false
}

// Entry is one immutable, hash-linked record of a governance event.
// For every tenant, entries ordered by Sequence form a chain where
// entry[n].PreviousHash == entry[n-1].CurrentHash and the first entry has an
// empty PreviousHash.
type Entry struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	Type         EntryType      `json:"type"`
	Sequence     int64          `json:"sequence"`
	CurrentHash  string         `json:"current_hash"`
	PreviousHash string         `json:"previous_hash,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Signature    string         `json:"signature,omitempty"`
	Payload      map[string]any `json:"payload"`
}

// ErrConflict is returned by Tx.AppendEntry when an entry already exists at
// (tenant_id, sequence). It is the concurrency guard: two writers racing on
// the same predecessor cannot both win.
var ErrConflict = errors.New("ledger: sequence already claimed")

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("ledger: not found")

// ErrStaleStatus is returned by Tx.SetCertificationStatus when the
// organization's status no longer matches the expected current value.
var ErrStaleStatus = errors.New("ledger: certification status changed concurrently")

// PersistenceError wraps a store failure that is not the expected uniqueness
// conflict. It is fatal to the request and is not retried by the core.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger: persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
