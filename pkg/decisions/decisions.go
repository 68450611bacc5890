// Package decisions records automated decisions and their human overrides.
//
// Each record carries an independent content hash binding org + system +
// input + outcome, using the same digest algorithm as the ledger chain.
// FORMAL decisions and every human override are ledger-worthy events.
package decisions

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyOverridden is returned when a second override targets a record
// that already carries one. An override happens at most once.
var ErrAlreadyOverridden = errors.New("decisions: record already overridden")

// Kind distinguishes sandbox experimentation from formally audited decisions.
type Kind string

const (
	KindSandbox Kind = "SANDBOX"
	KindFormal  Kind = "FORMAL"
)

// Record is a logged automated decision.
type Record struct {
	ID            string         `json:"id"`
	OrgID         string         `json:"org_id"`
	SystemName    string         `json:"system_name"`
	InputParams   map[string]any `json:"input_params"`
	Outcome       string         `json:"outcome"`
	Explanation   string         `json:"explanation,omitempty"`
	Kind          Kind           `json:"kind"`
	IntegrityHash string         `json:"integrity_hash"`

	IsHumanOverride bool   `json:"is_human_override"`
	OverrideReason  string `json:"override_reason,omitempty"`
	OverriddenBy    string `json:"overridden_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Registry is the persistence surface for decision records.
type Registry interface {
	InsertDecision(ctx context.Context, rec Record) error
	DecisionByID(ctx context.Context, id string) (Record, error)
}

// TxInserter is implemented by transactional units that can persist a
// decision record in the same atomic unit as a ledger append.
type TxInserter interface {
	InsertDecision(ctx context.Context, rec Record) error
}
