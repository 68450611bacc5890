package decisions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aic-pulse/platform/core/pkg/hashchain"
	"github.com/aic-pulse/platform/core/pkg/ledger"
)

// Recorder logs automated decisions. FORMAL decisions commit together with a
// FORMAL_AUDIT ledger entry; overrides commit together with an OVERRIDE entry.
type Recorder struct {
	appender *ledger.Appender
	registry Registry
	clock    func() time.Time
	logger   *slog.Logger
}

func NewRecorder(appender *ledger.Appender, registry Registry) *Recorder {
	return &Recorder{
		appender: appender,
		registry: registry,
		clock:    time.Now,
		logger:   slog.Default().With("component", "decisions.recorder"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (r *Recorder) WithClock(clock func() time.Time) *Recorder {
	r.clock = clock
	return r
}

// LogRequest describes one automated decision to record.
type LogRequest struct {
	OrgID       string
	SystemName  string
	InputParams map[string]any
	Outcome     string
	Explanation string
	Kind        Kind
	Signature   string
}

// Log persists a decision record. SANDBOX decisions are stored directly;
// FORMAL decisions are stored in the same atomic unit as their ledger entry.
func (r *Recorder) Log(ctx context.Context, req LogRequest) (Record, error) {
	if req.OrgID == "" || req.SystemName == "" || req.Outcome == "" {
		return Record{}, fmt.Errorf("decisions: org id, system name and outcome are required")
	}
	kind := req.Kind
	if kind == "" {
		kind = KindSandbox
	}

	integrityHash, err := hashchain.HashContent(struct {
		OrgID       string         `json:"org_id"`
		SystemName  string         `json:"system_name"`
		InputParams map[string]any `json:"input_params"`
		Outcome     string         `json:"outcome"`
	}{req.OrgID, req.SystemName, req.InputParams, req.Outcome})
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:            uuid.New().String(),
		OrgID:         req.OrgID,
		SystemName:    req.SystemName,
		InputParams:   req.InputParams,
		Outcome:       req.Outcome,
		Explanation:   req.Explanation,
		Kind:          kind,
		IntegrityHash: integrityHash,
		CreatedAt:     r.clock().UTC(),
	}

	if kind != KindFormal {
		if err := r.registry.InsertDecision(ctx, rec); err != nil {
			return Record{}, fmt.Errorf("decisions: persist record: %w", err)
		}
		return rec, nil
	}

	_, err = r.appender.RecordEvent(ctx, ledger.EventRequest{
		TenantID:  req.OrgID,
		Type:      ledger.EntryFormalAudit,
		Signature: req.Signature,
		Payload: map[string]any{
			"decision_id":    rec.ID,
			"system_name":    rec.SystemName,
			"outcome":        rec.Outcome,
			"integrity_hash": rec.IntegrityHash,
		},
		Companion: func(ctx context.Context, tx ledger.Tx) error {
			ins, ok := tx.(TxInserter)
			if !ok {
				return fmt.Errorf("decisions: store cannot insert records transactionally")
			}
			return ins.InsertDecision(ctx, rec)
		},
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// OverrideRequest is a human-in-the-loop reversal of an automated decision.
type OverrideRequest struct {
	DecisionID string
	ActorID    string
	Reason     string
	Signature  string
}

// Override marks a decision record as human-overridden and records the
// override as an OVERRIDE ledger entry in the same atomic unit. The override
// carries its own content hash binding actor, target and reason.
func (r *Recorder) Override(ctx context.Context, req OverrideRequest) (ledger.Entry, error) {
	if req.DecisionID == "" || req.ActorID == "" || req.Reason == "" {
		return ledger.Entry{}, fmt.Errorf("decisions: decision id, actor and reason are required")
	}

	rec, err := r.registry.DecisionByID(ctx, req.DecisionID)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("decisions: lookup %s: %w", req.DecisionID, err)
	}
	if rec.IsHumanOverride {
		return ledger.Entry{}, fmt.Errorf("%w: %s", ErrAlreadyOverridden, req.DecisionID)
	}

	overrideHash, err := hashchain.HashContent(struct {
		ActorID  string `json:"actor_id"`
		TargetID string `json:"target_id"`
		Reason   string `json:"reason"`
	}{req.ActorID, req.DecisionID, req.Reason})
	if err != nil {
		return ledger.Entry{}, err
	}

	entry, err := r.appender.RecordEvent(ctx, ledger.EventRequest{
		TenantID:  rec.OrgID,
		Type:      ledger.EntryOverride,
		Signature: req.Signature,
		Payload: map[string]any{
			"decision_id":   rec.ID,
			"overridden_by": req.ActorID,
			"reason":        req.Reason,
			"override_hash": overrideHash,
		},
		Companion: func(ctx context.Context, tx ledger.Tx) error {
			return tx.MarkDecisionOverridden(ctx, rec.ID, req.ActorID, req.Reason)
		},
	})
	if err != nil {
		return ledger.Entry{}, err
	}

	r.logger.InfoContext(ctx, "decision overridden",
		"decision_id", rec.ID, "actor_id", req.ActorID, "sequence", entry.Sequence)
	return entry, nil
}
