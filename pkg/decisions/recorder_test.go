package decisions_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aic-pulse/platform/core/pkg/decisions"
	"github.com/aic-pulse/platform/core/pkg/ledger"
	"github.com/aic-pulse/platform/core/pkg/lifecycle"
	"github.com/aic-pulse/platform/core/pkg/store"
	"github.com/aic-pulse/platform/core/pkg/tenants"
)

func setup(t *testing.T) (*store.MemoryStore, *decisions.Recorder) {
	t.Helper()
	s := store.NewMemoryStore()
	require.NoError(t, s.InsertOrganization(context.Background(), tenants.Organization{
		ID:                  "org-1",
		Name:                "Org One",
		CertificationStatus: lifecycle.StatusCertified,
		CreatedAt:           time.Now().UTC(),
	}, ""))
	recorder := decisions.NewRecorder(ledger.NewAppender(s), s)
	return s, recorder
}

func TestLogSandboxDecision(t *testing.T) {
	s, recorder := setup(t)

	rec, err := recorder.Log(context.Background(), decisions.LogRequest{
		OrgID:       "org-1",
		SystemName:  "credit-model",
		InputParams: map[string]any{"income": 42000},
		Outcome:     "DENY",
	})
	require.NoError(t, err)

	assert.Equal(t, decisions.KindSandbox, rec.Kind)
	assert.Len(t, rec.IntegrityHash, 64)

	// Sandbox decisions do not touch the ledger.
	entries, err := s.AllEntries(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLogFormalDecisionAppendsLedgerEntry(t *testing.T) {
	s, recorder := setup(t)

	rec, err := recorder.Log(context.Background(), decisions.LogRequest{
		OrgID:      "org-1",
		SystemName: "credit-model",
		Outcome:    "DENY",
		Kind:       decisions.KindFormal,
		Signature:  "SIG_ENGINE",
	})
	require.NoError(t, err)

	stored, err := s.DecisionByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.IntegrityHash, stored.IntegrityHash)

	entries, err := s.AllEntries(context.Background(), "org-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EntryFormalAudit, entries[0].Type)
	assert.Equal(t, rec.ID, entries[0].Payload["decision_id"])
	assert.Equal(t, rec.IntegrityHash, entries[0].Payload["integrity_hash"])
}

func TestContentHashBindsOutcome(t *testing.T) {
	_, recorder := setup(t)
	ctx := context.Background()

	a, err := recorder.Log(ctx, decisions.LogRequest{OrgID: "org-1", SystemName: "m", Outcome: "DENY"})
	require.NoError(t, err)
	b, err := recorder.Log(ctx, decisions.LogRequest{OrgID: "org-1", SystemName: "m", Outcome: "ALLOW"})
	require.NoError(t, err)

	assert.NotEqual(t, a.IntegrityHash, b.IntegrityHash)
}

func TestOverrideMarksRecordAndAppendsEntry(t *testing.T) {
	s, recorder := setup(t)
	ctx := context.Background()

	rec, err := recorder.Log(ctx, decisions.LogRequest{
		OrgID: "org-1", SystemName: "credit-model", Outcome: "DENY", Kind: decisions.KindFormal,
	})
	require.NoError(t, err)

	entry, err := recorder.Override(ctx, decisions.OverrideRequest{
		DecisionID: rec.ID,
		ActorID:    "user-7",
		Reason:     "income evidence was misclassified",
		Signature:  "SIG_OVERRIDE_BY_user-7",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.EntryOverride, entry.Type)
	assert.Equal(t, int64(1), entry.Sequence)

	stored, err := s.DecisionByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsHumanOverride)
	assert.Equal(t, "user-7", stored.OverriddenBy)
	assert.Equal(t, "income evidence was misclassified", stored.OverrideReason)
}

func TestOverrideRejectsDoubleOverride(t *testing.T) {
	s, recorder := setup(t)
	ctx := context.Background()

	rec, err := recorder.Log(ctx, decisions.LogRequest{
		OrgID: "org-1", SystemName: "m", Outcome: "DENY", Kind: decisions.KindFormal,
	})
	require.NoError(t, err)

	_, err = recorder.Override(ctx, decisions.OverrideRequest{DecisionID: rec.ID, ActorID: "u1", Reason: "r"})
	require.NoError(t, err)

	_, err = recorder.Override(ctx, decisions.OverrideRequest{DecisionID: rec.ID, ActorID: "u2", Reason: "r2"})
	require.ErrorIs(t, err, decisions.ErrAlreadyOverridden)

	entries, err := s.AllEntries(ctx, "org-1")
	require.NoError(t, err)
	assert.Len(t, entries, 2, "formal log + one override only")
}

func TestOverrideUnknownDecision(t *testing.T) {
	_, recorder := setup(t)
	_, err := recorder.Override(context.Background(), decisions.OverrideRequest{
		DecisionID: "missing", ActorID: "u", Reason: "r",
	})
	require.Error(t, err)
}

func TestLogValidation(t *testing.T) {
	_, recorder := setup(t)
	_, err := recorder.Log(context.Background(), decisions.LogRequest{SystemName: "m", Outcome: "DENY"})
	assert.Error(t, err)
	_, err = recorder.Log(context.Background(), decisions.LogRequest{OrgID: "o", Outcome: "DENY"})
	assert.Error(t, err)
	_, err = recorder.Log(context.Background(), decisions.LogRequest{OrgID: "o", SystemName: "m"})
	assert.Error(t, err)
}
