package escalation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aic-pulse/platform/core/pkg/escalation"
	"github.com/aic-pulse/platform/core/pkg/incidents"
	"github.com/aic-pulse/platform/core/pkg/ledger"
	"github.com/aic-pulse/platform/core/pkg/lifecycle"
	"github.com/aic-pulse/platform/core/pkg/notify"
	"github.com/aic-pulse/platform/core/pkg/store"
	"github.com/aic-pulse/platform/core/pkg/tenants"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, n notify.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
	return nil
}

var t0 = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*store.MemoryStore, *escalation.Scanner, *recordingDispatcher, *func() time.Time) {
	t.Helper()
	s := store.NewMemoryStore()
	require.NoError(t, s.InsertOrganization(context.Background(), tenants.Organization{
		ID:                  "org-1",
		Name:                "Org One",
		CertificationStatus: lifecycle.StatusCertified,
		CreatedAt:           t0,
	}, ""))

	now := t0
	clock := func() time.Time { return now }
	clockPtr := &clock

	dispatcher := &recordingDispatcher{}
	appender := ledger.NewAppender(s).WithClock(func() time.Time { return (*clockPtr)() })
	scanner := escalation.NewScanner(s, appender, dispatcher).
		WithClock(func() time.Time { return (*clockPtr)() })
	return s, scanner, dispatcher, clockPtr
}

func openIncident(t *testing.T, s *store.MemoryStore, id string, created time.Time) {
	t.Helper()
	require.NoError(t, s.InsertIncident(context.Background(), incidents.Incident{
		ID:           id,
		OrgID:        "org-1",
		CitizenEmail: "citizen@example.org",
		Description:  "automated denial appeal",
		Status:       incidents.StatusOpen,
		CreatedAt:    created,
		UpdatedAt:    created,
	}))
}

func TestSweepEscalatesOverdueIncident(t *testing.T) {
	s, scanner, dispatcher, clock := setup(t)
	openIncident(t, s, "inc-1", t0)

	*clock = func() time.Time { return t0.Add(73 * time.Hour) }
	report, err := scanner.Sweep(context.Background(), 72*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, []string{"inc-1"}, report.EscalatedIDs)
	assert.Empty(t, report.FailedIDs)

	inc, err := s.IncidentByID(context.Background(), "inc-1")
	require.NoError(t, err)
	assert.Equal(t, incidents.StatusEscalated, inc.Status)

	entries, err := s.AllEntries(context.Background(), "org-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.EntryEscalation, entries[0].Type)
	assert.Equal(t, "inc-1", entries[0].Payload["incident_id"])
	assert.Equal(t, "citizen@example.org", entries[0].Payload["citizen_email"])
	assert.Equal(t, escalation.SweepSignature, entries[0].Signature)

	require.Len(t, dispatcher.sent, 1)
	assert.Equal(t, notify.KindAlert, dispatcher.sent[0].Kind)
}

func TestSweepIdempotent(t *testing.T) {
	s, scanner, _, clock := setup(t)
	openIncident(t, s, "inc-1", t0)

	*clock = func() time.Time { return t0.Add(73 * time.Hour) }
	_, err := scanner.Sweep(context.Background(), 72*time.Hour)
	require.NoError(t, err)

	// A second run an hour later finds nothing: the incident is no longer
	// OPEN, so exactly one ESCALATION entry exists.
	*clock = func() time.Time { return t0.Add(74 * time.Hour) }
	report, err := scanner.Sweep(context.Background(), 72*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, report.EscalatedIDs)
	assert.Empty(t, report.FailedIDs)

	entries, err := s.AllEntries(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSweepIgnoresFreshIncidents(t *testing.T) {
	s, scanner, _, clock := setup(t)
	openIncident(t, s, "inc-old", t0)
	openIncident(t, s, "inc-fresh", t0.Add(48*time.Hour))

	*clock = func() time.Time { return t0.Add(73 * time.Hour) }
	report, err := scanner.Sweep(context.Background(), 72*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, []string{"inc-old"}, report.EscalatedIDs)

	fresh, err := s.IncidentByID(context.Background(), "inc-fresh")
	require.NoError(t, err)
	assert.Equal(t, incidents.StatusOpen, fresh.Status)
}

// faultySource wraps the store and injects a poisoned incident that will
// fail its ledger append (empty org id), surrounded by healthy ones.
type faultySource struct {
	inner escalation.IncidentSource
}

func (f *faultySource) OverdueOpenIncidents(ctx context.Context, cutoff time.Time) ([]incidents.Incident, error) {
	out, err := f.inner.OverdueOpenIncidents(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].ID == "inc-poison" {
			out[i].OrgID = ""
		}
	}
	return out, nil
}

func TestSweepContinuesPastFailures(t *testing.T) {
	s, _, _, _ := setup(t)
	openIncident(t, s, "inc-a", t0)
	openIncident(t, s, "inc-poison", t0.Add(time.Minute))
	openIncident(t, s, "inc-b", t0.Add(2*time.Minute))

	dispatcher := &recordingDispatcher{}
	now := t0.Add(80 * time.Hour)
	appender := ledger.NewAppender(s).WithClock(func() time.Time { return now })
	scanner := escalation.NewScanner(&faultySource{inner: s}, appender, dispatcher).
		WithClock(func() time.Time { return now })

	report, err := scanner.Sweep(context.Background(), 72*time.Hour)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"inc-a", "inc-b"}, report.EscalatedIDs)
	assert.Equal(t, []string{"inc-poison"}, report.FailedIDs)

	// The failed incident stays OPEN for the next run.
	poisoned, err := s.IncidentByID(context.Background(), "inc-poison")
	require.NoError(t, err)
	assert.Equal(t, incidents.StatusOpen, poisoned.Status)
}

// eagerSource reports every open incident no matter how young, as a source
// with a loose cutoff query would.
type eagerSource struct {
	inner escalation.IncidentSource
}

func (s *eagerSource) OverdueOpenIncidents(ctx context.Context, cutoff time.Time) ([]incidents.Incident, error) {
	return s.inner.OverdueOpenIncidents(ctx, cutoff.Add(1000*time.Hour))
}

func TestSweepRechecksSourceResults(t *testing.T) {
	s, _, _, _ := setup(t)
	openIncident(t, s, "inc-old", t0)
	openIncident(t, s, "inc-fresh", t0.Add(72*time.Hour))

	now := t0.Add(73 * time.Hour)
	dispatcher := &recordingDispatcher{}
	appender := ledger.NewAppender(s).WithClock(func() time.Time { return now })
	scanner := escalation.NewScanner(&eagerSource{inner: s}, appender, dispatcher).
		WithClock(func() time.Time { return now })

	report, err := scanner.Sweep(context.Background(), 72*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, []string{"inc-old"}, report.EscalatedIDs)
	assert.Empty(t, report.FailedIDs, "a young incident handed back by the source is skipped, not failed")

	fresh, err := s.IncidentByID(context.Background(), "inc-fresh")
	require.NoError(t, err)
	assert.Equal(t, incidents.StatusOpen, fresh.Status)
}

func TestSweepDefaultThreshold(t *testing.T) {
	s, scanner, _, clock := setup(t)
	openIncident(t, s, "inc-1", t0)

	*clock = func() time.Time { return t0.Add(71 * time.Hour) }
	report, err := scanner.Sweep(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, report.EscalatedIDs)
}
