// Package store provides the relational persistence collaborator: an
// in-memory implementation for tests and lite mode, and a database/sql
// implementation supporting Postgres and SQLite via standard drivers.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aic-pulse/platform/core/pkg/decisions"
	"github.com/aic-pulse/platform/core/pkg/incidents"
	"github.com/aic-pulse/platform/core/pkg/ledger"
	"github.com/aic-pulse/platform/core/pkg/lifecycle"
	"github.com/aic-pulse/platform/core/pkg/scoring"
	"github.com/aic-pulse/platform/core/pkg/tenants"
)

// MemoryStore is a mutex-guarded in-memory Store. Transactions are applied
// copy-on-write: a unit of work stages against cloned state and swaps it in
// only when every mutation succeeded, so partial writes are never visible.
type MemoryStore struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	entries   map[string][]ledger.Entry // tenant → chain ordered by sequence
	orgs      map[string]tenants.Organization
	orgKeys   map[string]string // org id → api key hash
	incidents map[string]incidents.Incident
	decisions map[string]decisions.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memState{
		entries:   make(map[string][]ledger.Entry),
		orgs:      make(map[string]tenants.Organization),
		orgKeys:   make(map[string]string),
		incidents: make(map[string]incidents.Incident),
		decisions: make(map[string]decisions.Record),
	}}
}

func (s *memState) clone() memState {
	c := memState{
		entries:   make(map[string][]ledger.Entry, len(s.entries)),
		orgs:      make(map[string]tenants.Organization, len(s.orgs)),
		orgKeys:   make(map[string]string, len(s.orgKeys)),
		incidents: make(map[string]incidents.Incident, len(s.incidents)),
		decisions: make(map[string]decisions.Record, len(s.decisions)),
	}
	for k, v := range s.entries {
		chain := make([]ledger.Entry, len(v))
		copy(chain, v)
		c.entries[k] = chain
	}
	for k, v := range s.orgs {
		c.orgs[k] = v
	}
	for k, v := range s.orgKeys {
		c.orgKeys[k] = v
	}
	for k, v := range s.incidents {
		c.incidents[k] = v
	}
	for k, v := range s.decisions {
		c.decisions[k] = v
	}
	return c
}

// Latest implements ledger.Store.
func (s *MemoryStore) Latest(ctx context.Context, tenantID string) (ledger.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.state.entries[tenantID]
	if len(chain) == 0 {
		return ledger.Entry{}, false, nil
	}
	return chain[len(chain)-1], true, nil
}

// AllEntries implements ledger.Store.
func (s *MemoryStore) AllEntries(ctx context.Context, tenantID string) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.state.entries[tenantID]
	out := make([]ledger.Entry, len(chain))
	copy(out, chain)
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// CertificationStatus implements ledger.Store.
func (s *MemoryStore) CertificationStatus(ctx context.Context, tenantID string) (lifecycle.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.state.orgs[tenantID]
	if !ok {
		return "", ledger.ErrNotFound
	}
	return org.CertificationStatus, nil
}

// RunInTx implements ledger.Store.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	tx := &memTx{state: &staged}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = staged
	return nil
}

type memTx struct {
	state *memState
}

func (t *memTx) AppendEntry(ctx context.Context, e ledger.Entry) error {
	chain := t.state.entries[e.TenantID]
	for _, existing := range chain {
		if existing.Sequence == e.Sequence {
			return ledger.ErrConflict
		}
	}
	t.state.entries[e.TenantID] = append(chain, e)
	return nil
}

func (t *memTx) SetCertificationStatus(ctx context.Context, tenantID string, from, to lifecycle.Status) error {
	org, ok := t.state.orgs[tenantID]
	if !ok {
		return ledger.ErrNotFound
	}
	if org.CertificationStatus != from {
		return ledger.ErrStaleStatus
	}
	org.CertificationStatus = to
	t.state.orgs[tenantID] = org
	return nil
}

func (t *memTx) SetIncidentStatus(ctx context.Context, incidentID string, from, to incidents.Status) error {
	if !incidents.CanAdvance(from, to) {
		return fmt.Errorf("store: illegal incident status advance %s to %s", from, to)
	}
	inc, ok := t.state.incidents[incidentID]
	if !ok {
		return ledger.ErrNotFound
	}
	if inc.Status != from {
		return ledger.ErrStaleStatus
	}
	inc.Status = to
	inc.UpdatedAt = time.Now().UTC()
	t.state.incidents[incidentID] = inc
	return nil
}

// InsertDecision implements decisions.TxInserter so a decision record can
// commit in the same unit as its ledger entry.
func (t *memTx) InsertDecision(ctx context.Context, rec decisions.Record) error {
	t.state.decisions[rec.ID] = rec
	return nil
}

func (t *memTx) MarkDecisionOverridden(ctx context.Context, decisionID, actorID, reason string) error {
	rec, ok := t.state.decisions[decisionID]
	if !ok {
		return ledger.ErrNotFound
	}
	rec.IsHumanOverride = true
	rec.OverriddenBy = actorID
	rec.OverrideReason = reason
	t.state.decisions[decisionID] = rec
	return nil
}

// InsertOrganization implements tenants.Registry.
func (s *MemoryStore) InsertOrganization(ctx context.Context, org tenants.Organization, apiKeyHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.orgs[org.ID] = org
	s.state.orgKeys[org.ID] = apiKeyHash
	return nil
}

// OrganizationByID implements tenants.Registry.
func (s *MemoryStore) OrganizationByID(ctx context.Context, id string) (tenants.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.state.orgs[id]
	if !ok {
		return tenants.Organization{}, ledger.ErrNotFound
	}
	return org, nil
}

// OrganizationKeyHash returns the stored API key hash for an organization.
func (s *MemoryStore) OrganizationKeyHash(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.state.orgKeys[id]
	if !ok {
		return "", ledger.ErrNotFound
	}
	return hash, nil
}

// InsertIncident persists a new incident.
func (s *MemoryStore) InsertIncident(ctx context.Context, inc incidents.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.incidents[inc.ID] = inc
	return nil
}

// IncidentByID fetches one incident.
func (s *MemoryStore) IncidentByID(ctx context.Context, id string) (incidents.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.state.incidents[id]
	if !ok {
		return incidents.Incident{}, ledger.ErrNotFound
	}
	return inc, nil
}

// OverdueOpenIncidents implements escalation.IncidentSource: OPEN incidents
// created before the cutoff, oldest first.
func (s *MemoryStore) OverdueOpenIncidents(ctx context.Context, cutoff time.Time) ([]incidents.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []incidents.Incident
	for _, inc := range s.state.incidents {
		if inc.Status == incidents.StatusOpen && inc.CreatedAt.Before(cutoff) {
			out = append(out, inc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// InsertDecision implements decisions.Registry.
func (s *MemoryStore) InsertDecision(ctx context.Context, rec decisions.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.decisions[rec.ID] = rec
	return nil
}

// DecisionByID implements decisions.Registry.
func (s *MemoryStore) DecisionByID(ctx context.Context, id string) (decisions.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.state.decisions[id]
	if !ok {
		return decisions.Record{}, ledger.ErrNotFound
	}
	return rec, nil
}

// DecisionStats implements scoring.StatsSource.
func (s *MemoryStore) DecisionStats(ctx context.Context, orgID string) (scoring.DecisionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats scoring.DecisionStats
	for _, rec := range s.state.decisions {
		if rec.OrgID != orgID {
			continue
		}
		stats.Total++
		if rec.IsHumanOverride {
			stats.Overrides++
		}
	}
	return stats, nil
}
