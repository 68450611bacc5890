package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aic-pulse/platform/core/pkg/api"
	"github.com/aic-pulse/platform/core/pkg/auth"
	"github.com/aic-pulse/platform/core/pkg/decisions"
	"github.com/aic-pulse/platform/core/pkg/escalation"
	"github.com/aic-pulse/platform/core/pkg/evidence"
	"github.com/aic-pulse/platform/core/pkg/incidents"
	"github.com/aic-pulse/platform/core/pkg/ledger"
	"github.com/aic-pulse/platform/core/pkg/lifecycle"
	"github.com/aic-pulse/platform/core/pkg/notify"
	"github.com/aic-pulse/platform/core/pkg/scoring"
	"github.com/aic-pulse/platform/core/pkg/store"
	"github.com/aic-pulse/platform/core/pkg/tenants"
)

type fixture struct {
	mem    *store.MemoryStore
	server *api.Server
	mux    *http.ServeMux
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	docs, err := evidence.NewFileStore(t.TempDir())
	require.NoError(t, err)

	appender := ledger.NewAppender(mem).WithClock(clock)
	srv := api.NewServer(api.Deps{
		Appender:    appender,
		Verifier:    ledger.NewVerifier(mem),
		Scanner:     escalation.NewScanner(mem, appender, notify.NewLogDispatcher()).WithClock(clock),
		Provisioner: tenants.NewProvisioner(mem).WithClock(clock),
		Recorder:    decisions.NewRecorder(appender, mem).WithClock(clock),
		Scorer:      scoring.NewWeightedScorer(mem, mem).WithClock(clock),
		Orgs:        mem,
		Incidents:   mem,
		Entries:     mem,
		Docs:        docs,
	})
	return &fixture{mem: mem, server: srv, mux: srv.Routes(), now: now}
}

func (f *fixture) do(t *testing.T, method, path string, body any, p auth.Principal) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func adminPrincipal() auth.Principal {
	return &auth.BasePrincipal{ID: "admin-1", Roles: []string{auth.RoleAdmin}}
}

func reviewerPrincipal() auth.Principal {
	return &auth.BasePrincipal{ID: "rev-1", Roles: []string{auth.RoleReviewer}}
}

func (f *fixture) createOrg(t *testing.T, name string) tenants.Organization {
	t.Helper()
	w := f.do(t, "POST", "/v1/organizations", map[string]any{"name": name, "tier": "TIER_1"}, adminPrincipal())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Organization tenants.Organization `json:"organization"`
		APIKey       string               `json:"api_key"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.APIKey)
	return resp.Organization
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "GET", "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateOrganizationRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "POST", "/v1/organizations", map[string]any{"name": "Acme"}, reviewerPrincipal())
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetOrganization(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "Vertex Lending")

	w := f.do(t, "GET", "/v1/organizations/"+org.ID, nil, reviewerPrincipal())
	require.Equal(t, http.StatusOK, w.Code)

	var got tenants.Organization
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, org.ID, got.ID)
	assert.Equal(t, lifecycle.StatusDraft, got.CertificationStatus)

	w = f.do(t, "GET", "/v1/organizations/nope", nil, reviewerPrincipal())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecordEventWithTransition(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "Vertex Lending")

	w := f.do(t, "POST", "/v1/ledger/events", map[string]any{
		"tenant_id":  org.ID,
		"entry_type": "PROMOTION",
		"payload":    map[string]any{"system_name": "credit-scorer-v2"},
		"transition": map[string]any{"from": "DRAFT", "to": "PENDING_REVIEW"},
	}, reviewerPrincipal())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var entry ledger.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
	assert.Equal(t, int64(0), entry.Sequence)
	assert.Empty(t, entry.PreviousHash)

	status, err := f.mem.CertificationStatus(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusPendingReview, status)
}

func TestRecordEventIllegalTransition(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "Vertex Lending")

	// DRAFT cannot jump straight to CERTIFIED.
	w := f.do(t, "POST", "/v1/ledger/events", map[string]any{
		"tenant_id":  org.ID,
		"entry_type": "APPROVAL",
		"transition": map[string]any{"from": "DRAFT", "to": "CERTIFIED"},
	}, reviewerPrincipal())
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// Nothing may reach the ledger on a rejected transition.
	entries, err := f.mem.AllEntries(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecordEventRejectsMalformedBody(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/v1/ledger/events", map[string]any{
		"entry_type": "PROMOTION",
	}, reviewerPrincipal())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "POST", "/v1/ledger/events", map[string]any{
		"tenant_id":  "org-1",
		"entry_type": "NOT_A_TYPE",
	}, reviewerPrincipal())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLedgerListAndVerify(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "Vertex Lending")

	for _, transition := range []map[string]any{
		{"from": "DRAFT", "to": "PENDING_REVIEW"},
		{"from": "PENDING_REVIEW", "to": "APPROVED"},
	} {
		w := f.do(t, "POST", "/v1/ledger/events", map[string]any{
			"tenant_id":  org.ID,
			"entry_type": "APPROVAL",
			"transition": transition,
		}, reviewerPrincipal())
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := f.do(t, "GET", "/v1/ledger/"+org.ID, nil, reviewerPrincipal())
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Entries []ledger.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Entries, 2)
	assert.Equal(t, listing.Entries[0].CurrentHash, listing.Entries[1].PreviousHash)

	w = f.do(t, "GET", "/v1/ledger/"+org.ID+"/verify", nil, reviewerPrincipal())
	require.Equal(t, http.StatusOK, w.Code)
	var verdict ledger.Verdict
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &verdict))
	assert.True(t, verdict.Intact)
	assert.Equal(t, 2, verdict.Entries)
}

func TestTransitionCheck(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/v1/transitions/check?from=DRAFT&to=PENDING_REVIEW", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["valid"])

	w = f.do(t, "GET", "/v1/transitions/check?from=CERTIFIED&to=DRAFT", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["valid"])

	w = f.do(t, "GET", "/v1/transitions/check?from=BOGUS&to=DRAFT", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIncidentIntake(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "Vertex Lending")

	w := f.do(t, "POST", "/v1/incidents", map[string]any{
		"org_id":        org.ID,
		"citizen_email": "citizen@example.org",
		"description":   "loan denied with no explanation",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var inc incidents.Incident
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &inc))
	assert.Equal(t, incidents.StatusOpen, inc.Status)

	w = f.do(t, "POST", "/v1/incidents", map[string]any{
		"org_id":        "nope",
		"citizen_email": "citizen@example.org",
		"description":   "x",
	}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, "POST", "/v1/incidents", map[string]any{
		"org_id": org.ID,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSweepEscalatesOverdueIncidents(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "Vertex Lending")

	stale := incidents.Incident{
		ID:           "inc-stale",
		OrgID:        org.ID,
		CitizenEmail: "citizen@example.org",
		Description:  "ignored appeal",
		Status:       incidents.StatusOpen,
		CreatedAt:    f.now.Add(-100 * time.Hour),
		UpdatedAt:    f.now.Add(-100 * time.Hour),
	}
	require.NoError(t, f.mem.InsertIncident(context.Background(), stale))

	w := f.do(t, "POST", "/v1/escalations/sweep", nil, adminPrincipal())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report escalation.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, []string{"inc-stale"}, report.EscalatedIDs)

	got, err := f.mem.IncidentByID(context.Background(), "inc-stale")
	require.NoError(t, err)
	assert.Equal(t, incidents.StatusEscalated, got.Status)

	w = f.do(t, "POST", "/v1/escalations/sweep", nil, reviewerPrincipal())
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDecisionLogAndOverride(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "Vertex Lending")

	w := f.do(t, "POST", "/v1/decisions", map[string]any{
		"org_id":      org.ID,
		"system_name": "credit-scorer-v2",
		"outcome":     "DENIED",
		"kind":        "FORMAL",
	}, reviewerPrincipal())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rec decisions.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.NotEmpty(t, rec.IntegrityHash)

	w = f.do(t, "POST", "/v1/decisions/"+rec.ID+"/override", map[string]any{
		"reason": "manual review found eligible income",
	}, reviewerPrincipal())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var entry ledger.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
	assert.Equal(t, ledger.EntryOverride, entry.Type)

	// second override of the same record is rejected
	w = f.do(t, "POST", "/v1/decisions/"+rec.ID+"/override", map[string]any{
		"reason": "changed my mind again",
	}, reviewerPrincipal())
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDecisionLogOrgBinding(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "Vertex Lending")

	system := &auth.BasePrincipal{ID: "system:other", OrgID: "other-org", Roles: []string{auth.RoleSystem}}
	w := f.do(t, "POST", "/v1/decisions", map[string]any{
		"org_id":      org.ID,
		"system_name": "credit-scorer-v2",
		"outcome":     "DENIED",
		"kind":        "SANDBOX",
	}, system)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRiskScore(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "Vertex Lending")

	w := f.do(t, "GET", "/v1/insurance/risk-score?org_id="+org.ID, nil, reviewerPrincipal())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var assessment scoring.Assessment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &assessment))
	assert.Equal(t, org.ID, assessment.OrgID)
	assert.NotEmpty(t, assessment.Category)

	w = f.do(t, "GET", "/v1/insurance/risk-score", nil, reviewerPrincipal())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvidenceUploadAndFetch(t *testing.T) {
	f := newFixture(t)
	doc := []byte("model card v3, reviewed 2026-04-09")

	req := httptest.NewRequest("POST", "/v1/evidence", bytes.NewReader(doc))
	req = req.WithContext(auth.WithPrincipal(req.Context(), reviewerPrincipal()))
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Ref  string `json:"ref"`
		Size int    `json:"size"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, len(doc), resp.Size)

	w = f.do(t, "GET", "/v1/evidence/"+resp.Ref, nil, reviewerPrincipal())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, doc, w.Body.Bytes())

	w = f.do(t, "GET", "/v1/evidence/sha256:"+strings.Repeat("00", 32), nil, reviewerPrincipal())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, "GET", "/v1/evidence/md5:abc", nil, reviewerPrincipal())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvidenceUploadRejectsEmptyBody(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest("POST", "/v1/evidence", bytes.NewReader(nil))
	req = req.WithContext(auth.WithPrincipal(req.Context(), reviewerPrincipal()))
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLedgerExport(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "Vertex Lending")

	w := f.do(t, "POST", "/v1/ledger/events", map[string]any{
		"tenant_id":  org.ID,
		"entry_type": "FORMAL_AUDIT",
		"payload":    map[string]any{"finding": "model card incomplete"},
	}, reviewerPrincipal())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(t, "GET", "/v1/ledger/"+org.ID+"/export", nil, reviewerPrincipal())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var bundle evidence.Bundle
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bundle))
	assert.Equal(t, org.ID, bundle.OrgID)
	assert.Len(t, bundle.Artifacts, 2)
	assert.Contains(t, bundle.BundleHash, "sha256:")
}
