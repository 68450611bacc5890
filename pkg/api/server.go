package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aic-pulse/platform/core/pkg/auth"
	"github.com/aic-pulse/platform/core/pkg/decisions"
	"github.com/aic-pulse/platform/core/pkg/escalation"
	"github.com/aic-pulse/platform/core/pkg/evidence"
	"github.com/aic-pulse/platform/core/pkg/incidents"
	"github.com/aic-pulse/platform/core/pkg/ledger"
	"github.com/aic-pulse/platform/core/pkg/lifecycle"
	"github.com/aic-pulse/platform/core/pkg/scoring"
	"github.com/aic-pulse/platform/core/pkg/tenants"
)

// IncidentStore is the incident persistence surface the API needs.
type IncidentStore interface {
	InsertIncident(ctx context.Context, inc incidents.Incident) error
	IncidentByID(ctx context.Context, id string) (incidents.Incident, error)
}

// Server exposes the certification core over HTTP.
type Server struct {
	appender    *ledger.Appender
	verifier    *ledger.Verifier
	scanner     *escalation.Scanner
	provisioner *tenants.Provisioner
	recorder    *decisions.Recorder
	scorer      scoring.Scorer
	orgs        tenants.Registry
	incidents   IncidentStore
	entries     ledger.Store
	docs        evidence.Store
	exporter    *evidence.Exporter
	sweepWindow time.Duration
	clock       func() time.Time
	logger      *slog.Logger
}

// Deps bundles the collaborators a Server needs.
type Deps struct {
	Appender    *ledger.Appender
	Verifier    *ledger.Verifier
	Scanner     *escalation.Scanner
	Provisioner *tenants.Provisioner
	Recorder    *decisions.Recorder
	Scorer      scoring.Scorer
	Orgs        tenants.Registry
	Incidents   IncidentStore
	Entries     ledger.Store
	Docs        evidence.Store
	SweepWindow time.Duration
}

func NewServer(deps Deps) *Server {
	window := deps.SweepWindow
	if window <= 0 {
		window = escalation.DefaultThreshold
	}
	return &Server{
		appender:    deps.Appender,
		verifier:    deps.Verifier,
		scanner:     deps.Scanner,
		provisioner: deps.Provisioner,
		recorder:    deps.Recorder,
		scorer:      deps.Scorer,
		orgs:        deps.Orgs,
		incidents:   deps.Incidents,
		entries:     deps.Entries,
		docs:        deps.Docs,
		exporter:    evidence.NewExporter(deps.Entries, deps.Verifier),
		sweepWindow: window,
		clock:       time.Now,
		logger:      slog.Default().With("component", "api"),
	}
}

// Routes registers every handler on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/organizations", s.handleOrganizations)
	mux.HandleFunc("/v1/organizations/", s.handleOrganizationByID)
	mux.HandleFunc("/v1/ledger/events", s.handleRecordEvent)
	mux.HandleFunc("/v1/ledger/", s.handleLedgerRouter)
	mux.HandleFunc("/v1/transitions/check", s.handleTransitionCheck)
	mux.HandleFunc("/v1/incidents", s.handleIncidentIntake)
	mux.HandleFunc("/v1/escalations/sweep", s.handleSweep)
	mux.HandleFunc("/v1/decisions", s.handleDecisionLog)
	mux.HandleFunc("/v1/decisions/", s.handleDecisionRouter)
	mux.HandleFunc("/v1/insurance/risk-score", s.handleRiskScore)
	mux.HandleFunc("/v1/evidence", s.handleEvidenceUpload)
	mux.HandleFunc("/v1/evidence/", s.handleEvidenceFetch)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody reads and decodes a JSON object body, capped at 1 MiB.
func decodeBody(r *http.Request) (map[string]any, error) {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	var body map[string]any
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(&body); err != nil {
		return nil, errors.New("request body must be a JSON object")
	}
	return body, nil
}

func requireRole(w http.ResponseWriter, r *http.Request, role string) bool {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteUnauthorized(w, "")
		return false
	}
	if !p.HasRole(role) {
		WriteForbidden(w, "")
		return false
	}
	return true
}

func (s *Server) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if !requireRole(w, r, auth.RoleAdmin) {
		return
	}

	body, err := decodeBody(r)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := validatePayload(createOrgSchema, body); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	req := tenants.CreateRequest{
		Name:         stringField(body, "name"),
		Tier:         tenants.Tier(stringField(body, "tier")),
		ContactEmail: stringField(body, "contact_email"),
	}
	org, rawKey, err := s.provisioner.Create(r.Context(), req)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	// The raw key appears in this response only. It is never stored and
	// cannot be recovered.
	WriteJSON(w, http.StatusCreated, map[string]any{
		"organization": org,
		"api_key":      rawKey,
	})
}

func (s *Server) handleOrganizationByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if _, err := auth.GetPrincipal(r.Context()); err != nil {
		WriteUnauthorized(w, "")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/organizations/")
	if id == "" || strings.Contains(id, "/") {
		WriteNotFound(w, "unknown organization resource")
		return
	}

	org, err := s.orgs.OrganizationByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			WriteNotFound(w, "organization not found")
			return
		}
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, org)
}

func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if !requireRole(w, r, auth.RoleReviewer) {
		return
	}

	body, err := decodeBody(r)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := validatePayload(recordEventSchema, body); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	req := ledger.EventRequest{
		TenantID:  stringField(body, "tenant_id"),
		Type:      ledger.EntryType(stringField(body, "entry_type")),
		Signature: stringField(body, "signature"),
	}
	if payload, ok := body["payload"].(map[string]any); ok {
		req.Payload = payload
	}
	if raw, ok := body["transition"].(map[string]any); ok {
		from, err := lifecycle.Parse(stringField(raw, "from"))
		if err != nil {
			WriteBadRequest(w, err.Error())
			return
		}
		to, err := lifecycle.Parse(stringField(raw, "to"))
		if err != nil {
			WriteBadRequest(w, err.Error())
			return
		}
		req.Transition = &lifecycle.Transition{From: from, To: to}
	}

	entry, err := s.appender.RecordEvent(r.Context(), req)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, entry)
}

// handleLedgerRouter serves /v1/ledger/{org}, /v1/ledger/{org}/verify and
// /v1/ledger/{org}/export.
func (s *Server) handleLedgerRouter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if _, err := auth.GetPrincipal(r.Context()); err != nil {
		WriteUnauthorized(w, "")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/ledger/")
	orgID, tail, _ := strings.Cut(rest, "/")
	if orgID == "" {
		WriteNotFound(w, "unknown ledger resource")
		return
	}

	switch tail {
	case "":
		entries, err := s.entries.AllEntries(r.Context(), orgID)
		if err != nil {
			WriteInternal(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
	case "verify":
		verdict, err := s.verifier.Verify(r.Context(), orgID)
		if err != nil {
			WriteInternal(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, verdict)
	case "export":
		bundle, err := s.exporter.Export(r.Context(), orgID)
		if err != nil {
			WriteInternal(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, bundle)
	default:
		WriteNotFound(w, "unknown ledger resource")
	}
}

func (s *Server) handleTransitionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	from, err := lifecycle.Parse(r.URL.Query().Get("from"))
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	to, err := lifecycle.Parse(r.URL.Query().Get("to"))
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"from":  from,
		"to":    to,
		"valid": lifecycle.IsValidTransition(from, to),
	})
}

func (s *Server) handleIncidentIntake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	body, err := decodeBody(r)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := validatePayload(incidentIntakeSchema, body); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	req := incidents.IntakeRequest{
		OrgID:        stringField(body, "org_id"),
		CitizenEmail: stringField(body, "citizen_email"),
		SystemName:   stringField(body, "system_name"),
		Description:  stringField(body, "description"),
	}
	inc, err := incidents.New(req, s.clock())
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	// The organization must exist; appeals against unknown orgs are noise.
	if _, err := s.orgs.OrganizationByID(r.Context(), inc.OrgID); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			WriteNotFound(w, "organization not found")
			return
		}
		WriteInternal(w, err)
		return
	}

	if err := s.incidents.InsertIncident(r.Context(), inc); err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, inc)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if !requireRole(w, r, auth.RoleAdmin) {
		return
	}

	report, err := s.scanner.Sweep(r.Context(), s.sweepWindow)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

func (s *Server) handleDecisionLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}

	body, err := decodeBody(r)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := validatePayload(decisionLogSchema, body); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	req := decisions.LogRequest{
		OrgID:       stringField(body, "org_id"),
		SystemName:  stringField(body, "system_name"),
		Outcome:     stringField(body, "outcome"),
		Explanation: stringField(body, "explanation"),
		Kind:        decisions.Kind(stringField(body, "kind")),
		Signature:   "SIG_LOGGED_BY_" + p.GetID(),
	}
	if params, ok := body["input_params"].(map[string]any); ok {
		req.InputParams = params
	}

	// A system credential may only log decisions for its own organization.
	if p.HasRole(auth.RoleSystem) && !p.HasRole(auth.RoleAdmin) && p.GetOrgID() != req.OrgID {
		WriteForbidden(w, "credential is bound to a different organization")
		return
	}

	rec, err := s.recorder.Log(r.Context(), req)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, rec)
}

// handleDecisionRouter serves /v1/decisions/{id}/override.
func (s *Server) handleDecisionRouter(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/decisions/")
	id, tail, _ := strings.Cut(rest, "/")
	if id == "" || tail != "override" {
		WriteNotFound(w, "unknown decision resource")
		return
	}
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if !requireRole(w, r, auth.RoleReviewer) {
		return
	}
	p, _ := auth.GetPrincipal(r.Context())

	body, err := decodeBody(r)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := validatePayload(overrideSchema, body); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	entry, err := s.recorder.Override(r.Context(), decisions.OverrideRequest{
		DecisionID: id,
		ActorID:    p.GetID(),
		Reason:     stringField(body, "reason"),
		Signature:  "SIG_OVERRIDDEN_BY_" + p.GetID(),
	})
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			WriteNotFound(w, "decision not found")
			return
		}
		if errors.Is(err, decisions.ErrAlreadyOverridden) {
			WriteConflict(w, "decision is already overridden")
			return
		}
		s.writeLedgerError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleRiskScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if _, err := auth.GetPrincipal(r.Context()); err != nil {
		WriteUnauthorized(w, "")
		return
	}

	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		WriteBadRequest(w, "org_id query parameter is required")
		return
	}

	assessment, err := s.scorer.Assess(r.Context(), orgID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			WriteNotFound(w, "organization not found")
			return
		}
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, assessment)
}

// handleEvidenceUpload accepts a raw document body and returns its content
// reference for embedding in ledger entry payloads.
func (s *Server) handleEvidenceUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if !requireRole(w, r, auth.RoleReviewer) {
		return
	}
	if s.docs == nil {
		WriteError(w, http.StatusNotImplemented, "Not Implemented", "evidence storage is not configured")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		WriteBadRequest(w, "unreadable request body")
		return
	}
	if len(data) == 0 {
		WriteBadRequest(w, "evidence body must not be empty")
		return
	}

	ref, err := s.docs.Put(r.Context(), data)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{"ref": ref, "size": len(data)})
}

// handleEvidenceFetch serves /v1/evidence/{ref} as raw bytes.
func (s *Server) handleEvidenceFetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if _, err := auth.GetPrincipal(r.Context()); err != nil {
		WriteUnauthorized(w, "")
		return
	}
	if s.docs == nil {
		WriteError(w, http.StatusNotImplemented, "Not Implemented", "evidence storage is not configured")
		return
	}

	ref := strings.TrimPrefix(r.URL.Path, "/v1/evidence/")
	data, err := s.docs.Get(r.Context(), ref)
	if err != nil {
		switch {
		case errors.Is(err, evidence.ErrBadRef):
			WriteBadRequest(w, err.Error())
		case errors.Is(err, evidence.ErrNotFound):
			WriteNotFound(w, "evidence document not found")
		default:
			WriteInternal(w, err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// writeLedgerError maps domain errors to HTTP statuses: state machine
// rejections are 422, write races are 409, everything else is 500.
func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	var invalid *lifecycle.InvalidTransitionError
	switch {
	case errors.As(err, &invalid):
		WriteUnprocessable(w, invalid.Error())
	case errors.Is(err, ledger.ErrStaleStatus):
		WriteConflict(w, "certification status changed mid-request")
	case errors.Is(err, ledger.ErrConflict):
		WriteConflict(w, "concurrent ledger writes exhausted the retry budget")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		WriteError(w, http.StatusRequestTimeout, "Request Timeout", "request abandoned before commit")
	case strings.Contains(err.Error(), "required"), strings.Contains(err.Error(), "unknown entry type"):
		WriteBadRequest(w, err.Error())
	default:
		WriteInternal(w, err)
	}
}

func stringField(body map[string]any, key string) string {
	v, _ := body[key].(string)
	return v
}
