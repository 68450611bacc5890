package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/aic-pulse/platform/core/pkg/decisions"
	"github.com/aic-pulse/platform/core/pkg/incidents"
	"github.com/aic-pulse/platform/core/pkg/ledger"
	"github.com/aic-pulse/platform/core/pkg/lifecycle"
	"github.com/aic-pulse/platform/core/pkg/scoring"
	"github.com/aic-pulse/platform/core/pkg/tenants"
)

// SQLStore implements the persistence collaborator over database/sql.
// It supports both Postgres and SQLite via standard drivers. The uniqueness
// constraint on (tenant_id, sequence_number) is the append concurrency
// guard: the database, not the process, arbitrates racing writers.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_ledger (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	entry_type TEXT NOT NULL,
	sequence_number BIGINT NOT NULL,
	current_hash TEXT NOT NULL,
	previous_hash TEXT,
	recorded_at TIMESTAMP NOT NULL,
	signature TEXT,
	payload TEXT NOT NULL,
	UNIQUE (tenant_id, sequence_number)
);

CREATE TABLE IF NOT EXISTS organizations (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	tier TEXT NOT NULL,
	certification_status TEXT NOT NULL,
	integrity_score INTEGER NOT NULL DEFAULT 0,
	contact_email TEXT,
	public_directory_visible BOOLEAN NOT NULL DEFAULT FALSE,
	api_key_hash TEXT,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS incidents (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	citizen_email TEXT NOT NULL,
	system_name TEXT,
	description TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS decision_records (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	system_name TEXT NOT NULL,
	input_params TEXT,
	outcome TEXT NOT NULL,
	explanation TEXT,
	kind TEXT NOT NULL,
	integrity_hash TEXT NOT NULL,
	is_human_override BOOLEAN NOT NULL DEFAULT FALSE,
	override_reason TEXT,
	overridden_by TEXT,
	created_at TIMESTAMP NOT NULL
);
`

// Init creates the tables.
func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const entryColumns = `id, tenant_id, entry_type, sequence_number, current_hash, previous_hash, recorded_at, signature, payload`

// Latest implements ledger.Store.
func (s *SQLStore) Latest(ctx context.Context, tenantID string) (ledger.Entry, bool, error) {
	query := `SELECT ` + entryColumns + ` FROM audit_ledger WHERE tenant_id = $1 ORDER BY sequence_number DESC LIMIT 1`
	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Entry{}, false, nil
		}
		return ledger.Entry{}, false, err
	}
	return entry, true, nil
}

// AllEntries implements ledger.Store.
func (s *SQLStore) AllEntries(ctx context.Context, tenantID string) ([]ledger.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM audit_ledger WHERE tenant_id = $1 ORDER BY sequence_number ASC`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]ledger.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CertificationStatus implements ledger.Store.
func (s *SQLStore) CertificationStatus(ctx context.Context, tenantID string) (lifecycle.Status, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT certification_status FROM organizations WHERE id = $1`, tenantID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ledger.ErrNotFound
		}
		return "", err
	}
	return lifecycle.Parse(raw)
}

// RunInTx implements ledger.Store.
func (s *SQLStore) RunInTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) AppendEntry(ctx context.Context, e ledger.Entry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("store: marshal payload: %w", err)
	}

	query := `
		INSERT INTO audit_ledger (id, tenant_id, entry_type, sequence_number, current_hash, previous_hash, recorded_at, signature, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var prev any
	if e.PreviousHash != "" {
		prev = e.PreviousHash
	}
	_, err = t.tx.ExecContext(ctx, query,
		e.ID, e.TenantID, string(e.Type), e.Sequence, e.CurrentHash, prev,
		e.Timestamp, e.Signature, string(payload))
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrConflict
		}
		return err
	}
	return nil
}

func (t *sqlTx) SetCertificationStatus(ctx context.Context, tenantID string, from, to lifecycle.Status) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE organizations SET certification_status = $1 WHERE id = $2 AND certification_status = $3`,
		string(to), tenantID, string(from))
	if err != nil {
		return err
	}
	return requireOneRow(res, ledger.ErrStaleStatus)
}

func (t *sqlTx) SetIncidentStatus(ctx context.Context, incidentID string, from, to incidents.Status) error {
	if !incidents.CanAdvance(from, to) {
		return fmt.Errorf("store: illegal incident status advance %s to %s", from, to)
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE incidents SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), time.Now().UTC(), incidentID, string(from))
	if err != nil {
		return err
	}
	return requireOneRow(res, ledger.ErrStaleStatus)
}

func (t *sqlTx) MarkDecisionOverridden(ctx context.Context, decisionID, actorID, reason string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE decision_records SET is_human_override = TRUE, overridden_by = $1, override_reason = $2 WHERE id = $3`,
		actorID, reason, decisionID)
	if err != nil {
		return err
	}
	return requireOneRow(res, ledger.ErrNotFound)
}

// InsertDecision implements decisions.TxInserter inside a unit of work.
func (t *sqlTx) InsertDecision(ctx context.Context, rec decisions.Record) error {
	return insertDecision(ctx, t.tx, rec)
}

func requireOneRow(res sql.Result, sentinel error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel
	}
	return nil
}

// isUniqueViolation detects the expected append race on both backends:
// Postgres class 23505 and SQLite's UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (ledger.Entry, error) {
	var (
		e         ledger.Entry
		entryType string
		prev      sql.NullString
		signature sql.NullString
		payload   string
	)
	err := row.Scan(&e.ID, &e.TenantID, &entryType, &e.Sequence, &e.CurrentHash,
		&prev, &e.Timestamp, &signature, &payload)
	if err != nil {
		return ledger.Entry{}, err
	}
	e.Type = ledger.EntryType(entryType)
	e.PreviousHash = prev.String
	e.Signature = signature.String
	e.Timestamp = e.Timestamp.UTC()
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return ledger.Entry{}, fmt.Errorf("store: corrupt payload for entry %s: %w", e.ID, err)
		}
	}
	return e, nil
}

// InsertOrganization implements tenants.Registry.
func (s *SQLStore) InsertOrganization(ctx context.Context, org tenants.Organization, apiKeyHash string) error {
	query := `
		INSERT INTO organizations (id, name, tier, certification_status, integrity_score, contact_email, public_directory_visible, api_key_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		org.ID, org.Name, string(org.Tier), string(org.CertificationStatus),
		org.IntegrityScore, org.ContactEmail, org.PublicDirectoryVisible, apiKeyHash, org.CreatedAt)
	return err
}

// OrganizationByID implements tenants.Registry.
func (s *SQLStore) OrganizationByID(ctx context.Context, id string) (tenants.Organization, error) {
	query := `SELECT id, name, tier, certification_status, integrity_score, contact_email, public_directory_visible, created_at FROM organizations WHERE id = $1`
	var (
		org    tenants.Organization
		tier   string
		status string
		email  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&org.ID, &org.Name, &tier, &status,
		&org.IntegrityScore, &email, &org.PublicDirectoryVisible, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tenants.Organization{}, ledger.ErrNotFound
		}
		return tenants.Organization{}, err
	}
	org.Tier = tenants.Tier(tier)
	org.CertificationStatus = lifecycle.Status(status)
	org.ContactEmail = email.String
	org.CreatedAt = org.CreatedAt.UTC()
	return org, nil
}

// OrganizationKeyHash returns the stored API key hash for an organization.
func (s *SQLStore) OrganizationKeyHash(ctx context.Context, id string) (string, error) {
	var hash sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT api_key_hash FROM organizations WHERE id = $1`, id).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ledger.ErrNotFound
		}
		return "", err
	}
	return hash.String, nil
}

// InsertIncident persists a new incident.
func (s *SQLStore) InsertIncident(ctx context.Context, inc incidents.Incident) error {
	query := `
		INSERT INTO incidents (id, org_id, citizen_email, system_name, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		inc.ID, inc.OrgID, inc.CitizenEmail, inc.SystemName, inc.Description,
		string(inc.Status), inc.CreatedAt, inc.UpdatedAt)
	return err
}

const incidentColumns = `id, org_id, citizen_email, system_name, description, status, created_at, updated_at`

// IncidentByID fetches one incident.
func (s *SQLStore) IncidentByID(ctx context.Context, id string) (incidents.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	inc, err := scanIncident(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return incidents.Incident{}, ledger.ErrNotFound
		}
		return incidents.Incident{}, err
	}
	return inc, nil
}

// OverdueOpenIncidents implements escalation.IncidentSource.
func (s *SQLStore) OverdueOpenIncidents(ctx context.Context, cutoff time.Time) ([]incidents.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE status = 'OPEN' AND created_at < $1 ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]incidents.Incident, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanIncident(row rowScanner) (incidents.Incident, error) {
	var (
		inc    incidents.Incident
		system sql.NullString
		status string
	)
	err := row.Scan(&inc.ID, &inc.OrgID, &inc.CitizenEmail, &system, &inc.Description,
		&status, &inc.CreatedAt, &inc.UpdatedAt)
	if err != nil {
		return incidents.Incident{}, err
	}
	inc.SystemName = system.String
	inc.Status = incidents.Status(status)
	inc.CreatedAt = inc.CreatedAt.UTC()
	inc.UpdatedAt = inc.UpdatedAt.UTC()
	return inc, nil
}

// InsertDecision implements decisions.Registry.
func (s *SQLStore) InsertDecision(ctx context.Context, rec decisions.Record) error {
	return insertDecision(ctx, s.db, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertDecision(ctx context.Context, db execer, rec decisions.Record) error {
	params, err := json.Marshal(rec.InputParams)
	if err != nil {
		return fmt.Errorf("store: marshal input params: %w", err)
	}
	query := `
		INSERT INTO decision_records (id, org_id, system_name, input_params, outcome, explanation, kind, integrity_hash, is_human_override, override_reason, overridden_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = db.ExecContext(ctx, query,
		rec.ID, rec.OrgID, rec.SystemName, string(params), rec.Outcome, rec.Explanation,
		string(rec.Kind), rec.IntegrityHash, rec.IsHumanOverride, rec.OverrideReason,
		rec.OverriddenBy, rec.CreatedAt)
	return err
}

// DecisionStats implements scoring.StatsSource.
func (s *SQLStore) DecisionStats(ctx context.Context, orgID string) (scoring.DecisionStats, error) {
	var stats scoring.DecisionStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_human_override THEN 1 ELSE 0 END), 0) FROM decision_records WHERE org_id = $1`,
		orgID).Scan(&stats.Total, &stats.Overrides)
	if err != nil {
		return scoring.DecisionStats{}, err
	}
	return stats, nil
}

// DecisionByID implements decisions.Registry.
func (s *SQLStore) DecisionByID(ctx context.Context, id string) (decisions.Record, error) {
	query := `
		SELECT id, org_id, system_name, input_params, outcome, explanation, kind, integrity_hash, is_human_override, override_reason, overridden_by, created_at
		FROM decision_records WHERE id = $1
	`
	var (
		rec         decisions.Record
		params      sql.NullString
		explanation sql.NullString
		kind        string
		reason      sql.NullString
		actor       sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&rec.ID, &rec.OrgID, &rec.SystemName,
		&params, &rec.Outcome, &explanation, &kind, &rec.IntegrityHash,
		&rec.IsHumanOverride, &reason, &actor, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decisions.Record{}, ledger.ErrNotFound
		}
		return decisions.Record{}, err
	}
	rec.Kind = decisions.Kind(kind)
	rec.Explanation = explanation.String
	rec.OverrideReason = reason.String
	rec.OverriddenBy = actor.String
	rec.CreatedAt = rec.CreatedAt.UTC()
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &rec.InputParams); err != nil {
			return decisions.Record{}, fmt.Errorf("store: corrupt input params for decision %s: %w", id, err)
		}
	}
	return rec, nil
}
