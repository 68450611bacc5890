package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/aic-pulse/platform/core/pkg/ledger"
)

// BundleType defines the purpose of an export bundle.
type BundleType string

const (
	BundleTypeAudit BundleType = "CERTIFICATION_AUDIT"
)

// Bundle is a sealed package of audit evidence for one organization: the
// full chain, the verification verdict, and a digest over both. An auditor
// can re-verify the chain offline and confirm the bundle was not edited
// after export.
type Bundle struct {
	ID          string     `json:"id"`
	OrgID       string     `json:"org_id"`
	Type        BundleType `json:"type"`
	GeneratedAt time.Time  `json:"generated_at"`
	Artifacts   []Artifact `json:"artifacts"`
	BundleHash  string     `json:"bundle_hash"`
}

// Artifact is one named document inside a bundle.
type Artifact struct {
	Name    string          `json:"name"`
	Content json.RawMessage `json:"content"`
	Hash    string          `json:"hash"`
}

// Exporter packages an organization's audit trail into sealed bundles.
type Exporter struct {
	entries  ledger.Store
	verifier *ledger.Verifier
	clock    func() time.Time
}

func NewExporter(entries ledger.Store, verifier *ledger.Verifier) *Exporter {
	return &Exporter{entries: entries, verifier: verifier, clock: time.Now}
}

// WithClock overrides the time source. For tests.
func (e *Exporter) WithClock(clock func() time.Time) *Exporter {
	e.clock = clock
	return e
}

// Export builds a sealed audit bundle for the organization. The chain is
// verified at export time so the verdict artifact reflects the exact
// entries shipped alongside it.
func (e *Exporter) Export(ctx context.Context, orgID string) (*Bundle, error) {
	entries, err := e.entries.AllEntries(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("evidence: export read chain: %w", err)
	}
	verdict, err := e.verifier.Verify(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("evidence: export verify chain: %w", err)
	}

	bundle := &Bundle{
		ID:          uuid.New().String(),
		OrgID:       orgID,
		Type:        BundleTypeAudit,
		GeneratedAt: e.clock().UTC(),
	}

	ledgerDoc, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("evidence: export marshal chain: %w", err)
	}
	verdictDoc, err := json.Marshal(verdict)
	if err != nil {
		return nil, fmt.Errorf("evidence: export marshal verdict: %w", err)
	}
	bundle.Artifacts = []Artifact{
		{Name: "ledger", Content: ledgerDoc, Hash: refPrefix + hashDocument(ledgerDoc)},
		{Name: "verdict", Content: verdictDoc, Hash: refPrefix + hashDocument(verdictDoc)},
	}

	if err := sealBundle(bundle); err != nil {
		return nil, err
	}
	return bundle, nil
}

// sealBundle computes the bundle hash over the canonical form of the
// bundle identity and its artifact hashes. Artifact order is fixed by name
// so the digest is reproducible.
func sealBundle(bundle *Bundle) error {
	sort.Slice(bundle.Artifacts, func(i, j int) bool {
		return bundle.Artifacts[i].Name < bundle.Artifacts[j].Name
	})

	type artifactSig struct {
		Name string `json:"name"`
		Hash string `json:"hash"`
	}
	payload := struct {
		ID          string        `json:"id"`
		OrgID       string        `json:"org_id"`
		Type        BundleType    `json:"type"`
		GeneratedAt time.Time     `json:"generated_at"`
		Artifacts   []artifactSig `json:"artifacts"`
	}{
		ID:          bundle.ID,
		OrgID:       bundle.OrgID,
		Type:        bundle.Type,
		GeneratedAt: bundle.GeneratedAt,
		Artifacts:   make([]artifactSig, 0, len(bundle.Artifacts)),
	}
	for _, a := range bundle.Artifacts {
		payload.Artifacts = append(payload.Artifacts, artifactSig{Name: a.Name, Hash: a.Hash})
	}

	msg, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("evidence: seal marshal: %w", err)
	}
	canonical, err := jcs.Transform(msg)
	if err != nil {
		return fmt.Errorf("evidence: seal canonicalize: %w", err)
	}
	bundle.BundleHash = refPrefix + hashDocument(canonical)
	return nil
}
