// Package hashchain computes the cryptographic links of the audit ledger.
//
// Each ledger entry's hash is computed as
//
//	SHA-256(prev_hash | entry_type | tenant_id | sequence | timestamp | canonical_payload)
//
// where canonical_payload is the RFC 8785 (JCS) form of the event payload.
// The input is built as an ordered pipe-joined list of named fields, never an
// unordered map serialization, so the digest is byte-stable across versions.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
)

// ChainInput is the ordered set of fields bound by an entry hash.
type ChainInput struct {
	// PreviousHash is the predecessor's hash, or "" for the first entry of a
	// tenant.
	PreviousHash string
	EntryType    string
	TenantID     string
	Sequence     int64
	Timestamp    time.Time
	Payload      map[string]any
}

// Compute returns the lowercase hex SHA-256 digest for in. It is pure and
// deterministic; it fails only when the payload cannot be serialized, which
// is a programming error rather than a recoverable condition.
func Compute(in ChainInput) (string, error) {
	canonical, err := CanonicalPayload(in.Payload)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(in.PreviousHash)
	b.WriteByte('|')
	b.WriteString(in.EntryType)
	b.WriteByte('|')
	b.WriteString(in.TenantID)
	b.WriteByte('|')
	fmt.Fprintf(&b, "%d", in.Sequence)
	b.WriteByte('|')
	b.WriteString(in.Timestamp.UTC().Format(time.RFC3339Nano))
	b.WriteByte('|')
	b.Write(canonical)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalPayload returns the RFC 8785 canonical JSON bytes of payload.
// A nil payload canonicalizes to the empty object.
func CanonicalPayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("hashchain: payload not serializable: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("hashchain: canonicalization failed: %w", err)
	}
	return canonical, nil
}

// HashContent returns the SHA-256 hex digest of the canonical form of v.
// Decision records use this to bind their content independently of the chain.
func HashContent(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hashchain: content not serializable: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("hashchain: canonicalization failed: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
