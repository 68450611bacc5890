// Package evidence stores audit evidence documents content-addressed by
// SHA-256. The returned reference is embedded in ledger entry payloads, so a
// tampered document is detectable the same way a tampered entry is.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const refPrefix = "sha256:"

var (
	// ErrNotFound is returned when no document matches the reference.
	ErrNotFound = errors.New("evidence: document not found")
	// ErrBadRef is returned for malformed content references.
	ErrBadRef = errors.New("evidence: invalid reference")
)

// Store is the contract for evidence document storage.
type Store interface {
	// Put persists a document and returns its content reference.
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves a document by its content reference.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Exists reports whether a document is present.
	Exists(ctx context.Context, ref string) (bool, error)
}

func hashDocument(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func parseRef(ref string) (string, error) {
	raw, ok := strings.CutPrefix(ref, refPrefix)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrBadRef, ref)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("%w: %q is not hex", ErrBadRef, raw)
	}
	return raw, nil
}

// FileStore is a filesystem-backed Store for lite mode and tests.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("evidence: ensure dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := hashDocument(data)
	path := filepath.Join(s.baseDir, raw+".doc")

	// Idempotent by construction: same bytes, same path.
	if _, err := os.Stat(path); err == nil {
		return refPrefix + raw, nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("evidence: write document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("evidence: commit document: %w", err)
	}
	return refPrefix + raw, nil
}

func (s *FileStore) Get(ctx context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(s.baseDir, raw+".doc"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return io.ReadAll(f)
}

func (s *FileStore) Exists(ctx context.Context, ref string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := parseRef(ref)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(s.baseDir, raw+".doc"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
