package evidence_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aic-pulse/platform/core/pkg/evidence"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := evidence.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	doc := []byte(`{"finding":"model card incomplete"}`)
	ref, err := store.Put(ctx, doc)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "sha256:"))

	got, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	ok, err := store.Exists(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileStorePutIdempotent(t *testing.T) {
	store, err := evidence.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	doc := []byte("audit report v1")
	first, err := store.Put(ctx, doc)
	require.NoError(t, err)
	second, err := store.Put(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFileStoreDistinctContentDistinctRefs(t *testing.T) {
	store, err := evidence.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	a, err := store.Put(ctx, []byte("report a"))
	require.NoError(t, err)
	b, err := store.Put(ctx, []byte("report b"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestFileStoreRejectsBadRefs(t *testing.T) {
	store, err := evidence.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Get(ctx, "md5:abc")
	assert.ErrorIs(t, err, evidence.ErrBadRef)

	_, err = store.Get(ctx, "sha256:not-hex")
	assert.ErrorIs(t, err, evidence.ErrBadRef)

	_, err = store.Get(ctx, "sha256:"+strings.Repeat("ab", 32))
	assert.ErrorIs(t, err, evidence.ErrNotFound)

	ok, err := store.Exists(ctx, "sha256:"+strings.Repeat("ab", 32))
	require.NoError(t, err)
	assert.False(t, ok)
}
