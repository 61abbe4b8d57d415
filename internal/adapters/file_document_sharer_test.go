package adapters

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDocumentSharer_WritesAndReplaces(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	sharer, err := NewFileDocumentSharer(dir, nil)
	require.NoError(t, err)

	loc, err := sharer.Share(context.Background(), "exam.json", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(loc))
	assert.Equal(t, "exam.json", filepath.Base(loc))

	_, err = sharer.Share(context.Background(), "exam.json", []byte(`{"a":2}`))
	require.NoError(t, err)
	body, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(body))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestFileDocumentSharer_RejectsPaths(t *testing.T) {
	sharer, err := NewFileDocumentSharer(t.TempDir(), nil)
	require.NoError(t, err)

	for _, name := range []string{"", "..", "../escape.json", "sub/dir.json"} {
		_, err := sharer.Share(context.Background(), name, []byte("x"))
		assert.Error(t, err, name)
	}
}

func TestFileDocumentSharer_HonoursCancelledContext(t *testing.T) {
	sharer, err := NewFileDocumentSharer(t.TempDir(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = sharer.Share(ctx, "exam.json", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFileDocumentSharer_RequiresDir(t *testing.T) {
	_, err := NewFileDocumentSharer("  ", nil)
	assert.Error(t, err)
}
