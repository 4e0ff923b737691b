package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// createTestStore opens a database under t.TempDir() that is closed when the
// test ends.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "drafts.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
