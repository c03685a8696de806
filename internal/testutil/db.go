// internal/testutil/db.go
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/courtmaster/timemap/internal/db"
)

// NewTestDB opens a throwaway snapshot cache in the test's temp dir, with
// migrations applied. The database closes with the test.
func NewTestDB(t *testing.T) *db.DB {
	t.Helper()

	cache, err := db.New(filepath.Join(t.TempDir(), "timemap.db"))
	if err != nil {
		t.Fatalf("open test cache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	return cache
}
