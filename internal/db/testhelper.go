package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// OpenTestSQLite opens a migrated metadata database under t.TempDir() the
// same way the server does and closes both pools on cleanup.
func OpenTestSQLite(t *testing.T) (writeDB, readDB *sql.DB) {
	t.Helper()

	writeDB, readDB, err := OpenMetaDB(t.Context(), filepath.Join(t.TempDir(), "meta", "ingest_meta.sqlite"), 2)
	if err != nil {
		t.Fatalf("open metadata db: %v", err)
	}
	t.Cleanup(func() {
		_ = readDB.Close()
		_ = writeDB.Close()
	})
	return writeDB, readDB
}
