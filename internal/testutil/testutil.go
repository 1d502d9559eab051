// Package testutil provides shared helpers for package tests.
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"msgvault/internal/db"
)

// OpenTestDB opens a throwaway database with the full schema applied.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	conn, err := db.OpenPath(path)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.ApplySchema(conn); err != nil {
		conn.Close()
		t.Fatalf("apply schema: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}
