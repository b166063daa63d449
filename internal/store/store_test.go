package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// Verify file was created
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_OpensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Create database
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	s1.Close()

	// Reopen database
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	// Verify we can query it
	var count int
	err = s2.db.QueryRow("SELECT COUNT(*) FROM voxels").Scan(&count)
	if err != nil {
		t.Errorf("query failed: %v", err)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Open multiple times
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	// Final open should work
	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	// Verify schema is intact
	tables := []string{"settings", "materials", "voxels", "planes", "plane_voxels", "connections", "counters", "messages", "completions", "thermometers", "thermometer_readings"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	// Try to open in non-existent directory
	path := "/nonexistent/dir/test.db"

	_, err := Open(path)
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	err := s.Close()
	if err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestClose_MultipleCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	// First close should succeed
	if err := s.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}

	// Second close should not panic (though may error)
	// We just verify it doesn't panic
	_ = s.Close()
}

func TestDB_ReturnsUnderlyingConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	db := s.DB()
	if db == nil {
		t.Error("DB() returned nil")
	}

	// Verify it's usable
	if err := db.Ping(); err != nil {
		t.Errorf("DB() connection not usable: %v", err)
	}
}

// Pragma tests

func TestPragma_JournalMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// NORMAL = 1
	if err := s.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestPragma_ForeignKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// ON = 1
	if err := s.verifyPragma("foreign_keys", "1"); err != nil {
		t.Error(err)
	}
}

// Schema table tests

func TestSchema_VoxelsTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "voxels")

	expected := []string{
		"x", "y", "z", "boundary", "burning_counter",
		"material_even", "temperature_even", "smoke_even", "generation_even",
		"material_odd", "temperature_odd", "smoke_odd", "generation_odd",
	}

	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("voxels table missing column %q", col)
		}
	}
}

func TestSchema_MessagesTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "messages")

	expected := []string{
		"id", "topic", "key", "generation", "claimed_by", "claimed_until", "acked",
	}

	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("messages table missing column %q", col)
		}
	}
}

func TestSchema_ConnectionsTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "connections")

	expected := []string{
		"source_id", "destination_id", "view_factor", "q_net", "source_voxels", "destination_voxels",
	}

	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("connections table missing column %q", col)
		}
	}
}

// Index tests

func TestSchema_MessagesPendingIndex(t *testing.T) {
	s := createTestStore(t)

	indexes := getTableIndexes(t, s.db, "messages")

	if !contains(indexes, "idx_messages_pending") {
		t.Error("messages table missing index idx_messages_pending")
	}
}

func TestMigrations_SetUserVersion(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}

// Constraint tests

func TestConstraint_MessagesUniqueWorkItem(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`INSERT INTO messages (topic, key, generation) VALUES ('voxel', '1,2,3', 0)`)
	if err != nil {
		t.Fatalf("failed to insert first message: %v", err)
	}

	_, err = s.db.Exec(`INSERT INTO messages (topic, key, generation) VALUES ('voxel', '1,2,3', 0)`)
	if err == nil {
		t.Error("expected UNIQUE constraint violation, got nil")
	}
}

func TestConstraint_MessagesAllowOtherGenerations(t *testing.T) {
	s := createTestStore(t)

	for g := 0; g < 3; g++ {
		_, err := s.db.Exec(`INSERT INTO messages (topic, key, generation) VALUES ('voxel', '1,2,3', ?)`, g)
		if err != nil {
			t.Errorf("failed to insert message for generation %d: %v", g, err)
		}
	}
}

func TestConstraint_MessagesTopic(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`INSERT INTO messages (topic, key, generation) VALUES ('smoke', '1,2,3', 0)`)
	if err == nil {
		t.Error("expected CHECK constraint violation for unknown topic, got nil")
	}
}

func TestConstraint_CountersNonNegative(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`INSERT INTO counters (name, value) VALUES ('processed_voxel_count', -1)`)
	if err == nil {
		t.Error("expected CHECK constraint violation for negative counter, got nil")
	}
}

func TestConstraint_PlaneMaterialForeignKey(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO planes (id, corner_a, corner_b, corner_c, corner_d, normal, middle, material_id, area)
		VALUES (1, '0,0,0', '0,0,0', '0,0,0', '0,0,0', '0,0,1', '0,0,0', 99, 1)
	`)
	if err == nil {
		t.Error("expected FOREIGN KEY violation for unknown material, got nil")
	}
}

// Helper functions

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
