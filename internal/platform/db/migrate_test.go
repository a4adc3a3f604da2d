package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test file %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadMigrations_SortsAndSkips(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"010_indexes.sql":  "SELECT 10;",
		"002_policies.sql": "SELECT 2;",
		"001_core.sql":     "CREATE TABLE patients (patient_id UUID PRIMARY KEY);",
		"readme.sql":       "-- no version prefix",
		"abc_invalid.sql":  "-- non-numeric prefix",
		"notes.txt":        "not a sql file",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	want := []int{1, 2, 10}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("migration[%d]: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[0].Name != "001_core.sql" {
		t.Errorf("expected name 001_core.sql, got %s", migrations[0].Name)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_core.sql":  "SELECT 1;",
		"001_other.sql": "SELECT 1;",
	})
	if _, err := NewMigrator(nil, dir).LoadMigrations(); err == nil {
		t.Error("expected error for duplicate version")
	}
}

func TestLoadMigrations_NonExistentDir(t *testing.T) {
	_, err := NewMigrator(nil, "/nonexistent/path/that/does/not/exist").LoadMigrations()
	if err == nil {
		t.Error("expected error for non-existent directory")
	}
}

func TestLoadMigrations_RepositoryMigrations(t *testing.T) {
	migrations, err := NewMigrator(nil, "../../../migrations").LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) < 2 {
		t.Fatalf("expected at least 2 shipped migrations, got %d", len(migrations))
	}
	for i, m := range migrations {
		if m.Version != i+1 {
			t.Errorf("expected contiguous versions, migration %s has %d", m.Name, m.Version)
		}
	}
}

func TestPendingAndStatuses(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_core.sql"},
		{Version: 2, Name: "002_row_policies.sql"},
		{Version: 3, Name: "003_seed.sql"},
	}
	at := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	applied := map[int]time.Time{1: at}

	p := pending(migrations, applied)
	if len(p) != 2 || p[0].Version != 2 || p[1].Version != 3 {
		t.Errorf("unexpected pending set: %+v", p)
	}

	s := statuses(migrations, applied)
	if len(s) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(s))
	}
	if !s[0].Applied || s[0].AppliedAt == nil || !s[0].AppliedAt.Equal(at) {
		t.Errorf("expected migration 1 applied at %v, got %+v", at, s[0])
	}
	if s[1].Applied || s[1].AppliedAt != nil {
		t.Errorf("expected migration 2 pending, got %+v", s[1])
	}
}
