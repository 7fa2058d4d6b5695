package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestUpIsIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "mig.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	applied, version, err := Up(ctx, db)
	if err != nil {
		t.Fatalf("first up: %v", err)
	}
	if applied != 5 || version != 5 {
		t.Fatalf("expected 5 migrations to version 5, got %d to %d", applied, version)
	}

	applied, version, err = Up(ctx, db)
	if err != nil {
		t.Fatalf("second up: %v", err)
	}
	if applied != 0 || version != 5 {
		t.Fatalf("expected no-op at version 5, got %d to %d", applied, version)
	}

	for _, table := range []string{"cache_records", "mutation_queue", "applied_mutations", "sync_journal", "resource_schemas", "notification_outbox", "cache_generations"} {
		var name string
		if err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}
