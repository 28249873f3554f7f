package db

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) == 0 {
		t.Fatalf("no migrations embedded")
	}
	for _, name := range files {
		raw, err := fs.ReadFile(migrations, name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		body := string(raw)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Fatalf("%s is missing goose annotations", name)
		}
	}
}

func TestSchemaHasLedgerTables(t *testing.T) {
	raw, err := fs.ReadFile(migrations, "migrations/00001_arena.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, table := range []string{"arena.accounts", "arena.ledger_entries", "arena.idempotency_keys", "arena.reconciliation"} {
		if !strings.Contains(string(raw), "CREATE TABLE "+table) {
			t.Fatalf("table %s missing", table)
		}
	}
}
