package device

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupHistoryTestDB creates an in-memory SQLite database with the device_history table.
func setupHistoryTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE device_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			serial TEXT NOT NULL,
			record TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT 'stream',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE INDEX idx_device_history_serial ON device_history(serial, created_at DESC);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func insertHistoryRow(t *testing.T, db *sql.DB, serial, recordJSON, source string, createdAt time.Time) {
	t.Helper()

	_, err := db.Exec(
		"INSERT INTO device_history (serial, record, source, created_at) VALUES (?, ?, ?, ?)",
		serial,
		recordJSON,
		source,
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		t.Fatalf("failed to insert history row: %v", err)
	}
}

func TestRecordSnapshotAndGetHistory(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	rec := &Record{
		Serial: "TH-A",
		Online: true,
		Relays: map[int]Relay{1: {Number: 1, State: true, Function: "heating", Mode: "manual"}},
	}

	if err := repo.RecordSnapshot(ctx, "TH-A", rec, HistorySourceStream); err != nil {
		t.Fatalf("RecordSnapshot() error = %v", err)
	}

	entries, err := repo.GetHistory(ctx, "TH-A", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("GetHistory() returned %d entries, want 1", len(entries))
	}

	got := entries[0]
	if got.Serial != "TH-A" {
		t.Errorf("Serial = %q, want TH-A", got.Serial)
	}
	if got.Source != HistorySourceStream {
		t.Errorf("Source = %q, want %q", got.Source, HistorySourceStream)
	}
	if got.Record == nil || !got.Record.Online {
		t.Errorf("Record = %+v, want online snapshot", got.Record)
	}
	if relay := got.Record.Relays[1]; relay.Function != "heating" {
		t.Errorf("relay Function = %q, want heating", relay.Function)
	}
}

func TestRecordSnapshotValidation(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	if err := repo.RecordSnapshot(ctx, "", &Record{}, HistorySourceStream); err == nil {
		t.Error("expected error for empty serial")
	}
	if err := repo.RecordSnapshot(ctx, "TH-A", nil, HistorySourceStream); err == nil {
		t.Error("expected error for nil record")
	}
}

func TestGetHistoryOrderingAndLimit(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		insertHistoryRow(t, db, "TH-A", `{"serial_number":"TH-A"}`, HistorySourceStream, base.Add(time.Duration(i)*time.Minute))
	}
	insertHistoryRow(t, db, "TH-B", `{"serial_number":"TH-B"}`, HistorySourceStream, base)

	entries, err := repo.GetHistory(ctx, "TH-A", 3)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("GetHistory() returned %d entries, want 3", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].CreatedAt.After(entries[i-1].CreatedAt) {
			t.Error("entries not ordered newest first")
		}
	}
	for _, e := range entries {
		if e.Serial != "TH-A" {
			t.Errorf("entry for wrong serial: %q", e.Serial)
		}
	}
}

func TestGetHistoryDefaultLimit(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	entries, err := repo.GetHistory(ctx, "TH-A", 0)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty history, got %d", len(entries))
	}
}

func TestPruneHistory(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	insertHistoryRow(t, db, "TH-A", `{}`, HistorySourceStream, now.Add(-48*time.Hour))
	insertHistoryRow(t, db, "TH-A", `{}`, HistorySourceStream, now.Add(-time.Minute))

	deleted, err := repo.PruneHistory(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneHistory() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("PruneHistory() deleted %d rows, want 1", deleted)
	}

	if _, err := repo.PruneHistory(ctx, 0); err == nil {
		t.Error("expected error for non-positive retention")
	}
}
