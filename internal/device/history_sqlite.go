package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// SQLiteHistoryRepository implements HistoryRepository using SQLite.
//
// It stores record snapshots as JSON in the device_history table.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository creates a new SQLite history repository.
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db}
}

// RecordSnapshot inserts a new history entry for a device.
func (r *SQLiteHistoryRepository) RecordSnapshot(ctx context.Context, serial string, rec *Record, source string) error {
	if serial == "" {
		return fmt.Errorf("serial is required")
	}
	if rec == nil {
		return fmt.Errorf("record is required")
	}
	if source == "" {
		source = HistorySourceStream
	}

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling record: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO device_history (serial, record, source) VALUES (?, ?, ?)",
		serial,
		string(recordJSON),
		source,
	)
	if err != nil {
		return fmt.Errorf("inserting device history: %w", err)
	}

	return nil
}

// GetHistory returns recent history entries for a device, ordered newest
// first. The limit defaults to 50 and is clamped to 200.
func (r *SQLiteHistoryRepository) GetHistory(ctx context.Context, serial string, limit int) ([]HistoryEntry, error) {
	if serial == "" {
		return nil, fmt.Errorf("serial is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, serial, record, source, created_at
		 FROM device_history
		 WHERE serial = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		serial,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying device history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var entry HistoryEntry
		var recordJSON string
		var createdAt string

		if err := rows.Scan(&entry.ID, &entry.Serial, &recordJSON, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning device history: %w", err)
		}

		if err := json.Unmarshal([]byte(recordJSON), &entry.Record); err != nil {
			return nil, fmt.Errorf("unmarshalling record: %w", err)
		}

		timestamp, err := parseHistoryTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entry.CreatedAt = timestamp

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device history: %w", err)
	}

	return entries, nil
}

// PruneHistory deletes history entries older than the given duration.
func (r *SQLiteHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM device_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting device history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// parseHistoryTimestamp parses a timestamp stored in SQLite.
func parseHistoryTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
