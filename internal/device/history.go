package device

import (
	"context"
	"time"
)

// History source values.
const (
	HistorySourceStream    = "stream"
	HistorySourceSynthesis = "synthesis"
	HistorySourceCommand   = "command"
)

// HistoryEntry is one recorded device snapshot.
//
// History is append-only diagnostics data: entries are written after merge
// batches but the in-memory store is never rebuilt from them on startup.
type HistoryEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// Serial is the device serial number.
	Serial string `json:"serial_number"`

	// Record is the JSON snapshot of the merged device record.
	Record *Record `json:"record"`

	// Source identifies what produced the snapshot (stream, synthesis, command).
	Source string `json:"source"`

	// CreatedAt is the timestamp of the snapshot (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// HistoryRepository stores and retrieves device snapshot history.
//
// Implementations must be thread-safe and use UTC timestamps.
type HistoryRepository interface {
	// RecordSnapshot appends a snapshot of one device's merged record.
	RecordSnapshot(ctx context.Context, serial string, rec *Record, source string) error

	// GetHistory returns recent snapshots for the device, newest first.
	// The limit may be clamped by the implementation.
	GetHistory(ctx context.Context, serial string, limit int) ([]HistoryEntry, error)

	// PruneHistory deletes entries older than the given duration and
	// returns the number of rows removed.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}
