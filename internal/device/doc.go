// Package device holds the canonical per-device state model and the merge
// logic that folds push-feed payloads into it.
//
// # Model
//
// A Record is the merged view of one thermostat: identity metadata from the
// cloud listing, relay states keyed by relay number, sensor readings keyed
// by composite (source, sensor id), a controlling-sensor pointer, and the
// derived current temperature. Records live in the Store, which hands out
// deep copies and notifies subscribed listeners once per merge batch.
//
// # Merging
//
// Discovery (base_info) payloads and steady-state updates arrive separately
// and are folded into the same record without losing previously known
// fields: function and mode are last-known-value fields, the "N/A" sentinel
// maps to absent rather than zero, and only serials from the configured
// device set may create or mutate records.
//
// # History
//
// HistoryRepository is an optional append-only SQLite audit log of record
// snapshots. It exists for diagnostics; state is never restored from it.
package device
