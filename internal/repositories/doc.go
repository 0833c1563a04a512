// Package repositories implements SQLite persistence for the on-device store.
//
// Key Implementations:
//   - [KVStore] : Flat string-keyed storage backing the collection cache and sync metadata
//   - [SyncRunRepository] : Refresh history with status and trigger queries
//
// The KV store has last-writer-wins semantics; it mirrors the remote store and is never a master copy.
// Every successful write bumps a counter ([KVStore.Writes]) so callers can observe write churn.
//
// Sequence numbers provide stable, human-readable ordering of sync runs (e.g., run #42) independent of UUIDs and creation timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
