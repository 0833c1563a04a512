package models

import "time"

// CacheEntry is one persisted collection partition.
type CacheEntry struct {
	CollectionID  string    `json:"collection_id"`
	Songs         []Song    `json:"songs"`
	CapturedAt    time.Time `json:"captured_at"`
	ContentHash   string    `json:"content_hash"`
	SchemaVersion int       `json:"schema_version"`
}

// Age returns how long ago the entry was captured.
func (e CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.CapturedAt)
}

// Expired reports whether the entry is older than ttl.
func (e CacheEntry) Expired(now time.Time, ttl time.Duration) bool {
	return e.Age(now) > ttl
}

// NearExpiry reports whether the entry's age exceeds fraction of ttl.
func (e CacheEntry) NearExpiry(now time.Time, ttl time.Duration, fraction float64) bool {
	return float64(e.Age(now)) > float64(ttl)*fraction
}

// SyncMetadata records what the engine knows about the remote store between runs.
type SyncMetadata struct {
	LastFullSync      time.Time         `json:"last_full_sync,omitzero"`
	LastMetadataCheck time.Time         `json:"last_metadata_check,omitzero"`
	CollectionHashes  map[string]string `json:"collection_hashes"`
	GlobalModified    string            `json:"global_modified,omitempty"`
	LastChanged       bool              `json:"last_changed"`
	CacheVersion      int               `json:"cache_version"`

	// PartitionSyncs records when a background refresh last completed per partition.
	PartitionSyncs map[string]time.Time `json:"partition_syncs,omitempty"`
}

// NewSyncMetadata returns metadata for a first run at the given cache version.
func NewSyncMetadata(version int) SyncMetadata {
	return SyncMetadata{CollectionHashes: map[string]string{}, CacheVersion: version, LastChanged: true}
}

// EntryStat summarizes one cached collection.
type EntryStat struct {
	CollectionID string        `json:"collection_id"`
	Songs        int           `json:"songs"`
	Age          time.Duration `json:"age"`
	Expired      bool          `json:"expired"`
	ContentHash  string        `json:"content_hash"`
}

// CacheStatistics is the snapshot returned by the engine's statistics call.
type CacheStatistics struct {
	SchemaVersion     int         `json:"schema_version"`
	State             string      `json:"state"`
	RefreshInFlight   bool        `json:"refresh_in_flight"`
	MemoryEntries     int         `json:"memory_entries"`
	DurableEntries    int         `json:"durable_entries"`
	TotalSongs        int         `json:"total_songs"`
	DurableWrites     int64       `json:"durable_writes"`
	LastFullSync      time.Time   `json:"last_full_sync,omitzero"`
	LastMetadataCheck time.Time   `json:"last_metadata_check,omitzero"`
	Entries           []EntryStat `json:"entries"`
	RecentRuns        []*SyncRun  `json:"-"`
}
