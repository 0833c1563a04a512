// Package cache owns everything the engine persists about remote content.
//
// # Collection Cache
//
// [CollectionCache] keeps per-collection song lists in two tiers:
//   - memory : a map of decoded entries, valid for MemoryTTL (30 minutes by default)
//   - durable : JSON entries in the [repositories.KVStore], valid for DurableTTL (days)
//
// Durable keys follow song_cache_<id> for entries and cache_hash_<id> for content
// hashes, plus fixed keys for the available-collections index, the last sync time,
// the schema version and the sync metadata record.
//
// [CollectionCache.Put] hashes the song list and skips the durable write when the
// stored hash matches and the stored entry is not near expiry.
// [CollectionCache.Overwrite] always writes; forced refreshes use it.
//
// An entry that decodes to zero songs, fails to decode, or carries another schema
// version is removed on read instead of being served.
//
// # Sync Metadata
//
// [CollectionCache.Metadata] and [CollectionCache.SaveMetadata] persist
// [models.SyncMetadata]. The record is created on first read and dropped by
// [CollectionCache.Clear] and by version upgrades.
//
// # Migration Gate
//
// [MigrationGate] compares the persisted cache format version with the version
// this build writes. When behind, it wipes the cache and runs every intermediate
// [MigrationStep] in order, then persists the new version. A failing step returns
// [shared.ErrMigrationFailed] and leaves the persisted version untouched so the
// upgrade is retried on the next start.
package cache
