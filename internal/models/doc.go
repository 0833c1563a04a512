// Package models defines domain entities for the hymnal data engine.
//
// The package contains three categories of types:
//
// 1. Content: what readers see
//   - [Song] : A hymn keyed by number, with ordered [Verse] blocks
//   - [Collection] : A named, access-controlled partition of songs
//
// 2. Access: the ordered [AccessLevel] enumeration and the opaque [Role]
// string supplied by the authorization collaborator. Filtering is integer comparison.
//
// 3. Cache bookkeeping:
//   - [CacheEntry] : One persisted collection partition with its content hash
//   - [SyncMetadata] : Last sync times and per-collection hashes
//   - [CacheStatistics] : Read-only snapshot for callers
//   - [SyncRun] : Persisted refresh history implementing [Model]
//
// Remote records are parsed with [DecodeSong] and [DecodeCollection], which
// tolerate the older song_* field names and numbers sent as JSON numbers.
package models
