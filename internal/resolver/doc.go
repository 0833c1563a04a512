// Package resolver is the single read path of the engine.
//
// Reads demote through tiers in a fixed order: the remote collections and the
// legacy partition, then the durable cache (fresh, then stale), then the bundled
// snapshot. Offline callers skip straight to the snapshot. A tier failure is logged
// and never returned, so every read yields a usable, possibly empty, result.
//
// Collection-first reads merge every accessible collection with the legacy
// partition. When a song number appears more than once, the copy from the first
// collection in key order wins and legacy copies lose to any collection.
package resolver
