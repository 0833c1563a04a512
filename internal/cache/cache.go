package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/hymnal/internal/models"
	"github.com/desertthunder/hymnal/internal/repositories"
	"github.com/desertthunder/hymnal/internal/shared"
)

// Durable store keys.
const (
	EntryPrefix      = "song_cache_"
	HashPrefix       = "cache_hash_"
	KeyAvailable     = "cache_available_collections"
	KeyLastSync      = "cache_last_sync"
	KeySchemaVersion = "cache_schema_version"
	KeyMetadata      = "sync_metadata"
	KeyCollections   = "cache_collection_meta"
)

// LegacyID is the reserved partition id under which the flat legacy song list is cached.
const LegacyID = "_legacy"

// Options configures a [CollectionCache].
type Options struct {
	MemoryTTL        time.Duration
	DurableTTL       time.Duration
	RefreshThreshold float64 // fraction of DurableTTL after which an entry counts as near expiry
	SchemaVersion    int
	Now              func() time.Time
	Logger           *log.Logger
}

// OptionsFromConfig builds cache options from config.
func OptionsFromConfig(cfg shared.CacheConfig, logger *log.Logger) Options {
	return Options{
		MemoryTTL:        cfg.MemoryTTL.Duration,
		DurableTTL:       cfg.DurableTTL.Duration,
		RefreshThreshold: cfg.RefreshThreshold,
		SchemaVersion:    cfg.SchemaVersion,
		Logger:           logger,
	}
}

type memoryEntry struct {
	entry    models.CacheEntry
	loadedAt time.Time
}

// CollectionCache is a two-tier cache of per-collection song lists.
type CollectionCache struct {
	kv     *repositories.KVStore
	opts   Options
	logger *log.Logger

	mu     sync.RWMutex
	memory map[string]memoryEntry

	metaMu  sync.Mutex
	indexMu sync.Mutex

	entryWrites atomic.Int64
}

// New creates a cache over kv. Zero TTLs fall back to 30 minutes (memory) and 7 days (durable).
func New(kv *repositories.KVStore, opts Options) *CollectionCache {
	if opts.MemoryTTL <= 0 {
		opts.MemoryTTL = 30 * time.Minute
	}
	if opts.DurableTTL <= 0 {
		opts.DurableTTL = 7 * 24 * time.Hour
	}
	if opts.RefreshThreshold <= 0 || opts.RefreshThreshold > 1 {
		opts.RefreshThreshold = 0.95
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &CollectionCache{
		kv:     kv,
		opts:   opts,
		logger: shared.WithLogger(opts.Logger, "component", "cache"),
		memory: map[string]memoryEntry{},
	}
}

// SchemaVersion is the cache format version this build writes.
func (c *CollectionCache) SchemaVersion() int { return c.opts.SchemaVersion }

// Now reads the cache's clock.
func (c *CollectionCache) Now() time.Time { return c.opts.Now() }

// DurableTTL is the validity window of durable entries.
func (c *CollectionCache) DurableTTL() time.Duration { return c.opts.DurableTTL }

// Get returns the songs cached for id when the entry is still within its validity window.
func (c *CollectionCache) Get(ctx context.Context, id string) ([]models.Song, bool) {
	entry, ok := c.Lookup(ctx, id)
	if !ok {
		return nil, false
	}
	return entry.Songs, true
}

// Lookup returns the fresh entry for id from the memory tier, then the durable tier.
// The returned song slice is a copy.
func (c *CollectionCache) Lookup(ctx context.Context, id string) (models.CacheEntry, bool) {
	entry, ok := c.fromMemory(id)
	if !ok {
		var err error
		if entry, err = c.GetEntry(ctx, id); err != nil || !c.Fresh(entry) {
			return models.CacheEntry{}, false
		}
	}
	entry.Songs = cloneSongs(entry.Songs)
	return entry, true
}

// GetStale returns the songs cached for id regardless of age, for degraded-mode output.
func (c *CollectionCache) GetStale(ctx context.Context, id string) ([]models.Song, bool) {
	entry, err := c.GetEntry(ctx, id)
	if err != nil {
		return nil, false
	}
	return cloneSongs(entry.Songs), true
}

// GetEntry reads the durable entry for id at any age.
//
// Entries that fail to decode, hold zero songs, or carry another schema version
// are removed before the error is returned.
func (c *CollectionCache) GetEntry(ctx context.Context, id string) (models.CacheEntry, error) {
	raw, err := c.kv.Get(ctx, EntryPrefix+id)
	if err != nil {
		return models.CacheEntry{}, err
	}

	var entry models.CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.evict(ctx, id, "undecodable entry")
		return models.CacheEntry{}, fmt.Errorf("%w: %s: %v", shared.ErrCacheCorrupt, id, err)
	}
	if len(entry.Songs) == 0 {
		c.evict(ctx, id, "empty entry")
		return models.CacheEntry{}, fmt.Errorf("%w: %s has no songs", shared.ErrCacheCorrupt, id)
	}
	if entry.SchemaVersion != c.opts.SchemaVersion {
		c.evict(ctx, id, "schema version mismatch")
		return models.CacheEntry{}, fmt.Errorf("%w: %s is version %d, want %d",
			shared.ErrVersionMismatch, id, entry.SchemaVersion, c.opts.SchemaVersion)
	}

	c.remember(entry)
	return entry, nil
}

// Fresh reports whether entry is inside the durable validity window.
func (c *CollectionCache) Fresh(entry models.CacheEntry) bool {
	return !entry.Expired(c.opts.Now(), c.opts.DurableTTL)
}

// NearExpiry reports whether entry has aged past the refresh threshold.
func (c *CollectionCache) NearExpiry(entry models.CacheEntry) bool {
	return entry.NearExpiry(c.opts.Now(), c.opts.DurableTTL, c.opts.RefreshThreshold)
}

// Put caches songs for id and reports whether a durable write happened.
//
// The write is skipped when the content hash matches the stored hash and the
// stored entry has not reached the refresh threshold. Empty lists are never stored.
func (c *CollectionCache) Put(ctx context.Context, id string, songs []models.Song) (bool, error) {
	return c.store(ctx, id, songs, false)
}

// Overwrite caches songs for id without the hash comparison.
func (c *CollectionCache) Overwrite(ctx context.Context, id string, songs []models.Song) error {
	_, err := c.store(ctx, id, songs, true)
	return err
}

func (c *CollectionCache) store(ctx context.Context, id string, songs []models.Song, force bool) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("%w: collection id is required", shared.ErrInvalidArgument)
	}
	if len(songs) == 0 {
		c.logger.Debug("refusing to cache empty partition", "collection", id)
		return false, nil
	}

	hash, err := shared.ContentHash(songs)
	if err != nil {
		return false, fmt.Errorf("failed to hash songs: %w", err)
	}

	if !force {
		stored, err := c.kv.Get(ctx, HashPrefix+id)
		if err == nil && stored == hash {
			if existing, err := c.GetEntry(ctx, id); err == nil && !c.NearExpiry(existing) {
				c.logger.Debug("content unchanged, skipping durable write", "collection", id)
				return false, nil
			}
		}
	}

	entry := models.CacheEntry{
		CollectionID:  id,
		Songs:         cloneSongs(songs),
		CapturedAt:    c.opts.Now().UTC(),
		ContentHash:   hash,
		SchemaVersion: c.opts.SchemaVersion,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("failed to encode entry: %w", err)
	}
	if err := c.kv.Set(ctx, EntryPrefix+id, string(data)); err != nil {
		return false, err
	}
	c.entryWrites.Add(1)

	if err := c.kv.Set(ctx, HashPrefix+id, hash); err != nil {
		return true, err
	}
	if err := c.addAvailable(ctx, id); err != nil {
		return true, err
	}

	c.remember(entry)
	c.logger.Debug("cached partition", "collection", id, "songs", len(songs), "forced", force)
	return true, nil
}

// Invalidate removes id from both tiers.
func (c *CollectionCache) Invalidate(ctx context.Context, id string) error {
	c.forget(id)

	if err := c.kv.Delete(ctx, EntryPrefix+id); err != nil {
		return err
	}
	if err := c.kv.Delete(ctx, HashPrefix+id); err != nil {
		return err
	}
	return c.removeAvailable(ctx, id)
}

// ListAvailableIDs returns the ids with a durable entry, sorted.
// A missing or unreadable index is rebuilt from the entry keys.
func (c *CollectionCache) ListAvailableIDs(ctx context.Context) ([]string, error) {
	raw, err := c.kv.Get(ctx, KeyAvailable)
	if err == nil {
		var ids []string
		if json.Unmarshal([]byte(raw), &ids) == nil {
			sort.Strings(ids)
			return ids, nil
		}
		c.logger.Warn("available collections index is unreadable, rebuilding")
	} else if !errors.Is(err, shared.ErrCacheMiss) {
		return nil, err
	}

	return c.RebuildIndex(ctx)
}

// RebuildIndex rewrites the available-collections index and the per-collection hash
// keys from the entries present in the durable store.
func (c *CollectionCache) RebuildIndex(ctx context.Context) ([]string, error) {
	keys, err := c.kv.Keys(ctx, EntryPrefix)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		id := key[len(EntryPrefix):]
		entry, err := c.GetEntry(ctx, id)
		if err != nil {
			c.logger.Debug("dropping entry from index", "collection", id, "error", err)
			continue
		}
		if stored, err := c.kv.Get(ctx, HashPrefix+id); err != nil || stored != entry.ContentHash {
			if err := c.kv.Set(ctx, HashPrefix+id, entry.ContentHash); err != nil {
				return nil, err
			}
		}
		ids = append(ids, id)
	}

	sort.Strings(ids)
	c.indexMu.Lock()
	err = c.writeAvailable(ctx, ids)
	c.indexMu.Unlock()
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Clear drops every entry, hash, index and sync bookkeeping key. The schema version is kept.
func (c *CollectionCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.memory = map[string]memoryEntry{}
	c.mu.Unlock()

	for _, prefix := range []string{EntryPrefix, HashPrefix} {
		if _, err := c.kv.DeletePrefix(ctx, prefix); err != nil {
			return err
		}
	}
	for _, key := range []string{KeyAvailable, KeyLastSync, KeyMetadata, KeyCollections} {
		if err := c.kv.Delete(ctx, key); err != nil {
			return err
		}
	}

	c.logger.Info("cache cleared")
	return nil
}

// PutCollections stores the collection list seen on the last successful enumeration.
func (c *CollectionCache) PutCollections(ctx context.Context, collections []models.Collection) error {
	data, err := json.Marshal(collections)
	if err != nil {
		return fmt.Errorf("failed to encode collections: %w", err)
	}
	if stored, err := c.kv.Get(ctx, KeyCollections); err == nil && stored == string(data) {
		return nil
	}
	return c.kv.Set(ctx, KeyCollections, string(data))
}

// Collections returns the stored collection list. A missing or unreadable list is a miss.
func (c *CollectionCache) Collections(ctx context.Context) ([]models.Collection, error) {
	raw, err := c.kv.Get(ctx, KeyCollections)
	if err != nil {
		return nil, err
	}
	var collections []models.Collection
	if err := json.Unmarshal([]byte(raw), &collections); err != nil {
		c.logger.Warn("evicting unreadable collection list", "error", err)
		c.kv.Delete(ctx, KeyCollections)
		return nil, fmt.Errorf("%w: collection list: %v", shared.ErrCacheCorrupt, err)
	}
	return collections, nil
}

// MarkSynced records the time of the last completed full sync.
func (c *CollectionCache) MarkSynced(ctx context.Context, at time.Time) error {
	return c.kv.Set(ctx, KeyLastSync, at.UTC().Format(time.RFC3339Nano))
}

// LastSync returns the time recorded by [CollectionCache.MarkSynced], or zero.
func (c *CollectionCache) LastSync(ctx context.Context) time.Time {
	raw, err := c.kv.Get(ctx, KeyLastSync)
	if err != nil {
		return time.Time{}
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return at
}

// StoredVersion returns the persisted cache format version; an absent key is version 0.
func (c *CollectionCache) StoredVersion(ctx context.Context) (int, error) {
	raw, err := c.kv.Get(ctx, KeySchemaVersion)
	if errors.Is(err, shared.ErrCacheMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		c.logger.Warn("unreadable schema version, treating as 0", "value", raw)
		return 0, nil
	}
	return v, nil
}

func (c *CollectionCache) setStoredVersion(ctx context.Context, v int) error {
	return c.kv.Set(ctx, KeySchemaVersion, strconv.Itoa(v))
}

// Statistics reports the cache's tiers for the engine's statistics call.
func (c *CollectionCache) Statistics(ctx context.Context) (models.CacheStatistics, error) {
	stats := models.CacheStatistics{
		SchemaVersion: c.opts.SchemaVersion,
		DurableWrites: c.entryWrites.Load(),
		LastFullSync:  c.LastSync(ctx),
		Entries:       []models.EntryStat{},
	}

	c.mu.RLock()
	stats.MemoryEntries = len(c.memory)
	c.mu.RUnlock()

	ids, err := c.ListAvailableIDs(ctx)
	if err != nil {
		return stats, err
	}

	now := c.opts.Now()
	for _, id := range ids {
		entry, err := c.GetEntry(ctx, id)
		if err != nil {
			continue
		}
		stats.DurableEntries++
		stats.TotalSongs += len(entry.Songs)
		stats.Entries = append(stats.Entries, models.EntryStat{
			CollectionID: id,
			Songs:        len(entry.Songs),
			Age:          entry.Age(now),
			Expired:      entry.Expired(now, c.opts.DurableTTL),
			ContentHash:  entry.ContentHash,
		})
	}
	return stats, nil
}

// DurableWrites returns the number of entry payloads written to the durable tier.
func (c *CollectionCache) DurableWrites() int64 {
	return c.entryWrites.Load()
}

func (c *CollectionCache) fromMemory(id string) (models.CacheEntry, bool) {
	c.mu.RLock()
	mem, ok := c.memory[id]
	c.mu.RUnlock()
	if !ok {
		return models.CacheEntry{}, false
	}

	now := c.opts.Now()
	if now.Sub(mem.loadedAt) > c.opts.MemoryTTL || mem.entry.Expired(now, c.opts.DurableTTL) {
		c.forget(id)
		return models.CacheEntry{}, false
	}
	return mem.entry, true
}

func (c *CollectionCache) remember(entry models.CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memory[entry.CollectionID] = memoryEntry{entry: entry, loadedAt: c.opts.Now()}
}

func (c *CollectionCache) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.memory, id)
}

func (c *CollectionCache) evict(ctx context.Context, id, reason string) {
	c.logger.Warn("evicting corrupt cache entry", "collection", id, "reason", reason)
	if err := c.Invalidate(ctx, id); err != nil {
		c.logger.Warn("failed to evict cache entry", "collection", id, "error", err)
	}
}

func (c *CollectionCache) addAvailable(ctx context.Context, id string) error {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	ids, err := c.readAvailable(ctx)
	if err != nil {
		return err
	}
	i := sort.SearchStrings(ids, id)
	if i < len(ids) && ids[i] == id {
		return nil
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return c.writeAvailable(ctx, ids)
}

func (c *CollectionCache) removeAvailable(ctx context.Context, id string) error {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	ids, err := c.readAvailable(ctx)
	if err != nil {
		return err
	}
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	if len(out) == len(ids) {
		return nil
	}
	return c.writeAvailable(ctx, out)
}

func (c *CollectionCache) readAvailable(ctx context.Context) ([]string, error) {
	raw, err := c.kv.Get(ctx, KeyAvailable)
	if errors.Is(err, shared.ErrCacheMiss) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return []string{}, nil
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *CollectionCache) writeAvailable(ctx context.Context, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	return c.kv.Set(ctx, KeyAvailable, string(data))
}

// cloneSongs copies songs down to their verses so callers never share the memory tier's arrays.
func cloneSongs(songs []models.Song) []models.Song {
	if songs == nil {
		return nil
	}
	out := make([]models.Song, len(songs))
	copy(out, songs)
	for i := range out {
		out[i].Verses = slices.Clone(out[i].Verses)
	}
	return out
}
