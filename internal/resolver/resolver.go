package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/hymnal/internal/cache"
	"github.com/desertthunder/hymnal/internal/models"
	"github.com/desertthunder/hymnal/internal/services"
	"github.com/desertthunder/hymnal/internal/shared"
	"github.com/desertthunder/hymnal/internal/snapshot"
	"golang.org/x/time/rate"
)

// Source names the tier a result was served from.
type Source string

const (
	SourceRemoteCollections Source = "remote-collections"
	SourceRemoteLegacy      Source = "remote-legacy"
	SourceCache             Source = "cache"
	SourceStaleCache        Source = "stale-cache"
	SourceSnapshot          Source = "snapshot"
	SourceNone              Source = "none"
)

// Result is the answer to a song read. Songs is never nil.
type Result struct {
	Songs  []models.Song
	Online bool
	Source Source
}

// Page is one page of the legacy partition in key order.
type Page struct {
	Songs      []models.Song
	Online     bool
	HasMore    bool
	NextCursor string
	Source     Source
}

// Prober reports whether the remote store answers for an actor of the given role.
type Prober interface {
	IsOnline(ctx context.Context, role models.Role) bool
}

// RefreshTrigger starts a detached refresh of one partition.
// Implementations must return immediately.
type RefreshTrigger interface {
	TriggerBackgroundRefresh(collectionID string, role models.Role)
}

// Options configures remote layout, timeouts and fan-out.
type Options struct {
	LegacyPath         string
	CollectionsPath    string
	CollectionMetaPath string

	TimeoutPublic time.Duration
	TimeoutUser   time.Duration
	FlakyTimeout  time.Duration

	// FlakyCollections are looked up under several candidate paths.
	FlakyCollections []string

	FetchWorkers int
	FetchRate    float64 // partition reads per second, <= 0 is unlimited

	Logger *log.Logger
}

// OptionsFromConfig reads resolver options from config.
func OptionsFromConfig(cfg *shared.Config, logger *log.Logger) Options {
	return Options{
		LegacyPath:         cfg.Remote.LegacyPath,
		CollectionsPath:    cfg.Remote.CollectionsPath,
		CollectionMetaPath: cfg.Remote.CollectionMetaPath,
		TimeoutPublic:      cfg.Remote.TimeoutPublic.Duration,
		TimeoutUser:        cfg.Remote.TimeoutUser.Duration,
		FlakyTimeout:       cfg.Remote.FlakyTimeout.Duration,
		FlakyCollections:   cfg.Remote.FlakyCollections,
		FetchWorkers:       cfg.Sync.FetchWorkers,
		FetchRate:          cfg.Sync.FetchRate,
		Logger:             logger,
	}
}

// Resolver is the single read path over remote, cache and snapshot tiers.
type Resolver struct {
	store    services.RemoteStore
	probe    Prober
	cache    *cache.CollectionCache
	snapshot *snapshot.Snapshot
	opts     Options
	flaky    map[string]bool
	limiter  *rate.Limiter
	trigger  RefreshTrigger
	logger   *log.Logger

	// listMu serializes read-modify-write of the stored collection list.
	listMu sync.Mutex
}

// New creates a resolver. Zero options fall back to the stock remote layout,
// 20s/10s timeouts and four workers.
func New(store services.RemoteStore, probe Prober, c *cache.CollectionCache, snap *snapshot.Snapshot, opts Options) *Resolver {
	if opts.LegacyPath == "" {
		opts.LegacyPath = "songs"
	}
	if opts.CollectionsPath == "" {
		opts.CollectionsPath = "song_collection"
	}
	if opts.CollectionMetaPath == "" {
		opts.CollectionMetaPath = "song_collection_meta"
	}
	if opts.TimeoutPublic <= 0 {
		opts.TimeoutPublic = 20 * time.Second
	}
	if opts.TimeoutUser <= 0 {
		opts.TimeoutUser = 10 * time.Second
	}
	if opts.FlakyTimeout <= 0 {
		opts.FlakyTimeout = opts.TimeoutPublic + 5*time.Second
	}
	if opts.FetchWorkers <= 0 {
		opts.FetchWorkers = 4
	}

	limit := rate.Inf
	if opts.FetchRate > 0 {
		limit = rate.Limit(opts.FetchRate)
	}

	flaky := make(map[string]bool, len(opts.FlakyCollections))
	for _, id := range opts.FlakyCollections {
		flaky[id] = true
	}

	return &Resolver{
		store:    store,
		probe:    probe,
		cache:    c,
		snapshot: snap,
		opts:     opts,
		flaky:    flaky,
		limiter:  rate.NewLimiter(limit, opts.FetchWorkers),
		logger:   shared.WithLogger(opts.Logger, "component", "resolver"),
	}
}

// SetRefreshTrigger installs the hook called when a read is served from an entry near expiry.
func (r *Resolver) SetRefreshTrigger(t RefreshTrigger) {
	r.trigger = t
}

// GetAllSongs returns every song visible to role, merged across collections and the
// legacy partition with collection copies taking precedence.
//
// Offline callers get the bundled snapshot without consulting the cache.
func (r *Resolver) GetAllSongs(ctx context.Context, role models.Role) Result {
	if !r.probe.IsOnline(ctx, role) {
		return r.logResult("all", r.fromSnapshot(), role)
	}

	collections := r.accessibleCollections(ctx, role)
	parts := r.readPartitions(ctx, collections, role)
	if songs, source := mergeParts(parts); len(songs) > 0 {
		return r.logResult("all", Result{Songs: songs, Online: true, Source: source}, role)
	}

	r.logger.Warn("remote returned nothing, degrading", "role", role, "collections", len(collections))
	if songs := r.staleMerge(ctx, collections); len(songs) > 0 {
		return r.logResult("all", Result{Songs: songs, Online: false, Source: SourceStaleCache}, role)
	}
	return r.logResult("all", r.fromSnapshot(), role)
}

// GetSongsForCollection returns the songs of one collection if role may read it.
func (r *Resolver) GetSongsForCollection(ctx context.Context, id string, role models.Role) Result {
	if id == "" {
		return Result{Songs: []models.Song{}, Source: SourceNone}
	}
	if !r.probe.IsOnline(ctx, role) {
		return r.logResult(id, r.collectionFromSnapshot(id), role)
	}

	meta, known, reachable := r.collectionMeta(ctx, id)
	if !meta.Active() || !meta.Accessible(role.Access()) {
		r.logger.Info("collection not readable", "collection", id, "role", role,
			"required", meta.AccessLevel, "status", meta.Status, "known", known)
		if !reachable {
			return r.logResult(id, r.collectionFromSnapshot(id), role)
		}
		return Result{Songs: []models.Song{}, Online: true, Source: SourceNone}
	}

	if songs, ok := r.fromCache(ctx, id, role); ok {
		return r.logResult(id, Result{Songs: songs, Online: true, Source: SourceCache}, role)
	}

	songs, err := r.fetchCollection(ctx, id, role)
	if err != nil {
		r.logger.Warn("collection fetch failed", "collection", id, "error", err)
	} else if len(songs) > 0 {
		r.remember(ctx, id, songs)
		return r.logResult(id, Result{Songs: songs, Online: true, Source: SourceRemoteCollections}, role)
	}

	if songs, ok := r.cache.GetStale(ctx, id); ok {
		return r.logResult(id, Result{Songs: songs, Online: false, Source: SourceStaleCache}, role)
	}
	return r.logResult(id, r.collectionFromSnapshot(id), role)
}

// fromCache serves a fresh entry and asks for a background refresh when it is near expiry.
func (r *Resolver) fromCache(ctx context.Context, id string, role models.Role) ([]models.Song, bool) {
	entry, ok := r.cache.Lookup(ctx, id)
	if !ok {
		return nil, false
	}
	if r.trigger != nil && r.cache.NearExpiry(entry) {
		r.logger.Debug("entry near expiry, requesting background refresh", "collection", id)
		r.trigger.TriggerBackgroundRefresh(id, role)
	}
	return entry.Songs, true
}

func (r *Resolver) remember(ctx context.Context, id string, songs []models.Song) {
	if _, err := r.cache.Put(ctx, id, songs); err != nil {
		r.logger.Warn("failed to cache partition", "collection", id, "error", err)
	}
}

func (r *Resolver) fromSnapshot() Result {
	songs := r.snapshot.Songs()
	if len(songs) == 0 {
		return Result{Songs: []models.Song{}, Online: false, Source: SourceNone}
	}
	return Result{Songs: songs, Online: false, Source: SourceSnapshot}
}

func (r *Resolver) collectionFromSnapshot(id string) Result {
	if songs, ok := r.snapshot.Collection(id); ok {
		return Result{Songs: songs, Online: false, Source: SourceSnapshot}
	}
	return Result{Songs: []models.Song{}, Online: false, Source: SourceNone}
}

func (r *Resolver) logResult(scope string, res Result, role models.Role) Result {
	if res.Source == SourceNone {
		r.logger.Warn("every source tier failed", "scope", scope, "role", role)
	} else {
		r.logger.Debug("resolved songs", "scope", scope, "role", role, "source", res.Source,
			"songs", len(res.Songs), "online", res.Online)
	}
	return res
}

func (r *Resolver) timeout(role models.Role, id string) time.Duration {
	if r.flaky[id] {
		return r.opts.FlakyTimeout
	}
	if role.Anonymous() {
		return r.opts.TimeoutPublic
	}
	return r.opts.TimeoutUser
}
