// Package engine is the exposed API of the song data layer.
//
// An [Engine] owns one instance of every component (remote client, connectivity
// probe, cache, resolver, change detector and orchestrator) and ties their
// lifecycle to [Engine.Start] and [Engine.Close]. Reads never return errors: each
// answers with songs from the best tier that could serve them and an Online flag.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/hymnal/internal/cache"
	"github.com/desertthunder/hymnal/internal/connectivity"
	"github.com/desertthunder/hymnal/internal/models"
	"github.com/desertthunder/hymnal/internal/repositories"
	"github.com/desertthunder/hymnal/internal/resolver"
	"github.com/desertthunder/hymnal/internal/services"
	"github.com/desertthunder/hymnal/internal/shared"
	"github.com/desertthunder/hymnal/internal/snapshot"
	"github.com/desertthunder/hymnal/internal/tasks"
)

// Opts configures an [Engine]. Only Config is required; every other field
// replaces the component that would otherwise be built from it.
type Opts struct {
	Config     *shared.Config
	DB         *sql.DB
	Remote     services.RemoteStore
	Prober     resolver.Prober
	Snapshot   *snapshot.Snapshot
	HTTPClient *http.Client
	Now        func() time.Time
	Logger     *log.Logger
}

// Engine is the explicit context object replacing process-wide singletons.
type Engine struct {
	cfg      *shared.Config
	db       *sql.DB
	ownsDB   bool
	cache    *cache.CollectionCache
	resolver *resolver.Resolver
	detector *tasks.ChangeDetector
	orch     *tasks.Orchestrator
	logger   *log.Logger
}

// New builds an engine. The database schema is migrated; the cache format is
// migrated by [Engine.Start] or lazily by the first read.
func New(opts Opts) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = shared.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := shared.WithLogger(opts.Logger)

	db, ownsDB := opts.DB, false
	if db == nil {
		var err error
		if db, err = shared.NewDatabase(cfg.Database.Path); err != nil {
			return nil, err
		}
		shared.ConfigureDatabase(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		ownsDB = true
	}
	if err := shared.RunMigrations(db); err != nil {
		if ownsDB {
			db.Close()
		}
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	remote := opts.Remote
	if remote == nil {
		remote = services.NewDocumentStore(cfg.Remote.BaseURL, cfg.Remote.AuthToken, opts.HTTPClient)
	}

	probe := opts.Prober
	if probe == nil {
		probe = connectivity.NewProbe(remote, cfg.Remote.LegacyPath, connectivity.TimeoutsFromConfig(cfg.Probe), logger)
	}

	snap := opts.Snapshot
	if snap == nil {
		snap = snapshot.Bundled(logger)
	}

	cacheOpts := cache.OptionsFromConfig(cfg.Cache, logger)
	cacheOpts.Now = opts.Now
	c := cache.New(repositories.NewKVStore(db), cacheOpts)

	res := resolver.New(remote, probe, c, snap, resolver.OptionsFromConfig(cfg, logger))

	detector := tasks.NewChangeDetector(remote, c, tasks.DetectorOptions{
		MetadataPath: cfg.Remote.MetadataPath,
		Interval:     cfg.Sync.ChangeCheckInterval.Duration,
		Timeout:      cfg.Remote.TimeoutUser.Duration,
		Now:          opts.Now,
		Logger:       logger,
	})

	orch := tasks.NewOrchestrator(res, c, cache.NewMigrationGate(c, cache.DefaultSteps(), logger), detector,
		repositories.NewSyncRunRepository(db), tasks.OrchestratorOptions{
			Schedule: cfg.Sync.Schedule,
			Logger:   logger,
		})
	res.SetRefreshTrigger(orch)

	return &Engine{
		cfg:      cfg,
		db:       db,
		ownsDB:   ownsDB,
		cache:    c,
		resolver: res,
		detector: detector,
		orch:     orch,
		logger:   shared.WithLogger(logger, "component", "engine"),
	}, nil
}

// Start migrates the cache format and starts the refresh schedule.
func (e *Engine) Start(ctx context.Context) error {
	return e.orch.Start(ctx)
}

// Initialize migrates the cache format without starting the schedule.
func (e *Engine) Initialize(ctx context.Context, progress chan<- tasks.ProgressUpdate) error {
	return e.orch.Initialize(ctx, progress)
}

// CheckAndRefresh refreshes only when the change detector reports a change.
func (e *Engine) CheckAndRefresh(ctx context.Context) (bool, error) {
	return e.orch.CheckAndRefresh(ctx)
}

// Close stops background work and closes the database when the engine opened it.
func (e *Engine) Close() error {
	e.orch.Close()
	if e.ownsDB {
		return e.db.Close()
	}
	return nil
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *shared.Config { return e.cfg }

// GetAllSongs returns every song visible to role.
func (e *Engine) GetAllSongs(ctx context.Context, role models.Role) resolver.Result {
	e.ensureReady(ctx)
	return e.resolver.GetAllSongs(ctx, role)
}

// GetSongsForCollection returns one collection's songs when role may read it.
func (e *Engine) GetSongsForCollection(ctx context.Context, id string, role models.Role) resolver.Result {
	e.ensureReady(ctx)
	return e.resolver.GetSongsForCollection(ctx, id, role)
}

// GetPaginatedSongs returns one page of the legacy partition.
func (e *Engine) GetPaginatedSongs(ctx context.Context, pageSize int, cursor string) resolver.Page {
	e.ensureReady(ctx)
	return e.resolver.GetPaginatedSongs(ctx, pageSize, cursor)
}

// ForceRefresh re-reads everything visible to role and overwrites the cache.
func (e *Engine) ForceRefresh(ctx context.Context, role models.Role, progress chan<- tasks.ProgressUpdate) (resolver.RefreshReport, error) {
	return e.orch.ForceRefresh(ctx, role, progress)
}

// ClearCache drops every cached partition and the sync metadata.
func (e *Engine) ClearCache(ctx context.Context) error {
	return e.orch.ClearCache(ctx)
}

// EmergencyReset wipes the cache and sync metadata, then refreshes for role.
func (e *Engine) EmergencyReset(ctx context.Context, role models.Role, progress chan<- tasks.ProgressUpdate) (resolver.RefreshReport, error) {
	return e.orch.EmergencyReset(ctx, role, progress)
}

// HasRemoteChanged reports whether the remote store changed since the last check.
func (e *Engine) HasRemoteChanged(ctx context.Context) bool {
	return e.detector.HasRemoteChangedSinceLastCheck(ctx)
}

// GetCacheStatistics describes the cache tiers, orchestrator state and recent runs.
func (e *Engine) GetCacheStatistics(ctx context.Context) models.CacheStatistics {
	stats, err := e.cache.Statistics(ctx)
	if err != nil {
		e.logger.Warn("cache statistics incomplete", "error", err)
	}

	stats.State = e.orch.State().String()
	stats.RefreshInFlight = e.orch.RefreshInFlight()

	if md, err := e.cache.Metadata(ctx); err == nil {
		stats.LastMetadataCheck = md.LastMetadataCheck
		if stats.LastFullSync.IsZero() {
			stats.LastFullSync = md.LastFullSync
		}
	}

	runs, err := e.orch.RecentRuns(5)
	if err != nil {
		e.logger.Warn("failed to list recent runs", "error", err)
		runs = []*models.SyncRun{}
	}
	stats.RecentRuns = runs
	return stats
}

func (e *Engine) ensureReady(ctx context.Context) {
	if e.orch.State() == tasks.StateReady {
		return
	}
	if err := e.orch.Initialize(ctx, nil); err != nil {
		e.logger.Error("cache migration failed, serving reads anyway", "error", err)
	}
}
