package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/hymnal/internal/cache"
	"github.com/desertthunder/hymnal/internal/models"
	"github.com/desertthunder/hymnal/internal/repositories"
	"github.com/desertthunder/hymnal/internal/resolver"
	"github.com/desertthunder/hymnal/internal/shared"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

// State is the orchestrator lifecycle stage.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

const refreshKey = "refresh"

// BackgroundResult is the outcome of one detached partition refresh.
type BackgroundResult struct {
	CollectionID string
	Role         models.Role
	Songs        int
	Err          error
	Duration     time.Duration
	run          *models.SyncRun
}

// OrchestratorOptions configures scheduling and background work.
type OrchestratorOptions struct {
	Schedule          string      // cron spec (minute hour dom month dow), empty disables scheduling
	ScheduleRole      models.Role // role used by scheduled refreshes
	BackgroundTimeout time.Duration
	Logger            *log.Logger
}

// Orchestrator owns refresh lifecycles: startup migration, foreground and
// background refreshes, emergency resets and the refresh schedule.
//
// At most one foreground refresh runs at a time; concurrent callers share its result.
type Orchestrator struct {
	resolver *resolver.Resolver
	cache    *cache.CollectionCache
	gate     *cache.MigrationGate
	detector *ChangeDetector
	runs     *repositories.SyncRunRepository
	opts     OrchestratorOptions
	logger   *log.Logger

	state    atomic.Int32
	initMu   sync.Mutex
	flight   singleflight.Group
	inFlight atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	bgMu     sync.Mutex
	pending  map[string]bool
	closed   bool
	results  chan BackgroundResult
	bg       sync.WaitGroup
	observed chan struct{}

	cronMu  sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewOrchestrator wires an orchestrator. runs may be nil to skip run history.
func NewOrchestrator(
	res *resolver.Resolver,
	c *cache.CollectionCache,
	gate *cache.MigrationGate,
	detector *ChangeDetector,
	runs *repositories.SyncRunRepository,
	opts OrchestratorOptions,
) *Orchestrator {
	if opts.ScheduleRole == "" {
		opts.ScheduleRole = models.RoleGuest
	}
	if opts.BackgroundTimeout <= 0 {
		opts.BackgroundTimeout = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		resolver: res,
		cache:    c,
		gate:     gate,
		detector: detector,
		runs:     runs,
		opts:     opts,
		logger:   shared.WithLogger(opts.Logger, "component", "orchestrator"),
		ctx:      ctx,
		cancel:   cancel,
		pending:  map[string]bool{},
		results:  make(chan BackgroundResult, 16),
		observed: make(chan struct{}),
	}
	go o.observe()
	return o
}

// State returns the lifecycle stage.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// RefreshInFlight reports whether a foreground refresh is running.
func (o *Orchestrator) RefreshInFlight() bool { return o.inFlight.Load() }

// Initialize runs the migration gate and loads sync metadata. It is a no-op once ready.
// A failed migration leaves the orchestrator uninitialized so the next call retries.
func (o *Orchestrator) Initialize(ctx context.Context, progress chan<- ProgressUpdate) error {
	o.initMu.Lock()
	defer o.initMu.Unlock()

	if o.State() == StateReady {
		return nil
	}
	o.state.Store(int32(StateInitializing))

	applied, err := o.gate.Run(ctx)
	if err != nil {
		o.state.Store(int32(StateUninitialized))
		return err
	}
	sendProgress(progress, migrateUpdate(applied))

	if _, err := o.cache.Metadata(ctx); err != nil {
		o.logger.Warn("failed to load sync metadata", "error", err)
	}

	o.state.Store(int32(StateReady))
	o.logger.Info("orchestrator ready", "migrations", len(applied))
	return nil
}

// ForceRefresh re-reads everything visible to role from the remote store, bypassing
// TTL and hash checks. A caller arriving while a refresh runs waits for that one.
func (o *Orchestrator) ForceRefresh(ctx context.Context, role models.Role, progress chan<- ProgressUpdate) (resolver.RefreshReport, error) {
	return o.refreshOnce(ctx, models.TriggerForeground, role, progress)
}

// EmergencyReset wipes every cache entry and the sync metadata, then refreshes.
// A refresh already in flight is allowed to finish first.
func (o *Orchestrator) EmergencyReset(ctx context.Context, role models.Role, progress chan<- ProgressUpdate) (resolver.RefreshReport, error) {
	for {
		ran := false
		v, err, _ := o.flight.Do(refreshKey, func() (any, error) {
			ran = true
			o.inFlight.Store(true)
			defer o.inFlight.Store(false)

			sendProgress(progress, resetUpdate())
			o.logger.Warn("emergency reset requested", "role", role)
			if err := o.cache.Clear(ctx); err != nil {
				return resolver.RefreshReport{}, fmt.Errorf("failed to wipe cache: %w", err)
			}
			if err := o.cache.SaveMetadata(ctx, models.NewSyncMetadata(o.cache.SchemaVersion())); err != nil {
				return resolver.RefreshReport{}, fmt.Errorf("failed to reset sync metadata: %w", err)
			}
			o.detector.Reset()

			return o.refresh(ctx, models.TriggerReset, role, progress)
		})
		if ran {
			report, _ := v.(resolver.RefreshReport)
			return report, err
		}
		if err := ctx.Err(); err != nil {
			return resolver.RefreshReport{}, err
		}
	}
}

// ClearCache wipes cache entries and sync metadata without refreshing.
func (o *Orchestrator) ClearCache(ctx context.Context) error {
	if err := o.cache.Clear(ctx); err != nil {
		return err
	}
	o.detector.Reset()
	return nil
}

// CheckAndRefresh refreshes with the schedule role when the remote store reports a
// change. It returns whether a refresh ran.
func (o *Orchestrator) CheckAndRefresh(ctx context.Context) (bool, error) {
	if !o.detector.HasRemoteChangedSinceLastCheck(ctx) {
		o.logger.Debug("remote unchanged, skipping scheduled refresh")
		o.recordSkipped(models.TriggerScheduled, o.opts.ScheduleRole)
		return false, nil
	}
	_, err := o.refreshOnce(ctx, models.TriggerScheduled, o.opts.ScheduleRole, nil)
	return true, err
}

// TriggerBackgroundRefresh starts a detached refresh of one partition and returns at once.
// Duplicate requests for a partition already refreshing are dropped, as are requests
// made while a foreground refresh runs or after Close.
func (o *Orchestrator) TriggerBackgroundRefresh(collectionID string, role models.Role) {
	if o.inFlight.Load() {
		o.logger.Debug("foreground refresh running, dropping background request", "collection", collectionID)
		return
	}

	o.bgMu.Lock()
	if o.closed || o.pending[collectionID] {
		o.bgMu.Unlock()
		return
	}
	o.pending[collectionID] = true
	o.bg.Add(1)
	o.bgMu.Unlock()

	go func() {
		run := o.beginRun(models.TriggerBackground, role)
		start := time.Now()

		ctx, cancel := context.WithTimeout(o.ctx, o.opts.BackgroundTimeout)
		defer cancel()

		n, err := o.resolver.RefreshPartition(ctx, collectionID, role)
		o.results <- BackgroundResult{
			CollectionID: collectionID,
			Role:         role,
			Songs:        n,
			Err:          err,
			Duration:     time.Since(start),
			run:          run,
		}
	}()
}

// WaitBackground blocks until every triggered background refresh has been observed.
func (o *Orchestrator) WaitBackground() {
	o.bg.Wait()
}

// observe consumes background completions: it logs them, records their runs and
// stamps the sync metadata.
func (o *Orchestrator) observe() {
	defer close(o.observed)

	for res := range o.results {
		if res.Err != nil {
			o.logger.Warn("background refresh failed", "collection", res.CollectionID, "error", res.Err)
		} else {
			o.logger.Info("background refresh complete", "collection", res.CollectionID,
				"songs", res.Songs, "duration", res.Duration)

			err := o.cache.UpdateMetadata(o.ctx, func(md *models.SyncMetadata) {
				if md.PartitionSyncs == nil {
					md.PartitionSyncs = map[string]time.Time{}
				}
				md.PartitionSyncs[res.CollectionID] = o.cache.Now().UTC()
			})
			if err != nil {
				o.logger.Warn("failed to update sync metadata", "error", err)
			}
		}

		collections := 0
		if res.Err == nil && res.CollectionID != cache.LegacyID {
			collections = 1
		}
		o.finishRun(res.run, collections, res.Songs, res.Err)

		o.bgMu.Lock()
		delete(o.pending, res.CollectionID)
		o.bgMu.Unlock()
		o.bg.Done()
	}
}

// Start initializes the orchestrator and starts the refresh schedule when one is configured.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.Initialize(ctx, nil); err != nil {
		return err
	}

	o.cronMu.Lock()
	defer o.cronMu.Unlock()

	if o.running || o.opts.Schedule == "" {
		return nil
	}

	c := cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)))
	if _, err := c.AddFunc(o.opts.Schedule, o.scheduled); err != nil {
		return fmt.Errorf("%w: invalid schedule %q: %v", shared.ErrInvalidConfig, o.opts.Schedule, err)
	}
	c.Start()
	o.cron, o.running = c, true

	o.logger.Info("refresh schedule started", "schedule", o.opts.Schedule, "next", c.Entries()[0].Next)
	return nil
}

// Stop halts the schedule and waits for a running scheduled job.
func (o *Orchestrator) Stop() {
	o.cronMu.Lock()
	defer o.cronMu.Unlock()

	if !o.running {
		return
	}
	<-o.cron.Stop().Done()
	o.running = false
	o.logger.Info("refresh schedule stopped")
}

// Close stops the schedule, cancels detached work and waits for it to be observed.
func (o *Orchestrator) Close() {
	o.Stop()
	o.cancel()

	o.bgMu.Lock()
	if o.closed {
		o.bgMu.Unlock()
		return
	}
	o.closed = true
	o.bgMu.Unlock()

	o.bg.Wait()
	close(o.results)
	<-o.observed
}

// RecentRuns returns up to limit recorded runs, newest first.
func (o *Orchestrator) RecentRuns(limit int) ([]*models.SyncRun, error) {
	if o.runs == nil {
		return []*models.SyncRun{}, nil
	}
	return o.runs.List(map[string]any{"limit": limit})
}

func (o *Orchestrator) scheduled() {
	if _, err := o.CheckAndRefresh(o.ctx); err != nil {
		o.logger.Warn("scheduled refresh failed", "error", err)
	}
}

// refreshOnce runs a refresh through the single-flight guard.
func (o *Orchestrator) refreshOnce(ctx context.Context, trigger models.SyncTrigger, role models.Role, progress chan<- ProgressUpdate) (resolver.RefreshReport, error) {
	v, err, joined := o.flight.Do(refreshKey, func() (any, error) {
		o.inFlight.Store(true)
		defer o.inFlight.Store(false)
		return o.refresh(ctx, trigger, role, progress)
	})
	if joined {
		o.logger.Debug("joined in-flight refresh", "trigger", trigger, "role", role)
	}
	report, _ := v.(resolver.RefreshReport)
	return report, err
}

func (o *Orchestrator) refresh(ctx context.Context, trigger models.SyncTrigger, role models.Role, progress chan<- ProgressUpdate) (resolver.RefreshReport, error) {
	if err := o.Initialize(ctx, progress); err != nil {
		o.logger.Warn("refreshing without a migrated cache", "error", err)
	}

	run := o.beginRun(trigger, role)
	sendProgress(progress, refreshStartUpdate(trigger, role))

	report, err := o.resolver.Refresh(ctx, role)
	o.finishRun(run, report.Collections, report.Songs, err)
	if err != nil {
		if errors.Is(err, shared.ErrRefreshUnavailable) {
			o.logger.Info("refresh skipped, remote unreachable", "trigger", trigger)
		} else {
			o.logger.Error("refresh failed", "trigger", trigger, "error", err)
		}
		sendProgress(progress, refreshFailedUpdate(err))
		return report, err
	}

	if err := o.cache.UpdateMetadata(ctx, func(md *models.SyncMetadata) {
		md.LastFullSync = o.cache.Now().UTC()
		md.LastChanged = false
	}); err != nil {
		o.logger.Warn("failed to update sync metadata", "error", err)
	}

	sendProgress(progress, refreshDoneUpdate(report.Collections, report.Songs))
	if run != nil {
		sendProgress(progress, completeUpdate(run))
	}
	return report, nil
}

func (o *Orchestrator) beginRun(trigger models.SyncTrigger, role models.Role) *models.SyncRun {
	if o.runs == nil {
		return nil
	}
	run := models.NewSyncRun(0, trigger, string(role))
	run.Start()
	if err := o.runs.Create(run); err != nil {
		o.logger.Warn("failed to record sync run", "error", err)
		return nil
	}
	return run
}

func (o *Orchestrator) finishRun(run *models.SyncRun, collections, songs int, err error) {
	if run == nil {
		return
	}
	run.Finish(collections, songs, err)
	if err := o.runs.Update(run); err != nil {
		o.logger.Warn("failed to update sync run", "run", run.ID(), "error", err)
	}
}

func (o *Orchestrator) recordSkipped(trigger models.SyncTrigger, role models.Role) {
	if o.runs == nil {
		return
	}
	run := models.NewSyncRun(0, trigger, string(role))
	run.SetStatus(models.SyncSkipped)
	if err := o.runs.Create(run); err != nil {
		o.logger.Warn("failed to record skipped run", "error", err)
	}
}
