package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"maps"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/hymnal/internal/cache"
	"github.com/desertthunder/hymnal/internal/models"
	"github.com/desertthunder/hymnal/internal/services"
	"github.com/desertthunder/hymnal/internal/shared"
	"golang.org/x/time/rate"
)

// DetectorOptions configures where change markers live and how often they are read.
type DetectorOptions struct {
	MetadataPath     string        // record with a "collections" map of id -> hash or timestamp
	GlobalMarkerPath string        // single last-modified marker used when the record is absent
	Interval         time.Duration // minimum time between remote checks
	Timeout          time.Duration
	Now              func() time.Time
	Logger           *log.Logger
}

// remoteMarkers is the remote change record. Collection values are compared as
// compact JSON so hashes, timestamps and small objects all work.
type remoteMarkers struct {
	Collections  map[string]json.RawMessage `json:"collections"`
	LastModified json.RawMessage            `json:"last_modified"`
}

// ChangeDetector answers whether the remote tree changed since the last check.
type ChangeDetector struct {
	store   services.RemoteStore
	cache   *cache.CollectionCache
	opts    DetectorOptions
	limiter *rate.Limiter
	logger  *log.Logger

	mu       sync.Mutex
	last     bool
	checked  bool
	restored bool
}

// NewChangeDetector creates a detector. Zero options check "sync_metadata" and
// "last_modified" at most every six hours.
func NewChangeDetector(store services.RemoteStore, c *cache.CollectionCache, opts DetectorOptions) *ChangeDetector {
	if opts.MetadataPath == "" {
		opts.MetadataPath = "sync_metadata"
	}
	if opts.GlobalMarkerPath == "" {
		opts.GlobalMarkerPath = "last_modified"
	}
	if opts.Interval <= 0 {
		opts.Interval = 6 * time.Hour
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &ChangeDetector{
		store:   store,
		cache:   c,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(opts.Interval), 1),
		logger:  shared.WithLogger(opts.Logger, "component", "detector"),
	}
}

// HasRemoteChangedSinceLastCheck compares the remote change markers with the stored
// baseline. Calls arriving within the interval return the previous answer without
// touching the remote store, including calls from a detector built after the last
// check was persisted. Failed checks report a change.
func (d *ChangeDetector) HasRemoteChangedSinceLastCheck(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.restored {
		d.restored = true
		d.restore(ctx)
	}

	if !d.limiter.AllowN(d.opts.Now(), 1) {
		d.logger.Debug("change check rate limited, returning last answer", "changed", d.last)
		if !d.checked {
			return true
		}
		return d.last
	}

	changed := d.check(ctx)
	d.last, d.checked = changed, true
	return changed
}

// Reset forgets the last answer and lets the next call check immediately.
func (d *ChangeDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last, d.checked, d.restored = false, false, true
	d.limiter = rate.NewLimiter(rate.Every(d.opts.Interval), 1)
}

// restore picks up the answer of a check persisted within the current interval and
// spends the limiter's token at that check's time.
func (d *ChangeDetector) restore(ctx context.Context) {
	md, err := d.cache.Metadata(ctx)
	if err != nil {
		d.logger.Debug("no stored change baseline", "error", err)
		return
	}
	at := md.LastMetadataCheck
	if at.IsZero() {
		return
	}

	elapsed := d.opts.Now().Sub(at)
	if elapsed < 0 || elapsed >= d.opts.Interval {
		return
	}
	d.limiter.AllowN(at, 1)
	d.last, d.checked = md.LastChanged, true
	d.logger.Debug("restored last change check", "checked_at", at, "changed", md.LastChanged)
}

func (d *ChangeDetector) check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	var markers remoteMarkers
	found, err := d.store.Get(ctx, d.opts.MetadataPath, &markers)
	if err != nil {
		d.logger.Warn("change markers unreadable, assuming changed", "error", err)
		d.record(ctx, func(md *models.SyncMetadata) { md.LastChanged = true })
		return true
	}

	if found && len(markers.Collections) > 0 {
		return d.compareCollections(ctx, markers.Collections)
	}

	global := markers.LastModified
	if len(global) == 0 {
		var raw json.RawMessage
		ok, err := d.store.Get(ctx, d.opts.GlobalMarkerPath, &raw)
		if err != nil || !ok {
			d.logger.Warn("no change markers available, assuming changed", "error", err)
			d.record(ctx, func(md *models.SyncMetadata) { md.LastChanged = true })
			return true
		}
		global = raw
	}
	return d.compareGlobal(ctx, signature(global))
}

func (d *ChangeDetector) compareCollections(ctx context.Context, remote map[string]json.RawMessage) bool {
	current := make(map[string]string, len(remote))
	for id, raw := range remote {
		current[id] = signature(raw)
	}

	changed := true
	d.record(ctx, func(md *models.SyncMetadata) {
		changed = !maps.Equal(md.CollectionHashes, current)
		if changed {
			for id, sig := range current {
				if md.CollectionHashes[id] != sig {
					d.logger.Info("collection changed", "collection", id)
				}
			}
		}
		md.CollectionHashes = current
		md.LastChanged = changed
	})
	return changed
}

func (d *ChangeDetector) compareGlobal(ctx context.Context, marker string) bool {
	changed := true
	d.record(ctx, func(md *models.SyncMetadata) {
		changed = md.GlobalModified != marker
		md.GlobalModified = marker
		md.LastChanged = changed
	})
	return changed
}

// record applies fn to the stored baseline and stamps the check time.
func (d *ChangeDetector) record(ctx context.Context, fn func(*models.SyncMetadata)) {
	err := d.cache.UpdateMetadata(ctx, func(md *models.SyncMetadata) {
		fn(md)
		md.LastMetadataCheck = d.opts.Now().UTC()
	})
	if err != nil {
		d.logger.Warn("failed to save change baseline", "error", err)
	}
}

func signature(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(bytes.TrimSpace(raw))
	}
	return buf.String()
}
