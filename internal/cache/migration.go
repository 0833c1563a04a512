package cache

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/hymnal/internal/models"
	"github.com/desertthunder/hymnal/internal/shared"
)

// MigrationStep upgrades the durable cache to Version. Steps must be safe to re-run.
type MigrationStep struct {
	Version int
	Name    string
	Up      func(ctx context.Context, c *CollectionCache) error
}

// Keys written by builds that predate the versioned cache.
var legacyFormatKeys = []string{"all_songs_cache", "songs_last_fetch", "collection_list_cache"}

const legacyFormatPrefix = "collection_songs_"

// DefaultSteps returns the cache format upgrades in version order.
//
//  1. remove the pre-versioned single-blob keys
//  2. rebuild the available-collections index and per-collection hash keys
func DefaultSteps() []MigrationStep {
	return []MigrationStep{
		{Version: 1, Name: "drop_unversioned_keys", Up: dropUnversionedKeys},
		{Version: 2, Name: "rebuild_index_and_hashes", Up: rebuildIndex},
	}
}

func dropUnversionedKeys(ctx context.Context, c *CollectionCache) error {
	for _, key := range legacyFormatKeys {
		if err := c.kv.Delete(ctx, key); err != nil {
			return err
		}
	}
	_, err := c.kv.DeletePrefix(ctx, legacyFormatPrefix)
	return err
}

func rebuildIndex(ctx context.Context, c *CollectionCache) error {
	_, err := c.RebuildIndex(ctx)
	return err
}

// MigrationGate brings the durable cache up to the build's schema version.
type MigrationGate struct {
	cache  *CollectionCache
	steps  []MigrationStep
	logger *log.Logger
}

// NewMigrationGate creates a gate for cache. Steps are sorted by version.
func NewMigrationGate(cache *CollectionCache, steps []MigrationStep, logger *log.Logger) *MigrationGate {
	sorted := make([]MigrationStep, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	return &MigrationGate{
		cache:  cache,
		steps:  sorted,
		logger: shared.WithLogger(logger, "component", "migrations"),
	}
}

// Run upgrades the cache and returns the versions of the steps it applied.
//
// When the persisted version is behind, the cache is wiped and every step in
// (persisted, current] runs in order before the new version is persisted.
// A persisted version ahead of the build is treated as foreign: the cache is
// wiped and the build's version written, without running steps.
func (g *MigrationGate) Run(ctx context.Context) ([]int, error) {
	current := g.cache.SchemaVersion()
	persisted, err := g.cache.StoredVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read version: %v", shared.ErrMigrationFailed, err)
	}

	if persisted == current {
		g.logger.Debug("cache schema up to date", "version", current)
		return []int{}, nil
	}

	g.logger.Info("cache schema out of date", "persisted", persisted, "current", current)
	if err := g.cache.Clear(ctx); err != nil {
		return nil, fmt.Errorf("%w: failed to wipe cache: %v", shared.ErrMigrationFailed, err)
	}

	applied := []int{}
	if persisted < current {
		for _, step := range g.steps {
			if step.Version <= persisted || step.Version > current {
				continue
			}

			g.logger.Info("applying cache migration", "version", step.Version, "name", step.Name)
			if err := step.Up(ctx, g.cache); err != nil {
				g.logger.Error("cache migration failed", "version", step.Version, "name", step.Name, "error", err)
				return applied, fmt.Errorf("%w: step %d (%s): %v", shared.ErrMigrationFailed, step.Version, step.Name, err)
			}
			applied = append(applied, step.Version)
		}
	} else {
		g.logger.Warn("persisted cache schema is newer than this build", "persisted", persisted, "current", current)
	}

	if err := g.cache.setStoredVersion(ctx, current); err != nil {
		return applied, fmt.Errorf("%w: failed to persist version: %v", shared.ErrMigrationFailed, err)
	}
	if err := g.cache.SaveMetadata(ctx, models.NewSyncMetadata(current)); err != nil {
		return applied, fmt.Errorf("%w: failed to reset sync metadata: %v", shared.ErrMigrationFailed, err)
	}

	g.logger.Info("cache schema migrated", "version", current, "steps", len(applied))
	return applied, nil
}
