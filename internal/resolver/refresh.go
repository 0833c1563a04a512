package resolver

import (
	"context"
	"fmt"
	"sync"

	"github.com/desertthunder/hymnal/internal/cache"
	"github.com/desertthunder/hymnal/internal/models"
	"github.com/desertthunder/hymnal/internal/shared"
	"golang.org/x/sync/errgroup"
)

// RefreshReport summarizes one forced refresh.
type RefreshReport struct {
	Collections int
	Songs       int
	Partitions  map[string]int
	Failed      []string
}

// Refresh re-reads every partition visible to role straight from the remote store
// and overwrites the cache, ignoring TTLs and content hashes.
//
// It fails with [shared.ErrRefreshUnavailable] when offline and with
// [shared.ErrRemoteRequest] when no partition could be read.
func (r *Resolver) Refresh(ctx context.Context, role models.Role) (RefreshReport, error) {
	report := RefreshReport{Partitions: map[string]int{}}
	if !r.probe.IsOnline(ctx, role) {
		return report, shared.ErrRefreshUnavailable
	}

	collections := r.accessibleCollections(ctx, role)
	ids := make([]string, 0, len(collections)+1)
	for _, c := range collections {
		ids = append(ids, c.ID)
	}
	ids = append(ids, cache.LegacyID)

	var (
		mu   sync.Mutex
		g    errgroup.Group
		read = map[string][]models.Song{}
	)
	g.SetLimit(r.opts.FetchWorkers)

	for _, id := range ids {
		g.Go(func() error {
			songs, err := r.fetchPartition(ctx, id, role)
			if err == nil && len(songs) > 0 {
				err = r.cache.Overwrite(ctx, id, songs)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.logger.Warn("refresh of partition failed", "collection", id, "error", err)
				report.Failed = append(report.Failed, id)
				return nil
			}
			report.Partitions[id] = len(songs)
			if id != cache.LegacyID && len(songs) > 0 {
				read[id] = songs
			}
			return nil
		})
	}
	g.Wait()

	if len(report.Partitions) == 0 {
		return report, fmt.Errorf("%w: no partition could be refreshed", shared.ErrRemoteRequest)
	}

	r.recordCounts(ctx, read)
	for id, n := range report.Partitions {
		if id != cache.LegacyID && n > 0 {
			report.Collections++
		}
		report.Songs += n
	}

	if err := r.cache.MarkSynced(ctx, r.cache.Now()); err != nil {
		r.logger.Warn("failed to record sync time", "error", err)
	}
	r.logger.Info("refresh complete", "role", role, "collections", report.Collections,
		"songs", report.Songs, "failed", len(report.Failed))
	return report, nil
}

// RefreshPartition re-reads one partition and stores it through the hash-aware path,
// so unchanged content near expiry only renews its capture time.
func (r *Resolver) RefreshPartition(ctx context.Context, id string, role models.Role) (int, error) {
	if id == "" {
		return 0, fmt.Errorf("%w: collection id", shared.ErrMissingArgument)
	}

	songs, err := r.fetchPartition(ctx, id, role)
	if err != nil {
		return 0, err
	}
	if len(songs) == 0 {
		return 0, fmt.Errorf("%w: %s is empty", shared.ErrNotFound, id)
	}
	if _, err := r.cache.Put(ctx, id, songs); err != nil {
		return 0, err
	}
	return len(songs), nil
}
