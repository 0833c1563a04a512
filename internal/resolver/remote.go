package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/hymnal/internal/cache"
	"github.com/desertthunder/hymnal/internal/models"
	"github.com/desertthunder/hymnal/internal/services"
	"github.com/desertthunder/hymnal/internal/shared"
	"golang.org/x/sync/errgroup"
)

// partition is one collection's (or the legacy store's) songs within a single read.
type partition struct {
	id         string
	collection bool
	songs      []models.Song
	remote     bool
}

// accessibleCollections lists active collections role may read, in key order.
// The remote list is preferred; the last stored list stands in when it cannot be read.
func (r *Resolver) accessibleCollections(ctx context.Context, role models.Role) []models.Collection {
	all, err := r.fetchCollectionList(ctx, role)
	if err != nil {
		r.logger.Warn("collection list unavailable, using stored list", "error", err)
		if all, err = r.cache.Collections(ctx); err != nil {
			r.logger.Debug("no stored collection list", "error", err)
			return []models.Collection{}
		}
	} else {
		r.listMu.Lock()
		err := r.cache.PutCollections(ctx, r.carryCounts(ctx, all))
		r.listMu.Unlock()
		if err != nil {
			r.logger.Warn("failed to store collection list", "error", err)
		}
	}

	level := role.Access()
	visible := make([]models.Collection, 0, len(all))
	for _, c := range all {
		if c.Active() && c.Accessible(level) {
			visible = append(visible, c)
		}
	}
	return visible
}

func (r *Resolver) fetchCollectionList(ctx context.Context, role models.Role) ([]models.Collection, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout(role, ""))
	defer cancel()

	nodes, err := r.store.Scan(ctx, r.opts.CollectionMetaPath, services.ScanOpts{})
	if err != nil {
		return nil, err
	}

	collections := make([]models.Collection, 0, len(nodes))
	for _, n := range nodes {
		c, err := models.DecodeCollection(n.Key, n.Value)
		if err != nil {
			r.logger.Warn("skipping malformed collection", "key", n.Key, "error", err)
			continue
		}
		collections = append(collections, c)
	}
	return collections, nil
}

// carryCounts copies song counts from the stored list onto a freshly enumerated one,
// since remote metadata never carries a trusted count.
func (r *Resolver) carryCounts(ctx context.Context, fresh []models.Collection) []models.Collection {
	stored, err := r.cache.Collections(ctx)
	if err != nil {
		return fresh
	}
	counts := make(map[string]int, len(stored))
	for _, c := range stored {
		counts[c.ID] = c.SongCount
	}
	for i := range fresh {
		fresh[i].SongCount = counts[fresh[i].ID]
	}
	return fresh
}

// recordCounts recomputes SongCount for every collection whose partition was read
// and stores the updated list.
func (r *Resolver) recordCounts(ctx context.Context, read map[string][]models.Song) {
	if len(read) == 0 {
		return
	}

	r.listMu.Lock()
	defer r.listMu.Unlock()

	stored, err := r.cache.Collections(ctx)
	if err != nil {
		return
	}
	for i, c := range stored {
		if songs, ok := read[c.ID]; ok {
			stored[i] = c.WithSongs(songs)
		}
	}
	if err := r.cache.PutCollections(ctx, stored); err != nil {
		r.logger.Warn("failed to store collection song counts", "error", err)
	}
}

// collectionMeta looks up one collection's metadata, remote first, then the stored list.
// known is false when neither source describes id; reachable is false when the remote
// lookup itself failed.
func (r *Resolver) collectionMeta(ctx context.Context, id string) (meta models.Collection, known, reachable bool) {
	rctx, cancel := context.WithTimeout(ctx, r.opts.TimeoutUser)
	defer cancel()

	var raw json.RawMessage
	found, err := r.store.Get(rctx, services.Join(r.opts.CollectionMetaPath, id), &raw)
	reachable = err == nil || errors.Is(err, shared.ErrNotFound)
	if err == nil && found {
		if c, err := models.DecodeCollection(id, raw); err == nil {
			return c, true, true
		}
	}
	if !reachable {
		r.logger.Debug("collection metadata unavailable", "collection", id, "error", err)
	}

	stored, err := r.cache.Collections(ctx)
	if err == nil {
		for _, c := range stored {
			if c.ID == id {
				return c, true, reachable
			}
		}
	}
	return restricted(id), false, reachable
}

// restricted stands in for a collection without metadata: readable only at the top level.
func restricted(id string) models.Collection {
	return models.Collection{ID: id, Name: id, AccessLevel: models.AccessSuperAdmin, Status: models.StatusActive}
}

// readPartitions fills every accessible collection plus the legacy partition,
// serving fresh cache entries and fetching the rest concurrently.
func (r *Resolver) readPartitions(ctx context.Context, collections []models.Collection, role models.Role) []partition {
	parts := make([]partition, len(collections)+1)
	for i, c := range collections {
		parts[i] = partition{id: c.ID, collection: true}
	}
	parts[len(collections)] = partition{id: cache.LegacyID}

	var g errgroup.Group
	g.SetLimit(r.opts.FetchWorkers)

	for i := range parts {
		p := &parts[i]
		g.Go(func() error {
			if songs, ok := r.fromCache(ctx, p.id, role); ok {
				p.songs = songs
				return nil
			}

			songs, err := r.fetchPartition(ctx, p.id, role)
			if err != nil {
				r.logger.Warn("partition fetch failed", "collection", p.id, "error", err)
				return nil
			}
			if len(songs) > 0 {
				r.remember(ctx, p.id, songs)
				p.songs, p.remote = songs, true
			}
			return nil
		})
	}
	g.Wait()

	read := map[string][]models.Song{}
	for _, p := range parts {
		if p.collection && len(p.songs) > 0 {
			read[p.id] = p.songs
		}
	}
	r.recordCounts(ctx, read)
	return parts
}

// staleMerge merges whatever the cache holds for the given collections and the
// legacy partition, ignoring age.
func (r *Resolver) staleMerge(ctx context.Context, collections []models.Collection) []models.Song {
	parts := make([]partition, 0, len(collections)+1)
	for _, c := range collections {
		if songs, ok := r.cache.GetStale(ctx, c.ID); ok {
			parts = append(parts, partition{id: c.ID, collection: true, songs: songs})
		}
	}
	if songs, ok := r.cache.GetStale(ctx, cache.LegacyID); ok {
		parts = append(parts, partition{id: cache.LegacyID, songs: songs})
	}

	songs, _ := mergeParts(parts)
	return songs
}

func (r *Resolver) fetchPartition(ctx context.Context, id string, role models.Role) ([]models.Song, error) {
	if id == cache.LegacyID {
		return r.fetchLegacy(ctx, role)
	}
	return r.fetchCollection(ctx, id, role)
}

// fetchLegacy reads the whole flat partition, ordered by numeric song number.
func (r *Resolver) fetchLegacy(ctx context.Context, role models.Role) ([]models.Song, error) {
	nodes, err := r.scan(ctx, r.opts.LegacyPath, services.ScanOpts{}, r.timeout(role, ""))
	if err != nil {
		return nil, err
	}

	songs := r.decode(nodes, "")
	models.SortByNumber(songs)
	return songs, nil
}

// fetchCollection reads one collection's songs. Collections on the flaky list are
// tried under every candidate path until one yields songs.
func (r *Resolver) fetchCollection(ctx context.Context, id string, role models.Role) ([]models.Song, error) {
	var lastErr error
	for _, path := range r.collectionPaths(id) {
		nodes, err := r.scan(ctx, path, services.ScanOpts{}, r.timeout(role, id))
		if err != nil {
			lastErr = err
			r.logger.Debug("collection path failed", "collection", id, "path", path, "error", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if songs := r.decode(nodes, id); len(songs) > 0 {
			models.SortByNumber(songs)
			return songs, nil
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return []models.Song{}, nil
}

// collectionPaths returns the candidate locations of a collection's songs.
func (r *Resolver) collectionPaths(id string) []string {
	if !r.flaky[id] {
		return []string{services.Join(r.opts.CollectionsPath, id, "songs")}
	}

	seen := map[string]bool{}
	paths := []string{}
	add := func(segments ...string) {
		p := services.Join(segments...)
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	for _, variant := range []string{id, strings.ToUpper(id), strings.ToLower(id), titleCase(id)} {
		add(r.opts.CollectionsPath, variant, "songs")
	}
	add(r.opts.CollectionsPath, id, id, "songs")
	return paths
}

// scan performs one rate-limited range scan under its own deadline.
func (r *Resolver) scan(ctx context.Context, path string, opts services.ScanOpts, timeout time.Duration) ([]services.Node, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrTimeout, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.store.Scan(ctx, path, opts)
}

// decode parses nodes as songs, tagging them with collection id and their scan position.
func (r *Resolver) decode(nodes []services.Node, id string) []models.Song {
	songs, errs := services.DecodeSongs(nodes)
	for _, err := range errs {
		r.logger.Warn("skipping malformed song", "collection", id, "error", err)
	}
	for i := range songs {
		if id != "" {
			songs[i].CollectionID = id
		}
		if songs[i].PositionIndex == 0 {
			songs[i].PositionIndex = i
		}
	}
	return songs
}

// mergeParts flattens partitions in order. The first copy of a song number wins,
// so collections listed before the legacy partition take precedence.
func mergeParts(parts []partition) ([]models.Song, Source) {
	seen := map[string]bool{}
	merged := []models.Song{}
	remote, fromCollections := false, false

	for _, p := range parts {
		if len(p.songs) == 0 {
			continue
		}
		remote = remote || p.remote
		fromCollections = fromCollections || p.collection

		for _, s := range p.songs {
			key := numberKey(s)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, s)
		}
	}
	models.SortByNumber(merged)

	switch {
	case len(merged) == 0:
		return merged, SourceNone
	case !remote:
		return merged, SourceCache
	case fromCollections:
		return merged, SourceRemoteCollections
	default:
		return merged, SourceRemoteLegacy
	}
}

// numberKey normalizes a song number so "007" and "7" collide.
func numberKey(s models.Song) string {
	raw := strings.TrimSpace(s.Number)
	if n, err := strconv.Atoi(raw); err == nil {
		return strconv.Itoa(n)
	}
	return raw
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}
