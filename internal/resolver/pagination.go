package resolver

import (
	"context"
	"sort"

	"github.com/desertthunder/hymnal/internal/cache"
	"github.com/desertthunder/hymnal/internal/models"
	"github.com/desertthunder/hymnal/internal/services"
)

// DefaultPageSize applies when a caller asks for a non-positive page size.
const DefaultPageSize = 20

// GetPaginatedSongs returns one page of the legacy partition in key order, starting
// after cursor. An empty cursor starts at the first key.
//
// When the remote store cannot serve the page, the cached legacy partition and then
// the snapshot are paged in memory with the same cursor semantics.
func (r *Resolver) GetPaginatedSongs(ctx context.Context, pageSize int, cursor string) Page {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	if r.probe.IsOnline(ctx, models.RoleGuest) {
		page, err := r.remotePage(ctx, pageSize, cursor)
		if err == nil {
			return page
		}
		r.logger.Warn("remote page failed, paging cached songs", "cursor", cursor, "error", err)

		if songs, ok := r.cache.GetStale(ctx, cache.LegacyID); ok {
			page := pageSongs(songs, pageSize, cursor)
			page.Source = SourceStaleCache
			return page
		}
	}

	songs := r.snapshot.Songs()
	if len(songs) == 0 {
		return Page{Songs: []models.Song{}, Source: SourceNone}
	}
	page := pageSongs(songs, pageSize, cursor)
	page.Source = SourceSnapshot
	return page
}

func (r *Resolver) remotePage(ctx context.Context, pageSize int, cursor string) (Page, error) {
	limit := pageSize + 1
	if cursor != "" {
		limit++
	}

	nodes, err := r.scan(ctx, r.opts.LegacyPath, services.ScanOpts{StartAt: cursor, Limit: limit}, r.opts.TimeoutPublic)
	if err != nil {
		return Page{}, err
	}

	if cursor != "" && len(nodes) > 0 && nodes[0].Key == cursor {
		nodes = nodes[1:]
	}

	page := Page{Online: true, Source: SourceRemoteLegacy}
	if len(nodes) > pageSize {
		page.HasMore = true
		nodes = nodes[:pageSize]
	}
	if page.HasMore && len(nodes) > 0 {
		page.NextCursor = nodes[len(nodes)-1].Key
	}

	page.Songs = r.decode(nodes, "")
	return page, nil
}

// pageSongs pages an in-memory partition, keyed by song number in tree key order.
func pageSongs(songs []models.Song, pageSize int, cursor string) Page {
	ordered := make([]models.Song, len(songs))
	copy(ordered, songs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return services.KeyLess(ordered[i].Number, ordered[j].Number)
	})

	start := 0
	if cursor != "" {
		start = sort.Search(len(ordered), func(i int) bool {
			return !services.KeyLess(ordered[i].Number, cursor)
		})
		if start < len(ordered) && ordered[start].Number == cursor {
			start++
		}
	}

	page := Page{Songs: []models.Song{}}
	if start >= len(ordered) {
		return page
	}

	end := start + pageSize
	if end < len(ordered) {
		page.HasMore = true
	} else {
		end = len(ordered)
	}
	page.Songs = ordered[start:end]
	if page.HasMore {
		page.NextCursor = ordered[end-1].Number
	}
	return page
}
