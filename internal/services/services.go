// package services defines the RemoteStore interface for the hierarchical document tree
// that holds songs and collections, plus its HTTP implementation.
package services

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/desertthunder/hymnal/internal/models"
)

// RemoteStore is the read-only view of the remote document tree used by the engine.
//
// Paths are slash-separated keys relative to the tree root (e.g. "songs" or "song_collection/LPMI/songs").
type RemoteStore interface {
	// Get performs a point read of path and decodes it into out.
	// Returns false when the node is absent (JSON null).
	Get(ctx context.Context, path string, out any) (bool, error)

	// Scan performs an ordered range scan over the children of path.
	// Children are returned in key order starting at opts.StartAt (inclusive).
	Scan(ctx context.Context, path string, opts ScanOpts) ([]Node, error)

	// Exists performs a small existence probe that does not transfer the node's children.
	Exists(ctx context.Context, path string) (bool, error)
}

// ScanOpts bounds a range scan. Zero values mean "from the first key" and "no limit".
type ScanOpts struct {
	StartAt string
	Limit   int
}

// Node is one child of a scanned path.
type Node struct {
	Key   string
	Value json.RawMessage
}

// Join builds a tree path from segments, skipping empty ones.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s = strings.Trim(s, "/"); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// KeyLess orders child keys the way the document tree does: keys that parse as
// integers come first in numeric order, then all other keys lexicographically.
func KeyLess(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 32)
	nb, errB := strconv.ParseInt(b, 10, 32)
	switch {
	case errA == nil && errB == nil:
		if na != nb {
			return na < nb
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}

// DecodeSongs parses scanned nodes as song records in node order.
//
// Malformed records are skipped and returned as errors for the caller to log.
func DecodeSongs(nodes []Node) ([]models.Song, []error) {
	songs := make([]models.Song, 0, len(nodes))
	var errs []error
	for _, n := range nodes {
		song, err := models.DecodeSong(n.Key, n.Value)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		songs = append(songs, song)
	}
	return songs, errs
}
