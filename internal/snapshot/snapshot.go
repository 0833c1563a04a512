// Package snapshot loads the static song data bundled with the binary.
//
// The snapshot is the last tier of every read: it is consulted only when the
// remote store and the durable cache have nothing to offer, and it is never written.
//
// Accepted document shapes:
//   - {"version": n, "songs": [...] | {...}, "collections": {"<id>": [...] | {...}}}
//   - a bare list of song records
//   - a bare key-map of song records
package snapshot

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/hymnal/internal/models"
	"github.com/desertthunder/hymnal/internal/services"
	"github.com/desertthunder/hymnal/internal/shared"
)

//go:embed data/songs.json
var bundled []byte

// Snapshot is an immutable set of songs plus optional per-collection lists.
type Snapshot struct {
	version     int
	songs       []models.Song
	collections map[string][]models.Song
}

type document struct {
	Version     int                        `json:"version"`
	Songs       json.RawMessage            `json:"songs"`
	Collections map[string]json.RawMessage `json:"collections"`
}

// Bundled parses the embedded snapshot. An unreadable snapshot yields an empty one.
func Bundled(logger *log.Logger) *Snapshot {
	return Load(bundled, logger)
}

// Load parses data. Malformed records are skipped; an unreadable document yields an empty snapshot.
func Load(data []byte, logger *log.Logger) *Snapshot {
	logger = shared.WithLogger(logger, "component", "snapshot")

	snap, err := parse(data, logger)
	if err != nil {
		logger.Error("bundled snapshot unreadable, serving nothing", "error", err)
		return &Snapshot{songs: []models.Song{}, collections: map[string][]models.Song{}}
	}

	logger.Debug("snapshot loaded", "version", snap.version, "songs", len(snap.songs), "collections", len(snap.collections))
	return snap
}

func parse(data []byte, logger *log.Logger) (*Snapshot, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty snapshot", shared.ErrParseFailure)
	}

	snap := &Snapshot{collections: map[string][]models.Song{}}

	var doc document
	if data[0] == '{' {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrParseFailure, err)
		}
	}

	if doc.Songs == nil && doc.Collections == nil {
		// bare list or key-map of records
		songs, err := decodePartition(data, logger)
		if err != nil {
			return nil, err
		}
		snap.songs = songs
		return snap, nil
	}

	snap.version = doc.Version
	songs, err := decodePartition(doc.Songs, logger)
	if err != nil {
		return nil, err
	}
	snap.songs = songs

	for id, raw := range doc.Collections {
		songs, err := decodePartition(raw, logger)
		if err != nil {
			logger.Warn("skipping unreadable snapshot collection", "collection", id, "error", err)
			continue
		}
		for i := range songs {
			songs[i].CollectionID = id
		}
		snap.collections[id] = songs
	}
	return snap, nil
}

func decodePartition(raw json.RawMessage, logger *log.Logger) ([]models.Song, error) {
	nodes, err := services.DecodeChildren(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrParseFailure, err)
	}

	songs, errs := services.DecodeSongs(nodes)
	for _, err := range errs {
		logger.Warn("skipping malformed snapshot record", "error", err)
	}
	models.SortByNumber(songs)
	return songs, nil
}

// Version is the snapshot's declared data version, 0 for unversioned documents.
func (s *Snapshot) Version() int { return s.version }

// Songs returns a copy of the snapshot's songs ordered by number.
func (s *Snapshot) Songs() []models.Song {
	out := make([]models.Song, len(s.songs))
	copy(out, s.songs)
	return out
}

// Collection returns a copy of the snapshot list for id.
func (s *Snapshot) Collection(id string) ([]models.Song, bool) {
	songs, ok := s.collections[id]
	if !ok || len(songs) == 0 {
		return nil, false
	}
	out := make([]models.Song, len(songs))
	copy(out, songs)
	return out, true
}

// CollectionIDs lists the collections the snapshot carries.
func (s *Snapshot) CollectionIDs() []string {
	ids := make([]string, 0, len(s.collections))
	for id := range s.collections {
		ids = append(ids, id)
	}
	return ids
}
