package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/hymnal/internal/shared"
)

// CollectionStatus marks whether a collection is served to readers.
type CollectionStatus string

const (
	StatusActive   CollectionStatus = "active"
	StatusInactive CollectionStatus = "inactive"
)

// Collection is a named, access-controlled partition of songs.
//
// SongCount is denormalized and recomputed from the fetched partition via [Collection.WithSongs];
// a count present in remote metadata is never trusted.
type Collection struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	AccessLevel AccessLevel      `json:"access_level"`
	Status      CollectionStatus `json:"status"`
	SongCount   int              `json:"song_count"`
	CreatedAt   time.Time        `json:"created_at,omitzero"`
	UpdatedAt   time.Time        `json:"updated_at,omitzero"`
	CreatedBy   string           `json:"created_by,omitempty"`
	UpdatedBy   string           `json:"updated_by,omitempty"`
}

// Active reports whether the collection is served. A missing status counts as active.
func (c Collection) Active() bool {
	return c.Status != StatusInactive
}

// Accessible reports whether a caller at level may read this collection.
func (c Collection) Accessible(level AccessLevel) bool {
	return level.Permits(c.AccessLevel)
}

// WithSongs returns a copy with SongCount recomputed from songs.
func (c Collection) WithSongs(songs []Song) Collection {
	c.SongCount = len(songs)
	return c
}

type wireCollection struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	AccessLevel string          `json:"access_level"`
	Status      string          `json:"status"`
	CreatedAt   json.RawMessage `json:"created_at"`
	UpdatedAt   json.RawMessage `json:"updated_at"`
	CreatedBy   string          `json:"created_by"`
	UpdatedBy   string          `json:"updated_by"`
}

// DecodeCollection parses a remote collection metadata record stored under key.
func DecodeCollection(key string, raw json.RawMessage) (Collection, error) {
	var w wireCollection
	if err := json.Unmarshal(raw, &w); err != nil {
		return Collection{}, fmt.Errorf("%w: collection %q: %v", shared.ErrParseFailure, key, err)
	}

	c := Collection{
		ID:          firstNonEmpty(w.ID, key),
		Name:        firstNonEmpty(w.Name, key),
		Description: w.Description,
		AccessLevel: ParseAccessLevel(w.AccessLevel),
		Status:      StatusActive,
		CreatedAt:   decodeTimestamp(w.CreatedAt),
		UpdatedAt:   decodeTimestamp(w.UpdatedAt),
		CreatedBy:   w.CreatedBy,
		UpdatedBy:   w.UpdatedBy,
	}
	if strings.EqualFold(w.Status, string(StatusInactive)) {
		c.Status = StatusInactive
	}
	if c.ID == "" {
		return Collection{}, fmt.Errorf("%w: collection without id", shared.ErrParseFailure)
	}
	return c, nil
}

// decodeTimestamp accepts RFC 3339 strings or epoch milliseconds; anything else is the zero time.
func decodeTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC()
		}
		return time.Time{}
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}
