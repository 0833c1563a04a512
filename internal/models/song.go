package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/desertthunder/hymnal/internal/shared"
)

// Verse is one labelled block of lyrics.
type Verse struct {
	Label  string `json:"label"`
	Lyrics string `json:"lyrics"`
}

// Song is a hymn keyed by its number within a scope (a collection or the legacy partition).
type Song struct {
	Number        string  `json:"number"`
	Title         string  `json:"title"`
	Verses        []Verse `json:"verses"`
	CollectionID  string  `json:"collection_id,omitempty"`
	PositionIndex int     `json:"position_index,omitempty"`
	Favorite      bool    `json:"favorite,omitempty"`
}

// NumericNumber returns the integer value of Number, or zero when it is not numeric.
func (s Song) NumericNumber() int {
	n, err := strconv.Atoi(strings.TrimSpace(s.Number))
	if err != nil {
		return 0
	}
	return n
}

// SortByNumber orders songs by the numeric value of their number.
// Ties (including non-numeric numbers, which sort as zero) fall back to the raw string.
func SortByNumber(songs []Song) {
	sort.SliceStable(songs, func(i, j int) bool {
		ni, nj := songs[i].NumericNumber(), songs[j].NumericNumber()
		if ni != nj {
			return ni < nj
		}
		return songs[i].Number < songs[j].Number
	})
}

// wireSong is the remote store's record shape. Older records use the song_* field
// names and may carry numbers as JSON numbers.
type wireSong struct {
	Number     flexString      `json:"number"`
	SongNumber flexString      `json:"song_number"`
	Title      string          `json:"title"`
	SongTitle  string          `json:"song_title"`
	Verses     json.RawMessage `json:"verses"`
	Collection string          `json:"collection_id"`
	Position   flexString      `json:"position_index"`
	Order      flexString      `json:"order"`
	IsFavorite bool            `json:"is_favorite"`
	Favorite   bool            `json:"favorite"`
}

type wireVerse struct {
	Label       flexString `json:"label"`
	VerseNumber flexString `json:"verse_number"`
	Lyrics      string     `json:"lyrics"`
	Text        string     `json:"text"`
}

// DecodeSong parses one remote record. key is the record's key in its partition and
// stands in for the number when the record omits one.
//
// Malformed records return an error wrapping [shared.ErrParseFailure]; callers skip them.
func DecodeSong(key string, raw json.RawMessage) (Song, error) {
	var w wireSong
	if err := json.Unmarshal(raw, &w); err != nil {
		return Song{}, fmt.Errorf("%w: song %q: %v", shared.ErrParseFailure, key, err)
	}

	song := Song{
		Number:       firstNonEmpty(string(w.Number), string(w.SongNumber), key),
		Title:        firstNonEmpty(w.Title, w.SongTitle),
		CollectionID: w.Collection,
		Favorite:     w.Favorite || w.IsFavorite,
	}
	if song.Number == "" {
		return Song{}, fmt.Errorf("%w: song without number", shared.ErrParseFailure)
	}

	if pos := firstNonEmpty(string(w.Position), string(w.Order)); pos != "" {
		if n, err := strconv.Atoi(pos); err == nil {
			song.PositionIndex = n
		}
	}

	verses, err := decodeVerses(w.Verses)
	if err != nil {
		return Song{}, fmt.Errorf("%w: song %q verses: %v", shared.ErrParseFailure, song.Number, err)
	}
	song.Verses = verses

	return song, nil
}

// decodeVerses accepts a JSON list of verses or a key-map of verses.
// Map keys are applied in numeric order when they are numbers.
func decodeVerses(raw json.RawMessage) ([]Verse, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []Verse{}, nil
	}

	var list []*wireVerse
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
	} else {
		var byKey map[string]*wireVerse
		if err := json.Unmarshal(raw, &byKey); err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			ni, ei := strconv.Atoi(keys[i])
			nj, ej := strconv.Atoi(keys[j])
			if ei == nil && ej == nil {
				return ni < nj
			}
			return keys[i] < keys[j]
		})
		for _, k := range keys {
			v := byKey[k]
			if v != nil && v.Label == "" && v.VerseNumber == "" {
				v.Label = flexString(k)
			}
			list = append(list, v)
		}
	}

	verses := make([]Verse, 0, len(list))
	for i, v := range list {
		if v == nil {
			continue
		}
		label := firstNonEmpty(string(v.Label), string(v.VerseNumber))
		if label == "" {
			label = strconv.Itoa(i + 1)
		}
		verses = append(verses, Verse{Label: label, Lyrics: firstNonEmpty(v.Lyrics, v.Text)})
	}
	return verses, nil
}

// flexString decodes a JSON string or number into its string form.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(data))
	}
	*f = flexString(n.String())
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
