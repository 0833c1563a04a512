package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/hymnal/internal/shared"
)

func TestAccessLevel(t *testing.T) {
	t.Run("Ordering", func(t *testing.T) {
		levels := []AccessLevel{AccessPublic, AccessRegistered, AccessPremium, AccessAdmin, AccessSuperAdmin}
		for i := 1; i < len(levels); i++ {
			if levels[i] <= levels[i-1] {
				t.Errorf("%s should rank above %s", levels[i], levels[i-1])
			}
		}
	})

	t.Run("Role Access", func(t *testing.T) {
		tc := []struct {
			role Role
			want AccessLevel
		}{
			{role: "", want: AccessPublic},
			{role: RoleGuest, want: AccessPublic},
			{role: "somebody", want: AccessPublic},
			{role: RoleUser, want: AccessRegistered},
			{role: "Registered", want: AccessRegistered},
			{role: RolePremium, want: AccessPremium},
			{role: RoleAdmin, want: AccessAdmin},
			{role: RoleSuperAdmin, want: AccessSuperAdmin},
			{role: "superadmin", want: AccessSuperAdmin},
		}

		for _, tt := range tc {
			if got := tt.role.Access(); got != tt.want {
				t.Errorf("Role(%q).Access() = %s, want %s", tt.role, got, tt.want)
			}
		}
	})

	t.Run("ParseAccessLevel Unknown Is Restrictive", func(t *testing.T) {
		if got := ParseAccessLevel("gold"); got != AccessSuperAdmin {
			t.Errorf("expected unknown level to be superadmin, got %s", got)
		}
		if got := ParseAccessLevel(""); got != AccessPublic {
			t.Errorf("expected empty level to be public, got %s", got)
		}
	})

	t.Run("Collection Accessible", func(t *testing.T) {
		premium := Collection{ID: "P", AccessLevel: AccessPremium}
		if premium.Accessible(AccessRegistered) {
			t.Error("registered caller should not read premium collection")
		}
		if !premium.Accessible(AccessAdmin) {
			t.Error("admin caller should read premium collection")
		}
		if RoleGuest.Access().Permits(AccessRegistered) {
			t.Error("guest should only see public content")
		}
	})
}

func TestDecodeSong(t *testing.T) {
	t.Run("Canonical Fields", func(t *testing.T) {
		raw := json.RawMessage(`{"number":"12","title":"Amazing Grace","verses":[{"label":"1","lyrics":"Amazing grace"},{"label":"2","lyrics":"Twas grace"}]}`)
		song, err := DecodeSong("12", raw)
		if err != nil {
			t.Fatalf("DecodeSong() error = %v", err)
		}
		if song.Number != "12" || song.Title != "Amazing Grace" {
			t.Errorf("unexpected song: %+v", song)
		}
		if len(song.Verses) != 2 || song.Verses[1].Lyrics != "Twas grace" {
			t.Errorf("unexpected verses: %+v", song.Verses)
		}
	})

	t.Run("Legacy Field Names And Numeric Number", func(t *testing.T) {
		raw := json.RawMessage(`{"song_number":7,"song_title":"Holy","verses":{"2":{"lyrics":"b"},"1":{"lyrics":"a"},"10":{"lyrics":"c"}}}`)
		song, err := DecodeSong("x", raw)
		if err != nil {
			t.Fatalf("DecodeSong() error = %v", err)
		}
		if song.Number != "7" {
			t.Errorf("expected number 7, got %q", song.Number)
		}
		if song.Title != "Holy" {
			t.Errorf("expected title Holy, got %q", song.Title)
		}
		got := []string{song.Verses[0].Label, song.Verses[1].Label, song.Verses[2].Label}
		want := []string{"1", "2", "10"}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("verse order = %v, want %v", got, want)
				break
			}
		}
	})

	t.Run("Key Stands In For Number", func(t *testing.T) {
		song, err := DecodeSong("44", json.RawMessage(`{"title":"No number"}`))
		if err != nil {
			t.Fatalf("DecodeSong() error = %v", err)
		}
		if song.Number != "44" {
			t.Errorf("expected key as number, got %q", song.Number)
		}
		if song.Verses == nil {
			t.Error("expected empty verses, got nil")
		}
	})

	t.Run("Malformed Record", func(t *testing.T) {
		_, err := DecodeSong("1", json.RawMessage(`["not","an","object"]`))
		if !errors.Is(err, shared.ErrParseFailure) {
			t.Errorf("expected ErrParseFailure, got %v", err)
		}
	})

	t.Run("Bad Number Type", func(t *testing.T) {
		_, err := DecodeSong("1", json.RawMessage(`{"number":{"nested":true}}`))
		if !errors.Is(err, shared.ErrParseFailure) {
			t.Errorf("expected ErrParseFailure, got %v", err)
		}
	})
}

func TestSortByNumber(t *testing.T) {
	songs := []Song{{Number: "10"}, {Number: "abc"}, {Number: "2"}, {Number: "1"}}
	SortByNumber(songs)

	want := []string{"abc", "1", "2", "10"}
	for i, s := range songs {
		if s.Number != want[i] {
			t.Fatalf("SortByNumber order = %v, want %v", numbers(songs), want)
		}
	}
}

func TestDecodeCollection(t *testing.T) {
	raw := json.RawMessage(`{"name":"Lagu Pujian","access_level":"premium","status":"inactive","song_count":999,"created_at":1700000000000,"updated_at":"2024-01-02T03:04:05Z"}`)
	c, err := DecodeCollection("LPMI", raw)
	if err != nil {
		t.Fatalf("DecodeCollection() error = %v", err)
	}

	if c.ID != "LPMI" {
		t.Errorf("expected key as id, got %q", c.ID)
	}
	if c.AccessLevel != AccessPremium {
		t.Errorf("expected premium, got %s", c.AccessLevel)
	}
	if c.Active() {
		t.Error("expected inactive collection")
	}
	if c.SongCount != 0 {
		t.Errorf("song count must not be taken from input, got %d", c.SongCount)
	}
	if c.CreatedAt.IsZero() || c.UpdatedAt.Year() != 2024 {
		t.Errorf("unexpected timestamps: %v %v", c.CreatedAt, c.UpdatedAt)
	}

	c = c.WithSongs([]Song{{Number: "1"}, {Number: "2"}})
	if c.SongCount != 2 {
		t.Errorf("expected recomputed song count 2, got %d", c.SongCount)
	}
}

func TestCacheEntry(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	entry := CacheEntry{CapturedAt: now.Add(-96 * time.Hour)}
	ttl := 100 * time.Hour

	if entry.Expired(now, ttl) {
		t.Error("entry should not be expired")
	}
	if !entry.NearExpiry(now, ttl, 0.95) {
		t.Error("96% aged entry should be near expiry")
	}
	if entry.NearExpiry(now, ttl, 0.99) {
		t.Error("96% aged entry should not pass a 99% threshold")
	}
	if !entry.Expired(now.Add(5*time.Hour), ttl) {
		t.Error("entry should be expired after ttl")
	}
}

func TestSyncRun(t *testing.T) {
	run := NewSyncRun(1, TriggerForeground, "guest")
	if err := run.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	run.Start()
	if run.Status() != SyncRunning || run.StartedAt() == nil {
		t.Errorf("expected running run with start time")
	}

	run.Finish(2, 30, errors.New("boom"))
	if run.Status() != SyncFailed || run.ErrorMessage() != "boom" {
		t.Errorf("expected failed run, got %s %q", run.Status(), run.ErrorMessage())
	}
	if run.Songs() != 30 || run.Collections() != 2 {
		t.Errorf("unexpected counts: %d %d", run.Collections(), run.Songs())
	}

	bad := NewSyncRun(1, "whenever", "")
	if err := bad.Validate(); err == nil {
		t.Error("expected invalid trigger error")
	}
}

func numbers(songs []Song) []string {
	out := make([]string, len(songs))
	for i, s := range songs {
		out[i] = s.Number
	}
	return out
}
