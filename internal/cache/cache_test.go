package cache

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/desertthunder/hymnal/internal/models"
	"github.com/desertthunder/hymnal/internal/repositories"
	"github.com/desertthunder/hymnal/internal/shared"
	tu "github.com/desertthunder/hymnal/internal/testing"
)

func setupCache(t *testing.T) (*CollectionCache, *repositories.KVStore, *tu.FakeClock) {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	kv := repositories.NewKVStore(db)
	clock := tu.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	c := New(kv, Options{
		MemoryTTL:        30 * time.Minute,
		DurableTTL:       100 * time.Hour,
		RefreshThreshold: 0.95,
		SchemaVersion:    2,
		Now:              clock.Now,
	})
	return c, kv, clock
}

func songs(numbers ...string) []models.Song {
	out := make([]models.Song, len(numbers))
	for i, n := range numbers {
		out[i] = models.Song{Number: n, Title: "Song " + n, Verses: []models.Verse{{Label: "1", Lyrics: "la"}}}
	}
	return out
}

func TestCollectionCache(t *testing.T) {
	ctx := context.Background()

	t.Run("Put then Get returns identical content", func(t *testing.T) {
		c, _, _ := setupCache(t)
		want := songs("1", "2", "3")

		if _, err := c.Put(ctx, "LPMI", want); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		first, ok := c.Get(ctx, "LPMI")
		if !ok {
			t.Fatal("expected cache hit")
		}
		if !reflect.DeepEqual(first, want) {
			t.Errorf("Get() = %+v, want %+v", first, want)
		}

		second, _ := c.Get(ctx, "LPMI")
		if !reflect.DeepEqual(first, second) {
			t.Error("repeated Get() should be identical")
		}
	})

	t.Run("callers cannot mutate cached verses", func(t *testing.T) {
		c, _, _ := setupCache(t)
		input := songs("1", "2")
		if _, err := c.Put(ctx, "A", input); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		input[0].Verses[0].Lyrics = "changed by writer"

		got, _ := c.Get(ctx, "A")
		got[1].Verses[0].Lyrics = "changed by reader"

		again, ok := c.Get(ctx, "A")
		if !ok {
			t.Fatal("expected cache hit")
		}
		if again[0].Verses[0].Lyrics != "la" || again[1].Verses[0].Lyrics != "la" {
			t.Errorf("cached verses were mutated: %+v", again)
		}
		if stale, _ := c.GetStale(ctx, "A"); stale[1].Verses[0].Lyrics != "la" {
			t.Errorf("stale read shares verses with a caller: %+v", stale)
		}
	})

	t.Run("durable tier survives a new process", func(t *testing.T) {
		c, kv, clock := setupCache(t)
		c.Put(ctx, "SRD", songs("5"))

		fresh := New(kv, Options{DurableTTL: 100 * time.Hour, SchemaVersion: 2, Now: clock.Now})
		if got, ok := fresh.Get(ctx, "SRD"); !ok || len(got) != 1 {
			t.Errorf("expected durable hit, got %v %v", got, ok)
		}
	})

	t.Run("hash skip writes identical content once", func(t *testing.T) {
		c, kv, _ := setupCache(t)

		wrote, err := c.Put(ctx, "A", songs("1", "2"))
		if err != nil || !wrote {
			t.Fatalf("first Put() = %v, %v", wrote, err)
		}
		before := kv.Writes()

		wrote, err = c.Put(ctx, "A", songs("1", "2"))
		if err != nil {
			t.Fatalf("second Put() error = %v", err)
		}
		if wrote {
			t.Error("second Put() should skip the durable write")
		}
		if kv.Writes() != before {
			t.Errorf("expected no durable writes, got %d", kv.Writes()-before)
		}
		if c.DurableWrites() != 1 {
			t.Errorf("expected exactly one entry write, got %d", c.DurableWrites())
		}
	})

	t.Run("changed content is written", func(t *testing.T) {
		c, _, _ := setupCache(t)
		c.Put(ctx, "A", songs("1"))
		if wrote, _ := c.Put(ctx, "A", songs("1", "2")); !wrote {
			t.Error("expected changed content to be written")
		}
	})

	t.Run("near expiry renews identical content", func(t *testing.T) {
		c, _, clock := setupCache(t)
		c.Put(ctx, "A", songs("1"))
		clock.Advance(96 * time.Hour)

		if wrote, _ := c.Put(ctx, "A", songs("1")); !wrote {
			t.Error("expected near-expiry entry to be renewed")
		}
		entry, err := c.GetEntry(ctx, "A")
		if err != nil {
			t.Fatalf("GetEntry() error = %v", err)
		}
		if entry.Age(clock.Now()) != 0 {
			t.Errorf("expected renewed capture time, age %v", entry.Age(clock.Now()))
		}
	})

	t.Run("Overwrite bypasses hash skip", func(t *testing.T) {
		c, _, _ := setupCache(t)
		c.Put(ctx, "A", songs("1"))
		if err := c.Overwrite(ctx, "A", songs("1")); err != nil {
			t.Fatalf("Overwrite() error = %v", err)
		}
		if c.DurableWrites() != 2 {
			t.Errorf("expected 2 entry writes, got %d", c.DurableWrites())
		}
	})

	t.Run("expired entries miss but are served stale", func(t *testing.T) {
		c, _, clock := setupCache(t)
		c.Put(ctx, "A", songs("1", "2"))
		clock.Advance(101 * time.Hour)

		if _, ok := c.Get(ctx, "A"); ok {
			t.Error("expected expired entry to miss")
		}
		stale, ok := c.GetStale(ctx, "A")
		if !ok || len(stale) != 2 {
			t.Errorf("expected stale entry, got %v %v", stale, ok)
		}
	})

	t.Run("memory tier expires after its own window", func(t *testing.T) {
		c, kv, clock := setupCache(t)
		c.Put(ctx, "A", songs("1"))

		if err := kv.Delete(ctx, EntryPrefix+"A"); err != nil {
			t.Fatalf("failed to delete durable entry: %v", err)
		}
		if _, ok := c.Get(ctx, "A"); !ok {
			t.Error("expected memory hit inside its window")
		}

		clock.Advance(31 * time.Minute)
		if _, ok := c.Get(ctx, "A"); ok {
			t.Error("expected memory entry to expire")
		}
	})

	t.Run("empty entries are evicted as corrupt", func(t *testing.T) {
		c, kv, _ := setupCache(t)
		kv.Set(ctx, EntryPrefix+"A", `{"collection_id":"A","songs":[],"schema_version":2}`)

		if _, err := c.GetEntry(ctx, "A"); !errors.Is(err, shared.ErrCacheCorrupt) {
			t.Errorf("expected ErrCacheCorrupt, got %v", err)
		}
		if _, err := kv.Get(ctx, EntryPrefix+"A"); !errors.Is(err, shared.ErrCacheMiss) {
			t.Error("expected corrupt entry to be removed")
		}
	})

	t.Run("undecodable entries are evicted", func(t *testing.T) {
		c, kv, _ := setupCache(t)
		kv.Set(ctx, EntryPrefix+"A", `not json`)

		if _, ok := c.GetStale(ctx, "A"); ok {
			t.Error("expected miss for undecodable entry")
		}
		if keys, _ := kv.Keys(ctx, EntryPrefix); len(keys) != 0 {
			t.Errorf("expected entry removed, got %v", keys)
		}
	})

	t.Run("entries from another schema version are evicted", func(t *testing.T) {
		c, kv, _ := setupCache(t)
		kv.Set(ctx, EntryPrefix+"A", `{"collection_id":"A","songs":[{"number":"1"}],"schema_version":1}`)

		if _, err := c.GetEntry(ctx, "A"); !errors.Is(err, shared.ErrVersionMismatch) {
			t.Errorf("expected ErrVersionMismatch, got %v", err)
		}
	})

	t.Run("empty Put is ignored", func(t *testing.T) {
		c, _, _ := setupCache(t)
		wrote, err := c.Put(ctx, "A", nil)
		if err != nil || wrote {
			t.Errorf("expected silent skip, got %v %v", wrote, err)
		}
		if _, ok := c.GetStale(ctx, "A"); ok {
			t.Error("empty partition must not be cached")
		}
	})

	t.Run("Invalidate and ListAvailableIDs", func(t *testing.T) {
		c, _, _ := setupCache(t)
		c.Put(ctx, "B", songs("1"))
		c.Put(ctx, "A", songs("2"))
		c.Put(ctx, LegacyID, songs("3"))

		ids, err := c.ListAvailableIDs(ctx)
		if err != nil {
			t.Fatalf("ListAvailableIDs() error = %v", err)
		}
		if !reflect.DeepEqual(ids, []string{"A", "B", LegacyID}) {
			t.Errorf("unexpected ids %v", ids)
		}

		if err := c.Invalidate(ctx, "A"); err != nil {
			t.Fatalf("Invalidate() error = %v", err)
		}
		if _, ok := c.Get(ctx, "A"); ok {
			t.Error("expected invalidated entry to miss")
		}
		ids, _ = c.ListAvailableIDs(ctx)
		if !reflect.DeepEqual(ids, []string{"B", LegacyID}) {
			t.Errorf("unexpected ids after invalidate %v", ids)
		}
	})

	t.Run("missing index is rebuilt", func(t *testing.T) {
		c, kv, _ := setupCache(t)
		c.Put(ctx, "A", songs("1"))
		kv.Delete(ctx, KeyAvailable)
		kv.Delete(ctx, HashPrefix+"A")

		ids, err := c.ListAvailableIDs(ctx)
		if err != nil || !reflect.DeepEqual(ids, []string{"A"}) {
			t.Errorf("expected rebuilt index, got %v %v", ids, err)
		}
		if _, err := kv.Get(ctx, HashPrefix+"A"); err != nil {
			t.Errorf("expected hash key restored, got %v", err)
		}
	})

	t.Run("Clear keeps schema version", func(t *testing.T) {
		c, kv, _ := setupCache(t)
		c.Put(ctx, "A", songs("1"))
		c.setStoredVersion(ctx, 2)
		c.MarkSynced(ctx, time.Now())
		c.Metadata(ctx)

		if err := c.Clear(ctx); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		keys, _ := kv.Keys(ctx, "")
		if !reflect.DeepEqual(keys, []string{KeySchemaVersion}) {
			t.Errorf("expected only the schema version to remain, got %v", keys)
		}
		if _, ok := c.Get(ctx, "A"); ok {
			t.Error("expected memory tier cleared")
		}
	})

	t.Run("Statistics", func(t *testing.T) {
		c, _, clock := setupCache(t)
		c.Put(ctx, "A", songs("1", "2"))
		c.Put(ctx, "B", songs("3"))
		c.MarkSynced(ctx, clock.Now())
		clock.Advance(time.Hour)

		stats, err := c.Statistics(ctx)
		if err != nil {
			t.Fatalf("Statistics() error = %v", err)
		}
		if stats.DurableEntries != 2 || stats.TotalSongs != 3 {
			t.Errorf("unexpected stats %+v", stats)
		}
		if stats.Entries[0].Age != time.Hour {
			t.Errorf("expected 1h age, got %v", stats.Entries[0].Age)
		}
		if !stats.LastFullSync.Equal(clock.Now().Add(-time.Hour)) {
			t.Errorf("unexpected last sync %v", stats.LastFullSync)
		}
	})
}

func TestCollectionList(t *testing.T) {
	ctx := context.Background()
	c, kv, _ := setupCache(t)

	if _, err := c.Collections(ctx); !errors.Is(err, shared.ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss, got %v", err)
	}

	list := []models.Collection{
		{ID: "LPMI", Name: "Lagu Pujian", AccessLevel: models.AccessPublic, Status: models.StatusActive},
		{ID: "P", Name: "Premium", AccessLevel: models.AccessPremium, Status: models.StatusActive},
	}
	if err := c.PutCollections(ctx, list); err != nil {
		t.Fatalf("PutCollections() error = %v", err)
	}
	before := kv.Writes()
	c.PutCollections(ctx, list)
	if kv.Writes() != before {
		t.Error("unchanged collection list should not be rewritten")
	}

	got, err := c.Collections(ctx)
	if err != nil {
		t.Fatalf("Collections() error = %v", err)
	}
	if len(got) != 2 || got[1].AccessLevel != models.AccessPremium {
		t.Errorf("unexpected collections %+v", got)
	}

	kv.Set(ctx, KeyCollections, "{")
	if _, err := c.Collections(ctx); !errors.Is(err, shared.ErrCacheCorrupt) {
		t.Errorf("expected ErrCacheCorrupt, got %v", err)
	}
}

func TestMetadata(t *testing.T) {
	ctx := context.Background()

	t.Run("created on first read", func(t *testing.T) {
		c, kv, _ := setupCache(t)
		md, err := c.Metadata(ctx)
		if err != nil {
			t.Fatalf("Metadata() error = %v", err)
		}
		if md.CacheVersion != 2 || md.CollectionHashes == nil {
			t.Errorf("unexpected metadata %+v", md)
		}
		if _, err := kv.Get(ctx, KeyMetadata); err != nil {
			t.Errorf("expected metadata persisted, got %v", err)
		}
	})

	t.Run("UpdateMetadata round trip", func(t *testing.T) {
		c, _, clock := setupCache(t)
		err := c.UpdateMetadata(ctx, func(md *models.SyncMetadata) {
			md.CollectionHashes["A"] = "abc"
			md.LastMetadataCheck = clock.Now()
		})
		if err != nil {
			t.Fatalf("UpdateMetadata() error = %v", err)
		}

		md, _ := c.Metadata(ctx)
		if md.CollectionHashes["A"] != "abc" || !md.LastMetadataCheck.Equal(clock.Now()) {
			t.Errorf("unexpected metadata %+v", md)
		}
	})
}
