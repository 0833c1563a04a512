package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/desertthunder/hymnal/internal/cache"
	"github.com/desertthunder/hymnal/internal/repositories"
	"github.com/desertthunder/hymnal/internal/shared"
	tu "github.com/desertthunder/hymnal/internal/testing"
)

func setupCache(t *testing.T, clock *tu.FakeClock) (*cache.CollectionCache, *repositories.SyncRunRepository) {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	c := cache.New(repositories.NewKVStore(db), cache.Options{
		DurableTTL:    100 * time.Hour,
		SchemaVersion: 2,
		Now:           clock.Now,
	})
	return c, repositories.NewSyncRunRepository(db)
}

func newDetector(t *testing.T) (*ChangeDetector, *tu.MemoryRemote, *cache.CollectionCache, *tu.FakeClock) {
	t.Helper()
	clock := tu.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	c, _ := setupCache(t, clock)
	remote := tu.NewMemoryRemote()
	d := NewChangeDetector(remote, c, DetectorOptions{
		Interval: 6 * time.Hour,
		Timeout:  200 * time.Millisecond,
		Now:      clock.Now,
	})
	return d, remote, c, clock
}

func TestChangeDetector(t *testing.T) {
	ctx := context.Background()

	t.Run("collection markers", func(t *testing.T) {
		d, remote, c, clock := newDetector(t)
		remote.Set("sync_metadata/collections", map[string]any{"A": "h1", "B": map[string]any{"hash": "h2"}})

		if !d.HasRemoteChangedSinceLastCheck(ctx) {
			t.Error("first check against an empty baseline should report a change")
		}

		clock.Advance(7 * time.Hour)
		if d.HasRemoteChangedSinceLastCheck(ctx) {
			t.Error("unchanged markers should not report a change")
		}

		remote.Set("sync_metadata/collections/B", map[string]any{"hash": "h3"})
		clock.Advance(7 * time.Hour)
		if !d.HasRemoteChangedSinceLastCheck(ctx) {
			t.Error("a changed marker should report a change")
		}

		md, err := c.Metadata(ctx)
		if err != nil {
			t.Fatalf("Metadata() error = %v", err)
		}
		if md.CollectionHashes["A"] != `"h1"` || md.CollectionHashes["B"] != `{"hash":"h3"}` {
			t.Errorf("unexpected baseline %v", md.CollectionHashes)
		}
		if !md.LastMetadataCheck.Equal(clock.Now()) {
			t.Errorf("expected check time %v, got %v", clock.Now(), md.LastMetadataCheck)
		}
	})

	t.Run("removed collection is a change", func(t *testing.T) {
		d, remote, _, clock := newDetector(t)
		remote.Set("sync_metadata/collections", map[string]any{"A": "h1", "B": "h2"})
		d.HasRemoteChangedSinceLastCheck(ctx)

		remote.Set("sync_metadata/collections/B", nil)
		clock.Advance(7 * time.Hour)
		if !d.HasRemoteChangedSinceLastCheck(ctx) {
			t.Error("a removed collection should report a change")
		}
	})

	t.Run("rate limited calls return the last answer", func(t *testing.T) {
		d, remote, _, clock := newDetector(t)
		remote.Set("sync_metadata/collections", map[string]any{"A": "h1"})
		d.HasRemoteChangedSinceLastCheck(ctx)
		clock.Advance(7 * time.Hour)
		if d.HasRemoteChangedSinceLastCheck(ctx) {
			t.Fatal("expected no change")
		}
		calls := remote.TotalCalls()

		remote.Set("sync_metadata/collections/A", "h2")
		clock.Advance(time.Hour)
		if d.HasRemoteChangedSinceLastCheck(ctx) {
			t.Error("a call within the interval should return the previous answer")
		}
		if remote.TotalCalls() != calls {
			t.Error("a call within the interval should not reach the remote store")
		}

		d.Reset()
		if !d.HasRemoteChangedSinceLastCheck(ctx) {
			t.Error("after Reset the next call should check again")
		}
	})

	t.Run("a new detector honors the persisted check", func(t *testing.T) {
		first, remote, c, clock := newDetector(t)
		remote.Set("sync_metadata/collections", map[string]any{"A": "h1"})
		if !first.HasRemoteChangedSinceLastCheck(ctx) {
			t.Fatal("first check should report a change")
		}
		calls := remote.TotalCalls()

		opts := DetectorOptions{Interval: 6 * time.Hour, Timeout: 200 * time.Millisecond, Now: clock.Now}
		clock.Advance(time.Minute)
		second := NewChangeDetector(remote, c, opts)
		if !second.HasRemoteChangedSinceLastCheck(ctx) {
			t.Error("expected the persisted answer within the interval")
		}
		if remote.TotalCalls() != calls {
			t.Errorf("expected no remote calls within the interval, got %d", remote.TotalCalls()-calls)
		}

		clock.Advance(6 * time.Hour)
		third := NewChangeDetector(remote, c, opts)
		if third.HasRemoteChangedSinceLastCheck(ctx) {
			t.Error("unchanged markers should not report a change once the interval passed")
		}
		if remote.TotalCalls() == calls {
			t.Error("expected a remote check once the interval passed")
		}
	})

	t.Run("global marker fallback", func(t *testing.T) {
		d, remote, c, clock := newDetector(t)
		remote.Set("last_modified", "2025-02-01T00:00:00Z")

		if !d.HasRemoteChangedSinceLastCheck(ctx) {
			t.Error("first check should report a change")
		}
		clock.Advance(7 * time.Hour)
		if d.HasRemoteChangedSinceLastCheck(ctx) {
			t.Error("unchanged global marker should not report a change")
		}

		remote.Set("last_modified", "2025-03-01T00:00:00Z")
		clock.Advance(7 * time.Hour)
		if !d.HasRemoteChangedSinceLastCheck(ctx) {
			t.Error("changed global marker should report a change")
		}

		md, _ := c.Metadata(ctx)
		if md.GlobalModified != `"2025-03-01T00:00:00Z"` {
			t.Errorf("unexpected global baseline %q", md.GlobalModified)
		}
	})

	t.Run("failures assume changed", func(t *testing.T) {
		d, remote, c, clock := newDetector(t)
		remote.Set("sync_metadata/collections", map[string]any{"A": "h1"})
		d.HasRemoteChangedSinceLastCheck(ctx)
		clock.Advance(7 * time.Hour)
		d.HasRemoteChangedSinceLastCheck(ctx)

		remote.SetOffline(true)
		clock.Advance(7 * time.Hour)
		if !d.HasRemoteChangedSinceLastCheck(ctx) {
			t.Error("an unreachable remote should report a change")
		}
		md, _ := c.Metadata(ctx)
		if !md.LastChanged {
			t.Error("expected LastChanged to be recorded")
		}
	})

	t.Run("no markers assume changed", func(t *testing.T) {
		d, _, _, clock := newDetector(t)
		for range 2 {
			if !d.HasRemoteChangedSinceLastCheck(ctx) {
				t.Error("missing markers should report a change")
			}
			clock.Advance(7 * time.Hour)
		}
	})
}
