package repositories

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/desertthunder/hymnal/internal/models"
	"github.com/desertthunder/hymnal/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

func TestKVStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Set and Get", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		store := NewKVStore(db)
		if err := store.Set(ctx, "cache_last_sync", "2025-01-01T00:00:00Z"); err != nil {
			t.Fatalf("failed to set key: %v", err)
		}

		value, err := store.Get(ctx, "cache_last_sync")
		if err != nil {
			t.Fatalf("failed to get key: %v", err)
		}
		if value != "2025-01-01T00:00:00Z" {
			t.Errorf("expected stored value, got %q", value)
		}
	})

	t.Run("Set overwrites", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		store := NewKVStore(db)
		store.Set(ctx, "k", "one")
		store.Set(ctx, "k", "two")

		if value, _ := store.Get(ctx, "k"); value != "two" {
			t.Errorf("expected last writer to win, got %q", value)
		}
		if store.Writes() != 2 {
			t.Errorf("expected 2 writes, got %d", store.Writes())
		}
	})

	t.Run("Get missing key", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		if _, err := NewKVStore(db).Get(ctx, "nope"); !errors.Is(err, shared.ErrCacheMiss) {
			t.Errorf("expected ErrCacheMiss, got %v", err)
		}
	})

	t.Run("Keys and DeletePrefix", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		store := NewKVStore(db)
		for _, k := range []string{"song_cache_B", "song_cache_A", "songXcache", "cache_hash_A"} {
			if err := store.Set(ctx, k, "v"); err != nil {
				t.Fatalf("failed to set %s: %v", k, err)
			}
		}

		keys, err := store.Keys(ctx, "song_cache_")
		if err != nil {
			t.Fatalf("failed to list keys: %v", err)
		}
		if len(keys) != 2 || keys[0] != "song_cache_A" || keys[1] != "song_cache_B" {
			t.Errorf("unexpected keys: %v", keys)
		}

		n, err := store.DeletePrefix(ctx, "song_cache_")
		if err != nil {
			t.Fatalf("failed to delete prefix: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 deleted keys, got %d", n)
		}

		all, _ := store.Keys(ctx, "")
		if len(all) != 2 {
			t.Errorf("expected unrelated keys to survive, got %v", all)
		}
	})

	t.Run("Delete and Clear", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		store := NewKVStore(db)
		store.Set(ctx, "a", "1")
		store.Set(ctx, "b", "2")

		if err := store.Delete(ctx, "a"); err != nil {
			t.Fatalf("failed to delete: %v", err)
		}
		if err := store.Delete(ctx, "a"); err != nil {
			t.Errorf("deleting a missing key should not fail: %v", err)
		}
		if err := store.Clear(ctx); err != nil {
			t.Fatalf("failed to clear: %v", err)
		}
		if keys, _ := store.Keys(ctx, ""); len(keys) != 0 {
			t.Errorf("expected empty store, got %v", keys)
		}
	})
}

func TestSyncRunRepository(t *testing.T) {
	t.Run("Create", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSyncRunRepository(db)
		run := models.NewSyncRun(0, models.TriggerForeground, "guest")

		if err := repo.Create(run); err != nil {
			t.Fatalf("failed to create sync run: %v", err)
		}
		if run.ID() == "" {
			t.Error("sync run ID should be set after creation")
		}
		if run.Sequence() != 1 {
			t.Errorf("expected sequence 1, got %d", run.Sequence())
		}
	})

	t.Run("Create rejects invalid run", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		if err := NewSyncRunRepository(db).Create(models.NewSyncRun(0, "sometimes", "")); err == nil {
			t.Fatal("expected validation error")
		}
	})

	t.Run("Get and Update", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSyncRunRepository(db)
		run := models.NewSyncRun(0, models.TriggerBackground, "user")
		if err := repo.Create(run); err != nil {
			t.Fatalf("failed to create sync run: %v", err)
		}

		run.Start()
		run.Finish(3, 120, errors.New("legacy partition timed out"))
		if err := repo.Update(run); err != nil {
			t.Fatalf("failed to update sync run: %v", err)
		}

		retrieved, err := repo.Get(run.ID())
		if err != nil {
			t.Fatalf("failed to get sync run: %v", err)
		}
		if retrieved.Status() != models.SyncFailed {
			t.Errorf("expected failed status, got %s", retrieved.Status())
		}
		if retrieved.Songs() != 120 || retrieved.Collections() != 3 {
			t.Errorf("unexpected counts: %d %d", retrieved.Collections(), retrieved.Songs())
		}
		if retrieved.ErrorMessage() != "legacy partition timed out" {
			t.Errorf("unexpected error message %q", retrieved.ErrorMessage())
		}
		if retrieved.StartedAt() == nil || retrieved.CompletedAt() == nil {
			t.Error("expected start and completion times")
		}
		if retrieved.Trigger() != models.TriggerBackground {
			t.Errorf("expected background trigger, got %s", retrieved.Trigger())
		}
	})

	t.Run("Get not found", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		if _, err := NewSyncRunRepository(db).Get("missing"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Update not found", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		run := models.NewSyncRun(1, models.TriggerReset, "")
		run.SetID("missing")
		if err := NewSyncRunRepository(db).Update(run); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("List and Latest", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSyncRunRepository(db)
		triggers := []models.SyncTrigger{models.TriggerForeground, models.TriggerScheduled, models.TriggerScheduled}
		for _, trigger := range triggers {
			run := models.NewSyncRun(0, trigger, "")
			run.Start()
			run.Finish(1, 10, nil)
			if err := repo.Create(run); err != nil {
				t.Fatalf("failed to create sync run: %v", err)
			}
		}

		scheduled, err := repo.List(map[string]any{"trigger": "scheduled"})
		if err != nil {
			t.Fatalf("failed to list sync runs: %v", err)
		}
		if len(scheduled) != 2 {
			t.Errorf("expected 2 scheduled runs, got %d", len(scheduled))
		}

		limited, _ := repo.List(map[string]any{"status": "completed", "limit": 2})
		if len(limited) != 2 {
			t.Errorf("expected limit to apply, got %d", len(limited))
		}

		latest, err := repo.Latest()
		if err != nil {
			t.Fatalf("failed to get latest: %v", err)
		}
		if latest == nil || latest.Sequence() != 3 {
			t.Errorf("expected latest run to have sequence 3, got %+v", latest)
		}
	})

	t.Run("Latest empty", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		latest, err := NewSyncRunRepository(db).Latest()
		if err != nil || latest != nil {
			t.Errorf("expected nil run and no error, got %v %v", latest, err)
		}
	})
}

func TestNextSequence(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	for want := 1; want <= 3; want++ {
		got, err := NextSequence(db, "sync_runs")
		if err != nil {
			t.Fatalf("failed to get sequence: %v", err)
		}
		if got != want {
			t.Errorf("expected sequence %d, got %d", want, got)
		}
	}

	if _, err := NextSequence(db, "nothing"); err == nil {
		t.Error("expected error for missing sequence table")
	}
}
