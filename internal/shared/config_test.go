package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./hymnal.db" {
			t.Errorf("expected database path ./hymnal.db, got %s", config.Database.Path)
		}

		if config.Cache.MemoryTTL.Duration != 30*time.Minute {
			t.Errorf("expected memory ttl 30m, got %v", config.Cache.MemoryTTL)
		}

		if config.Cache.DurableTTL.Duration != 7*24*time.Hour {
			t.Errorf("expected durable ttl 168h, got %v", config.Cache.DurableTTL)
		}

		if config.Cache.SchemaVersion != 2 {
			t.Errorf("expected schema version 2, got %d", config.Cache.SchemaVersion)
		}

		if config.Remote.LegacyPath != "songs" {
			t.Errorf("expected legacy path songs, got %s", config.Remote.LegacyPath)
		}

		if len(config.Remote.FlakyCollections) == 0 {
			t.Error("expected default flaky collections")
		}

		if err := config.Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		if config.Database.Path != DefaultConfig().Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")

		testConfig := `[database]
path = "/custom/path.db"

[remote]
base_url = "http://localhost:9000"
flaky_collections = ["XYZ"]

[cache]
durable_ttl = "72h"
memory_ttl = "5m"
refresh_threshold = 0.9
schema_version = 3
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}
		if config.Remote.BaseURL != "http://localhost:9000" {
			t.Errorf("expected base url override, got %s", config.Remote.BaseURL)
		}
		if config.Cache.DurableTTL.Duration != 72*time.Hour {
			t.Errorf("expected durable ttl 72h, got %v", config.Cache.DurableTTL)
		}
		if config.Cache.SchemaVersion != 3 {
			t.Errorf("expected schema version 3, got %d", config.Cache.SchemaVersion)
		}
		if len(config.Remote.FlakyCollections) != 1 || config.Remote.FlakyCollections[0] != "XYZ" {
			t.Errorf("expected flaky collections [XYZ], got %v", config.Remote.FlakyCollections)
		}
		if config.Remote.LegacyPath != "songs" {
			t.Errorf("unset values should keep defaults, got legacy path %q", config.Remote.LegacyPath)
		}
	})

	t.Run("LoadConfig Rejects Bad Duration", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("[cache]\nmemory_ttl = \"soon\"\n"), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		if _, err := LoadConfig(configPath); err == nil {
			t.Error("expected error for unparseable duration")
		}
	})

	t.Run("Validate", func(t *testing.T) {
		config := DefaultConfig()
		config.Cache.RefreshThreshold = 1.5

		if err := config.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("LoadConfig Missing File", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}
