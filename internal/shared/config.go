package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Remote   RemoteConfig   `toml:"remote"`
	Cache    CacheConfig    `toml:"cache"`
	Sync     SyncConfig     `toml:"sync"`
	Probe    ProbeConfig    `toml:"probe"`
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
}

// DatabaseConfig contains settings for the on-device sqlite store.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// RemoteConfig describes the remote document tree and where each layout lives in it.
type RemoteConfig struct {
	BaseURL            string   `toml:"base_url"`
	AuthToken          string   `toml:"auth_token"`
	LegacyPath         string   `toml:"legacy_path"`
	CollectionsPath    string   `toml:"collections_path"`
	CollectionMetaPath string   `toml:"collection_meta_path"`
	MetadataPath       string   `toml:"metadata_path"`
	TimeoutPublic      Duration `toml:"timeout_public"`
	TimeoutUser        Duration `toml:"timeout_user"`
	FlakyCollections   []string `toml:"flaky_collections"`
	FlakyTimeout       Duration `toml:"flaky_timeout"`
}

// CacheConfig controls validity windows of the memory and durable tiers.
type CacheConfig struct {
	MemoryTTL        Duration `toml:"memory_ttl"`
	DurableTTL       Duration `toml:"durable_ttl"`
	RefreshThreshold float64  `toml:"refresh_threshold"` // fraction of DurableTTL after which reads trigger a background refresh
	SchemaVersion    int      `toml:"schema_version"`
}

// SyncConfig controls change detection and refresh scheduling.
type SyncConfig struct {
	ChangeCheckInterval Duration `toml:"change_check_interval"`
	Schedule            string   `toml:"schedule"` // cron format, empty disables the scheduler
	FetchWorkers        int      `toml:"fetch_workers"`
	FetchRate           float64  `toml:"fetch_rate"` // remote partition reads per second
}

// ProbeConfig holds the per-step connectivity probe timeouts.
type ProbeConfig struct {
	DirectTimeout Duration `toml:"direct_timeout"`
	SignalTimeout Duration `toml:"signal_timeout"`
	ClockTimeout  Duration `toml:"clock_timeout"`
	RetryTimeout  Duration `toml:"retry_timeout"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// LogConfig sets the default log level.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a [time.Duration] that decodes from TOML strings such as "30m" or "168h".
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: bad duration %q: %v", ErrInvalidConfig, string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// Validate reports configuration values the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Cache.SchemaVersion < 0:
		return fmt.Errorf("%w: cache.schema_version must not be negative", ErrInvalidConfig)
	case c.Cache.RefreshThreshold <= 0 || c.Cache.RefreshThreshold > 1:
		return fmt.Errorf("%w: cache.refresh_threshold must be in (0, 1]", ErrInvalidConfig)
	case c.Cache.DurableTTL.Duration <= 0:
		return fmt.Errorf("%w: cache.durable_ttl must be positive", ErrInvalidConfig)
	case c.Sync.FetchWorkers < 0:
		return fmt.Errorf("%w: sync.fetch_workers must not be negative", ErrInvalidConfig)
	}
	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
