// Package config handles configuration loading, validation, and management for typewitness.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Ledger configures the clipboard ledger used to match pastes to copies.
	Ledger LedgerConfig `toml:"ledger" json:"ledger" yaml:"ledger"`

	// Storage configuration for analysis history.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Server configuration for the HTTP API.
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	// Watch configuration for session file monitoring.
	Watch WatchConfig `toml:"watch" json:"watch" yaml:"watch"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// LedgerConfig bounds the clipboard ledger.
type LedgerConfig struct {
	// Capacity is the maximum number of retained copy/cut entries.
	Capacity int `toml:"capacity" json:"capacity" yaml:"capacity"`

	// TTLSec is how long an entry stays matchable, in seconds.
	TTLSec int `toml:"ttl_sec" json:"ttl_sec" yaml:"ttl_sec"`
}

// TTL returns the ledger entry lifetime.
func (l LedgerConfig) TTL() time.Duration {
	return time.Duration(l.TTLSec) * time.Second
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Enabled determines whether analyses are recorded.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the path to the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `toml:"addr" json:"addr" yaml:"addr"`

	// ReadTimeoutSec bounds reading a request.
	ReadTimeoutSec int `toml:"read_timeout_sec" json:"read_timeout_sec" yaml:"read_timeout_sec"`

	// WriteTimeoutSec bounds writing a response.
	WriteTimeoutSec int `toml:"write_timeout_sec" json:"write_timeout_sec" yaml:"write_timeout_sec"`

	// MaxBodyBytes limits request payloads.
	MaxBodyBytes int64 `toml:"max_body_bytes" json:"max_body_bytes" yaml:"max_body_bytes"`
}

// WatchConfig holds session file watching configuration.
type WatchConfig struct {
	// DebounceMs is how long writes must settle before a file is reanalyzed.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`
}

// Debounce returns the debounce interval.
func (w WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMs) * time.Millisecond
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log destination: stdout, stderr, or file.
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when Output is "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		Ledger: LedgerConfig{
			Capacity: 50,
			TTLSec:   600, // 10 minutes
		},
		Storage: StorageConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "analyses.db"),
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8787",
			ReadTimeoutSec:  30,
			WriteTimeoutSec: 30,
			MaxBodyBytes:    64 << 20,
		},
		Watch: WatchConfig{
			DebounceMs: 250,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "typewitness.log"),
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the configured files live in.
func (c *Config) EnsureDirectories() error {
	dirs := []string{}
	if c.Storage.Enabled {
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
	}
	if c.Logging.Output == "file" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// DataDir returns the base typewitness data directory.
// Uses platform-specific paths or the TYPEWITNESS_DATA_DIR override.
func DataDir() string {
	if envDir := os.Getenv("TYPEWITNESS_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with TYPEWITNESS_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Storage overrides
	if v := os.Getenv("TYPEWITNESS_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v, ok := envBool("TYPEWITNESS_STORAGE_ENABLED"); ok {
		c.Storage.Enabled = v
	}

	// Server overrides
	if v := os.Getenv("TYPEWITNESS_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}

	// Ledger overrides
	if v, ok := envInt("TYPEWITNESS_LEDGER_CAPACITY"); ok {
		c.Ledger.Capacity = v
	}
	if v, ok := envInt("TYPEWITNESS_LEDGER_TTL_SEC"); ok {
		c.Ledger.TTLSec = v
	}

	if v, ok := envInt("TYPEWITNESS_WATCH_DEBOUNCE_MS"); ok {
		c.Watch.DebounceMs = v
	}

	// Logging overrides
	if v := os.Getenv("TYPEWITNESS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TYPEWITNESS_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("TYPEWITNESS_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
		c.Logging.Output = "file"
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version: c.Version,
		Ledger:  c.Ledger,
		Storage: c.Storage,
		Server:  c.Server,
		Watch:   c.Watch,
		Logging: c.Logging,
	}
}

// SaveConfig writes cfg as TOML to path, creating the parent directory.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	return cfg.WriteTOML(f)
}

// WriteTOML encodes the configuration as TOML.
func (c *Config) WriteTOML(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(c.Clone()); err != nil {
		return fmt.Errorf("encode TOML: %w", err)
	}
	return nil
}
