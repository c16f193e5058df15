package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no config flag is given. A missing
// file at this path is not an error; the server runs on defaults.
const DefaultPath = "config.yaml"

const maxWorkerCeiling = 16

type Config struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	DataRoot         string `yaml:"data_root"`
	MusicLibraryPath string `yaml:"music_library_path"`
	LogLevel         string `yaml:"log_level"`
	Debug            bool   `yaml:"debug"`

	MaxWorkers    int   `yaml:"max_workers"`
	MaxFileSizeMB int64 `yaml:"max_file_size_mb"`
	MinFileSizeKB int64 `yaml:"min_file_size_kb"`
	CacheTTLDays  int   `yaml:"cache_ttl_days"`

	AnalysisTimeoutSec   int `yaml:"analysis_timeout_sec"`
	GenerationTimeoutSec int `yaml:"generation_timeout_sec"`
	MaxConcurrentTasks   int `yaml:"max_concurrent_tasks"`
}

// Load reads the yaml file, fills in defaults, applies environment
// overrides and validates the result, in that order.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && path == DefaultPath:
		// All-defaults run.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	cfg.clamp()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.DataRoot == "" {
		c.DataRoot = "./data"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MaxWorkers == 0 {
		c.MaxWorkers = runtime.NumCPU()
		if c.MaxWorkers > 4 {
			c.MaxWorkers = 4
		}
	}
	if c.MaxFileSizeMB == 0 {
		c.MaxFileSizeMB = 500
	}
	if c.MinFileSizeKB == 0 {
		c.MinFileSizeKB = 100
	}
	if c.CacheTTLDays == 0 {
		c.CacheTTLDays = 30
	}
	if c.AnalysisTimeoutSec == 0 {
		c.AnalysisTimeoutSec = 300
	}
	if c.GenerationTimeoutSec == 0 {
		c.GenerationTimeoutSec = 60
	}
	if c.MaxConcurrentTasks == 0 {
		c.MaxConcurrentTasks = 4
	}
}

// LoadFromEnv applies the environment overrides. Malformed numeric or
// boolean values are configuration errors, not silently skipped.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("DATA_ROOT"); v != "" {
		c.DataRoot = v
	}
	if v := os.Getenv("MUSIC_LIBRARY_PATH"); v != "" {
		c.MusicLibraryPath = v
	}

	intVars := []struct {
		name string
		dst  *int
	}{
		{"PORT", &c.Port},
		{"MAX_WORKERS", &c.MaxWorkers},
		{"CACHE_TTL_DAYS", &c.CacheTTLDays},
		{"ANALYSIS_TIMEOUT_SEC", &c.AnalysisTimeoutSec},
		{"GENERATION_TIMEOUT_SEC", &c.GenerationTimeoutSec},
	}
	for _, ev := range intVars {
		v := os.Getenv(ev.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", ev.name, v, err)
		}
		*ev.dst = n
	}

	if v := os.Getenv("MAX_FILE_SIZE_MB"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_FILE_SIZE_MB=%q: %w", v, err)
		}
		c.MaxFileSizeMB = n
	}
	if v := os.Getenv("DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DEBUG=%q: %w", v, err)
		}
		c.Debug = b
	}
	return nil
}

func (c *Config) clamp() {
	if c.MaxWorkers > maxWorkerCeiling {
		c.MaxWorkers = maxWorkerCeiling
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be positive, got %d", c.MaxWorkers)
	}
	if c.MaxConcurrentTasks < 1 {
		return fmt.Errorf("max_concurrent_tasks must be positive, got %d", c.MaxConcurrentTasks)
	}
	if c.MaxFileSizeMB < 0 || c.MinFileSizeKB < 0 {
		return fmt.Errorf("file size bounds must be non-negative")
	}
	if lo, hi := c.MinFileSizeBytes(), c.MaxFileSizeBytes(); hi > 0 && lo > hi {
		return fmt.Errorf("min_file_size_kb %d exceeds max_file_size_mb %d", c.MinFileSizeKB, c.MaxFileSizeMB)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

// Addr is the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CacheDir is where feature cache entries live.
func (c *Config) CacheDir() string {
	return filepath.Join(c.DataRoot, "cache")
}

// PresetsDir is where custom playlist presets live.
func (c *Config) PresetsDir() string {
	return filepath.Join(c.DataRoot, "presets")
}

// ExportsDir is where rendered playlists live.
func (c *Config) ExportsDir() string {
	return filepath.Join(c.DataRoot, "exports")
}

func (c *Config) MaxFileSizeBytes() int64 {
	return c.MaxFileSizeMB * 1024 * 1024
}

func (c *Config) MinFileSizeBytes() int64 {
	return c.MinFileSizeKB * 1024
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLDays) * 24 * time.Hour
}

func (c *Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.AnalysisTimeoutSec) * time.Second
}

func (c *Config) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutSec) * time.Second
}

// SlogLevel maps the configured level to slog. Debug wins over log_level.
func (c *Config) SlogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
