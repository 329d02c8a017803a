// Package config loads cotask settings from YAML or TOML files and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/me/cotask/internal/logging"
	"github.com/me/cotask/internal/scheduler"
)

// Config holds configuration for the cotask CLI and status server.
type Config struct {
	Executor  scheduler.Config `yaml:"executor" toml:"executor"`
	LogLevel  string           `yaml:"log_level" toml:"log_level"`   // debug, info, warn, error
	LogFormat string           `yaml:"log_format" toml:"log_format"` // text, json
	LogFile   string           `yaml:"log_file" toml:"log_file"`     // optional JSON log copy
	DBPath    string           `yaml:"db_path" toml:"db_path"`       // run journal (default ~/.cotask/cotask.db, ":memory:" for testing)
	Addr      string           `yaml:"addr" toml:"addr"`             // status API listen address
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		Executor:  scheduler.DefaultConfig(),
		LogLevel:  "info",
		LogFormat: "text",
		Addr:      ":8080",
	}
}

// DefaultDBPath returns ~/.cotask/cotask.db, falling back to the working
// directory when the home directory is unknown.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "cotask.db"
	}
	return filepath.Join(home, ".cotask", "cotask.db")
}

// Load reads path on top of the defaults, then applies environment
// overrides. The format follows the extension: .yaml, .yml or .toml.
// An empty path yields the defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config %s: unsupported format (want .yaml, .yml or .toml)", path)
	}
	return nil
}

// applyEnv overrides cfg from COTASK_* environment variables.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("COTASK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("COTASK_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("COTASK_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("COTASK_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("COTASK_MAX_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("COTASK_MAX_CONCURRENCY: %w", err)
		}
		cfg.Executor.MaxConcurrency = n
	}
	if v := os.Getenv("COTASK_TICK_BUDGET"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("COTASK_TICK_BUDGET: %w", err)
		}
		cfg.Executor.TickBudget = d
	}
	if v := os.Getenv("COTASK_FAILURE_POLICY"); v != "" {
		cfg.Executor.FailurePolicy = scheduler.FailurePolicy(v)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if !logging.ValidFormat(c.LogFormat) {
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if err := c.Executor.Validate(); err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	return nil
}
