package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/me/cotask/internal/scheduler"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want %q", cfg.Addr, ":8080")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, "text")
	}
	if cfg.Executor.FailurePolicy != scheduler.PolicySuspend {
		t.Errorf("FailurePolicy = %q, want suspend", cfg.Executor.FailurePolicy)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "cotask.yaml", `
log_level: debug
db_path: /tmp/runs.db
executor:
  min_concurrency: 2
  max_concurrency: 8
  tick_budget: 5ms
  failure_policy: cascade
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.DBPath != "/tmp/runs.db" {
		t.Errorf("LogLevel=%q DBPath=%q", cfg.LogLevel, cfg.DBPath)
	}
	if cfg.Executor.MinConcurrency != 2 || cfg.Executor.MaxConcurrency != 8 {
		t.Errorf("concurrency = [%d,%d], want [2,8]", cfg.Executor.MinConcurrency, cfg.Executor.MaxConcurrency)
	}
	if cfg.Executor.TickBudget != 5*time.Millisecond {
		t.Errorf("TickBudget = %v, want 5ms", cfg.Executor.TickBudget)
	}
	if cfg.Executor.FailurePolicy != scheduler.PolicyCascade {
		t.Errorf("FailurePolicy = %q, want cascade", cfg.Executor.FailurePolicy)
	}
	// Unset keys keep their defaults.
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want default", cfg.Addr)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "cotask.toml", `
log_format = "json"
addr = ":9090"

[executor]
min_concurrency = 1
max_concurrency = 4
tick_interval = "2ms"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogFormat != "json" || cfg.Addr != ":9090" {
		t.Errorf("LogFormat=%q Addr=%q", cfg.LogFormat, cfg.Addr)
	}
	if cfg.Executor.MaxConcurrency != 4 || cfg.Executor.TickInterval != 2*time.Millisecond {
		t.Errorf("executor = %+v", cfg.Executor)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unsupported extension", "cotask.ini", "x=1"},
		{"bad yaml", "cotask.yaml", "executor: [1, 2"},
		{"bad level", "cotask.yaml", "log_level: loud"},
		{"bad bounds", "cotask.toml", "[executor]\nmin_concurrency = 5\nmax_concurrency = 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeFile(t, tt.file, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("COTASK_MAX_CONCURRENCY", "3")
	t.Setenv("COTASK_FAILURE_POLICY", "cascade")
	t.Setenv("COTASK_DB", ":memory:")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Executor.MaxConcurrency != 3 {
		t.Errorf("MaxConcurrency = %d, want 3", cfg.Executor.MaxConcurrency)
	}
	if cfg.Executor.FailurePolicy != scheduler.PolicyCascade {
		t.Errorf("FailurePolicy = %q, want cascade", cfg.Executor.FailurePolicy)
	}
	if cfg.DBPath != ":memory:" {
		t.Errorf("DBPath = %q, want :memory:", cfg.DBPath)
	}

	t.Setenv("COTASK_TICK_BUDGET", "soon")
	if _, err := Load(""); err == nil {
		t.Error("expected error for bad duration")
	}
}
