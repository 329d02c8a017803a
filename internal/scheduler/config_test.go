package scheduler

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero min", func(c *Config) { c.MinConcurrency = 0 }, true},
		{"negative max", func(c *Config) { c.MaxConcurrency = -1 }, true},
		{"max below min", func(c *Config) { c.MinConcurrency = 3; c.MaxConcurrency = 2 }, true},
		{"max equals min", func(c *Config) { c.MinConcurrency = 2; c.MaxConcurrency = 2 }, false},
		{"negative budget", func(c *Config) { c.TickBudget = -time.Second }, true},
		{"bad policy", func(c *Config) { c.FailurePolicy = "retry" }, true},
		{"cascade", func(c *Config) { c.FailurePolicy = PolicyCascade }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseFailurePolicy(t *testing.T) {
	tests := []struct {
		in   string
		want FailurePolicy
		ok   bool
	}{
		{"", PolicySuspend, true},
		{"suspend", PolicySuspend, true},
		{" Cascade ", PolicyCascade, true},
		{"ignore", "", false},
	}
	for _, tt := range tests {
		got, err := ParseFailurePolicy(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseFailurePolicy(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFailurePolicy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
