package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// FailurePolicy decides what happens to tasks whose prerequisite failed.
type FailurePolicy string

const (
	// PolicySuspend leaves dependents of a failed task pending forever and
	// reports them as blocked.
	PolicySuspend FailurePolicy = "suspend"
	// PolicyCascade retires dependents of a failed task as failed without
	// initializing or cycling them.
	PolicyCascade FailurePolicy = "cascade"
)

// ParseFailurePolicy converts a string to a FailurePolicy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(PolicySuspend):
		return PolicySuspend, nil
	case string(PolicyCascade):
		return PolicyCascade, nil
	}
	return "", fmt.Errorf("unknown failure policy %q (want suspend or cascade)", s)
}

// Config holds executor configuration.
type Config struct {
	// MinConcurrency is the floor the active-task limit never adapts below.
	MinConcurrency int `yaml:"min_concurrency" toml:"min_concurrency"`
	// MaxConcurrency caps the number of active tasks; 0 means no ceiling.
	MaxConcurrency int `yaml:"max_concurrency" toml:"max_concurrency"`
	// TickInterval is the pause between ticks in Start, and in Drain after a
	// tick in which every active task yielded.
	TickInterval time.Duration `yaml:"tick_interval" toml:"tick_interval"`
	// TickBudget enables adaptive concurrency: ticks slower than the budget
	// halve the limit, ticks under half the budget raise it by one. Zero
	// keeps the limit fixed at MaxConcurrency.
	TickBudget time.Duration `yaml:"tick_budget" toml:"tick_budget"`
	// FailurePolicy applies to dependents of failed tasks.
	FailurePolicy FailurePolicy `yaml:"failure_policy" toml:"failure_policy"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinConcurrency: 1,
		MaxConcurrency: 0,
		TickInterval:   time.Millisecond,
		FailurePolicy:  PolicySuspend,
	}
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	if c.MinConcurrency < 1 {
		return fmt.Errorf("min concurrency must be at least 1, got %d", c.MinConcurrency)
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max concurrency must not be negative, got %d", c.MaxConcurrency)
	}
	if c.MaxConcurrency > 0 && c.MaxConcurrency < c.MinConcurrency {
		return fmt.Errorf("max concurrency %d is below min concurrency %d", c.MaxConcurrency, c.MinConcurrency)
	}
	if c.TickInterval < 0 || c.TickBudget < 0 {
		return fmt.Errorf("tick interval and budget must not be negative")
	}
	if _, err := ParseFailurePolicy(string(c.FailurePolicy)); err != nil {
		return err
	}
	return nil
}
