// Package plan reads task graphs described in YAML and builds them into
// tasks and groups the executor can run.
package plan

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind selects the factory a plan entry is built with.
type Kind string

const (
	KindAction      Kind = "action"
	KindCount       Kind = "count"
	KindRandomCount Kind = "random_count"
	KindDelay       Kind = "delay"
	KindWait        Kind = "wait"
	KindEmpty       Kind = "empty"
	KindFail        Kind = "fail"
	KindCommand     Kind = "command"
	KindGroup       Kind = "group"
)

// Plan is a parsed plan document.
type Plan struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Vars        map[string]any `yaml:"vars,omitempty" json:"vars,omitempty"`
	Library     string         `yaml:"library,omitempty" json:"library,omitempty"`
	Tasks       []Entry        `yaml:"tasks" json:"tasks"`
}

// Entry describes one task or group.
type Entry struct {
	Name          string        `yaml:"name" json:"name"`
	Kind          Kind          `yaml:"kind" json:"kind"`
	Needs         []string      `yaml:"needs,omitempty" json:"needs,omitempty"`
	Estimate      *float64      `yaml:"estimate,omitempty" json:"estimate,omitempty"`
	IgnoreFailure bool          `yaml:"ignore_failure,omitempty" json:"ignore_failure,omitempty"`
	Script        string        `yaml:"script,omitempty" json:"script,omitempty"`
	From          int           `yaml:"from,omitempty" json:"from,omitempty"`
	To            int           `yaml:"to,omitempty" json:"to,omitempty"`
	Seed          int64         `yaml:"seed,omitempty" json:"seed,omitempty"`
	Duration      time.Duration `yaml:"duration,omitempty" json:"duration,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Message       string        `yaml:"message,omitempty" json:"message,omitempty"`
	Command       []string      `yaml:"command,omitempty" json:"command,omitempty"`
	Children      []string      `yaml:"children,omitempty" json:"children,omitempty"`
}

// Parse validates data against the plan schema, decodes it and checks the
// graph for unknown references and cycles.
func Parse(data []byte) (*Plan, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if _, err := BuildDAG(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Load reads and parses the plan at path.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Entry returns the entry called name.
func (p *Plan) Entry(name string) (Entry, bool) {
	for _, e := range p.Tasks {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}
