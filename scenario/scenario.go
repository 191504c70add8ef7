// Package scenario runs YAML-described message sequences against a
// single-contract environment and records a deterministic trace of them.
package scenario

import (
	"bytes"
	"fmt"
	"os"

	"github.com/govm-net/multitest/context"
	"github.com/govm-net/multitest/core"
	"gopkg.in/yaml.v3"
)

// Scenario is one YAML scenario file.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Backend selects the state backend: "memory" (default) or "db".
	Backend string `yaml:"backend,omitempty"`

	// Accounts are seeded before instantiation.
	Accounts map[string]core.Coins `yaml:"accounts,omitempty"`

	Instantiate InstantiateStep `yaml:"instantiate"`

	Steps []Step `yaml:"steps"`

	// Balances are checked after the last step.
	Balances map[string]core.Coins `yaml:"balances,omitempty"`
}

// InstantiateStep configures the environment's single instantiation.
type InstantiateStep struct {
	Sender string         `yaml:"sender,omitempty"`
	Label  string         `yaml:"label,omitempty"`
	Admin  string         `yaml:"admin,omitempty"`
	Msg    map[string]any `yaml:"msg"`
}

// Step is exactly one of the call kinds plus an optional expectation.
type Step struct {
	Execute   *Call   `yaml:"execute,omitempty"`
	Query     *Call   `yaml:"query,omitempty"`
	Sudo      *Call   `yaml:"sudo,omitempty"`
	Migrate   *Call   `yaml:"migrate,omitempty"`
	NextBlock bool    `yaml:"next_block,omitempty"`
	Expect    *Expect `yaml:"expect,omitempty"`
}

// Call is a message routed to the environment's contract.
type Call struct {
	// Sender defaults to the creator. Ignored for query and sudo.
	Sender string         `yaml:"sender,omitempty"`
	Msg    map[string]any `yaml:"msg"`
	Funds  core.Coins     `yaml:"funds,omitempty"`
	// CodeID is the migration target; zero means the environment's own code.
	CodeID uint64 `yaml:"code_id,omitempty"`
}

// Expect describes the outcome of a step. Without an expectation a step must succeed.
type Expect struct {
	// Error is a substring of the expected error message.
	Error string `yaml:"error,omitempty"`

	// Result is a subset of the decoded query response.
	Result map[string]any `yaml:"result,omitempty"`
}

func (s Step) kind() string {
	switch {
	case s.Execute != nil:
		return "execute"
	case s.Query != nil:
		return "query"
	case s.Sudo != nil:
		return "sudo"
	case s.Migrate != nil:
		return "migrate"
	default:
		return "next_block"
	}
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a scenario, rejecting unknown fields.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validate(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validate(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch context.ContextType(s.Backend) {
	case "", context.MemoryContextType, context.DBContextType:
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	if s.Instantiate.Msg == nil {
		return fmt.Errorf("instantiate.msg is required (use {} for an empty message)")
	}
	for name, coins := range s.Accounts {
		if err := coins.Validate(); err != nil {
			return fmt.Errorf("accounts[%s]: %w", name, err)
		}
	}

	for i, step := range s.Steps {
		n := 0
		for _, set := range []bool{step.Execute != nil, step.Query != nil, step.Sudo != nil, step.Migrate != nil, step.NextBlock} {
			if set {
				n++
			}
		}
		if n != 1 {
			return fmt.Errorf("steps[%d]: exactly one of execute, query, sudo, migrate, next_block is required", i)
		}
		for _, call := range []*Call{step.Execute, step.Query, step.Sudo, step.Migrate} {
			if call != nil && call.Msg == nil {
				return fmt.Errorf("steps[%d]: msg is required", i)
			}
		}
		if step.Expect != nil && step.Expect.Result != nil && step.Query == nil {
			return fmt.Errorf("steps[%d].expect: result is only checked for queries", i)
		}
	}
	return nil
}
