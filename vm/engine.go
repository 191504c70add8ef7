// Package vm is the message router: it resolves contract addresses, hands
// raw envelopes to the installed implementation and commits or rolls back
// every ledger and store change the call made.
package vm

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/govm-net/multitest/api"
	"github.com/govm-net/multitest/context"
	_ "github.com/govm-net/multitest/context/db"     // registers the db backend
	_ "github.com/govm-net/multitest/context/memory" // registers the memory backend
	"github.com/govm-net/multitest/core"
	"github.com/govm-net/multitest/repository"
	"github.com/govm-net/multitest/types"
)

// Engine routes messages to contract instances
type Engine struct {
	config *Config
	codes  *repository.Manager
	state  types.StateDB
	block  core.BlockInfo
	logger *slog.Logger

	// instances is never rolled back, so a failed instantiation burns its address
	instances uint64
	started   bool
}

// Config represents engine configuration
type Config struct {
	api.ContractConfig
	ContextType   string         // State backend type, empty for the registry default
	ContextParams map[string]any // State backend parameters
	Logger        *slog.Logger   // nil means slog.Default()
}

// DefaultConfig returns a memory-backed configuration with default chain parameters
func DefaultConfig() *Config {
	return &Config{
		ContractConfig: api.DefaultContractConfig(),
		ContextType:    string(context.MemoryContextType),
	}
}

var _ api.Executor = (*Engine)(nil)

// NewEngine creates a new engine with a fresh state backend
func NewEngine(config *Config) (*Engine, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	state, err := context.Get(context.ContextType(config.ContextType), config.ContextParams)
	if err != nil {
		return nil, fmt.Errorf("failed to get state context: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		config: config,
		codes:  repository.NewManager(),
		state:  state,
		block: core.BlockInfo{
			Height:  config.BlockHeight,
			Time:    config.BlockTime,
			ChainID: config.ChainID,
		},
		logger: logger,
	}, nil
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}
	if config.ChainID == "" {
		return fmt.Errorf("chain id is empty")
	}
	if config.MaxCallDepth <= 0 {
		return fmt.Errorf("invalid max call depth: %d", config.MaxCallDepth)
	}
	if config.BlockInterval < 0 {
		return fmt.Errorf("invalid block interval: %d", config.BlockInterval)
	}
	return nil
}

// State exposes the live state backend for inspection
func (e *Engine) State() types.StateDB {
	return e.state
}

// Codes exposes the code registry
func (e *Engine) Codes() *repository.Manager {
	return e.codes
}

// Close releases the state backend
func (e *Engine) Close() error {
	if err := e.state.Close(); err != nil {
		return fmt.Errorf("failed to close state: %w", err)
	}
	return nil
}

// InitBalance seeds the balances of addr. Seeding is only allowed before the
// first routed message.
func (e *Engine) InitBalance(addr core.Addr, coins core.Coins) error {
	if e.started {
		return fmt.Errorf("%w: cannot seed %s after messages were processed", core.ErrInitialization, addr)
	}
	if err := addr.Validate(); err != nil {
		return err
	}
	if err := e.state.SetBalance(addr, coins); err != nil {
		return fmt.Errorf("failed to seed %s: %w", addr, err)
	}
	return nil
}

// StoreCode installs an implementation and returns its code id
func (e *Engine) StoreCode(creator core.Addr, contract core.Contract) (uint64, error) {
	return e.codes.StoreCode(creator, contract)
}

// Block returns the current block
func (e *Engine) Block() core.BlockInfo {
	return e.block
}

// UpdateBlock lets the caller rewrite the current block
func (e *Engine) UpdateBlock(fn func(block *core.BlockInfo)) {
	fn(&e.block)
}

// NextBlock advances height by one and time by the configured interval
func (e *Engine) NextBlock() {
	e.block.Height++
	e.block.Time += e.config.BlockInterval
}

// Balance reads the balance of addr in denom; unknown accounts hold zero
func (e *Engine) Balance(addr core.Addr, denom string) (uint64, error) {
	return e.state.Balance(addr, denom)
}

// AllBalances reads every balance of addr
func (e *Engine) AllBalances(addr core.Addr) (core.Coins, error) {
	return e.state.AllBalances(addr)
}

// Supply sums denom across the ledger
func (e *Engine) Supply(denom string) (uint64, error) {
	return e.state.Supply(denom)
}

// ContractInfo reads the directory entry of an instance
func (e *Engine) ContractInfo(addr core.Addr) (types.ContractRecord, error) {
	return e.state.Contract(addr)
}

// Instantiate creates a new instance of codeID, moving funds from sender to it
func (e *Engine) Instantiate(codeID uint64, sender core.Addr, funds core.Coins, msg []byte, label string, admin core.Addr) (core.Addr, *types.AppResponse, error) {
	e.started = true
	return e.instantiate(e.state, 0, codeID, sender, funds, msg, label, admin)
}

// Execute routes msg to the execute entry point of contract
func (e *Engine) Execute(contract, sender core.Addr, funds core.Coins, msg []byte) (*types.AppResponse, error) {
	e.started = true
	return e.execute(e.state, 0, contract, sender, funds, msg)
}

// Query routes msg to the query entry point of contract. Nothing the
// contract does during a query is kept.
func (e *Engine) Query(contract core.Addr, msg []byte) ([]byte, error) {
	e.started = true
	return e.query(e.state, 0, contract, msg)
}

// Sudo routes msg to the sudo entry point of contract
func (e *Engine) Sudo(contract core.Addr, msg []byte) (*types.AppResponse, error) {
	e.started = true
	return e.sudo(e.state, 0, contract, msg)
}

// Reply delivers an encoded core.Reply to contract
func (e *Engine) Reply(contract core.Addr, msg []byte) (*types.AppResponse, error) {
	e.started = true
	return e.reply(e.state, 0, contract, msg)
}

// Migrate rebinds contract to newCodeID and runs the new code's migrate entry point
func (e *Engine) Migrate(contract, sender core.Addr, newCodeID uint64, msg []byte) (*types.AppResponse, error) {
	e.started = true
	return e.migrate(e.state, 0, contract, sender, newCodeID, msg)
}

// InstantiateContract implements api.Executor
func (e *Engine) InstantiateContract(codeID uint64, sender core.Addr, msg any, funds core.Coins, label string, admin core.Addr) (core.Addr, error) {
	raw, err := core.Marshal(msg)
	if err != nil {
		return "", err
	}
	addr, _, err := e.Instantiate(codeID, sender, funds, raw, label, admin)
	return addr, err
}

// ExecuteContract implements api.Executor
func (e *Engine) ExecuteContract(sender, contract core.Addr, msg any, funds core.Coins) (*types.AppResponse, error) {
	raw, err := core.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return e.Execute(contract, sender, funds, raw)
}

// QueryWasmSmart implements api.Executor
func (e *Engine) QueryWasmSmart(contract core.Addr, msg any, out any) error {
	raw, err := core.Marshal(msg)
	if err != nil {
		return err
	}
	res, err := e.Query(contract, raw)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(res, out); err != nil {
		return fmt.Errorf("%w: query response: %v", core.ErrDeserialization, err)
	}
	return nil
}

// nextAddress allocates an address that is neither an instance nor a funded account
func (e *Engine) nextAddress(state types.StateDB) (core.Addr, error) {
	for {
		addr := api.DefaultContractAddressGenerator(e.instances)
		e.instances++
		_, err := state.Contract(addr)
		if err == nil {
			continue
		}
		if !errors.Is(err, core.ErrNoSuchContract) {
			return "", err
		}
		balances, err := state.AllBalances(addr)
		if err != nil {
			return "", err
		}
		if len(balances) == 0 {
			return addr, nil
		}
	}
}
