// Package testenv assembles a ready-to-use environment around a single
// contract: seeded accounts, one stored code and one instance of it.
package testenv

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/govm-net/multitest/core"
	"github.com/govm-net/multitest/types"
	"github.com/govm-net/multitest/vm"
)

// DefaultCreator is the sender of the builder's instantiation
const DefaultCreator core.Addr = "creator"

// DefaultLabel is the label given to the built instance
const DefaultLabel = "transmuter"

// Builder accumulates options for Build
type Builder struct {
	contract       core.Contract
	accounts       map[string]core.Coins
	instantiateMsg any
	creator        core.Addr
	label          string
	admin          core.Addr
	config         *vm.Config
}

// NewBuilder starts a builder for contract
func NewBuilder(contract core.Contract) *Builder {
	return &Builder{
		contract: contract,
		accounts: make(map[string]core.Coins),
		creator:  DefaultCreator,
		label:    DefaultLabel,
	}
}

// WithAccount funds the named account. A later call for the same name
// replaces the earlier balances.
func (b *Builder) WithAccount(name string, balances ...core.Coin) *Builder {
	b.accounts[name] = core.Coins(balances)
	return b
}

// WithInstantiateMsg sets the message of the mandatory instantiation. It may
// be raw bytes or any value that encodes to JSON.
func (b *Builder) WithInstantiateMsg(msg any) *Builder {
	b.instantiateMsg = msg
	return b
}

func (b *Builder) WithCreator(creator core.Addr) *Builder {
	b.creator = creator
	return b
}

func (b *Builder) WithLabel(label string) *Builder {
	b.label = label
	return b
}

// WithAdmin sets the admin allowed to migrate the instance
func (b *Builder) WithAdmin(admin core.Addr) *Builder {
	b.admin = admin
	return b
}

// WithConfig replaces the engine configuration, e.g. to select the db backend
func (b *Builder) WithConfig(config *vm.Config) *Builder {
	b.config = config
	return b
}

// Build seeds the accounts, stores the contract and instantiates it from the
// creator without funds. Nothing is returned unless every step succeeds.
func (b *Builder) Build() (*Env, error) {
	if b.instantiateMsg == nil {
		return nil, fmt.Errorf("%w: instantiate msg not set", core.ErrInitialization)
	}
	msg, err := core.Marshal(b.instantiateMsg)
	if err != nil {
		return nil, err
	}

	config := b.config
	if config == nil {
		config = vm.DefaultConfig()
	}
	app, err := vm.NewEngine(config)
	if err != nil {
		return nil, err
	}

	env, err := b.assemble(app, msg)
	if err != nil {
		app.Close()
		return nil, err
	}
	return env, nil
}

func (b *Builder) assemble(app *vm.Engine, msg []byte) (*Env, error) {
	accounts := make(map[string]core.Addr, len(b.accounts))
	for _, name := range sortedNames(b.accounts) {
		addr := core.Addr(name)
		coins, err := core.NewCoins(b.accounts[name]...)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", name, err)
		}
		if err := app.InitBalance(addr, coins); err != nil {
			return nil, err
		}
		accounts[name] = addr
	}

	codeID, err := app.StoreCode(b.creator, b.contract)
	if err != nil {
		return nil, err
	}
	contract, _, err := app.Instantiate(codeID, b.creator, nil, msg, b.label, b.admin)
	if err != nil {
		return nil, fmt.Errorf("instantiate: %w", err)
	}

	return &Env{
		App:      app,
		Creator:  b.creator,
		Contract: contract,
		CodeID:   codeID,
		Accounts: accounts,
	}, nil
}

func sortedNames(m map[string]core.Coins) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Env is the handle tests drive the environment through
type Env struct {
	App      *vm.Engine
	Creator  core.Addr
	Contract core.Addr
	CodeID   uint64
	Accounts map[string]core.Addr
}

// Close releases the state backend
func (e *Env) Close() error {
	return e.App.Close()
}

// Account resolves a seeded account name
func (e *Env) Account(name string) (core.Addr, bool) {
	addr, ok := e.Accounts[name]
	return addr, ok
}

// Balance reads addr's balance in denom
func (e *Env) Balance(addr core.Addr, denom string) (uint64, error) {
	return e.App.Balance(addr, denom)
}

// Balances reads every balance of addr
func (e *Env) Balances(addr core.Addr) (core.Coins, error) {
	return e.App.AllBalances(addr)
}

// Execute sends msg to the environment's contract
func (e *Env) Execute(sender core.Addr, msg any, funds ...core.Coin) (*types.AppResponse, error) {
	return e.App.ExecuteContract(sender, e.Contract, msg, core.Coins(funds))
}

// Query runs msg against the environment's contract and returns the raw response
func (e *Env) Query(msg any) ([]byte, error) {
	raw, err := core.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return e.App.Query(e.Contract, raw)
}

// Sudo calls the privileged entry point of the environment's contract
func (e *Env) Sudo(msg any) (*types.AppResponse, error) {
	raw, err := core.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return e.App.Sudo(e.Contract, raw)
}

// Migrate moves the environment's contract to newCodeID
func (e *Env) Migrate(sender core.Addr, newCodeID uint64, msg any) (*types.AppResponse, error) {
	raw, err := core.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return e.App.Migrate(e.Contract, sender, newCodeID, raw)
}

// Instantiate creates a further instance of codeID
func (e *Env) Instantiate(codeID uint64, sender core.Addr, msg any, label string, funds ...core.Coin) (core.Addr, error) {
	return e.App.InstantiateContract(codeID, sender, msg, core.Coins(funds), label, "")
}

// QuerySmart queries the environment's contract and decodes the response as T
func QuerySmart[T any](e *Env, msg any) (T, error) {
	var out T
	raw, err := e.Query(msg)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: query response: %v", core.ErrDeserialization, err)
	}
	return out, nil
}
