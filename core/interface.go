// Package core defines the types a contract implementation sees when the
// harness routes a message to it: addresses, coins, the execution
// environment, storage handles and the six-entry-point Contract interface.
package core

import (
	"fmt"
	"strings"
)

// Addr is a human-readable account or contract address.
type Addr string

func (a Addr) String() string {
	return string(a)
}

// Validate rejects empty addresses and addresses containing whitespace.
func (a Addr) Validate() error {
	if a == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidArgument)
	}
	if strings.ContainsAny(string(a), " \t\r\n") {
		return fmt.Errorf("%w: address %q contains whitespace", ErrInvalidArgument, string(a))
	}
	return nil
}

// BlockInfo describes the block a call executes in.
type BlockInfo struct {
	Height uint64 `json:"height"`
	// Time is nanoseconds since the unix epoch.
	Time    int64  `json:"time"`
	ChainID string `json:"chain_id"`
}

// ContractInfo identifies the contract being called.
type ContractInfo struct {
	Address Addr `json:"address"`
}

// TransactionInfo is the position of the call inside its block.
type TransactionInfo struct {
	Index uint32 `json:"index"`
}

// Env is the execution environment handed to every entry point.
type Env struct {
	Block       BlockInfo        `json:"block"`
	Transaction *TransactionInfo `json:"transaction,omitempty"`
	Contract    ContractInfo     `json:"contract"`
}

// MessageInfo carries the caller and the funds attached to the call.
type MessageInfo struct {
	Sender Addr  `json:"sender"`
	Funds  Coins `json:"funds"`
}

// ReadonlyStore is the view of a contract's private key-value store
// available to queries.
type ReadonlyStore interface {
	// Get returns nil when the key does not exist
	Get(key []byte) ([]byte, error)
	// Iterate visits keys with the given prefix in ascending byte order until fn returns false
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
}

// KVStore is the mutable view of a contract's private key-value store.
type KVStore interface {
	ReadonlyStore
	Set(key, value []byte) error
	Delete(key []byte) error
}

// ContractInfoResponse is what the querier reports about an instance.
type ContractInfoResponse struct {
	CodeID  uint64 `json:"code_id"`
	Creator Addr   `json:"creator"`
	Admin   Addr   `json:"admin,omitempty"`
	Label   string `json:"label"`
}

// Querier gives entry points read access to the rest of the environment.
type Querier interface {
	Balance(addr Addr, denom string) (Coin, error)
	AllBalances(addr Addr) (Coins, error)
	QuerySmart(contract Addr, msg []byte) ([]byte, error)
	ContractInfo(contract Addr) (ContractInfoResponse, error)
}

// Deps is the read-only dependency set passed to Query.
type Deps struct {
	Storage ReadonlyStore
	Querier Querier
}

// DepsMut is the dependency set passed to state-changing entry points.
type DepsMut struct {
	Storage KVStore
	Querier Querier
}

// AsReadonly narrows mutable dependencies for nested read-only helpers.
func (d DepsMut) AsReadonly() Deps {
	return Deps{Storage: ReadOnly(d.Storage), Querier: d.Querier}
}

// Contract is the lifecycle capability set every installed implementation
// provides. Each entry point receives the raw message envelope and is
// responsible for decoding it; an implementation that does not support an
// entry point returns an error wrapping ErrUnimplemented.
type Contract interface {
	Instantiate(deps DepsMut, env Env, info MessageInfo, msg []byte) (*Response, error)
	Execute(deps DepsMut, env Env, info MessageInfo, msg []byte) (*Response, error)
	Query(deps Deps, env Env, msg []byte) ([]byte, error)
	Sudo(deps DepsMut, env Env, msg []byte) (*Response, error)
	Reply(deps DepsMut, env Env, msg []byte) (*Response, error)
	Migrate(deps DepsMut, env Env, msg []byte) (*Response, error)
}

// readonlyStore hides the mutating half of a KVStore. It deliberately does
// not satisfy KVStore, so a type assertion cannot recover write access.
type readonlyStore struct {
	store ReadonlyStore
}

// ReadOnly wraps a store so that only Get and Iterate are reachable.
func ReadOnly(store ReadonlyStore) ReadonlyStore {
	if ro, ok := store.(readonlyStore); ok {
		return ro
	}
	return readonlyStore{store: store}
}

func (s readonlyStore) Get(key []byte) ([]byte, error) {
	return s.store.Get(key)
}

func (s readonlyStore) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	return s.store.Iterate(prefix, fn)
}
