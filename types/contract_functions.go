// Package types contains the host-side state abstractions shared by the
// router and the state backends.
package types

import (
	"github.com/govm-net/multitest/core"
)

// ContractRecord is an entry of the contract instance directory.
type ContractRecord struct {
	Address core.Addr `json:"address"`
	CodeID  uint64    `json:"code_id"`
	Creator core.Addr `json:"creator"`
	Admin   core.Addr `json:"admin,omitempty"`
	Label   string    `json:"label"`
	Created uint64    `json:"created"` // block height of instantiation
}

// AppResponse is what the router returns for a state-changing call.
type AppResponse struct {
	Events []core.Event `json:"events"`
	Data   []byte       `json:"data,omitempty"`
}

// FindEvent returns the first event of the given type.
func (r *AppResponse) FindEvent(typ string) (core.Event, bool) {
	if r == nil {
		return core.Event{}, false
	}
	for _, e := range r.Events {
		if e.Type == typ {
			return e, true
		}
	}
	return core.Event{}, false
}

// StateDB holds everything a routed call may change: the account ledger,
// the contract instance directory and each instance's private store.
type StateDB interface {
	// Ledger
	Balance(addr core.Addr, denom string) (uint64, error) // zero for unknown accounts or denominations
	AllBalances(addr core.Addr) (core.Coins, error)
	SetBalance(addr core.Addr, coins core.Coins) error    // replaces the account's balances
	Transfer(from, to core.Addr, amount core.Coins) error // all-or-nothing
	Supply(denom string) (uint64, error)                  // sum over all accounts

	// Instance directory
	SetContract(rec ContractRecord) error
	Contract(addr core.Addr) (ContractRecord, error) // wraps core.ErrNoSuchContract
	ContractAddresses() ([]core.Addr, error)
	Store(contract core.Addr) core.KVStore

	// Transaction runs fn against a nested scope. Everything fn changed is
	// undone if it returns an error; scopes nest, so an outer failure also
	// undoes inner successes.
	Transaction(fn func(tx StateDB) error) error

	Close() error
}
