// Package api provides the interfaces test code drives the harness through.
// Contracts never see this package.
package api

import (
	"fmt"

	"github.com/govm-net/multitest/core"
	"github.com/govm-net/multitest/types"
)

// Executor is the message-level surface of the environment. Messages are
// anything core.Marshal accepts: raw envelopes or values encoded as JSON.
type Executor interface {
	// InstantiateContract creates a new instance of codeID
	InstantiateContract(codeID uint64, sender core.Addr, msg any, funds core.Coins, label string, admin core.Addr) (core.Addr, error)

	// ExecuteContract calls execute on a deployed instance
	ExecuteContract(sender, contract core.Addr, msg any, funds core.Coins) (*types.AppResponse, error)

	// QueryWasmSmart runs a query and decodes the response into out
	QueryWasmSmart(contract core.Addr, msg any, out any) error
}

// ContractConfig defines the limits and chain parameters of the environment
type ContractConfig struct {
	// ChainID reported in every Env
	ChainID string

	// Height and time (unix nanoseconds) of the first block
	BlockHeight uint64
	BlockTime   int64

	// BlockInterval in nanoseconds, added to the block time by NextBlock
	BlockInterval int64

	// MaxCallDepth is the maximum depth of contract calls
	MaxCallDepth int
}

// DefaultContractConfig returns a default configuration for contracts
func DefaultContractConfig() ContractConfig {
	return ContractConfig{
		ChainID:       "cosmos-testnet-14002",
		BlockHeight:   12345,
		BlockTime:     1571797419879305533,
		BlockInterval: 5_000_000_000,
		MaxCallDepth:  8,
	}
}

// ContractAddressGenerator derives the address of the n-th instance
type ContractAddressGenerator func(instanceID uint64) core.Addr

// DefaultContractAddressGenerator names instances contract0, contract1, ...
var DefaultContractAddressGenerator ContractAddressGenerator = func(instanceID uint64) core.Addr {
	return core.Addr(fmt.Sprintf("contract%d", instanceID))
}
