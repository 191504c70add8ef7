// Package memory implements an in-process StateDB backed by maps.
package memory

import (
	"bytes"
	"fmt"
	"log/slog"
	"math/bits"
	"sort"
	"strings"
	"sync"

	"github.com/govm-net/multitest/context"
	"github.com/govm-net/multitest/core"
	"github.com/govm-net/multitest/types"
)

// Context keeps balances, the instance directory and every contract store in
// memory. Transactions snapshot the maps and restore them on failure.
type Context struct {
	balances  map[core.Addr]map[string]uint64
	contracts map[core.Addr]types.ContractRecord
	stores    map[core.Addr]map[string][]byte

	depth int
	mu    sync.Mutex
}

func init() {
	context.Register(context.MemoryContextType, func(params map[string]any) (types.StateDB, error) {
		return NewContext(), nil
	})
}

// NewContext creates an empty in-memory state
func NewContext() *Context {
	return &Context{
		balances:  make(map[core.Addr]map[string]uint64),
		contracts: make(map[core.Addr]types.ContractRecord),
		stores:    make(map[core.Addr]map[string][]byte),
	}
}

// Balance gets the amount of denom held by addr
func (ctx *Context) Balance(addr core.Addr, denom string) (uint64, error) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.balances[addr][denom], nil
}

// AllBalances gets every non-zero balance of addr
func (ctx *Context) AllBalances(addr core.Addr) (core.Coins, error) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	out := make(core.Coins, 0, len(ctx.balances[addr]))
	for denom, amount := range ctx.balances[addr] {
		if amount != 0 {
			out = append(out, core.NewCoin(amount, denom))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Denom < out[j].Denom })
	return out, nil
}

// SetBalance replaces the balances of addr
func (ctx *Context) SetBalance(addr core.Addr, coins core.Coins) error {
	if err := coins.Validate(); err != nil {
		return err
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	account := make(map[string]uint64, len(coins))
	for _, c := range coins {
		if c.Amount != 0 {
			account[c.Denom] = c.Amount
		}
	}
	ctx.balances[addr] = account
	return nil
}

// Transfer moves coins from one account to another. Nothing changes unless
// every denomination can be moved.
func (ctx *Context) Transfer(from, to core.Addr, amount core.Coins) error {
	if err := amount.Validate(); err != nil {
		return err
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	for _, c := range amount {
		have := ctx.balances[from][c.Denom]
		if have < c.Amount {
			return fmt.Errorf("%w: %s has %d%s, needs %s", core.ErrInsufficientFunds, from, have, c.Denom, c)
		}
		if from != to {
			if _, carry := bits.Add64(ctx.balances[to][c.Denom], c.Amount, 0); carry != 0 {
				return fmt.Errorf("%w: %s balance of %s", core.ErrOverflow, c.Denom, to)
			}
		}
	}
	if from == to {
		return nil
	}
	for _, c := range amount {
		if c.Amount == 0 {
			continue
		}
		ctx.balances[from][c.Denom] -= c.Amount
		if ctx.balances[from][c.Denom] == 0 {
			delete(ctx.balances[from], c.Denom)
		}
		if ctx.balances[to] == nil {
			ctx.balances[to] = make(map[string]uint64)
		}
		ctx.balances[to][c.Denom] += c.Amount
	}
	return nil
}

// Supply sums denom across all accounts
func (ctx *Context) Supply(denom string) (uint64, error) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	var total uint64
	for _, account := range ctx.balances {
		var carry uint64
		total, carry = bits.Add64(total, account[denom], 0)
		if carry != 0 {
			return 0, fmt.Errorf("%w: supply of %s", core.ErrOverflow, denom)
		}
	}
	return total, nil
}

// SetContract inserts or replaces an instance record
func (ctx *Context) SetContract(rec types.ContractRecord) error {
	if err := rec.Address.Validate(); err != nil {
		return err
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.contracts[rec.Address] = rec
	return nil
}

// Contract looks up an instance record
func (ctx *Context) Contract(addr core.Addr) (types.ContractRecord, error) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	rec, ok := ctx.contracts[addr]
	if !ok {
		return types.ContractRecord{}, fmt.Errorf("%w: %s", core.ErrNoSuchContract, addr)
	}
	return rec, nil
}

// ContractAddresses lists instances in address order
func (ctx *Context) ContractAddresses() ([]core.Addr, error) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	out := make([]core.Addr, 0, len(ctx.contracts))
	for addr := range ctx.contracts {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Store returns the private store of contract
func (ctx *Context) Store(contract core.Addr) core.KVStore {
	return &store{ctx: ctx, contract: contract}
}

// Transaction snapshots the state, runs fn and restores the snapshot if fn fails
func (ctx *Context) Transaction(fn func(tx types.StateDB) error) error {
	snap := ctx.snapshot()
	ctx.depth++
	err := fn(ctx)
	ctx.depth--
	if err != nil {
		ctx.restore(snap)
		slog.Debug("state restored", "depth", ctx.depth, "error", err)
		return err
	}
	return nil
}

// Close implements types.StateDB
func (ctx *Context) Close() error {
	return nil
}

type snapshot struct {
	balances  map[core.Addr]map[string]uint64
	contracts map[core.Addr]types.ContractRecord
	stores    map[core.Addr]map[string][]byte
}

// snapshot copies the maps. Stored values are never mutated in place, so
// byte slices can be shared.
func (ctx *Context) snapshot() snapshot {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	s := snapshot{
		balances:  make(map[core.Addr]map[string]uint64, len(ctx.balances)),
		contracts: make(map[core.Addr]types.ContractRecord, len(ctx.contracts)),
		stores:    make(map[core.Addr]map[string][]byte, len(ctx.stores)),
	}
	for addr, account := range ctx.balances {
		cp := make(map[string]uint64, len(account))
		for denom, amount := range account {
			cp[denom] = amount
		}
		s.balances[addr] = cp
	}
	for addr, rec := range ctx.contracts {
		s.contracts[addr] = rec
	}
	for addr, kv := range ctx.stores {
		cp := make(map[string][]byte, len(kv))
		for k, v := range kv {
			cp[k] = v
		}
		s.stores[addr] = cp
	}
	return s
}

func (ctx *Context) restore(s snapshot) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.balances = s.balances
	ctx.contracts = s.contracts
	ctx.stores = s.stores
}

// store is a contract-scoped view of Context.stores
type store struct {
	ctx      *Context
	contract core.Addr
}

func (s *store) Get(key []byte) ([]byte, error) {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	v, ok := s.ctx.stores[s.contract][string(key)]
	if !ok {
		return nil, nil
	}
	return bytes.Clone(v), nil
}

func (s *store) Set(key, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty store key", core.ErrInvalidArgument)
	}
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	kv, ok := s.ctx.stores[s.contract]
	if !ok {
		kv = make(map[string][]byte)
		s.ctx.stores[s.contract] = kv
	}
	if value == nil {
		value = []byte{}
	}
	kv[string(key)] = bytes.Clone(value)
	return nil
}

func (s *store) Delete(key []byte) error {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	delete(s.ctx.stores[s.contract], string(key))
	return nil
}

func (s *store) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	s.ctx.mu.Lock()
	type pair struct{ k, v []byte }
	var pairs []pair
	for k, v := range s.ctx.stores[s.contract] {
		if strings.HasPrefix(k, string(prefix)) {
			pairs = append(pairs, pair{k: []byte(k), v: bytes.Clone(v)})
		}
	}
	s.ctx.mu.Unlock()

	sort.Slice(pairs, func(i, j int) bool { return bytes.Compare(pairs[i].k, pairs[j].k) < 0 })
	for _, p := range pairs {
		if !fn(p.k, p.v) {
			break
		}
	}
	return nil
}
