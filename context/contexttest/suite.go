// Package contexttest holds the behaviour every StateDB backend must share.
package contexttest

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govm-net/multitest/core"
	"github.com/govm-net/multitest/types"
)

// Factory opens a fresh, empty backend for one test
type Factory func(t *testing.T) types.StateDB

// Run exercises a backend against the shared StateDB behaviour
func Run(t *testing.T, open Factory) {
	t.Run("Balances", func(t *testing.T) { testBalances(t, open(t)) })
	t.Run("Transfer", func(t *testing.T) { testTransfer(t, open(t)) })
	t.Run("LargeAmounts", func(t *testing.T) { testLargeAmounts(t, open(t)) })
	t.Run("Contracts", func(t *testing.T) { testContracts(t, open(t)) })
	t.Run("Store", func(t *testing.T) { testStore(t, open(t)) })
	t.Run("Transaction", func(t *testing.T) { testTransaction(t, open(t)) })
	t.Run("NestedTransaction", func(t *testing.T) { testNestedTransaction(t, open(t)) })
}

func coins(t *testing.T, cs ...core.Coin) core.Coins {
	out, err := core.NewCoins(cs...)
	require.NoError(t, err)
	return out
}

func testBalances(t *testing.T, db types.StateDB) {
	alice := core.Addr("alice")

	// Unknown accounts hold nothing
	amount, err := db.Balance(alice, "uusd")
	require.NoError(t, err)
	assert.Zero(t, amount)

	require.NoError(t, db.SetBalance(alice, coins(t, core.NewCoin(1000, "uusd"), core.NewCoin(5, "uatom"))))
	amount, err = db.Balance(alice, "uusd")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), amount)

	all, err := db.AllBalances(alice)
	require.NoError(t, err)
	assert.Equal(t, "5uatom,1000uusd", all.String())

	// Seeding replaces rather than merges
	require.NoError(t, db.SetBalance(alice, coins(t, core.NewCoin(7, "uusd"))))
	all, err = db.AllBalances(alice)
	require.NoError(t, err)
	assert.Equal(t, "7uusd", all.String())

	err = db.SetBalance(alice, core.Coins{core.NewCoin(1, "uusd"), core.NewCoin(2, "uusd")})
	assert.ErrorIs(t, err, core.ErrInvalidCoins)
}

func testTransfer(t *testing.T, db types.StateDB) {
	alice, bob := core.Addr("alice"), core.Addr("bob")
	require.NoError(t, db.SetBalance(alice, coins(t, core.NewCoin(100, "uusd"), core.NewCoin(10, "uatom"))))

	require.NoError(t, db.Transfer(alice, bob, coins(t, core.NewCoin(40, "uusd"))))
	amount, _ := db.Balance(alice, "uusd")
	assert.Equal(t, uint64(60), amount)
	amount, _ = db.Balance(bob, "uusd")
	assert.Equal(t, uint64(40), amount)

	// All-or-nothing: uatom is short, so uusd must not move either
	err := db.Transfer(alice, bob, coins(t, core.NewCoin(10, "uusd"), core.NewCoin(11, "uatom")))
	assert.ErrorIs(t, err, core.ErrInsufficientFunds)
	amount, _ = db.Balance(alice, "uusd")
	assert.Equal(t, uint64(60), amount)

	err = db.Transfer(bob, alice, coins(t, core.NewCoin(1, "ujuno")))
	assert.ErrorIs(t, err, core.ErrInsufficientFunds)

	// Self transfers and empty transfers are no-ops
	require.NoError(t, db.Transfer(alice, alice, coins(t, core.NewCoin(60, "uusd"))))
	require.NoError(t, db.Transfer(alice, bob, nil))

	supply, err := db.Supply("uusd")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), supply)
	supply, err = db.Supply("ujuno")
	require.NoError(t, err)
	assert.Zero(t, supply)
}

func testLargeAmounts(t *testing.T, db types.StateDB) {
	alice, bob := core.Addr("alice"), core.Addr("bob")

	// The whole uint64 range is storable
	require.NoError(t, db.SetBalance(alice, coins(t, core.NewCoin(math.MaxUint64, "uusd"))))
	amount, err := db.Balance(alice, "uusd")
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), amount)
	all, err := db.AllBalances(alice)
	require.NoError(t, err)
	assert.Equal(t, "18446744073709551615uusd", all.String())

	require.NoError(t, db.Transfer(alice, bob, coins(t, core.NewCoin(1<<63, "uusd"))))
	amount, err = db.Balance(bob, "uusd")
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<63), amount)

	supply, err := db.Supply("uusd")
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), supply)

	// A sum past the range is an error, not a wrapped value
	require.NoError(t, db.SetBalance("carol", coins(t, core.NewCoin(1, "uusd"))))
	_, err = db.Supply("uusd")
	assert.ErrorIs(t, err, core.ErrOverflow)

	require.NoError(t, db.SetBalance("carol", nil))
	err = db.Transfer(alice, bob, coins(t, core.NewCoin(1<<63-1, "uusd")))
	require.NoError(t, err)
	err = db.SetBalance(alice, coins(t, core.NewCoin(1, "uusd")))
	require.NoError(t, err)
	err = db.Transfer(alice, bob, coins(t, core.NewCoin(1, "uusd")))
	assert.ErrorIs(t, err, core.ErrOverflow)
	amount, err = db.Balance(alice, "uusd")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), amount)
}

func testContracts(t *testing.T, db types.StateDB) {
	_, err := db.Contract("contract0")
	assert.ErrorIs(t, err, core.ErrNoSuchContract)

	rec := types.ContractRecord{Address: "contract1", CodeID: 2, Creator: "creator", Label: "b", Created: 12}
	require.NoError(t, db.SetContract(rec))
	require.NoError(t, db.SetContract(types.ContractRecord{Address: "contract0", CodeID: 1, Creator: "creator", Admin: "admin", Label: "a"}))

	got, err := db.Contract("contract1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// Rebinding keeps the address
	rec.CodeID = 3
	require.NoError(t, db.SetContract(rec))
	got, err = db.Contract("contract1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.CodeID)

	addrs, err := db.ContractAddresses()
	require.NoError(t, err)
	assert.Equal(t, []core.Addr{"contract0", "contract1"}, addrs)

	assert.ErrorIs(t, db.SetContract(types.ContractRecord{}), core.ErrInvalidArgument)
}

func testStore(t *testing.T, db types.StateDB) {
	a, b := db.Store("contract0"), db.Store("contract1")

	require.NoError(t, a.Set([]byte("k2"), []byte("v2")))
	require.NoError(t, a.Set([]byte("k1"), []byte("v1")))
	require.NoError(t, a.Set([]byte("other"), []byte("x")))
	require.NoError(t, b.Set([]byte("k1"), []byte("b1")))

	v, err := a.Get([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)
	v, err = b.Get([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("b1"), v)
	v, err = a.Get([]byte("missing"))
	require.NoError(t, err)
	assert.Nil(t, v)

	var keys []string
	require.NoError(t, a.Iterate([]byte("k"), func(key, value []byte) bool {
		keys = append(keys, string(key))
		return true
	}))
	assert.Equal(t, []string{"k1", "k2"}, keys)

	keys = nil
	require.NoError(t, a.Iterate(nil, func(key, value []byte) bool {
		keys = append(keys, string(key))
		return len(keys) < 2
	}))
	assert.Equal(t, []string{"k1", "k2"}, keys)

	require.NoError(t, a.Delete([]byte("k1")))
	v, err = a.Get([]byte("k1"))
	require.NoError(t, err)
	assert.Nil(t, v)

	assert.ErrorIs(t, a.Set(nil, []byte("v")), core.ErrInvalidArgument)
}

func testTransaction(t *testing.T, db types.StateDB) {
	alice := core.Addr("alice")
	require.NoError(t, db.SetBalance(alice, coins(t, core.NewCoin(100, "uusd"))))
	require.NoError(t, db.Store("contract0").Set([]byte("k"), []byte("before")))

	// Committed scope
	err := db.Transaction(func(tx types.StateDB) error {
		return tx.Transfer(alice, "bob", coins(t, core.NewCoin(10, "uusd")))
	})
	require.NoError(t, err)
	amount, _ := db.Balance("bob", "uusd")
	assert.Equal(t, uint64(10), amount)

	// Failed scope leaves nothing behind
	boom := errors.New("boom")
	err = db.Transaction(func(tx types.StateDB) error {
		if err := tx.Transfer(alice, "bob", coins(t, core.NewCoin(50, "uusd"))); err != nil {
			return err
		}
		if err := tx.SetContract(types.ContractRecord{Address: "contract9", CodeID: 1, Creator: "alice"}); err != nil {
			return err
		}
		if err := tx.Store("contract0").Set([]byte("k"), []byte("after")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	amount, _ = db.Balance(alice, "uusd")
	assert.Equal(t, uint64(90), amount)
	_, err = db.Contract("contract9")
	assert.ErrorIs(t, err, core.ErrNoSuchContract)
	v, err := db.Store("contract0").Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("before"), v)
}

func testNestedTransaction(t *testing.T, db types.StateDB) {
	alice := core.Addr("alice")
	require.NoError(t, db.SetBalance(alice, coins(t, core.NewCoin(100, "uusd"))))
	boom := errors.New("boom")

	// Inner failure is contained by the outer scope
	err := db.Transaction(func(tx types.StateDB) error {
		require.NoError(t, tx.Transfer(alice, "bob", coins(t, core.NewCoin(1, "uusd"))))
		inner := tx.Transaction(func(tx types.StateDB) error {
			require.NoError(t, tx.Transfer(alice, "bob", coins(t, core.NewCoin(20, "uusd"))))
			return boom
		})
		assert.ErrorIs(t, inner, boom)
		return nil
	})
	require.NoError(t, err)
	amount, _ := db.Balance("bob", "uusd")
	assert.Equal(t, uint64(1), amount)

	// Outer failure undoes an inner success
	err = db.Transaction(func(tx types.StateDB) error {
		require.NoError(t, tx.Transaction(func(tx types.StateDB) error {
			return tx.Store("contract0").Set([]byte("inner"), []byte("done"))
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	v, err := db.Store("contract0").Get([]byte("inner"))
	require.NoError(t, err)
	assert.Nil(t, v)
}
