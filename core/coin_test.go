package core

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCoins(t *testing.T) {
	coins, err := NewCoins(NewCoin(5, "uusd"), NewCoin(0, "uatom"), NewCoin(3, "ucosm"))
	require.NoError(t, err)
	assert.Equal(t, Coins{NewCoin(3, "ucosm"), NewCoin(5, "uusd")}, coins)
	assert.Equal(t, "3ucosm,5uusd", coins.String())

	// Duplicate and malformed denominations
	_, err = NewCoins(NewCoin(1, "uusd"), NewCoin(2, "uusd"))
	assert.ErrorIs(t, err, ErrInvalidCoins)
	_, err = NewCoins(NewCoin(1, ""))
	assert.ErrorIs(t, err, ErrInvalidCoins)
	_, err = NewCoins(NewCoin(1, "u usd"))
	assert.ErrorIs(t, err, ErrInvalidCoins)
}

func TestCoinsArithmetic(t *testing.T) {
	a := Coins{NewCoin(10, "uusd"), NewCoin(4, "uatom")}
	b := Coins{NewCoin(5, "uusd")}

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, uint64(15), sum.AmountOf("uusd"))
	assert.Equal(t, uint64(4), sum.AmountOf("uatom"))
	assert.Equal(t, uint64(0), sum.AmountOf("ujuno"))

	rest, err := a.SafeSub(b)
	require.NoError(t, err)
	assert.Equal(t, Coins{NewCoin(4, "uatom"), NewCoin(5, "uusd")}, rest)

	_, err = b.SafeSub(a)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = Coins{NewCoin(math.MaxUint64, "uusd")}.Add(b)
	assert.ErrorIs(t, err, ErrOverflow)

	assert.True(t, Coins{}.IsZero())
	assert.True(t, Coins{NewCoin(0, "uusd")}.IsZero())
	assert.False(t, b.IsZero())
}

func TestCoinJSON(t *testing.T) {
	data, err := json.Marshal(NewCoin(100, "uusd"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"denom":"uusd","amount":"100"}`, string(data))

	var c Coin
	require.NoError(t, json.Unmarshal([]byte(`{"denom":"uosmo","amount":"7"}`), &c))
	assert.Equal(t, NewCoin(7, "uosmo"), c)
}
