package core

import (
	"fmt"
	"math/bits"
	"sort"
	"strconv"
	"strings"
)

// Coin is an amount of a single denomination.
type Coin struct {
	Denom  string `json:"denom" yaml:"denom"`
	Amount uint64 `json:"amount,string" yaml:"amount"`
}

// NewCoin builds a coin.
func NewCoin(amount uint64, denom string) Coin {
	return Coin{Denom: denom, Amount: amount}
}

func (c Coin) String() string {
	return strconv.FormatUint(c.Amount, 10) + c.Denom
}

// Coins is a set of coins. Normalized coins are sorted by denomination,
// hold no duplicates and no zero amounts.
type Coins []Coin

// NewCoins normalizes the given coins, failing on duplicate or empty denominations.
func NewCoins(coins ...Coin) (Coins, error) {
	out := Coins(coins)
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out.normalize(), nil
}

// Validate checks that every denomination is non-empty and unique.
func (cs Coins) Validate() error {
	seen := make(map[string]struct{}, len(cs))
	for _, c := range cs {
		if c.Denom == "" {
			return fmt.Errorf("%w: empty denomination", ErrInvalidCoins)
		}
		if strings.ContainsAny(c.Denom, " \t\r\n,") {
			return fmt.Errorf("%w: malformed denomination %q", ErrInvalidCoins, c.Denom)
		}
		if _, dup := seen[c.Denom]; dup {
			return fmt.Errorf("%w: duplicate denomination %s", ErrInvalidCoins, c.Denom)
		}
		seen[c.Denom] = struct{}{}
	}
	return nil
}

func (cs Coins) normalize() Coins {
	out := make(Coins, 0, len(cs))
	for _, c := range cs {
		if c.Amount != 0 {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Denom < out[j].Denom })
	return out
}

// AmountOf returns the amount held in denom, zero if absent.
func (cs Coins) AmountOf(denom string) uint64 {
	for _, c := range cs {
		if c.Denom == denom {
			return c.Amount
		}
	}
	return 0
}

// IsZero reports whether no coin has a positive amount.
func (cs Coins) IsZero() bool {
	for _, c := range cs {
		if c.Amount != 0 {
			return false
		}
	}
	return true
}

// Add returns the normalized sum of both sets.
func (cs Coins) Add(other Coins) (Coins, error) {
	sums := make(map[string]uint64, len(cs)+len(other))
	for _, set := range []Coins{cs, other} {
		for _, c := range set {
			sum, carry := bits.Add64(sums[c.Denom], c.Amount, 0)
			if carry != 0 {
				return nil, fmt.Errorf("%w: %s", ErrOverflow, c.Denom)
			}
			sums[c.Denom] = sum
		}
	}
	return fromMap(sums), nil
}

// SafeSub subtracts other, failing with ErrInsufficientFunds if any
// denomination would go negative.
func (cs Coins) SafeSub(other Coins) (Coins, error) {
	rest := make(map[string]uint64, len(cs))
	for _, c := range cs {
		rest[c.Denom] += c.Amount
	}
	for _, c := range other {
		have := rest[c.Denom]
		if have < c.Amount {
			return nil, fmt.Errorf("%w: %d%s is smaller than %s", ErrInsufficientFunds, have, c.Denom, c)
		}
		rest[c.Denom] = have - c.Amount
	}
	return fromMap(rest), nil
}

func (cs Coins) String() string {
	if len(cs) == 0 {
		return ""
	}
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = c.String()
	}
	return strings.Join(parts, ",")
}

func fromMap(m map[string]uint64) Coins {
	out := make(Coins, 0, len(m))
	for denom, amount := range m {
		if amount != 0 {
			out = append(out, Coin{Denom: denom, Amount: amount})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Denom < out[j].Denom })
	return out
}
