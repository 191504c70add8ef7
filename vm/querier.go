package vm

import (
	"github.com/govm-net/multitest/core"
	"github.com/govm-net/multitest/types"
)

// querier answers contract queries against the scope of the calling entry
// point, so it sees the caller's uncommitted writes.
type querier struct {
	engine *Engine
	state  types.StateDB
	depth  int
}

var _ core.Querier = (*querier)(nil)

func (q *querier) Balance(addr core.Addr, denom string) (core.Coin, error) {
	amount, err := q.state.Balance(addr, denom)
	if err != nil {
		return core.Coin{}, err
	}
	return core.NewCoin(amount, denom), nil
}

func (q *querier) AllBalances(addr core.Addr) (core.Coins, error) {
	return q.state.AllBalances(addr)
}

func (q *querier) QuerySmart(contract core.Addr, msg []byte) ([]byte, error) {
	return q.engine.query(q.state, q.depth+1, contract, msg)
}

func (q *querier) ContractInfo(contract core.Addr) (core.ContractInfoResponse, error) {
	rec, err := q.state.Contract(contract)
	if err != nil {
		return core.ContractInfoResponse{}, err
	}
	return core.ContractInfoResponse{
		CodeID:  rec.CodeID,
		Creator: rec.Creator,
		Admin:   rec.Admin,
		Label:   rec.Label,
	}, nil
}
