package testenv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govm-net/multitest/context"
	"github.com/govm-net/multitest/core"
	"github.com/govm-net/multitest/examples/counter"
	"github.com/govm-net/multitest/vm"
)

func TestBuild(t *testing.T) {
	env, err := NewBuilder(counter.New()).
		WithAccount("alice", core.NewCoin(1000, "uusd")).
		WithAccount("bob", core.NewCoin(5, "uatom"), core.NewCoin(7, "uusd")).
		WithInstantiateMsg(counter.InstantiateMsg{Count: 3}).
		Build()
	require.NoError(t, err)
	defer env.Close()

	assert.Equal(t, DefaultCreator, env.Creator)
	assert.Equal(t, core.Addr("contract0"), env.Contract)
	assert.Equal(t, map[string]core.Addr{"alice": "alice", "bob": "bob"}, env.Accounts)

	bob, ok := env.Account("bob")
	require.True(t, ok)
	balances, err := env.Balances(bob)
	require.NoError(t, err)
	assert.Equal(t, "5uatom,7uusd", balances.String())

	_, ok = env.Account("carol")
	assert.False(t, ok)

	info, err := env.App.ContractInfo(env.Contract)
	require.NoError(t, err)
	assert.Equal(t, env.CodeID, info.CodeID)
	assert.Equal(t, DefaultLabel, info.Label)
	assert.Equal(t, DefaultCreator, info.Creator)

	res, err := QuerySmart[counter.CountResponse](env, counter.QueryMsg{GetCount: &struct{}{}})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Count)
	assert.Equal(t, DefaultCreator, res.Owner)
}

func TestWithAccountLastWriteWins(t *testing.T) {
	env, err := NewBuilder(counter.New()).
		WithAccount("alice", core.NewCoin(1000, "uusd")).
		WithAccount("alice", core.NewCoin(3, "uatom")).
		WithInstantiateMsg(counter.InstantiateMsg{}).
		Build()
	require.NoError(t, err)
	defer env.Close()

	balances, err := env.Balances("alice")
	require.NoError(t, err)
	assert.Equal(t, "3uatom", balances.String())
}

func TestSeededAccountNamedLikeAnInstance(t *testing.T) {
	env, err := NewBuilder(counter.New()).
		WithAccount("contract0", core.NewCoin(500, "uusd")).
		WithInstantiateMsg(counter.InstantiateMsg{}).
		Build()
	require.NoError(t, err)
	defer env.Close()

	assert.NotEqual(t, core.Addr("contract0"), env.Contract)
	balance, err := env.Balance(env.Contract, "uusd")
	require.NoError(t, err)
	assert.Zero(t, balance)
	balance, err = env.Balance("contract0", "uusd")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), balance)
}

func TestBuildFailures(t *testing.T) {
	// Instantiation is mandatory
	_, err := NewBuilder(counter.New()).WithAccount("alice", core.NewCoin(1, "uusd")).Build()
	assert.ErrorIs(t, err, core.ErrInitialization)

	_, err = NewBuilder(counter.New()).
		WithAccount("alice", core.NewCoin(1, "uusd"), core.NewCoin(2, "uusd")).
		WithInstantiateMsg(counter.InstantiateMsg{}).
		Build()
	assert.ErrorIs(t, err, core.ErrInvalidCoins)

	_, err = NewBuilder(counter.New()).
		WithInstantiateMsg(counter.InstantiateMsg{Fail: true}).
		Build()
	assert.ErrorIs(t, err, counter.ErrFailed)

	_, err = NewBuilder(counter.New()).
		WithInstantiateMsg([]byte(`{"count":-1}`)).
		Build()
	assert.ErrorIs(t, err, core.ErrDeserialization)

	_, err = NewBuilder(nil).
		WithInstantiateMsg(counter.InstantiateMsg{}).
		Build()
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestHandleOperations(t *testing.T) {
	for _, backend := range []context.ContextType{context.MemoryContextType, context.DBContextType} {
		t.Run(string(backend), func(t *testing.T) {
			config := vm.DefaultConfig()
			config.ContextType = string(backend)

			env, err := NewBuilder(counter.New()).
				WithConfig(config).
				WithAccount("alice", core.NewCoin(100, "uusd")).
				WithAdmin(DefaultCreator).
				WithCreator("owner").
				WithLabel("main").
				WithInstantiateMsg(counter.InstantiateMsg{Count: 1}).
				Build()
			require.NoError(t, err)
			defer env.Close()
			assert.Equal(t, core.Addr("owner"), env.Creator)

			_, err = env.Execute("alice", counter.ExecuteMsg{Increment: &counter.IncrementMsg{}}, core.NewCoin(10, "uusd"))
			require.NoError(t, err)
			balance, err := env.Balance("alice", "uusd")
			require.NoError(t, err)
			assert.Equal(t, uint64(90), balance)

			_, err = env.Sudo(counter.SudoMsg{SetCount: &counter.SetCountMsg{Count: 50}})
			require.NoError(t, err)

			_, err = env.Migrate(DefaultCreator, env.CodeID, counter.MigrateMsg{Version: "v2"})
			require.NoError(t, err)

			st, err := QuerySmart[counter.State](env, counter.QueryMsg{GetState: &struct{}{}})
			require.NoError(t, err)
			assert.Equal(t, uint64(50), st.Count)
			assert.Equal(t, "v2", st.Version)
			assert.Equal(t, core.Addr("owner"), st.Owner)

			second, err := env.Instantiate(env.CodeID, "alice", counter.InstantiateMsg{Count: 8}, "second", core.NewCoin(5, "uusd"))
			require.NoError(t, err)
			assert.NotEqual(t, env.Contract, second)

			// Seeding is closed once messages flowed
			err = env.App.InitBalance("late", core.Coins{core.NewCoin(1, "uusd")})
			assert.ErrorIs(t, err, core.ErrInitialization)

			// Router errors surface unchanged
			_, err = QuerySmart[counter.CountResponse](env, []byte(`{"get_count":{},"tamper":{}}`))
			assert.ErrorIs(t, err, core.ErrDeserialization)
		})
	}
}
