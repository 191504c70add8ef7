package context

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govm-net/multitest/types"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, MemoryContextType, r.DefaultContextType())
	assert.Empty(t, r.ListRegistered())

	var gotParams map[string]any
	ctor := func(params map[string]any) (types.StateDB, error) {
		gotParams = params
		return nil, nil
	}
	require.NoError(t, r.Register(DBContextType, ctor))
	require.NoError(t, r.Register(MemoryContextType, ctor))
	assert.ErrorIs(t, r.Register(DBContextType, ctor), ErrBackendExists)
	assert.Equal(t, []ContextType{DBContextType, MemoryContextType}, r.ListRegistered())

	_, err := r.Get(DBContextType, map[string]any{"db_path": "x.db"})
	require.NoError(t, err)
	assert.Equal(t, "x.db", gotParams["db_path"])

	_, err = r.Get("redis", nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)

	assert.ErrorIs(t, r.SetDefault("redis"), ErrUnknownBackend)
	require.NoError(t, r.SetDefault(DBContextType))
	assert.Equal(t, DBContextType, r.DefaultContextType())
}

func TestRegistryWrapsConstructorErrors(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	require.NoError(t, r.Register(MemoryContextType, func(map[string]any) (types.StateDB, error) {
		return nil, boom
	}))

	// Empty type resolves to the default
	_, err := r.Get("", nil)
	assert.ErrorIs(t, err, boom)
}
