package core

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testInit struct {
	Value uint64 `json:"value"`
}

type testExec struct {
	Add *struct {
		N uint64 `json:"n"`
	} `json:"add,omitempty"`
	Clear *struct{} `json:"clear,omitempty"`
}

func (m testExec) Validate() error {
	return ExactlyOne(m.Add != nil, m.Clear != nil)
}

type testQuery struct {
	Get *struct{} `json:"get,omitempty"`
}

func newTestWrapper(seen *[]string) *Wrapper {
	return NewWrapper(
		func(deps DepsMut, env Env, info MessageInfo, msg testInit) (*Response, error) {
			*seen = append(*seen, "instantiate")
			return NewResponse(), nil
		},
		func(deps DepsMut, env Env, info MessageInfo, msg testExec) (*Response, error) {
			*seen = append(*seen, "execute")
			return NewResponse().AddAttribute("action", "exec"), nil
		},
		func(deps Deps, env Env, msg testQuery) ([]byte, error) {
			*seen = append(*seen, "query")
			return []byte(`{}`), nil
		},
	)
}

func TestWrapperDecoding(t *testing.T) {
	var seen []string
	w := newTestWrapper(&seen)

	_, err := w.Instantiate(DepsMut{}, Env{}, MessageInfo{}, []byte(`{"value":3}`))
	require.NoError(t, err)

	res, err := w.Execute(DepsMut{}, Env{}, MessageInfo{}, []byte(`{"add":{"n":1}}`))
	require.NoError(t, err)
	assert.Equal(t, []Attribute{{Key: "action", Value: "exec"}}, res.Attributes)

	_, err = w.Query(Deps{}, Env{}, []byte(`{"get":{}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"instantiate", "execute", "query"}, seen)

	// Shape mismatches never reach the handler
	for _, msg := range []string{
		`{"value":"x"}`,
		`{"value":1,"other":2}`,
		`{"value":1}{"value":2}`,
		`not json`,
	} {
		_, err := w.Instantiate(DepsMut{}, Env{}, MessageInfo{}, []byte(msg))
		assert.ErrorIs(t, err, ErrDeserialization, msg)
	}
	_, err = w.Execute(DepsMut{}, Env{}, MessageInfo{}, []byte(`{}`))
	assert.ErrorIs(t, err, ErrDeserialization)
	_, err = w.Execute(DepsMut{}, Env{}, MessageInfo{}, []byte(`{"add":{"n":1},"clear":{}}`))
	assert.ErrorIs(t, err, ErrDeserialization)
	assert.Len(t, seen, 3)
}

func TestWrapperOptionalEntryPoints(t *testing.T) {
	var seen []string
	w := newTestWrapper(&seen)

	_, err := w.Sudo(DepsMut{}, Env{}, []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnimplemented)
	assert.EqualError(t, err, "unimplemented: sudo not implemented for contract")
	_, err = w.Reply(DepsMut{}, Env{}, []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnimplemented)
	_, err = w.Migrate(DepsMut{}, Env{}, []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnimplemented)

	w = WithSudo(w, func(deps DepsMut, env Env, msg testInit) (*Response, error) {
		return NewResponse().SetData([]byte("sudo")), nil
	})
	w = WithMigrate(w, func(deps DepsMut, env Env, msg testInit) (*Response, error) {
		return nil, errors.New("refused")
	})
	w = w.WithReply(func(deps DepsMut, env Env, reply Reply) (*Response, error) {
		return NewResponse().AddAttribute("id", "7"), nil
	})

	res, err := w.Sudo(DepsMut{}, Env{}, []byte(`{"value":1}`))
	require.NoError(t, err)
	assert.Equal(t, []byte("sudo"), res.Data)

	_, err = w.Migrate(DepsMut{}, Env{}, []byte(`{"value":1}`))
	assert.EqualError(t, err, "refused")

	raw, err := Marshal(Reply{ID: 7, Result: SubMsgResult{Err: "boom"}})
	require.NoError(t, err)
	_, err = w.Reply(DepsMut{}, Env{}, raw)
	require.NoError(t, err)
}

func TestResponseBuilders(t *testing.T) {
	res := NewResponse().
		AddAttribute("k", "v").
		AddEvent(NewEvent("custom").Add("a", "1")).
		AddMessage(CosmosMsg{Bank: &BankMsg{Send: &BankSendMsg{ToAddress: "bob"}}}).
		SetData([]byte("x"))

	require.Len(t, res.Messages, 1)
	assert.Equal(t, ReplyNever, res.Messages[0].ReplyOn)
	v, ok := res.Events[0].Value("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	_, ok = res.Events[0].Value("missing")
	assert.False(t, ok)
}

func TestMarshalPassesRawEnvelopes(t *testing.T) {
	raw := []byte(`{"a":1}`)
	out, err := Marshal(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, out)

	out, err = Marshal(json.RawMessage(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, out)

	_, err = Marshal(make(chan int))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMessageVariant(t *testing.T) {
	assert.Equal(t, "GetMaxFeePercentage", MessageVariant([]byte(`{"get_max_fee_percentage":{}}`)))
	assert.Equal(t, "Swap", MessageVariant([]byte(`{"swap":{"routes":[]}}`)))
	assert.Equal(t, "", MessageVariant([]byte(`{"a":1,"b":2}`)))
	assert.Equal(t, "", MessageVariant([]byte(`[1]`)))
}

func TestAddrValidate(t *testing.T) {
	assert.NoError(t, Addr("alice").Validate())
	assert.ErrorIs(t, Addr("").Validate(), ErrInvalidArgument)
	assert.ErrorIs(t, Addr("al ice").Validate(), ErrInvalidArgument)
}

type memStore map[string][]byte

func (m memStore) Get(key []byte) ([]byte, error) { return m[string(key)], nil }
func (m memStore) Set(key, value []byte) error    { m[string(key)] = value; return nil }
func (m memStore) Delete(key []byte) error        { delete(m, string(key)); return nil }
func (m memStore) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	return nil
}

func TestReadOnlyHidesWrites(t *testing.T) {
	store := memStore{"k": []byte("v")}
	ro := ReadOnly(store)

	_, ok := ro.(KVStore)
	assert.False(t, ok)
	v, err := ro.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	// Wrapping twice does not nest
	assert.Equal(t, ro, ReadOnly(ro))

	deps := DepsMut{Storage: store}.AsReadonly()
	_, ok = deps.Storage.(KVStore)
	assert.False(t, ok)
}
