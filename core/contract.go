package core

import (
	"errors"
	"fmt"
)

// Errors the harness returns. Business errors raised by contracts are
// passed through untouched.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidCoins       = errors.New("invalid coins")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrOverflow           = errors.New("amount overflow")
	ErrUnknownCode        = errors.New("unknown code")
	ErrNoSuchContract     = errors.New("no such contract")
	ErrDeserialization    = errors.New("deserialization error")
	ErrUnimplemented      = errors.New("unimplemented")
	ErrInitialization     = errors.New("initialization error")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrUnsupportedMessage = errors.New("unsupported message")
	ErrCallDepthExceeded  = errors.New("call depth exceeded")
	ErrContractPanic      = errors.New("contract panicked")
)

// Attribute is a key/value pair attached to an event.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is emitted by the router or a contract.
type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// NewEvent creates an event of the given type.
func NewEvent(typ string) Event {
	return Event{Type: typ}
}

// Add appends an attribute and returns the event.
func (e Event) Add(key, value string) Event {
	e.Attributes = append(e.Attributes, Attribute{Key: key, Value: value})
	return e
}

// Value returns the first attribute value under key.
func (e Event) Value(key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// ReplyOn selects when the dispatching contract is called back for a sub-message.
type ReplyOn string

const (
	ReplyNever   ReplyOn = "never"
	ReplySuccess ReplyOn = "success"
	ReplyError   ReplyOn = "error"
	ReplyAlways  ReplyOn = "always"
)

// BankSendMsg moves coins from the contract to another address.
type BankSendMsg struct {
	ToAddress Addr  `json:"to_address"`
	Amount    Coins `json:"amount"`
}

// BankMsg is the bank module message union.
type BankMsg struct {
	Send *BankSendMsg `json:"send,omitempty"`
}

// WasmExecuteMsg calls execute on another contract.
type WasmExecuteMsg struct {
	ContractAddr Addr   `json:"contract_addr"`
	Msg          []byte `json:"msg"`
	Funds        Coins  `json:"funds"`
}

// WasmInstantiateMsg creates a new instance of stored code.
type WasmInstantiateMsg struct {
	Admin  Addr   `json:"admin,omitempty"`
	CodeID uint64 `json:"code_id"`
	Msg    []byte `json:"msg"`
	Funds  Coins  `json:"funds"`
	Label  string `json:"label"`
}

// WasmMigrateMsg migrates an instance administered by the calling contract.
type WasmMigrateMsg struct {
	ContractAddr Addr   `json:"contract_addr"`
	NewCodeID    uint64 `json:"new_code_id"`
	Msg          []byte `json:"msg"`
}

// WasmMsg is the wasm module message union.
type WasmMsg struct {
	Execute     *WasmExecuteMsg     `json:"execute,omitempty"`
	Instantiate *WasmInstantiateMsg `json:"instantiate,omitempty"`
	Migrate     *WasmMigrateMsg     `json:"migrate,omitempty"`
}

// AnyMsg is an opaque chain-module message. The harness does not route it.
type AnyMsg struct {
	TypeURL string `json:"type_url"`
	Value   []byte `json:"value"`
}

// CosmosMsg is the union of messages a contract may dispatch.
type CosmosMsg struct {
	Bank *BankMsg `json:"bank,omitempty"`
	Wasm *WasmMsg `json:"wasm,omitempty"`
	Any  *AnyMsg  `json:"any,omitempty"`
}

// SubMsg is a dispatched message plus its reply policy.
type SubMsg struct {
	ID      uint64    `json:"id"`
	Msg     CosmosMsg `json:"msg"`
	ReplyOn ReplyOn   `json:"reply_on"`
}

// Response is returned by state-changing entry points.
type Response struct {
	Messages   []SubMsg    `json:"messages"`
	Attributes []Attribute `json:"attributes"`
	Events     []Event     `json:"events"`
	Data       []byte      `json:"data,omitempty"`
}

// NewResponse returns an empty response.
func NewResponse() *Response {
	return &Response{}
}

func (r *Response) AddAttribute(key, value string) *Response {
	r.Attributes = append(r.Attributes, Attribute{Key: key, Value: value})
	return r
}

// AddMessage dispatches msg without a reply; its failure fails the caller.
func (r *Response) AddMessage(msg CosmosMsg) *Response {
	r.Messages = append(r.Messages, SubMsg{Msg: msg, ReplyOn: ReplyNever})
	return r
}

func (r *Response) AddSubMessage(msg SubMsg) *Response {
	r.Messages = append(r.Messages, msg)
	return r
}

func (r *Response) AddEvent(event Event) *Response {
	r.Events = append(r.Events, event)
	return r
}

func (r *Response) SetData(data []byte) *Response {
	r.Data = data
	return r
}

// SubMsgResponse is the successful outcome of a sub-message.
type SubMsgResponse struct {
	Events []Event `json:"events"`
	Data   []byte  `json:"data,omitempty"`
}

// SubMsgResult holds either Ok or the error string.
type SubMsgResult struct {
	Ok  *SubMsgResponse `json:"ok,omitempty"`
	Err string          `json:"error,omitempty"`
}

// Reply is the envelope delivered to the reply entry point.
type Reply struct {
	ID     uint64       `json:"id"`
	Result SubMsgResult `json:"result"`
}

// InstantiateResponse is the data returned from a WasmInstantiateMsg.
type InstantiateResponse struct {
	ContractAddress Addr   `json:"contract_address"`
	Data            []byte `json:"data,omitempty"`
}

// EntryPoint names one of the six lifecycle operations.
type EntryPoint string

const (
	EntryInstantiate EntryPoint = "instantiate"
	EntryExecute     EntryPoint = "execute"
	EntryQuery       EntryPoint = "query"
	EntrySudo        EntryPoint = "sudo"
	EntryReply       EntryPoint = "reply"
	EntryMigrate     EntryPoint = "migrate"
)

// Unimplemented is the error a contract returns for an entry point it does not support.
func Unimplemented(ep EntryPoint) error {
	return fmt.Errorf("%w: %s not implemented for contract", ErrUnimplemented, ep)
}

// InstantiateFunc handles a decoded instantiate message.
type InstantiateFunc[T any] func(deps DepsMut, env Env, info MessageInfo, msg T) (*Response, error)

// ExecuteFunc handles a decoded execute message.
type ExecuteFunc[T any] func(deps DepsMut, env Env, info MessageInfo, msg T) (*Response, error)

// QueryFunc handles a decoded query message.
type QueryFunc[T any] func(deps Deps, env Env, msg T) ([]byte, error)

// PrivilegedFunc handles a decoded sudo or migrate message.
type PrivilegedFunc[T any] func(deps DepsMut, env Env, msg T) (*Response, error)

// ReplyFunc handles a sub-message reply.
type ReplyFunc func(deps DepsMut, env Env, reply Reply) (*Response, error)

type rawFunc func(deps DepsMut, env Env, msg []byte) (*Response, error)

// Wrapper adapts typed handler functions to the Contract interface. Every
// envelope is decoded with Unmarshal before the handler runs. Sudo, reply
// and migrate are optional and report ErrUnimplemented until set.
type Wrapper struct {
	instantiate func(deps DepsMut, env Env, info MessageInfo, msg []byte) (*Response, error)
	execute     func(deps DepsMut, env Env, info MessageInfo, msg []byte) (*Response, error)
	query       func(deps Deps, env Env, msg []byte) ([]byte, error)
	sudo        rawFunc
	reply       rawFunc
	migrate     rawFunc
}

var _ Contract = (*Wrapper)(nil)

// NewWrapper builds a contract from its three mandatory handlers.
func NewWrapper[I, E, Q any](instantiate InstantiateFunc[I], execute ExecuteFunc[E], query QueryFunc[Q]) *Wrapper {
	return &Wrapper{
		instantiate: func(deps DepsMut, env Env, info MessageInfo, msg []byte) (*Response, error) {
			var m I
			if err := Unmarshal(msg, &m); err != nil {
				return nil, err
			}
			return instantiate(deps, env, info, m)
		},
		execute: func(deps DepsMut, env Env, info MessageInfo, msg []byte) (*Response, error) {
			var m E
			if err := Unmarshal(msg, &m); err != nil {
				return nil, err
			}
			return execute(deps, env, info, m)
		},
		query: func(deps Deps, env Env, msg []byte) ([]byte, error) {
			var m Q
			if err := Unmarshal(msg, &m); err != nil {
				return nil, err
			}
			return query(deps, env, m)
		},
	}
}

func privileged[T any](fn PrivilegedFunc[T]) rawFunc {
	return func(deps DepsMut, env Env, msg []byte) (*Response, error) {
		var m T
		if err := Unmarshal(msg, &m); err != nil {
			return nil, err
		}
		return fn(deps, env, m)
	}
}

// WithSudo enables the sudo entry point.
func WithSudo[T any](w *Wrapper, fn PrivilegedFunc[T]) *Wrapper {
	w.sudo = privileged(fn)
	return w
}

// WithMigrate enables the migrate entry point.
func WithMigrate[T any](w *Wrapper, fn PrivilegedFunc[T]) *Wrapper {
	w.migrate = privileged(fn)
	return w
}

// WithReply enables the reply entry point.
func (w *Wrapper) WithReply(fn ReplyFunc) *Wrapper {
	w.reply = privileged(PrivilegedFunc[Reply](fn))
	return w
}

func (w *Wrapper) Instantiate(deps DepsMut, env Env, info MessageInfo, msg []byte) (*Response, error) {
	return w.instantiate(deps, env, info, msg)
}

func (w *Wrapper) Execute(deps DepsMut, env Env, info MessageInfo, msg []byte) (*Response, error) {
	return w.execute(deps, env, info, msg)
}

func (w *Wrapper) Query(deps Deps, env Env, msg []byte) ([]byte, error) {
	return w.query(deps, env, msg)
}

func (w *Wrapper) Sudo(deps DepsMut, env Env, msg []byte) (*Response, error) {
	if w.sudo == nil {
		return nil, Unimplemented(EntrySudo)
	}
	return w.sudo(deps, env, msg)
}

func (w *Wrapper) Reply(deps DepsMut, env Env, msg []byte) (*Response, error) {
	if w.reply == nil {
		return nil, Unimplemented(EntryReply)
	}
	return w.reply(deps, env, msg)
}

func (w *Wrapper) Migrate(deps DepsMut, env Env, msg []byte) (*Response, error) {
	if w.migrate == nil {
		return nil, Unimplemented(EntryMigrate)
	}
	return w.migrate(deps, env, msg)
}
