package vm

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/govm-net/multitest/core"
	"github.com/govm-net/multitest/types"
)

// errDiscard makes a transaction roll back without being a failure
var errDiscard = errors.New("discard query scope")

// transact runs fn in a nested state scope. A panicking contract becomes an
// ErrContractPanic so the scope is still rolled back.
func (e *Engine) transact(state types.StateDB, fn func(tx types.StateDB) error) error {
	err := state.Transaction(func(tx types.StateDB) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", core.ErrContractPanic, r)
			}
		}()
		return fn(tx)
	})
	if err != nil && !errors.Is(err, errDiscard) {
		e.logger.Debug("call rolled back", "error", err)
	}
	return err
}

func (e *Engine) checkDepth(depth int) error {
	if depth > e.config.MaxCallDepth {
		return fmt.Errorf("%w: depth %d exceeds %d", core.ErrCallDepthExceeded, depth, e.config.MaxCallDepth)
	}
	return nil
}

func (e *Engine) env(contract core.Addr) core.Env {
	return core.Env{
		Block:       e.block,
		Transaction: &core.TransactionInfo{Index: 0},
		Contract:    core.ContractInfo{Address: contract},
	}
}

func (e *Engine) depsMut(tx types.StateDB, depth int, contract core.Addr) core.DepsMut {
	return core.DepsMut{
		Storage: tx.Store(contract),
		Querier: &querier{engine: e, state: tx, depth: depth},
	}
}

// resolve loads the directory entry and code of contract
func (e *Engine) resolve(state types.StateDB, contract core.Addr) (types.ContractRecord, core.Contract, error) {
	rec, err := state.Contract(contract)
	if err != nil {
		return types.ContractRecord{}, nil, err
	}
	code, err := e.codes.Lookup(rec.CodeID)
	if err != nil {
		return types.ContractRecord{}, nil, err
	}
	return rec, code.Contract, nil
}

func (e *Engine) instantiate(state types.StateDB, depth int, codeID uint64, sender core.Addr, funds core.Coins, msg []byte, label string, admin core.Addr) (core.Addr, *types.AppResponse, error) {
	if err := e.checkDepth(depth); err != nil {
		return "", nil, err
	}
	code, err := e.codes.Lookup(codeID)
	if err != nil {
		return "", nil, err
	}
	addr, err := e.nextAddress(state)
	if err != nil {
		return "", nil, err
	}
	e.logger.Debug("dispatch", "entry", core.EntryInstantiate, "code_id", codeID, "contract", addr, "sender", sender, "funds", funds.String())

	var out *types.AppResponse
	err = e.transact(state, func(tx types.StateDB) error {
		err := tx.SetContract(types.ContractRecord{
			Address: addr,
			CodeID:  codeID,
			Creator: sender,
			Admin:   admin,
			Label:   label,
			Created: e.block.Height,
		})
		if err != nil {
			return err
		}
		if err := tx.Transfer(sender, addr, funds); err != nil {
			return err
		}
		info := core.MessageInfo{Sender: sender, Funds: funds}
		res, err := code.Contract.Instantiate(e.depsMut(tx, depth, addr), e.env(addr), info, msg)
		if err != nil {
			return err
		}
		event := core.NewEvent("instantiate").
			Add("_contract_address", addr.String()).
			Add("code_id", strconv.FormatUint(codeID, 10))
		out, err = e.processResponse(tx, depth, addr, event, funds, sender, res)
		return err
	})
	if err != nil {
		return "", nil, err
	}
	return addr, out, nil
}

func (e *Engine) execute(state types.StateDB, depth int, contract, sender core.Addr, funds core.Coins, msg []byte) (*types.AppResponse, error) {
	if err := e.checkDepth(depth); err != nil {
		return nil, err
	}
	e.logger.Debug("dispatch", "entry", core.EntryExecute, "contract", contract, "sender", sender,
		"variant", core.MessageVariant(msg), "funds", funds.String())

	var out *types.AppResponse
	err := e.transact(state, func(tx types.StateDB) error {
		_, code, err := e.resolve(tx, contract)
		if err != nil {
			return err
		}
		if err := tx.Transfer(sender, contract, funds); err != nil {
			return err
		}
		info := core.MessageInfo{Sender: sender, Funds: funds}
		res, err := code.Execute(e.depsMut(tx, depth, contract), e.env(contract), info, msg)
		if err != nil {
			return err
		}
		event := core.NewEvent("execute").Add("_contract_address", contract.String())
		out, err = e.processResponse(tx, depth, contract, event, funds, sender, res)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) query(state types.StateDB, depth int, contract core.Addr, msg []byte) ([]byte, error) {
	if err := e.checkDepth(depth); err != nil {
		return nil, err
	}
	e.logger.Debug("dispatch", "entry", core.EntryQuery, "contract", contract, "variant", core.MessageVariant(msg))

	var out []byte
	// the scope is always discarded, whatever the contract managed to write
	err := e.transact(state, func(tx types.StateDB) error {
		_, code, err := e.resolve(tx, contract)
		if err != nil {
			return err
		}
		deps := core.Deps{
			Storage: core.ReadOnly(tx.Store(contract)),
			Querier: &querier{engine: e, state: tx, depth: depth},
		}
		res, err := code.Query(deps, e.env(contract), msg)
		if err != nil {
			return err
		}
		out = res
		return errDiscard
	})
	if err != nil && !errors.Is(err, errDiscard) {
		return nil, err
	}
	return out, nil
}

// privileged runs sudo or reply, which carry no funds and no sender
func (e *Engine) privileged(state types.StateDB, depth int, entry core.EntryPoint, contract core.Addr, msg []byte) (*types.AppResponse, error) {
	if err := e.checkDepth(depth); err != nil {
		return nil, err
	}
	e.logger.Debug("dispatch", "entry", entry, "contract", contract)

	var out *types.AppResponse
	err := e.transact(state, func(tx types.StateDB) error {
		_, code, err := e.resolve(tx, contract)
		if err != nil {
			return err
		}
		call := code.Sudo
		if entry == core.EntryReply {
			call = code.Reply
		}
		res, err := call(e.depsMut(tx, depth, contract), e.env(contract), msg)
		if err != nil {
			return err
		}
		event := core.NewEvent(string(entry)).Add("_contract_address", contract.String())
		out, err = e.processResponse(tx, depth, contract, event, nil, "", res)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) sudo(state types.StateDB, depth int, contract core.Addr, msg []byte) (*types.AppResponse, error) {
	return e.privileged(state, depth, core.EntrySudo, contract, msg)
}

func (e *Engine) reply(state types.StateDB, depth int, contract core.Addr, msg []byte) (*types.AppResponse, error) {
	return e.privileged(state, depth, core.EntryReply, contract, msg)
}

func (e *Engine) migrate(state types.StateDB, depth int, contract, sender core.Addr, newCodeID uint64, msg []byte) (*types.AppResponse, error) {
	if err := e.checkDepth(depth); err != nil {
		return nil, err
	}
	e.logger.Debug("dispatch", "entry", core.EntryMigrate, "contract", contract, "sender", sender, "new_code_id", newCodeID)

	var out *types.AppResponse
	err := e.transact(state, func(tx types.StateDB) error {
		rec, err := tx.Contract(contract)
		if err != nil {
			return err
		}
		if rec.Admin == "" || rec.Admin != sender {
			return fmt.Errorf("%w: %s is not the admin of %s", core.ErrUnauthorized, sender, contract)
		}
		code, err := e.codes.Lookup(newCodeID)
		if err != nil {
			return err
		}
		rec.CodeID = newCodeID
		if err := tx.SetContract(rec); err != nil {
			return err
		}
		res, err := code.Contract.Migrate(e.depsMut(tx, depth, contract), e.env(contract), msg)
		if err != nil {
			return err
		}
		event := core.NewEvent("migrate").
			Add("_contract_address", contract.String()).
			Add("code_id", strconv.FormatUint(newCodeID, 10))
		out, err = e.processResponse(tx, depth, contract, event, nil, sender, res)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// processResponse turns a contract response into router events and runs
// its sub-messages in order.
func (e *Engine) processResponse(tx types.StateDB, depth int, contract core.Addr, base core.Event, funds core.Coins, sender core.Addr, res *core.Response) (*types.AppResponse, error) {
	if res == nil {
		res = core.NewResponse()
	}
	out := &types.AppResponse{Data: res.Data}
	if !funds.IsZero() {
		out.Events = append(out.Events, transferEvent(sender, contract, funds))
	}
	out.Events = append(out.Events, base)

	if len(res.Attributes) > 0 {
		wasm := core.NewEvent("wasm").Add("_contract_address", contract.String())
		wasm.Attributes = append(wasm.Attributes, res.Attributes...)
		out.Events = append(out.Events, wasm)
	}
	for _, ev := range res.Events {
		custom := core.NewEvent("wasm-"+ev.Type).Add("_contract_address", contract.String())
		custom.Attributes = append(custom.Attributes, ev.Attributes...)
		out.Events = append(out.Events, custom)
		e.logger.Info("Contract event", "contract", contract, "event", ev.Type, "height", e.block.Height)
	}

	for _, sub := range res.Messages {
		subOut, err := e.dispatchSubMsg(tx, depth, contract, sub)
		if err != nil {
			return nil, err
		}
		out.Events = append(out.Events, subOut.Events...)
		if subOut.Data != nil {
			out.Data = subOut.Data
		}
	}
	return out, nil
}

// dispatchSubMsg runs one sub-message in its own scope and calls back the
// dispatching contract according to ReplyOn. The returned Data is non-nil
// only when a reply produced data, which then replaces the caller's data.
func (e *Engine) dispatchSubMsg(tx types.StateDB, depth int, contract core.Addr, sub core.SubMsg) (*types.AppResponse, error) {
	var res *types.AppResponse
	err := e.transact(tx, func(inner types.StateDB) error {
		var err error
		res, err = e.dispatchMsg(inner, depth+1, contract, sub.Msg)
		return err
	})

	var reply *core.Reply
	switch {
	case err == nil && (sub.ReplyOn == core.ReplySuccess || sub.ReplyOn == core.ReplyAlways):
		reply = &core.Reply{ID: sub.ID, Result: core.SubMsgResult{Ok: &core.SubMsgResponse{Events: res.Events, Data: res.Data}}}
	case err != nil && (sub.ReplyOn == core.ReplyError || sub.ReplyOn == core.ReplyAlways):
		reply = &core.Reply{ID: sub.ID, Result: core.SubMsgResult{Err: err.Error()}}
		res = &types.AppResponse{}
	case err != nil:
		return nil, err
	}

	if reply == nil {
		return &types.AppResponse{Events: res.Events}, nil
	}
	msg, err := core.Marshal(reply)
	if err != nil {
		return nil, err
	}
	replyRes, err := e.reply(tx, depth+1, contract, msg)
	if err != nil {
		return nil, err
	}
	return &types.AppResponse{
		Events: append(res.Events, replyRes.Events...),
		Data:   replyRes.Data,
	}, nil
}

// dispatchMsg routes a message emitted by contract, which acts as the sender
func (e *Engine) dispatchMsg(tx types.StateDB, depth int, contract core.Addr, msg core.CosmosMsg) (*types.AppResponse, error) {
	switch {
	case msg.Bank != nil && msg.Bank.Send != nil:
		send := msg.Bank.Send
		if err := send.ToAddress.Validate(); err != nil {
			return nil, err
		}
		if err := tx.Transfer(contract, send.ToAddress, send.Amount); err != nil {
			return nil, err
		}
		return &types.AppResponse{Events: []core.Event{transferEvent(contract, send.ToAddress, send.Amount)}}, nil

	case msg.Wasm != nil && msg.Wasm.Execute != nil:
		exec := msg.Wasm.Execute
		return e.execute(tx, depth, exec.ContractAddr, contract, exec.Funds, exec.Msg)

	case msg.Wasm != nil && msg.Wasm.Instantiate != nil:
		inst := msg.Wasm.Instantiate
		addr, res, err := e.instantiate(tx, depth, inst.CodeID, contract, inst.Funds, inst.Msg, inst.Label, inst.Admin)
		if err != nil {
			return nil, err
		}
		data, err := core.Marshal(core.InstantiateResponse{ContractAddress: addr, Data: res.Data})
		if err != nil {
			return nil, err
		}
		return &types.AppResponse{Events: res.Events, Data: data}, nil

	case msg.Wasm != nil && msg.Wasm.Migrate != nil:
		mig := msg.Wasm.Migrate
		return e.migrate(tx, depth, mig.ContractAddr, contract, mig.NewCodeID, mig.Msg)

	case msg.Any != nil:
		return nil, fmt.Errorf("%w: any %s", core.ErrUnsupportedMessage, msg.Any.TypeURL)
	}
	return nil, fmt.Errorf("%w: empty or unknown message variant", core.ErrUnsupportedMessage)
}

func transferEvent(from, to core.Addr, amount core.Coins) core.Event {
	return core.NewEvent("transfer").
		Add("recipient", to.String()).
		Add("sender", from.String()).
		Add("amount", amount.String())
}
