package scenario

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/govm-net/multitest/context"
	"github.com/govm-net/multitest/core"
	"github.com/govm-net/multitest/testenv"
	"github.com/govm-net/multitest/types"
	"github.com/govm-net/multitest/vm"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Trace has one line per routed call, in order.
	Trace []string

	failures *multierror.Error
}

// Pass reports whether every expectation held.
func (r *Result) Pass() bool {
	return r.failures.ErrorOrNil() == nil
}

// Err returns all failed expectations, or nil.
func (r *Result) Err() error {
	return r.failures.ErrorOrNil()
}

func (r *Result) fail(format string, args ...any) {
	r.failures = multierror.Append(r.failures, fmt.Errorf(format, args...))
}

func (r *Result) trace(format string, args ...any) {
	r.Trace = append(r.Trace, fmt.Sprintf(format, args...))
}

// String renders the trace as text, one line per entry.
func (r *Result) String() string {
	return strings.Join(r.Trace, "\n") + "\n"
}

// Run builds an environment around contract and plays the scenario on it.
// The returned error reports a scenario that could not be set up; failed
// expectations are collected in the Result.
func Run(s *Scenario, contract core.Contract) (*Result, error) {
	config := vm.DefaultConfig()
	if s.Backend != "" {
		config.ContextType = s.Backend
	}

	builder := testenv.NewBuilder(contract).
		WithConfig(config).
		WithInstantiateMsg(s.Instantiate.Msg)
	for name, coins := range s.Accounts {
		builder.WithAccount(name, coins...)
	}
	if s.Instantiate.Sender != "" {
		builder.WithCreator(core.Addr(s.Instantiate.Sender))
	}
	if s.Instantiate.Label != "" {
		builder.WithLabel(s.Instantiate.Label)
	}
	if s.Instantiate.Admin != "" {
		builder.WithAdmin(core.Addr(s.Instantiate.Admin))
	}

	env, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	defer env.Close()

	r := &Result{}
	r.trace("scenario %s (%s)", s.Name, backendName(s.Backend))
	r.trace("instantiate code=%d contract=%s sender=%s", env.CodeID, env.Contract, env.Creator)

	for i, step := range s.Steps {
		runStep(r, env, i+1, step)
	}

	for _, name := range sortedKeys(s.Balances) {
		want, err := core.NewCoins(s.Balances[name]...)
		if err != nil {
			r.fail("balances[%s]: %v", name, err)
			continue
		}
		got, err := env.Balances(core.Addr(name))
		if err != nil {
			r.fail("balances[%s]: %v", name, err)
			continue
		}
		r.trace("balance %s = %s", name, coinsText(got))
		if coinsText(got) != coinsText(want) {
			r.fail("balances[%s]: expected %s, got %s", name, coinsText(want), coinsText(got))
		}
	}
	return r, nil
}

func runStep(r *Result, env *testenv.Env, n int, step Step) {
	prefix := fmt.Sprintf("[%d] %s", n, step.kind())

	if step.NextBlock {
		env.App.NextBlock()
		block := env.App.Block()
		r.trace("%s => height=%d time=%d", prefix, block.Height, block.Time)
		return
	}

	var (
		call *Call
		res  *types.AppResponse
		out  []byte
		err  error
	)
	switch {
	case step.Execute != nil:
		call = step.Execute
		prefix += fmt.Sprintf(" %s", sender(env, call))
		res, err = env.Execute(sender(env, call), call.Msg, call.Funds...)
	case step.Query != nil:
		call = step.Query
		out, err = env.Query(call.Msg)
	case step.Sudo != nil:
		call = step.Sudo
		res, err = env.Sudo(call.Msg)
	case step.Migrate != nil:
		call = step.Migrate
		codeID := call.CodeID
		if codeID == 0 {
			codeID = env.CodeID
		}
		prefix += fmt.Sprintf(" %s code=%d", sender(env, call), codeID)
		res, err = env.Migrate(sender(env, call), codeID, call.Msg)
	}

	if raw, err := core.Marshal(call.Msg); err != nil {
		r.fail("step %d: cannot encode msg: %v", n, err)
	} else {
		prefix += " " + core.MessageVariant(raw)
	}
	if len(call.Funds) > 0 {
		prefix += " funds=" + coinsText(call.Funds)
	}

	switch {
	case err != nil:
		r.trace("%s => error: %v", prefix, err)
	case step.Query != nil:
		r.trace("%s => %s", prefix, out)
	default:
		r.trace("%s => ok events=%s", prefix, eventTypes(res))
	}

	checkExpect(r, n, step.Expect, out, err)
}

func checkExpect(r *Result, n int, expect *Expect, out []byte, err error) {
	if expect == nil || expect.Error == "" {
		if err != nil {
			r.fail("step %d: unexpected error: %v", n, err)
			return
		}
	} else {
		if err == nil {
			r.fail("step %d: expected error containing %q, got success", n, expect.Error)
		} else if !strings.Contains(err.Error(), expect.Error) {
			r.fail("step %d: expected error containing %q, got %v", n, expect.Error, err)
		}
		return
	}

	if expect == nil || expect.Result == nil {
		return
	}
	var got map[string]any
	if err := json.Unmarshal(out, &got); err != nil {
		r.fail("step %d: response is not an object: %v", n, err)
		return
	}
	want, err := normalize(expect.Result)
	if err != nil {
		r.fail("step %d: %v", n, err)
		return
	}
	for key, value := range want {
		if !reflect.DeepEqual(got[key], value) {
			r.fail("step %d: result.%s: expected %v, got %v", n, key, value, got[key])
		}
	}
}

// normalize gives YAML values the shapes encoding/json decodes to
func normalize(m map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("invalid expected result: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("invalid expected result: %w", err)
	}
	return out, nil
}

func sender(env *testenv.Env, call *Call) core.Addr {
	if call.Sender == "" {
		return env.Creator
	}
	if addr, ok := env.Account(call.Sender); ok {
		return addr
	}
	return core.Addr(call.Sender)
}

func eventTypes(res *types.AppResponse) string {
	if res == nil || len(res.Events) == 0 {
		return "none"
	}
	names := make([]string, len(res.Events))
	for i, e := range res.Events {
		names[i] = e.Type
	}
	return strings.Join(names, ",")
}

func coinsText(coins core.Coins) string {
	if coins.IsZero() {
		return "none"
	}
	return coins.String()
}

func backendName(backend string) string {
	if backend == "" {
		return string(context.MemoryContextType)
	}
	return backend
}

func sortedKeys(m map[string]core.Coins) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
