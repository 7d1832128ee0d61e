package virtualize

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/veil/ir"
	"github.com/chazu/veil/pkg/avm"
)

// ErrNoFrame is returned when a runtime entry point is invoked other than
// from a trampoline body.
var ErrNoFrame = errors.New("runtime entry point called without a calling frame")

var valueTypes = []ir.Type{
	ir.TypeI1, ir.TypeI8, ir.TypeI16, ir.TypeI32, ir.TypeI64,
	ir.TypeFloat, ir.TypeDouble, ir.TypePtr,
}

// Runtime implements the trampoline entry points for an ir.Evaluator. It
// caches decoded programs by global, so a Runtime should serve a single
// module.
type Runtime struct {
	mu    sync.Mutex
	cache map[*ir.Global]*avm.Program
	opts  []avm.Option
}

// NewRuntime creates a Runtime. opts are passed to every avm.Execute.
func NewRuntime(opts ...avm.Option) *Runtime {
	return &Runtime{cache: make(map[*ir.Global]*avm.Program), opts: opts}
}

// NewEvaluator returns an evaluator for m that can run trampolines.
func NewEvaluator(m *ir.Module, opts ...ir.EvalOption) *ir.Evaluator {
	return ir.NewEvaluator(m, append(opts, ir.WithIntrinsics(NewRuntime().Intrinsics()))...)
}

// Intrinsics returns the runtime entry points keyed by name.
func (rt *Runtime) Intrinsics() map[string]ir.Intrinsic {
	m := map[string]ir.Intrinsic{
		RegfileFunc:                rt.regfile,
		InterpretName(ir.TypeVoid): rt.interpret,
	}
	for _, t := range valueTypes {
		m[SetRegName(t)] = rt.setreg
		m[InterpretName(t)] = rt.interpret
	}
	return m
}

func (rt *Runtime) program(g *ir.Global) (*avm.Program, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if p, ok := rt.cache[g]; ok {
		return p, nil
	}
	if g.Ty != ir.TypeBytes {
		return nil, fmt.Errorf("@%s does not hold a program", g.Name)
	}
	p, err := avm.Deserialize(g.Data)
	if err != nil {
		return nil, fmt.Errorf("decode @%s: %w", g.Name, err)
	}
	rt.cache[g] = p
	return p, nil
}

func argc(c *ir.IntrinsicCall, n int) error {
	if len(c.Args) != n {
		return fmt.Errorf("%w: @%s got %d, want %d", ir.ErrArgCount, c.Callee.Name, len(c.Args), n)
	}
	if c.Frame == nil {
		return fmt.Errorf("@%s: %w", c.Callee.Name, ErrNoFrame)
	}
	return nil
}

// regfile(i32 n) ptr
func (rt *Runtime) regfile(c *ir.IntrinsicCall) (avm.Value, error) {
	if err := argc(c, 1); err != nil {
		return avm.Value{}, err
	}
	n := c.Args[0].Int()
	if n < 0 {
		return avm.Value{}, fmt.Errorf("%w: register file of %d slots", avm.ErrBadRegister, n)
	}
	return c.Frame.NewRegisterFile(int(n)), nil
}

// setreg(ptr rf, i32 index, T v)
func (rt *Runtime) setreg(c *ir.IntrinsicCall) (avm.Value, error) {
	if err := argc(c, 3); err != nil {
		return avm.Value{}, err
	}
	regs, err := c.Frame.RegisterFile(c.Args[0])
	if err != nil {
		return avm.Value{}, err
	}
	idx := c.Args[1].Int()
	if idx < 0 || idx >= int64(len(regs)) {
		return avm.Value{}, fmt.Errorf("%w: r%d of %d", avm.ErrBadRegister, idx, len(regs))
	}
	regs[idx] = c.Args[2]
	return avm.Value{}, nil
}

// interpret(ptr program, ptr rf) T
func (rt *Runtime) interpret(c *ir.IntrinsicCall) (avm.Value, error) {
	if err := argc(c, 2); err != nil {
		return avm.Value{}, err
	}
	g, err := c.Eval.GlobalAt(c.Args[0])
	if err != nil {
		return avm.Value{}, err
	}
	p, err := rt.program(g)
	if err != nil {
		return avm.Value{}, err
	}
	regs, err := c.Frame.RegisterFile(c.Args[1])
	if err != nil {
		return avm.Value{}, err
	}

	caller := avm.CallerFunc(func(name string, args []avm.Value) (avm.Value, error) {
		return c.Run.Call(name, args...)
	})
	opts := append([]avm.Option{avm.WithCaller(caller), avm.WithGlobals(c.Eval.Memory())}, rt.opts...)
	v, err := avm.Execute(p, regs, opts...)
	if err != nil {
		return avm.Value{}, err
	}

	want := c.Result().Kind()
	if want == avm.KindInvalid {
		return avm.Value{}, nil
	}
	if v.Kind() != want {
		return avm.Value{}, fmt.Errorf("%w: %s returned %s, caller expects %s", avm.ErrTypeMismatch, p.Name(), v.Kind(), want)
	}
	return v, nil
}
