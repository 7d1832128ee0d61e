package ir

import (
	"errors"
	"fmt"

	"github.com/chazu/veil/pkg/avm"
)

// Evaluation errors. EvalError wraps them with the failing location.
var (
	ErrUnknownFunction = errors.New("unknown function")
	ErrUnsupported     = errors.New("unsupported instruction")
	ErrStepLimit       = errors.New("step limit exceeded")
	ErrDepthLimit      = errors.New("call depth limit exceeded")
	ErrUnreachable     = errors.New("reached unreachable")
	ErrBadPointer      = errors.New("bad pointer")
	ErrArgCount        = errors.New("wrong number of arguments")
	ErrReadOnly        = errors.New("store to constant global")
)

// EvalError reports a failure while evaluating a function.
type EvalError struct {
	Function string
	Instr    string
	Err      error
}

func (e *EvalError) Error() string {
	if e.Instr == "" {
		return fmt.Sprintf("ir: eval @%s: %v", e.Function, e.Err)
	}
	return fmt.Sprintf("ir: eval @%s: %s: %v", e.Function, e.Instr, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Pointer tags. Untagged pointers address the arena of the current run;
// slot 0 is never allocated so null stays invalid.
const (
	tagGlobal  uint64 = 1 << 62
	tagRegfile uint64 = 1 << 61
	tagMask           = tagGlobal | tagRegfile
)

// Defaults for NewEvaluator.
const (
	DefaultStepLimit  = 50_000_000
	DefaultDepthLimit = 512
	DefaultArenaLimit = 1 << 20
)

// Intrinsic implements a declared function in the host.
type Intrinsic func(c *IntrinsicCall) (avm.Value, error)

// IntrinsicCall is the context handed to an Intrinsic.
type IntrinsicCall struct {
	Eval   *Evaluator
	Run    *Run
	Callee *Function
	Frame  *Frame // nil when the intrinsic is called directly through Call
	Instr  *Instr // the call instruction, nil when Frame is nil
	Args   []avm.Value
}

// Result returns the type the caller expects back.
func (c *IntrinsicCall) Result() Type {
	if c.Instr != nil {
		return c.Instr.Ty
	}
	return c.Callee.Ret
}

// EvalOption configures an Evaluator.
type EvalOption func(*Evaluator)

// WithIntrinsic binds a declared function name to a host implementation.
func WithIntrinsic(name string, fn Intrinsic) EvalOption {
	return func(e *Evaluator) { e.intrinsics[name] = fn }
}

// WithIntrinsics binds several intrinsics at once.
func WithIntrinsics(m map[string]Intrinsic) EvalOption {
	return func(e *Evaluator) {
		for name, fn := range m {
			e.intrinsics[name] = fn
		}
	}
}

// WithMemory shares global memory with another evaluator or program.
func WithMemory(mem *Memory) EvalOption {
	return func(e *Evaluator) { e.mem = mem }
}

// WithStepLimit bounds the instructions executed by one top-level call.
func WithStepLimit(n int64) EvalOption {
	return func(e *Evaluator) { e.stepLimit = n }
}

// WithDepthLimit bounds the call depth of one top-level call.
func WithDepthLimit(n int) EvalOption {
	return func(e *Evaluator) { e.depthLimit = n }
}

// WithArenaLimit bounds the alloca slots of one top-level call.
func WithArenaLimit(n int) EvalOption {
	return func(e *Evaluator) { e.arenaLimit = n }
}

// Evaluator executes module functions directly. It is the reference
// semantics against which transformed modules are compared.
//
// All per-call state lives in a Run, so one Evaluator may serve concurrent
// calls. The module must not change while calls are in flight.
type Evaluator struct {
	mod        *Module
	mem        *Memory
	intrinsics map[string]Intrinsic
	stepLimit  int64
	depthLimit int
	arenaLimit int
}

// NewEvaluator creates an evaluator for m.
func NewEvaluator(m *Module, opts ...EvalOption) *Evaluator {
	e := &Evaluator{
		mod:        m,
		intrinsics: make(map[string]Intrinsic),
		stepLimit:  DefaultStepLimit,
		depthLimit: DefaultDepthLimit,
		arenaLimit: DefaultArenaLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.mem == nil {
		e.mem = NewMemory(m)
	}
	return e
}

// Module returns the module being evaluated.
func (e *Evaluator) Module() *Module { return e.mod }

// Memory returns the global memory.
func (e *Evaluator) Memory() *Memory { return e.mem }

// GlobalPointer returns the pointer value that addresses g.
func (e *Evaluator) GlobalPointer(g *Global) (avm.Value, error) {
	idx := e.mod.GlobalIndex(g)
	if idx < 0 {
		return avm.Value{}, fmt.Errorf("%w: @%s is not in module", ErrBadPointer, g.Name)
	}
	return avm.PtrValue(tagGlobal | uint64(idx)), nil
}

// GlobalAt returns the global addressed by p.
func (e *Evaluator) GlobalAt(p avm.Value) (*Global, error) {
	if p.Kind() != avm.KindPtr || p.Pointer()&tagMask != tagGlobal {
		return nil, fmt.Errorf("%w: %s does not address a global", ErrBadPointer, p)
	}
	idx := p.Pointer() &^ tagMask
	if idx >= uint64(len(e.mod.Globals)) {
		return nil, fmt.Errorf("%w: %s", ErrBadPointer, p)
	}
	return e.mod.Globals[idx], nil
}

// Call evaluates the named function with args. Each Call starts a fresh
// Run with its own arena and limits.
func (e *Evaluator) Call(name string, args ...avm.Value) (avm.Value, error) {
	r := &Run{eval: e, arena: make([]avm.Value, 1, 8)}
	return r.Call(name, args...)
}

// Run is the state of one top-level Evaluator.Call: the alloca arena, the
// step counter and the current call depth. A Run is used by one goroutine.
type Run struct {
	eval  *Evaluator
	arena []avm.Value
	steps int64
	depth int
}

// Call evaluates the named function as a nested call of this run. Host
// code running inside an intrinsic uses it to re-enter the evaluator.
func (r *Run) Call(name string, args ...avm.Value) (avm.Value, error) {
	f := r.eval.mod.Function(name)
	if f == nil {
		return avm.Value{}, &EvalError{Function: name, Err: ErrUnknownFunction}
	}
	return r.call(f, args, nil, nil)
}

// Depth returns the current call depth.
func (r *Run) Depth() int { return r.depth }

func (r *Run) alloc(n uint64) (avm.Value, error) {
	if n > uint64(r.eval.arenaLimit-len(r.arena)+1) {
		return avm.Value{}, fmt.Errorf("%w: allocation of %d slots exceeds limit %d", ErrBadPointer, n, r.eval.arenaLimit)
	}
	base := len(r.arena)
	for i := uint64(0); i < n; i++ {
		r.arena = append(r.arena, avm.Value{})
	}
	return avm.PtrValue(uint64(base)), nil
}

func (r *Run) slot(p avm.Value) (int, error) {
	addr := p.Pointer()
	if addr == 0 || addr >= uint64(len(r.arena)) {
		return 0, fmt.Errorf("%w: 0x%x", ErrBadPointer, addr)
	}
	return int(addr), nil
}

func (r *Run) call(f *Function, args []avm.Value, caller *Frame, site *Instr) (avm.Value, error) {
	if r.depth >= r.eval.depthLimit {
		return avm.Value{}, &EvalError{Function: f.Name, Err: fmt.Errorf("%w: %d", ErrDepthLimit, r.eval.depthLimit)}
	}
	r.depth++
	defer func() { r.depth-- }()

	if f.IsDeclaration() {
		fn, ok := r.eval.intrinsics[f.Name]
		if !ok {
			return avm.Value{}, &EvalError{Function: f.Name, Err: fmt.Errorf("%w: @%s has no body", ErrUnknownFunction, f.Name)}
		}
		v, err := fn(&IntrinsicCall{Eval: r.eval, Run: r, Callee: f, Frame: caller, Instr: site, Args: args})
		if err != nil {
			return avm.Value{}, &EvalError{Function: f.Name, Err: err}
		}
		return v, nil
	}

	if len(args) != len(f.Params) {
		return avm.Value{}, &EvalError{Function: f.Name, Err: fmt.Errorf("%w: got %d, want %d", ErrArgCount, len(args), len(f.Params))}
	}
	for i, p := range f.Params {
		if args[i].Kind() != p.Ty.Kind() {
			return avm.Value{}, &EvalError{Function: f.Name,
				Err: fmt.Errorf("%w: argument %%%s is %s, want %s", avm.ErrTypeMismatch, p.Name, args[i].Kind(), p.Ty)}
		}
	}

	fr := &Frame{run: r, fn: f, args: args, vals: make(map[*Instr]avm.Value)}
	return fr.exec()
}

// Frame is the activation of one function within a Run.
type Frame struct {
	run      *Run
	fn       *Function
	args     []avm.Value
	vals     map[*Instr]avm.Value
	regfiles [][]avm.Value
}

// Function returns the function being executed.
func (fr *Frame) Function() *Function { return fr.fn }

// NewRegisterFile creates a register file of n slots owned by this frame
// and returns a pointer handle to it.
func (fr *Frame) NewRegisterFile(n int) avm.Value {
	fr.regfiles = append(fr.regfiles, make([]avm.Value, n))
	return avm.PtrValue(tagRegfile | uint64(len(fr.regfiles)-1))
}

// RegisterFile resolves a handle returned by NewRegisterFile.
func (fr *Frame) RegisterFile(h avm.Value) ([]avm.Value, error) {
	if h.Kind() != avm.KindPtr || h.Pointer()&tagMask != tagRegfile {
		return nil, fmt.Errorf("%w: %s is not a register file", ErrBadPointer, h)
	}
	idx := h.Pointer() &^ tagMask
	if idx >= uint64(len(fr.regfiles)) {
		return nil, fmt.Errorf("%w: register file %d of %d", ErrBadPointer, idx, len(fr.regfiles))
	}
	return fr.regfiles[idx], nil
}

func (fr *Frame) fail(i *Instr, err error) error {
	var ee *EvalError
	if errors.As(err, &ee) {
		err = fmt.Errorf("call @%s: %w", i.Callee, err)
	}
	return &EvalError{Function: fr.fn.Name, Instr: i.Ident(), Err: err}
}

func (fr *Frame) value(v Value) (avm.Value, error) {
	switch x := v.(type) {
	case *Const:
		return x.Val, nil
	case *Param:
		if x.Index >= len(fr.args) {
			return avm.Value{}, fmt.Errorf("%w: parameter %%%s", ErrArgCount, x.Name)
		}
		return fr.args[x.Index], nil
	case *Instr:
		val, ok := fr.vals[x]
		if !ok {
			return avm.Value{}, fmt.Errorf("%%%s used before definition", x.Name)
		}
		return val, nil
	case *Global:
		return fr.run.eval.GlobalPointer(x)
	}
	return avm.Value{}, fmt.Errorf("%w: operand %s", ErrUnsupported, v.Ref())
}

func (fr *Frame) operands(i *Instr) ([]avm.Value, error) {
	out := make([]avm.Value, len(i.Operands))
	for n, op := range i.Operands {
		v, err := fr.value(op)
		if err != nil {
			return nil, err
		}
		out[n] = v
	}
	return out, nil
}

func (fr *Frame) exec() (avm.Value, error) {
	r := fr.run
	var prev *Block
	block := fr.fn.Blocks[0]

	for {
		// Phis read their inputs before any of them is written.
		var phis []*Instr
		var phiVals []avm.Value
		start := 0
		for ; start < len(block.Instrs) && block.Instrs[start].Op == OpPhi; start++ {
			i := block.Instrs[start]
			v, err := fr.incoming(i, prev)
			if err != nil {
				return avm.Value{}, fr.fail(i, err)
			}
			phis = append(phis, i)
			phiVals = append(phiVals, v)
		}
		for n, i := range phis {
			fr.vals[i] = phiVals[n]
		}

		var next *Block
		for _, i := range block.Instrs[start:] {
			r.steps++
			if r.steps > r.eval.stepLimit {
				return avm.Value{}, fr.fail(i, fmt.Errorf("%w: %d", ErrStepLimit, r.eval.stepLimit))
			}

			switch i.Op {
			case OpRet:
				if len(i.Operands) == 0 {
					return avm.Value{}, nil
				}
				v, err := fr.value(i.Operands[0])
				if err != nil {
					return avm.Value{}, fr.fail(i, err)
				}
				return v, nil

			case OpBr:
				if len(i.Operands) == 0 {
					next = i.Targets[0]
					break
				}
				c, err := fr.value(i.Operands[0])
				if err != nil {
					return avm.Value{}, fr.fail(i, err)
				}
				if c.Bool() {
					next = i.Targets[0]
				} else {
					next = i.Targets[1]
				}

			case OpSwitch:
				c, err := fr.value(i.Operands[0])
				if err != nil {
					return avm.Value{}, fr.fail(i, err)
				}
				next = i.Targets[0]
				for _, sc := range i.Cases {
					if sc.Value.Val.Bits() == c.Bits() {
						next = sc.Target
						break
					}
				}

			case OpUnreachable:
				return avm.Value{}, fr.fail(i, ErrUnreachable)

			default:
				if i.Op.IsExceptional() || i.Op == OpPhi {
					return avm.Value{}, fr.fail(i, fmt.Errorf("%w: %s", ErrUnsupported, i.Op))
				}
				v, err := fr.step(i)
				if err != nil {
					return avm.Value{}, fr.fail(i, err)
				}
				if i.HasResult() {
					fr.vals[i] = v
				}
			}
			if next != nil {
				break
			}
		}
		if next == nil {
			return avm.Value{}, &EvalError{Function: fr.fn.Name, Err: fmt.Errorf("block %s fell through", block.Name)}
		}
		prev, block = block, next
	}
}

func (fr *Frame) incoming(phi *Instr, prev *Block) (avm.Value, error) {
	for _, in := range phi.Incoming {
		if in.Block == prev {
			return fr.value(in.Value)
		}
	}
	from := "entry"
	if prev != nil {
		from = prev.Name
	}
	return avm.Value{}, fmt.Errorf("phi has no incoming value for %s", from)
}

// step executes a non-terminator.
func (fr *Frame) step(i *Instr) (avm.Value, error) {
	ops, err := fr.operands(i)
	if err != nil {
		return avm.Value{}, err
	}

	switch op := i.Op; {
	case op.IsBinary():
		if op == OpAdd && i.NSW && i.NUW {
			signed, _ := avm.NewAdd(true, false)
			if _, err := avm.Apply(signed, ops[0], ops[1]); err != nil {
				return avm.Value{}, err
			}
			unsigned, _ := avm.NewAdd(false, true)
			return avm.Apply(unsigned, ops[0], ops[1])
		}
		inst, err := ArithInstruction(op, i.NSW && op == OpAdd, i.NUW && op == OpAdd)
		if err != nil {
			return avm.Value{}, err
		}
		return avm.Apply(inst, ops[0], ops[1])

	case op == OpICmp:
		return avm.Apply(avm.ICmp{Pred: i.IPred}, ops[0], ops[1])

	case op == OpFCmp:
		return avm.Apply(avm.FCmp{Pred: i.FPred}, ops[0], ops[1])

	case op == OpSelect:
		if ops[0].Bool() {
			return ops[1], nil
		}
		return ops[2], nil

	case op.IsCast():
		c, _ := op.CastOp()
		return avm.Convert(c, ops[0], i.Ty.Kind())

	case op == OpAlloca:
		n := uint64(1)
		if len(ops) == 1 {
			n = ops[0].Bits()
		}
		return fr.run.alloc(n)

	case op == OpLoad:
		return fr.load(ops[0], i.Ty.Kind())

	case op == OpStore:
		return avm.Value{}, fr.store(ops[1], ops[0])

	case op == OpCall:
		if i.Callee == "" {
			return avm.Value{}, fmt.Errorf("%w: indirect call", ErrUnsupported)
		}
		f := fr.run.eval.mod.Function(i.Callee)
		if f == nil {
			return avm.Value{}, fmt.Errorf("%w: @%s", ErrUnknownFunction, i.Callee)
		}
		v, err := fr.run.call(f, ops, fr, i)
		if err != nil {
			return avm.Value{}, err
		}
		if i.HasResult() && v.Kind() != i.Ty.Kind() {
			return avm.Value{}, fmt.Errorf("%w: @%s returned %s, want %s", avm.ErrTypeMismatch, i.Callee, v.Kind(), i.Ty)
		}
		return v, nil
	}
	return avm.Value{}, fmt.Errorf("%w: %s", ErrUnsupported, i.Op)
}

func (fr *Frame) load(p avm.Value, kind avm.Kind) (avm.Value, error) {
	if p.Kind() != avm.KindPtr {
		return avm.Value{}, fmt.Errorf("%w: load through %s", avm.ErrTypeMismatch, p.Kind())
	}
	switch p.Pointer() & tagMask {
	case tagGlobal:
		return fr.run.eval.mem.LoadGlobal(uint32(p.Pointer()&^tagMask), kind)
	case 0:
		s, err := fr.run.slot(p)
		if err != nil {
			return avm.Value{}, err
		}
		v := fr.run.arena[s]
		if !v.IsValid() {
			return avm.Zero(kind), nil
		}
		if v.Kind() != kind {
			return avm.Value{}, fmt.Errorf("%w: slot holds %s, load expects %s", avm.ErrTypeMismatch, v.Kind(), kind)
		}
		return v, nil
	}
	return avm.Value{}, fmt.Errorf("%w: load through %s", ErrBadPointer, p)
}

func (fr *Frame) store(p, v avm.Value) error {
	if p.Kind() != avm.KindPtr {
		return fmt.Errorf("%w: store through %s", avm.ErrTypeMismatch, p.Kind())
	}
	switch p.Pointer() & tagMask {
	case tagGlobal:
		return fr.run.eval.mem.StoreGlobal(uint32(p.Pointer()&^tagMask), v)
	case 0:
		s, err := fr.run.slot(p)
		if err != nil {
			return err
		}
		fr.run.arena[s] = v
		return nil
	}
	return fmt.Errorf("%w: store through %s", ErrBadPointer, p)
}
