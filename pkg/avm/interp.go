package avm

import (
	"fmt"
)

// Caller dispatches CALL instructions. Implementations must be safe for
// reentrant use: a called function may itself run a program that calls back.
type Caller interface {
	Call(name string, args []Value) (Value, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(name string, args []Value) (Value, error)

// Call implements Caller.
func (f CallerFunc) Call(name string, args []Value) (Value, error) { return f(name, args) }

// GlobalMemory backs the fixed global slots addressed by Load and Store.
// It is shared between invocations, so implementations synchronize.
type GlobalMemory interface {
	LoadGlobal(addr uint32, kind Kind) (Value, error)
	StoreGlobal(addr uint32, v Value) error
}

// TraceInfo describes the interpreter state before an instruction runs.
type TraceInfo struct {
	Program string
	PC      int
	Inst    Instruction
	Depth   int
}

// DefaultArenaLimit bounds the number of scratch slots a single invocation
// may reserve.
const DefaultArenaLimit = 1 << 20

type config struct {
	caller     Caller
	globals    GlobalMemory
	stackLimit int
	arenaLimit int
	trace      func(TraceInfo)
}

// Option configures a single Execute call.
type Option func(*config)

// WithCaller sets the dispatcher used by CALL.
func WithCaller(c Caller) Option {
	return func(cfg *config) { cfg.caller = c }
}

// WithGlobals sets the memory used by Load and Store.
func WithGlobals(g GlobalMemory) Option {
	return func(cfg *config) { cfg.globals = g }
}

// WithStackLimit bounds the operand stack. Non-positive limits select
// DefaultMaxStackDepth.
func WithStackLimit(n int) Option {
	return func(cfg *config) { cfg.stackLimit = n }
}

// WithArenaLimit bounds the scratch arena, in slots.
func WithArenaLimit(n int) Option {
	return func(cfg *config) { cfg.arenaLimit = n }
}

// WithTrace installs a hook called before every instruction.
func WithTrace(fn func(TraceInfo)) Option {
	return func(cfg *config) { cfg.trace = fn }
}

// frame is the state of one invocation. Nothing in it outlives Execute.
type frame struct {
	prog  *Program
	regs  []Value
	stack []Value
	arena []Value
	cfg   config
	pc    int
}

// Execute runs p against the register file regs and returns the value
// popped by RET, or the zero Value for void programs.
//
// regs must hold at least p.RegisterCount() values; the leading
// p.ParamCount() entries are the arguments. The operand stack and scratch
// arena are private to this call, so concurrent and nested invocations are
// safe as long as each has its own register file.
func Execute(p *Program, regs []Value, opts ...Option) (Value, error) {
	if len(regs) < p.header.Registers {
		return Value{}, fmt.Errorf("avm: %s: register file has %d slots, program needs %d: %w",
			p.header.Name, len(regs), p.header.Registers, ErrBadRegister)
	}

	f := &frame{
		prog:  p,
		regs:  regs,
		stack: make([]Value, 0, 16),
		// Slot 0 is reserved so that a zero pointer never addresses memory.
		arena: make([]Value, 1, 8),
	}
	for _, opt := range opts {
		opt(&f.cfg)
	}
	if f.cfg.stackLimit <= 0 {
		f.cfg.stackLimit = DefaultMaxStackDepth
	}
	if f.cfg.arenaLimit <= 0 {
		f.cfg.arenaLimit = DefaultArenaLimit
	}
	return f.run()
}

func (f *frame) fault(err error) error {
	var op Opcode
	if f.pc < len(f.prog.code) {
		op = f.prog.code[f.pc].Opcode()
	}
	return &RuntimeError{Program: f.prog.header.Name, PC: f.pc, Op: op, Err: err}
}

func (f *frame) faultf(cause error, format string, args ...any) error {
	return f.fault(fmt.Errorf("%w: %s", cause, fmt.Sprintf(format, args...)))
}

func (f *frame) push(v Value) error {
	if len(f.stack) >= f.cfg.stackLimit {
		return f.faultf(ErrStackOverflow, "limit %d", f.cfg.stackLimit)
	}
	f.stack = append(f.stack, v)
	return nil
}

func (f *frame) pop() (Value, error) {
	n := len(f.stack)
	if n == 0 {
		return Value{}, f.fault(ErrStackUnderflow)
	}
	v := f.stack[n-1]
	f.stack = f.stack[:n-1]
	return v, nil
}

func (f *frame) pop2() (a, b Value, err error) {
	if len(f.stack) < 2 {
		return Value{}, Value{}, f.fault(ErrStackUnderflow)
	}
	n := len(f.stack)
	a, b = f.stack[n-2], f.stack[n-1]
	f.stack = f.stack[:n-2]
	return a, b, nil
}

func (f *frame) reg(r uint32) error {
	if int(r) >= len(f.regs) {
		return f.faultf(ErrBadRegister, "r%d of %d", r, len(f.regs))
	}
	return nil
}

func (f *frame) alloc(n uint64) (Value, error) {
	if n > uint64(f.cfg.arenaLimit-len(f.arena)+1) {
		return Value{}, f.faultf(ErrBadAddress, "allocation of %d slots exceeds arena limit %d", n, f.cfg.arenaLimit)
	}
	base := len(f.arena)
	for i := uint64(0); i < n; i++ {
		f.arena = append(f.arena, Value{})
	}
	return PtrValue(uint64(base)), nil
}

func (f *frame) slot(ptr Value) (int, error) {
	if ptr.Kind() != KindPtr {
		return 0, f.faultf(ErrTypeMismatch, "address operand is %s", ptr.Kind())
	}
	addr := ptr.Pointer()
	if addr == 0 || addr >= uint64(len(f.arena)) {
		return 0, f.faultf(ErrBadAddress, "0x%x", addr)
	}
	return int(addr), nil
}

func (f *frame) run() (Value, error) {
	code := f.prog.code

	for f.pc = 0; f.pc < len(code); f.pc++ {
		inst := code[f.pc]
		if f.cfg.trace != nil {
			f.cfg.trace(TraceInfo{Program: f.prog.header.Name, PC: f.pc, Inst: inst, Depth: len(f.stack)})
		}

		switch i := inst.(type) {
		// -----------------------------------------------------------------
		// Stack manipulation
		// -----------------------------------------------------------------
		case Nop:

		case Pop:
			if _, err := f.pop(); err != nil {
				return Value{}, err
			}

		case Dup:
			if len(f.stack) == 0 {
				return Value{}, f.fault(ErrStackUnderflow)
			}
			if err := f.push(f.stack[len(f.stack)-1]); err != nil {
				return Value{}, err
			}

		case Swap:
			n := len(f.stack)
			if n < 2 {
				return Value{}, f.fault(ErrStackUnderflow)
			}
			f.stack[n-1], f.stack[n-2] = f.stack[n-2], f.stack[n-1]

		case Push:
			if err := f.push(i.Value); err != nil {
				return Value{}, err
			}

		// -----------------------------------------------------------------
		// Registers
		// -----------------------------------------------------------------
		case PopToReg:
			if err := f.reg(i.Reg); err != nil {
				return Value{}, err
			}
			v, err := f.pop()
			if err != nil {
				return Value{}, err
			}
			f.regs[i.Reg] = v

		case PushFromReg:
			if err := f.reg(i.Reg); err != nil {
				return Value{}, err
			}
			if err := f.push(f.regs[i.Reg]); err != nil {
				return Value{}, err
			}

		case ClearReg:
			if err := f.reg(i.Reg); err != nil {
				return Value{}, err
			}
			f.regs[i.Reg] = Zero(f.regs[i.Reg].Kind())

		// -----------------------------------------------------------------
		// Memory
		// -----------------------------------------------------------------
		case Alloca:
			p, err := f.alloc(uint64(i.Size))
			if err != nil {
				return Value{}, err
			}
			if err := f.push(p); err != nil {
				return Value{}, err
			}

		case Alloca2:
			n, err := f.pop()
			if err != nil {
				return Value{}, err
			}
			if !n.IsInt() {
				return Value{}, f.faultf(ErrTypeMismatch, "allocation size is %s", n.Kind())
			}
			// The count is unsigned; the arena limit rejects huge sizes.
			p, err := f.alloc(n.Uint())
			if err != nil {
				return Value{}, err
			}
			if err := f.push(p); err != nil {
				return Value{}, err
			}

		case StoreValue:
			v, ptr, err := f.pop2()
			if err != nil {
				return Value{}, err
			}
			s, err := f.slot(ptr)
			if err != nil {
				return Value{}, err
			}
			f.arena[s] = v

		case LoadValue:
			ptr, err := f.pop()
			if err != nil {
				return Value{}, err
			}
			s, err := f.slot(ptr)
			if err != nil {
				return Value{}, err
			}
			v := f.arena[s]
			switch {
			case !v.IsValid():
				v = Zero(i.Kind)
			case v.Kind() != i.Kind:
				return Value{}, f.faultf(ErrTypeMismatch, "slot holds %s, load expects %s", v.Kind(), i.Kind)
			}
			if err := f.push(v); err != nil {
				return Value{}, err
			}

		case Store:
			if f.cfg.globals == nil {
				return Value{}, f.faultf(ErrBadGlobal, "no global memory for @%d", i.Addr)
			}
			v, err := f.pop()
			if err != nil {
				return Value{}, err
			}
			if err := f.cfg.globals.StoreGlobal(i.Addr, v); err != nil {
				return Value{}, f.fault(fmt.Errorf("%w: %v", ErrBadGlobal, err))
			}

		case Load:
			if f.cfg.globals == nil {
				return Value{}, f.faultf(ErrBadGlobal, "no global memory for @%d", i.Addr)
			}
			v, err := f.cfg.globals.LoadGlobal(i.Addr, i.Kind)
			if err != nil {
				return Value{}, f.fault(fmt.Errorf("%w: %v", ErrBadGlobal, err))
			}
			if v.Kind() != i.Kind {
				return Value{}, f.faultf(ErrTypeMismatch, "global @%d holds %s, load expects %s", i.Addr, v.Kind(), i.Kind)
			}
			if err := f.push(v); err != nil {
				return Value{}, err
			}

		// -----------------------------------------------------------------
		// Arithmetic, bitwise, comparison
		// -----------------------------------------------------------------
		case Add, Sub, Mul, Div, Rem, And, Or, Xor, Shl, LShr, AShr, ICmp, FCmp:
			a, b, err := f.pop2()
			if err != nil {
				return Value{}, err
			}
			r, err := arith(inst, a, b)
			if err != nil {
				return Value{}, f.fault(err)
			}
			if err := f.push(r); err != nil {
				return Value{}, err
			}

		case Select:
			if len(f.stack) < 3 {
				return Value{}, f.fault(ErrStackUnderflow)
			}
			n := len(f.stack)
			c, a, b := f.stack[n-3], f.stack[n-2], f.stack[n-1]
			f.stack = f.stack[:n-3]
			if c.Kind() != KindBool {
				return Value{}, f.faultf(ErrTypeMismatch, "select condition is %s", c.Kind())
			}
			if a.Kind() != b.Kind() {
				return Value{}, f.faultf(ErrTypeMismatch, "select arms are %s and %s", a.Kind(), b.Kind())
			}
			r := b
			if c.Bool() {
				r = a
			}
			if err := f.push(r); err != nil {
				return Value{}, err
			}

		case Cast:
			v, err := f.pop()
			if err != nil {
				return Value{}, err
			}
			r, err := convert(i.Op, v, i.To)
			if err != nil {
				return Value{}, f.fault(err)
			}
			if err := f.push(r); err != nil {
				return Value{}, err
			}

		// -----------------------------------------------------------------
		// Guards
		// -----------------------------------------------------------------
		case TypeCheckInt:
			if len(f.stack) == 0 {
				return Value{}, f.fault(ErrStackUnderflow)
			}
			v := f.stack[len(f.stack)-1]
			if !(v.IsInt() || v.IsFloat()) || v.Kind().LogicalBits() != int(i.Width) {
				return Value{}, f.faultf(ErrTypeMismatch, "expected %d-bit scalar, got %s", i.Width, v.Kind())
			}

		// -----------------------------------------------------------------
		// Calls and return
		// -----------------------------------------------------------------
		case Call:
			if f.cfg.caller == nil {
				return Value{}, f.faultf(ErrNoCaller, "@%s", i.Callee)
			}
			argc := int(i.Argc)
			if len(f.stack) < argc {
				return Value{}, f.fault(ErrStackUnderflow)
			}
			args := make([]Value, argc)
			copy(args, f.stack[len(f.stack)-argc:])
			f.stack = f.stack[:len(f.stack)-argc]

			r, err := f.cfg.caller.Call(i.Callee, args)
			if err != nil {
				return Value{}, f.fault(fmt.Errorf("call @%s: %w", i.Callee, err))
			}
			if i.Result == KindInvalid {
				continue
			}
			if r.Kind() != i.Result {
				return Value{}, f.faultf(ErrTypeMismatch, "@%s returned %s, want %s", i.Callee, r.Kind(), i.Result)
			}
			if err := f.push(r); err != nil {
				return Value{}, err
			}

		case Ret:
			want := f.prog.header.Returns
			if want == KindInvalid {
				return Value{}, nil
			}
			v, err := f.pop()
			if err != nil {
				return Value{}, err
			}
			if v.Kind() != want {
				return Value{}, f.faultf(ErrTypeMismatch, "returned %s, want %s", v.Kind(), want)
			}
			return v, nil

		default:
			return Value{}, f.faultf(ErrBadInstruction, "%T", inst)
		}
	}

	return Value{}, f.fault(ErrNoReturn)
}
