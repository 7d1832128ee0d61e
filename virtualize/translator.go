package virtualize

import (
	"errors"
	"fmt"
	"math"

	"github.com/chazu/veil/ir"
	"github.com/chazu/veil/pkg/avm"
)

// Translation failure causes.
var (
	ErrUnsupportedInstruction = errors.New("unsupported instruction")
	ErrUnresolvedOperand      = errors.New("operand has no register")
	ErrUnresolvedPointer      = errors.New("pointer cannot be resolved")
	ErrEscapingPointer        = errors.New("local pointer escapes")
	ErrTooManyArguments       = errors.New("too many call arguments")
	ErrMissingReturn          = errors.New("function does not end in ret")
)

// TranslationError reports a source instruction that could not be
// translated. The function it belongs to is left untouched.
type TranslationError struct {
	Function    string
	Instruction string // identity of the instruction within the function
	Text        string // the instruction as written
	Reason      string
	Err         error
}

func (e *TranslationError) Error() string {
	msg := fmt.Sprintf("translate @%s", e.Function)
	if e.Instruction != "" {
		msg += ": " + e.Instruction
	}
	if e.Text != "" {
		msg += " (" + e.Text + ")"
	}
	return msg + ": " + e.Reason
}

func (e *TranslationError) Unwrap() error { return e.Err }

// Translate emits the bytecode for one source instruction. Instructions
// must be translated in program order.
func (c *Context) Translate(i *ir.Instr) error {
	if err := c.translate(i); err != nil {
		return &TranslationError{
			Function:    c.Fn.Name,
			Instruction: i.Ident(),
			Text:        i.String(),
			Reason:      err.Error(),
			Err:         err,
		}
	}
	c.translated++
	return nil
}

func (c *Context) translate(i *ir.Instr) error {
	if n := len(c.code); n > 0 && c.code[n-1].Opcode() == avm.OpRet {
		return fmt.Errorf("%w: code after ret", ErrUnsupportedInstruction)
	}

	switch op := i.Op; {
	case checkedAdd(i):
		if err := c.translateCheckedAdd(i); err != nil {
			return err
		}

	case op.IsBinary():
		inst, err := ir.ArithInstruction(op, i.NSW, i.NUW)
		if err != nil {
			return err
		}
		if err := c.pushPair(i); err != nil {
			return err
		}
		c.emit(inst)

	case op == ir.OpICmp:
		if err := c.pushPair(i); err != nil {
			return err
		}
		c.emit(avm.ICmp{Pred: i.IPred})

	case op == ir.OpFCmp:
		if err := c.pushPair(i); err != nil {
			return err
		}
		c.emit(avm.FCmp{Pred: i.FPred})

	case op == ir.OpSelect:
		if err := c.push(i.Operands...); err != nil {
			return err
		}
		c.emit(avm.Select{})

	case op.IsCast():
		cop, _ := op.CastOp()
		if err := c.push(i.Operands[0]); err != nil {
			return err
		}
		c.emit(avm.Cast{Op: cop, To: i.Ty.Kind()})

	case op == ir.OpAlloca:
		if err := c.translateAlloca(i); err != nil {
			return err
		}

	case op == ir.OpLoad:
		if err := c.translateLoad(i); err != nil {
			return err
		}

	case op == ir.OpStore:
		if err := c.translateStore(i); err != nil {
			return err
		}

	case op == ir.OpCall:
		if err := c.translateCall(i); err != nil {
			return err
		}

	case op == ir.OpRet:
		if err := c.push(i.Operands...); err != nil {
			return err
		}
		c.emit(avm.Ret{})

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedInstruction, op)
	}

	if c.stacked != nil {
		return fmt.Errorf("%s left on the operand stack", c.stacked.Ref())
	}
	return c.bind(i)
}

// bind disposes of the result of i, which is on top of the stack.
func (c *Context) bind(i *ir.Instr) error {
	if !i.HasResult() {
		return nil
	}
	uses := c.users[i]
	switch {
	case len(uses) == 0:
		c.emit(avm.Pop{})
	case c.forwardable(i, uses):
		c.stacked = i
	default:
		r, err := c.Regs.AllocateOrGet(i, false)
		if err != nil {
			return err
		}
		c.emit(avm.PopToReg{Reg: uint32(r)})
	}
	return nil
}

// forwardable reports whether the result of i can stay on the stack: its
// only reader is the next instruction and consumes it first, or as the
// right operand of a binary operation.
func (c *Context) forwardable(i *ir.Instr, uses []ir.Use) bool {
	if len(uses) != 1 {
		return false
	}
	u := uses[0]
	if u.Instr != c.next(i) {
		return false
	}
	switch u.Index {
	case 0:
		return u.Instr.Op != ir.OpPhi && !checkedAdd(u.Instr)
	case 1:
		op := u.Instr.Op
		return (op.IsBinary() && !checkedAdd(u.Instr)) || op == ir.OpICmp || op == ir.OpFCmp
	}
	return false
}

func (c *Context) next(i *ir.Instr) *ir.Instr {
	if i.Parent == nil {
		return nil
	}
	instrs := i.Parent.Instrs
	for n, x := range instrs {
		if x == i && n+1 < len(instrs) {
			return instrs[n+1]
		}
	}
	return nil
}

// checkedAdd reports whether i is an add that traps on both signed and
// unsigned overflow.
func checkedAdd(i *ir.Instr) bool {
	return i.Op == ir.OpAdd && i.NSW && i.NUW
}

// translateCheckedAdd emits an add carrying both overflow flags as two
// adds, since no single Add may hold both. The signed add runs first and
// its result is dropped; the unsigned add produces the value. Operands
// are read twice, so neither may be forwarded on the stack.
func (c *Context) translateCheckedAdd(i *ir.Instr) error {
	signed, err := avm.NewAdd(true, false)
	if err != nil {
		return err
	}
	unsigned, err := avm.NewAdd(false, true)
	if err != nil {
		return err
	}
	x, y := i.Operands[0], i.Operands[1]
	if err := c.push(x, y); err != nil {
		return err
	}
	c.emit(signed, avm.Pop{})
	if err := c.push(x, y); err != nil {
		return err
	}
	c.emit(unsigned)
	return nil
}

// pushPair pushes the two operands of a binary operation or comparison.
func (c *Context) pushPair(i *ir.Instr) error {
	x, y := i.Operands[0], i.Operands[1]
	if c.stacked != nil && c.stacked == y {
		// y is already on the stack; bring x underneath it.
		c.stacked = nil
		if err := c.push(x); err != nil {
			return err
		}
		c.emit(avm.Swap{})
		return nil
	}
	return c.push(x, y)
}

// push emits code that leaves the values on the stack, left to right.
func (c *Context) push(vals ...ir.Value) error {
	for _, v := range vals {
		if c.locals[v] {
			return fmt.Errorf("%w: %s", ErrEscapingPointer, v.Ref())
		}
		switch x := v.(type) {
		case *ir.Const:
			c.emit(avm.Push{Value: x.Val})
		case *ir.Param, *ir.Instr:
			if err := c.pushValue(v); err != nil {
				return err
			}
		case *ir.Global:
			return fmt.Errorf("%w: global %s used as a value", ErrUnresolvedPointer, x.Ref())
		default:
			return fmt.Errorf("%w: %T", ErrUnresolvedOperand, v)
		}
	}
	return nil
}

func (c *Context) pushValue(v ir.Value) error {
	if c.stacked != nil && c.stacked == v {
		c.stacked = nil
		return nil
	}
	r, ok := c.Regs.Lookup(v)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnresolvedOperand, v.Ref())
	}
	c.emit(avm.PushFromReg{Reg: uint32(r)})
	return nil
}

// address classifies the pointer operand of a load or store.
func (c *Context) address(p ir.Value) (global *ir.Global, local bool, err error) {
	switch x := p.(type) {
	case *ir.Global:
		if !x.IsScalar() {
			return nil, false, fmt.Errorf("%w: %s is not a scalar global", ErrUnresolvedPointer, x.Ref())
		}
		if c.Fn.Module == nil || c.Fn.Module.GlobalIndex(x) < 0 {
			return nil, false, fmt.Errorf("%w: %s is not in the module", ErrUnresolvedPointer, x.Ref())
		}
		return x, false, nil
	default:
		if c.locals[p] {
			return nil, true, nil
		}
	}
	return nil, false, fmt.Errorf("%w: %s", ErrUnresolvedPointer, p.Ref())
}

func (c *Context) translateAlloca(i *ir.Instr) error {
	if !i.ElemTy.IsScalar() {
		return fmt.Errorf("%w: alloca of %s", ErrUnsupportedInstruction, i.ElemTy)
	}
	switch {
	case len(i.Operands) == 0:
		c.emit(avm.Alloca{Size: 1})
	default:
		if k, ok := i.Operands[0].(*ir.Const); ok && k.Val.Uint() <= math.MaxUint32 {
			c.emit(avm.Alloca{Size: uint32(k.Val.Uint())})
			break
		}
		if err := c.push(i.Operands[0]); err != nil {
			return err
		}
		c.emit(avm.Alloca2{})
	}
	c.locals[i] = true
	return nil
}

func (c *Context) translateLoad(i *ir.Instr) error {
	p := i.Operands[0]
	g, local, err := c.address(p)
	if err != nil {
		return err
	}
	kind := i.Ty.Kind()
	if local {
		if err := c.pushValue(p); err != nil {
			return err
		}
		c.emit(avm.LoadValue{Kind: kind})
		return nil
	}
	c.emit(avm.Load{Addr: uint32(c.Fn.Module.GlobalIndex(g)), Kind: kind})
	return nil
}

func (c *Context) translateStore(i *ir.Instr) error {
	v, p := i.Operands[0], i.Operands[1]
	g, local, err := c.address(p)
	if err != nil {
		return err
	}
	if err := c.push(v); err != nil {
		return err
	}
	if local {
		if err := c.pushValue(p); err != nil {
			return err
		}
		c.emit(avm.StoreValue{})
		return nil
	}
	c.emit(avm.Store{Addr: uint32(c.Fn.Module.GlobalIndex(g))})
	return nil
}

func (c *Context) translateCall(i *ir.Instr) error {
	if i.Callee == "" {
		return fmt.Errorf("%w: indirect call", ErrUnsupportedInstruction)
	}
	if len(i.Operands) > math.MaxUint8 {
		return fmt.Errorf("%w: %d", ErrTooManyArguments, len(i.Operands))
	}
	if err := c.push(i.Operands...); err != nil {
		return err
	}
	c.emit(avm.Call{Callee: i.Callee, Argc: uint8(len(i.Operands)), Result: i.Ty.Kind()})
	return nil
}

// TranslateFunction translates every instruction of the context's function
// and applies the instrumentation selected by its flags. The Program is
// cached on the context.
func TranslateFunction(c *Context) (*avm.Program, error) {
	if c.program != nil {
		return c.program, nil
	}
	for _, b := range c.Fn.Blocks {
		for _, i := range b.Instrs {
			if err := c.Translate(i); err != nil {
				return nil, err
			}
		}
	}
	if n := len(c.code); n == 0 || c.code[n-1].Opcode() != avm.OpRet {
		return nil, &TranslationError{Function: c.Fn.Name, Reason: ErrMissingReturn.Error(), Err: ErrMissingReturn}
	}

	code, pflags := instrument(c)
	c.program = avm.NewProgram(avm.Header{
		Name:      c.Fn.Name,
		Registers: c.Regs.Count(),
		Params:    c.Regs.Params(),
		Returns:   c.Fn.Ret.Kind(),
		Flags:     pflags,
	}, code)
	return c.program, nil
}
