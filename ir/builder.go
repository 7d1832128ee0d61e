package ir

import "github.com/chazu/veil/pkg/avm"

// Builder appends instructions to a block. Result types are derived from
// the operands; the verifier reports misuse.
type Builder struct {
	block *Block
}

// NewBuilder creates a builder positioned at the end of b.
func NewBuilder(b *Block) *Builder {
	return &Builder{block: b}
}

// SetBlock moves the insertion point to the end of b.
func (b *Builder) SetBlock(blk *Block) { b.block = blk }

// Block returns the current insertion block.
func (b *Builder) Block() *Block { return b.block }

func (b *Builder) emit(i *Instr) *Instr {
	return b.block.Append(i)
}

// Binary emits a binary arithmetic or bitwise instruction.
func (b *Builder) Binary(op Opcode, name string, x, y Value) *Instr {
	return b.emit(&Instr{Op: op, Name: name, Ty: x.Type(), Operands: []Value{x, y}})
}

// Add emits an integer add with optional wrap flags.
func (b *Builder) Add(name string, x, y Value, nsw, nuw bool) *Instr {
	i := b.Binary(OpAdd, name, x, y)
	i.NSW, i.NUW = nsw, nuw
	return i
}

// ICmp emits an integer comparison.
func (b *Builder) ICmp(name string, pred avm.IntPredicate, x, y Value) *Instr {
	return b.emit(&Instr{Op: OpICmp, Name: name, Ty: TypeI1, IPred: pred, Operands: []Value{x, y}})
}

// FCmp emits a floating-point comparison.
func (b *Builder) FCmp(name string, pred avm.FloatPredicate, x, y Value) *Instr {
	return b.emit(&Instr{Op: OpFCmp, Name: name, Ty: TypeI1, FPred: pred, Operands: []Value{x, y}})
}

// Select emits cond ? x : y.
func (b *Builder) Select(name string, cond, x, y Value) *Instr {
	return b.emit(&Instr{Op: OpSelect, Name: name, Ty: x.Type(), Operands: []Value{cond, x, y}})
}

// Cast emits a conversion of v to type to.
func (b *Builder) Cast(op Opcode, name string, v Value, to Type) *Instr {
	return b.emit(&Instr{Op: op, Name: name, Ty: to, Operands: []Value{v}})
}

// Alloca reserves stack storage for elem. A nil count reserves one element.
func (b *Builder) Alloca(name string, elem Type, count Value) *Instr {
	i := &Instr{Op: OpAlloca, Name: name, Ty: TypePtr, ElemTy: elem}
	if count != nil {
		i.Operands = []Value{count}
	}
	return b.emit(i)
}

// Load reads a value of type t through ptr.
func (b *Builder) Load(name string, t Type, ptr Value) *Instr {
	return b.emit(&Instr{Op: OpLoad, Name: name, Ty: t, ElemTy: t, Operands: []Value{ptr}})
}

// Store writes v through ptr.
func (b *Builder) Store(v, ptr Value) *Instr {
	return b.emit(&Instr{Op: OpStore, Operands: []Value{v, ptr}})
}

// Call emits a direct call. Calls returning void get no name.
func (b *Builder) Call(name string, ret Type, callee string, args ...Value) *Instr {
	if ret == TypeVoid {
		name = ""
	}
	return b.emit(&Instr{Op: OpCall, Name: name, Ty: ret, Callee: callee, Operands: args})
}

// Ret returns v, or nothing when v is nil.
func (b *Builder) Ret(v Value) *Instr {
	i := &Instr{Op: OpRet}
	if v != nil {
		i.Operands = []Value{v}
	}
	return b.emit(i)
}

// Br emits an unconditional branch.
func (b *Builder) Br(target *Block) *Instr {
	return b.emit(&Instr{Op: OpBr, Targets: []*Block{target}})
}

// CondBr emits a two-way branch on cond.
func (b *Builder) CondBr(cond Value, then, els *Block) *Instr {
	return b.emit(&Instr{Op: OpBr, Operands: []Value{cond}, Targets: []*Block{then, els}})
}

// Switch emits a multi-way branch.
func (b *Builder) Switch(v Value, def *Block, cases ...SwitchCase) *Instr {
	return b.emit(&Instr{Op: OpSwitch, Operands: []Value{v}, Targets: []*Block{def}, Cases: cases})
}

// Phi emits a phi node. It must come before any non-phi in its block.
func (b *Builder) Phi(name string, t Type, in ...Incoming) *Instr {
	return b.emit(&Instr{Op: OpPhi, Name: name, Ty: t, Incoming: in})
}

// Unreachable marks the end of a block that is never reached.
func (b *Builder) Unreachable() *Instr {
	return b.emit(&Instr{Op: OpUnreachable})
}

// Exceptional emits one of the exception-handling or indirect control-flow
// instructions. Its operands are carried as raw text.
func (b *Builder) Exceptional(op Opcode, name string, t Type, raw string, targets ...*Block) *Instr {
	return b.emit(&Instr{Op: op, Name: name, Ty: t, Raw: raw, Targets: targets})
}
