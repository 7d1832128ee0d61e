package avm

import (
	"fmt"
	"strconv"
)

// Instruction is a single bytecode operation. The set of implementations is
// closed: every concrete type lives in this file, and consumers switch over
// them exhaustively.
type Instruction interface {
	// Opcode returns the binary opcode of the instruction.
	Opcode() Opcode
	// String renders the instruction for listings.
	String() string

	isInstruction()
}

var (
	_ Instruction = Nop{}
	_ Instruction = Pop{}
	_ Instruction = Dup{}
	_ Instruction = Swap{}
	_ Instruction = Push{}
	_ Instruction = PopToReg{}
	_ Instruction = PushFromReg{}
	_ Instruction = ClearReg{}
	_ Instruction = Alloca{}
	_ Instruction = Alloca2{}
	_ Instruction = StoreValue{}
	_ Instruction = LoadValue{}
	_ Instruction = Store{}
	_ Instruction = Load{}
	_ Instruction = Add{}
	_ Instruction = Sub{}
	_ Instruction = Mul{}
	_ Instruction = Div{}
	_ Instruction = Rem{}
	_ Instruction = And{}
	_ Instruction = Or{}
	_ Instruction = Xor{}
	_ Instruction = Shl{}
	_ Instruction = LShr{}
	_ Instruction = AShr{}
	_ Instruction = ICmp{}
	_ Instruction = FCmp{}
	_ Instruction = Select{}
	_ Instruction = Cast{}
	_ Instruction = TypeCheckInt{}
	_ Instruction = Call{}
	_ Instruction = Ret{}
)

// ---------------------------------------------------------------------------
// Stack manipulation
// ---------------------------------------------------------------------------

// Nop has no effect. It is used for padding and polymorphic encodings.
type Nop struct{}

// Pop discards the top of the stack.
type Pop struct{}

// Dup duplicates the top of the stack.
type Dup struct{}

// Swap exchanges the top two stack elements.
type Swap struct{}

// Push pushes a literal.
type Push struct {
	Value Value
}

// ---------------------------------------------------------------------------
// Registers
// ---------------------------------------------------------------------------

// PopToReg pops the top of the stack into register Reg.
type PopToReg struct {
	Reg uint32
}

// PushFromReg pushes a copy of register Reg.
type PushFromReg struct {
	Reg uint32
}

// ClearReg resets register Reg to the zero value.
type ClearReg struct {
	Reg uint32
}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

// Alloca reserves Size arena slots and pushes the base address.
type Alloca struct {
	Size uint32
}

// Alloca2 pops a slot count and pushes the base address of a fresh block.
type Alloca2 struct{}

// StoreValue pops a pointer (top) and a value and writes the value at the
// pointer.
type StoreValue struct{}

// LoadValue pops a pointer and pushes the value stored there. Kind is the
// expected kind of the slot; uninitialized slots read as Zero(Kind).
type LoadValue struct {
	Kind Kind
}

// Store pops a value into the fixed global slot Addr.
type Store struct {
	Addr uint32
}

// Load pushes the value of the fixed global slot Addr.
type Load struct {
	Addr uint32
	Kind Kind
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// Add pops b then a and pushes a+b. With nsw a signed overflow traps; with
// nuw an unsigned overflow traps. The flags are exclusive; use NewAdd to
// build a flagged Add. The zero Add wraps.
type Add struct {
	nsw bool
	nuw bool
}

// NewAdd builds an Add. Setting both flags is a ConstructionError.
func NewAdd(nsw, nuw bool) (Add, error) {
	if nsw && nuw {
		return Add{}, &ConstructionError{Op: OpAdd, Reason: "nsw and nuw are mutually exclusive"}
	}
	return Add{nsw: nsw, nuw: nuw}, nil
}

// NSW reports whether signed overflow traps.
func (a Add) NSW() bool { return a.nsw }

// NUW reports whether unsigned overflow traps.
func (a Add) NUW() bool { return a.nuw }

// Sub pops b then a and pushes a-b, wrapping.
type Sub struct{}

// Mul pops b then a and pushes a*b, wrapping.
type Mul struct{}

// Div pops b then a and pushes a/b. Unsigned selects udiv for integers.
type Div struct {
	Unsigned bool
}

// Rem pops b then a and pushes the remainder of a/b.
type Rem struct {
	Unsigned bool
}

// And, Or, Xor and the shifts operate on integer and bool operands.
type (
	And  struct{}
	Or   struct{}
	Xor  struct{}
	Shl  struct{}
	LShr struct{}
	AShr struct{}
)

// ---------------------------------------------------------------------------
// Comparison and conversion
// ---------------------------------------------------------------------------

// ICmp compares two integers (or pointers) and pushes a bool.
type ICmp struct {
	Pred IntPredicate
}

// FCmp compares two floats and pushes a bool.
type FCmp struct {
	Pred FloatPredicate
}

// Select pops b, a and cond and pushes cond ? a : b.
type Select struct{}

// Cast converts the top of the stack to kind To using Op.
type Cast struct {
	Op CastOp
	To Kind
}

// TypeCheckInt verifies the top of the stack is an integer or float of
// exactly Width bits and leaves it in place.
type TypeCheckInt struct {
	Width uint8
}

// Call pops Argc arguments (the first argument deepest) and invokes Callee
// through the interpreter's Caller. Unless Result is KindInvalid the return
// value is pushed.
type Call struct {
	Callee string
	Argc   uint8
	Result Kind
}

// Ret pops the return value and halts. Programs that return nothing halt
// without popping.
type Ret struct{}

// ---------------------------------------------------------------------------
// Opcode and isInstruction
// ---------------------------------------------------------------------------

func (Nop) Opcode() Opcode          { return OpNop }
func (Pop) Opcode() Opcode          { return OpPop }
func (Dup) Opcode() Opcode          { return OpDup }
func (Swap) Opcode() Opcode         { return OpSwap }
func (Push) Opcode() Opcode         { return OpPush }
func (PopToReg) Opcode() Opcode     { return OpPopToReg }
func (PushFromReg) Opcode() Opcode  { return OpPushFromReg }
func (ClearReg) Opcode() Opcode     { return OpClearReg }
func (Alloca) Opcode() Opcode       { return OpAlloca }
func (Alloca2) Opcode() Opcode      { return OpAlloca2 }
func (StoreValue) Opcode() Opcode   { return OpStoreValue }
func (LoadValue) Opcode() Opcode    { return OpLoadValue }
func (Store) Opcode() Opcode        { return OpStore }
func (Load) Opcode() Opcode         { return OpLoad }
func (Add) Opcode() Opcode          { return OpAdd }
func (Sub) Opcode() Opcode          { return OpSub }
func (Mul) Opcode() Opcode          { return OpMul }
func (Div) Opcode() Opcode          { return OpDiv }
func (Rem) Opcode() Opcode          { return OpRem }
func (And) Opcode() Opcode          { return OpAnd }
func (Or) Opcode() Opcode           { return OpOr }
func (Xor) Opcode() Opcode          { return OpXor }
func (Shl) Opcode() Opcode          { return OpShl }
func (LShr) Opcode() Opcode         { return OpLShr }
func (AShr) Opcode() Opcode         { return OpAShr }
func (ICmp) Opcode() Opcode         { return OpICmp }
func (FCmp) Opcode() Opcode         { return OpFCmp }
func (Select) Opcode() Opcode       { return OpSelect }
func (Cast) Opcode() Opcode         { return OpCast }
func (TypeCheckInt) Opcode() Opcode { return OpTypeCheckInt }
func (Call) Opcode() Opcode         { return OpCall }
func (Ret) Opcode() Opcode          { return OpRet }

func (Nop) isInstruction()          {}
func (Pop) isInstruction()          {}
func (Dup) isInstruction()          {}
func (Swap) isInstruction()         {}
func (Push) isInstruction()         {}
func (PopToReg) isInstruction()     {}
func (PushFromReg) isInstruction()  {}
func (ClearReg) isInstruction()     {}
func (Alloca) isInstruction()       {}
func (Alloca2) isInstruction()      {}
func (StoreValue) isInstruction()   {}
func (LoadValue) isInstruction()    {}
func (Store) isInstruction()        {}
func (Load) isInstruction()         {}
func (Add) isInstruction()          {}
func (Sub) isInstruction()          {}
func (Mul) isInstruction()          {}
func (Div) isInstruction()          {}
func (Rem) isInstruction()          {}
func (And) isInstruction()          {}
func (Or) isInstruction()           {}
func (Xor) isInstruction()          {}
func (Shl) isInstruction()          {}
func (LShr) isInstruction()         {}
func (AShr) isInstruction()         {}
func (ICmp) isInstruction()         {}
func (FCmp) isInstruction()         {}
func (Select) isInstruction()       {}
func (Cast) isInstruction()         {}
func (TypeCheckInt) isInstruction() {}
func (Call) isInstruction()         {}
func (Ret) isInstruction()          {}

// ---------------------------------------------------------------------------
// Listings
// ---------------------------------------------------------------------------

func (i Nop) String() string     { return OpNop.String() }
func (i Pop) String() string     { return OpPop.String() }
func (i Dup) String() string     { return OpDup.String() }
func (i Swap) String() string    { return OpSwap.String() }
func (i Alloca2) String() string { return OpAlloca2.String() }
func (i Sub) String() string     { return OpSub.String() }
func (i Mul) String() string     { return OpMul.String() }
func (i And) String() string     { return OpAnd.String() }
func (i Or) String() string      { return OpOr.String() }
func (i Xor) String() string     { return OpXor.String() }
func (i Shl) String() string     { return OpShl.String() }
func (i LShr) String() string    { return OpLShr.String() }
func (i AShr) String() string    { return OpAShr.String() }
func (i Select) String() string  { return OpSelect.String() }
func (i Ret) String() string     { return OpRet.String() }

func (i StoreValue) String() string { return OpStoreValue.String() }

func (i Push) String() string        { return "PUSH " + i.Value.String() }
func (i PopToReg) String() string    { return "POP_TO_REG r" + strconv.Itoa(int(i.Reg)) }
func (i PushFromReg) String() string { return "PUSH_FROM_REG r" + strconv.Itoa(int(i.Reg)) }
func (i ClearReg) String() string    { return "CLEAR_REG r" + strconv.Itoa(int(i.Reg)) }
func (i Alloca) String() string      { return "ALLOCA " + strconv.Itoa(int(i.Size)) }
func (i LoadValue) String() string   { return "LOAD_VALUE " + i.Kind.String() }
func (i Store) String() string       { return fmt.Sprintf("STORE @%d", i.Addr) }
func (i Load) String() string        { return fmt.Sprintf("LOAD @%d %s", i.Addr, i.Kind) }

func (i Add) String() string {
	switch {
	case i.nsw:
		return "ADD nsw"
	case i.nuw:
		return "ADD nuw"
	}
	return "ADD"
}

func (i Div) String() string {
	if i.Unsigned {
		return "DIV unsigned"
	}
	return "DIV"
}

func (i Rem) String() string {
	if i.Unsigned {
		return "REM unsigned"
	}
	return "REM"
}

func (i ICmp) String() string         { return "ICMP " + i.Pred.String() }
func (i FCmp) String() string         { return "FCMP " + i.Pred.String() }
func (i Cast) String() string         { return fmt.Sprintf("CAST %s %s", i.Op, i.To) }
func (i TypeCheckInt) String() string { return fmt.Sprintf("TYPE_CHECK_INT %d", i.Width) }

func (i Call) String() string {
	if i.Result == KindInvalid {
		return fmt.Sprintf("CALL @%s/%d", i.Callee, i.Argc)
	}
	return fmt.Sprintf("CALL @%s/%d -> %s", i.Callee, i.Argc, i.Result)
}

// ---------------------------------------------------------------------------
// Stack effects
// ---------------------------------------------------------------------------

// StackEffect returns how many values inst pops and pushes. Call is the only
// instruction whose effect depends on its operands.
func StackEffect(inst Instruction) (pops, pushes int) {
	if c, ok := inst.(Call); ok {
		if c.Result == KindInvalid {
			return int(c.Argc), 0
		}
		return int(c.Argc), 1
	}
	info := GetOpcodeInfo(inst.Opcode())
	return info.StackPop, info.StackPush
}
