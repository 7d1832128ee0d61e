package ir

import (
	"strconv"

	"github.com/chazu/veil/pkg/avm"
)

// Opcode identifies an IR instruction.
type Opcode uint8

const (
	OpInvalid Opcode = iota

	// Binary arithmetic
	OpAdd
	OpSub
	OpMul
	OpSDiv
	OpUDiv
	OpSRem
	OpURem
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFRem

	// Bitwise
	OpAnd
	OpOr
	OpXor
	OpShl
	OpLShr
	OpAShr

	// Comparison and selection
	OpICmp
	OpFCmp
	OpSelect

	// Conversions
	OpTrunc
	OpZExt
	OpSExt
	OpFPTrunc
	OpFPExt
	OpFPToSI
	OpFPToUI
	OpSIToFP
	OpUIToFP
	OpPtrToInt
	OpIntToPtr
	OpBitcast

	// Memory
	OpAlloca
	OpLoad
	OpStore

	// Calls
	OpCall

	// Control flow
	OpRet
	OpBr
	OpSwitch
	OpPhi
	OpUnreachable

	// Indirect and exceptional control flow
	OpIndirectBr
	OpInvoke
	OpCallBr
	OpResume
	OpCatchPad
	OpCatchRet
	OpCatchSwitch
	OpCleanupPad
	OpCleanupRet

	opCount
)

var opcodeNames = [...]string{
	OpInvalid:     "invalid",
	OpAdd:         "add",
	OpSub:         "sub",
	OpMul:         "mul",
	OpSDiv:        "sdiv",
	OpUDiv:        "udiv",
	OpSRem:        "srem",
	OpURem:        "urem",
	OpFAdd:        "fadd",
	OpFSub:        "fsub",
	OpFMul:        "fmul",
	OpFDiv:        "fdiv",
	OpFRem:        "frem",
	OpAnd:         "and",
	OpOr:          "or",
	OpXor:         "xor",
	OpShl:         "shl",
	OpLShr:        "lshr",
	OpAShr:        "ashr",
	OpICmp:        "icmp",
	OpFCmp:        "fcmp",
	OpSelect:      "select",
	OpTrunc:       "trunc",
	OpZExt:        "zext",
	OpSExt:        "sext",
	OpFPTrunc:     "fptrunc",
	OpFPExt:       "fpext",
	OpFPToSI:      "fptosi",
	OpFPToUI:      "fptoui",
	OpSIToFP:      "sitofp",
	OpUIToFP:      "uitofp",
	OpPtrToInt:    "ptrtoint",
	OpIntToPtr:    "inttoptr",
	OpBitcast:     "bitcast",
	OpAlloca:      "alloca",
	OpLoad:        "load",
	OpStore:       "store",
	OpCall:        "call",
	OpRet:         "ret",
	OpBr:          "br",
	OpSwitch:      "switch",
	OpPhi:         "phi",
	OpUnreachable: "unreachable",
	OpIndirectBr:  "indirectbr",
	OpInvoke:      "invoke",
	OpCallBr:      "callbr",
	OpResume:      "resume",
	OpCatchPad:    "catchpad",
	OpCatchRet:    "catchret",
	OpCatchSwitch: "catchswitch",
	OpCleanupPad:  "cleanuppad",
	OpCleanupRet:  "cleanupret",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return "badop"
}

// LookupOpcode maps an instruction mnemonic to its Opcode.
func LookupOpcode(s string) (Opcode, bool) {
	for i, name := range opcodeNames {
		if name == s && Opcode(i) != OpInvalid {
			return Opcode(i), true
		}
	}
	return OpInvalid, false
}

// IsBinary reports whether op takes two operands of the result type.
func (op Opcode) IsBinary() bool { return op >= OpAdd && op <= OpAShr }

// IsCast reports whether op is a conversion.
func (op Opcode) IsCast() bool { return op >= OpTrunc && op <= OpBitcast }

// IsFloatOp reports whether op is one of the floating-point binaries.
func (op Opcode) IsFloatOp() bool { return op >= OpFAdd && op <= OpFRem }

// IsTerminator reports whether op ends a basic block.
func (op Opcode) IsTerminator() bool {
	switch op {
	case OpRet, OpBr, OpSwitch, OpUnreachable, OpIndirectBr, OpInvoke,
		OpCallBr, OpResume, OpCatchRet, OpCatchSwitch, OpCleanupRet:
		return true
	}
	return false
}

// IsExceptional reports whether op belongs to the exception-handling or
// indirect control-flow families. Their operands are kept as raw text.
func (op Opcode) IsExceptional() bool { return op >= OpIndirectBr && op <= OpCleanupRet }

// CastOp returns the conversion performed by a cast opcode.
func (op Opcode) CastOp() (avm.CastOp, bool) {
	if !op.IsCast() {
		return 0, false
	}
	return avm.CastOp(op - OpTrunc), true
}

// CastOpcode is the inverse of Opcode.CastOp.
func CastOpcode(c avm.CastOp) Opcode {
	return OpTrunc + Opcode(c)
}

// SwitchCase is one arm of a switch.
type SwitchCase struct {
	Value  *Const
	Target *Block
}

// Incoming is one (value, predecessor) pair of a phi.
type Incoming struct {
	Value Value
	Block *Block
}

// Instr is a single IR instruction. Instructions with a non-void type
// produce a value named Name.
type Instr struct {
	Op       Opcode
	Name     string
	Ty       Type
	Operands []Value

	NSW, NUW bool               // add, sub, mul, shl
	IPred    avm.IntPredicate   // icmp
	FPred    avm.FloatPredicate // fcmp
	ElemTy   Type               // alloca, load
	Callee   string             // direct call; empty for indirect calls
	Targets  []*Block           // br, switch default, invoke normal/unwind
	Cases    []SwitchCase       // switch
	Incoming []Incoming         // phi
	Raw      string             // operand text of exceptional instructions

	Parent *Block
}

func (i *Instr) Type() Type  { return i.Ty }
func (i *Instr) Ref() string { return "%" + i.Name }

// HasResult reports whether the instruction defines a value.
func (i *Instr) HasResult() bool { return i.Ty != TypeVoid }

// Function returns the function containing the instruction, if any.
func (i *Instr) Function() *Function {
	if i.Parent == nil {
		return nil
	}
	return i.Parent.Parent
}

// Ident identifies the instruction in diagnostics: its result name or,
// for instructions without a result, its opcode and position.
func (i *Instr) Ident() string {
	if i.HasResult() && i.Name != "" {
		return "%" + i.Name
	}
	if i.Parent != nil {
		for n, x := range i.Parent.Instrs {
			if x == i {
				return i.Op.String() + " in " + i.Parent.Name + "#" + strconv.Itoa(n)
			}
		}
	}
	return i.Op.String()
}
