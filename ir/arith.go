package ir

import (
	"fmt"

	"github.com/chazu/veil/pkg/avm"
)

// ArithInstruction returns the bytecode instruction that performs the
// binary opcode op. Integer and floating-point variants share an
// instruction; the operand kind selects the behavior at run time. Only add
// honors overflow flags, and at most one of them may be set.
func ArithInstruction(op Opcode, nsw, nuw bool) (avm.Instruction, error) {
	switch op {
	case OpAdd:
		return avm.NewAdd(nsw, nuw)
	case OpFAdd:
		return avm.Add{}, nil
	case OpSub, OpFSub:
		return avm.Sub{}, nil
	case OpMul, OpFMul:
		return avm.Mul{}, nil
	case OpSDiv, OpFDiv:
		return avm.Div{}, nil
	case OpUDiv:
		return avm.Div{Unsigned: true}, nil
	case OpSRem, OpFRem:
		return avm.Rem{}, nil
	case OpURem:
		return avm.Rem{Unsigned: true}, nil
	case OpAnd:
		return avm.And{}, nil
	case OpOr:
		return avm.Or{}, nil
	case OpXor:
		return avm.Xor{}, nil
	case OpShl:
		return avm.Shl{}, nil
	case OpLShr:
		return avm.LShr{}, nil
	case OpAShr:
		return avm.AShr{}, nil
	}
	return nil, fmt.Errorf("%s is not a binary operation", op)
}

// Commutative reports whether the operands of the binary opcode op can be
// exchanged without changing the result.
func (op Opcode) Commutative() bool {
	switch op {
	case OpAdd, OpMul, OpFAdd, OpFMul, OpAnd, OpOr, OpXor:
		return true
	}
	return false
}
