package avm

import (
	"fmt"
	"math"
	"math/bits"
)

// intLike reports whether arithmetic on k works on the raw payload.
func intLike(k Kind) bool {
	return k.IsInt() || k == KindPtr
}

// signed returns v as a signed integer. A set i1 is -1, as in LLVM.
func signed(v Value) int64 {
	if v.Kind() == KindBool {
		return -int64(v.Bits())
	}
	return v.Int()
}

// fitsSigned reports whether x is representable in a signed integer of
// the given width.
func fitsSigned(x int64, width int) bool {
	if width >= 64 {
		return true
	}
	lo := -(int64(1) << (width - 1))
	hi := int64(1)<<(width-1) - 1
	return x >= lo && x <= hi
}

func minSigned(k Kind) uint64 {
	w := k.LogicalBits()
	return (uint64(1) << (w - 1)) & k.mask()
}

// Apply evaluates a binary arithmetic, bitwise or comparison instruction on
// two values outside of a program. Errors wrap the same causes the
// interpreter reports.
func Apply(inst Instruction, a, b Value) (Value, error) {
	return arith(inst, a, b)
}

// Convert applies a cast outside of a program.
func Convert(op CastOp, v Value, to Kind) (Value, error) {
	return convert(op, v, to)
}

// arith evaluates a binary arithmetic, bitwise or comparison instruction.
// Operands must have the same kind.
func arith(inst Instruction, a, b Value) (Value, error) {
	if a.Kind() != b.Kind() {
		return Value{}, fmt.Errorf("%w: %s operands %s and %s", ErrTypeMismatch, inst.Opcode(), a.Kind(), b.Kind())
	}
	k := a.Kind()
	if !k.Valid() {
		return Value{}, fmt.Errorf("%w: %s on void operands", ErrTypeMismatch, inst.Opcode())
	}

	if fc, ok := inst.(FCmp); ok {
		if !k.IsFloat() {
			return Value{}, fmt.Errorf("%w: fcmp on %s", ErrTypeMismatch, k)
		}
		return BoolValue(floatCompare(fc.Pred, a.Float(), b.Float())), nil
	}
	if k.IsFloat() {
		return floatArith(inst, a, b)
	}
	if !intLike(k) {
		return Value{}, fmt.Errorf("%w: %s on %s", ErrTypeMismatch, inst.Opcode(), k)
	}

	x, y := a.Bits(), b.Bits()
	switch i := inst.(type) {
	case Add:
		sum := x + y
		if i.nsw && !fitsSigned(signed(a)+signed(b), k.LogicalBits()) {
			return Value{}, fmt.Errorf("%w: signed %s add", ErrOverflow, k)
		}
		if i.nsw && k.LogicalBits() == 64 {
			sa, sb := int64(x), int64(y)
			if s := sa + sb; (sa >= 0) == (sb >= 0) && (s >= 0) != (sa >= 0) {
				return Value{}, fmt.Errorf("%w: signed %s add", ErrOverflow, k)
			}
		}
		if i.nuw {
			s, carry := bits.Add64(x, y, 0)
			if carry != 0 || s > k.mask() {
				return Value{}, fmt.Errorf("%w: unsigned %s add", ErrOverflow, k)
			}
		}
		return IntValue(k, sum), nil

	case Sub:
		return IntValue(k, x-y), nil

	case Mul:
		return IntValue(k, x*y), nil

	case Div, Rem:
		var unsigned bool
		if d, ok := i.(Div); ok {
			unsigned = d.Unsigned
		} else {
			unsigned = i.(Rem).Unsigned
		}
		if y == 0 {
			return Value{}, fmt.Errorf("%w: %s", ErrDivideByZero, k)
		}
		_, isDiv := i.(Div)
		if unsigned {
			if isDiv {
				return IntValue(k, x/y), nil
			}
			return IntValue(k, x%y), nil
		}
		if x == minSigned(k) && signed(b) == -1 {
			return Value{}, fmt.Errorf("%w: signed %s division of minimum by -1", ErrOverflow, k)
		}
		if isDiv {
			return IntValue(k, uint64(signed(a)/signed(b))), nil
		}
		return IntValue(k, uint64(signed(a)%signed(b))), nil

	case And:
		return IntValue(k, x&y), nil
	case Or:
		return IntValue(k, x|y), nil
	case Xor:
		return IntValue(k, x^y), nil

	case Shl, LShr, AShr:
		w := uint64(k.LogicalBits())
		if y >= w {
			return Value{}, fmt.Errorf("%w: shift by %d on %s", ErrBadShift, y, k)
		}
		switch i.(type) {
		case Shl:
			return IntValue(k, x<<y), nil
		case LShr:
			return IntValue(k, x>>y), nil
		default:
			return IntValue(k, uint64(signed(a)>>y)), nil
		}

	case ICmp:
		return BoolValue(intCompare(i.Pred, a, b)), nil
	}

	return Value{}, fmt.Errorf("%w: %s is not a binary operation", ErrBadInstruction, inst.Opcode())
}

func floatArith(inst Instruction, a, b Value) (Value, error) {
	k := a.Kind()
	x, y := a.Float(), b.Float()
	switch inst.(type) {
	case Add:
		return FloatValue(k, x+y), nil
	case Sub:
		return FloatValue(k, x-y), nil
	case Mul:
		return FloatValue(k, x*y), nil
	case Div:
		return FloatValue(k, x/y), nil
	case Rem:
		return FloatValue(k, math.Mod(x, y)), nil
	}
	return Value{}, fmt.Errorf("%w: %s on %s", ErrTypeMismatch, inst.Opcode(), k)
}

func intCompare(p IntPredicate, a, b Value) bool {
	ua, ub := a.Bits(), b.Bits()
	sa, sb := signed(a), signed(b)
	switch p {
	case IntEQ:
		return ua == ub
	case IntNE:
		return ua != ub
	case IntUGT:
		return ua > ub
	case IntUGE:
		return ua >= ub
	case IntULT:
		return ua < ub
	case IntULE:
		return ua <= ub
	case IntSGT:
		return sa > sb
	case IntSGE:
		return sa >= sb
	case IntSLT:
		return sa < sb
	case IntSLE:
		return sa <= sb
	}
	return false
}

func floatCompare(p FloatPredicate, x, y float64) bool {
	uno := math.IsNaN(x) || math.IsNaN(y)
	switch p {
	case FloatFalse:
		return false
	case FloatOEQ:
		return !uno && x == y
	case FloatOGT:
		return !uno && x > y
	case FloatOGE:
		return !uno && x >= y
	case FloatOLT:
		return !uno && x < y
	case FloatOLE:
		return !uno && x <= y
	case FloatONE:
		return !uno && x != y
	case FloatORD:
		return !uno
	case FloatUEQ:
		return uno || x == y
	case FloatUGT:
		return uno || x > y
	case FloatUGE:
		return uno || x >= y
	case FloatULT:
		return uno || x < y
	case FloatULE:
		return uno || x <= y
	case FloatUNE:
		return uno || x != y
	case FloatUNO:
		return uno
	case FloatTrue:
		return true
	}
	return false
}

// convert applies a cast to v, producing a value of kind to.
func convert(op CastOp, v Value, to Kind) (Value, error) {
	from := v.Kind()
	if !from.Valid() || !to.Valid() {
		return Value{}, fmt.Errorf("%w: cast %s from %s to %s", ErrTypeMismatch, op, from, to)
	}
	bad := func() (Value, error) {
		return Value{}, fmt.Errorf("%w: cannot %s %s to %s", ErrTypeMismatch, op, from, to)
	}

	switch op {
	case CastTrunc:
		if !from.IsInt() || !to.IsInt() || to.LogicalBits() >= from.LogicalBits() {
			return bad()
		}
		return IntValue(to, v.Bits()), nil

	case CastZExt:
		if !from.IsInt() || !to.IsInt() || to.LogicalBits() <= from.LogicalBits() {
			return bad()
		}
		return IntValue(to, v.Bits()), nil

	case CastSExt:
		if !from.IsInt() || !to.IsInt() || to.LogicalBits() <= from.LogicalBits() {
			return bad()
		}
		return IntValue(to, uint64(signed(v))), nil

	case CastFPTrunc:
		if from != KindF64 || to != KindF32 {
			return bad()
		}
		return FloatValue(to, v.Float()), nil

	case CastFPExt:
		if from != KindF32 || to != KindF64 {
			return bad()
		}
		return FloatValue(to, v.Float()), nil

	case CastFPToSI:
		if !from.IsFloat() || !to.IsInt() {
			return bad()
		}
		f := math.Trunc(v.Float())
		w := to.LogicalBits()
		lo, hi := -math.Ldexp(1, w-1), math.Ldexp(1, w-1)
		if math.IsNaN(f) || f < lo || f >= hi {
			return Value{}, fmt.Errorf("%w: %g does not fit %s", ErrOverflow, v.Float(), to)
		}
		return IntValue(to, uint64(int64(f))), nil

	case CastFPToUI:
		if !from.IsFloat() || !to.IsInt() {
			return bad()
		}
		f := math.Trunc(v.Float())
		if math.IsNaN(f) || f < 0 || f >= math.Ldexp(1, to.LogicalBits()) {
			return Value{}, fmt.Errorf("%w: %g does not fit unsigned %s", ErrOverflow, v.Float(), to)
		}
		return IntValue(to, uint64(f)), nil

	case CastSIToFP:
		if !from.IsInt() || !to.IsFloat() {
			return bad()
		}
		return FloatValue(to, float64(signed(v))), nil

	case CastUIToFP:
		if !from.IsInt() || !to.IsFloat() {
			return bad()
		}
		return FloatValue(to, float64(v.Bits())), nil

	case CastPtrToInt:
		if from != KindPtr || !to.IsInt() {
			return bad()
		}
		return IntValue(to, v.Bits()), nil

	case CastIntToPtr:
		if !from.IsInt() || to != KindPtr {
			return bad()
		}
		return PtrValue(v.Bits()), nil

	case CastBitcast:
		if from.SizeInBytes() != to.SizeInBytes() || from == KindBool || to == KindBool {
			return bad()
		}
		return FromBits(to, v.Bits())
	}
	return bad()
}
