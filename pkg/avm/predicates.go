package avm

import "fmt"

// IntPredicate selects the comparison performed by ICmp.
type IntPredicate uint8

const (
	IntEQ IntPredicate = iota
	IntNE
	IntUGT
	IntUGE
	IntULT
	IntULE
	IntSGT
	IntSGE
	IntSLT
	IntSLE
)

var intPredicateNames = [...]string{"eq", "ne", "ugt", "uge", "ult", "ule", "sgt", "sge", "slt", "sle"}

func (p IntPredicate) String() string {
	if int(p) < len(intPredicateNames) {
		return intPredicateNames[p]
	}
	return fmt.Sprintf("IntPredicate(%d)", uint8(p))
}

// Valid reports whether p is a known predicate.
func (p IntPredicate) Valid() bool { return int(p) < len(intPredicateNames) }

// ParseIntPredicate maps an icmp condition code to its predicate.
func ParseIntPredicate(s string) (IntPredicate, bool) {
	for i, name := range intPredicateNames {
		if name == s {
			return IntPredicate(i), true
		}
	}
	return 0, false
}

// FloatPredicate selects the comparison performed by FCmp. Ordered
// predicates are false when either operand is NaN; unordered ones are true.
type FloatPredicate uint8

const (
	FloatFalse FloatPredicate = iota
	FloatOEQ
	FloatOGT
	FloatOGE
	FloatOLT
	FloatOLE
	FloatONE
	FloatORD
	FloatUEQ
	FloatUGT
	FloatUGE
	FloatULT
	FloatULE
	FloatUNE
	FloatUNO
	FloatTrue
)

var floatPredicateNames = [...]string{
	"false", "oeq", "ogt", "oge", "olt", "ole", "one", "ord",
	"ueq", "ugt", "uge", "ult", "ule", "une", "uno", "true",
}

func (p FloatPredicate) String() string {
	if int(p) < len(floatPredicateNames) {
		return floatPredicateNames[p]
	}
	return fmt.Sprintf("FloatPredicate(%d)", uint8(p))
}

// Valid reports whether p is a known predicate.
func (p FloatPredicate) Valid() bool { return int(p) < len(floatPredicateNames) }

// ParseFloatPredicate maps an fcmp condition code to its predicate.
func ParseFloatPredicate(s string) (FloatPredicate, bool) {
	for i, name := range floatPredicateNames {
		if name == s {
			return FloatPredicate(i), true
		}
	}
	return 0, false
}

// CastOp selects the conversion performed by Cast.
type CastOp uint8

const (
	CastTrunc CastOp = iota
	CastZExt
	CastSExt
	CastFPTrunc
	CastFPExt
	CastFPToSI
	CastFPToUI
	CastSIToFP
	CastUIToFP
	CastPtrToInt
	CastIntToPtr
	CastBitcast
)

var castOpNames = [...]string{
	"trunc", "zext", "sext", "fptrunc", "fpext", "fptosi", "fptoui",
	"sitofp", "uitofp", "ptrtoint", "inttoptr", "bitcast",
}

func (op CastOp) String() string {
	if int(op) < len(castOpNames) {
		return castOpNames[op]
	}
	return fmt.Sprintf("CastOp(%d)", uint8(op))
}

// Valid reports whether op is a known conversion.
func (op CastOp) Valid() bool { return int(op) < len(castOpNames) }

// ParseCastOp maps a cast mnemonic to its CastOp.
func ParseCastOp(s string) (CastOp, bool) {
	for i, name := range castOpNames {
		if name == s {
			return CastOp(i), true
		}
	}
	return 0, false
}
