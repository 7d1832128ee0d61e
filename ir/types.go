package ir

import "github.com/chazu/veil/pkg/avm"

// Type is a first-class IR type. Aggregates are not modelled; the only
// non-scalar type is bytes, used for constant blobs.
type Type uint8

const (
	TypeVoid Type = iota
	TypeI1
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeFloat
	TypeDouble
	TypePtr
	TypeBytes
)

var typeNames = [...]string{
	TypeVoid:   "void",
	TypeI1:     "i1",
	TypeI8:     "i8",
	TypeI16:    "i16",
	TypeI32:    "i32",
	TypeI64:    "i64",
	TypeFloat:  "float",
	TypeDouble: "double",
	TypePtr:    "ptr",
	TypeBytes:  "bytes",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "badtype"
}

// ParseType maps a type keyword to its Type.
func ParseType(s string) (Type, bool) {
	for i, name := range typeNames {
		if name == s {
			return Type(i), true
		}
	}
	return TypeVoid, false
}

func (t Type) IsInt() bool    { return t >= TypeI1 && t <= TypeI64 }
func (t Type) IsFloat() bool  { return t == TypeFloat || t == TypeDouble }
func (t Type) IsScalar() bool { return t >= TypeI1 && t <= TypePtr }

// Bits returns the width of an integer or float type.
func (t Type) Bits() int {
	return t.Kind().LogicalBits()
}

// Kind maps a scalar type onto the value model. Void and bytes map to
// avm.KindInvalid.
func (t Type) Kind() avm.Kind {
	switch t {
	case TypeI1:
		return avm.KindBool
	case TypeI8:
		return avm.KindI8
	case TypeI16:
		return avm.KindI16
	case TypeI32:
		return avm.KindI32
	case TypeI64:
		return avm.KindI64
	case TypeFloat:
		return avm.KindF32
	case TypeDouble:
		return avm.KindF64
	case TypePtr:
		return avm.KindPtr
	}
	return avm.KindInvalid
}

// TypeOf is the inverse of Type.Kind.
func TypeOf(k avm.Kind) Type {
	switch k {
	case avm.KindBool:
		return TypeI1
	case avm.KindI8:
		return TypeI8
	case avm.KindI16:
		return TypeI16
	case avm.KindI32:
		return TypeI32
	case avm.KindI64:
		return TypeI64
	case avm.KindF32:
		return TypeFloat
	case avm.KindF64:
		return TypeDouble
	case avm.KindPtr:
		return TypePtr
	}
	return TypeVoid
}
