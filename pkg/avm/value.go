package avm

import (
	"fmt"
	"math"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	// KindInvalid is the zero Kind. A Value of this kind means "no value" and
	// is what void programs return.
	KindInvalid Kind = iota
	KindBool
	KindI8
	KindI16
	KindI32
	KindI64
	KindF32
	KindF64
	KindPtr
)

// kindInfo is the fixed per-variant table.
type kindInfo struct {
	name    string
	size    int // bytes
	logical int // bits checked by TypeCheckInt
}

var kindTable = [...]kindInfo{
	KindInvalid: {"invalid", 0, 0},
	KindBool:    {"bool", 1, 1},
	KindI8:      {"i8", 1, 8},
	KindI16:     {"i16", 2, 16},
	KindI32:     {"i32", 4, 32},
	KindI64:     {"i64", 8, 64},
	KindF32:     {"f32", 4, 32},
	KindF64:     {"f64", 8, 64},
	KindPtr:     {"ptr", 8, 64},
}

// AllKinds lists every valid Value kind.
func AllKinds() []Kind {
	return []Kind{KindBool, KindI8, KindI16, KindI32, KindI64, KindF32, KindF64, KindPtr}
}

// Valid reports whether k names one of the eight Value variants.
func (k Kind) Valid() bool {
	return k > KindInvalid && int(k) < len(kindTable)
}

// String returns the short name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindTable) {
		return kindTable[k].name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// SizeInBytes returns the storage size of the kind.
func (k Kind) SizeInBytes() int {
	if int(k) < len(kindTable) {
		return kindTable[k].size
	}
	return 0
}

// WidthInBits returns SizeInBytes()*8.
func (k Kind) WidthInBits() int {
	return k.SizeInBytes() * 8
}

// LogicalBits is the width TypeCheckInt compares against. It equals
// WidthInBits for every kind except bool, which is a 1-bit integer.
func (k Kind) LogicalBits() int {
	if int(k) < len(kindTable) {
		return kindTable[k].logical
	}
	return 0
}

// IsInt reports whether k is bool or one of the integer kinds.
func (k Kind) IsInt() bool {
	return k >= KindBool && k <= KindI64
}

// IsFloat reports whether k is f32 or f64.
func (k Kind) IsFloat() bool {
	return k == KindF32 || k == KindF64
}

// mask returns the payload mask for integer-like kinds.
func (k Kind) mask() uint64 {
	switch k {
	case KindBool:
		return 1
	case KindI8:
		return 0xFF
	case KindI16:
		return 0xFFFF
	case KindI32:
		return 0xFFFFFFFF
	default:
		return math.MaxUint64
	}
}

// Value is an immutable tagged scalar. Integers are stored zero-extended to
// 64 bits, floats as their IEEE bit pattern (f32 widened to its own 32 bits).
type Value struct {
	kind Kind
	bits uint64
}

// Constructors

func BoolValue(b bool) Value {
	if b {
		return Value{kind: KindBool, bits: 1}
	}
	return Value{kind: KindBool}
}

func I8Value(v int8) Value    { return Value{kind: KindI8, bits: uint64(uint8(v))} }
func I16Value(v int16) Value  { return Value{kind: KindI16, bits: uint64(uint16(v))} }
func I32Value(v int32) Value  { return Value{kind: KindI32, bits: uint64(uint32(v))} }
func I64Value(v int64) Value  { return Value{kind: KindI64, bits: uint64(v)} }
func PtrValue(p uint64) Value { return Value{kind: KindPtr, bits: p} }

func F32Value(f float32) Value { return Value{kind: KindF32, bits: uint64(math.Float32bits(f))} }
func F64Value(f float64) Value { return Value{kind: KindF64, bits: math.Float64bits(f)} }

// IntValue builds an integer-like value of kind k from raw bits, truncating to
// the kind's width. It is the inverse of Uint for integer kinds and pointers.
func IntValue(k Kind, bits uint64) Value {
	return Value{kind: k, bits: bits & k.mask()}
}

// FloatValue builds a float value of kind k, rounding to f32 when needed.
func FloatValue(k Kind, f float64) Value {
	if k == KindF32 {
		return F32Value(float32(f))
	}
	return F64Value(f)
}

// FromBits rebuilds a Value from its kind and raw payload, as stored by the
// codecs. It fails for kinds outside the table.
func FromBits(k Kind, bits uint64) (Value, error) {
	if !k.Valid() {
		return Value{}, fmt.Errorf("avm: invalid value kind %d", uint8(k))
	}
	if k == KindF32 {
		return Value{kind: k, bits: bits & 0xFFFFFFFF}, nil
	}
	return IntValue(k, bits), nil
}

// Zero returns the zero value of kind k.
func Zero(k Kind) Value {
	return Value{kind: k}
}

// Accessors

func (v Value) Kind() Kind       { return v.kind }
func (v Value) Bits() uint64     { return v.bits }
func (v Value) SizeInBytes() int { return v.kind.SizeInBytes() }
func (v Value) WidthInBits() int { return v.kind.WidthInBits() }
func (v Value) IsValid() bool    { return v.kind.Valid() }
func (v Value) IsInt() bool      { return v.kind.IsInt() }
func (v Value) IsFloat() bool    { return v.kind.IsFloat() }
func (v Value) Bool() bool       { return v.bits&1 != 0 }
func (v Value) Uint() uint64     { return v.bits }
func (v Value) Pointer() uint64  { return v.bits }

// Int returns the payload sign-extended from the kind's width. Bool is
// treated as unsigned.
func (v Value) Int() int64 {
	switch v.kind {
	case KindI8:
		return int64(int8(v.bits))
	case KindI16:
		return int64(int16(v.bits))
	case KindI32:
		return int64(int32(v.bits))
	default:
		return int64(v.bits)
	}
}

// Float returns the payload of a float value as float64.
func (v Value) Float() float64 {
	switch v.kind {
	case KindF32:
		return float64(math.Float32frombits(uint32(v.bits)))
	case KindF64:
		return math.Float64frombits(v.bits)
	default:
		return float64(v.Int())
	}
}

// Equal reports whether two values have the same kind and payload.
// Floats compare bitwise, so NaN payloads compare equal to themselves.
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.bits == o.bits
}

// String renders the value as "<kind> <payload>".
func (v Value) String() string {
	switch v.kind {
	case KindInvalid:
		return "void"
	case KindBool:
		return "bool " + strconv.FormatBool(v.Bool())
	case KindF32:
		return "f32 " + strconv.FormatFloat(v.Float(), 'g', -1, 32)
	case KindF64:
		return "f64 " + strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case KindPtr:
		return fmt.Sprintf("ptr 0x%x", v.bits)
	default:
		return v.kind.String() + " " + strconv.FormatInt(v.Int(), 10)
	}
}
