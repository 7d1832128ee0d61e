package ir

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/chazu/veil/pkg/avm"
)

// Value is anything that can appear as an instruction operand.
type Value interface {
	// Type is the type of the value when used as an operand.
	Type() Type
	// Ref renders the value in operand position, e.g. "%x", "@g" or "42".
	Ref() string
}

var (
	_ Value = (*Param)(nil)
	_ Value = (*Const)(nil)
	_ Value = (*Global)(nil)
	_ Value = (*Instr)(nil)
)

// Param is a formal parameter of a function.
type Param struct {
	Name  string
	Ty    Type
	Index int
}

func (p *Param) Type() Type  { return p.Ty }
func (p *Param) Ref() string { return "%" + p.Name }

// Const is a scalar constant.
type Const struct {
	Val avm.Value
}

// Constructors

func ConstInt(t Type, v int64) *Const     { return &Const{Val: avm.IntValue(t.Kind(), uint64(v))} }
func ConstFloat(t Type, f float64) *Const { return &Const{Val: avm.FloatValue(t.Kind(), f)} }
func ConstBool(b bool) *Const             { return &Const{Val: avm.BoolValue(b)} }
func ConstNull() *Const                   { return &Const{Val: avm.PtrValue(0)} }
func ConstOf(v avm.Value) *Const          { return &Const{Val: v} }
func (c *Const) Type() Type               { return TypeOf(c.Val.Kind()) }

func (c *Const) Ref() string {
	v := c.Val
	switch v.Kind() {
	case avm.KindBool:
		return strconv.FormatBool(v.Bool())
	case avm.KindPtr:
		if v.Pointer() == 0 {
			return "null"
		}
		return fmt.Sprintf("0x%x", v.Pointer())
	case avm.KindF32, avm.KindF64:
		return formatFloat(v)
	}
	return strconv.FormatInt(v.Int(), 10)
}

// formatFloat prints finite values that round-trip in decimal and falls back
// to the raw bit pattern otherwise.
func formatFloat(v avm.Value) string {
	f := v.Float()
	bits := 64
	if v.Kind() == avm.KindF32 {
		bits = 32
	}
	if !math.IsInf(f, 0) && !math.IsNaN(f) {
		s := strconv.FormatFloat(f, 'g', -1, bits)
		if !strings.ContainsAny(s, ".en") {
			s += ".0"
		}
		return s
	}
	return fmt.Sprintf("0x%016X", v.Bits())
}

// ParseConst parses a literal of type t, as written in IR text or on a
// command line.
func ParseConst(t Type, lit string) (*Const, error) {
	switch {
	case t == TypeI1:
		switch lit {
		case "true", "1":
			return ConstBool(true), nil
		case "false", "0":
			return ConstBool(false), nil
		}
	case t == TypePtr:
		if lit == "null" {
			return ConstNull(), nil
		}
		if n, err := strconv.ParseUint(strings.TrimPrefix(lit, "0x"), 16, 64); err == nil && strings.HasPrefix(lit, "0x") {
			return &Const{Val: avm.PtrValue(n)}, nil
		}
	case t.IsInt():
		if n, err := strconv.ParseInt(lit, 0, 64); err == nil {
			return ConstInt(t, n), nil
		}
		// Allow unsigned spellings of 64-bit values.
		if n, err := strconv.ParseUint(lit, 0, 64); err == nil {
			return &Const{Val: avm.IntValue(t.Kind(), n)}, nil
		}
	case t.IsFloat():
		if strings.HasPrefix(lit, "0x") || strings.HasPrefix(lit, "0X") {
			n, err := strconv.ParseUint(lit[2:], 16, 64)
			if err == nil {
				v, err := avm.FromBits(t.Kind(), n)
				if err == nil {
					return &Const{Val: v}, nil
				}
			}
			break
		}
		if f, err := strconv.ParseFloat(lit, 64); err == nil {
			return ConstFloat(t, f), nil
		}
	}
	return nil, fmt.Errorf("invalid %s constant %q", t, lit)
}

// Global is a module-level variable. Scalar globals hold one value of type
// Ty; bytes globals hold Data. As an operand a global is a pointer.
type Global struct {
	Name     string
	Ty       Type
	Init     avm.Value
	Data     []byte
	Constant bool
	Linkage  Linkage
}

func (g *Global) Type() Type  { return TypePtr }
func (g *Global) Ref() string { return "@" + g.Name }

// IsScalar reports whether the global holds a single scalar value.
func (g *Global) IsScalar() bool { return g.Ty.IsScalar() }
