package virtualize

import (
	"errors"
	"testing"

	"github.com/chazu/veil/ir"
	"github.com/chazu/veil/pkg/avm"
)

func TestRegisterAllocation(t *testing.T) {
	f := ir.NewFunction("f", ir.TypeI64, []ir.Type{ir.TypeI32, ir.TypeDouble})
	x := &ir.Instr{Op: ir.OpAdd, Name: "x", Ty: ir.TypeI64}
	y := &ir.Instr{Op: ir.OpAdd, Name: "y", Ty: ir.TypeI64}

	a := NewRegisterAllocator()
	steps := []struct {
		v       ir.Value
		isParam bool
		want    Register
	}{
		{f.Params[0], true, 0},
		{f.Params[1], true, 1},
		{x, false, 2},
		{f.Params[0], true, 0},
		{y, false, 3},
		{x, false, 2},
	}
	for _, s := range steps {
		got, err := a.AllocateOrGet(s.v, s.isParam)
		if err != nil {
			t.Fatalf("AllocateOrGet(%s): %v", s.v.Ref(), err)
		}
		if got != s.want {
			t.Errorf("AllocateOrGet(%s) = %d, want %d", s.v.Ref(), got, s.want)
		}
	}

	if a.Count() != 4 || a.Params() != 2 {
		t.Errorf("Count, Params = %d, %d, want 4, 2", a.Count(), a.Params())
	}
	if k := a.Kind(1); k != avm.KindF64 {
		t.Errorf("Kind(1) = %s, want f64", k)
	}
	if k := a.Kind(9); k != avm.KindInvalid {
		t.Errorf("Kind(9) = %s, want invalid", k)
	}
	if _, ok := a.Lookup(ir.ConstInt(ir.TypeI32, 1)); ok {
		t.Error("Lookup of an unallocated constant succeeded")
	}
}

func TestRegisterAllocationErrors(t *testing.T) {
	f := ir.NewFunction("f", ir.TypeVoid, []ir.Type{ir.TypeI32, ir.TypeI32})
	x := &ir.Instr{Op: ir.OpAdd, Name: "x", Ty: ir.TypeI32}

	a := NewRegisterAllocator()
	if _, err := a.AllocateOrGet(x, true); err == nil {
		t.Error("instruction allocated as a parameter")
	}
	if _, err := a.AllocateOrGet(f.Params[0], false); err == nil {
		t.Error("parameter allocated as a result")
	}
	if _, err := a.AllocateOrGet(f.Params[0], true); err != nil {
		t.Fatalf("AllocateOrGet(%%p0): %v", err)
	}
	if _, err := a.AllocateOrGet(x, false); err != nil {
		t.Fatalf("AllocateOrGet(%%x): %v", err)
	}
	if _, err := a.AllocateOrGet(f.Params[1], true); !errors.Is(err, ErrParamOrder) {
		t.Errorf("late parameter: err = %v, want ErrParamOrder", err)
	}
}

func TestRegisterAllocationDeterministic(t *testing.T) {
	src := `
define i32 @f(i32 %a, i32 %b) {
entry:
  %x = mul i32 %a, %b
  %y = add i32 %a, %x
  %z = sub i32 %x, %y
  ret i32 %z
}
`
	var first []avm.Instruction
	for run := 0; run < 3; run++ {
		m := mustParse(t, src)
		c, err := NewContext(m.Function("f"), DefaultFlags, 0)
		if err != nil {
			t.Fatalf("NewContext: %v", err)
		}
		p, err := TranslateFunction(c)
		if err != nil {
			t.Fatalf("TranslateFunction: %v", err)
		}
		if first == nil {
			first = p.Instructions()
			continue
		}
		if !avm.NewProgram(p.Header(), first).Equal(p) {
			t.Errorf("run %d produced\n%s\nwant\n%s", run, p.Disassemble(),
				avm.NewProgram(p.Header(), first).Disassemble())
		}
	}
}

func TestFlags(t *testing.T) {
	tests := []struct {
		in   string
		want Flags
		str  string
	}{
		{"", 0, "none"},
		{"none", 0, "none"},
		{"enable", FlagEnable, "enable"},
		{"enable,type-checks", FlagEnable | FlagTypeChecks, "enable|type-checks"},
		{"polymorphism | clear-registers enable", FlagEnable | FlagPolymorphism | FlagClearRegisters,
			"enable|polymorphism|clear-registers"},
	}
	for _, tc := range tests {
		got, err := ParseFlags(tc.in)
		if err != nil {
			t.Errorf("ParseFlags(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseFlags(%q) = %v, want %v", tc.in, got, tc.want)
		}
		if got.String() != tc.str {
			t.Errorf("%v.String() = %q, want %q", uint8(got), got.String(), tc.str)
		}
	}

	if _, err := ParseFlags("enable,turbo"); err == nil {
		t.Error("ParseFlags accepted an unknown flag")
	}
	if s := Flags(0x80).String(); s != "0x80" {
		t.Errorf("unknown bits render as %q", s)
	}

	f := FlagEnable | FlagTypeChecks
	if !f.Has(FlagEnable) || f.Has(FlagPolymorphism) || !f.Has(FlagEnable|FlagTypeChecks) {
		t.Errorf("Has is wrong for %s", f)
	}
	var src FlagSource = FlagSourceFunc(func(fn *ir.Function) Flags {
		if fn.Name == "off" {
			return 0
		}
		return f
	})
	if got := src.FlagsFor(ir.NewFunction("off", ir.TypeVoid, nil)); got != 0 {
		t.Errorf("FlagsFor(off) = %s", got)
	}
	if got := DefaultFlags.FlagsFor(nil); got != FlagEnable {
		t.Errorf("DefaultFlags.FlagsFor = %s", got)
	}
}
