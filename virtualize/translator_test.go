package virtualize

import (
	"errors"
	"reflect"
	"testing"

	"github.com/chazu/veil/ir"
	"github.com/chazu/veil/pkg/avm"
)

const addSource = `
define i32 @add(i32 %a, i32 %b) {
entry:
  %s = add i32 %a, %b
  ret i32 %s
}
`

func translate(t *testing.T, m *ir.Module, name string, flags Flags, seed int64) *avm.Program {
	t.Helper()
	c, err := NewContext(m.Function(name), flags, seed)
	if err != nil {
		t.Fatalf("NewContext(@%s): %v", name, err)
	}
	p, err := TranslateFunction(c)
	if err != nil {
		t.Fatalf("TranslateFunction(@%s): %v", name, err)
	}
	return p
}

func listing(code []avm.Instruction) string {
	return avm.NewProgram(avm.Header{}, code).Disassemble()
}

func checkCode(t *testing.T, name string, got, want []avm.Instruction) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("@%s code =\n%s\nwant\n%s", name, listing(got), listing(want))
	}
}

func pushReg(r uint32) avm.Instruction  { return avm.PushFromReg{Reg: r} }
func popReg(r uint32) avm.Instruction   { return avm.PopToReg{Reg: r} }
func clearReg(r uint32) avm.Instruction { return avm.ClearReg{Reg: r} }

func TestTranslateGoldenAdd(t *testing.T) {
	m := mustParse(t, addSource)
	p := translate(t, m, "add", DefaultFlags, 0)

	want := avm.NewProgram(avm.Header{
		Name:      "add",
		Registers: 2,
		Params:    2,
		Returns:   avm.KindI32,
	}, []avm.Instruction{pushReg(0), pushReg(1), avm.Add{}, avm.Ret{}})
	if !p.Equal(want) {
		t.Errorf("program =\n%s\nwant\n%s", p.Disassemble(), want.Disassemble())
	}
}

func TestTranslateStackForwarding(t *testing.T) {
	src := `
@counter = global i32 5

declare i32 @ext(i32, i32)

define i32 @swap(i32 %a, i32 %b) {
entry:
  %x = mul i32 %a, %b
  %y = sub i32 %a, %x
  ret i32 %y
}

define i32 @regs(i32 %a) {
entry:
  %x = add i32 %a, 1
  %d = mul i32 %x, 2
  %y = xor i32 %x, %a
  ret i32 %y
}

define i32 @mem(i32 %v) {
entry:
  %p = alloca i32
  store i32 %v, ptr %p
  %l = load i32, ptr %p
  %g = load i32, ptr @counter
  %s = add i32 %l, %g
  store i32 %s, ptr @counter
  ret i32 %l
}

define i32 @calls(i32 %a) {
entry:
  %r = call i32 @ext(i32 %a, i32 7)
  %n = alloca i64, i32 %a
  ret i32 %r
}

define i1 @cmp(double %x, i64 %y) {
entry:
  %f = sitofp i64 %y to double
  %c = fcmp olt double %f, %x
  %s = select i1 %c, i1 true, i1 false
  ret i1 %s
}
`
	m := mustParse(t, src)
	i32 := func(v int32) avm.Instruction { return avm.Push{Value: avm.I32Value(v)} }
	tests := []struct {
		fn   string
		want []avm.Instruction
		regs int
	}{
		{"swap", []avm.Instruction{
			pushReg(0), pushReg(1), avm.Mul{}, pushReg(0), avm.Swap{}, avm.Sub{}, avm.Ret{},
		}, 2},
		{"regs", []avm.Instruction{
			pushReg(0), i32(1), avm.Add{}, popReg(1),
			pushReg(1), i32(2), avm.Mul{}, avm.Pop{},
			pushReg(1), pushReg(0), avm.Xor{}, avm.Ret{},
		}, 2},
		{"mem", []avm.Instruction{
			avm.Alloca{Size: 1}, popReg(1),
			pushReg(0), pushReg(1), avm.StoreValue{},
			pushReg(1), avm.LoadValue{Kind: avm.KindI32}, popReg(2),
			avm.Load{Addr: 0, Kind: avm.KindI32}, pushReg(2), avm.Swap{}, avm.Add{},
			avm.Store{Addr: 0},
			pushReg(2), avm.Ret{},
		}, 3},
		{"calls", []avm.Instruction{
			pushReg(0), i32(7), avm.Call{Callee: "ext", Argc: 2, Result: avm.KindI32}, popReg(1),
			pushReg(0), avm.Alloca2{}, avm.Pop{},
			pushReg(1), avm.Ret{},
		}, 2},
		{"cmp", []avm.Instruction{
			pushReg(1), avm.Cast{Op: avm.CastSIToFP, To: avm.KindF64},
			pushReg(0), avm.FCmp{Pred: avm.FloatOLT},
			avm.Push{Value: avm.BoolValue(true)}, avm.Push{Value: avm.BoolValue(false)}, avm.Select{},
			avm.Ret{},
		}, 2},
	}

	for _, tc := range tests {
		p := translate(t, m, tc.fn, DefaultFlags, 0)
		checkCode(t, tc.fn, p.Instructions(), tc.want)
		if p.RegisterCount() != tc.regs {
			t.Errorf("@%s: RegisterCount = %d, want %d", tc.fn, p.RegisterCount(), tc.regs)
		}
		if res := avm.Check(p, 0); !res.Valid() {
			t.Errorf("@%s: Check: %v", tc.fn, res.Err())
		}
	}
}

func TestTranslateAddFlags(t *testing.T) {
	nsw, _ := avm.NewAdd(true, false)
	nuw, _ := avm.NewAdd(false, true)

	tests := []struct {
		name     string
		nsw, nuw bool
		want     []avm.Instruction
	}{
		{"plain", false, false, []avm.Instruction{pushReg(0), pushReg(1), avm.Add{}, avm.Ret{}}},
		{"nsw", true, false, []avm.Instruction{pushReg(0), pushReg(1), nsw, avm.Ret{}}},
		{"nuw", false, true, []avm.Instruction{pushReg(0), pushReg(1), nuw, avm.Ret{}}},
		// Both flags: a signed add whose result is dropped, then an unsigned one.
		{"both", true, true, []avm.Instruction{
			pushReg(0), pushReg(1), nsw, avm.Pop{},
			pushReg(0), pushReg(1), nuw, avm.Ret{},
		}},
	}
	for _, tt := range tests {
		m := ir.NewModule("flags")
		f := m.AddFunction(ir.NewFunction("f", ir.TypeI8, []ir.Type{ir.TypeI8, ir.TypeI8}))
		b := ir.NewBuilder(f.NewBlock("entry"))
		b.Ret(b.Add("s", f.Params[0], f.Params[1], tt.nsw, tt.nuw))

		p := translate(t, m, "f", DefaultFlags, 0)
		checkCode(t, tt.name, p.Instructions(), tt.want)
		for n := 0; n < p.Len(); n++ {
			if add, ok := p.At(n).(avm.Add); ok && add.NSW() && add.NUW() {
				t.Errorf("%s: At(%d) carries both overflow flags", tt.name, n)
			}
		}
	}
}

func TestTranslateCheckedAddReadsRegisters(t *testing.T) {
	m := mustParse(t, `
define i32 @f(i32 %a, i32 %b) {
entry:
  %x = xor i32 %a, 5
  %s = add nsw nuw i32 %b, %x
  ret i32 %s
}
`)
	p := translate(t, m, "f", DefaultFlags, 0)
	if n := p.CountOpcode(avm.OpSwap); n != 0 {
		t.Errorf("SWAP count = %d, want 0", n)
	}
	if n := p.CountOpcode(avm.OpPopToReg); n != 1 {
		t.Errorf("POP_TO_REG count = %d, want 1 (%%x spilled)\n%s", n, p.Disassemble())
	}
	if n := p.CountOpcode(avm.OpAdd); n != 2 {
		t.Errorf("ADD count = %d, want 2", n)
	}
}

func TestTranslateFailures(t *testing.T) {
	src := `
@counter = global i32 5
@blob = constant bytes x"00"

declare void @sink(ptr)

define i32 @branch(i32 %a) {
entry:
  %c = icmp eq i32 %a, 0
  br i1 %c, label %zero, label %other

zero:
  ret i32 1

other:
  ret i32 2
}

define i32 @param(ptr %p) {
entry:
  %v = load i32, ptr %p
  ret i32 %v
}

define void @escape() {
entry:
  %p = alloca i32
  call void @sink(ptr %p)
  ret void
}

define ptr @leak() {
entry:
  %p = alloca i32
  ret ptr %p
}

define ptr @global() {
entry:
  ret ptr @counter
}

define i32 @blob() {
entry:
  %v = load i32, ptr @blob
  ret i32 %v
}

define i32 @indirect(ptr %fp) {
entry:
  %r = call i32 %fp(i32 1)
  ret i32 %r
}

define i32 @stop(i32 %a) {
entry:
  unreachable
}
`
	m := mustParse(t, src)
	tests := []struct {
		fn    string
		err   error
		instr string
	}{
		{"branch", ErrUnsupportedInstruction, "br in entry#1"},
		{"param", ErrUnresolvedPointer, "%v"},
		{"escape", ErrEscapingPointer, "call in entry#1"},
		{"leak", ErrEscapingPointer, "ret in entry#1"},
		{"global", ErrUnresolvedPointer, "ret in entry#0"},
		{"blob", ErrUnresolvedPointer, "%v"},
		{"indirect", ErrUnsupportedInstruction, "%r"},
		{"stop", ErrUnsupportedInstruction, "unreachable in entry#0"},
	}

	for _, tc := range tests {
		fn := m.Function(tc.fn)
		before := fn.String()
		c, err := NewContext(fn, DefaultFlags, 0)
		if err != nil {
			t.Fatalf("NewContext(@%s): %v", tc.fn, err)
		}
		p, err := TranslateFunction(c)
		if p != nil || c.Program() != nil {
			t.Errorf("@%s: got a program despite the failure", tc.fn)
		}
		var te *TranslationError
		if !errors.As(err, &te) {
			t.Errorf("@%s: err = %v, want *TranslationError", tc.fn, err)
			continue
		}
		if !errors.Is(err, tc.err) {
			t.Errorf("@%s: err = %v, want %v", tc.fn, err, tc.err)
		}
		if te.Function != tc.fn || te.Instruction != tc.instr {
			t.Errorf("@%s: error names %s/%s, want %s/%s", tc.fn, te.Function, te.Instruction, tc.fn, tc.instr)
		}
		if fn.String() != before {
			t.Errorf("@%s: translation modified the function", tc.fn)
		}
	}
}

func TestInstrumentation(t *testing.T) {
	src := addSource + `
define i32 @first(i32 %a, i32 %b) {
entry:
  %x = add i32 %a, 1
  ret i32 %x
}

define double @fl(double %x, ptr %unused) {
entry:
  %y = fmul double %x, %x
  ret double %y
}
`
	m := mustParse(t, src)
	tc32 := avm.TypeCheckInt{Width: 32}
	tests := []struct {
		fn    string
		flags Flags
		want  []avm.Instruction
		pf    avm.ProgramFlags
	}{
		{"add", FlagEnable | FlagTypeChecks,
			[]avm.Instruction{pushReg(0), tc32, pushReg(1), tc32, avm.Add{}, avm.Ret{}},
			avm.FlagTypeChecked},
		{"add", FlagEnable | FlagClearRegisters,
			[]avm.Instruction{pushReg(0), clearReg(0), pushReg(1), clearReg(1), avm.Add{}, avm.Ret{}},
			avm.FlagClearsRegisters},
		{"add", FlagEnable | FlagClearRegisters | FlagTypeChecks,
			[]avm.Instruction{pushReg(0), clearReg(0), tc32, pushReg(1), clearReg(1), tc32, avm.Add{}, avm.Ret{}},
			avm.FlagTypeChecked | avm.FlagClearsRegisters},
		{"first", FlagEnable | FlagClearRegisters,
			[]avm.Instruction{clearReg(1), pushReg(0), clearReg(0), avm.Push{Value: avm.I32Value(1)}, avm.Add{}, avm.Ret{}},
			avm.FlagClearsRegisters},
		{"fl", FlagEnable | FlagTypeChecks | FlagClearRegisters,
			[]avm.Instruction{
				clearReg(1),
				pushReg(0), avm.TypeCheckInt{Width: 64}, pushReg(0), clearReg(0), avm.TypeCheckInt{Width: 64},
				avm.Mul{}, avm.Ret{},
			},
			avm.FlagTypeChecked | avm.FlagClearsRegisters},
	}

	for _, tc := range tests {
		p := translate(t, m, tc.fn, tc.flags, 0)
		checkCode(t, tc.fn+"/"+tc.flags.String(), p.Instructions(), tc.want)
		if p.Flags() != tc.pf {
			t.Errorf("@%s/%s: program flags = %b, want %b", tc.fn, tc.flags, p.Flags(), tc.pf)
		}
	}
}

func TestPolymorphism(t *testing.T) {
	src := `
define i32 @mix(i32 %a, i32 %b, i32 %c) {
entry:
  %x = sub i32 %a, %b
  %y = add i32 %b, %c
  %z = udiv i32 %c, 3
  %w = mul i32 %x, %y
  %v = shl i32 %w, %z
  %u = icmp ult i32 %v, %a
  %t = zext i1 %u to i32
  %r = or i32 %t, %v
  ret i32 %r
}
`
	flags := FlagEnable | FlagPolymorphism | FlagClearRegisters | FlagTypeChecks
	plain := translate(t, mustParse(t, src), "mix", DefaultFlags, 0)

	seen := make(map[string]bool)
	for seed := int64(0); seed < 20; seed++ {
		a := translate(t, mustParse(t, src), "mix", flags, seed)
		b := translate(t, mustParse(t, src), "mix", flags, seed)
		if !a.Equal(b) {
			t.Fatalf("seed %d: translation is not reproducible", seed)
		}
		if a.Flags()&avm.FlagPolymorphic == 0 {
			t.Errorf("seed %d: FlagPolymorphic not set", seed)
		}
		if res := avm.Check(a, 0); !res.Valid() {
			t.Fatalf("seed %d: Check: %v\n%s", seed, res.Err(), a.Disassemble())
		}
		if a.At(a.Len()-1) != (avm.Ret{}) {
			t.Errorf("seed %d: last instruction is %v", seed, a.At(a.Len()-1))
		}
		seen[a.Disassemble()] = true

		for _, args := range [][3]int32{{7, 3, 2}, {-5, 9, 31}, {100, 100, 0}} {
			regs := func(p *avm.Program) []avm.Value {
				r := make([]avm.Value, p.RegisterCount())
				for n, v := range args {
					r[n] = avm.I32Value(v)
				}
				return r
			}
			want, err := avm.Execute(plain, regs(plain))
			if err != nil {
				t.Fatalf("plain mix%v: %v", args, err)
			}
			got, err := avm.Execute(a, regs(a))
			if err != nil {
				t.Fatalf("seed %d: mix%v: %v", seed, args, err)
			}
			if !got.Equal(want) {
				t.Errorf("seed %d: mix%v = %v, want %v", seed, args, got, want)
			}
		}
	}
	if len(seen) < 2 {
		t.Errorf("20 seeds produced %d distinct programs", len(seen))
	}
}
