package virtualize

import (
	"strconv"
	"testing"

	"github.com/chazu/veil/ir"
)

// chain builds @f(i32 %a) with exactly n instructions: n-1 adds and a ret.
func chain(n int) *ir.Function {
	m := ir.NewModule("chain")
	f := m.AddFunction(ir.NewFunction("f", ir.TypeI32, []ir.Type{ir.TypeI32}, "a"))
	b := ir.NewBuilder(f.NewBlock("entry"))
	if n == 0 {
		return f
	}
	for k := 1; k < n; k++ {
		b.Add("v"+strconv.Itoa(k), f.Params[0], ir.ConstInt(ir.TypeI32, int64(k)), false, false)
	}
	b.Ret(f.Params[0])
	return f
}

func TestEligibilityBounds(t *testing.T) {
	tests := []struct {
		n      int
		ok     bool
		reason Reason
	}{
		{0, false, ReasonTooSmall},
		{1, true, ReasonEligible},
		{2, true, ReasonEligible},
		{MaxInstructions, true, ReasonEligible},
		{MaxInstructions + 1, false, ReasonTooLarge},
	}

	for _, tc := range tests {
		e := CheckEligibility(chain(tc.n))
		if e.OK != tc.ok || e.Reason != tc.reason {
			t.Errorf("n=%d: got (%v, %s), want (%v, %s)", tc.n, e.OK, e.Reason, tc.ok, tc.reason)
		}
		if e.Count != tc.n {
			t.Errorf("n=%d: Count = %d", tc.n, e.Count)
		}
	}
}

func TestEligibilityUnsupported(t *testing.T) {
	ops := []ir.Opcode{
		ir.OpIndirectBr, ir.OpInvoke, ir.OpCallBr, ir.OpResume, ir.OpCatchPad,
		ir.OpCatchRet, ir.OpCatchSwitch, ir.OpCleanupPad, ir.OpCleanupRet,
	}
	for _, op := range ops {
		f := chain(3)
		entry := f.Blocks[0]
		ret := entry.Instrs[len(entry.Instrs)-1]
		entry.Instrs = entry.Instrs[:len(entry.Instrs)-1]
		ir.NewBuilder(entry).Exceptional(op, "", ir.TypeVoid, "")
		entry.Append(ret)

		e := CheckEligibility(f)
		if e.OK || e.Reason != ReasonUnsupported {
			t.Errorf("%s: got (%v, %s), want rejection as unsupported", op, e.OK, e.Reason)
			continue
		}
		if len(e.Unsupported) != 1 || e.Unsupported[0].Op != op {
			t.Errorf("%s: Unsupported = %v", op, e.Unsupported)
		}
		if !IsUnsupported(op) {
			t.Errorf("IsUnsupported(%s) = false", op)
		}
	}
}

func TestEligibilityScansEverything(t *testing.T) {
	f := chain(MaxInstructions + 10)
	b := ir.NewBuilder(f.NewBlock("late"))
	b.Exceptional(ir.OpResume, "", ir.TypeVoid, "ptr null")
	b.Exceptional(ir.OpCleanupRet, "", ir.TypeVoid, "from none unwind to caller")

	e := CheckEligibility(f)
	if e.Reason != ReasonUnsupported {
		t.Fatalf("Reason = %s, want %s", e.Reason, ReasonUnsupported)
	}
	if len(e.Unsupported) != 2 {
		t.Errorf("found %d unsupported instructions, want 2", len(e.Unsupported))
	}
	if e.Count != MaxInstructions+12 {
		t.Errorf("Count = %d, want %d", e.Count, MaxInstructions+12)
	}
}

func TestEligibilityAttributes(t *testing.T) {
	src := `
declare i32 @ext(i32)
declare ptr @avm.regfile(i32) intrinsic novirt

define i32 @exempt(i32 %a) novirt {
entry:
  %s = add i32 %a, 1
  ret i32 %s
}

define i32 @done(i32 %a) trampoline {
entry:
  %s = add i32 %a, 1
  ret i32 %s
}

define void @noop() {
entry:
  ret void
}

define i32 @wrapper(i32 %a) {
entry:
  %r = call i32 @ext(i32 %a)
  ret i32 %r
}

define i32 @swapped(i32 %a, i32 %b) {
entry:
  %r = call i32 @two(i32 %b, i32 %a)
  ret i32 %r
}

define i32 @two(i32 %a, i32 %b) {
entry:
  %s = sub i32 %a, %b
  ret i32 %s
}
`
	m := mustParse(t, src)
	tests := []struct {
		fn     string
		reason Reason
	}{
		{"ext", ReasonDeclaration},
		{"avm.regfile", ReasonIntrinsic},
		{"exempt", ReasonExempt},
		{"done", ReasonTrampoline},
		{"noop", ReasonTrivial},
		{"wrapper", ReasonTrivial},
		{"swapped", ReasonEligible},
		{"two", ReasonEligible},
	}
	for _, tc := range tests {
		e := CheckEligibility(m.Function(tc.fn))
		if e.Reason != tc.reason {
			t.Errorf("@%s: Reason = %s, want %s", tc.fn, e.Reason, tc.reason)
		}
		if e.OK != (tc.reason == ReasonEligible) {
			t.Errorf("@%s: OK = %v", tc.fn, e.OK)
		}
	}
}
