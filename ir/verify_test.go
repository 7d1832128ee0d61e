package ir

import (
	"errors"
	"strings"
	"testing"
)

func TestVerifyRejects(t *testing.T) {
	tests := []struct {
		desc string
		src  string
		want string
	}{
		{"ret type", "define i32 @f() {\n  ret i64 0\n}", "ret does not return i32"},
		{"no terminator", "define i32 @f(i32 %a) {\n  %b = add i32 %a, 1\n}", "does not end with a terminator"},
		{"call arity", "declare i32 @g(i32)\ndefine i32 @f() {\n  %r = call i32 @g()\n  ret i32 %r\n}", "passes 0 arguments, want 1"},
		{"call types", "declare i32 @g(i32)\ndefine i32 @f() {\n  %r = call i32 @g(i64 1)\n  ret i32 %r\n}", "argument 0 to @g is i64"},
		{"undefined callee", "define void @f() {\n  call void @nobody()\n  ret void\n}", "undefined function @nobody"},
		{"operand types", "define i32 @f(i64 %a) {\n  %b = add i32 %a, 1\n  ret i32 %b\n}", "do not match result i32"},
		{"float op on ints", "define i32 @f(i32 %a) {\n  %b = fadd i32 %a, %a\n  ret i32 %b\n}", "fadd on non-float type i32"},
		{"bad cast", "define i32 @f(i32 %a) {\n  %b = trunc i32 %a to i64\n  ret i32 0\n}", "invalid trunc from i32 to i64"},
		{"bitcast bool", "define i8 @f(i1 %a) {\n  %b = bitcast i1 %a to i8\n  ret i8 %b\n}", "invalid bitcast"},
		{"mid-block terminator", "define void @f() {\n  ret void\n  ret void\n}", "in the middle of a block"},
		{"intrinsic body", "define void @f() intrinsic {\n  ret void\n}", "intrinsic function has a body"},
		{"branch condition", "define void @f(i32 %c) {\nentry:\n  br i32 %c, label %a, label %a\na:\n  ret void\n}", "branch condition is i32"},
		{
			"phi placement",
			"define i32 @f(i1 %c) {\nentry:\n  br i1 %c, label %a, label %b\na:\n  br label %b\nb:\n  %x = add i32 1, 2\n  %p = phi i32 [ 1, %entry ], [ 2, %a ]\n  ret i32 %p\n}",
			"phi after non-phi",
		},
		{"load type", "define i32 @f(i32 %p) {\n  %v = load i32, i32 %p\n  ret i32 %v\n}", "load through i32"},
		{"global init", "@g = global i32 1\ndefine void @f() {\n  ret void\n}", ""},
	}

	for _, tc := range tests {
		m := mustParse(t, tc.src)
		err := Verify(m)
		if tc.want == "" {
			if err != nil {
				t.Errorf("%s: Verify = %v, want nil", tc.desc, err)
			}
			continue
		}
		if err == nil {
			t.Errorf("%s: Verify succeeded, want %q", tc.desc, tc.want)
			continue
		}
		var ve *VerifyError
		if !errors.As(err, &ve) {
			t.Errorf("%s: error %T is not a *VerifyError", tc.desc, err)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: Verify = %q, want it to contain %q", tc.desc, err, tc.want)
		}
	}
}

func TestVerifyReportsLocation(t *testing.T) {
	m := mustParse(t, "define i32 @f(i64 %a) {\n  %b = add i32 %a, 1\n  ret i32 %b\n}")
	err := VerifyFunction(m.Function("f"))
	var ve *VerifyError
	if !errors.As(err, &ve) {
		t.Fatalf("VerifyFunction = %v, want *VerifyError", err)
	}
	if ve.Function != "f" || ve.Block != "entry" || ve.Instr != "%b" {
		t.Errorf("location = %s/%s/%s, want f/entry/%%b", ve.Function, ve.Block, ve.Instr)
	}
}

func TestVerifyDetachedFunction(t *testing.T) {
	// A function outside a module cannot check call signatures but is
	// otherwise verified.
	f := NewFunction("f", TypeI32, []Type{TypeI32}, "x")
	b := NewBuilder(f.NewBlock("entry"))
	r := b.Call("r", TypeI32, "elsewhere", f.Params[0])
	b.Ret(r)
	if err := VerifyFunction(f); err != nil {
		t.Errorf("VerifyFunction = %v, want nil", err)
	}

	other := NewFunction("g", TypeI32, nil)
	ob := NewBuilder(other.NewBlock("entry"))
	ob.Ret(r)
	if err := VerifyFunction(other); err == nil || !strings.Contains(err.Error(), "not defined in this function") {
		t.Errorf("VerifyFunction with foreign operand = %v", err)
	}
}
