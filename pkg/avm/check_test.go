package avm

import (
	"strings"
	"testing"
)

func TestCheckValidProgram(t *testing.T) {
	res := Check(sampleProgram(), 0)
	if !res.Valid() {
		t.Fatalf("Check(sample) errors: %v", res.Errors)
	}
	if res.MaxDepth != 3 {
		t.Errorf("MaxDepth = %d, want 3", res.MaxDepth)
	}
	if res.Err() != nil {
		t.Errorf("Err() = %v, want nil", res.Err())
	}
}

func TestCheckProblems(t *testing.T) {
	tests := []struct {
		name string
		h    Header
		code []Instruction
		want string
	}{
		{"underflow", Header{Returns: KindI32}, []Instruction{Add{}, Ret{}}, "underflow"},
		{"register", Header{Registers: 1, Returns: KindI32}, []Instruction{PushFromReg{Reg: 1}, Ret{}}, "out of range"},
		{"no ret", Header{Returns: KindI32}, []Instruction{Push{Value: I32Value(1)}}, "does not end with RET"},
		{"early ret", Header{}, []Instruction{Ret{}, Nop{}, Ret{}}, "not the last"},
		{"empty ret", Header{Returns: KindI32}, []Instruction{Ret{}}, "empty stack"},
		{"params", Header{Registers: 1, Params: 2}, []Instruction{Ret{}}, "params exceed"},
		{"empty", Header{}, nil, "does not end with RET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Check(NewProgram(tt.h, tt.code), 0)
			if res.Valid() {
				t.Fatal("Check reported no problems")
			}
			if !strings.Contains(res.Err().Error(), tt.want) {
				t.Errorf("Err() = %q, want it to mention %q", res.Err(), tt.want)
			}
		})
	}
}

func TestCheckStackLimit(t *testing.T) {
	p := NewProgram(Header{Returns: KindI32}, []Instruction{
		Push{Value: I32Value(1)},
		Dup{},
		Dup{},
		Add{},
		Add{},
		Ret{},
	})
	if res := Check(p, 2); res.Valid() {
		t.Error("Check with limit 2 should fail at depth 3")
	}
	if res := Check(p, 3); !res.Valid() {
		t.Errorf("Check with limit 3: %v", res.Errors)
	}
}

func TestDisassemble(t *testing.T) {
	out := sampleProgram().Disassemble()
	for _, want := range []string{
		"; === sample ===",
		"[CLEAR_REGS]",
		"; Registers: 3 (params 2)",
		"; Returns: i32",
		"0000  PUSH_FROM_REG r0",
		"ADD nuw",
		"CALL @helper/1 -> i32",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Disassemble() missing %q:\n%s", want, out)
		}
	}
}
