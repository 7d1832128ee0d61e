package avm

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// sampleProgram covers every operand encoding.
func sampleProgram() *Program {
	nuw, _ := NewAdd(false, true)
	return NewProgram(Header{
		Name:      "sample",
		Registers: 3,
		Params:    2,
		Returns:   KindI32,
		Flags:     FlagClearsRegisters,
	}, []Instruction{
		PushFromReg{Reg: 0},
		TypeCheckInt{Width: 32},
		PushFromReg{Reg: 1},
		nuw,
		Push{Value: F64Value(-0.5)},
		Pop{},
		Alloca{Size: 2},
		PopToReg{Reg: 2},
		Push{Value: I32Value(9)},
		PushFromReg{Reg: 2},
		StoreValue{},
		PushFromReg{Reg: 2},
		LoadValue{Kind: KindI32},
		Store{Addr: 1},
		Load{Addr: 1, Kind: KindI32},
		Div{Unsigned: true},
		Cast{Op: CastSExt, To: KindI64},
		Cast{Op: CastTrunc, To: KindI32},
		ClearReg{Reg: 2},
		Call{Callee: "helper", Argc: 1, Result: KindI32},
		Ret{},
	})
}

func TestSerializeRoundTrip(t *testing.T) {
	p := sampleProgram()

	data, err := p.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !bytes.HasPrefix(data, Magic) {
		t.Errorf("serialized program does not start with %q", Magic)
	}

	got, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !got.Equal(p) {
		t.Errorf("round trip mismatch:\n%s\nwant:\n%s", got.Disassemble(), p.Disassemble())
	}
}

func TestDeserializeRejectsDoubleFlaggedAdd(t *testing.T) {
	p := NewProgram(Header{Name: "f", Returns: KindInvalid}, []Instruction{Ret{}})
	data, err := p.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	// Replace the single RET with ADD nsw|nuw followed by RET.
	data = append(data[:len(data)-5], 0, 0, 0, 2, byte(OpAdd), 3, byte(OpRet))

	_, err = Deserialize(data)
	var ce *ConstructionError
	if !errors.As(err, &ce) {
		t.Fatalf("Deserialize error = %v, want ConstructionError", err)
	}
	if ce.Op != OpAdd {
		t.Errorf("ConstructionError.Op = %s, want ADD", ce.Op)
	}
}

func TestDeserializeErrors(t *testing.T) {
	good, err := sampleProgram().Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"short", []byte("AVM"), "too short"},
		{"magic", append([]byte("XXXX"), good[4:]...), "magic"},
		{"truncated", good[:len(good)-3], "unexpected end"},
		{"trailing", append(append([]byte{}, good...), 0), "trailing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Deserialize(tt.data)
			if err == nil {
				t.Fatal("Deserialize succeeded")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestCBORRoundTrip(t *testing.T) {
	p := sampleProgram()

	data, err := MarshalProgram(p)
	if err != nil {
		t.Fatalf("MarshalProgram: %v", err)
	}
	got, err := UnmarshalProgram(data)
	if err != nil {
		t.Fatalf("UnmarshalProgram: %v", err)
	}
	if !got.Equal(p) {
		t.Errorf("CBOR round trip mismatch:\n%s", got.Disassemble())
	}

	again, err := MarshalProgram(got)
	if err != nil {
		t.Fatalf("MarshalProgram: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Error("canonical CBOR encoding is not stable")
	}
}

func TestCBORHashMismatch(t *testing.T) {
	data, err := MarshalProgram(sampleProgram())
	if err != nil {
		t.Fatalf("MarshalProgram: %v", err)
	}
	// The name "sample" appears once; corrupt it.
	i := bytes.Index(data, []byte("sample"))
	if i < 0 {
		t.Fatal("name not found in encoding")
	}
	data[i] = 'S'
	if _, err := UnmarshalProgram(data); err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Errorf("UnmarshalProgram error = %v, want hash mismatch", err)
	}
}

func TestBundleRoundTrip(t *testing.T) {
	a := sampleProgram()
	b := NewProgram(Header{Name: "other", Registers: 1, Params: 1, Returns: KindI64},
		[]Instruction{PushFromReg{Reg: 0}, Ret{}})

	data, err := MarshalBundle([]*Program{a, b})
	if err != nil {
		t.Fatalf("MarshalBundle: %v", err)
	}
	got, err := UnmarshalBundle(data)
	if err != nil {
		t.Fatalf("UnmarshalBundle: %v", err)
	}
	if len(got) != 2 || !got[0].Equal(a) || !got[1].Equal(b) {
		t.Errorf("bundle round trip mismatch: %d programs", len(got))
	}

	if _, err := UnmarshalBundle([]byte{0xff}); err == nil {
		t.Error("UnmarshalBundle accepted garbage")
	}
}
