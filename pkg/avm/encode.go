package avm

import (
	"encoding/binary"
	"fmt"
)

// FormatVersion is the current binary program format version.
// Increment when making incompatible changes to the format.
const FormatVersion uint16 = 1

// Magic bytes for serialized programs: "AVMB" (AVM Bytecode)
var Magic = []byte{'A', 'V', 'M', 'B'}

// Serialize encodes the program to bytes for embedding.
// Format:
//
//	[magic:4] [version:2] [flags:2]
//	[name_len:2] [name:...]
//	[registers:4] [params:4] [returns:1]
//	[count:4] [instructions:...]
//
// Each instruction is its opcode byte followed by its operands, big-endian.
func (p *Program) Serialize() ([]byte, error) {
	h := p.header
	if len(h.Name) > 0xFFFF {
		return nil, fmt.Errorf("avm: program name too long (%d bytes)", len(h.Name))
	}
	if h.Registers < 0 || h.Params < 0 || h.Params > h.Registers {
		return nil, fmt.Errorf("avm: invalid register layout: %d params in %d registers", h.Params, h.Registers)
	}

	buf := make([]byte, 0, 21+len(h.Name)+len(p.code)*4)
	buf = append(buf, Magic...)
	buf = binary.BigEndian.AppendUint16(buf, FormatVersion)
	buf = binary.BigEndian.AppendUint16(buf, uint16(h.Flags))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(h.Name)))
	buf = append(buf, h.Name...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(h.Registers))
	buf = binary.BigEndian.AppendUint32(buf, uint32(h.Params))
	buf = append(buf, byte(h.Returns))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.code)))

	for i, inst := range p.code {
		var err error
		buf, err = appendInstruction(buf, inst)
		if err != nil {
			return nil, fmt.Errorf("avm: encode instruction %d: %w", i, err)
		}
	}
	return buf, nil
}

func appendInstruction(buf []byte, inst Instruction) ([]byte, error) {
	buf = append(buf, byte(inst.Opcode()))

	switch i := inst.(type) {
	case Nop, Pop, Dup, Swap, Alloca2, StoreValue, Sub, Mul,
		And, Or, Xor, Shl, LShr, AShr, Select, Ret:
		// No operands

	case Push:
		buf = append(buf, byte(i.Value.Kind()))
		buf = binary.BigEndian.AppendUint64(buf, i.Value.Bits())
	case PopToReg:
		buf = binary.BigEndian.AppendUint32(buf, i.Reg)
	case PushFromReg:
		buf = binary.BigEndian.AppendUint32(buf, i.Reg)
	case ClearReg:
		buf = binary.BigEndian.AppendUint32(buf, i.Reg)
	case Alloca:
		buf = binary.BigEndian.AppendUint32(buf, i.Size)
	case LoadValue:
		buf = append(buf, byte(i.Kind))
	case Store:
		buf = binary.BigEndian.AppendUint32(buf, i.Addr)
	case Load:
		buf = binary.BigEndian.AppendUint32(buf, i.Addr)
		buf = append(buf, byte(i.Kind))
	case Add:
		buf = append(buf, addFlags(i))
	case Div:
		buf = append(buf, boolByte(i.Unsigned))
	case Rem:
		buf = append(buf, boolByte(i.Unsigned))
	case ICmp:
		buf = append(buf, byte(i.Pred))
	case FCmp:
		buf = append(buf, byte(i.Pred))
	case Cast:
		buf = append(buf, byte(i.Op), byte(i.To))
	case TypeCheckInt:
		buf = append(buf, i.Width)
	case Call:
		if len(i.Callee) > 0xFFFF {
			return nil, fmt.Errorf("callee name too long (%d bytes)", len(i.Callee))
		}
		buf = append(buf, i.Argc, byte(i.Result))
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(i.Callee)))
		buf = append(buf, i.Callee...)
	default:
		return nil, fmt.Errorf("unknown instruction %T", inst)
	}
	return buf, nil
}

func addFlags(a Add) byte {
	var b byte
	if a.nsw {
		b |= 1
	}
	if a.nuw {
		b |= 2
	}
	return b
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// decoder walks a serialized program.
type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) need(n int, what string) error {
	if d.pos+n > len(d.data) {
		return fmt.Errorf("avm: unexpected end of program reading %s at pos %d", what, d.pos)
	}
	return nil
}

func (d *decoder) u8(what string) (byte, error) {
	if err := d.need(1, what); err != nil {
		return 0, err
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) u16(what string) (uint16, error) {
	if err := d.need(2, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(d.data[d.pos:])
	d.pos += 2
	return v, nil
}

func (d *decoder) u32(what string) (uint32, error) {
	if err := d.need(4, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(d.data[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) u64(what string) (uint64, error) {
	if err := d.need(8, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(d.data[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *decoder) str(n int, what string) (string, error) {
	if err := d.need(n, what); err != nil {
		return "", err
	}
	s := string(d.data[d.pos : d.pos+n])
	d.pos += n
	return s, nil
}

// Deserialize decodes a program produced by Serialize.
func Deserialize(data []byte) (*Program, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("avm: program too short: need at least 8 bytes, got %d", len(data))
	}
	if string(data[0:4]) != string(Magic) {
		return nil, fmt.Errorf("avm: invalid program magic: expected %q, got %q", Magic, data[0:4])
	}
	version := binary.BigEndian.Uint16(data[4:6])
	if version > FormatVersion {
		return nil, fmt.Errorf("avm: program version %d is newer than supported version %d", version, FormatVersion)
	}

	d := &decoder{data: data, pos: 6}
	var h Header
	flags, err := d.u16("flags")
	if err != nil {
		return nil, err
	}
	h.Flags = ProgramFlags(flags)

	nameLen, err := d.u16("name length")
	if err != nil {
		return nil, err
	}
	if h.Name, err = d.str(int(nameLen), "name"); err != nil {
		return nil, err
	}
	regs, err := d.u32("register count")
	if err != nil {
		return nil, err
	}
	params, err := d.u32("param count")
	if err != nil {
		return nil, err
	}
	if params > regs {
		return nil, fmt.Errorf("avm: %d params exceed %d registers", params, regs)
	}
	h.Registers, h.Params = int(regs), int(params)
	ret, err := d.u8("return kind")
	if err != nil {
		return nil, err
	}
	h.Returns = Kind(ret)
	if h.Returns != KindInvalid && !h.Returns.Valid() {
		return nil, fmt.Errorf("avm: invalid return kind %d", ret)
	}

	count, err := d.u32("instruction count")
	if err != nil {
		return nil, err
	}
	// Every instruction is at least one byte.
	if int(count) > len(data)-d.pos {
		return nil, fmt.Errorf("avm: instruction count %d exceeds remaining %d bytes", count, len(data)-d.pos)
	}

	code := make([]Instruction, 0, count)
	for i := 0; i < int(count); i++ {
		inst, err := d.instruction()
		if err != nil {
			return nil, fmt.Errorf("avm: decode instruction %d: %w", i, err)
		}
		code = append(code, inst)
	}
	if d.pos != len(data) {
		return nil, fmt.Errorf("avm: %d trailing bytes after program", len(data)-d.pos)
	}
	return &Program{header: h, code: code}, nil
}

func (d *decoder) kind(what string) (Kind, error) {
	b, err := d.u8(what)
	if err != nil {
		return 0, err
	}
	k := Kind(b)
	if !k.Valid() {
		return 0, fmt.Errorf("invalid kind %d for %s", b, what)
	}
	return k, nil
}

func (d *decoder) instruction() (Instruction, error) {
	b, err := d.u8("opcode")
	if err != nil {
		return nil, err
	}
	op := Opcode(b)

	switch op {
	case OpNop:
		return Nop{}, nil
	case OpPop:
		return Pop{}, nil
	case OpDup:
		return Dup{}, nil
	case OpSwap:
		return Swap{}, nil
	case OpAlloca2:
		return Alloca2{}, nil
	case OpStoreValue:
		return StoreValue{}, nil
	case OpSub:
		return Sub{}, nil
	case OpMul:
		return Mul{}, nil
	case OpAnd:
		return And{}, nil
	case OpOr:
		return Or{}, nil
	case OpXor:
		return Xor{}, nil
	case OpShl:
		return Shl{}, nil
	case OpLShr:
		return LShr{}, nil
	case OpAShr:
		return AShr{}, nil
	case OpSelect:
		return Select{}, nil
	case OpRet:
		return Ret{}, nil

	case OpPush:
		k, err := d.kind("push kind")
		if err != nil {
			return nil, err
		}
		bits, err := d.u64("push payload")
		if err != nil {
			return nil, err
		}
		v, err := FromBits(k, bits)
		if err != nil {
			return nil, err
		}
		return Push{Value: v}, nil

	case OpPopToReg, OpPushFromReg, OpClearReg:
		r, err := d.u32("register")
		if err != nil {
			return nil, err
		}
		switch op {
		case OpPopToReg:
			return PopToReg{Reg: r}, nil
		case OpPushFromReg:
			return PushFromReg{Reg: r}, nil
		default:
			return ClearReg{Reg: r}, nil
		}

	case OpAlloca:
		n, err := d.u32("alloca size")
		if err != nil {
			return nil, err
		}
		return Alloca{Size: n}, nil

	case OpLoadValue:
		k, err := d.kind("load kind")
		if err != nil {
			return nil, err
		}
		return LoadValue{Kind: k}, nil

	case OpStore:
		a, err := d.u32("global address")
		if err != nil {
			return nil, err
		}
		return Store{Addr: a}, nil

	case OpLoad:
		a, err := d.u32("global address")
		if err != nil {
			return nil, err
		}
		k, err := d.kind("load kind")
		if err != nil {
			return nil, err
		}
		return Load{Addr: a, Kind: k}, nil

	case OpAdd:
		f, err := d.u8("add flags")
		if err != nil {
			return nil, err
		}
		if f&^3 != 0 {
			return nil, &ConstructionError{Op: OpAdd, Reason: fmt.Sprintf("unknown flag bits 0x%02x", f)}
		}
		return NewAdd(f&1 != 0, f&2 != 0)

	case OpDiv, OpRem:
		u, err := d.u8("signedness")
		if err != nil {
			return nil, err
		}
		if u > 1 {
			return nil, &ConstructionError{Op: op, Reason: fmt.Sprintf("invalid signedness byte %d", u)}
		}
		if op == OpDiv {
			return Div{Unsigned: u == 1}, nil
		}
		return Rem{Unsigned: u == 1}, nil

	case OpICmp:
		p, err := d.u8("predicate")
		if err != nil {
			return nil, err
		}
		if !IntPredicate(p).Valid() {
			return nil, &ConstructionError{Op: op, Reason: fmt.Sprintf("invalid predicate %d", p)}
		}
		return ICmp{Pred: IntPredicate(p)}, nil

	case OpFCmp:
		p, err := d.u8("predicate")
		if err != nil {
			return nil, err
		}
		if !FloatPredicate(p).Valid() {
			return nil, &ConstructionError{Op: op, Reason: fmt.Sprintf("invalid predicate %d", p)}
		}
		return FCmp{Pred: FloatPredicate(p)}, nil

	case OpCast:
		c, err := d.u8("cast op")
		if err != nil {
			return nil, err
		}
		if !CastOp(c).Valid() {
			return nil, &ConstructionError{Op: op, Reason: fmt.Sprintf("invalid cast op %d", c)}
		}
		k, err := d.kind("cast target")
		if err != nil {
			return nil, err
		}
		return Cast{Op: CastOp(c), To: k}, nil

	case OpTypeCheckInt:
		w, err := d.u8("width")
		if err != nil {
			return nil, err
		}
		return TypeCheckInt{Width: w}, nil

	case OpCall:
		argc, err := d.u8("argc")
		if err != nil {
			return nil, err
		}
		rk, err := d.u8("result kind")
		if err != nil {
			return nil, err
		}
		if Kind(rk) != KindInvalid && !Kind(rk).Valid() {
			return nil, fmt.Errorf("invalid result kind %d", rk)
		}
		n, err := d.u16("callee length")
		if err != nil {
			return nil, err
		}
		name, err := d.str(int(n), "callee")
		if err != nil {
			return nil, err
		}
		return Call{Callee: name, Argc: argc, Result: Kind(rk)}, nil
	}

	return nil, fmt.Errorf("unknown opcode 0x%02X", b)
}
