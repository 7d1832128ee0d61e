package virtualize

import (
	"math/rand/v2"

	"github.com/chazu/veil/pkg/avm"
)

// instrument applies the optional transformations selected by the
// context's flags to the translated code, in the order polymorphism, type
// guards, register clearing. No transformation changes what the program
// computes, and none places code after the final Ret.
func instrument(c *Context) ([]avm.Instruction, avm.ProgramFlags) {
	code := c.Code()
	var pf avm.ProgramFlags
	if c.Flags.Has(FlagPolymorphism) {
		code = polymorph(code, c.rng)
		pf |= avm.FlagPolymorphic
	}
	if c.Flags.Has(FlagTypeChecks) {
		code = guardTypes(code, c.Regs)
		pf |= avm.FlagTypeChecked
	}
	if c.Flags.Has(FlagClearRegisters) {
		code = clearRegisters(code, c.Regs.Count())
		pf |= avm.FlagClearsRegisters
	}
	return code, pf
}

func simplePush(i avm.Instruction) bool {
	switch i.(type) {
	case avm.Push, avm.PushFromReg:
		return true
	}
	return false
}

func binaryOp(i avm.Instruction) bool {
	switch i.(type) {
	case avm.Add, avm.Sub, avm.Mul, avm.Div, avm.Rem,
		avm.And, avm.Or, avm.Xor, avm.Shl, avm.LShr, avm.AShr,
		avm.ICmp, avm.FCmp:
		return true
	}
	return false
}

func commutative(i avm.Instruction) bool {
	switch i.(type) {
	case avm.Add, avm.Mul, avm.And, avm.Or, avm.Xor:
		return true
	}
	return false
}

// polymorph rewrites code into an equivalent sequence chosen by rng:
// operands of binary operations are pushed in either order, and Nop
// padding and Dup/Pop pairs are sprinkled in.
func polymorph(code []avm.Instruction, rng *rand.Rand) []avm.Instruction {
	out := make([]avm.Instruction, 0, len(code)+len(code)/2)
	for n := 0; n < len(code); n++ {
		if rng.IntN(8) == 0 {
			out = append(out, avm.Nop{})
		}
		if n+2 < len(code) && simplePush(code[n]) && simplePush(code[n+1]) && binaryOp(code[n+2]) && rng.IntN(2) == 0 {
			a, b, op := code[n], code[n+1], code[n+2]
			if commutative(op) {
				out = append(out, b, a, op)
			} else {
				out = append(out, b, a, avm.Swap{}, op)
			}
			n += 2
			continue
		}
		out = append(out, code[n])
		if simplePush(code[n]) && rng.IntN(8) == 0 {
			out = append(out, avm.Dup{}, avm.Pop{})
		}
	}
	return out
}

func guardWidth(k avm.Kind) (uint8, bool) {
	if k == avm.KindBool || k.IsInt() || k.IsFloat() {
		return uint8(k.LogicalBits()), true
	}
	return 0, false
}

// guardTypes follows every read of an integer, bool or float value from a
// register or memory with a TypeCheckInt of its width.
func guardTypes(code []avm.Instruction, regs *RegisterAllocator) []avm.Instruction {
	out := make([]avm.Instruction, 0, len(code)*2)
	for _, inst := range code {
		out = append(out, inst)
		var k avm.Kind
		switch i := inst.(type) {
		case avm.PushFromReg:
			k = regs.Kind(Register(i.Reg))
		case avm.LoadValue:
			k = i.Kind
		case avm.Load:
			k = i.Kind
		default:
			continue
		}
		if w, ok := guardWidth(k); ok {
			out = append(out, avm.TypeCheckInt{Width: w})
		}
	}
	return out
}

// clearRegisters zeroes each register once it is dead: after its last
// read, after its last write if it is never read, and at entry if it is
// never touched.
func clearRegisters(code []avm.Instruction, nregs int) []avm.Instruction {
	last := make([]int, nregs)
	for r := range last {
		last[r] = -1
	}
	read := make([]bool, nregs)
	for pc, inst := range code {
		switch i := inst.(type) {
		case avm.PushFromReg:
			if int(i.Reg) < nregs {
				last[i.Reg], read[i.Reg] = pc, true
			}
		case avm.PopToReg:
			if int(i.Reg) < nregs && !read[i.Reg] {
				last[i.Reg] = pc
			}
		}
	}

	after := make(map[int][]avm.Instruction)
	var entry []avm.Instruction
	for r, pc := range last {
		clr := avm.ClearReg{Reg: uint32(r)}
		if pc < 0 {
			entry = append(entry, clr)
			continue
		}
		after[pc] = append(after[pc], clr)
	}

	out := make([]avm.Instruction, 0, len(code)+nregs)
	out = append(out, entry...)
	for pc, inst := range code {
		out = append(out, inst)
		out = append(out, after[pc]...)
	}
	return out
}
