package avm

// ProgramFlags records which instrumentation was applied when a program was
// built. They are informational; the interpreter does not consult them.
type ProgramFlags uint16

const (
	// FlagPolymorphic indicates equivalent sequences were randomized.
	FlagPolymorphic ProgramFlags = 1 << 0

	// FlagClearsRegisters indicates dead registers are cleared with ClearReg.
	FlagClearsRegisters ProgramFlags = 1 << 1

	// FlagTypeChecked indicates TypeCheckInt guards were inserted.
	FlagTypeChecked ProgramFlags = 1 << 2
)

// Header carries everything about a Program except its code.
type Header struct {
	Name      string       // Source function name
	Registers int          // Register file size required
	Params    int          // Leading registers filled from arguments
	Returns   Kind         // Result kind; KindInvalid for void
	Flags     ProgramFlags // Instrumentation applied
}

// Program is an immutable bytecode program. It is created once per source
// function, either installed behind a trampoline or discarded.
type Program struct {
	header Header
	code   []Instruction
}

// NewProgram builds a Program. The instruction slice is copied so later
// changes by the caller do not affect the program.
func NewProgram(h Header, code []Instruction) *Program {
	cp := make([]Instruction, len(code))
	copy(cp, code)
	return &Program{header: h, code: cp}
}

func (p *Program) Header() Header       { return p.header }
func (p *Program) Name() string         { return p.header.Name }
func (p *Program) RegisterCount() int   { return p.header.Registers }
func (p *Program) ParamCount() int      { return p.header.Params }
func (p *Program) Returns() Kind        { return p.header.Returns }
func (p *Program) Flags() ProgramFlags  { return p.header.Flags }
func (p *Program) Len() int             { return len(p.code) }
func (p *Program) At(i int) Instruction { return p.code[i] }

// Instructions returns a copy of the program's code.
func (p *Program) Instructions() []Instruction {
	cp := make([]Instruction, len(p.code))
	copy(cp, p.code)
	return cp
}

// Equal reports whether two programs have identical headers and code.
func (p *Program) Equal(o *Program) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.header != o.header || len(p.code) != len(o.code) {
		return false
	}
	for i := range p.code {
		if p.code[i] != o.code[i] {
			return false
		}
	}
	return true
}

// CountOpcode returns how many instructions in the program use op.
func (p *Program) CountOpcode(op Opcode) int {
	n := 0
	for _, inst := range p.code {
		if inst.Opcode() == op {
			n++
		}
	}
	return n
}
