package avm

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing for the program.
func (p *Program) Disassemble() string {
	var sb strings.Builder

	h := p.header
	if h.Name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", h.Name))
	}
	sb.WriteString(fmt.Sprintf("; AVM Bytecode v%d\n", FormatVersion))
	sb.WriteString(fmt.Sprintf("; Flags: 0x%04X", uint16(h.Flags)))
	if h.Flags&FlagPolymorphic != 0 {
		sb.WriteString(" [POLYMORPHIC]")
	}
	if h.Flags&FlagClearsRegisters != 0 {
		sb.WriteString(" [CLEAR_REGS]")
	}
	if h.Flags&FlagTypeChecked != 0 {
		sb.WriteString(" [TYPE_CHECKS]")
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("; Registers: %d (params %d)\n", h.Registers, h.Params))
	if h.Returns == KindInvalid {
		sb.WriteString("; Returns: void\n")
	} else {
		sb.WriteString(fmt.Sprintf("; Returns: %s\n", h.Returns))
	}
	sb.WriteString("\n")

	for i, inst := range p.code {
		sb.WriteString(fmt.Sprintf("%04d  %s\n", i, inst))
	}
	return sb.String()
}
