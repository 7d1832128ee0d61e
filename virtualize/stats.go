package virtualize

import (
	"fmt"
	"strings"
)

// Status is the fate of one function in a pass.
type Status uint8

const (
	StatusSkipped Status = iota
	StatusVirtualized
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusVirtualized:
		return "virtualized"
	case StatusFailed:
		return "failed"
	}
	return "skipped"
}

// Outcome records what happened to one function.
type Outcome struct {
	Function     string
	Status       Status
	Reason       string // why the function was skipped or failed
	Instructions int    // source instructions translated
	Bytecode     int    // bytecode instructions installed
	Registers    int
	Seed         int64
}

func (o Outcome) String() string {
	switch o.Status {
	case StatusVirtualized:
		return fmt.Sprintf("@%s: virtualized (%d instructions -> %d bytecode, %d registers)",
			o.Function, o.Instructions, o.Bytecode, o.Registers)
	default:
		return fmt.Sprintf("@%s: %s: %s", o.Function, o.Status, o.Reason)
	}
}

// Stats aggregates outcomes. It is diagnostic only.
type Stats struct {
	FunctionsProcessed     int
	FunctionsVirtualized   int
	FunctionsSkipped       int
	FunctionsFailed        int
	InstructionsTranslated int
	BytecodeEmitted        int
}

// Record counts one outcome.
func (s *Stats) Record(o Outcome) {
	s.FunctionsProcessed++
	switch o.Status {
	case StatusVirtualized:
		s.FunctionsVirtualized++
		s.InstructionsTranslated += o.Instructions
		s.BytecodeEmitted += o.Bytecode
	case StatusFailed:
		s.FunctionsFailed++
	default:
		s.FunctionsSkipped++
	}
}

// Merge adds the counts of o to s.
func (s *Stats) Merge(o Stats) {
	s.FunctionsProcessed += o.FunctionsProcessed
	s.FunctionsVirtualized += o.FunctionsVirtualized
	s.FunctionsSkipped += o.FunctionsSkipped
	s.FunctionsFailed += o.FunctionsFailed
	s.InstructionsTranslated += o.InstructionsTranslated
	s.BytecodeEmitted += o.BytecodeEmitted
}

// VirtualizationRate returns the fraction of processed functions that were
// virtualized.
func (s Stats) VirtualizationRate() float64 {
	if s.FunctionsProcessed == 0 {
		return 0
	}
	return float64(s.FunctionsVirtualized) / float64(s.FunctionsProcessed)
}

// ExpansionRatio returns bytecode instructions per translated source
// instruction.
func (s Stats) ExpansionRatio() float64 {
	if s.InstructionsTranslated == 0 {
		return 0
	}
	return float64(s.BytecodeEmitted) / float64(s.InstructionsTranslated)
}

func (s Stats) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "functions: %d processed, %d virtualized, %d skipped, %d failed (%.1f%%)\n",
		s.FunctionsProcessed, s.FunctionsVirtualized, s.FunctionsSkipped, s.FunctionsFailed,
		100*s.VirtualizationRate())
	fmt.Fprintf(&sb, "instructions: %d translated, %d bytecode (x%.2f)",
		s.InstructionsTranslated, s.BytecodeEmitted, s.ExpansionRatio())
	return sb.String()
}
