package avm

import (
	"errors"
	"fmt"
)

// Runtime fault causes. A RuntimeError wraps exactly one of these, so callers
// can test with errors.Is.
var (
	ErrStackUnderflow = errors.New("stack underflow")
	ErrStackOverflow  = errors.New("stack overflow")
	ErrTypeMismatch   = errors.New("type mismatch")
	ErrDivideByZero   = errors.New("division by zero")
	ErrOverflow       = errors.New("arithmetic overflow")
	ErrBadShift       = errors.New("shift amount out of range")
	ErrBadRegister    = errors.New("register out of range")
	ErrBadAddress     = errors.New("invalid arena address")
	ErrBadGlobal      = errors.New("invalid global address")
	ErrNoCaller       = errors.New("no caller configured for CALL")
	ErrNoReturn       = errors.New("program ended without RET")
	ErrBadInstruction = errors.New("malformed instruction")
)

// RuntimeError is raised by the interpreter when a program faults. It is
// fatal to the executing program and never a compile-time condition.
type RuntimeError struct {
	Program string // Program name, if known
	PC      int    // Index of the faulting instruction
	Op      Opcode // Opcode of the faulting instruction
	Err     error  // One of the Err* causes, possibly wrapped with detail
}

func (e *RuntimeError) Error() string {
	loc := fmt.Sprintf("pc %d (%s)", e.PC, e.Op)
	if e.Program != "" {
		loc = e.Program + ": " + loc
	}
	return fmt.Sprintf("avm: %s: %v", loc, e.Err)
}

// Unwrap exposes the cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// ConstructionError reports an instruction built or decoded with an invalid
// combination of operands. Such an instruction never reaches the interpreter.
type ConstructionError struct {
	Op     Opcode
	Reason string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("avm: invalid %s instruction: %s", e.Op, e.Reason)
}

// IsRuntimeError reports whether err is (or wraps) a RuntimeError and returns it.
func IsRuntimeError(err error) (*RuntimeError, bool) {
	var rt *RuntimeError
	if errors.As(err, &rt) {
		return rt, true
	}
	return nil, false
}
