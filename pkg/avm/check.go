package avm

import (
	"fmt"
	"strings"
)

// DefaultMaxStackDepth bounds the operand stack when no limit is given.
const DefaultMaxStackDepth = 1024

// CheckResult is the outcome of a static program check.
type CheckResult struct {
	MaxDepth int      // Deepest operand stack reached
	Errors   []string // Problems found, in program order
}

// Valid reports whether no problems were found.
func (r CheckResult) Valid() bool { return len(r.Errors) == 0 }

// Err folds the problems into a single error, or returns nil.
func (r CheckResult) Err() error {
	if r.Valid() {
		return nil
	}
	return fmt.Errorf("avm: program check failed: %s", strings.Join(r.Errors, "; "))
}

// Check walks the program once, tracking operand stack depth, and reports
// underflow, stack limit violations, out-of-range registers, and a missing or
// misplaced RET. Programs are straight-line, so one pass is exact.
func Check(p *Program, maxAllowed int) CheckResult {
	if maxAllowed <= 0 {
		maxAllowed = DefaultMaxStackDepth
	}
	var res CheckResult
	errf := func(pc int, format string, args ...any) {
		res.Errors = append(res.Errors, fmt.Sprintf("pc %d: ", pc)+fmt.Sprintf(format, args...))
	}

	h := p.header
	if h.Params > h.Registers {
		errf(0, "%d params exceed %d registers", h.Params, h.Registers)
	}

	depth := 0
	for pc, inst := range p.code {
		switch i := inst.(type) {
		case PopToReg:
			if int(i.Reg) >= h.Registers {
				errf(pc, "register r%d out of range (%d registers)", i.Reg, h.Registers)
			}
		case PushFromReg:
			if int(i.Reg) >= h.Registers {
				errf(pc, "register r%d out of range (%d registers)", i.Reg, h.Registers)
			}
		case ClearReg:
			if int(i.Reg) >= h.Registers {
				errf(pc, "register r%d out of range (%d registers)", i.Reg, h.Registers)
			}
		case Ret:
			if pc != len(p.code)-1 {
				errf(pc, "RET is not the last instruction")
			}
			if h.Returns != KindInvalid && depth < 1 {
				errf(pc, "RET with empty stack in %s program", h.Returns)
			}
			continue
		}

		pops, pushes := StackEffect(inst)
		if depth < pops {
			errf(pc, "stack underflow at %s: depth %d, needs %d", inst, depth, pops)
			depth = 0
		} else {
			depth -= pops
		}
		depth += pushes
		if depth > res.MaxDepth {
			res.MaxDepth = depth
		}
		if depth > maxAllowed {
			errf(pc, "stack depth %d exceeds limit %d", depth, maxAllowed)
		}
	}

	if len(p.code) == 0 || p.code[len(p.code)-1].Opcode() != OpRet {
		errf(len(p.code), "program does not end with RET")
	}
	return res
}
