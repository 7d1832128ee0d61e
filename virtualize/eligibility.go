package virtualize

import (
	"fmt"

	"github.com/chazu/veil/ir"
)

// Instruction count bounds, inclusive. Smaller functions gain nothing from
// virtualization; larger ones cost too much to interpret and to compile.
const (
	MinInstructions = 1
	MaxInstructions = 1000
)

// Reason explains an eligibility decision.
type Reason uint8

const (
	ReasonEligible Reason = iota
	ReasonDeclaration
	ReasonIntrinsic
	ReasonExempt
	ReasonTrampoline
	ReasonTrivial
	ReasonTooSmall
	ReasonTooLarge
	ReasonUnsupported
)

var reasonNames = [...]string{
	ReasonEligible:    "eligible",
	ReasonDeclaration: "declaration",
	ReasonIntrinsic:   "intrinsic",
	ReasonExempt:      "exempt",
	ReasonTrampoline:  "already virtualized",
	ReasonTrivial:     "trivial body",
	ReasonTooSmall:    "too few instructions",
	ReasonTooLarge:    "too many instructions",
	ReasonUnsupported: "unsupported instruction",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("Reason(%d)", uint8(r))
}

// unsupportedOps are the instruction kinds whose presence anywhere rejects a
// function. The list is maintained by hand: opcodes added to the ir package
// for indirect or exceptional control flow must be added here too.
var unsupportedOps = map[ir.Opcode]bool{
	ir.OpIndirectBr:  true,
	ir.OpInvoke:      true,
	ir.OpCallBr:      true,
	ir.OpResume:      true,
	ir.OpCatchPad:    true,
	ir.OpCatchRet:    true,
	ir.OpCatchSwitch: true,
	ir.OpCleanupPad:  true,
	ir.OpCleanupRet:  true,
}

// IsUnsupported reports whether op disqualifies a function.
func IsUnsupported(op ir.Opcode) bool { return unsupportedOps[op] }

// Eligibility is the outcome of CheckEligibility.
type Eligibility struct {
	OK          bool
	Reason      Reason
	Count       int         // instructions in the body
	Unsupported []*ir.Instr // every disqualifying instruction found
}

func (e Eligibility) String() string {
	switch e.Reason {
	case ReasonEligible:
		return fmt.Sprintf("eligible (%d instructions)", e.Count)
	case ReasonTooSmall, ReasonTooLarge:
		return fmt.Sprintf("%s (%d, allowed %d..%d)", e.Reason, e.Count, MinInstructions, MaxInstructions)
	case ReasonUnsupported:
		first := e.Unsupported[0]
		return fmt.Sprintf("%s %s (%d found)", e.Reason, first.Op, len(e.Unsupported))
	}
	return e.Reason.String()
}

// CheckEligibility decides whether fn may be virtualized. It has no side
// effects; a rejection is advisory, not an error.
func CheckEligibility(fn *ir.Function) Eligibility {
	switch {
	case fn.HasAttr(ir.AttrIntrinsic):
		return Eligibility{Reason: ReasonIntrinsic}
	case fn.IsDeclaration():
		return Eligibility{Reason: ReasonDeclaration}
	case fn.HasAttr(ir.AttrNoVirt):
		return Eligibility{Reason: ReasonExempt}
	case fn.HasAttr(ir.AttrTrampoline):
		return Eligibility{Reason: ReasonTrampoline}
	}

	// Scan everything before deciding.
	var e Eligibility
	for _, b := range fn.Blocks {
		for _, i := range b.Instrs {
			e.Count++
			if unsupportedOps[i.Op] {
				e.Unsupported = append(e.Unsupported, i)
			}
		}
	}

	switch {
	case len(e.Unsupported) > 0:
		e.Reason = ReasonUnsupported
	case e.Count < MinInstructions:
		e.Reason = ReasonTooSmall
	case e.Count > MaxInstructions:
		e.Reason = ReasonTooLarge
	case isTrivial(fn):
		e.Reason = ReasonTrivial
	default:
		e.OK = true
	}
	return e
}

// Eligible reports whether CheckEligibility accepts fn.
func Eligible(fn *ir.Function) bool { return CheckEligibility(fn).OK }

// isTrivial recognizes bodies that do nothing ("ret void") and wrappers
// that forward their parameters unchanged to another function.
func isTrivial(fn *ir.Function) bool {
	if len(fn.Blocks) != 1 {
		return false
	}
	code := fn.Blocks[0].Instrs
	if len(code) == 1 {
		return code[0].Op == ir.OpRet && len(code[0].Operands) == 0
	}
	if len(code) != 2 || code[0].Op != ir.OpCall || code[0].Callee == "" || code[1].Op != ir.OpRet {
		return false
	}
	call, ret := code[0], code[1]
	if len(call.Operands) != len(fn.Params) {
		return false
	}
	for n, a := range call.Operands {
		if a != ir.Value(fn.Params[n]) {
			return false
		}
	}
	if len(ret.Operands) == 0 {
		return !call.HasResult()
	}
	return ret.Operands[0] == ir.Value(call)
}
