package ir

import (
	"errors"
	"fmt"
	"strings"
)

// VerifyError reports a structurally invalid function or module.
type VerifyError struct {
	Function string
	Block    string
	Instr    string
	Msg      string
}

func (e *VerifyError) Error() string {
	var loc []string
	if e.Function != "" {
		loc = append(loc, "@"+e.Function)
	}
	if e.Block != "" {
		loc = append(loc, e.Block)
	}
	if e.Instr != "" {
		loc = append(loc, e.Instr)
	}
	if len(loc) == 0 {
		return "ir: verify: " + e.Msg
	}
	return fmt.Sprintf("ir: verify %s: %s", strings.Join(loc, ": "), e.Msg)
}

// Verify checks every function of m and the uniqueness of global names.
// All problems are reported, joined.
func Verify(m *Module) error {
	var errs []error
	seen := make(map[string]bool)
	for _, g := range m.Globals {
		if seen[g.Name] {
			errs = append(errs, &VerifyError{Msg: fmt.Sprintf("global @%s defined twice", g.Name)})
		}
		seen[g.Name] = true
		if g.Ty == TypeBytes {
			continue
		}
		if !g.Ty.IsScalar() {
			errs = append(errs, &VerifyError{Msg: fmt.Sprintf("global @%s has type %s", g.Name, g.Ty)})
		} else if g.Init.IsValid() && g.Init.Kind() != g.Ty.Kind() {
			errs = append(errs, &VerifyError{Msg: fmt.Sprintf("global @%s initializer is %s, want %s", g.Name, g.Init.Kind(), g.Ty)})
		}
	}
	fseen := make(map[string]bool)
	for _, f := range m.Functions {
		if fseen[f.Name] {
			errs = append(errs, &VerifyError{Function: f.Name, Msg: "function defined twice"})
		}
		fseen[f.Name] = true
		if err := VerifyFunction(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type verifier struct {
	fn      *Function
	defined map[Value]bool
	blocks  map[*Block]bool
	block   *Block
	instr   *Instr
	errs    []error
}

func (v *verifier) errorf(format string, args ...any) {
	e := &VerifyError{Function: v.fn.Name, Msg: fmt.Sprintf(format, args...)}
	if v.block != nil {
		e.Block = v.block.Name
	}
	if v.instr != nil {
		e.Instr = v.instr.Ident()
	}
	v.errs = append(v.errs, e)
}

// VerifyFunction checks a single function: block structure, operand
// definitions and types, branch targets, and call signatures when the
// function belongs to a module.
func VerifyFunction(f *Function) error {
	v := &verifier{fn: f, defined: make(map[Value]bool), blocks: make(map[*Block]bool)}

	if f.HasAttr(AttrIntrinsic) && !f.IsDeclaration() {
		v.errorf("intrinsic function has a body")
	}
	names := make(map[string]bool)
	for _, p := range f.Params {
		if names[p.Name] {
			v.errorf("parameter %%%s declared twice", p.Name)
		}
		names[p.Name] = true
		v.defined[p] = true
		if !p.Ty.IsScalar() {
			v.errorf("parameter %%%s has type %s", p.Name, p.Ty)
		}
	}
	if f.Ret == TypeBytes {
		v.errorf("function returns %s", f.Ret)
	}

	for _, b := range f.Blocks {
		if v.blocks[b] {
			v.errorf("block %s appears twice", b.Name)
		}
		v.blocks[b] = true
		for _, i := range b.Instrs {
			if !i.HasResult() {
				continue
			}
			if names[i.Name] {
				v.block, v.instr = b, i
				v.errorf("value %%%s defined twice", i.Name)
			}
			names[i.Name] = true
			v.defined[i] = true
		}
	}

	for _, b := range f.Blocks {
		v.block, v.instr = b, nil
		if len(b.Instrs) == 0 {
			v.errorf("empty block")
			continue
		}
		if b.Terminator() == nil {
			v.errorf("block does not end with a terminator")
		}
		phis := true
		for n, i := range b.Instrs {
			v.instr = i
			if i.Parent != b {
				v.errorf("instruction has wrong parent block")
			}
			if i.Op.IsTerminator() && n != len(b.Instrs)-1 {
				v.errorf("terminator %s in the middle of a block", i.Op)
			}
			if i.Op == OpPhi {
				if !phis {
					v.errorf("phi after non-phi instruction")
				}
			} else {
				phis = false
			}
			v.checkInstr(i)
		}
	}
	v.block, v.instr = nil, nil

	if len(v.errs) == 0 {
		return nil
	}
	return errors.Join(v.errs...)
}

func (v *verifier) checkOperand(op Value) {
	switch x := op.(type) {
	case *Param, *Instr:
		if !v.defined[op] {
			v.errorf("operand %s is not defined in this function", x.Ref())
		}
	case *Global:
		if m := v.fn.Module; m != nil && m.GlobalIndex(x) < 0 {
			v.errorf("global %s is not in the module", x.Ref())
		}
	case *Const:
		if !x.Val.IsValid() {
			v.errorf("invalid constant")
		}
	case nil:
		v.errorf("missing operand")
	default:
		v.errorf("unresolved operand %s", op.Ref())
	}
}

func (v *verifier) wantOperands(i *Instr, n int) bool {
	if len(i.Operands) != n {
		v.errorf("%s has %d operands, want %d", i.Op, len(i.Operands), n)
		return false
	}
	return true
}

func (v *verifier) wantTarget(b *Block) {
	if b == nil || !v.blocks[b] {
		name := "<nil>"
		if b != nil {
			name = b.Name
		}
		v.errorf("branch to block %s outside the function", name)
	}
}

func (v *verifier) checkInstr(i *Instr) {
	for _, op := range i.Operands {
		v.checkOperand(op)
	}
	for _, t := range i.Targets {
		v.wantTarget(t)
	}
	if i.HasResult() && i.Name == "" {
		v.errorf("%s result has no name", i.Op)
	}

	switch op := i.Op; {
	case op.IsBinary():
		if !v.wantOperands(i, 2) {
			return
		}
		x, y := i.Operands[0], i.Operands[1]
		if x.Type() != i.Ty || y.Type() != i.Ty {
			v.errorf("%s operands %s, %s do not match result %s", op, x.Type(), y.Type(), i.Ty)
		}
		if op.IsFloatOp() && !i.Ty.IsFloat() {
			v.errorf("%s on non-float type %s", op, i.Ty)
		}
		if !op.IsFloatOp() && !i.Ty.IsInt() {
			v.errorf("%s on non-integer type %s", op, i.Ty)
		}

	case op == OpICmp, op == OpFCmp:
		if !v.wantOperands(i, 2) {
			return
		}
		t := i.Operands[0].Type()
		if i.Operands[1].Type() != t {
			v.errorf("%s operands differ: %s and %s", op, t, i.Operands[1].Type())
		}
		if op == OpICmp && !(t.IsInt() || t == TypePtr) {
			v.errorf("icmp on %s", t)
		}
		if op == OpFCmp && !t.IsFloat() {
			v.errorf("fcmp on %s", t)
		}
		if i.Ty != TypeI1 {
			v.errorf("%s must produce i1", op)
		}

	case op == OpSelect:
		if !v.wantOperands(i, 3) {
			return
		}
		if i.Operands[0].Type() != TypeI1 {
			v.errorf("select condition is %s", i.Operands[0].Type())
		}
		if i.Operands[1].Type() != i.Ty || i.Operands[2].Type() != i.Ty {
			v.errorf("select arms do not match %s", i.Ty)
		}

	case op.IsCast():
		if !v.wantOperands(i, 1) {
			return
		}
		if !castAllowed(op, i.Operands[0].Type(), i.Ty) {
			v.errorf("invalid %s from %s to %s", op, i.Operands[0].Type(), i.Ty)
		}

	case op == OpAlloca:
		if !i.ElemTy.IsScalar() {
			v.errorf("alloca of %s", i.ElemTy)
		}
		if len(i.Operands) > 1 {
			v.errorf("alloca takes at most one count")
		}
		if len(i.Operands) == 1 && !i.Operands[0].Type().IsInt() {
			v.errorf("alloca count is %s", i.Operands[0].Type())
		}
		if i.Ty != TypePtr {
			v.errorf("alloca must produce ptr")
		}

	case op == OpLoad:
		if !v.wantOperands(i, 1) {
			return
		}
		if i.Operands[0].Type() != TypePtr {
			v.errorf("load through %s", i.Operands[0].Type())
		}
		if !i.Ty.IsScalar() || i.Ty != i.ElemTy {
			v.errorf("load of %s as %s", i.ElemTy, i.Ty)
		}

	case op == OpStore:
		if !v.wantOperands(i, 2) {
			return
		}
		if i.Operands[1].Type() != TypePtr {
			v.errorf("store through %s", i.Operands[1].Type())
		}
		if !i.Operands[0].Type().IsScalar() {
			v.errorf("store of %s", i.Operands[0].Type())
		}

	case op == OpCall:
		v.checkCall(i)

	case op == OpRet:
		if v.fn.Ret == TypeVoid {
			if len(i.Operands) != 0 {
				v.errorf("ret with value in void function")
			}
		} else if len(i.Operands) != 1 || i.Operands[0].Type() != v.fn.Ret {
			v.errorf("ret does not return %s", v.fn.Ret)
		}

	case op == OpBr:
		switch len(i.Targets) {
		case 1:
			v.wantOperands(i, 0)
		case 2:
			if v.wantOperands(i, 1) && i.Operands[0].Type() != TypeI1 {
				v.errorf("branch condition is %s", i.Operands[0].Type())
			}
		default:
			v.errorf("br has %d targets", len(i.Targets))
		}

	case op == OpSwitch:
		if !v.wantOperands(i, 1) || len(i.Targets) != 1 {
			v.errorf("switch needs a value and a default")
			return
		}
		for _, c := range i.Cases {
			v.wantTarget(c.Target)
			if c.Value == nil || c.Value.Type() != i.Operands[0].Type() {
				v.errorf("switch case type does not match %s", i.Operands[0].Type())
			}
		}

	case op == OpPhi:
		if len(i.Incoming) == 0 {
			v.errorf("phi without incoming values")
		}
		for _, in := range i.Incoming {
			v.checkOperand(in.Value)
			v.wantTarget(in.Block)
			if in.Value != nil && in.Value.Type() != i.Ty {
				v.errorf("phi incoming %s is %s, want %s", in.Value.Ref(), in.Value.Type(), i.Ty)
			}
		}
	}
}

func (v *verifier) checkCall(i *Instr) {
	if i.Callee == "" {
		if len(i.Operands) == 0 || i.Operands[0].Type() != TypePtr {
			v.errorf("indirect call without a pointer callee")
		}
		return
	}
	m := v.fn.Module
	if m == nil {
		return
	}
	callee := m.Function(i.Callee)
	if callee == nil {
		v.errorf("call to undefined function @%s", i.Callee)
		return
	}
	if callee.Ret != i.Ty {
		v.errorf("call to @%s returns %s, callee returns %s", i.Callee, i.Ty, callee.Ret)
	}
	if len(i.Operands) != len(callee.Params) {
		v.errorf("call to @%s passes %d arguments, want %d", i.Callee, len(i.Operands), len(callee.Params))
		return
	}
	for n, a := range i.Operands {
		if a.Type() != callee.Params[n].Ty {
			v.errorf("argument %d to @%s is %s, want %s", n, i.Callee, a.Type(), callee.Params[n].Ty)
		}
	}
}

func castAllowed(op Opcode, from, to Type) bool {
	switch op {
	case OpTrunc:
		return from.IsInt() && to.IsInt() && to.Bits() < from.Bits()
	case OpZExt, OpSExt:
		return from.IsInt() && to.IsInt() && to.Bits() > from.Bits()
	case OpFPTrunc:
		return from == TypeDouble && to == TypeFloat
	case OpFPExt:
		return from == TypeFloat && to == TypeDouble
	case OpFPToSI, OpFPToUI:
		return from.IsFloat() && to.IsInt()
	case OpSIToFP, OpUIToFP:
		return from.IsInt() && to.IsFloat()
	case OpPtrToInt:
		return from == TypePtr && to.IsInt()
	case OpIntToPtr:
		return from.IsInt() && to == TypePtr
	case OpBitcast:
		return from.IsScalar() && to.IsScalar() && from != TypeI1 && to != TypeI1 &&
			from.Kind().SizeInBytes() == to.Kind().SizeInBytes()
	}
	return false
}
