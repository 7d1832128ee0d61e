package virtualize

import (
	"errors"
	"fmt"
	"slices"

	"github.com/chazu/veil/ir"
	"github.com/chazu/veil/pkg/avm"
)

// Names of the runtime entry points a trampoline calls. The setreg and
// interpret entry points exist once per value type, suffixed with the type
// name, so that every call site is well typed.
const (
	RegfileFunc     = "avm.regfile"
	SetRegPrefix    = "avm.setreg."
	InterpretPrefix = "avm.interpret."
	ProgramPrefix   = "avm.prog."
)

// SetRegName returns the setreg entry point for values of type t.
func SetRegName(t ir.Type) string { return SetRegPrefix + t.String() }

// InterpretName returns the interpret entry point returning type t.
func InterpretName(t ir.Type) string { return InterpretPrefix + t.String() }

// ProgramGlobalName returns the name of the global holding fn's program.
func ProgramGlobalName(fn string) string { return ProgramPrefix + fn }

// Code generation failure causes.
var (
	ErrNoProgram        = errors.New("function has not been translated")
	ErrDetached         = errors.New("function is not part of a module")
	ErrRoundTrip        = errors.New("program does not survive serialization")
	ErrSignature        = errors.New("program does not match the function signature")
	ErrAlreadyInstalled = errors.New("program global already exists")
	ErrRuntimeConflict  = errors.New("runtime entry point has a conflicting signature")
	ErrCommitted        = errors.New("installation already committed")
)

// CodeGenError reports a failure to install a program. The stage names the
// step that failed: check, serialize, signature, runtime, verify, install
// or commit.
type CodeGenError struct {
	Function string
	Stage    string
	Err      error
}

func (e *CodeGenError) Error() string {
	return fmt.Sprintf("codegen @%s: %s: %v", e.Function, e.Stage, e.Err)
}

func (e *CodeGenError) Unwrap() error { return e.Err }

// CodeGenerator turns translated programs into trampolines.
type CodeGenerator struct {
	// MaxStackDepth bounds the operand stack accepted by the static check;
	// zero selects avm.DefaultMaxStackDepth.
	MaxStackDepth int
}

// Installation is a verified trampoline that has not been applied yet.
// Until Commit the module and function are untouched.
type Installation struct {
	fn        *ir.Function
	program   *avm.Program
	global    *ir.Global
	decls     []*ir.Function
	scratch   *ir.Function
	committed bool
}

func (in *Installation) Function() *ir.Function { return in.fn }
func (in *Installation) Program() *avm.Program  { return in.program }
func (in *Installation) Global() *ir.Global     { return in.global }

// Trampoline returns the replacement body, for inspection before Commit.
func (in *Installation) Trampoline() *ir.Function { return in.scratch }

// Generate validates the context's program and builds and verifies the
// trampoline that will replace the function body.
func (g *CodeGenerator) Generate(c *Context) (*Installation, error) {
	fn := c.Fn
	fail := func(stage string, err error) (*Installation, error) {
		return nil, &CodeGenError{Function: fn.Name, Stage: stage, Err: err}
	}

	p := c.Program()
	if p == nil {
		return fail("check", ErrNoProgram)
	}
	m := fn.Module
	if m == nil {
		return fail("check", ErrDetached)
	}
	if err := avm.Check(p, g.MaxStackDepth).Err(); err != nil {
		return fail("check", err)
	}

	blob, err := p.Serialize()
	if err != nil {
		return fail("serialize", err)
	}
	back, err := avm.Deserialize(blob)
	if err != nil {
		return fail("serialize", err)
	}
	if !back.Equal(p) {
		return fail("serialize", ErrRoundTrip)
	}

	if err := checkSignature(fn, p); err != nil {
		return fail("signature", err)
	}

	name := ProgramGlobalName(fn.Name)
	if m.Global(name) != nil {
		return fail("install", fmt.Errorf("%w: @%s", ErrAlreadyInstalled, name))
	}
	global := &ir.Global{
		Name:     name,
		Ty:       ir.TypeBytes,
		Data:     blob,
		Constant: true,
		Linkage:  ir.LinkageInternal,
	}
	decls := RuntimeDecls(fn.Ret, fn.ParamTypes())

	// The trampoline is verified against an overlay that shares the
	// module's functions and globals but not its slices.
	overlay := &ir.Module{
		Name:      m.Name,
		Globals:   append(slices.Clone(m.Globals), global),
		Functions: slices.Clone(m.Functions),
	}
	if err := EnsureRuntime(overlay, decls); err != nil {
		return fail("runtime", err)
	}

	scratch := &ir.Function{
		Name:    fn.Name,
		Ret:     fn.Ret,
		Linkage: fn.Linkage,
		CC:      fn.CC,
		Attrs:   append(slices.Clone(fn.Attrs), ir.AttrTrampoline),
		Module:  overlay,
	}
	for _, prm := range fn.Params {
		scratch.Params = append(scratch.Params, &ir.Param{Name: prm.Name, Ty: prm.Ty, Index: prm.Index})
	}
	buildTrampoline(scratch, global, p.RegisterCount())
	if err := ir.VerifyFunction(scratch); err != nil {
		return fail("verify", err)
	}

	return &Installation{
		fn:      fn,
		program: p,
		global:  global,
		decls:   decls,
		scratch: scratch,
	}, nil
}

func checkSignature(fn *ir.Function, p *avm.Program) error {
	if p.ParamCount() != len(fn.Params) {
		return fmt.Errorf("%w: %d params, function has %d", ErrSignature, p.ParamCount(), len(fn.Params))
	}
	if p.ParamCount() > p.RegisterCount() {
		return fmt.Errorf("%w: %d params exceed %d registers", ErrSignature, p.ParamCount(), p.RegisterCount())
	}
	if p.Returns() != fn.Ret.Kind() {
		return fmt.Errorf("%w: returns %s, function returns %s", ErrSignature, p.Returns(), fn.Ret)
	}
	for _, prm := range fn.Params {
		if !prm.Ty.IsScalar() {
			return fmt.Errorf("%w: parameter %s has type %s", ErrSignature, prm.Ref(), prm.Ty)
		}
	}
	return nil
}

// buildTrampoline fills f with a body that hands its arguments to the
// interpreter and returns the interpreter's result.
func buildTrampoline(f *ir.Function, prog *ir.Global, nregs int) {
	b := ir.NewBuilder(f.NewBlock("entry"))
	rf := b.Call(f.UniqueName("avm.rf"), ir.TypePtr, RegfileFunc, ir.ConstInt(ir.TypeI32, int64(nregs)))
	for n, prm := range f.Params {
		b.Call("", ir.TypeVoid, SetRegName(prm.Ty), rf, ir.ConstInt(ir.TypeI32, int64(n)), prm)
	}
	if f.Ret == ir.TypeVoid {
		b.Call("", ir.TypeVoid, InterpretName(ir.TypeVoid), prog, rf)
		b.Ret(nil)
		return
	}
	r := b.Call(f.UniqueName("avm.result"), f.Ret, InterpretName(f.Ret), prog, rf)
	b.Ret(r)
}

func runtimeDecl(name string, ret ir.Type, params ...ir.Type) *ir.Function {
	f := ir.NewFunction(name, ret, params)
	f.Attrs = []string{ir.AttrIntrinsic, ir.AttrNoVirt}
	return f
}

// RuntimeDecls returns the runtime declarations needed by the trampoline
// of a function with the given signature.
func RuntimeDecls(ret ir.Type, params []ir.Type) []*ir.Function {
	decls := []*ir.Function{runtimeDecl(RegfileFunc, ir.TypePtr, ir.TypeI32)}
	seen := make(map[ir.Type]bool)
	for _, t := range params {
		if seen[t] {
			continue
		}
		seen[t] = true
		decls = append(decls, runtimeDecl(SetRegName(t), ir.TypeVoid, ir.TypePtr, ir.TypeI32, t))
	}
	return append(decls, runtimeDecl(InterpretName(ret), ret, ir.TypePtr, ir.TypePtr))
}

// EnsureRuntime adds each declaration to m unless m already has a function
// of that name. Either every declaration is accepted or m is unchanged.
func EnsureRuntime(m *ir.Module, decls []*ir.Function) error {
	var missing []*ir.Function
	for _, d := range decls {
		have := m.Function(d.Name)
		if have == nil {
			missing = append(missing, d)
			continue
		}
		if have.Ret != d.Ret || !slices.Equal(have.ParamTypes(), d.ParamTypes()) {
			return fmt.Errorf("%w: @%s", ErrRuntimeConflict, d.Name)
		}
	}
	for _, d := range missing {
		cp := runtimeDecl(d.Name, d.Ret, d.ParamTypes()...)
		m.AddFunction(cp)
	}
	return nil
}

// Commit installs the program global and runtime declarations and swaps
// the function body for the trampoline. The function keeps its name,
// parameters, return type, linkage and calling convention.
func (in *Installation) Commit() error {
	fail := func(err error) error {
		return &CodeGenError{Function: in.fn.Name, Stage: "commit", Err: err}
	}
	if in.committed {
		return fail(ErrCommitted)
	}
	m := in.fn.Module
	if m == nil {
		return fail(ErrDetached)
	}
	if m.Global(in.global.Name) != nil {
		return fail(fmt.Errorf("%w: @%s", ErrAlreadyInstalled, in.global.Name))
	}
	if err := EnsureRuntime(m, in.decls); err != nil {
		return fail(err)
	}
	m.AddGlobal(in.global)
	in.fn.ReplaceBody(in.scratch)
	in.fn.AddAttr(ir.AttrTrampoline)
	in.committed = true
	return nil
}
