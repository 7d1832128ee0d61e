// Package gogen generates Go source for virtualized functions. Each
// trampoline in an ir.Module becomes a Go function with the mapped
// signature that runs the embedded avm.Program.
package gogen

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/dave/jennifer/jen"

	"github.com/chazu/veil/ir"
	"github.com/chazu/veil/pkg/avm"
	"github.com/chazu/veil/virtualize"
)

const avmPath = "github.com/chazu/veil/pkg/avm"

// ErrNothingToGenerate is returned when a module has no virtualized
// functions that can be emitted.
var ErrNothingToGenerate = errors.New("no virtualized functions to generate")

// Result contains the generated code and any warnings.
type Result struct {
	Code      string
	Functions []Function
	Skipped   []SkippedFunction
	Warnings  []string
}

// Function maps an emitted Go function to its IR function.
type Function struct {
	IRName string
	GoName string
}

// SkippedFunction records a trampoline that couldn't be emitted.
type SkippedFunction struct {
	Name   string
	Reason string
}

// GenerateOptions controls code generation behavior.
type GenerateOptions struct {
	// Package is the package clause of the generated file. Defaults to
	// "virtualized".
	Package string

	// SkipValidation disables Go type-checking of generated code.
	// When false (default), generated code is validated and functions
	// that produce invalid Go are automatically skipped with warnings.
	SkipValidation bool
}

type target struct {
	fn     *ir.Function
	prog   *avm.Program
	goName string
}

type generator struct {
	mod     *ir.Module
	opts    GenerateOptions
	targets []*target
	byName  map[string]*target
	skipped []SkippedFunction
}

// Generate emits Go source for every trampoline in m.
func Generate(m *ir.Module, opts GenerateOptions) (*Result, error) {
	if opts.Package == "" {
		opts.Package = "virtualized"
	}
	g := &generator{mod: m, opts: opts}
	g.collect()
	g.prune()

	res := &Result{}
	code, err := g.render()
	if err != nil {
		return nil, err
	}

	if !opts.SkipValidation {
		v := NewCodeValidator(opts.Package + ".go")
		errs, warn := v.Validate(code)
		if warn != "" {
			res.Warnings = append(res.Warnings, warn)
		}
		if len(errs) > 0 {
			bad := v.FunctionsWithErrors(errs)
			res.Warnings = append(res.Warnings, "generated code has errors:\n"+FormatValidationErrors(errs))
			removed := false
			for _, t := range g.targets {
				if bad[t.goName] {
					g.skip(t, "generated Go does not type-check")
					removed = true
				}
			}
			if !removed {
				return nil, fmt.Errorf("generated code is invalid:\n%s", FormatValidationErrors(errs))
			}
			g.prune()
			if code, err = g.render(); err != nil {
				return nil, err
			}
			if errs, _ := v.Validate(code); len(errs) > 0 {
				return nil, fmt.Errorf("generated code is invalid:\n%s", FormatValidationErrors(errs))
			}
		}
	}

	if len(g.targets) == 0 {
		return nil, ErrNothingToGenerate
	}
	res.Code = code
	for _, t := range g.targets {
		res.Functions = append(res.Functions, Function{IRName: t.fn.Name, GoName: t.goName})
	}
	res.Skipped = g.skipped
	return res, nil
}

// collect finds the trampolines of the module and decodes their programs.
func (g *generator) collect() {
	names := newNamer()
	g.byName = make(map[string]*target)
	for _, fn := range g.mod.Functions {
		if !fn.HasAttr("trampoline") {
			continue
		}
		glob := g.mod.Global(virtualize.ProgramGlobalName(fn.Name))
		if glob == nil || glob.Data == nil {
			g.skipped = append(g.skipped, SkippedFunction{fn.Name, "program global not found"})
			continue
		}
		prog, err := avm.Deserialize(glob.Data)
		if err != nil {
			g.skipped = append(g.skipped, SkippedFunction{fn.Name, fmt.Sprintf("bad program: %v", err)})
			continue
		}
		t := &target{fn: fn, prog: prog, goName: names.name(fn.Name)}
		g.targets = append(g.targets, t)
		g.byName[fn.Name] = t
	}
}

func (g *generator) skip(t *target, reason string) {
	g.skipped = append(g.skipped, SkippedFunction{t.fn.Name, reason})
	delete(g.byName, t.fn.Name)
}

// prune drops targets whose programs call functions that are not emitted,
// repeating until nothing changes.
func (g *generator) prune() {
	for {
		changed := false
		for _, t := range g.targets {
			if g.byName[t.fn.Name] != t {
				continue
			}
			for _, callee := range callees(t.prog) {
				if _, ok := g.byName[callee]; !ok {
					g.skip(t, fmt.Sprintf("calls @%s, which is not emitted", callee))
					changed = true
					break
				}
			}
		}
		if !changed {
			break
		}
	}
	kept := g.targets[:0]
	for _, t := range g.targets {
		if g.byName[t.fn.Name] == t {
			kept = append(kept, t)
		}
	}
	g.targets = kept
}

func callees(p *avm.Program) []string {
	seen := make(map[string]bool)
	var out []string
	for i := 0; i < p.Len(); i++ {
		if c, ok := p.At(i).(avm.Call); ok && !seen[c.Callee] {
			seen[c.Callee] = true
			out = append(out, c.Callee)
		}
	}
	sort.Strings(out)
	return out
}

func (g *generator) render() (string, error) {
	f := jen.NewFile(g.opts.Package)
	f.HeaderComment("Code generated by veil. DO NOT EDIT.")
	f.ImportName(avmPath, "avm")

	for _, t := range g.targets {
		if err := g.generateFunction(f, t); err != nil {
			return "", fmt.Errorf("generating @%s: %w", t.fn.Name, err)
		}
	}
	g.generateCaller(f)
	g.generateMemory(f)
	return f.GoString(), nil
}

func (g *generator) generateFunction(f *jen.File, t *target) error {
	data, err := t.prog.Serialize()
	if err != nil {
		return err
	}
	progVar := lowerFirst(t.goName) + "Program"

	f.Commentf("%s holds the decoded program of @%s.", progVar, t.fn.Name)
	f.Var().Id(progVar).Op("=").Qual("sync", "OnceValues").Call(
		jen.Func().Params().Params(jen.Op("*").Qual(avmPath, "Program"), jen.Error()).Block(
			jen.List(jen.Id("data"), jen.Err()).Op(":=").Qual("encoding/hex", "DecodeString").Call(
				jen.Lit(hex.EncodeToString(data)),
			),
			jen.If(jen.Err().Op("!=").Nil()).Block(jen.Return(jen.Nil(), jen.Err())),
			jen.Return(jen.Qual(avmPath, "Deserialize").Call(jen.Id("data"))),
		),
	)
	f.Line()

	var params []jen.Code
	var setRegs []jen.Code
	for i, p := range t.fn.Params {
		arg := fmt.Sprintf("arg%d", i)
		params = append(params, jen.Id(arg).Add(goType(p.Ty)))
		setRegs = append(setRegs, jen.Id("regs").Index(jen.Lit(i)).Op("=").Add(toValue(p.Ty, jen.Id(arg))))
	}

	void := t.fn.Ret == ir.TypeVoid
	fail := func(err jen.Code) jen.Code {
		if void {
			return jen.Return(err)
		}
		return jen.Return(zero(t.fn.Ret), err)
	}

	body := []jen.Code{
		jen.List(jen.Id("p"), jen.Err()).Op(":=").Id(progVar).Call(),
		jen.If(jen.Err().Op("!=").Nil()).Block(
			fail(jen.Qual("fmt", "Errorf").Call(jen.Lit("@"+t.fn.Name+": %w"), jen.Err())),
		),
		jen.Id("regs").Op(":=").Make(jen.Index().Qual(avmPath, "Value"), jen.Id("p").Dot("RegisterCount").Call()),
	}
	body = append(body, setRegs...)
	run := jen.Qual(avmPath, "Execute").Call(
		jen.Id("p"), jen.Id("regs"),
		jen.Qual(avmPath, "WithCaller").Call(jen.Id("caller").Values()),
		jen.Qual(avmPath, "WithGlobals").Call(jen.Id("globals")),
	)
	var results jen.Code
	if void {
		results = jen.Error()
		body = append(body,
			jen.List(jen.Id("_"), jen.Err()).Op("=").Add(run),
			jen.Return(jen.Err()),
		)
	} else {
		results = jen.Params(goType(t.fn.Ret), jen.Error())
		body = append(body,
			jen.List(jen.Id("v"), jen.Err()).Op(":=").Add(run),
			jen.If(jen.Err().Op("!=").Nil()).Block(fail(jen.Err())),
			jen.Return(fromValue(t.fn.Ret, jen.Id("v")), jen.Nil()),
		)
	}

	f.Commentf("%s runs the virtualized @%s.", t.goName, t.fn.Name)
	f.Func().Id(t.goName).Params(params...).Add(results).Block(body...)
	f.Line()
	return nil
}

// generateCaller emits the dispatcher used by CALL instructions.
func (g *generator) generateCaller(f *jen.File) {
	var cases []jen.Code
	for _, t := range g.targets {
		var args []jen.Code
		for i, p := range t.fn.Params {
			args = append(args, fromValue(p.Ty, jen.Id("args").Index(jen.Lit(i))))
		}
		n := len(t.fn.Params)
		stmts := []jen.Code{
			jen.If(jen.Len(jen.Id("args")).Op("!=").Lit(n)).Block(
				jen.Return(jen.Qual(avmPath, "Value").Values(), jen.Qual("fmt", "Errorf").Call(
					jen.Lit(fmt.Sprintf("@%s: got %%d arguments, want %d", t.fn.Name, n)), jen.Len(jen.Id("args")),
				)),
			),
		}
		if t.fn.Ret == ir.TypeVoid {
			stmts = append(stmts, jen.Return(jen.Qual(avmPath, "Value").Values(), jen.Id(t.goName).Call(args...)))
		} else {
			stmts = append(stmts,
				jen.List(jen.Id("r"), jen.Err()).Op(":=").Id(t.goName).Call(args...),
				jen.If(jen.Err().Op("!=").Nil()).Block(jen.Return(jen.Qual(avmPath, "Value").Values(), jen.Err())),
				jen.Return(toValue(t.fn.Ret, jen.Id("r")), jen.Nil()),
			)
		}
		cases = append(cases, jen.Case(jen.Lit(t.fn.Name)).Block(stmts...))
	}

	f.Comment("caller dispatches CALL instructions to the generated functions.")
	f.Type().Id("caller").Struct()
	f.Line()
	f.Func().Params(jen.Id("caller")).Id("Call").Params(
		jen.Id("name").String(), jen.Id("args").Index().Qual(avmPath, "Value"),
	).Params(jen.Qual(avmPath, "Value"), jen.Error()).Block(
		jen.Switch(jen.Id("name")).Block(cases...),
		jen.Return(jen.Qual(avmPath, "Value").Values(), jen.Qual("fmt", "Errorf").Call(
			jen.Lit("%w: unknown function %q"), jen.Qual(avmPath, "ErrNoCaller"), jen.Id("name"),
		)),
	)
	f.Line()
}

// generateMemory emits the scalar globals of the module, addressed by
// their index as in ir.Memory.
func (g *generator) generateMemory(f *jen.File) {
	vals := jen.Dict{}
	readonly := jen.Dict{}
	for i, glob := range g.mod.Globals {
		if !glob.IsScalar() {
			continue
		}
		kind := glob.Ty.Kind()
		init := glob.Init
		if !init.IsValid() {
			init = avm.Zero(kind)
		}
		vals[jen.Lit(uint32(i))] = jen.Qual(avmPath, "IntValue").Call(
			jen.Qual(avmPath, kindIdent(kind)), jen.Lit(init.Bits()),
		)
		if glob.Constant {
			readonly[jen.Lit(uint32(i))] = jen.True()
		}
	}

	f.Comment("memory holds the module's scalar globals.")
	f.Type().Id("memory").Struct(
		jen.Id("mu").Qual("sync", "RWMutex"),
		jen.Id("vals").Map(jen.Uint32()).Qual(avmPath, "Value"),
		jen.Id("readonly").Map(jen.Uint32()).Bool(),
	)
	f.Line()
	f.Var().Id("globals").Op("=").Op("&").Id("memory").Values(jen.Dict{
		jen.Id("vals"):     jen.Map(jen.Uint32()).Qual(avmPath, "Value").Values(vals),
		jen.Id("readonly"): jen.Map(jen.Uint32()).Bool().Values(readonly),
	})
	f.Line()

	f.Func().Params(jen.Id("m").Op("*").Id("memory")).Id("LoadGlobal").Params(
		jen.Id("addr").Uint32(), jen.Id("kind").Qual(avmPath, "Kind"),
	).Params(jen.Qual(avmPath, "Value"), jen.Error()).Block(
		jen.Id("m").Dot("mu").Dot("RLock").Call(),
		jen.List(jen.Id("v"), jen.Id("ok")).Op(":=").Id("m").Dot("vals").Index(jen.Id("addr")),
		jen.Id("m").Dot("mu").Dot("RUnlock").Call(),
		jen.If(jen.Op("!").Id("ok")).Block(
			jen.Return(jen.Qual(avmPath, "Value").Values(), jen.Qual("fmt", "Errorf").Call(
				jen.Lit("%w: %d"), jen.Qual(avmPath, "ErrBadGlobal"), jen.Id("addr"),
			)),
		),
		jen.If(jen.Id("v").Dot("Kind").Call().Op("!=").Id("kind")).Block(
			jen.Return(jen.Qual(avmPath, "Value").Values(), jen.Qual("fmt", "Errorf").Call(
				jen.Lit("%w: global %d is %s, load expects %s"), jen.Qual(avmPath, "ErrTypeMismatch"),
				jen.Id("addr"), jen.Id("v").Dot("Kind").Call(), jen.Id("kind"),
			)),
		),
		jen.Return(jen.Id("v"), jen.Nil()),
	)
	f.Line()

	f.Func().Params(jen.Id("m").Op("*").Id("memory")).Id("StoreGlobal").Params(
		jen.Id("addr").Uint32(), jen.Id("v").Qual(avmPath, "Value"),
	).Error().Block(
		jen.Id("m").Dot("mu").Dot("Lock").Call(),
		jen.Defer().Id("m").Dot("mu").Dot("Unlock").Call(),
		jen.List(jen.Id("old"), jen.Id("ok")).Op(":=").Id("m").Dot("vals").Index(jen.Id("addr")),
		jen.If(jen.Op("!").Id("ok").Op("||").Id("m").Dot("readonly").Index(jen.Id("addr"))).Block(
			jen.Return(jen.Qual("fmt", "Errorf").Call(
				jen.Lit("%w: %d"), jen.Qual(avmPath, "ErrBadGlobal"), jen.Id("addr"),
			)),
		),
		jen.If(jen.Id("old").Dot("Kind").Call().Op("!=").Id("v").Dot("Kind").Call()).Block(
			jen.Return(jen.Qual("fmt", "Errorf").Call(
				jen.Lit("%w: global %d is %s, store of %s"), jen.Qual(avmPath, "ErrTypeMismatch"),
				jen.Id("addr"), jen.Id("old").Dot("Kind").Call(), jen.Id("v").Dot("Kind").Call(),
			)),
		),
		jen.Id("m").Dot("vals").Index(jen.Id("addr")).Op("=").Id("v"),
		jen.Return(jen.Nil()),
	)
}

func goType(t ir.Type) *jen.Statement {
	switch t {
	case ir.TypeI1:
		return jen.Bool()
	case ir.TypeI8:
		return jen.Int8()
	case ir.TypeI16:
		return jen.Int16()
	case ir.TypeI32:
		return jen.Int32()
	case ir.TypeI64:
		return jen.Int64()
	case ir.TypeFloat:
		return jen.Float32()
	case ir.TypeDouble:
		return jen.Float64()
	default:
		return jen.Uint64()
	}
}

func zero(t ir.Type) jen.Code {
	if t == ir.TypeI1 {
		return jen.False()
	}
	return jen.Lit(0)
}

func toValue(t ir.Type, x *jen.Statement) *jen.Statement {
	ctor := map[ir.Type]string{
		ir.TypeI1:     "BoolValue",
		ir.TypeI8:     "I8Value",
		ir.TypeI16:    "I16Value",
		ir.TypeI32:    "I32Value",
		ir.TypeI64:    "I64Value",
		ir.TypeFloat:  "F32Value",
		ir.TypeDouble: "F64Value",
		ir.TypePtr:    "PtrValue",
	}[t]
	return jen.Qual(avmPath, ctor).Call(x)
}

func fromValue(t ir.Type, v *jen.Statement) *jen.Statement {
	switch t {
	case ir.TypeI1:
		return v.Dot("Bool").Call()
	case ir.TypeI64:
		return v.Dot("Int").Call()
	case ir.TypeFloat:
		return jen.Float32().Call(v.Dot("Float").Call())
	case ir.TypeDouble:
		return v.Dot("Float").Call()
	case ir.TypePtr:
		return v.Dot("Pointer").Call()
	default:
		return goType(t).Call(v.Dot("Int").Call())
	}
}

func kindIdent(k avm.Kind) string {
	switch k {
	case avm.KindBool:
		return "KindBool"
	case avm.KindI8:
		return "KindI8"
	case avm.KindI16:
		return "KindI16"
	case avm.KindI32:
		return "KindI32"
	case avm.KindI64:
		return "KindI64"
	case avm.KindF32:
		return "KindF32"
	case avm.KindF64:
		return "KindF64"
	default:
		return "KindPtr"
	}
}
