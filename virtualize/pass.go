package virtualize

import (
	"fmt"
	"slices"

	"github.com/tliron/commonlog"

	"github.com/chazu/veil/ir"
	"github.com/chazu/veil/pkg/avm"
)

// Pass virtualizes the eligible functions of a module.
type Pass struct {
	// Flags selects per-function behavior; nil means DefaultFlags.
	Flags FlagSource

	// Seed drives polymorphism. The same seed reproduces the same programs.
	Seed int64

	// Generator installs programs; nil uses a zero CodeGenerator.
	Generator *CodeGenerator

	// Log receives per-function decisions; nil uses the veil.virtualize logger.
	Log commonlog.Logger
}

// Result is what a Pass did to a module.
type Result struct {
	Stats    Stats
	Outcomes []Outcome
	Programs map[string]*avm.Program // installed programs by function
}

// Outcome returns the outcome recorded for fn, if any.
func (r *Result) Outcome(fn string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Function == fn {
			return o, true
		}
	}
	return Outcome{}, false
}

// Run processes the defined functions of m one at a time in module order.
// A function that cannot be virtualized is left exactly as it was; only a
// module that fails verification afterwards is an error.
func (p *Pass) Run(m *ir.Module) (*Result, error) {
	log := p.Log
	if log == nil {
		log = commonlog.GetLogger("veil.virtualize")
	}
	res := &Result{Programs: make(map[string]*avm.Program)}

	// Runtime declarations added along the way are not visited.
	for _, fn := range slices.Clone(m.Functions) {
		if fn.IsDeclaration() {
			continue
		}
		o, prog := p.function(fn, log)
		res.Outcomes = append(res.Outcomes, o)
		res.Stats.Record(o)
		if prog != nil {
			res.Programs[fn.Name] = prog
		}
	}

	if err := ir.Verify(m); err != nil {
		return res, fmt.Errorf("virtualize %s: %w", m.Name, err)
	}
	log.Infof("virtualize %s: %d of %d functions virtualized, %d failed",
		m.Name, res.Stats.FunctionsVirtualized, res.Stats.FunctionsProcessed, res.Stats.FunctionsFailed)
	return res, nil
}

func (p *Pass) flagsFor(fn *ir.Function) Flags {
	if p.Flags == nil {
		return DefaultFlags
	}
	return p.Flags.FlagsFor(fn)
}

func (p *Pass) function(fn *ir.Function, log commonlog.Logger) (Outcome, *avm.Program) {
	o := Outcome{Function: fn.Name}
	flags := p.flagsFor(fn)
	if !flags.Has(FlagEnable) {
		o.Reason = "disabled"
		log.Debugf("@%s: skipped: disabled", fn.Name)
		return o, nil
	}
	if el := CheckEligibility(fn); !el.OK {
		o.Reason = el.Reason.String()
		log.Debugf("@%s: skipped: %s", fn.Name, el)
		return o, nil
	}

	failed := func(err error) (Outcome, *avm.Program) {
		o.Status = StatusFailed
		o.Reason = err.Error()
		log.Warningf("%s", err)
		return o, nil
	}

	c, err := NewContext(fn, flags, p.Seed)
	if err != nil {
		return failed(err)
	}
	o.Seed = c.Seed()
	prog, err := TranslateFunction(c)
	if err != nil {
		return failed(err)
	}
	gen := p.Generator
	if gen == nil {
		gen = &CodeGenerator{}
	}
	inst, err := gen.Generate(c)
	if err != nil {
		return failed(err)
	}
	if err := inst.Commit(); err != nil {
		return failed(err)
	}

	o.Status = StatusVirtualized
	o.Instructions = c.Translated()
	o.Bytecode = prog.Len()
	o.Registers = prog.RegisterCount()
	log.Debugf("@%s: virtualized with %s: %d instructions, %d bytecode, %d registers",
		fn.Name, flags, o.Instructions, o.Bytecode, o.Registers)
	return o, prog
}
