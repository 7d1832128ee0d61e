package main

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli"

	"github.com/chazu/veil/ir"
	"github.com/chazu/veil/pkg/avm"
	"github.com/chazu/veil/virtualize"
)

func runCommand() cli.Command {
	return cli.Command{
		Name:      "run",
		Usage:     "evaluate a function, optionally after virtualizing the module",
		ArgsUsage: "in.ll fn [args...]",
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "virtualize", Usage: "virtualize the module first"},
			cli.StringFlag{Name: "config, c", Usage: "manifest `FILE` used with -virtualize"},
			cli.Int64Flag{Name: "seed", Usage: "polymorphism seed used with -virtualize"},
			cli.Int64Flag{Name: "steps", Usage: "abort after `N` evaluated instructions (0 means no limit)"},
			cli.BoolFlag{Name: "trace", Usage: "log every avm instruction at debug level"},
		},
		Action: runRun,
	}
}

func runRun(c *cli.Context) error {
	if err := needArgs(c, 2); err != nil {
		return err
	}
	args := c.Args()
	mod, err := readModule(args[0])
	if err != nil {
		return err
	}
	fn := mod.Function(args[1])
	if fn == nil {
		return fmt.Errorf("no function @%s", args[1])
	}
	if len(args)-2 != len(fn.Params) {
		return fmt.Errorf("@%s takes %d arguments, got %d", fn.Name, len(fn.Params), len(args)-2)
	}
	vals := make([]avm.Value, len(fn.Params))
	for i, p := range fn.Params {
		if vals[i], err = parseArg(p.Ty, args[i+2]); err != nil {
			return fmt.Errorf("argument %%%s: %w", p.Name, err)
		}
	}

	if c.Bool("virtualize") {
		man, _, err := loadManifest(c.String("config"), args[0])
		if err != nil {
			return err
		}
		seed := man.Project.Seed
		if c.IsSet("seed") {
			seed = c.Int64("seed")
		}
		res, err := virtualizeModule(mod, man, seed)
		if err != nil {
			return err
		}
		if o, ok := res.Outcome(fn.Name); ok {
			log.Infof("%s", o)
		}
	}

	var opts []avm.Option
	if c.Bool("trace") {
		opts = append(opts, avm.WithTrace(func(ti avm.TraceInfo) {
			log.Debugf("%s[%d] depth %d: %s", ti.Program, ti.PC, ti.Depth, ti.Inst)
		}))
	}
	var evalOpts []ir.EvalOption
	if n := c.Int64("steps"); n > 0 {
		evalOpts = append(evalOpts, ir.WithStepLimit(n))
	}
	ev := ir.NewEvaluator(mod, append(evalOpts, ir.WithIntrinsics(virtualize.NewRuntime(opts...).Intrinsics()))...)

	v, err := ev.Call(fn.Name, vals...)
	if err != nil {
		return err
	}
	if fn.Ret != ir.TypeVoid {
		fmt.Println(v)
	}
	return nil
}

// parseArg converts a command-line argument to a value of type t.
func parseArg(t ir.Type, s string) (avm.Value, error) {
	switch t {
	case ir.TypeI1:
		b, err := strconv.ParseBool(s)
		return avm.BoolValue(b), err
	case ir.TypeI8, ir.TypeI16, ir.TypeI32, ir.TypeI64:
		n, err := strconv.ParseInt(s, 0, t.Bits())
		if err != nil {
			// Accept unsigned spellings such as 0xff for i8.
			u, uerr := strconv.ParseUint(s, 0, t.Bits())
			if uerr != nil {
				return avm.Value{}, err
			}
			return avm.IntValue(t.Kind(), u), nil
		}
		return avm.IntValue(t.Kind(), uint64(n)), nil
	case ir.TypeFloat, ir.TypeDouble:
		f, err := strconv.ParseFloat(s, t.Bits())
		return avm.FloatValue(t.Kind(), f), err
	case ir.TypePtr:
		u, err := strconv.ParseUint(s, 0, 64)
		return avm.PtrValue(u), err
	}
	return avm.Value{}, fmt.Errorf("unsupported parameter type %s", t)
}
