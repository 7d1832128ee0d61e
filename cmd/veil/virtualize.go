package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/urfave/cli"

	"github.com/chazu/veil/ir"
	"github.com/chazu/veil/manifest"
	"github.com/chazu/veil/pipeline"
	"github.com/chazu/veil/pkg/avm"
	"github.com/chazu/veil/report"
	"github.com/chazu/veil/virtualize"
)

func virtualizeCommand() cli.Command {
	return cli.Command{
		Name:      "virtualize",
		Usage:     "replace eligible functions with bytecode trampolines",
		ArgsUsage: "in.ll",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "config, c", Usage: "manifest `FILE` (default: veil.toml above the input)"},
			cli.Int64Flag{Name: "seed", Usage: "polymorphism seed (overrides the manifest)"},
			cli.StringFlag{Name: "flags", Usage: "flags for every function, e.g. enable,type-checks (overrides the manifest)"},
			cli.StringFlag{Name: "o", Usage: "write the rewritten module to `FILE` (default stdout)"},
			cli.StringFlag{Name: "emit-programs", Usage: "write installed programs as a CBOR bundle to `FILE`"},
			cli.StringFlag{Name: "report-db", Usage: "record the run in the SQLite database `FILE`"},
			cli.BoolFlag{Name: "lock", Usage: "compare with and update the lock file"},
		},
		Action: runVirtualize,
	}
}

func runVirtualize(c *cli.Context) error {
	if err := needArgs(c, 1); err != nil {
		return err
	}
	input := c.Args().First()
	mod, err := readModule(input)
	if err != nil {
		return err
	}
	man, found, err := loadManifest(c.String("config"), input)
	if err != nil {
		return err
	}

	seed := man.Project.Seed
	if c.IsSet("seed") {
		seed = c.Int64("seed")
	}
	var flags virtualize.FlagSource = man
	if c.IsSet("flags") {
		f, err := virtualize.ParseFlags(c.String("flags"))
		if err != nil {
			return err
		}
		flags = f
	}

	res, err := virtualizeModule(mod, flags, seed)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, res.Stats)
	for _, o := range res.Outcomes {
		if o.Status == virtualize.StatusFailed {
			fmt.Fprintln(os.Stderr, "  "+o.String())
		}
	}

	if err := writeOutput(c.String("o"), []byte(mod.String())); err != nil {
		return err
	}

	if path := firstNonEmpty(c.String("emit-programs"), man.ProgramsPath()); path != "" {
		data, err := avm.MarshalBundle(sortedPrograms(res.Programs))
		if err != nil {
			return err
		}
		if err := writeOutput(path, data); err != nil {
			return err
		}
		log.Infof("wrote %d programs to %s", len(res.Programs), path)
	}

	if path := firstNonEmpty(c.String("report-db"), man.ReportDBPath()); path != "" {
		store, err := report.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()
		run := report.NewRun(mod.Name, seed, res)
		if err := store.Save(run); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "run %s recorded in %s\n", run.ID, path)
	}

	if c.Bool("lock") {
		if !found {
			return fmt.Errorf("-lock needs a veil.toml")
		}
		return updateLock(man, seed, flags, mod, res.Programs)
	}
	return nil
}

// virtualizeModule runs the verify and virtualize passes over mod.
func virtualizeModule(mod *ir.Module, flags virtualize.FlagSource, seed int64) (*virtualize.Result, error) {
	reg := pipeline.Standard(pipeline.Config{Flags: flags, Seed: seed})
	defer reg.Close()
	p, err := reg.Build("verify", "virtualize")
	if err != nil {
		return nil, err
	}
	res, err := p.Run(mod)
	if err != nil {
		return nil, err
	}
	return res.Virtualize, nil
}

func updateLock(man *manifest.Manifest, seed int64, flags virtualize.FlagSource, mod *ir.Module, progs map[string]*avm.Program) error {
	path := man.LockFilePath()
	lf, err := manifest.NewLockFile(seed, progs, func(fn string) string {
		if f := mod.Function(fn); f != nil {
			return flags.FlagsFor(f).String()
		}
		return ""
	})
	if err != nil {
		return err
	}
	old, err := manifest.ReadLock(path)
	if err != nil {
		return err
	}
	if old != nil {
		if old.Seed != seed {
			log.Warningf("lock file seed %d differs from %d", old.Seed, seed)
		}
		for _, fn := range old.Diff(lf) {
			log.Warningf("@%s: program differs from lock file", fn)
		}
	}
	return manifest.WriteLock(path, lf)
}

func sortedPrograms(progs map[string]*avm.Program) []*avm.Program {
	names := make([]string, 0, len(progs))
	for n := range progs {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*avm.Program, len(names))
	for i, n := range names {
		out[i] = progs[n]
	}
	return out
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}
