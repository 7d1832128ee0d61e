package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli"

	"github.com/chazu/veil/pkg/avm"
	"github.com/chazu/veil/virtualize"
)

func disasmCommand() cli.Command {
	return cli.Command{
		Name:      "disasm",
		Usage:     "disassemble the programs embedded in a module or stored in a bundle",
		ArgsUsage: "in.ll|programs.cbor|program.avm",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "function, f", Usage: "only disassemble the program of `FN`"},
		},
		Action: runDisasm,
	}
}

func runDisasm(c *cli.Context) error {
	if err := needArgs(c, 1); err != nil {
		return err
	}
	path := c.Args().First()
	progs, err := loadPrograms(path)
	if err != nil {
		return err
	}

	only := c.String("function")
	n := 0
	for _, p := range progs {
		if only != "" && p.Name() != only {
			continue
		}
		if n > 0 {
			fmt.Println()
		}
		fmt.Print(p.Disassemble())
		n++
	}
	if n == 0 {
		if only != "" {
			return fmt.Errorf("no program for @%s in %s", only, path)
		}
		return fmt.Errorf("no programs in %s", path)
	}
	return nil
}

// loadPrograms reads programs from a binary program, a CBOR bundle or the
// program globals of an IR module.
func loadPrograms(path string) ([]*avm.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	switch {
	case bytes.HasPrefix(data, avm.Magic):
		p, err := avm.Deserialize(data)
		if err != nil {
			return nil, err
		}
		return []*avm.Program{p}, nil
	case filepath.Ext(path) == ".cbor":
		return avm.UnmarshalBundle(data)
	}

	mod, err := readModule(path)
	if err != nil {
		return nil, err
	}
	var progs []*avm.Program
	for _, g := range mod.Globals {
		if !strings.HasPrefix(g.Name, virtualize.ProgramPrefix) {
			continue
		}
		p, err := avm.Deserialize(g.Data)
		if err != nil {
			return nil, fmt.Errorf("@%s: %w", g.Name, err)
		}
		progs = append(progs, p)
	}
	return progs, nil
}
