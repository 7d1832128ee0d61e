package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/chazu/veil/pkg/gogen"
)

func genCommand() cli.Command {
	return cli.Command{
		Name:      "gen",
		Usage:     "generate Go functions that run the virtualized programs",
		ArgsUsage: "in.ll",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "package, p", Value: "virtualized", Usage: "package `NAME` of the generated file"},
			cli.StringFlag{Name: "o", Usage: "write the Go source to `FILE` (default stdout)"},
			cli.BoolFlag{Name: "virtualize", Usage: "virtualize the module first"},
			cli.StringFlag{Name: "config, c", Usage: "manifest `FILE` used with -virtualize"},
			cli.Int64Flag{Name: "seed", Usage: "polymorphism seed used with -virtualize"},
			cli.BoolFlag{Name: "no-validate", Usage: "skip type-checking the generated code"},
		},
		Action: runGen,
	}
}

func runGen(c *cli.Context) error {
	if err := needArgs(c, 1); err != nil {
		return err
	}
	input := c.Args().First()
	mod, err := readModule(input)
	if err != nil {
		return err
	}

	if c.Bool("virtualize") {
		man, _, err := loadManifest(c.String("config"), input)
		if err != nil {
			return err
		}
		seed := man.Project.Seed
		if c.IsSet("seed") {
			seed = c.Int64("seed")
		}
		if _, err := virtualizeModule(mod, man, seed); err != nil {
			return err
		}
	}

	res, err := gogen.Generate(mod, gogen.GenerateOptions{
		Package:        c.String("package"),
		SkipValidation: c.Bool("no-validate"),
	})
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		log.Warningf("%s", w)
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(os.Stderr, "skipped @%s: %s\n", s.Name, s.Reason)
	}
	return writeOutput(c.String("o"), []byte(res.Code))
}
