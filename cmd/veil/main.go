// Veil CLI - virtualizes IR functions into avm bytecode
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"github.com/urfave/cli"

	"github.com/chazu/veil/ir"
	"github.com/chazu/veil/manifest"
)

var log = commonlog.GetLogger("veil.cli")

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "veil"
	app.Usage = "virtualize IR functions into avm bytecode"
	app.Version = "0.1.0"

	app.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "verbose, v",
			Usage: "log verbosity (0 errors only, 1 warnings, 2 info, 3 debug)",
		},
		cli.StringFlag{
			Name:  "log",
			Usage: "write logs to `FILE` instead of stderr",
		},
	}
	app.Before = func(c *cli.Context) error {
		var path *string
		if p := c.GlobalString("log"); p != "" {
			path = &p
		}
		commonlog.Configure(c.GlobalInt("verbose"), path)
		return nil
	}

	app.Commands = []cli.Command{
		virtualizeCommand(),
		runCommand(),
		disasmCommand(),
		genCommand(),
		reportCommand(),
	}
	return app
}

// readModule parses an IR text file. The module is named after the file.
func readModule(path string) (*ir.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	m, err := ir.Parse(name, string(data))
	if err != nil {
		return nil, err
	}
	if err := ir.Verify(m); err != nil {
		return nil, err
	}
	return m, nil
}

// loadManifest loads an explicit config, or finds veil.toml above the input
// file, or falls back to the defaults. The bool reports whether a file was
// found.
func loadManifest(config, input string) (*manifest.Manifest, bool, error) {
	if config != "" {
		m, err := manifest.LoadFile(config)
		return m, err == nil, err
	}
	m, err := manifest.FindAndLoad(filepath.Dir(input))
	if err != nil {
		return nil, false, err
	}
	if m == nil {
		return manifest.Default(), false, nil
	}
	log.Debugf("using %s", filepath.Join(m.Dir, manifest.FileName))
	return m, true, nil
}

// writeOutput writes data to path, or to stdout when path is "" or "-".
func writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}

func needArgs(c *cli.Context, n int) error {
	if len(c.Args()) < n {
		return fmt.Errorf("%s: expected %s", c.Command.Name, c.Command.ArgsUsage)
	}
	return nil
}
