package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	"github.com/chazu/veil/report"
)

func reportCommand() cli.Command {
	return cli.Command{
		Name:  "report",
		Usage: "list recorded runs or show one of them",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "db", Usage: "report database `FILE` (default: from veil.toml)"},
			cli.StringFlag{Name: "run", Usage: "show the outcomes of run `ID`"},
			cli.BoolFlag{Name: "programs", Usage: "with -run, also disassemble the stored programs"},
			cli.StringFlag{Name: "delete", Usage: "delete run `ID`"},
		},
		Action: runReport,
	}
}

func runReport(c *cli.Context) error {
	path := c.String("db")
	if path == "" {
		man, found, err := loadManifest("", "./")
		if err != nil {
			return err
		}
		if !found || man.ReportDBPath() == "" {
			return fmt.Errorf("report: no -db given and no report_db in veil.toml")
		}
		path = man.ReportDBPath()
	}
	store, err := report.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	switch {
	case c.String("delete") != "":
		return store.Delete(c.String("delete"))
	case c.String("run") != "":
		run, err := store.Load(c.String("run"))
		if err != nil {
			return err
		}
		printRun(run, c.Bool("programs"))
		return nil
	}

	runs, err := store.List()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODULE\tSEED\tCREATED\tVIRTUALIZED\tFAILED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d/%d\t%d\n", r.ID, r.Module, r.Seed,
			r.Created.Local().Format(time.DateTime), r.Stats.FunctionsVirtualized,
			r.Stats.FunctionsProcessed, r.Stats.FunctionsFailed)
	}
	return w.Flush()
}

func printRun(run *report.Run, programs bool) {
	fmt.Printf("run %s: module %s, seed %d, %s\n", run.ID, run.Module, run.Seed,
		run.Created.Local().Format(time.DateTime))
	fmt.Println(run.Stats)
	for _, o := range run.Outcomes {
		fmt.Println("  " + o.String())
	}
	if !programs {
		return
	}
	shown := make(map[string]bool)
	for _, o := range run.Outcomes {
		if p, ok := run.Programs[o.Function]; ok && !shown[o.Function] {
			shown[o.Function] = true
			fmt.Println()
			fmt.Print(p.Disassemble())
		}
	}
}
