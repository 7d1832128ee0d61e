package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/veil/ir"
	"github.com/chazu/veil/manifest"
	"github.com/chazu/veil/pkg/avm"
	"github.com/chazu/veil/report"
)

const moduleSource = `@total = global i32 0

define i32 @add(i32 %a, i32 %b) {
entry:
  %s = add i32 %a, %b
  ret i32 %s
}

define i32 @secret_mix(i32 %a) {
entry:
  %x = mul i32 %a, 31
  %y = xor i32 %x, 7
  ret i32 %y
}

define i32 @branchy(i32 %a) {
entry:
  %c = icmp eq i32 %a, 0
  br i1 %c, label %z, label %nz
z:
  ret i32 1
nz:
  ret i32 %a
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func runApp(t *testing.T, args ...string) error {
	t.Helper()
	return newApp().Run(append([]string{"veil"}, args...))
}

func TestParseArg(t *testing.T) {
	tests := []struct {
		ty   ir.Type
		in   string
		want avm.Value
	}{
		{ir.TypeI1, "true", avm.BoolValue(true)},
		{ir.TypeI8, "-5", avm.I8Value(-5)},
		{ir.TypeI8, "0xff", avm.I8Value(-1)},
		{ir.TypeI32, "42", avm.I32Value(42)},
		{ir.TypeI64, "-9000000000", avm.I64Value(-9000000000)},
		{ir.TypeDouble, "2.5", avm.F64Value(2.5)},
		{ir.TypeFloat, "0.25", avm.F32Value(0.25)},
		{ir.TypePtr, "0x10", avm.PtrValue(16)},
	}
	for _, tt := range tests {
		got, err := parseArg(tt.ty, tt.in)
		if err != nil {
			t.Errorf("parseArg(%s, %q) failed: %v", tt.ty, tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseArg(%s, %q) = %v, want %v", tt.ty, tt.in, got, tt.want)
		}
	}

	for _, bad := range []struct {
		ty ir.Type
		in string
	}{{ir.TypeI8, "300"}, {ir.TypeI32, "x"}, {ir.TypeI1, "maybe"}} {
		if _, err := parseArg(bad.ty, bad.in); err == nil {
			t.Errorf("parseArg(%s, %q) succeeded", bad.ty, bad.in)
		}
	}
}

func TestVirtualizeCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "demo.ll")
	writeFile(t, in, moduleSource)
	writeFile(t, filepath.Join(dir, manifest.FileName), `
[project]
name = "demo"
seed = 77

[[function]]
name = "secret_*"
type_checks = true
clear_registers = true

[output]
programs = "build/programs.cbor"
report_db = "build/veil.db"
`)
	out := filepath.Join(dir, "out.ll")

	if err := runApp(t, "virtualize", "-o", out, "-lock", in); err != nil {
		t.Fatalf("virtualize failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	m, err := ir.Parse("out", string(data))
	if err != nil {
		t.Fatalf("output does not parse: %v", err)
	}
	for _, name := range []string{"add", "secret_mix"} {
		if !m.Function(name).HasAttr("trampoline") {
			t.Errorf("@%s not virtualized", name)
		}
	}
	if m.Function("branchy").HasAttr("trampoline") {
		t.Error("@branchy virtualized")
	}

	progs, err := loadPrograms(filepath.Join(dir, "build", "programs.cbor"))
	if err != nil {
		t.Fatalf("loading bundle failed: %v", err)
	}
	if len(progs) != 2 || progs[0].Name() != "add" || progs[1].Name() != "secret_mix" {
		t.Errorf("bundle programs = %d", len(progs))
	}
	if progs[1].CountOpcode(avm.OpTypeCheckInt) == 0 {
		t.Error("secret_mix has no type checks")
	}

	embedded, err := loadPrograms(out)
	if err != nil {
		t.Fatalf("loading embedded programs failed: %v", err)
	}
	if len(embedded) != 2 || !embedded[0].Equal(progs[0]) {
		t.Errorf("embedded programs differ from bundle")
	}

	store, err := report.Open(filepath.Join(dir, "build", "veil.db"))
	if err != nil {
		t.Fatal(err)
	}
	runs, err := store.List()
	store.Close()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Seed != 77 || runs[0].Stats.FunctionsVirtualized != 2 {
		t.Errorf("runs = %+v", runs)
	}

	lf, err := manifest.ReadLock(filepath.Join(dir, ".veil", "lock.toml"))
	if err != nil || lf == nil {
		t.Fatalf("ReadLock = %v, %v", lf, err)
	}
	if p, ok := lf.Lookup("secret_mix"); !ok || !strings.Contains(p.Flags, "type-checks") {
		t.Errorf("lock entry = %+v, %v", p, ok)
	}

	// Same seed, same programs.
	if err := runApp(t, "virtualize", "-o", out, "-lock", in); err != nil {
		t.Fatalf("second virtualize failed: %v", err)
	}
	again, err := manifest.ReadLock(filepath.Join(dir, ".veil", "lock.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if d := lf.Diff(again); len(d) != 0 {
		t.Errorf("rerun changed programs: %v", d)
	}
}

func TestVirtualizeFlagsOverride(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "demo.ll")
	writeFile(t, in, moduleSource)
	out := filepath.Join(dir, "out.ll")

	if err := runApp(t, "virtualize", "-flags", "none", "-o", out, in); err != nil {
		t.Fatalf("virtualize failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "trampoline") {
		t.Error("functions virtualized with -flags none")
	}

	if err := runApp(t, "virtualize", "-flags", "bogus", in); err == nil {
		t.Error("virtualize accepted unknown flag")
	}
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "demo.ll")
	writeFile(t, in, moduleSource)

	if err := runApp(t, "run", "-virtualize", "-seed", "3", in, "add", "3", "4"); err != nil {
		t.Errorf("run failed: %v", err)
	}
	if err := runApp(t, "run", in, "nope"); err == nil || !strings.Contains(err.Error(), "no function") {
		t.Errorf("run of missing function = %v", err)
	}
	if err := runApp(t, "run", in, "add", "1"); err == nil || !strings.Contains(err.Error(), "takes 2 arguments") {
		t.Errorf("run with missing argument = %v", err)
	}
	if err := runApp(t, "run", in, "add", "1", "x"); err == nil {
		t.Error("run accepted a bad argument")
	}
}

func TestCommandsNeedArguments(t *testing.T) {
	for _, cmd := range []string{"virtualize", "run", "disasm", "gen"} {
		if err := runApp(t, cmd); err == nil {
			t.Errorf("%s without arguments succeeded", cmd)
		}
	}
}

func TestGenCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "demo.ll")
	writeFile(t, in, moduleSource)
	out := filepath.Join(dir, "gen", "demo.go")

	if err := runApp(t, "gen", "-virtualize", "-no-validate", "-p", "demo", "-o", out, in); err != nil {
		t.Fatalf("gen failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"package demo", "func Add(", "func SecretMix("} {
		if !strings.Contains(string(data), want) {
			t.Errorf("generated code missing %q", want)
		}
	}

	if err := runApp(t, "gen", in); err == nil {
		t.Error("gen of an unvirtualized module succeeded")
	}
}

func TestReportCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "demo.ll")
	writeFile(t, in, moduleSource)
	db := filepath.Join(dir, "veil.db")

	if err := runApp(t, "virtualize", "-report-db", db, "-o", filepath.Join(dir, "out.ll"), in); err != nil {
		t.Fatalf("virtualize failed: %v", err)
	}
	if err := runApp(t, "report", "-db", db); err != nil {
		t.Errorf("report list failed: %v", err)
	}
	if err := runApp(t, "report", "-db", db, "-run", "missing"); err == nil {
		t.Error("report of a missing run succeeded")
	}
}
