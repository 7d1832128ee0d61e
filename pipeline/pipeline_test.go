package pipeline

import (
	"errors"
	"reflect"
	"testing"

	"github.com/chazu/veil/ir"
	"github.com/chazu/veil/pkg/avm"
	"github.com/chazu/veil/virtualize"
)

const source = `
define i32 @add(i32 %a, i32 %b) {
entry:
  %s = add i32 %a, %b
  ret i32 %s
}

define i32 @abs(i32 %x) {
entry:
  %neg = icmp slt i32 %x, 0
  br i1 %neg, label %flip, label %done
flip:
  %y = sub i32 0, %x
  ret i32 %y
done:
  ret i32 %x
}
`

func parse(t *testing.T) *ir.Module {
	t.Helper()
	m, err := ir.Parse("test", source)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return m
}

func TestStandardPipeline(t *testing.T) {
	r := Standard(Config{Seed: 7})
	defer r.Close()

	if got, want := r.Names(), []string{"verify", "virtualize"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}

	p, err := r.Build("verify", "virtualize", "verify")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if got := p.Passes(); len(got) != 3 || got[1] != "virtualize" {
		t.Errorf("Passes() = %v", got)
	}

	m := parse(t)
	res, err := p.Run(m)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Passes) != 3 {
		t.Errorf("timings = %d, want 3", len(res.Passes))
	}
	st := res.Stats()
	if st.FunctionsProcessed != 2 || st.FunctionsVirtualized != 1 || st.FunctionsSkipped != 1 {
		t.Errorf("stats = %+v, want 2 processed, 1 virtualized, 1 skipped", st)
	}
	if _, ok := res.Virtualize.Programs["add"]; !ok {
		t.Error("no program recorded for add")
	}

	ev := virtualize.NewEvaluator(m)
	v, err := ev.Call("add", avm.I32Value(3), avm.I32Value(4))
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if v.Int() != 7 {
		t.Errorf("add(3, 4) = %d, want 7", v.Int())
	}
}

func TestPipelineMergesRepeatedPasses(t *testing.T) {
	r := Standard(Config{Flags: virtualize.DefaultFlags})
	defer r.Close()
	p, err := r.Build("virtualize", "virtualize")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	res, err := p.Run(parse(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// The second run sees add as a trampoline and skips it.
	st := res.Stats()
	if st.FunctionsProcessed != 4 || st.FunctionsVirtualized != 1 {
		t.Errorf("stats = %+v, want 4 processed, 1 virtualized", st)
	}
	if len(res.Virtualize.Outcomes) != 4 {
		t.Errorf("outcomes = %d, want 4", len(res.Virtualize.Outcomes))
	}
}

func TestRegistryErrors(t *testing.T) {
	r := Standard(Config{})
	if err := r.Register("verify", newVerifyPass); !errors.Is(err, ErrDuplicatePass) {
		t.Errorf("duplicate Register error = %v, want ErrDuplicatePass", err)
	}
	if _, err := r.Build("verify", "inline"); !errors.Is(err, ErrUnknownPass) {
		t.Errorf("Build error = %v, want ErrUnknownPass", err)
	}

	broken := errors.New("no config")
	r.Register("broken", func(Config) (Pass, error) { return nil, broken })
	if _, err := r.Build("broken"); !errors.Is(err, broken) {
		t.Errorf("Build error = %v, want %v", err, broken)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := r.Build("verify"); !errors.Is(err, ErrClosed) {
		t.Errorf("Build after Close error = %v, want ErrClosed", err)
	}
	if err := r.Register("x", newVerifyPass); !errors.Is(err, ErrClosed) {
		t.Errorf("Register after Close error = %v, want ErrClosed", err)
	}
}

type closingPass struct {
	closed *int
	err    error
}

func (closingPass) Name() string                    { return "closing" }
func (p closingPass) Run(*ir.Module, *Result) error { return p.err }
func (p closingPass) Close() error                  { *p.closed++; return nil }

func TestRegistryClosesPasses(t *testing.T) {
	closed := 0
	r := NewRegistry(Config{})
	r.Register("closing", func(Config) (Pass, error) { return closingPass{closed: &closed}, nil })
	if _, err := r.Build("closing", "closing"); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if closed != 2 {
		t.Errorf("closed = %d, want 2", closed)
	}
	if err := r.Close(); err != nil || closed != 2 {
		t.Errorf("second Close = %v, closed = %d", err, closed)
	}
}

func TestPipelineStopsOnError(t *testing.T) {
	closed := 0
	fail := errors.New("boom")
	r := Standard(Config{})
	defer r.Close()
	r.Register("fail", func(Config) (Pass, error) { return closingPass{closed: &closed, err: fail}, nil })

	p, err := r.Build("fail", "virtualize")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	m := parse(t)
	res, err := p.Run(m)
	if !errors.Is(err, fail) {
		t.Fatalf("Run error = %v, want %v", err, fail)
	}
	if len(res.Passes) != 1 || res.Virtualize != nil {
		t.Errorf("result = %+v, want only the failing pass", res)
	}
	if m.Function("add").HasAttr("trampoline") {
		t.Error("add was virtualized after a failing pass")
	}
}
