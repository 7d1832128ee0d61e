package report

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/veil/ir"
	"github.com/chazu/veil/virtualize"
)

const source = `
define i32 @add(i32 %a, i32 %b) {
entry:
  %s = add i32 %a, %b
  ret i32 %s
}

define i32 @mul3(i32 %a, i32 %b, i32 %c) {
entry:
  %x = mul i32 %a, %b
  %y = mul i32 %x, %c
  ret i32 %y
}

define i32 @id(i32 %a) novirt {
entry:
  ret i32 %a
}
`

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "reports", "veil.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func virtualizeRun(t *testing.T, seed int64) *Run {
	t.Helper()
	m, err := ir.Parse("demo", source)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	flags := virtualize.FlagEnable | virtualize.FlagPolymorphism | virtualize.FlagTypeChecks
	res, err := (&virtualize.Pass{Flags: flags, Seed: seed}).Run(m)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return NewRun(m.Name, seed, res)
}

func TestSaveLoad(t *testing.T) {
	s := openStore(t)
	run := virtualizeRun(t, 99)
	if run.Stats.FunctionsVirtualized != 2 {
		t.Fatalf("virtualized = %d, want 2", run.Stats.FunctionsVirtualized)
	}

	if err := s.Save(run); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := s.Load(run.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got.Module != "demo" || got.Seed != 99 {
		t.Errorf("run = %s seed %d, want demo seed 99", got.Module, got.Seed)
	}
	if got.Stats != run.Stats {
		t.Errorf("stats = %+v, want %+v", got.Stats, run.Stats)
	}
	if !got.Created.Equal(run.Created) {
		t.Errorf("created = %v, want %v", got.Created, run.Created)
	}
	if len(got.Outcomes) != len(run.Outcomes) {
		t.Fatalf("outcomes = %d, want %d", len(got.Outcomes), len(run.Outcomes))
	}
	for i, o := range got.Outcomes {
		if o != run.Outcomes[i] {
			t.Errorf("outcome %d = %+v, want %+v", i, o, run.Outcomes[i])
		}
	}
	if len(got.Programs) != 2 {
		t.Fatalf("programs = %d, want 2", len(got.Programs))
	}
	for name, p := range run.Programs {
		if !p.Equal(got.Programs[name]) {
			t.Errorf("program %s did not survive storage", name)
		}
	}
}

func TestLoadNotFound(t *testing.T) {
	s := openStore(t)
	if _, err := s.Load("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Load error = %v, want ErrRunNotFound", err)
	}
	if err := s.Delete("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Delete error = %v, want ErrRunNotFound", err)
	}
}

func TestListAndDelete(t *testing.T) {
	s := openStore(t)
	first := virtualizeRun(t, 1)
	second := virtualizeRun(t, 2)
	second.Created = first.Created.Add(time.Second)
	for _, r := range []*Run{first, second} {
		if err := s.Save(r); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if first.ID == second.ID {
		t.Fatal("runs share an ID")
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("List = %+v, want newest first", list)
	}
	if list[0].Seed != 2 || list[0].Stats.FunctionsProcessed != 3 {
		t.Errorf("summary = %+v", list[0])
	}

	if err := s.Delete(second.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Load(second.ID); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Load after Delete error = %v, want ErrRunNotFound", err)
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM outcomes WHERE run_id = ?", second.ID).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("outcomes left after Delete = %d, want 0", n)
	}
	if _, err := s.Load(first.ID); err != nil {
		t.Errorf("Load(first) failed: %v", err)
	}
}

func TestListOrdersByTime(t *testing.T) {
	s := openStore(t)
	base := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	// .1s and .12s: the later time has the shorter fraction.
	older := virtualizeRun(t, 1)
	older.Created = base.Add(100 * time.Millisecond)
	newer := virtualizeRun(t, 2)
	newer.Created = base.Add(120 * time.Millisecond)
	newest := virtualizeRun(t, 3)
	newest.Created = base.Add(time.Second)
	for _, r := range []*Run{newer, newest, older} {
		if err := s.Save(r); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	var got []int64
	for _, sm := range list {
		got = append(got, sm.Seed)
	}
	if len(got) != 3 || got[0] != 3 || got[1] != 2 || got[2] != 1 {
		t.Errorf("List seeds = %v, want [3 2 1]", got)
	}
	if !list[1].Created.Equal(newer.Created) {
		t.Errorf("Created = %v, want %v", list[1].Created, newer.Created)
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "veil.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	run := NewRun("empty", 0, nil)
	if err := s.Save(run); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	got, err := s.Load(run.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Module != "empty" || len(got.Outcomes) != 0 {
		t.Errorf("run = %+v", got)
	}
}
