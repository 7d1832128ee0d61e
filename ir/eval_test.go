package ir

import (
	"errors"
	"sync"
	"testing"

	"github.com/chazu/veil/pkg/avm"
)

const factSource = `
define i64 @fact(i64 %n) {
entry:
  %z = icmp sle i64 %n, 1
  br i1 %z, label %base, label %rec

base:
  ret i64 1

rec:
  %m = sub i64 %n, 1
  %f = call i64 @fact(i64 %m)
  %r = mul i64 %n, %f
  ret i64 %r
}
`

func TestEvalSample(t *testing.T) {
	m := loadSample(t)
	var sunk []avm.Value
	ev := NewEvaluator(m, WithIntrinsic("sink", func(c *IntrinsicCall) (avm.Value, error) {
		sunk = append(sunk, c.Args...)
		return avm.Value{}, nil
	}))

	tests := []struct {
		fn   string
		args []avm.Value
		want avm.Value
	}{
		{"arith", []avm.Value{avm.I32Value(300), avm.I32Value(1)}, avm.I32Value(44)},
		{"arith", []avm.Value{avm.I32Value(2), avm.I32Value(9)}, avm.I32Value(2)},
		{"floats", []avm.Value{avm.F64Value(0.25), avm.F32Value(0.5)}, avm.F64Value(2)},
		{"floats", []avm.Value{avm.F64Value(1), avm.F32Value(1)}, avm.F64Value(0)},
		{"loop", []avm.Value{avm.I32Value(0)}, avm.I32Value(0)},
		{"loop", []avm.Value{avm.I32Value(10)}, avm.I32Value(45)},
		{"pick", []avm.Value{avm.I32Value(1)}, avm.I32Value(10)},
		{"pick", []avm.Value{avm.I32Value(2)}, avm.I32Value(20)},
	}

	for _, tc := range tests {
		got, err := ev.Call(tc.fn, tc.args...)
		if err != nil {
			t.Errorf("%s%v: %v", tc.fn, tc.args, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("%s%v = %v, want %v", tc.fn, tc.args, got, tc.want)
		}
	}

	if _, err := ev.Call("memory", avm.I32Value(5)); err != nil {
		t.Fatalf("memory(5): %v", err)
	}
	if v, err := ev.Memory().Value("counter"); err != nil || v.Int() != 12 {
		t.Errorf("@counter = %v (%v), want 12", v, err)
	}
	if len(sunk) != 1 || sunk[0].Kind() != avm.KindPtr {
		t.Errorf("sink received %v, want one pointer", sunk)
	}

	ev.Memory().Reset()
	if v, _ := ev.Memory().Value("counter"); v.Int() != 7 {
		t.Errorf("@counter after Reset = %v, want 7", v)
	}
}

func TestEvalFactorial(t *testing.T) {
	ev := NewEvaluator(mustParse(t, factSource))
	want := int64(1)
	for n := int64(0); n <= 10; n++ {
		if n > 1 {
			want *= n
		}
		got, err := ev.Call("fact", avm.I64Value(n))
		if err != nil {
			t.Fatalf("fact(%d): %v", n, err)
		}
		if got.Int() != want {
			t.Errorf("fact(%d) = %d, want %d", n, got.Int(), want)
		}
	}
}

func TestEvalConcurrent(t *testing.T) {
	ev := NewEvaluator(mustParse(t, factSource))
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				v, err := ev.Call("fact", avm.I64Value(10))
				if err != nil {
					errs <- err
					return
				}
				if v.Int() != 3628800 {
					errs <- errors.New("wrong result " + v.String())
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestEvalErrors(t *testing.T) {
	src := `
@k = constant i32 1

define i32 @div(i32 %a, i32 %b) {
  %q = sdiv i32 %a, %b
  ret i32 %q
}

define i32 @down(i32 %n) {
  %r = call i32 @down(i32 %n)
  ret i32 %r
}

define void @spin() {
entry:
  br label %entry
}

define void @poke() {
  store i32 2, ptr @k
  ret void
}

define i32 @deref() {
  %v = load i32, ptr null
  ret i32 %v
}

define i32 @confused() {
  %p = alloca i64
  store i64 1, ptr %p
  %v = load i32, ptr %p
  ret i32 %v
}

declare i32 @missing(i32)

define i32 @callsmissing() {
  %r = call i32 @missing(i32 1)
  ret i32 %r
}
`
	ev := NewEvaluator(mustParse(t, src), WithDepthLimit(16), WithStepLimit(1000))

	tests := []struct {
		fn   string
		args []avm.Value
		want error
	}{
		{"div", []avm.Value{avm.I32Value(1), avm.I32Value(0)}, avm.ErrDivideByZero},
		{"div", []avm.Value{avm.I32Value(1)}, ErrArgCount},
		{"div", []avm.Value{avm.I64Value(1), avm.I32Value(1)}, avm.ErrTypeMismatch},
		{"down", []avm.Value{avm.I32Value(1)}, ErrDepthLimit},
		{"spin", nil, ErrStepLimit},
		{"poke", nil, ErrReadOnly},
		{"deref", nil, ErrBadPointer},
		{"confused", nil, avm.ErrTypeMismatch},
		{"callsmissing", nil, ErrUnknownFunction},
		{"nosuch", nil, ErrUnknownFunction},
	}

	for _, tc := range tests {
		_, err := ev.Call(tc.fn, tc.args...)
		if !errors.Is(err, tc.want) {
			t.Errorf("%s%v error = %v, want %v", tc.fn, tc.args, err, tc.want)
		}
		var ee *EvalError
		if err != nil && !errors.As(err, &ee) {
			t.Errorf("%s error %T is not an *EvalError", tc.fn, err)
		}
	}
}

func TestEvalUninitializedSlot(t *testing.T) {
	m := mustParse(t, "define double @f() {\n  %p = alloca double, i32 4\n  %v = load double, ptr %p\n  ret double %v\n}")
	got, err := NewEvaluator(m).Call("f")
	if err != nil {
		t.Fatalf("f(): %v", err)
	}
	if !got.Equal(avm.F64Value(0)) {
		t.Errorf("f() = %v, want f64 0", got)
	}
}

func TestEvalRegisterFileIntrinsics(t *testing.T) {
	src := `
declare ptr @mk(i32)
declare void @put(ptr, i32, i32)
declare i32 @get(ptr, i32)

define i32 @use(i32 %v) {
  %rf = call ptr @mk(i32 2)
  call void @put(ptr %rf, i32 1, i32 %v)
  %r = call i32 @get(ptr %rf, i32 1)
  ret i32 %r
}
`
	ev := NewEvaluator(mustParse(t, src), WithIntrinsics(map[string]Intrinsic{
		"mk": func(c *IntrinsicCall) (avm.Value, error) {
			return c.Frame.NewRegisterFile(int(c.Args[0].Int())), nil
		},
		"put": func(c *IntrinsicCall) (avm.Value, error) {
			regs, err := c.Frame.RegisterFile(c.Args[0])
			if err != nil {
				return avm.Value{}, err
			}
			regs[c.Args[1].Int()] = c.Args[2]
			return avm.Value{}, nil
		},
		"get": func(c *IntrinsicCall) (avm.Value, error) {
			regs, err := c.Frame.RegisterFile(c.Args[0])
			if err != nil {
				return avm.Value{}, err
			}
			if c.Result() != TypeI32 {
				t.Errorf("Result() = %s, want i32", c.Result())
			}
			return regs[c.Args[1].Int()], nil
		},
	}))

	got, err := ev.Call("use", avm.I32Value(41))
	if err != nil {
		t.Fatalf("use(41): %v", err)
	}
	if got.Int() != 41 {
		t.Errorf("use(41) = %v, want 41", got)
	}
}

func TestEvalReentryFromIntrinsic(t *testing.T) {
	src := factSource + `
declare i64 @host(i64)

define i64 @outer(i64 %n) {
  %r = call i64 @host(i64 %n)
  ret i64 %r
}
`
	ev := NewEvaluator(mustParse(t, src), WithIntrinsic("host", func(c *IntrinsicCall) (avm.Value, error) {
		if c.Run.Depth() != 2 {
			t.Errorf("Depth() = %d inside host, want 2", c.Run.Depth())
		}
		return c.Run.Call("fact", c.Args...)
	}))
	got, err := ev.Call("outer", avm.I64Value(5))
	if err != nil {
		t.Fatalf("outer(5): %v", err)
	}
	if got.Int() != 120 {
		t.Errorf("outer(5) = %d, want 120", got.Int())
	}
}
