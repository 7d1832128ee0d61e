// Package pipeline schedules module passes. Passes are looked up by name in
// an explicit Registry; there is no process-wide pass list.
package pipeline

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/veil/ir"
	"github.com/chazu/veil/virtualize"
)

var (
	ErrUnknownPass   = errors.New("unknown pass")
	ErrDuplicatePass = errors.New("pass already registered")
	ErrClosed        = errors.New("registry closed")
)

// Pass transforms or checks a module.
type Pass interface {
	Name() string
	Run(m *ir.Module, res *Result) error
}

// Config is handed to every factory when a pipeline is built.
type Config struct {
	Flags     virtualize.FlagSource
	Seed      int64
	Generator *virtualize.CodeGenerator
	Log       commonlog.Logger
}

// Factory creates a pass for one pipeline.
type Factory func(cfg Config) (Pass, error)

// Result aggregates what the passes of one run did.
type Result struct {
	Passes     []PassTiming
	Virtualize *virtualize.Result
}

// PassTiming records how long a pass took.
type PassTiming struct {
	Name     string
	Duration time.Duration
}

// Stats returns the merged virtualization statistics, zero if no
// virtualize pass ran.
func (r *Result) Stats() virtualize.Stats {
	if r.Virtualize == nil {
		return virtualize.Stats{}
	}
	return r.Virtualize.Stats
}

func (r *Result) addVirtualize(v *virtualize.Result) {
	if r.Virtualize == nil {
		r.Virtualize = v
		return
	}
	r.Virtualize.Stats.Merge(v.Stats)
	r.Virtualize.Outcomes = append(r.Virtualize.Outcomes, v.Outcomes...)
	for name, p := range v.Programs {
		r.Virtualize.Programs[name] = p
	}
}

// Registry maps pass names to factories and tracks the passes it built so
// Close can release them.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	built     []Pass
	closed    bool
	cfg       Config
}

// NewRegistry returns an empty registry whose pipelines use cfg.
func NewRegistry(cfg Config) *Registry {
	if cfg.Log == nil {
		cfg.Log = commonlog.GetLogger("veil.pipeline")
	}
	return &Registry{factories: make(map[string]Factory), cfg: cfg}
}

// Standard returns a registry with the verify and virtualize passes.
func Standard(cfg Config) *Registry {
	r := NewRegistry(cfg)
	r.mustRegister("verify", newVerifyPass)
	r.mustRegister("virtualize", newVirtualizePass)
	return r
}

func (r *Registry) mustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePass, name)
	}
	r.factories[name] = f
	return nil
}

// Names lists the registered passes in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the named passes in order.
func (r *Registry) Build(names ...string) (*Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	p := &Pipeline{log: r.cfg.Log}
	for _, name := range names {
		f, ok := r.factories[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPass, name)
		}
		pass, err := f(r.cfg)
		if err != nil {
			return nil, fmt.Errorf("building pass %s: %w", name, err)
		}
		p.passes = append(p.passes, pass)
		r.built = append(r.built, pass)
	}
	return p, nil
}

// Close releases every built pass that implements io.Closer. The registry
// cannot be used afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	for _, p := range r.built {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing pass %s: %w", p.Name(), err))
			}
		}
	}
	r.built = nil
	return errors.Join(errs...)
}

// Pipeline is an ordered list of passes.
type Pipeline struct {
	passes []Pass
	log    commonlog.Logger
}

// Passes returns the pass names in run order.
func (p *Pipeline) Passes() []string {
	names := make([]string, len(p.passes))
	for i, pass := range p.passes {
		names[i] = pass.Name()
	}
	return names
}

// Run applies every pass to m in order and stops at the first error.
func (p *Pipeline) Run(m *ir.Module) (*Result, error) {
	res := &Result{}
	for _, pass := range p.passes {
		start := time.Now()
		err := pass.Run(m, res)
		d := time.Since(start)
		res.Passes = append(res.Passes, PassTiming{Name: pass.Name(), Duration: d})
		if err != nil {
			return res, fmt.Errorf("pass %s: %w", pass.Name(), err)
		}
		p.log.Debugf("pass %s finished in %s", pass.Name(), d)
	}
	return res, nil
}
