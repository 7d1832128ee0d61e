package ir

import (
	"fmt"
	"sync"

	"github.com/chazu/veil/pkg/avm"
)

// Memory holds the current values of a module's scalar globals. The address
// of a global is its index in Module.Globals. Memory implements
// avm.GlobalMemory so that programs and the evaluator share one view.
type Memory struct {
	mu   sync.RWMutex
	mod  *Module
	vals map[uint32]avm.Value
}

var _ avm.GlobalMemory = (*Memory)(nil)

// NewMemory creates memory for m with every global at its initializer.
func NewMemory(m *Module) *Memory {
	return &Memory{mod: m, vals: make(map[uint32]avm.Value)}
}

func (m *Memory) global(addr uint32) (*Global, error) {
	if int(addr) >= len(m.mod.Globals) {
		return nil, fmt.Errorf("%w: no global at address %d", ErrBadPointer, addr)
	}
	g := m.mod.Globals[addr]
	if !g.IsScalar() {
		return nil, fmt.Errorf("%w: @%s is not a scalar global", ErrBadPointer, g.Name)
	}
	return g, nil
}

// LoadGlobal returns the value of the global at addr, which must have the
// given kind.
func (m *Memory) LoadGlobal(addr uint32, kind avm.Kind) (avm.Value, error) {
	g, err := m.global(addr)
	if err != nil {
		return avm.Value{}, err
	}
	if g.Ty.Kind() != kind {
		return avm.Value{}, fmt.Errorf("%w: @%s is %s, load expects %s", avm.ErrTypeMismatch, g.Name, g.Ty, kind)
	}

	m.mu.RLock()
	v, ok := m.vals[addr]
	m.mu.RUnlock()
	if ok {
		return v, nil
	}
	if g.Init.IsValid() {
		return g.Init, nil
	}
	return avm.Zero(kind), nil
}

// StoreGlobal replaces the value of the global at addr.
func (m *Memory) StoreGlobal(addr uint32, v avm.Value) error {
	g, err := m.global(addr)
	if err != nil {
		return err
	}
	if g.Constant {
		return fmt.Errorf("%w: @%s", ErrReadOnly, g.Name)
	}
	if g.Ty.Kind() != v.Kind() {
		return fmt.Errorf("%w: @%s is %s, store of %s", avm.ErrTypeMismatch, g.Name, g.Ty, v.Kind())
	}

	m.mu.Lock()
	m.vals[addr] = v
	m.mu.Unlock()
	return nil
}

// Value returns the current value of the named scalar global.
func (m *Memory) Value(name string) (avm.Value, error) {
	g := m.mod.Global(name)
	if g == nil {
		return avm.Value{}, fmt.Errorf("%w: no global @%s", ErrBadPointer, name)
	}
	return m.LoadGlobal(uint32(m.mod.GlobalIndex(g)), g.Ty.Kind())
}

// Reset restores every global to its initializer.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.vals = make(map[uint32]avm.Value)
	m.mu.Unlock()
}
