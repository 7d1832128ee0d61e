package virtualize

import (
	"errors"
	"fmt"

	"github.com/chazu/veil/ir"
	"github.com/chazu/veil/pkg/avm"
)

// Register is a virtual register identity: a dense index into the register
// file of one program.
type Register uint32

// ErrParamOrder is returned when a parameter is allocated after an
// instruction result.
var ErrParamOrder = errors.New("parameters must be allocated before results")

// RegisterAllocator assigns register identities to source values. The first
// request for a value takes the next free identity; later requests return
// the same one. Identities are never reused.
type RegisterAllocator struct {
	regs    map[ir.Value]Register
	kinds   []avm.Kind
	params  int
	results bool
}

// NewRegisterAllocator creates an empty allocator.
func NewRegisterAllocator() *RegisterAllocator {
	return &RegisterAllocator{regs: make(map[ir.Value]Register)}
}

// AllocateOrGet returns the register of v, allocating one on first use.
// isParam marks v as a function parameter; parameters must all be
// allocated, in declaration order, before any other value.
func (a *RegisterAllocator) AllocateOrGet(v ir.Value, isParam bool) (Register, error) {
	if r, ok := a.regs[v]; ok {
		return r, nil
	}
	if _, ok := v.(*ir.Param); ok != isParam {
		return 0, fmt.Errorf("allocate %s: isParam=%v for %T", v.Ref(), isParam, v)
	}
	if isParam {
		if a.results {
			return 0, fmt.Errorf("allocate %s: %w", v.Ref(), ErrParamOrder)
		}
		a.params++
	} else {
		a.results = true
	}
	r := Register(len(a.kinds))
	a.regs[v] = r
	a.kinds = append(a.kinds, v.Type().Kind())
	return r, nil
}

// Lookup returns the register already assigned to v.
func (a *RegisterAllocator) Lookup(v ir.Value) (Register, bool) {
	r, ok := a.regs[v]
	return r, ok
}

// Count returns the number of registers allocated so far.
func (a *RegisterAllocator) Count() int { return len(a.kinds) }

// Params returns how many of the registers hold parameters.
func (a *RegisterAllocator) Params() int { return a.params }

// Kind returns the value kind held by register r.
func (a *RegisterAllocator) Kind(r Register) avm.Kind {
	if int(r) >= len(a.kinds) {
		return avm.KindInvalid
	}
	return a.kinds[r]
}
