package virtualize

import (
	"fmt"
	"strings"

	"github.com/chazu/veil/ir"
)

// Flags is the per-function control bitset. It is resolved outside the
// core (see package manifest) and handed in already merged.
type Flags uint8

const (
	// FlagEnable allows the function to be virtualized at all.
	FlagEnable Flags = 1 << iota
	// FlagPolymorphism varies the encoding of equivalent sequences.
	FlagPolymorphism
	// FlagClearRegisters zeroes registers after their last use.
	FlagClearRegisters
	// FlagTypeChecks guards register and memory reads with TypeCheckInt.
	FlagTypeChecks

	flagsAll = FlagEnable | FlagPolymorphism | FlagClearRegisters | FlagTypeChecks
)

// DefaultFlags enables virtualization without instrumentation.
const DefaultFlags = FlagEnable

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagEnable, "enable"},
	{FlagPolymorphism, "polymorphism"},
	{FlagClearRegisters, "clear-registers"},
	{FlagTypeChecks, "type-checks"},
}

// Has reports whether every bit of x is set in f.
func (f Flags) Has(x Flags) bool { return f&x == x }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	if rest := f &^ flagsAll; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint8(rest)))
	}
	return strings.Join(parts, "|")
}

// ParseFlags parses a list such as "enable,type-checks". "none" and the
// empty string yield no flags.
func ParseFlags(s string) (Flags, error) {
	var f Flags
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' || r == ' ' }) {
		if part == "none" {
			continue
		}
		found := false
		for _, fn := range flagNames {
			if fn.name == part {
				f |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown flag %q", part)
		}
	}
	return f, nil
}

// FlagsFor lets a fixed bitset serve as a FlagSource.
func (f Flags) FlagsFor(*ir.Function) Flags { return f }

// FlagSource resolves the flags for one function.
type FlagSource interface {
	FlagsFor(fn *ir.Function) Flags
}

// FlagSourceFunc adapts a function to the FlagSource interface.
type FlagSourceFunc func(fn *ir.Function) Flags

// FlagsFor implements FlagSource.
func (f FlagSourceFunc) FlagsFor(fn *ir.Function) Flags { return f(fn) }
