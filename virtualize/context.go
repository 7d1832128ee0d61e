package virtualize

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"

	"github.com/chazu/veil/ir"
	"github.com/chazu/veil/pkg/avm"
)

// Context is the transient state of one function's translation. It is
// created when translation starts and dropped when the Program has been
// installed or the attempt has failed.
type Context struct {
	Fn    *ir.Function
	Flags Flags
	Regs  *RegisterAllocator

	code       []avm.Instruction
	users      map[ir.Value][]ir.Use
	locals     map[ir.Value]bool // alloca results
	rng        *rand.Rand
	seed       int64
	stacked    ir.Value // result left on the operand stack for the next instruction
	translated int
	program    *avm.Program
}

// NewContext prepares the translation of fn. Parameters receive registers
// 0..n-1 in declaration order. seed feeds the polymorphism generator.
func NewContext(fn *ir.Function, flags Flags, seed int64) (*Context, error) {
	c := &Context{
		Fn:     fn,
		Flags:  flags,
		Regs:   NewRegisterAllocator(),
		users:  fn.Users(),
		locals: make(map[ir.Value]bool),
		seed:   FunctionSeed(seed, fn.Name),
	}
	c.rng = rand.New(rand.NewPCG(uint64(c.seed), 0))
	for _, p := range fn.Params {
		if _, err := c.Regs.AllocateOrGet(p, true); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// FunctionSeed derives the polymorphism seed of one function from the
// build seed, so that every function varies independently but
// reproducibly.
func FunctionSeed(seed int64, name string) int64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seed))
	h := sha256.New()
	h.Write(buf[:])
	h.Write([]byte(name))
	return int64(binary.BigEndian.Uint64(h.Sum(nil)[:8]))
}

// Seed returns the per-function seed.
func (c *Context) Seed() int64 { return c.seed }

func (c *Context) emit(insts ...avm.Instruction) {
	c.code = append(c.code, insts...)
}

// Code returns the instructions emitted so far.
func (c *Context) Code() []avm.Instruction {
	return append([]avm.Instruction(nil), c.code...)
}

// Program returns the finished program, or nil before TranslateFunction
// has succeeded.
func (c *Context) Program() *avm.Program { return c.program }

// Translated returns how many source instructions have been translated.
func (c *Context) Translated() int { return c.translated }
