package ir

import (
	"sort"
	"strconv"
)

// Linkage controls symbol visibility.
type Linkage uint8

const (
	LinkageExternal Linkage = iota
	LinkageInternal
)

func (l Linkage) String() string {
	if l == LinkageInternal {
		return "internal"
	}
	return "external"
}

// CallConv is a function's calling convention.
type CallConv uint8

const (
	CallConvC CallConv = iota
	CallConvFast
	CallConvCold
)

var callConvNames = [...]string{"ccc", "fastcc", "coldcc"}

func (c CallConv) String() string {
	if int(c) < len(callConvNames) {
		return callConvNames[c]
	}
	return "ccc"
}

// Function attributes understood by the tools.
const (
	AttrNoVirt     = "novirt"     // exempt from virtualization
	AttrTrampoline = "trampoline" // body was replaced by an interpreter trampoline
	AttrIntrinsic  = "intrinsic"  // implemented by the host, never has a body
)

// Module is a translation unit: globals and functions in declaration order.
type Module struct {
	Name      string
	Globals   []*Global
	Functions []*Function
}

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{Name: name}
}

// Function returns the function named name, or nil.
func (m *Module) Function(name string) *Function {
	for _, f := range m.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Global returns the global named name, or nil.
func (m *Module) Global(name string) *Global {
	for _, g := range m.Globals {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// GlobalIndex returns the position of g in the module, which is also its
// address in global memory, or -1.
func (m *Module) GlobalIndex(g *Global) int {
	for i, x := range m.Globals {
		if x == g {
			return i
		}
	}
	return -1
}

// AddGlobal appends a global. Existing indices are unchanged.
func (m *Module) AddGlobal(g *Global) *Global {
	m.Globals = append(m.Globals, g)
	return g
}

// AddFunction appends a function and adopts it.
func (m *Module) AddFunction(f *Function) *Function {
	f.Module = m
	m.Functions = append(m.Functions, f)
	return f
}

// Function is a declaration (no blocks) or a definition.
type Function struct {
	Name    string
	Ret     Type
	Params  []*Param
	Blocks  []*Block
	Linkage Linkage
	CC      CallConv
	Attrs   []string

	Module *Module
}

// NewFunction creates a function with the given signature and no body.
// Parameters are named p0, p1, ... unless names are supplied.
func NewFunction(name string, ret Type, params []Type, names ...string) *Function {
	f := &Function{Name: name, Ret: ret}
	for i, t := range params {
		pn := "p" + strconv.Itoa(i)
		if i < len(names) && names[i] != "" {
			pn = names[i]
		}
		f.Params = append(f.Params, &Param{Name: pn, Ty: t, Index: i})
	}
	return f
}

// IsDeclaration reports whether the function has no body.
func (f *Function) IsDeclaration() bool { return len(f.Blocks) == 0 }

// HasAttr reports whether the function carries attribute a.
func (f *Function) HasAttr(a string) bool {
	for _, x := range f.Attrs {
		if x == a {
			return true
		}
	}
	return false
}

// AddAttr adds attribute a if it is not already present.
func (f *Function) AddAttr(a string) {
	if !f.HasAttr(a) {
		f.Attrs = append(f.Attrs, a)
	}
}

// ParamTypes returns the parameter types in order.
func (f *Function) ParamTypes() []Type {
	ts := make([]Type, len(f.Params))
	for i, p := range f.Params {
		ts[i] = p.Ty
	}
	return ts
}

// InstructionCount returns the number of instructions over all blocks.
func (f *Function) InstructionCount() int {
	n := 0
	for _, b := range f.Blocks {
		n += len(b.Instrs)
	}
	return n
}

// Instructions returns every instruction in layout order.
func (f *Function) Instructions() []*Instr {
	out := make([]*Instr, 0, f.InstructionCount())
	for _, b := range f.Blocks {
		out = append(out, b.Instrs...)
	}
	return out
}

// NewBlock appends an empty block.
func (f *Function) NewBlock(name string) *Block {
	b := &Block{Name: name, Parent: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// Block returns the block named name, or nil.
func (f *Function) Block(name string) *Block {
	for _, b := range f.Blocks {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// UniqueName returns base, or base with a numeric suffix, such that no
// parameter or instruction result of f uses it.
func (f *Function) UniqueName(base string) string {
	used := make(map[string]bool)
	for _, p := range f.Params {
		used[p.Name] = true
	}
	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			if i.Name != "" {
				used[i.Name] = true
			}
		}
	}
	if !used[base] {
		return base
	}
	for n := 1; ; n++ {
		cand := base + "." + strconv.Itoa(n)
		if !used[cand] {
			return cand
		}
	}
}

// Use is one operand slot that reads a value.
type Use struct {
	Instr *Instr
	Index int // operand index; -1 for phi incoming values
}

// Users maps every parameter and instruction result of f to the
// instructions that read it, in layout order.
func (f *Function) Users() map[Value][]Use {
	users := make(map[Value][]Use)
	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			for n, op := range i.Operands {
				users[op] = append(users[op], Use{Instr: i, Index: n})
			}
			for _, in := range i.Incoming {
				users[in.Value] = append(users[in.Value], Use{Instr: i, Index: -1})
			}
		}
	}
	return users
}

// UseCount returns how many operand slots in f read v.
func (f *Function) UseCount(v Value) int {
	n := 0
	for _, b := range f.Blocks {
		for _, i := range b.Instrs {
			for _, op := range i.Operands {
				if op == v {
					n++
				}
			}
			for _, in := range i.Incoming {
				if in.Value == v {
					n++
				}
			}
		}
	}
	return n
}

// Callees returns the sorted names of functions called directly by f.
func (f *Function) Callees() []string {
	seen := make(map[string]bool)
	for _, i := range f.Instructions() {
		if i.Op == OpCall && i.Callee != "" {
			seen[i.Callee] = true
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy of f's signature and body. Parameters, blocks
// and instructions are fresh; constants and globals are shared. The clone
// is not added to any module but keeps f's Module for lookups.
func (f *Function) Clone() *Function {
	c := &Function{
		Name:    f.Name,
		Ret:     f.Ret,
		Linkage: f.Linkage,
		CC:      f.CC,
		Attrs:   append([]string(nil), f.Attrs...),
		Module:  f.Module,
	}
	vmap := make(map[Value]Value)
	for _, p := range f.Params {
		np := &Param{Name: p.Name, Ty: p.Ty, Index: p.Index}
		c.Params = append(c.Params, np)
		vmap[p] = np
	}
	bmap := make(map[*Block]*Block)
	for _, b := range f.Blocks {
		bmap[b] = c.NewBlock(b.Name)
	}
	for _, b := range f.Blocks {
		nb := bmap[b]
		for _, i := range b.Instrs {
			ni := *i
			ni.Parent = nb
			nb.Instrs = append(nb.Instrs, &ni)
			vmap[i] = &ni
		}
	}
	remap := func(v Value) Value {
		if nv, ok := vmap[v]; ok {
			return nv
		}
		return v
	}
	for _, b := range c.Blocks {
		for _, i := range b.Instrs {
			ops := make([]Value, len(i.Operands))
			for n, op := range i.Operands {
				ops[n] = remap(op)
			}
			i.Operands = ops
			if i.Targets != nil {
				ts := make([]*Block, len(i.Targets))
				for n, t := range i.Targets {
					ts[n] = bmap[t]
				}
				i.Targets = ts
			}
			if i.Cases != nil {
				cs := make([]SwitchCase, len(i.Cases))
				for n, sc := range i.Cases {
					cs[n] = SwitchCase{Value: sc.Value, Target: bmap[sc.Target]}
				}
				i.Cases = cs
			}
			if i.Incoming != nil {
				in := make([]Incoming, len(i.Incoming))
				for n, x := range i.Incoming {
					in[n] = Incoming{Value: remap(x.Value), Block: bmap[x.Block]}
				}
				i.Incoming = in
			}
		}
	}
	return c
}

// ReplaceBody moves the blocks of src into f, discarding f's current body.
// Parameters of src are rebound to f's parameters by index.
func (f *Function) ReplaceBody(src *Function) {
	pmap := make(map[Value]Value, len(src.Params))
	for n, p := range src.Params {
		if n < len(f.Params) {
			pmap[p] = f.Params[n]
		}
	}
	for _, b := range src.Blocks {
		b.Parent = f
		for _, i := range b.Instrs {
			for n, op := range i.Operands {
				if np, ok := pmap[op]; ok {
					i.Operands[n] = np
				}
			}
			for n, in := range i.Incoming {
				if np, ok := pmap[in.Value]; ok {
					i.Incoming[n].Value = np
				}
			}
		}
	}
	f.Blocks = src.Blocks
	src.Blocks = nil
}

// Block is a basic block: a label and straight-line instructions ending in
// a terminator.
type Block struct {
	Name   string
	Instrs []*Instr
	Parent *Function
}

// Append adds i to the end of the block.
func (b *Block) Append(i *Instr) *Instr {
	i.Parent = b
	b.Instrs = append(b.Instrs, i)
	return i
}

// Terminator returns the last instruction if it is a terminator.
func (b *Block) Terminator() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	last := b.Instrs[len(b.Instrs)-1]
	if !last.Op.IsTerminator() {
		return nil
	}
	return last
}
