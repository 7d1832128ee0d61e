package ir

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/chazu/veil/pkg/avm"
)

// String renders the module in the textual form accepted by Parse.
func (m *Module) String() string {
	var sb strings.Builder
	if m.Name != "" {
		fmt.Fprintf(&sb, "; module %s\n", m.Name)
	}
	for _, g := range m.Globals {
		sb.WriteString(g.String())
		sb.WriteByte('\n')
	}
	for _, f := range m.Functions {
		sb.WriteByte('\n')
		sb.WriteString(f.String())
	}
	return sb.String()
}

func (g *Global) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "@%s = ", g.Name)
	if g.Linkage == LinkageInternal {
		sb.WriteString("internal ")
	}
	if g.Constant {
		sb.WriteString("constant ")
	} else {
		sb.WriteString("global ")
	}
	sb.WriteString(g.Ty.String())
	sb.WriteByte(' ')
	if g.Ty == TypeBytes {
		fmt.Fprintf(&sb, "x%q", hex.EncodeToString(g.Data))
	} else {
		init := g.Init
		if !init.IsValid() {
			init = avm.Zero(g.Ty.Kind())
		}
		sb.WriteString(ConstOf(init).Ref())
	}
	return sb.String()
}

func (f *Function) signature() string {
	var sb strings.Builder
	if f.Linkage == LinkageInternal {
		sb.WriteString("internal ")
	}
	if f.CC != CallConvC {
		sb.WriteString(f.CC.String())
		sb.WriteByte(' ')
	}
	fmt.Fprintf(&sb, "%s @%s(", f.Ret, f.Name)
	for i, p := range f.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s %%%s", p.Ty, p.Name)
	}
	sb.WriteByte(')')
	for _, a := range f.Attrs {
		sb.WriteByte(' ')
		sb.WriteString(a)
	}
	return sb.String()
}

func (f *Function) String() string {
	if f.IsDeclaration() {
		return "declare " + f.signature() + "\n"
	}
	var sb strings.Builder
	sb.WriteString("define ")
	sb.WriteString(f.signature())
	sb.WriteString(" {\n")
	for n, b := range f.Blocks {
		if n > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(b.Name)
		sb.WriteString(":\n")
		for _, i := range b.Instrs {
			sb.WriteString("  ")
			sb.WriteString(i.String())
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

func typed(v Value) string {
	return v.Type().String() + " " + v.Ref()
}

func label(b *Block) string {
	return "label %" + b.Name
}

func (i *Instr) String() string {
	var sb strings.Builder
	if i.HasResult() {
		fmt.Fprintf(&sb, "%%%s = ", i.Name)
	}
	sb.WriteString(i.Op.String())

	switch op := i.Op; {
	case op.IsBinary():
		if i.NSW {
			sb.WriteString(" nsw")
		}
		if i.NUW {
			sb.WriteString(" nuw")
		}
		fmt.Fprintf(&sb, " %s %s, %s", i.Ty, i.Operands[0].Ref(), i.Operands[1].Ref())

	case op == OpICmp:
		fmt.Fprintf(&sb, " %s %s, %s", i.IPred, typed(i.Operands[0]), i.Operands[1].Ref())

	case op == OpFCmp:
		fmt.Fprintf(&sb, " %s %s, %s", i.FPred, typed(i.Operands[0]), i.Operands[1].Ref())

	case op == OpSelect:
		fmt.Fprintf(&sb, " %s, %s, %s", typed(i.Operands[0]), typed(i.Operands[1]), typed(i.Operands[2]))

	case op.IsCast():
		fmt.Fprintf(&sb, " %s to %s", typed(i.Operands[0]), i.Ty)

	case op == OpAlloca:
		fmt.Fprintf(&sb, " %s", i.ElemTy)
		if len(i.Operands) > 0 {
			fmt.Fprintf(&sb, ", %s", typed(i.Operands[0]))
		}

	case op == OpLoad:
		fmt.Fprintf(&sb, " %s, %s", i.ElemTy, typed(i.Operands[0]))

	case op == OpStore:
		fmt.Fprintf(&sb, " %s, %s", typed(i.Operands[0]), typed(i.Operands[1]))

	case op == OpCall:
		args := i.Operands
		callee := "@" + i.Callee
		if i.Callee == "" {
			callee, args = args[0].Ref(), args[1:]
		}
		fmt.Fprintf(&sb, " %s %s(", i.Ty, callee)
		for n, a := range args {
			if n > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(typed(a))
		}
		sb.WriteByte(')')

	case op == OpRet:
		if len(i.Operands) == 0 {
			sb.WriteString(" void")
		} else {
			sb.WriteString(" " + typed(i.Operands[0]))
		}

	case op == OpBr:
		if len(i.Operands) == 0 {
			sb.WriteString(" " + label(i.Targets[0]))
		} else {
			fmt.Fprintf(&sb, " %s, %s, %s", typed(i.Operands[0]), label(i.Targets[0]), label(i.Targets[1]))
		}

	case op == OpSwitch:
		fmt.Fprintf(&sb, " %s, %s [", typed(i.Operands[0]), label(i.Targets[0]))
		for _, c := range i.Cases {
			fmt.Fprintf(&sb, " %s, %s", typed(c.Value), label(c.Target))
		}
		sb.WriteString(" ]")

	case op == OpPhi:
		fmt.Fprintf(&sb, " %s ", i.Ty)
		for n, in := range i.Incoming {
			if n > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "[ %s, %%%s ]", in.Value.Ref(), in.Block.Name)
		}

	case op.IsExceptional():
		if i.Raw != "" {
			sb.WriteString(" " + i.Raw)
		}
	}
	return sb.String()
}
