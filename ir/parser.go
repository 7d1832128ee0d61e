package ir

import (
	"encoding/hex"
	"fmt"

	"github.com/chazu/veil/pkg/avm"
)

// ---------------------------------------------------------------------------
// Parser: recursive descent over the token stream
// ---------------------------------------------------------------------------

// ParseError reports malformed IR text.
type ParseError struct {
	Source string
	Pos    Position
	Msg    string
}

func (e *ParseError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("%s:%s: %s", e.Source, e.Pos, e.Msg)
}

// bailout unwinds the parser on the first error.
type bailout struct{}

// Parser parses IR text into a Module.
type Parser struct {
	source string
	input  string
	toks   []Token
	idx    int
	tok    Token
	err    *ParseError
	mod    *Module

	// Per-function state
	fn     *Function
	values map[string]Value
	fwd    map[string]*forwardRef
	blocks map[string]*Block
}

// forwardRef stands in for a local value used before its definition.
type forwardRef struct {
	name string
	ty   Type
	pos  Position
}

func (r *forwardRef) Type() Type  { return r.ty }
func (r *forwardRef) Ref() string { return "%" + r.name }

// Parse parses a whole module. name labels the module and error messages.
func Parse(name, src string) (m *Module, err error) {
	p := &Parser{source: name, input: src, toks: Tokenize(src), mod: NewModule(name)}
	p.tok = p.toks[0]

	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			m, err = nil, p.err
		}
	}()

	p.parseModule()
	return p.mod, nil
}

// MustParse is like Parse but panics on error. It is meant for tests and
// package-level fixtures.
func MustParse(name, src string) *Module {
	m, err := Parse(name, src)
	if err != nil {
		panic(err)
	}
	return m
}

func (p *Parser) next() {
	if p.idx < len(p.toks)-1 {
		p.idx++
	}
	p.tok = p.toks[p.idx]
}

func (p *Parser) seek(idx int) {
	p.idx = idx
	p.tok = p.toks[idx]
}

func (p *Parser) peek() Token {
	if p.idx+1 < len(p.toks) {
		return p.toks[p.idx+1]
	}
	return p.toks[len(p.toks)-1]
}

func (p *Parser) errorAt(pos Position, format string, args ...any) {
	p.err = &ParseError{Source: p.source, Pos: pos, Msg: fmt.Sprintf(format, args...)}
	panic(bailout{})
}

func (p *Parser) errorf(format string, args ...any) {
	if p.tok.Type == TokenError {
		p.errorAt(p.tok.Pos, "%s", p.tok.Literal)
	}
	p.errorAt(p.tok.Pos, format, args...)
}

func (p *Parser) is(t TokenType) bool { return p.tok.Type == t }

func (p *Parser) isIdent(s string) bool {
	return p.tok.Type == TokenIdent && p.tok.Literal == s
}

func (p *Parser) expect(t TokenType) Token {
	if !p.is(t) {
		p.errorf("expected %s, got %s", t, p.tok)
	}
	tok := p.tok
	p.next()
	return tok
}

func (p *Parser) expectIdent(s string) {
	if !p.isIdent(s) {
		p.errorf("expected %q, got %s", s, p.tok)
	}
	p.next()
}

func (p *Parser) accept(t TokenType) bool {
	if p.is(t) {
		p.next()
		return true
	}
	return false
}

func (p *Parser) acceptIdent(s string) bool {
	if p.isIdent(s) {
		p.next()
		return true
	}
	return false
}

func (p *Parser) skipNewlines() {
	for p.is(TokenNewline) {
		p.next()
	}
}

func (p *Parser) endOfLine() {
	if p.is(TokenEOF) {
		return
	}
	p.expect(TokenNewline)
}

func (p *Parser) parseType() Type {
	if p.is(TokenIdent) {
		if t, ok := ParseType(p.tok.Literal); ok {
			p.next()
			return t
		}
	}
	p.errorf("expected type, got %s", p.tok)
	return TypeVoid
}

func (p *Parser) isType() bool {
	if !p.is(TokenIdent) {
		return false
	}
	_, ok := ParseType(p.tok.Literal)
	return ok
}

// ---------------------------------------------------------------------------
// Top level
// ---------------------------------------------------------------------------

type pendingBody struct {
	fn    *Function
	start int
}

// parseModule reads globals and signatures first, then bodies, so that
// functions and globals may be referenced before their definition.
func (p *Parser) parseModule() {
	var bodies []pendingBody

	for {
		p.skipNewlines()
		if p.is(TokenEOF) {
			break
		}
		switch {
		case p.is(TokenGlobal):
			p.parseGlobal()
		case p.isIdent("declare"):
			p.next()
			f := p.parseSignature(false)
			p.addFunction(f)
			p.endOfLine()
		case p.isIdent("define"):
			p.next()
			f := p.parseSignature(true)
			p.addFunction(f)
			p.expect(TokenLBrace)
			bodies = append(bodies, pendingBody{fn: f, start: p.idx})
			p.skipBody()
		default:
			p.errorf("expected global, declare or define, got %s", p.tok)
		}
	}

	for _, b := range bodies {
		p.seek(b.start)
		p.parseBody(b.fn)
	}
}

func (p *Parser) addFunction(f *Function) {
	if p.mod.Function(f.Name) != nil {
		p.errorf("function @%s redefined", f.Name)
	}
	p.mod.AddFunction(f)
}

func (p *Parser) skipBody() {
	for !p.is(TokenRBrace) {
		if p.is(TokenEOF) {
			p.errorf("unterminated function body")
		}
		p.next()
	}
	p.next()
}

// @name = [linkage] global|constant <type> <init>
func (p *Parser) parseGlobal() {
	name := p.expect(TokenGlobal)
	if p.mod.Global(name.Literal) != nil {
		p.errorAt(name.Pos, "global @%s redefined", name.Literal)
	}
	p.expect(TokenEquals)

	g := &Global{Name: name.Literal}
	switch {
	case p.acceptIdent("internal"):
		g.Linkage = LinkageInternal
	case p.acceptIdent("external"):
	}
	switch {
	case p.acceptIdent("constant"):
		g.Constant = true
	case p.acceptIdent("global"):
	default:
		p.errorf("expected global or constant, got %s", p.tok)
	}

	g.Ty = p.parseType()
	switch {
	case g.Ty == TypeBytes:
		tok := p.expect(TokenHex)
		data, err := hex.DecodeString(tok.Literal)
		if err != nil {
			p.errorAt(tok.Pos, "bad hex data: %v", err)
		}
		g.Data = data
	case g.Ty.IsScalar():
		c := p.parseConst(g.Ty)
		g.Init = c.Val
	default:
		p.errorAt(name.Pos, "global @%s has invalid type %s", g.Name, g.Ty)
	}
	p.mod.AddGlobal(g)
	p.endOfLine()
}

// [linkage] [cc] <ret> @name(<params>) [attrs...]
func (p *Parser) parseSignature(named bool) *Function {
	f := &Function{}
	switch {
	case p.acceptIdent("internal"):
		f.Linkage = LinkageInternal
	case p.acceptIdent("external"):
	}
	for i, cc := range callConvNames {
		if p.acceptIdent(cc) {
			f.CC = CallConv(i)
			break
		}
	}
	f.Ret = p.parseType()
	f.Name = p.expect(TokenGlobal).Literal

	p.expect(TokenLParen)
	for !p.is(TokenRParen) {
		if len(f.Params) > 0 {
			p.expect(TokenComma)
		}
		t := p.parseType()
		name := fmt.Sprintf("p%d", len(f.Params))
		if p.is(TokenLocal) {
			name = p.tok.Literal
			p.next()
		} else if named {
			p.errorf("parameter %d of @%s needs a name", len(f.Params), f.Name)
		}
		f.Params = append(f.Params, &Param{Name: name, Ty: t, Index: len(f.Params)})
	}
	p.expect(TokenRParen)

	for p.is(TokenIdent) {
		f.AddAttr(p.tok.Literal)
		p.next()
	}
	return f
}

// ---------------------------------------------------------------------------
// Function bodies
// ---------------------------------------------------------------------------

func (p *Parser) parseBody(f *Function) {
	p.fn = f
	p.values = make(map[string]Value)
	p.fwd = make(map[string]*forwardRef)
	p.blocks = make(map[string]*Block)
	for _, prm := range f.Params {
		if _, dup := p.values[prm.Name]; dup {
			p.errorf("duplicate parameter %%%s in @%s", prm.Name, f.Name)
		}
		p.values[prm.Name] = prm
	}

	var cur *Block
	for {
		p.skipNewlines()
		if p.accept(TokenRBrace) {
			break
		}
		if p.is(TokenEOF) {
			p.errorf("unterminated body of @%s", f.Name)
		}

		// Label
		if p.is(TokenIdent) && p.peek().Type == TokenColon {
			cur = p.defineBlock(p.tok.Literal)
			p.next()
			p.next()
			continue
		}
		if cur == nil {
			cur = p.defineBlock("entry")
		}
		cur.Append(p.parseInstr())
		p.endOfLine()
	}

	p.resolve()
	p.fn = nil
}

func (p *Parser) defineBlock(name string) *Block {
	b := p.blockRef(name)
	for _, x := range p.fn.Blocks {
		if x == b {
			p.errorf("label %s redefined in @%s", name, p.fn.Name)
		}
	}
	p.fn.Blocks = append(p.fn.Blocks, b)
	return b
}

func (p *Parser) blockRef(name string) *Block {
	if b, ok := p.blocks[name]; ok {
		return b
	}
	b := &Block{Name: name, Parent: p.fn}
	p.blocks[name] = b
	return b
}

func (p *Parser) parseLabel() *Block {
	p.expectIdent("label")
	return p.blockRef(p.expect(TokenLocal).Literal)
}

// resolve replaces forward references and checks that every referenced
// label was defined.
func (p *Parser) resolve() {
	lookup := func(v Value) Value {
		r, ok := v.(*forwardRef)
		if !ok {
			return v
		}
		def, ok := p.values[r.name]
		if !ok {
			p.errorAt(r.pos, "undefined value %%%s in @%s", r.name, p.fn.Name)
		}
		return def
	}
	for _, b := range p.fn.Blocks {
		for _, i := range b.Instrs {
			for n, op := range i.Operands {
				i.Operands[n] = lookup(op)
			}
			for n, in := range i.Incoming {
				i.Incoming[n].Value = lookup(in.Value)
			}
		}
	}
	for name, b := range p.blocks {
		found := false
		for _, x := range p.fn.Blocks {
			if x == b {
				found = true
				break
			}
		}
		if !found {
			p.errorf("undefined label %%%s in @%s", name, p.fn.Name)
		}
	}
}

func (p *Parser) defineValue(name string, v Value, pos Position) {
	if _, dup := p.values[name]; dup {
		p.errorAt(pos, "value %%%s redefined in @%s", name, p.fn.Name)
	}
	p.values[name] = v
}

// parseValue parses an operand of type t.
func (p *Parser) parseValue(t Type) Value {
	switch p.tok.Type {
	case TokenLocal:
		name, pos := p.tok.Literal, p.tok.Pos
		p.next()
		if v, ok := p.values[name]; ok {
			return v
		}
		if r, ok := p.fwd[name]; ok {
			return r
		}
		r := &forwardRef{name: name, ty: t, pos: pos}
		p.fwd[name] = r
		return r
	case TokenGlobal:
		name := p.tok.Literal
		g := p.mod.Global(name)
		if g == nil {
			p.errorf("undefined global @%s", name)
		}
		p.next()
		return g
	}
	return p.parseConst(t)
}

func (p *Parser) parseConst(t Type) *Const {
	if !p.is(TokenNumber) && !p.is(TokenIdent) {
		p.errorf("expected %s constant, got %s", t, p.tok)
	}
	c, err := ParseConst(t, p.tok.Literal)
	if err != nil {
		p.errorf("%v", err)
	}
	p.next()
	return c
}

// parseTypedValue parses "<type> <value>".
func (p *Parser) parseTypedValue() Value {
	t := p.parseType()
	return p.parseValue(t)
}

func (p *Parser) parseInstr() *Instr {
	var name string
	var namePos Position
	if p.is(TokenLocal) && p.peek().Type == TokenEquals {
		name, namePos = p.tok.Literal, p.tok.Pos
		p.next()
		p.next()
	}

	opTok := p.expect(TokenIdent)
	op, ok := LookupOpcode(opTok.Literal)
	if !ok {
		p.errorAt(opTok.Pos, "unknown instruction %q", opTok.Literal)
	}

	i := &Instr{Op: op, Name: name}
	switch {
	case op.IsBinary():
		for {
			if p.acceptIdent("nsw") {
				i.NSW = true
			} else if p.acceptIdent("nuw") {
				i.NUW = true
			} else if !p.acceptIdent("exact") {
				break
			}
		}
		i.Ty = p.parseType()
		x := p.parseValue(i.Ty)
		p.expect(TokenComma)
		y := p.parseValue(i.Ty)
		i.Operands = []Value{x, y}

	case op == OpICmp:
		pred, ok := avm.ParseIntPredicate(p.expect(TokenIdent).Literal)
		if !ok {
			p.errorf("unknown icmp predicate")
		}
		i.IPred, i.Ty = pred, TypeI1
		t := p.parseType()
		x := p.parseValue(t)
		p.expect(TokenComma)
		i.Operands = []Value{x, p.parseValue(t)}

	case op == OpFCmp:
		pred, ok := avm.ParseFloatPredicate(p.expect(TokenIdent).Literal)
		if !ok {
			p.errorf("unknown fcmp predicate")
		}
		i.FPred, i.Ty = pred, TypeI1
		t := p.parseType()
		x := p.parseValue(t)
		p.expect(TokenComma)
		i.Operands = []Value{x, p.parseValue(t)}

	case op == OpSelect:
		c := p.parseTypedValue()
		p.expect(TokenComma)
		i.Ty = p.parseType()
		x := p.parseValue(i.Ty)
		p.expect(TokenComma)
		t := p.parseType()
		i.Operands = []Value{c, x, p.parseValue(t)}

	case op.IsCast():
		v := p.parseTypedValue()
		p.expectIdent("to")
		i.Ty = p.parseType()
		i.Operands = []Value{v}

	case op == OpAlloca:
		i.Ty, i.ElemTy = TypePtr, p.parseType()
		if p.accept(TokenComma) {
			i.Operands = []Value{p.parseTypedValue()}
		}

	case op == OpLoad:
		i.ElemTy = p.parseType()
		i.Ty = i.ElemTy
		p.expect(TokenComma)
		i.Operands = []Value{p.parseTypedValue()}

	case op == OpStore:
		v := p.parseTypedValue()
		p.expect(TokenComma)
		i.Operands = []Value{v, p.parseTypedValue()}

	case op == OpCall:
		for _, cc := range callConvNames {
			if p.acceptIdent(cc) {
				break
			}
		}
		i.Ty = p.parseType()
		if p.is(TokenGlobal) {
			i.Callee = p.tok.Literal
			p.next()
		} else {
			// Indirect call: the callee pointer is the first operand.
			i.Operands = append(i.Operands, p.parseValue(TypePtr))
		}
		p.expect(TokenLParen)
		for n := 0; !p.is(TokenRParen); n++ {
			if n > 0 {
				p.expect(TokenComma)
			}
			i.Operands = append(i.Operands, p.parseTypedValue())
		}
		p.expect(TokenRParen)

	case op == OpRet:
		if !p.acceptIdent("void") {
			i.Operands = []Value{p.parseTypedValue()}
		}

	case op == OpBr:
		if p.isIdent("label") {
			i.Targets = []*Block{p.parseLabel()}
			break
		}
		c := p.parseTypedValue()
		p.expect(TokenComma)
		t := p.parseLabel()
		p.expect(TokenComma)
		i.Operands = []Value{c}
		i.Targets = []*Block{t, p.parseLabel()}

	case op == OpSwitch:
		v := p.parseTypedValue()
		p.expect(TokenComma)
		i.Operands = []Value{v}
		i.Targets = []*Block{p.parseLabel()}
		p.expect(TokenLBracket)
		p.skipNewlines()
		for !p.accept(TokenRBracket) {
			t := p.parseType()
			c := p.parseConst(t)
			p.expect(TokenComma)
			i.Cases = append(i.Cases, SwitchCase{Value: c, Target: p.parseLabel()})
			p.skipNewlines()
		}

	case op == OpPhi:
		i.Ty = p.parseType()
		for n := 0; n == 0 || p.accept(TokenComma); n++ {
			p.expect(TokenLBracket)
			v := p.parseValue(i.Ty)
			p.expect(TokenComma)
			b := p.blockRef(p.expect(TokenLocal).Literal)
			p.expect(TokenRBracket)
			i.Incoming = append(i.Incoming, Incoming{Value: v, Block: b})
		}

	case op == OpUnreachable:

	case op.IsExceptional():
		p.parseExceptional(i)
	}

	if name != "" {
		if !i.HasResult() {
			p.errorAt(namePos, "%s does not produce a value", op)
		}
		p.defineValue(name, i, namePos)
	} else if i.HasResult() && op != OpCall && !op.IsExceptional() {
		p.errorAt(opTok.Pos, "%s result must be named", op)
	}
	if op == OpCall && name == "" && i.Ty != TypeVoid {
		// Unnamed non-void calls discard their result.
		i.Name = p.fn.UniqueName("discard")
		p.defineValue(i.Name, i, opTok.Pos)
	}
	return i
}

// parseExceptional keeps the rest of the line as raw text and extracts
// the labels it mentions so the CFG stays complete.
func (p *Parser) parseExceptional(i *Instr) {
	start := p.tok.Pos.Offset
	end := start
	if i.Name != "" {
		i.Ty = TypePtr
		if p.isType() && (i.Op == OpInvoke || i.Op == OpCallBr) {
			i.Ty, _ = ParseType(p.tok.Literal)
		}
	}
	for !p.is(TokenNewline) && !p.is(TokenEOF) {
		if p.isIdent("label") && p.peek().Type == TokenLocal {
			i.Targets = append(i.Targets, p.parseLabel())
			end = p.toks[p.idx-1].End
			continue
		}
		end = p.tok.End
		p.next()
	}
	i.Raw = p.input[start:end]
}
