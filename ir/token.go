package ir

import "fmt"

// ---------------------------------------------------------------------------
// Tokens of the textual IR
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError
	TokenNewline

	// Names and literals
	TokenLocal  // %x, %0
	TokenGlobal // @f, @avm.prog.add
	TokenIdent  // define, i32, nsw, entry
	TokenNumber // 42, -7, 1.5, 1e+10, 0x3FF0000000000000
	TokenString // "text"
	TokenHex    // x"deadbeef"

	// Delimiters
	TokenLParen   // (
	TokenRParen   // )
	TokenLBracket // [
	TokenRBracket // ]
	TokenLBrace   // {
	TokenRBrace   // }
	TokenComma    // ,
	TokenEquals   // =
	TokenColon    // :
)

var tokenNames = map[TokenType]string{
	TokenEOF:      "EOF",
	TokenError:    "ERROR",
	TokenNewline:  "NEWLINE",
	TokenLocal:    "LOCAL",
	TokenGlobal:   "GLOBAL",
	TokenIdent:    "IDENT",
	TokenNumber:   "NUMBER",
	TokenString:   "STRING",
	TokenHex:      "HEX",
	TokenLParen:   "(",
	TokenRParen:   ")",
	TokenLBracket: "[",
	TokenRBracket: "]",
	TokenLBrace:   "{",
	TokenRBrace:   "}",
	TokenComma:    ",",
	TokenEquals:   "=",
	TokenColon:    ":",
}

// String returns the name of the token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", t)
}

// Position is a location in the source.
type Position struct {
	Offset int // byte offset (0-based)
	Line   int // line number (1-based)
	Column int // column number (1-based)
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token is a lexical token. Literal holds the name or text without sigils
// and quotes; End is the byte offset just past the token.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
	End     int
}

func (t Token) String() string {
	if t.Literal == "" {
		return t.Type.String()
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}
