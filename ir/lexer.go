package ir

// ---------------------------------------------------------------------------
// Lexer: tokenizer for the textual IR
// ---------------------------------------------------------------------------

// Lexer tokenizes IR text. Newlines are significant: every instruction
// occupies exactly one line.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current character
	line    int  // current line (1-based)
	col     int  // current column (1-based)
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = len(l.input)
		l.readPos = len(l.input) + 1
		return
	}
	l.ch = l.input[l.readPos]
	l.pos = l.readPos
	l.readPos++
	l.col++
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) position() Position {
	return Position{Offset: l.pos, Line: l.line, Column: l.col}
}

func (l *Lexer) token(t TokenType, lit string, pos Position) Token {
	return Token{Type: t, Literal: lit, Pos: pos, End: l.pos}
}

func isNameChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '.' || c == '$' || c == '-'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func (l *Lexer) skipSpaceAndComments() {
	for {
		switch l.ch {
		case ' ', '\t', '\r':
			l.readChar()
		case ';':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		default:
			return
		}
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipSpaceAndComments()
	pos := l.position()

	switch c := l.ch; {
	case c == 0:
		return Token{Type: TokenEOF, Pos: pos, End: len(l.input)}

	case c == '\n':
		for l.ch == '\n' {
			l.readChar()
			l.skipSpaceAndComments()
		}
		return Token{Type: TokenNewline, Literal: "", Pos: pos, End: pos.Offset + 1}

	case c == '%' || c == '@':
		l.readChar()
		start := l.pos
		for isNameChar(l.ch) {
			l.readChar()
		}
		if l.pos == start {
			return l.token(TokenError, "empty name after "+string(c), pos)
		}
		t := TokenLocal
		if c == '@' {
			t = TokenGlobal
		}
		return l.token(t, l.input[start:l.pos], pos)

	case c == 'x' && l.peekChar() == '"':
		l.readChar()
		l.readChar()
		start := l.pos
		for isHexDigit(l.ch) {
			l.readChar()
		}
		if l.ch != '"' {
			return l.token(TokenError, "unterminated hex string", pos)
		}
		lit := l.input[start:l.pos]
		l.readChar()
		return l.token(TokenHex, lit, pos)

	case c == '"':
		l.readChar()
		start := l.pos
		for l.ch != '"' && l.ch != '\n' && l.ch != 0 {
			l.readChar()
		}
		if l.ch != '"' {
			return l.token(TokenError, "unterminated string", pos)
		}
		lit := l.input[start:l.pos]
		l.readChar()
		return l.token(TokenString, lit, pos)

	case isDigit(c) || (c == '-' && isDigit(l.peekChar())):
		return l.readNumber(pos)

	case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_':
		start := l.pos
		for isNameChar(l.ch) && l.ch != '-' {
			l.readChar()
		}
		return l.token(TokenIdent, l.input[start:l.pos], pos)
	}

	var t TokenType
	switch l.ch {
	case '(':
		t = TokenLParen
	case ')':
		t = TokenRParen
	case '[':
		t = TokenLBracket
	case ']':
		t = TokenRBracket
	case '{':
		t = TokenLBrace
	case '}':
		t = TokenRBrace
	case ',':
		t = TokenComma
	case '=':
		t = TokenEquals
	case ':':
		t = TokenColon
	default:
		ch := l.ch
		l.readChar()
		return l.token(TokenError, "unexpected character "+string(ch), pos)
	}
	lit := string(l.ch)
	l.readChar()
	return l.token(t, lit, pos)
}

func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	if l.ch == '-' {
		l.readChar()
	}
	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		l.readChar()
		l.readChar()
		for isHexDigit(l.ch) {
			l.readChar()
		}
		return l.token(TokenNumber, l.input[start:l.pos], pos)
	}
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || next == '+' || next == '-' {
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			for isDigit(l.ch) {
				l.readChar()
			}
		}
	}
	return l.token(TokenNumber, l.input[start:l.pos], pos)
}

// Tokenize returns all tokens up to and including EOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var toks []Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == TokenEOF {
			break
		}
	}
	return toks
}
