package gogen

import (
	"strconv"
	"strings"
	"unicode"
)

// GoName converts an IR symbol to an exported Go identifier.
// "secret_key" -> "SecretKey", "llvm.umax" -> "LlvmUmax", "myFn" -> "MyFn"
func GoName(s string) string {
	var words []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			words = append(words, string(current))
			current = current[:0]
		}
	}
	var prev rune
	for _, r := range s {
		switch {
		case r == '-' || r == '_' || r == '.' || r == '$':
			flush()
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			// Dropped.
		default:
			if unicode.IsUpper(r) && unicode.IsLower(prev) {
				flush()
			}
			current = append(current, r)
		}
		prev = r
	}
	flush()

	var b strings.Builder
	for _, w := range words {
		rs := []rune(w)
		b.WriteRune(unicode.ToUpper(rs[0]))
		b.WriteString(strings.ToLower(string(rs[1:])))
	}
	name := b.String()
	if name == "" || !unicode.IsLetter([]rune(name)[0]) {
		name = "F" + name
	}
	return name
}

// namer hands out unique Go names.
type namer struct {
	used map[string]bool
}

func newNamer() *namer { return &namer{used: make(map[string]bool)} }

func (n *namer) name(irName string) string {
	base := GoName(irName)
	name := base
	for i := 2; n.used[name]; i++ {
		name = base + strconv.Itoa(i)
	}
	n.used[name] = true
	return name
}

func lowerFirst(s string) string {
	rs := []rune(s)
	rs[0] = unicode.ToLower(rs[0])
	return string(rs)
}
