package compiler

import (
	"strconv"
	"strings"
)

// interpolate parses the body of a double-quoted string or a pattern into
// literal chunks and embedded variable expressions. In pattern mode
// backslash sequences are kept verbatim for the regex engine and arrays
// are not interpolated.
func (p *parser) interpolate(pos at, s string, line int, pattern bool) Expr {
	var parts []Expr
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			parts = append(parts, &StrLit{at: pos, Value: lit.String()})
			lit.Reset()
		}
	}
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			if pattern {
				lit.WriteString(s[i : i+2])
				i += 2
				continue
			}
			i = unescapeAt(s, i, &lit)
		case c == '$' || (c == '@' && !pattern):
			end := scanInterpolation(s, i, pattern)
			if end < 0 {
				lit.WriteByte(c)
				i++
				continue
			}
			flush()
			x := p.subExpr(pos, s[i:end], line, true)
			if c == '@' {
				x = &FuncCall{at: pos, Name: "join", Args: []Expr{&StrLit{at: pos, Value: " "}, x}}
			}
			parts = append(parts, x)
			i = end
		default:
			lit.WriteByte(c)
			i++
		}
	}
	flush()
	switch len(parts) {
	case 0:
		return &StrLit{at: pos}
	case 1:
		if sl, ok := parts[0].(*StrLit); ok {
			return sl
		}
	}
	return &InterpStr{at: pos, Parts: parts}
}

// subExpr parses an embedded snippet. Every node it produces takes the
// position of the enclosing string.
func (p *parser) subExpr(pos at, src string, line int, term bool) Expr {
	toks, err := lexFrom(src, p.file, line, 0)
	if err != nil {
		panic(err)
	}
	sub := &parser{file: p.file, src: src, toks: toks, subs: p.subs, fixed: int(pos)}
	var x Expr
	if term {
		x = sub.parsePostfix()
	} else {
		x = sub.parseExpr()
	}
	if sub.peek().Kind != TokEOF {
		sub.syntaxError()
	}
	return x
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordByte(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// scanInterpolation returns the end of the variable expression starting at
// s[i], or -1 if the sigil is literal there.
func scanInterpolation(s string, i int, pattern bool) int {
	j := i + 1
	for j < len(s) && s[j] == '$' && s[i] == '$' {
		j++
	}
	if j >= len(s) {
		return -1
	}
	switch c := s[j]; {
	case c == '#' && s[i] == '$' && j == i+1 && !pattern:
		return scanLastIndex(s, j+1)
	case c == '{':
		k := matchClose(s, j, '{', '}')
		if k < 0 {
			return -1
		}
		j = k + 1
	case isIdentStart(c):
		for j < len(s) {
			if isWordByte(s[j]) {
				j++
			} else if strings.HasPrefix(s[j:], "::") && j+2 < len(s) && isIdentStart(s[j+2]) {
				j += 2
			} else {
				break
			}
		}
	case isDigit(c) && j == i+1:
		for j < len(s) && isDigit(s[j]) {
			j++
		}
		return j
	case s[i] == '$' && j == i+1 && !pattern && strings.IndexByte("@!&0", c) >= 0:
		return j + 1
	default:
		return -1
	}
	for j < len(s) {
		switch {
		case s[j] == '[':
			k := matchClose(s, j, '[', ']')
			if k < 0 || (pattern && !plainIndex(s[j+1:k])) {
				return j
			}
			j = k + 1
		case s[j] == '{':
			k := matchClose(s, j, '{', '}')
			if k < 0 || (pattern && quantifier(s[j+1:k])) {
				return j
			}
			j = k + 1
		case strings.HasPrefix(s[j:], "->") && j+2 < len(s) && (s[j+2] == '[' || s[j+2] == '{'):
			j += 2
		default:
			return j
		}
	}
	return j
}

// scanLastIndex returns the end of $#name, $#$name or $#{...} whose name
// part starts at s[j], or -1 if there is none.
func scanLastIndex(s string, j int) int {
	if j < len(s) && s[j] == '{' {
		if k := matchClose(s, j, '{', '}'); k >= 0 {
			return k + 1
		}
		return -1
	}
	if j < len(s) && s[j] == '$' {
		j++
	}
	if j >= len(s) || !isIdentStart(s[j]) {
		return -1
	}
	for j < len(s) {
		if isWordByte(s[j]) {
			j++
		} else if strings.HasPrefix(s[j:], "::") && j+2 < len(s) && isIdentStart(s[j+2]) {
			j += 2
		} else {
			break
		}
	}
	return j
}

func matchClose(s string, i int, open, close byte) int {
	depth := 0
	for k := i; k < len(s); k++ {
		switch s[k] {
		case '\\':
			k++
		case open:
			depth++
		case close:
			if depth--; depth == 0 {
				return k
			}
		}
	}
	return -1
}

// plainIndex reports whether a bracketed pattern fragment reads as an
// array index rather than a character class.
func plainIndex(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	if s[0] == '$' {
		s = s[1:]
		return s != "" && isIdentStart(s[0])
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func quantifier(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) && s[i] != ',' {
			return false
		}
	}
	return true
}

// unescapeAt writes the character for the backslash escape at s[i] and
// returns the index after it.
func unescapeAt(s string, i int, sb *strings.Builder) int {
	c := s[i+1]
	switch c {
	case 'n':
		sb.WriteByte('\n')
	case 't':
		sb.WriteByte('\t')
	case 'r':
		sb.WriteByte('\r')
	case 'f':
		sb.WriteByte('\f')
	case 'a':
		sb.WriteByte('\a')
	case 'e':
		sb.WriteByte(0x1b)
	case '0':
		sb.WriteByte(0)
	case 'x':
		j := i + 2
		if j < len(s) && s[j] == '{' {
			end := strings.IndexByte(s[j:], '}')
			if end < 0 {
				sb.WriteByte('x')
				return i + 2
			}
			if r, err := strconv.ParseUint(s[j+1:j+end], 16, 32); err == nil {
				sb.WriteRune(rune(r))
			}
			return j + end + 1
		}
		k := j
		for k < len(s) && k < j+2 && strings.IndexByte("0123456789abcdefABCDEF", s[k]) >= 0 {
			k++
		}
		r, _ := strconv.ParseUint("0"+s[j:k], 16, 32)
		sb.WriteRune(rune(r))
		return k
	default:
		sb.WriteByte(c)
	}
	return i + 2
}
