package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

// TokenKind classifies a guest-language token.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokIdent
	TokVar  // sigiled variable, e.g. $x, @{ or $#a
	TokCast // sigil followed by a block: ${ @{ %{ &{ $#{
	TokNumber
	TokString // '...' or "..."
	TokQuote  // q qq qw m qr forms
	TokSubst  // s/pattern/replacement/
	TokOp
)

// Token is a lexed token. Offset is the byte offset in the source.
type Token struct {
	Kind   TokenKind
	Text   string
	Line   int
	Offset int
}

func (t Token) String() string {
	if t.Kind == TokEOF {
		return "end of file"
	}
	return t.Text
}

// Rules are tried in order and the first match wins, so longer operators
// precede their prefixes.
var perlLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
	{Name: "Subst", Pattern: `s(?:/(?:\\.|[^/\\])*/(?:\\.|[^/\\])*/|\{[^}]*\}\s*\{[^}]*\}|!(?:\\.|[^!\\])*!(?:\\.|[^!\\])*!)[msixge]*`},
	{Name: "Quote", Pattern: `(?:qq|qw|qr|q|m)(?:\s*\{[^}]*\}|\s*\([^)]*\)|\s*\[[^\]]*\]|\s*<[^>]*>|/(?:\\.|[^/\\])*/|!(?:\\.|[^!\\])*!|\|(?:\\.|[^|\\])*\|)[msixg]*`},
	{Name: "String", Pattern: `"(?:\\.|[^"\\])*"|'(?:\\.|[^'\\])*'`},
	{Name: "Number", Pattern: `0[xX][0-9a-fA-F_]+|0[bB][01_]+|\d[\d_]*(?:\.\d[\d_]*)?(?:[eE][+-]?\d+)?|\.\d+(?:[eE][+-]?\d+)?`},
	{Name: "Cast", Pattern: `\$#\{|[\$@%&]\{`},
	{Name: "Var", Pattern: `\$#\$*[A-Za-z_]\w*(?:::\w+)*|[\$@%&]\$*(?:[A-Za-z_]\w*(?:::\w+)*|::\w+(?:::\w+)*)|\$\d+|[\$@][@!_&0,;/\\]`},
	{Name: "Ident", Pattern: `[A-Za-z_]\w*(?:::\w+)*`},
	{Name: "Op", Pattern: `&&=|\|\|=|//=|\*\*=|<=>|\.\.\.|&&|\|\||//|\*\*|=~|!~|==|!=|<=|>=|\.\.|->|\+\+|--|\+=|-=|\*=|/=|\.=|%=|=>|::|[-+*/%.<>=!?:,;(){}\[\]\\~^|&]`},
})

var (
	dataMarker = regexp.MustCompile(`(?m)^__(?:END|DATA)__\b`)
	podBlock   = regexp.MustCompile(`(?ms)^=[A-Za-z]\w*.*?(?:^=cut\b[^\n]*$|\z)`)
)

// Lex tokenizes src.
func Lex(src, file string) ([]Token, error) {
	return lexFrom(prepare(src), file, 1, 0)
}

// prepare drops text after __END__ or __DATA__ and blanks out POD blocks.
// Line breaks and byte offsets are kept intact.
func prepare(src string) string {
	if loc := dataMarker.FindStringIndex(src); loc != nil {
		src = src[:loc[0]]
	}
	return podBlock.ReplaceAllStringFunc(src, func(pod string) string {
		b := []byte(pod)
		for i, c := range b {
			if c != '\n' {
				b[i] = ' '
			}
		}
		return string(b)
	})
}

// lexFrom tokenizes src as if it began at the given line and byte offset.
func lexFrom(src, file string, line, offset int) ([]Token, error) {
	lx, err := perlLexer.LexString(file, src)
	if err != nil {
		return nil, err
	}
	raw, err := lexer.ConsumeAll(lx)
	if err != nil {
		if lerr, ok := err.(*lexer.Error); ok {
			return nil, &CompileError{File: file, Line: lerr.Pos.Line + line - 1, Msg: "Unrecognized character"}
		}
		return nil, &CompileError{File: file, Line: line, Msg: fmt.Sprintf("lex error: %v", err)}
	}
	symbols := perlLexer.Symbols()
	kinds := map[lexer.TokenType]TokenKind{
		symbols["Ident"]:  TokIdent,
		symbols["Var"]:    TokVar,
		symbols["Cast"]:   TokCast,
		symbols["Number"]: TokNumber,
		symbols["String"]: TokString,
		symbols["Quote"]:  TokQuote,
		symbols["Subst"]:  TokSubst,
		symbols["Op"]:     TokOp,
	}
	skip := map[lexer.TokenType]bool{symbols["Comment"]: true, symbols["Whitespace"]: true}
	toks := make([]Token, 0, len(raw))
	for _, t := range raw {
		if skip[t.Type] {
			continue
		}
		pos := Token{Line: t.Pos.Line + line - 1, Offset: t.Pos.Offset + offset}
		if t.EOF() {
			pos.Kind = TokEOF
			toks = append(toks, pos)
			break
		}
		pos.Kind = kinds[t.Type]
		pos.Text = t.Value
		toks = append(toks, pos)
	}
	if len(toks) == 0 || toks[len(toks)-1].Kind != TokEOF {
		toks = append(toks, Token{Kind: TokEOF, Line: line + strings.Count(src, "\n"), Offset: offset + len(src)})
	}
	return toks, nil
}
