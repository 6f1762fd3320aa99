package compiler

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type parser struct {
	file  string
	src   string
	toks  []Token
	i     int
	subs  map[string]bool // sub names declared anywhere in the source
	fixed int             // position given to every node when >= 0
}

// Parse parses a whole compilation unit.
func Parse(src, file string) (prog *Program, err error) {
	if file == "" {
		file = "-"
	}
	src = prepare(src)
	toks, err := lexFrom(src, file, 1, 0)
	if err != nil {
		return nil, err
	}
	p := &parser{file: file, src: src, toks: toks, subs: make(map[string]bool), fixed: -1}
	for i := 0; i+1 < len(toks); i++ {
		if toks[i].Kind == TokIdent && toks[i].Text == "sub" && toks[i+1].Kind == TokIdent {
			p.subs[toks[i+1].Text] = true
		}
	}
	defer func() {
		if r := recover(); r != nil {
			ce, ok := r.(*CompileError)
			if !ok {
				panic(r)
			}
			prog, err = nil, ce
		}
	}()
	body := p.parseStatements(true)
	lines := make([]int, len(p.toks))
	for i, t := range p.toks {
		lines[i] = t.Line
	}
	return &Program{File: file, Body: body, Lines: lines}, nil
}

// ---------------------------------------------------------------------------
// Token helpers
// ---------------------------------------------------------------------------

func (p *parser) peek() Token { return p.toks[p.i] }

func (p *parser) peekAt(n int) Token {
	if p.i+n < len(p.toks) {
		return p.toks[p.i+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() Token {
	t := p.toks[p.i]
	if t.Kind != TokEOF {
		p.i++
	}
	return t
}

func (p *parser) at() at {
	if p.fixed >= 0 {
		return at(p.fixed)
	}
	return at(p.i)
}

func (p *parser) isOp(s string) bool {
	t := p.peek()
	return t.Kind == TokOp && t.Text == s
}

func (p *parser) isWord(s string) bool {
	t := p.peek()
	return t.Kind == TokIdent && t.Text == s
}

func (p *parser) accept(s string) bool {
	if p.isOp(s) {
		p.i++
		return true
	}
	return false
}

func (p *parser) expect(s string) {
	if !p.accept(s) {
		p.syntaxError()
	}
}

func (p *parser) errorf(format string, args ...any) {
	panic(&CompileError{File: p.file, Line: p.peek().Line, Msg: fmt.Sprintf(format, args...)})
}

func (p *parser) syntaxError() {
	t := p.peek()
	if t.Kind == TokEOF {
		p.errorf("syntax error at EOF")
	}
	p.errorf("syntax error near %q", t.Text)
}

var operatorWords = map[string]bool{
	"x": true, "lt": true, "gt": true, "le": true, "ge": true, "eq": true, "ne": true, "cmp": true,
	"and": true, "or": true, "xor": true, "not": true,
	"if": true, "unless": true, "while": true, "until": true, "for": true, "foreach": true,
	"else": true, "elsif": true, "continue": true,
}

var modifierWords = map[string]bool{
	"if": true, "unless": true, "while": true, "until": true, "for": true, "foreach": true,
	"and": true, "or": true, "xor": true, "not": true,
}

// endOfList reports whether the next token ends a comma list.
func (p *parser) endOfList() bool {
	t := p.peek()
	switch t.Kind {
	case TokEOF:
		return true
	case TokOp:
		switch t.Text {
		case ")", "]", "}", ";", ":":
			return true
		}
	case TokIdent:
		return modifierWords[t.Text]
	}
	return false
}

// termStart reports whether the next token can begin a term. A leading
// slash starts a pattern only where regex is allowed.
func (p *parser) termStart(regex bool) bool {
	t := p.peek()
	switch t.Kind {
	case TokVar, TokCast, TokNumber, TokString, TokQuote, TokSubst:
		return true
	case TokIdent:
		return !operatorWords[t.Text]
	case TokOp:
		switch t.Text {
		case "(", "[", "{", "\\", "-", "!", "+", "++", "--":
			return true
		case "/", "//":
			return regex
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *parser) parseStatements(top bool) *Block {
	b := &Block{at: p.at()}
	for {
		if p.peek().Kind == TokEOF {
			if !top {
				p.syntaxError()
			}
			break
		}
		if !top && p.isOp("}") {
			break
		}
		if s := p.parseStatement(); s != nil {
			b.Stmts = append(b.Stmts, s)
		}
	}
	return b
}

func (p *parser) parseBlock() *Block {
	pos := p.at()
	p.expect("{")
	b := p.parseStatements(false)
	b.at = pos
	p.expect("}")
	return b
}

func (p *parser) parseStatement() Stmt {
	t := p.peek()
	switch t.Kind {
	case TokOp:
		switch t.Text {
		case ";":
			p.next()
			return nil
		case "{":
			pos := p.at()
			return &BareBlock{at: pos, Body: p.parseBlock()}
		}
	case TokIdent:
		if nt := p.peekAt(1); nt.Kind == TokOp && nt.Text == ":" && !operatorWords[t.Text] {
			p.next()
			p.next()
			return p.parseLabeled(t.Text)
		}
		switch t.Text {
		case "sub":
			if p.peekAt(1).Kind == TokIdent {
				return p.parseSubDecl()
			}
		case "if", "unless":
			return p.parseIf()
		case "while", "until":
			return p.parseWhile("")
		case "for", "foreach":
			return p.parseFor("")
		case "package":
			return p.parsePackage()
		case "use", "no":
			return p.parseUse()
		case "BEGIN", "END", "INIT":
			if nt := p.peekAt(1); nt.Kind == TokOp && nt.Text == "{" {
				pos := p.at()
				p.next()
				return &BareBlock{at: pos, Body: p.parseBlock()}
			}
		}
	}
	return p.parseSimple()
}

func (p *parser) parseLabeled(label string) Stmt {
	t := p.peek()
	switch {
	case t.Kind == TokIdent && (t.Text == "while" || t.Text == "until"):
		return p.parseWhile(label)
	case t.Kind == TokIdent && (t.Text == "for" || t.Text == "foreach"):
		return p.parseFor(label)
	case t.Kind == TokOp && t.Text == "{":
		pos := p.at()
		return &BareBlock{at: pos, Label: label, Body: p.parseBlock()}
	}
	return p.parseStatement()
}

func (p *parser) skipPrototype() {
	if !p.isOp("(") {
		return
	}
	for depth := 0; ; {
		t := p.next()
		switch {
		case t.Kind == TokEOF:
			p.syntaxError()
		case t.Kind == TokOp && t.Text == "(":
			depth++
		case t.Kind == TokOp && t.Text == ")":
			if depth--; depth == 0 {
				return
			}
		}
	}
}

func (p *parser) parseSubDecl() Stmt {
	pos := p.at()
	p.next()
	name := p.next().Text
	p.skipPrototype()
	if p.accept(";") {
		return &SubDecl{at: pos, Name: name}
	}
	return &SubDecl{at: pos, Name: name, Body: p.parseBlock()}
}

func (p *parser) parseIf() Stmt {
	pos := p.at()
	kw := p.next().Text
	p.expect("(")
	cond := p.parseExpr()
	p.expect(")")
	if kw == "unless" {
		cond = &UnaryExpr{at: pos, Op: "!", X: cond}
	}
	st := &IfStmt{at: pos, Cond: cond, Then: p.parseBlock()}
	switch {
	case p.isWord("elsif"):
		st.Else = p.parseIf()
	case p.isWord("else"):
		p.next()
		st.Else = p.parseBlock()
	}
	return st
}

func (p *parser) parseWhile(label string) Stmt {
	pos := p.at()
	kw := p.next().Text
	p.expect("(")
	var cond Expr
	if !p.isOp(")") {
		cond = p.parseExpr()
	}
	p.expect(")")
	st := &WhileStmt{at: pos, Label: label, Cond: cond, Until: kw == "until", Body: p.parseBlock()}
	if p.isWord("continue") {
		p.next()
		st.Continue = p.parseBlock()
	}
	return st
}

func (p *parser) parseFor(label string) Stmt {
	pos := p.at()
	p.next()
	if t := p.peek(); t.Kind == TokIdent && (t.Text == "my" || t.Text == "our" || t.Text == "state") {
		p.next()
		return p.finishForeach(pos, label, p.loopVar(), t.Text)
	}
	if t := p.peek(); t.Kind == TokVar && t.Text[0] == '$' {
		return p.finishForeach(pos, label, p.loopVar(), "")
	}
	p.expect("(")
	var init Expr
	if !p.isOp(";") && !p.isOp(")") {
		init = p.parseExpr()
	}
	if p.accept(";") {
		st := &ForStmt{at: pos, Label: label, Init: init}
		if !p.isOp(";") {
			st.Cond = p.parseExpr()
		}
		p.expect(";")
		if !p.isOp(")") {
			st.Step = p.parseExpr()
		}
		p.expect(")")
		st.Body = p.parseBlock()
		return st
	}
	p.expect(")")
	if init == nil {
		init = &ListExpr{at: pos}
	}
	return &ForeachStmt{at: pos, Label: label, List: init, Body: p.parseBlock()}
}

func (p *parser) loopVar() *VarRef {
	pos := p.at()
	t := p.next()
	if t.Kind != TokVar || t.Text[0] != '$' || strings.HasPrefix(t.Text, "$$") || strings.HasPrefix(t.Text, "$#") {
		p.i--
		p.syntaxError()
	}
	return &VarRef{at: pos, Sigil: '$', Name: normalizeName(t.Text[1:])}
}

func (p *parser) finishForeach(pos at, label string, v *VarRef, decl string) Stmt {
	p.expect("(")
	var list Expr = &ListExpr{at: p.at()}
	if !p.isOp(")") {
		list = p.parseExpr()
	}
	p.expect(")")
	return &ForeachStmt{at: pos, Label: label, Var: v, My: decl, List: list, Body: p.parseBlock()}
}

func (p *parser) parsePackage() Stmt {
	pos := p.at()
	p.next()
	t := p.next()
	if t.Kind != TokIdent {
		p.i--
		p.syntaxError()
	}
	if p.peek().Kind == TokNumber {
		p.next()
	}
	if p.isOp("{") {
		return &PackageDecl{at: pos, Name: t.Text, Body: p.parseBlock()}
	}
	p.endStatement()
	return &PackageDecl{at: pos, Name: t.Text}
}

func (p *parser) parseUse() Stmt {
	pos := p.at()
	st := &UseStmt{at: pos, No: p.next().Text == "no"}
	t := p.next()
	switch {
	case t.Kind == TokNumber || (t.Kind == TokIdent && isVersionWord(t.Text)):
		version := t.Text
		for !p.isOp(";") && p.peek().Kind != TokEOF {
			version += p.next().Text
		}
		st.Module, st.Args = "VERSION", []string{version}
	case t.Kind == TokIdent && t.Text == "constant":
		return p.constants(pos)
	case t.Kind == TokIdent:
		st.Module = t.Text
		for !p.isOp(";") && p.peek().Kind != TokEOF {
			st.Args = append(st.Args, literalStrings(p.parseExpr())...)
		}
	default:
		p.i--
		p.syntaxError()
	}
	p.endStatement()
	return st
}

// constants turns use constant into subs returning the declared values.
func (p *parser) constants(pos at) Stmt {
	x := p.parseExpr()
	p.endStatement()
	block := &Block{at: pos, Inline: true}
	define := func(name Expr, value []Expr) {
		n, ok := name.(*StrLit)
		if !ok {
			p.errorf("constant name must be a bareword or string")
		}
		body := &Block{at: pos, Stmts: []Stmt{&ExprStmt{at: pos, X: &ListExpr{at: pos, Items: value}}}}
		block.Stmts = append(block.Stmts, &SubDecl{at: pos, Name: n.Value, Body: body})
	}
	if h, ok := x.(*AnonHash); ok {
		for i := 0; i+1 < len(h.Items); i += 2 {
			define(h.Items[i], h.Items[i+1:i+2])
		}
		return block
	}
	items := flattenArgs(x)
	define(items[0], items[1:])
	return block
}

func isVersionWord(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func literalStrings(x Expr) []string {
	switch t := x.(type) {
	case *StrLit:
		return []string{t.Value}
	case *ListExpr:
		var out []string
		for _, it := range t.Items {
			out = append(out, literalStrings(it)...)
		}
		return out
	}
	return nil
}

func (p *parser) endStatement() {
	if p.accept(";") || p.isOp("}") || p.peek().Kind == TokEOF {
		return
	}
	p.syntaxError()
}

func inline(st Stmt) *Block {
	return &Block{at: at(st.Pos()), Stmts: []Stmt{st}, Inline: true}
}

// parseSimple parses an expression statement with an optional statement
// modifier.
func (p *parser) parseSimple() Stmt {
	pos := p.at()
	x := p.parseExpr()
	var st Stmt = &ExprStmt{at: pos, X: x}
	if t := p.peek(); t.Kind == TokIdent {
		switch t.Text {
		case "if", "unless":
			p.next()
			cond := p.parseExpr()
			if t.Text == "unless" {
				cond = &UnaryExpr{at: pos, Op: "!", X: cond}
			}
			st = &IfStmt{at: pos, Cond: cond, Then: inline(st)}
		case "while", "until":
			p.next()
			cond := p.parseExpr()
			if do, ok := x.(*DoBlock); ok {
				st = &WhileStmt{at: pos, Cond: cond, Until: t.Text == "until", PostCond: true, Body: do.Body}
			} else {
				st = &WhileStmt{at: pos, Cond: cond, Until: t.Text == "until", Body: inline(st)}
			}
		case "for", "foreach":
			p.next()
			st = &ForeachStmt{at: pos, List: p.parseExpr(), Body: inline(st)}
		}
	}
	p.endStatement()
	return st
}

// ---------------------------------------------------------------------------
// Expressions, lowest precedence first
// ---------------------------------------------------------------------------

func (p *parser) parseExpr() Expr { return p.parseLowOr() }

func (p *parser) parseLowOr() Expr {
	x := p.parseLowAnd()
	for p.isWord("or") || p.isWord("xor") {
		pos := p.at()
		op := p.next().Text
		y := p.parseLowAnd()
		if op == "xor" {
			x = &BinaryExpr{at: pos, Op: "xor", Left: x, Right: y}
		} else {
			x = &LogicalExpr{at: pos, Op: "||", Left: x, Right: y}
		}
	}
	return x
}

func (p *parser) parseLowAnd() Expr {
	x := p.parseLowNot()
	for p.isWord("and") {
		pos := p.at()
		p.next()
		x = &LogicalExpr{at: pos, Op: "&&", Left: x, Right: p.parseLowNot()}
	}
	return x
}

func (p *parser) parseLowNot() Expr {
	if p.isWord("not") {
		pos := p.at()
		p.next()
		return &UnaryExpr{at: pos, Op: "!", X: p.parseLowNot()}
	}
	return p.parseComma()
}

func (p *parser) parseComma() Expr {
	pos := p.at()
	first := p.parseAssign()
	if !p.isOp(",") && !p.isOp("=>") {
		return first
	}
	items := []Expr{first}
	for p.accept(",") || p.accept("=>") {
		if p.endOfList() {
			break
		}
		items = append(items, p.parseAssign())
	}
	return &ListExpr{at: pos, Items: items}
}

var assignOps = map[string]bool{
	"=": true, "+=": true, "-=": true, "*=": true, "/=": true, ".=": true, "%=": true,
	"**=": true, "||=": true, "&&=": true, "//=": true,
}

// assignOp returns the assignment operator at the cursor and its token
// count. x= is lexed as the word x directly followed by =.
func (p *parser) assignOp() (string, int) {
	t := p.peek()
	if t.Kind == TokOp && assignOps[t.Text] {
		return t.Text, 1
	}
	if t.Kind == TokIdent && t.Text == "x" {
		if nt := p.peekAt(1); nt.Kind == TokOp && nt.Text == "=" && nt.Offset == t.Offset+1 {
			return "x=", 2
		}
	}
	return "", 0
}

func (p *parser) parseAssign() Expr {
	x := p.parseTernary()
	if op, n := p.assignOp(); n > 0 {
		pos := p.at()
		p.i += n
		return &AssignExpr{at: pos, Op: op, Left: x, Right: p.parseAssign()}
	}
	return x
}

func (p *parser) parseTernary() Expr {
	c := p.parseRange()
	if !p.isOp("?") {
		return c
	}
	pos := p.at()
	p.next()
	t := p.parseAssign()
	p.expect(":")
	return &TernaryExpr{at: pos, Cond: c, Then: t, Else: p.parseAssign()}
}

func (p *parser) parseRange() Expr {
	x := p.parseOrOr()
	if p.isOp("..") || p.isOp("...") {
		pos := p.at()
		p.next()
		return &RangeExpr{at: pos, Lo: x, Hi: p.parseOrOr()}
	}
	return x
}

func (p *parser) parseOrOr() Expr {
	x := p.parseAndAnd()
	for p.isOp("||") || p.isOp("//") {
		pos := p.at()
		op := p.next().Text
		x = &LogicalExpr{at: pos, Op: op, Left: x, Right: p.parseAndAnd()}
	}
	return x
}

func (p *parser) parseAndAnd() Expr {
	x := p.parseEquality()
	for p.isOp("&&") {
		pos := p.at()
		p.next()
		x = &LogicalExpr{at: pos, Op: "&&", Left: x, Right: p.parseEquality()}
	}
	return x
}

// binaryLevel parses a left-associative level whose operators are either
// symbols or words.
func (p *parser) binaryLevel(ops map[string]bool, operand func() Expr) Expr {
	x := operand()
	for {
		t := p.peek()
		if (t.Kind != TokOp && t.Kind != TokIdent) || !ops[t.Text] {
			return x
		}
		if t.Kind == TokIdent && t.Text == "x" {
			if _, n := p.assignOp(); n > 0 {
				return x
			}
		}
		pos := p.at()
		p.next()
		x = &BinaryExpr{at: pos, Op: t.Text, Left: x, Right: operand()}
	}
}

var (
	equalityOps   = map[string]bool{"==": true, "!=": true, "<=>": true, "eq": true, "ne": true, "cmp": true}
	relationalOps = map[string]bool{"<": true, ">": true, "<=": true, ">=": true, "lt": true, "gt": true, "le": true, "ge": true}
	additiveOps   = map[string]bool{"+": true, "-": true, ".": true}
	multOps       = map[string]bool{"*": true, "/": true, "%": true, "x": true}
)

func (p *parser) parseEquality() Expr   { return p.binaryLevel(equalityOps, p.parseRelational) }
func (p *parser) parseRelational() Expr { return p.binaryLevel(relationalOps, p.parseAdditive) }
func (p *parser) parseAdditive() Expr   { return p.binaryLevel(additiveOps, p.parseMult) }

func (p *parser) parseMult() Expr {
	return p.binaryLevel(multOps, func() Expr {
		x := p.parseBind()
		p.splitModulus()
		return x
	})
}

// splitModulus rewrites a %name token in operator position, which the
// lexer reads as a hash variable, into the modulus operator and its
// operand.
func (p *parser) splitModulus() {
	t := p.peek()
	if t.Kind != TokVar || t.Text[0] != '%' || len(t.Text) < 2 {
		return
	}
	rest := Token{Kind: TokVar, Text: t.Text[1:], Line: t.Line, Offset: t.Offset + 1}
	if rest.Text[0] != '$' {
		rest.Kind = TokIdent
	}
	op := Token{Kind: TokOp, Text: "%", Line: t.Line, Offset: t.Offset}
	toks := append([]Token(nil), p.toks[:p.i]...)
	toks = append(toks, op, rest)
	p.toks = append(toks, p.toks[p.i+1:]...)
}

func (p *parser) parseBind() Expr {
	x := p.parseUnary()
	if !p.isOp("=~") && !p.isOp("!~") {
		return x
	}
	pos := p.at()
	negate := p.next().Text == "!~"
	y := p.parseUnary()
	if m, ok := y.(*MatchExpr); ok && m.Target == nil {
		m.Target = x
		m.Negate = negate
		return m
	}
	return &MatchExpr{at: pos, Target: x, Pattern: y, Negate: negate}
}

func (p *parser) parseUnary() Expr {
	t := p.peek()
	if t.Kind == TokOp {
		pos := p.at()
		switch t.Text {
		case "!":
			p.next()
			return &UnaryExpr{at: pos, Op: "!", X: p.parseUnary()}
		case "-":
			p.next()
			return &UnaryExpr{at: pos, Op: "-", X: p.parseUnary()}
		case "+":
			p.next()
			return p.parseUnary()
		case "\\":
			p.next()
			if nt := p.peek(); nt.Kind == TokVar && nt.Text[0] == '&' && nt.Text[1] != '$' {
				p.next()
				return &RefExpr{at: pos, X: &VarRef{at: pos, Sigil: '&', Name: normalizeName(nt.Text[1:])}}
			}
			return &RefExpr{at: pos, X: p.parseUnary()}
		case "++", "--":
			p.next()
			return &IncDecExpr{at: pos, Op: t.Text, Prefix: true, X: p.parseUnary()}
		case "~":
			p.errorf("bitwise operators are not supported")
		}
	}
	return p.parsePow()
}

func (p *parser) parsePow() Expr {
	x := p.parsePostIncDec()
	if p.isOp("**") {
		pos := p.at()
		p.next()
		return &BinaryExpr{at: pos, Op: "**", Left: x, Right: p.parseUnary()}
	}
	return x
}

func (p *parser) parsePostIncDec() Expr {
	x := p.parsePostfix()
	if p.isOp("++") || p.isOp("--") {
		pos := p.at()
		return &IncDecExpr{at: pos, Op: p.next().Text, X: x}
	}
	return x
}

func (p *parser) parsePostfix() Expr {
	return p.subscripts(p.parsePrimary())
}

// subscripts applies arrow and implicit-arrow subscripts and calls.
func (p *parser) subscripts(x Expr) Expr {
	for {
		switch {
		case p.isOp("->"):
			nt := p.peekAt(1)
			if nt.Kind != TokOp {
				p.errorf("method calls are not supported")
			}
			switch nt.Text {
			case "[":
				p.next()
				x = p.index(&DerefExpr{at: at(x.Pos()), Sigil: '@', Ref: x})
			case "{":
				p.next()
				x = p.key(&DerefExpr{at: at(x.Pos()), Sigil: '%', Ref: x})
			case "(":
				pos := p.at()
				p.next()
				x = &DynCall{at: pos, Code: x, Args: p.parenArgs()}
			default:
				p.errorf("postfix dereference is not supported")
			}
		case p.isOp("[") && subscripted(x):
			x = p.index(&DerefExpr{at: at(x.Pos()), Sigil: '@', Ref: x})
		case p.isOp("{") && subscripted(x):
			x = p.key(&DerefExpr{at: at(x.Pos()), Sigil: '%', Ref: x})
		case p.isOp("(") && isDynCall(x):
			pos := p.at()
			x = &DynCall{at: pos, Code: x, Args: p.parenArgs()}
		default:
			return x
		}
	}
}

func subscripted(x Expr) bool {
	switch x.(type) {
	case *ElemExpr, *HelemExpr:
		return true
	}
	return isDynCall(x)
}

func isDynCall(x Expr) bool {
	_, ok := x.(*DynCall)
	return ok
}

func (p *parser) index(base Expr) Expr {
	pos := p.at()
	p.expect("[")
	idx := p.parseExpr()
	p.expect("]")
	return &ElemExpr{at: pos, Base: base, Index: idx}
}

// key parses a hash subscript. A lone bareword, optionally negated, is a
// string key.
func (p *parser) key(base Expr) Expr {
	pos := p.at()
	p.expect("{")
	var k Expr
	switch t := p.peek(); {
	case t.Kind == TokIdent && p.peekAt(1).Kind == TokOp && p.peekAt(1).Text == "}":
		p.next()
		k = &StrLit{at: pos, Value: t.Text}
	case t.Kind == TokOp && t.Text == "-" && p.peekAt(1).Kind == TokIdent && p.peekAt(2).Text == "}":
		p.next()
		k = &StrLit{at: pos, Value: "-" + p.next().Text}
	default:
		k = p.parseExpr()
	}
	p.expect("}")
	return &HelemExpr{at: pos, Base: base, Key: k}
}

// parenArgs parses a parenthesized argument list.
func (p *parser) parenArgs() []Expr {
	p.expect("(")
	if p.accept(")") {
		return nil
	}
	x := p.parseExpr()
	p.expect(")")
	return flattenArgs(x)
}

func flattenArgs(x Expr) []Expr {
	if l, ok := x.(*ListExpr); ok {
		return l.Items
	}
	return []Expr{x}
}

// listOpArgs parses the arguments of a list operator, parenthesized or not.
func (p *parser) listOpArgs() []Expr {
	if p.isOp("(") {
		return p.parenArgs()
	}
	if p.endOfList() || !p.termStart(true) {
		return nil
	}
	return flattenArgs(p.parseComma())
}

// unaryArgs parses the optional single argument of a named unary
// operator, which binds tighter than comparison.
func (p *parser) unaryArgs() []Expr {
	if p.isOp("(") {
		return p.parenArgs()
	}
	if p.endOfList() || !p.termStart(false) {
		return nil
	}
	return []Expr{p.parseAdditive()}
}

func (p *parser) items(close string) []Expr {
	var items []Expr
	for !p.isOp(close) {
		items = append(items, p.parseAssign())
		if !p.accept(",") && !p.accept("=>") {
			break
		}
	}
	p.expect(close)
	return items
}

// ---------------------------------------------------------------------------
// Terms
// ---------------------------------------------------------------------------

func (p *parser) parsePrimary() Expr {
	t := p.peek()
	pos := p.at()
	switch t.Kind {
	case TokNumber:
		p.next()
		return p.number(pos, t.Text)
	case TokString:
		p.next()
		body := t.Text[1 : len(t.Text)-1]
		if t.Text[0] == '\'' {
			return &StrLit{at: pos, Value: unescapeSingle(body, '\'')}
		}
		return p.interpolate(pos, body, t.Line, false)
	case TokQuote:
		p.next()
		return p.quoteLike(pos, t)
	case TokSubst:
		p.next()
		return p.substitution(pos, t)
	case TokVar:
		p.next()
		return p.variable(pos, t.Text)
	case TokCast:
		p.next()
		return p.cast(pos, t.Text)
	case TokIdent:
		return p.word()
	case TokOp:
		switch t.Text {
		case "(":
			p.next()
			if p.accept(")") {
				return &ListExpr{at: pos}
			}
			x := p.parseExpr()
			p.expect(")")
			if p.isOp("[") {
				p.errorf("list slices are not supported")
			}
			if l, ok := x.(*ListExpr); ok {
				return l
			}
			return &ListExpr{at: pos, Items: []Expr{x}}
		case "[":
			p.next()
			return &AnonArray{at: pos, Items: p.items("]")}
		case "{":
			p.next()
			return &AnonHash{at: pos, Items: p.items("}")}
		case "/":
			return p.bareRegex(pos, t)
		case "//":
			p.next()
			return &MatchExpr{at: pos, Pattern: &StrLit{at: pos}}
		case "<":
			p.errorf("readline is not supported")
		}
	}
	p.syntaxError()
	return nil
}

func (p *parser) number(pos at, text string) Expr {
	clean := strings.ReplaceAll(text, "_", "")
	base := 10
	digits := clean
	switch {
	case strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X"):
		base, digits = 16, clean[2:]
	case strings.HasPrefix(clean, "0b") || strings.HasPrefix(clean, "0B"):
		base, digits = 2, clean[2:]
	case strings.ContainsAny(clean, ".eE"):
		f, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			p.errorf("malformed number %s", text)
		}
		return &NumLit{at: pos, Float: f, IsFloat: true}
	case len(clean) > 1 && clean[0] == '0':
		base, digits = 8, clean[1:]
	}
	v, err := strconv.ParseInt(digits, base, 64)
	if err != nil {
		u, uerr := strconv.ParseUint(digits, base, 64)
		if uerr != nil {
			if base == 10 {
				f, _ := strconv.ParseFloat(digits, 64)
				return &NumLit{at: pos, Float: f, IsFloat: true}
			}
			p.errorf("malformed number %s", text)
		}
		return &NumLit{at: pos, Float: float64(u), IsFloat: true}
	}
	return &NumLit{at: pos, Int: v}
}

func normalizeName(name string) string {
	if strings.HasPrefix(name, "::") {
		return "main" + name
	}
	return name
}

// scalarChain builds the scalar reached by n-1 dereferences of $name.
func scalarChain(pos at, name string, n int) Expr {
	var x Expr = &VarRef{at: pos, Sigil: '$', Name: normalizeName(name)}
	for k := 1; k < n; k++ {
		x = &DerefExpr{at: pos, Sigil: '$', Ref: x}
	}
	return x
}

// variable interprets a variable token, including leading $ dereference
// chains, and the element subscript that changes which variable a scalar
// sigil names.
func (p *parser) variable(pos at, text string) Expr {
	if strings.HasPrefix(text, "$#") {
		rest := text[2:]
		n := len(rest) - len(strings.TrimLeft(rest, "$"))
		if n == 0 {
			return &LastIndexExpr{at: pos, Array: &VarRef{at: pos, Sigil: '@', Name: normalizeName(rest)}}
		}
		return &LastIndexExpr{at: pos, Array: &DerefExpr{at: pos, Sigil: '@', Ref: scalarChain(pos, rest[n:], n)}}
	}
	sigil, rest := text[0], text[1:]
	n := 0
	if len(rest) > 1 {
		n = len(rest) - len(strings.TrimLeft(rest, "$"))
	}
	if n == 0 {
		return p.named(pos, sigil, normalizeName(rest))
	}
	return p.derefTerm(pos, sigil, scalarChain(pos, rest[n:], n))
}

// named builds the term for a plain sigil and name.
func (p *parser) named(pos at, sigil byte, name string) Expr {
	switch sigil {
	case '$':
		switch {
		case p.isOp("["):
			return p.index(&VarRef{at: pos, Sigil: '@', Name: name})
		case p.isOp("{"):
			return p.key(&VarRef{at: pos, Sigil: '%', Name: name})
		}
	case '@':
		if p.isOp("[") || p.isOp("{") {
			p.errorf("slices are not supported")
		}
	case '&':
		if p.isOp("(") {
			return &FuncCall{at: pos, Name: name, Amp: true, Parens: true, Args: p.parenArgs()}
		}
		return &FuncCall{at: pos, Name: name, Amp: true, CurrentArgs: true}
	}
	return &VarRef{at: pos, Sigil: sigil, Name: name}
}

// derefTerm builds the term for a sigil applied to a reference.
func (p *parser) derefTerm(pos at, sigil byte, ref Expr) Expr {
	switch sigil {
	case '$':
		switch {
		case p.isOp("["):
			return p.index(&DerefExpr{at: pos, Sigil: '@', Ref: ref})
		case p.isOp("{"):
			return p.key(&DerefExpr{at: pos, Sigil: '%', Ref: ref})
		}
	case '@':
		if p.isOp("[") || p.isOp("{") {
			p.errorf("slices are not supported")
		}
	case '&':
		if p.isOp("(") {
			return &DynCall{at: pos, Code: ref, Args: p.parenArgs()}
		}
		return &DynCall{at: pos, Code: ref, CurrentArgs: true}
	}
	return &DerefExpr{at: pos, Sigil: sigil, Ref: ref}
}

// cast parses the block after ${ @{ %{ &{ or $#{.
func (p *parser) cast(pos at, text string) Expr {
	if t := p.peek(); t.Kind == TokIdent && p.peekAt(1).Kind == TokOp && p.peekAt(1).Text == "}" {
		p.next()
		p.next()
		if text == "$#{" {
			return &LastIndexExpr{at: pos, Array: &VarRef{at: pos, Sigil: '@', Name: normalizeName(t.Text)}}
		}
		return p.named(pos, text[0], normalizeName(t.Text))
	}
	inner := p.parseExpr()
	p.expect("}")
	if text == "$#{" {
		return &LastIndexExpr{at: pos, Array: &DerefExpr{at: pos, Sigil: '@', Ref: inner}}
	}
	return p.derefTerm(pos, text[0], inner)
}

// Builtins taking at most one argument and binding like named unary
// operators.
var namedUnary = map[string]bool{
	"ref": true, "scalar": true, "lc": true, "uc": true, "lcfirst": true, "ucfirst": true,
	"length": true, "chr": true, "ord": true, "int": true, "abs": true, "sqrt": true,
	"shift": true, "pop": true, "exists": true, "delete": true, "keys": true, "values": true,
	"chomp": true, "chop": true, "hex": true, "oct": true, "exit": true,
}

// Builtins taking a comma list.
var listOps = map[string]bool{
	"die": true, "warn": true, "join": true, "push": true, "unshift": true, "split": true,
	"sprintf": true, "reverse": true, "substr": true, "index": true, "rindex": true,
}

func (p *parser) word() Expr {
	pos := p.at()
	t := p.next()
	name := t.Text
	if p.isOp("=>") {
		return &StrLit{at: pos, Value: name}
	}
	switch name {
	case "my", "our", "local", "state":
		return p.declaration(pos, name)
	case "sub":
		p.skipPrototype()
		return &AnonSub{at: pos, Body: p.parseBlock()}
	case "do":
		if !p.isOp("{") {
			p.errorf("do FILE is not supported")
		}
		return &DoBlock{at: pos, Body: p.parseBlock()}
	case "eval":
		if p.isOp("{") {
			return &EvalBlock{at: pos, Body: p.parseBlock()}
		}
		if args := p.unaryArgs(); len(args) > 0 {
			return &EvalStr{at: pos, Src: args[0]}
		}
		return &EvalStr{at: pos}
	case "return":
		var v Expr
		if !p.endOfList() {
			v = p.parseComma()
		}
		return &ReturnExpr{at: pos, Value: v}
	case "last", "next", "redo":
		label := ""
		if nt := p.peek(); nt.Kind == TokIdent && !operatorWords[nt.Text] {
			label = p.next().Text
		}
		return &LoopCtlExpr{at: pos, Op: name, Label: label}
	case "goto":
		nt := p.next()
		if nt.Kind != TokVar || nt.Text[0] != '&' {
			p.i--
			p.errorf("goto LABEL is not supported")
		}
		rest := nt.Text[1:]
		if n := len(rest) - len(strings.TrimLeft(rest, "$")); n > 0 {
			return &GotoSub{at: pos, Target: scalarChain(pos, rest[n:], n)}
		}
		return &GotoSub{at: pos, Target: &VarRef{at: pos, Sigil: '&', Name: normalizeName(rest)}}
	case "__PACKAGE__":
		return &PackageName{at: pos}
	case "__FILE__":
		return &StrLit{at: pos, Value: p.file}
	case "__LINE__":
		return &NumLit{at: pos, Int: int64(t.Line)}
	case "undef":
		if p.accept("(") {
			if p.accept(")") {
				return &UndefLit{at: pos}
			}
			x := p.parseExpr()
			p.expect(")")
			return &FuncCall{at: pos, Name: "undef", Args: []Expr{x}, Parens: true}
		}
		if nt := p.peek(); nt.Kind == TokVar || nt.Kind == TokCast {
			return &FuncCall{at: pos, Name: "undef", Args: []Expr{p.parsePostfix()}}
		}
		return &UndefLit{at: pos}
	case "wantarray":
		if p.accept("(") {
			p.expect(")")
		}
		return &FuncCall{at: pos, Name: "wantarray"}
	case "print", "say", "printf":
		return p.printCall(pos, name)
	case "sort":
		return p.sortCall(pos)
	case "map", "grep":
		return p.mapCall(pos, name)
	case "defined":
		return p.definedCall(pos)
	}
	if operatorWords[name] {
		p.i--
		p.syntaxError()
	}
	if namedUnary[name] {
		return &FuncCall{at: pos, Name: name, Parens: p.isOp("("), Args: p.unaryArgs()}
	}
	if p.isOp("(") {
		return &FuncCall{at: pos, Name: name, Parens: true, Args: p.parenArgs()}
	}
	if listOps[name] || p.subs[name] {
		return &FuncCall{at: pos, Name: name, Args: p.listOpArgs()}
	}
	return &FuncCall{at: pos, Name: name}
}

func (p *parser) declaration(pos at, decl string) Expr {
	d := &MyExpr{at: pos, Decl: decl}
	if p.accept("(") {
		d.Paren = true
		for !p.isOp(")") {
			switch {
			case p.isWord("undef"):
				d.Vars = append(d.Vars, &UndefLit{at: p.at()})
				p.next()
			case decl == "local":
				d.Vars = append(d.Vars, p.parsePostfix())
			default:
				d.Vars = append(d.Vars, p.declVar())
			}
			if !p.accept(",") {
				break
			}
		}
		p.expect(")")
		return d
	}
	if decl == "local" {
		d.Vars = []Expr{p.parsePostfix()}
	} else {
		d.Vars = []Expr{p.declVar()}
	}
	return d
}

func (p *parser) declVar() Expr {
	pos := p.at()
	t := p.next()
	if t.Kind != TokVar || strings.ContainsAny(t.Text[1:2], "$#") || t.Text[0] == '&' {
		p.i--
		p.syntaxError()
	}
	return &VarRef{at: pos, Sigil: t.Text[0], Name: t.Text[1:]}
}

var fileHandles = map[string]bool{"STDOUT": true, "STDERR": true}

func (p *parser) printCall(pos at, name string) Expr {
	c := &FuncCall{at: pos, Name: name, FH: "STDOUT", Parens: p.accept("(")}
	if t := p.peek(); t.Kind == TokIdent && fileHandles[t.Text] {
		if nt := p.peekAt(1); !(nt.Kind == TokOp && (nt.Text == "," || nt.Text == "(" || nt.Text == "=>")) {
			c.FH = t.Text
			p.next()
		}
	}
	if c.Parens {
		if !p.isOp(")") {
			c.Args = flattenArgs(p.parseExpr())
		}
		p.expect(")")
	} else if !p.endOfList() && p.termStart(true) {
		c.Args = flattenArgs(p.parseComma())
	}
	return c
}

func (p *parser) sortCall(pos at) Expr {
	c := &FuncCall{at: pos, Name: "sort", Parens: p.accept("(")}
	if p.isOp("{") {
		c.Block = p.parseBlock()
		p.accept(",")
	} else if t := p.peek(); t.Kind == TokIdent && p.subs[t.Text] {
		if nt := p.peekAt(1); nt.Kind == TokVar || nt.Kind == TokCast {
			c.Cmp = &VarRef{at: p.at(), Sigil: '&', Name: t.Text}
			p.next()
		}
	}
	c.Args = p.restArgs(c.Parens)
	return c
}

func (p *parser) mapCall(pos at, name string) Expr {
	c := &FuncCall{at: pos, Name: name, Parens: p.accept("(")}
	if p.isOp("{") {
		c.Block = p.parseBlock()
		p.accept(",")
	} else {
		bpos := p.at()
		first := p.parseAssign()
		p.expect(",")
		c.Block = &Block{at: bpos, Stmts: []Stmt{&ExprStmt{at: bpos, X: first}}}
	}
	c.Args = p.restArgs(c.Parens)
	return c
}

func (p *parser) restArgs(parens bool) []Expr {
	var args []Expr
	if parens {
		if !p.isOp(")") {
			args = flattenArgs(p.parseExpr())
		}
		p.expect(")")
	} else if !p.endOfList() && p.termStart(true) {
		args = flattenArgs(p.parseComma())
	}
	return args
}

func (p *parser) definedCall(pos at) Expr {
	c := &FuncCall{at: pos, Name: "defined", Parens: p.accept("(")}
	if t := p.peek(); t.Kind == TokVar && t.Text[0] == '&' && t.Text[1] != '$' && !(p.peekAt(1).Kind == TokOp && p.peekAt(1).Text == "(") {
		p.next()
		c.Args = []Expr{&VarRef{at: p.at(), Sigil: '&', Name: normalizeName(t.Text[1:])}}
	} else if c.Parens {
		if !p.isOp(")") {
			c.Args = []Expr{p.parseExpr()}
		}
	} else if !p.endOfList() && p.termStart(false) {
		c.Args = []Expr{p.parseAdditive()}
	}
	if c.Parens {
		p.expect(")")
	}
	return c
}

// bareRegex scans a /pattern/ from the source text and relexes what
// follows it, since the pattern body need not consist of valid tokens.
func (p *parser) bareRegex(pos at, t Token) Expr {
	start := t.Offset + 1
	end := -1
	for j := start; j < len(p.src); j++ {
		if p.src[j] == '\\' {
			j++
			continue
		}
		if p.src[j] == '/' {
			end = j
			break
		}
	}
	if end < 0 {
		p.errorf("Search pattern not terminated")
	}
	k := end + 1
	for k < len(p.src) && strings.IndexByte("msixg", p.src[k]) >= 0 {
		k++
	}
	line := t.Line + strings.Count(p.src[t.Offset:k], "\n")
	rest, err := lexFrom(p.src[k:], p.file, line, k)
	if err != nil {
		panic(err)
	}
	raw, flags := p.src[start:end], p.src[end+1:k]
	toks := append([]Token(nil), p.toks[:p.i]...)
	toks = append(toks, Token{Kind: TokQuote, Text: "m/" + raw + "/" + flags, Line: t.Line, Offset: t.Offset})
	p.toks = append(toks, rest...)
	p.i++
	return &MatchExpr{at: pos, Pattern: p.interpolate(pos, raw, t.Line, true), Flags: flags}
}

func closer(open byte) byte {
	switch open {
	case '(':
		return ')'
	case '[':
		return ']'
	case '{':
		return '}'
	case '<':
		return '>'
	}
	return open
}

// splitQuote separates the body and trailing flags of a delimited quote
// whose prefix has been removed.
func splitQuote(body string) (content string, delim byte, flags string) {
	body = strings.TrimLeft(body, " \t\r\n")
	delim = closer(body[0])
	end := strings.LastIndexByte(body, delim)
	return body[1:end], delim, body[end+1:]
}

func (p *parser) quoteLike(pos at, t Token) Expr {
	kind := ""
	for _, k := range []string{"qq", "qw", "qr", "q", "m"} {
		if strings.HasPrefix(t.Text, k) {
			kind = k
			break
		}
	}
	content, delim, flags := splitQuote(t.Text[len(kind):])
	switch kind {
	case "q":
		return &StrLit{at: pos, Value: unescapeSingle(content, delim)}
	case "qq":
		return p.interpolate(pos, content, t.Line, false)
	case "qw":
		l := &ListExpr{at: pos}
		for _, w := range strings.Fields(content) {
			l.Items = append(l.Items, &StrLit{at: pos, Value: w})
		}
		return l
	case "qr":
		return &QrExpr{at: pos, Pattern: p.interpolate(pos, content, t.Line, true), Flags: flags}
	}
	return &MatchExpr{at: pos, Pattern: p.interpolate(pos, content, t.Line, true), Flags: flags}
}

func (p *parser) substitution(pos at, t Token) Expr {
	body := t.Text[1:]
	var pat, repl, flags string
	if body[0] == '{' {
		i := strings.IndexByte(body, '}')
		pat = body[1:i]
		rest := strings.TrimLeft(body[i+1:], " \t\r\n")
		j := strings.LastIndexByte(rest, '}')
		repl, flags = rest[1:j], rest[j+1:]
	} else {
		d := body[0]
		parts := splitUnescaped(body[1:], d)
		pat, repl, flags = parts[0], parts[1], parts[2]
	}
	m := &MatchExpr{at: pos, Pattern: p.interpolate(pos, pat, t.Line, true), Subst: true}
	if strings.Contains(flags, "e") {
		m.Replacement = p.subExpr(pos, repl, t.Line, false)
		flags = strings.ReplaceAll(flags, "e", "")
	} else {
		m.Replacement = p.interpolate(pos, repl, t.Line, false)
	}
	m.Flags = flags
	return m
}

// splitUnescaped splits s at the first two unescaped occurrences of d.
func splitUnescaped(s string, d byte) [3]string {
	var out [3]string
	part, start := 0, 0
	for i := 0; i < len(s) && part < 2; i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == d {
			out[part] = s[start:i]
			part++
			start = i + 1
		}
	}
	out[part] = s[start:]
	return out
}

func unescapeSingle(s string, delim byte) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && (s[i+1] == '\\' || s[i+1] == delim || s[i+1] == '\'') {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// foldNegative folds unary minus over a numeric literal.
func foldNegative(x Expr) (Expr, bool) {
	n, ok := x.(*NumLit)
	if !ok {
		return nil, false
	}
	if n.IsFloat {
		return &NumLit{at: n.at, Float: -n.Float, IsFloat: true}, true
	}
	if n.Int == math.MinInt64 {
		return &NumLit{at: n.at, Float: -float64(n.Int), IsFloat: true}, true
	}
	return &NumLit{at: n.at, Int: -n.Int}, true
}
