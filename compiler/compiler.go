package compiler

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/tliron/commonlog"

	"github.com/fglock/perlcore/vm"
)

var log = commonlog.GetLogger("perlcore.compiler")

// Options configures a compilation.
type Options struct {
	File         string     // source name used in diagnostics
	Name         string     // unit name, "main" by default
	Package      string     // initial package, "main" by default
	Pragmas      vm.Pragmas // initial lexical pragmas
	MaxRegisters int        // register budget per unit, DefaultMaxRegisters if zero
}

func (o Options) withDefaults() Options {
	if o.File == "" {
		o.File = "-"
	}
	if o.Name == "" {
		o.Name = "main"
	}
	if o.Package == "" {
		o.Package = "main"
	}
	if o.MaxRegisters <= 0 {
		o.MaxRegisters = DefaultMaxRegisters
	}
	return o
}

type compiler struct {
	opts   Options
	file   string
	source *vm.SourceInfo
	fs     *funcState
	pos    int // token of the statement being compiled
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// CompileSource parses and compiles src.
func CompileSource(src string, opts Options) (*vm.Unit, error) {
	opts = opts.withDefaults()
	prog, err := Parse(src, opts.File)
	if err != nil {
		return nil, err
	}
	return Compile(prog, opts)
}

// Compile lowers a parsed program to a unit.
func Compile(prog *Program, opts Options) (*vm.Unit, error) {
	return compileProgram(prog, opts.withDefaults(), nil, nil, false)
}

var evalCount atomic.Int64

// CompileEval compiles eval-string text in the lexical environment of its
// eval site. The captured names occupy the unit's capture slots in order.
// It has the signature of vm.EvalCompiler.
func CompileEval(src string, env *vm.EvalEnv) (*vm.Unit, error) {
	file := fmt.Sprintf("(eval %d)", evalCount.Add(1))
	prog, err := Parse(src, file)
	if err != nil {
		return nil, err
	}
	opts := Options{File: file, Name: file, Package: env.Package, Pragmas: env.Pragmas}
	return compileProgram(prog, opts.withDefaults(), env.Names, env.Ours, true)
}

// compileProgram compiles a whole program. Eval text sees the @_ of the
// code that evaluates it.
func compileProgram(prog *Program, opts Options, captures []string, ours map[string]string, eval bool) (unit *vm.Unit, err error) {
	file := prog.File
	if file == "" {
		file = opts.File
	}
	c := &compiler{
		opts:   opts,
		file:   file,
		source: &vm.SourceInfo{File: file, Lines: prog.Lines},
	}
	defer func() {
		if r := recover(); r != nil {
			ce, ok := r.(*CompileError)
			if !ok {
				panic(r)
			}
			log.Debugf("compile failed: %s", ce.Error())
			unit, err = nil, ce
		}
	}()
	fs := newFuncState(nil, opts.Name, captures, opts.Package, opts.Pragmas)
	fs.inSub = eval
	for name, global := range ours {
		fs.scope.vars[name] = &binding{reg: -1, global: global}
	}
	unit = c.compileUnit(fs, prog.Body)
	log.Debugf("compiled %s: %d words, %d registers, %d constants", unit.Name, len(unit.Code), unit.RegisterCount, len(unit.Constants))
	return unit, nil
}

// compileUnit compiles body as the whole of fs and builds its unit. The
// value of the last statement is returned in the caller's context.
func (c *compiler) compileUnit(fs *funcState, body *Block) *vm.Unit {
	saved := c.fs
	c.fs = fs
	defer func() { c.fs = saved }()

	c.hoist(body)
	r := c.blockValue(body, vm.RuntimeContext, false)
	c.emit(vm.OpReturn, -1, r)

	e := fs.e
	return &vm.Unit{
		Name:          fs.name,
		Code:          e.code,
		Constants:     e.consts,
		Strings:       e.strs,
		RegisterCount: fs.max,
		CaptureNames:  fs.captures,
		SourceMap:     e.srcmap,
		Source:        c.source,
		Loops:         e.loops,
		EvalSites:     e.sites,
		Pragmas:       fs.pragmas,
		Package:       fs.pkg,
		StateSlots:    fs.states,
	}
}

// compileSub compiles a sub body as a template whose capture slots hold
// the named bindings.
func (c *compiler) compileSub(name string, body *Block, captures []string, ours map[string]string, pkg string, pragmas vm.Pragmas) *vm.Unit {
	fs := newFuncState(c.fs, name, captures, pkg, pragmas)
	fs.inSub = true
	for n, global := range ours {
		fs.scope.vars[n] = &binding{reg: -1, global: global}
	}
	return c.compileUnit(fs, body)
}

// closure emits a closure over body capturing its free lexicals, or every
// visible lexical when the body evaluates strings. The register receives
// the code value itself.
func (c *compiler) closure(pos int, name string, body *Block) int {
	var names []string
	var regs []int
	if containsEvalString(body) {
		names, regs = c.visible()
	} else {
		for _, n := range freeVars(body) {
			if b := c.lookup(n); b != nil && b.lexical() {
				names = append(names, n)
				regs = append(regs, b.reg)
			}
		}
	}
	unit := c.compileSub(name, body, names, nil, c.pkg(), c.pragmas())
	k := c.fs.e.constUnit(unit)
	r := c.alloc()
	c.emit(vm.OpMakeClosure, pos, append([]int{r, k, len(regs)}, regs...)...)
	return r
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *compiler) statements(stmts []Stmt, recycle bool) {
	for _, st := range stmts {
		c.pos = st.Pos()
		c.stmt(st)
		if recycle {
			c.recycle()
		}
	}
}

func (c *compiler) stmt(st Stmt) {
	switch s := st.(type) {
	case *ExprStmt:
		c.expr(s.X, vm.VoidContext)
	case *Block:
		c.block(s)
	case *IfStmt:
		c.ifStmt(s)
	case *WhileStmt:
		c.whileStmt(s)
	case *ForStmt:
		c.forStmt(s)
	case *ForeachStmt:
		c.foreachStmt(s)
	case *BareBlock:
		c.bareBlock(s)
	case *SubDecl:
		if s.Body != nil && !c.fs.hoisted[s] {
			r := c.closure(s.Pos(), qualify(s.Name, c.pkg()), s.Body)
			c.emit(vm.OpDefineSub, s.Pos(), c.fs.e.str(qualify(s.Name, c.pkg())), r)
		}
	case *PackageDecl:
		if s.Body == nil {
			c.fs.scope.pkg = s.Name
			return
		}
		c.pushScope()
		c.fs.scope.pkg = s.Name
		c.block(s.Body)
		c.popScope()
	case *UseStmt:
		applyPragma(&c.fs.scope.pragmas, s)
	default:
		c.errorf(st.Pos(), "Unsupported statement %T", st)
	}
}

// block compiles b for its side effects. A block that localizes package
// variables restores them when it completes.
func (c *compiler) block(b *Block) {
	if b.Inline {
		c.statements(b.Stmts, false)
		return
	}
	mark := c.dynMark(hasLocal(b, false))
	c.pushScope()
	c.statements(b.Stmts, true)
	c.popScope()
	c.dynRestore(mark)
}

// blockValue compiles b and returns the register holding the value of its
// last statement in ctx, or -1 in void context.
func (c *compiler) blockValue(b *Block, ctx vm.Context, restore bool) int {
	if len(b.Stmts) == 0 {
		return c.emptyValue(ctx)
	}
	mark := -1
	if !b.Inline {
		mark = c.dynMark(restore && hasLocal(b, false))
		c.pushScope()
	}
	last := len(b.Stmts) - 1
	c.statements(b.Stmts[:last], !b.Inline)
	c.pos = b.Stmts[last].Pos()
	r := c.stmtValue(b.Stmts[last], ctx)
	if !b.Inline {
		c.popScope()
		c.dynRestore(mark)
	}
	return r
}

// stmtValue compiles st as the value-producing last statement of a block.
func (c *compiler) stmtValue(st Stmt, ctx vm.Context) int {
	switch s := st.(type) {
	case *ExprStmt:
		return c.expr(s.X, ctx)
	case *IfStmt:
		return c.ifValue(s, ctx)
	case *Block:
		return c.blockValue(s, ctx, true)
	case *PackageDecl:
		if s.Body != nil {
			c.pushScope()
			c.fs.scope.pkg = s.Name
			r := c.blockValue(s.Body, ctx, true)
			c.popScope()
			return r
		}
	}
	c.stmt(st)
	return c.emptyValue(ctx)
}

// emptyValue loads the value of an empty statement sequence.
func (c *compiler) emptyValue(ctx vm.Context) int {
	switch ctx {
	case vm.VoidContext:
		return -1
	case vm.ScalarContext:
		r := c.alloc()
		c.emit(vm.OpLoadUndef, -1, r)
		return r
	}
	r := c.alloc()
	c.emit(vm.OpList, -1, r, 0)
	return r
}

func (c *compiler) dynMark(needed bool) int {
	if !needed {
		return -1
	}
	m := c.alloc()
	c.emit(vm.OpDynMark, -1, m)
	return m
}

func (c *compiler) dynRestore(mark int) {
	if mark >= 0 {
		c.emit(vm.OpDynRestore, -1, mark)
	}
}

func (c *compiler) ifStmt(s *IfStmt) {
	e := c.fs.e
	end := e.newLabel()
	c.pushScope()
	for {
		cond := c.expr(s.Cond, vm.ScalarContext)
		next := e.newLabel()
		e.jump(vm.OpJumpIfFalse, s.Pos(), next, cond)
		c.block(s.Then)
		if s.Else == nil {
			e.mark(next)
			break
		}
		e.jump(vm.OpJump, -1, end)
		e.mark(next)
		if elsif, ok := s.Else.(*IfStmt); ok {
			s = elsif
			continue
		}
		c.block(s.Else.(*Block))
		break
	}
	e.mark(end)
	c.popScope()
}

// ifValue compiles an if statement whose value is the result of a block.
// When no branch runs the value is that of the last condition tested.
func (c *compiler) ifValue(s *IfStmt, ctx vm.Context) int {
	if ctx == vm.VoidContext {
		c.ifStmt(s)
		return -1
	}
	e := c.fs.e
	dest := c.alloc()
	end := e.newLabel()
	c.pushScope()
	for {
		cond := c.expr(s.Cond, vm.ScalarContext)
		c.emit(vm.OpMove, -1, dest, cond)
		next := e.newLabel()
		e.jump(vm.OpJumpIfFalse, s.Pos(), next, cond)
		c.emit(vm.OpMove, -1, dest, c.blockValue(s.Then, ctx, true))
		e.jump(vm.OpJump, -1, end)
		e.mark(next)
		if s.Else == nil {
			break
		}
		if elsif, ok := s.Else.(*IfStmt); ok {
			s = elsif
			continue
		}
		c.emit(vm.OpMove, -1, dest, c.blockValue(s.Else.(*Block), ctx, true))
		break
	}
	e.mark(end)
	c.popScope()
	return dest
}

// ---------------------------------------------------------------------------
// Pragmas
// ---------------------------------------------------------------------------

var featureBundle = []string{"say", "state"}

// applyPragma updates p for a use or no statement. Modules other than
// the known pragmas are accepted and ignored.
func applyPragma(p *vm.Pragmas, st *UseStmt) {
	switch st.Module {
	case "strict":
		p.Strict = !st.No
	case "warnings":
		p.Warnings = !st.No
	case "feature":
		for _, f := range st.Args {
			names := []string{f}
			if strings.HasPrefix(f, ":") {
				names = featureBundle
			}
			for _, n := range names {
				setFeature(p, n, !st.No)
			}
		}
	case "VERSION":
		if st.No || len(st.Args) == 0 {
			return
		}
		minor := versionMinor(st.Args[0])
		if minor >= 10 {
			for _, n := range featureBundle {
				setFeature(p, n, true)
			}
		}
		if minor >= 12 {
			p.Strict = true
		}
		if minor >= 36 {
			p.Warnings = true
		}
	}
}

func setFeature(p *vm.Pragmas, name string, on bool) {
	if p.HasFeature(name) == on {
		return
	}
	if on {
		p.Features = append(p.Features, name)
		return
	}
	kept := p.Features[:0:0]
	for _, f := range p.Features {
		if f != name {
			kept = append(kept, f)
		}
	}
	p.Features = kept
}

// versionMinor extracts the minor version of a 5.x version requirement:
// 5.010, 5.10.1, v5.36 and 5.012_001 all work.
func versionMinor(v string) int {
	v = strings.TrimPrefix(v, "v")
	parts := strings.SplitN(v, ".", 3)
	if len(parts) < 2 {
		return 0
	}
	minor := strings.SplitN(parts[1], "_", 2)[0]
	if len(parts) == 2 && len(minor) > 3 {
		minor = minor[:3]
	}
	n, _ := strconv.Atoi(minor)
	return n
}
