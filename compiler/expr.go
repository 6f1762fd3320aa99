package compiler

import (
	"math"
	"strings"

	"github.com/fglock/perlcore/vm"
)

var binaryOps = map[string]vm.Opcode{
	"+":   vm.OpAdd,
	"-":   vm.OpSub,
	"*":   vm.OpMul,
	"/":   vm.OpDiv,
	"%":   vm.OpMod,
	"**":  vm.OpPow,
	".":   vm.OpConcat,
	"x":   vm.OpRepeat,
	"==":  vm.OpNumEq,
	"!=":  vm.OpNumNe,
	"<":   vm.OpNumLt,
	"<=":  vm.OpNumLe,
	">":   vm.OpNumGt,
	">=":  vm.OpNumGe,
	"<=>": vm.OpNumCmp,
	"eq":  vm.OpStrEq,
	"ne":  vm.OpStrNe,
	"lt":  vm.OpStrLt,
	"le":  vm.OpStrLe,
	"gt":  vm.OpStrGt,
	"ge":  vm.OpStrGe,
	"cmp": vm.OpStrCmp,
}

// expr compiles x for ctx and returns the register holding its value. In
// scalar context the register always holds a scalar. In void context the
// result may be -1.
func (c *compiler) expr(x Expr, ctx vm.Context) int {
	switch x := x.(type) {
	case *NumLit:
		return c.number(x)
	case *StrLit:
		return c.loadStr(x.Value)
	case *UndefLit:
		r := c.alloc()
		c.emit(vm.OpLoadUndef, -1, r)
		return r
	case *InterpStr:
		return c.interp(x)
	case *PackageName:
		return c.loadStr(c.pkg())
	case *VarRef:
		return c.variable(x, ctx)
	case *ElemExpr:
		return c.elem(x, false)
	case *HelemExpr:
		return c.helem(x, false)
	case *LastIndexExpr:
		a := c.arrayBase(x.Array, true)
		r := c.alloc()
		c.emit(vm.OpLastIndex, x.Pos(), r, a)
		return r
	case *DerefExpr:
		return c.deref(x, ctx)
	case *MyExpr:
		return c.declaration(x, ctx)
	case *AssignExpr:
		return c.assign(x, ctx)
	case *BinaryExpr:
		return c.binary(x, ctx)
	case *LogicalExpr:
		return c.logical(x, ctx)
	case *UnaryExpr:
		return c.unary(x)
	case *IncDecExpr:
		return c.incDec(x, ctx)
	case *TernaryExpr:
		return c.ternary(x, ctx)
	case *ListExpr:
		return c.list(x, ctx)
	case *RangeExpr:
		lo := c.expr(x.Lo, vm.ScalarContext)
		hi := c.expr(x.Hi, vm.ScalarContext)
		r := c.alloc()
		c.emit(vm.OpRange, x.Pos(), r, lo, hi)
		return c.inContext(r, ctx, x.Pos())
	case *FuncCall:
		return c.call(x, ctx)
	case *DynCall:
		return c.dynCall(x, ctx)
	case *AnonSub:
		code := c.closure(x.Pos(), qualify("__ANON__", c.pkg()), x.Body)
		r := c.alloc()
		c.emit(vm.OpRef, x.Pos(), r, code)
		return r
	case *AnonArray:
		l := c.listOf(x.Pos(), x.Items)
		r := c.alloc()
		c.emit(vm.OpAnonArray, x.Pos(), r, l)
		return r
	case *AnonHash:
		l := c.listOf(x.Pos(), x.Items)
		r := c.alloc()
		c.emit(vm.OpAnonHash, x.Pos(), r, l)
		return r
	case *RefExpr:
		return c.ref(x)
	case *EvalBlock:
		return c.evalBlock(x, ctx)
	case *EvalStr:
		return c.evalString(x)
	case *DoBlock:
		if ctx == vm.VoidContext {
			c.blockValue(x.Body, ctx, true)
			return -1
		}
		dest := c.alloc()
		c.emit(vm.OpMove, -1, dest, c.blockValue(x.Body, ctx, true))
		return dest
	case *MatchExpr:
		if x.Subst {
			return c.subst(x)
		}
		return c.match(x, ctx)
	case *QrExpr:
		return c.qr(x.Pos(), x.Pattern, x.Flags)
	case *ReturnExpr:
		c.returnExpr(x)
		return c.emptyValue(ctx)
	case *LoopCtlExpr:
		c.loopControl(x)
		return c.emptyValue(ctx)
	case *GotoSub:
		c.gotoSub(x)
		return c.emptyValue(ctx)
	}
	c.errorf(x.Pos(), "Unsupported expression %T", x)
	return -1
}

func (c *compiler) scalar(x Expr) int {
	return c.expr(x, vm.ScalarContext)
}

// inContext converts an aggregate register to its scalar value when ctx
// asks for one.
func (c *compiler) inContext(r int, ctx vm.Context, pos int) int {
	if ctx != vm.ScalarContext {
		return r
	}
	t := c.alloc()
	c.emit(vm.OpScalarOf, pos, t, r)
	return t
}

func (c *compiler) number(n *NumLit) int {
	r := c.alloc()
	switch {
	case n.IsFloat:
		c.emit(vm.OpLoadConst, -1, r, c.fs.e.constNum(n.Float))
	case n.Int >= math.MinInt32 && n.Int <= math.MaxInt32:
		c.emit(vm.OpLoadInt, -1, r, int(n.Int))
	default:
		c.emit(vm.OpLoadConst, -1, r, c.fs.e.constInt(n.Int))
	}
	return r
}

func (c *compiler) loadStr(s string) int {
	r := c.alloc()
	c.emit(vm.OpLoadStr, -1, r, c.fs.e.str(s))
	return r
}

// interp concatenates the parts of an interpolated string. The result is
// always a fresh string, even for a single interpolated variable.
func (c *compiler) interp(x *InterpStr) int {
	if len(x.Parts) == 0 {
		return c.loadStr("")
	}
	var acc int
	if s, ok := x.Parts[0].(*StrLit); ok {
		acc = c.loadStr(s.Value)
	} else {
		empty := c.loadStr("")
		v := c.scalar(x.Parts[0])
		acc = c.alloc()
		c.emit(vm.OpConcat, x.Pos(), acc, empty, v)
	}
	for _, p := range x.Parts[1:] {
		v := c.scalar(p)
		t := c.alloc()
		c.emit(vm.OpConcat, x.Pos(), t, acc, v)
		acc = t
	}
	return acc
}

// ---------------------------------------------------------------------------
// Variables and element access
// ---------------------------------------------------------------------------

func (c *compiler) variable(v *VarRef, ctx vm.Context) int {
	switch v.Sigil {
	case '$':
		return c.scalarVar(v)
	case '@':
		return c.inContext(c.arrayVar(v), ctx, v.Pos())
	case '%':
		return c.inContext(c.hashVar(v), ctx, v.Pos())
	case '&':
		code := c.codeSlot(v)
		r := c.alloc()
		c.emit(vm.OpRef, v.Pos(), r, code)
		return r
	}
	c.errorf(v.Pos(), "Unsupported variable %s", v.FullName())
	return -1
}

// global loads the package container op names for a non-lexical binding.
func (c *compiler) global(op vm.Opcode, pos int, name string) int {
	r := c.alloc()
	c.emit(op, pos, r, c.fs.e.str(name))
	return r
}

func (c *compiler) scalarVar(v *VarRef) int {
	b := c.resolve(v)
	if b.lexical() {
		return b.reg
	}
	return c.global(vm.OpGlobalScalar, v.Pos(), b.global)
}

func (c *compiler) arrayVar(v *VarRef) int {
	if v.Name == "_" {
		if b := c.lookup("@_"); b == nil || !b.lexical() {
			return vm.RegArgs
		}
	}
	b := c.resolve(v)
	if b.lexical() {
		return b.reg
	}
	return c.global(vm.OpGlobalArray, v.Pos(), b.global)
}

func (c *compiler) hashVar(v *VarRef) int {
	b := c.resolve(v)
	if b.lexical() {
		return b.reg
	}
	return c.global(vm.OpGlobalHash, v.Pos(), b.global)
}

func (c *compiler) codeSlot(v *VarRef) int {
	return c.global(vm.OpGlobalCode, v.Pos(), qualify(v.Name, c.pkg()))
}

// topic returns the register of $_.
func (c *compiler) topic(pos int) int {
	return c.scalarVar(&VarRef{at: at(pos), Sigil: '$', Name: "_"})
}

// arrayBase compiles an expression that denotes an array container.
func (c *compiler) arrayBase(x Expr, autoviv bool) int {
	switch b := x.(type) {
	case *VarRef:
		if b.Sigil == '@' {
			return c.arrayVar(b)
		}
	case *DerefExpr:
		if b.Sigil == '@' {
			ref := c.refOperand(b.Ref, autoviv)
			r := c.alloc()
			c.emit(vm.OpDerefArray, b.Pos(), r, ref, flag(autoviv))
			return r
		}
	case *MyExpr:
		if len(b.Vars) == 1 && sigilOf(b.Vars[0]) == '@' {
			return c.declaration(b, vm.ListContext)
		}
	}
	c.errorf(x.Pos(), "Can't use %s as an ARRAY", describe(x))
	return -1
}

// hashBase compiles an expression that denotes a hash container.
func (c *compiler) hashBase(x Expr, autoviv bool) int {
	switch b := x.(type) {
	case *VarRef:
		if b.Sigil == '%' {
			return c.hashVar(b)
		}
	case *DerefExpr:
		if b.Sigil == '%' {
			ref := c.refOperand(b.Ref, autoviv)
			r := c.alloc()
			c.emit(vm.OpDerefHash, b.Pos(), r, ref, flag(autoviv))
			return r
		}
	case *MyExpr:
		if len(b.Vars) == 1 && sigilOf(b.Vars[0]) == '%' {
			return c.declaration(b, vm.ListContext)
		}
	}
	c.errorf(x.Pos(), "Can't use %s as a HASH", describe(x))
	return -1
}

// refOperand compiles the reference operand of a dereference. With
// autoviv set, an lvalue operand is compiled as a container so an undef
// value can become a fresh reference.
func (c *compiler) refOperand(x Expr, autoviv bool) int {
	if autoviv && isScalarLvalue(x) {
		return c.lvalue(x)
	}
	return c.scalar(x)
}

func (c *compiler) elem(x *ElemExpr, create bool) int {
	a := c.arrayBase(x.Base, true)
	i := c.scalar(x.Index)
	r := c.alloc()
	c.emit(vm.OpElem, x.Pos(), r, a, i, flag(create))
	return r
}

func (c *compiler) helem(x *HelemExpr, create bool) int {
	h := c.hashBase(x.Base, true)
	k := c.scalar(x.Key)
	r := c.alloc()
	c.emit(vm.OpHelem, x.Pos(), r, h, k, flag(create))
	return r
}

func (c *compiler) deref(x *DerefExpr, ctx vm.Context) int {
	switch x.Sigil {
	case '$':
		ref := c.scalar(x.Ref)
		r := c.alloc()
		c.emit(vm.OpDerefScalar, x.Pos(), r, ref, 0)
		return r
	case '@':
		return c.inContext(c.arrayBase(x, false), ctx, x.Pos())
	case '%':
		return c.inContext(c.hashBase(x, false), ctx, x.Pos())
	case '&':
		ref := c.scalar(x.Ref)
		code := c.alloc()
		c.emit(vm.OpDerefCode, x.Pos(), code, ref)
		r := c.alloc()
		c.emit(vm.OpRef, x.Pos(), r, code)
		return r
	}
	c.errorf(x.Pos(), "Unsupported dereference %c{}", x.Sigil)
	return -1
}

// lvalue compiles x as an assignable container and returns its register.
func (c *compiler) lvalue(x Expr) int {
	switch x := x.(type) {
	case *VarRef:
		switch x.Sigil {
		case '$':
			return c.scalarVar(x)
		case '@':
			return c.arrayVar(x)
		case '%':
			return c.hashVar(x)
		}
	case *ElemExpr:
		return c.elem(x, true)
	case *HelemExpr:
		return c.helem(x, true)
	case *DerefExpr:
		switch x.Sigil {
		case '$':
			ref := c.refOperand(x.Ref, true)
			r := c.alloc()
			c.emit(vm.OpDerefScalar, x.Pos(), r, ref, 1)
			return r
		case '@':
			return c.arrayBase(x, true)
		case '%':
			return c.hashBase(x, true)
		}
	case *MyExpr:
		if len(x.Vars) == 1 && !x.Paren {
			return c.declaration(x, vm.ListContext)
		}
	case *AssignExpr:
		return c.assign(x, vm.ScalarContext)
	case *ListExpr:
		if len(x.Items) == 1 {
			return c.lvalue(x.Items[0])
		}
	case *IncDecExpr:
		if x.Prefix {
			return c.incDec(x, vm.ScalarContext)
		}
	}
	c.errorf(x.Pos(), "Can't modify %s", describe(x))
	return -1
}

func isScalarLvalue(x Expr) bool {
	switch x := x.(type) {
	case *VarRef:
		return x.Sigil == '$'
	case *ElemExpr, *HelemExpr:
		return true
	case *DerefExpr:
		return x.Sigil == '$'
	}
	return false
}

// sigilOf returns the container kind an expression denotes: '@', '%' or
// '$' for everything scalar.
func sigilOf(x Expr) byte {
	switch x := x.(type) {
	case *VarRef:
		if x.Sigil == '@' || x.Sigil == '%' {
			return x.Sigil
		}
	case *DerefExpr:
		if x.Sigil == '@' || x.Sigil == '%' {
			return x.Sigil
		}
	case *MyExpr:
		if len(x.Vars) == 1 && !x.Paren {
			return sigilOf(x.Vars[0])
		}
	}
	return '$'
}

func describe(x Expr) string {
	switch x := x.(type) {
	case *NumLit, *StrLit, *InterpStr:
		return "constant item"
	case *VarRef:
		return x.FullName()
	case *FuncCall:
		return x.Name
	case *ListExpr:
		return "list"
	case *AnonSub:
		return "anonymous subroutine"
	case *AnonArray:
		return "anonymous array ([])"
	case *AnonHash:
		return "anonymous hash ({})"
	case *BinaryExpr:
		return x.Op + " operator"
	case *TernaryExpr:
		return "conditional expression"
	}
	return "expression"
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// declTarget is one variable of a my, our, local or state declaration, or
// an undef placeholder in a list assignment.
type declTarget struct {
	v      *VarRef
	decl   string
	reg    int
	global string
	pinned bool
	sink   bool
}

// declTargets reserves registers for the variables of m without binding
// them, so the right-hand side still sees any shadowed outer variable.
func (c *compiler) declTargets(m *MyExpr) []*declTarget {
	var out []*declTarget
	for _, x := range m.Vars {
		if _, ok := x.(*UndefLit); ok {
			out = append(out, &declTarget{sink: true, reg: c.alloc()})
			continue
		}
		v, ok := x.(*VarRef)
		if !ok {
			if m.Decl == "local" {
				c.errorf(x.Pos(), "Can't localize %s; only package variables can be localized", describe(x))
			}
			c.errorf(x.Pos(), "Can't declare %s in \"%s\"", describe(x), m.Decl)
		}
		t := &declTarget{v: v, decl: m.Decl}
		switch m.Decl {
		case "my", "state":
			if strings.Contains(v.Name, "::") {
				c.errorf(v.Pos(), "\"%s\" variable %s can't be in a package", m.Decl, v.FullName())
			}
			if r, ok := c.fs.pinned[v]; ok {
				t.reg, t.pinned = r, true
			} else if r, ok := c.fs.reserved[v]; ok {
				t.reg = r
			} else {
				t.reg = c.alloc()
			}
		case "our":
			if strings.Contains(v.Name, "::") {
				c.errorf(v.Pos(), "No package name allowed for variable %s in \"our\"", v.FullName())
			}
			t.global = qualify(v.Name, c.pkg())
			t.reg = c.alloc()
		case "local":
			b := c.lookup(v.FullName())
			if b != nil && b.lexical() {
				c.errorf(v.Pos(), "Can't localize lexical variable %s", v.FullName())
			}
			if b != nil {
				t.global = b.global
			} else {
				t.global = qualify(v.Name, c.pkg())
			}
			t.reg = c.alloc()
		}
		out = append(out, t)
	}
	return out
}

// materialize creates the containers of the targets. assigned reports
// whether an assignment follows, which lets a pinned variable skip its
// reset.
func (c *compiler) materialize(ts []*declTarget, assigned bool) {
	for _, t := range ts {
		if t.sink {
			c.emit(vm.OpLoadUndef, -1, t.reg)
			continue
		}
		pos := t.v.Pos()
		switch t.decl {
		case "my":
			if t.pinned {
				if !assigned {
					c.reset(t)
				}
				break
			}
			c.emit(newContainerOp(t.v.Sigil), pos, t.reg)
		case "our":
			c.emit(globalOp(t.v.Sigil), pos, t.reg, c.fs.e.str(t.global))
		case "local":
			c.emit(localOp(t.v.Sigil), pos, t.reg, c.fs.e.str(t.global))
		}
	}
}

// reset clears a pinned variable whose declaration runs again.
func (c *compiler) reset(t *declTarget) {
	v := c.alloc()
	switch t.v.Sigil {
	case '@':
		c.emit(vm.OpList, -1, v, 0)
		c.emit(vm.OpArrayAssign, -1, t.reg, v)
	case '%':
		c.emit(vm.OpList, -1, v, 0)
		c.emit(vm.OpHashAssign, -1, t.reg, v)
	default:
		c.emit(vm.OpLoadUndef, -1, v)
		c.emit(vm.OpSet, -1, t.reg, v)
	}
}

func (c *compiler) bind(ts []*declTarget) {
	for _, t := range ts {
		switch {
		case t.sink:
		case t.decl == "my" || t.decl == "state":
			c.declare(t.v.Pos(), t.v.FullName(), t.reg)
		case t.decl == "our":
			c.declareOur(t.v.FullName(), t.global)
		}
	}
}

func globalOp(sigil byte) vm.Opcode {
	switch sigil {
	case '@':
		return vm.OpGlobalArray
	case '%':
		return vm.OpGlobalHash
	}
	return vm.OpGlobalScalar
}

func localOp(sigil byte) vm.Opcode {
	switch sigil {
	case '@':
		return vm.OpLocalArray
	case '%':
		return vm.OpLocalHash
	}
	return vm.OpLocalScalar
}

func stateKind(sigil byte) int {
	switch sigil {
	case '@':
		return 1
	case '%':
		return 2
	}
	return 0
}

// declaration compiles a declaration without an initializer.
func (c *compiler) declaration(m *MyExpr, ctx vm.Context) int {
	if m.Decl == "state" {
		return c.stateDecl(m, nil, ctx)
	}
	ts := c.declTargets(m)
	c.materialize(ts, false)
	c.bind(ts)
	return c.declValue(m, ts, ctx)
}

func (c *compiler) declValue(m *MyExpr, ts []*declTarget, ctx vm.Context) int {
	if len(ts) == 1 && !m.Paren {
		return c.inContext(ts[0].reg, ctx, m.Pos())
	}
	if ctx == vm.ScalarContext {
		if len(ts) == 0 {
			return c.emptyValue(ctx)
		}
		return c.inContext(ts[len(ts)-1].reg, ctx, m.Pos())
	}
	regs := make([]int, len(ts))
	for i, t := range ts {
		regs[i] = t.reg
	}
	r := c.alloc()
	c.emit(vm.OpList, -1, append([]int{r, len(regs)}, regs...)...)
	return r
}

// stateDecl compiles a state declaration. The initializer runs only the
// first time the declaration is reached by a given closure.
func (c *compiler) stateDecl(m *MyExpr, init Expr, ctx vm.Context) int {
	if m.Paren || len(m.Vars) != 1 {
		c.errorf(m.Pos(), "Initialization of state variables in list currently forbidden")
	}
	if !c.pragmas().HasFeature("state") {
		c.errorf(m.Pos(), "state variables require \"use feature 'state'\"")
	}
	ts := c.declTargets(m)
	t := ts[0]
	slot := c.fs.states
	c.fs.states++
	e := c.fs.e
	skip := e.newLabel()
	e.jump(vm.OpStateVar, m.Pos(), skip, t.reg, slot, stateKind(t.v.Sigil))
	if init != nil {
		switch t.v.Sigil {
		case '@':
			c.emit(vm.OpArrayAssign, m.Pos(), t.reg, c.expr(init, vm.ListContext))
		case '%':
			c.emit(vm.OpHashAssign, m.Pos(), t.reg, c.expr(init, vm.ListContext))
		default:
			c.emit(vm.OpSet, m.Pos(), t.reg, c.scalar(init))
		}
	}
	e.mark(skip)
	c.bind(ts)
	return c.inContext(t.reg, ctx, m.Pos())
}

// ---------------------------------------------------------------------------
// Assignment
// ---------------------------------------------------------------------------

func (c *compiler) assign(x *AssignExpr, ctx vm.Context) int {
	if x.Op != "=" {
		return c.compoundAssign(x)
	}
	switch l := x.Left.(type) {
	case *MyExpr:
		return c.declAssign(l, x.Right, ctx)
	case *ListExpr:
		return c.listAssign(x.Pos(), l.Items, x.Right, ctx)
	}
	switch sigilOf(x.Left) {
	case '@':
		v := c.expr(x.Right, vm.ListContext)
		a := c.lvalue(x.Left)
		c.emit(vm.OpArrayAssign, x.Pos(), a, v)
		return c.inContext(a, ctx, x.Pos())
	case '%':
		v := c.expr(x.Right, vm.ListContext)
		h := c.lvalue(x.Left)
		c.emit(vm.OpHashAssign, x.Pos(), h, v)
		return c.inContext(h, ctx, x.Pos())
	}
	v := c.scalar(x.Right)
	l := c.lvalue(x.Left)
	c.emit(vm.OpSet, x.Pos(), l, v)
	return l
}

func (c *compiler) declAssign(m *MyExpr, rhs Expr, ctx vm.Context) int {
	if m.Decl == "state" {
		return c.stateDecl(m, rhs, ctx)
	}
	if m.Paren || len(m.Vars) != 1 {
		ts := c.declTargets(m)
		v := c.expr(rhs, vm.ListContext)
		c.materialize(ts, true)
		regs := make([]int, len(ts))
		for i, t := range ts {
			regs[i] = t.reg
		}
		r := c.alloc()
		c.emit(vm.OpListAssign, m.Pos(), append([]int{r, v, len(regs)}, regs...)...)
		c.bind(ts)
		if ctx == vm.ScalarContext {
			return r
		}
		return c.declValue(m, ts, ctx)
	}
	ts := c.declTargets(m)
	t := ts[0]
	var v int
	switch t.v.Sigil {
	case '@', '%':
		v = c.expr(rhs, vm.ListContext)
	default:
		v = c.scalar(rhs)
	}
	c.materialize(ts, true)
	switch t.v.Sigil {
	case '@':
		c.emit(vm.OpArrayAssign, m.Pos(), t.reg, v)
	case '%':
		c.emit(vm.OpHashAssign, m.Pos(), t.reg, v)
	default:
		c.emit(vm.OpSet, m.Pos(), t.reg, v)
	}
	c.bind(ts)
	return c.inContext(t.reg, ctx, m.Pos())
}

// listAssign distributes the right-hand list over the targets. In scalar
// context the value is the number of right-hand elements.
func (c *compiler) listAssign(pos int, items []Expr, rhs Expr, ctx vm.Context) int {
	v := c.expr(rhs, vm.ListContext)
	var regs []int
	var pending []*declTarget
	for _, it := range items {
		switch t := it.(type) {
		case *UndefLit:
			r := c.alloc()
			c.emit(vm.OpLoadUndef, -1, r)
			regs = append(regs, r)
		case *MyExpr:
			if t.Decl == "state" {
				c.errorf(t.Pos(), "Initialization of state variables in list currently forbidden")
			}
			ts := c.declTargets(t)
			c.materialize(ts, true)
			for _, d := range ts {
				regs = append(regs, d.reg)
			}
			pending = append(pending, ts...)
		default:
			regs = append(regs, c.lvalue(it))
		}
	}
	r := c.alloc()
	c.emit(vm.OpListAssign, pos, append([]int{r, v, len(regs)}, regs...)...)
	c.bind(pending)
	if ctx == vm.ScalarContext || ctx == vm.VoidContext {
		return r
	}
	l := c.alloc()
	c.emit(vm.OpList, -1, append([]int{l, len(regs)}, regs...)...)
	return l
}

func (c *compiler) compoundAssign(x *AssignExpr) int {
	e := c.fs.e
	switch x.Op {
	case "||=", "&&=", "//=":
		l := c.lvalue(x.Left)
		end := e.newLabel()
		switch x.Op {
		case "||=":
			e.jump(vm.OpJumpIfTrue, x.Pos(), end, l)
		case "&&=":
			e.jump(vm.OpJumpIfFalse, x.Pos(), end, l)
		default:
			e.jump(vm.OpJumpIfDefined, x.Pos(), end, l)
		}
		c.emit(vm.OpSet, x.Pos(), l, c.scalar(x.Right))
		e.mark(end)
		return l
	}
	op, ok := binaryOps[strings.TrimSuffix(x.Op, "=")]
	if !ok {
		c.errorf(x.Pos(), "Unsupported operator %s", x.Op)
	}
	if sigilOf(x.Left) != '$' {
		c.errorf(x.Pos(), "Can't modify %s in %s", describe(x.Left), x.Op)
	}
	l := c.lvalue(x.Left)
	v := c.scalar(x.Right)
	t := c.alloc()
	c.emit(op, x.Pos(), t, l, v)
	c.emit(vm.OpSet, x.Pos(), l, t)
	return l
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

func (c *compiler) binary(x *BinaryExpr, ctx vm.Context) int {
	if l, ok := x.Left.(*ListExpr); ok && x.Op == "x" && (ctx == vm.ListContext || ctx == vm.RuntimeContext) {
		items := c.listOf(l.Pos(), l.Items)
		n := c.scalar(x.Right)
		r := c.alloc()
		c.emit(vm.OpRepeatList, x.Pos(), r, items, n)
		return r
	}
	if x.Op == "xor" {
		a := c.scalar(x.Left)
		b := c.scalar(x.Right)
		na, nb := c.alloc(), c.alloc()
		c.emit(vm.OpNot, x.Pos(), na, a)
		c.emit(vm.OpNot, x.Pos(), nb, b)
		r := c.alloc()
		c.emit(vm.OpNumNe, x.Pos(), r, na, nb)
		return r
	}
	op, ok := binaryOps[x.Op]
	if !ok {
		c.errorf(x.Pos(), "Unsupported operator %s", x.Op)
	}
	a := c.scalar(x.Left)
	b := c.scalar(x.Right)
	r := c.alloc()
	c.emit(op, x.Pos(), r, a, b)
	return r
}

// logical compiles a short-circuit operator. The value is whichever
// operand decided the result.
func (c *compiler) logical(x *LogicalExpr, ctx vm.Context) int {
	e := c.fs.e
	rctx := ctx
	if rctx == vm.VoidContext {
		rctx = vm.ScalarContext
	}
	dest := c.alloc()
	l := c.scalar(x.Left)
	c.emit(vm.OpMove, -1, dest, l)
	end := e.newLabel()
	switch x.Op {
	case "&&":
		e.jump(vm.OpJumpIfFalse, x.Pos(), end, l)
	case "||":
		e.jump(vm.OpJumpIfTrue, x.Pos(), end, l)
	case "//":
		e.jump(vm.OpJumpIfDefined, x.Pos(), end, l)
	default:
		c.errorf(x.Pos(), "Unsupported operator %s", x.Op)
	}
	if r := c.expr(x.Right, rctx); r >= 0 {
		c.emit(vm.OpMove, -1, dest, r)
	}
	e.mark(end)
	return dest
}

func (c *compiler) unary(x *UnaryExpr) int {
	switch x.Op {
	case "!":
		v := c.scalar(x.X)
		r := c.alloc()
		c.emit(vm.OpNot, x.Pos(), r, v)
		return r
	case "-":
		if n, ok := foldNegative(x.X); ok {
			return c.number(n.(*NumLit))
		}
		if s, ok := x.X.(*StrLit); ok {
			return c.loadStr("-" + s.Value)
		}
		v := c.scalar(x.X)
		r := c.alloc()
		c.emit(vm.OpNeg, x.Pos(), r, v)
		return r
	case "+":
		return c.scalar(x.X)
	}
	c.errorf(x.Pos(), "Unsupported operator %s", x.Op)
	return -1
}

func (c *compiler) incDec(x *IncDecExpr, ctx vm.Context) int {
	if sigilOf(x.X) != '$' {
		c.errorf(x.Pos(), "Can't modify %s in %s", describe(x.X), x.Op)
	}
	l := c.lvalue(x.X)
	if x.Prefix || ctx == vm.VoidContext {
		op := vm.OpInc
		if x.Op == "--" {
			op = vm.OpDec
		}
		c.emit(op, x.Pos(), l)
		return l
	}
	op := vm.OpPostInc
	if x.Op == "--" {
		op = vm.OpPostDec
	}
	r := c.alloc()
	c.emit(op, x.Pos(), r, l)
	return r
}

func (c *compiler) ternary(x *TernaryExpr, ctx vm.Context) int {
	e := c.fs.e
	bctx := ctx
	if bctx == vm.VoidContext {
		bctx = vm.ScalarContext
	}
	dest := c.alloc()
	cond := c.scalar(x.Cond)
	other, end := e.newLabel(), e.newLabel()
	e.jump(vm.OpJumpIfFalse, x.Pos(), other, cond)
	c.emit(vm.OpMove, -1, dest, c.expr(x.Then, bctx))
	e.jump(vm.OpJump, -1, end)
	e.mark(other)
	c.emit(vm.OpMove, -1, dest, c.expr(x.Else, bctx))
	e.mark(end)
	return dest
}

// list compiles a parenthesized list. In scalar context it is the comma
// operator: every item is evaluated and the last one is the value.
func (c *compiler) list(x *ListExpr, ctx vm.Context) int {
	if ctx == vm.ScalarContext || ctx == vm.VoidContext {
		if len(x.Items) == 0 {
			return c.emptyValue(ctx)
		}
		for _, it := range x.Items[:len(x.Items)-1] {
			c.expr(it, vm.VoidContext)
		}
		return c.expr(x.Items[len(x.Items)-1], ctx)
	}
	return c.listOf(x.Pos(), x.Items)
}

// listOf evaluates items in list context and gathers them into one list.
func (c *compiler) listOf(pos int, items []Expr) int {
	regs := make([]int, len(items))
	for i, it := range items {
		regs[i] = c.expr(it, vm.ListContext)
	}
	r := c.alloc()
	c.emit(vm.OpList, -1, append([]int{r, len(regs)}, regs...)...)
	return r
}

// ref compiles the backslash operator.
func (c *compiler) ref(x *RefExpr) int {
	var target int
	switch t := x.X.(type) {
	case *VarRef:
		switch t.Sigil {
		case '&':
			target = c.codeSlot(t)
		default:
			target = c.lvalue(t)
		}
	case *ElemExpr, *HelemExpr:
		target = c.lvalue(t)
	case *DerefExpr:
		switch t.Sigil {
		case '&':
			ref := c.scalar(t.Ref)
			target = c.alloc()
			c.emit(vm.OpDerefCode, t.Pos(), target, ref)
		default:
			target = c.lvalue(t)
		}
	case *MyExpr:
		if len(t.Vars) != 1 || t.Paren {
			c.errorf(t.Pos(), "Can't take a reference to a list declaration")
		}
		target = c.declaration(t, vm.ListContext)
	case *ListExpr:
		if len(t.Items) != 1 {
			c.errorf(t.Pos(), "Can't take a reference to a list")
		}
		return c.ref(&RefExpr{at: x.at, X: t.Items[0]})
	case *AnonSub:
		return c.expr(t, vm.ScalarContext)
	default:
		target = c.scalar(t)
	}
	r := c.alloc()
	c.emit(vm.OpRef, x.Pos(), r, target)
	return r
}

// ---------------------------------------------------------------------------
// Eval
// ---------------------------------------------------------------------------

// evalBlock compiles eval BLOCK. A failure inside the body unwinds to the
// handler, which leaves undef as the value and the message in $@.
func (c *compiler) evalBlock(x *EvalBlock, ctx vm.Context) int {
	e := c.fs.e
	dest := c.alloc()
	mark := c.dynMark(hasLocal(x.Body, true))
	done := e.newLabel()
	e.jump(vm.OpEnterTry, x.Pos(), done, dest)
	c.fs.tries++
	ev := &evalState{dest: dest, ctx: ctx, tries: c.fs.tries, exit: e.newLabel()}
	c.fs.evals = append(c.fs.evals, ev)
	if v := c.blockValue(x.Body, ctx, true); v >= 0 {
		c.emit(vm.OpMove, -1, dest, v)
	} else if ctx != vm.VoidContext {
		c.emit(vm.OpLoadUndef, -1, dest)
	}
	c.fs.evals = c.fs.evals[:len(c.fs.evals)-1]
	c.fs.tries--
	e.mark(ev.exit)
	c.emit(vm.OpLeaveTry, -1)
	e.mark(done)
	c.dynRestore(mark)
	if ctx == vm.VoidContext {
		return -1
	}
	return dest
}

// evalString compiles eval EXPR. The site records the lexical environment
// the text is compiled in when it runs.
func (c *compiler) evalString(x *EvalStr) int {
	var src int
	if x.Src == nil {
		src = c.topic(x.Pos())
	} else {
		src = c.scalar(x.Src)
	}
	names, regs := c.visible()
	e := c.fs.e
	site := len(e.sites)
	e.sites = append(e.sites, vm.EvalSite{
		Names:   names,
		Regs:    regs,
		Pragmas: c.pragmas().Clone(),
		Package: c.pkg(),
		Ours:    c.visibleOurs(),
	})
	r := c.alloc()
	c.emit(vm.OpEvalString, x.Pos(), r, src, site)
	return r
}

// ---------------------------------------------------------------------------
// Patterns
// ---------------------------------------------------------------------------

// pattern compiles the pattern operand of a match. Flags are applied with
// a qr; a pattern without flags is compiled from its string at match time.
func (c *compiler) pattern(pos int, p Expr, flags string) int {
	if flags == "" {
		return c.scalar(p)
	}
	return c.qr(pos, p, flags)
}

func (c *compiler) qr(pos int, p Expr, flags string) int {
	s := c.scalar(p)
	r := c.alloc()
	c.emit(vm.OpQr, pos, r, s, c.fs.e.str(flags))
	return r
}

func (c *compiler) match(x *MatchExpr, ctx vm.Context) int {
	var target int
	if x.Target == nil {
		target = c.topic(x.Pos())
	} else {
		target = c.scalar(x.Target)
	}
	pat := c.pattern(x.Pos(), x.Pattern, x.Flags)
	mctx := ctx
	if x.Negate || ctx == vm.VoidContext {
		mctx = vm.ScalarContext
	}
	r := c.alloc()
	c.emit(vm.OpMatch, x.Pos(), r, target, pat, int(mctx))
	if !x.Negate {
		return r
	}
	n := c.alloc()
	c.emit(vm.OpNot, x.Pos(), n, r)
	return n
}

// subst compiles s///. The replacement becomes a closure run once per
// match, after the capture variables are set.
func (c *compiler) subst(x *MatchExpr) int {
	var target int
	if x.Target == nil {
		target = c.topic(x.Pos())
	} else {
		target = c.lvalue(x.Target)
	}
	pat := c.qr(x.Pos(), x.Pattern, x.Flags)
	body := &Block{at: at(x.Replacement.Pos()), Stmts: []Stmt{&ExprStmt{at: at(x.Replacement.Pos()), X: x.Replacement}}}
	repl := c.closure(x.Pos(), qualify("__ANON__", c.pkg()), body)
	r := c.alloc()
	c.emit(vm.OpCallBuiltin, x.Pos(), r, c.fs.e.str("subst"), int(vm.ScalarContext), 3, target, pat, repl)
	if !x.Negate {
		return r
	}
	n := c.alloc()
	c.emit(vm.OpNot, x.Pos(), n, r)
	return n
}

// ---------------------------------------------------------------------------
// Return and goto
// ---------------------------------------------------------------------------

// returnExpr leaves the innermost eval block, or else the unit. The value
// is evaluated in the context the unit was called in.
func (c *compiler) returnExpr(x *ReturnExpr) {
	fs := c.fs
	if n := len(fs.evals); n > 0 {
		ev := fs.evals[n-1]
		if x.Value != nil {
			if v := c.expr(x.Value, ev.ctx); v >= 0 && ev.ctx != vm.VoidContext {
				c.emit(vm.OpMove, -1, ev.dest, v)
			}
		} else if ev.ctx != vm.VoidContext {
			c.emit(vm.OpMove, -1, ev.dest, c.emptyValue(ev.ctx))
		}
		for i := fs.tries - ev.tries; i > 0; i-- {
			c.emit(vm.OpPopTry, -1)
		}
		fs.e.jump(vm.OpJump, -1, ev.exit)
		return
	}
	var v int
	if x.Value == nil {
		v = c.emptyValue(vm.ListContext)
	} else {
		v = c.expr(x.Value, vm.RuntimeContext)
	}
	c.emit(vm.OpReturn, x.Pos(), v)
}

// gotoSub compiles goto &sub: the target runs with the current @_ and its
// result is returned as the caller's.
func (c *compiler) gotoSub(x *GotoSub) {
	r := c.alloc()
	if v, ok := x.Target.(*VarRef); ok && v.Sigil == '&' {
		c.emit(vm.OpCallNamed, x.Pos(), r, c.fs.e.str(qualify(v.Name, c.pkg())), vm.RegArgs, int(vm.RuntimeContext))
	} else {
		code := c.scalar(x.Target)
		c.emit(vm.OpCall, x.Pos(), r, code, vm.RegArgs, int(vm.RuntimeContext))
	}
	c.emit(vm.OpReturn, x.Pos(), r)
}
