package compiler

import "github.com/fglock/perlcore/vm"

// loopState is an enclosing loop that last, next and redo can reach with a
// plain jump.
type loopState struct {
	label            string
	next, last, redo *label
	mark             int // dynamic-scope mark restored on exit, or -1
	tries            int // handler depth at loop entry
	start            int
}

func (c *compiler) enterLoop(name string, mark int) *loopState {
	e := c.fs.e
	l := &loopState{
		label: name,
		next:  e.newLabel(),
		last:  e.newLabel(),
		redo:  e.newLabel(),
		mark:  mark,
		tries: c.fs.tries,
		start: e.pc(),
	}
	c.fs.loops = append(c.fs.loops, l)
	return l
}

// leaveLoop pops l and records its range so transfers returned by calls
// made inside the loop land on its targets.
func (c *compiler) leaveLoop(l *loopState) {
	fs := c.fs
	fs.loops = fs.loops[:len(fs.loops)-1]
	fs.e.loops = append(fs.e.loops, vm.Loop{
		Label:    l.label,
		Start:    l.start,
		End:      fs.e.pc(),
		Next:     l.next.pos,
		Last:     l.last.pos,
		Redo:     l.redo.pos,
		MarkReg:  l.mark,
		TryDepth: l.tries,
	})
}

// loopControl compiles last, next or redo. A loop of this unit is reached
// directly; otherwise the transfer is returned to the caller.
func (c *compiler) loopControl(x *LoopCtlExpr) {
	fs := c.fs
	e := fs.e
	var kind vm.Transfer
	switch x.Op {
	case "last":
		kind = vm.TransferLast
	case "next":
		kind = vm.TransferNext
	default:
		kind = vm.TransferRedo
	}
	for i := len(fs.loops) - 1; i >= 0; i-- {
		l := fs.loops[i]
		if x.Label != "" && l.label != x.Label {
			continue
		}
		for n := fs.tries - l.tries; n > 0; n-- {
			c.emit(vm.OpPopTry, -1)
		}
		c.dynRestore(l.mark)
		switch kind {
		case vm.TransferLast:
			e.jump(vm.OpJump, -1, l.last)
		case vm.TransferNext:
			e.jump(vm.OpJump, -1, l.next)
		default:
			e.jump(vm.OpJump, -1, l.redo)
		}
		return
	}
	name := -1
	if x.Label != "" {
		name = e.str(x.Label)
	}
	c.emit(vm.OpControl, x.Pos(), int(kind), name)
}

// whileStmt compiles the condition after the body: the loop enters with a
// jump to the test, which branches back to the body while it holds.
func (c *compiler) whileStmt(s *WhileStmt) {
	if s.PostCond {
		c.doWhile(s)
		return
	}
	e := c.fs.e
	mark := c.dynMark(hasLocal(s.Body, true) || (s.Continue != nil && hasLocal(s.Continue, true)))
	c.pushScope()
	c.reserveDecls(s.Cond)
	l := c.enterLoop(s.Label, mark)
	check := e.newLabel()
	e.jump(vm.OpJump, -1, check)
	e.mark(l.redo)
	c.block(s.Body)
	e.mark(l.next)
	if s.Continue != nil {
		c.block(s.Continue)
	}
	e.mark(check)
	if s.Cond != nil {
		cond := c.scalar(s.Cond)
		op := vm.OpJumpIfTrue
		if s.Until {
			op = vm.OpJumpIfFalse
		}
		e.jump(op, s.Pos(), l.redo, cond)
	} else {
		e.jump(vm.OpJump, -1, l.redo)
	}
	e.mark(l.last)
	c.leaveLoop(l)
	c.popScope()
}

// doWhile compiles do BLOCK while COND, which runs the body before the
// first test and is not a loop for last and next.
func (c *compiler) doWhile(s *WhileStmt) {
	e := c.fs.e
	top := e.here()
	c.block(s.Body)
	cond := c.scalar(s.Cond)
	op := vm.OpJumpIfTrue
	if s.Until {
		op = vm.OpJumpIfFalse
	}
	e.jump(op, s.Pos(), top, cond)
}

func (c *compiler) forStmt(s *ForStmt) {
	e := c.fs.e
	mark := c.dynMark(hasLocal(s.Body, true))
	c.pushScope()
	if s.Init != nil {
		c.expr(s.Init, vm.VoidContext)
	}
	c.reserveDecls(s.Cond)
	l := c.enterLoop(s.Label, mark)
	check := e.newLabel()
	e.jump(vm.OpJump, -1, check)
	e.mark(l.redo)
	c.block(s.Body)
	e.mark(l.next)
	if s.Step != nil {
		c.expr(s.Step, vm.VoidContext)
	}
	e.mark(check)
	if s.Cond != nil {
		cond := c.scalar(s.Cond)
		e.jump(vm.OpJumpIfTrue, s.Pos(), l.redo, cond)
	} else {
		e.jump(vm.OpJump, -1, l.redo)
	}
	e.mark(l.last)
	c.leaveLoop(l)
	c.popScope()
}

// reserveDecls binds the my variables declared in a loop condition before
// the body is compiled, since the condition's code follows the body. The
// declaration still creates a fresh container each time the test runs.
func (c *compiler) reserveDecls(cond Expr) {
	if cond == nil {
		return
	}
	walk(cond, false, func(n Node) bool {
		m, ok := n.(*MyExpr)
		if !ok || m.Decl != "my" {
			return true
		}
		for _, x := range m.Vars {
			v, ok := x.(*VarRef)
			if !ok {
				continue
			}
			if _, ok := c.fs.pinned[v]; ok {
				c.declare(v.Pos(), v.FullName(), c.fs.pinned[v])
				continue
			}
			r := c.alloc()
			c.fs.reserved[v] = r
			c.declare(v.Pos(), v.FullName(), r)
		}
		return false
	})
}

// foreachStmt aliases the loop variable to each element in turn. A package
// variable is localized for the duration of the loop; an existing
// lexical gets its own binding back when the loop ends.
func (c *compiler) foreachStmt(s *ForeachStmt) {
	e := c.fs.e
	list := c.foreachList(s.List)
	it := c.alloc()
	c.emit(vm.OpIterInit, s.Pos(), it, list)

	global := ""
	v, saved, outer := -1, -1, -1
	switch {
	case s.Var == nil:
		global = "main::_"
	case s.My == "my" || s.My == "state":
		if s.Var.Sigil != '$' {
			c.errorf(s.Pos(), "Missing $ on loop variable")
		}
		v = c.alloc()
	case s.My == "our":
		global = qualify(s.Var.Name, c.pkg())
	default:
		b := c.resolve(s.Var)
		if b.lexical() {
			outer = b.reg
			saved = c.alloc()
			c.emit(vm.OpMove, -1, saved, outer)
			v = outer
		} else {
			global = b.global
		}
	}
	mark := c.dynMark(global != "" || hasLocal(s.Body, true))
	if global != "" {
		v = c.alloc()
	}

	c.pushScope()
	switch s.My {
	case "my", "state":
		c.declare(s.Var.Pos(), s.Var.FullName(), v)
	case "our":
		c.declareOur(s.Var.FullName(), global)
	}
	l := c.enterLoop(s.Label, mark)
	check := e.newLabel()
	e.jump(vm.OpJump, -1, check)
	body := e.here()
	if global != "" {
		c.emit(vm.OpDynRestore, -1, mark)
		c.emit(vm.OpAliasGlobal, s.Pos(), e.str(global), v)
	}
	e.mark(l.redo)
	c.block(s.Body)
	e.mark(l.next)
	e.mark(check)
	e.jump(vm.OpIterNext, s.Pos(), body, v, it)
	e.mark(l.last)
	c.leaveLoop(l)
	c.popScope()
	if global != "" {
		c.emit(vm.OpDynRestore, -1, mark)
	}
	if saved >= 0 {
		c.emit(vm.OpMove, -1, outer, saved)
	}
}

// foreachList compiles the list a foreach iterates. Dereferenced arrays
// autovivify so the loop can run over an undef reference.
func (c *compiler) foreachList(x Expr) int {
	if d, ok := x.(*DerefExpr); ok && d.Sigil == '@' {
		return c.arrayBase(d, true)
	}
	return c.expr(x, vm.ListContext)
}

// bareBlock compiles a block statement as a loop that runs once: next and
// last leave it and redo starts it again.
func (c *compiler) bareBlock(s *BareBlock) {
	e := c.fs.e
	mark := c.dynMark(hasLocal(s.Body, true))
	l := c.enterLoop(s.Label, mark)
	e.mark(l.redo)
	c.block(s.Body)
	e.mark(l.next)
	e.mark(l.last)
	c.leaveLoop(l)
	c.dynRestore(mark)
}
