package compiler

import (
	"github.com/fglock/perlcore/vm"
)

// Named subs are defined when their unit starts, before any statement
// runs, so they can be called ahead of their declaration. A my variable a
// named sub captures is pinned: its register is reserved for the whole
// unit and its container created up front, and the declaration later
// reuses it instead of creating a fresh one.

type hoistedSub struct {
	decl     *SubDecl
	name     string
	pragmas  vm.Pragmas
	pkg      string
	captures []hoistCapture
	ours     map[string]string
}

type hoistCapture struct {
	name string
	reg  int     // capture slot of the enclosing unit, or -1
	site *VarRef // pinned declaration, or nil
}

type planVar struct {
	site   *VarRef // my declaration that can be pinned
	reg    int     // register known before the unit body runs, or -1
	global string  // our alias
}

type planScope struct {
	parent  *planScope
	vars    map[string]planVar
	pkg     string
	pragmas vm.Pragmas
}

// planner finds the named subs of one unit and the variables they pin.
type planner struct {
	cur    *planScope
	subs   []*hoistedSub
	pins   []*VarRef
	pinned map[*VarRef]bool
}

func newPlanner(fs *funcState) *planner {
	root := &planScope{vars: make(map[string]planVar), pkg: fs.scope.pkg, pragmas: fs.scope.pragmas.Clone()}
	for name, b := range fs.scope.vars {
		if b.lexical() {
			root.vars[name] = planVar{reg: b.reg}
		} else {
			root.vars[name] = planVar{reg: -1, global: b.global}
		}
	}
	return &planner{cur: root, pinned: make(map[*VarRef]bool)}
}

func (pl *planner) push() {
	pl.cur = &planScope{parent: pl.cur, vars: make(map[string]planVar), pkg: pl.cur.pkg, pragmas: pl.cur.pragmas.Clone()}
}

func (pl *planner) pop() { pl.cur = pl.cur.parent }

func (pl *planner) find(name string) (planVar, bool) {
	for s := pl.cur; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return planVar{}, false
}

func (pl *planner) node(n Node) {
	switch x := n.(type) {
	case *Block:
		if !x.Inline {
			pl.push()
			defer pl.pop()
		}
	case *IfStmt, *WhileStmt, *ForStmt:
		pl.push()
		defer pl.pop()
	case *ForeachStmt:
		pl.node(x.List)
		pl.push()
		defer pl.pop()
		switch {
		case x.Var == nil || x.My == "":
		case x.My == "our":
			pl.cur.vars[x.Var.FullName()] = planVar{reg: -1, global: qualify(x.Var.Name, pl.cur.pkg)}
		default:
			pl.cur.vars[x.Var.FullName()] = planVar{reg: -1}
		}
		pl.node(x.Body)
		return
	case *PackageDecl:
		if x.Body == nil {
			pl.cur.pkg = x.Name
			return
		}
		pl.push()
		pl.cur.pkg = x.Name
		pl.node(x.Body)
		pl.pop()
		return
	case *UseStmt:
		applyPragma(&pl.cur.pragmas, x)
		return
	case *SubDecl:
		if x.Body != nil {
			pl.hoist(x)
		}
		return
	case *AnonSub:
		return
	case *MyExpr:
		for _, v := range x.Vars {
			vr, ok := v.(*VarRef)
			if !ok {
				pl.node(v)
				continue
			}
			switch x.Decl {
			case "my":
				pl.cur.vars[vr.FullName()] = planVar{site: vr, reg: -1}
			case "state":
				pl.cur.vars[vr.FullName()] = planVar{reg: -1}
			case "our":
				pl.cur.vars[vr.FullName()] = planVar{reg: -1, global: qualify(vr.Name, pl.cur.pkg)}
			}
		}
		return
	}
	for _, c := range children(n, false) {
		pl.node(c)
	}
}

// hoist records d along with the bindings it captures from the
// declaration point.
func (pl *planner) hoist(d *SubDecl) {
	h := &hoistedSub{
		decl:    d,
		name:    qualify(d.Name, pl.cur.pkg),
		pragmas: pl.cur.pragmas.Clone(),
		pkg:     pl.cur.pkg,
		ours:    make(map[string]string),
	}
	var names []string
	if containsEvalString(d.Body) {
		names = pl.visibleNames()
	} else {
		names = freeVars(d.Body)
	}
	for _, name := range names {
		v, ok := pl.find(name)
		if !ok {
			continue
		}
		switch {
		case v.global != "":
			h.ours[name] = v.global
		case v.site != nil:
			if !pl.pinned[v.site] {
				pl.pinned[v.site] = true
				pl.pins = append(pl.pins, v.site)
			}
			h.captures = append(h.captures, hoistCapture{name: name, reg: -1, site: v.site})
		default:
			h.captures = append(h.captures, hoistCapture{name: name, reg: v.reg})
		}
	}
	pl.subs = append(pl.subs, h)
}

func (pl *planner) visibleNames() []string {
	seen := make(map[string]bool)
	var names []string
	for s := pl.cur; s != nil; s = s.parent {
		for name := range s.vars {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// hoist defines the named subs of body at the current position, which is
// the start of the unit.
func (c *compiler) hoist(body *Block) {
	pl := newPlanner(c.fs)
	pl.node(body)
	if len(pl.subs) == 0 {
		return
	}
	fs := c.fs
	for _, site := range pl.pins {
		r := c.alloc()
		fs.pinned[site] = r
		c.emit(newContainerOp(site.Sigil), site.Pos(), r)
	}
	base := fs.next
	for _, h := range pl.subs {
		fs.hoisted[h.decl] = true
		c.pos = h.decl.Pos()
		names := make([]string, len(h.captures))
		for i, cp := range h.captures {
			names[i] = cp.name
		}
		unit := c.compileSub(h.name, h.decl.Body, names, h.ours, h.pkg, h.pragmas)
		regs := make([]int, len(h.captures))
		for i, cp := range h.captures {
			switch {
			case cp.site != nil:
				regs[i] = fs.pinned[cp.site]
			case cp.reg >= 0:
				regs[i] = cp.reg
			default:
				regs[i] = c.alloc()
				c.emit(newContainerOp(cp.name[0]), h.decl.Pos(), regs[i])
			}
		}
		r := c.alloc()
		k := fs.e.constUnit(unit)
		c.emit(vm.OpMakeClosure, h.decl.Pos(), append([]int{r, k, len(regs)}, regs...)...)
		c.emit(vm.OpDefineSub, h.decl.Pos(), fs.e.str(h.name), r)
		fs.next = base
	}
	fs.scope.entry = base
}

// newContainerOp returns the declaration opcode for a sigil.
func newContainerOp(sigil byte) vm.Opcode {
	switch sigil {
	case '@':
		return vm.OpNewArray
	case '%':
		return vm.OpNewHash
	}
	return vm.OpNewScalar
}
