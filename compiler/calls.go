package compiler

import (
	"strings"

	"github.com/fglock/perlcore/vm"
)

// builtinNames are the functions compiled as builtins rather than sub
// calls. A named sub of the same name is reachable with &name.
var builtinNames = map[string]bool{
	"print": true, "say": true, "printf": true, "warn": true, "die": true,
	"join": true, "push": true, "unshift": true, "pop": true, "shift": true,
	"keys": true, "values": true, "reverse": true, "sort": true, "map": true,
	"grep": true, "length": true, "uc": true, "lc": true, "ucfirst": true,
	"lcfirst": true, "chr": true, "ord": true, "abs": true, "int": true,
	"sqrt": true, "defined": true, "undef": true, "ref": true, "sprintf": true,
	"substr": true, "index": true, "rindex": true, "split": true, "chomp": true,
	"chop": true, "hex": true, "oct": true, "exit": true, "scalar": true,
	"wantarray": true, "exists": true, "delete": true,
}

// topicDefault lists the unary builtins that operate on $_ when called
// without an argument.
var topicDefault = map[string]bool{
	"length": true, "uc": true, "lc": true, "ucfirst": true, "lcfirst": true,
	"chr": true, "ord": true, "abs": true, "int": true, "sqrt": true,
	"ref": true, "hex": true, "oct": true,
}

func (c *compiler) call(x *FuncCall, ctx vm.Context) int {
	name := x.Name
	if strings.HasPrefix(name, "CORE::") {
		name = strings.TrimPrefix(name, "CORE::")
	} else if x.Amp || !builtinNames[name] {
		return c.subCall(x, ctx)
	}
	pos := x.Pos()
	switch name {
	case "scalar":
		if len(x.Args) != 1 {
			c.errorf(pos, "Not enough arguments for scalar")
		}
		return c.scalar(x.Args[0])
	case "wantarray":
		r := c.alloc()
		c.emit(vm.OpWantArray, pos, r)
		return r
	case "die":
		l := c.listOf(pos, x.Args)
		c.emit(vm.OpDie, pos, l)
		return c.emptyValue(ctx)
	case "exists", "delete":
		return c.elementOp(x, name)
	}
	return c.builtin(pos, name, ctx, c.builtinArgs(x, name))
}

// builtin emits a builtin call over already compiled argument registers.
func (c *compiler) builtin(pos int, name string, ctx vm.Context, args []int) int {
	r := c.alloc()
	c.emit(vm.OpCallBuiltin, pos, append([]int{r, c.fs.e.str(name), int(ctx), len(args)}, args...)...)
	return r
}

// builtinArgs compiles the arguments of a builtin in the shape the runtime
// expects for it.
func (c *compiler) builtinArgs(x *FuncCall, name string) []int {
	pos := x.Pos()
	args := x.Args
	switch name {
	case "print", "say", "printf":
		regs := []int{c.loadStr(x.FH)}
		if len(args) == 0 && name != "printf" {
			return append(regs, c.topic(pos))
		}
		return append(regs, c.exprs(args, vm.ListContext)...)
	case "sort":
		regs := []int{c.loadStr(c.pkg())}
		switch {
		case x.Block != nil:
			regs = append(regs, c.closure(pos, qualify("__ANON__", c.pkg()), x.Block))
		case x.Cmp != nil:
			regs = append(regs, c.scalar(x.Cmp))
		default:
			r := c.alloc()
			c.emit(vm.OpLoadUndef, -1, r)
			regs = append(regs, r)
		}
		return append(regs, c.exprs(args, vm.ListContext)...)
	case "map", "grep":
		regs := []int{c.closure(pos, qualify("__ANON__", c.pkg()), x.Block)}
		return append(regs, c.exprs(args, vm.ListContext)...)
	case "push", "unshift":
		if len(args) == 0 {
			c.errorf(pos, "Not enough arguments for %s", name)
		}
		regs := []int{c.arrayBase(args[0], true)}
		return append(regs, c.exprs(args[1:], vm.ListContext)...)
	case "pop", "shift":
		if len(args) == 0 {
			return []int{c.defaultArray(pos)}
		}
		return []int{c.arrayBase(args[0], true)}
	case "keys", "values":
		if len(args) != 1 {
			c.errorf(pos, "Not enough arguments for %s", name)
		}
		if sigilOf(args[0]) == '@' {
			return []int{c.arrayBase(args[0], true)}
		}
		return []int{c.hashBase(args[0], true)}
	case "defined":
		if len(args) == 0 {
			return []int{c.topic(pos)}
		}
		return []int{c.definedArg(args[0])}
	case "undef":
		if len(args) == 0 {
			return nil
		}
		return []int{c.lvalue(args[0])}
	case "chomp", "chop":
		if len(args) == 0 {
			return []int{c.topic(pos)}
		}
		return []int{c.lvalue(args[0])}
	case "split":
		return c.splitArgs(x)
	case "join", "reverse", "sprintf", "warn":
		return c.exprs(args, vm.ListContext)
	case "exit":
		return c.exprs(args, vm.ScalarContext)
	}
	if topicDefault[name] && len(args) == 0 {
		return []int{c.topic(pos)}
	}
	return c.exprs(args, vm.ScalarContext)
}

func (c *compiler) exprs(xs []Expr, ctx vm.Context) []int {
	regs := make([]int, len(xs))
	for i, x := range xs {
		regs[i] = c.expr(x, ctx)
	}
	return regs
}

// defaultArray is the array shift and pop use without an argument: @_
// inside a sub, @ARGV elsewhere.
func (c *compiler) defaultArray(pos int) int {
	if c.fs.inSub {
		return vm.RegArgs
	}
	return c.global(vm.OpGlobalArray, pos, "main::ARGV")
}

// definedArg compiles the operand of defined without flattening it, so
// aggregates and sub slots can be tested.
func (c *compiler) definedArg(x Expr) int {
	switch a := x.(type) {
	case *VarRef:
		switch a.Sigil {
		case '&':
			return c.codeSlot(a)
		case '@':
			return c.arrayVar(a)
		case '%':
			return c.hashVar(a)
		}
	case *DerefExpr:
		if a.Sigil == '@' || a.Sigil == '%' {
			return c.expr(a, vm.ListContext)
		}
	}
	return c.scalar(x)
}

// splitArgs compiles split PATTERN, STRING, LIMIT. A match operator as the
// pattern supplies its regex rather than being run.
func (c *compiler) splitArgs(x *FuncCall) []int {
	pos := x.Pos()
	if len(x.Args) == 0 {
		return []int{c.loadStr(" "), c.topic(pos)}
	}
	var regs []int
	switch p := x.Args[0].(type) {
	case *MatchExpr:
		if p.Target != nil || p.Subst {
			regs = append(regs, c.scalar(p))
		} else {
			regs = append(regs, c.qr(p.Pos(), p.Pattern, p.Flags))
		}
	default:
		regs = append(regs, c.scalar(p))
	}
	if len(x.Args) > 1 {
		regs = append(regs, c.scalar(x.Args[1]))
	} else {
		regs = append(regs, c.topic(pos))
	}
	if len(x.Args) > 2 {
		regs = append(regs, c.scalar(x.Args[2]))
	}
	return regs
}

// elementOp compiles exists and delete on an array or hash element.
func (c *compiler) elementOp(x *FuncCall, name string) int {
	op := vm.OpExists
	if name == "delete" {
		op = vm.OpDelete
	}
	if len(x.Args) != 1 {
		c.errorf(x.Pos(), "Not enough arguments for %s", name)
	}
	var base, key int
	switch el := x.Args[0].(type) {
	case *HelemExpr:
		base = c.hashBase(el.Base, true)
		key = c.scalar(el.Key)
	case *ElemExpr:
		base = c.arrayBase(el.Base, true)
		key = c.scalar(el.Index)
	case *VarRef:
		if el.Sigil == '&' && name == "exists" {
			return c.builtin(x.Pos(), "defined", vm.ScalarContext, []int{c.codeSlot(el)})
		}
		c.errorf(x.Pos(), "%s argument is not a HASH or ARRAY element or a subroutine", name)
	case *FuncCall:
		if el.Amp && name == "exists" {
			return c.builtin(x.Pos(), "defined", vm.ScalarContext, []int{c.codeSlot(&VarRef{at: el.at, Sigil: '&', Name: el.Name})})
		}
		c.errorf(x.Pos(), "%s argument is not a HASH or ARRAY element or a subroutine", name)
	default:
		c.errorf(x.Pos(), "%s argument is not a HASH or ARRAY element", name)
	}
	r := c.alloc()
	c.emit(op, x.Pos(), r, base, key)
	return r
}

// args compiles a call's argument vector. The vector aliases the argument
// scalars; &name; passes the caller's @_ itself.
func (c *compiler) args(pos int, xs []Expr, current bool) int {
	if current {
		return vm.RegArgs
	}
	regs := c.exprs(xs, vm.ListContext)
	r := c.alloc()
	c.emit(vm.OpMakeArgs, pos, append([]int{r, len(regs)}, regs...)...)
	return r
}

// subCall calls a package sub by name. The name resolves when the call
// runs, so subs defined by eval text later are found.
func (c *compiler) subCall(x *FuncCall, ctx vm.Context) int {
	args := c.args(x.Pos(), x.Args, x.CurrentArgs)
	r := c.alloc()
	c.emit(vm.OpCallNamed, x.Pos(), r, c.fs.e.str(qualify(x.Name, c.pkg())), args, int(ctx))
	return r
}

func (c *compiler) dynCall(x *DynCall, ctx vm.Context) int {
	code := c.scalar(x.Code)
	args := c.args(x.Pos(), x.Args, x.CurrentArgs)
	r := c.alloc()
	c.emit(vm.OpCall, x.Pos(), r, code, args, int(ctx))
	return r
}
