package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fglock/perlcore/vm"
)

// DefaultMaxRegisters bounds the register file of a single unit.
const DefaultMaxRegisters = 65535

// binding is a name visible in a lexical scope: a register for my and
// state variables, or a package variable for our.
type binding struct {
	reg    int    // -1 for an our alias
	global string // qualified name of an our alias
}

func (b *binding) lexical() bool { return b.reg >= 0 }

// scope is one level of the lexical scope stack.
type scope struct {
	parent  *scope
	vars    map[string]*binding
	entry   int // register high-water mark when the scope was entered
	top     int // highest register declared in this scope, or -1
	pkg     string
	pragmas vm.Pragmas
}

// funcState is the compilation state of one unit: the main program, a
// sub body, or eval-string text.
type funcState struct {
	parent   *funcState
	name     string
	e        *emitter
	scope    *scope
	next     int // next free register
	max      int // register high-water mark
	loops    []*loopState
	tries    int // handlers pushed by enclosing eval blocks
	evals    []*evalState
	states   int
	captures []string
	inSub    bool
	pinned   map[*VarRef]int
	reserved map[*VarRef]int // loop condition declarations bound ahead of the body
	hoisted  map[*SubDecl]bool
	pkg      string
	pragmas  vm.Pragmas
}

// evalState tracks an open eval block so return inside it can leave it.
type evalState struct {
	dest  int
	ctx   vm.Context
	tries int // handler depth inside the eval
	exit  *label
}

func newFuncState(parent *funcState, name string, captures []string, pkg string, pragmas vm.Pragmas) *funcState {
	fs := &funcState{
		parent:   parent,
		name:     name,
		e:        newEmitter(),
		next:     vm.RegFirst + len(captures),
		captures: captures,
		pinned:   make(map[*VarRef]int),
		reserved: make(map[*VarRef]int),
		hoisted:  make(map[*SubDecl]bool),
		pkg:      pkg,
		pragmas:  pragmas.Clone(),
	}
	fs.max = fs.next
	fs.scope = &scope{vars: make(map[string]*binding), entry: fs.next, top: -1, pkg: pkg, pragmas: pragmas.Clone()}
	for i, name := range captures {
		fs.scope.vars[name] = &binding{reg: vm.RegFirst + i}
	}
	return fs
}

func (c *compiler) errorf(pos int, format string, args ...any) {
	panic(&CompileError{File: c.file, Line: c.source.Line(pos), Msg: fmt.Sprintf(format, args...)})
}

// ---------------------------------------------------------------------------
// Registers
// ---------------------------------------------------------------------------

// alloc reserves the next free register.
func (c *compiler) alloc() int {
	fs := c.fs
	r := fs.next
	fs.next++
	if fs.next > fs.max {
		fs.max = fs.next
	}
	if fs.max > c.opts.MaxRegisters {
		c.errorf(c.pos, "Too many registers in %s (limit %d); split the unit into smaller subs", fs.name, c.opts.MaxRegisters)
	}
	return r
}

func (c *compiler) pushScope() {
	fs := c.fs
	parent := fs.scope
	fs.scope = &scope{
		parent:  parent,
		vars:    make(map[string]*binding),
		entry:   fs.next,
		top:     -1,
		pkg:     parent.pkg,
		pragmas: parent.pragmas.Clone(),
	}
}

func (c *compiler) popScope() {
	fs := c.fs
	fs.next = fs.scope.entry
	fs.scope = fs.scope.parent
}

// recycle discards the temporaries of the statement just compiled. The
// registers of variables declared in the current scope stay reserved.
func (c *compiler) recycle() {
	s := c.fs.scope
	n := s.entry
	if s.top >= n {
		n = s.top + 1
	}
	c.fs.next = n
}

func (c *compiler) pkg() string         { return c.fs.scope.pkg }
func (c *compiler) pragmas() vm.Pragmas { return c.fs.scope.pragmas }

func (c *compiler) emit(op vm.Opcode, pos int, operands ...int) {
	c.fs.e.emit(op, pos, operands...)
}

// ---------------------------------------------------------------------------
// Names
// ---------------------------------------------------------------------------

// declare binds a lexical in the current scope.
func (c *compiler) declare(pos int, name string, reg int) {
	s := c.fs.scope
	if old, ok := s.vars[name]; ok && !old.lexical() {
		c.errorf(pos, "\"my\" variable %s masks earlier \"our\" declaration", name)
	}
	s.vars[name] = &binding{reg: reg}
	if reg > s.top && reg >= s.entry {
		s.top = reg
	}
}

func (c *compiler) declareOur(name, global string) {
	c.fs.scope.vars[name] = &binding{reg: -1, global: global}
}

// lookup finds the innermost binding of a sigiled name. Lexicals of an
// enclosing unit are visible only through capture slots, so only their
// our aliases are found there.
func (c *compiler) lookup(name string) *binding {
	for fs := c.fs; fs != nil; fs = fs.parent {
		for s := fs.scope; s != nil; s = s.parent {
			if b, ok := s.vars[name]; ok {
				if fs != c.fs && b.lexical() {
					return nil
				}
				return b
			}
		}
	}
	return nil
}

// resolve returns the binding a variable reference denotes, enforcing
// strict vars for package variables.
func (c *compiler) resolve(v *VarRef) *binding {
	if b := c.lookup(v.FullName()); b != nil {
		return b
	}
	if c.pragmas().Strict && !strictExempt(v.Name) {
		c.errorf(v.Pos(), "Global symbol \"%s\" requires explicit package name (did you forget to declare \"my %s\"?)", v.FullName(), v.FullName())
	}
	return &binding{reg: -1, global: qualify(v.Name, c.pkg())}
}

// visible returns every lexical binding visible in the current unit,
// innermost first shadowing outer ones, ordered by register.
func (c *compiler) visible() (names []string, regs []int) {
	seen := make(map[string]bool)
	type entry struct {
		name string
		reg  int
	}
	var out []entry
	for s := c.fs.scope; s != nil; s = s.parent {
		for name, b := range s.vars {
			if seen[name] {
				continue
			}
			seen[name] = true
			if b.lexical() {
				out = append(out, entry{name, b.reg})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].reg < out[j].reg })
	for _, e := range out {
		names = append(names, e.name)
		regs = append(regs, e.reg)
	}
	return names, regs
}

// visibleOurs returns the our aliases visible in the current unit and the
// units enclosing it.
func (c *compiler) visibleOurs() map[string]string {
	var ours map[string]string
	shadowed := make(map[string]bool)
	for fs := c.fs; fs != nil; fs = fs.parent {
		for s := fs.scope; s != nil; s = s.parent {
			for name, b := range s.vars {
				if shadowed[name] {
					continue
				}
				shadowed[name] = true
				if !b.lexical() {
					if ours == nil {
						ours = make(map[string]string)
					}
					ours[name] = b.global
				}
			}
		}
	}
	return ours
}

// forcedMain reports whether an unqualified name always lives in main.
func forcedMain(name string) bool {
	switch name {
	case "ENV", "ARGV", "INC", "ARGVOUT", "STDIN", "STDOUT", "STDERR", "_":
		return true
	}
	return name != "" && !isIdentStart(name[0])
}

func strictExempt(name string) bool {
	return strings.Contains(name, "::") || forcedMain(name) || name == "a" || name == "b"
}

// qualify returns the package-qualified form of a variable or sub name.
func qualify(name, pkg string) string {
	switch {
	case strings.HasPrefix(name, "::"):
		return "main" + name
	case strings.Contains(name, "::"):
		return name
	case forcedMain(name):
		return "main::" + name
	}
	return pkg + "::" + name
}
