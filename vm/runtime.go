package vm

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("perlcore.vm")

// DefaultMaxDepth bounds guest call nesting.
const DefaultMaxDepth = 1000

// EvalEnv describes the lexical environment an eval-string compiles in.
// Names are the captured bindings, in capture-slot order.
type EvalEnv struct {
	Names   []string
	Ours    map[string]string
	Pragmas Pragmas
	Package string
	File    string
	Line    int
}

// EvalCompiler compiles guest source for eval-string reentry. It is
// injected so the engine does not depend on the compiler package.
type EvalCompiler func(src string, env *EvalEnv) (*Unit, error)

// Builtin is a primitive reachable through CALL_BUILTIN. Arguments are the
// raw register values, so builtins that mutate containers receive them
// unflattened.
type Builtin func(rt *Runtime, args []Value, ctx Context) (Outcome, error)

// Runtime executes units against a shared ScopeStore. A Runtime is not
// safe for concurrent use.
type Runtime struct {
	Store    ScopeStore
	Stdout   io.Writer
	Stderr   io.Writer
	MaxDepth int

	compile  EvalCompiler
	builtins map[string]Builtin
	depth    int
	where    sourcePos
}

type sourcePos struct {
	file string
	line int
}

func (p sourcePos) String() string {
	return fmt.Sprintf(" at %s line %d.\n", p.file, p.line)
}

// NewRuntime returns a runtime over store with the standard builtins.
func NewRuntime(store ScopeStore) *Runtime {
	if store == nil {
		store = NewGlobalStore()
	}
	rt := &Runtime{
		Store:    store,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		MaxDepth: DefaultMaxDepth,
		builtins: make(map[string]Builtin),
	}
	registerBuiltins(rt)
	return rt
}

// UseCompiler installs the compiler used by eval-string.
func (rt *Runtime) UseCompiler(c EvalCompiler) {
	rt.compile = c
}

// RegisterBuiltin adds or replaces a builtin.
func (rt *Runtime) RegisterBuiltin(name string, b Builtin) {
	rt.builtins[name] = b
}

// HasBuiltin reports whether name is a registered builtin.
func (rt *Runtime) HasBuiltin(name string) bool {
	_, ok := rt.builtins[name]
	return ok
}

// DefineNative installs a Go function as the package sub name.
func (rt *Runtime) DefineNative(name string, fn NativeFunc) {
	rt.Store.DefineCode(name, &Code{Name: name, Native: fn})
}

// ErrorSlot returns the process-wide error scalar ($@).
func (rt *Runtime) ErrorSlot() *Scalar {
	return rt.Store.Scalar("main::@")
}

// Execute runs unit as a fresh invocable with the given arguments and
// context. Dynamic-scope overrides made during the run are restored before
// it returns, on every exit path.
func (rt *Runtime) Execute(unit *Unit, args *Array, ctx Context) (Outcome, error) {
	if args == nil {
		args = NewArray()
	}
	return rt.Call(&Code{Name: unit.Name, Unit: unit}, args, ctx)
}

// Call invokes code. Compiled units and natives share this path, so both
// observe the same argument aliasing and context rules.
func (rt *Runtime) Call(code *Code, args *Array, ctx Context) (Outcome, error) {
	if !code.Defined() {
		return Outcome{}, Failf("Undefined subroutine &%s called", code.DisplayName())
	}
	if args == nil {
		args = NewArray()
	}
	rt.depth++
	defer func() { rt.depth-- }()
	if rt.MaxDepth > 0 && rt.depth > rt.MaxDepth {
		return Outcome{}, Failf("Deep recursion limit (%d) exceeded in &%s", rt.MaxDepth, code.DisplayName())
	}
	if code.Native != nil {
		mark := rt.Store.Mark()
		defer rt.Store.Restore(mark)
		return code.Native(rt, args, ctx)
	}
	return rt.execute(code, args, ctx)
}

// Warn writes a warning, appending the current source position unless the
// message already ends in a newline.
func (rt *Runtime) Warn(msg string) {
	if !strings.HasSuffix(msg, "\n") {
		msg += rt.where.String()
	}
	io.WriteString(rt.Stderr, msg)
}

// Where returns the " at FILE line N.\n" suffix for the instruction being
// executed.
func (rt *Runtime) Where() string {
	return rt.where.String()
}

// failureValue is what the error slot receives for err.
func failureValue(err error) *Scalar {
	if gf, ok := AsGuestFailure(err); ok {
		return gf.Value.Copy()
	}
	msg := err.Error()
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	return NewStr(msg)
}
