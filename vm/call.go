package vm

import (
	"strings"
)

// invoke performs the call-like instructions. Transfers in the returned
// outcome are left for the dispatch loop to land or propagate.
func (rt *Runtime) invoke(f *frame, op Opcode, pc int) (Outcome, error) {
	code := f.unit.Code
	a := func(i int) int { return int(code[pc+i]) }
	switch op {
	case OpCall:
		callee, err := callable(f.regs[a(2)])
		if err != nil {
			return Outcome{}, err
		}
		return rt.Call(callee, f.array(a(3)), f.resolve(Context(a(4))))
	case OpCallNamed:
		name := f.str(a(2))
		callee, ok := rt.Store.LookupCode(name)
		if !ok || !callee.Defined() {
			return Outcome{}, Failf("Undefined subroutine &%s called", name)
		}
		return rt.Call(callee, f.array(a(3)), f.resolve(Context(a(4))))
	case OpCallBuiltin:
		name := f.str(a(2))
		b, ok := rt.builtins[name]
		if !ok {
			return Outcome{}, Failf("Unsupported builtin %s", name)
		}
		saved := rt.where
		rt.where = rt.pos(f, pc)
		defer func() { rt.where = saved }()
		return b(rt, f.values(pc+4), f.resolve(Context(a(3))))
	case OpEvalString:
		return rt.evalString(f, pc, f.scalar(a(2)), f.unit.EvalSites[a(3)])
	}
	panic(&UnknownOpcode{Op: int32(op), PC: pc, Unit: f.unit.Name})
}

// callable accepts a code value or a scalar holding a code reference.
func callable(v Value) (*Code, error) {
	switch t := v.(type) {
	case *Code:
		return t, nil
	case *Scalar:
		if c, ok := t.Deref().(*Code); ok {
			return c, nil
		}
		if !t.Defined() {
			return nil, Failf("Can't use an undefined value as a subroutine reference")
		}
		return nil, Failf("Not a CODE reference")
	}
	return nil, Failf("Not a CODE reference")
}

// die builds the failure raised by the die instruction. A single reference
// argument is raised as-is; otherwise the message is the joined list with
// the source position appended unless it ends in a newline.
func (rt *Runtime) die(f *frame, v Value) error {
	items := Flatten(v)
	if len(items) == 1 && items[0].IsRef() {
		return &GuestFailure{Value: items[0].Copy()}
	}
	var sb strings.Builder
	for _, s := range items {
		sb.WriteString(s.String())
	}
	msg := sb.String()
	if msg == "" {
		msg = "Died"
	}
	if !strings.HasSuffix(msg, "\n") {
		msg += rt.pos(f, f.at).String()
	}
	return &GuestFailure{Value: NewStr(msg)}
}
