package vm

import (
	"strings"
)

// evalString compiles and runs src in the lexical environment recorded at
// the eval site. Every named register live at the site is captured, except
// registers holding engine bookkeeping. The run behaves like a try block:
// failures, including compile errors, set the error slot and yield undef.
// Loop-control transfers pass through to the caller.
func (rt *Runtime) evalString(f *frame, pc int, src *Scalar, site EvalSite) (Outcome, error) {
	env := &EvalEnv{
		Ours:    site.Ours,
		Pragmas: site.Pragmas.Clone(),
		Package: site.Package,
		File:    f.unit.File(),
		Line:    f.unit.LineAt(pc),
	}
	var caps []Value
	for i, name := range site.Names {
		v := f.regs[site.Regs[i]]
		if v == nil {
			v = freshBinding(name)
		}
		if v.Kind().Internal() {
			continue
		}
		env.Names = append(env.Names, name)
		caps = append(caps, v)
	}

	slot := rt.ErrorSlot()
	if rt.compile == nil {
		slot.SetStr("eval-string is not available: no compiler installed\n")
		return Normal(NewUndef()), nil
	}
	unit, err := rt.compile(src.String(), env)
	if err != nil {
		msg := err.Error()
		if !strings.HasSuffix(msg, "\n") {
			msg += "\n"
		}
		slot.SetStr(msg)
		log.Debugf("eval-string compile failed at %s line %d: %s", env.File, env.Line, strings.TrimSpace(msg))
		return Normal(NewUndef()), nil
	}

	args, _ := f.regs[RegArgs].(*Array)
	out, err := rt.Call(&Code{Name: unit.Name, Unit: unit, Captures: caps}, args, ScalarContext)
	if err != nil {
		if _, ok := AsExitStatus(err); ok {
			return Outcome{}, err
		}
		slot.Set(failureValue(err))
		return Normal(NewUndef()), nil
	}
	if out.IsTransfer() {
		return out, nil
	}
	slot.SetStr("")
	return Normal(out.Scalar()), nil
}
