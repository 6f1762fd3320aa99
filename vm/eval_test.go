package vm

import (
	"errors"
	"testing"
)

// evalUnit runs "eval $src" with $x in r3 and a foreach iterator in r4
// live at the site.
func evalUnit(src string) *Unit {
	a := &asm{regs: 7}
	a.op(OpLoadInt, 3, 7)
	a.op(OpIterInit, 4, 3)
	a.op(OpLoadStr, 5, a.str(src))
	a.op(OpEvalString, 6, 5, 0)
	a.op(OpReturn, 6)
	a.sites = []EvalSite{{
		Names:   []string{"$x", "$it"},
		Regs:    []int{3, 4},
		Pragmas: Pragmas{Strict: true},
		Package: "Foo",
	}}
	return a.unit("main")
}

func TestEvalStringCapturesLiveRegisters(t *testing.T) {
	rt, _ := newTestRuntime()
	var seen *EvalEnv
	rt.UseCompiler(func(src string, env *EvalEnv) (*Unit, error) {
		seen = env
		a := &asm{regs: RegFirst + len(env.Names), capture: env.Names}
		a.op(OpInc, RegFirst)
		a.op(OpReturn, RegFirst)
		return a.unit("(eval 1)"), nil
	})
	rt.ErrorSlot().SetStr("stale")

	out, err := rt.Execute(mustValidate(t, evalUnit("$x + 1")), nil, ScalarContext)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Scalar().Int(); got != 8 {
		t.Errorf("eval result = %d, want 8", got)
	}
	if len(seen.Names) != 1 || seen.Names[0] != "$x" {
		t.Errorf("captured names = %v, want [$x] without the iterator", seen.Names)
	}
	if !seen.Pragmas.Strict || seen.Package != "Foo" {
		t.Errorf("env = %+v, want the site's pragmas and package", seen)
	}
	if rt.ErrorSlot().String() != "" {
		t.Errorf("$@ = %q, want it cleared on success", rt.ErrorSlot().String())
	}
}

func TestEvalStringCompileError(t *testing.T) {
	rt, _ := newTestRuntime()
	rt.UseCompiler(func(src string, env *EvalEnv) (*Unit, error) {
		return nil, errors.New("syntax error at (eval 1) line 1, at EOF")
	})
	out, err := rt.Execute(mustValidate(t, evalUnit("1 +")), nil, ScalarContext)
	if err != nil {
		t.Fatalf("compile errors must be contained: %v", err)
	}
	if out.Scalar().Defined() {
		t.Error("failed eval should yield undef")
	}
	if got := rt.ErrorSlot().String(); got != "syntax error at (eval 1) line 1, at EOF\n" {
		t.Errorf("$@ = %q", got)
	}
}

func TestEvalStringContainsDie(t *testing.T) {
	rt, _ := newTestRuntime()
	rt.UseCompiler(func(src string, env *EvalEnv) (*Unit, error) {
		a := &asm{regs: RegFirst + len(env.Names) + 1, capture: env.Names}
		r := RegFirst + len(env.Names)
		a.op(OpLoadStr, r, a.str("inner\n"))
		a.op(OpDie, r)
		return a.unit("(eval 2)"), nil
	})
	out, err := rt.Execute(mustValidate(t, evalUnit("die")), nil, ScalarContext)
	if err != nil {
		t.Fatal(err)
	}
	if out.Scalar().Defined() || rt.ErrorSlot().String() != "inner\n" {
		t.Errorf("result %q, $@ %q", out.Scalar().String(), rt.ErrorSlot().String())
	}
}

func TestEvalStringWithoutCompiler(t *testing.T) {
	rt, _ := newTestRuntime()
	out, err := rt.Execute(mustValidate(t, evalUnit("1")), nil, ScalarContext)
	if err != nil {
		t.Fatal(err)
	}
	if out.Scalar().Defined() || rt.ErrorSlot().String() == "" {
		t.Error("eval without a compiler should fail softly and set $@")
	}
}
