package vm

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// asm assembles a unit by hand for engine tests.
type asm struct {
	code    []int32
	strs    []string
	consts  []Constant
	loops   []Loop
	sites   []EvalSite
	regs    int
	capture []string
}

func (a *asm) op(op Opcode, operands ...int) int {
	pc := len(a.code)
	a.code = append(a.code, int32(op))
	for _, o := range operands {
		a.code = append(a.code, int32(o))
	}
	return pc
}

func (a *asm) str(s string) int {
	a.strs = append(a.strs, s)
	return len(a.strs) - 1
}

func (a *asm) pc() int { return len(a.code) }

func (a *asm) unit(name string) *Unit {
	return &Unit{
		Name:          name,
		Code:          a.code,
		Strings:       a.strs,
		Constants:     a.consts,
		Loops:         a.loops,
		EvalSites:     a.sites,
		RegisterCount: a.regs,
		CaptureNames:  a.capture,
		Source:        &SourceInfo{File: "asm.pl"},
		Package:       "main",
	}
}

func newTestRuntime() (*Runtime, *bytes.Buffer) {
	rt := NewRuntime(NewGlobalStore())
	var out bytes.Buffer
	rt.Stdout = &out
	rt.Stderr = &out
	return rt, &out
}

func mustValidate(t *testing.T, u *Unit) *Unit {
	t.Helper()
	if err := u.Validate(); err != nil {
		t.Fatalf("Validate: %v\n%s", err, Disassemble(u))
	}
	return u
}

func TestExecuteArithmetic(t *testing.T) {
	a := &asm{regs: 6}
	a.op(OpLoadInt, 3, 2)
	a.op(OpLoadInt, 4, 3)
	a.op(OpAdd, 5, 3, 4)
	a.op(OpReturn, 5)
	u := mustValidate(t, a.unit("add"))

	rt, _ := newTestRuntime()
	out, err := rt.Execute(u, nil, ScalarContext)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := out.Scalar().Int(); got != 5 {
		t.Errorf("result = %d, want 5", got)
	}
}

func TestReturnContext(t *testing.T) {
	a := &asm{regs: 6}
	a.op(OpLoadInt, 3, 1)
	a.op(OpLoadInt, 4, 2)
	a.op(OpList, 5, 2, 3, 4)
	a.op(OpReturn, 5)
	u := mustValidate(t, a.unit("pair"))
	rt, _ := newTestRuntime()

	tests := []struct {
		ctx  Context
		want string
	}{
		{ListContext, "1,2"},
		{ScalarContext, "2"},
		{VoidContext, ""},
	}
	for _, tt := range tests {
		t.Run(tt.ctx.String(), func(t *testing.T) {
			out, err := rt.Execute(u, nil, tt.ctx)
			if err != nil {
				t.Fatal(err)
			}
			var parts []string
			for _, s := range Flatten(out.Value) {
				parts = append(parts, s.String())
			}
			if got := strings.Join(parts, ","); got != tt.want {
				t.Errorf("result = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTryCatchesDie(t *testing.T) {
	a := &asm{regs: 6}
	try := a.op(OpEnterTry, 3, 0)
	a.op(OpLoadStr, 4, a.str("boom\n"))
	a.op(OpDie, 4)
	a.op(OpLeaveTry)
	catch := a.pc()
	a.code[try+2] = int32(catch)
	a.op(OpGlobalScalar, 5, a.str("main::@"))
	a.op(OpReturn, 5)
	u := mustValidate(t, a.unit("try"))

	rt, _ := newTestRuntime()
	out, err := rt.Execute(u, nil, ScalarContext)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := out.Scalar().String(); got != "boom\n" {
		t.Errorf("$@ = %q, want %q", got, "boom\n")
	}
}

func TestDieAppendsLocation(t *testing.T) {
	a := &asm{regs: 4}
	a.op(OpLoadStr, 3, a.str("oops"))
	a.op(OpDie, 3)
	u := a.unit("die")
	u.Source = &SourceInfo{File: "x.pl", Lines: []int{7}}
	u.SourceMap = []SourceMapping{{PC: 3, Token: 0}}
	mustValidate(t, u)

	rt, _ := newTestRuntime()
	_, err := rt.Execute(u, nil, VoidContext)
	gf, ok := AsGuestFailure(err)
	if !ok {
		t.Fatalf("error %v is not a guest failure", err)
	}
	if got := gf.Value.String(); got != "oops at x.pl line 7.\n" {
		t.Errorf("message = %q", got)
	}
}

func TestLocalRestoredOnFailure(t *testing.T) {
	a := &asm{regs: 6}
	a.op(OpLocalScalar, 3, a.str("main::x"))
	a.op(OpLoadInt, 4, 5)
	a.op(OpSet, 3, 4)
	a.op(OpLoadStr, 5, a.str("fail\n"))
	a.op(OpDie, 5)
	u := mustValidate(t, a.unit("local"))

	rt, _ := newTestRuntime()
	rt.Store.Scalar("main::x").SetInt(1)
	if _, err := rt.Execute(u, nil, VoidContext); err == nil {
		t.Fatal("expected failure")
	}
	if got := rt.Store.Scalar("main::x").Int(); got != 1 {
		t.Errorf("$x = %d after unwind, want 1", got)
	}
}

// A transfer returned by a call lands at the loop enclosing the call site
// with the loop's handler depth restored.
func TestTransferLandsAtLoop(t *testing.T) {
	rt, _ := newTestRuntime()
	calls := 0
	rt.DefineNative("main::leave", func(rt *Runtime, args *Array, ctx Context) (Outcome, error) {
		calls++
		if calls == 3 {
			return TransferOutcome(TransferLast, ""), nil
		}
		return Normal(NewUndef()), nil
	})

	a := &asm{regs: 6}
	a.op(OpLoadInt, 3, 0)
	top := a.op(OpMakeArgs, 4, 0)
	a.op(OpEnterTry, 5, 0)
	enter := top + 3
	a.op(OpCallNamed, 5, a.str("main::leave"), 4, int(ScalarContext))
	a.op(OpPopTry)
	a.op(OpInc, 3)
	a.op(OpJump, top)
	last := a.pc()
	a.code[enter+2] = int32(last)
	a.op(OpReturn, 3)
	a.loops = []Loop{{Start: top, End: last, Next: top, Last: last, Redo: top, MarkReg: -1}}
	u := mustValidate(t, a.unit("loop"))

	out, err := rt.Execute(u, nil, ScalarContext)
	if err != nil {
		t.Fatal(err)
	}
	if out.IsTransfer() {
		t.Fatalf("transfer escaped the loop: %+v", out)
	}
	if got := out.Scalar().Int(); got != 2 {
		t.Errorf("iterations = %d, want 2", got)
	}
}

func TestTransferPropagates(t *testing.T) {
	a := &asm{regs: 3}
	a.op(OpControl, int(TransferNext), a.str("OUTER"))
	u := mustValidate(t, a.unit("ctl"))

	rt, _ := newTestRuntime()
	out, err := rt.Execute(u, nil, VoidContext)
	if err != nil {
		t.Fatal(err)
	}
	if out.Transfer != TransferNext || out.Label != "OUTER" {
		t.Errorf("outcome = %+v, want next OUTER", out)
	}
	if out.Targets("INNER") {
		t.Error("labeled transfer should not target another label")
	}
}

func TestNativeSeesAliasedArgs(t *testing.T) {
	rt, _ := newTestRuntime()
	rt.DefineNative("main::double", func(rt *Runtime, args *Array, ctx Context) (Outcome, error) {
		s := args.Get(0)
		s.SetInt(s.Int() * 2)
		return Normal(NewUndef()), nil
	})

	a := &asm{regs: 6}
	a.op(OpLoadInt, 3, 4)
	a.op(OpMakeArgs, 4, 1, 3)
	a.op(OpCallNamed, 5, a.str("main::double"), 4, int(VoidContext))
	a.op(OpReturn, 3)
	u := mustValidate(t, a.unit("native"))

	out, err := rt.Execute(u, nil, ScalarContext)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Scalar().Int(); got != 8 {
		t.Errorf("result = %d, want 8", got)
	}
}

func TestUndefinedSub(t *testing.T) {
	a := &asm{regs: 4}
	a.op(OpCallNamed, 3, a.str("main::missing"), RegArgs, int(ScalarContext))
	a.op(OpReturn, 3)
	u := mustValidate(t, a.unit("undef"))

	rt, _ := newTestRuntime()
	_, err := rt.Execute(u, nil, VoidContext)
	if err == nil || !strings.Contains(err.Error(), "Undefined subroutine &main::missing called") {
		t.Errorf("err = %v", err)
	}
}

func TestRecursionLimit(t *testing.T) {
	a := &asm{regs: 4}
	a.op(OpCallNamed, 3, a.str("main::r"), RegArgs, int(ScalarContext))
	a.op(OpReturn, 3)
	u := mustValidate(t, a.unit("main::r"))

	rt, _ := newTestRuntime()
	rt.MaxDepth = 3
	rt.Store.DefineCode("main::r", &Code{Unit: u})
	_, err := rt.Execute(u, nil, VoidContext)
	if err == nil || !strings.Contains(err.Error(), "Deep recursion limit (3) exceeded in &main::r") {
		t.Errorf("err = %v", err)
	}
}

func counterTemplate() *Unit {
	a := &asm{regs: RegFirst + 1, capture: []string{"$n"}}
	a.op(OpInc, RegFirst)
	a.op(OpReturn, RegFirst)
	return a.unit("__ANON__")
}

func TestClosureSharesCapturedVariable(t *testing.T) {
	tmpl := counterTemplate()
	a := &asm{regs: 6, consts: []Constant{{Kind: ConstUnit, Unit: tmpl}}}
	a.op(OpLoadInt, 3, 10)
	a.op(OpMakeClosure, 4, 0, 1, 3)
	a.op(OpCall, 5, 4, RegArgs, int(ScalarContext))
	a.op(OpCall, 5, 4, RegArgs, int(ScalarContext))
	a.op(OpReturn, 3)
	u := mustValidate(t, a.unit("outer"))

	rt, _ := newTestRuntime()
	out, err := rt.Execute(u, nil, ScalarContext)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Scalar().Int(); got != 12 {
		t.Errorf("captured variable = %d, want 12", got)
	}
}

func TestClosuresAreIndependent(t *testing.T) {
	tmpl := counterTemplate()
	c1 := Closure(tmpl, NewInt(0))
	c2 := Closure(tmpl, NewInt(100))
	rt, _ := newTestRuntime()

	call := func(c *Code) int64 {
		out, err := rt.Call(c, nil, ScalarContext)
		if err != nil {
			t.Fatal(err)
		}
		return out.Scalar().Int()
	}
	call(c1)
	if got := call(c1); got != 2 {
		t.Errorf("c1 = %d, want 2", got)
	}
	if got := call(c2); got != 101 {
		t.Errorf("c2 = %d, want 101", got)
	}
}

func TestTypeMismatch(t *testing.T) {
	a := &asm{regs: 4}
	a.op(OpNewArray, 3)
	a.op(OpInc, 3)
	a.op(OpReturn, 3)
	u := mustValidate(t, a.unit("bad"))

	rt, _ := newTestRuntime()
	_, err := rt.Execute(u, nil, VoidContext)
	tm, ok := AsTypeMismatch(err)
	if !ok {
		t.Fatalf("err = %v, want a type mismatch", err)
	}
	if tm.Op != OpInc || tm.PC != 2 || tm.Want != "SCALAR" || tm.Got != "ARRAY" {
		t.Errorf("mismatch = %+v", tm)
	}
	if !strings.Contains(tm.Window, ">> 0002  INC") {
		t.Errorf("window does not mark the failing instruction:\n%s", tm.Window)
	}
}

func TestTypeMismatchIsCatchable(t *testing.T) {
	a := &asm{regs: 5}
	try := a.op(OpEnterTry, 3, 0)
	a.op(OpNewHash, 4)
	a.op(OpInc, 4)
	a.op(OpLeaveTry)
	a.code[try+2] = int32(a.pc())
	a.op(OpLoadInt, 4, 1)
	a.op(OpReturn, 4)
	u := mustValidate(t, a.unit("catch"))

	rt, _ := newTestRuntime()
	out, err := rt.Execute(u, nil, ScalarContext)
	if err != nil {
		t.Fatalf("handler did not recover the mismatch: %v", err)
	}
	if out.Scalar().Int() != 1 {
		t.Errorf("result = %v", out.Scalar())
	}
	if !strings.Contains(rt.ErrorSlot().String(), "internal type mismatch") {
		t.Errorf("$@ = %q", rt.ErrorSlot().String())
	}
}

func TestUnknownOpcodePanics(t *testing.T) {
	u := &Unit{Name: "corrupt", Code: []int32{9999}, RegisterCount: RegFirst}
	rt, _ := newTestRuntime()
	defer func() {
		r := recover()
		if _, ok := r.(*UnknownOpcode); !ok {
			t.Errorf("recovered %v, want *UnknownOpcode", r)
		}
	}()
	rt.Execute(u, nil, VoidContext)
}

func TestWantArray(t *testing.T) {
	a := &asm{regs: 4}
	a.op(OpWantArray, 3)
	a.op(OpReturn, 3)
	u := mustValidate(t, a.unit("want"))
	rt, _ := newTestRuntime()

	out, err := rt.Execute(u, nil, ListContext)
	if err != nil {
		t.Fatal(err)
	}
	if items := Flatten(out.Value); len(items) != 1 || items[0].Int() != 1 {
		t.Errorf("list context wantarray = %v", items)
	}
	out, _ = rt.Execute(u, nil, ScalarContext)
	if s := out.Scalar(); !s.Defined() || s.Bool() {
		t.Errorf("scalar context wantarray = %q, want defined false", s.String())
	}
}

func TestForeachIteration(t *testing.T) {
	// sum = 0; for v (1..4) { sum += v }
	a := &asm{regs: 9}
	a.op(OpLoadInt, 3, 0)
	a.op(OpLoadInt, 4, 1)
	a.op(OpLoadInt, 5, 4)
	a.op(OpRange, 6, 4, 5)
	a.op(OpIterInit, 7, 6)
	check := a.op(OpJump, 0)
	body := a.pc()
	a.op(OpAdd, 3, 3, 8)
	a.code[check+1] = int32(a.pc())
	a.op(OpIterNext, 8, 7, body)
	a.op(OpReturn, 3)
	u := mustValidate(t, a.unit("foreach"))

	rt, _ := newTestRuntime()
	out, err := rt.Execute(u, nil, ScalarContext)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Scalar().Int(); got != 10 {
		t.Errorf("sum = %d, want 10", got)
	}
}

func TestStateVarInitializedOnce(t *testing.T) {
	a := &asm{regs: 5}
	state := a.op(OpStateVar, 3, 0, 0, 0)
	a.op(OpLoadInt, 4, 5)
	a.op(OpSet, 3, 4)
	a.code[state+4] = int32(a.pc())
	a.op(OpInc, 3)
	a.op(OpReturn, 3)
	u := a.unit("counter")
	u.StateSlots = 1
	mustValidate(t, u)

	rt, _ := newTestRuntime()
	code := &Code{Name: "counter", Unit: u}
	for _, want := range []int64{6, 7, 8} {
		out, err := rt.Call(code, nil, ScalarContext)
		if err != nil {
			t.Fatal(err)
		}
		if got := out.Scalar().Int(); got != want {
			t.Errorf("state value = %d, want %d", got, want)
		}
	}
}

func TestExitIsNotCaught(t *testing.T) {
	a := &asm{regs: 5}
	try := a.op(OpEnterTry, 3, 0)
	a.op(OpLoadInt, 4, 3)
	a.op(OpCallBuiltin, 4, a.str("exit"), int(ScalarContext), 1, 4)
	a.op(OpLeaveTry)
	a.code[try+2] = int32(a.pc())
	a.op(OpReturn, 3)
	u := mustValidate(t, a.unit("exit"))

	rt, _ := newTestRuntime()
	_, err := rt.Execute(u, nil, VoidContext)
	var es *ExitStatus
	if !errors.As(err, &es) || es.Code != 3 {
		t.Errorf("err = %v, want exit 3", err)
	}
}
