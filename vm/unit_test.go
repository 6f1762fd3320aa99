package vm

import (
	"strings"
	"testing"
)

func validUnit() *Unit {
	a := &asm{regs: 5}
	a.op(OpLoadStr, 3, a.str("hi"))
	a.op(OpCallBuiltin, 4, a.str("print"), int(ScalarContext), 1, 3)
	a.op(OpReturn, 4)
	return a.unit("main")
}

func TestValidate(t *testing.T) {
	if err := validUnit().Validate(); err != nil {
		t.Fatalf("valid unit rejected: %v", err)
	}

	tests := []struct {
		name  string
		build func() *Unit
		want  string
	}{
		{"register out of range", func() *Unit {
			a := &asm{regs: 4}
			a.op(OpLoadInt, 9, 1)
			return a.unit("u")
		}, "register 9 out of range"},
		{"unknown opcode", func() *Unit {
			return &Unit{Name: "u", Code: []int32{9999}, RegisterCount: 4}
		}, "unknown opcode 9999"},
		{"truncated", func() *Unit {
			return &Unit{Name: "u", Code: []int32{int32(OpLoadInt), 3}, RegisterCount: 4}
		}, "truncated LOAD_INT"},
		{"jump into operand", func() *Unit {
			a := &asm{regs: 4}
			a.op(OpLoadInt, 3, 1)
			a.op(OpJump, 1)
			return a.unit("u")
		}, "targets 1 outside instruction stream"},
		{"string out of range", func() *Unit {
			a := &asm{regs: 4}
			a.op(OpLoadStr, 3, 0)
			return a.unit("u")
		}, "string 0 out of range"},
		{"bad context", func() *Unit {
			a := &asm{regs: 4}
			a.op(OpCall, 3, 3, RegArgs, 9)
			return a.unit("u")
		}, "bad context 9"},
		{"eval site out of range", func() *Unit {
			a := &asm{regs: 5}
			a.op(OpEvalString, 3, 4, 0)
			return a.unit("u")
		}, "eval site 0 out of range"},
		{"captures exceed registers", func() *Unit {
			return &Unit{Name: "u", RegisterCount: RegFirst, CaptureNames: []string{"$x"}}
		}, "below reserved and capture slots"},
		{"invalid template", func() *Unit {
			bad := &Unit{Name: "inner", Code: []int32{9999}, RegisterCount: RegFirst}
			a := &asm{regs: 4, consts: []Constant{{Kind: ConstUnit, Unit: bad}}}
			a.op(OpMakeClosure, 3, 0, 0)
			return a.unit("outer")
		}, "unit inner: unknown opcode"},
		{"loop target", func() *Unit {
			u := validUnit()
			u.Loops = []Loop{{Start: 0, End: 3, Next: 0, Last: 999, Redo: 0, MarkReg: -1}}
			return u
		}, "target 999 out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build().Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestInstructionLen(t *testing.T) {
	code := []int32{
		int32(OpMakeArgs), 3, 2, 4, 5,
		int32(OpLeaveTry),
		int32(OpReturn), 3,
	}
	for _, tt := range []struct{ pc, want int }{{0, 5}, {5, 1}, {6, 2}} {
		if got := InstructionLen(code, tt.pc); got != tt.want {
			t.Errorf("InstructionLen at %d = %d, want %d", tt.pc, got, tt.want)
		}
	}
	if InstructionLen([]int32{int32(OpMakeArgs), 3, 5, 1}, 0) != 0 {
		t.Error("a count running past the end should give 0")
	}
}

func TestOpcodeTable(t *testing.T) {
	seen := make(map[string]bool)
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" {
			t.Errorf("opcode %d has no name", op)
		}
		if seen[info.Name] {
			t.Errorf("duplicate opcode name %s", info.Name)
		}
		seen[info.Name] = true
		if i := strings.IndexByte(info.Operands, 'N'); i >= 0 && i != len(info.Operands)-1 {
			t.Errorf("%s: count operand must be last", info.Name)
		}
	}
	if OpcodeCount() != len(seen) {
		t.Errorf("OpcodeCount() = %d, table has %d names", OpcodeCount(), len(seen))
	}
	if !OpJumpIfFalse.IsJump() || OpAdd.IsJump() {
		t.Error("IsJump misclassifies opcodes")
	}
	if got := Opcode(-1).String(); got != "UNKNOWN(-1)" {
		t.Errorf("String() of invalid opcode = %q", got)
	}
}

func TestDisassemble(t *testing.T) {
	tmpl := counterTemplate()
	a := &asm{regs: 6, consts: []Constant{{Kind: ConstUnit, Unit: tmpl}, {Kind: ConstStr, Str: "text"}}}
	a.op(OpLoadConst, 3, 1)
	a.op(OpMakeClosure, 4, 0, 1, 3)
	a.op(OpJumpIfFalse, 3, 0)
	a.op(OpCall, 5, 4, RegArgs, int(ListContext))
	a.op(OpControl, int(TransferLast), -1)
	out := Disassemble(mustValidate(t, a.unit("main")))

	for _, want := range []string{
		"; === main ===",
		"0000  LOAD_CONST     r3, \"text\"",
		"0003  MAKE_CLOSURE   r4, <__ANON__>, [r3]",
		"0008  JUMP_IF_FALSE  r3, ->0000",
		"0011  CALL           r5, r4, r1, list",
		"0016  CONTROL        1, -",
		"; === __ANON__ ===",
		"; package main, registers 4, captures $n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}

func TestDisassembleWindow(t *testing.T) {
	u := validUnit()
	w := DisassembleWindow(u, 3, 1)
	lines := strings.Split(strings.TrimSuffix(w, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("window has %d lines, want 3:\n%s", len(lines), w)
	}
	if !strings.HasPrefix(lines[1], ">> 0003  CALL_BUILTIN") {
		t.Errorf("marked line = %q", lines[1])
	}
	if !strings.Contains(DisassembleWindow(u, 1, 1), "not an instruction boundary") {
		t.Error("window inside an operand should say so")
	}
}

func TestCodecRoundTrip(t *testing.T) {
	tmpl := counterTemplate()
	a := &asm{regs: 6, consts: []Constant{{Kind: ConstUnit, Unit: tmpl}, {Kind: ConstNum, Num: 2.5}}}
	a.op(OpLoadConst, 3, 1)
	a.op(OpMakeClosure, 4, 0, 1, 3)
	a.op(OpReturn, 4)
	a.loops = []Loop{{Label: "L", Start: 0, End: 3, Next: 0, Last: 3, Redo: 0, MarkReg: -1}}
	u := a.unit("main")
	u.Pragmas = Pragmas{Strict: true, Features: []string{"say"}}

	data, err := MarshalUnit(u)
	if err != nil {
		t.Fatal(err)
	}
	again, err := MarshalUnit(u)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(again) {
		t.Error("encoding is not deterministic")
	}

	got, err := UnmarshalUnit(data)
	if err != nil {
		t.Fatalf("UnmarshalUnit: %v", err)
	}
	if Disassemble(got) != Disassemble(u) {
		t.Errorf("decoded unit differs:\n%s\nwant:\n%s", Disassemble(got), Disassemble(u))
	}
	if !got.Pragmas.Strict || !got.Pragmas.HasFeature("say") || got.Loops[0].Label != "L" || got.Loops[0].MarkReg != -1 {
		t.Errorf("metadata lost: %+v %+v", got.Pragmas, got.Loops)
	}
}

func TestUnmarshalRejects(t *testing.T) {
	stale, err := cborEncMode.Marshal(unitEnvelope{Version: FormatVersion + 1, Unit: validUnit()})
	if err != nil {
		t.Fatal(err)
	}
	invalid, err := cborEncMode.Marshal(unitEnvelope{Version: FormatVersion, Unit: &Unit{Name: "x", Code: []int32{9999}, RegisterCount: 3}})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"garbage", []byte{0xff, 0x00}, "unmarshal unit"},
		{"stale version", stale, "unit format version"},
		{"invalid unit", invalid, "unknown opcode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalUnit(tt.data)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}
