package vm

import (
	"math"
	"testing"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in    string
		i     int64
		f     float64
		isInt bool
	}{
		{"42", 42, 0, true},
		{"  -7", -7, 0, true},
		{"3.5", 0, 3.5, false},
		{"12abc", 12, 0, true},
		{"1e3", 0, 1000, false},
		{"abc", 0, 0, true},
		{"", 0, 0, true},
		{".5", 0, 0.5, false},
	}
	for _, tt := range tests {
		i, f, isInt := ParseNumber(tt.in)
		if i != tt.i || f != tt.f || isInt != tt.isInt {
			t.Errorf("ParseNumber(%q) = (%d, %v, %v), want (%d, %v, %v)", tt.in, i, f, isInt, tt.i, tt.f, tt.isInt)
		}
	}
	if _, f, _ := ParseNumber("-inf"); !math.IsInf(f, -1) {
		t.Errorf("ParseNumber(-inf) = %v", f)
	}
}

func TestFormatNum(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{3, "3"},
		{2.5, "2.5"},
		{0.1 + 0.2, "0.3"},
		{1e20, "1e+20"},
		{math.Inf(1), "Inf"},
	}
	for _, tt := range tests {
		if got := FormatNum(tt.in); got != tt.want {
			t.Errorf("FormatNum(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruthiness(t *testing.T) {
	tests := []struct {
		s    *Scalar
		want bool
	}{
		{NewUndef(), false},
		{NewStr(""), false},
		{NewStr("0"), false},
		{NewStr("0.0"), true},
		{NewStr("00"), true},
		{NewInt(0), false},
		{NewNum(0.5), true},
		{NewRef(NewArray()), true},
	}
	for _, tt := range tests {
		if got := tt.s.Bool(); got != tt.want {
			t.Errorf("Bool(%q) = %v, want %v", tt.s.String(), got, tt.want)
		}
	}
}

func TestIncrement(t *testing.T) {
	tests := []struct {
		in   *Scalar
		want string
	}{
		{NewStr("aa"), "ab"},
		{NewStr("Az"), "Ba"},
		{NewStr("zz"), "aaa"},
		{NewStr("a9"), "b0"},
		{NewStr("Zz"), "AAa"},
		{NewStr("9"), "10"},
		{NewStr("a-b"), "1"},
		{NewUndef(), "1"},
		{NewNum(1.5), "2.5"},
	}
	for _, tt := range tests {
		in := tt.in.String()
		Increment(tt.in)
		if got := tt.in.String(); got != tt.want {
			t.Errorf("Increment(%q) = %q, want %q", in, got, tt.want)
		}
	}
}

func TestScalarOfAndFlatten(t *testing.T) {
	arr := NewArray(NewInt(1), NewInt(2), NewInt(3))
	if got := ScalarOf(arr).Int(); got != 3 {
		t.Errorf("ScalarOf(array) = %d, want 3", got)
	}
	list := NewList(NewInt(7), NewInt(8))
	if got := ScalarOf(list).Int(); got != 8 {
		t.Errorf("ScalarOf(list) = %d, want the last element", got)
	}
	if ScalarOf(NewList()).Defined() {
		t.Error("ScalarOf(empty list) should be undef")
	}

	items := Flatten(arr)
	items[0].SetInt(99)
	if arr.Get(0).Int() != 99 {
		t.Error("Flatten should alias array elements")
	}
	copies := CopyAll(items)
	copies[1].SetInt(0)
	if arr.Get(1).Int() != 2 {
		t.Error("CopyAll should not alias")
	}

	h := NewHash()
	h.Assign([]*Scalar{NewStr("k"), NewInt(1)})
	if got := len(Flatten(h)); got != 2 {
		t.Errorf("Flatten(hash) has %d items, want 2", got)
	}
}

func TestArrayNegativeIndex(t *testing.T) {
	a := NewArray(NewInt(1), NewInt(2), NewInt(3))
	if got := a.Get(-1).Int(); got != 3 {
		t.Errorf("Get(-1) = %d, want 3", got)
	}
	if a.Get(5) != nil {
		t.Error("Get past the end should be nil")
	}
	a.Elem(5).SetInt(6)
	if a.Len() != 6 {
		t.Errorf("Len after Elem(5) = %d, want 6", a.Len())
	}
}

func TestRefType(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{NewInt(1), "SCALAR"},
		{NewRef(NewInt(1)), "REF"},
		{NewArray(), "ARRAY"},
		{NewHash(), "HASH"},
		{&Code{}, "CODE"},
	}
	for _, tt := range tests {
		if got := RefType(tt.v); got != tt.want {
			t.Errorf("RefType(%T) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestGlobalStoreDynamicScope(t *testing.T) {
	g := NewGlobalStore()
	g.Scalar("main::x").SetInt(1)

	outer := g.Mark()
	g.LocalizeScalar("main::x").SetInt(2)
	inner := g.Mark()
	alias := NewStr("aliased")
	g.AliasScalar("main::x", alias)
	if g.Scalar("main::x") != alias {
		t.Fatal("AliasScalar should install the scalar itself")
	}

	g.Restore(inner)
	if got := g.Scalar("main::x").Int(); got != 2 {
		t.Errorf("after inner restore $x = %d, want 2", got)
	}
	g.Restore(outer)
	if got := g.Scalar("main::x").Int(); got != 1 {
		t.Errorf("after outer restore $x = %d, want 1", got)
	}

	g.Array("main::a").Push(NewInt(1))
	m := g.Mark()
	if g.LocalizeArray("main::a").Len() != 0 {
		t.Error("localized array should start empty")
	}
	g.Restore(m)
	if g.Array("main::a").Len() != 1 {
		t.Error("array binding not restored")
	}
}

func TestDefineCodeFillsSlot(t *testing.T) {
	g := NewGlobalStore()
	slot := g.Code("main::f")
	if slot.Defined() {
		t.Fatal("fresh slot should be undefined")
	}
	g.DefineCode("main::f", &Code{Native: func(rt *Runtime, args *Array, ctx Context) (Outcome, error) {
		return Normal(NewInt(1)), nil
	}})
	if !slot.Defined() {
		t.Error("a reference taken before definition should see the body")
	}
	if c, ok := g.LookupCode("main::f"); !ok || c != slot {
		t.Error("LookupCode should return the filled slot")
	}
}
