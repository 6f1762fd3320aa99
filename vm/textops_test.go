package vm

import (
	"strings"
	"testing"
)

func strs(items []*Scalar) string {
	parts := make([]string, len(items))
	for i, s := range items {
		if !s.Defined() {
			parts[i] = "undef"
			continue
		}
		parts[i] = s.String()
	}
	return strings.Join(parts, "|")
}

func callBuiltin(t *testing.T, rt *Runtime, name string, ctx Context, args ...Value) Outcome {
	t.Helper()
	b, ok := rt.builtins[name]
	if !ok {
		t.Fatalf("no builtin %s", name)
	}
	out, err := b(rt, args, ctx)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return out
}

func TestSprintf(t *testing.T) {
	tests := []struct {
		format string
		args   []*Scalar
		want   string
	}{
		{"%d items", []*Scalar{NewStr("3abc")}, "3 items"},
		{"%5.2f|%-4s|", []*Scalar{NewNum(3.14159), NewStr("ab")}, " 3.14|ab  |"},
		{"%x %o %b", []*Scalar{NewInt(255), NewInt(8), NewInt(5)}, "ff 10 101"},
		{"100%%", nil, "100%"},
		{"%s and %s", []*Scalar{NewStr("one")}, "one and "},
		{"%*d", []*Scalar{NewInt(4), NewInt(7)}, "   7"},
		{"%c", []*Scalar{NewInt(65)}, "A"},
	}
	for _, tt := range tests {
		if got := Sprintf(tt.format, tt.args); got != tt.want {
			t.Errorf("Sprintf(%q) = %q, want %q", tt.format, got, tt.want)
		}
	}
}

func TestRegexSplit(t *testing.T) {
	tests := []struct {
		pattern string
		in      string
		limit   int
		want    string
	}{
		{",", "a,b,c", 0, "a|b|c"},
		{",", "a,b,,,", 0, "a|b"},
		{",", "a,b,,,", -1, "a|b|||"},
		{",", "a,b,c,d", 2, "a|b,c,d"},
		{"(-)", "1-2", 0, "1|-|2"},
		{"", "abc", 0, "a|b|c"},
	}
	for _, tt := range tests {
		re, err := CompileRegex(tt.pattern, "")
		if err != nil {
			t.Fatal(err)
		}
		items, err := re.Split(tt.in, tt.limit)
		if err != nil {
			t.Fatal(err)
		}
		if got := strs(items); got != tt.want {
			t.Errorf("split /%s/, %q, %d = %q, want %q", tt.pattern, tt.in, tt.limit, got, tt.want)
		}
	}
}

func TestSplitBuiltinWhitespace(t *testing.T) {
	rt, _ := newTestRuntime()
	out := callBuiltin(t, rt, "split", ListContext, NewStr(" "), NewStr("  a b\t c "))
	if got := strs(Flatten(out.Value)); got != "a|b|c" {
		t.Errorf("split ' ' = %q", got)
	}
}

func TestRegexMatch(t *testing.T) {
	re, err := CompileRegex(`(\w+)@(\w+)?`, "i")
	if err != nil {
		t.Fatal(err)
	}
	groups, err := re.Match("mail: Bob@")
	if err != nil {
		t.Fatal(err)
	}
	if got := strs(groups); got != "Bob@|Bob|undef" {
		t.Errorf("groups = %q", got)
	}
	if re.String() != `(?^i:(\w+)@(\w+)?)` {
		t.Errorf("String() = %q", re.String())
	}

	all, _ := CompileRegex(`\d`, "g")
	items, err := all.MatchAll("a1b2c3")
	if err != nil {
		t.Fatal(err)
	}
	if got := strs(items); got != "1|2|3" {
		t.Errorf("MatchAll = %q", got)
	}

	if _, err := CompileRegex("a", "q"); err == nil || !strings.Contains(err.Error(), `Unknown regexp modifier "/q"`) {
		t.Errorf("bad flag err = %v", err)
	}
	if _, err := CompileRegex("(", ""); err == nil {
		t.Error("expected error for an unbalanced group")
	}
}

func TestSubst(t *testing.T) {
	rt, _ := newTestRuntime()
	re, err := CompileRegex(`(o)`, "g")
	if err != nil {
		t.Fatal(err)
	}
	var calls int
	repl := &Code{Name: "repl", Native: func(rt *Runtime, args *Array, ctx Context) (Outcome, error) {
		calls++
		return Normal(NewStr("[" + rt.Store.Scalar("main::1").String() + "]")), nil
	}}
	target := NewStr("foo boo")
	out := callBuiltin(t, rt, "subst", ScalarContext, target, NewRef(re), repl)
	if got := out.Scalar().Int(); got != 4 || calls != 4 {
		t.Errorf("count = %d, calls = %d, want 4", got, calls)
	}
	if target.String() != "f[o][o] b[o][o]" {
		t.Errorf("target = %q", target.String())
	}

	miss := NewStr("xyz")
	out = callBuiltin(t, rt, "subst", ScalarContext, miss, NewRef(re), repl)
	if out.Scalar().Bool() || miss.String() != "xyz" {
		t.Errorf("no-match subst changed %q or returned true", miss.String())
	}
}

func TestChompChop(t *testing.T) {
	rt, _ := newTestRuntime()
	s := NewStr("line\n")
	if n := callBuiltin(t, rt, "chomp", ScalarContext, s).Scalar().Int(); n != 1 || s.String() != "line" {
		t.Errorf("chomp = %d, %q", n, s.String())
	}
	arr := NewArray(NewStr("a\n"), NewStr("b"))
	if n := callBuiltin(t, rt, "chomp", ScalarContext, arr).Scalar().Int(); n != 1 {
		t.Errorf("chomp array removed %d newlines, want 1", n)
	}
	callBuiltin(t, rt, "chop", ScalarContext, s)
	if s.String() != "lin" {
		t.Errorf("chop = %q", s.String())
	}
}

func TestNumericConversions(t *testing.T) {
	rt, _ := newTestRuntime()
	tests := []struct {
		name string
		in   string
		want int64
	}{
		{"hex", "ff", 255},
		{"hex", "0x1F", 31},
		{"oct", "755", 493},
		{"oct", "0x10", 16},
		{"oct", "0b101", 5},
	}
	for _, tt := range tests {
		if got := callBuiltin(t, rt, tt.name, ScalarContext, NewStr(tt.in)).Scalar().Int(); got != tt.want {
			t.Errorf("%s(%q) = %d, want %d", tt.name, tt.in, got, tt.want)
		}
	}
}

func TestSortWithComparator(t *testing.T) {
	rt, _ := newTestRuntime()
	cmp := &Code{Name: "cmp", Native: func(rt *Runtime, args *Array, ctx Context) (Outcome, error) {
		a, b := rt.Store.Scalar("main::a"), rt.Store.Scalar("main::b")
		c, _ := NumCompare(b, a)
		return Normal(NewInt(int64(c))), nil
	}}
	list := NewList(NewInt(3), NewInt(10), NewInt(2))
	out := callBuiltin(t, rt, "sort", ListContext, NewStr("main"), cmp, list)
	if got := strs(Flatten(out.Value)); got != "10|3|2" {
		t.Errorf("sorted = %q, want descending", got)
	}
	out = callBuiltin(t, rt, "sort", ListContext, NewStr("main"), NewUndef(), list)
	if got := strs(Flatten(out.Value)); got != "10|2|3" {
		t.Errorf("default sort = %q, want string order", got)
	}
}

func TestRepeat(t *testing.T) {
	got, err := Repeat(NewStr("ab"), NewInt(3))
	if err != nil || got.String() != "ababab" {
		t.Errorf("Repeat = %q, %v", got.String(), err)
	}
	if got, _ := Repeat(NewStr("ab"), NewInt(-1)); got.String() != "" {
		t.Errorf("negative count gave %q", got.String())
	}
	_, err = Repeat(NewStr("ab"), NewInt(1<<62))
	if _, ok := AsGuestFailure(err); !ok || !strings.Contains(err.Error(), "Out of memory in string repetition") {
		t.Errorf("overflowing repeat err = %v, want a guest failure", err)
	}

	items, err := RepeatList([]*Scalar{NewInt(1), NewStr("x")}, NewInt(2))
	if err != nil {
		t.Fatal(err)
	}
	if got := strs(items); got != "1|x|1|x" {
		t.Errorf("RepeatList = %q", got)
	}
	items[0].SetInt(9)
	if items[2].Int() != 1 {
		t.Error("repeated items should be independent copies")
	}
	if _, err := RepeatList([]*Scalar{NewInt(1), NewInt(2)}, NewInt(1<<62)); err == nil {
		t.Error("expected an error for an overflowing list repeat")
	}
}
