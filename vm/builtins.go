package vm

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

func registerBuiltins(rt *Runtime) {
	for name, b := range map[string]Builtin{
		"print":   builtinPrint(false),
		"say":     builtinPrint(true),
		"printf":  builtinPrintf,
		"warn":    builtinWarn,
		"join":    builtinJoin,
		"push":    builtinPush,
		"unshift": builtinUnshift,
		"pop":     builtinPop,
		"shift":   builtinShift,
		"keys":    builtinKeys,
		"values":  builtinValues,
		"reverse": builtinReverse,
		"sort":    builtinSort,
		"map":     builtinMap,
		"grep":    builtinGrep,
		"length":  builtinLength,
		"uc":      stringFunc(strings.ToUpper),
		"lc":      stringFunc(strings.ToLower),
		"ucfirst": stringFunc(func(s string) string { return mapFirst(s, strings.ToUpper) }),
		"lcfirst": stringFunc(func(s string) string { return mapFirst(s, strings.ToLower) }),
		"chr":     builtinChr,
		"ord":     builtinOrd,
		"abs":     builtinAbs,
		"int":     builtinInt,
		"sqrt":    builtinSqrt,
		"defined": builtinDefined,
		"undef":   builtinUndef,
		"ref":     builtinRef,
		"sprintf": builtinSprintf,
		"substr":  builtinSubstr,
		"index":   builtinIndex(false),
		"rindex":  builtinIndex(true),
		"split":   builtinSplit,
		"subst":   builtinSubst,
		"chomp":   builtinChomp,
		"chop":    builtinChop,
		"hex":     builtinHex,
		"oct":     builtinOct,
		"exit":    builtinExit,
	} {
		rt.RegisterBuiltin(name, b)
	}
}

func arg(args []Value, i int) *Scalar {
	if i < len(args) {
		return ScalarOf(args[i])
	}
	return NewUndef()
}

func stringResult(s string) (Outcome, error) { return Normal(NewStr(s)), nil }

// listResult returns items as a list in list context and as their count
// otherwise.
func listResult(items []*Scalar, ctx Context) (Outcome, error) {
	if ctx == ListContext {
		return Normal(NewList(items...)), nil
	}
	return Normal(NewInt(int64(len(items)))), nil
}

func builtinPrint(newline bool) Builtin {
	return func(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
		w := rt.handle(arg(args, 0).String())
		var sb strings.Builder
		for _, s := range FlattenAll(args[1:]) {
			sb.WriteString(s.String())
		}
		if newline {
			sb.WriteString("\n")
		}
		if _, err := io.WriteString(w, sb.String()); err != nil {
			return Outcome{}, Failf("print failed: %v", err)
		}
		return Normal(NewInt(1)), nil
	}
}

func builtinPrintf(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	items := FlattenAll(args[1:])
	if len(items) == 0 {
		return Normal(NewInt(1)), nil
	}
	if _, err := io.WriteString(rt.handle(arg(args, 0).String()), Sprintf(items[0].String(), items[1:])); err != nil {
		return Outcome{}, Failf("printf failed: %v", err)
	}
	return Normal(NewInt(1)), nil
}

func (rt *Runtime) handle(name string) io.Writer {
	if name == "STDERR" {
		return rt.Stderr
	}
	return rt.Stdout
}

func builtinWarn(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	var sb strings.Builder
	for _, s := range FlattenAll(args) {
		sb.WriteString(s.String())
	}
	msg := sb.String()
	if msg == "" {
		msg = "Warning: something's wrong"
	}
	rt.Warn(msg)
	return Normal(NewInt(1)), nil
}

func builtinJoin(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	sep := arg(args, 0).String()
	items := FlattenAll(args[1:])
	parts := make([]string, len(items))
	for i, s := range items {
		parts[i] = s.String()
	}
	return stringResult(strings.Join(parts, sep))
}

func arrayArg(args []Value, name string) (*Array, error) {
	if len(args) > 0 {
		if a, ok := args[0].(*Array); ok {
			return a, nil
		}
	}
	return nil, Failf("Type of arg 1 to %s must be array", name)
}

func builtinPush(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	a, err := arrayArg(args, "push")
	if err != nil {
		return Outcome{}, err
	}
	a.Push(FlattenAll(args[1:])...)
	return Normal(NewInt(int64(a.Len()))), nil
}

func builtinUnshift(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	a, err := arrayArg(args, "unshift")
	if err != nil {
		return Outcome{}, err
	}
	a.Unshift(FlattenAll(args[1:])...)
	return Normal(NewInt(int64(a.Len()))), nil
}

func builtinPop(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	a, err := arrayArg(args, "pop")
	if err != nil {
		return Outcome{}, err
	}
	return Normal(a.Pop()), nil
}

func builtinShift(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	a, err := arrayArg(args, "shift")
	if err != nil {
		return Outcome{}, err
	}
	return Normal(a.Shift()), nil
}

func builtinKeys(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	var items []*Scalar
	switch c := args[0].(type) {
	case *Hash:
		for _, k := range c.Keys() {
			items = append(items, NewStr(k))
		}
	case *Array:
		for i := 0; i < c.Len(); i++ {
			items = append(items, NewInt(int64(i)))
		}
	default:
		return Outcome{}, Failf("Type of argument to keys must be hash or array")
	}
	return listResult(items, ctx)
}

func builtinValues(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	var items []*Scalar
	switch c := args[0].(type) {
	case *Hash:
		for _, k := range c.Keys() {
			items = append(items, c.Get(k))
		}
	case *Array:
		items = append(items, c.Elements()...)
	default:
		return Outcome{}, Failf("Type of argument to values must be hash or array")
	}
	return listResult(items, ctx)
}

func builtinReverse(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	items := FlattenAll(args)
	if ctx != ListContext {
		var sb strings.Builder
		for _, s := range items {
			sb.WriteString(s.String())
		}
		r := []rune(sb.String())
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		return stringResult(string(r))
	}
	out := make([]*Scalar, len(items))
	for i, s := range items {
		out[len(items)-1-i] = s
	}
	return Normal(NewList(out...)), nil
}

// builtinSort takes the current package, a comparator (or undef for string
// order) and the list. The comparator sees $a and $b of that package.
func builtinSort(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	pkg := arg(args, 0).String()
	items := append([]*Scalar(nil), FlattenAll(args[2:])...)
	cmpArg := arg(args, 1)
	if !cmpArg.Defined() {
		sort.SliceStable(items, func(i, j int) bool { return StrCompare(items[i], items[j]) < 0 })
		return listResult(items, ctx)
	}
	cmp, err := callable(args[1])
	if err != nil {
		return Outcome{}, err
	}
	mark := rt.Store.Mark()
	defer rt.Store.Restore(mark)
	sa := rt.Store.LocalizeScalar(pkg + "::a")
	sb := rt.Store.LocalizeScalar(pkg + "::b")
	var failure error
	var transfer Outcome
	sort.SliceStable(items, func(i, j int) bool {
		if failure != nil || transfer.IsTransfer() {
			return false
		}
		sa.Set(items[i])
		sb.Set(items[j])
		out, err := rt.Call(cmp, NewArray(), ScalarContext)
		if err != nil {
			failure = err
			return false
		}
		if out.IsTransfer() {
			transfer = out
			return false
		}
		return out.Scalar().Int() < 0
	})
	if failure != nil {
		return Outcome{}, failure
	}
	if transfer.IsTransfer() {
		return transfer, nil
	}
	return listResult(items, ctx)
}

// eachTopic calls fn with $_ aliased to every item in turn.
func (rt *Runtime) eachTopic(code *Code, items []*Scalar, ctx Context, fn func(item *Scalar, out Outcome)) (Outcome, error) {
	mark := rt.Store.Mark()
	defer rt.Store.Restore(mark)
	for _, item := range items {
		rt.Store.Restore(mark)
		rt.Store.AliasScalar("main::_", item)
		out, err := rt.Call(code, NewArray(), ctx)
		if err != nil || out.IsTransfer() {
			return out, err
		}
		fn(item, out)
	}
	return Outcome{}, nil
}

func builtinMap(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	code, err := callable(args[0])
	if err != nil {
		return Outcome{}, err
	}
	var result []*Scalar
	out, err := rt.eachTopic(code, FlattenAll(args[1:]), ListContext, func(_ *Scalar, out Outcome) {
		result = append(result, Flatten(out.Value)...)
	})
	if err != nil || out.IsTransfer() {
		return out, err
	}
	return listResult(result, ctx)
}

func builtinGrep(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	code, err := callable(args[0])
	if err != nil {
		return Outcome{}, err
	}
	var result []*Scalar
	out, err := rt.eachTopic(code, FlattenAll(args[1:]), ScalarContext, func(item *Scalar, out Outcome) {
		if out.Scalar().Bool() {
			result = append(result, item)
		}
	})
	if err != nil || out.IsTransfer() {
		return out, err
	}
	return listResult(result, ctx)
}

func builtinLength(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	s := arg(args, 0)
	if !s.Defined() {
		return Normal(NewUndef()), nil
	}
	return Normal(NewInt(int64(utf8.RuneCountInString(s.String())))), nil
}

func stringFunc(fn func(string) string) Builtin {
	return func(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
		return stringResult(fn(arg(args, 0).String()))
	}
}

func mapFirst(s string, fn func(string) string) string {
	if s == "" {
		return s
	}
	_, n := utf8.DecodeRuneInString(s)
	return fn(s[:n]) + s[n:]
}

func builtinAbs(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	s := arg(args, 0)
	if i, _, isInt := s.numeric(); isInt && i != math.MinInt64 {
		if i < 0 {
			i = -i
		}
		return Normal(NewInt(i)), nil
	}
	return Normal(NewNum(math.Abs(s.Num()))), nil
}

func builtinInt(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	s := arg(args, 0)
	if _, _, isInt := s.numeric(); isInt {
		return Normal(NewInt(s.Int())), nil
	}
	f := math.Trunc(s.Num())
	if math.Abs(f) < math.MaxInt64 {
		return Normal(NewInt(int64(f))), nil
	}
	return Normal(NewNum(f)), nil
}

func builtinSqrt(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	n := arg(args, 0).Num()
	if n < 0 {
		return Outcome{}, Failf("Can't take sqrt of %s", FormatNum(n))
	}
	return Normal(NewNum(math.Sqrt(n))), nil
}

func builtinChr(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	return stringResult(string(rune(arg(args, 0).Int())))
}

func builtinOrd(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	s := arg(args, 0).String()
	if s == "" {
		return Normal(NewInt(0)), nil
	}
	r, _ := utf8.DecodeRuneInString(s)
	return Normal(NewInt(int64(r))), nil
}

func builtinDefined(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	if len(args) == 0 {
		return Normal(NewBool(false)), nil
	}
	switch v := args[0].(type) {
	case *Scalar:
		return Normal(NewBool(v.Defined())), nil
	case *Code:
		return Normal(NewBool(v.Defined())), nil
	case *Array:
		return Normal(NewBool(v.Len() > 0)), nil
	case *Hash:
		return Normal(NewBool(v.Len() > 0)), nil
	}
	return Normal(NewBool(ScalarOf(args[0]).Defined())), nil
}

func builtinUndef(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	if len(args) > 0 {
		switch v := args[0].(type) {
		case *Scalar:
			v.SetUndef()
		case *Array:
			v.Clear()
		case *Hash:
			v.Clear()
		}
	}
	return Normal(NewUndef()), nil
}

func builtinRef(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	return stringResult(RefType(arg(args, 0).Deref()))
}

func builtinSprintf(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	items := FlattenAll(args)
	if len(items) == 0 {
		return stringResult("")
	}
	return stringResult(Sprintf(items[0].String(), items[1:]))
}

func builtinSubstr(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	r := []rune(arg(args, 0).String())
	off := int(arg(args, 1).Int())
	if off < 0 {
		off += len(r)
	}
	if off < 0 || off > len(r) {
		return Normal(NewUndef()), nil
	}
	end := len(r)
	if len(args) > 2 {
		n := int(arg(args, 2).Int())
		if n < 0 {
			end += n
		} else if off+n < end {
			end = off + n
		}
	}
	if end < off {
		end = off
	}
	return stringResult(string(r[off:end]))
}

func builtinIndex(reverse bool) Builtin {
	return func(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
		s, sub := []rune(arg(args, 0).String()), string([]rune(arg(args, 1).String()))
		hay := string(s)
		if !reverse {
			start := 0
			if len(args) > 2 {
				start = int(arg(args, 2).Int())
			}
			if start < 0 {
				start = 0
			}
			if start > len(s) {
				start = len(s)
			}
			i := strings.Index(string(s[start:]), sub)
			if i < 0 {
				return Normal(NewInt(-1)), nil
			}
			return Normal(NewInt(int64(start + utf8.RuneCountInString(string(s[start:])[:i])))), nil
		}
		end := len(s)
		if len(args) > 2 {
			if p := int(arg(args, 2).Int()) + utf8.RuneCountInString(sub); p < end {
				end = p
			}
		}
		if end < 0 {
			end = 0
		}
		i := strings.LastIndex(string(s[:end]), sub)
		if i < 0 {
			return Normal(NewInt(-1)), nil
		}
		return Normal(NewInt(int64(utf8.RuneCountInString(hay[:i])))), nil
	}
}

// builtinSplit takes a pattern (a qr// value or a string), the input and an
// optional limit. The single-space string pattern splits on runs of
// whitespace after trimming leading whitespace.
func builtinSplit(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	pat, str := arg(args, 0), arg(args, 1).String()
	limit := 0
	if len(args) > 2 {
		limit = int(arg(args, 2).Int())
	}
	var re *Regex
	var err error
	if !pat.IsRef() && pat.String() == " " {
		str = strings.TrimLeft(str, " \t\n\r\f")
		re, err = CompileRegex(`\s+`, "")
	} else {
		re, err = toRegex(pat, "")
	}
	if err != nil {
		return Outcome{}, err
	}
	items, err := re.Split(str, limit)
	if err != nil {
		return Outcome{}, err
	}
	return listResult(items, ctx)
}

// Sprintf formats items with a guest format string. Conversions map onto
// Go's fmt verbs with the same flags, width and precision.
func Sprintf(format string, items []*Scalar) string {
	var sb strings.Builder
	next := 0
	take := func() *Scalar {
		if next < len(items) {
			next++
			return items[next-1]
		}
		return NewUndef()
	}
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			sb.WriteByte(format[i])
			continue
		}
		var spec strings.Builder
		spec.WriteByte('%')
		j := i + 1
		for j < len(format) && strings.IndexByte("-+ 0#", format[j]) >= 0 {
			spec.WriteByte(format[j])
			j++
		}
		if j < len(format) && format[j] == '*' {
			spec.WriteString(strconv.FormatInt(take().Int(), 10))
			j++
		}
		for j < len(format) && (format[j] >= '0' && format[j] <= '9' || format[j] == '.') {
			spec.WriteByte(format[j])
			j++
		}
		if j >= len(format) {
			sb.WriteString(format[i:])
			break
		}
		verb, raw, prefix := format[j], format[i:j+1], spec.String()
		i = j
		switch verb {
		case '%':
			sb.WriteByte('%')
		case 'd', 'i', 'u':
			sb.WriteString(fmt.Sprintf(prefix+"d", take().Int()))
		case 's':
			sb.WriteString(fmt.Sprintf(prefix+"s", take().String()))
		case 'c':
			sb.WriteString(fmt.Sprintf(prefix+"c", rune(take().Int())))
		case 'x', 'X', 'o', 'b':
			sb.WriteString(fmt.Sprintf(prefix+string(verb), take().Int()))
		case 'e', 'E', 'f', 'F', 'g', 'G':
			sb.WriteString(fmt.Sprintf(prefix+string(verb), take().Num()))
		default:
			sb.WriteString(raw)
		}
	}
	return sb.String()
}
