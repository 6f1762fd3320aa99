package vm

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// setCaptures publishes the groups of a successful match as $&, $1, $2...
func (rt *Runtime) setCaptures(groups []*Scalar) {
	for i := 1; i < len(groups); i++ {
		rt.Store.Scalar("main::" + strconv.Itoa(i)).Set(groups[i])
	}
	rt.Store.Scalar("main::&").Set(groups[0])
}

// builtinSubst takes the target scalar, the compiled pattern and the
// replacement code. The replacement runs once per match with the capture
// variables set, and the result is the number of substitutions made.
func builtinSubst(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	if len(args) < 3 {
		return Outcome{}, Failf("Not enough arguments for substitution")
	}
	target, ok := args[0].(*Scalar)
	if !ok {
		return Outcome{}, Failf("Can't modify %s in substitution (s///)", kindName(args[0]))
	}
	re, err := toRegex(ScalarOf(args[1]), "")
	if err != nil {
		return Outcome{}, err
	}
	repl, err := callable(args[2])
	if err != nil {
		return Outcome{}, err
	}

	s := target.String()
	runes := []rune(s) // match offsets count runes
	var sb strings.Builder
	count, last := 0, 0
	m, merr := re.re.FindStringMatch(s)
	for merr == nil && m != nil {
		rt.setCaptures(groupValues(m))
		out, err := rt.Call(repl, NewArray(), ScalarContext)
		if err != nil {
			return Outcome{}, err
		}
		if out.IsTransfer() {
			return out, nil
		}
		sb.WriteString(string(runes[last:m.Index]))
		sb.WriteString(out.Scalar().String())
		last = m.Index + m.Length
		count++
		if !re.Global() {
			break
		}
		m, merr = re.re.FindNextMatch(m)
	}
	if merr != nil {
		return Outcome{}, Failf("regular expression failed: %v", merr)
	}
	if count == 0 {
		return Normal(NewBool(false)), nil
	}
	sb.WriteString(string(runes[last:]))
	target.SetStr(sb.String())
	return Normal(NewInt(int64(count))), nil
}

// trimTargets applies fn to the scalar or to every element of the array
// in args[0] and sums what fn reports.
func trimTargets(args []Value, name string, fn func(*Scalar) int) (Outcome, error) {
	if len(args) == 0 {
		return Outcome{}, Failf("Not enough arguments for %s", name)
	}
	var targets []*Scalar
	switch t := args[0].(type) {
	case *Scalar:
		targets = []*Scalar{t}
	case *Array:
		targets = t.Elements()
	default:
		return Outcome{}, Failf("Can't modify %s in %s", kindName(args[0]), name)
	}
	n := 0
	for _, s := range targets {
		if s.Defined() {
			n += fn(s)
		}
	}
	return Normal(NewInt(int64(n))), nil
}

func builtinChomp(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	return trimTargets(args, "chomp", func(s *Scalar) int {
		str := s.String()
		if !strings.HasSuffix(str, "\n") {
			return 0
		}
		s.SetStr(strings.TrimSuffix(str, "\n"))
		return 1
	})
}

func builtinChop(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	return trimTargets(args, "chop", func(s *Scalar) int {
		str := s.String()
		if str == "" {
			return 0
		}
		_, n := utf8.DecodeLastRuneInString(str)
		s.SetStr(str[:len(str)-n])
		return 1
	})
}

func builtinHex(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(arg(args, 0).String(), "0x"), "0X")
	return Normal(parseBase(s, 16)), nil
}

// builtinOct honors the 0x, 0b and 0o prefixes and reads anything else as
// octal.
func builtinOct(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	s := strings.TrimSpace(arg(args, 0).String())
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		return Normal(parseBase(s[2:], 16)), nil
	case strings.HasPrefix(s, "0b"), strings.HasPrefix(s, "0B"):
		return Normal(parseBase(s[2:], 2)), nil
	case strings.HasPrefix(s, "0o"):
		return Normal(parseBase(s[2:], 8)), nil
	}
	return Normal(parseBase(s, 8)), nil
}

// parseBase reads the longest valid prefix of s in the given base.
func parseBase(s string, base int) *Scalar {
	s = strings.ReplaceAll(s, "_", "")
	end := 0
	for end < len(s) {
		d, err := strconv.ParseUint(s[end:end+1], base, 8)
		if err != nil || int(d) >= base {
			break
		}
		end++
	}
	if end == 0 {
		return NewInt(0)
	}
	v, err := strconv.ParseUint(s[:end], base, 64)
	if err != nil {
		return NewNum(float64(v))
	}
	if v > 1<<63-1 {
		return NewNum(float64(v))
	}
	return NewInt(int64(v))
}

func builtinExit(rt *Runtime, args []Value, ctx Context) (Outcome, error) {
	code := 0
	if len(args) > 0 {
		code = int(arg(args, 0).Int())
	}
	return Outcome{}, &ExitStatus{Code: code}
}
