package vm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dlclark/regexp2"
)

// Regex is a compiled pattern, the referent of a qr// value.
type Regex struct {
	Pattern string
	Flags   string
	re      *regexp2.Regexp
}

func (r *Regex) Kind() Kind { return KindRegex }

func (r *Regex) String() string {
	return fmt.Sprintf("(?^%s:%s)", strings.ReplaceAll(r.Flags, "g", ""), r.Pattern)
}

// CompileRegex compiles pattern with guest match flags (i, m, s, x, g).
// The g flag is recorded but does not affect compilation.
func CompileRegex(pattern, flags string) (*Regex, error) {
	var opts regexp2.RegexOptions
	for _, f := range flags {
		switch f {
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			opts |= regexp2.Singleline
		case 'x':
			opts |= regexp2.IgnorePatternWhitespace
		case 'g':
		default:
			return nil, Failf("Unknown regexp modifier \"/%c\"", f)
		}
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, Failf("Invalid regular expression /%s/: %v", pattern, err)
	}
	return &Regex{Pattern: pattern, Flags: flags, re: re}, nil
}

// Global reports whether the pattern carries the g flag.
func (r *Regex) Global() bool {
	return strings.ContainsRune(r.Flags, 'g')
}

// Match returns the capture groups of the first match of s, group 0 first,
// or nil if there is no match. Unmatched groups are undef.
func (r *Regex) Match(s string) ([]*Scalar, error) {
	m, err := r.re.FindStringMatch(s)
	if err != nil {
		return nil, Failf("regular expression failed: %v", err)
	}
	if m == nil {
		return nil, nil
	}
	return groupValues(m), nil
}

// MatchAll returns every match: the capture groups of each match if the
// pattern has groups, otherwise the whole matches.
func (r *Regex) MatchAll(s string) ([]*Scalar, error) {
	var out []*Scalar
	m, err := r.re.FindStringMatch(s)
	for err == nil && m != nil {
		groups := groupValues(m)
		if len(groups) > 1 {
			out = append(out, groups[1:]...)
		} else {
			out = append(out, groups[0])
		}
		m, err = r.re.FindNextMatch(m)
	}
	if err != nil {
		return nil, Failf("regular expression failed: %v", err)
	}
	return out, nil
}

// Split divides s at matches of r. Captured groups are included between
// fields, trailing empty fields are dropped unless limit is negative,
// and a positive limit caps the number of fields.
func (r *Regex) Split(s string, limit int) ([]*Scalar, error) {
	var out []*Scalar
	if s == "" {
		return out, nil
	}
	runes := []rune(s) // match offsets count runes
	start := 0
	m, err := r.re.FindStringMatch(s)
	for err == nil && m != nil {
		if limit > 0 && len(out) >= limit-1 {
			break
		}
		idx, n := m.Index, m.Length
		if n == 0 && idx == 0 {
			m, err = r.re.FindNextMatch(m)
			continue
		}
		if n == 0 && idx >= len(runes) {
			break
		}
		out = append(out, NewStr(string(runes[start:idx])))
		groups := groupValues(m)
		out = append(out, groups[1:]...)
		start = idx + n
		m, err = r.re.FindNextMatch(m)
	}
	if err != nil {
		return nil, Failf("regular expression failed: %v", err)
	}
	out = append(out, NewStr(string(runes[start:])))
	if limit == 0 {
		for len(out) > 0 && out[len(out)-1].String() == "" {
			out = out[:len(out)-1]
		}
	}
	return out, nil
}

func groupValues(m *regexp2.Match) []*Scalar {
	groups := m.Groups()
	out := make([]*Scalar, len(groups))
	for i, g := range groups {
		if len(g.Captures) == 0 {
			out[i] = NewUndef()
			continue
		}
		out[i] = NewStr(g.String())
	}
	return out
}

// toRegex returns the pattern held in s: a qr// referent when flags add
// nothing, otherwise a fresh compilation of its string form.
func toRegex(s *Scalar, flags string) (*Regex, error) {
	if re, ok := s.Deref().(*Regex); ok && (flags == "" || flags == re.Flags) {
		return re, nil
	}
	return cachedRegex(s.String(), flags)
}

const regexCacheSize = 512

var regexCache = struct {
	sync.Mutex
	m map[[2]string]*Regex
}{m: make(map[[2]string]*Regex)}

// cachedRegex compiles pattern once per flag set. The cache is dropped
// wholesale when it fills.
func cachedRegex(pattern, flags string) (*Regex, error) {
	key := [2]string{pattern, flags}
	regexCache.Lock()
	re, ok := regexCache.m[key]
	regexCache.Unlock()
	if ok {
		return re, nil
	}
	re, err := CompileRegex(pattern, flags)
	if err != nil {
		return nil, err
	}
	regexCache.Lock()
	if len(regexCache.m) >= regexCacheSize {
		regexCache.m = make(map[[2]string]*Regex)
	}
	regexCache.m[key] = re
	regexCache.Unlock()
	return re, nil
}

// match applies pattern p to target. In list context it yields the capture
// groups (or every match under /g); in scalar context a truth value.
// Capture variables $1, $2, ... are set on success.
func (rt *Runtime) match(target, p *Scalar, ctx Context) (Value, error) {
	re, err := toRegex(p, "")
	if err != nil {
		return nil, err
	}
	if ctx == ListContext && re.Global() {
		all, err := re.MatchAll(target.String())
		if err != nil {
			return nil, err
		}
		return NewList(all...), nil
	}
	groups, err := re.Match(target.String())
	if err != nil {
		return nil, err
	}
	if groups == nil {
		if ctx == ListContext {
			return NewList(), nil
		}
		return NewBool(false), nil
	}
	rt.setCaptures(groups)
	if ctx == ListContext {
		if len(groups) == 1 {
			return NewList(NewInt(1)), nil
		}
		return NewList(CopyAll(groups[1:])...), nil
	}
	return NewBool(true), nil
}
