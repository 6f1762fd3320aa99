package vm

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Kind is the runtime kind of a value handle.
type Kind uint8

const (
	KindScalar Kind = iota + 1
	KindArray
	KindHash
	KindCode
	KindList
	KindRegex
	KindIterator // engine bookkeeping: foreach iterator
	KindMark     // engine bookkeeping: dynamic-scope mark
)

// Internal reports whether values of kind k are engine bookkeeping that
// never escape into guest-visible bindings.
func (k Kind) Internal() bool {
	return k == KindIterator || k == KindMark
}

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "SCALAR"
	case KindArray:
		return "ARRAY"
	case KindHash:
		return "HASH"
	case KindCode:
		return "CODE"
	case KindList:
		return "LIST"
	case KindRegex:
		return "Regexp"
	case KindIterator:
		return "ITERATOR"
	case KindMark:
		return "MARK"
	}
	return "NONE"
}

// Value is a handle stored in a register. Registers hold handles, so two
// registers may alias the same scalar or container.
type Value interface {
	Kind() Kind
}

type scalarType uint8

const (
	typeUndef scalarType = iota
	typeInt
	typeNum
	typeStr
	typeRef
)

// Scalar is a mutable single-value container.
type Scalar struct {
	t scalarType
	i int64
	n float64
	s string
	r Value
}

func NewUndef() *Scalar           { return &Scalar{} }
func NewInt(i int64) *Scalar      { return &Scalar{t: typeInt, i: i} }
func NewNum(n float64) *Scalar    { return &Scalar{t: typeNum, n: n} }
func NewStr(s string) *Scalar     { return &Scalar{t: typeStr, s: s} }
func NewRef(target Value) *Scalar { return &Scalar{t: typeRef, r: target} }

// NewBool returns the guest language's canonical truth values, 1 and "".
func NewBool(b bool) *Scalar {
	if b {
		return NewInt(1)
	}
	return NewStr("")
}

func (s *Scalar) Kind() Kind { return KindScalar }

// Set assigns the contents of o to s in place.
func (s *Scalar) Set(o *Scalar) {
	if s == o {
		return
	}
	*s = *o
}

func (s *Scalar) SetUndef()        { *s = Scalar{} }
func (s *Scalar) SetInt(i int64)   { *s = Scalar{t: typeInt, i: i} }
func (s *Scalar) SetNum(n float64) { *s = Scalar{t: typeNum, n: n} }
func (s *Scalar) SetStr(v string)  { *s = Scalar{t: typeStr, s: v} }
func (s *Scalar) SetRef(v Value)   { *s = Scalar{t: typeRef, r: v} }

// Copy returns a fresh scalar with the same contents.
func (s *Scalar) Copy() *Scalar {
	c := *s
	return &c
}

func (s *Scalar) Defined() bool { return s.t != typeUndef }
func (s *Scalar) IsRef() bool   { return s.t == typeRef }

// Deref returns the referenced value, or nil if s is not a reference.
func (s *Scalar) Deref() Value {
	if s.t != typeRef {
		return nil
	}
	return s.r
}

// IsInteger reports whether s holds a native integer.
func (s *Scalar) IsInteger() bool { return s.t == typeInt }

// Bool applies guest truthiness: undef, "", "0" and numeric zero are false.
func (s *Scalar) Bool() bool {
	switch s.t {
	case typeUndef:
		return false
	case typeInt:
		return s.i != 0
	case typeNum:
		return s.n != 0
	case typeStr:
		return s.s != "" && s.s != "0"
	}
	return true
}

func (s *Scalar) String() string {
	switch s.t {
	case typeUndef:
		return ""
	case typeInt:
		return strconv.FormatInt(s.i, 10)
	case typeNum:
		return FormatNum(s.n)
	case typeStr:
		return s.s
	}
	return refString(s.r)
}

// Num returns the numeric value of s.
func (s *Scalar) Num() float64 {
	i, f, isInt := s.numeric()
	if isInt {
		return float64(i)
	}
	return f
}

// Int returns the integer value of s, truncating toward zero.
func (s *Scalar) Int() int64 {
	i, f, isInt := s.numeric()
	if isInt {
		return i
	}
	if math.IsNaN(f) {
		return 0
	}
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	if f <= math.MinInt64 {
		return math.MinInt64
	}
	return int64(f)
}

// numeric returns the value as an integer when it is exactly one, else as
// a float.
func (s *Scalar) numeric() (int64, float64, bool) {
	switch s.t {
	case typeUndef:
		return 0, 0, true
	case typeInt:
		return s.i, 0, true
	case typeNum:
		return 0, s.n, false
	case typeStr:
		return ParseNumber(s.s)
	}
	return int64(refAddr(s.r)), 0, true
}

// ParseNumber converts the leading numeric prefix of str the way the guest
// language does: leading whitespace is skipped and trailing garbage ignored.
func ParseNumber(str string) (int64, float64, bool) {
	t := strings.TrimLeft(str, " \t\n\r\f")
	end := 0
	if end < len(t) && (t[end] == '+' || t[end] == '-') {
		end++
	}
	digits := end
	for end < len(t) && t[end] >= '0' && t[end] <= '9' {
		end++
	}
	intEnd := end
	if end < len(t) && t[end] == '.' {
		end++
		for end < len(t) && t[end] >= '0' && t[end] <= '9' {
			end++
		}
	}
	if end == digits || (end == digits+1 && t[digits] == '.') {
		lower := strings.ToLower(t[digits:])
		sign := 1.0
		if digits > 0 && t[0] == '-' {
			sign = -1
		}
		switch {
		case strings.HasPrefix(lower, "inf"):
			return 0, sign * math.Inf(1), false
		case strings.HasPrefix(lower, "nan"):
			return 0, math.NaN(), false
		}
		return 0, 0, true
	}
	if end < len(t) && (t[end] == 'e' || t[end] == 'E') {
		e := end + 1
		if e < len(t) && (t[e] == '+' || t[e] == '-') {
			e++
		}
		if e < len(t) && t[e] >= '0' && t[e] <= '9' {
			for e < len(t) && t[e] >= '0' && t[e] <= '9' {
				e++
			}
			end = e
		}
	}
	if end == intEnd {
		if i, err := strconv.ParseInt(t[:end], 10, 64); err == nil {
			return i, 0, true
		}
	}
	f, _ := strconv.ParseFloat(t[:end], 64)
	return 0, f, false
}

// FormatNum renders a float the way the guest language prints numbers:
// integral values without a fraction, others with 15 significant digits.
func FormatNum(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	case math.IsNaN(f):
		return "NaN"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', 15, 64)
}

func refAddr(v Value) uintptr {
	if v == nil {
		return 0
	}
	return reflect.ValueOf(v).Pointer()
}

func refString(v Value) string {
	if re, ok := v.(*Regex); ok {
		return re.String()
	}
	return fmt.Sprintf("%s(0x%x)", RefType(v), refAddr(v))
}

// RefType returns the name the ref builtin reports for a reference to v.
func RefType(v Value) string {
	switch t := v.(type) {
	case *Scalar:
		if t.IsRef() {
			return "REF"
		}
		return "SCALAR"
	case nil:
		return ""
	}
	return v.Kind().String()
}

// Flatten expands v into the element scalars it contributes to a list.
// Container elements are returned themselves, not copies, so callers can
// alias them.
func Flatten(v Value) []*Scalar {
	switch t := v.(type) {
	case nil:
		return nil
	case *Scalar:
		return []*Scalar{t}
	case *Array:
		return t.Elements()
	case *Hash:
		out := make([]*Scalar, 0, 2*t.Len())
		for _, k := range t.Keys() {
			out = append(out, NewStr(k), t.Get(k))
		}
		return out
	case *List:
		return t.Items
	case *Code, *Regex:
		return []*Scalar{NewRef(v)}
	}
	return nil
}

// FlattenAll flattens each value in turn.
func FlattenAll(vals []Value) []*Scalar {
	var out []*Scalar
	for _, v := range vals {
		out = append(out, Flatten(v)...)
	}
	return out
}

// ScalarOf collapses v in scalar context: aggregates yield their element
// count and lists their last element.
func ScalarOf(v Value) *Scalar {
	switch t := v.(type) {
	case nil:
		return NewUndef()
	case *Scalar:
		return t
	case *Array:
		return NewInt(int64(t.Len()))
	case *Hash:
		return NewInt(int64(t.Len()))
	case *List:
		if len(t.Items) == 0 {
			return NewUndef()
		}
		return t.Items[len(t.Items)-1]
	case *Code, *Regex:
		return NewRef(v)
	}
	return NewUndef()
}

// CopyAll returns fresh copies of items.
func CopyAll(items []*Scalar) []*Scalar {
	out := make([]*Scalar, len(items))
	for i, s := range items {
		out[i] = s.Copy()
	}
	return out
}

// Increment applies ++ to s in place, including the guest language's
// string increment for alphanumeric strings.
func Increment(s *Scalar) {
	if s.t == typeStr && s.s != "" {
		if next, ok := incrementString(s.s); ok {
			s.SetStr(next)
			return
		}
	}
	i, f, isInt := s.numeric()
	if isInt {
		if i == math.MaxInt64 {
			s.SetNum(float64(i) + 1)
			return
		}
		s.SetInt(i + 1)
		return
	}
	s.SetNum(f + 1)
}

// Decrement applies -- to s in place.
func Decrement(s *Scalar) {
	i, f, isInt := s.numeric()
	if isInt {
		if i == math.MinInt64 {
			s.SetNum(float64(i) - 1)
			return
		}
		s.SetInt(i - 1)
		return
	}
	s.SetNum(f - 1)
}

func incrementString(str string) (string, bool) {
	seenDigit := false
	for i := 0; i < len(str); i++ {
		c := str[i]
		switch {
		case c >= '0' && c <= '9':
			seenDigit = true
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
			if seenDigit {
				return "", false
			}
		default:
			return "", false
		}
	}
	if str[0] >= '0' && str[0] <= '9' {
		return "", false
	}
	b := []byte(str)
	for i := len(b) - 1; i >= 0; i-- {
		switch b[i] {
		case 'z':
			b[i] = 'a'
		case 'Z':
			b[i] = 'A'
		case '9':
			b[i] = '0'
		default:
			b[i]++
			return string(b), true
		}
	}
	var first byte
	switch {
	case str[0] >= 'a' && str[0] <= 'z':
		first = 'a'
	case str[0] >= 'A' && str[0] <= 'Z':
		first = 'A'
	default:
		first = '1'
	}
	return string(first) + string(b), true
}
