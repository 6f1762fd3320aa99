package vm

import (
	"math"
	"strings"
)

// The operator library. Every primitive takes scalar operands and returns
// a fresh scalar, so results never alias their inputs.

func Add(a, b *Scalar) *Scalar {
	ai, af, aInt := a.numeric()
	bi, bf, bInt := b.numeric()
	if aInt && bInt {
		if s := ai + bi; (s > ai) == (bi > 0) {
			return NewInt(s)
		}
		return NewNum(float64(ai) + float64(bi))
	}
	return NewNum(toFloat(ai, af, aInt) + toFloat(bi, bf, bInt))
}

func Sub(a, b *Scalar) *Scalar {
	ai, af, aInt := a.numeric()
	bi, bf, bInt := b.numeric()
	if aInt && bInt {
		if d := ai - bi; (d < ai) == (bi > 0) {
			return NewInt(d)
		}
		return NewNum(float64(ai) - float64(bi))
	}
	return NewNum(toFloat(ai, af, aInt) - toFloat(bi, bf, bInt))
}

func Mul(a, b *Scalar) *Scalar {
	ai, af, aInt := a.numeric()
	bi, bf, bInt := b.numeric()
	if aInt && bInt {
		if ai == 0 || bi == 0 {
			return NewInt(0)
		}
		if p := ai * bi; p/bi == ai && !(ai == -1 && bi == math.MinInt64) && !(bi == -1 && ai == math.MinInt64) {
			return NewInt(p)
		}
		return NewNum(float64(ai) * float64(bi))
	}
	return NewNum(toFloat(ai, af, aInt) * toFloat(bi, bf, bInt))
}

func Div(a, b *Scalar) (*Scalar, error) {
	d := b.Num()
	if d == 0 {
		return nil, Failf("Illegal division by zero")
	}
	ai, _, aInt := a.numeric()
	bi, _, bInt := b.numeric()
	if aInt && bInt && ai%bi == 0 {
		return NewInt(ai / bi), nil
	}
	return NewNum(a.Num() / d), nil
}

// Mod follows the guest rule that the result takes the sign of the right
// operand.
func Mod(a, b *Scalar) (*Scalar, error) {
	bi := b.Int()
	if bi == 0 {
		return nil, Failf("Illegal modulus zero")
	}
	r := a.Int() % bi
	if r != 0 && (r < 0) != (bi < 0) {
		r += bi
	}
	return NewInt(r), nil
}

func Pow(a, b *Scalar) *Scalar {
	ai, _, aInt := a.numeric()
	bi, _, bInt := b.numeric()
	if aInt && bInt && bi >= 0 && bi < 64 {
		result := int64(1)
		overflow := false
		for i := int64(0); i < bi; i++ {
			next := result * ai
			if ai != 0 && next/ai != result {
				overflow = true
				break
			}
			result = next
		}
		if !overflow {
			return NewInt(result)
		}
	}
	return NewNum(math.Pow(a.Num(), b.Num()))
}

func Neg(a *Scalar) *Scalar {
	if a.t == typeStr && a.s != "" {
		if c := a.s[0]; (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			return NewStr("-" + a.s)
		}
	}
	i, f, isInt := a.numeric()
	if isInt && i != math.MinInt64 {
		return NewInt(-i)
	}
	return NewNum(-toFloat(i, f, isInt))
}

func Not(a *Scalar) *Scalar {
	return NewBool(!a.Bool())
}

func Concat(a, b *Scalar) *Scalar {
	return NewStr(a.String() + b.String())
}

// maxRepeat bounds the length of a repetition result, in bytes for
// strings and in items for lists.
const maxRepeat = 1 << 31

func Repeat(a, b *Scalar) (*Scalar, error) {
	n := b.Int()
	s := a.String()
	if n <= 0 || s == "" {
		return NewStr(""), nil
	}
	if n > maxRepeat/int64(len(s)) {
		return nil, Failf("Out of memory in string repetition")
	}
	return NewStr(strings.Repeat(s, int(n))), nil
}

// RepeatList returns items repeated n times. The result holds copies, like
// any list built from values.
func RepeatList(items []*Scalar, b *Scalar) ([]*Scalar, error) {
	n := b.Int()
	if n <= 0 || len(items) == 0 {
		return nil, nil
	}
	if n > maxRepeat/int64(len(items)) {
		return nil, Failf("Out of memory in list repetition")
	}
	out := make([]*Scalar, 0, int(n)*len(items))
	for i := int64(0); i < n; i++ {
		for _, it := range items {
			out = append(out, it.Copy())
		}
	}
	return out, nil
}

// NumCompare returns -1, 0 or 1. ok is false when either side is NaN.
func NumCompare(a, b *Scalar) (cmp int, ok bool) {
	ai, af, aInt := a.numeric()
	bi, bf, bInt := b.numeric()
	if aInt && bInt {
		switch {
		case ai < bi:
			return -1, true
		case ai > bi:
			return 1, true
		}
		return 0, true
	}
	x, y := toFloat(ai, af, aInt), toFloat(bi, bf, bInt)
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return 0, false
	case x < y:
		return -1, true
	case x > y:
		return 1, true
	}
	return 0, true
}

func StrCompare(a, b *Scalar) int {
	return strings.Compare(a.String(), b.String())
}

func toFloat(i int64, f float64, isInt bool) float64 {
	if isInt {
		return float64(i)
	}
	return f
}

// Binary applies the operator for op. It returns ok=false if op is not a
// binary operator.
func Binary(op Opcode, a, b *Scalar) (result *Scalar, ok bool, err error) {
	switch op {
	case OpAdd:
		return Add(a, b), true, nil
	case OpSub:
		return Sub(a, b), true, nil
	case OpMul:
		return Mul(a, b), true, nil
	case OpDiv:
		r, err := Div(a, b)
		return r, true, err
	case OpMod:
		r, err := Mod(a, b)
		return r, true, err
	case OpPow:
		return Pow(a, b), true, nil
	case OpConcat:
		return Concat(a, b), true, nil
	case OpRepeat:
		r, err := Repeat(a, b)
		return r, true, err
	case OpNumEq, OpNumNe, OpNumLt, OpNumLe, OpNumGt, OpNumGe:
		c, cmpOK := NumCompare(a, b)
		if !cmpOK {
			return NewBool(op == OpNumNe), true, nil
		}
		return NewBool(relation(op, c)), true, nil
	case OpNumCmp:
		c, cmpOK := NumCompare(a, b)
		if !cmpOK {
			return NewUndef(), true, nil
		}
		return NewInt(int64(c)), true, nil
	case OpStrEq, OpStrNe, OpStrLt, OpStrLe, OpStrGt, OpStrGe:
		return NewBool(relation(op, StrCompare(a, b))), true, nil
	case OpStrCmp:
		return NewInt(int64(StrCompare(a, b))), true, nil
	}
	return nil, false, nil
}

func relation(op Opcode, c int) bool {
	switch op {
	case OpNumEq, OpStrEq:
		return c == 0
	case OpNumNe, OpStrNe:
		return c != 0
	case OpNumLt, OpStrLt:
		return c < 0
	case OpNumLe, OpStrLe:
		return c <= 0
	case OpNumGt, OpStrGt:
		return c > 0
	}
	return c >= 0
}

// Range builds the list lo..hi, counting integers or, for non-numeric
// strings, using string increment.
func Range(lo, hi *Scalar) ([]*Scalar, error) {
	if lo.t == typeStr && !looksNumeric(lo.s) {
		var out []*Scalar
		end := hi.String()
		cur := lo.Copy()
		for i := 0; len(cur.String()) <= len(end); i++ {
			if i > 1<<24 {
				return nil, Failf("Range iterator outside integer range")
			}
			out = append(out, cur.Copy())
			if cur.String() == end {
				break
			}
			Increment(cur)
		}
		return out, nil
	}
	from, to := lo.Int(), hi.Int()
	if to-from > 1<<26 {
		return nil, Failf("Range iterator outside integer range")
	}
	var out []*Scalar
	for i := from; i <= to; i++ {
		out = append(out, NewInt(i))
	}
	return out, nil
}

func looksNumeric(s string) bool {
	t := strings.TrimSpace(s)
	return t != "" && strings.ContainsAny(t[:1], "0123456789.+-")
}
