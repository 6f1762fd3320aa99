package vm

// Context is the calling context a value is requested in.
type Context int

const (
	VoidContext    Context = iota // value unused; side effects only
	ScalarContext                 // single value; aggregates collapse to a count
	ListContext                   // multi-valued; aggregates flatten
	RuntimeContext                // use the context of the executing frame (operand only)
)

func (c Context) String() string {
	switch c {
	case VoidContext:
		return "void"
	case ScalarContext:
		return "scalar"
	case ListContext:
		return "list"
	case RuntimeContext:
		return "runtime"
	}
	return "invalid"
}

// contextValue encodes c for register RegContext.
func contextValue(c Context) *Scalar {
	return NewInt(int64(c))
}

// WantValue returns the guest-visible wantarray result for c: true in list
// context, false in scalar context, undef in void context.
func WantValue(c Context) *Scalar {
	switch c {
	case ListContext:
		return NewInt(1)
	case ScalarContext:
		return NewInt(0)
	}
	return NewUndef()
}
