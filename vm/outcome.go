package vm

// Transfer identifies a non-local loop-control signal.
type Transfer uint8

const (
	TransferNone Transfer = iota
	TransferLast
	TransferNext
	TransferRedo
)

func (t Transfer) String() string {
	switch t {
	case TransferLast:
		return "last"
	case TransferNext:
		return "next"
	case TransferRedo:
		return "redo"
	}
	return "none"
}

// Outcome is the result of executing a unit or invoking a sub. A normal
// outcome carries a value; a transfer outcome carries a loop-control
// signal that callers return unexamined until a frame owning a matching
// loop lands it.
type Outcome struct {
	Transfer Transfer
	Label    string
	Value    Value
}

// Normal wraps v as an ordinary result.
func Normal(v Value) Outcome {
	return Outcome{Value: v}
}

// TransferOutcome builds a loop-control outcome.
func TransferOutcome(t Transfer, label string) Outcome {
	return Outcome{Transfer: t, Label: label}
}

// IsTransfer reports whether o is a loop-control signal.
func (o Outcome) IsTransfer() bool {
	return o.Transfer != TransferNone
}

// Targets reports whether o may land at a loop with the given label.
// An unlabeled transfer targets the innermost loop.
func (o Outcome) Targets(label string) bool {
	return o.Label == "" || o.Label == label
}

// Scalar returns the scalar form of a normal outcome's value.
func (o Outcome) Scalar() *Scalar {
	if o.Value == nil {
		return NewUndef()
	}
	return ScalarOf(o.Value)
}
