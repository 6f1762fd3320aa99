package vm

// NativeFunc is a sub implemented in Go. Natives are invoked through the
// same call path as compiled units, so they observe the identical calling
// convention: an aliasing argument vector and a calling context, returning
// an Outcome.
type NativeFunc func(rt *Runtime, args *Array, ctx Context) (Outcome, error)

// Code is an invocable value: either a unit template bound to a capture
// array, or a native function. A Code with neither is a declared but
// undefined sub.
type Code struct {
	Name     string
	Unit     *Unit
	Captures []Value
	Native   NativeFunc

	state []Value
}

func (c *Code) Kind() Kind { return KindCode }

// Defined reports whether c has a body.
func (c *Code) Defined() bool {
	return c.Unit != nil || c.Native != nil
}

// DisplayName returns the qualified name used in diagnostics.
func (c *Code) DisplayName() string {
	if c.Name == "" {
		return "__ANON__"
	}
	return c.Name
}

// stateSlot returns state slot i, or nil if it was never initialized.
func (c *Code) stateSlot(i int) Value {
	if i < len(c.state) {
		return c.state[i]
	}
	return nil
}

func (c *Code) setStateSlot(i int, v Value) {
	for len(c.state) <= i {
		c.state = append(c.state, nil)
	}
	c.state[i] = v
}
