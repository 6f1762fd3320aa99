package vm

// makeClosure binds the template in constant k to a fresh capture array
// holding the values of the counted registers at word w. The array is new
// for every creation; the captured handles themselves are shared, so a
// closure sees later in-place assignments to a variable it captured.
func (f *frame) makeClosure(k, w int) *Code {
	c := f.unit.Constants[k]
	if c.Kind != ConstUnit || c.Unit == nil {
		panic(&InternalTypeMismatch{Reg: -1, Want: "unit template", Got: "literal constant"})
	}
	caps := f.values(w)
	for i, v := range caps {
		if v == nil {
			caps[i] = freshBinding(c.Unit.CaptureNames[i])
		}
	}
	return &Code{Name: c.Unit.Name, Unit: c.Unit, Captures: caps}
}

// Closure materializes template over captures outside of any frame, for
// embedders and tests.
func Closure(template *Unit, captures ...Value) *Code {
	return &Code{Name: template.Name, Unit: template, Captures: append([]Value(nil), captures...)}
}

// freshBinding returns an empty value matching the sigil of name.
func freshBinding(name string) Value {
	if name != "" {
		switch name[0] {
		case '@':
			return NewArray()
		case '%':
			return NewHash()
		}
	}
	return NewUndef()
}
