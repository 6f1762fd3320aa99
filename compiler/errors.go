package compiler

import "fmt"

// CompileError is a fatal error found while parsing or compiling: a
// syntax error, an unsupported construct, an illegal declaration, or
// register-space exhaustion.
type CompileError struct {
	File string
	Line int
	Msg  string
}

func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s at %s line %d.", e.Msg, e.File, e.Line)
	}
	return fmt.Sprintf("%s at %s.", e.Msg, e.File)
}
