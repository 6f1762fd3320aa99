package vm

import (
	"errors"
	"fmt"
	"strings"
)

// GuestFailure is a guest-level raise (die) or a failed primitive. Value is
// what the error slot receives when the failure is caught.
type GuestFailure struct {
	Value *Scalar
}

func (e *GuestFailure) Error() string {
	return strings.TrimSuffix(e.Value.String(), "\n")
}

// Failf returns a GuestFailure with a formatted message and no location.
func Failf(format string, args ...any) *GuestFailure {
	return &GuestFailure{Value: NewStr(fmt.Sprintf(format, args...))}
}

// AsGuestFailure extracts a GuestFailure from err.
func AsGuestFailure(err error) (*GuestFailure, bool) {
	var gf *GuestFailure
	if errors.As(err, &gf) {
		return gf, true
	}
	return nil, false
}

// InternalTypeMismatch reports a register holding a value kind the
// executing instruction cannot accept. It indicates a compiler or engine
// defect.
type InternalTypeMismatch struct {
	Op     Opcode
	Reg    int
	Want   string
	Got    string
	Unit   string
	PC     int
	File   string
	Line   int
	Window string
}

func (e *InternalTypeMismatch) Error() string {
	return fmt.Sprintf("internal type mismatch: %s at %s:%d expected %s in r%d, found %s at %s line %d",
		e.Op, e.Unit, e.PC, e.Want, e.Reg, e.Got, e.File, e.Line)
}

// AsTypeMismatch extracts an InternalTypeMismatch from err.
func AsTypeMismatch(err error) (*InternalTypeMismatch, bool) {
	var tm *InternalTypeMismatch
	if errors.As(err, &tm) {
		return tm, true
	}
	return nil, false
}

// UnknownOpcode signals a corrupted or incompatible unit. The engine raises
// it as a panic and never recovers it.
type UnknownOpcode struct {
	Op   int32
	PC   int
	Unit string
}

func (e *UnknownOpcode) Error() string {
	return fmt.Sprintf("unknown opcode %d at %s:%d", e.Op, e.Unit, e.PC)
}

func kindName(v Value) string {
	if v == nil {
		return "nil"
	}
	return v.Kind().String()
}

// ExitStatus is raised by exit. It unwinds every frame without being
// caught by eval.
type ExitStatus struct {
	Code int
}

func (e *ExitStatus) Error() string {
	return fmt.Sprintf("exit %d", e.Code)
}

// AsExitStatus extracts an ExitStatus from err.
func AsExitStatus(err error) (*ExitStatus, bool) {
	var es *ExitStatus
	if errors.As(err, &es) {
		return es, true
	}
	return nil, false
}
