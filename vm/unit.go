package vm

import (
	"fmt"
	"sort"
)

// FormatVersion is bumped whenever the instruction set or Unit layout
// changes incompatibly; cached units with another version are discarded.
const FormatVersion = 4

// Reserved registers seeded by the engine on every call.
const (
	RegSelf    = 0 // the invocable being executed
	RegArgs    = 1 // @_
	RegContext = 2 // calling context as an integer scalar
	RegFirst   = 3 // first capture or local
)

// ConstKind tags a constant pool entry.
type ConstKind uint8

const (
	ConstInt ConstKind = iota
	ConstNum
	ConstStr
	ConstUnit
)

// Constant is a boxed literal or a nested unit template.
type Constant struct {
	Kind ConstKind `cbor:"1,keyasint"`
	Int  int64     `cbor:"2,keyasint,omitempty"`
	Num  float64   `cbor:"3,keyasint,omitempty"`
	Str  string    `cbor:"4,keyasint,omitempty"`
	Unit *Unit     `cbor:"5,keyasint,omitempty"`
}

// Pragmas is the lexical pragma snapshot visible to a unit.
type Pragmas struct {
	Strict   bool     `cbor:"1,keyasint,omitempty"`
	Warnings bool     `cbor:"2,keyasint,omitempty"`
	Features []string `cbor:"3,keyasint,omitempty"`
}

// HasFeature reports whether feature name is enabled.
func (p Pragmas) HasFeature(name string) bool {
	for _, f := range p.Features {
		if f == name {
			return true
		}
	}
	return false
}

// Clone returns a copy that does not share the feature slice.
func (p Pragmas) Clone() Pragmas {
	p.Features = append([]string(nil), p.Features...)
	return p
}

// SourceMapping ties an instruction position to a source token.
type SourceMapping struct {
	PC    int `cbor:"1,keyasint"`
	Token int `cbor:"2,keyasint"`
}

// SourceInfo resolves token indexes to lines. It is shared by a unit and
// all of its nested templates.
type SourceInfo struct {
	File  string `cbor:"1,keyasint"`
	Lines []int  `cbor:"2,keyasint"`
}

// Line returns the line of token tok, or 0 if unknown.
func (s *SourceInfo) Line(tok int) int {
	if s == nil || tok < 0 || tok >= len(s.Lines) {
		return 0
	}
	return s.Lines[tok]
}

// Loop records where a runtime loop-control transfer arriving inside
// [Start, End) lands in this unit.
type Loop struct {
	Label    string `cbor:"1,keyasint,omitempty"`
	Start    int    `cbor:"2,keyasint"`
	End      int    `cbor:"3,keyasint"`
	Next     int    `cbor:"4,keyasint"`
	Last     int    `cbor:"5,keyasint"`
	Redo     int    `cbor:"6,keyasint"`
	MarkReg  int    `cbor:"7,keyasint"` // dynamic-scope mark register, -1 if none
	TryDepth int    `cbor:"8,keyasint"` // handlers active when the loop was entered
}

// EvalSite is the variable registry entry for one eval-string instruction:
// the named registers live at that point, and the lexical pragmas and
// package the dynamically compiled text inherits.
type EvalSite struct {
	Names   []string `cbor:"1,keyasint"`
	Regs    []int    `cbor:"2,keyasint"`
	Pragmas Pragmas  `cbor:"3,keyasint"`
	Package string   `cbor:"4,keyasint"`
	// Ours maps package variables declared with our and visible at the
	// site, by sigiled name, to their qualified names.
	Ours map[string]string `cbor:"5,keyasint,omitempty"`
}

// Unit is a compiled bytecode artifact. A Unit is immutable once built and
// may be shared by any number of closures.
type Unit struct {
	Name          string          `cbor:"1,keyasint"`
	Code          []int32         `cbor:"2,keyasint"`
	Constants     []Constant      `cbor:"3,keyasint,omitempty"`
	Strings       []string        `cbor:"4,keyasint,omitempty"`
	RegisterCount int             `cbor:"5,keyasint"`
	CaptureNames  []string        `cbor:"6,keyasint,omitempty"`
	SourceMap     []SourceMapping `cbor:"7,keyasint,omitempty"`
	Source        *SourceInfo     `cbor:"8,keyasint,omitempty"`
	Loops         []Loop          `cbor:"9,keyasint,omitempty"`
	EvalSites     []EvalSite      `cbor:"10,keyasint,omitempty"`
	Pragmas       Pragmas         `cbor:"11,keyasint"`
	Package       string          `cbor:"12,keyasint"`
	StateSlots    int             `cbor:"13,keyasint,omitempty"`
}

// CaptureCount returns the number of capture slots, which occupy registers
// RegFirst through RegFirst+CaptureCount-1.
func (u *Unit) CaptureCount() int {
	return len(u.CaptureNames)
}

// File returns the source file name, or "-" when unknown.
func (u *Unit) File() string {
	if u.Source == nil || u.Source.File == "" {
		return "-"
	}
	return u.Source.File
}

// TokenAt returns the token mapped to the nearest fallible instruction at
// or before pc, or -1.
func (u *Unit) TokenAt(pc int) int {
	i := sort.Search(len(u.SourceMap), func(i int) bool { return u.SourceMap[i].PC > pc })
	if i == 0 {
		return -1
	}
	return u.SourceMap[i-1].Token
}

// LineAt returns the source line for the instruction at pc, or 0.
func (u *Unit) LineAt(pc int) int {
	return u.Source.Line(u.TokenAt(pc))
}

// Validate checks the structural invariants the engine relies on: every
// opcode is known, every register operand is below RegisterCount, every
// jump lands on an instruction boundary, and every pool index is in range.
// Nested templates are validated too.
func (u *Unit) Validate() error {
	if u.RegisterCount < RegFirst+u.CaptureCount() {
		return fmt.Errorf("unit %s: register count %d below reserved and capture slots", u.Name, u.RegisterCount)
	}
	starts := make(map[int]bool)
	var jumps []struct{ pc, target int }
	for pc := 0; pc < len(u.Code); {
		op := Opcode(u.Code[pc])
		if !op.Valid() {
			return fmt.Errorf("unit %s: unknown opcode %d at %d", u.Name, u.Code[pc], pc)
		}
		n := InstructionLen(u.Code, pc)
		if n == 0 {
			return fmt.Errorf("unit %s: truncated %s at %d", u.Name, op, pc)
		}
		starts[pc] = true
		w := pc + 1
		for _, k := range opcodeInfoTable[op].Operands {
			v := int(u.Code[w])
			switch OperandKind(k) {
			case OperandReg:
				if err := u.checkReg(op, pc, v); err != nil {
					return err
				}
			case OperandConst:
				if v < 0 || v >= len(u.Constants) {
					return fmt.Errorf("unit %s: %s at %d: constant %d out of range", u.Name, op, pc, v)
				}
			case OperandString:
				if v < 0 || v >= len(u.Strings) {
					return fmt.Errorf("unit %s: %s at %d: string %d out of range", u.Name, op, pc, v)
				}
			case OperandLabel:
				if v < -1 || v >= len(u.Strings) {
					return fmt.Errorf("unit %s: %s at %d: label %d out of range", u.Name, op, pc, v)
				}
			case OperandJump:
				jumps = append(jumps, struct{ pc, target int }{pc, v})
			case OperandContext:
				if v < int(VoidContext) || v > int(RuntimeContext) {
					return fmt.Errorf("unit %s: %s at %d: bad context %d", u.Name, op, pc, v)
				}
			case OperandCount:
				for j := 1; j <= v; j++ {
					if err := u.checkReg(op, pc, int(u.Code[w+j])); err != nil {
						return err
					}
				}
				w += v
			}
			w++
		}
		if op == OpEvalString {
			if site := int(u.Code[pc+3]); site < 0 || site >= len(u.EvalSites) {
				return fmt.Errorf("unit %s: EVAL_STRING at %d: eval site %d out of range", u.Name, pc, site)
			}
		}
		pc += n
	}
	for _, j := range jumps {
		if j.target < 0 || j.target > len(u.Code) || (j.target < len(u.Code) && !starts[j.target]) {
			return fmt.Errorf("unit %s: jump at %d targets %d outside instruction stream", u.Name, j.pc, j.target)
		}
	}
	for _, l := range u.Loops {
		for _, t := range []int{l.Next, l.Last, l.Redo} {
			if t < 0 || t > len(u.Code) {
				return fmt.Errorf("unit %s: loop %q target %d out of range", u.Name, l.Label, t)
			}
		}
		if l.MarkReg >= u.RegisterCount {
			return fmt.Errorf("unit %s: loop %q mark register %d out of range", u.Name, l.Label, l.MarkReg)
		}
	}
	for _, site := range u.EvalSites {
		for _, r := range site.Regs {
			if r < 0 || r >= u.RegisterCount {
				return fmt.Errorf("unit %s: eval site register %d out of range", u.Name, r)
			}
		}
	}
	for i, c := range u.Constants {
		if c.Kind == ConstUnit {
			if c.Unit == nil {
				return fmt.Errorf("unit %s: constant %d: missing template", u.Name, i)
			}
			if err := c.Unit.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (u *Unit) checkReg(op Opcode, pc, r int) error {
	if r < 0 || r >= u.RegisterCount {
		return fmt.Errorf("unit %s: %s at %d: register %d out of range (count %d)", u.Name, op, pc, r, u.RegisterCount)
	}
	return nil
}
