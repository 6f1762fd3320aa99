package compiler

import (
	"math"

	"github.com/fglock/perlcore/vm"
)

// ---------------------------------------------------------------------------
// Emitter: instruction stream, pools and source map for one unit
// ---------------------------------------------------------------------------

type emitter struct {
	code    []int32
	consts  []vm.Constant
	strs    []string
	strIdx  map[string]int
	intIdx  map[int64]int
	numIdx  map[uint64]int
	srcmap  []vm.SourceMapping
	loops   []vm.Loop
	sites   []vm.EvalSite
	lastTok int
}

func newEmitter() *emitter {
	return &emitter{
		strIdx:  make(map[string]int),
		intIdx:  make(map[int64]int),
		numIdx:  make(map[uint64]int),
		lastTok: -1,
	}
}

// pc returns the position the next instruction will occupy.
func (e *emitter) pc() int {
	return len(e.code)
}

// emit appends an instruction. Fallible instructions are mapped to the
// token at pos; consecutive instructions from the same token share one
// mapping.
func (e *emitter) emit(op vm.Opcode, pos int, operands ...int) int {
	at := len(e.code)
	if pos >= 0 && vm.GetOpcodeInfo(op).Fallible && pos != e.lastTok {
		e.srcmap = append(e.srcmap, vm.SourceMapping{PC: at, Token: pos})
		e.lastTok = pos
	}
	e.code = append(e.code, int32(op))
	for _, o := range operands {
		e.code = append(e.code, int32(o))
	}
	return at
}

// str interns s in the string pool.
func (e *emitter) str(s string) int {
	if i, ok := e.strIdx[s]; ok {
		return i
	}
	e.strs = append(e.strs, s)
	e.strIdx[s] = len(e.strs) - 1
	return len(e.strs) - 1
}

func (e *emitter) constInt(i int64) int {
	if k, ok := e.intIdx[i]; ok {
		return k
	}
	e.consts = append(e.consts, vm.Constant{Kind: vm.ConstInt, Int: i})
	e.intIdx[i] = len(e.consts) - 1
	return len(e.consts) - 1
}

func (e *emitter) constNum(f float64) int {
	bits := math.Float64bits(f)
	if k, ok := e.numIdx[bits]; ok {
		return k
	}
	e.consts = append(e.consts, vm.Constant{Kind: vm.ConstNum, Num: f})
	e.numIdx[bits] = len(e.consts) - 1
	return len(e.consts) - 1
}

// constUnit adds a nested template. Templates are never shared between
// constant slots.
func (e *emitter) constUnit(u *vm.Unit) int {
	e.consts = append(e.consts, vm.Constant{Kind: vm.ConstUnit, Unit: u})
	return len(e.consts) - 1
}

// ---------------------------------------------------------------------------
// Labels for jumps
// ---------------------------------------------------------------------------

// label is a jump target that may be referenced before it is placed.
type label struct {
	pos      int
	resolved bool
	refs     []int // operand words waiting for pos
}

func (e *emitter) newLabel() *label {
	return &label{pos: -1}
}

// here returns a label already placed at the current position.
func (e *emitter) here() *label {
	l := e.newLabel()
	e.mark(l)
	return l
}

// mark places l at the current position and patches earlier references.
func (e *emitter) mark(l *label) {
	if l.resolved {
		panic("compiler: label placed twice")
	}
	l.resolved = true
	l.pos = len(e.code)
	for _, w := range l.refs {
		e.code[w] = int32(l.pos)
	}
	l.refs = nil
}

// jump emits op with the given leading operands and l as its final jump
// operand.
func (e *emitter) jump(op vm.Opcode, pos int, l *label, operands ...int) {
	e.emit(op, pos, append(operands, l.pos)...)
	if !l.resolved {
		l.refs = append(l.refs, len(e.code)-1)
	}
}
