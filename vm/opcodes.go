package vm

import "fmt"

// Opcode is the tag word of an instruction. Opcodes form a dense range
// starting at zero so dispatch can be a single switch.
type Opcode int32

const (
	// ========================================================================
	// Loads and register moves
	// ========================================================================

	OpNop       Opcode = iota // No operation
	OpLoadUndef               // rd = fresh undef scalar
	OpLoadConst               // rd = fresh scalar from constant pool: rd k
	OpLoadInt                 // rd = fresh integer scalar: rd imm
	OpLoadStr                 // rd = fresh string scalar from string pool: rd s
	OpMove                    // rebind: rd = rs
	OpSet                     // assign-in-place: *rd = scalar(rs)
	OpCopy                    // rd = fresh copy of scalar(rs)

	// ========================================================================
	// Containers and lists
	// ========================================================================

	OpNewScalar   // rd = fresh undef scalar (declaration)
	OpNewArray    // rd = fresh empty array
	OpNewHash     // rd = fresh empty hash
	OpList        // rd = flattened list of n registers: rd n r...
	OpScalarOf    // rd = scalar-context value of rs
	OpArrayAssign // array rd takes copies of flatten(rs)
	OpHashAssign  // hash rd takes pairs of flatten(rs)
	OpListAssign  // distribute flatten(rs) over n targets, rd = rhs count: rd rs n r...

	// ========================================================================
	// Package store and dynamic scope
	// ========================================================================

	OpGlobalScalar // rd = package scalar: rd s
	OpGlobalArray  // rd = package array: rd s
	OpGlobalHash   // rd = package hash: rd s
	OpGlobalCode   // rd = package sub slot: rd s
	OpDefineSub    // install code rs under name s: s rs
	OpLocalScalar  // localize package scalar, rd = new value: rd s
	OpLocalArray   // localize package array: rd s
	OpLocalHash    // localize package hash: rd s
	OpAliasGlobal  // localize package scalar s to the scalar in rs: s rs
	OpDynMark      // rd = current dynamic-scope mark
	OpDynRestore   // restore dynamic scope to the mark in rs

	// ========================================================================
	// Operators
	// ========================================================================

	OpAdd        // rd = ra + rb
	OpSub        // rd = ra - rb
	OpMul        // rd = ra * rb
	OpDiv        // rd = ra / rb
	OpMod        // rd = ra % rb
	OpPow        // rd = ra ** rb
	OpConcat     // rd = ra . rb
	OpRepeat     // rd = ra x rb
	OpRepeatList // rd = flattened list ra repeated rb times
	OpNumEq      // rd = ra == rb
	OpNumNe      // rd = ra != rb
	OpNumLt      // rd = ra < rb
	OpNumLe      // rd = ra <= rb
	OpNumGt      // rd = ra > rb
	OpNumGe      // rd = ra >= rb
	OpNumCmp     // rd = ra <=> rb
	OpStrEq      // rd = ra eq rb
	OpStrNe      // rd = ra ne rb
	OpStrLt      // rd = ra lt rb
	OpStrLe      // rd = ra le rb
	OpStrGt      // rd = ra gt rb
	OpStrGe      // rd = ra ge rb
	OpStrCmp     // rd = ra cmp rb
	OpNeg        // rd = -rs
	OpNot        // rd = !rs
	OpInc        // ++rd in place
	OpDec        // --rd in place
	OpPostInc    // rd = copy of rs, then rs++
	OpPostDec    // rd = copy of rs, then rs--

	// ========================================================================
	// Control flow
	// ========================================================================

	OpJump          // pc = j
	OpJumpIfTrue    // if rs true, pc = j
	OpJumpIfFalse   // if rs false, pc = j
	OpJumpIfDefined // if rs defined, pc = j
	OpReturn        // return rs in the frame's calling context
	OpEnterTry      // push a handler for catch target j, result register rd: rd j
	OpLeaveTry      // pop the innermost handler and clear the error slot
	OpPopTry        // pop the innermost handler, error slot untouched
	OpDie           // raise a guest failure from the list in rs
	OpControl       // return a loop-control transfer: kind label

	// ========================================================================
	// Calls, closures, and reentry
	// ========================================================================

	OpMakeArgs    // rd = aliasing argument vector of n registers: rd n r...
	OpCall        // rd = call code rc with args ra: rd rc ra ctx
	OpCallNamed   // rd = call package sub s with args ra: rd s ra ctx
	OpCallBuiltin // rd = builtin s over n registers: rd s ctx n r...
	OpMakeClosure // rd = closure over template k capturing n registers: rd k n r...
	OpEvalString  // rd = eval of source in rs using eval site i: rd rs i
	OpIterInit    // rd = iterator over flatten(rs)
	OpIterNext    // if iterator ri has more, rd = next element and pc = j: rd ri j
	OpStateVar    // rd = state slot i of kind k, pc = j if already initialized: rd i k j
	OpWantArray   // rd = calling context as guest value

	// ========================================================================
	// References and element access
	// ========================================================================

	OpRef         // rd = reference to rs
	OpAnonArray   // rd = reference to fresh array of flatten(rs)
	OpAnonHash    // rd = reference to fresh hash of flatten(rs)
	OpDerefScalar // rd = scalar referenced by rs, autovivifying when i != 0
	OpDerefArray  // rd = array referenced by rs, autovivifying when i != 0
	OpDerefHash   // rd = hash referenced by rs, autovivifying when i != 0
	OpDerefCode   // rd = code referenced by rs
	OpElem        // rd = element ri of array ra, created when i != 0: rd ra ri i
	OpHelem       // rd = element rk of hash rh, created when i != 0: rd rh rk i
	OpExists      // rd = whether element rk exists in container rc
	OpDelete      // rd = deleted element rk of container rc
	OpLastIndex   // rd = $#array
	OpRange       // rd = list ra .. rb
	OpQr          // rd = compiled pattern of rs with flags s: rd rs s
	OpMatch       // rd = match rs against pattern rp: rd rs rp ctx

	opcodeCount
)

// OperandKind describes how an operand word is interpreted.
type OperandKind byte

const (
	OperandReg     OperandKind = 'R' // register index
	OperandConst   OperandKind = 'K' // constant pool index
	OperandString  OperandKind = 'S' // string pool index
	OperandLabel   OperandKind = 'L' // string pool index, or -1 for none
	OperandJump    OperandKind = 'J' // absolute instruction position
	OperandImm     OperandKind = 'I' // immediate integer
	OperandContext OperandKind = 'C' // calling context
	OperandCount   OperandKind = 'N' // count n, followed by n register operands
)

// OpcodeInfo provides metadata about each opcode for disassembly and
// validation.
type OpcodeInfo struct {
	Name     string // Human-readable name
	Operands string // Operand kinds, one OperandKind per word; N must be last
	Fallible bool   // Can fail at runtime; the compiler maps it to a source position
}

var opcodeInfoTable = [opcodeCount]OpcodeInfo{
	OpNop:       {"NOP", "", false},
	OpLoadUndef: {"LOAD_UNDEF", "R", false},
	OpLoadConst: {"LOAD_CONST", "RK", false},
	OpLoadInt:   {"LOAD_INT", "RI", false},
	OpLoadStr:   {"LOAD_STR", "RS", false},
	OpMove:      {"MOVE", "RR", false},
	OpSet:       {"SET", "RR", true},
	OpCopy:      {"COPY", "RR", true},

	OpNewScalar:   {"NEW_SCALAR", "R", false},
	OpNewArray:    {"NEW_ARRAY", "R", false},
	OpNewHash:     {"NEW_HASH", "R", false},
	OpList:        {"LIST", "RN", false},
	OpScalarOf:    {"SCALAR_OF", "RR", false},
	OpArrayAssign: {"ARRAY_ASSIGN", "RR", true},
	OpHashAssign:  {"HASH_ASSIGN", "RR", true},
	OpListAssign:  {"LIST_ASSIGN", "RRN", true},

	OpGlobalScalar: {"GLOBAL_SCALAR", "RS", false},
	OpGlobalArray:  {"GLOBAL_ARRAY", "RS", false},
	OpGlobalHash:   {"GLOBAL_HASH", "RS", false},
	OpGlobalCode:   {"GLOBAL_CODE", "RS", false},
	OpDefineSub:    {"DEFINE_SUB", "SR", false},
	OpLocalScalar:  {"LOCAL_SCALAR", "RS", false},
	OpLocalArray:   {"LOCAL_ARRAY", "RS", false},
	OpLocalHash:    {"LOCAL_HASH", "RS", false},
	OpAliasGlobal:  {"ALIAS_GLOBAL", "SR", true},
	OpDynMark:      {"DYN_MARK", "R", false},
	OpDynRestore:   {"DYN_RESTORE", "R", true},

	OpAdd:        {"ADD", "RRR", true},
	OpSub:        {"SUB", "RRR", true},
	OpMul:        {"MUL", "RRR", true},
	OpDiv:        {"DIV", "RRR", true},
	OpMod:        {"MOD", "RRR", true},
	OpPow:        {"POW", "RRR", true},
	OpConcat:     {"CONCAT", "RRR", true},
	OpRepeat:     {"REPEAT", "RRR", true},
	OpRepeatList: {"REPEAT_LIST", "RRR", true},
	OpNumEq:      {"NUM_EQ", "RRR", true},
	OpNumNe:      {"NUM_NE", "RRR", true},
	OpNumLt:      {"NUM_LT", "RRR", true},
	OpNumLe:      {"NUM_LE", "RRR", true},
	OpNumGt:      {"NUM_GT", "RRR", true},
	OpNumGe:      {"NUM_GE", "RRR", true},
	OpNumCmp:     {"NUM_CMP", "RRR", true},
	OpStrEq:      {"STR_EQ", "RRR", true},
	OpStrNe:      {"STR_NE", "RRR", true},
	OpStrLt:      {"STR_LT", "RRR", true},
	OpStrLe:      {"STR_LE", "RRR", true},
	OpStrGt:      {"STR_GT", "RRR", true},
	OpStrGe:      {"STR_GE", "RRR", true},
	OpStrCmp:     {"STR_CMP", "RRR", true},
	OpNeg:        {"NEG", "RR", true},
	OpNot:        {"NOT", "RR", true},
	OpInc:        {"INC", "R", true},
	OpDec:        {"DEC", "R", true},
	OpPostInc:    {"POST_INC", "RR", true},
	OpPostDec:    {"POST_DEC", "RR", true},

	OpJump:          {"JUMP", "J", false},
	OpJumpIfTrue:    {"JUMP_IF_TRUE", "RJ", false},
	OpJumpIfFalse:   {"JUMP_IF_FALSE", "RJ", false},
	OpJumpIfDefined: {"JUMP_IF_DEFINED", "RJ", false},
	OpReturn:        {"RETURN", "R", false},
	OpEnterTry:      {"ENTER_TRY", "RJ", false},
	OpLeaveTry:      {"LEAVE_TRY", "", false},
	OpPopTry:        {"POP_TRY", "", false},
	OpDie:           {"DIE", "R", true},
	OpControl:       {"CONTROL", "IL", true},

	OpMakeArgs:    {"MAKE_ARGS", "RN", false},
	OpCall:        {"CALL", "RRRC", true},
	OpCallNamed:   {"CALL_NAMED", "RSRC", true},
	OpCallBuiltin: {"CALL_BUILTIN", "RSCN", true},
	OpMakeClosure: {"MAKE_CLOSURE", "RKN", false},
	OpEvalString:  {"EVAL_STRING", "RRI", true},
	OpIterInit:    {"ITER_INIT", "RR", false},
	OpIterNext:    {"ITER_NEXT", "RRJ", false},
	OpStateVar:    {"STATE_VAR", "RIIJ", false},
	OpWantArray:   {"WANTARRAY", "R", false},

	OpRef:         {"REF", "RR", false},
	OpAnonArray:   {"ANON_ARRAY", "RR", false},
	OpAnonHash:    {"ANON_HASH", "RR", true},
	OpDerefScalar: {"DEREF_SCALAR", "RRI", true},
	OpDerefArray:  {"DEREF_ARRAY", "RRI", true},
	OpDerefHash:   {"DEREF_HASH", "RRI", true},
	OpDerefCode:   {"DEREF_CODE", "RR", true},
	OpElem:        {"ELEM", "RRRI", true},
	OpHelem:       {"HELEM", "RRRI", true},
	OpExists:      {"EXISTS", "RRR", true},
	OpDelete:      {"DELETE", "RRR", true},
	OpLastIndex:   {"LAST_INDEX", "RR", true},
	OpRange:       {"RANGE", "RRR", true},
	OpQr:          {"QR", "RRS", true},
	OpMatch:       {"MATCH", "RRRC", true},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns an OpcodeInfo named "UNKNOWN(n)" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if op.Valid() {
		return opcodeInfoTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(%d)", int32(op))}
}

// Valid reports whether op lies inside the recognized opcode range.
func (op Opcode) Valid() bool {
	return op >= 0 && op < opcodeCount
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// IsJump returns true if this opcode carries a jump target operand.
func (op Opcode) IsJump() bool {
	for _, k := range GetOpcodeInfo(op).Operands {
		if OperandKind(k) == OperandJump {
			return true
		}
	}
	return false
}

// InstructionLen returns the number of words occupied by the instruction
// starting at code[pc], including the opcode word. It returns 0 when the
// instruction is truncated or the opcode is unknown.
func InstructionLen(code []int32, pc int) int {
	op := Opcode(code[pc])
	if !op.Valid() {
		return 0
	}
	n := 1
	for _, k := range opcodeInfoTable[op].Operands {
		if pc+n >= len(code) {
			return 0
		}
		if OperandKind(k) == OperandCount {
			count := int(code[pc+n])
			if count < 0 || pc+n+1+count > len(code) {
				return 0
			}
			n += 1 + count
			continue
		}
		n++
	}
	return n
}

// AllOpcodes returns every defined opcode in numeric order.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, opcodeCount)
	for op := Opcode(0); op < opcodeCount; op++ {
		ops = append(ops, op)
	}
	return ops
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return int(opcodeCount)
}
