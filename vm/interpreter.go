package vm

import (
	"strings"
)

// handler is an entry of a frame's failure-handler stack.
type handler struct {
	catch int // absolute catch target
	dest  int // register receiving undef on catch
	mark  int // dynamic-scope depth when the handler was pushed
}

// frame is one call activation: a register file sized to the unit, a
// program counter, and the frame's own handler stack.
type frame struct {
	code     *Code
	unit     *Unit
	regs     []Value
	pc       int
	at       int // start of the instruction being executed
	ctx      Context
	handlers []handler
}

func (rt *Runtime) execute(code *Code, args *Array, ctx Context) (Outcome, error) {
	u := code.Unit
	f := &frame{
		code: code,
		unit: u,
		regs: make([]Value, u.RegisterCount),
		ctx:  ctx,
	}
	f.regs[RegSelf] = code
	f.regs[RegArgs] = args
	f.regs[RegContext] = contextValue(ctx)
	copy(f.regs[RegFirst:RegFirst+u.CaptureCount()], code.Captures)

	mark := rt.Store.Mark()
	defer rt.Store.Restore(mark)
	return rt.run(f)
}

// run drives the dispatch loop, unwinding failures to the frame's
// innermost handler. A handler is always popped before execution resumes
// at its catch target, and failures with no handler propagate to the
// caller.
func (rt *Runtime) run(f *frame) (Outcome, error) {
	for {
		out, err := rt.dispatch(f)
		if err == nil {
			return out, nil
		}
		if _, exiting := AsExitStatus(err); exiting || len(f.handlers) == 0 {
			return Outcome{}, err
		}
		h := f.handlers[len(f.handlers)-1]
		f.handlers = f.handlers[:len(f.handlers)-1]
		rt.Store.Restore(h.mark)
		rt.ErrorSlot().Set(failureValue(err))
		f.regs[h.dest] = NewUndef()
		f.pc = h.catch
	}
}

// fail attaches the current source position to a primitive failure whose
// message does not already end in a newline.
func (rt *Runtime) fail(f *frame, err error) error {
	gf, ok := err.(*GuestFailure)
	if !ok {
		return err
	}
	if !gf.Value.IsRef() {
		if msg := gf.Value.String(); !strings.HasSuffix(msg, "\n") {
			gf.Value = NewStr(msg + rt.pos(f, f.at).String())
		}
	}
	return gf
}

func (rt *Runtime) pos(f *frame, pc int) sourcePos {
	return sourcePos{file: f.unit.File(), line: f.unit.LineAt(pc)}
}

// land resumes f at the loop that owns a transfer arriving at pc. The
// frame's handler stack and dynamic scope are cut back to what they were
// when that loop was entered.
func (rt *Runtime) land(f *frame, pc int, out Outcome) bool {
	for _, l := range f.unit.Loops {
		if pc < l.Start || pc >= l.End || !out.Targets(l.Label) {
			continue
		}
		if len(f.handlers) > l.TryDepth {
			f.handlers = f.handlers[:l.TryDepth]
		}
		if l.MarkReg >= 0 {
			if m, ok := f.regs[l.MarkReg].(*Mark); ok {
				rt.Store.Restore(m.Depth)
			}
		}
		switch out.Transfer {
		case TransferLast:
			f.pc = l.Last
		case TransferNext:
			f.pc = l.Next
		default:
			f.pc = l.Redo
		}
		return true
	}
	return false
}

// dispatch executes instructions until the frame returns, a transfer
// leaves it, or an instruction fails. Type mismatches raised by register
// accessors are converted to errors here.
func (rt *Runtime) dispatch(f *frame) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			tm, ok := r.(*InternalTypeMismatch)
			if !ok {
				panic(r)
			}
			tm.Op = Opcode(f.unit.Code[f.at])
			tm.Unit = f.unit.Name
			tm.PC = f.at
			tm.File = f.unit.File()
			tm.Line = f.unit.LineAt(f.at)
			tm.Window = DisassembleWindow(f.unit, f.at, 3)
			log.Errorf("%s\n%s", tm.Error(), tm.Window)
			out, err = Outcome{}, tm
		}
	}()

	code := f.unit.Code
	regs := f.regs
	store := rt.Store
	for f.pc < len(code) {
		pc := f.pc
		f.at = pc
		op := Opcode(code[pc])
		if !op.Valid() {
			panic(&UnknownOpcode{Op: code[pc], PC: pc, Unit: f.unit.Name})
		}
		a := func(i int) int { return int(code[pc+i]) }
		f.pc = pc + InstructionLen(code, pc)

		switch op {
		case OpNop:

		case OpLoadUndef, OpNewScalar:
			regs[a(1)] = NewUndef()
		case OpLoadConst:
			regs[a(1)] = f.constScalar(a(2))
		case OpLoadInt:
			regs[a(1)] = NewInt(int64(a(2)))
		case OpLoadStr:
			regs[a(1)] = NewStr(f.unit.Strings[a(2)])
		case OpMove:
			regs[a(1)] = regs[a(2)]
		case OpSet:
			f.scalar(a(1)).Set(f.scalar(a(2)))
		case OpCopy:
			regs[a(1)] = f.scalar(a(2)).Copy()

		case OpNewArray:
			regs[a(1)] = NewArray()
		case OpNewHash:
			regs[a(1)] = NewHash()
		case OpList:
			regs[a(1)] = NewList(f.gather(pc + 2)...)
		case OpScalarOf:
			regs[a(1)] = ScalarOf(regs[a(2)])
		case OpArrayAssign:
			f.array(a(1)).Assign(Flatten(regs[a(2)]))
		case OpHashAssign:
			f.hash(a(1)).Assign(Flatten(regs[a(2)]))
		case OpListAssign:
			regs[a(1)] = f.listAssign(a(2), pc+3)

		case OpGlobalScalar:
			regs[a(1)] = store.Scalar(f.str(a(2)))
		case OpGlobalArray:
			regs[a(1)] = store.Array(f.str(a(2)))
		case OpGlobalHash:
			regs[a(1)] = store.Hash(f.str(a(2)))
		case OpGlobalCode:
			regs[a(1)] = store.Code(f.str(a(2)))
		case OpDefineSub:
			store.DefineCode(f.str(a(1)), f.codeValue(a(2)))
		case OpLocalScalar:
			regs[a(1)] = store.LocalizeScalar(f.str(a(2)))
		case OpLocalArray:
			regs[a(1)] = store.LocalizeArray(f.str(a(2)))
		case OpLocalHash:
			regs[a(1)] = store.LocalizeHash(f.str(a(2)))
		case OpAliasGlobal:
			store.AliasScalar(f.str(a(1)), f.scalar(a(2)))
		case OpDynMark:
			regs[a(1)] = &Mark{Depth: store.Mark()}
		case OpDynRestore:
			store.Restore(f.mark(a(1)).Depth)

		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow, OpConcat, OpRepeat,
			OpNumEq, OpNumNe, OpNumLt, OpNumLe, OpNumGt, OpNumGe, OpNumCmp,
			OpStrEq, OpStrNe, OpStrLt, OpStrLe, OpStrGt, OpStrGe, OpStrCmp:
			res, _, berr := Binary(op, f.scalar(a(2)), f.scalar(a(3)))
			if berr != nil {
				return Outcome{}, rt.fail(f, berr)
			}
			regs[a(1)] = res
		case OpRepeatList:
			items, rerr := RepeatList(Flatten(regs[a(2)]), f.scalar(a(3)))
			if rerr != nil {
				return Outcome{}, rt.fail(f, rerr)
			}
			regs[a(1)] = NewList(items...)
		case OpNeg:
			regs[a(1)] = Neg(f.scalar(a(2)))
		case OpNot:
			regs[a(1)] = Not(f.scalar(a(2)))
		case OpInc:
			Increment(f.scalar(a(1)))
		case OpDec:
			Decrement(f.scalar(a(1)))
		case OpPostInc, OpPostDec:
			s := f.scalar(a(2))
			old := s.Copy()
			if !old.Defined() {
				old = NewInt(0)
			}
			if op == OpPostInc {
				Increment(s)
			} else {
				Decrement(s)
			}
			regs[a(1)] = old

		case OpJump:
			f.pc = a(1)
		case OpJumpIfTrue:
			if f.scalar(a(1)).Bool() {
				f.pc = a(2)
			}
		case OpJumpIfFalse:
			if !f.scalar(a(1)).Bool() {
				f.pc = a(2)
			}
		case OpJumpIfDefined:
			if f.scalar(a(1)).Defined() {
				f.pc = a(2)
			}
		case OpReturn:
			return Normal(returnValue(regs[a(1)], f.ctx)), nil
		case OpEnterTry:
			f.handlers = append(f.handlers, handler{catch: a(2), dest: a(1), mark: store.Mark()})
			rt.ErrorSlot().SetStr("")
		case OpLeaveTry:
			f.popHandler()
			rt.ErrorSlot().SetStr("")
		case OpPopTry:
			f.popHandler()
		case OpDie:
			return Outcome{}, rt.die(f, regs[a(1)])
		case OpControl:
			label := ""
			if l := a(2); l >= 0 {
				label = f.unit.Strings[l]
			}
			return TransferOutcome(Transfer(a(1)), label), nil

		case OpMakeArgs:
			regs[a(1)] = NewArray(f.gather(pc + 2)...)
		case OpCall, OpCallNamed, OpCallBuiltin, OpEvalString:
			res, cerr := rt.invoke(f, op, pc)
			if cerr != nil {
				return Outcome{}, rt.fail(f, cerr)
			}
			if res.IsTransfer() {
				if rt.land(f, pc, res) {
					continue
				}
				return res, nil
			}
			if res.Value == nil {
				res.Value = NewUndef()
			}
			regs[a(1)] = res.Value
		case OpMakeClosure:
			regs[a(1)] = f.makeClosure(a(2), pc+3)
		case OpIterInit:
			items := Flatten(regs[a(2)])
			regs[a(1)] = &Iterator{items: append([]*Scalar(nil), items...)}
		case OpIterNext:
			if s, ok := f.iterator(a(2)).Next(); ok {
				regs[a(1)] = s
				f.pc = a(3)
			}
		case OpStateVar:
			if v := f.code.stateSlot(a(2)); v != nil {
				regs[a(1)] = v
				f.pc = a(4)
				break
			}
			var v Value
			switch a(3) {
			case 1:
				v = NewArray()
			case 2:
				v = NewHash()
			default:
				v = NewUndef()
			}
			f.code.setStateSlot(a(2), v)
			regs[a(1)] = v
		case OpWantArray:
			regs[a(1)] = WantValue(f.ctx)

		case OpRef:
			regs[a(1)] = NewRef(refTarget(regs[a(2)]))
		case OpAnonArray:
			regs[a(1)] = NewRef(NewArray(CopyAll(Flatten(regs[a(2)]))...))
		case OpAnonHash:
			h := NewHash()
			h.Assign(Flatten(regs[a(2)]))
			regs[a(1)] = NewRef(h)
		case OpDerefScalar, OpDerefArray, OpDerefHash, OpDerefCode:
			v, derr := deref(op, f.scalar(a(2)), op != OpDerefCode && a(3) != 0)
			if derr != nil {
				return Outcome{}, rt.fail(f, derr)
			}
			regs[a(1)] = v
		case OpElem:
			arr, i := f.array(a(2)), int(f.scalar(a(3)).Int())
			if a(4) != 0 {
				e := arr.Elem(i)
				if e == nil {
					return Outcome{}, rt.fail(f, Failf("Modification of non-creatable array value attempted, subscript %d", i))
				}
				regs[a(1)] = e
			} else if e := arr.Get(i); e != nil {
				regs[a(1)] = e
			} else {
				regs[a(1)] = NewUndef()
			}
		case OpHelem:
			h, k := f.hash(a(2)), f.scalar(a(3)).String()
			if a(4) != 0 {
				regs[a(1)] = h.Elem(k)
			} else if e := h.Get(k); e != nil {
				regs[a(1)] = e
			} else {
				regs[a(1)] = NewUndef()
			}
		case OpExists, OpDelete:
			regs[a(1)] = f.existsOrDelete(op, a(2), a(3))
		case OpLastIndex:
			regs[a(1)] = NewInt(int64(f.array(a(2)).Len() - 1))
		case OpRange:
			items, rerr := Range(f.scalar(a(2)), f.scalar(a(3)))
			if rerr != nil {
				return Outcome{}, rt.fail(f, rerr)
			}
			regs[a(1)] = NewList(items...)
		case OpQr:
			re, qerr := toRegex(f.scalar(a(2)), f.unit.Strings[a(3)])
			if qerr != nil {
				return Outcome{}, rt.fail(f, qerr)
			}
			regs[a(1)] = NewRef(re)
		case OpMatch:
			res, merr := rt.match(f.scalar(a(2)), f.scalar(a(3)), f.resolve(Context(a(4))))
			if merr != nil {
				return Outcome{}, rt.fail(f, merr)
			}
			regs[a(1)] = res

		default:
			panic(&UnknownOpcode{Op: code[pc], PC: pc, Unit: f.unit.Name})
		}
	}
	// Falling off the end returns the empty list.
	return Normal(returnValue(NewList(), f.ctx)), nil
}

// returnValue converts v for the caller's context. Results are copies so
// the caller never aliases the callee's variables.
func returnValue(v Value, ctx Context) Value {
	switch ctx {
	case ListContext:
		return NewList(CopyAll(Flatten(v))...)
	case ScalarContext:
		return ScalarOf(v).Copy()
	}
	return NewUndef()
}

func (f *frame) popHandler() {
	if len(f.handlers) > 0 {
		f.handlers = f.handlers[:len(f.handlers)-1]
	}
}

// resolve maps RuntimeContext to the frame's own calling context.
func (f *frame) resolve(c Context) Context {
	if c == RuntimeContext {
		return f.ctx
	}
	return c
}

// gather flattens the counted register list starting at word w. The
// result aliases the flattened element scalars but never shares a backing
// slice with a container.
func (f *frame) gather(w int) []*Scalar {
	n := int(f.unit.Code[w])
	var out []*Scalar
	for j := 1; j <= n; j++ {
		out = append(out, Flatten(f.regs[f.unit.Code[w+j]])...)
	}
	return out
}

func (f *frame) values(w int) []Value {
	n := int(f.unit.Code[w])
	out := make([]Value, n)
	for j := 1; j <= n; j++ {
		out[j-1] = f.regs[f.unit.Code[w+j]]
	}
	return out
}

func (f *frame) listAssign(src, w int) Value {
	items := CopyAll(Flatten(f.regs[src]))
	count := len(items)
	n := int(f.unit.Code[w])
	i := 0
	for j := 1; j <= n; j++ {
		switch t := f.regs[f.unit.Code[w+j]].(type) {
		case *Scalar:
			if i < len(items) {
				t.Set(items[i])
			} else {
				t.SetUndef()
			}
			i++
		case *Array:
			if i < len(items) {
				t.Assign(items[i:])
			} else {
				t.Clear()
			}
			i = len(items)
		case *Hash:
			if i < len(items) {
				t.Assign(items[i:])
			} else {
				t.Clear()
			}
			i = len(items)
		default:
			panic(&InternalTypeMismatch{Reg: int(f.unit.Code[w+j]), Want: "assignable", Got: kindName(t)})
		}
	}
	return NewInt(int64(count))
}

func (f *frame) existsOrDelete(op Opcode, rc, rk int) Value {
	key := f.scalar(rk)
	switch c := f.regs[rc].(type) {
	case *Array:
		if op == OpExists {
			return NewBool(c.Exists(int(key.Int())))
		}
		return c.Delete(int(key.Int()))
	case *Hash:
		if op == OpExists {
			return NewBool(c.Exists(key.String()))
		}
		return c.Delete(key.String())
	}
	panic(&InternalTypeMismatch{Reg: rc, Want: "ARRAY or HASH", Got: kindName(f.regs[rc])})
}

func (f *frame) constScalar(k int) *Scalar {
	c := f.unit.Constants[k]
	switch c.Kind {
	case ConstInt:
		return NewInt(c.Int)
	case ConstNum:
		return NewNum(c.Num)
	case ConstStr:
		return NewStr(c.Str)
	}
	panic(&InternalTypeMismatch{Reg: -1, Want: "literal constant", Got: "unit template"})
}

func (f *frame) str(s int) string {
	return f.unit.Strings[s]
}

// Register accessors. A register holding the wrong kind is an engine or
// compiler defect and raises InternalTypeMismatch.

func (f *frame) scalar(r int) *Scalar {
	if s, ok := f.regs[r].(*Scalar); ok {
		return s
	}
	panic(&InternalTypeMismatch{Reg: r, Want: "SCALAR", Got: kindName(f.regs[r])})
}

func (f *frame) array(r int) *Array {
	if a, ok := f.regs[r].(*Array); ok {
		return a
	}
	panic(&InternalTypeMismatch{Reg: r, Want: "ARRAY", Got: kindName(f.regs[r])})
}

func (f *frame) hash(r int) *Hash {
	if h, ok := f.regs[r].(*Hash); ok {
		return h
	}
	panic(&InternalTypeMismatch{Reg: r, Want: "HASH", Got: kindName(f.regs[r])})
}

func (f *frame) codeValue(r int) *Code {
	if c, ok := f.regs[r].(*Code); ok {
		return c
	}
	panic(&InternalTypeMismatch{Reg: r, Want: "CODE", Got: kindName(f.regs[r])})
}

func (f *frame) iterator(r int) *Iterator {
	if it, ok := f.regs[r].(*Iterator); ok {
		return it
	}
	panic(&InternalTypeMismatch{Reg: r, Want: "ITERATOR", Got: kindName(f.regs[r])})
}

func (f *frame) mark(r int) *Mark {
	if m, ok := f.regs[r].(*Mark); ok {
		return m
	}
	panic(&InternalTypeMismatch{Reg: r, Want: "MARK", Got: kindName(f.regs[r])})
}

// refTarget is the referent for \v. Taking a reference to a list yields a
// reference to its last element.
func refTarget(v Value) Value {
	if l, ok := v.(*List); ok {
		return ScalarOf(l)
	}
	return v
}

// deref resolves a reference held in s. With autoviv set, an undef s
// becomes a reference to a fresh container of the requested kind.
func deref(op Opcode, s *Scalar, autoviv bool) (Value, error) {
	want := map[Opcode]Kind{OpDerefScalar: KindScalar, OpDerefArray: KindArray, OpDerefHash: KindHash, OpDerefCode: KindCode}[op]
	if t := s.Deref(); t != nil {
		if t.Kind() == want {
			return t, nil
		}
		return nil, Failf("Not %s reference", article(want))
	}
	if !s.Defined() {
		if !autoviv {
			return nil, Failf("Can't use an undefined value as %s reference", article(want))
		}
		var fresh Value
		switch want {
		case KindScalar:
			fresh = NewUndef()
		case KindArray:
			fresh = NewArray()
		default:
			fresh = NewHash()
		}
		s.SetRef(fresh)
		return fresh, nil
	}
	return nil, Failf("Can't use string (\"%s\") as %s ref while \"strict refs\" in use", truncate(s.String(), 32), article(want))
}

func article(k Kind) string {
	if k == KindArray {
		return "an ARRAY"
	}
	return "a " + k.String()
}
