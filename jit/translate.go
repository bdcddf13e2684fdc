// Package jit translates method bodies from stack-machine bytecode into
// the ir representation by simulating the evaluation stack symbolically.
//
// Each stack position holds the IR expression that computes it. Pure
// expressions stay on the stack and are folded into their consumer;
// calls, allocations and arithmetic are emitted as statements whose
// result lands in an evaluation temporary, and the temporary is pushed
// in their place.
//
// Control flow is walked with an explicit worklist: at a conditional
// branch the fall-through path is translated first and the taken path
// is queued with a snapshot of the stack. Every branch target is a join
// whose stack depth is fixed by the first path that reaches it. Values
// live across a join are carried in temporaries owned by the join: each
// arriving path stores its stack into them, and the join continues with
// the temporaries on the stack.
package jit

import (
	"errors"
	"slices"

	"github.com/tliron/commonlog"

	"github.com/reignstudios/il2x/diag"
	"github.com/reignstudios/il2x/ir"
	"github.com/reignstudios/il2x/metadata"
)

var log = commonlog.GetLogger("il2x.jit")

// item is one simulated stack position. src is the statement that
// wrote op when op is a temporary, and nil otherwise.
type item struct {
	op  ir.Op
	src ir.Producer
}

// join records the first arrival at a branch target.
type join struct {
	depth   int
	label   int
	reached bool
	temps   []*ir.EvalTemp
}

// pending is a queued branch-taken path. label is nonzero when the
// branch jumps to a landing pad that must carry the stack into the join
// before entering it.
type pending struct {
	index int
	label int
	stack []item
}

type translator struct {
	core *metadata.CoreLibrary
	ref  *metadata.MethodRef
	ctx  metadata.Context
	unit *ir.Method
	code []metadata.Instruction

	index   map[int]int  // instruction offset -> position in code
	targets map[int]bool // offsets some branch jumps to
	joins   map[int]*join
	labels  int
	carried map[*ir.EvalTemp]bool

	stack []item
	work  []pending
}

// TranslateMethod translates the body of ref.Method in the generic
// context of ref: the owner instance and the method's own arguments.
func TranslateMethod(ref *metadata.MethodRef, core *metadata.CoreLibrary) (*ir.Method, error) {
	if ref.Method.Body == nil {
		return nil, diag.At(diag.Unsupported, ref.String(), -1, "method has no body")
	}
	t := &translator{
		core:    core,
		ref:     ref,
		ctx:     ref.Context(),
		code:    ref.Method.Body.Instructions,
		index:   make(map[int]int),
		targets: make(map[int]bool),
		joins:   make(map[int]*join),
		carried: make(map[*ir.EvalTemp]bool),
	}
	if err := t.declare(); err != nil {
		return nil, diag.Locate(err, ref.String())
	}
	if err := t.run(); err != nil {
		return nil, err
	}
	log.Debugf("translated %s: %d nodes, %d temps", ref, t.unit.Body.Len(), len(t.unit.Temps))
	return t.unit, nil
}

// ========================================================================
// Declarations
// ========================================================================

func (t *translator) declare() error {
	m := t.ref.Method
	u := &ir.Method{Source: t.ref, InitLocals: m.Body.InitLocals}
	if m.HasThis() {
		u.This = &ir.This{Type: t.ref.Owner}
	}
	ret, err := t.resolve(m.Return)
	if err != nil {
		return err
	}
	u.Return = ret
	for _, p := range m.Params {
		pt, err := t.resolve(p.Type)
		if err != nil {
			return err
		}
		u.Params = append(u.Params, &ir.Param{Index: p.Index, Name: p.Name, Type: pt})
	}
	for _, l := range m.Body.Locals {
		lt, err := t.resolve(l.Type)
		if err != nil {
			return err
		}
		name, _ := m.LocalName(l.Index)
		u.Locals = append(u.Locals, &ir.Local{Index: l.Index, Name: name, Type: lt})
	}
	t.unit = u
	return nil
}

// resolve substitutes the generic context into typ. A parameter left
// unresolved is an error.
func (t *translator) resolve(typ *metadata.Type) (*metadata.Type, error) {
	if typ == nil {
		return t.core.Void, nil
	}
	s := metadata.Substitute(typ, t.ctx)
	if s.ContainsGenericParams() {
		return nil, diag.New(diag.Resolution, "unresolved generic parameter in %s", s.FullName())
	}
	return s, nil
}

// owner resolves a member's owning type. A bare generic definition
// names the open instance, which the context then closes.
func (t *translator) owner(typ *metadata.Type) (*metadata.Type, error) {
	if typ.IsGeneric() {
		typ = metadata.Instantiate(typ, typ.GenericParams...)
	}
	return t.resolve(typ)
}

func (t *translator) methodRef(r *metadata.MethodRef) (*metadata.MethodRef, error) {
	owner, err := t.owner(r.Owner)
	if err != nil {
		return nil, err
	}
	out := &metadata.MethodRef{Method: r.Method, Owner: owner}
	for _, a := range r.Args {
		s, err := t.resolve(a)
		if err != nil {
			return nil, err
		}
		out.Args = append(out.Args, s)
	}
	return out, nil
}

func (t *translator) fieldRef(r *metadata.FieldRef) (*metadata.FieldRef, *metadata.Type, error) {
	owner, err := t.owner(r.Owner)
	if err != nil {
		return nil, nil, err
	}
	out := &metadata.FieldRef{Field: r.Field, Owner: owner}
	ft, err := t.resolve(out.FieldType())
	if err != nil {
		return nil, nil, err
	}
	return out, ft, nil
}

// ========================================================================
// Control flow
// ========================================================================

func (t *translator) run() error {
	for i, in := range t.code {
		t.index[in.Offset] = i
	}
	for _, in := range t.code {
		if in.Op.IsBranch() {
			if _, ok := t.index[in.Target]; !ok {
				return t.fail(in, diag.New(diag.Unsupported, "branch target IL_%04x is not an instruction boundary", in.Target))
			}
			t.targets[in.Target] = true
		}
	}
	if err := t.walk(0); err != nil {
		return err
	}
	for len(t.work) > 0 {
		p := t.work[len(t.work)-1]
		t.work = t.work[:len(t.work)-1]
		if p.label == 0 {
			if j := t.joins[t.code[p.index].Offset]; j != nil && j.reached {
				continue
			}
		} else {
			t.emit(&ir.Marker{Label: p.label})
		}
		t.stack = p.stack
		if err := t.walk(p.index); err != nil {
			return err
		}
	}
	return nil
}

// walk translates one path starting at code[i].
func (t *translator) walk(i int) error {
	for {
		if i >= len(t.code) {
			off := 0
			if len(t.code) > 0 {
				off = t.code[len(t.code)-1].Offset
			}
			return diag.At(diag.Unsupported, t.ref.String(), off, "control falls off the end of the method body")
		}
		in := t.code[i]
		if t.targets[in.Offset] {
			j, err := t.arrive(in, in.Offset)
			if err != nil {
				return err
			}
			t.carry(j)
			if j.reached {
				t.emit(&ir.Branch{Label: j.label})
				t.stack = nil
				return nil
			}
			j.reached = true
			t.emit(&ir.Marker{Label: j.label})
		}
		next, done, err := t.step(in, i)
		if err != nil {
			return t.fail(in, err)
		}
		if done {
			return nil
		}
		i = next
	}
}

// arrive checks the current stack against the join for offset. The
// first arrival fixes the depth and the types of the join temporaries.
func (t *translator) arrive(in metadata.Instruction, offset int) (*join, error) {
	j := t.joins[offset]
	if j == nil {
		t.labels++
		j = &join{depth: len(t.stack), label: t.labels}
		for _, it := range t.stack {
			tmp := &ir.EvalTemp{Index: len(t.unit.Temps), Type: ir.TypeOf(it.op)}
			t.unit.Temps = append(t.unit.Temps, tmp)
			t.carried[tmp] = true
			j.temps = append(j.temps, tmp)
		}
		t.joins[offset] = j
	}
	if j.depth != len(t.stack) {
		return nil, t.stackError(in, "stack depth %d at join IL_%04x, previously %d", len(t.stack), offset, j.depth)
	}
	return j, nil
}

// carry stores the stack into j's temporaries and leaves them in its
// place. A value that reads a temporary an earlier position overwrites
// is moved aside first.
func (t *translator) carry(j *join) {
	if len(j.temps) == 0 {
		return
	}
	for i, it := range t.stack {
		if !readsAny(it.op, j.temps[:i]) {
			continue
		}
		w := &ir.WriteLocal{Value: it.op}
		tmp := t.allocTemp(ir.TypeOf(it.op))
		ir.SetResult(w, tmp)
		t.emit(w)
		if it.src != nil {
			it.src.ResultDest().Uses++
		}
		t.stack[i] = item{op: tmp, src: w}
	}
	for i, it := range t.stack {
		tmp := j.temps[i]
		if it.op == ir.Op(tmp) {
			continue
		}
		w := &ir.WriteLocal{Value: it.op}
		ir.SetResult(w, tmp)
		t.emit(w)
		if it.src != nil {
			it.src.ResultDest().Uses++
		}
	}
	for i, tmp := range j.temps {
		t.stack[i] = item{op: tmp}
	}
}

func readsAny(op ir.Op, temps []*ir.EvalTemp) bool {
	for _, tmp := range temps {
		if ir.Reads(op, tmp) {
			return true
		}
	}
	return false
}

func (t *translator) endPath(in metadata.Instruction) error {
	if len(t.stack) > 0 {
		return t.stackError(in, "values left on the stack at end of path")
	}
	return nil
}

func (t *translator) stackError(in metadata.Instruction, format string, args ...any) error {
	e := diag.At(diag.Stack, t.ref.String(), in.Offset, format, args...)
	for _, it := range t.stack {
		e.Stack = append(e.Stack, ir.Format(it.op))
	}
	return e
}

// fail attaches the method and instruction to err.
func (t *translator) fail(in metadata.Instruction, err error) error {
	var e *diag.Error
	if errors.As(err, &e) && e.Offset < 0 {
		e.Offset = in.Offset
	}
	return diag.Locate(err, t.ref.String())
}

// ========================================================================
// Stack
// ========================================================================

func (t *translator) emit(op ir.Op) {
	t.unit.Body.Append(op)
}

func (t *translator) push(op ir.Op) {
	t.stack = append(t.stack, item{op: op})
}

// pop removes the top item and counts its consumption.
func (t *translator) pop() (item, error) {
	it, err := t.take()
	if err != nil {
		return it, err
	}
	if it.src != nil {
		it.src.ResultDest().Uses++
	}
	return it, nil
}

// take removes the top item without counting a use.
func (t *translator) take() (item, error) {
	if len(t.stack) == 0 {
		return item{}, diag.New(diag.Stack, "evaluation stack underflow")
	}
	it := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	return it, nil
}

func (t *translator) popN(n int) ([]item, error) {
	if len(t.stack) < n {
		return nil, diag.New(diag.Stack, "evaluation stack underflow: need %d, have %d", n, len(t.stack))
	}
	out := make([]item, n)
	for i := n - 1; i >= 0; i-- {
		out[i], _ = t.pop()
	}
	return out, nil
}

// allocTemp returns a temporary of type typ that no stack item and no
// node in keep references, creating one when the pool has none. Join
// temporaries are never pooled.
func (t *translator) allocTemp(typ *metadata.Type, keep ...ir.Op) *ir.EvalTemp {
	for _, tmp := range t.unit.Temps {
		if metadata.SameType(tmp.Type, typ) && !t.carried[tmp] && !t.live(tmp, keep) {
			return tmp
		}
	}
	tmp := &ir.EvalTemp{Index: len(t.unit.Temps), Type: typ}
	t.unit.Temps = append(t.unit.Temps, tmp)
	return tmp
}

func (t *translator) live(tmp *ir.EvalTemp, keep []ir.Op) bool {
	for _, it := range t.stack {
		if ir.Reads(it.op, tmp) {
			return true
		}
	}
	for _, op := range keep {
		if ir.Reads(op, tmp) {
			return true
		}
	}
	return false
}

// produce emits p with its result in a fresh temporary and pushes the
// temporary.
func (t *translator) produce(p ir.Producer, typ *metadata.Type, keep ...ir.Op) {
	tmp := t.allocTemp(typ, keep...)
	ir.SetResult(p, tmp)
	t.emit(p)
	t.stack = append(t.stack, item{op: tmp, src: p})
}

// spill evaluates every stack item matching pred into a temporary so a
// following write cannot change the value it observes. keep lists
// consumed operands whose temporaries must survive the spill.
func (t *translator) spill(pred func(ir.Op) bool, keep []ir.Op) {
	done := make(map[ir.Op]item)
	for i, it := range t.stack {
		if _, ok := it.op.(*ir.EvalTemp); ok || !pred(it.op) {
			continue
		}
		if s, ok := done[it.op]; ok {
			t.stack[i] = s
			continue
		}
		w := &ir.WriteLocal{Value: it.op}
		tmp := t.allocTemp(ir.TypeOf(it.op), keep...)
		ir.SetResult(w, tmp)
		t.emit(w)
		s := item{op: tmp, src: w}
		done[it.op] = s
		t.stack[i] = s
	}
}

func (t *translator) spillSlot(s ir.Slot, keep ...ir.Op) {
	t.spill(func(op ir.Op) bool { return ir.Reads(op, s) }, keep)
}

// spillMemory protects stack items from a store or call that may write
// memory. Slots whose address escapes through args are protected too.
func (t *translator) spillMemory(args ...ir.Op) {
	var escaped []ir.Slot
	for _, a := range args {
		ir.Walk(a, func(o ir.Op) bool {
			if addr, ok := o.(*ir.AddressOf); ok {
				if s, ok := addr.Value.(ir.Slot); ok {
					escaped = append(escaped, s)
				}
			}
			return true
		})
	}
	t.spill(func(op ir.Op) bool {
		if ir.ReadsMemory(op) {
			return true
		}
		for _, s := range escaped {
			if ir.Reads(op, s) {
				return true
			}
		}
		return false
	}, args)
}

func ops(items []item) []ir.Op {
	out := make([]ir.Op, len(items))
	for i, it := range items {
		out[i] = it.op
	}
	return out
}

// ========================================================================
// Instructions
// ========================================================================

// step translates one instruction. It returns the index of the next
// instruction on this path, or done when the path ends.
func (t *translator) step(in metadata.Instruction, i int) (next int, done bool, err error) {
	next = i + 1
	switch in.Op {
	case metadata.OpNop:

	case metadata.OpLdnull:
		t.push(&ir.Literal{Type: t.core.Object, Null: true})
	case metadata.OpLdcI4:
		t.push(&ir.Literal{Type: t.core.Int32, Int: in.Int})
	case metadata.OpLdcI8:
		t.push(&ir.Literal{Type: t.core.Int64, Int: in.Int})
	case metadata.OpLdcR4:
		t.push(&ir.Literal{Type: t.core.Single, Float: in.Float})
	case metadata.OpLdcR8:
		t.push(&ir.Literal{Type: t.core.Double, Float: in.Float})
	case metadata.OpLdstr:
		t.push(&ir.String{Value: in.Str, Type: t.core.String})

	case metadata.OpDup:
		if len(t.stack) == 0 {
			return 0, false, diag.New(diag.Stack, "evaluation stack underflow")
		}
		t.stack = append(t.stack, t.stack[len(t.stack)-1])
	case metadata.OpPop:
		err = t.discard()

	case metadata.OpLdarg:
		var op ir.Op
		op, err = t.arg(in.Index)
		if err == nil {
			t.push(op)
		}
	case metadata.OpLdarga:
		var op ir.Op
		op, err = t.arg(in.Index)
		if err == nil {
			if _, ok := op.(*ir.This); ok {
				return 0, false, diag.New(diag.Policy, "address of the receiver")
			}
			t.push(&ir.AddressOf{Value: op, Type: metadata.ByRefTo(ir.TypeOf(op))})
		}
	case metadata.OpStarg:
		var op ir.Op
		op, err = t.arg(in.Index)
		if err == nil {
			p, ok := op.(*ir.Param)
			if !ok {
				return 0, false, diag.New(diag.Unsupported, "store to the receiver")
			}
			err = t.store(p)
		}
	case metadata.OpLdloc:
		var l *ir.Local
		l, err = t.local(in.Index)
		if err == nil {
			t.push(l)
		}
	case metadata.OpLdloca:
		var l *ir.Local
		l, err = t.local(in.Index)
		if err == nil {
			t.push(&ir.AddressOf{Value: l, Type: metadata.ByRefTo(l.Type)})
		}
	case metadata.OpStloc:
		var l *ir.Local
		l, err = t.local(in.Index)
		if err == nil {
			err = t.store(l)
		}

	case metadata.OpLdfld, metadata.OpLdflda:
		err = t.loadField(in)
	case metadata.OpStfld:
		err = t.storeField(in)
	case metadata.OpLdsfld:
		err = t.loadStatic(in)
	case metadata.OpStsfld:
		err = t.storeStatic(in)
	case metadata.OpInitobj:
		err = t.initObject(in)
	case metadata.OpSizeof:
		var of *metadata.Type
		of, err = t.resolve(in.Type)
		if err == nil {
			t.push(&ir.SizeOf{Of: of, Type: t.core.Int32})
		}
	case metadata.OpNewobj:
		err = t.newObject(in)

	case metadata.OpAdd, metadata.OpSub, metadata.OpMul, metadata.OpDiv, metadata.OpRem,
		metadata.OpAnd, metadata.OpOr, metadata.OpXor,
		metadata.OpShl, metadata.OpShr, metadata.OpShrUn:
		err = t.arith(in.Op)
	case metadata.OpNeg, metadata.OpNot:
		err = t.unary(in.Op)
	case metadata.OpConvI1, metadata.OpConvI2, metadata.OpConvI4, metadata.OpConvI8,
		metadata.OpConvU1, metadata.OpConvU2, metadata.OpConvU4, metadata.OpConvU8,
		metadata.OpConvR4, metadata.OpConvR8:
		err = t.convert(in.Op)
	case metadata.OpCeq, metadata.OpCgt, metadata.OpCgtUn, metadata.OpClt, metadata.OpCltUn:
		err = t.compare(in.Op)

	case metadata.OpBr:
		var j *join
		j, err = t.arrive(in, in.Target)
		if err != nil {
			return 0, false, err
		}
		if j.reached {
			t.carry(j)
			t.emit(&ir.Branch{Label: j.label})
			t.stack = nil
			return 0, true, nil
		}
		return t.index[in.Target], false, nil
	case metadata.OpBrfalse, metadata.OpBrtrue, metadata.OpBeq, metadata.OpBneUn,
		metadata.OpBge, metadata.OpBgt, metadata.OpBle, metadata.OpBlt,
		metadata.OpBgeUn, metadata.OpBgtUn, metadata.OpBleUn, metadata.OpBltUn:
		err = t.branch(in)

	case metadata.OpRet:
		return 0, true, t.ret(in)

	case metadata.OpCall, metadata.OpCallvirt:
		err = t.call(in)

	default:
		return 0, false, diag.New(diag.Unsupported, "opcode %s", in.Op)
	}
	return next, false, err
}

func (t *translator) arg(index int) (ir.Op, error) {
	if t.unit.This != nil {
		if index == 0 {
			return t.unit.This, nil
		}
		index--
	}
	if index < 0 || index >= len(t.unit.Params) {
		return nil, diag.New(diag.Resolution, "argument %d out of range", index)
	}
	return t.unit.Params[index], nil
}

func (t *translator) local(index int) (*ir.Local, error) {
	if index < 0 || index >= len(t.unit.Locals) {
		return nil, diag.New(diag.Resolution, "local %d out of range", index)
	}
	return t.unit.Locals[index], nil
}

// discard pops the top item for a pop instruction. A call whose value
// nobody consumed keeps running for its effect but loses its result.
// Queued paths still holding the value keep it alive.
func (t *translator) discard() error {
	it, err := t.take()
	if err != nil {
		return err
	}
	call, ok := it.src.(*ir.Call)
	if !ok || call.Uses > 0 || holds(t.stack, it.src) {
		return nil
	}
	for _, p := range t.work {
		if holds(p.stack, it.src) {
			return nil
		}
	}
	ir.SetResult(call, nil)
	return nil
}

func holds(stack []item, src ir.Producer) bool {
	for _, it := range stack {
		if it.src == src {
			return true
		}
	}
	return false
}

func (t *translator) store(s ir.Slot) error {
	v, err := t.pop()
	if err != nil {
		return err
	}
	t.spillSlot(s, v.op)
	w := &ir.WriteLocal{Value: v.op}
	ir.SetResult(w, s)
	t.emit(w)
	return nil
}

func (t *translator) loadField(in metadata.Instruction) error {
	if in.Field.Field.Static {
		return diag.New(diag.Unsupported, "%s on static field %s", in.Op, in.Field)
	}
	ref, ft, err := t.fieldRef(in.Field)
	if err != nil {
		return err
	}
	owner, err := t.pop()
	if err != nil {
		return err
	}
	f := &ir.Field{Ref: ref, Owner: owner.op, Type: ft}
	if in.Op == metadata.OpLdflda {
		t.push(&ir.AddressOf{Value: f, Type: metadata.ByRefTo(ft)})
		return nil
	}
	t.push(f)
	return nil
}

func (t *translator) storeField(in metadata.Instruction) error {
	if in.Field.Field.Static {
		return diag.New(diag.Unsupported, "stfld on static field %s", in.Field)
	}
	ref, ft, err := t.fieldRef(in.Field)
	if err != nil {
		return err
	}
	args, err := t.popN(2)
	if err != nil {
		return err
	}
	t.spillMemory(ops(args)...)
	t.emit(&ir.WriteField{
		Target: &ir.Field{Ref: ref, Owner: args[0].op, Type: ft},
		Value:  args[1].op,
	})
	return nil
}

func (t *translator) loadStatic(in metadata.Instruction) error {
	if !in.Field.Field.Static {
		return diag.New(diag.Unsupported, "ldsfld on instance field %s", in.Field)
	}
	ref, ft, err := t.fieldRef(in.Field)
	if err != nil {
		return err
	}
	t.push(&ir.StaticField{Ref: ref, Type: ft})
	return nil
}

func (t *translator) storeStatic(in metadata.Instruction) error {
	if !in.Field.Field.Static {
		return diag.New(diag.Unsupported, "stsfld on instance field %s", in.Field)
	}
	ref, ft, err := t.fieldRef(in.Field)
	if err != nil {
		return err
	}
	v, err := t.pop()
	if err != nil {
		return err
	}
	t.spillMemory(v.op)
	t.emit(&ir.WriteField{Target: &ir.StaticField{Ref: ref, Type: ft}, Value: v.op})
	return nil
}

func (t *translator) initObject(in metadata.Instruction) error {
	typ, err := t.resolve(in.Type)
	if err != nil {
		return err
	}
	addr, err := t.pop()
	if err != nil {
		return err
	}
	t.spillMemory(addr.op)
	t.emit(&ir.InitObject{Target: addr.op, Type: typ})
	return nil
}

func (t *translator) newObject(in metadata.Instruction) error {
	ctor, err := t.methodRef(in.Method)
	if err != nil {
		return err
	}
	if !ctor.Method.IsConstructor() || !ctor.Method.HasThis() {
		return diag.New(diag.Resolution, "newobj target %s is not an instance constructor", ctor)
	}
	typ := ctor.Owner
	if typ.Def().Kind == metadata.Interface || typ.IsGeneric() {
		return diag.New(diag.Policy, "cannot construct %s", typ.FullName())
	}
	args, err := t.popN(len(ctor.Method.Params))
	if err != nil {
		return err
	}
	argOps := ops(args)

	if typ.IsValueType() {
		tmp := t.allocTemp(typ, argOps...)
		// The zero-fill counts as the temporary's writer.
		tmp.Refs++
		addr := &ir.AddressOf{Value: tmp, Type: metadata.ByRefTo(typ)}
		t.emit(&ir.InitObject{Target: addr, Type: typ})
		t.spillMemory(argOps...)
		t.emit(&ir.Call{Method: ctor, Args: append([]ir.Op{addr}, argOps...), Type: t.core.Void})
		t.push(tmp)
		return nil
	}

	n := &ir.New{Type: typ}
	tmp := t.allocTemp(typ, argOps...)
	ir.SetResult(n, tmp)
	t.emit(n)
	n.Uses++
	t.spillMemory(argOps...)
	t.emit(&ir.Call{Method: ctor, Args: append([]ir.Op{tmp}, argOps...), Type: t.core.Void})
	t.stack = append(t.stack, item{op: tmp, src: n})
	return nil
}

var arithOps = map[metadata.Opcode]ir.ArithOp{
	metadata.OpAdd: ir.Add, metadata.OpSub: ir.Sub, metadata.OpMul: ir.Mul,
	metadata.OpDiv: ir.Div, metadata.OpRem: ir.Rem,
	metadata.OpAnd: ir.And, metadata.OpOr: ir.Or, metadata.OpXor: ir.Xor,
	metadata.OpShl: ir.Shl, metadata.OpShr: ir.Shr, metadata.OpShrUn: ir.ShrUn,
}

func (t *translator) arith(op metadata.Opcode) error {
	args, err := t.popN(2)
	if err != nil {
		return err
	}
	a, b := ir.TypeOf(args[0].op), ir.TypeOf(args[1].op)
	kind := arithOps[op]
	var typ *metadata.Type
	switch kind {
	case ir.Shl, ir.Shr, ir.ShrUn:
		if isFloat(a) || isFloat(b) {
			return diag.New(diag.Unsupported, "%s on floating point", op)
		}
		if _, err := promoteUnary(t.core, b); err != nil {
			return err
		}
		typ, err = promoteUnary(t.core, a)
	default:
		typ, err = Promote(t.core, a, b)
		if err == nil && isFloat(typ) {
			switch kind {
			case ir.Rem, ir.And, ir.Or, ir.Xor:
				return diag.New(diag.Unsupported, "%s on floating point", op)
			}
		}
	}
	if err != nil {
		return err
	}
	t.produce(&ir.Arith{Op: kind, Left: args[0].op, Right: args[1].op, Type: typ}, typ)
	return nil
}

func (t *translator) unary(op metadata.Opcode) error {
	v, err := t.pop()
	if err != nil {
		return err
	}
	typ, err := promoteUnary(t.core, ir.TypeOf(v.op))
	if err != nil {
		return err
	}
	kind := ir.Neg
	if op == metadata.OpNot {
		if isFloat(typ) {
			return diag.New(diag.Unsupported, "not on floating point")
		}
		kind = ir.Not
	}
	t.produce(&ir.Unary{Op: kind, Value: v.op, Type: typ}, typ)
	return nil
}

func (t *translator) convert(op metadata.Opcode) error {
	v, err := t.pop()
	if err != nil {
		return err
	}
	if _, ok := numericRank(ir.TypeOf(v.op)); !ok {
		return diag.New(diag.Unsupported, "%s of %s", op, typeName(ir.TypeOf(v.op)))
	}
	var typ *metadata.Type
	switch op {
	case metadata.OpConvI1:
		typ = t.core.SByte
	case metadata.OpConvI2:
		typ = t.core.Int16
	case metadata.OpConvI4:
		typ = t.core.Int32
	case metadata.OpConvI8:
		typ = t.core.Int64
	case metadata.OpConvU1:
		typ = t.core.Byte
	case metadata.OpConvU2:
		typ = t.core.UInt16
	case metadata.OpConvU4:
		typ = t.core.UInt32
	case metadata.OpConvU8:
		typ = t.core.UInt64
	case metadata.OpConvR4:
		typ = t.core.Single
	default:
		typ = t.core.Double
	}
	t.produce(&ir.Convert{Value: v.op, Type: typ}, typ)
	return nil
}

var compareOps = map[metadata.Opcode]ir.CompareOp{
	metadata.OpCeq: ir.Eq, metadata.OpCgt: ir.Gt, metadata.OpClt: ir.Lt,
	metadata.OpCgtUn: ir.GtUn, metadata.OpCltUn: ir.LtUn,
}

func (t *translator) compare(op metadata.Opcode) error {
	args, err := t.popN(2)
	if err != nil {
		return err
	}
	t.produce(&ir.Compare{Op: compareOps[op], Left: args[0].op, Right: args[1].op, Type: t.core.Int32}, t.core.Int32)
	return nil
}

var condOps = map[metadata.Opcode]ir.CondOp{
	metadata.OpBrtrue: ir.IfTrue, metadata.OpBrfalse: ir.IfFalse,
	metadata.OpBeq: ir.IfEq, metadata.OpBneUn: ir.IfNe,
	metadata.OpBge: ir.IfGe, metadata.OpBgt: ir.IfGt, metadata.OpBle: ir.IfLe, metadata.OpBlt: ir.IfLt,
	metadata.OpBgeUn: ir.IfGeUn, metadata.OpBgtUn: ir.IfGtUn, metadata.OpBleUn: ir.IfLeUn, metadata.OpBltUn: ir.IfLtUn,
}

func (t *translator) branch(in metadata.Instruction) error {
	n := 2
	if in.Op == metadata.OpBrtrue || in.Op == metadata.OpBrfalse {
		n = 1
	}
	args, err := t.popN(n)
	if err != nil {
		return err
	}
	j, err := t.arrive(in, in.Target)
	if err != nil {
		return err
	}
	p := pending{index: t.index[in.Target], stack: slices.Clone(t.stack)}
	label := j.label
	if len(t.stack) > 0 {
		t.labels++
		p.label, label = t.labels, t.labels
	}
	b := &ir.BranchCond{Cond: condOps[in.Op], Left: args[0].op, Label: label}
	if n == 2 {
		b.Right = args[1].op
	}
	t.emit(b)
	if p.label != 0 || !j.reached {
		t.work = append(t.work, p)
	}
	return nil
}

func (t *translator) ret(in metadata.Instruction) error {
	if t.unit.Return.IsVoid() {
		t.emit(&ir.ReturnVoid{})
		return t.endPath(in)
	}
	v, err := t.pop()
	if err != nil {
		return err
	}
	t.emit(&ir.ReturnValue{Value: v.op})
	return t.endPath(in)
}

func (t *translator) call(in metadata.Instruction) error {
	ref, err := t.methodRef(in.Method)
	if err != nil {
		return err
	}
	m := ref.Method
	if m.IsGeneric() && len(ref.Args) != len(m.GenericParams) {
		return diag.New(diag.Resolution, "%s needs %d generic arguments", ref, len(m.GenericParams))
	}
	n := len(m.Params)
	if m.HasThis() {
		n++
	}
	args, err := t.popN(n)
	if err != nil {
		return err
	}
	argOps := ops(args)
	c := &ir.Call{Method: ref, Args: argOps}

	if in.Op == metadata.OpCallvirt && m.IsVirtual() && !m.IsFinal() {
		if ref.Owner.Def().Kind == metadata.Interface {
			return diag.New(diag.Unsupported, "interface dispatch to %s", ref)
		}
		recv := ir.TypeOf(argOps[0])
		if !recv.IsReferenceType() {
			return diag.New(diag.Unsupported, "virtual call on value receiver %s", typeName(recv))
		}
		if !metadata.IsAssignableTo(recv, ref.Owner) {
			return diag.New(diag.Resolution, "receiver %s does not derive from %s", recv.FullName(), ref.Owner.FullName())
		}
		slot, err := metadata.SlotOf(ref)
		if err != nil {
			return err
		}
		impl, err := metadata.ImplementationOf(recv, slot)
		if err != nil {
			return err
		}
		c.Method, c.Virtual, c.Slot = impl, true, slot
	} else if m.IsAbstract() {
		return diag.New(diag.Resolution, "direct call to abstract %s", ref)
	}

	ret, err := t.resolve(ref.ReturnType())
	if err != nil {
		return err
	}
	c.Type = ret
	t.spillMemory(argOps...)
	if ret.IsVoid() {
		t.emit(c)
		return nil
	}
	t.produce(c, ret, argOps...)
	return nil
}
