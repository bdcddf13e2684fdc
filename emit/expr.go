package emit

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/reignstudios/il2x/diag"
	"github.com/reignstudios/il2x/ir"
	"github.com/reignstudios/il2x/metadata"
)

// body lowers one translation unit to a C function definition.
type body struct {
	names  *Namer
	mod    *moduleState
	unit   *ir.Method
	locals []string
	params []string
	w      writer
}

var arithSymbols = [...]string{
	ir.Add: "+", ir.Sub: "-", ir.Mul: "*", ir.Div: "/", ir.Rem: "%",
	ir.And: "&", ir.Or: "|", ir.Xor: "^", ir.Shl: "<<", ir.Shr: ">>", ir.ShrUn: ">>",
}

var condSymbols = [...]string{
	ir.IfEq: "==", ir.IfNe: "!=",
	ir.IfGt: ">", ir.IfLt: "<", ir.IfGe: ">=", ir.IfLe: "<=",
	ir.IfGtUn: ">", ir.IfLtUn: "<", ir.IfGeUn: ">=", ir.IfLeUn: "<=",
}

// negated spells the comparison that holds exactly when an ordered
// comparison by the key fails.
var negated = map[string]string{">": "<=", "<": ">=", ">=": "<", "<=": ">"}

// ctype spells t and records that the artifact needs it declared.
func (b *body) ctype(t *metadata.Type) (string, error) {
	b.mod.mention(strip(t))
	return b.names.CType(t)
}

// cast converts a lowered expression between pointer spellings. Other
// conversions are left to C.
func (b *body) cast(expr string, from, to *metadata.Type) (string, error) {
	if from == nil || to == nil {
		return expr, nil
	}
	fc, err := b.ctype(from)
	if err != nil {
		return "", err
	}
	tc, err := b.ctype(to)
	if err != nil {
		return "", err
	}
	if fc != tc && isPointer(fc) && isPointer(tc) {
		return fmt.Sprintf("((%s)%s)", tc, expr), nil
	}
	return expr, nil
}

func (b *body) slot(s ir.Slot) string {
	switch n := s.(type) {
	case *ir.Local:
		return b.locals[n.Index]
	case *ir.Param:
		return b.params[n.Index]
	case *ir.EvalTemp:
		return Temp(n)
	}
	return "?"
}

// expr lowers a value or a folded producer.
func (b *body) expr(op ir.Op) (string, error) {
	switch n := op.(type) {
	case *ir.This:
		b.mod.mention(n.Type)
		return "self", nil
	case *ir.Local, *ir.Param, *ir.EvalTemp:
		return b.slot(n.(ir.Slot)), nil
	case *ir.Literal:
		return literal(n), nil
	case *ir.String:
		b.mod.mention(n.Type)
		return fmt.Sprintf("((%s*)&StringLiteral_%d)", b.names.Type(n.Type), b.mod.intern(n.Value)), nil
	case *ir.SizeOf:
		ct, err := b.ctype(n.Of)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("((int32_t)sizeof(%s))", ct), nil
	case *ir.Field:
		return b.field(n)
	case *ir.StaticField:
		b.mod.mention(n.Ref.Owner)
		return b.names.StaticField(n.Ref), nil
	case *ir.AddressOf:
		return b.addressOf(n)
	case *ir.Arith:
		return b.arith(n)
	case *ir.Unary:
		v, err := b.operand(n.Value, n.Type)
		if err != nil {
			return "", err
		}
		if n.Op == ir.Neg {
			return "(-" + v + ")", nil
		}
		return "(~" + v + ")", nil
	case *ir.Compare:
		return b.compare(n)
	case *ir.Convert:
		v, err := b.expr(n.Value)
		if err != nil {
			return "", err
		}
		ct, err := b.ctype(n.Type)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("((%s)%s)", ct, v), nil
	case *ir.Call:
		return b.call(n)
	case *ir.New:
		b.mod.mention(n.Type)
		t := b.names.Type(n.Type)
		return fmt.Sprintf("((%s*)IL2X_GC_NewObject(sizeof(%s), &%s))", t, t, b.names.RuntimeTypeInstance(n.Type)), nil
	case *ir.WriteLocal:
		return b.expr(n.Value)
	}
	return "", diag.New(diag.Unsupported, "%s node in expression position", op.Kind())
}

// operand lowers op, casting it to want when the C spellings differ.
func (b *body) operand(op ir.Op, want *metadata.Type) (string, error) {
	v, err := b.expr(op)
	if err != nil {
		return "", err
	}
	have, err := b.ctype(ir.TypeOf(op))
	if err != nil {
		return "", err
	}
	ct, err := b.ctype(want)
	if err != nil {
		return "", err
	}
	if have != ct {
		return fmt.Sprintf("((%s)%s)", ct, v), nil
	}
	return v, nil
}

func literal(n *ir.Literal) string {
	if n.Null {
		return "0"
	}
	switch n.Type.Prim {
	case metadata.Single:
		return floatLiteral(n.Float, 32) + "f"
	case metadata.Double:
		return floatLiteral(n.Float, 64)
	case metadata.Int32:
		if n.Int == math.MinInt32 {
			return "(-2147483647 - 1)"
		}
		return strconv.FormatInt(n.Int, 10)
	case metadata.UInt32:
		return strconv.FormatUint(uint64(uint32(n.Int)), 10) + "u"
	case metadata.Int64:
		if n.Int == math.MinInt64 {
			return "(-9223372036854775807ll - 1)"
		}
		return strconv.FormatInt(n.Int, 10) + "ll"
	case metadata.UInt64:
		return strconv.FormatUint(uint64(n.Int), 10) + "ull"
	}
	return strconv.FormatInt(n.Int, 10)
}

func floatLiteral(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NAN"
	case math.IsInf(f, 1):
		return "INFINITY"
	case math.IsInf(f, -1):
		return "(-INFINITY)"
	}
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(s, ".en") {
		s += ".0"
	}
	return s
}

// field walks the owner chain of a field read down to its root,
// choosing '->' for pointer-like owners and '.' for inline values.
func (b *body) field(n *ir.Field) (string, error) {
	owner, err := b.expr(n.Owner)
	if err != nil {
		return "", err
	}
	ot := ir.TypeOf(n.Owner)
	b.mod.mention(strip(ot))
	sep := "."
	if _, ok := n.Owner.(*ir.This); ok || ot.Kind == metadata.Pointer || ot.Kind == metadata.ByRef || ot.IsReferenceType() {
		sep = "->"
	}
	return owner + sep + b.names.Field(n.Ref.Field), nil
}

func (b *body) addressOf(n *ir.AddressOf) (string, error) {
	switch v := n.Value.(type) {
	case *ir.This:
		if !v.Type.IsValueType() {
			break
		}
		return "self", nil
	case *ir.Local, *ir.Param, *ir.EvalTemp, *ir.Field, *ir.StaticField:
		s, err := b.expr(v)
		if err != nil {
			return "", err
		}
		return "(&" + s + ")", nil
	}
	return "", diag.New(diag.Policy, "address of non-addressable %s", n.Value.Kind())
}

func (b *body) arith(n *ir.Arith) (string, error) {
	l, err := b.operand(n.Left, n.Type)
	if err != nil {
		return "", err
	}
	if n.Op == ir.Shl || n.Op == ir.Shr || n.Op == ir.ShrUn {
		// The shift count keeps its own type.
		r, err := b.expr(n.Right)
		if err != nil {
			return "", err
		}
		if n.Op == ir.ShrUn {
			if u := unsignedOf(n.Type); u != "" {
				ct, err := b.ctype(n.Type)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("((%s)((%s)%s >> %s))", ct, u, l, r), nil
			}
		}
		return fmt.Sprintf("(%s %s %s)", l, arithSymbols[n.Op], r), nil
	}
	r, err := b.operand(n.Right, n.Type)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s %s %s)", l, arithSymbols[n.Op], r), nil
}

func (b *body) compare(n *ir.Compare) (string, error) {
	var cond string
	var err error
	switch n.Op {
	case ir.Eq:
		cond, err = b.relation(n.Left, n.Right, "==", false)
	case ir.Gt:
		cond, err = b.relation(n.Left, n.Right, ">", false)
	case ir.Lt:
		cond, err = b.relation(n.Left, n.Right, "<", false)
	case ir.GtUn:
		cond, err = b.relation(n.Left, n.Right, ">", true)
	case ir.LtUn:
		cond, err = b.relation(n.Left, n.Right, "<", true)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("((%s) ? 1 : 0)", cond), nil
}

// relation lowers a binary comparison. Unsigned relations compare
// integers through an unsigned type and hold for unordered floats.
func (b *body) relation(left, right ir.Op, sym string, unsigned bool) (string, error) {
	l, err := b.expr(left)
	if err != nil {
		return "", err
	}
	r, err := b.expr(right)
	if err != nil {
		return "", err
	}
	if !unsigned || sym == "==" || sym == "!=" {
		return fmt.Sprintf("%s %s %s", l, sym, r), nil
	}
	lt, rt := ir.TypeOf(left), ir.TypeOf(right)
	if isFloat(lt) || isFloat(rt) {
		return fmt.Sprintf("!(%s %s %s)", l, negated[sym], r), nil
	}
	u := compareAs(lt, rt)
	return fmt.Sprintf("(%s)%s %s (%s)%s", u, l, sym, u, r), nil
}

func (b *body) condition(n *ir.BranchCond) (string, error) {
	switch n.Cond {
	case ir.IfTrue:
		return b.expr(n.Left)
	case ir.IfFalse:
		v, err := b.expr(n.Left)
		if err != nil {
			return "", err
		}
		return "!" + v, nil
	}
	unsigned := n.Cond >= ir.IfGtUn
	return b.relation(n.Left, n.Right, condSymbols[n.Cond], unsigned)
}

func (b *body) call(n *ir.Call) (string, error) {
	var params []*metadata.Type
	var callee string
	if n.Virtual {
		b.mod.mention(n.Slot.Owner)
		params = n.Slot.ParamTypes()
		recv, err := b.expr(n.Args[0])
		if err != nil {
			return "", err
		}
		callee = fmt.Sprintf("((%s*)(%s)->RuntimeType)->%s", b.names.RuntimeType(n.Slot.Owner), recv, b.names.Slot(n.Slot))
	} else {
		b.mod.mention(n.Method.Owner)
		params = n.Method.ParamTypes()
		callee = b.names.Method(n.Method)
	}
	if n.Method.Method.HasThis() {
		params = append([]*metadata.Type{selfType(n.Method.Owner)}, params...)
	}
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		s, err := b.expr(a)
		if err != nil {
			return "", err
		}
		if i < len(params) && !(n.Virtual && i == 0) {
			if s, err = b.cast(s, ir.TypeOf(a), params[i]); err != nil {
				return "", err
			}
		}
		args[i] = s
	}
	return callee + "(" + strings.Join(args, ", ") + ")", nil
}

// selfType is the receiver type of instance methods on owner: a pointer
// to the object or to the value.
func selfType(owner *metadata.Type) *metadata.Type {
	if owner.IsValueType() {
		return metadata.ByRefTo(owner)
	}
	return owner
}

// statement lowers one node to a line.
func (b *body) statement(op ir.Op) error {
	switch n := op.(type) {
	case *ir.Marker:
		b.w.writeLabel(ir.LabelName(n.Label))
		return nil
	case *ir.Branch:
		b.w.writeLine("goto %s;", ir.LabelName(n.Label))
		return nil
	case *ir.BranchCond:
		c, err := b.condition(n)
		if err != nil {
			return err
		}
		b.w.writeLine("if (%s) goto %s;", c, ir.LabelName(n.Label))
		return nil
	case *ir.ReturnVoid:
		b.w.writeLine("return;")
		return nil
	case *ir.ReturnValue:
		v, err := b.expr(n.Value)
		if err != nil {
			return err
		}
		if v, err = b.cast(v, ir.TypeOf(n.Value), b.unit.Return); err != nil {
			return err
		}
		b.w.writeLine("return %s;", v)
		return nil
	case *ir.WriteField:
		target, err := b.expr(n.Target)
		if err != nil {
			return err
		}
		v, err := b.expr(n.Value)
		if err != nil {
			return err
		}
		if v, err = b.cast(v, ir.TypeOf(n.Value), ir.TypeOf(n.Target)); err != nil {
			return err
		}
		b.w.writeLine("%s = %s;", target, v)
		return nil
	case *ir.InitObject:
		target, err := b.expr(n.Target)
		if err != nil {
			return err
		}
		ct, err := b.ctype(n.Type)
		if err != nil {
			return err
		}
		b.w.writeLine("memset(%s, 0, sizeof(%s));", target, ct)
		return nil
	case ir.Producer:
		v, err := b.expr(n)
		if err != nil {
			return err
		}
		d := n.ResultDest()
		if d.Result == nil {
			if _, ok := n.(*ir.Call); ok {
				b.w.writeLine("%s;", v)
			} else {
				b.w.writeLine("(void)%s;", v)
			}
			return nil
		}
		if v, err = b.cast(v, ir.TypeOf(n), ir.TypeOf(d.Result)); err != nil {
			return err
		}
		b.w.writeLine("%s = %s;", b.slot(d.Result), v)
		return nil
	}
	return diag.New(diag.Unsupported, "%s node in statement position", op.Kind())
}

// prototype returns the C declarator of the method ref names. Extern
// methods have no translation unit, so everything comes from the
// substituted signature.
func prototype(names *Namer, ref *metadata.MethodRef, mention func(*metadata.Type)) (string, error) {
	rc := "void"
	if ret := ref.ReturnType(); ret != nil && !ret.IsVoid() {
		if ret.ContainsGenericParams() {
			return "", diag.New(diag.Resolution, "unresolved return type %s", ret.FullName())
		}
		c, err := names.CType(ret)
		if err != nil {
			return "", err
		}
		mention(strip(ret))
		rc = c
	}
	var params []string
	pnames := ParamNames(ref.Method.Params)
	if ref.Method.HasThis() {
		st, err := names.CType(selfType(ref.Owner))
		if err != nil {
			return "", err
		}
		params = append(params, st+" self")
	}
	for i, pt := range ref.ParamTypes() {
		p := ref.Method.Params[i]
		pc, err := names.storage(pt, "parameter "+p.Name)
		if err != nil {
			return "", err
		}
		mention(strip(pt))
		params = append(params, pc+" "+pnames[i])
	}
	if len(params) == 0 {
		params = []string{"void"}
	}
	return fmt.Sprintf("%s %s(%s)", rc, names.Method(ref), strings.Join(params, ", ")), nil
}

// define writes the function definition of u.
func (b *body) define(ref *metadata.MethodRef) error {
	u := b.unit
	proto, err := prototype(b.names, ref, b.mod.mention)
	if err != nil {
		return err
	}
	b.locals = LocalNames(u)
	b.params = ParamNames(ref.Method.Params)
	b.w.writeLine("%s", proto)
	b.w.writeLine("{")
	b.w.indent++
	for i, l := range u.Locals {
		ct, err := b.names.storage(l.Type, "local "+b.locals[i])
		if err != nil {
			return err
		}
		b.mod.mention(strip(l.Type))
		if u.InitLocals {
			b.w.writeLine("%s %s = {0};", ct, b.locals[i])
		} else {
			b.w.writeLine("%s %s;", ct, b.locals[i])
		}
	}
	for _, t := range u.Temps {
		ct, err := b.names.storage(t.Type, "temporary "+Temp(t))
		if err != nil {
			return err
		}
		b.mod.mention(strip(t.Type))
		b.w.writeLine("%s %s;", ct, Temp(t))
	}
	if len(u.Locals)+len(u.Temps) > 0 {
		b.w.blank()
	}
	for _, op := range u.Body.Ops() {
		if err := b.statement(op); err != nil {
			return err
		}
	}
	b.w.indent--
	b.w.writeLine("}")
	return nil
}
