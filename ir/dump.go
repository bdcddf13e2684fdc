package ir

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

var arithNames = [...]string{
	Add: "add", Sub: "sub", Mul: "mul", Div: "div", Rem: "rem",
	And: "and", Or: "or", Xor: "xor", Shl: "shl", Shr: "shr", ShrUn: "shr.un",
}

var compareNames = [...]string{Eq: "ceq", Gt: "cgt", Lt: "clt", GtUn: "cgt.un", LtUn: "clt.un"}

var condNames = [...]string{
	IfTrue: "true", IfFalse: "false", IfEq: "eq", IfNe: "ne",
	IfGt: "gt", IfLt: "lt", IfGe: "ge", IfLe: "le",
	IfGtUn: "gt.un", IfLtUn: "lt.un", IfGeUn: "ge.un", IfLeUn: "le.un",
}

// Dump writes a text listing of m, one node per line.
func Dump(w io.Writer, m *Method) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "method %s\n", m.Name())
	for _, l := range m.Locals {
		fmt.Fprintf(&sb, "  local %s %s\n", Format(l), l.Type.FullName())
	}
	for _, t := range m.Temps {
		fmt.Fprintf(&sb, "  temp %s %s refs=%d\n", Format(t), t.Type.FullName(), t.Refs)
	}
	for _, op := range m.Body.Ops() {
		if _, ok := op.(*Marker); ok {
			sb.WriteString(Format(op))
		} else {
			sb.WriteString("  ")
			sb.WriteString(Format(op))
		}
		sb.WriteByte('\n')
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// Format renders a single node.
func Format(op Op) string {
	switch n := op.(type) {
	case nil:
		return "<nil>"
	case *This:
		return "this"
	case *Local:
		if n.Name != "" {
			return "l." + n.Name
		}
		return "l" + strconv.Itoa(n.Index)
	case *EvalTemp:
		return "t" + strconv.Itoa(n.Index)
	case *Param:
		return "p." + n.Name
	case *Literal:
		switch {
		case n.Null:
			return "null"
		case n.Type != nil && n.Type.Prim.IsFloat():
			return strconv.FormatFloat(n.Float, 'g', -1, 64)
		}
		return strconv.FormatInt(n.Int, 10)
	case *String:
		return strconv.Quote(n.Value)
	case *SizeOf:
		return "sizeof(" + n.Of.FullName() + ")"
	case *Field:
		return Format(n.Owner) + "." + n.Ref.Field.Name
	case *StaticField:
		return n.Ref.String()
	case *AddressOf:
		return "&" + Format(n.Value)
	case *Arith:
		return result(n.Dest) + arithNames[n.Op] + " " + Format(n.Left) + ", " + Format(n.Right)
	case *Unary:
		name := "neg"
		if n.Op == Not {
			name = "not"
		}
		return result(n.Dest) + name + " " + Format(n.Value)
	case *Compare:
		return result(n.Dest) + compareNames[n.Op] + " " + Format(n.Left) + ", " + Format(n.Right)
	case *Convert:
		return result(n.Dest) + "conv " + n.Type.FullName() + " " + Format(n.Value)
	case *Call:
		args := make([]string, len(n.Args))
		for i, a := range n.Args {
			args[i] = Format(a)
		}
		verb := "call "
		if n.Virtual {
			verb = "callvirt "
		}
		return result(n.Dest) + verb + n.Method.String() + "(" + strings.Join(args, ", ") + ")"
	case *New:
		return result(n.Dest) + "new " + n.Type.FullName()
	case *WriteLocal:
		return result(n.Dest) + Format(n.Value)
	case *WriteField:
		return Format(n.Target) + " = " + Format(n.Value)
	case *InitObject:
		return "initobj " + Format(n.Target)
	case *ReturnVoid:
		return "return"
	case *ReturnValue:
		return "return " + Format(n.Value)
	case *Branch:
		return "goto " + LabelName(n.Label)
	case *BranchCond:
		s := "if " + condNames[n.Cond] + " " + Format(n.Left)
		if n.Right != nil {
			s += ", " + Format(n.Right)
		}
		return s + " goto " + LabelName(n.Label)
	case *Marker:
		return LabelName(n.Label) + ":"
	}
	return fmt.Sprintf("<%T>", op)
}

func result(d Dest) string {
	if d.Result == nil {
		return ""
	}
	return Format(d.Result) + " = "
}
