package ir

import "github.com/reignstudios/il2x/metadata"

// NodeID addresses a node in a Body's arena. IDs stay valid when nodes
// are removed from the order.
type NodeID int32

// Body is an ordered operation list over an arena of nodes.
type Body struct {
	nodes []Op
	order []NodeID
}

// Append adds op at the end of the list and returns its ID.
func (b *Body) Append(op Op) NodeID {
	id := NodeID(len(b.nodes))
	b.nodes = append(b.nodes, op)
	b.order = append(b.order, id)
	return id
}

// Len returns the number of live nodes.
func (b *Body) Len() int { return len(b.order) }

// At returns the i'th live node.
func (b *Body) At(i int) Op { return b.nodes[b.order[i]] }

// ID returns the arena ID of the i'th live node.
func (b *Body) ID(i int) NodeID { return b.order[i] }

// Node returns the node for id, live or removed.
func (b *Body) Node(id NodeID) Op { return b.nodes[id] }

// Last returns the final live node, or nil.
func (b *Body) Last() Op {
	if len(b.order) == 0 {
		return nil
	}
	return b.At(len(b.order) - 1)
}

// Remove drops the i'th live node from the order. The arena entry stays.
func (b *Body) Remove(i int) {
	b.order = append(b.order[:i], b.order[i+1:]...)
}

// Replace swaps the node at position i for op, keeping its position.
func (b *Body) Replace(i int, op Op) {
	id := NodeID(len(b.nodes))
	b.nodes = append(b.nodes, op)
	b.order[i] = id
}

// Ops returns the live nodes in order.
func (b *Body) Ops() []Op {
	out := make([]Op, len(b.order))
	for i, id := range b.order {
		out[i] = b.nodes[id]
	}
	return out
}

// MarkerIndex returns the position of the marker for label, or -1.
func (b *Body) MarkerIndex(label int) int {
	for i, id := range b.order {
		if m, ok := b.nodes[id].(*Marker); ok && m.Label == label {
			return i
		}
	}
	return -1
}

// Method is the translation unit of one method.
type Method struct {
	// Source is the translated method together with the instance
	// context its signature was substituted in.
	Source     *metadata.MethodRef
	This       *This
	Params     []*Param
	Locals     []*Local
	Temps      []*EvalTemp
	Return     *metadata.Type
	InitLocals bool
	Body       Body
}

// Name returns the qualified method identity used in diagnostics.
func (m *Method) Name() string {
	if m.Source == nil {
		return "<anonymous>"
	}
	return m.Source.String()
}

// Operands returns the direct operands of op in evaluation order.
func Operands(op Op) []Op {
	switch n := op.(type) {
	case *Field:
		return []Op{n.Owner}
	case *AddressOf:
		return []Op{n.Value}
	case *Arith:
		return []Op{n.Left, n.Right}
	case *Unary:
		return []Op{n.Value}
	case *Compare:
		return []Op{n.Left, n.Right}
	case *Convert:
		return []Op{n.Value}
	case *Call:
		return n.Args
	case *WriteLocal:
		return []Op{n.Value}
	case *WriteField:
		return []Op{n.Target, n.Value}
	case *InitObject:
		return []Op{n.Target}
	case *ReturnValue:
		return []Op{n.Value}
	case *BranchCond:
		if n.Right == nil {
			return []Op{n.Left}
		}
		return []Op{n.Left, n.Right}
	}
	return nil
}

// Walk calls fn for op and, while fn returns true, for every operand
// below it.
func Walk(op Op, fn func(Op) bool) {
	if op == nil || !fn(op) {
		return
	}
	for _, o := range Operands(op) {
		Walk(o, fn)
	}
}

// Reads reports whether evaluating op reads slot s.
func Reads(op Op, s Slot) bool {
	found := false
	Walk(op, func(o Op) bool {
		if o == Op(s) {
			found = true
		}
		return !found
	})
	return found
}

// ReadsMemory reports whether evaluating op loads a field.
func ReadsMemory(op Op) bool {
	found := false
	Walk(op, func(o Op) bool {
		switch o.(type) {
		case *Field, *StaticField:
			found = true
		}
		return !found
	})
	return found
}
