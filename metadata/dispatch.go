package metadata

import (
	"strings"

	"github.com/reignstudios/il2x/diag"
)

// OverloadIndex returns the position of m among the methods with the same
// name declared directly on its declaring type, in declaration order.
func OverloadIndex(m *Method) int {
	n := 0
	for _, other := range m.DeclaringType.Def().Methods {
		if other == m {
			return n
		}
		if other.Name == m.Name {
			n++
		}
	}
	return n
}

// BaseTypeCount returns the number of types above t in its inheritance
// chain.
func BaseTypeCount(t *Type) int {
	n := 0
	for b := t.BaseType(); b != nil; b = b.BaseType() {
		n++
	}
	return n
}

// HasBaseType reports whether base appears above t in its inheritance
// chain.
func HasBaseType(t, base *Type) bool {
	for b := t.BaseType(); b != nil; b = b.BaseType() {
		if SameType(b, base) {
			return true
		}
	}
	return false
}

// IsAssignableTo reports whether t is base or derives from it.
func IsAssignableTo(t, base *Type) bool {
	return SameType(t, base) || HasBaseType(t, base)
}

// SameType reports whether a and b denote the same type.
func SameType(a, b *Type) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.key() == b.key()
}

// signatureMatches reports whether m, seen from owner, has the given name
// and parameter types.
func signatureMatches(m *Method, owner *Type, name string, params []*Type) bool {
	if m.Name != name || len(m.Params) != len(params) {
		return false
	}
	ctx := TypeContext(owner)
	for i, p := range m.Params {
		if Substitute(p.Type, ctx).FullName() != params[i].FullName() {
			return false
		}
	}
	return true
}

// FindVirtualSlot walks from t up through its base types and returns the
// first virtual method matching name and params. This is the
// implementation a call through that signature reaches on an object of
// type t.
func FindVirtualSlot(t *Type, name string, params []*Type) (*MethodRef, error) {
	for c := t; c != nil; c = c.BaseType() {
		for _, m := range c.Def().Methods {
			if m.IsVirtual() && signatureMatches(m, c, name, params) {
				return &MethodRef{Method: m, Owner: c}, nil
			}
		}
	}
	return nil, diag.New(diag.Resolution, "no virtual slot for %s in %s", formatSignature(name, params), t.FullName())
}

// HighestVirtualSlot walks from t upward and returns the least-derived
// virtual declaration matching name and params: the declaration that
// introduced the slot. A newslot declaration ends the walk.
func HighestVirtualSlot(t *Type, name string, params []*Type) (*MethodRef, error) {
	var found *MethodRef
	for c := t; c != nil; c = c.BaseType() {
		var match *Method
		for _, m := range c.Def().Methods {
			if m.IsVirtual() && signatureMatches(m, c, name, params) {
				match = m
				break
			}
		}
		if match == nil {
			continue
		}
		found = &MethodRef{Method: match, Owner: c}
		if match.Flags&NewSlot != 0 {
			break
		}
	}
	if found == nil {
		return nil, diag.New(diag.Resolution, "no virtual slot for %s in %s", formatSignature(name, params), t.FullName())
	}
	return found, nil
}

// SlotOf returns the slot-introducing declaration for the virtual
// method referenced by r.
func SlotOf(r *MethodRef) (*MethodRef, error) {
	return HighestVirtualSlot(r.Owner, r.Method.Name, r.ParamTypes())
}

// ImplementationOf walks from t upward and returns the first virtual
// method that fills slot. A same-signature declaration that opens its
// own slot hides nothing here and is skipped.
func ImplementationOf(t *Type, slot *MethodRef) (*MethodRef, error) {
	name, params := slot.Method.Name, slot.ParamTypes()
	for c := t; c != nil; c = c.BaseType() {
		for _, m := range c.Def().Methods {
			if !m.IsVirtual() || !signatureMatches(m, c, name, params) {
				continue
			}
			ref := &MethodRef{Method: m, Owner: c}
			if s, err := SlotOf(ref); err == nil && s.Method == slot.Method {
				return ref, nil
			}
		}
	}
	return nil, diag.New(diag.Resolution, "no implementation of %s in %s", slot, t.FullName())
}

// VirtualSlots lists the virtual slots of t, base-most type first and
// declaration order within a type. Overrides do not add slots.
func VirtualSlots(t *Type) []*MethodRef {
	var chain []*Type
	for c := t; c != nil; c = c.BaseType() {
		chain = append(chain, c)
	}
	var slots []*MethodRef
	for i := len(chain) - 1; i >= 0; i-- {
		c := chain[i]
		for _, m := range c.Def().Methods {
			if !m.IsVirtual() {
				continue
			}
			ref := &MethodRef{Method: m, Owner: c}
			slot, err := SlotOf(ref)
			if err == nil && slot.Method == m {
				slots = append(slots, ref)
			}
		}
	}
	return slots
}

func formatSignature(name string, params []*Type) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')
	for i, p := range params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.FullName())
	}
	b.WriteByte(')')
	return b.String()
}
