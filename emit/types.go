package emit

import (
	"strings"

	"github.com/reignstudios/il2x/diag"
	"github.com/reignstudios/il2x/metadata"
)

var primitiveTypes = map[metadata.PrimitiveKind]string{
	metadata.Void:    "void",
	metadata.Boolean: "uint8_t",
	metadata.Char:    "uint16_t",
	metadata.SByte:   "int8_t",
	metadata.Byte:    "uint8_t",
	metadata.Int16:   "int16_t",
	metadata.UInt16:  "uint16_t",
	metadata.Int32:   "int32_t",
	metadata.UInt32:  "uint32_t",
	metadata.Int64:   "int64_t",
	metadata.UInt64:  "uint64_t",
	metadata.Single:  "float",
	metadata.Double:  "double",
	metadata.IntPtr:  "intptr_t",
	metadata.UIntPtr: "uintptr_t",
}

// CType returns the C spelling of values of t.
func (n *Namer) CType(t *metadata.Type) (string, error) {
	switch t.Kind {
	case metadata.Primitive, metadata.Enum:
		if s, ok := primitiveTypes[t.Prim]; ok {
			return s, nil
		}
		return "", diag.New(diag.Unsupported, "primitive %s", t.FullName())
	case metadata.Pointer, metadata.ByRef:
		elem, err := n.CType(t.Elem)
		if err != nil {
			return "", err
		}
		return elem + "*", nil
	case metadata.GenericParam:
		return "", diag.New(diag.Resolution, "unresolved generic parameter %s", t.Name)
	}
	if t.IsReferenceType() {
		return n.Type(t) + "*", nil
	}
	return n.Type(t), nil
}

// isPointer reports whether a C type spelling is a pointer.
func isPointer(ctype string) bool {
	return strings.HasSuffix(ctype, "*")
}

// IsEmptyValueType reports whether t is a value type without instance
// fields. Such types are spelled void and cannot be stored.
func IsEmptyValueType(t *metadata.Type) bool {
	switch t.Def().Kind {
	case metadata.ValueType:
		return len(t.InstanceFields()) == 0
	}
	return false
}

// storage returns the C type of a variable or field of type t.
func (n *Namer) storage(t *metadata.Type, what string) (string, error) {
	if IsEmptyValueType(t) {
		return "", diag.New(diag.Policy, "%s has empty value type %s", what, t.FullName())
	}
	return n.CType(t)
}

// member is one flattened field of an aggregate.
type member struct {
	name  string
	ctype string
	typ   *metadata.Type
}

// layout returns the instance members of t. Reference types include
// their base chain, base-most fields first.
func (n *Namer) layout(t *metadata.Type) ([]member, error) {
	chain := []*metadata.Type{t}
	if t.IsReferenceType() {
		for b := t.BaseType(); b != nil; b = b.BaseType() {
			chain = append([]*metadata.Type{b}, chain...)
		}
	}
	var out []member
	for _, c := range chain {
		ctx := metadata.TypeContext(c)
		for _, f := range c.InstanceFields() {
			ft := metadata.Substitute(f.Type, ctx)
			cs, err := n.storage(ft, "field "+f.FullName())
			if err != nil {
				return nil, err
			}
			out = append(out, member{name: n.Field(f), ctype: cs, typ: ft})
		}
	}
	return out, nil
}

// strip returns the type a C spelling of t needs declared: the element
// of pointers and by-refs, t otherwise.
func strip(t *metadata.Type) *metadata.Type {
	for t != nil && (t.Kind == metadata.Pointer || t.Kind == metadata.ByRef) {
		t = t.Elem
	}
	return t
}

// unsignedOf returns the unsigned C type of the same width as a signed
// integer type, or "" when t is not signed.
func unsignedOf(t *metadata.Type) string {
	switch t.Prim {
	case metadata.SByte, metadata.Int16, metadata.Int32:
		return "uint32_t"
	case metadata.Int64:
		return "uint64_t"
	case metadata.IntPtr:
		return "uintptr_t"
	}
	return ""
}

// compareAs returns the unsigned C type two integer operands are cast
// to for an unsigned comparison.
func compareAs(a, b *metadata.Type) string {
	wide := false
	for _, t := range []*metadata.Type{a, b} {
		switch {
		case t.Kind == metadata.Pointer, t.Kind == metadata.ByRef, t.IsReferenceType(),
			t.Prim == metadata.IntPtr, t.Prim == metadata.UIntPtr:
			return "uintptr_t"
		case t.Prim == metadata.Int64, t.Prim == metadata.UInt64:
			wide = true
		}
	}
	if wide {
		return "uint64_t"
	}
	return "uint32_t"
}

func isFloat(t *metadata.Type) bool {
	return (t.Kind == metadata.Primitive || t.Kind == metadata.Enum) && t.Prim.IsFloat()
}
