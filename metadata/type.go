// Package metadata provides read-only views over the types, fields,
// methods and instruction streams of a managed bytecode image.
//
// Descriptors are plain structs linked by pointers. Generic
// instantiations, pointer and by-reference types are interned, so two
// descriptors denote the same type exactly when they are the same
// pointer. Nothing in the translator mutates a descriptor after the
// image has been loaded or built.
package metadata

import (
	"strconv"
	"strings"
	"sync"
)

// TypeKind classifies a type descriptor.
type TypeKind int

const (
	Class TypeKind = iota
	ValueType
	Enum
	Interface
	Primitive
	GenericParam
	Pointer
	ByRef
	Instance
)

var typeKindNames = [...]string{
	Class:        "class",
	ValueType:    "valuetype",
	Enum:         "enum",
	Interface:    "interface",
	Primitive:    "primitive",
	GenericParam: "genericparam",
	Pointer:      "pointer",
	ByRef:        "byref",
	Instance:     "instance",
}

func (k TypeKind) String() string {
	if int(k) < len(typeKindNames) {
		return typeKindNames[k]
	}
	return "TypeKind(" + strconv.Itoa(int(k)) + ")"
}

// PrimitiveKind identifies built-in scalar types. Enums record their
// underlying primitive in the same field.
type PrimitiveKind int

const (
	NotPrimitive PrimitiveKind = iota
	Void
	Boolean
	Char
	SByte
	Byte
	Int16
	UInt16
	Int32
	UInt32
	Int64
	UInt64
	Single
	Double
	IntPtr
	UIntPtr
)

// IsInteger reports whether p is an integral primitive.
func (p PrimitiveKind) IsInteger() bool {
	return p >= Boolean && p <= UInt64 || p == IntPtr || p == UIntPtr
}

// IsFloat reports whether p is a floating point primitive.
func (p PrimitiveKind) IsFloat() bool {
	return p == Single || p == Double
}

// Type describes a type definition or a constructed type.
type Type struct {
	Module        *Module
	Namespace     string
	Name          string
	Kind          TypeKind
	Prim          PrimitiveKind
	Sealed        bool
	Base          *Type
	Interfaces    []*Type
	DeclaringType *Type
	Fields        []*Field
	Methods       []*Method

	// GenericParams lists the parameters of a generic definition.
	GenericParams []*Type

	// Definition and Args describe an Instance.
	Definition *Type
	Args       []*Type

	// Elem is the pointee of a Pointer or ByRef.
	Elem *Type

	// Position, OwnerType and OwnerMethod describe a GenericParam.
	Position    int
	OwnerType   *Type
	OwnerMethod *Method

	mu        sync.Mutex
	instances map[string]*Type
	pointer   *Type
	byref     *Type
}

// FullName returns the qualified name, using '/' between nested types
// and <...> around generic arguments.
func (t *Type) FullName() string {
	switch t.Kind {
	case Instance:
		var b strings.Builder
		b.WriteString(t.Definition.FullName())
		b.WriteByte('<')
		for i, a := range t.Args {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(a.FullName())
		}
		b.WriteByte('>')
		return b.String()
	case Pointer:
		return t.Elem.FullName() + "*"
	case ByRef:
		return t.Elem.FullName() + "&"
	case GenericParam:
		return t.Name
	}
	if t.DeclaringType != nil {
		return t.DeclaringType.FullName() + "/" + t.Name
	}
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// Scope returns the name of the module that defines t, or of the
// definition for constructed types.
func (t *Type) Scope() string {
	switch t.Kind {
	case Instance:
		return t.Definition.Scope()
	case Pointer, ByRef:
		return t.Elem.Scope()
	}
	if t.Module == nil {
		return ""
	}
	return t.Module.Name
}

func (t *Type) String() string {
	return t.FullName()
}

// Def returns the generic definition of an instance, or t itself.
func (t *Type) Def() *Type {
	if t.Kind == Instance {
		return t.Definition
	}
	return t
}

// IsValueType reports whether values of t are stored inline.
func (t *Type) IsValueType() bool {
	switch t.Def().Kind {
	case ValueType, Enum:
		return true
	case Primitive:
		return t.Prim != Void
	}
	return false
}

// IsReferenceType reports whether values of t are object references.
func (t *Type) IsReferenceType() bool {
	switch t.Def().Kind {
	case Class, Interface:
		return true
	}
	return false
}

// IsVoid reports whether t is System.Void.
func (t *Type) IsVoid() bool {
	return t.Kind == Primitive && t.Prim == Void
}

// IsGeneric reports whether t is a generic definition.
func (t *Type) IsGeneric() bool {
	return len(t.GenericParams) > 0
}

// ContainsGenericParams reports whether t mentions an unsubstituted
// generic parameter.
func (t *Type) ContainsGenericParams() bool {
	switch t.Kind {
	case GenericParam:
		return true
	case Instance:
		for _, a := range t.Args {
			if a.ContainsGenericParams() {
				return true
			}
		}
	case Pointer, ByRef:
		return t.Elem.ContainsGenericParams()
	}
	return false
}

// BaseType returns the base type with generic arguments of t applied.
func (t *Type) BaseType() *Type {
	if t.Kind != Instance {
		return t.Base
	}
	if t.Definition.Base == nil {
		return nil
	}
	return Substitute(t.Definition.Base, Context{Type: t})
}

// InstanceFields returns the non-static fields declared directly on t.
func (t *Type) InstanceFields() []*Field {
	var out []*Field
	for _, f := range t.Def().Fields {
		if !f.Static {
			out = append(out, f)
		}
	}
	return out
}

// StaticFields returns the static storage fields declared directly on
// t. Compile-time constants have no storage and are omitted.
func (t *Type) StaticFields() []*Field {
	var out []*Field
	for _, f := range t.Def().Fields {
		if f.Static && f.Constant == nil {
			out = append(out, f)
		}
	}
	return out
}

// Method returns the first method named name declared on t.
func (t *Type) Method(name string) *Method {
	for _, m := range t.Def().Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Field returns the field named name declared on t.
func (t *Type) Field(name string) *Field {
	for _, f := range t.Def().Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// PointerTo returns the interned pointer type to t.
func PointerTo(t *Type) *Type {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pointer == nil {
		t.pointer = &Type{Kind: Pointer, Elem: t, Name: t.Name + "*"}
	}
	return t.pointer
}

// ByRefTo returns the interned managed-reference type to t.
func ByRefTo(t *Type) *Type {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byref == nil {
		t.byref = &Type{Kind: ByRef, Elem: t, Name: t.Name + "&"}
	}
	return t.byref
}

// Instantiate returns the interned instance of the generic definition
// def over args.
func Instantiate(def *Type, args ...*Type) *Type {
	var key strings.Builder
	for i, a := range args {
		if i > 0 {
			key.WriteByte(',')
		}
		key.WriteString(a.key())
	}
	def.mu.Lock()
	defer def.mu.Unlock()
	if inst, ok := def.instances[key.String()]; ok {
		return inst
	}
	if def.instances == nil {
		def.instances = make(map[string]*Type)
	}
	inst := &Type{
		Kind:       Instance,
		Name:       def.Name,
		Namespace:  def.Namespace,
		Module:     def.Module,
		Definition: def,
		Args:       append([]*Type(nil), args...),
	}
	def.instances[key.String()] = inst
	return inst
}

// key identifies t across modules.
func (t *Type) key() string {
	if t.Kind == GenericParam {
		owner := ""
		if t.OwnerType != nil {
			owner = t.OwnerType.key()
		} else if t.OwnerMethod != nil {
			owner = t.OwnerMethod.DeclaringType.key() + "::" + t.OwnerMethod.Name
		}
		return owner + "!" + strconv.Itoa(t.Position)
	}
	if t.Kind == Instance {
		var b strings.Builder
		b.WriteString(t.Definition.key())
		b.WriteByte('<')
		for i, a := range t.Args {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(a.key())
		}
		b.WriteByte('>')
		return b.String()
	}
	return "[" + t.Scope() + "]" + t.FullName()
}
