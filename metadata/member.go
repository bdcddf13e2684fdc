package metadata

import "strings"

// Module is one loaded assembly module: a scope of type definitions.
type Module struct {
	Name       string
	Types      []*Type
	References []*Module
	// Entry is the executable entry point, if any.
	Entry *Method
}

// FindType returns the type definition with the given full name.
func (m *Module) FindType(fullName string) *Type {
	for _, t := range m.Types {
		if t.FullName() == fullName {
			return t
		}
	}
	return nil
}

// Field describes a field definition.
type Field struct {
	DeclaringType *Type
	Name          string
	Type          *Type
	Static        bool
	// Constant holds the value of a compile-time constant field.
	Constant any
}

// FullName returns "Declaring::name".
func (f *Field) FullName() string {
	return f.DeclaringType.FullName() + "::" + f.Name
}

// MethodFlags describe method attributes.
type MethodFlags uint16

const (
	Static MethodFlags = 1 << iota
	Virtual
	Abstract
	Final
	NewSlot
	// Extern marks a method implemented by the runtime with no body.
	Extern
)

// Method describes a method definition.
type Method struct {
	DeclaringType *Type
	Name          string
	Return        *Type
	Params        []*Param
	Flags         MethodFlags
	GenericParams []*Type
	Body          *Body
}

// Param describes a declared parameter. Index excludes the implicit
// receiver.
type Param struct {
	Name  string
	Type  *Type
	Index int
}

// HasThis reports whether the method takes an implicit receiver.
func (m *Method) HasThis() bool { return m.Flags&Static == 0 }

// IsVirtual reports whether the method occupies a virtual slot.
func (m *Method) IsVirtual() bool { return m.Flags&Virtual != 0 }

// IsAbstract reports whether the method has no implementation.
func (m *Method) IsAbstract() bool { return m.Flags&Abstract != 0 }

// IsFinal reports whether the method cannot be overridden further.
func (m *Method) IsFinal() bool { return m.Flags&Final != 0 }

// IsConstructor reports whether the method is an instance or type
// initializer.
func (m *Method) IsConstructor() bool { return m.Name == ".ctor" || m.Name == ".cctor" }

// ReturnsVoid reports whether the method produces no value.
func (m *Method) ReturnsVoid() bool { return m.Return == nil || m.Return.IsVoid() }

// IsGeneric reports whether the method declares generic parameters.
func (m *Method) IsGeneric() bool { return len(m.GenericParams) > 0 }

// FullName returns "Ret Declaring::Name(P1,P2)".
func (m *Method) FullName() string {
	var b strings.Builder
	if m.Return != nil {
		b.WriteString(m.Return.FullName())
		b.WriteByte(' ')
	}
	b.WriteString(m.DeclaringType.FullName())
	b.WriteString("::")
	b.WriteString(m.Name)
	b.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.Type.FullName())
	}
	b.WriteByte(')')
	return b.String()
}

func (m *Method) String() string { return m.FullName() }

// LocalName returns the debug-derived display name of a local slot.
func (m *Method) LocalName(index int) (string, bool) {
	if m.Body == nil || m.Body.names == nil {
		return "", false
	}
	name, ok := m.Body.names[index]
	return name, ok && name != ""
}

// MethodRef is a call-site reference to a method, carrying the
// (possibly instantiated) owner type and any generic method arguments.
type MethodRef struct {
	Method *Method
	Owner  *Type
	Args   []*Type
}

// RefMethod builds a reference to m on its own declaring type.
func RefMethod(m *Method) *MethodRef {
	return &MethodRef{Method: m, Owner: m.DeclaringType}
}

// Context returns the substitution context of the reference.
func (r *MethodRef) Context() Context {
	return Context{Type: r.Owner, Method: r.Args}
}

// ReturnType returns the substituted return type.
func (r *MethodRef) ReturnType() *Type {
	return Substitute(r.Method.Return, r.Context())
}

// ParamTypes returns the substituted parameter types.
func (r *MethodRef) ParamTypes() []*Type {
	out := make([]*Type, len(r.Method.Params))
	ctx := r.Context()
	for i, p := range r.Method.Params {
		out[i] = Substitute(p.Type, ctx)
	}
	return out
}

func (r *MethodRef) String() string {
	var b strings.Builder
	b.WriteString(r.Owner.FullName())
	b.WriteString("::")
	b.WriteString(r.Method.Name)
	if len(r.Args) > 0 {
		b.WriteByte('<')
		for i, a := range r.Args {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(a.FullName())
		}
		b.WriteByte('>')
	}
	b.WriteByte('(')
	for i, p := range r.ParamTypes() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.FullName())
	}
	b.WriteByte(')')
	return b.String()
}

// FieldRef is an access-site reference to a field on a (possibly
// instantiated) owner type.
type FieldRef struct {
	Field *Field
	Owner *Type
}

// RefField builds a reference to f on its own declaring type.
func RefField(f *Field) *FieldRef {
	return &FieldRef{Field: f, Owner: f.DeclaringType}
}

// FieldType returns the substituted field type.
func (r *FieldRef) FieldType() *Type {
	return Substitute(r.Field.Type, Context{Type: r.Owner})
}

func (r *FieldRef) String() string {
	return r.Owner.FullName() + "::" + r.Field.Name
}
