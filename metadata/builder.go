package metadata

// CoreLibraryName is the scope name of the built-in type module.
const CoreLibraryName = "System.Private.CoreLib"

// CoreLibrary holds the built-in types every module references.
type CoreLibrary struct {
	Module    *Module
	Object    *Type
	ValueType *Type
	Enum      *Type
	String    *Type
	Void      *Type
	Boolean   *Type
	Char      *Type
	SByte     *Type
	Byte      *Type
	Int16     *Type
	UInt16    *Type
	Int32     *Type
	UInt32    *Type
	Int64     *Type
	UInt64    *Type
	Single    *Type
	Double    *Type
	IntPtr    *Type
	UIntPtr   *Type
}

var primitiveNames = [...]string{
	Void:    "Void",
	Boolean: "Boolean",
	Char:    "Char",
	SByte:   "SByte",
	Byte:    "Byte",
	Int16:   "Int16",
	UInt16:  "UInt16",
	Int32:   "Int32",
	UInt32:  "UInt32",
	Int64:   "Int64",
	UInt64:  "UInt64",
	Single:  "Single",
	Double:  "Double",
	IntPtr:  "IntPtr",
	UIntPtr: "UIntPtr",
}

// NewCoreLibrary builds the System.Private.CoreLib module with
// System.Object, System.ValueType, System.Enum, System.String and the
// primitive types.
func NewCoreLibrary() *CoreLibrary {
	mod := NewModule(CoreLibraryName)
	c := &CoreLibrary{Module: mod}
	c.Object = mod.DefineType("System", "Object", Class, nil)
	c.ValueType = mod.DefineType("System", "ValueType", Class, c.Object)
	c.Enum = mod.DefineType("System", "Enum", Class, c.ValueType)
	c.String = mod.DefineType("System", "String", Class, c.Object)
	c.String.Sealed = true

	prims := make([]*Type, len(primitiveNames))
	for p := Void; p <= UIntPtr; p++ {
		base := c.ValueType
		if p == Void {
			base = nil
		}
		t := mod.DefineType("System", primitiveNames[p], Primitive, base)
		t.Prim = p
		t.Sealed = true
		prims[p] = t
	}
	c.Void, c.Boolean, c.Char = prims[Void], prims[Boolean], prims[Char]
	c.SByte, c.Byte = prims[SByte], prims[Byte]
	c.Int16, c.UInt16 = prims[Int16], prims[UInt16]
	c.Int32, c.UInt32 = prims[Int32], prims[UInt32]
	c.Int64, c.UInt64 = prims[Int64], prims[UInt64]
	c.Single, c.Double = prims[Single], prims[Double]
	c.IntPtr, c.UIntPtr = prims[IntPtr], prims[UIntPtr]
	return c
}

// Primitive returns the core type for p.
func (c *CoreLibrary) Primitive(p PrimitiveKind) *Type {
	if p <= NotPrimitive || int(p) >= len(primitiveNames) {
		return nil
	}
	return c.Module.FindType("System." + primitiveNames[p])
}

// FindCoreLibrary rebuilds a CoreLibrary view over a loaded module set.
// It returns nil when no module carries the core scope name.
func FindCoreLibrary(mods []*Module) *CoreLibrary {
	for _, m := range mods {
		if m.Name != CoreLibraryName {
			continue
		}
		c := &CoreLibrary{Module: m}
		c.Object = m.FindType("System.Object")
		c.ValueType = m.FindType("System.ValueType")
		c.Enum = m.FindType("System.Enum")
		c.String = m.FindType("System.String")
		c.Void = c.Primitive(Void)
		c.Boolean, c.Char = c.Primitive(Boolean), c.Primitive(Char)
		c.SByte, c.Byte = c.Primitive(SByte), c.Primitive(Byte)
		c.Int16, c.UInt16 = c.Primitive(Int16), c.Primitive(UInt16)
		c.Int32, c.UInt32 = c.Primitive(Int32), c.Primitive(UInt32)
		c.Int64, c.UInt64 = c.Primitive(Int64), c.Primitive(UInt64)
		c.Single, c.Double = c.Primitive(Single), c.Primitive(Double)
		c.IntPtr, c.UIntPtr = c.Primitive(IntPtr), c.Primitive(UIntPtr)
		return c
	}
	return nil
}

// NewModule creates an empty module that references refs.
func NewModule(name string, refs ...*Module) *Module {
	return &Module{Name: name, References: refs}
}

// DefineType adds a top-level type definition to m.
func (m *Module) DefineType(namespace, name string, kind TypeKind, base *Type) *Type {
	t := &Type{Module: m, Namespace: namespace, Name: name, Kind: kind, Base: base}
	m.Types = append(m.Types, t)
	return t
}

// DefineEnum adds an enum whose values are stored as underlying.
func (m *Module) DefineEnum(namespace, name string, underlying, base *Type) *Type {
	t := m.DefineType(namespace, name, Enum, base)
	t.Prim = underlying.Prim
	t.Sealed = true
	t.DefineField("value__", underlying, false)
	return t
}

// DefineNested adds a type nested inside t. Nested types are registered
// with t's module.
func (t *Type) DefineNested(name string, kind TypeKind, base *Type) *Type {
	n := t.Module.DefineType("", name, kind, base)
	n.DeclaringType = t
	return n
}

// DefineGenericParam appends a generic parameter to the definition t.
func (t *Type) DefineGenericParam(name string) *Type {
	p := &Type{Kind: GenericParam, Name: name, Position: len(t.GenericParams), OwnerType: t}
	t.GenericParams = append(t.GenericParams, p)
	return p
}

// DefineField adds a field to t.
func (t *Type) DefineField(name string, fieldType *Type, static bool) *Field {
	f := &Field{DeclaringType: t, Name: name, Type: fieldType, Static: static}
	t.Fields = append(t.Fields, f)
	return f
}

// DefineMethod adds a method to t. Procedures return the core Void
// type; a nil ret is treated the same way.
func (t *Type) DefineMethod(name string, ret *Type, flags MethodFlags) *Method {
	m := &Method{DeclaringType: t, Name: name, Return: ret, Flags: flags}
	t.Methods = append(t.Methods, m)
	return m
}

// DefineParam appends a parameter to m.
func (m *Method) DefineParam(name string, t *Type) *Param {
	p := &Param{Name: name, Type: t, Index: len(m.Params)}
	m.Params = append(m.Params, p)
	return p
}

// DefineGenericParam appends a generic parameter to m.
func (m *Method) DefineGenericParam(name string) *Type {
	p := &Type{Kind: GenericParam, Name: name, Position: len(m.GenericParams), OwnerMethod: m}
	m.GenericParams = append(m.GenericParams, p)
	return p
}
