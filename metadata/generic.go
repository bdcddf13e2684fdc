package metadata

// Context supplies the arguments used to substitute generic parameters:
// the enclosing (possibly instantiated) type and the generic arguments
// of the enclosing method instance.
type Context struct {
	Type   *Type
	Method []*Type
}

// Substitute replaces generic parameters in t with the concrete
// arguments found in ctx. Parameters that ctx cannot resolve are
// returned unchanged; callers detect them with ContainsGenericParams.
func Substitute(t *Type, ctx Context) *Type {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case GenericParam:
		if t.OwnerMethod != nil {
			if t.Position < len(ctx.Method) {
				return ctx.Method[t.Position]
			}
			return t
		}
		for c := ctx.Type; c != nil; c = c.BaseType() {
			if c.Kind == Instance && c.Definition == t.OwnerType && t.Position < len(c.Args) {
				return c.Args[t.Position]
			}
		}
		return t
	case Instance:
		var args []*Type
		for i, a := range t.Args {
			s := Substitute(a, ctx)
			if s != a && args == nil {
				args = append([]*Type(nil), t.Args[:i]...)
			}
			if args != nil {
				args = append(args, s)
			}
		}
		if args == nil {
			return t
		}
		return Instantiate(t.Definition, args...)
	case Pointer:
		if e := Substitute(t.Elem, ctx); e != t.Elem {
			return PointerTo(e)
		}
	case ByRef:
		if e := Substitute(t.Elem, ctx); e != t.Elem {
			return ByRefTo(e)
		}
	}
	return t
}

// TypeContext returns the context in which the members of t are
// resolved: instances substitute their own arguments.
func TypeContext(t *Type) Context {
	if t.Kind == Instance {
		return Context{Type: t}
	}
	return Context{}
}
