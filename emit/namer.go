package emit

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/reignstudios/il2x/ir"
	"github.com/reignstudios/il2x/metadata"
)

// Namer produces C identifiers for metadata entities.
//
// Identifiers are built from components joined by '_'. Each component
// is encoded so it never contains '_': letters and digits pass through
// and every other character becomes 'Z' plus a code letter. The prefix
// and the fixed component count per entity kind keep distinct entities
// apart, so the mapping is injective.
//
// A Namer is safe for concurrent use.
type Namer struct {
	mu      sync.Mutex
	types   map[*metadata.Type][]string
	methods map[methodKey]string
}

type methodKey struct {
	method *metadata.Method
	owner  *metadata.Type
	args   string
}

// NewNamer returns an empty Namer.
func NewNamer() *Namer {
	return &Namer{
		types:   make(map[*metadata.Type][]string),
		methods: make(map[methodKey]string),
	}
}

var escapes = map[rune]string{
	'Z': "ZZ",
	'_': "Zu",
	'.': "Zd",
	'`': "Zg",
	'<': "Zl",
	'>': "Zr",
	'/': "Zn",
	',': "Zc",
}

// Encode returns the component encoding of s.
func Encode(s string) string {
	var b strings.Builder
	for _, r := range s {
		if e, ok := escapes[r]; ok {
			b.WriteString(e)
			continue
		}
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			continue
		}
		fmt.Fprintf(&b, "Zx%06X", r)
	}
	return b.String()
}

// typeComponents returns the encoded components naming t: scope,
// namespace and the nesting chain of names, then any generic arguments
// bracketed by ZB and ZE and separated by ZC.
func (n *Namer) typeComponents(t *metadata.Type) []string {
	n.mu.Lock()
	c, ok := n.types[t]
	n.mu.Unlock()
	if ok {
		return c
	}
	c = n.buildComponents(t)
	n.mu.Lock()
	n.types[t] = c
	n.mu.Unlock()
	return c
}

func (n *Namer) buildComponents(t *metadata.Type) []string {
	switch t.Kind {
	case metadata.Instance:
		c := append([]string(nil), n.typeComponents(t.Definition)...)
		c = append(c, "ZB")
		for i, a := range t.Args {
			if i > 0 {
				c = append(c, "ZC")
			}
			c = append(c, n.typeComponents(a)...)
		}
		return append(c, "ZE")
	case metadata.Pointer, metadata.ByRef:
		// Only reachable through generic arguments.
		return append(n.typeComponents(t.Elem), "ZP")
	}
	// Nested names are joined by ZN, which no encoded character yields.
	outer := t
	names := []string{Encode(t.Name)}
	for outer.DeclaringType != nil {
		outer = outer.DeclaringType
		names = append([]string{Encode(outer.Name)}, names...)
	}
	return []string{Encode(t.Scope()), Encode(outer.Namespace), strings.Join(names, "ZN")}
}

func (n *Namer) joined(t *metadata.Type) string {
	return strings.Join(n.typeComponents(t), "_")
}

// File returns the artifact base name of t.
func (n *Namer) File(t *metadata.Type) string {
	return n.joined(t)
}

// Type returns the struct identifier of t.
func (n *Namer) Type(t *metadata.Type) string {
	return "t_" + n.joined(t)
}

// RuntimeType returns the identifier of t's runtime type struct.
func (n *Namer) RuntimeType(t *metadata.Type) string {
	return "rt_" + n.joined(t)
}

// RuntimeTypeInstance returns the identifier of t's runtime type table.
func (n *Namer) RuntimeTypeInstance(t *metadata.Type) string {
	return "rti_" + n.joined(t)
}

// Method returns the function identifier of r.
func (n *Namer) Method(r *metadata.MethodRef) string {
	var args strings.Builder
	for _, a := range r.Args {
		fmt.Fprintf(&args, "%p,", a)
	}
	key := methodKey{method: r.Method, owner: r.Owner, args: args.String()}
	n.mu.Lock()
	name, ok := n.methods[key]
	n.mu.Unlock()
	if ok {
		return name
	}
	c := append([]string{"m"}, n.typeComponents(r.Owner)...)
	c = append(c, Encode(r.Method.Name))
	if len(r.Args) > 0 {
		c = append(c, "ZB")
		for i, a := range r.Args {
			if i > 0 {
				c = append(c, "ZC")
			}
			c = append(c, n.typeComponents(a)...)
		}
		c = append(c, "ZE")
	}
	c = append(c, strconv.Itoa(metadata.OverloadIndex(r.Method)))
	name = strings.Join(c, "_")
	n.mu.Lock()
	n.methods[key] = name
	n.mu.Unlock()
	return name
}

// Slot returns the runtime type member for the virtual slot introduced
// by slot.
func (n *Namer) Slot(slot *metadata.MethodRef) string {
	return fmt.Sprintf("v%d_%s_%d", metadata.BaseTypeCount(slot.Owner), Encode(slot.Method.Name), metadata.OverloadIndex(slot.Method))
}

// Field returns the member identifier of an instance field. The suffix
// is the declaring type's inheritance depth, which separates fields of
// the same name along a base chain.
func (n *Namer) Field(f *metadata.Field) string {
	return fmt.Sprintf("f_%s_%d", Encode(f.Name), metadata.BaseTypeCount(f.DeclaringType))
}

// StaticField returns the global identifier of a static field on owner.
func (n *Namer) StaticField(r *metadata.FieldRef) string {
	return "sf_" + n.joined(r.Owner) + "_" + Encode(r.Field.Name)
}

// ParamNames returns the identifiers of params by position. Unusable
// and repeated names fall back to the index, as for locals.
func ParamNames(params []*metadata.Param) []string {
	out := make([]string, len(params))
	taken := make(map[string]bool)
	for i, p := range params {
		if p.Name == "" || isDigits(p.Name) || taken[p.Name] {
			out[i] = "p_" + strconv.Itoa(p.Index)
			continue
		}
		taken[p.Name] = true
		out[i] = "p_" + Encode(p.Name)
	}
	return out
}

// Temp returns the identifier of an evaluation temporary.
func Temp(t *ir.EvalTemp) string {
	return "le_" + strconv.Itoa(t.Index)
}

// LocalNames returns the identifiers of u's locals by slot. A local
// without a usable debug name, or whose name another local already
// took, is named by its index.
func LocalNames(u *ir.Method) []string {
	out := make([]string, len(u.Locals))
	taken := make(map[string]bool)
	for i, l := range u.Locals {
		name := l.Name
		if name == "" || isDigits(name) || taken[name] {
			out[i] = "l_" + strconv.Itoa(l.Index)
			continue
		}
		taken[name] = true
		out[i] = "l_" + Encode(name)
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
