package metadata

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/reignstudios/il2x/diag"
)

func TestFullNames(t *testing.T) {
	core := NewCoreLibrary()
	mod := NewModule("App", core.Module)
	outer := mod.DefineType("App.Models", "Outer", Class, core.Object)
	inner := outer.DefineNested("Inner", ValueType, core.ValueType)
	box := mod.DefineType("App", "Box`1", Class, core.Object)
	box.DefineGenericParam("T")

	tests := []struct {
		typ  *Type
		want string
	}{
		{core.Int32, "System.Int32"},
		{outer, "App.Models.Outer"},
		{inner, "App.Models.Outer/Inner"},
		{Instantiate(box, core.Int32), "App.Box`1<System.Int32>"},
		{PointerTo(inner), "App.Models.Outer/Inner*"},
	}
	for _, tt := range tests {
		if got := tt.typ.FullName(); got != tt.want {
			t.Errorf("FullName() = %q, want %q", got, tt.want)
		}
	}
	if inner.Scope() != "App" {
		t.Errorf("Scope() = %q, want App", inner.Scope())
	}
}

func TestInstantiateInterns(t *testing.T) {
	core := NewCoreLibrary()
	mod := NewModule("App", core.Module)
	box := mod.DefineType("App", "Box`1", Class, core.Object)
	box.DefineGenericParam("T")

	a := Instantiate(box, core.Int32)
	b := Instantiate(box, core.Int32)
	c := Instantiate(box, core.Int64)
	if a != b {
		t.Errorf("Instantiate returned distinct descriptors for the same arguments")
	}
	if a == c {
		t.Errorf("Instantiate returned the same descriptor for different arguments")
	}
	if PointerTo(core.Int32) != PointerTo(core.Int32) {
		t.Errorf("PointerTo is not interned")
	}
}

func TestSubstitute(t *testing.T) {
	core := NewCoreLibrary()
	mod := NewModule("App", core.Module)
	box := mod.DefineType("App", "Box`1", Class, core.Object)
	T := box.DefineGenericParam("T")
	value := box.DefineField("value", T, false)
	pair := mod.DefineType("App", "Pair`1", Class, core.Object)
	U := pair.DefineGenericParam("U")
	pair.Base = Instantiate(box, U)

	inst := Instantiate(pair, core.Double)
	if got := inst.BaseType(); got != Instantiate(box, core.Double) {
		t.Errorf("BaseType() = %v, want Box`1<System.Double>", got)
	}

	// A field inherited from the generic base resolves through the chain.
	ref := &FieldRef{Field: value, Owner: inst}
	if got := ref.FieldType(); got != core.Double {
		t.Errorf("FieldType() = %v, want System.Double", got)
	}

	m := box.DefineMethod("Map", core.Void, 0)
	M := m.DefineGenericParam("M")
	list := Instantiate(box, M)
	got := Substitute(list, Context{Method: []*Type{core.Int32}})
	if got != Instantiate(box, core.Int32) {
		t.Errorf("Substitute(Box<M>) = %v, want Box`1<System.Int32>", got)
	}
	if !Substitute(T, Context{}).ContainsGenericParams() {
		t.Errorf("unresolvable parameter should stay generic")
	}
}

// buildHierarchy sets up Base.Speak (virtual), Mid.Speak (override),
// Leaf (no override) and an unrelated Other.Speak (non-virtual).
func buildHierarchy() (core *CoreLibrary, base, mid, leaf, other *Type) {
	core = NewCoreLibrary()
	mod := NewModule("App", core.Module)
	base = mod.DefineType("App", "Base", Class, core.Object)
	base.DefineMethod("Speak", core.Int32, Virtual|NewSlot).DefineParam("n", core.Int32)
	base.DefineMethod("Speak", core.Int32, Virtual|NewSlot).DefineParam("s", core.String)
	mid = mod.DefineType("App", "Mid", Class, base)
	mid.DefineMethod("Speak", core.Int32, Virtual).DefineParam("n", core.Int32)
	leaf = mod.DefineType("App", "Leaf", Class, mid)
	other = mod.DefineType("App", "Other", Class, core.Object)
	other.DefineMethod("Speak", core.Int32, 0).DefineParam("n", core.Int32)
	return
}

func TestFindVirtualSlot(t *testing.T) {
	core, base, mid, leaf, _ := buildHierarchy()

	got, err := FindVirtualSlot(leaf, "Speak", []*Type{core.Int32})
	if err != nil {
		t.Fatalf("FindVirtualSlot: %v", err)
	}
	if got.Method.DeclaringType != mid {
		t.Errorf("FindVirtualSlot resolved to %s, want Mid", got.Method.DeclaringType)
	}

	got, err = FindVirtualSlot(leaf, "Speak", []*Type{core.String})
	if err != nil {
		t.Fatalf("FindVirtualSlot(string): %v", err)
	}
	if got.Method.DeclaringType != base || OverloadIndex(got.Method) != 1 {
		t.Errorf("FindVirtualSlot(string) = %s #%d, want Base #1", got.Method.DeclaringType, OverloadIndex(got.Method))
	}

	_, err = FindVirtualSlot(leaf, "Speak", []*Type{core.Double})
	if !errors.Is(err, diag.ErrResolution) {
		t.Errorf("FindVirtualSlot(double) error = %v, want resolution error", err)
	}
}

func TestHighestVirtualSlot(t *testing.T) {
	core, base, _, leaf, _ := buildHierarchy()

	got, err := HighestVirtualSlot(leaf, "Speak", []*Type{core.Int32})
	if err != nil {
		t.Fatalf("HighestVirtualSlot: %v", err)
	}
	if got.Method.DeclaringType != base {
		t.Errorf("HighestVirtualSlot resolved to %s, want Base", got.Method.DeclaringType)
	}

	slots := VirtualSlots(leaf)
	if len(slots) != 2 {
		t.Fatalf("VirtualSlots = %d, want 2", len(slots))
	}
	for _, s := range slots {
		if s.Method.DeclaringType != base {
			t.Errorf("slot %s introduced on %s, want Base", s, s.Method.DeclaringType)
		}
	}
}

func TestImplementationOf(t *testing.T) {
	core, base, mid, leaf, _ := buildHierarchy()
	leaf.DefineMethod("Speak", core.Int32, Virtual|NewSlot).DefineParam("n", core.Int32)
	low := &MethodRef{Method: base.Methods[0], Owner: base}

	got, err := ImplementationOf(leaf, low)
	if err != nil {
		t.Fatalf("ImplementationOf: %v", err)
	}
	if got.Method.DeclaringType != mid {
		t.Errorf("ImplementationOf(Leaf, Base.Speak) = %s, want Mid past the hiding Leaf.Speak", got.Method.DeclaringType)
	}

	hiding := &MethodRef{Method: leaf.Methods[0], Owner: leaf}
	got, err = ImplementationOf(leaf, hiding)
	if err != nil {
		t.Fatalf("ImplementationOf(hiding): %v", err)
	}
	if got.Method != leaf.Methods[0] {
		t.Errorf("ImplementationOf(Leaf, Leaf.Speak) = %s, want Leaf", got.Method.DeclaringType)
	}

	if _, err := ImplementationOf(base, hiding); !errors.Is(err, diag.ErrResolution) {
		t.Errorf("ImplementationOf(Base, Leaf.Speak) error = %v, want resolution error", err)
	}
}

func TestBaseTypeQueries(t *testing.T) {
	core, base, mid, leaf, other := buildHierarchy()

	if n := BaseTypeCount(leaf); n != 3 {
		t.Errorf("BaseTypeCount(Leaf) = %d, want 3", n)
	}
	if n := BaseTypeCount(core.Object); n != 0 {
		t.Errorf("BaseTypeCount(Object) = %d, want 0", n)
	}
	if !HasBaseType(leaf, base) || !HasBaseType(leaf, mid) {
		t.Errorf("HasBaseType(Leaf) missing ancestors")
	}
	if HasBaseType(leaf, other) || HasBaseType(base, base) {
		t.Errorf("HasBaseType reported a non-ancestor")
	}
	if n := OverloadIndex(other.Methods[0]); n != 0 {
		t.Errorf("OverloadIndex = %d, want 0", n)
	}
}

func TestBodyLabels(t *testing.T) {
	core := NewCoreLibrary()
	mod := NewModule("App", core.Module)
	typ := mod.DefineType("App", "P", Class, core.Object)
	m := typ.DefineMethod("F", core.Int32, Static)
	m.DefineParam("c", core.Boolean)
	b := m.NewBody()
	b.Emit(OpLdarg, 0).
		Branch(OpBrtrue, "yes").
		Emit(OpLdcI4, 0).
		Emit(OpRet).
		Mark("yes").
		Emit(OpLdcI4, 1).
		Emit(OpRet)
	if err := b.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	br := b.Instructions[1]
	if br.Target != b.Instructions[4].Offset {
		t.Errorf("branch target = %#x, want %#x", br.Target, b.Instructions[4].Offset)
	}
	if b.Instructions[1].Offset != 4 {
		t.Errorf("offset of brtrue = %d, want 4 (ldarg is two-byte with u16 operand)", b.Instructions[1].Offset)
	}

	listing := Disassemble(m)
	if !strings.Contains(listing, "brtrue IL_") || !strings.Contains(listing, "ldc.i4 1") {
		t.Errorf("Disassemble() =\n%s", listing)
	}
}

func TestBodyErrors(t *testing.T) {
	core := NewCoreLibrary()
	mod := NewModule("App", core.Module)
	m := mod.DefineType("App", "P", Class, core.Object).DefineMethod("F", core.Void, Static)

	b := m.NewBody()
	b.Branch(OpBr, "nowhere")
	if err := b.Finish(); err == nil || !strings.Contains(err.Error(), "undefined label") {
		t.Errorf("Finish() error = %v, want undefined label", err)
	}

	b = m.NewBody()
	b.Emit(OpLdcI4, "one")
	if err := b.Finish(); err == nil {
		t.Errorf("Finish() accepted a string operand for ldc.i4")
	}
}

func TestLocalName(t *testing.T) {
	core := NewCoreLibrary()
	mod := NewModule("App", core.Module)
	m := mod.DefineType("App", "P", Class, core.Object).DefineMethod("F", core.Void, Static)
	b := m.NewBody()
	b.DeclareLocal(core.Int32, "count")
	b.DeclareLocal(core.Int32, "")

	if name, ok := m.LocalName(0); !ok || name != "count" {
		t.Errorf("LocalName(0) = %q, %v, want count, true", name, ok)
	}
	if _, ok := m.LocalName(1); ok {
		t.Errorf("LocalName(1) reported a name for an unnamed local")
	}
}

func TestImageRoundTrip(t *testing.T) {
	core := NewCoreLibrary()
	mod := NewModule("App", core.Module)
	box := mod.DefineType("App", "Box`1", Class, core.Object)
	T := box.DefineGenericParam("T")
	box.DefineField("value", T, false)
	get := box.DefineMethod("Get", T, 0)
	gb := get.NewBody()
	gb.Emit(OpLdarg, 0).Emit(OpLdfld, box.Fields[0]).Emit(OpRet)

	prog := mod.DefineType("App", "Program", Class, core.Object)
	main := prog.DefineMethod("Main", core.Int32, Static)
	mb := main.NewBody()
	mb.DeclareLocal(Instantiate(box, core.Int32), "b")
	mb.Emit(OpLdloc, 0).
		Emit(OpCallvirt, &MethodRef{Method: get, Owner: Instantiate(box, core.Int32)}).
		Emit(OpRet)
	mod.Entry = main
	if err := mb.Finish(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "app.ilm")
	if err := SaveImage(path, []*Module{core.Module, mod}); err != nil {
		t.Fatalf("SaveImage: %v", err)
	}
	mods, err := LoadImage(path)
	if err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if len(mods) != 2 || mods[1].Name != "App" {
		t.Fatalf("modules = %d, want core and App", len(mods))
	}
	if FindCoreLibrary(mods) == nil {
		t.Fatalf("FindCoreLibrary found nothing")
	}

	app := mods[1]
	if app.Entry == nil || app.Entry.Name != "Main" {
		t.Fatalf("entry = %v, want Main", app.Entry)
	}
	if app.References[0] != mods[0] {
		t.Errorf("App does not reference the decoded core library")
	}
	call := app.Entry.Body.Instructions[1]
	if call.Method.Owner.FullName() != "App.Box`1<System.Int32>" {
		t.Errorf("call owner = %s", call.Method.Owner.FullName())
	}
	if got := call.Method.ReturnType().FullName(); got != "System.Int32" {
		t.Errorf("substituted return = %s, want System.Int32", got)
	}
	if name, _ := app.Entry.LocalName(0); name != "b" {
		t.Errorf("local name = %q, want b", name)
	}
	if _, err := DecodeImage([]byte{0xff}); err == nil {
		t.Errorf("DecodeImage accepted garbage")
	}
}

func TestEncodeImageRejectsMissingTypes(t *testing.T) {
	core := NewCoreLibrary()
	mod := NewModule("App", core.Module)
	mod.DefineType("App", "P", Class, core.Object)

	if _, err := EncodeImage([]*Module{mod}); err == nil {
		t.Errorf("EncodeImage succeeded without the core library in the image")
	}
}
