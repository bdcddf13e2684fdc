package emit

import (
	"errors"
	"strings"
	"testing"

	"github.com/reignstudios/il2x/diag"
	"github.com/reignstudios/il2x/jit"
	"github.com/reignstudios/il2x/metadata"
	"github.com/reignstudios/il2x/optimize"
)

type fixture struct {
	core *metadata.CoreLibrary
	mod  *metadata.Module
	prog *metadata.Type
}

func newFixture() *fixture {
	core := metadata.NewCoreLibrary()
	mod := metadata.NewModule("App", core.Module)
	prog := mod.DefineType("App", "Program", metadata.Class, core.Object)
	return &fixture{core: core, mod: mod, prog: prog}
}

func finish(t *testing.T, ms ...*metadata.Method) {
	t.Helper()
	for _, m := range ms {
		if err := m.Body.Finish(); err != nil {
			t.Fatalf("Finish(%s) error = %v", m.Name, err)
		}
	}
}

func (f *fixture) emit(opts Options, optimized bool) ([]Artifact, error) {
	sol, err := jit.Jit([]*metadata.Module{f.core.Module, f.mod}, jit.Options{})
	if err != nil {
		return nil, err
	}
	if optimized {
		for _, m := range sol.Methods() {
			if m.Unit != nil {
				optimize.Method(m.Unit)
			}
		}
	}
	if opts.BuildID == "" {
		opts.BuildID = "test"
	}
	return New(sol, nil, opts).All()
}

func (f *fixture) mustEmit(t *testing.T, opts Options, optimized bool) map[string]string {
	t.Helper()
	arts, err := f.emit(opts, optimized)
	if err != nil {
		t.Fatalf("emit error = %v", err)
	}
	out := make(map[string]string)
	for _, a := range arts {
		out[a.Path] = string(a.Content)
	}
	return out
}

func artifact(t *testing.T, arts map[string]string, path string) string {
	t.Helper()
	s, ok := arts[path]
	if !ok {
		var paths []string
		for p := range arts {
			paths = append(paths, p)
		}
		t.Fatalf("no artifact %s; have %v", path, paths)
	}
	return s
}

func expectContains(t *testing.T, text string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(text, w) {
			t.Errorf("output missing %q", w)
		}
	}
	if t.Failed() {
		t.Logf("output:\n%s", text)
	}
}

func TestEmitStoreAndReturn(t *testing.T) {
	f := newFixture()
	m := f.prog.DefineMethod("Three", f.core.Int32, metadata.Static)
	b := m.NewBody()
	b.DeclareLocal(f.core.Int32, "a")
	b.Emit(metadata.OpLdcI4, 1).
		Emit(metadata.OpLdcI4, 2).
		Emit(metadata.OpAdd).
		Emit(metadata.OpStloc, 0).
		Emit(metadata.OpLdloc, 0).
		Emit(metadata.OpRet)
	finish(t, m)

	arts := f.mustEmit(t, Options{}, true)
	src := artifact(t, arts, "App/App_App_Program.c")
	expectContains(t, src,
		"int32_t m_App_App_Program_Three_0(void)",
		"return (1 + 2);",
	)
	if n := strings.Count(src, "l_a"); n != 1 {
		t.Errorf("l_a appears %d times, want only its declaration", n)
	}
	if strings.Contains(src, "le_") {
		t.Errorf("temporaries survived optimization:\n%s", src)
	}
	expectContains(t, artifact(t, arts, "App/App_App_Program_Methods.h"),
		"int32_t m_App_App_Program_Three_0(void);",
	)
}

func TestEmitRepeatedParamNames(t *testing.T) {
	f := newFixture()
	m := f.prog.DefineMethod("Second", f.core.Int32, metadata.Static)
	m.DefineParam("x", f.core.Int32)
	m.DefineParam("x", f.core.Int32)
	m.NewBody().Emit(metadata.OpLdarg, 1).Emit(metadata.OpRet)
	finish(t, m)

	arts := f.mustEmit(t, Options{}, true)
	expectContains(t, artifact(t, arts, "App/App_App_Program.c"),
		"int32_t m_App_App_Program_Second_0(int32_t p_x, int32_t p_1)",
		"return p_1;",
	)
	expectContains(t, artifact(t, arts, "App/App_App_Program_Methods.h"),
		"int32_t m_App_App_Program_Second_0(int32_t p_x, int32_t p_1);",
	)
}

func TestEmitArtifactOrder(t *testing.T) {
	f := newFixture()
	arts, err := f.emit(Options{}, false)
	if err != nil {
		t.Fatal(err)
	}
	var app []string
	for _, a := range arts {
		if strings.HasPrefix(a.Path, "App/") {
			app = append(app, a.Path)
		}
	}
	want := []string{
		"App/__ForwardDeclares.h",
		"App/App_App_Program.h",
		"App/App_App_Program_Methods.h",
		"App/App_App_Program.c",
		"App/__StringLiterals.h",
	}
	if strings.Join(app, " ") != strings.Join(want, " ") {
		t.Errorf("artifacts = %v, want %v", app, want)
	}
	for _, a := range arts {
		if !strings.HasPrefix(string(a.Content), "// Generated by il2x. Build test.") {
			t.Errorf("%s lacks the generated header", a.Path)
		}
	}
}

func TestEmitForwardDeclares(t *testing.T) {
	f := newFixture()
	f.mod.DefineType("App", "Empty", metadata.ValueType, f.core.ValueType)
	arts := f.mustEmit(t, Options{}, false)
	expectContains(t, artifact(t, arts, "App/__ForwardDeclares.h"),
		"#include <stdint.h>",
		"#include \"../System.Private.CoreLib/__ForwardDeclares.h\"",
		"extern void* IL2X_GC_NewObject(size_t size, void* runtimeType);",
		"typedef struct t_App_App_Program t_App_App_Program;",
		"typedef struct rt_App_App_Program rt_App_App_Program;",
		"#define t_App_App_Empty void",
	)
}

func TestEmitLayout(t *testing.T) {
	f := newFixture()
	vec := f.mod.DefineType("App", "Vec", metadata.ValueType, f.core.ValueType)
	vec.DefineField("a", f.core.Int32, false)
	base := f.mod.DefineType("App", "Base", metadata.Class, f.core.Object)
	base.DefineField("x", f.core.Int32, false)
	derived := f.mod.DefineType("App", "Derived", metadata.Class, base)
	derived.DefineField("x", f.core.Int64, false)
	derived.DefineField("y", vec, false)
	derived.DefineField("count", f.core.Int32, true)

	arts := f.mustEmit(t, Options{}, false)
	h := artifact(t, arts, "App/App_App_Derived.h")
	expectContains(t, h,
		"#include \"App_App_Vec.h\"",
		"struct t_App_App_Derived\n{\n\tvoid* RuntimeType;\n\tint32_t f_x_1;\n\tint64_t f_x_2;\n\tt_App_App_Vec f_y_2;\n};",
		"extern int32_t sf_App_App_Derived_count;",
	)
	expectContains(t, artifact(t, arts, "App/App_App_Vec.h"),
		"struct t_App_App_Vec\n{\n\tint32_t f_a_2;\n};",
	)
	expectContains(t, artifact(t, arts, "App/App_App_Derived.c"),
		"int32_t sf_App_App_Derived_count;",
	)
}

func TestEmitVirtualDispatch(t *testing.T) {
	f := newFixture()
	base := f.mod.DefineType("App", "Base", metadata.Class, f.core.Object)
	speak := base.DefineMethod("Speak", f.core.Int32, metadata.Virtual|metadata.NewSlot)
	speak.DefineParam("n", f.core.Int32)
	speak.NewBody().Emit(metadata.OpLdarg, 1).Emit(metadata.OpRet)

	derived := f.mod.DefineType("App", "Derived", metadata.Class, base)
	override := derived.DefineMethod("Speak", f.core.Int32, metadata.Virtual)
	override.DefineParam("n", f.core.Int32)
	override.NewBody().Emit(metadata.OpLdcI4, 0).Emit(metadata.OpRet)

	holder := f.mod.DefineType("App", "Holder", metadata.Class, f.core.Object)
	field := holder.DefineField("leaf", derived, false)
	ask := holder.DefineMethod("Ask", f.core.Int32, 0)
	ask.NewBody().
		Emit(metadata.OpLdarg, 0).
		Emit(metadata.OpLdfld, field).
		Emit(metadata.OpLdcI4, 1).
		Emit(metadata.OpCallvirt, speak).
		Emit(metadata.OpRet)
	finish(t, speak, override, ask)

	arts := f.mustEmit(t, Options{}, true)
	expectContains(t, artifact(t, arts, "App/App_App_Holder.c"),
		"#include \"App_App_Base_Methods.h\"",
		"int32_t m_App_App_Holder_Ask_0(t_App_App_Holder* self)",
		"return ((rt_App_App_Base*)(self->f_leaf_1)->RuntimeType)->v1_Speak_0(self->f_leaf_1, 1);",
	)
	expectContains(t, artifact(t, arts, "App/App_App_Derived_Methods.h"),
		"struct rt_App_App_Derived\n{\n\tvoid* Base;\n\tint32_t (*v1_Speak_0)(void*, int32_t);\n};",
		"extern rt_App_App_Derived rti_App_App_Derived;",
		"int32_t m_App_App_Derived_Speak_0(t_App_App_Derived* self, int32_t p_n);",
	)
	expectContains(t, artifact(t, arts, "App/App_App_Derived.c"),
		".Base = &rti_App_App_Base,",
		".v1_Speak_0 = (int32_t (*)(void*, int32_t))m_App_App_Derived_Speak_0,",
	)
	expectContains(t, artifact(t, arts, "App/App_App_Base.c"),
		"return p_n;",
	)
}

func TestEmitHidingSlotKeepsBaseImplementation(t *testing.T) {
	f := newFixture()
	base := f.mod.DefineType("App", "Base", metadata.Class, f.core.Object)
	speak := base.DefineMethod("Speak", f.core.Int32, metadata.Virtual|metadata.NewSlot)
	speak.NewBody().Emit(metadata.OpLdcI4, 1).Emit(metadata.OpRet)

	shadow := f.mod.DefineType("App", "Shadow", metadata.Class, base)
	hiding := shadow.DefineMethod("Speak", f.core.Int32, metadata.Virtual|metadata.NewSlot)
	hiding.NewBody().Emit(metadata.OpLdcI4, 2).Emit(metadata.OpRet)
	finish(t, speak, hiding)

	arts := f.mustEmit(t, Options{}, true)
	expectContains(t, artifact(t, arts, "App/App_App_Shadow.c"),
		".v1_Speak_0 = (int32_t (*)(void*))m_App_App_Base_Speak_0,",
		".v2_Speak_0 = (int32_t (*)(void*))m_App_App_Shadow_Speak_0,",
	)
}

func TestEmitAbstractSlotIsNull(t *testing.T) {
	f := newFixture()
	shape := f.mod.DefineType("App", "Shape", metadata.Class, f.core.Object)
	shape.DefineMethod("Area", f.core.Int32, metadata.Virtual|metadata.NewSlot|metadata.Abstract)

	arts := f.mustEmit(t, Options{}, false)
	src := artifact(t, arts, "App/App_App_Shape.c")
	expectContains(t, src, ".v1_Area_0 = 0,")
	if strings.Contains(artifact(t, arts, "App/App_App_Shape_Methods.h"), "m_App_App_Shape_Area_0(") {
		t.Errorf("abstract method has a prototype")
	}
}

func TestEmitObjectConstruction(t *testing.T) {
	f := newFixture()
	point := f.mod.DefineType("App", "Point", metadata.Class, f.core.Object)
	ctor := point.DefineMethod(".ctor", nil, 0)
	ctor.DefineParam("x", f.core.Int32)
	ctor.NewBody().Emit(metadata.OpRet)

	vec := f.mod.DefineType("App", "Vec", metadata.ValueType, f.core.ValueType)
	vec.DefineField("x", f.core.Int32, false)
	vctor := vec.DefineMethod(".ctor", nil, 0)
	vctor.DefineParam("x", f.core.Int32)
	vctor.NewBody().Emit(metadata.OpRet)

	mk := f.prog.DefineMethod("Make", point, metadata.Static)
	mk.NewBody().Emit(metadata.OpLdcI4, 3).Emit(metadata.OpNewobj, ctor).Emit(metadata.OpRet)
	mv := f.prog.DefineMethod("MakeVec", vec, metadata.Static)
	mv.NewBody().Emit(metadata.OpLdcI4, 4).Emit(metadata.OpNewobj, vctor).Emit(metadata.OpRet)
	finish(t, ctor, vctor, mk, mv)

	arts := f.mustEmit(t, Options{}, false)
	expectContains(t, artifact(t, arts, "App/App_App_Program.c"),
		"le_0 = ((t_App_App_Point*)IL2X_GC_NewObject(sizeof(t_App_App_Point), &rti_App_App_Point));",
		"m_App_App_Point_Zdctor_0(le_0, 3);",
		"memset((&le_0), 0, sizeof(t_App_App_Vec));",
		"m_App_App_Vec_Zdctor_0((&le_0), 4);",
		"#include \"App_App_Point_Methods.h\"",
		"#include \"App_App_Vec_Methods.h\"",
	)
	expectContains(t, artifact(t, arts, "App/App_App_Vec_Methods.h"),
		"void m_App_App_Vec_Zdctor_0(t_App_App_Vec* self, int32_t p_x);",
	)
}

func TestEmitComparisons(t *testing.T) {
	f := newFixture()
	gt := f.prog.DefineMethod("Above", f.core.Int32, metadata.Static)
	gt.DefineParam("a", f.core.Int32)
	gt.DefineParam("b", f.core.Int32)
	gt.NewBody().
		Emit(metadata.OpLdarg, 0).
		Emit(metadata.OpLdarg, 1).
		Emit(metadata.OpCgtUn).
		Emit(metadata.OpRet)

	ge := f.prog.DefineMethod("NotBelow", f.core.Int32, metadata.Static)
	ge.DefineParam("a", f.core.Double)
	ge.DefineParam("b", f.core.Double)
	ge.NewBody().
		Emit(metadata.OpLdarg, 0).
		Emit(metadata.OpLdarg, 1).
		Branch(metadata.OpBgeUn, "yes").
		Emit(metadata.OpLdcI4, 0).
		Emit(metadata.OpRet).
		Mark("yes").
		Emit(metadata.OpLdcI4, 1).
		Emit(metadata.OpRet)
	finish(t, gt, ge)

	arts := f.mustEmit(t, Options{}, false)
	expectContains(t, artifact(t, arts, "App/App_App_Program.c"),
		"le_0 = (((uint32_t)p_a > (uint32_t)p_b) ? 1 : 0);",
		"if (!(p_a < p_b)) goto JMP_0001;",
		"JMP_0001:",
	)
}

func TestEmitJoinTemporaries(t *testing.T) {
	f := newFixture()
	m := f.prog.DefineMethod("Ternary", f.core.Int32, metadata.Static)
	m.DefineParam("x", f.core.Int32)
	m.NewBody().
		Emit(metadata.OpLdarg, 0).
		Branch(metadata.OpBrtrue, "a").
		Emit(metadata.OpLdcI4, 1).
		Branch(metadata.OpBr, "b").
		Mark("a").
		Emit(metadata.OpLdcI4, 2).
		Mark("b").
		Emit(metadata.OpRet)
	finish(t, m)

	arts := f.mustEmit(t, Options{}, true)
	expectContains(t, artifact(t, arts, "App/App_App_Program.c"),
		"int32_t m_App_App_Program_Ternary_0(int32_t p_x)",
		"int32_t le_0;",
		"if (p_x) goto JMP_0001;",
		"le_0 = 1;",
		"JMP_0002:",
		"return le_0;",
		"JMP_0001:",
		"le_0 = 2;",
		"goto JMP_0002;",
	)
}

func TestEmitStringLiterals(t *testing.T) {
	f := newFixture()
	for _, name := range []string{"Hello", "Again"} {
		m := f.prog.DefineMethod(name, f.core.String, metadata.Static)
		m.NewBody().Emit(metadata.OpLdstr, "hi").Emit(metadata.OpRet)
		finish(t, m)
	}
	arts := f.mustEmit(t, Options{}, false)
	pool := artifact(t, arts, "App/__StringLiterals.h")
	expectContains(t, pool,
		"#include \"../System.Private.CoreLib/SystemZdPrivateZdCoreLib_System_String_Methods.h\"",
		"uint16_t Chars[3]; } StringLiteral_0 =",
		"&rti_SystemZdPrivateZdCoreLib_System_String, 2, { 0x0068, 0x0069, 0 }",
	)
	if strings.Contains(pool, "StringLiteral_1") {
		t.Errorf("duplicate literal was pooled twice:\n%s", pool)
	}
	expectContains(t, artifact(t, arts, "App/App_App_Program.c"),
		"return ((t_SystemZdPrivateZdCoreLib_System_String*)&StringLiteral_0);",
	)
}

func TestEmitMain(t *testing.T) {
	f := newFixture()
	main := f.prog.DefineMethod("Main", nil, metadata.Static)
	main.NewBody().Emit(metadata.OpRet)
	finish(t, main)
	f.mod.Entry = main

	arts := f.mustEmit(t, Options{Executable: true}, false)
	expectContains(t, artifact(t, arts, "App/main.c"),
		"#include \"App_App_Program_Methods.h\"",
		"int main(void)",
		"\tm_App_App_Program_Main_0();\n\treturn 0;",
	)

	lib := f.mustEmit(t, Options{}, false)
	if _, ok := lib["App/main.c"]; ok {
		t.Errorf("library build emitted main.c")
	}
}

func TestEmitMainErrors(t *testing.T) {
	f := newFixture()
	if _, err := f.emit(Options{Executable: true}, false); !errors.Is(err, diag.ErrResolution) {
		t.Errorf("no entry: error = %v, want resolution error", err)
	}

	main := f.prog.DefineMethod("Main", nil, metadata.Static)
	main.DefineParam("args", f.core.Int32)
	main.NewBody().Emit(metadata.OpRet)
	finish(t, main)
	f.mod.Entry = main
	if _, err := f.emit(Options{Executable: true}, false); !errors.Is(err, diag.ErrUnsupported) {
		t.Errorf("entry with args: error = %v, want unsupported", err)
	}
}

func TestEmitEmptyValueStorage(t *testing.T) {
	f := newFixture()
	empty := f.mod.DefineType("App", "Empty", metadata.ValueType, f.core.ValueType)
	m := f.prog.DefineMethod("Hold", nil, metadata.Static)
	m.NewBody().DeclareLocal(empty, "e")
	m.Body.Emit(metadata.OpRet)
	finish(t, m)

	_, err := f.emit(Options{}, false)
	if !errors.Is(err, diag.ErrPolicy) {
		t.Fatalf("error = %v, want policy violation", err)
	}
	var de *diag.Error
	if errors.As(err, &de) && !strings.Contains(de.Method, "Hold") {
		t.Errorf("Method = %q, want the offending method", de.Method)
	}
}

func TestEmitEmptyValueField(t *testing.T) {
	f := newFixture()
	empty := f.mod.DefineType("App", "Empty", metadata.ValueType, f.core.ValueType)
	f.prog.DefineField("e", empty, false)
	if _, err := f.emit(Options{}, false); !errors.Is(err, diag.ErrPolicy) {
		t.Errorf("error = %v, want policy violation", err)
	}
}

func TestEmitGenericInstance(t *testing.T) {
	f := newFixture()
	box := f.mod.DefineType("App", "Box`1", metadata.Class, f.core.Object)
	T := box.DefineGenericParam("T")
	value := box.DefineField("value", T, false)
	get := box.DefineMethod("Get", T, 0)
	get.NewBody().
		Emit(metadata.OpLdarg, 0).
		Emit(metadata.OpLdfld, value).
		Emit(metadata.OpRet)

	inst := metadata.Instantiate(box, f.core.Int32)
	use := f.prog.DefineMethod("Use", f.core.Int32, metadata.Static)
	use.DefineParam("b", inst)
	use.NewBody().
		Emit(metadata.OpLdarg, 0).
		Emit(metadata.OpCall, &metadata.MethodRef{Method: get, Owner: inst}).
		Emit(metadata.OpRet)
	finish(t, get, use)

	arts := f.mustEmit(t, Options{}, true)
	name := "App_App_BoxZg1_ZB_SystemZdPrivateZdCoreLib_System_Int32_ZE"
	expectContains(t, artifact(t, arts, "App/"+name+".h"),
		"struct t_"+name+"\n{\n\tvoid* RuntimeType;\n\tint32_t f_value_1;\n};",
	)
	expectContains(t, artifact(t, arts, "App/"+name+".c"),
		"int32_t m_"+name+"_Get_0(t_"+name+"* self)",
		"return self->f_value_1;",
	)
	expectContains(t, artifact(t, arts, "App/App_App_Program.c"),
		"return m_"+name+"_Get_0(p_b);",
	)
	if _, ok := arts["App/App_App_BoxZg1.h"]; ok {
		t.Errorf("generic definition was emitted")
	}
}
