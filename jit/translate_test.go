package jit

import (
	"errors"
	"strings"
	"testing"

	"github.com/reignstudios/il2x/diag"
	"github.com/reignstudios/il2x/ir"
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

func (f *fixture) translate(t *testing.T, m *metadata.Method) *ir.Method {
	t.Helper()
	unit, err := f.try(t, m)
	if err != nil {
		t.Fatalf("TranslateMethod() error = %v", err)
	}
	return unit
}

func (f *fixture) try(t *testing.T, m *metadata.Method) (*ir.Method, error) {
	t.Helper()
	if err := m.Body.Finish(); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	return TranslateMethod(metadata.RefMethod(m), f.core)
}

func listing(u *ir.Method) []string {
	var out []string
	for _, op := range u.Body.Ops() {
		out = append(out, ir.Format(op))
	}
	return out
}

func expectListing(t *testing.T, u *ir.Method, want ...string) {
	t.Helper()
	got := listing(u)
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("listing mismatch\ngot:\n  %s\nwant:\n  %s", strings.Join(got, "\n  "), strings.Join(want, "\n  "))
	}
}

func TestTranslateStoreAndReturn(t *testing.T) {
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

	u := f.translate(t, m)
	expectListing(t, u,
		"t0 = add 1, 2",
		"l.a = t0",
		"return l.a",
	)
	if len(u.Temps) != 1 || u.Temps[0].Refs != 1 {
		t.Errorf("temps = %+v, want one temp with one writer", u.Temps)
	}
}

func TestTranslateConditional(t *testing.T) {
	f := newFixture()
	m := f.prog.DefineMethod("Sign", f.core.Int32, metadata.Static)
	m.DefineParam("x", f.core.Int32)
	m.NewBody().
		Emit(metadata.OpLdarg, 0).
		Branch(metadata.OpBrtrue, "nonzero").
		Emit(metadata.OpLdcI4, 0).
		Emit(metadata.OpRet).
		Mark("nonzero").
		Emit(metadata.OpLdcI4, 1).
		Emit(metadata.OpRet)

	expectListing(t, f.translate(t, m),
		"if true p.x goto JMP_0001",
		"return 0",
		"JMP_0001:",
		"return 1",
	)
}

func TestTranslateLoop(t *testing.T) {
	f := newFixture()
	m := f.prog.DefineMethod("Count", nil, metadata.Static)
	m.DefineParam("x", f.core.Int32)
	m.NewBody().
		Mark("top").
		Emit(metadata.OpLdarg, 0).
		Branch(metadata.OpBrfalse, "end").
		Emit(metadata.OpLdarg, 0).
		Emit(metadata.OpLdcI4, 1).
		Emit(metadata.OpSub).
		Emit(metadata.OpStarg, 0).
		Branch(metadata.OpBr, "top").
		Mark("end").
		Emit(metadata.OpRet)

	expectListing(t, f.translate(t, m),
		"JMP_0001:",
		"if false p.x goto JMP_0002",
		"t0 = sub p.x, 1",
		"p.x = t0",
		"goto JMP_0001",
		"JMP_0002:",
		"return",
	)
}

func TestTranslateForwardBranchContinuesInline(t *testing.T) {
	f := newFixture()
	m := f.prog.DefineMethod("Skip", f.core.Int32, metadata.Static)
	m.NewBody().
		Branch(metadata.OpBr, "done").
		Emit(metadata.OpNop).
		Mark("done").
		Emit(metadata.OpLdcI4, 7).
		Emit(metadata.OpRet)

	expectListing(t, f.translate(t, m),
		"JMP_0001:",
		"return 7",
	)
}

func TestTranslateJoinCarriesValues(t *testing.T) {
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

	u := f.translate(t, m)
	expectListing(t, u,
		"if true p.x goto JMP_0001",
		"t0 = 1",
		"JMP_0002:",
		"return t0",
		"JMP_0001:",
		"t0 = 2",
		"goto JMP_0002",
	)
	if len(u.Temps) != 1 || u.Temps[0].Refs != 2 {
		t.Errorf("temps = %+v, want one join temp with two writers", u.Temps)
	}
}

func TestTranslateConditionalBranchCarriesValues(t *testing.T) {
	f := newFixture()
	m := f.prog.DefineMethod("Pick", f.core.Int32, metadata.Static)
	m.DefineParam("x", f.core.Int32)
	m.NewBody().
		Emit(metadata.OpLdcI4, 1).
		Emit(metadata.OpLdarg, 0).
		Branch(metadata.OpBrtrue, "done").
		Emit(metadata.OpPop).
		Emit(metadata.OpLdcI4, 2).
		Mark("done").
		Emit(metadata.OpRet)

	expectListing(t, f.translate(t, m),
		"if true p.x goto JMP_0002",
		"t0 = 2",
		"JMP_0001:",
		"return t0",
		"JMP_0002:",
		"t0 = 1",
		"goto JMP_0001",
	)
}

func TestTranslateDiscardKeepsQueuedValue(t *testing.T) {
	f := newFixture()
	next := f.prog.DefineMethod("Next", f.core.Int32, metadata.Static)
	next.NewBody().Emit(metadata.OpLdcI4, 4).Emit(metadata.OpRet)

	m := f.prog.DefineMethod("Maybe", f.core.Int32, metadata.Static)
	m.DefineParam("x", f.core.Int32)
	m.NewBody().
		Emit(metadata.OpCall, next).
		Emit(metadata.OpLdarg, 0).
		Branch(metadata.OpBrtrue, "keep").
		Emit(metadata.OpPop).
		Emit(metadata.OpLdcI4, 0).
		Emit(metadata.OpRet).
		Mark("keep").
		Emit(metadata.OpRet)

	u := f.translate(t, m)
	expectListing(t, u,
		"t0 = call App.Program::Next()()",
		"if true p.x goto JMP_0002",
		"return 0",
		"JMP_0002:",
		"t1 = t0",
		"JMP_0001:",
		"return t1",
	)
	call := u.Body.At(0).(*ir.Call)
	if call.Result == nil {
		t.Fatal("call result dropped while the taken path still returns it")
	}

	optimize.Method(u)
	declared := false
	for _, tmp := range u.Temps {
		if ir.Slot(tmp) == call.Result {
			declared = true
		}
	}
	if !declared {
		t.Errorf("temp %s written by the call is not declared after optimization; temps = %+v", ir.Format(call.Result), u.Temps)
	}
}

func TestTranslateStackErrors(t *testing.T) {
	f := newFixture()

	residual := f.prog.DefineMethod("Residual", nil, metadata.Static)
	residual.NewBody().
		Emit(metadata.OpLdcI4, 1).
		Emit(metadata.OpRet)

	mismatch := f.prog.DefineMethod("Mismatch", f.core.Int32, metadata.Static)
	mismatch.DefineParam("x", f.core.Int32)
	mismatch.NewBody().
		Emit(metadata.OpLdarg, 0).
		Branch(metadata.OpBrtrue, "join").
		Emit(metadata.OpLdcI4, 5).
		Mark("join").
		Emit(metadata.OpRet)

	underflow := f.prog.DefineMethod("Underflow", f.core.Int32, metadata.Static)
	underflow.NewBody().Emit(metadata.OpAdd).Emit(metadata.OpRet)

	tests := []struct {
		name   string
		method *metadata.Method
		detail string
	}{
		{"residual", residual, "left on the stack"},
		{"mismatch", mismatch, "stack depth 1"},
		{"underflow", underflow, "underflow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.try(t, tt.method)
			if !errors.Is(err, diag.ErrStack) {
				t.Fatalf("error = %v, want stack imbalance", err)
			}
			if !strings.Contains(err.Error(), tt.detail) {
				t.Errorf("error = %q, want it to mention %q", err, tt.detail)
			}
			if !strings.Contains(err.Error(), "App.Program::"+tt.method.Name) {
				t.Errorf("error = %q does not name the method", err)
			}
		})
	}

	_, err := f.try(t, residual)
	var de *diag.Error
	if !errors.As(err, &de) || len(de.Stack) != 1 || de.Stack[0] != "1" {
		t.Errorf("residual stack = %v, want [1]", de)
	}
}

func TestTranslateUnsupportedOpcode(t *testing.T) {
	f := newFixture()
	m := f.prog.DefineMethod("Throw", nil, metadata.Static)
	m.Body = &metadata.Body{Instructions: []metadata.Instruction{{Offset: 0, Op: metadata.Opcode(0x7A)}}}

	_, err := TranslateMethod(metadata.RefMethod(m), f.core)
	if !errors.Is(err, diag.ErrUnsupported) {
		t.Fatalf("error = %v, want unsupported construct", err)
	}
	if !strings.Contains(err.Error(), "IL_0000") {
		t.Errorf("error = %q, want the instruction offset", err)
	}
}

func TestTranslateFallsOffEnd(t *testing.T) {
	f := newFixture()
	m := f.prog.DefineMethod("Open", nil, metadata.Static)
	m.NewBody().Emit(metadata.OpNop)

	if _, err := f.try(t, m); !errors.Is(err, diag.ErrUnsupported) {
		t.Errorf("error = %v, want unsupported construct", err)
	}
}

func TestTranslateTempPooling(t *testing.T) {
	f := newFixture()
	m := f.prog.DefineMethod("Mix", f.core.Int32, metadata.Static)
	m.DefineParam("a", f.core.Int32)
	m.DefineParam("b", f.core.Int32)
	m.NewBody().
		Emit(metadata.OpLdarg, 0).
		Emit(metadata.OpLdarg, 1).
		Emit(metadata.OpAdd).
		Emit(metadata.OpLdarg, 0).
		Emit(metadata.OpLdarg, 1).
		Emit(metadata.OpMul).
		Emit(metadata.OpAdd).
		Emit(metadata.OpRet)

	u := f.translate(t, m)
	expectListing(t, u,
		"t0 = add p.a, p.b",
		"t1 = mul p.a, p.b",
		"t0 = add t0, t1",
		"return t0",
	)
	if len(u.Temps) != 2 {
		t.Errorf("len(Temps) = %d, want 2", len(u.Temps))
	}
}

func TestTranslateSpillsBeforeStore(t *testing.T) {
	f := newFixture()
	m := f.prog.DefineMethod("Swap", nil, metadata.Static)
	b := m.NewBody()
	b.DeclareLocal(f.core.Int32, "a")
	b.DeclareLocal(f.core.Int32, "b")
	b.Emit(metadata.OpLdloc, 0).
		Emit(metadata.OpLdcI4, 1).
		Emit(metadata.OpStloc, 0).
		Emit(metadata.OpStloc, 1).
		Emit(metadata.OpRet)

	expectListing(t, f.translate(t, m),
		"t0 = l.a",
		"l.a = 1",
		"l.b = t0",
		"return",
	)
}

func TestTranslateSpillsFieldReadsBeforeCall(t *testing.T) {
	f := newFixture()
	counter := f.prog.DefineField("counter", f.core.Int32, true)
	bump := f.prog.DefineMethod("Bump", nil, metadata.Static)
	bump.NewBody().Emit(metadata.OpRet)

	m := f.prog.DefineMethod("Before", f.core.Int32, metadata.Static)
	m.NewBody().
		Emit(metadata.OpLdsfld, counter).
		Emit(metadata.OpCall, bump).
		Emit(metadata.OpRet)

	expectListing(t, f.translate(t, m),
		"t0 = App.Program::counter",
		"call App.Program::Bump()()",
		"return t0",
	)
}

func TestTranslateDiscardedCall(t *testing.T) {
	f := newFixture()
	next := f.prog.DefineMethod("Next", f.core.Int32, metadata.Static)
	next.NewBody().Emit(metadata.OpLdcI4, 4).Emit(metadata.OpRet)

	m := f.prog.DefineMethod("Drop", nil, metadata.Static)
	m.NewBody().
		Emit(metadata.OpCall, next).
		Emit(metadata.OpPop).
		Emit(metadata.OpRet)

	u := f.translate(t, m)
	expectListing(t, u,
		"call App.Program::Next()()",
		"return",
	)
	if u.Temps[0].Refs != 0 {
		t.Errorf("Refs = %d, want 0 once the result is dropped", u.Temps[0].Refs)
	}
}

func TestTranslateDupCountsUses(t *testing.T) {
	f := newFixture()
	next := f.prog.DefineMethod("Next", f.core.Int32, metadata.Static)
	next.NewBody().Emit(metadata.OpLdcI4, 4).Emit(metadata.OpRet)

	m := f.prog.DefineMethod("Twice", f.core.Int32, metadata.Static)
	b := m.NewBody()
	b.DeclareLocal(f.core.Int32, "a")
	b.Emit(metadata.OpCall, next).
		Emit(metadata.OpDup).
		Emit(metadata.OpStloc, 0).
		Emit(metadata.OpRet)

	u := f.translate(t, m)
	call := u.Body.At(0).(*ir.Call)
	if call.Uses != 2 {
		t.Errorf("Uses = %d, want 2 after dup", call.Uses)
	}
}

func TestTranslateVirtualCall(t *testing.T) {
	f := newFixture()
	base := f.mod.DefineType("App", "Base", metadata.Class, f.core.Object)
	speak := base.DefineMethod("Speak", f.core.Int32, metadata.Virtual|metadata.NewSlot)
	speak.DefineParam("n", f.core.Int32)
	speak.NewBody().Emit(metadata.OpLdarg, 1).Emit(metadata.OpRet)

	mid := f.mod.DefineType("App", "Mid", metadata.Class, base)
	override := mid.DefineMethod("Speak", f.core.Int32, metadata.Virtual)
	override.DefineParam("n", f.core.Int32)
	override.NewBody().Emit(metadata.OpLdcI4, 0).Emit(metadata.OpRet)

	leaf := f.mod.DefineType("App", "Leaf", metadata.Class, mid)
	holder := f.mod.DefineType("App", "Holder", metadata.Class, f.core.Object)
	field := holder.DefineField("leaf", leaf, false)

	m := holder.DefineMethod("Ask", f.core.Int32, 0)
	m.NewBody().
		Emit(metadata.OpLdarg, 0).
		Emit(metadata.OpLdfld, field).
		Emit(metadata.OpLdcI4, 1).
		Emit(metadata.OpCallvirt, speak).
		Emit(metadata.OpRet)

	u := f.translate(t, m)
	call, ok := u.Body.At(0).(*ir.Call)
	if !ok {
		t.Fatalf("first node = %s, want a call", ir.Format(u.Body.At(0)))
	}
	if !call.Virtual {
		t.Errorf("Virtual = false, want true")
	}
	if call.Method.Owner != mid {
		t.Errorf("implementation owner = %v, want App.Mid", call.Method.Owner)
	}
	if call.Slot.Owner != base {
		t.Errorf("slot owner = %v, want App.Base", call.Slot.Owner)
	}
	if got := ir.Format(u.Body.At(1)); got != "return t0" {
		t.Errorf("second node = %q, want return t0", got)
	}
}

func TestTranslateVirtualCallPastHidingSlot(t *testing.T) {
	f := newFixture()
	base := f.mod.DefineType("App", "Base", metadata.Class, f.core.Object)
	speak := base.DefineMethod("Speak", f.core.Int32, metadata.Virtual|metadata.NewSlot)
	speak.NewBody().Emit(metadata.OpLdcI4, 1).Emit(metadata.OpRet)

	shadow := f.mod.DefineType("App", "Shadow", metadata.Class, base)
	hiding := shadow.DefineMethod("Speak", f.core.Int32, metadata.Virtual|metadata.NewSlot)
	hiding.NewBody().Emit(metadata.OpLdcI4, 2).Emit(metadata.OpRet)

	m := f.prog.DefineMethod("Ask", f.core.Int32, metadata.Static)
	m.DefineParam("s", shadow)
	m.NewBody().
		Emit(metadata.OpLdarg, 0).
		Emit(metadata.OpCallvirt, speak).
		Emit(metadata.OpRet)

	call := f.translate(t, m).Body.At(0).(*ir.Call)
	if call.Slot.Method != speak {
		t.Errorf("slot = %v, want App.Base::Speak", call.Slot)
	}
	if call.Method.Method != speak {
		t.Errorf("implementation = %v, want App.Base::Speak", call.Method)
	}
}

func TestTranslateVirtualCallBadReceiver(t *testing.T) {
	f := newFixture()
	base := f.mod.DefineType("App", "Base", metadata.Class, f.core.Object)
	speak := base.DefineMethod("Speak", nil, metadata.Virtual|metadata.NewSlot)
	other := f.mod.DefineType("App", "Other", metadata.Class, f.core.Object)

	m := f.prog.DefineMethod("Ask", nil, metadata.Static)
	m.DefineParam("o", other)
	m.NewBody().
		Emit(metadata.OpLdarg, 0).
		Emit(metadata.OpCallvirt, speak).
		Emit(metadata.OpRet)

	if _, err := f.try(t, m); !errors.Is(err, diag.ErrResolution) {
		t.Errorf("error = %v, want resolution error", err)
	}
}

func TestTranslateNewObject(t *testing.T) {
	f := newFixture()
	point := f.mod.DefineType("App", "Point", metadata.Class, f.core.Object)
	ctor := point.DefineMethod(".ctor", nil, 0)
	ctor.DefineParam("x", f.core.Int32)
	ctor.NewBody().Emit(metadata.OpRet)

	m := f.prog.DefineMethod("Make", point, metadata.Static)
	m.NewBody().
		Emit(metadata.OpLdcI4, 3).
		Emit(metadata.OpNewobj, ctor).
		Emit(metadata.OpRet)

	expectListing(t, f.translate(t, m),
		"t0 = new App.Point",
		"call App.Point::.ctor(System.Int32)(t0, 3)",
		"return t0",
	)
}

func TestTranslateNewValueObject(t *testing.T) {
	f := newFixture()
	vec := f.mod.DefineType("App", "Vec", metadata.ValueType, f.core.ValueType)
	vec.DefineField("x", f.core.Int32, false)
	ctor := vec.DefineMethod(".ctor", nil, 0)
	ctor.DefineParam("x", f.core.Int32)
	ctor.NewBody().Emit(metadata.OpRet)

	m := f.prog.DefineMethod("Make", vec, metadata.Static)
	m.NewBody().
		Emit(metadata.OpLdcI4, 3).
		Emit(metadata.OpNewobj, ctor).
		Emit(metadata.OpRet)

	u := f.translate(t, m)
	expectListing(t, u,
		"initobj &t0",
		"call App.Vec::.ctor(System.Int32)(&t0, 3)",
		"return t0",
	)
	if u.Temps[0].Refs != 1 {
		t.Errorf("Refs = %d, want 1", u.Temps[0].Refs)
	}
}

func TestTranslateGenericField(t *testing.T) {
	f := newFixture()
	box := f.mod.DefineType("App", "Box`1", metadata.Class, f.core.Object)
	T := box.DefineGenericParam("T")
	value := box.DefineField("value", T, false)
	get := box.DefineMethod("Get", T, 0)
	get.NewBody().
		Emit(metadata.OpLdarg, 0).
		Emit(metadata.OpLdfld, value).
		Emit(metadata.OpRet)

	inst := metadata.Instantiate(box, f.core.Int64)
	u, err := TranslateMethod(&metadata.MethodRef{Method: get, Owner: inst}, f.core)
	if err != nil {
		t.Fatal(err)
	}
	ret := u.Body.At(0).(*ir.ReturnValue)
	fld := ret.Value.(*ir.Field)
	if fld.Type != f.core.Int64 {
		t.Errorf("field type = %v, want System.Int64", fld.Type)
	}
	if fld.Ref.Owner != inst {
		t.Errorf("field owner = %v, want %v", fld.Ref.Owner, inst)
	}
	if u.Return != f.core.Int64 {
		t.Errorf("Return = %v, want System.Int64", u.Return)
	}

	if _, err := TranslateMethod(metadata.RefMethod(get), f.core); !errors.Is(err, diag.ErrResolution) {
		t.Errorf("open definition error = %v, want resolution error", err)
	}
}
