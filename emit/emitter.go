// Package emit lowers a jitted solution to C source artifacts.
//
// Each module produces a directory of artifacts: a forward-declaration
// header, per type a layout header, a method header carrying the
// runtime type and prototypes, and a source file with static storage,
// the runtime type instance and method bodies, then the module's string
// literal pool and, for executables, main.c. Artifact order and content
// depend only on the solution, never on map iteration or timing.
package emit

import (
	"fmt"
	"path"
	"strings"
	"unicode/utf16"

	"github.com/tliron/commonlog"

	"github.com/reignstudios/il2x/diag"
	"github.com/reignstudios/il2x/jit"
	"github.com/reignstudios/il2x/metadata"
)

var log = commonlog.GetLogger("il2x.emit")

const (
	forwardHeader = "__ForwardDeclares.h"
	stringHeader  = "__StringLiterals.h"
	mainSource    = "main.c"
)

// Artifact is one generated file. Path is relative to the output root.
type Artifact struct {
	Path    string
	Content []byte
}

// Options control emission.
type Options struct {
	// BuildID is stamped into every artifact header.
	BuildID string
	// Executable requests main.c for the module carrying the entry point.
	Executable bool
}

// Emitter lowers the modules of one solution.
type Emitter struct {
	sol   *jit.Solution
	names *Namer
	opts  Options
}

// New returns an Emitter for sol. A nil names allocates a fresh Namer.
func New(sol *jit.Solution, names *Namer, opts Options) *Emitter {
	if names == nil {
		names = NewNamer()
	}
	return &Emitter{sol: sol, names: names, opts: opts}
}

// Sink receives each artifact as soon as it is complete.
type Sink func(Artifact) error

// All emits every module of the solution in order.
func (e *Emitter) All() ([]Artifact, error) {
	var out []Artifact
	if err := e.Stream(collect(&out)); err != nil {
		return nil, err
	}
	return out, nil
}

// Stream emits every module of the solution in order and hands each
// artifact to sink when it is complete. The three files of a type are
// handed over together. The first error from emission or from sink stops
// the stream; artifacts already handed over stay with the sink.
func (e *Emitter) Stream(sink Sink) error {
	if e.opts.Executable && e.entry() == nil {
		return diag.New(diag.Resolution, "executable has no entry point")
	}
	for _, mj := range e.sol.Modules {
		if err := e.stream(mj, sink); err != nil {
			return err
		}
	}
	return nil
}

func collect(out *[]Artifact) Sink {
	return func(a Artifact) error {
		*out = append(*out, a)
		return nil
	}
}

func (e *Emitter) entry() *jit.MethodJit {
	for _, mj := range e.sol.Modules {
		if mj.Entry != nil {
			return mj.Entry
		}
	}
	return nil
}

// moduleState is the per-module emission state: the string pool and
// the types the artifact being written mentions.
type moduleState struct {
	mod     *jit.ModuleJit
	strings []string
	index   map[string]int

	mentioned []*metadata.Type
	seen      map[*metadata.Type]bool
}

// intern returns the pool index of s, adding it on first use.
func (m *moduleState) intern(s string) int {
	if i, ok := m.index[s]; ok {
		return i
	}
	i := len(m.strings)
	m.strings = append(m.strings, s)
	m.index[s] = i
	return i
}

func (m *moduleState) mention(t *metadata.Type) {
	if t == nil || m.seen[t] {
		return
	}
	m.seen[t] = true
	m.mentioned = append(m.mentioned, t)
}

func (m *moduleState) reset() {
	m.mentioned = nil
	m.seen = make(map[*metadata.Type]bool)
}

// Module emits the artifacts of one jitted module.
func (e *Emitter) Module(mj *jit.ModuleJit) ([]Artifact, error) {
	var out []Artifact
	if err := e.stream(mj, collect(&out)); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Emitter) stream(mj *jit.ModuleJit, sink Sink) error {
	st := &moduleState{mod: mj, index: make(map[string]int)}
	dir := mj.Module.Name
	n := 0
	send := func(arts ...Artifact) error {
		for _, a := range arts {
			if err := sink(a); err != nil {
				return err
			}
			n++
		}
		return nil
	}

	fwd, err := e.forwardDeclares(mj)
	if err != nil {
		return err
	}
	if err := send(Artifact{Path: path.Join(dir, forwardHeader), Content: fwd}); err != nil {
		return err
	}

	for _, tj := range mj.Types {
		base := e.names.File(tj.Type)
		layout, err := e.typeHeader(st, tj)
		if err != nil {
			return err
		}
		methods, err := e.methodHeader(st, tj)
		if err != nil {
			return err
		}
		source, err := e.typeSource(st, tj)
		if err != nil {
			return err
		}
		err = send(
			Artifact{Path: path.Join(dir, base+".h"), Content: layout},
			Artifact{Path: path.Join(dir, base+"_Methods.h"), Content: methods},
			Artifact{Path: path.Join(dir, base+".c"), Content: source},
		)
		if err != nil {
			return err
		}
		log.Debugf("emitted %s", tj.Type.FullName())
	}

	if err := send(Artifact{Path: path.Join(dir, stringHeader), Content: e.stringLiterals(st)}); err != nil {
		return err
	}

	if e.opts.Executable && mj.Entry != nil {
		main, err := e.mainSource(st, mj.Entry)
		if err != nil {
			return err
		}
		if err := send(Artifact{Path: path.Join(dir, mainSource), Content: main}); err != nil {
			return err
		}
	}
	log.Infof("emitted module %s: %d types, %d artifacts", dir, len(mj.Types), n)
	return nil
}

// include returns the #include operand for a file of t's module, as
// seen from module from.
func (e *Emitter) include(from *metadata.Module, t *metadata.Type, suffix string) (string, bool) {
	tj := e.sol.Type(t)
	if tj == nil {
		return "", false
	}
	file := e.names.File(t) + suffix
	if tj.Module.Module == from {
		return file, true
	}
	return "../" + tj.Module.Module.Name + "/" + file, true
}

func (e *Emitter) forwardDeclares(mj *jit.ModuleJit) ([]byte, error) {
	var w writer
	w.header(e.opts.BuildID)
	w.writeLine("#pragma once")
	w.blank()
	w.writeLine("#include <stdint.h>")
	w.writeLine("#include <stddef.h>")
	w.writeLine("#include <string.h>")
	w.writeLine("#include <math.h>")
	for _, ref := range mj.Module.References {
		for _, other := range e.sol.Modules {
			if other.Module.Name == ref.Name {
				w.writeLine("#include \"../%s/%s\"", ref.Name, forwardHeader)
			}
		}
	}
	w.blank()
	w.writeLine("extern void* IL2X_GC_NewObject(size_t size, void* runtimeType);")
	w.blank()
	for _, tj := range mj.Types {
		t := tj.Type
		name := e.names.Type(t)
		if IsEmptyValueType(t) {
			w.writeLine("#define %s void", name)
			continue
		}
		w.writeLine("typedef struct %s %s;", name, name)
		if hasRuntimeType(t) {
			rt := e.names.RuntimeType(t)
			w.writeLine("typedef struct %s %s;", rt, rt)
		}
	}
	return w.bytes(), nil
}

// hasRuntimeType reports whether t gets a runtime type table.
func hasRuntimeType(t *metadata.Type) bool {
	return t.Def().Kind == metadata.Class
}

func (e *Emitter) typeHeader(st *moduleState, tj *jit.TypeJit) ([]byte, error) {
	t := tj.Type
	from := tj.Module.Module
	members, err := e.names.layout(t)
	if err != nil {
		return nil, err
	}
	var w writer
	w.header(e.opts.BuildID)
	w.writeLine("#pragma once")
	w.writeLine("#include \"%s\"", forwardHeader)
	seen := make(map[*metadata.Type]bool)
	for _, m := range members {
		if !m.typ.IsValueType() || seen[m.typ] {
			continue
		}
		seen[m.typ] = true
		if inc, ok := e.include(from, m.typ, ".h"); ok {
			w.writeLine("#include \"%s\"", inc)
		}
	}
	w.blank()

	if !IsEmptyValueType(t) {
		w.writeLine("struct %s", e.names.Type(t))
		w.writeLine("{")
		w.indent++
		if t.IsReferenceType() {
			w.writeLine("void* RuntimeType;")
		}
		for _, m := range members {
			w.writeLine("%s %s;", m.ctype, m.name)
		}
		w.indent--
		w.writeLine("};")
	}

	statics, err := e.statics(t)
	if err != nil {
		return nil, err
	}
	if len(statics) > 0 {
		w.blank()
	}
	for _, s := range statics {
		w.writeLine("extern %s %s;", s.ctype, s.name)
	}
	return w.bytes(), nil
}

func (e *Emitter) statics(t *metadata.Type) ([]member, error) {
	var out []member
	ctx := metadata.TypeContext(t)
	for _, f := range t.StaticFields() {
		ft := metadata.Substitute(f.Type, ctx)
		cs, err := e.names.storage(ft, "static field "+f.FullName())
		if err != nil {
			return nil, err
		}
		ref := &metadata.FieldRef{Field: f, Owner: t}
		out = append(out, member{name: e.names.StaticField(ref), ctype: cs, typ: ft})
	}
	return out, nil
}

// slotMember is one function pointer of a runtime type.
type slotMember struct {
	slot *metadata.MethodRef
	decl string
}

func (e *Emitter) slotMembers(t *metadata.Type) ([]slotMember, error) {
	var out []slotMember
	for _, slot := range metadata.VirtualSlots(t) {
		ret := slot.ReturnType()
		rc, err := e.names.CType(ret)
		if err != nil {
			return nil, err
		}
		params := []string{"void*"}
		for _, p := range slot.ParamTypes() {
			pc, err := e.names.storage(p, "parameter of "+slot.String())
			if err != nil {
				return nil, err
			}
			params = append(params, pc)
		}
		out = append(out, slotMember{slot: slot, decl: fmt.Sprintf("%s (*%%s)(%s)", rc, strings.Join(params, ", "))})
	}
	return out, nil
}

func (e *Emitter) methodHeader(st *moduleState, tj *jit.TypeJit) ([]byte, error) {
	t := tj.Type
	var w writer
	w.header(e.opts.BuildID)
	w.writeLine("#pragma once")
	w.writeLine("#include \"%s.h\"", e.names.File(t))
	w.blank()

	if hasRuntimeType(t) {
		slots, err := e.slotMembers(t)
		if err != nil {
			return nil, err
		}
		rt := e.names.RuntimeType(t)
		w.writeLine("struct %s", rt)
		w.writeLine("{")
		w.indent++
		w.writeLine("void* Base;")
		for _, s := range slots {
			w.writeLine(s.decl+";", e.names.Slot(s.slot))
		}
		w.indent--
		w.writeLine("};")
		w.blank()
		w.writeLine("extern %s %s;", rt, e.names.RuntimeTypeInstance(t))
		w.blank()
	}

	st.reset()
	for _, m := range tj.Methods {
		if m.Ref.Method.IsAbstract() {
			continue
		}
		proto, err := prototype(e.names, m.Ref, st.mention)
		if err != nil {
			return nil, diag.Locate(err, m.Ref.String())
		}
		w.writeLine("%s;", proto)
	}
	return w.bytes(), nil
}

func (e *Emitter) typeSource(st *moduleState, tj *jit.TypeJit) ([]byte, error) {
	t := tj.Type
	st.reset()
	st.mention(t)

	var defs writer
	statics, err := e.statics(t)
	if err != nil {
		return nil, err
	}
	for _, s := range statics {
		st.mention(strip(s.typ))
		defs.writeLine("%s %s;", s.ctype, s.name)
	}
	if len(statics) > 0 {
		defs.blank()
	}

	if hasRuntimeType(t) {
		if err := e.runtimeTypeInstance(&defs, st, t); err != nil {
			return nil, err
		}
	}

	for _, m := range tj.Methods {
		if m.Unit == nil {
			continue
		}
		b := &body{names: e.names, mod: st, unit: m.Unit}
		b.w.indent = defs.indent
		if err := b.define(m.Ref); err != nil {
			return nil, diag.Locate(err, m.Ref.String())
		}
		defs.sb.WriteString(b.w.sb.String())
		defs.blank()
	}

	var w writer
	w.header(e.opts.BuildID)
	for _, m := range st.mentioned {
		if inc, ok := e.include(tj.Module.Module, m, "_Methods.h"); ok {
			w.writeLine("#include \"%s\"", inc)
		}
	}
	w.writeLine("#include \"%s\"", stringHeader)
	w.blank()
	w.sb.WriteString(defs.sb.String())
	return w.bytes(), nil
}

// runtimeTypeInstance writes the runtime type table of t, holding the
// most derived implementation of every slot. Abstract slots are null.
func (e *Emitter) runtimeTypeInstance(w *writer, st *moduleState, t *metadata.Type) error {
	slots, err := e.slotMembers(t)
	if err != nil {
		return err
	}
	w.writeLine("%s %s =", e.names.RuntimeType(t), e.names.RuntimeTypeInstance(t))
	w.writeLine("{")
	w.indent++
	if base := t.BaseType(); base != nil && e.sol.Type(base) != nil {
		st.mention(base)
		w.writeLine(".Base = &%s,", e.names.RuntimeTypeInstance(base))
	} else {
		w.writeLine(".Base = 0,")
	}
	for _, s := range slots {
		impl, err := metadata.ImplementationOf(t, s.slot)
		if err != nil {
			return err
		}
		name := e.names.Slot(s.slot)
		if impl.Method.IsAbstract() {
			w.writeLine(".%s = 0,", name)
			continue
		}
		st.mention(impl.Owner)
		w.writeLine(".%s = (%s)%s,", name, fmt.Sprintf(s.decl, ""), e.names.Method(impl))
	}
	w.indent--
	w.writeLine("};")
	w.blank()
	return nil
}

// stringLiterals writes the module's literal pool as UTF-16 objects
// laid out like System.String.
func (e *Emitter) stringLiterals(st *moduleState) []byte {
	var w writer
	w.header(e.opts.BuildID)
	w.writeLine("#pragma once")
	core := e.sol.Core.String
	if inc, ok := e.include(st.mod.Module, core, "_Methods.h"); ok && len(st.strings) > 0 {
		w.writeLine("#include \"%s\"", inc)
	}
	w.blank()
	for i, s := range st.strings {
		units := utf16.Encode([]rune(s))
		chars := make([]string, 0, len(units)+1)
		for _, u := range units {
			chars = append(chars, fmt.Sprintf("0x%04X", u))
		}
		chars = append(chars, "0")
		w.writeLine("static struct { void* RuntimeType; int32_t Length; uint16_t Chars[%d]; } StringLiteral_%d =", len(chars), i)
		w.writeLine("{")
		w.indent++
		w.writeLine("&%s, %d, { %s }", e.names.RuntimeTypeInstance(core), len(units), strings.Join(chars, ", "))
		w.indent--
		w.writeLine("};")
	}
	return w.bytes()
}

func (e *Emitter) mainSource(st *moduleState, entry *jit.MethodJit) ([]byte, error) {
	m := entry.Ref.Method
	if len(m.Params) > 0 {
		return nil, diag.New(diag.Unsupported, "entry point %s takes arguments", entry.Ref)
	}
	var w writer
	w.header(e.opts.BuildID)
	if inc, ok := e.include(st.mod.Module, entry.Ref.Owner, "_Methods.h"); ok {
		w.writeLine("#include \"%s\"", inc)
	}
	w.blank()
	w.writeLine("int main(void)")
	w.writeLine("{")
	w.indent++
	if m.ReturnsVoid() {
		w.writeLine("%s();", e.names.Method(entry.Ref))
		w.writeLine("return 0;")
	} else {
		w.writeLine("return (int)%s();", e.names.Method(entry.Ref))
	}
	w.indent--
	w.writeLine("}")
	return w.bytes(), nil
}
