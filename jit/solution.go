package jit

import (
	"golang.org/x/sync/errgroup"

	"github.com/reignstudios/il2x/diag"
	"github.com/reignstudios/il2x/ir"
	"github.com/reignstudios/il2x/metadata"
)

// DefaultMaxGenericDepth bounds how deeply generic instances discovered
// from method bodies may nest.
const DefaultMaxGenericDepth = 8

// Options control a Jit run.
type Options struct {
	// Jobs bounds parallel method translation. Values below 2 translate
	// serially.
	Jobs int
	// MaxGenericDepth bounds instance nesting; 0 selects the default.
	MaxGenericDepth int
}

// MethodJit is one method of a jitted type. Unit is nil for abstract and
// extern methods, which have a prototype but no body.
type MethodJit struct {
	Ref  *metadata.MethodRef
	Type *TypeJit
	Unit *ir.Method
}

// TypeJit is a type definition or concrete generic instance together
// with its translated methods.
type TypeJit struct {
	Type    *metadata.Type
	Module  *ModuleJit
	Methods []*MethodJit

	methods map[string]*MethodJit
}

// ModuleJit groups the jitted types of one module in dependency order.
type ModuleJit struct {
	Module *metadata.Module
	Types  []*TypeJit
	// Entry is the translated entry point, or nil.
	Entry *MethodJit
}

// Solution is the jitted form of a module set.
type Solution struct {
	Core    *metadata.CoreLibrary
	Modules []*ModuleJit

	opts    Options
	types   map[string]*TypeJit
	modules map[*metadata.Module]*ModuleJit
	queue   []*MethodJit
}

// Jit translates every method of every concrete type in mods, plus the
// generic instances their bodies use.
func Jit(mods []*metadata.Module, opts Options) (*Solution, error) {
	core := metadata.FindCoreLibrary(mods)
	if core == nil {
		return nil, diag.New(diag.Resolution, "module set has no %s", metadata.CoreLibraryName)
	}
	if opts.MaxGenericDepth <= 0 {
		opts.MaxGenericDepth = DefaultMaxGenericDepth
	}
	s := &Solution{
		Core:    core,
		opts:    opts,
		types:   make(map[string]*TypeJit),
		modules: make(map[*metadata.Module]*ModuleJit),
	}
	for _, m := range mods {
		mj := &ModuleJit{Module: m}
		s.Modules = append(s.Modules, mj)
		s.modules[m] = mj
	}

	// Definitions first, in declaration order, so instances discovered
	// later never reorder them.
	var defs []*TypeJit
	for _, m := range mods {
		for _, t := range m.Types {
			if jittable(t) {
				defs = append(defs, s.register(t))
			}
		}
	}
	for _, tj := range defs {
		if err := s.expand(tj); err != nil {
			return nil, err
		}
	}
	if err := s.drain(); err != nil {
		return nil, err
	}

	for _, mj := range s.Modules {
		if err := s.order(mj); err != nil {
			return nil, err
		}
		if e := mj.Module.Entry; e != nil {
			ref := metadata.RefMethod(e)
			if tj := s.types[typeKey(e.DeclaringType)]; tj != nil {
				mj.Entry = tj.methods[ref.String()]
			}
			if mj.Entry == nil || mj.Entry.Unit == nil {
				return nil, diag.New(diag.Resolution, "entry point %s has no translated body", ref)
			}
		}
		log.Infof("module %s: %d types", mj.Module.Name, len(mj.Types))
	}
	return s, nil
}

// Type returns the jitted form of t, or nil.
func (s *Solution) Type(t *metadata.Type) *TypeJit {
	return s.types[typeKey(t)]
}

// Methods returns every jitted method with a body, module by module in
// dependency order.
func (s *Solution) Methods() []*MethodJit {
	var out []*MethodJit
	for _, mj := range s.Modules {
		for _, tj := range mj.Types {
			for _, m := range tj.Methods {
				if m.Unit != nil {
					out = append(out, m)
				}
			}
		}
	}
	return out
}

func typeKey(t *metadata.Type) string {
	return t.Scope() + ":" + t.FullName()
}

// jittable reports whether t is a concrete type with its own emitted
// layout. Primitives and enums lower to scalar types.
func jittable(t *metadata.Type) bool {
	switch t.Kind {
	case metadata.Class, metadata.ValueType, metadata.Interface:
	default:
		return false
	}
	for c := t; c != nil; c = c.DeclaringType {
		if c.IsGeneric() {
			return false
		}
	}
	return true
}

func genericDepth(t *metadata.Type) int {
	switch t.Kind {
	case metadata.Instance:
		d := 0
		for _, a := range t.Args {
			d = max(d, genericDepth(a))
		}
		return d + 1
	case metadata.Pointer, metadata.ByRef:
		return genericDepth(t.Elem)
	}
	return 0
}

func (s *Solution) register(t *metadata.Type) *TypeJit {
	mj := s.modules[t.Def().Module]
	tj := &TypeJit{Type: t, Module: mj, methods: make(map[string]*MethodJit)}
	s.types[typeKey(t)] = tj
	mj.Types = append(mj.Types, tj)
	return tj
}

// expand requests the types tj's layout depends on and queues its
// non-generic methods.
func (s *Solution) expand(tj *TypeJit) error {
	t := tj.Type
	if b := t.BaseType(); b != nil {
		if err := s.need(b); err != nil {
			return err
		}
	}
	ctx := metadata.TypeContext(t)
	for _, f := range t.Def().Fields {
		if err := s.need(metadata.Substitute(f.Type, ctx)); err != nil {
			return err
		}
	}
	for _, m := range t.Def().Methods {
		if !m.IsGeneric() {
			s.addMethod(tj, &metadata.MethodRef{Method: m, Owner: t})
		}
	}
	return nil
}

// need makes sure a concrete type mentioned by jitted code has a
// TypeJit, instantiating generic types on first use.
func (s *Solution) need(t *metadata.Type) error {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case metadata.Pointer, metadata.ByRef:
		return s.need(t.Elem)
	case metadata.GenericParam:
		return diag.New(diag.Resolution, "unresolved generic parameter %s", t.Name)
	case metadata.Instance:
		if _, ok := s.types[typeKey(t)]; ok {
			return nil
		}
		if d := genericDepth(t); d > s.opts.MaxGenericDepth {
			return diag.New(diag.Resolution, "generic instance %s nests %d deep, limit %d", t.FullName(), d, s.opts.MaxGenericDepth)
		}
		for _, a := range t.Args {
			if err := s.need(a); err != nil {
				return err
			}
		}
		if t.ContainsGenericParams() {
			return diag.New(diag.Resolution, "unresolved generic parameter in %s", t.FullName())
		}
		if _, ok := s.modules[t.Def().Module]; !ok {
			return diag.New(diag.Resolution, "%s is defined outside the loaded modules", t.Definition.FullName())
		}
		log.Debugf("instantiating %s", t.FullName())
		return s.expand(s.register(t))
	}
	if jittable(t) {
		if _, ok := s.modules[t.Module]; !ok {
			return diag.New(diag.Resolution, "%s is defined outside the loaded modules", t.FullName())
		}
	}
	return nil
}

func (s *Solution) addMethod(tj *TypeJit, ref *metadata.MethodRef) {
	key := ref.String()
	if _, ok := tj.methods[key]; ok {
		return
	}
	mj := &MethodJit{Ref: ref, Type: tj}
	tj.methods[key] = mj
	tj.Methods = append(tj.Methods, mj)
	m := ref.Method
	if m.Body != nil && !m.IsAbstract() && m.Flags&metadata.Extern == 0 {
		s.queue = append(s.queue, mj)
	}
}

// drain translates queued methods in waves. Each wave may queue more
// methods through the instances its bodies mention.
func (s *Solution) drain() error {
	for len(s.queue) > 0 {
		batch := s.queue
		s.queue = nil
		if err := s.translate(batch); err != nil {
			return err
		}
		for _, mj := range batch {
			if err := s.scan(mj); err != nil {
				return diag.Locate(err, mj.Ref.String())
			}
		}
	}
	return nil
}

func (s *Solution) translate(batch []*MethodJit) error {
	errs := make([]error, len(batch))
	if s.opts.Jobs < 2 {
		for i, mj := range batch {
			mj.Unit, errs[i] = TranslateMethod(mj.Ref, s.Core)
			if errs[i] != nil {
				return errs[i]
			}
		}
		return nil
	}
	var g errgroup.Group
	g.SetLimit(s.opts.Jobs)
	for i, mj := range batch {
		i, mj := i, mj
		g.Go(func() error {
			mj.Unit, errs[i] = TranslateMethod(mj.Ref, s.Core)
			return nil
		})
	}
	_ = g.Wait()
	// Report the first failure in queue order, not completion order.
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// scan requests every type and generic method instance mj's body uses.
func (s *Solution) scan(mj *MethodJit) error {
	u := mj.Unit
	var types []*metadata.Type
	types = append(types, u.Return)
	for _, p := range u.Params {
		types = append(types, p.Type)
	}
	for _, l := range u.Locals {
		types = append(types, l.Type)
	}
	for _, t := range u.Temps {
		types = append(types, t.Type)
	}
	var calls []*metadata.MethodRef
	for _, op := range u.Body.Ops() {
		ir.Walk(op, func(o ir.Op) bool {
			switch n := o.(type) {
			case *ir.Field:
				types = append(types, n.Ref.Owner, n.Type)
			case *ir.StaticField:
				types = append(types, n.Ref.Owner, n.Type)
			case *ir.New:
				types = append(types, n.Type)
			case *ir.InitObject:
				types = append(types, n.Type)
			case *ir.SizeOf:
				types = append(types, n.Of)
			case *ir.Call:
				types = append(types, n.Method.Owner)
				if n.Slot != nil {
					types = append(types, n.Slot.Owner)
				}
				calls = append(calls, n.Method)
			}
			return true
		})
	}
	for _, t := range types {
		if err := s.need(t); err != nil {
			return err
		}
	}
	for _, ref := range calls {
		if len(ref.Args) == 0 {
			continue
		}
		for _, a := range ref.Args {
			if d := genericDepth(a); d >= s.opts.MaxGenericDepth {
				return diag.New(diag.Resolution, "generic method instance %s nests too deep", ref)
			}
			if err := s.need(a); err != nil {
				return err
			}
		}
		owner := s.types[typeKey(ref.Owner)]
		if owner == nil {
			return diag.New(diag.Resolution, "%s is defined outside the loaded modules", ref.Owner.FullName())
		}
		s.addMethod(owner, ref)
	}
	return nil
}

// order sorts mj.Types so every base type and every inline value-type
// field type of the same module precedes its user.
func (s *Solution) order(mj *ModuleJit) error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[*TypeJit]int)
	out := make([]*TypeJit, 0, len(mj.Types))
	var visit func(tj *TypeJit) error
	visit = func(tj *TypeJit) error {
		switch state[tj] {
		case done:
			return nil
		case visiting:
			return diag.New(diag.Policy, "%s contains itself by value", tj.Type.FullName())
		}
		state[tj] = visiting
		for _, dep := range s.dependencies(tj) {
			if dep.Module == mj {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[tj] = done
		out = append(out, tj)
		return nil
	}
	for _, tj := range mj.Types {
		if err := visit(tj); err != nil {
			return err
		}
	}
	mj.Types = out
	return nil
}

func (s *Solution) dependencies(tj *TypeJit) []*TypeJit {
	var deps []*TypeJit
	t := tj.Type
	if b := t.BaseType(); b != nil {
		if d := s.Type(b); d != nil {
			deps = append(deps, d)
		}
	}
	ctx := metadata.TypeContext(t)
	for _, f := range t.InstanceFields() {
		ft := metadata.Substitute(f.Type, ctx)
		if !ft.IsValueType() {
			continue
		}
		if d := s.Type(ft); d != nil {
			deps = append(deps, d)
		}
	}
	return deps
}
