package metadata

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// ImageVersion is the version stamped into encoded metadata images.
const ImageVersion = 1

// An image is a flat table of type definitions plus the modules that own
// them. Cross references are indices into the table, so cyclic type
// graphs encode without pointers.

type imageFile struct {
	Version int         `cbor:"1,keyasint"`
	Modules []moduleRec `cbor:"2,keyasint"`
	Types   []typeRec   `cbor:"3,keyasint"`
}

type moduleRec struct {
	Name       string     `cbor:"1,keyasint"`
	References []int      `cbor:"2,keyasint,omitempty"`
	Entry      *memberRec `cbor:"3,keyasint,omitempty"`
}

type typeRec struct {
	Module        int           `cbor:"1,keyasint"`
	Namespace     string        `cbor:"2,keyasint,omitempty"`
	Name          string        `cbor:"3,keyasint"`
	Kind          TypeKind      `cbor:"4,keyasint"`
	Prim          PrimitiveKind `cbor:"5,keyasint,omitempty"`
	Sealed        bool          `cbor:"6,keyasint,omitempty"`
	Base          *typeRef      `cbor:"7,keyasint,omitempty"`
	Interfaces    []typeRef     `cbor:"8,keyasint,omitempty"`
	Declaring     int           `cbor:"9,keyasint,omitempty"` // index+1
	GenericParams []string      `cbor:"10,keyasint,omitempty"`
	Fields        []fieldRec    `cbor:"11,keyasint,omitempty"`
	Methods       []methodRec   `cbor:"12,keyasint,omitempty"`
}

type refKind int

const (
	refDef refKind = iota
	refInstance
	refPointer
	refByRef
	refTypeParam
	refMethodParam
)

type typeRef struct {
	Kind   refKind   `cbor:"1,keyasint,omitempty"`
	Def    int       `cbor:"2,keyasint,omitempty"` // index+1
	Elem   *typeRef  `cbor:"3,keyasint,omitempty"`
	Args   []typeRef `cbor:"4,keyasint,omitempty"`
	Pos    int       `cbor:"5,keyasint,omitempty"`
	Method int       `cbor:"6,keyasint,omitempty"`
}

type fieldRec struct {
	Name     string  `cbor:"1,keyasint"`
	Type     typeRef `cbor:"2,keyasint"`
	Static   bool    `cbor:"3,keyasint,omitempty"`
	Constant any     `cbor:"4,keyasint,omitempty"`
}

type methodRec struct {
	Name          string      `cbor:"1,keyasint"`
	Flags         MethodFlags `cbor:"2,keyasint,omitempty"`
	Return        *typeRef    `cbor:"3,keyasint,omitempty"`
	Params        []paramRec  `cbor:"4,keyasint,omitempty"`
	GenericParams []string    `cbor:"5,keyasint,omitempty"`
	Body          *bodyRec    `cbor:"6,keyasint,omitempty"`
}

type paramRec struct {
	Name string  `cbor:"1,keyasint"`
	Type typeRef `cbor:"2,keyasint"`
}

type bodyRec struct {
	InitLocals bool           `cbor:"1,keyasint,omitempty"`
	Locals     []typeRef      `cbor:"2,keyasint,omitempty"`
	Names      map[int]string `cbor:"3,keyasint,omitempty"`
	Code       []insRec       `cbor:"4,keyasint"`
}

type insRec struct {
	Offset int        `cbor:"1,keyasint"`
	Op     Opcode     `cbor:"2,keyasint"`
	Int    int64      `cbor:"3,keyasint,omitempty"`
	Float  float64    `cbor:"4,keyasint,omitempty"`
	Str    string     `cbor:"5,keyasint,omitempty"`
	Index  int        `cbor:"6,keyasint,omitempty"`
	Target int        `cbor:"7,keyasint,omitempty"`
	Field  *memberRec `cbor:"8,keyasint,omitempty"`
	Method *memberRec `cbor:"9,keyasint,omitempty"`
	Type   *typeRef   `cbor:"10,keyasint,omitempty"`
}

type memberRec struct {
	Owner typeRef   `cbor:"1,keyasint"`
	Index int       `cbor:"2,keyasint"`
	Args  []typeRef `cbor:"3,keyasint,omitempty"`
}

var imageEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("metadata: failed to create CBOR enc mode: %v", err))
	}
	imageEncMode = em
}

// EncodeImage serializes mods, which must together define every type
// they reference, to canonical CBOR.
func EncodeImage(mods []*Module) ([]byte, error) {
	enc := &imageEncoder{
		modIndex:  make(map[*Module]int),
		typeIndex: make(map[*Type]int),
	}
	for i, m := range mods {
		enc.modIndex[m] = i
	}
	for _, m := range mods {
		for _, t := range m.Types {
			enc.typeIndex[t] = len(enc.typeIndex)
			enc.order = append(enc.order, t)
		}
	}
	img, err := enc.encode(mods)
	if err != nil {
		return nil, err
	}
	return imageEncMode.Marshal(img)
}

// DecodeImage rebuilds the module graph from canonical CBOR.
func DecodeImage(data []byte) ([]*Module, error) {
	var img imageFile
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("metadata: unmarshal image: %w", err)
	}
	if img.Version != ImageVersion {
		return nil, fmt.Errorf("metadata: image version %d, want %d", img.Version, ImageVersion)
	}
	return (&imageDecoder{img: &img}).decode()
}

// LoadImage reads and decodes an image file.
func LoadImage(path string) ([]*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	mods, err := DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return mods, nil
}

// SaveImage encodes mods and writes them to path.
func SaveImage(path string, mods []*Module) error {
	data, err := EncodeImage(mods)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

type imageEncoder struct {
	modIndex  map[*Module]int
	typeIndex map[*Type]int
	order     []*Type
}

func (e *imageEncoder) encode(mods []*Module) (*imageFile, error) {
	img := &imageFile{Version: ImageVersion}
	for _, m := range mods {
		rec := moduleRec{Name: m.Name}
		for _, r := range m.References {
			idx, ok := e.modIndex[r]
			if !ok {
				return nil, fmt.Errorf("metadata: module %s references %s, which is not in the image", m.Name, r.Name)
			}
			rec.References = append(rec.References, idx)
		}
		if m.Entry != nil {
			entry, err := e.member(m.Entry.DeclaringType, methodIndex(m.Entry), nil)
			if err != nil {
				return nil, err
			}
			rec.Entry = entry
		}
		img.Modules = append(img.Modules, rec)
	}
	for _, t := range e.order {
		rec, err := e.typeDef(t)
		if err != nil {
			return nil, fmt.Errorf("metadata: type %s: %w", t.FullName(), err)
		}
		img.Types = append(img.Types, rec)
	}
	return img, nil
}

func (e *imageEncoder) typeDef(t *Type) (typeRec, error) {
	rec := typeRec{
		Module:    e.modIndex[t.Module],
		Namespace: t.Namespace,
		Name:      t.Name,
		Kind:      t.Kind,
		Prim:      t.Prim,
		Sealed:    t.Sealed,
	}
	var err error
	if t.Base != nil {
		base, err := e.ref(t.Base)
		if err != nil {
			return rec, err
		}
		rec.Base = &base
	}
	for _, it := range t.Interfaces {
		r, err := e.ref(it)
		if err != nil {
			return rec, err
		}
		rec.Interfaces = append(rec.Interfaces, r)
	}
	if t.DeclaringType != nil {
		idx, ok := e.typeIndex[t.DeclaringType]
		if !ok {
			return rec, fmt.Errorf("declaring type %s not in image", t.DeclaringType.FullName())
		}
		rec.Declaring = idx + 1
	}
	for _, p := range t.GenericParams {
		rec.GenericParams = append(rec.GenericParams, p.Name)
	}
	for _, f := range t.Fields {
		fr := fieldRec{Name: f.Name, Static: f.Static, Constant: f.Constant}
		if fr.Type, err = e.ref(f.Type); err != nil {
			return rec, err
		}
		rec.Fields = append(rec.Fields, fr)
	}
	for _, m := range t.Methods {
		mr, err := e.method(m)
		if err != nil {
			return rec, fmt.Errorf("method %s: %w", m.Name, err)
		}
		rec.Methods = append(rec.Methods, mr)
	}
	return rec, nil
}

func (e *imageEncoder) method(m *Method) (methodRec, error) {
	rec := methodRec{Name: m.Name, Flags: m.Flags}
	if m.Return != nil {
		r, err := e.ref(m.Return)
		if err != nil {
			return rec, err
		}
		rec.Return = &r
	}
	for _, p := range m.Params {
		r, err := e.ref(p.Type)
		if err != nil {
			return rec, err
		}
		rec.Params = append(rec.Params, paramRec{Name: p.Name, Type: r})
	}
	for _, g := range m.GenericParams {
		rec.GenericParams = append(rec.GenericParams, g.Name)
	}
	if m.Body == nil {
		return rec, nil
	}
	body := &bodyRec{InitLocals: m.Body.InitLocals, Names: m.Body.names}
	for _, l := range m.Body.Locals {
		r, err := e.ref(l.Type)
		if err != nil {
			return rec, err
		}
		body.Locals = append(body.Locals, r)
	}
	for _, in := range m.Body.Instructions {
		ir := insRec{
			Offset: in.Offset, Op: in.Op, Int: in.Int, Float: in.Float,
			Str: in.Str, Index: in.Index, Target: in.Target,
		}
		if in.Field != nil {
			f, err := e.member(in.Field.Owner, fieldIndex(in.Field.Field), nil)
			if err != nil {
				return rec, err
			}
			ir.Field = f
		}
		if in.Method != nil {
			mm, err := e.member(in.Method.Owner, methodIndex(in.Method.Method), in.Method.Args)
			if err != nil {
				return rec, err
			}
			ir.Method = mm
		}
		if in.Type != nil {
			r, err := e.ref(in.Type)
			if err != nil {
				return rec, err
			}
			ir.Type = &r
		}
		body.Code = append(body.Code, ir)
	}
	rec.Body = body
	return rec, nil
}

func (e *imageEncoder) member(owner *Type, index int, args []*Type) (*memberRec, error) {
	o, err := e.ref(owner)
	if err != nil {
		return nil, err
	}
	rec := &memberRec{Owner: o, Index: index}
	for _, a := range args {
		r, err := e.ref(a)
		if err != nil {
			return nil, err
		}
		rec.Args = append(rec.Args, r)
	}
	return rec, nil
}

func (e *imageEncoder) defIndex(t *Type) (int, error) {
	idx, ok := e.typeIndex[t]
	if !ok {
		return 0, fmt.Errorf("type %s is not in the image", t.FullName())
	}
	return idx + 1, nil
}

func (e *imageEncoder) ref(t *Type) (typeRef, error) {
	switch t.Kind {
	case Instance:
		def, err := e.defIndex(t.Definition)
		if err != nil {
			return typeRef{}, err
		}
		r := typeRef{Kind: refInstance, Def: def}
		for _, a := range t.Args {
			ar, err := e.ref(a)
			if err != nil {
				return typeRef{}, err
			}
			r.Args = append(r.Args, ar)
		}
		return r, nil
	case Pointer, ByRef:
		elem, err := e.ref(t.Elem)
		if err != nil {
			return typeRef{}, err
		}
		k := refPointer
		if t.Kind == ByRef {
			k = refByRef
		}
		return typeRef{Kind: k, Elem: &elem}, nil
	case GenericParam:
		if t.OwnerMethod != nil {
			def, err := e.defIndex(t.OwnerMethod.DeclaringType)
			if err != nil {
				return typeRef{}, err
			}
			return typeRef{Kind: refMethodParam, Def: def, Method: methodIndex(t.OwnerMethod), Pos: t.Position}, nil
		}
		def, err := e.defIndex(t.OwnerType)
		if err != nil {
			return typeRef{}, err
		}
		return typeRef{Kind: refTypeParam, Def: def, Pos: t.Position}, nil
	}
	def, err := e.defIndex(t)
	if err != nil {
		return typeRef{}, err
	}
	return typeRef{Kind: refDef, Def: def}, nil
}

func methodIndex(m *Method) int {
	for i, other := range m.DeclaringType.Methods {
		if other == m {
			return i
		}
	}
	return -1
}

func fieldIndex(f *Field) int {
	for i, other := range f.DeclaringType.Fields {
		if other == f {
			return i
		}
	}
	return -1
}

type imageDecoder struct {
	img   *imageFile
	mods  []*Module
	types []*Type
}

func (d *imageDecoder) decode() ([]*Module, error) {
	for _, mr := range d.img.Modules {
		d.mods = append(d.mods, &Module{Name: mr.Name})
	}
	// Shells first so references in any order resolve.
	for i, tr := range d.img.Types {
		if tr.Module < 0 || tr.Module >= len(d.mods) {
			return nil, fmt.Errorf("metadata: type %d: bad module index %d", i, tr.Module)
		}
		t := &Type{
			Module:    d.mods[tr.Module],
			Namespace: tr.Namespace,
			Name:      tr.Name,
			Kind:      tr.Kind,
			Prim:      tr.Prim,
			Sealed:    tr.Sealed,
		}
		for _, name := range tr.GenericParams {
			t.DefineGenericParam(name)
		}
		for _, mr := range tr.Methods {
			m := &Method{DeclaringType: t, Name: mr.Name, Flags: mr.Flags}
			for _, name := range mr.GenericParams {
				m.DefineGenericParam(name)
			}
			t.Methods = append(t.Methods, m)
		}
		t.Module.Types = append(t.Module.Types, t)
		d.types = append(d.types, t)
	}
	for i, tr := range d.img.Types {
		if err := d.fill(d.types[i], tr); err != nil {
			return nil, fmt.Errorf("metadata: type %s: %w", d.types[i].Name, err)
		}
	}
	for i, tr := range d.img.Types {
		t := d.types[i]
		for j, mr := range tr.Methods {
			if mr.Body == nil {
				continue
			}
			if err := d.body(t.Methods[j], mr.Body); err != nil {
				return nil, fmt.Errorf("metadata: method %s::%s: %w", t.FullName(), mr.Name, err)
			}
		}
	}
	for i, mr := range d.img.Modules {
		m := d.mods[i]
		for _, r := range mr.References {
			if r < 0 || r >= len(d.mods) {
				return nil, fmt.Errorf("metadata: module %s: bad reference %d", m.Name, r)
			}
			m.References = append(m.References, d.mods[r])
		}
		if mr.Entry != nil {
			ref, err := d.method(*mr.Entry)
			if err != nil {
				return nil, fmt.Errorf("metadata: module %s entry: %w", m.Name, err)
			}
			m.Entry = ref.Method
		}
	}
	return d.mods, nil
}

func (d *imageDecoder) fill(t *Type, tr typeRec) error {
	var err error
	if tr.Base != nil {
		if t.Base, err = d.ref(*tr.Base); err != nil {
			return err
		}
	}
	for _, ir := range tr.Interfaces {
		it, err := d.ref(ir)
		if err != nil {
			return err
		}
		t.Interfaces = append(t.Interfaces, it)
	}
	if tr.Declaring > 0 {
		if tr.Declaring > len(d.types) {
			return fmt.Errorf("bad declaring type %d", tr.Declaring)
		}
		t.DeclaringType = d.types[tr.Declaring-1]
	}
	for _, fr := range tr.Fields {
		ft, err := d.ref(fr.Type)
		if err != nil {
			return err
		}
		f := t.DefineField(fr.Name, ft, fr.Static)
		f.Constant = fr.Constant
	}
	for j, mr := range tr.Methods {
		m := t.Methods[j]
		if mr.Return != nil {
			if m.Return, err = d.ref(*mr.Return); err != nil {
				return err
			}
		}
		for _, pr := range mr.Params {
			pt, err := d.ref(pr.Type)
			if err != nil {
				return err
			}
			m.DefineParam(pr.Name, pt)
		}
	}
	return nil
}

func (d *imageDecoder) body(m *Method, br *bodyRec) error {
	b := &Body{InitLocals: br.InitLocals}
	for i, lr := range br.Locals {
		lt, err := d.ref(lr)
		if err != nil {
			return err
		}
		b.Locals = append(b.Locals, &Local{Index: i, Type: lt})
	}
	for idx, name := range br.Names {
		b.SetLocalName(idx, name)
	}
	for _, ir := range br.Code {
		in := Instruction{
			Offset: ir.Offset, Op: ir.Op, Int: ir.Int, Float: ir.Float,
			Str: ir.Str, Index: ir.Index, Target: ir.Target,
		}
		if ir.Field != nil {
			owner, err := d.ref(ir.Field.Owner)
			if err != nil {
				return err
			}
			fields := owner.Def().Fields
			if ir.Field.Index < 0 || ir.Field.Index >= len(fields) {
				return fmt.Errorf("IL_%04x: bad field index %d", ir.Offset, ir.Field.Index)
			}
			in.Field = &FieldRef{Field: fields[ir.Field.Index], Owner: owner}
		}
		if ir.Method != nil {
			ref, err := d.method(*ir.Method)
			if err != nil {
				return fmt.Errorf("IL_%04x: %w", ir.Offset, err)
			}
			in.Method = ref
		}
		if ir.Type != nil {
			t, err := d.ref(*ir.Type)
			if err != nil {
				return err
			}
			in.Type = t
		}
		b.Instructions = append(b.Instructions, in)
	}
	m.Body = b
	return nil
}

func (d *imageDecoder) method(mr memberRec) (*MethodRef, error) {
	owner, err := d.ref(mr.Owner)
	if err != nil {
		return nil, err
	}
	methods := owner.Def().Methods
	if mr.Index < 0 || mr.Index >= len(methods) {
		return nil, fmt.Errorf("bad method index %d on %s", mr.Index, owner.FullName())
	}
	ref := &MethodRef{Method: methods[mr.Index], Owner: owner}
	for _, a := range mr.Args {
		at, err := d.ref(a)
		if err != nil {
			return nil, err
		}
		ref.Args = append(ref.Args, at)
	}
	return ref, nil
}

func (d *imageDecoder) def(idx int) (*Type, error) {
	if idx < 1 || idx > len(d.types) {
		return nil, fmt.Errorf("bad type index %d", idx)
	}
	return d.types[idx-1], nil
}

func (d *imageDecoder) ref(r typeRef) (*Type, error) {
	switch r.Kind {
	case refDef:
		return d.def(r.Def)
	case refInstance:
		def, err := d.def(r.Def)
		if err != nil {
			return nil, err
		}
		args := make([]*Type, len(r.Args))
		for i, a := range r.Args {
			if args[i], err = d.ref(a); err != nil {
				return nil, err
			}
		}
		return Instantiate(def, args...), nil
	case refPointer, refByRef:
		if r.Elem == nil {
			return nil, fmt.Errorf("pointer reference without element")
		}
		elem, err := d.ref(*r.Elem)
		if err != nil {
			return nil, err
		}
		if r.Kind == refByRef {
			return ByRefTo(elem), nil
		}
		return PointerTo(elem), nil
	case refTypeParam:
		owner, err := d.def(r.Def)
		if err != nil {
			return nil, err
		}
		if r.Pos < 0 || r.Pos >= len(owner.GenericParams) {
			return nil, fmt.Errorf("bad generic parameter %d on %s", r.Pos, owner.Name)
		}
		return owner.GenericParams[r.Pos], nil
	case refMethodParam:
		owner, err := d.def(r.Def)
		if err != nil {
			return nil, err
		}
		if r.Method < 0 || r.Method >= len(owner.Methods) {
			return nil, fmt.Errorf("bad method index %d on %s", r.Method, owner.Name)
		}
		m := owner.Methods[r.Method]
		if r.Pos < 0 || r.Pos >= len(m.GenericParams) {
			return nil, fmt.Errorf("bad generic parameter %d on %s", r.Pos, m.Name)
		}
		return m.GenericParams[r.Pos], nil
	}
	return nil, fmt.Errorf("unknown type reference kind %d", r.Kind)
}
