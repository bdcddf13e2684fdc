package metadata

import (
	"fmt"
	"math"
	"strconv"
)

// Instruction is one decoded stack-machine instruction. Only the operand
// field matching Op's operand kind is meaningful.
type Instruction struct {
	Offset int
	Op     Opcode
	Int    int64
	Float  float64
	Str    string
	Index  int // argument or local slot
	Target int // absolute branch target offset
	Field  *FieldRef
	Method *MethodRef
	Type   *Type
}

func (in Instruction) String() string {
	s := fmt.Sprintf("IL_%04x: %s", in.Offset, in.Op)
	switch GetOpcodeInfo(in.Op).Operand {
	case InlineI, InlineI8:
		s += " " + strconv.FormatInt(in.Int, 10)
	case ShortInlineR, InlineR:
		s += " " + strconv.FormatFloat(in.Float, 'g', -1, 64)
	case InlineString:
		s += " " + strconv.Quote(in.Str)
	case InlineVar:
		s += " " + strconv.Itoa(in.Index)
	case InlineBrTarget:
		s += fmt.Sprintf(" IL_%04x", in.Target)
	case InlineField:
		if in.Field != nil {
			s += " " + in.Field.String()
		}
	case InlineMethod:
		if in.Method != nil {
			s += " " + in.Method.String()
		}
	case InlineType:
		if in.Type != nil {
			s += " " + in.Type.FullName()
		}
	}
	return s
}

// Local is a declared local variable slot.
type Local struct {
	Index int
	Type  *Type
}

// Body is a method's instruction stream and local declarations. It
// doubles as a builder: Emit, Branch and Mark append instructions and
// Finish resolves symbolic branch labels.
type Body struct {
	Locals       []*Local
	InitLocals   bool
	Instructions []Instruction

	names  map[int]string
	labels map[string]int
	fixups []labelFixup
	offset int
	err    error
}

type labelFixup struct {
	index int
	label string
}

// NewBody attaches an empty body to m and returns it.
func (m *Method) NewBody() *Body {
	m.Body = &Body{InitLocals: true}
	return m.Body
}

// DeclareLocal adds a local of type t. A non-empty name is recorded as
// its debug display name.
func (b *Body) DeclareLocal(t *Type, name string) *Local {
	l := &Local{Index: len(b.Locals), Type: t}
	b.Locals = append(b.Locals, l)
	if name != "" {
		b.SetLocalName(l.Index, name)
	}
	return l
}

// SetLocalName records the debug display name of a local slot.
func (b *Body) SetLocalName(index int, name string) {
	if b.names == nil {
		b.names = make(map[int]string)
	}
	b.names[index] = name
}

// LocalNames returns the recorded debug names keyed by slot.
func (b *Body) LocalNames() map[int]string {
	return b.names
}

// Emit appends an instruction. The operand must match op's operand kind:
// an integer for constants, slots and raw targets, a float for real
// constants, a string for ldstr, a *Field or *FieldRef, a *Method or
// *MethodRef, or a *Type.
func (b *Body) Emit(op Opcode, operand ...any) *Body {
	if b.err != nil {
		return b
	}
	in := Instruction{Offset: b.offset, Op: op}
	if err := setOperand(&in, operand); err != nil {
		b.err = fmt.Errorf("IL_%04x %s: %w", b.offset, op, err)
		return b
	}
	b.Instructions = append(b.Instructions, in)
	b.offset += op.Size()
	return b
}

// Branch appends a branch instruction targeting a label placed with Mark.
func (b *Body) Branch(op Opcode, label string) *Body {
	if b.err != nil {
		return b
	}
	if !op.IsBranch() {
		b.err = fmt.Errorf("IL_%04x: %s is not a branch", b.offset, op)
		return b
	}
	b.fixups = append(b.fixups, labelFixup{index: len(b.Instructions), label: label})
	b.Instructions = append(b.Instructions, Instruction{Offset: b.offset, Op: op})
	b.offset += op.Size()
	return b
}

// Mark places label at the next instruction to be emitted.
func (b *Body) Mark(label string) *Body {
	if b.labels == nil {
		b.labels = make(map[string]int)
	}
	if _, dup := b.labels[label]; dup && b.err == nil {
		b.err = fmt.Errorf("label %q placed twice", label)
	}
	b.labels[label] = len(b.Instructions)
	return b
}

// Finish resolves branch labels and reports the first builder error.
func (b *Body) Finish() error {
	if b.err != nil {
		return b.err
	}
	for _, fx := range b.fixups {
		idx, ok := b.labels[fx.label]
		if !ok {
			return fmt.Errorf("undefined label %q", fx.label)
		}
		if idx >= len(b.Instructions) {
			return fmt.Errorf("label %q marks no instruction", fx.label)
		}
		b.Instructions[fx.index].Target = b.Instructions[idx].Offset
	}
	b.fixups = nil
	return nil
}

func setOperand(in *Instruction, operand []any) error {
	kind := GetOpcodeInfo(in.Op).Operand
	if !in.Op.Known() {
		return fmt.Errorf("unknown opcode 0x%04X", uint16(in.Op))
	}
	if kind == InlineNone {
		if len(operand) != 0 {
			return fmt.Errorf("takes no operand")
		}
		return nil
	}
	if len(operand) != 1 {
		return fmt.Errorf("takes exactly one operand")
	}
	v := operand[0]
	switch kind {
	case InlineI, InlineI8:
		n, ok := toInt64(v)
		if !ok {
			return fmt.Errorf("integer operand required, got %T", v)
		}
		if kind == InlineI && (n < math.MinInt32 || n > math.MaxUint32) {
			return fmt.Errorf("operand %d out of int32 range", n)
		}
		if kind == InlineI {
			n = int64(int32(n))
		}
		in.Int = n
	case ShortInlineR, InlineR:
		switch f := v.(type) {
		case float64:
			in.Float = f
		case float32:
			in.Float = float64(f)
		default:
			n, ok := toInt64(v)
			if !ok {
				return fmt.Errorf("float operand required, got %T", v)
			}
			in.Float = float64(n)
		}
		if kind == ShortInlineR {
			in.Float = float64(float32(in.Float))
		}
	case InlineString:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("string operand required, got %T", v)
		}
		in.Str = s
	case InlineVar:
		n, ok := toInt64(v)
		if !ok || n < 0 || n > math.MaxUint16 {
			return fmt.Errorf("slot operand required, got %v", v)
		}
		in.Index = int(n)
	case InlineBrTarget:
		n, ok := toInt64(v)
		if !ok {
			return fmt.Errorf("target offset required, got %T", v)
		}
		in.Target = int(n)
	case InlineField:
		switch f := v.(type) {
		case *FieldRef:
			in.Field = f
		case *Field:
			in.Field = RefField(f)
		default:
			return fmt.Errorf("field operand required, got %T", v)
		}
	case InlineMethod:
		switch m := v.(type) {
		case *MethodRef:
			in.Method = m
		case *Method:
			in.Method = RefMethod(m)
		default:
			return fmt.Errorf("method operand required, got %T", v)
		}
	case InlineType:
		t, ok := v.(*Type)
		if !ok {
			return fmt.Errorf("type operand required, got %T", v)
		}
		in.Type = t
	}
	return nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint8:
		return int64(n), true
	}
	return 0, false
}
