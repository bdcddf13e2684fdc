// Package ir implements the intermediate representation produced by the
// stack-simulating translator.
//
// Design: an ordered list of statement nodes whose operands are
// expression trees. Nodes form a closed sum type; every consumer
// switches over the concrete node types. Value-producing statements
// carry their result slot in an embedded Dest, so the optimizer can
// redirect a result without touching its consumers.
package ir

import (
	"fmt"

	"github.com/reignstudios/il2x/metadata"
)

// Kind is the discriminant of an IR node.
type Kind int

const (
	KindThis Kind = iota
	KindLocal
	KindEvalTemp
	KindParam
	KindLiteral
	KindString
	KindSizeOf
	KindField
	KindStaticField
	KindAddressOf

	KindArith
	KindUnary
	KindCompare
	KindConvert
	KindCall
	KindNew
	KindWriteLocal

	KindWriteField
	KindInitObject
	KindReturnVoid
	KindReturnValue
	KindBranch
	KindBranchCond
	KindMarker
)

var kindNames = [...]string{
	KindThis:        "this",
	KindLocal:       "local",
	KindEvalTemp:    "evaltemp",
	KindParam:       "param",
	KindLiteral:     "literal",
	KindString:      "string",
	KindSizeOf:      "sizeof",
	KindField:       "field",
	KindStaticField: "staticfield",
	KindAddressOf:   "addressof",
	KindArith:       "arith",
	KindUnary:       "unary",
	KindCompare:     "compare",
	KindConvert:     "convert",
	KindCall:        "call",
	KindNew:         "new",
	KindWriteLocal:  "writelocal",
	KindWriteField:  "writefield",
	KindInitObject:  "initobject",
	KindReturnVoid:  "return",
	KindReturnValue: "returnvalue",
	KindBranch:      "branch",
	KindBranchCond:  "branchcond",
	KindMarker:      "marker",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Op is an IR node. The set of implementations is closed.
type Op interface {
	Kind() Kind
	node()
}

// Slot is writable storage: a local, parameter or evaluation temporary.
type Slot interface {
	Op
	slot()
}

// Dest is the result destination of a value-producing node. Result is
// nil when the value is discarded or consumed in place. Uses counts the
// consumers of the value written to a temporary result.
type Dest struct {
	Result Slot
	Uses   int
}

// Producer is a statement node that can deliver a value into a slot.
type Producer interface {
	Op
	ResultDest() *Dest
}

// SetResult points p at s, keeping temporary reference counts in step.
func SetResult(p Producer, s Slot) {
	d := p.ResultDest()
	if t, ok := d.Result.(*EvalTemp); ok {
		t.Refs--
	}
	d.Result = s
	d.Uses = 0
	if t, ok := s.(*EvalTemp); ok {
		t.Refs++
	}
}

// ========================================================================
// Value references (no side effect, no IR list entry)
// ========================================================================

// This is the implicit receiver.
type This struct {
	Type *metadata.Type
}

// Local is a declared local variable after generic substitution.
type Local struct {
	Index int
	Name  string // debug display name, empty when absent
	Type  *metadata.Type
}

// EvalTemp is a synthetic slot standing for one evaluation stack
// position. Refs counts the live nodes that write it.
type EvalTemp struct {
	Index int
	Type  *metadata.Type
	Refs  int
}

// Param is a declared parameter; Index excludes the receiver.
type Param struct {
	Index int
	Name  string
	Type  *metadata.Type
}

// Literal is a primitive constant. Null literals have Null set and an
// object type.
type Literal struct {
	Type  *metadata.Type
	Int   int64
	Float float64
	Null  bool
}

// String is a string literal.
type String struct {
	Value string
	Type  *metadata.Type
}

// SizeOf is the storage size of Of, typed as Type (int32).
type SizeOf struct {
	Of   *metadata.Type
	Type *metadata.Type
}

// Field reads an instance field of Owner.
type Field struct {
	Ref   *metadata.FieldRef
	Owner Op
	Type  *metadata.Type
}

// StaticField reads a static field.
type StaticField struct {
	Ref  *metadata.FieldRef
	Type *metadata.Type
}

// AddressOf is the address of a local, parameter or field. Type is the
// resulting pointer type.
type AddressOf struct {
	Value Op
	Type  *metadata.Type
}

// ========================================================================
// Producers
// ========================================================================

// ArithOp enumerates binary arithmetic and bitwise operators.
type ArithOp int

const (
	Add ArithOp = iota
	Sub
	Mul
	Div
	Rem
	And
	Or
	Xor
	Shl
	Shr
	ShrUn
)

// Arith combines Left and Right.
type Arith struct {
	Dest
	Op    ArithOp
	Left  Op
	Right Op
	Type  *metadata.Type
}

// UnaryOp enumerates unary operators.
type UnaryOp int

const (
	Neg UnaryOp = iota
	Not
)

// Unary applies Op to Value.
type Unary struct {
	Dest
	Op    UnaryOp
	Value Op
	Type  *metadata.Type
}

// CompareOp enumerates comparisons normalized to a 0/1 result.
type CompareOp int

const (
	Eq CompareOp = iota
	Gt
	Lt
	GtUn
	LtUn
)

// Compare yields 1 when the comparison holds and 0 otherwise.
type Compare struct {
	Dest
	Op    CompareOp
	Left  Op
	Right Op
	Type  *metadata.Type
}

// Convert changes the numeric representation of Value to Type.
type Convert struct {
	Dest
	Value Op
	Type  *metadata.Type
}

// Call invokes Method. Args include the receiver for instance methods.
// Virtual calls dispatch through Slot, the declaration that introduced
// the virtual slot; Method is the implementation the receiver's static
// type resolves to.
type Call struct {
	Dest
	Method  *metadata.MethodRef
	Args    []Op
	Virtual bool
	Slot    *metadata.MethodRef
	Type    *metadata.Type // return type, void when no value
}

// New allocates a zeroed object of reference type Type.
type New struct {
	Dest
	Type *metadata.Type
}

// WriteLocal stores Value into Dest.Result.
type WriteLocal struct {
	Dest
	Value Op
}

// ========================================================================
// Statements
// ========================================================================

// WriteField stores Value into Target, a *Field or *StaticField.
type WriteField struct {
	Target Op
	Value  Op
}

// InitObject zero-fills the storage Target designates.
type InitObject struct {
	Target Op
	Type   *metadata.Type
}

// ReturnVoid leaves a void method.
type ReturnVoid struct{}

// ReturnValue leaves the method with Value, which may itself be a
// producer folded in place.
type ReturnValue struct {
	Value Op
}

// Branch jumps to the marker carrying Label.
type Branch struct {
	Label int
}

// CondOp enumerates conditional branch predicates.
type CondOp int

const (
	IfTrue CondOp = iota
	IfFalse
	IfEq
	IfNe
	IfGt
	IfLt
	IfGe
	IfLe
	IfGtUn
	IfLtUn
	IfGeUn
	IfLeUn
)

// BranchCond jumps to Label when the predicate holds. Right is nil for
// IfTrue and IfFalse. The Un predicates compare integers as unsigned and
// hold for unordered floating-point operands.
type BranchCond struct {
	Cond  CondOp
	Left  Op
	Right Op
	Label int
}

// Marker is a branch target.
type Marker struct {
	Label int
}

func (*This) Kind() Kind        { return KindThis }
func (*Local) Kind() Kind       { return KindLocal }
func (*EvalTemp) Kind() Kind    { return KindEvalTemp }
func (*Param) Kind() Kind       { return KindParam }
func (*Literal) Kind() Kind     { return KindLiteral }
func (*String) Kind() Kind      { return KindString }
func (*SizeOf) Kind() Kind      { return KindSizeOf }
func (*Field) Kind() Kind       { return KindField }
func (*StaticField) Kind() Kind { return KindStaticField }
func (*AddressOf) Kind() Kind   { return KindAddressOf }
func (*Arith) Kind() Kind       { return KindArith }
func (*Unary) Kind() Kind       { return KindUnary }
func (*Compare) Kind() Kind     { return KindCompare }
func (*Convert) Kind() Kind     { return KindConvert }
func (*Call) Kind() Kind        { return KindCall }
func (*New) Kind() Kind         { return KindNew }
func (*WriteLocal) Kind() Kind  { return KindWriteLocal }
func (*WriteField) Kind() Kind  { return KindWriteField }
func (*InitObject) Kind() Kind  { return KindInitObject }
func (*ReturnVoid) Kind() Kind  { return KindReturnVoid }
func (*ReturnValue) Kind() Kind { return KindReturnValue }
func (*Branch) Kind() Kind      { return KindBranch }
func (*BranchCond) Kind() Kind  { return KindBranchCond }
func (*Marker) Kind() Kind      { return KindMarker }

func (*This) node()        {}
func (*Local) node()       {}
func (*EvalTemp) node()    {}
func (*Param) node()       {}
func (*Literal) node()     {}
func (*String) node()      {}
func (*SizeOf) node()      {}
func (*Field) node()       {}
func (*StaticField) node() {}
func (*AddressOf) node()   {}
func (*Arith) node()       {}
func (*Unary) node()       {}
func (*Compare) node()     {}
func (*Convert) node()     {}
func (*Call) node()        {}
func (*New) node()         {}
func (*WriteLocal) node()  {}
func (*WriteField) node()  {}
func (*InitObject) node()  {}
func (*ReturnVoid) node()  {}
func (*ReturnValue) node() {}
func (*Branch) node()      {}
func (*BranchCond) node()  {}
func (*Marker) node()      {}

func (*Local) slot()    {}
func (*EvalTemp) slot() {}
func (*Param) slot()    {}

// ResultDest returns the embedded destination.
func (d *Dest) ResultDest() *Dest { return d }

// TypeOf returns the static type of the value op produces, or nil for
// statements.
func TypeOf(op Op) *metadata.Type {
	switch n := op.(type) {
	case *This:
		return n.Type
	case *Local:
		return n.Type
	case *EvalTemp:
		return n.Type
	case *Param:
		return n.Type
	case *Literal:
		return n.Type
	case *String:
		return n.Type
	case *SizeOf:
		return n.Type
	case *Field:
		return n.Type
	case *StaticField:
		return n.Type
	case *AddressOf:
		return n.Type
	case *Arith:
		return n.Type
	case *Unary:
		return n.Type
	case *Compare:
		return n.Type
	case *Convert:
		return n.Type
	case *Call:
		return n.Type
	case *New:
		return n.Type
	case *WriteLocal:
		return TypeOf(n.Value)
	}
	return nil
}

// IsTerminator reports whether control never falls through op.
func IsTerminator(op Op) bool {
	switch op.(type) {
	case *Branch, *ReturnVoid, *ReturnValue:
		return true
	}
	return false
}

// LabelName is the target-language label for a jump index.
func LabelName(label int) string {
	return fmt.Sprintf("JMP_%04X", label)
}
