package jit

import (
	"github.com/reignstudios/il2x/diag"
	"github.com/reignstudios/il2x/metadata"
)

// Numeric ranks, lowest first. Integers narrower than 32 bits widen to
// rankInt32 before combining.
const (
	rankInt32 = iota
	rankUInt32
	rankInt64
	rankUInt64
	rankSingle
	rankDouble
)

// numericRank returns the promotion rank of t, or false when t is not an
// arithmetic type.
func numericRank(t *metadata.Type) (int, bool) {
	if t == nil {
		return 0, false
	}
	var p metadata.PrimitiveKind
	switch t.Kind {
	case metadata.Primitive, metadata.Enum:
		p = t.Prim
	default:
		return 0, false
	}
	switch p {
	case metadata.Boolean, metadata.Char, metadata.SByte, metadata.Byte,
		metadata.Int16, metadata.UInt16, metadata.Int32:
		return rankInt32, true
	case metadata.UInt32:
		return rankUInt32, true
	case metadata.Int64:
		return rankInt64, true
	case metadata.UInt64:
		return rankUInt64, true
	case metadata.Single:
		return rankSingle, true
	case metadata.Double:
		return rankDouble, true
	}
	return 0, false
}

func rankType(core *metadata.CoreLibrary, rank int) *metadata.Type {
	switch rank {
	case rankUInt32:
		return core.UInt32
	case rankInt64:
		return core.Int64
	case rankUInt64:
		return core.UInt64
	case rankSingle:
		return core.Single
	case rankDouble:
		return core.Double
	}
	return core.Int32
}

// Promote returns the result type of a binary arithmetic operation on
// operands of types a and b. The higher rank wins, except that mixing
// 32-bit signed and unsigned widens to 64-bit signed. Mixed 64-bit
// signed and unsigned yields unsigned, as in C.
func Promote(core *metadata.CoreLibrary, a, b *metadata.Type) (*metadata.Type, error) {
	ra, ok := numericRank(a)
	if !ok {
		return nil, diag.New(diag.Unsupported, "arithmetic on %s", typeName(a))
	}
	rb, ok := numericRank(b)
	if !ok {
		return nil, diag.New(diag.Unsupported, "arithmetic on %s", typeName(b))
	}
	if ra == rankInt32 && rb == rankUInt32 || ra == rankUInt32 && rb == rankInt32 {
		return core.Int64, nil
	}
	return rankType(core, max(ra, rb)), nil
}

// promoteUnary returns the widened type of a single arithmetic operand.
func promoteUnary(core *metadata.CoreLibrary, a *metadata.Type) (*metadata.Type, error) {
	r, ok := numericRank(a)
	if !ok {
		return nil, diag.New(diag.Unsupported, "arithmetic on %s", typeName(a))
	}
	return rankType(core, r), nil
}

func isFloat(t *metadata.Type) bool {
	r, ok := numericRank(t)
	return ok && r >= rankSingle
}

func typeName(t *metadata.Type) string {
	if t == nil {
		return "<untyped>"
	}
	return t.FullName()
}
