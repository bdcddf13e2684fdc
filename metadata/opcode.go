package metadata

import "fmt"

// Opcode is a stack-machine instruction kind. Values follow the ECMA-335
// encoding; two-byte opcodes carry the 0xFE prefix in the high byte.
// Only the long (non-macro) forms are represented: loaders expand
// short forms such as ldloc.0 before building a Body.
type Opcode uint16

const (
	// ========================================================================
	// Stack manipulation and constants
	// ========================================================================

	OpNop    Opcode = 0x00 // No operation
	OpLdnull Opcode = 0x14 // Push null reference
	OpLdcI4  Opcode = 0x20 // Push int32: ldc.i4 <int32>
	OpLdcI8  Opcode = 0x21 // Push int64: ldc.i8 <int64>
	OpLdcR4  Opcode = 0x22 // Push float32: ldc.r4 <float32>
	OpLdcR8  Opcode = 0x23 // Push float64: ldc.r8 <float64>
	OpDup    Opcode = 0x25 // Duplicate top of stack
	OpPop    Opcode = 0x26 // Discard top of stack
	OpLdstr  Opcode = 0x72 // Push string literal: ldstr <string>

	// ========================================================================
	// Arguments and locals
	// ========================================================================

	OpLdarg  Opcode = 0xFE09 // Push argument: ldarg <uint16>
	OpLdarga Opcode = 0xFE0A // Push argument address: ldarga <uint16>
	OpStarg  Opcode = 0xFE0B // Pop into argument: starg <uint16>
	OpLdloc  Opcode = 0xFE0C // Push local: ldloc <uint16>
	OpLdloca Opcode = 0xFE0D // Push local address: ldloca <uint16>
	OpStloc  Opcode = 0xFE0E // Pop into local: stloc <uint16>

	// ========================================================================
	// Fields and objects
	// ========================================================================

	OpLdfld   Opcode = 0x7B   // Pop owner, push field value: ldfld <field>
	OpLdflda  Opcode = 0x7C   // Pop owner, push field address: ldflda <field>
	OpStfld   Opcode = 0x7D   // Pop value and owner, store field: stfld <field>
	OpLdsfld  Opcode = 0x7E   // Push static field: ldsfld <field>
	OpStsfld  Opcode = 0x80   // Pop into static field: stsfld <field>
	OpNewobj  Opcode = 0x73   // Allocate and construct: newobj <ctor>
	OpInitobj Opcode = 0xFE15 // Pop address, zero-fill: initobj <type>
	OpSizeof  Opcode = 0xFE1C // Push size of type: sizeof <type>

	// ========================================================================
	// Arithmetic and bitwise
	// ========================================================================

	OpAdd   Opcode = 0x58 // Pop two, push sum
	OpSub   Opcode = 0x59 // Pop two, push difference
	OpMul   Opcode = 0x5A // Pop two, push product
	OpDiv   Opcode = 0x5B // Pop two, push quotient
	OpRem   Opcode = 0x5D // Pop two, push remainder
	OpAnd   Opcode = 0x5F // Pop two, push bitwise and
	OpOr    Opcode = 0x60 // Pop two, push bitwise or
	OpXor   Opcode = 0x61 // Pop two, push bitwise xor
	OpShl   Opcode = 0x62 // Pop value and amount, push left shift
	OpShr   Opcode = 0x63 // Pop value and amount, push arithmetic right shift
	OpShrUn Opcode = 0x64 // Pop value and amount, push logical right shift
	OpNeg   Opcode = 0x65 // Pop one, push negation
	OpNot   Opcode = 0x66 // Pop one, push bitwise complement

	// ========================================================================
	// Conversions
	// ========================================================================

	OpConvI1 Opcode = 0x67
	OpConvI2 Opcode = 0x68
	OpConvI4 Opcode = 0x69
	OpConvI8 Opcode = 0x6A
	OpConvR4 Opcode = 0x6B
	OpConvR8 Opcode = 0x6C
	OpConvU4 Opcode = 0x6D
	OpConvU8 Opcode = 0x6E
	OpConvU2 Opcode = 0xD1
	OpConvU1 Opcode = 0xD2

	// ========================================================================
	// Comparisons (push 0 or 1)
	// ========================================================================

	OpCeq   Opcode = 0xFE01
	OpCgt   Opcode = 0xFE02
	OpCgtUn Opcode = 0xFE03
	OpClt   Opcode = 0xFE04
	OpCltUn Opcode = 0xFE05

	// ========================================================================
	// Control flow
	// ========================================================================

	OpBr      Opcode = 0x38 // Unconditional branch: br <target>
	OpBrfalse Opcode = 0x39 // Pop, branch if zero
	OpBrtrue  Opcode = 0x3A // Pop, branch if non-zero
	OpBeq     Opcode = 0x3B // Pop two, branch if equal
	OpBge     Opcode = 0x3C
	OpBgt     Opcode = 0x3D
	OpBle     Opcode = 0x3E
	OpBlt     Opcode = 0x3F
	OpBneUn   Opcode = 0x40
	OpBgeUn   Opcode = 0x41
	OpBgtUn   Opcode = 0x42
	OpBleUn   Opcode = 0x43
	OpBltUn   Opcode = 0x44
	OpRet     Opcode = 0x2A // Return, popping the value for non-void methods

	// ========================================================================
	// Calls
	// ========================================================================

	OpCall     Opcode = 0x28 // Direct call: call <method>
	OpCallvirt Opcode = 0x6F // Virtual call: callvirt <method>
)

// OperandKind describes the inline operand that follows an opcode.
type OperandKind int

const (
	InlineNone OperandKind = iota
	InlineI
	InlineI8
	ShortInlineR
	InlineR
	InlineString
	InlineVar
	InlineBrTarget
	InlineField
	InlineMethod
	InlineType
)

var operandSizes = [...]int{
	InlineNone:     0,
	InlineI:        4,
	InlineI8:       8,
	ShortInlineR:   4,
	InlineR:        8,
	InlineString:   4,
	InlineVar:      2,
	InlineBrTarget: 4,
	InlineField:    4,
	InlineMethod:   4,
	InlineType:     4,
}

// OpcodeInfo provides metadata about each opcode for disassembly and
// validation.
type OpcodeInfo struct {
	Name    string      // Mnemonic
	Operand OperandKind // Inline operand shape
	Pop     int         // Values popped (-1 = depends on the operand)
	Push    int         // Values pushed (-1 = depends on the operand)
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop:    {"nop", InlineNone, 0, 0},
	OpLdnull: {"ldnull", InlineNone, 0, 1},
	OpLdcI4:  {"ldc.i4", InlineI, 0, 1},
	OpLdcI8:  {"ldc.i8", InlineI8, 0, 1},
	OpLdcR4:  {"ldc.r4", ShortInlineR, 0, 1},
	OpLdcR8:  {"ldc.r8", InlineR, 0, 1},
	OpDup:    {"dup", InlineNone, 1, 2},
	OpPop:    {"pop", InlineNone, 1, 0},
	OpLdstr:  {"ldstr", InlineString, 0, 1},

	OpLdarg:  {"ldarg", InlineVar, 0, 1},
	OpLdarga: {"ldarga", InlineVar, 0, 1},
	OpStarg:  {"starg", InlineVar, 1, 0},
	OpLdloc:  {"ldloc", InlineVar, 0, 1},
	OpLdloca: {"ldloca", InlineVar, 0, 1},
	OpStloc:  {"stloc", InlineVar, 1, 0},

	OpLdfld:   {"ldfld", InlineField, 1, 1},
	OpLdflda:  {"ldflda", InlineField, 1, 1},
	OpStfld:   {"stfld", InlineField, 2, 0},
	OpLdsfld:  {"ldsfld", InlineField, 0, 1},
	OpStsfld:  {"stsfld", InlineField, 1, 0},
	OpNewobj:  {"newobj", InlineMethod, -1, 1},
	OpInitobj: {"initobj", InlineType, 1, 0},
	OpSizeof:  {"sizeof", InlineType, 0, 1},

	OpAdd:   {"add", InlineNone, 2, 1},
	OpSub:   {"sub", InlineNone, 2, 1},
	OpMul:   {"mul", InlineNone, 2, 1},
	OpDiv:   {"div", InlineNone, 2, 1},
	OpRem:   {"rem", InlineNone, 2, 1},
	OpAnd:   {"and", InlineNone, 2, 1},
	OpOr:    {"or", InlineNone, 2, 1},
	OpXor:   {"xor", InlineNone, 2, 1},
	OpShl:   {"shl", InlineNone, 2, 1},
	OpShr:   {"shr", InlineNone, 2, 1},
	OpShrUn: {"shr.un", InlineNone, 2, 1},
	OpNeg:   {"neg", InlineNone, 1, 1},
	OpNot:   {"not", InlineNone, 1, 1},

	OpConvI1: {"conv.i1", InlineNone, 1, 1},
	OpConvI2: {"conv.i2", InlineNone, 1, 1},
	OpConvI4: {"conv.i4", InlineNone, 1, 1},
	OpConvI8: {"conv.i8", InlineNone, 1, 1},
	OpConvR4: {"conv.r4", InlineNone, 1, 1},
	OpConvR8: {"conv.r8", InlineNone, 1, 1},
	OpConvU4: {"conv.u4", InlineNone, 1, 1},
	OpConvU8: {"conv.u8", InlineNone, 1, 1},
	OpConvU2: {"conv.u2", InlineNone, 1, 1},
	OpConvU1: {"conv.u1", InlineNone, 1, 1},

	OpCeq:   {"ceq", InlineNone, 2, 1},
	OpCgt:   {"cgt", InlineNone, 2, 1},
	OpCgtUn: {"cgt.un", InlineNone, 2, 1},
	OpClt:   {"clt", InlineNone, 2, 1},
	OpCltUn: {"clt.un", InlineNone, 2, 1},

	OpBr:      {"br", InlineBrTarget, 0, 0},
	OpBrfalse: {"brfalse", InlineBrTarget, 1, 0},
	OpBrtrue:  {"brtrue", InlineBrTarget, 1, 0},
	OpBeq:     {"beq", InlineBrTarget, 2, 0},
	OpBge:     {"bge", InlineBrTarget, 2, 0},
	OpBgt:     {"bgt", InlineBrTarget, 2, 0},
	OpBle:     {"ble", InlineBrTarget, 2, 0},
	OpBlt:     {"blt", InlineBrTarget, 2, 0},
	OpBneUn:   {"bne.un", InlineBrTarget, 2, 0},
	OpBgeUn:   {"bge.un", InlineBrTarget, 2, 0},
	OpBgtUn:   {"bgt.un", InlineBrTarget, 2, 0},
	OpBleUn:   {"ble.un", InlineBrTarget, 2, 0},
	OpBltUn:   {"blt.un", InlineBrTarget, 2, 0},
	OpRet:     {"ret", InlineNone, -1, 0},

	OpCall:     {"call", InlineMethod, -1, -1},
	OpCallvirt: {"callvirt", InlineMethod, -1, -1},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns an OpcodeInfo named "unknown(0x..)" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("unknown(0x%04X)", uint16(op))}
}

// Known reports whether op is part of the modelled instruction set.
func (op Opcode) Known() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Size returns the encoded length of an instruction using op, including
// its inline operand.
func (op Opcode) Size() int {
	n := 1
	if op > 0xFF {
		n = 2
	}
	return n + operandSizes[GetOpcodeInfo(op).Operand]
}

// IsBranch reports whether op transfers control to an inline target.
func (op Opcode) IsBranch() bool {
	return GetOpcodeInfo(op).Operand == InlineBrTarget
}

// IsConditional reports whether op is a branch that may fall through.
func (op Opcode) IsConditional() bool {
	return op.IsBranch() && op != OpBr
}
