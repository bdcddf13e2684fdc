package metadata

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of m's body.
func Disassemble(m *Method) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, ".method %s\n", m.FullName())
	if m.Body == nil {
		sb.WriteString("  // no body\n")
		return sb.String()
	}
	for _, l := range m.Body.Locals {
		name, ok := m.LocalName(l.Index)
		if !ok {
			name = "-"
		}
		fmt.Fprintf(&sb, "  .local [%d] %s %s\n", l.Index, l.Type.FullName(), name)
	}
	for _, in := range m.Body.Instructions {
		sb.WriteString("  ")
		sb.WriteString(in.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
