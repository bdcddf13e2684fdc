package emit

import (
	"fmt"
	"strings"
)

// writer accumulates one artifact's text.
type writer struct {
	sb     strings.Builder
	indent int
}

func (w *writer) writeLine(format string, args ...any) {
	for i := 0; i < w.indent; i++ {
		w.sb.WriteString("\t")
	}
	fmt.Fprintf(&w.sb, format, args...)
	w.sb.WriteString("\n")
}

// writeLabel writes a label one level left of the current indent.
func (w *writer) writeLabel(name string) {
	w.indent--
	w.writeLine("%s:", name)
	w.indent++
}

func (w *writer) blank() {
	w.sb.WriteString("\n")
}

func (w *writer) header(buildID string) {
	w.writeLine("// Generated by il2x. Build %s.", buildID)
	w.writeLine("// DO NOT EDIT - this file is auto-generated")
	w.blank()
}

func (w *writer) bytes() []byte {
	return []byte(w.sb.String())
}
