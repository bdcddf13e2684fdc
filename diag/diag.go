// Package diag defines the fatal error kinds raised while translating
// bytecode to C.
//
// Every error produced by the jit, optimize and emit packages is a
// *Error. Callers classify them with errors.Is against the sentinel
// kinds:
//
//	if errors.Is(err, diag.ErrStack) { ... }
package diag

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a translation failure.
type Kind int

const (
	// Unsupported is an instruction, operand shape or metadata feature
	// the translator does not implement.
	Unsupported Kind = iota + 1
	// Stack is a simulated evaluation stack that is non-empty at exit or
	// inconsistent at a join.
	Stack
	// Resolution is a type, member or virtual slot that cannot be found.
	Resolution
	// Policy is an operation invalid for the kind it is applied to.
	Policy
)

var kindNames = map[Kind]string{
	Unsupported: "unsupported construct",
	Stack:       "stack imbalance",
	Resolution:  "resolution error",
	Policy:      "policy violation",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Sentinels for errors.Is.
var (
	ErrUnsupported = &Error{Kind: Unsupported}
	ErrStack       = &Error{Kind: Stack}
	ErrResolution  = &Error{Kind: Resolution}
	ErrPolicy      = &Error{Kind: Policy}
)

// Error is a fatal translation error. Method and Offset locate the
// failure; Offset is -1 when no instruction is involved.
type Error struct {
	Kind   Kind
	Method string
	Offset int
	Detail string
	// Stack holds the rendered residual stack, bottom first, for
	// stack-imbalance errors.
	Stack []string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Method != "" {
		b.WriteString(" in ")
		b.WriteString(e.Method)
	}
	if e.Offset >= 0 && e.Method != "" {
		fmt.Fprintf(&b, " at IL_%04x", e.Offset)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if len(e.Stack) > 0 {
		b.WriteString(" [stack: ")
		b.WriteString(strings.Join(e.Stack, ", "))
		b.WriteString("]")
	}
	return b.String()
}

// Is matches any *Error of the same kind, so the sentinels classify.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an error of kind k without a location.
func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Offset: -1, Detail: fmt.Sprintf(format, args...)}
}

// At builds an error of kind k located at an instruction of method.
func At(k Kind, method string, offset int, format string, args ...any) *Error {
	return &Error{Kind: k, Method: method, Offset: offset, Detail: fmt.Sprintf(format, args...)}
}

// Locate fills in the method identity on err if it is an *Error that has
// none yet. Other errors are returned unchanged.
func Locate(err error, method string) error {
	var e *Error
	if errors.As(err, &e) && e.Method == "" {
		e.Method = method
	}
	return err
}
