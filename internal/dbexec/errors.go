package dbexec

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies execution failures. The kinds travel over the wire
// unchanged so the translation layer can react to them.
type ErrorKind string

const (
	KindSyntax         ErrorKind = "syntax_error"
	KindRuntime        ErrorKind = "runtime_error"
	KindConstraint     ErrorKind = "constraint_violation"
	KindMultiStatement ErrorKind = "multi_statement"
	KindTimeout        ErrorKind = "timeout"
)

// Error is an execution failure with the engine's message passed through
// unmodified, so the model can read it and self-correct.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// classify maps a database error onto the fixed taxonomy. The message stays
// verbatim; only the kind is derived.
func classify(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTimeout, Message: err.Error()}
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "syntax error"), strings.Contains(lower, "incomplete input"):
		return &Error{Kind: KindSyntax, Message: msg}
	case strings.Contains(lower, "constraint"):
		return &Error{Kind: KindConstraint, Message: msg}
	default:
		return &Error{Kind: KindRuntime, Message: msg}
	}
}
