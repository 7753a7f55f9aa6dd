package simerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes the error
type Kind string

const (
	KindLoad          Kind = "load"           // malformed or invalid model source
	KindFinalize      Kind = "finalize"       // internal optimization failure
	KindSolve         Kind = "solve"          // integration failure
	KindUnknownEntity Kind = "unknown_entity" // id is neither species nor observer
	KindInvalidState  Kind = "invalid_state"  // illegal lifecycle state or stale index
	KindExport        Kind = "export"         // code generation failure
	KindEngine        Kind = "engine"         // any other native call failure
)

// Sentinels for errors.Is; only the Kind is compared.
var (
	ErrLoad          = &Error{Kind: KindLoad}
	ErrFinalize      = &Error{Kind: KindFinalize}
	ErrSolve         = &Error{Kind: KindSolve}
	ErrUnknownEntity = &Error{Kind: KindUnknownEntity}
	ErrInvalidState  = &Error{Kind: KindInvalidState}
	ErrExport        = &Error{Kind: KindExport}
	ErrEngine        = &Error{Kind: KindEngine}
)

// Error is the structured error type returned by the simulation layer.
type Error struct {
	Cause  error
	Kind   Kind
	Op     string
	Entity string
	Detail string
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Kind))
	b.WriteByte(']')

	if e.Op != "" {
		b.WriteByte(' ')
		b.WriteString(e.Op)
	}

	if e.Entity != "" {
		b.WriteString(" (")
		b.WriteString(e.Entity)
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target has the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

func New(kind Kind, op string) *Builder {
	return &Builder{err: Error{Kind: kind, Op: op}}
}

func (b *Builder) Entity(id string) *Builder {
	b.err.Entity = id
	return b
}

func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable message from a format string.
func (b *Builder) Detail(format string, args ...any) *Builder {
	b.err.Detail = fmt.Sprintf(format, args...)
	return b
}

// DetailText sets the message verbatim. Engine messages go through here.
func (b *Builder) DetailText(msg string) *Builder {
	b.err.Detail = msg
	return b
}

func (b *Builder) Build() *Error {
	return &b.err
}

// InvalidState reports an operation called outside its legal lifecycle state.
func InvalidState(op, format string, args ...any) *Error {
	return New(KindInvalidState, op).Detail(format, args...).Build()
}

// UnknownEntity reports an identifier that resolved to neither a species nor an observer.
func UnknownEntity(op, id string) *Error {
	return New(KindUnknownEntity, op).Entity(id).Detail("%s is not a valid species or observer entity id", id).Build()
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
