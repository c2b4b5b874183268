package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseParse     Phase = "parse"     // bytes to model
	PhaseBuild     Phase = "build"     // builder API misuse
	PhaseTransform Phase = "transform" // element pipeline
	PhaseWrite     Phase = "write"     // model to bytes
	PhaseStackMap  Phase = "stackmap"  // frame generation
	PhaseResolve   Phase = "resolve"   // class hierarchy lookup
)

// Kind categorizes the error
type Kind string

const (
	KindMalformedInput      Kind = "malformed_input"
	KindIllegalArgument     Kind = "illegal_argument"
	KindIllegalConstant     Kind = "illegal_constant"
	KindHierarchyResolution Kind = "hierarchy_resolution"
	KindUnsupportedVersion  Kind = "unsupported_version"
	KindOutOfBounds         Kind = "out_of_bounds"
	KindInvalidUTF8         Kind = "invalid_utf8"
)

// Sentinels for errors.Is. They carry no phase, so they match any error of
// the same kind.
var (
	ErrMalformedInput      = &Error{Kind: KindMalformedInput}
	ErrIllegalArgument     = &Error{Kind: KindIllegalArgument}
	ErrIllegalConstant     = &Error{Kind: KindIllegalConstant}
	ErrHierarchyResolution = &Error{Kind: KindHierarchyResolution}
	ErrUnsupportedVersion  = &Error{Kind: KindUnsupportedVersion}
)

// Error is the structured error type used throughout the module
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Class    string
	Member   string
	Detail   string
	Path     []string
	Position int
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Class != "" {
		b.WriteString(" in ")
		b.WriteString(e.Class)
		if e.Member != "" {
			b.WriteString("::")
			b.WriteString(e.Member)
		}
	}

	if e.Position > 0 {
		b.WriteString(fmt.Sprintf(" (offset %d)", e.Position))
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

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target without a phase
// matches on kind alone. Encoding and bounds failures while parsing also
// count as malformed input.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == KindMalformedInput && e.Phase == PhaseParse &&
		(e.Kind == KindInvalidUTF8 || e.Kind == KindOutOfBounds) {
		return true
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the element path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Class sets the class the error refers to
func (b *Builder) Class(name string) *Builder {
	b.err.Class = name
	return b
}

// Member sets the method or field the error refers to
func (b *Builder) Member(name string) *Builder {
	b.err.Member = name
	return b
}

// Position sets the byte offset
func (b *Builder) Position(pos int) *Builder {
	b.err.Position = pos
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Malformed creates a malformed input error at a byte position
func Malformed(pos int, format string, args ...any) *Error {
	return &Error{
		Phase:    PhaseParse,
		Kind:     KindMalformedInput,
		Position: pos,
		Detail:   fmt.Sprintf(format, args...),
	}
}

// IllegalArgument creates an illegal argument error
func IllegalArgument(phase Phase, format string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindIllegalArgument,
		Detail: fmt.Sprintf(format, args...),
	}
}

// IllegalConstant creates an error for a value with no constant pool form
func IllegalConstant(value any, detail string) *Error {
	return &Error{
		Phase:  PhaseBuild,
		Kind:   KindIllegalConstant,
		Value:  value,
		Detail: fmt.Sprintf("%v: %s", value, detail),
	}
}

// HierarchyResolution creates an error for a class the resolver cannot answer
func HierarchyResolution(className string) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindHierarchyResolution,
		Value:  className,
		Detail: fmt.Sprintf("could not resolve class %s", className),
	}
}

// UnsupportedVersion creates an error for a feature the class-file version forbids
func UnsupportedVersion(major int, detail string) *Error {
	return &Error{
		Phase:  PhaseWrite,
		Kind:   KindUnsupportedVersion,
		Value:  major,
		Detail: fmt.Sprintf("class file version %d: %s", major, detail),
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// InvalidUTF8 creates an invalid modified UTF-8 error
func InvalidUTF8(pos int, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:    PhaseParse,
		Kind:     KindInvalidUTF8,
		Position: pos,
		Detail:   fmt.Sprintf("invalid modified UTF-8 sequence: %x", preview),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// In attaches class and member context to err when it is an *Error without
// one. Other errors are returned unchanged.
func In(err error, class, member string) error {
	e, ok := err.(*Error)
	if !ok || e.Class != "" {
		return err
	}
	cp := *e
	cp.Class = class
	cp.Member = member
	return &cp
}
