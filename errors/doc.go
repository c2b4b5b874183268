// Package errors provides structured error types for the jclassfile module.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the class and member being processed, a byte offset
// for parse failures, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseBuild, errors.KindIllegalArgument).
//		Class("com/example/Foo").
//		Member("run()V").
//		Detail("max stack %d exceeds 65535", n).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Malformed(pos, "bad constant pool tag %d", tag)
//	err := errors.UnsupportedVersion(51, "jsr/ret not allowed")
//
// The Err* sentinels match any error of their kind:
//
//	if stderrors.Is(err, errors.ErrIllegalArgument) { ... }
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
