// Package simerr defines the error kinds reported by the simulation layer.
//
// Every failure that crosses the native engine boundary is converted into an
// [*Error] carrying a [Kind], the operation that failed and the engine's
// message verbatim:
//
//	err := simerr.New(simerr.KindLoad, "load").Detail("line 3: unexpected EOF").Build()
//
// Errors match by kind, so callers test categories with the standard library:
//
//	if errors.Is(err, simerr.ErrSolve) {
//	    // integration failed
//	}
package simerr
