// Package native describes the contract of the simulation engine that owns
// the model, the equation system and its solver.
//
// The engine is reached only through opaque handles and a narrow call
// surface. Every call reports a [Status] next to its primary result, mirroring
// the success flag and message pair of the native library:
//
//	n, st := eng.NumberOfQuantitiesWithValues(h)
//	if err := st.Err(simerr.KindEngine, "quantities"); err != nil {
//	    return err
//	}
//
// The primary result must not be used when the status is not OK.
// [Status.Err] is the only place where the pair is turned into an error.
//
// Implementations must allow [Lifecycle.Progress] and [Lifecycle.Cancel] to be
// called from another goroutine while [Lifecycle.Run] executes. No other
// concurrent use of one simulation handle is required.
package native
