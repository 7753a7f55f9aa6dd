// Package simulation is the managed control surface of a native simulation
// engine.
//
// A [Simulation] owns exactly one engine handle and moves through a strict
// lifecycle:
//
//	Created -> Loaded -> Finalized -> RunComplete
//
// with Disposed reachable from every state. Parameters and species are
// exposed as index-addressed proxies into engine-side collections. Each
// collection carries the generation it was fetched in; Load and Finalize
// start a new generation, and using a proxy from an older one fails with
// [simerr.ErrInvalidState] instead of addressing the wrong entity.
//
//	sim, err := simulation.New(eng, simulation.DefaultSettings())
//	if err != nil {
//	    return err
//	}
//	defer sim.Dispose()
//
//	if err := sim.LoadFromString(doc); err != nil {
//	    return err
//	}
//	if err := sim.Finalize(); err != nil {
//	    return err
//	}
//	if err := sim.Run(ctx); err != nil {
//	    return err
//	}
//	y, err := sim.ValuesFor("y1")
//
// A Simulation is not safe for concurrent use, except that [Simulation.Progress]
// and [Simulation.Cancel] may be called from another goroutine while
// [Simulation.Run] executes.
package simulation
