// Package viz renders simulation output in the terminal.
//
//   - [Plot]: asciigraph line chart of one or more output series
//   - [Sparkline]: one-line summary of a series
//   - [ProgressModel]: Bubble Tea view that polls a running simulation
//
// Colors come from the current [Theme]; five built-in themes are available
// through [SetTheme].
//
// # Key Bindings
//
// While a run is displayed by [ProgressModel]:
//
//	q, ctrl+c - Cancel the run
package viz
