// Package api defines the public types of the colloquy survey engine: the
// instance lifecycle (Phase), the append-only event history (EventRecord),
// retry policies, the error taxonomy, the collaborator interfaces the engine
// invokes as activities, and the Observer hooks for logging and metrics.
//
// Most users import the root colloquy package, which re-exports everything
// here.
package api
