// Package activity implements the activity executor: named external
// operations invoked with a timeout and a bounded-backoff retry policy,
// with every attempt journaled before and after execution so that a crash
// mid-call is recoverable and a replayed invocation never re-runs a side
// effect that already completed.
package activity
