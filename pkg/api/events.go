package api

import "time"

// EventKind identifies a history record.
type EventKind string

const (
	EventActivityScheduled EventKind = "activity.scheduled"
	EventActivityCompleted EventKind = "activity.completed"
	EventActivityFailed    EventKind = "activity.failed"
	EventSignalReceived    EventKind = "signal.received"
	EventStateChanged      EventKind = "state.changed"
)

// EventRecord is one immutable entry in an instance's append-only history.
// The ordered sequence of records is the deterministic replay log: replaying
// records 1..N through the orchestrator's decision logic always reproduces
// the same instance state.
//
// Payload holds the kind-specific value (activity args or result, signal
// text, or a StateChange). Values must be gob-encodable; the survey payload
// types are registered in this package's init.
type EventRecord struct {
	Seq  uint64
	At   time.Time
	Kind EventKind

	// Activity-record fields.
	Activity string
	Attempt  int

	// CallSeq is the sequence number of the first scheduled attempt of the
	// logical invocation this record belongs to. Together with the instance
	// key it forms the invocation's idempotency key, which is stable across
	// retries and crash re-attempts.
	CallSeq uint64

	// Retryable is set on activity.failed records.
	Retryable bool

	// Slot is set on signal.received records.
	Slot Slot

	Payload any

	// Detail is a small human-oriented note (error string, phase name).
	Detail string
}

// StateChange is the payload of a state.changed record.
type StateChange struct {
	From Phase
	To   Phase

	// Reason is set for failure and cancellation transitions.
	Reason string

	// Start carries the initial payload on the PhaseCreated record only.
	Start *StartRequest
}
