package api

import "context"

// StartOutcome is the result of an idempotent start request.
type StartOutcome string

const (
	OutcomeStarted        StartOutcome = "started"
	OutcomeAlreadyRunning StartOutcome = "already-running"
	// OutcomeAlreadyFinished means the key's instance is in a terminal
	// phase. Callers should tell the user the survey is closed rather than
	// abort their own flow.
	OutcomeAlreadyFinished StartOutcome = "already-terminal"
)

// DeliveryOutcome is the result of delivering an answer signal.
type DeliveryOutcome string

const (
	DeliveryAccepted DeliveryOutcome = "accepted"
	// DeliveryDuplicate means the target slot was already filled; the
	// repeat was ignored without altering instance state.
	DeliveryDuplicate      DeliveryOutcome = "duplicate"
	DeliveryNoSuchInstance DeliveryOutcome = "no-such-instance"
	DeliveryAlreadyClosed  DeliveryOutcome = "already-terminal"
)

// Engine drives durable survey instances: one long-lived logical flow per
// instance key, advanced deterministically against an append-only event
// history, suspended on answer signals, and resumable after a crash.
type Engine interface {
	// StartOrGet starts a survey instance for key, or reports the state of
	// the existing one. At most one live instance exists per key;
	// re-invocation with the same key is a safe no-op.
	StartOrGet(ctx context.Context, key string, req StartRequest) (StartOutcome, error)

	// Deliver routes an inbound answer to the instance's signal inbox.
	// A non-accepted outcome is reported via the return value, not an
	// error; errors are reserved for infrastructure failures.
	Deliver(ctx context.Context, key string, text string) (DeliveryOutcome, error)

	// Cancel interrupts any in-flight wait, marks the instance terminal
	// (PhaseCancelled), and prevents further activity scheduling. It
	// returns ErrNoSuchInstance or ErrSurveyClosed as appropriate.
	Cancel(ctx context.Context, key string) error

	// Snapshot reconstructs the instance's current state. For an instance
	// with no live runner the snapshot is rebuilt purely from history.
	Snapshot(ctx context.Context, key string) (*InstanceSnapshot, error)

	// History reads the instance's event records starting at fromSeq.
	History(ctx context.Context, key string, fromSeq uint64) ([]EventRecord, error)

	// Recover scans the history store for non-terminal instances with no
	// live runner and resumes them. Call it on process startup. It returns
	// the number of instances resumed.
	Recover(ctx context.Context) (int, error)

	// Stop prevents new starts and deliveries and waits for live runners
	// to park or until ctx is done. Stopped instances stay resumable.
	Stop(ctx context.Context) error
}
