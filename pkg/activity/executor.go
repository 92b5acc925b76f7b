package activity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mpetrov/colloquy/pkg/api"
)

// Func is a named external operation. It receives the idempotency key for
// the logical invocation so the callee can deduplicate its side effect.
type Func func(ctx context.Context, call Call) (any, error)

// Call carries one attempt's inputs to an activity Func.
type Call struct {
	Key     api.IdempotencyKey
	Args    any
	Attempt int
}

// Registry maps activity names to their implementations.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register binds fn to name. Registering a name twice is an error.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" {
		return errors.New("activity name is required")
	}
	if fn == nil {
		return fmt.Errorf("activity %q has nil function", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.funcs[name]; ok {
		return fmt.Errorf("activity already registered: %s", name)
	}
	r.funcs[name] = fn
	return nil
}

// MustRegister is like Register but panics on error. Useful when wiring a
// fixed activity set at construction time.
func (r *Registry) MustRegister(name string, fn Func) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

func (r *Registry) lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Recorded is a journaled attempt outcome served during replay.
// Done is false for a dangling attempt: a scheduled record with no matching
// outcome, left by a crash mid-call. Such an attempt is re-executed live
// with the same idempotency key.
type Recorded struct {
	Done      bool
	Result    any
	Err       error
	Retryable bool
}

// Journal durably records every attempt before and after execution. The
// engine's per-instance history journal implements it; during replay,
// Scheduled returns the recorded outcome instead of nil.
type Journal interface {
	// Scheduled records an activity.scheduled event for the attempt and
	// returns its sequence number. callSeq is zero on the first attempt;
	// the journal then assigns it from the new record's sequence.
	Scheduled(ctx context.Context, name string, attempt int, callSeq uint64, args any) (seq uint64, rec *Recorded, err error)

	// Completed records a successful attempt's result.
	Completed(ctx context.Context, name string, attempt int, callSeq uint64, result any) error

	// Failed records a failed attempt and its retryable classification.
	Failed(ctx context.Context, name string, attempt int, callSeq uint64, cause error, retryable bool) error
}

// Executor invokes named activities with a timeout and bounded retry,
// journaling every attempt so a crash mid-call is recoverable. It is bound
// to one instance; the engine creates one per runner.
type Executor struct {
	instanceKey string
	reg         *Registry
	journal     Journal
	obs         api.Observer
}

func NewExecutor(instanceKey string, reg *Registry, journal Journal, obs api.Observer) *Executor {
	if obs == nil {
		obs = api.NoopObserver{}
	}
	return &Executor{
		instanceKey: instanceKey,
		reg:         reg,
		journal:     journal,
		obs:         obs,
	}
}

// Invoke runs the named activity. Retryable failures are retried with the
// policy's backoff up to its attempt bound, then escalated to a terminal
// error. Terminal failures propagate immediately. Replayed attempts return
// their recorded outcome without re-executing the side effect.
func (e *Executor) Invoke(ctx context.Context, name string, args any, timeout time.Duration, policy api.RetryPolicy) (any, error) {
	attempts := policy.Attempts()
	var callSeq uint64

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		seq, rec, err := e.journal.Scheduled(ctx, name, attempt, callSeq, args)
		if err != nil {
			return nil, err
		}
		if attempt == 1 {
			callSeq = seq
		}

		if rec != nil && rec.Done {
			// Replayed attempt: apply the recorded outcome.
			if rec.Err == nil {
				return rec.Result, nil
			}
			if !rec.Retryable {
				return nil, rec.Err
			}
			if attempt >= attempts {
				return nil, api.Terminalf("activity %s: failed after %d attempts: %w", name, attempts, rec.Err)
			}
			// No backoff sleep while replaying recorded failures.
			continue
		}

		// Live execution. rec != nil here means a dangling scheduled record:
		// re-attempt with the already-assigned idempotency key, without
		// journaling a second scheduled event.
		fn, ok := e.reg.lookup(name)
		if !ok {
			cause := api.Terminalf("unknown activity: %s", name)
			if jerr := e.journal.Failed(ctx, name, attempt, callSeq, cause, false); jerr != nil {
				return nil, jerr
			}
			return nil, cause
		}

		call := Call{
			Key:     api.IdempotencyKey{InstanceKey: e.instanceKey, Seq: callSeq},
			Args:    args,
			Attempt: attempt,
		}

		e.obs.OnActivityStart(ctx, e.instanceKey, name, attempt)
		start := time.Now()
		result, callErr := e.call(ctx, fn, call, timeout)
		e.obs.OnActivityCompleted(ctx, e.instanceKey, name, attempt, callErr, time.Since(start))

		if callErr == nil {
			if err := e.journal.Completed(ctx, name, attempt, callSeq, result); err != nil {
				return nil, err
			}
			return result, nil
		}

		// A cancelled parent context is crash-equivalent: leave the attempt
		// dangling so recovery re-executes it with the same key.
		if ctx.Err() != nil && errors.Is(callErr, ctx.Err()) {
			return nil, callErr
		}

		retryable := classify(callErr)
		if err := e.journal.Failed(ctx, name, attempt, callSeq, callErr, retryable); err != nil {
			return nil, err
		}
		if !retryable {
			if !api.IsTerminal(callErr) {
				callErr = api.Terminal(callErr)
			}
			return nil, callErr
		}
		if attempt >= attempts {
			return nil, api.Terminalf("activity %s: failed after %d attempts: %w", name, attempts, callErr)
		}

		if delay := policy.Delay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
}

func (e *Executor) call(ctx context.Context, fn Func, call Call, timeout time.Duration) (any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx, call)
}

// classify decides whether a failure is retryable. Timeouts and anything
// not explicitly marked terminal count as transient.
func classify(err error) bool {
	if api.IsTerminal(err) {
		return false
	}
	return true
}
