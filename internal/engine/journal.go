package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mpetrov/colloquy/internal/persistence"
	"github.com/mpetrov/colloquy/pkg/activity"
	"github.com/mpetrov/colloquy/pkg/api"
)

// errReplayExhausted is returned by journal operations in rebuild mode when
// the workflow reaches the point where live progress would begin.
var errReplayExhausted = errors.New("replay exhausted")

// divergenceError reports that live decision logic produced a different
// step than the recorded history — either the history is corrupt or the
// decision logic stopped being deterministic.
type divergenceError struct {
	msg string
}

func (e *divergenceError) Error() string { return "history divergence: " + e.msg }

// journal mediates between the deterministic workflow and the durable
// event history. While records remain from a prior run it serves them back
// (replay); once exhausted it appends new records (live). In rebuild mode
// (live == false) exhaustion surfaces as errReplayExhausted instead.
//
// A journal belongs to exactly one runner goroutine; only the sequence
// counter is safe to read concurrently (snapshots).
type journal struct {
	key   string
	store persistence.HistoryStore
	live  bool
	now   func() time.Time

	replay  []api.EventRecord
	pos     int
	nextSeq atomic.Uint64
}

var _ activity.Journal = (*journal)(nil)

func newJournal(key string, store persistence.HistoryStore, replay []api.EventRecord, live bool) *journal {
	j := &journal{
		key:    key,
		store:  store,
		live:   live,
		now:    time.Now,
		replay: replay,
	}
	j.nextSeq.Store(uint64(len(replay)) + 1)
	return j
}

func (j *journal) replaying() bool { return j.pos < len(j.replay) }

// lastSeq returns the sequence number of the most recent record.
func (j *journal) lastSeq() uint64 { return j.nextSeq.Load() - 1 }

func (j *journal) divergef(format string, args ...any) error {
	return &divergenceError{msg: fmt.Sprintf(format, args...)}
}

// append writes rec at the tail of the history. The sequence-conflict check
// in the store enforces single-writer-per-instance.
func (j *journal) append(ctx context.Context, rec api.EventRecord) (uint64, error) {
	if !j.live {
		return 0, errReplayExhausted
	}
	rec.Seq = j.nextSeq.Load()
	rec.At = j.now()
	if err := j.store.Append(ctx, j.key, rec); err != nil {
		return 0, fmt.Errorf("append %s: %w", rec.Kind, err)
	}
	j.nextSeq.Add(1)
	return rec.Seq, nil
}

// begin consumes or writes the PhaseCreated record. It returns the start
// request that governs the instance (the recorded one wins on replay) and
// whether the record was replayed.
func (j *journal) begin(ctx context.Context, req api.StartRequest) (api.StartRequest, bool, error) {
	if j.replaying() {
		rec := j.replay[j.pos]
		sc, ok := rec.Payload.(api.StateChange)
		if rec.Kind != api.EventStateChanged || !ok || sc.To != api.PhaseCreated || sc.Start == nil {
			return req, false, j.divergef("expected creation record at seq %d, found %s", rec.Seq, rec.Kind)
		}
		j.pos++
		return *sc.Start, true, nil
	}
	_, err := j.append(ctx, api.EventRecord{
		Kind:    api.EventStateChanged,
		Payload: api.StateChange{To: api.PhaseCreated, Start: &req},
		Detail:  string(api.PhaseCreated),
	})
	return req, false, err
}

// stateChanged consumes or writes a phase transition record. It returns
// whether the record was replayed.
func (j *journal) stateChanged(ctx context.Context, from, to api.Phase, reason string) (bool, error) {
	if j.replaying() {
		rec := j.replay[j.pos]
		sc, ok := rec.Payload.(api.StateChange)
		if rec.Kind != api.EventStateChanged || !ok {
			return false, j.divergef("expected state.changed to %s at seq %d, found %s", to, rec.Seq, rec.Kind)
		}
		if sc.To != to {
			return false, j.divergef("recorded transition to %s at seq %d, decision logic chose %s", sc.To, rec.Seq, to)
		}
		j.pos++
		return true, nil
	}
	_, err := j.append(ctx, api.EventRecord{
		Kind:    api.EventStateChanged,
		Payload: api.StateChange{From: from, To: to, Reason: reason},
		Detail:  string(to),
	})
	return false, err
}

// replayedSignal consumes a recorded signal for slot, if the journal is
// still replaying. A non-signal record at an await point is a divergence.
func (j *journal) replayedSignal(slot api.Slot) (string, bool, error) {
	if !j.replaying() {
		return "", false, nil
	}
	rec := j.replay[j.pos]
	if rec.Kind != api.EventSignalReceived {
		return "", false, j.divergef("awaiting %s signal at seq %d, found %s", slot, rec.Seq, rec.Kind)
	}
	if rec.Slot != slot {
		return "", false, j.divergef("recorded signal fills %s at seq %d, decision logic awaits %s", rec.Slot, rec.Seq, slot)
	}
	value, _ := rec.Payload.(string)
	j.pos++
	return value, true, nil
}

// signalReceived records a live signal consumption.
func (j *journal) signalReceived(ctx context.Context, slot api.Slot, value string) error {
	_, err := j.append(ctx, api.EventRecord{
		Kind:    api.EventSignalReceived,
		Slot:    slot,
		Payload: value,
	})
	return err
}

// Scheduled implements activity.Journal. On replay it consumes the
// scheduled record plus its outcome; a scheduled record with no outcome
// (crash mid-call) comes back as a dangling Recorded so the executor
// re-attempts with the same idempotency key.
func (j *journal) Scheduled(ctx context.Context, name string, attempt int, callSeq uint64, args any) (uint64, *activity.Recorded, error) {
	if j.replaying() {
		rec := j.replay[j.pos]
		if rec.Kind != api.EventActivityScheduled || rec.Activity != name || rec.Attempt != attempt {
			return 0, nil, j.divergef("expected %s attempt %d of %s at seq %d, found %s %s attempt %d",
				api.EventActivityScheduled, attempt, name, rec.Seq, rec.Kind, rec.Activity, rec.Attempt)
		}
		j.pos++
		seq := rec.CallSeq
		if seq == 0 {
			seq = rec.Seq
		}

		if !j.replaying() {
			// Dangling attempt at the tail of history. Re-executing it is
			// live progress; a rebuild must stop here instead.
			if !j.live {
				return 0, nil, errReplayExhausted
			}
			return seq, &activity.Recorded{}, nil
		}
		out := j.replay[j.pos]
		switch {
		case out.Kind == api.EventActivityCompleted && out.Activity == name && out.Attempt == attempt:
			j.pos++
			return seq, &activity.Recorded{Done: true, Result: out.Payload}, nil
		case out.Kind == api.EventActivityFailed && out.Activity == name && out.Attempt == attempt:
			j.pos++
			cause := errors.New(out.Detail)
			if !out.Retryable {
				cause = api.Terminal(cause)
			}
			return seq, &activity.Recorded{Done: true, Err: cause, Retryable: out.Retryable}, nil
		default:
			return 0, nil, j.divergef("attempt %d of %s at seq %d has no outcome, history continues with %s",
				attempt, name, rec.Seq, out.Kind)
		}
	}

	if !j.live {
		return 0, nil, errReplayExhausted
	}
	if callSeq == 0 {
		callSeq = j.nextSeq.Load()
	}
	if _, err := j.append(ctx, api.EventRecord{
		Kind:     api.EventActivityScheduled,
		Activity: name,
		Attempt:  attempt,
		CallSeq:  callSeq,
		Payload:  args,
	}); err != nil {
		return 0, nil, err
	}
	return callSeq, nil, nil
}

// Completed implements activity.Journal.
func (j *journal) Completed(ctx context.Context, name string, attempt int, callSeq uint64, result any) error {
	if j.replaying() {
		return j.divergef("live completion of %s while history remains", name)
	}
	_, err := j.append(ctx, api.EventRecord{
		Kind:     api.EventActivityCompleted,
		Activity: name,
		Attempt:  attempt,
		CallSeq:  callSeq,
		Payload:  result,
	})
	return err
}

// Failed implements activity.Journal.
func (j *journal) Failed(ctx context.Context, name string, attempt int, callSeq uint64, cause error, retryable bool) error {
	if j.replaying() {
		return j.divergef("live failure of %s while history remains", name)
	}
	_, err := j.append(ctx, api.EventRecord{
		Kind:      api.EventActivityFailed,
		Activity:  name,
		Attempt:   attempt,
		CallSeq:   callSeq,
		Retryable: retryable,
		Detail:    cause.Error(),
	})
	return err
}
