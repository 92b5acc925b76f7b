package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mpetrov/colloquy/pkg/api"
)

type journalCall struct {
	op        string // scheduled, completed, failed
	name      string
	attempt   int
	callSeq   uint64
	retryable bool
}

// fakeJournal records journal traffic and can serve preloaded replay
// outcomes, one per Scheduled call.
type fakeJournal struct {
	nextSeq uint64
	calls   []journalCall
	replay  []*Recorded
}

func (j *fakeJournal) Scheduled(ctx context.Context, name string, attempt int, callSeq uint64, args any) (uint64, *Recorded, error) {
	var rec *Recorded
	if len(j.replay) > 0 {
		rec = j.replay[0]
		j.replay = j.replay[1:]
	}
	j.nextSeq++
	seq := callSeq
	if seq == 0 {
		seq = j.nextSeq
	}
	j.calls = append(j.calls, journalCall{op: "scheduled", name: name, attempt: attempt, callSeq: seq})
	return seq, rec, nil
}

func (j *fakeJournal) Completed(ctx context.Context, name string, attempt int, callSeq uint64, result any) error {
	j.calls = append(j.calls, journalCall{op: "completed", name: name, attempt: attempt, callSeq: callSeq})
	return nil
}

func (j *fakeJournal) Failed(ctx context.Context, name string, attempt int, callSeq uint64, cause error, retryable bool) error {
	j.calls = append(j.calls, journalCall{op: "failed", name: name, attempt: attempt, callSeq: callSeq, retryable: retryable})
	return nil
}

func (j *fakeJournal) ops() []string {
	out := make([]string, len(j.calls))
	for i, c := range j.calls {
		out[i] = c.op
	}
	return out
}

func equalOps(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func newTestExecutor(j Journal, fns map[string]Func) *Executor {
	reg := NewRegistry()
	for name, fn := range fns {
		reg.MustRegister(name, fn)
	}
	return NewExecutor("inst-1", reg, j, nil)
}

func immediate(attempts int) api.RetryPolicy {
	return api.RetryPolicy{MaxAttempts: attempts}
}

func TestInvoke_SuccessJournalsBothRecords(t *testing.T) {
	j := &fakeJournal{}
	calls := 0
	exec := newTestExecutor(j, map[string]Func{
		"greet": func(ctx context.Context, call Call) (any, error) {
			calls++
			if call.Key.InstanceKey != "inst-1" || call.Key.Seq == 0 {
				t.Fatalf("bad idempotency key: %+v", call.Key)
			}
			return "hello", nil
		},
	})

	got, err := exec.Invoke(context.Background(), "greet", nil, time.Second, immediate(3))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if got != "hello" {
		t.Fatalf("result = %v, want hello", got)
	}
	if calls != 1 {
		t.Fatalf("function called %d times, want 1", calls)
	}
	if !equalOps(j.ops(), []string{"scheduled", "completed"}) {
		t.Fatalf("journal ops = %v", j.ops())
	}
	if j.calls[0].callSeq != j.calls[1].callSeq {
		t.Fatalf("completed record must carry the scheduled call seq: %+v", j.calls)
	}
}

func TestInvoke_RetryKeepsIdempotencyKey(t *testing.T) {
	j := &fakeJournal{}
	var keys []uint64
	exec := newTestExecutor(j, map[string]Func{
		"flaky": func(ctx context.Context, call Call) (any, error) {
			keys = append(keys, call.Key.Seq)
			if call.Attempt < 3 {
				return nil, errors.New("transient")
			}
			return "ok", nil
		},
	})

	got, err := exec.Invoke(context.Background(), "flaky", nil, time.Second, immediate(3))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if got != "ok" {
		t.Fatalf("result = %v", got)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(keys))
	}
	if keys[0] != keys[1] || keys[1] != keys[2] {
		t.Fatalf("idempotency key changed across retries: %v", keys)
	}
	want := []string{"scheduled", "failed", "scheduled", "failed", "scheduled", "completed"}
	if !equalOps(j.ops(), want) {
		t.Fatalf("journal ops = %v, want %v", j.ops(), want)
	}
}

func TestInvoke_TerminalFailureDoesNotRetry(t *testing.T) {
	j := &fakeJournal{}
	calls := 0
	exec := newTestExecutor(j, map[string]Func{
		"reject": func(ctx context.Context, call Call) (any, error) {
			calls++
			return nil, api.Terminalf("chat not found")
		},
	})

	_, err := exec.Invoke(context.Background(), "reject", nil, time.Second, immediate(5))
	if err == nil || !api.IsTerminal(err) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("terminal failure retried: %d calls", calls)
	}
	if !equalOps(j.ops(), []string{"scheduled", "failed"}) {
		t.Fatalf("journal ops = %v", j.ops())
	}
	if j.calls[1].retryable {
		t.Fatal("terminal failure journaled as retryable")
	}
}

func TestInvoke_ExhaustionEscalatesToTerminal(t *testing.T) {
	j := &fakeJournal{}
	cause := errors.New("connection refused")
	calls := 0
	exec := newTestExecutor(j, map[string]Func{
		"down": func(ctx context.Context, call Call) (any, error) {
			calls++
			return nil, cause
		},
	})

	_, err := exec.Invoke(context.Background(), "down", nil, time.Second, immediate(3))
	if err == nil || !api.IsTerminal(err) {
		t.Fatalf("exhaustion should escalate to terminal, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("escalated error should wrap the last cause, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestInvoke_ReplayedSuccessSkipsExecution(t *testing.T) {
	j := &fakeJournal{replay: []*Recorded{{Done: true, Result: "from-history"}}}
	exec := newTestExecutor(j, map[string]Func{
		"greet": func(ctx context.Context, call Call) (any, error) {
			t.Fatal("side effect re-executed during replay")
			return nil, nil
		},
	})

	got, err := exec.Invoke(context.Background(), "greet", nil, time.Second, immediate(3))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if got != "from-history" {
		t.Fatalf("result = %v", got)
	}
}

func TestInvoke_ReplayedRetryableFailuresThenLive(t *testing.T) {
	// History holds two failed attempts; the third runs live and succeeds.
	j := &fakeJournal{replay: []*Recorded{
		{Done: true, Err: errors.New("transient"), Retryable: true},
		{Done: true, Err: errors.New("transient"), Retryable: true},
	}}
	calls := 0
	exec := newTestExecutor(j, map[string]Func{
		"flaky": func(ctx context.Context, call Call) (any, error) {
			calls++
			if call.Attempt != 3 {
				t.Fatalf("live attempt = %d, want 3", call.Attempt)
			}
			return "ok", nil
		},
	})

	start := time.Now()
	got, err := exec.Invoke(context.Background(), "flaky", nil, time.Second, api.RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Hour, // must not be slept on during replay
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if got != "ok" || calls != 1 {
		t.Fatalf("result = %v, live calls = %d", got, calls)
	}
	if time.Since(start) > time.Second {
		t.Fatal("backoff slept while replaying recorded failures")
	}
}

func TestInvoke_DanglingAttemptReexecutesWithSameKey(t *testing.T) {
	// A crash left a scheduled record with no outcome. The executor must run
	// the function with the recorded key and journal only the outcome.
	j := &fakeJournal{replay: []*Recorded{{}}}
	var gotKey uint64
	exec := newTestExecutor(j, map[string]Func{
		"send": func(ctx context.Context, call Call) (any, error) {
			gotKey = call.Key.Seq
			return nil, nil
		},
	})

	_, err := exec.Invoke(context.Background(), "send", nil, time.Second, immediate(3))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if !equalOps(j.ops(), []string{"scheduled", "completed"}) {
		t.Fatalf("journal ops = %v", j.ops())
	}
	if gotKey != j.calls[0].callSeq {
		t.Fatalf("re-attempt key %d != recorded call seq %d", gotKey, j.calls[0].callSeq)
	}
}

func TestInvoke_TimeoutIsRetryable(t *testing.T) {
	j := &fakeJournal{}
	calls := 0
	exec := newTestExecutor(j, map[string]Func{
		"slow": func(ctx context.Context, call Call) (any, error) {
			calls++
			if calls == 1 {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return "ok", nil
		},
	})

	got, err := exec.Invoke(context.Background(), "slow", nil, 20*time.Millisecond, immediate(2))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if got != "ok" || calls != 2 {
		t.Fatalf("result = %v, calls = %d", got, calls)
	}
	if j.calls[1].op != "failed" || !j.calls[1].retryable {
		t.Fatalf("timeout should journal a retryable failure: %+v", j.calls[1])
	}
}

func TestInvoke_UnknownActivityIsTerminal(t *testing.T) {
	j := &fakeJournal{}
	exec := newTestExecutor(j, nil)

	_, err := exec.Invoke(context.Background(), "missing", nil, time.Second, immediate(3))
	if err == nil || !api.IsTerminal(err) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if !equalOps(j.ops(), []string{"scheduled", "failed"}) {
		t.Fatalf("journal ops = %v", j.ops())
	}
}

func TestInvoke_ParentCancellationLeavesAttemptDangling(t *testing.T) {
	j := &fakeJournal{}
	ctx, cancel := context.WithCancel(context.Background())
	exec := newTestExecutor(j, map[string]Func{
		"wait": func(ctx context.Context, call Call) (any, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	_, err := exec.Invoke(ctx, "wait", nil, 0, immediate(3))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// Only the scheduled record exists: crash-equivalent shutdown.
	if !equalOps(j.ops(), []string{"scheduled"}) {
		t.Fatalf("journal ops = %v", j.ops())
	}
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	reg := NewRegistry()
	fn := func(ctx context.Context, call Call) (any, error) { return nil, nil }
	if err := reg.Register("a", fn); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := reg.Register("a", fn); err == nil {
		t.Fatal("duplicate Register should fail")
	}
	if err := reg.Register("", fn); err == nil {
		t.Fatal("empty name should fail")
	}
}
