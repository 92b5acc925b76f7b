package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mpetrov/colloquy/internal/persistence"
	"github.com/mpetrov/colloquy/pkg/activity"
	"github.com/mpetrov/colloquy/pkg/api"
)

// Config assembles an Engine.
type Config struct {
	// Store holds the durable event history. Required.
	Store persistence.HistoryStore

	// Deps are the external collaborators. All four are required.
	Deps api.Dependencies

	// Survey tunes question selection and retry behavior. Zero value works.
	Survey api.SurveyConfig

	// Observer receives lifecycle callbacks. Optional.
	Observer api.Observer
}

// Engine hosts survey instances: it starts them, routes signals to them,
// and recovers them from history after a restart.
type Engine struct {
	store persistence.HistoryStore
	cfg   api.SurveyConfig
	obs   api.Observer
	acts  *activity.Registry
	reg   *registry

	// startMu serializes the check-then-spawn sections so at most one
	// runner ever exists per instance key.
	startMu sync.Mutex

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
	stopped    atomic.Bool
}

var _ api.Engine = (*Engine)(nil)

// New validates cfg and returns a ready engine. Call Recover afterwards to
// resume instances left open by a previous process.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("history store is required")
	}
	if err := cfg.Deps.Validate(); err != nil {
		return nil, err
	}
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	e := &Engine{
		store: cfg.Store,
		cfg:   cfg.Survey.Normalized(),
		obs:   obs,
		acts:  buildActivities(cfg.Deps),
		reg:   newRegistry(),
	}
	e.baseCtx, e.baseCancel = context.WithCancel(context.Background())
	return e, nil
}

// StartOrGet starts a survey instance for key, or reports the state of the
// existing one. Starting is idempotent: repeated calls with the same key
// never create a second instance.
func (e *Engine) StartOrGet(ctx context.Context, key string, req api.StartRequest) (api.StartOutcome, error) {
	if key == "" {
		return "", errors.New("instance key is required")
	}
	if e.stopped.Load() {
		return "", api.ErrEngineStopped
	}

	e.startMu.Lock()
	defer e.startMu.Unlock()

	if _, ok := e.reg.get(key); ok {
		return api.OutcomeAlreadyRunning, nil
	}
	recs, err := e.store.Read(ctx, key, 1)
	if err != nil {
		return "", err
	}
	if len(recs) > 0 {
		if lastPhase(recs).Terminal() {
			return api.OutcomeAlreadyFinished, nil
		}
		e.spawn(key, api.StartRequest{}, recs)
		return api.OutcomeAlreadyRunning, nil
	}
	e.spawn(key, req, nil)
	return api.OutcomeStarted, nil
}

// Deliver routes one free-text answer to the instance's signal inbox. An
// instance with history but no live runner is resumed first, so an answer
// arriving after a restart still lands.
func (e *Engine) Deliver(ctx context.Context, key, text string) (api.DeliveryOutcome, error) {
	if e.stopped.Load() {
		return "", api.ErrEngineStopped
	}

	e.startMu.Lock()
	defer e.startMu.Unlock()

	r, ok := e.reg.get(key)
	if !ok {
		recs, err := e.store.Read(ctx, key, 1)
		if err != nil {
			return "", err
		}
		if len(recs) == 0 {
			return api.DeliveryNoSuchInstance, nil
		}
		if lastPhase(recs).Terminal() {
			return api.DeliveryAlreadyClosed, nil
		}
		r = e.spawn(key, api.StartRequest{}, recs)
	}

	slot, accepted := r.inbox.Deliver(text)
	e.obs.OnSignal(ctx, key, slot, accepted)
	if !accepted {
		return api.DeliveryDuplicate, nil
	}
	return api.DeliveryAccepted, nil
}

// Cancel closes the instance. A live runner is interrupted; an idle one
// gets the terminal record appended directly.
func (e *Engine) Cancel(ctx context.Context, key string) error {
	e.startMu.Lock()
	defer e.startMu.Unlock()

	if r, ok := e.reg.get(key); ok {
		r.cancelRequested.Store(true)
		r.cancel()
		return nil
	}

	recs, err := e.store.Read(ctx, key, 1)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return api.ErrNoSuchInstance
	}
	from := lastPhase(recs)
	if from.Terminal() {
		return api.ErrSurveyClosed
	}
	return e.store.Append(ctx, key, api.EventRecord{
		Seq:     uint64(len(recs)) + 1,
		At:      time.Now(),
		Kind:    api.EventStateChanged,
		Payload: api.StateChange{From: from, To: api.PhaseCancelled, Reason: "cancelled"},
		Detail:  string(api.PhaseCancelled),
	})
}

// Snapshot returns the instance's current state: live from the runner, or
// rebuilt from history by replay for instances that are not running.
func (e *Engine) Snapshot(ctx context.Context, key string) (*api.InstanceSnapshot, error) {
	if r, ok := e.reg.get(key); ok {
		return r.snapshot(), nil
	}
	recs, err := e.store.Read(ctx, key, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, api.ErrNoSuchInstance
	}
	return e.rebuildSnapshot(key, recs)
}

// History returns the instance's event records starting at fromSeq.
func (e *Engine) History(ctx context.Context, key string, fromSeq uint64) ([]api.EventRecord, error) {
	if fromSeq == 0 {
		fromSeq = 1
	}
	recs, err := e.store.Read(ctx, key, fromSeq)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 && fromSeq == 1 {
		return nil, api.ErrNoSuchInstance
	}
	return recs, nil
}

// Recover scans the store and resumes every non-terminal instance that has
// no live runner. It returns the number of instances resumed.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	if e.stopped.Load() {
		return 0, api.ErrEngineStopped
	}
	keys, err := e.store.Keys(ctx)
	if err != nil {
		return 0, err
	}

	e.startMu.Lock()
	defer e.startMu.Unlock()

	resumed := 0
	for _, key := range keys {
		if _, ok := e.reg.get(key); ok {
			continue
		}
		recs, err := e.store.Read(ctx, key, 1)
		if err != nil {
			return resumed, err
		}
		if len(recs) == 0 || lastPhase(recs).Terminal() {
			continue
		}
		e.spawn(key, api.StartRequest{}, recs)
		resumed++
	}
	return resumed, nil
}

// Stop cancels all runners and waits for them to park. Open instances stay
// open: their histories resume on the next Recover.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.stopped.CompareAndSwap(false, true) {
		return nil
	}
	e.baseCancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports how many runners are live. Exposed for diagnostics.
func (e *Engine) Running() int { return e.reg.len() }

func (e *Engine) spawn(key string, req api.StartRequest, replay []api.EventRecord) *runner {
	r := newRunner(e, key, replay, true)
	e.reg.put(key, r)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		r.run(req)
	}()
	return r
}

// rebuildSnapshot replays the history through a non-live runner. A trailing
// terminal transition written outside the survey function (failure, cancel)
// is peeled off first and reapplied to the result, since the decision logic
// never takes those transitions itself.
func (e *Engine) rebuildSnapshot(key string, recs []api.EventRecord) (*api.InstanceSnapshot, error) {
	total := uint64(len(recs))

	var trailing *api.StateChange
	if n := len(recs); n > 0 {
		last := recs[n-1]
		if last.Kind == api.EventStateChanged {
			if sc, ok := last.Payload.(api.StateChange); ok && sc.To.Terminal() && sc.To != api.PhaseFinished {
				trailing = &sc
				recs = recs[:n-1]
			}
		}
	}

	r := newRunner(e, key, recs, false)
	defer r.cancel()
	err := r.survey(context.Background(), api.StartRequest{})
	if err != nil && !errors.Is(err, errReplayExhausted) && !api.IsTerminal(err) {
		return nil, err
	}

	snap := r.snapshot()
	snap.Seq = total
	if trailing != nil {
		snap.Phase = trailing.To
		snap.FailureReason = trailing.Reason
	} else if err != nil && api.IsTerminal(err) {
		snap.Phase = api.PhaseFailed
		snap.FailureReason = err.Error()
	}
	return snap, nil
}

// lastPhase returns the phase of the most recent state.changed record.
func lastPhase(recs []api.EventRecord) api.Phase {
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Kind != api.EventStateChanged {
			continue
		}
		if sc, ok := recs[i].Payload.(api.StateChange); ok {
			return sc.To
		}
	}
	return api.PhaseCreated
}
