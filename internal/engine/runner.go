package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mpetrov/colloquy/internal/inbox"
	"github.com/mpetrov/colloquy/pkg/activity"
	"github.com/mpetrov/colloquy/pkg/api"
)

// instanceState is the runner's in-memory view of one survey. It is never
// persisted: it is a pure function of the applied event history.
type instanceState struct {
	phase         api.Phase
	chatID        int64
	language      string
	profile       map[string]string
	answers       []api.Answer
	pendingSlot   api.Slot
	fallbackTurns int
	failureReason string
}

// runner drives one survey instance. The survey function runs sequentially
// in a single goroutine; on resume it replays the recorded history through
// the journal until it catches up, then continues live.
type runner struct {
	eng   *Engine
	key   string
	obs   api.Observer
	inbox *inbox.Inbox
	j     *journal
	exec  *activity.Executor

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	cancelRequested atomic.Bool

	mu sync.Mutex
	st instanceState
}

func newRunner(e *Engine, key string, replay []api.EventRecord, live bool) *runner {
	obs := e.obs
	if !live {
		obs = api.NoopObserver{}
	}
	r := &runner{
		eng:   e,
		key:   key,
		obs:   obs,
		inbox: inbox.New(),
		j:     newJournal(key, e.store, replay, live),
		done:  make(chan struct{}),
	}
	r.exec = activity.NewExecutor(key, e.acts, r.j, obs)
	r.ctx, r.cancel = context.WithCancel(e.baseCtx)

	// Recorded signals already occupy their slots; later deliveries must
	// route past them.
	signals := 0
	for _, rec := range replay {
		if rec.Kind == api.EventSignalReceived {
			signals++
		}
	}
	r.inbox.Prime(signals)
	return r
}

// run executes the survey to a terminal phase and reports the outcome.
// A cancelled context without a cancel request is host shutdown: the
// instance is left mid-history and resumable.
func (r *runner) run(req api.StartRequest) {
	defer close(r.done)
	defer r.eng.reg.remove(r.key, r)

	err := r.survey(r.ctx, req)
	switch {
	case err == nil:
	case r.cancelRequested.Load() && errors.Is(err, context.Canceled):
		r.markTerminal(api.PhaseCancelled, "cancelled")
		r.obs.OnSurveyFailed(context.Background(), r.key, errors.New("cancelled"))
	case errors.Is(err, context.Canceled):
	default:
		r.markTerminal(api.PhaseFailed, err.Error())
		r.obs.OnSurveyFailed(context.Background(), r.key, err)
	}
}

// survey is the deterministic decision function. Everything it observes
// flows through the journal or the activity executor, so replaying the same
// history reproduces the same decisions.
func (r *runner) survey(ctx context.Context, req api.StartRequest) error {
	cfg := r.eng.cfg
	start, replayed, err := r.j.begin(ctx, req)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.st.phase = api.PhaseCreated
	r.st.chatID = start.ChatID
	r.st.language = start.Language
	if r.st.language == "" {
		r.st.language = cfg.DefaultLanguage
	}
	r.st.profile = start.Profile
	chatID := r.st.chatID
	r.mu.Unlock()

	if !replayed {
		r.obs.OnSurveyStarted(ctx, r.key)
	}

	welcome, err := r.invokeString(ctx, api.ActivityGenerateWelcome,
		api.GenerateWelcomeArgs{Key: r.key}, cfg.Timeouts.GenerateWelcome)
	if err != nil {
		return err
	}
	if err := r.setPhase(ctx, api.PhaseWelcomeGenerated); err != nil {
		return err
	}
	if err := r.send(ctx, chatID, welcome); err != nil {
		return err
	}
	if err := r.setPhase(ctx, api.PhaseAwaitingFirstAnswer); err != nil {
		return err
	}

	first, err := r.awaitAnswer(ctx, api.SlotFirstAnswer)
	if err != nil {
		return err
	}
	if err := r.setPhase(ctx, api.PhaseLanguageDetecting); err != nil {
		return err
	}

	language, err := r.invokeString(ctx, api.ActivityDetectLanguage,
		api.DetectLanguageArgs{Text: first}, cfg.Timeouts.DetectLanguage)
	if err != nil {
		if !api.IsTerminal(err) || ctx.Err() != nil {
			return err
		}
		// Detection is best-effort; a dead detector must not kill the survey.
		language = cfg.DefaultLanguage
	}
	if language == "" {
		language = cfg.DefaultLanguage
	}
	r.mu.Lock()
	r.st.language = language
	r.mu.Unlock()

	if _, err := r.invoke(ctx, api.ActivityPersistLanguage,
		api.PersistLanguageArgs{ChatID: chatID, Language: language}, cfg.Timeouts.PersistLanguage); err != nil {
		return err
	}

	for {
		if err := r.setPhase(ctx, api.PhaseAskingQuestion); err != nil {
			return err
		}
		q, err := r.nextQuestion(ctx)
		if err != nil {
			return err
		}
		if err := r.setPhase(ctx, api.PhaseQuestionSent); err != nil {
			return err
		}
		if err := r.send(ctx, chatID, q.Text); err != nil {
			return err
		}
		if err := r.setPhase(ctx, api.PhaseAwaitingAnswer); err != nil {
			return err
		}

		answer, err := r.awaitAnswer(ctx, api.SlotNextAnswer)
		if err != nil {
			return err
		}
		if err := r.setPhase(ctx, api.PhaseRecording); err != nil {
			return err
		}

		if q.IsEmail {
			if _, err := r.invoke(ctx, api.ActivityPersistEmail,
				api.PersistEmailArgs{ChatID: chatID, Email: answer}, cfg.Timeouts.PersistEmail); err != nil {
				return err
			}
		} else {
			if _, err := r.invoke(ctx, api.ActivityPersistAnswer,
				api.PersistAnswerArgs{ChatID: chatID, QA: api.Answer{Question: q.Text, Text: answer}},
				cfg.Timeouts.PersistAnswer); err != nil {
				return err
			}
		}

		r.mu.Lock()
		r.st.answers = append(r.st.answers, api.Answer{Question: q.Text, Text: answer})
		r.mu.Unlock()

		if !q.IsFinal {
			continue
		}

		if _, err := r.invoke(ctx, api.ActivityMarkComplete,
			api.MarkCompleteArgs{ChatID: chatID}, cfg.Timeouts.MarkComplete); err != nil {
			return err
		}
		if err := r.send(ctx, chatID, cfg.FinalNotice); err != nil {
			return err
		}
		if err := r.setPhase(ctx, api.PhaseFinished); err != nil {
			return err
		}
		r.obs.OnSurveyFinished(ctx, r.key)
		return nil
	}
}

// nextQuestion selects the question for the current turn: the triage list
// first, then the generator, then the contact-info question once enough
// answers exist. Generator failures and unusable output fall back to the
// fixed list, bounded by MaxFallbackTurns.
func (r *runner) nextQuestion(ctx context.Context) (api.Question, error) {
	cfg := r.eng.cfg

	r.mu.Lock()
	n := len(r.st.answers)
	language := r.st.language
	profile := r.st.profile
	answers := append([]api.Answer(nil), r.st.answers...)
	r.mu.Unlock()

	if n < cfg.TriageThreshold && n < len(cfg.TriageQuestions) {
		return api.Question{Text: cfg.TriageQuestions[n]}, nil
	}
	if n >= cfg.FinalQuestionCount {
		return api.Question{Text: cfg.EmailQuestion, IsEmail: true, IsFinal: true}, nil
	}

	result, err := r.invoke(ctx, api.ActivityGenerateQuestion,
		api.NextQuestionArgs{Profile: profile, Answers: answers, Language: language},
		cfg.Timeouts.NextQuestion)

	var q api.Question
	if err == nil {
		q, _ = result.(api.Question)
	}
	if err != nil || strings.TrimSpace(q.Text) == "" {
		if err != nil && (!api.IsTerminal(err) || ctx.Err() != nil) {
			return api.Question{}, err
		}
		return r.fallbackQuestion(n), nil
	}
	return q, nil
}

// fallbackQuestion serves the next canned question and forces the survey
// toward completion once the fallback budget is spent.
func (r *runner) fallbackQuestion(n int) api.Question {
	cfg := r.eng.cfg
	idx := n
	if idx >= len(cfg.FallbackQuestions) {
		idx = len(cfg.FallbackQuestions) - 1
	}
	q := api.Question{Text: cfg.FallbackQuestions[idx]}

	r.mu.Lock()
	r.st.fallbackTurns++
	turns := r.st.fallbackTurns
	r.mu.Unlock()

	if turns >= cfg.MaxFallbackTurns {
		q.IsFinal = true
	}
	return q
}

// awaitAnswer blocks until a signal fills the slot, first draining any
// recorded signal from the history. The signal.received record is written
// at consumption time, which is the only point where inbox arrival order
// touches the durable history.
func (r *runner) awaitAnswer(ctx context.Context, slot api.Slot) (string, error) {
	if value, ok, err := r.j.replayedSignal(slot); err != nil {
		return "", err
	} else if ok {
		return value, nil
	}

	r.mu.Lock()
	r.st.pendingSlot = slot
	r.mu.Unlock()

	if !r.j.live {
		return "", errReplayExhausted
	}

	value, err := r.inbox.Await(ctx, slot, r.eng.cfg.AnswerTimeout)
	if err != nil {
		return "", err
	}
	if err := r.j.signalReceived(ctx, slot, value); err != nil {
		return "", err
	}

	r.mu.Lock()
	r.st.pendingSlot = api.SlotNone
	r.mu.Unlock()
	return value, nil
}

func (r *runner) invoke(ctx context.Context, name string, args any, timeout time.Duration) (any, error) {
	return r.exec.Invoke(ctx, name, args, timeout, r.eng.cfg.Retry)
}

func (r *runner) invokeString(ctx context.Context, name string, args any, timeout time.Duration) (string, error) {
	result, err := r.invoke(ctx, name, args, timeout)
	if err != nil {
		return "", err
	}
	s, ok := result.(string)
	if !ok {
		return "", api.Terminalf("%s: unexpected result type %T", name, result)
	}
	return s, nil
}

func (r *runner) send(ctx context.Context, chatID int64, text string) error {
	_, err := r.invoke(ctx, api.ActivitySendMessage,
		api.SendMessageArgs{ChatID: chatID, Text: text}, r.eng.cfg.Timeouts.SendMessage)
	return err
}

func (r *runner) setPhase(ctx context.Context, to api.Phase) error {
	r.mu.Lock()
	from := r.st.phase
	r.mu.Unlock()

	replayed, err := r.j.stateChanged(ctx, from, to, "")
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.st.phase = to
	r.mu.Unlock()

	if !replayed {
		r.obs.OnPhaseChanged(ctx, r.key, from, to)
	}
	return nil
}

// markTerminal appends the terminal transition with a fresh context; the
// runner's own context is typically already dead here. An append failure is
// swallowed: the instance then resumes on recovery instead of closing.
func (r *runner) markTerminal(to api.Phase, reason string) {
	r.mu.Lock()
	from := r.st.phase
	if from.Terminal() {
		r.mu.Unlock()
		return
	}
	r.st.phase = to
	r.st.failureReason = reason
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = r.j.append(ctx, api.EventRecord{
		Kind:    api.EventStateChanged,
		Payload: api.StateChange{From: from, To: to, Reason: reason},
		Detail:  string(to),
	})
	r.obs.OnPhaseChanged(ctx, r.key, from, to)
}

func (r *runner) snapshot() *api.InstanceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := &api.InstanceSnapshot{
		Key:           r.key,
		Phase:         r.st.phase,
		ChatID:        r.st.chatID,
		Language:      r.st.language,
		Answers:       append([]api.Answer(nil), r.st.answers...),
		PendingSlot:   r.st.pendingSlot,
		FallbackTurns: r.st.fallbackTurns,
		FailureReason: r.st.failureReason,
		Seq:           r.j.lastSeq(),
	}
	if r.st.profile != nil {
		snap.Profile = make(map[string]string, len(r.st.profile))
		for k, v := range r.st.profile {
			snap.Profile[k] = v
		}
	}
	return snap
}
