package colloquy_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	colloquy "github.com/mpetrov/colloquy"
	"github.com/mpetrov/colloquy/pkg/api"
)

// --- shared test collaborators ---

type recordingMessenger struct {
	mu    sync.Mutex
	sends []string
}

func (m *recordingMessenger) Send(ctx context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, text)
	return nil
}

func (m *recordingMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sends)
}

type scriptedQuestions struct{}

func (scriptedQuestions) Welcome(ctx context.Context, instanceKey string) (string, error) {
	return "Hi! Let's talk about your business.", nil
}

func (scriptedQuestions) NextQuestion(ctx context.Context, profile map[string]string, answers []api.Answer, language string) (api.Question, error) {
	return api.Question{Text: fmt.Sprintf("Tell me more (turn %d)?", len(answers)+1)}, nil
}

type staticDetector struct{}

func (staticDetector) Detect(ctx context.Context, text string) (string, error) { return "en", nil }

// memUsers deduplicates writes on the idempotency key.
type memUsers struct {
	mu       sync.Mutex
	applied  map[string]bool
	answers  []api.Answer
	email    string
	language string
	complete bool
}

func newMemUsers() *memUsers { return &memUsers{applied: make(map[string]bool)} }

func (u *memUsers) once(key api.IdempotencyKey, apply func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.applied[key.String()] {
		return
	}
	u.applied[key.String()] = true
	apply()
}

func (u *memUsers) SaveAnswer(ctx context.Context, key api.IdempotencyKey, chatID int64, qa api.Answer) error {
	u.once(key, func() { u.answers = append(u.answers, qa) })
	return nil
}

func (u *memUsers) SaveEmail(ctx context.Context, key api.IdempotencyKey, chatID int64, email string) error {
	u.once(key, func() { u.email = email })
	return nil
}

func (u *memUsers) SetLanguage(ctx context.Context, key api.IdempotencyKey, chatID int64, language string) error {
	u.once(key, func() { u.language = language })
	return nil
}

func (u *memUsers) MarkComplete(ctx context.Context, key api.IdempotencyKey, chatID int64) error {
	u.once(key, func() { u.complete = true })
	return nil
}

func testDeps(m *recordingMessenger, u *memUsers) colloquy.Dependencies {
	return colloquy.Dependencies{
		Messenger: m,
		Questions: scriptedQuestions{},
		Language:  staticDetector{},
		Users:     u,
	}
}

func shortConfig() colloquy.SurveyConfig {
	return colloquy.SurveyConfig{
		TriageThreshold:    1,
		FinalQuestionCount: 2,
		TriageQuestions:    []string{"What does your company do?"},
		Retry: colloquy.RetryPolicy{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
		},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// awaitSlot blocks until the instance parks on an answer slot.
func awaitSlot(t *testing.T, eng colloquy.Engine, key string, afterSends func() int, sends int) {
	t.Helper()
	waitFor(t, "instance parked on a slot", func() bool {
		if afterSends() < sends {
			return false
		}
		snap, err := eng.Snapshot(context.Background(), key)
		return err == nil && snap.PendingSlot != colloquy.SlotNone
	})
}

// --- tests ---

func TestLocalRunner_EndToEnd(t *testing.T) {
	m := &recordingMessenger{}
	u := newMemUsers()
	runner, err := colloquy.NewLocalRunner(testDeps(m, u), shortConfig())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, runner.StartWorkers(ctx, 2))
	defer runner.Stop()
	defer runner.Engine.Stop(ctx)

	const key = "user-42"
	require.NoError(t, runner.StartSurveyAsync(ctx, key, colloquy.StartRequest{ChatID: 42}))

	replies := []string{
		"We run a small bakery",
		"Mostly bread and pastries",
		"Word of mouth",
		"baker@example.com",
	}
	for i, text := range replies {
		awaitSlot(t, runner.Engine, key, m.count, i+1)
		require.NoError(t, runner.DeliverAsync(ctx, key, 42, text))
	}

	waitFor(t, "survey finished", func() bool {
		snap, err := runner.Engine.Snapshot(ctx, key)
		return err == nil && snap.Phase == colloquy.PhaseFinished
	})

	u.mu.Lock()
	defer u.mu.Unlock()
	require.Len(t, u.answers, 2)
	assert.Equal(t, "Mostly bread and pastries", u.answers[0].Text)
	assert.Equal(t, "Word of mouth", u.answers[1].Text)
	assert.Equal(t, "baker@example.com", u.email)
	assert.Equal(t, "en", u.language)
	assert.True(t, u.complete)

	// welcome + 3 questions + final notice
	assert.Equal(t, 5, m.count())
}

func TestLocalRunner_NoticeForUnknownInstance(t *testing.T) {
	m := &recordingMessenger{}
	runner, err := colloquy.NewLocalRunner(testDeps(m, newMemUsers()), shortConfig())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, runner.StartWorkers(ctx, 1))
	defer runner.Stop()
	defer runner.Engine.Stop(ctx)

	require.NoError(t, runner.DeliverAsync(ctx, "nobody", 42, "hello?"))

	// The worker answers with the restart notice instead of failing.
	waitFor(t, "restart notice", func() bool { return m.count() == 1 })
}

func TestHelpers_ForwardToEngine(t *testing.T) {
	m := &recordingMessenger{}
	u := newMemUsers()
	eng, err := colloquy.NewInMemoryEngine(testDeps(m, u), shortConfig())
	require.NoError(t, err)
	ctx := context.Background()
	defer eng.Stop(ctx)

	outcome, err := colloquy.Start(ctx, eng, "u1", colloquy.StartRequest{ChatID: 7})
	require.NoError(t, err)
	require.Equal(t, colloquy.OutcomeStarted, outcome)

	awaitSlot(t, eng, "u1", m.count, 1)
	delivery, err := colloquy.Deliver(ctx, eng, "u1", "first answer")
	require.NoError(t, err)
	require.Equal(t, colloquy.DeliveryAccepted, delivery)

	snap, err := colloquy.Snapshot(ctx, eng, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), snap.ChatID)

	recs, err := colloquy.History(ctx, eng, "u1", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, recs)
}

func TestNewInMemoryEngine_Validation(t *testing.T) {
	_, err := colloquy.NewInMemoryEngine(colloquy.Dependencies{}, colloquy.SurveyConfig{})
	require.Error(t, err)
}

func TestRetryBuilder(t *testing.T) {
	p := colloquy.Retry(5).
		WithExponentialBackoff(100*time.Millisecond, 2.0, time.Second).
		Policy()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, p.InitialBackoff)
	assert.Equal(t, 2.0, p.BackoffMultiplier)
	assert.Equal(t, time.Second, p.MaxBackoff)

	p = colloquy.Retry(3).WithConstantBackoff(50 * time.Millisecond).Policy()
	assert.Equal(t, 50*time.Millisecond, p.Delay(1))
	assert.Equal(t, 50*time.Millisecond, p.Delay(2))

	p = colloquy.Retry(2).Immediate().Policy()
	assert.Equal(t, time.Duration(0), p.Delay(1))
}
