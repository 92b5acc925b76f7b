package api

import (
	"encoding/gob"
	"time"
)

func init() {
	gob.Register(StartRequest{})
	gob.Register(Question{})
	gob.Register(Answer{})
	gob.Register(StateChange{})
	gob.Register(GenerateWelcomeArgs{})
	gob.Register(SendMessageArgs{})
	gob.Register(DetectLanguageArgs{})
	gob.Register(PersistLanguageArgs{})
	gob.Register(NextQuestionArgs{})
	gob.Register(PersistAnswerArgs{})
	gob.Register(PersistEmailArgs{})
	gob.Register(MarkCompleteArgs{})
}

// StartRequest is the initial payload supplied when a survey instance is
// started for an instance key. Profile is an opaque key/value mapping that
// the engine passes through to the question generator; it is never mutated
// after the instance is created.
type StartRequest struct {
	ChatID   int64
	Language string
	Profile  map[string]string
}

// Question is what the question generator produces for one survey turn.
type Question struct {
	Text    string
	IsFinal bool
	IsEmail bool
}

// Answer is one exchanged question/answer pair. Every pair is appended to
// the instance's ordered answer history, including the email turn.
type Answer struct {
	Question string
	Text     string
}

// InstanceSnapshot is a read-only copy of a survey instance's state.
// It is fully reconstructible from the instance's event history.
type InstanceSnapshot struct {
	Key         string
	Phase       Phase
	ChatID      int64
	Language    string
	Profile     map[string]string
	Answers     []Answer
	PendingSlot Slot

	// FallbackTurns counts questions served from the fallback list after
	// generator failures.
	FallbackTurns int

	// FailureReason is set when Phase is PhaseFailed.
	FailureReason string

	// Seq is the sequence number of the last applied history record.
	Seq uint64
}

// ActivityTimeouts holds the per-activity invocation timeouts.
type ActivityTimeouts struct {
	GenerateWelcome time.Duration
	SendMessage     time.Duration
	DetectLanguage  time.Duration
	PersistLanguage time.Duration
	NextQuestion    time.Duration
	PersistAnswer   time.Duration
	PersistEmail    time.Duration
	MarkComplete    time.Duration
}

// SurveyConfig controls question selection, fallback bounds, notices, and
// activity retry behavior. The zero value is usable: every field defaults
// via Normalized.
type SurveyConfig struct {
	// TriageThreshold is the answer count below which questions come from
	// the fixed triage list instead of the generator.
	TriageThreshold int

	// FinalQuestionCount is the answer count at which the contact-info
	// question is asked. That question is both the email question and the
	// final one, so a completed survey holds FinalQuestionCount+1 answers.
	FinalQuestionCount int

	// MaxFallbackTurns bounds how many questions may be served from the
	// fallback list before completion is forced.
	MaxFallbackTurns int

	// DefaultLanguage is used when language detection fails.
	DefaultLanguage string

	TriageQuestions   []string
	FallbackQuestions []string
	EmailQuestion     string

	// FinalNotice is sent after the survey completes.
	FinalNotice string

	// AnswerTimeout bounds how long an instance waits for an answer signal.
	// Zero means wait indefinitely.
	AnswerTimeout time.Duration

	// Retry applies to every activity invocation.
	Retry RetryPolicy

	Timeouts ActivityTimeouts
}

// DefaultSurveyConfig returns the stock configuration.
func DefaultSurveyConfig() SurveyConfig {
	return SurveyConfig{}.Normalized()
}

// Normalized returns a copy of c with zero fields replaced by defaults.
func (c SurveyConfig) Normalized() SurveyConfig {
	if c.TriageThreshold <= 0 {
		c.TriageThreshold = 3
	}
	if c.FinalQuestionCount <= 0 {
		c.FinalQuestionCount = 20
	}
	if c.MaxFallbackTurns <= 0 {
		c.MaxFallbackTurns = 5
	}
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = "en"
	}
	if len(c.TriageQuestions) == 0 {
		c.TriageQuestions = []string{
			"What does your business do, in one or two sentences?",
			"How many people work in your company?",
			"What is the biggest challenge you are facing right now?",
		}
	}
	if len(c.FallbackQuestions) == 0 {
		c.FallbackQuestions = []string{
			"What products or services do you offer?",
			"Who are your typical customers?",
			"How do customers usually find you?",
			"What would you most like to improve in your business?",
			"Is there anything else you would like to share?",
		}
	}
	if c.EmailQuestion == "" {
		c.EmailQuestion = "Almost done! Please share your email address so we can send you your personalized analysis."
	}
	if c.FinalNotice == "" {
		c.FinalNotice = "Thank you for completing the survey! We will prepare a personalized analysis based on your answers and get back to you shortly."
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = RetryPolicy{
			MaxAttempts:       3,
			InitialBackoff:    500 * time.Millisecond,
			BackoffMultiplier: 2.0,
			MaxBackoff:        5 * time.Second,
		}
	}
	t := &c.Timeouts
	if t.GenerateWelcome <= 0 {
		t.GenerateWelcome = 15 * time.Second
	}
	if t.SendMessage <= 0 {
		t.SendMessage = 15 * time.Second
	}
	if t.DetectLanguage <= 0 {
		t.DetectLanguage = 10 * time.Second
	}
	if t.PersistLanguage <= 0 {
		t.PersistLanguage = 5 * time.Second
	}
	if t.NextQuestion <= 0 {
		t.NextQuestion = 60 * time.Second
	}
	if t.PersistAnswer <= 0 {
		t.PersistAnswer = 15 * time.Second
	}
	if t.PersistEmail <= 0 {
		t.PersistEmail = 10 * time.Second
	}
	if t.MarkComplete <= 0 {
		t.MarkComplete = 5 * time.Second
	}
	return c
}
