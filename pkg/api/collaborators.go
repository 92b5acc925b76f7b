package api

import (
	"context"
	"errors"
	"fmt"
)

// Activity names. Collaborator methods are invoked through the activity
// executor under these names so every call is journaled, retried, and
// replayable.
const (
	ActivityGenerateWelcome  = "generate-welcome"
	ActivitySendMessage      = "send-message"
	ActivityDetectLanguage   = "detect-language"
	ActivityPersistLanguage  = "persist-language"
	ActivityGenerateQuestion = "generate-next-question"
	ActivityPersistAnswer    = "persist-answer"
	ActivityPersistEmail     = "persist-email"
	ActivityMarkComplete     = "mark-complete"
)

// IdempotencyKey identifies one logical activity invocation. It is stable
// across retries and crash re-attempts, so a callee that deduplicates on it
// never double-applies a side effect.
type IdempotencyKey struct {
	InstanceKey string
	Seq         uint64
}

func (k IdempotencyKey) String() string {
	return fmt.Sprintf("%s/%d", k.InstanceKey, k.Seq)
}

// Messenger delivers outbound messages to the user's chat.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// QuestionSource generates the welcome message and the next survey question.
type QuestionSource interface {
	Welcome(ctx context.Context, instanceKey string) (string, error)
	NextQuestion(ctx context.Context, profile map[string]string, answers []Answer, language string) (Question, error)
}

// LanguageDetector resolves free text to an ISO language code.
type LanguageDetector interface {
	Detect(ctx context.Context, text string) (string, error)
}

// UserStore persists survey results. Every method must be idempotent on the
// supplied key: a repeated call with the same key is a no-op.
type UserStore interface {
	SaveAnswer(ctx context.Context, key IdempotencyKey, chatID int64, qa Answer) error
	SaveEmail(ctx context.Context, key IdempotencyKey, chatID int64, email string) error
	SetLanguage(ctx context.Context, key IdempotencyKey, chatID int64, language string) error
	MarkComplete(ctx context.Context, key IdempotencyKey, chatID int64) error
}

// Dependencies bundles the external collaborators an engine needs. All four
// are required.
type Dependencies struct {
	Messenger Messenger
	Questions QuestionSource
	Language  LanguageDetector
	Users     UserStore
}

// Validate returns an error naming the first missing collaborator.
func (d Dependencies) Validate() error {
	switch {
	case d.Messenger == nil:
		return errors.New("messenger is required")
	case d.Questions == nil:
		return errors.New("question source is required")
	case d.Language == nil:
		return errors.New("language detector is required")
	case d.Users == nil:
		return errors.New("user store is required")
	}
	return nil
}

// Activity argument payloads. These are recorded on activity.scheduled
// events, so they must stay gob-encodable.

type GenerateWelcomeArgs struct {
	Key string
}

type SendMessageArgs struct {
	ChatID int64
	Text   string
}

type DetectLanguageArgs struct {
	Text string
}

type PersistLanguageArgs struct {
	ChatID   int64
	Language string
}

type NextQuestionArgs struct {
	Profile  map[string]string
	Answers  []Answer
	Language string
}

type PersistAnswerArgs struct {
	ChatID int64
	QA     Answer
}

type PersistEmailArgs struct {
	ChatID int64
	Email  string
}

type MarkCompleteArgs struct {
	ChatID int64
}
