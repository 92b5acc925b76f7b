package colloquy

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"

	"github.com/mpetrov/colloquy/internal/engine"
	"github.com/mpetrov/colloquy/internal/persistence"
	"github.com/mpetrov/colloquy/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	StartRequest         = api.StartRequest
	StartOutcome         = api.StartOutcome
	DeliveryOutcome      = api.DeliveryOutcome
	InstanceSnapshot     = api.InstanceSnapshot
	EventRecord          = api.EventRecord
	Phase                = api.Phase
	Slot                 = api.Slot
	Question             = api.Question
	Answer               = api.Answer
	SurveyConfig         = api.SurveyConfig
	RetryPolicy          = api.RetryPolicy
	IdempotencyKey       = api.IdempotencyKey
	Dependencies         = api.Dependencies
	Messenger            = api.Messenger
	QuestionSource       = api.QuestionSource
	LanguageDetector     = api.LanguageDetector
	UserStore            = api.UserStore
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	DefaultSurveyConfig  = api.DefaultSurveyConfig
)

// Re-export outcome values for convenience.

const (
	OutcomeStarted         = api.OutcomeStarted
	OutcomeAlreadyRunning  = api.OutcomeAlreadyRunning
	OutcomeAlreadyFinished = api.OutcomeAlreadyFinished

	DeliveryAccepted       = api.DeliveryAccepted
	DeliveryDuplicate      = api.DeliveryDuplicate
	DeliveryNoSuchInstance = api.DeliveryNoSuchInstance
	DeliveryAlreadyClosed  = api.DeliveryAlreadyClosed
)

// Re-export phase and slot values.

const (
	PhaseCreated             = api.PhaseCreated
	PhaseWelcomeGenerated    = api.PhaseWelcomeGenerated
	PhaseAwaitingFirstAnswer = api.PhaseAwaitingFirstAnswer
	PhaseLanguageDetecting   = api.PhaseLanguageDetecting
	PhaseAskingQuestion      = api.PhaseAskingQuestion
	PhaseQuestionSent        = api.PhaseQuestionSent
	PhaseAwaitingAnswer      = api.PhaseAwaitingAnswer
	PhaseRecording           = api.PhaseRecording
	PhaseFinished            = api.PhaseFinished
	PhaseFailed              = api.PhaseFailed
	PhaseCancelled           = api.PhaseCancelled

	SlotNone        = api.SlotNone
	SlotFirstAnswer = api.SlotFirstAnswer
	SlotNextAnswer  = api.SlotNextAnswer
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine whose event histories live in memory.
// Instances do not survive a process restart.
func NewInMemoryEngine(deps Dependencies, cfg SurveyConfig) (Engine, error) {
	return NewInMemoryEngineWithObserver(deps, cfg, nil)
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(deps Dependencies, cfg SurveyConfig, obs Observer) (Engine, error) {
	return engine.New(engine.Config{
		Store:    persistence.NewInMemoryStore(),
		Deps:     deps,
		Survey:   cfg,
		Observer: obs,
	})
}

// NewSQLiteEngine returns an Engine that persists event histories in a
// SQLite database, so open surveys survive restarts.
func NewSQLiteEngine(db *sql.DB, deps Dependencies, cfg SurveyConfig) (Engine, error) {
	return NewSQLiteEngineWithObserver(db, deps, cfg, nil)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, deps Dependencies, cfg SurveyConfig, obs Observer) (Engine, error) {
	store, err := persistence.NewSQLiteHistoryStore(db)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{
		Store:    store,
		Deps:     deps,
		Survey:   cfg,
		Observer: obs,
	})
}

// NewRedisEngine returns an Engine that persists event histories in Redis.
func NewRedisEngine(client *redis.Client, deps Dependencies, cfg SurveyConfig) (Engine, error) {
	return NewRedisEngineWithObserver(client, deps, cfg, nil)
}

// NewRedisEngineWithObserver returns a Redis-backed Engine with the given Observer.
func NewRedisEngineWithObserver(client *redis.Client, deps Dependencies, cfg SurveyConfig, obs Observer) (Engine, error) {
	return engine.New(engine.Config{
		Store:    persistence.NewRedisHistoryStore(client, ""),
		Deps:     deps,
		Survey:   cfg,
		Observer: obs,
	})
}

// Convenience helpers that just forward to the underlying Engine.

// Start starts (or idempotently re-requests) the survey instance for key.
func Start(ctx context.Context, eng Engine, key string, req StartRequest) (StartOutcome, error) {
	return eng.StartOrGet(ctx, key, req)
}

// Deliver routes a user's answer to the instance's signal inbox.
func Deliver(ctx context.Context, eng Engine, key, text string) (DeliveryOutcome, error) {
	return eng.Deliver(ctx, key, text)
}

// Snapshot reconstructs the instance's current state.
func Snapshot(ctx context.Context, eng Engine, key string) (*InstanceSnapshot, error) {
	return eng.Snapshot(ctx, key)
}

// History reads the instance's event records starting at fromSeq (1-based).
func History(ctx context.Context, eng Engine, key string, fromSeq uint64) ([]EventRecord, error) {
	return eng.History(ctx, key, fromSeq)
}

// Recover delegates to eng.Recover.
//
// It is typically called on process startup before starting any workers:
//
//	count, err := colloquy.Recover(ctx, engine)
func Recover(ctx context.Context, eng Engine) (int, error) {
	return eng.Recover(ctx)
}
