package colloquy

import (
	"database/sql"

	"github.com/mpetrov/colloquy/internal/taskqueue"
	workerpkg "github.com/mpetrov/colloquy/pkg/worker"
)

// WorkerBundle wires together an Engine, a durable task queue, and a Worker
// that consumes tasks from that queue.
type WorkerBundle struct {
	Engine Engine
	Worker *workerpkg.Worker

	// queue is kept unexported; it is primarily useful for internal
	// inspection and tests. The public API focuses on Engine and Worker.
	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable Engine + Queue + Worker combo sharing
// the same SQLite database. Event histories and queued tasks are persisted
// in the provided *sql.DB, so both open surveys and undelivered answers
// survive a restart.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:colloquy.db?_journal=WAL")
//	bundle, err := colloquy.NewSQLiteBundle(db, deps, colloquy.DefaultSurveyConfig(), workerpkg.Config{})
//	// colloquy.Recover(ctx, bundle.Engine) on startup
//	// enqueue work via bundle.Worker
func NewSQLiteBundle(db *sql.DB, deps Dependencies, cfg SurveyConfig, wcfg workerpkg.Config) (*WorkerBundle, error) {
	eng, err := NewSQLiteEngine(db, deps, cfg)
	if err != nil {
		return nil, err
	}

	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}

	if wcfg.Messenger == nil {
		wcfg.Messenger = deps.Messenger
	}
	w := workerpkg.New(eng, q, wcfg)

	return &WorkerBundle{
		Engine: eng,
		Worker: w,
		queue:  q,
	}, nil
}
