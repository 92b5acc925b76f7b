package colloquy

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/mpetrov/colloquy/internal/taskqueue"
	"github.com/mpetrov/colloquy/pkg/worker"
)

// LocalRunner bundles an in-memory Engine, an in-memory task queue, and a
// Worker to provide a simple "local runner" for development and debugging.
//
// Typical usage:
//
//	runner, _ := colloquy.NewLocalRunner(deps, colloquy.DefaultSurveyConfig())
//	_ = runner.StartWorkers(ctx, 2)
//	_ = runner.StartSurveyAsync(ctx, "user-42", colloquy.StartRequest{ChatID: 42})
//	...
//	runner.Stop()
type LocalRunner struct {
	// Engine is the in-memory survey engine used by this runner.
	Engine Engine

	// Queue is the in-memory task queue used by the Worker.
	Queue taskqueue.Queue

	// Worker processes tasks from Queue using Engine.
	Worker *worker.Worker

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a LocalRunner backed by an in-memory engine,
// in-memory queue, and a Worker with default config.
//
// This is intended for local development, tests, and simple single-process
// deployments.
func NewLocalRunner(deps Dependencies, cfg SurveyConfig) (*LocalRunner, error) {
	return NewLocalRunnerWithObserver(deps, cfg, nil)
}

// NewLocalRunnerWithObserver is NewLocalRunner with an Observer attached to
// the engine.
func NewLocalRunnerWithObserver(deps Dependencies, cfg SurveyConfig, obs Observer) (*LocalRunner, error) {
	eng, err := NewInMemoryEngineWithObserver(deps, cfg, obs)
	if err != nil {
		return nil, err
	}
	q := taskqueue.NewInMemoryQueue(1024)
	w := worker.New(eng, q, worker.Config{Messenger: deps.Messenger})

	return &LocalRunner{
		Engine: eng,
		Queue:  q,
		Worker: w,
	}, nil
}

// StartWorkers starts 'concurrency' worker goroutines that continuously call
// Worker.ProcessOne(ctx) until the context is cancelled via Stop.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("colloquy: LocalRunner already started")
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer r.wg.Done()

			for {
				processed, err := r.Worker.ProcessOne(ctx)
				if err != nil {
					// For local runner we treat cancellation as a clean shutdown signal.
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return
					}
					// For other errors, log and keep going so a single bad task
					// doesn't kill the worker loop.
					log.Printf("colloquy: local runner worker error: %v", err)
					continue
				}
				if !processed {
					continue
				}
			}
		}()
	}

	return nil
}

// Stop cancels all worker goroutines started by StartWorkers and waits
// for them to exit. The engine itself keeps running; use Engine.Stop to
// park survey instances.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// StartSurveyAsync enqueues a task to start the survey instance for key.
func (r *LocalRunner) StartSurveyAsync(ctx context.Context, key string, req StartRequest) error {
	return r.Worker.EnqueueStart(ctx, key, req)
}

// DeliverAsync enqueues a user's answer for asynchronous delivery to the
// instance's signal inbox.
func (r *LocalRunner) DeliverAsync(ctx context.Context, key string, chatID int64, text string) error {
	return r.Worker.EnqueueAnswer(ctx, key, chatID, text)
}
