package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mpetrov/colloquy/internal/taskqueue"
	"github.com/mpetrov/colloquy/pkg/api"
)

// Config tunes worker behavior.
type Config struct {
	// MaxAttempts bounds how many times a failed task is requeued before it
	// is dropped. Zero means 3.
	MaxAttempts int

	// RequeueDelay is the eligibility delay applied when a task is requeued
	// after an infrastructure failure. Zero means 2s.
	RequeueDelay time.Duration

	// Messenger, when set, is used to send polite notices to the chat when
	// an answer cannot be delivered: the survey is closed, or the instance
	// is unknown.
	Messenger api.Messenger

	// RestartNotice is sent when an answer arrives for an unknown instance.
	RestartNotice string

	// ClosedNotice is sent when an answer arrives for a closed survey.
	ClosedNotice string
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RequeueDelay <= 0 {
		c.RequeueDelay = 2 * time.Second
	}
	if c.RestartNotice == "" {
		c.RestartNotice = "It looks like we have not started yet. Please send /start to begin."
	}
	if c.ClosedNotice == "" {
		c.ClosedNotice = "This survey is already finished. Thank you again for your time!"
	}
	return c
}

// Worker pulls ingress tasks from a Queue and applies them to an Engine.
// Multiple workers may share one queue; the engine serializes per instance.
type Worker struct {
	engine api.Engine
	queue  taskqueue.Queue
	cfg    Config
}

// New creates a new Worker.
func New(engine api.Engine, queue taskqueue.Queue, cfg Config) *Worker {
	return &Worker{
		engine: engine,
		queue:  queue,
		cfg:    cfg.normalized(),
	}
}

// EnqueueStart enqueues a task to start a survey instance asynchronously.
// It does NOT start the instance itself; that is done by ProcessOne.
func (w *Worker) EnqueueStart(ctx context.Context, instanceKey string, req api.StartRequest) error {
	return w.EnqueueStartAt(ctx, instanceKey, req, time.Time{})
}

// EnqueueStartAt enqueues a start task eligible no earlier than 'at'.
func (w *Worker) EnqueueStartAt(ctx context.Context, instanceKey string, req api.StartRequest, at time.Time) error {
	start := req
	return w.queue.Enqueue(ctx, taskqueue.Task{
		ID:          uuid.NewString(),
		Type:        taskqueue.TaskTypeStartSurvey,
		InstanceKey: instanceKey,
		ChatID:      req.ChatID,
		Start:       &start,
		EnqueuedAt:  time.Now(),
		NotBefore:   at,
	})
}

// EnqueueAnswer enqueues a user answer for asynchronous delivery.
func (w *Worker) EnqueueAnswer(ctx context.Context, instanceKey string, chatID int64, text string) error {
	return w.EnqueueAnswerAt(ctx, instanceKey, chatID, text, time.Time{})
}

// EnqueueAnswerAt enqueues an answer task eligible no earlier than 'at'.
func (w *Worker) EnqueueAnswerAt(ctx context.Context, instanceKey string, chatID int64, text string, at time.Time) error {
	return w.queue.Enqueue(ctx, taskqueue.Task{
		ID:          uuid.NewString(),
		Type:        taskqueue.TaskTypeAnswer,
		InstanceKey: instanceKey,
		ChatID:      chatID,
		Text:        text,
		EnqueuedAt:  time.Now(),
		NotBefore:   at,
	})
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false, err != nil: nothing was obtained (usually ctx done)
//   - processed == true: a task was handled; err reports a handling failure
//     that was not recoverable by requeueing.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	switch task.Type {
	case taskqueue.TaskTypeStartSurvey:
		if task.Start == nil {
			return true, errors.New("start-survey task has no start payload")
		}
		_, err := w.engine.StartOrGet(ctx, task.InstanceKey, *task.Start)
		if err != nil {
			return true, w.requeue(ctx, *task, err)
		}
		return true, nil

	case taskqueue.TaskTypeAnswer:
		outcome, err := w.engine.Deliver(ctx, task.InstanceKey, task.Text)
		if err != nil {
			return true, w.requeue(ctx, *task, err)
		}
		switch outcome {
		case api.DeliveryNoSuchInstance:
			w.notify(ctx, task.ChatID, w.cfg.RestartNotice)
		case api.DeliveryAlreadyClosed:
			w.notify(ctx, task.ChatID, w.cfg.ClosedNotice)
		}
		return true, nil

	default:
		return true, errors.New("unknown task type: " + string(task.Type))
	}
}

// Run processes tasks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if _, err := w.ProcessOne(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Task-level failures were already requeued or dropped; keep going.
			continue
		}
	}
}

// requeue puts a failed task back with a delay, up to the attempt bound.
func (w *Worker) requeue(ctx context.Context, task taskqueue.Task, cause error) error {
	task.Attempts++
	if task.Attempts >= w.cfg.MaxAttempts {
		return fmt.Errorf("task %s dropped after %d attempts: %w", task.ID, task.Attempts, cause)
	}
	task.NotBefore = time.Now().Add(w.cfg.RequeueDelay)
	if err := w.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("requeue task %s: %w", task.ID, err)
	}
	return nil
}

func (w *Worker) notify(ctx context.Context, chatID int64, text string) {
	if w.cfg.Messenger == nil || chatID == 0 {
		return
	}
	// Best effort: the notice is a courtesy, not part of any instance state.
	_ = w.cfg.Messenger.Send(ctx, chatID, text)
}
