package taskqueue

import (
	"context"
	"time"

	"github.com/mpetrov/colloquy/pkg/api"
)

// TaskType identifies what the worker should do with a task.
type TaskType string

const (
	TaskTypeStartSurvey TaskType = "start-survey"
	TaskTypeAnswer      TaskType = "answer"
)

// Task is one unit of ingress work: start a survey instance, or deliver a
// user's answer to it.
type Task struct {
	ID   string
	Type TaskType

	// InstanceKey addresses the survey instance.
	InstanceKey string

	// ChatID is the user's chat, used for polite notices when an answer
	// cannot be delivered.
	ChatID int64

	// Start is set on start-survey tasks.
	Start *api.StartRequest

	// Text is the answer text on answer tasks.
	Text string

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task is eligible for processing.
	// Zero means immediately.
	NotBefore time.Time

	// Attempts counts how many times a worker has picked this task up.
	Attempts int
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next eligible task, blocking until one
	// is available or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}
