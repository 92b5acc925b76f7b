// Package worker provides the background worker that feeds survey engines
// from a task queue.
//
// Workers decouple transport ingress from orchestration: an HTTP handler or
// bot webhook enqueues a start or answer task and returns immediately, and a
// worker later applies it to the engine. Multiple workers can safely share
// one queue; the engine serializes all work per instance key.
//
// # Worker Responsibilities
//
// A worker is responsible for:
//
//   - Polling a task queue for pending start and answer tasks
//   - Applying tasks to the engine (StartOrGet, Deliver)
//   - Requeueing tasks that hit infrastructure failures, with a delay and
//     a bounded attempt count
//   - Sending polite notices to the chat when an answer targets an unknown
//     or already-closed survey
//
// # Integration with Engine and Queues
//
// Workers are decoupled from any particular queue backend. In-memory,
// SQLite, and MongoDB queues can be plugged in through the shared queue
// interface; the colloquy package exposes convenience constructors that
// wire an engine, a queue, and workers together.
package worker
