// Package colloquy provides a durable, embeddable conversational survey
// engine for Go.
//
// Colloquy orchestrates long-lived, multi-turn survey conversations: each
// user gets one survey instance that asks questions, waits (possibly for
// days) for free-text answers, and records results through pluggable
// collaborators. Progress is journaled to an append-only event history, so
// an instance interrupted by a crash or deploy resumes mid-conversation
// with no lost or repeated side effects.
//
// # Core Concepts
//
//  1. Engine
//  2. Activities and collaborators
//  3. Event history and replay
//  4. Signals
//  5. Worker and LocalRunner
//
// # Engine
//
// The Engine hosts survey instances, one per instance key. It provides APIs
// to:
//   - start instances idempotently (StartOrGet)
//   - deliver answer signals (Deliver)
//   - cancel instances (Cancel)
//   - read reconstructed state and raw history (Snapshot, History)
//   - resume open instances after a restart (Recover)
//
// Engines can be backed by different history stores:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Redis
//
// # Activities and Collaborators
//
// All external effects run as named activities through four collaborator
// interfaces: Messenger (outbound chat messages), QuestionSource (welcome
// text and generated questions), LanguageDetector, and UserStore (result
// persistence). Every activity call is journaled before and after execution,
// retried per RetryPolicy, and addressed by an idempotency key that stays
// stable across retries and crash re-attempts. UserStore implementations
// deduplicate on that key; see the clients/mongostore package for a
// MongoDB-backed store that does.
//
// # Event History and Replay
//
// An instance's history is an ordered, append-only sequence of records:
// activity attempts and outcomes, consumed signals, and phase transitions.
// The survey decision logic is deterministic, so replaying the history
// reproduces the exact pre-crash state without re-executing any side effect.
// Recovery re-attempts only a call that was scheduled but never concluded,
// and reuses its original idempotency key.
//
// # Signals
//
// Free-text answers arrive as signals routed to per-instance inbox slots.
// A suspended instance consumes a signal and moves on; a duplicate for an
// already-filled slot is dropped without altering state.
//
// # Worker and LocalRunner
//
// The worker package decouples transport ingress from orchestration: start
// and answer requests are enqueued as tasks and applied to the engine by
// background workers. LocalRunner bundles an in-memory engine, queue, and
// worker for development and tests; NewSQLiteBundle wires the durable
// equivalent on a single SQLite database.
//
// For examples, see the /examples directory or the project README.
package colloquy
