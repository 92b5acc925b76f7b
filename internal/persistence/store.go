package persistence

import (
	"context"
	"errors"

	"github.com/mpetrov/colloquy/pkg/api"
)

// ErrSequenceConflict is returned when an appended record's sequence number
// collides with an existing record. It enforces single-writer-per-instance:
// two writers racing on the same key cannot both win the same slot.
var ErrSequenceConflict = errors.New("history sequence conflict")

// HistoryStore is the append-only, per-instance durable event log. It is
// the source of truth for crash recovery: replaying a key's records in
// order reconstructs the instance.
type HistoryStore interface {
	// Append stores rec under its key. rec.Seq is assigned by the caller
	// and must be exactly one past the last stored record (first record is
	// sequence 1); otherwise Append fails with ErrSequenceConflict.
	Append(ctx context.Context, instanceKey string, rec api.EventRecord) error

	// Read returns the key's records with Seq >= fromSeq in order. A key
	// with no history yields an empty slice, not an error.
	Read(ctx context.Context, instanceKey string, fromSeq uint64) ([]api.EventRecord, error)

	// Keys lists every instance key with at least one record. Used by the
	// engine's startup recovery scan.
	Keys(ctx context.Context) ([]string, error)
}
