package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/mpetrov/colloquy/pkg/api"
)

// SQLiteHistoryStore is a HistoryStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteHistoryStore struct {
	db *sql.DB
}

var _ HistoryStore = (*SQLiteHistoryStore)(nil)

// NewSQLiteHistoryStore initializes the required schema in the given
// database and returns a new SQLiteHistoryStore.
func NewSQLiteHistoryStore(db *sql.DB) (*SQLiteHistoryStore, error) {
	s := &SQLiteHistoryStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteHistoryStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS survey_events (
			instance_key TEXT NOT NULL,
			seq INTEGER NOT NULL,
			at INTEGER NOT NULL,
			kind TEXT NOT NULL,
			activity TEXT NOT NULL DEFAULT '',
			attempt INTEGER NOT NULL DEFAULT 0,
			call_seq INTEGER NOT NULL DEFAULT 0,
			retryable INTEGER NOT NULL DEFAULT 0,
			slot TEXT NOT NULL DEFAULT '',
			payload BLOB,
			detail TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (instance_key, seq)
		);
	`)
	return err
}

func (s *SQLiteHistoryStore) Append(ctx context.Context, instanceKey string, rec api.EventRecord) error {
	payload, err := encodeValue(rec.Payload)
	if err != nil {
		return err
	}

	retryable := 0
	if rec.Retryable {
		retryable = 1
	}

	// The primary key makes a sequence collision a no-op insert; zero rows
	// affected means another writer owns that slot.
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO survey_events
			(instance_key, seq, at, kind, activity, attempt, call_seq, retryable, slot, payload, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		instanceKey,
		rec.Seq,
		rec.At.UnixNano(),
		string(rec.Kind),
		rec.Activity,
		rec.Attempt,
		rec.CallSeq,
		retryable,
		string(rec.Slot),
		payload,
		rec.Detail,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSequenceConflict
	}
	return nil
}

func (s *SQLiteHistoryStore) Read(ctx context.Context, instanceKey string, fromSeq uint64) ([]api.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, at, kind, activity, attempt, call_seq, retryable, slot, payload, detail
		FROM survey_events
		WHERE instance_key = ? AND seq >= ?
		ORDER BY seq ASC`, instanceKey, fromSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.EventRecord
	for rows.Next() {
		var (
			rec       api.EventRecord
			atN       int64
			kind      string
			retryable int
			slot      string
			payload   []byte
		)
		if err := rows.Scan(&rec.Seq, &atN, &kind, &rec.Activity, &rec.Attempt, &rec.CallSeq, &retryable, &slot, &payload, &rec.Detail); err != nil {
			return nil, err
		}
		rec.At = time.Unix(0, atN)
		rec.Kind = api.EventKind(kind)
		rec.Retryable = retryable != 0
		rec.Slot = api.Slot(slot)

		val, err := decodeValue(payload)
		if err != nil {
			return nil, err
		}
		rec.Payload = val

		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteHistoryStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT instance_key FROM survey_events ORDER BY instance_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
