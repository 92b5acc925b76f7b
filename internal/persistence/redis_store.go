package persistence

import (
	"bytes"
	"context"
	"encoding/gob"

	"github.com/redis/go-redis/v9"

	"github.com/mpetrov/colloquy/pkg/api"
)

// RedisHistoryStore is a HistoryStore backed by Redis. It uses a simple key
// structure:
//
//	<prefix>hist:<instance_key>  => LIST of gob-encoded records
//	<prefix>keys                 => SET of all instance keys
//
// Appends go through a small Lua script that checks the list length against
// the expected sequence number, so the sequence-conflict guarantee holds
// even with concurrent writers.
type RedisHistoryStore struct {
	client *redis.Client
	prefix string
}

var _ HistoryStore = (*RedisHistoryStore)(nil)

// appendScript pushes the record only when its sequence number is exactly
// one past the current list length.
var appendScript = redis.NewScript(`
	if redis.call('LLEN', KEYS[1]) + 1 == tonumber(ARGV[1]) then
		redis.call('RPUSH', KEYS[1], ARGV[2])
		redis.call('SADD', KEYS[2], ARGV[3])
		return 1
	end
	return 0
`)

// NewRedisHistoryStore creates a RedisHistoryStore.
// prefix is optional but recommended (e.g. "colloquy:").
func NewRedisHistoryStore(client *redis.Client, prefix string) *RedisHistoryStore {
	if prefix == "" {
		prefix = "colloquy:"
	}
	return &RedisHistoryStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisHistoryStore) keyHistory(instanceKey string) string {
	return s.prefix + "hist:" + instanceKey
}

func (s *RedisHistoryStore) keyAll() string {
	return s.prefix + "keys"
}

func (s *RedisHistoryStore) Append(ctx context.Context, instanceKey string, rec api.EventRecord) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return err
	}

	ok, err := appendScript.Run(ctx, s.client,
		[]string{s.keyHistory(instanceKey), s.keyAll()},
		rec.Seq, buf.Bytes(), instanceKey,
	).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return ErrSequenceConflict
	}
	return nil
}

func (s *RedisHistoryStore) Read(ctx context.Context, instanceKey string, fromSeq uint64) ([]api.EventRecord, error) {
	start := int64(0)
	if fromSeq > 1 {
		start = int64(fromSeq) - 1
	}
	raw, err := s.client.LRange(ctx, s.keyHistory(instanceKey), start, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]api.EventRecord, 0, len(raw))
	for _, item := range raw {
		var rec api.EventRecord
		if err := gob.NewDecoder(bytes.NewReader([]byte(item))).Decode(&rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisHistoryStore) Keys(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, s.keyAll()).Result()
}
