// Package mongostore persists survey results to MongoDB.
//
// Every write carries the engine's idempotency key, recorded in an
// applied_ops ledger on the user document. A repeated call with the same key
// matches nothing and becomes a no-op, so activity retries and crash
// re-attempts never double-apply a side effect.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mpetrov/colloquy/pkg/api"
)

// Store implements api.UserStore on a MongoDB collection keyed by chat ID.
type Store struct {
	coll *mongo.Collection
}

var _ api.UserStore = (*Store)(nil)

// New creates a Mongo-backed user store.
// dbName defaults to "colloquy", collName to "users".
func New(client *mongo.Client, dbName, collName string) *Store {
	if dbName == "" {
		dbName = "colloquy"
	}
	if collName == "" {
		collName = "users"
	}
	return &Store{
		coll: client.Database(dbName).Collection(collName),
	}
}

// AnswerRecord is one stored question/answer pair. Op is the idempotency
// key that produced it.
type AnswerRecord struct {
	Question string `bson:"question"`
	Answer   string `bson:"answer"`
	Op       string `bson:"op"`
}

// ensure creates the user document if it does not exist yet. Concurrent
// upserts for the same chat are safe: at most one insert wins.
func (s *Store) ensure(ctx context.Context, chatID int64) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"telegram_id": chatID},
		bson.M{
			"$setOnInsert": bson.M{
				"telegram_id": chatID,
				"answers":     bson.A{},
				"applied_ops": bson.A{},
				"created_at":  time.Now().UTC(),
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("ensure user %d: %w", chatID, err)
	}
	return nil
}

// SaveAnswer appends one question/answer pair. The op ledger filter makes
// the append apply at most once per idempotency key.
func (s *Store) SaveAnswer(ctx context.Context, key api.IdempotencyKey, chatID int64, qa api.Answer) error {
	if err := s.ensure(ctx, chatID); err != nil {
		return err
	}
	op := key.String()
	_, err := s.coll.UpdateOne(ctx,
		bson.M{
			"telegram_id": chatID,
			"applied_ops": bson.M{"$ne": op},
		},
		bson.M{
			"$push":     bson.M{"answers": AnswerRecord{Question: qa.Question, Answer: qa.Text, Op: op}},
			"$addToSet": bson.M{"applied_ops": op},
			"$set":      bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("save answer for %d: %w", chatID, err)
	}
	return nil
}

// SaveEmail stores the user's contact email. $set is naturally idempotent;
// the ledger is still written so the operation is observable as applied.
func (s *Store) SaveEmail(ctx context.Context, key api.IdempotencyKey, chatID int64, email string) error {
	return s.setField(ctx, key, chatID, "email", email)
}

// SetLanguage stores the detected conversation language.
func (s *Store) SetLanguage(ctx context.Context, key api.IdempotencyKey, chatID int64, language string) error {
	return s.setField(ctx, key, chatID, "language", language)
}

// MarkComplete flags the survey as finished for this user.
func (s *Store) MarkComplete(ctx context.Context, key api.IdempotencyKey, chatID int64) error {
	return s.setField(ctx, key, chatID, "survey_completed", true)
}

func (s *Store) setField(ctx context.Context, key api.IdempotencyKey, chatID int64, field string, value any) error {
	if err := s.ensure(ctx, chatID); err != nil {
		return err
	}
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"telegram_id": chatID},
		bson.M{
			"$set":      bson.M{field: value, "updated_at": time.Now().UTC()},
			"$addToSet": bson.M{"applied_ops": key.String()},
		},
	)
	if err != nil {
		return fmt.Errorf("set %s for %d: %w", field, chatID, err)
	}
	return nil
}

// User is the read-side view of one user document.
type User struct {
	TelegramID      int64          `bson:"telegram_id"`
	Language        string         `bson:"language"`
	Email           string         `bson:"email"`
	SurveyCompleted bool           `bson:"survey_completed"`
	Answers         []AnswerRecord `bson:"answers"`
}

// Get fetches the user document for chatID. It returns mongo.ErrNoDocuments
// if the user does not exist.
func (s *Store) Get(ctx context.Context, chatID int64) (*User, error) {
	var u User
	if err := s.coll.FindOne(ctx, bson.M{"telegram_id": chatID}).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}
