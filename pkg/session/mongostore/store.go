// Package mongostore keeps session records in a MongoDB collection, one
// document per session keyed by its id.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/modserve/pkg/session"
)

// Config is the environment configuration of the store.
type Config struct {
	Database   string        `env:"SESSION_MONGO_DATABASE" envDefault:"modserve"`
	Collection string        `env:"SESSION_MONGO_COLLECTION" envDefault:"sessions"`
	Grace      time.Duration `env:"SESSION_GRACE_PERIOD" envDefault:"4m"`
}

type document struct {
	ID        string `bson:"_id"`
	Data      string `bson:"data"`
	Created   int64  `bson:"created_at"`
	Accessed  int64  `bson:"accessed_at"`
	Timeout   int    `bson:"timeout"`
	ExpiresAt int64  `bson:"expires_at"`
}

type Store struct {
	coll  *mongo.Collection
	grace time.Duration
	now   func() time.Time
}

type Option func(*Store)

func WithGrace(d time.Duration) Option {
	return func(s *Store) { s.grace = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New uses coll and makes sure the expiry index exists.
func New(ctx context.Context, coll *mongo.Collection, opts ...Option) (*Store, error) {
	s := &Store{coll: coll, grace: 4 * time.Minute, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetName("expires_at_idx"),
	})
	if err != nil {
		return nil, errors.Join(session.ErrBackendIO, err)
	}
	return s, nil
}

func NewFromConfig(ctx context.Context, client *mongo.Client, cfg Config, opts ...Option) (*Store, error) {
	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	return New(ctx, coll, append([]Option{WithGrace(cfg.Grace)}, opts...)...)
}

func (s *Store) Load(ctx context.Context, id string) (*session.Record, error) {
	var doc document
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, session.ErrSessionNotFound
		}
		return nil, errors.Join(session.ErrBackendIO, err)
	}
	rec, err := session.DecodeRecord([]byte(doc.Data))
	if err != nil {
		return nil, err
	}
	rec.Created = time.UnixMilli(doc.Created)
	rec.Accessed = time.UnixMilli(doc.Accessed)
	rec.Timeout = doc.Timeout
	return rec, nil
}

func (s *Store) Save(ctx context.Context, id string, rec *session.Record) error {
	raw, err := session.EncodeRecord(rec)
	if err != nil {
		return err
	}
	doc := document{
		ID:        id,
		Data:      string(raw),
		Created:   rec.Created.UnixMilli(),
		Accessed:  rec.Accessed.UnixMilli(),
		Timeout:   rec.Timeout,
		ExpiresAt: rec.Accessed.Add(rec.TimeoutDuration()).UnixMilli(),
	}
	_, err = s.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: id}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Join(session.ErrBackendIO, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return errors.Join(session.ErrBackendIO, err)
	}
	return nil
}

func (s *Store) Cleanup(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.grace).UnixMilli()
	res, err := s.coll.DeleteMany(ctx, bson.D{{Key: "expires_at", Value: bson.D{{Key: "$lt", Value: cutoff}}}})
	if err != nil {
		return 0, errors.Join(session.ErrBackendIO, err)
	}
	return int(res.DeletedCount), nil
}
