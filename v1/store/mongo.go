package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
)

const (
	// DefaultMongoCollection is the collection used by presets and the CLI.
	DefaultMongoCollection = "locks"
	defaultMongoOpTimeout  = 5 * time.Second
)

type mongoLock struct {
	ID        string    `bson:"_id"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at,omitempty"`
}

func (d mongoLock) record() Record {
	return Record{Name: d.ID, ExpiresAt: d.ExpiresAt, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}
}

// MongoStore implements Store with a MongoDB collection. Passive expiry is
// delegated to the TTL index created by EnsureIndexes.
type MongoStore struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// MongoOption configures a MongoStore.
type MongoOption func(*MongoStore)

// WithMongoTimeout sets the operation timeout for MongoDB calls.
func WithMongoTimeout(d time.Duration) MongoOption {
	return func(s *MongoStore) {
		s.timeout = d
	}
}

// NewMongoStore returns a MongoStore on coll.
func NewMongoStore(coll *mongo.Collection, opts ...MongoOption) *MongoStore {
	s := &MongoStore{coll: coll, timeout: defaultMongoOpTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureIndexes creates the lookup index on (_id, expires_at) and the TTL
// index that lets the server collect expired records.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.coll.Indexes().CreateMany(cctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "_id", Value: 1}, {Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("lock_index"),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("expiration_index").SetExpireAfterSeconds(0),
		},
	})
	return s.mapErr(err)
}

// TryLock implements Store.TryLock.
func (s *MongoStore) TryLock(ctx context.Context, name string, expiresAt, now time.Time) (Record, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return Record{}, false, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	filter := bson.M{"_id": name, "expires_at": bson.M{"$lt": now}}
	update := bson.M{
		"$set":         bson.M{"expires_at": expiresAt, "updated_at": now},
		"$setOnInsert": bson.M{"created_at": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc mongoLock
	err := s.coll.FindOneAndUpdate(cctx, filter, update, opts).Decode(&doc)
	switch {
	case err == nil:
		return doc.record(), true, nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return Record{}, false, nil
	case mongo.IsDuplicateKeyError(err):
		// the filter missed, so the upsert inserted into an existing _id
		return s.classifyDuplicate(cctx, name, now)
	default:
		return Record{}, false, s.mapErr(err)
	}
}

// Relock implements Store.Relock.
func (s *MongoStore) Relock(ctx context.Context, name string, expected, expiresAt, now time.Time) (Record, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return Record{}, false, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	filter := bson.M{"_id": name, "expires_at": expected}
	update := bson.M{"$set": bson.M{"expires_at": expiresAt, "updated_at": now}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc mongoLock
	err := s.coll.FindOneAndUpdate(cctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, s.mapErr(err)
	}
	return doc.record(), true, nil
}

// Delete implements Store.Delete.
func (s *MongoStore) Delete(ctx context.Context, name string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.coll.DeleteOne(cctx, bson.M{"_id": name})
	return s.mapErr(err)
}

// Get implements Getter.Get.
func (s *MongoStore) Get(ctx context.Context, name string) (Record, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return Record{}, false, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var doc mongoLock
	err := s.coll.FindOne(cctx, bson.M{"_id": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, s.mapErr(err)
	}
	return doc.record(), true, nil
}

// classifyDuplicate reads the colliding record back. A record live at now is
// plain contention; anything else means a concurrent insert or a collection
// by the TTL monitor raced the upsert.
func (s *MongoStore) classifyDuplicate(ctx context.Context, name string, now time.Time) (Record, bool, error) {
	var doc mongoLock
	err := s.coll.FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Record{}, false, ErrDuplicate
	}
	if err != nil {
		return Record{}, false, s.mapErr(err)
	}
	if !doc.record().Expired(now) {
		return Record{}, false, nil
	}
	return Record{}, false, ErrDuplicate
}

func (s *MongoStore) mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrClientDisconnected) {
		return leaseerrors.ErrConnectionClosed
	}
	return mapDeadline(err)
}
