package store

import (
	"context"
	stderrors "errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/matzehuels/fuseg/pkg/errors"
)

// MongoConfig configures a [MongoStore].
type MongoConfig struct {
	URI        string
	Database   string // defaults to "fuseg"
	Collection string // defaults to "segmentations"
}

// MongoStore keeps records in a MongoDB collection. Expired records are
// removed by a TTL index on expires_at.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore connects to MongoDB, verifies the connection and ensures
// the collection's indexes exist.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "mongo uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = "fuseg"
	}
	if cfg.Collection == "" {
		cfg.Collection = "segmentations"
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "connect to mongo")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "ping mongo")
	}

	s := &MongoStore{client: client, coll: client.Database(cfg.Database).Collection(cfg.Collection)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "graph_hash", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "create indexes")
	}
	return nil
}

func (s *MongoStore) Put(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "record without id")
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": rec.ID}, rec, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "store record %s", rec.ID)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*Record, error) {
	return s.findOne(ctx, bson.M{"_id": id}, options.FindOne(), "record %q", id)
}

func (s *MongoStore) Latest(ctx context.Context, graphHash string) (*Record, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	filter := bson.M{
		"graph_hash": graphHash,
		"$or": bson.A{
			bson.M{"expires_at": bson.M{"$exists": false}},
			bson.M{"expires_at": bson.M{"$gt": time.Now().UTC()}},
		},
	}
	return s.findOne(ctx, filter, opts, "no segmentation for graph %s", graphHash)
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M, opts *options.FindOneOptions, notFound string, args ...any) (*Record, error) {
	var rec Record
	err := s.coll.FindOne(ctx, filter, opts).Decode(&rec)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.New(errors.ErrCodeNotFound, notFound, args...)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "find record")
	}
	// The TTL monitor runs about once a minute.
	if rec.IsExpired() {
		return nil, errors.New(errors.ErrCodeNotFound, notFound, args...)
	}
	return &rec, nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "delete record %s", id)
	}
	return nil
}

func (s *MongoStore) Cleanup(ctx context.Context) error {
	_, err := s.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": time.Now().UTC()}})
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "delete expired records")
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

var _ Store = (*MongoStore)(nil)
