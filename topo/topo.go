package topo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mongomigrate/mongomigrate/config"
	"github.com/mongomigrate/mongomigrate/errors"
	"github.com/mongomigrate/mongomigrate/log"
)

const (
	DefaultRetryInterval = 200 * time.Millisecond
	DefaultMaxRetries    = 5
)

// Connect opens a client for ep and pings its database before returning.
// A failed ping disconnects the client.
func Connect(ctx context.Context, ep Endpoint, cfg *config.Config) (*mongo.Client, error) {
	if !ep.IsValid() {
		return nil, errors.Validation("uri", "endpoint is not resolved")
	}

	opts := options.Client().
		ApplyURI(ep.URI).
		SetAppName("mongomigrate").
		SetServerSelectionTimeout(cfg.MongoDB.ServerSelectionTimeoutOrDefault()).
		SetConnectTimeout(cfg.MongoDB.ConnectTimeoutOrDefault()).
		SetTimeout(cfg.MongoDB.OperationTimeoutOrDefault())

	if len(cfg.MongoDB.Compressors) != 0 {
		opts.SetCompressors(cfg.MongoDB.Compressors)
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}

	err = Ping(ctx, client.Database(ep.Database))
	if err != nil {
		derr := client.Disconnect(context.WithoutCancel(ctx))
		if derr != nil {
			log.Ctx(ctx).Warn("Disconnect after failed ping: " + derr.Error())
		}

		return nil, errors.Wrap(err, "ping")
	}

	return client, nil
}

// Ping runs the ping command against db.
func Ping(ctx context.Context, db *mongo.Database) error {
	return db.RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err() //nolint:wrapcheck
}

// ListCollectionNames returns the names of regular collections in db in catalog order.
// Views, timeseries buckets and system collections are not listed.
func ListCollectionNames(ctx context.Context, db *mongo.Database) ([]string, error) {
	filter := bson.D{
		{Key: "type", Value: TypeCollection},
		{Key: "name", Value: bson.D{{Key: "$not", Value: bson.Regex{Pattern: `^system\.`}}}},
	}

	var names []string

	err := RunWithRetry(ctx, func(ctx context.Context) error {
		var err error
		names, err = db.ListCollectionNames(ctx, filter)

		return err //nolint:wrapcheck
	}, DefaultRetryInterval, DefaultMaxRetries)
	if err != nil {
		return nil, errors.Wrap(err, "list collections")
	}

	return names, nil
}

// CollectionExists reports whether db has a collection named coll.
func CollectionExists(ctx context.Context, db *mongo.Database, coll string) (bool, error) {
	names, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: coll}})
	if err != nil {
		return false, errors.Wrap(err, "list collections")
	}

	return len(names) != 0, nil
}

// DropCollection drops coll, retrying transient failures.
func DropCollection(ctx context.Context, db *mongo.Database, coll string) error {
	err := RunWithRetry(ctx, func(ctx context.Context) error {
		return db.Collection(coll).Drop(ctx) //nolint:wrapcheck
	}, DefaultRetryInterval, DefaultMaxRetries)
	if err != nil {
		return errors.Wrapf(err, "drop collection %s.%s", db.Name(), coll)
	}

	log.Ctx(ctx).Debugf("Dropped collection %s.%s", db.Name(), coll)

	return nil
}
