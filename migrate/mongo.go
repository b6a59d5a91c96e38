package migrate

import (
	"context"
	"slices"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mongomigrate/mongomigrate/config"
	"github.com/mongomigrate/mongomigrate/errors"
	"github.com/mongomigrate/mongomigrate/log"
	"github.com/mongomigrate/mongomigrate/topo"
)

// MongoOpener returns an [OpenFunc] connecting with the client settings of cfg.
func MongoOpener(cfg *config.Config) OpenFunc {
	return func(ctx context.Context, ep topo.Endpoint) (Conn, error) {
		client, err := topo.Connect(ctx, ep, cfg)
		if err != nil {
			return nil, err
		}

		log.Ctx(ctx).Infof("Connected to %s", ep)

		return &mongoConn{
			client: client,
			db:     &mongoDatabase{db: client.Database(ep.Database)},
		}, nil
	}
}

type mongoConn struct {
	client *mongo.Client
	db     *mongoDatabase

	once sync.Once
	err  error
}

func (c *mongoConn) Database() Database {
	return c.db
}

func (c *mongoConn) Close(ctx context.Context) error {
	c.once.Do(func() {
		c.err = c.client.Disconnect(ctx)
	})

	return c.err
}

type mongoDatabase struct {
	db *mongo.Database
}

func (d *mongoDatabase) Name() string {
	return d.db.Name()
}

func (d *mongoDatabase) ListCollectionNames(ctx context.Context) ([]string, error) {
	return topo.ListCollectionNames(ctx, d.db)
}

func (d *mongoDatabase) HasCollection(ctx context.Context, name string) (bool, error) {
	return topo.CollectionExists(ctx, d.db, name)
}

func (d *mongoDatabase) Collection(name string) Collection {
	return &mongoCollection{db: d.db, coll: d.db.Collection(name)}
}

type mongoCollection struct {
	db   *mongo.Database
	coll *mongo.Collection
}

func (c *mongoCollection) CountDocuments(ctx context.Context) (int64, error) {
	n, err := c.coll.CountDocuments(ctx, bson.D{})

	return n, errors.Wrap(err, "count documents")
}

func (c *mongoCollection) FindAll(ctx context.Context) ([]bson.Raw, error) {
	cur, err := c.coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, errors.Wrap(err, "find")
	}
	defer cur.Close(ctx)

	var docs []bson.Raw
	for cur.Next(ctx) {
		docs = append(docs, slices.Clone(cur.Current))
	}

	return docs, errors.Wrap(cur.Err(), "cursor")
}

func (c *mongoCollection) FindIDs(ctx context.Context) ([]bson.RawValue, error) {
	cur, err := c.coll.Find(ctx, bson.D{}, options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "find")
	}
	defer cur.Close(ctx)

	var ids []bson.RawValue
	for cur.Next(ctx) {
		id := cur.Current.Lookup("_id")
		ids = append(ids, bson.RawValue{Type: id.Type, Value: slices.Clone(id.Value)})
	}

	return ids, errors.Wrap(cur.Err(), "cursor")
}

func (c *mongoCollection) InsertMany(ctx context.Context, docs []bson.Raw) (int, error) {
	res, err := c.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))

	n := 0
	if res != nil {
		n = len(res.InsertedIDs)
	}

	return n, errors.Wrap(err, "insert many")
}

func (c *mongoCollection) InsertOne(ctx context.Context, doc bson.D) (any, error) {
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, errors.Wrap(err, "insert one")
	}

	return res.InsertedID, nil
}

func (c *mongoCollection) FindByID(ctx context.Context, id any) (bool, error) {
	err := c.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}

	if err != nil {
		return false, errors.Wrap(err, "find one")
	}

	return true, nil
}

func (c *mongoCollection) UpdateByID(ctx context.Context, id any, update bson.D) (int64, error) {
	res, err := c.coll.UpdateByID(ctx, id, update)
	if err != nil {
		return 0, errors.Wrap(err, "update one")
	}

	return res.ModifiedCount, nil
}

func (c *mongoCollection) DeleteByID(ctx context.Context, id any) (int64, error) {
	res, err := c.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return 0, errors.Wrap(err, "delete one")
	}

	return res.DeletedCount, nil
}

func (c *mongoCollection) Drop(ctx context.Context) error {
	return topo.DropCollection(ctx, c.db, c.coll.Name())
}
