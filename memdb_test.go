package main //nolint:testpackage

import (
	"context"
	"slices"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mongomigrate/mongomigrate/errors"
	"github.com/mongomigrate/mongomigrate/migrate"
	"github.com/mongomigrate/mongomigrate/topo"
)

// memServer is an in-memory deployment. Like the driver, every operation fails
// once its context is done.
type memServer struct {
	mu  sync.Mutex
	dbs map[string]*memDB
}

func newMemServer() *memServer {
	return &memServer{dbs: make(map[string]*memDB)}
}

func (s *memServer) db(name string) *memDB {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok := s.dbs[name]
	if !ok {
		db = &memDB{name: name, colls: make(map[string][]bson.Raw)}
		s.dbs[name] = db
	}

	return db
}

func (s *memServer) open(ctx context.Context, ep topo.Endpoint) (migrate.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck
	}

	return memConn{db: s.db(ep.Database)}, nil
}

type memConn struct {
	db *memDB
}

func (c memConn) Database() migrate.Database  { return c.db }
func (c memConn) Close(context.Context) error { return nil }

type memDB struct {
	name string

	mu    sync.Mutex
	colls map[string][]bson.Raw

	// hold blocks InsertMany into holdColl until it is closed
	hold     chan struct{}
	holdColl string
}

func (db *memDB) put(coll string, docs ...bson.D) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, doc := range docs {
		raw, err := bson.Marshal(doc)
		if err != nil {
			panic(err)
		}

		db.colls[coll] = append(db.colls[coll], raw)
	}
}

func (db *memDB) count(coll string) int {
	db.mu.Lock()
	defer db.mu.Unlock()

	return len(db.colls[coll])
}

func (db *memDB) Name() string { return db.name }

func (db *memDB) ListCollectionNames(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	names := make([]string, 0, len(db.colls))
	for name := range db.colls {
		names = append(names, name)
	}

	slices.Sort(names)

	return names, nil
}

func (db *memDB) HasCollection(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err //nolint:wrapcheck
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	_, ok := db.colls[name]

	return ok, nil
}

func (db *memDB) Collection(name string) migrate.Collection {
	return &memColl{db: db, name: name}
}

type memColl struct {
	db   *memDB
	name string
}

func (c *memColl) CountDocuments(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err //nolint:wrapcheck
	}

	return int64(c.db.count(c.name)), nil
}

func (c *memColl) FindAll(ctx context.Context) ([]bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck
	}

	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	return slices.Clone(c.db.colls[c.name]), nil
}

func (c *memColl) FindIDs(ctx context.Context) ([]bson.RawValue, error) {
	docs, err := c.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]bson.RawValue, len(docs))
	for i, doc := range docs {
		ids[i] = doc.Lookup("_id")
	}

	return ids, nil
}

func (c *memColl) InsertMany(ctx context.Context, docs []bson.Raw) (int, error) {
	if c.db.hold != nil && c.name == c.db.holdColl {
		<-c.db.hold
	}

	if err := ctx.Err(); err != nil {
		return 0, err //nolint:wrapcheck
	}

	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	c.db.colls[c.name] = append(c.db.colls[c.name], docs...)

	return len(docs), nil
}

func (c *memColl) Drop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}

	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	delete(c.db.colls, c.name)

	return nil
}

func (c *memColl) InsertOne(context.Context, bson.D) (any, error) {
	return nil, errors.ErrUnsupported
}

func (c *memColl) FindByID(context.Context, any) (bool, error) {
	return false, errors.ErrUnsupported
}

func (c *memColl) UpdateByID(context.Context, any, bson.D) (int64, error) {
	return 0, errors.ErrUnsupported
}

func (c *memColl) DeleteByID(context.Context, any) (int64, error) {
	return 0, errors.ErrUnsupported
}
