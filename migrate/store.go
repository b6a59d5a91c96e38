package migrate

import (
	"context"
	"math"
	"strconv"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mongomigrate/mongomigrate/topo"
)

// Database is the view of a connected database used by the migrator and the tester.
type Database interface {
	Name() string
	// ListCollectionNames returns the collection names in catalog order.
	ListCollectionNames(ctx context.Context) ([]string, error)
	HasCollection(ctx context.Context, name string) (bool, error)
	Collection(name string) Collection
}

// Collection is the set of collection operations used by the migrator and the tester.
type Collection interface {
	CountDocuments(ctx context.Context) (int64, error)
	// FindAll returns every document of the collection.
	FindAll(ctx context.Context) ([]bson.Raw, error)
	// FindIDs returns the _id of every document of the collection.
	FindIDs(ctx context.Context) ([]bson.RawValue, error)
	// InsertMany inserts docs in order and returns the number of inserted documents.
	InsertMany(ctx context.Context, docs []bson.Raw) (int, error)
	// InsertOne inserts doc and returns its _id.
	InsertOne(ctx context.Context, doc bson.D) (any, error)
	FindByID(ctx context.Context, id any) (bool, error)
	// UpdateByID applies update and returns the number of modified documents.
	UpdateByID(ctx context.Context, id any, update bson.D) (int64, error)
	// DeleteByID returns the number of deleted documents.
	DeleteByID(ctx context.Context, id any) (int64, error)
	Drop(ctx context.Context) error
}

// Conn is an open connection to one database. Close is idempotent.
type Conn interface {
	Database() Database
	Close(ctx context.Context) error
}

// OpenFunc opens a connection to ep. It returns only after the server answered a ping.
type OpenFunc func(ctx context.Context, ep topo.Endpoint) (Conn, error)

// IDKey returns the canonical string form of a document _id.
// Numeric ids that MongoDB considers equal (int32 1, int64 1, double 1.0) share a key.
func IDKey(id bson.RawValue) string {
	switch id.Type {
	case bson.TypeInt32:
		return "n:" + strconv.FormatInt(int64(id.Int32()), 10)
	case bson.TypeInt64:
		return "n:" + strconv.FormatInt(id.Int64(), 10)
	case bson.TypeDouble:
		f := id.Double()
		if f == math.Trunc(f) && math.Abs(f) < math.MaxInt64 {
			return "n:" + strconv.FormatInt(int64(f), 10)
		}

		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	}

	return id.String()
}
