package migrate //nolint:testpackage

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mongomigrate/mongomigrate/errors"
	"github.com/mongomigrate/mongomigrate/topo"
)

// fakeDB is an in-memory Database. A collection exists once it has been written to
// and until it is dropped.
type fakeDB struct {
	name string

	mu      sync.Mutex
	colls   map[string][]bson.Raw
	order   []string
	errs    map[string]error // keyed by op + ":" + collection
	lose    map[string]int   // documents silently discarded by InsertMany
	panicOn string           // CountDocuments on this collection panics
	dropped []string
}

func newFakeDB(name string) *fakeDB {
	return &fakeDB{
		name:  name,
		colls: make(map[string][]bson.Raw),
		errs:  make(map[string]error),
		lose:  make(map[string]int),
	}
}

func (d *fakeDB) fail(op, coll string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.errs[op+":"+coll] = err
}

func (d *fakeDB) err(op, coll string) error {
	return d.errs[op+":"+coll]
}

// put creates coll (even when docs is empty) and appends docs.
func (d *fakeDB) put(coll string, docs ...bson.Raw) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.create(coll)
	d.colls[coll] = append(d.colls[coll], docs...)
}

func (d *fakeDB) create(coll string) {
	if _, ok := d.colls[coll]; !ok {
		d.colls[coll] = []bson.Raw{}
		d.order = append(d.order, coll)
	}
}

func (d *fakeDB) docs(coll string) []bson.Raw {
	d.mu.Lock()
	defer d.mu.Unlock()

	return slices.Clone(d.colls[coll])
}

func (d *fakeDB) exists(coll string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.colls[coll]

	return ok
}

func (d *fakeDB) Name() string { return d.name }

func (d *fakeDB) ListCollectionNames(context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.err("list", ""); err != nil {
		return nil, err
	}

	return slices.Clone(d.order), nil
}

func (d *fakeDB) HasCollection(_ context.Context, name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.err("exists", name); err != nil {
		return false, err
	}

	_, ok := d.colls[name]

	return ok, nil
}

func (d *fakeDB) Collection(name string) Collection {
	return &fakeColl{db: d, name: name}
}

type fakeColl struct {
	db   *fakeDB
	name string
}

func (c *fakeColl) CountDocuments(context.Context) (int64, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	if c.db.panicOn == c.name {
		panic("count " + c.name)
	}

	if err := c.db.err("count", c.name); err != nil {
		return 0, err
	}

	return int64(len(c.db.colls[c.name])), nil
}

func (c *fakeColl) FindAll(context.Context) ([]bson.Raw, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	if err := c.db.err("find", c.name); err != nil {
		return nil, err
	}

	return slices.Clone(c.db.colls[c.name]), nil
}

func (c *fakeColl) FindIDs(context.Context) ([]bson.RawValue, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	if err := c.db.err("findIDs", c.name); err != nil {
		return nil, err
	}

	ids := make([]bson.RawValue, 0, len(c.db.colls[c.name]))
	for _, doc := range c.db.colls[c.name] {
		ids = append(ids, doc.Lookup("_id"))
	}

	return ids, nil
}

func (c *fakeColl) InsertMany(_ context.Context, docs []bson.Raw) (int, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	if err := c.db.err("insert", c.name); err != nil {
		return 0, err
	}

	c.db.create(c.name)

	seen := make(map[string]struct{})
	for _, doc := range c.db.colls[c.name] {
		seen[IDKey(doc.Lookup("_id"))] = struct{}{}
	}

	keep := len(docs) - c.db.lose[c.name]

	for i, doc := range docs {
		key := IDKey(doc.Lookup("_id"))
		if _, ok := seen[key]; ok {
			return i, errors.Errorf("E11000 duplicate key error: _id %s", key)
		}

		seen[key] = struct{}{}

		if i < keep {
			c.db.colls[c.name] = append(c.db.colls[c.name], doc)
		}
	}

	return len(docs), nil
}

func (c *fakeColl) InsertOne(_ context.Context, doc bson.D) (any, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	if err := c.db.err("insertOne", c.name); err != nil {
		return nil, err
	}

	id := bson.NewObjectID()

	raw, err := bson.Marshal(append(bson.D{{Key: "_id", Value: id}}, doc...))
	if err != nil {
		return nil, err
	}

	c.db.create(c.name)
	c.db.colls[c.name] = append(c.db.colls[c.name], raw)

	return id, nil
}

func (c *fakeColl) index(id any) int {
	t, v, err := bson.MarshalValue(id)
	if err != nil {
		return -1
	}

	key := IDKey(bson.RawValue{Type: t, Value: v})

	return slices.IndexFunc(c.db.colls[c.name], func(doc bson.Raw) bool {
		return IDKey(doc.Lookup("_id")) == key
	})
}

func (c *fakeColl) FindByID(_ context.Context, id any) (bool, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	if err := c.db.err("findOne", c.name); err != nil {
		return false, err
	}

	return c.index(id) >= 0, nil
}

func (c *fakeColl) UpdateByID(_ context.Context, id any, _ bson.D) (int64, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	if err := c.db.err("update", c.name); err != nil {
		return 0, err
	}

	if c.index(id) < 0 {
		return 0, nil
	}

	return 1, nil
}

func (c *fakeColl) DeleteByID(_ context.Context, id any) (int64, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	if err := c.db.err("delete", c.name); err != nil {
		return 0, err
	}

	i := c.index(id)
	if i < 0 {
		return 0, nil
	}

	c.db.colls[c.name] = slices.Delete(c.db.colls[c.name], i, i+1)

	return 1, nil
}

func (c *fakeColl) Drop(context.Context) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	if err := c.db.err("drop", c.name); err != nil {
		return err
	}

	if _, ok := c.db.colls[c.name]; ok {
		delete(c.db.colls, c.name)
		c.db.order = slices.DeleteFunc(c.db.order, func(s string) bool { return s == c.name })
		c.db.dropped = append(c.db.dropped, c.name)
	}

	return nil
}

type fakeConn struct {
	db       *fakeDB
	closeErr error

	mu     sync.Mutex
	closed int
}

func (c *fakeConn) Database() Database { return c.db }

func (c *fakeConn) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed++

	return c.closeErr
}

// fakeServer maps endpoint URIs to databases and records opened connections.
type fakeServer struct {
	mu       sync.Mutex
	dbs      map[string]*fakeDB
	openErr  map[string]error
	closeErr map[string]error
	conns    []*fakeConn
	opened   []string
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		dbs:      make(map[string]*fakeDB),
		openErr:  make(map[string]error),
		closeErr: make(map[string]error),
	}
}

// add registers a database reachable at uri. The database name is taken from uri.
func (s *fakeServer) add(t *testing.T, uri string) *fakeDB {
	t.Helper()

	ep, err := topo.ResolveEndpoint(uri)
	require.NoError(t, err)

	db := newFakeDB(ep.Database)
	s.dbs[uri] = db

	return db
}

func (s *fakeServer) open(_ context.Context, ep topo.Endpoint) (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opened = append(s.opened, ep.URI)

	if err := s.openErr[ep.URI]; err != nil {
		return nil, err
	}

	db, ok := s.dbs[ep.URI]
	if !ok {
		return nil, errors.New("server selection error: no reachable servers")
	}

	conn := &fakeConn{db: db, closeErr: s.closeErr[ep.URI]}
	s.conns = append(s.conns, conn)

	return conn, nil
}

// allClosed reports whether every opened connection was closed at least once.
func (s *fakeServer) allClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conns {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()

		if closed == 0 {
			return false
		}
	}

	return true
}

// recorder is a Sink collecting events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.events)
}

func (r *recorder) statuses() []StatusEvent {
	var rv []StatusEvent

	for _, ev := range r.all() {
		if s, ok := ev.(StatusEvent); ok {
			rv = append(rv, s)
		}
	}

	return rv
}

func (r *recorder) collection(name string) []CollectionProgressEvent {
	var rv []CollectionProgressEvent

	for _, ev := range r.all() {
		if c, ok := ev.(CollectionProgressEvent); ok && c.Collection == name {
			rv = append(rv, c)
		}
	}

	return rv
}

func (r *recorder) count(typ EventType) int {
	n := 0

	for _, ev := range r.all() {
		if ev.Type() == typ {
			n++
		}
	}

	return n
}

func (r *recorder) last() Event {
	all := r.all()
	if len(all) == 0 {
		return nil
	}

	return all[len(all)-1]
}

// docs returns documents with the given _id values and a field "n" holding the index.
func docs(t *testing.T, ids ...any) []bson.Raw {
	t.Helper()

	rv := make([]bson.Raw, 0, len(ids))

	for i, id := range ids {
		raw, err := bson.Marshal(bson.D{{Key: "_id", Value: id}, {Key: "n", Value: i}})
		require.NoError(t, err)

		rv = append(rv, raw)
	}

	return rv
}
