package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/sync/errgroup"

	"github.com/mongomigrate/mongomigrate/errors"
	"github.com/mongomigrate/mongomigrate/log"
	"github.com/mongomigrate/mongomigrate/metrics"
	"github.com/mongomigrate/mongomigrate/topo"
)

// ProbeCollection is the disposable collection used to check target permissions.
const ProbeCollection = "migration_test_collection"

// SourceReport describes a reachable source database.
type SourceReport struct {
	Database        string `json:"dbName"`
	CollectionCount int    `json:"collections"`
}

// Permissions are the operations confirmed on the target probe collection.
type Permissions struct {
	Read   bool `json:"read"`
	Write  bool `json:"write"`
	Update bool `json:"update"`
	Delete bool `json:"delete"`
}

// All reports whether every permission was confirmed.
func (p Permissions) All() bool {
	return p.Read && p.Write && p.Update && p.Delete
}

// BestEffort records the outcome of an operation whose failure is not propagated.
type BestEffort struct {
	Op  string
	Err error
}

func (b BestEffort) OK() bool {
	return b.Err == nil
}

func (b BestEffort) MarshalJSON() ([]byte, error) {
	v := struct {
		Op    string `json:"op"`
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}{Op: b.Op, OK: b.OK()}

	if b.Err != nil {
		v.Error = b.Err.Error()
	}

	return json.Marshal(v) //nolint:wrapcheck
}

func bestEffort(ctx context.Context, op string, fn func(context.Context) error) BestEffort {
	err := fn(ctx)
	if err != nil {
		log.Ctx(ctx).Debugf("%s: %v (ignored)", op, err)
	}

	return BestEffort{Op: op, Err: err}
}

// dropIfExists drops coll. A collection that is already gone counts as dropped.
func dropIfExists(coll Collection) func(context.Context) error {
	return func(ctx context.Context) error {
		err := coll.Drop(ctx)
		if topo.IsNamespaceNotFound(err) {
			return nil
		}

		return err //nolint:wrapcheck
	}
}

// TargetReport describes the permissions confirmed on a target database.
type TargetReport struct {
	Database              string      `json:"dbName"`
	Permissions           Permissions `json:"permissions"`
	AllPermissionsGranted bool        `json:"allPermissionsGranted"`

	// Error is the probe step that failed. Later steps were not attempted.
	Error string `json:"error,omitempty"`
	// Cleanup is the probe collection drop. Nil if nothing was written.
	Cleanup *BestEffort `json:"cleanup,omitempty"`
}

// ConnectionErrors holds the per-side failure messages of a connection test.
type ConnectionErrors struct {
	Source string `json:"source,omitempty"`
	Target string `json:"target,omitempty"`
}

// ConnectionsReport is the result of [Tester.TestConnections].
type ConnectionsReport struct {
	Success       bool             `json:"success"`
	Source        bool             `json:"source"`
	Target        bool             `json:"target"`
	SourceDetails *SourceReport    `json:"sourceDetails,omitempty"`
	TargetDetails *TargetReport    `json:"targetDetails,omitempty"`
	Errors        ConnectionErrors `json:"errors"`
}

// Tester checks that a source is readable and a target accepts writes.
type Tester struct {
	open OpenFunc
}

// NewTester creates a Tester opening connections with open.
func NewTester(open OpenFunc) *Tester {
	return &Tester{open: open}
}

// TestSource connects to ep and counts its collections. It does not write anything.
func (t *Tester) TestSource(ctx context.Context, ep topo.Endpoint) (*SourceReport, error) {
	conn, err := t.open(ctx, ep)
	if err != nil {
		return nil, errors.Connection("source", "connect", err)
	}
	defer release(ctx, "source", conn)

	names, err := conn.Database().ListCollectionNames(ctx)
	if err != nil {
		return nil, errors.Connection("source", "list collections", err)
	}

	return &SourceReport{Database: ep.Database, CollectionCount: len(names)}, nil
}

// TestTarget connects to ep and runs insert, find, update and delete against
// [ProbeCollection], then drops it. A rejected probe step is reported in the result,
// not as an error.
func (t *Tester) TestTarget(ctx context.Context, ep topo.Endpoint) (*TargetReport, error) {
	conn, err := t.open(ctx, ep)
	if err != nil {
		return nil, errors.Connection("target", "connect", err)
	}
	defer release(ctx, "target", conn)

	rep := &TargetReport{Database: ep.Database}
	coll := conn.Database().Collection(ProbeCollection)

	err = probe(ctx, coll, &rep.Permissions)
	if err != nil {
		rep.Error = err.Error()
	}

	if rep.Permissions.Write {
		cleanup := bestEffort(ctx, "drop probe collection", dropIfExists(coll))
		rep.Cleanup = &cleanup
	}

	rep.AllPermissionsGranted = rep.Permissions.All()

	return rep, nil
}

// probe sets each permission only on a positive result of the matching operation.
// It stops at the first failing step.
func probe(ctx context.Context, coll Collection, perm *Permissions) error {
	id, err := coll.InsertOne(ctx, bson.D{{Key: "test", Value: true}, {Key: "timestamp", Value: time.Now()}})
	if err != nil {
		return errors.Wrap(err, "write")
	}

	if id == nil {
		return errors.New("write: no document id returned")
	}

	perm.Write = true

	perm.Read, err = coll.FindByID(ctx, id)
	if err != nil {
		return errors.Wrap(err, "read")
	}

	modified, err := coll.UpdateByID(ctx, id, bson.D{{Key: "$set", Value: bson.D{{Key: "updated", Value: true}}}})
	if err != nil {
		return errors.Wrap(err, "update")
	}

	perm.Update = modified == 1

	deleted, err := coll.DeleteByID(ctx, id)
	if err != nil {
		return errors.Wrap(err, "delete")
	}

	perm.Delete = deleted == 1

	return nil
}

// TestConnections tests the source and the target concurrently and reports progress to sink.
func (t *Tester) TestConnections(
	ctx context.Context,
	sourceURI string,
	targetURI string,
	sink Sink,
) *ConnectionsReport {
	if sink == nil {
		sink = Discard
	}

	sink.Emit(StatusEvent{Message: "Testing source and target connections...", Progress: 10})

	var (
		srcRep         *SourceReport
		dstRep         *TargetReport
		srcErr, dstErr error
	)

	var grp errgroup.Group

	grp.Go(func() error {
		srcRep, srcErr = testURI(ctx, "source", sourceURI, t.TestSource)

		return nil
	})
	grp.Go(func() error {
		dstRep, dstErr = testURI(ctx, "target", targetURI, t.TestTarget)

		return nil
	})

	_ = grp.Wait()

	rep := &ConnectionsReport{SourceDetails: srcRep, TargetDetails: dstRep}

	if srcErr != nil {
		rep.Errors.Source = srcErr.Error()
		sink.Emit(StatusEvent{Message: "Source connection failed: " + rep.Errors.Source, Progress: 40})
	} else {
		rep.Source = true
		sink.Emit(StatusEvent{
			Message: fmt.Sprintf("Source connection successful: %s (%d collections)",
				srcRep.Database, srcRep.CollectionCount),
			Progress: 40,
		})
	}

	switch {
	case dstErr != nil:
		rep.Errors.Target = dstErr.Error()
	case dstRep.Error != "":
		rep.Errors.Target = dstRep.Error
	case !dstRep.AllPermissionsGranted:
		rep.Errors.Target = "missing permissions on target database"
	default:
		rep.Target = true
	}

	if rep.Target {
		sink.Emit(StatusEvent{
			Message:  "Target connection successful: " + dstRep.Database + " (read, write, update, delete)",
			Progress: 60,
		})
	} else {
		sink.Emit(StatusEvent{Message: "Target connection failed: " + rep.Errors.Target, Progress: 60})
	}

	metrics.ObserveConnectionTest("source", rep.Source)
	metrics.ObserveConnectionTest("target", rep.Target)

	rep.Success = rep.Source && rep.Target
	if rep.Success {
		sink.Emit(StatusEvent{Message: "Connection test passed", Progress: 100})
	} else {
		sink.Emit(StatusEvent{Message: "Connection test failed", Progress: 100})
	}

	return rep
}

func testURI[R any](
	ctx context.Context,
	side string,
	uri string,
	fn func(context.Context, topo.Endpoint) (R, error),
) (R, error) {
	ep, err := topo.ResolveEndpoint(uri)
	if err != nil {
		var zero R

		return zero, errors.Wrapf(err, "invalid %s connection string", side)
	}

	return fn(ctx, ep)
}
