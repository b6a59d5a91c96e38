/*
Package migrate copies the collections of one MongoDB database into another.

This package includes the following main components:

  - Job: runs one migration end to end. It connects both sides, enumerates the source
    collections and migrates them one after another.

  - CollectionMigrator: copies a single collection in complete or incremental mode.

  - Tester: checks read access on a source and read/write/update/delete access on a target.

Progress is reported as [Event] values to a caller-supplied [Sink].

Concurrent jobs against the same target are not coordinated. In complete mode the drop
and the following insert are not isolated from other readers and writers of that collection.
*/
package migrate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mongomigrate/mongomigrate/config"
	"github.com/mongomigrate/mongomigrate/errors"
	"github.com/mongomigrate/mongomigrate/log"
	"github.com/mongomigrate/mongomigrate/metrics"
	"github.com/mongomigrate/mongomigrate/sel"
	"github.com/mongomigrate/mongomigrate/topo"
	"github.com/mongomigrate/mongomigrate/util"
)

// State represents the state of a Job.
type State string

const (
	// StateIdle indicates that the job has not started.
	StateIdle State = "idle"
	// StateConnectingSource indicates that the job is connecting to the source.
	StateConnectingSource State = "connectingSource"
	// StateConnectingTarget indicates that the job is connecting to the target.
	StateConnectingTarget State = "connectingTarget"
	// StateEnumerating indicates that the job is listing the source collections.
	StateEnumerating State = "enumerating"
	// StateMigratingCollections indicates that collections are being copied.
	StateMigratingCollections State = "migratingCollections"
	// StateCompleted indicates that the job has finished. Some collections may have failed.
	StateCompleted State = "completed"
	// StateFailed indicates that the job stopped on a fatal error.
	StateFailed State = "failed"
)

type OnStateChangedFunc func(newState State)

// Options configures a Job run.
type Options struct {
	SourceURI string `json:"sourceUri"`
	TargetURI string `json:"targetUri"`
	// Mode is the wire name of the migration mode. Empty selects complete.
	Mode string `json:"migrationMode"`

	IncludeCollections []string `json:"includeCollections,omitempty"`
	ExcludeCollections []string `json:"excludeCollections,omitempty"`
}

// Job migrates every collection of a source database to a target database.
// A Job runs once.
type Job struct {
	id   string
	open OpenFunc
	sink Sink

	onStateChanged OnStateChangedFunc

	state   State
	started bool

	lock sync.Mutex
}

// NewJob creates a Job opening connections with open and reporting progress to sink.
func NewJob(open OpenFunc, sink Sink) *Job {
	if sink == nil {
		sink = Discard
	}

	return &Job{
		id:             uuid.NewString(),
		open:           open,
		sink:           sink,
		state:          StateIdle,
		onStateChanged: func(State) {},
	}
}

// ID returns the job identifier.
func (j *Job) ID() string {
	return j.id
}

// State returns the current state.
func (j *Job) State() State {
	j.lock.Lock()
	defer j.lock.Unlock()

	return j.state
}

// SetOnStateChanged sets fn to be called on each state change. It must be set before Run.
func (j *Job) SetOnStateChanged(fn OnStateChangedFunc) {
	if fn == nil {
		fn = func(State) {}
	}

	j.lock.Lock()
	j.onStateChanged = fn
	j.lock.Unlock()
}

func (j *Job) setState(state State) {
	j.lock.Lock()
	j.state = state
	fn := j.onStateChanged
	j.lock.Unlock()

	log.New("migrate").With(log.Job(j.id)).Debugf("State: %s", state)
	fn(state)
}

type plan struct {
	source topo.Endpoint
	target topo.Endpoint
	mode   Mode
	filter sel.CollFilter
}

func resolvePlan(opts *Options) (*plan, error) {
	source, err := topo.ResolveEndpoint(opts.SourceURI)
	if err != nil {
		return nil, errors.Wrap(err, "invalid source connection string")
	}

	target, err := topo.ResolveEndpoint(opts.TargetURI)
	if err != nil {
		return nil, errors.Wrap(err, "invalid target connection string")
	}

	modeName := opts.Mode
	if modeName == "" {
		modeName = config.DefaultMode
	}

	mode, err := ParseMode(modeName)
	if err != nil {
		return nil, err
	}

	return &plan{
		source: source,
		target: target,
		mode:   mode,
		filter: sel.MakeFilter(opts.IncludeCollections, opts.ExcludeCollections),
	}, nil
}

// Run executes the job.
//
// Invalid options are rejected with a validation error and an [ErrorEvent] before any
// connection is opened; no result is returned. Otherwise Run returns the job result
// together with the fatal error, if any. A failed collection is not fatal.
// Both connections are closed before the terminal [CompletedEvent] is emitted.
func (j *Job) Run(ctx context.Context, opts Options) (*JobResult, error) {
	j.lock.Lock()
	if j.started {
		j.lock.Unlock()

		return nil, errors.New("job has already been run")
	}
	j.started = true
	j.lock.Unlock()

	lg := log.Ctx(ctx).With(log.Job(j.id))
	ctx = lg.WithContext(ctx)

	p, err := resolvePlan(&opts)
	if err != nil {
		lg.Error(err, "Rejected migration")
		j.setState(StateFailed)
		j.sink.Emit(ErrorEvent{Message: err.Error(), Progress: 100})

		return nil, err
	}

	res := &JobResult{
		ID:        j.id,
		Mode:      p.mode,
		StartTime: time.Now(),
	}

	metrics.JobStarted()
	lg.With(log.Mode(p.mode.String())).Infof("Starting migration %s -> %s", p.source, p.target)

	err = j.execute(ctx, p, res)

	res.FinishTime = time.Now()
	elapsed := res.FinishTime.Sub(res.StartTime)

	if err != nil {
		res.Error = err.Error()

		j.setState(StateFailed)
		lg.With(log.Elapsed(elapsed)).Error(err, "Migration failed")
		j.status(100, "Migration failed: "+res.Error)
		j.sink.Emit(res.CompletedEvent())
		metrics.JobFinished(p.mode.String(), false, elapsed)

		return res, err
	}

	res.Success = true

	j.setState(StateCompleted)
	lg.With(log.Elapsed(elapsed)).
		Infof("Migration completed: %d of %d collections, %d documents migrated in %s",
			res.SuccessfulCollections, res.TotalCollections, res.MigratedDocuments,
			elapsed.Round(time.Millisecond))
	j.sink.Emit(res.CompletedEvent())
	metrics.JobFinished(p.mode.String(), true, elapsed)

	return res, nil
}

// execute connects, enumerates and migrates. Connections opened here are closed before
// it returns, including on panic, which is reported as a fatal error.
func (j *Job) execute(ctx context.Context, p *plan, res *JobResult) (err error) {
	var source, target Conn

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("internal error: %v", r)
		}

		if source != nil {
			release(ctx, "source", source)
		}

		if target != nil {
			release(ctx, "target", target)
		}
	}()

	j.setState(StateConnectingSource)
	j.status(5, "Connecting to source database...")

	source, err = j.open(ctx, p.source)
	if err != nil {
		source = nil

		return errors.Connection("source", "connect", err)
	}

	j.setState(StateConnectingTarget)
	j.status(10, "Connecting to target database...")

	target, err = j.open(ctx, p.target)
	if err != nil {
		target = nil

		return errors.Connection("target", "connect", err)
	}

	j.status(15, fmt.Sprintf("Connected to source (%s) and target (%s) databases",
		p.source.Database, p.target.Database))
	j.status(18, modeMessage(p.mode))

	j.setState(StateEnumerating)
	j.status(20, "Fetching collections from source database...")

	names, err := source.Database().ListCollectionNames(ctx)
	if err != nil {
		return errors.Connection("source", "list collections", err)
	}

	names = sel.Apply(p.filter, names)
	res.TotalCollections = len(names)

	if len(names) == 0 {
		j.status(100, "No collections found in source database")

		return nil
	}

	j.status(25, fmt.Sprintf("Found %d collections to migrate", len(names)))

	j.setState(StateMigratingCollections)

	m := NewCollectionMigrator(source.Database(), target.Database(), j.sink)
	for i, name := range names {
		r := m.Migrate(ctx, name, p.mode, Position{Current: i + 1, Total: len(names)})
		res.Add(r)

		j.status(util.Scale(i+1, len(names), 25, 100),
			fmt.Sprintf("Processed collection %d/%d: %s", i+1, len(names), name))
	}

	return nil
}

func (j *Job) status(progress int, msg string) {
	j.sink.Emit(StatusEvent{Message: msg, Progress: progress})
}

func modeMessage(mode Mode) string {
	if mode == ModeIncremental {
		return "Migration mode: newOnly (only documents missing in the target are added)"
	}

	return "Migration mode: complete (non-empty target collections are replaced)"
}

// release closes conn, logging a failure instead of returning it.
func release(ctx context.Context, side string, conn Conn) {
	err := util.Detached(ctx, config.DisconnectTimeout, conn.Close)
	if err != nil {
		log.Ctx(ctx).Warnf("Disconnect %s: %v", side, err)
	}
}
