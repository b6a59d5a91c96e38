package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mongomigrate/mongomigrate/errors"
	"github.com/mongomigrate/mongomigrate/log"
	"github.com/mongomigrate/mongomigrate/metrics"
)

// Position locates a collection within a job. Current is 1-based.
type Position struct {
	Current int
	Total   int
}

// CollectionMigrator copies collections from a source to a target database.
type CollectionMigrator struct {
	source Database
	target Database
	sink   Sink
}

// NewCollectionMigrator creates a CollectionMigrator reporting progress to sink.
func NewCollectionMigrator(source, target Database, sink Sink) *CollectionMigrator {
	if sink == nil {
		sink = Discard
	}

	return &CollectionMigrator{source: source, target: target, sink: sink}
}

// Migrate copies the collection name under mode.
// Faults never escape: they are reported by a failed result and a "failed" progress event.
func (m *CollectionMigrator) Migrate(
	ctx context.Context,
	name string,
	mode Mode,
	pos Position,
) CollectionResult {
	lg := log.Ctx(ctx).With(log.NS(m.target.Name(), name), log.Mode(mode.String()))
	ctx = lg.WithContext(ctx)

	p := &collectionProgress{sink: m.sink, name: name, pos: pos}
	res := CollectionResult{Collection: name, Mode: mode}
	startTime := time.Now()

	var err error

	switch mode {
	case ModeComplete:
		err = m.copyAll(ctx, &res, p)
	case ModeIncremental:
		err = m.copyNew(ctx, &res, p)
	default:
		err = errors.CollectionMigration(name, "migrate",
			errors.Errorf("unsupported migration mode %d", int(mode)))
	}

	res.Elapsed = time.Since(startTime)
	metrics.ObserveCollection(mode.String(), err == nil, res.Elapsed)

	if err != nil {
		res.Error = err.Error()
		lg.With(log.Elapsed(res.Elapsed)).Errorf(err, "Collection %q migration failed", name)
		p.emit(CollectionFailed, 100, "Migration failed: "+res.Error)

		return res
	}

	res.Success = true

	lg.With(log.Elapsed(res.Elapsed), log.Count(res.MigratedCount)).
		Infof("Collection %q migrated: %s of %s documents in %s",
			name,
			humanize.Comma(res.MigratedCount),
			humanize.Comma(res.SourceCount),
			res.Elapsed.Round(time.Millisecond))

	switch {
	case mode == ModeIncremental && res.NewCount == 0:
		p.emit(CollectionCompleted, 100, "No new documents to migrate")
	case mode == ModeIncremental:
		p.emit(CollectionCompleted, 100, fmt.Sprintf("Added %d new documents", res.MigratedCount))
	case res.SourceCount == 0:
		p.emit(CollectionCompleted, 100, "Collection is empty")
	default:
		p.emit(CollectionCompleted, 100,
			fmt.Sprintf("Successfully migrated %d documents", res.MigratedCount))
	}

	return res
}

// copyAll replaces the target collection with the source documents.
func (m *CollectionMigrator) copyAll(ctx context.Context, res *CollectionResult, p *collectionProgress) error {
	name := res.Collection
	src := m.source.Collection(name)
	dst := m.target.Collection(name)

	count, err := src.CountDocuments(ctx)
	if err != nil {
		return errors.CollectionMigration(name, "count source documents", err)
	}

	p.emit(CollectionStarting, 0, fmt.Sprintf("Starting migration (%d documents)", count))

	docs, err := readAll(ctx, src)
	if err != nil {
		return errors.CollectionMigration(name, "read source documents", err)
	}

	res.SourceCount = int64(len(docs))

	res.Dropped, err = m.applyPolicy(ctx, ModeComplete.Policy(), name)
	if err != nil {
		return errors.CollectionMigration(name, "drop target collection", err)
	}

	if res.Dropped {
		p.emit(CollectionPreparing, 25, "Dropped existing target collection")
	}

	// an empty source leaves an empty target; ordered inserts reject empty batches
	if len(docs) == 0 {
		return nil
	}

	p.emit(CollectionCopying, 50, fmt.Sprintf("Copying %d documents", len(docs)))

	inserted, err := dst.InsertMany(ctx, docs)
	metrics.AddDocumentsInserted(inserted)

	if err != nil {
		return errors.CollectionMigration(name, "insert documents", err)
	}

	got, err := dst.CountDocuments(ctx)
	if err != nil {
		return errors.CollectionMigration(name, "count target documents", err)
	}

	res.MigratedCount = min(got, res.SourceCount)
	if got != res.SourceCount {
		return errors.CollectionMigration(name, "verify",
			errors.Errorf("target holds %d documents, expected %d", got, res.SourceCount))
	}

	return nil
}

// copyNew inserts the source documents whose _id is missing in the target.
func (m *CollectionMigrator) copyNew(ctx context.Context, res *CollectionResult, p *collectionProgress) error {
	name := res.Collection
	src := m.source.Collection(name)
	dst := m.target.Collection(name)

	count, err := src.CountDocuments(ctx)
	if err != nil {
		return errors.CollectionMigration(name, "count source documents", err)
	}

	p.emit(CollectionStarting, 0, fmt.Sprintf("Starting incremental migration (%d documents)", count))

	exists, err := m.target.HasCollection(ctx, name)
	if err != nil {
		return errors.CollectionMigration(name, "check target collection", err)
	}

	p.emit(CollectionPreparing, 20, "Checking existing documents in target")

	existing := make(map[string]struct{})

	if exists {
		ids, err := dst.FindIDs(ctx)
		if err != nil {
			return errors.CollectionMigration(name, "read target ids", err)
		}

		for _, id := range ids {
			existing[IDKey(id)] = struct{}{}
		}
	}

	docs, err := readAll(ctx, src)
	if err != nil {
		return errors.CollectionMigration(name, "read source documents", err)
	}

	newDocs := missingDocuments(docs, existing)

	res.SourceCount = int64(len(docs))
	res.NewCount = int64(len(newDocs))

	p.emit(CollectionPreparing, 40,
		fmt.Sprintf("Found %d new documents out of %d", len(newDocs), len(docs)))

	if len(newDocs) == 0 {
		return nil
	}

	p.emit(CollectionCopying, 60, fmt.Sprintf("Copying %d new documents", len(newDocs)))

	inserted, err := dst.InsertMany(ctx, newDocs)
	metrics.AddDocumentsInserted(inserted)

	res.MigratedCount = int64(inserted)

	if err != nil {
		return errors.CollectionMigration(name, "insert documents", err)
	}

	if inserted != len(newDocs) {
		return errors.CollectionMigration(name, "verify",
			errors.Errorf("inserted %d documents, expected %d", inserted, len(newDocs)))
	}

	return nil
}

// applyPolicy runs the replacement pre-step for the target collection name.
// DropExisting drops the collection only when it exists and holds documents.
func (m *CollectionMigrator) applyPolicy(
	ctx context.Context,
	policy ReplacementPolicy,
	name string,
) (bool, error) {
	if policy != DropExisting {
		return false, nil
	}

	exists, err := m.target.HasCollection(ctx, name)
	if err != nil || !exists {
		return false, err
	}

	dst := m.target.Collection(name)

	count, err := dst.CountDocuments(ctx)
	if err != nil || count == 0 {
		return false, err
	}

	err = dst.Drop(ctx)
	if err != nil {
		return false, err //nolint:wrapcheck
	}

	metrics.IncCollectionsDropped()
	log.Ctx(ctx).Infof("Dropped target collection %q with %d documents", name, count)

	return true, nil
}

func readAll(ctx context.Context, coll Collection) ([]bson.Raw, error) {
	startTime := time.Now()

	docs, err := coll.FindAll(ctx)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	var size uint64
	for _, doc := range docs {
		size += uint64(len(doc))
	}

	metrics.AddDocumentsRead(len(docs))
	metrics.AddReadSize(size)

	log.Ctx(ctx).With(log.Elapsed(time.Since(startTime)), log.Size(size)).
		Debugf("Read %d documents (%s)", len(docs), humanize.Bytes(size))

	return docs, nil
}

// missingDocuments returns the documents whose _id is not in existing, preserving order.
// A document without _id is always missing.
func missingDocuments(docs []bson.Raw, existing map[string]struct{}) []bson.Raw {
	if len(existing) == 0 {
		return docs
	}

	rv := make([]bson.Raw, 0, len(docs))

	for _, doc := range docs {
		id, err := doc.LookupErr("_id")
		if err == nil {
			if _, ok := existing[IDKey(id)]; ok {
				continue
			}
		}

		rv = append(rv, doc)
	}

	return rv
}

type collectionProgress struct {
	sink Sink
	name string
	pos  Position
}

func (p *collectionProgress) emit(status CollectionStatus, progress int, msg string) {
	p.sink.Emit(CollectionProgressEvent{
		Collection: p.name,
		Status:     status,
		Message:    msg,
		Current:    p.pos.Current,
		Total:      p.pos.Total,
		Progress:   progress,
	})
}
