package migrate

import (
	"time"
)

// CollectionResult is the outcome of migrating one collection.
type CollectionResult struct {
	Collection string `json:"collection"`
	Mode       Mode   `json:"mode"`

	// SourceCount is the number of documents read from the source.
	SourceCount int64 `json:"totalDocuments"`
	// MigratedCount is the number of documents written to and confirmed in the target.
	MigratedCount int64 `json:"migratedCount"`
	// NewCount is the number of source documents missing in the target. Incremental mode only.
	NewCount int64 `json:"newDocuments,omitempty"`
	// Dropped is set when the non-empty target collection was dropped before the copy.
	Dropped bool `json:"dropped,omitempty"`

	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	Elapsed time.Duration `json:"-"`
}

// JobResult aggregates the collection results of one job.
type JobResult struct {
	ID      string `json:"id"`
	Mode    Mode   `json:"migrationMode"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	Collections []CollectionResult `json:"collections"`

	TotalCollections      int `json:"totalCollections"`
	SuccessfulCollections int `json:"successfulCollections"`
	FailedCollections     int `json:"failedCollections"`

	// Document totals cover successful collections only.
	TotalDocuments    int64 `json:"totalDocuments"`
	MigratedDocuments int64 `json:"migratedDocuments"`
	NewDocuments      int64 `json:"newDocuments"`

	StartTime  time.Time `json:"startTime"`
	FinishTime time.Time `json:"finishTime"`
}

// Add appends r and updates the totals.
func (j *JobResult) Add(r CollectionResult) {
	j.Collections = append(j.Collections, r)

	if !r.Success {
		j.FailedCollections++

		return
	}

	j.SuccessfulCollections++
	j.TotalDocuments += r.SourceCount
	j.MigratedDocuments += r.MigratedCount
	j.NewDocuments += r.NewCount
}

// CompletedEvent returns the terminal event describing j.
func (j *JobResult) CompletedEvent() CompletedEvent {
	ev := CompletedEvent{
		Success:               j.Success,
		Error:                 j.Error,
		MigrationMode:         j.Mode,
		TotalCollections:      j.TotalCollections,
		SuccessfulCollections: j.SuccessfulCollections,
		FailedCollections:     j.FailedCollections,
		TotalDocuments:        j.TotalDocuments,
		MigratedDocuments:     j.MigratedDocuments,
		Progress:              100,
	}

	if j.Mode == ModeIncremental {
		n := j.NewDocuments
		ev.NewDocuments = &n
	}

	switch {
	case !j.Success:
		ev.Message = "Migration failed"
	case j.TotalCollections == 0:
		ev.Message = "No collections to migrate"
	case j.FailedCollections != 0:
		ev.Message = "Migration completed with errors"
	default:
		ev.Message = "Migration completed successfully"
	}

	return ev
}
