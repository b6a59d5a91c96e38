package migrate

import (
	"encoding/json"
	"sync"

	"github.com/mongomigrate/mongomigrate/log"
)

// EventType tags a progress event.
type EventType string

const (
	EventStatus             EventType = "status"
	EventCollectionProgress EventType = "collectionProgress"
	EventCompleted          EventType = "completed"
	EventError              EventType = "error"
)

// Event is a progress notification emitted by a job or a connection test.
type Event interface {
	Type() EventType
}

// StatusEvent is a job-level milestone.
type StatusEvent struct {
	Message  string `json:"message"`
	Progress int    `json:"progress"`
}

func (StatusEvent) Type() EventType { return EventStatus }

// CollectionStatus is the phase of a single collection migration.
type CollectionStatus string

const (
	CollectionStarting  CollectionStatus = "starting"
	CollectionPreparing CollectionStatus = "preparing"
	CollectionCopying   CollectionStatus = "copying"
	CollectionCompleted CollectionStatus = "completed"
	CollectionFailed    CollectionStatus = "failed"
)

// CollectionProgressEvent reports progress of one collection.
// Current is the 1-based position of the collection within Total.
type CollectionProgressEvent struct {
	Collection string           `json:"collection"`
	Status     CollectionStatus `json:"status"`
	Message    string           `json:"message"`
	Current    int              `json:"current"`
	Total      int              `json:"total"`
	Progress   int              `json:"progress"`
}

func (CollectionProgressEvent) Type() EventType { return EventCollectionProgress }

// CompletedEvent terminates a job that got past validation.
type CompletedEvent struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`

	MigrationMode         Mode   `json:"migrationMode"`
	TotalCollections      int    `json:"totalCollections"`
	SuccessfulCollections int    `json:"successfulCollections"`
	FailedCollections     int    `json:"failedCollections"`
	TotalDocuments        int64  `json:"totalDocuments"`
	NewDocuments          *int64 `json:"newDocuments,omitempty"`
	MigratedDocuments     int64  `json:"migratedDocuments"`

	Progress int `json:"progress"`
}

func (CompletedEvent) Type() EventType { return EventCompleted }

// ErrorEvent reports a validation failure that prevented a job from starting.
type ErrorEvent struct {
	Message  string `json:"message"`
	Progress int    `json:"progress"`
}

func (ErrorEvent) Type() EventType { return EventError }

// Sink receives progress events.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ev Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// Discard drops all events.
//
//nolint:gochecknoglobals
var Discard Sink = SinkFunc(func(Event) {})

// Envelope is the wire form of an event.
type Envelope struct {
	Event EventType `json:"event"`
	Data  any       `json:"data"`
}

// MarshalEvent encodes ev as an [Envelope].
func MarshalEvent(ev Event) ([]byte, error) {
	return json.Marshal(Envelope{Event: ev.Type(), Data: ev}) //nolint:wrapcheck
}

// Tee forwards every event to each sink in order.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(ev Event) {
		for _, s := range sinks {
			s.Emit(ev)
		}
	})
}

// LogSink writes events to lg.
func LogSink(lg *log.Logger) Sink {
	var mu sync.Mutex

	return SinkFunc(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()

		switch ev := ev.(type) {
		case StatusEvent:
			lg.Infof("[%3d%%] %s", ev.Progress, ev.Message)
		case CollectionProgressEvent:
			if ev.Status == CollectionFailed {
				lg.Warnf("%s (%d/%d): %s", ev.Collection, ev.Current, ev.Total, ev.Message)
			} else {
				lg.Debugf("%s (%d/%d): %s", ev.Collection, ev.Current, ev.Total, ev.Message)
			}
		case CompletedEvent:
			if ev.Success {
				lg.Infof("%s: %d/%d collections, %d documents migrated",
					ev.Message, ev.SuccessfulCollections, ev.TotalCollections, ev.MigratedDocuments)
			} else {
				lg.Warnf("%s: %s", ev.Message, ev.Error)
			}
		case ErrorEvent:
			lg.Warn(ev.Message)
		}
	})
}
