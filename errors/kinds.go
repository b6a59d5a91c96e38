package errors

import "fmt"

// ValidationError reports input rejected before any connection attempt:
// a malformed connection string, a missing database name or an unknown mode.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}

	return e.Field + ": " + e.Reason
}

// Validation returns a [ValidationError] for field.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ConnectionError reports a transport or liveness failure against an endpoint.
// It is fatal to a migration job.
type ConnectionError struct {
	Endpoint string // "source" or "target"
	Op       string
	Err      error
}

func (e *ConnectionError) Error() string {
	switch {
	case e.Endpoint == "":
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
	}

	return fmt.Sprintf("%s: %s: %v", e.Endpoint, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Connection returns a [ConnectionError]. It returns nil if err is nil.
func Connection(endpoint, op string, err error) error {
	if err == nil {
		return nil
	}

	return &ConnectionError{Endpoint: endpoint, Op: op, Err: err}
}

// CollectionMigrationError reports a fault while reading, dropping, inserting or verifying
// a single collection. It never aborts the job.
type CollectionMigrationError struct {
	Collection string
	Op         string
	Err        error
}

func (e *CollectionMigrationError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Collection, e.Err)
}

func (e *CollectionMigrationError) Unwrap() error {
	return e.Err
}

// CollectionMigration returns a [CollectionMigrationError]. It returns nil if err is nil.
func CollectionMigration(coll, op string, err error) error {
	if err == nil {
		return nil
	}

	return &CollectionMigrationError{Collection: coll, Op: op, Err: err}
}

// IsValidation reports whether any error in err's tree is a [ValidationError].
func IsValidation(err error) bool {
	var target *ValidationError

	return As(err, &target)
}

// IsConnection reports whether any error in err's tree is a [ConnectionError].
func IsConnection(err error) bool {
	var target *ConnectionError

	return As(err, &target)
}
