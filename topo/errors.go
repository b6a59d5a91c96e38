package topo

import (
	"context"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/mongomigrate/mongomigrate/errors"
	"github.com/mongomigrate/mongomigrate/log"
)

const TypeCollection = "collection"

const codeNamespaceNotFound = 26

//nolint:gochecknoglobals
var transientCodes = []int{
	6,     // HostUnreachable
	7,     // HostNotFound
	89,    // NetworkTimeout
	91,    // ShutdownInProgress
	189,   // PrimarySteppedDown
	9001,  // SocketException
	10107, // NotWritablePrimary
	11600, // InterruptedAtShutdown
	11602, // InterruptedDueToReplStateChange
	13435, // NotPrimaryNoSecondaryOk
}

// IsTransient reports whether err is a server or network fault worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if mongo.IsNetworkError(err) {
		return true
	}

	var se mongo.ServerError
	if !errors.As(err, &se) {
		return false
	}

	if se.HasErrorLabel("RetryableWriteError") {
		return true
	}

	return slices.ContainsFunc(transientCodes, se.HasErrorCode)
}

// IsNamespaceNotFound reports whether err is a NamespaceNotFound server error.
func IsNamespaceNotFound(err error) bool {
	var se mongo.ServerError

	return errors.As(err, &se) && se.HasErrorCode(codeNamespaceNotFound)
}

// RunWithRetry calls fn until it succeeds, fails with a non-transient error,
// or maxRetries attempts have been made.
func RunWithRetry(
	ctx context.Context,
	fn func(context.Context) error,
	retryInterval time.Duration,
	maxRetries int,
) error {
	var err error

	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !IsTransient(err) {
			return err
		}

		if attempt >= maxRetries {
			break
		}

		log.Ctx(ctx).Debugf("Transient error (attempt %d/%d): %v", attempt, maxRetries, err)

		select {
		case <-ctx.Done():
			return ctx.Err() //nolint:wrapcheck
		case <-time.After(retryInterval):
		}
	}

	return errors.Wrapf(err, "failed after %d attempts", maxRetries)
}
