package log

import (
	"time"

	"github.com/rs/zerolog"
)

// Attr adds a field to a logger context.
type Attr func(zerolog.Context) zerolog.Context

// Elapsed is the duration of the current step.
func Elapsed(d time.Duration) Attr {
	return func(c zerolog.Context) zerolog.Context {
		return c.Dur("elapsed", d)
	}
}

// NS is the namespace a record refers to.
func NS(db, coll string) Attr {
	return func(c zerolog.Context) zerolog.Context {
		return c.Str("ns", db+"."+coll)
	}
}

func Count(n int64) Attr {
	return func(c zerolog.Context) zerolog.Context {
		return c.Int64("count", n)
	}
}

func Size(n uint64) Attr {
	return func(c zerolog.Context) zerolog.Context {
		return c.Uint64("size", n)
	}
}

// Job is the migration job identifier.
func Job(id string) Attr {
	return func(c zerolog.Context) zerolog.Context {
		return c.Str("job", id)
	}
}

func Mode(mode string) Attr {
	return func(c zerolog.Context) zerolog.Context {
		return c.Str("mode", mode)
	}
}
