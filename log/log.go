// Package log wraps zerolog with scoped loggers and typed attributes.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a scoped structured logger.
type Logger struct {
	zl zerolog.Logger
}

// InitGlobals configures the process-wide logger and returns it.
func InitGlobals(level zerolog.Level, json, noColor bool) *Logger {
	var w io.Writer = os.Stderr
	if !json {
		w = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    noColor,
			TimeFormat: "2006-01-02 15:04:05.000",
		}
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	zl := zerolog.New(w).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &zl

	return Wrap(zl)
}

// New returns a logger for the given scope derived from the global logger.
func New(scope string) *Logger {
	zl := zerolog.Nop()
	if zerolog.DefaultContextLogger != nil {
		zl = *zerolog.DefaultContextLogger
	}

	return Wrap(zl.With().Str("s", scope).Logger())
}

// Wrap returns a Logger writing through zl.
func Wrap(zl zerolog.Logger) *Logger {
	return &Logger{zl: zl}
}

// Ctx returns the logger stored in ctx, or the global logger.
func Ctx(ctx context.Context) *Logger {
	return Wrap(*zerolog.Ctx(ctx))
}

// WithContext stores the logger in ctx.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return l.zl.WithContext(ctx)
}

// With returns a child logger carrying attrs.
func (l *Logger) With(attrs ...Attr) *Logger {
	c := l.zl.With()
	for _, attr := range attrs {
		c = attr(c)
	}

	return &Logger{zl: c.Logger()}
}

func (l *Logger) Trace(msg string) { l.zl.Trace().Msg(msg) }
func (l *Logger) Debug(msg string) { l.zl.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zl.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zl.Warn().Msg(msg) }

func (l *Logger) Debugf(format string, args ...any) { l.zl.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.zl.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.zl.Warn().Msgf(format, args...) }

// Error logs err at error level.
func (l *Logger) Error(err error, msg string) {
	l.zl.Error().Err(err).Msg(msg)
}

// Errorf logs err at error level with a formatted message.
func (l *Logger) Errorf(err error, format string, args ...any) {
	l.zl.Error().Err(err).Msg(fmt.Sprintf(format, args...))
}
