// Package logging is the structured-logging facade used across the runtime
// core. It wraps github.com/rs/zerolog directly rather than routing through
// a generic logging interface: the runtime's log surface (lifecycle events,
// execution outcomes, capability denials, cache pressure) is small and fixed
// enough that zerolog's own chained API is the clearest expression of it, in
// the same spirit as the teacher pack's structured-logging bindings
// (_examples/joeycumines-go-utilpkg/logiface-zerolog).
//
// Per spec §9 ("avoid hidden singletons... owned by the runtime instance,
// not by module globals"), a Logger is a value the embedder constructs and
// threads through Runtime.New, the same way internal/metrics avoids a
// package-level registry; there is no process-wide base logger here.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// Logger is a runtime instance's log sink: every component logger handed
// out by Component derives from it, so two Runtime instances constructed
// with different Loggers never share log configuration.
type Logger struct {
	base zerolog.Logger
}

// New builds a Logger writing to w at the given minimum level. A nil w
// defaults to os.Stderr.
func New(w io.Writer, level zerolog.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{base: zerolog.New(w).With().Timestamp().Logger().Level(level)}
}

// NewDefault builds a Logger writing to os.Stderr at info level, the
// configuration Runtime.New uses when the embedder supplies no Logger
// option.
func NewDefault() *Logger {
	return New(os.Stderr, zerolog.InfoLevel)
}

// Component returns a child logger tagged with component=name, the pattern
// used throughout the runtime (pool, cache, sandbox, executor).
func (l *Logger) Component(name string) zerolog.Logger {
	return l.base.With().Str("component", name).Logger()
}
