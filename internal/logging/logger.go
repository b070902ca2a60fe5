// Package logging configures locket's structured logger.
//
// Locket runs as a long-lived daemon (volume plugin, watcher, supervisor) as
// often as it runs as a one-shot CLI, so output goes through zerolog rather
// than the line-oriented, colorized stderr writer a short-lived CLI tool
// would use.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the global logger.
type Options struct {
	// Debug enables debug-level output. Mirrors the -debug flag pattern.
	Debug bool
	// Pretty renders human-readable console output instead of JSON lines.
	// Useful for interactive `locket exec`/`locket inject` runs; daemon
	// modes (volume, watch) should leave this false.
	Pretty bool
	Writer io.Writer
}

// New builds a zerolog.Logger configured per Options and returns it. It sets
// zerolog's global level and time format, but does not install the logger
// as the package-level default (zerolog/log).
func New(opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var w io.Writer = opts.Writer
	if w == nil {
		w = os.Stderr
	}
	if opts.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(w).With().Timestamp().Logger()
	return logger
}

// Secret wraps a string that must never appear in log output. It implements
// zerolog.LogObjectMarshaler so that passing it to a logger as a field
// always yields a fingerprint placeholder, never the plaintext, regardless
// of how the field is consumed downstream.
type Secret struct {
	fingerprint string
}

// NewSecret wraps a fingerprint (never the plaintext secret) for logging.
func NewSecret(fingerprint string) Secret {
	return Secret{fingerprint: fingerprint}
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (s Secret) MarshalZerologObject(e *zerolog.Event) {
	e.Str("fingerprint", s.fingerprint)
}

// String satisfies fmt.Stringer so accidental fmt.Sprintf/%v usage still
// redacts rather than leaking the plaintext.
func (s Secret) String() string {
	return "secret:" + s.fingerprint
}

// GoString satisfies fmt.GoStringer for the same reason under %#v.
func (s Secret) GoString() string {
	return s.String()
}
