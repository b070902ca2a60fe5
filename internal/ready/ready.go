// Package ready implements the readiness signal (C9): a file-presence
// artifact that downstream health checks and orchestrators poll for, since
// locket itself is not a long-lived service with its own health endpoint.
//
// Readiness here is deliberately file-exists-only: no staleness timestamp,
// no content. A healthcheck that wants staleness detection composes this
// with its own mtime comparison against the artifact.
package ready

import (
	"fmt"
	"os"
	"path/filepath"

	locketerrors "github.com/bpbradley/locket/internal/errors"
)

// DefaultPath is used when no artifact path is configured.
const DefaultPath = "/run/locket/ready"

// fileMode matches the restrictive mode every other locket-written artifact
// uses; the readiness file carries no content of value but still lives
// alongside materialized secrets.
const fileMode = 0o600

// Signal manages one readiness artifact's lifecycle.
type Signal struct {
	path string
}

// New returns a Signal for path, defaulting to DefaultPath when empty.
func New(path string) *Signal {
	if path == "" {
		path = DefaultPath
	}
	return &Signal{path: path}
}

// Path returns the configured artifact path.
func (s *Signal) Path() string { return s.path }

// MarkReady creates the artifact, truncating it if already present. Called
// once a resolution cycle completes with no unresolved-and-fatal errors.
func (s *Signal) MarkReady() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return locketerrors.Materialization("ready.MarkReady", fmt.Errorf("creating artifact directory: %w", err))
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileMode)
	if err != nil {
		return locketerrors.Materialization("ready.MarkReady", fmt.Errorf("creating readiness artifact %q: %w", s.path, err))
	}
	return f.Close()
}

// MarkNotReady removes the artifact, if present. Called at the start of a
// cycle (the prior cycle's readiness no longer holds) and on fatal error.
func (s *Signal) MarkNotReady() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return locketerrors.Materialization("ready.MarkNotReady", fmt.Errorf("removing readiness artifact %q: %w", s.path, err))
	}
	return nil
}

// IsReady reports whether the artifact currently exists.
func (s *Signal) IsReady() bool {
	_, err := os.Stat(s.path)
	return err == nil
}
