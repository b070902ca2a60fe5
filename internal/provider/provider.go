// Package provider defines the interface locket's four secret backends
// (op, op-connect, bws, infisical) implement, and the error taxonomy the
// resolver (internal/resolve) uses to decide whether a failure is worth
// retrying.
//
// A Provider never mutates remote state: it only ever reads. It is handed a
// batch of already-parsed, already-deduplicated references and must return
// a value (or error) for each one. Deduplication, per-cycle result caching,
// retry, and the cap on concurrent batches are the resolver's job (C5); a
// provider only bounds its own fan-out inside one FetchMany call and may
// cache its own credentials or lookups, so providers stay as small and as
// easy to test as possible.
package provider

import (
	"context"
	"fmt"

	"github.com/bpbradley/locket/internal/reference"
	"github.com/bpbradley/locket/internal/secure"
)

// Name identifies which provider a reference.Reference.Kind is served by.
// Distinct from reference.Kind: a reference.KindOnePassword may be served
// by either the "op" or "op-connect" Name, depending on which provider was
// registered for this run.
type Name string

const (
	NameOp        Name = "op"
	NameConnect   Name = "op-connect"
	NameBws       Name = "bws"
	NameInfisical Name = "infisical"
)

// Provider resolves secret references against a single backend.
type Provider interface {
	// Name reports the provider's registered name, used in logs and in
	// error messages so operators can tell which backend failed.
	Name() Name

	// Accepts reports whether this provider can serve references of the
	// given reference.Kind. The resolver partitions a batch of references
	// by the first provider that accepts each reference.Kind.
	Accepts(kind reference.Kind) bool

	// FetchOne resolves a single reference. Providers that support native
	// batch fetches should still implement FetchOne correctly — the
	// resolver falls back to it when a batch partially fails and needs to
	// retry individual members.
	FetchOne(ctx context.Context, ref reference.Reference) (*secure.ResolvedSecret, error)

	// FetchMany resolves a batch of references of a kind this provider
	// Accepts. Implementations should use their backend's native batch or
	// concurrent-fetch API where one exists rather than looping FetchOne
	// serially. All four providers here fan out concurrently: op runs one
	// `op read` subprocess per reference, up to MaxBatchSize at once, and
	// never passes more than one reference to a single invocation;
	// connect/bws/infisical send concurrency-capped HTTP requests.
	//
	// The returned map need not contain every requested reference: entries
	// absent because the reference does not exist upstream should instead
	// surface as an Error with Kind KindNotFound from FetchOne when the
	// resolver retries that member individually.
	FetchMany(ctx context.Context, refs []reference.Reference) (map[reference.Reference]*secure.ResolvedSecret, error)

	// Validate checks provider configuration and connectivity (credentials
	// present, host reachable) without resolving any particular reference.
	// Neither the resolver nor any command calls it through this interface;
	// connect.New runs its own Validate at construction.
	Validate(ctx context.Context) error

	// MaxBatchSize bounds how many references FetchMany will be asked to
	// resolve in one call; the resolver chunks larger batches accordingly.
	MaxBatchSize() int

	// MaxConcurrent bounds how many FetchMany batches the resolver may have
	// in flight against this provider at once, across every batch produced
	// from a single Resolve call. This is the per-provider concurrency
	// ceiling the resolver treats as the sole throttle — it must not be
	// multiplied by dispatching more batches than this concurrently.
	MaxConcurrent() int
}

// ErrorKind classifies a provider failure so the resolver knows whether it
// is worth retrying.
type ErrorKind string

const (
	KindAuthFailure      ErrorKind = "auth_failure"
	KindNotFound         ErrorKind = "not_found"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindTransient        ErrorKind = "transient"
	KindMalformed        ErrorKind = "malformed"
	KindQuotaExceeded    ErrorKind = "quota_exceeded"
	KindUnsupported      ErrorKind = "unsupported"
)

// Error is the error type every Provider implementation returns. Only
// Kind == KindTransient is retried by the resolver, and only up to its
// configured retry budget.
type Error struct {
	Provider Name
	Kind     ErrorKind
	Ref      reference.Reference
	// RetryAfterSeconds carries a provider's retry hint for a
	// KindTransient error (e.g. a Retry-After header). The resolver does
	// not read it; its retries always follow its own RetryPolicy backoff.
	RetryAfterSeconds int
	Err               error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s) for %s", e.Provider, e.Kind, e.Err, e.Ref.Fingerprint())
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the resolver should retry this failure.
func (e *Error) Retryable() bool { return e.Kind == KindTransient }

// NewError builds a provider Error. refFingerprint-only identity (never the
// raw reference string) reaches logs through Error()'s use of
// ref.Fingerprint().
func NewError(name Name, kind ErrorKind, ref reference.Reference, err error) *Error {
	return &Error{Provider: name, Kind: kind, Ref: ref, Err: err}
}
