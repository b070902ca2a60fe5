// Package resolve implements the resolver (C5): it deduplicates references
// across a set of template units, partitions and batches them per
// provider, dispatches batches concurrently under each provider's
// concurrency cap, retries transient failures, and caches results for the
// lifetime of a single resolution cycle.
//
// Grounded on dsops's own fan-out shape
// (systmms/dsops/internal/resolve/resolver.go's semaphore+WaitGroup+error
// channel pattern) but rebuilt around golang.org/x/sync/errgroup and
// reference.Reference identity rather than dsops's per-variable transform
// chain, since locket resolves opaque secret references, not named
// variables with post-processing transforms.
package resolve

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bpbradley/locket/internal/provider"
	"github.com/bpbradley/locket/internal/reference"
	"github.com/bpbradley/locket/internal/secure"
)

// Result is the outcome of resolving one reference.
type Result struct {
	Secret *secure.ResolvedSecret
	Err    error
}

// RetryPolicy configures how Transient provider errors are retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	Multiplier      float64
	JitterFraction  float64
}

// DefaultRetryPolicy matches the resolver's documented retry behavior:
// three attempts, 200ms initial delay, 2x multiplier, +/-25% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		Multiplier:     2,
		JitterFraction: 0.25,
	}
}

// Resolver dispatches reference resolution across registered providers.
type Resolver struct {
	providers []provider.Provider
	retry     RetryPolicy
	logger    zerolog.Logger
}

// New builds a Resolver from the given providers. Each reference.Kind
// present in a batch is routed to the first registered provider whose
// Accepts reports true for that kind.
func New(providers []provider.Provider, retry RetryPolicy, logger zerolog.Logger) *Resolver {
	return &Resolver{providers: providers, retry: retry, logger: logger}
}

// FetchOne resolves a single reference and returns a copy of its plaintext.
// It exists for callers outside the template pipeline (the volume driver's
// Mount, C10) that need one value immediately rather than a batch of
// TemplateUnits resolved together.
func (r *Resolver) FetchOne(ctx context.Context, ref reference.Reference) ([]byte, error) {
	results := r.Resolve(ctx, []reference.Reference{ref})
	result, ok := results[ref]
	if !ok {
		return nil, fmt.Errorf("resolving %s: no result returned", ref.Fingerprint())
	}
	if result.Err != nil {
		return nil, result.Err
	}
	defer result.Secret.Destroy()

	var out []byte
	err := result.Secret.Use(func(plaintext []byte) error {
		out = append([]byte(nil), plaintext...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resolver) providerFor(kind reference.Kind) int {
	for i, p := range r.providers {
		if p.Accepts(kind) {
			return i
		}
	}
	return -1
}

// Resolve dedupes refs, partitions them by provider, batches and dispatches
// concurrently, retries Transient failures, and returns one Result per
// unique reference. The cache backing this is scoped to a single call —
// callers must not reuse a Resolver's internal state across cycles; a fresh
// Resolve call starts with an empty cache each time, per the resolver's
// "invalidated wholesale" cross-cycle cache policy.
func (r *Resolver) Resolve(ctx context.Context, refs []reference.Reference) map[reference.Reference]Result {
	unique := dedupe(refs)
	results := make(map[reference.Reference]Result, len(unique))

	// Keyed by index into r.providers: a Provider's dynamic type need not be
	// comparable, so the Provider value itself cannot be a map key.
	byProvider := make(map[int][]reference.Reference)
	for _, ref := range unique {
		idx := r.providerFor(ref.Kind)
		if idx < 0 {
			results[ref] = Result{Err: provider.NewError("", provider.KindUnsupported, ref, errNoProvider(ref.Kind))}
			continue
		}
		byProvider[idx] = append(byProvider[idx], ref)
	}

	outcomes := make(chan struct {
		ref    reference.Reference
		result Result
	}, len(unique))

	var pending int
	for idx, prefs := range byProvider {
		p := r.providers[idx]
		pending += len(prefs)
		batches := chunk(prefs, p.MaxBatchSize())
		go func(p provider.Provider, batches [][]reference.Reference) {
			// A per-provider errgroup caps how many of this provider's
			// batches run at once at MaxConcurrent, so that value stays the
			// sole concurrency throttle regardless of how many batches a
			// large reference set chunks into.
			g, _ := errgroup.WithContext(ctx)
			g.SetLimit(p.MaxConcurrent())
			for _, batch := range batches {
				batch := batch
				g.Go(func() error {
					r.resolveBatch(ctx, p, batch, outcomes)
					return nil
				})
			}
			_ = g.Wait()
		}(p, batches)
	}

	for i := 0; i < pending; i++ {
		select {
		case <-ctx.Done():
			// Cancellation discards outstanding results for cancelled
			// batches; whatever already arrived on outcomes is kept.
			for len(outcomes) > 0 {
				o := <-outcomes
				results[o.ref] = o.result
			}
			return results
		case o := <-outcomes:
			results[o.ref] = o.result
		}
	}

	return results
}

// resolveBatch fetches one batch via the provider's FetchMany, retrying
// individual members that failed with a Transient error, and emits one
// outcome per reference in the batch.
func (r *Resolver) resolveBatch(ctx context.Context, p provider.Provider, batch []reference.Reference, out chan<- struct {
	ref    reference.Reference
	result Result
}) {
	fetched, err := p.FetchMany(ctx, batch)
	if err != nil {
		// FetchMany failed wholesale; resolve members individually so a
		// single bad reference doesn't sink the whole batch's siblings.
		for _, ref := range batch {
			out <- struct {
				ref    reference.Reference
				result Result
			}{ref, r.resolveOneWithRetry(ctx, p, ref)}
		}
		return
	}

	for _, ref := range batch {
		secret, ok := fetched[ref]
		if !ok {
			out <- struct {
				ref    reference.Reference
				result Result
			}{ref, r.resolveOneWithRetry(ctx, p, ref)}
			continue
		}
		out <- struct {
			ref    reference.Reference
			result Result
		}{ref, Result{Secret: secret}}
	}
}

func (r *Resolver) resolveOneWithRetry(ctx context.Context, p provider.Provider, ref reference.Reference) Result {
	delay := r.retry.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= r.retry.MaxAttempts; attempt++ {
		secret, err := p.FetchOne(ctx, ref)
		if err == nil {
			return Result{Secret: secret}
		}
		lastErr = err

		perr, ok := err.(*provider.Error)
		if !ok || !perr.Retryable() {
			return Result{Err: err}
		}
		if attempt == r.retry.MaxAttempts {
			break
		}

		wait := jitter(delay, r.retry.JitterFraction)
		r.logger.Debug().Str("reference", ref.Fingerprint()).Int("attempt", attempt).Dur("wait", wait).Msg("retrying transient provider error")

		select {
		case <-ctx.Done():
			return Result{Err: ctx.Err()}
		case <-time.After(wait):
		}
		delay = time.Duration(float64(delay) * r.retry.Multiplier)
	}

	return Result{Err: lastErr}
}

func jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	delta := float64(d) * fraction
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}

func dedupe(refs []reference.Reference) []reference.Reference {
	seen := make(map[reference.Reference]struct{}, len(refs))
	out := make([]reference.Reference, 0, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}

func errNoProvider(kind reference.Kind) error {
	return fmt.Errorf("no provider registered for reference kind %q", kind)
}

func chunk(refs []reference.Reference, size int) [][]reference.Reference {
	if size <= 0 {
		size = 1
	}
	var batches [][]reference.Reference
	for i := 0; i < len(refs); i += size {
		end := i + size
		if end > len(refs) {
			end = len(refs)
		}
		batches = append(batches, refs[i:end])
	}
	return batches
}
