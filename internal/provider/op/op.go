// Package op implements the "op" provider: a 1Password service account
// resolved through the `op` CLI binary as a subprocess, one read per
// reference. Grounded on dsops's own subprocess-provider shape
// (systmms/dsops internal/providers/onepassword.go, which drives `op` the
// same way) but reads secrets with `op read op://...`, the CLI's own
// reference-resolution primitive, rather than fetching and re-parsing whole
// item JSON — op:// syntax already names vault/item/section/field
// precisely, so there is nothing left for locket to extract client-side.
package op

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bpbradley/locket/internal/provider"
	"github.com/bpbradley/locket/internal/reference"
	"github.com/bpbradley/locket/internal/secure"
)

// MaxBatchSize bounds how many op:// references are resolved per FetchMany
// call, matched against concurrent subprocess invocations.
const MaxBatchSize = 10

// Config configures the op provider.
type Config struct {
	// ServiceAccountToken is the plaintext token; prefer ServiceAccountTokenFile.
	ServiceAccountToken string
	// ServiceAccountTokenFile, when set, is read once at construction time.
	ServiceAccountTokenFile string
	// Binary overrides the `op` executable name/path, mainly for tests.
	Binary string
}

// Provider resolves op:// references by shelling out to the op CLI.
type Provider struct {
	token  *secure.ResolvedSecret
	binary string
}

// New constructs a Provider, resolving the service account token from
// either Config.ServiceAccountToken or Config.ServiceAccountTokenFile.
func New(cfg Config, readFile func(string) ([]byte, error)) (*Provider, error) {
	token := cfg.ServiceAccountToken
	if cfg.ServiceAccountTokenFile != "" {
		data, err := readFile(cfg.ServiceAccountTokenFile)
		if err != nil {
			return nil, fmt.Errorf("op: read token file: %w", err)
		}
		token = string(bytes.TrimSpace(data))
	}
	if token == "" {
		return nil, fmt.Errorf("op: missing service account token")
	}

	secret, err := secure.NewResolvedSecret([]byte(token))
	if err != nil {
		return nil, fmt.Errorf("op: protect token: %w", err)
	}

	binary := cfg.Binary
	if binary == "" {
		binary = "op"
	}
	return &Provider{token: secret, binary: binary}, nil
}

func (p *Provider) Name() provider.Name { return provider.NameOp }

func (p *Provider) Accepts(kind reference.Kind) bool { return kind == reference.KindOnePassword }

func (p *Provider) MaxBatchSize() int { return MaxBatchSize }

// MaxConcurrent shares MaxBatchSize's value. The resolver runs up to that
// many FetchMany calls at once, and each call runs up to MaxBatchSize
// concurrent `op read` subprocesses, so as many as MaxBatchSize*MaxBatchSize
// subprocesses can run together.
func (p *Provider) MaxConcurrent() int { return MaxBatchSize }

func (p *Provider) Validate(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, p.binary, "--version")
	if err := cmd.Run(); err != nil {
		return provider.NewError(p.Name(), provider.KindUnsupported, reference.Reference{}, fmt.Errorf("op CLI not usable: %w", err))
	}
	return nil
}

func (p *Provider) FetchOne(ctx context.Context, ref reference.Reference) (*secure.ResolvedSecret, error) {
	if ref.Kind != reference.KindOnePassword {
		return nil, provider.NewError(p.Name(), provider.KindUnsupported, ref, fmt.Errorf("not an op:// reference"))
	}

	var stdout, stderr bytes.Buffer
	var runErr error
	err := p.token.Use(func(plaintext []byte) error {
		cmd := exec.CommandContext(ctx, p.binary, "read", ref.OnePass.String())
		cmd.Env = []string{"OP_SERVICE_ACCOUNT_TOKEN=" + string(plaintext)}
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		runErr = cmd.Run()
		return nil
	})
	if err != nil {
		return nil, provider.NewError(p.Name(), provider.KindTransient, ref, err)
	}
	if runErr != nil {
		return nil, provider.NewError(p.Name(), classifyExitError(runErr, stderr.String()), ref, fmt.Errorf("op read: %s: %w", firstLine(stderr.String()), runErr))
	}

	value := bytes.TrimRight(stdout.Bytes(), "\n")
	secret, err := secure.NewResolvedSecret(value)
	if err != nil {
		return nil, provider.NewError(p.Name(), provider.KindTransient, ref, err)
	}
	return secret, nil
}

// FetchMany runs up to MaxBatchSize concurrent `op read` subprocesses.
func (p *Provider) FetchMany(ctx context.Context, refs []reference.Reference) (map[reference.Reference]*secure.ResolvedSecret, error) {
	results := make(map[reference.Reference]*secure.ResolvedSecret, len(refs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxBatchSize)

	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			secret, err := p.FetchOne(ctx, ref)
			if err != nil {
				return err
			}
			mu.Lock()
			results[ref] = secret
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}

func classifyExitError(err error, stderr string) provider.ErrorKind {
	if _, ok := err.(*exec.ExitError); !ok {
		return provider.KindTransient
	}
	switch {
	case containsAny(stderr, "isn't a vault", "isn't an item", "not found"):
		return provider.KindNotFound
	case containsAny(stderr, "not currently signed in", "authorization", "authentication", "invalid token"):
		return provider.KindAuthFailure
	case containsAny(stderr, "permission", "forbidden"):
		return provider.KindPermissionDenied
	default:
		return provider.KindTransient
	}
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
