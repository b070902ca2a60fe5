// Package infisical implements the "infisical" provider: Universal Auth
// (client id/secret) login to an Infisical instance, then per-secret reads
// against its REST API. Grounded on
// original_source/src/provider/infisical.rs for the login/token-renewal and
// query-parameter shape, and on
// systmms/dsops/internal/providers/infisical.go for the Go
// authenticate-then-cache-token client structure.
package infisical

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bpbradley/locket/internal/provider"
	"github.com/bpbradley/locket/internal/provider/tokencache"
	"github.com/bpbradley/locket/internal/reference"
	"github.com/bpbradley/locket/internal/secure"
)

// MaxConcurrent bounds simultaneous requests to the Infisical API.
const MaxConcurrent = 20

// Config configures the infisical provider. Defaults apply when a
// reference.InfisicalRef omits the corresponding option.
type Config struct {
	URL                string // base URL, e.g. https://app.infisical.com
	ClientID           string
	ClientSecret       string
	DefaultEnvironment string
	DefaultProjectID   string
	DefaultPath        string // defaults to "/" if empty
	DefaultSecretType  reference.InfisicalSecretType
	Timeout            time.Duration
}

// Provider resolves infisical:// references.
type Provider struct {
	client       *http.Client
	baseURL      string
	clientID     string
	clientSecret *secure.ResolvedSecret
	tokens       *tokencache.Cache

	defaultEnv     string
	defaultProject string
	defaultPath    string
	defaultType    reference.InfisicalSecretType
}

// New constructs a Provider and logs in once to verify credentials.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("infisical: missing client id/secret")
	}
	secret, err := secure.NewResolvedSecret([]byte(cfg.ClientSecret))
	if err != nil {
		return nil, fmt.Errorf("infisical: protect client secret: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	defaultPath := cfg.DefaultPath
	if defaultPath == "" {
		defaultPath = "/"
	}
	defaultType := cfg.DefaultSecretType
	if defaultType == "" {
		defaultType = reference.InfisicalSecretShared
	}

	p := &Provider{
		client:         &http.Client{Timeout: timeout},
		baseURL:        strings.TrimRight(cfg.URL, "/"),
		clientID:       cfg.ClientID,
		clientSecret:   secret,
		tokens:         tokencache.New(),
		defaultEnv:     cfg.DefaultEnvironment,
		defaultProject: cfg.DefaultProjectID,
		defaultPath:    defaultPath,
		defaultType:    defaultType,
	}

	if _, err := p.bearerToken(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) Name() provider.Name { return provider.NameInfisical }

func (p *Provider) Accepts(kind reference.Kind) bool { return kind == reference.KindInfisical }

func (p *Provider) MaxBatchSize() int { return MaxConcurrent }

func (p *Provider) MaxConcurrent() int { return MaxConcurrent }

func (p *Provider) Validate(ctx context.Context) error {
	_, err := p.bearerToken(ctx)
	return err
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
}

func (p *Provider) bearerToken(ctx context.Context) (string, error) {
	if tok, ok := p.tokens.Get(); ok {
		return tok, nil
	}

	var clientSecret string
	_ = p.clientSecret.Use(func(plaintext []byte) error {
		clientSecret = string(plaintext)
		return nil
	})

	body, err := json.Marshal(map[string]string{
		"clientId":     p.clientID,
		"clientSecret": clientSecret,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/v1/auth/universal-auth/login", strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", provider.NewError(p.Name(), provider.KindTransient, reference.Reference{}, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", provider.NewError(p.Name(), provider.KindAuthFailure, reference.Reference{}, fmt.Errorf("infisical login rejected"))
	}
	if resp.StatusCode >= 300 {
		return "", provider.NewError(p.Name(), provider.KindTransient, reference.Reference{}, fmt.Errorf("infisical login failed: %s", resp.Status))
	}

	var login loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return "", provider.NewError(p.Name(), provider.KindTransient, reference.Reference{}, err)
	}

	ttl := time.Duration(login.ExpiresIn) * time.Second
	if ttl <= 60*time.Second {
		ttl = 60 * time.Second
	}
	p.tokens.Set(login.AccessToken, ttl)
	return login.AccessToken, nil
}

type secretWrapper struct {
	Secret struct {
		SecretValue string `json:"secretValue"`
	} `json:"secret"`
}

func (p *Provider) FetchOne(ctx context.Context, ref reference.Reference) (*secure.ResolvedSecret, error) {
	if ref.Kind != reference.KindInfisical {
		return nil, provider.NewError(p.Name(), provider.KindUnsupported, ref, fmt.Errorf("not an infisical:// reference"))
	}
	ir := ref.Infisical

	env := ir.Env
	if env == "" {
		env = p.defaultEnv
	}
	if env == "" {
		return nil, provider.NewError(p.Name(), provider.KindMalformed, ref, fmt.Errorf("missing environment for secret %q and no default provided", ir.Key))
	}

	projectID := ir.ProjectID
	if projectID == "" {
		projectID = p.defaultProject
	}
	if projectID == "" {
		return nil, provider.NewError(p.Name(), provider.KindMalformed, ref, fmt.Errorf("missing project_id for secret %q and no default provided", ir.Key))
	}

	path := ir.Path
	if path == "" {
		path = p.defaultPath
	}

	secretType := ir.Type
	if secretType == "" {
		secretType = p.defaultType
	}

	token, err := p.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	reqURL := p.baseURL + "/api/v4/secrets/" + url.PathEscape(ir.Key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("workspaceId", projectID)
	q.Set("environment", env)
	q.Set("secretPath", path)
	q.Set("type", string(secretType))
	q.Set("expandSecretReferences", "true")
	q.Set("include_imports", "true")
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, provider.NewError(p.Name(), provider.KindTransient, ref, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, provider.NewError(p.Name(), provider.KindNotFound, ref, fmt.Errorf("secret %q not found", ir.Key))
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, provider.NewError(p.Name(), provider.KindPermissionDenied, ref, fmt.Errorf("access denied for %q", ir.Key))
	default:
		return nil, provider.NewError(p.Name(), statusToKind(resp.StatusCode), ref, fmt.Errorf("infisical api error: %s", resp.Status))
	}

	var wrapper secretWrapper
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return nil, provider.NewError(p.Name(), provider.KindTransient, ref, err)
	}

	secret, err := secure.NewResolvedSecret([]byte(wrapper.Secret.SecretValue))
	if err != nil {
		return nil, provider.NewError(p.Name(), provider.KindTransient, ref, err)
	}
	return secret, nil
}

// FetchMany fetches each reference concurrently, capped at MaxConcurrent.
func (p *Provider) FetchMany(ctx context.Context, refs []reference.Reference) (map[reference.Reference]*secure.ResolvedSecret, error) {
	results := make(map[reference.Reference]*secure.ResolvedSecret, len(refs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrent)

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

func statusToKind(code int) provider.ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return provider.KindQuotaExceeded
	case code >= 500:
		return provider.KindTransient
	default:
		return provider.KindMalformed
	}
}
