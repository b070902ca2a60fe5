// Package connect implements the "op-connect" provider: a 1Password Connect
// server accessed over HTTP with a bearer token, grounded on
// original_source/src/provider/connect.rs for the vault/item name
// resolution and caching semantics, and on
// systmms/dsops/internal/providers/infisical.go for the Go HTTP-client
// shape (http.Client with a configurable transport/TLS, JSON decode,
// status-code-to-ErrorKind mapping).
package connect

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bpbradley/locket/internal/provider"
	"github.com/bpbradley/locket/internal/reference"
	"github.com/bpbradley/locket/internal/secure"
)

// MaxConcurrent bounds simultaneous requests to the Connect API.
const MaxConcurrent = 20

// Config configures the op-connect provider.
type Config struct {
	Host               string // base URL, e.g. https://connect.example.com
	Token              string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

type vaultItemKey struct {
	vault string
	item  string
}

// Provider resolves op:// references against a 1Password Connect server.
type Provider struct {
	client *http.Client
	host   *url.URL
	token  *secure.ResolvedSecret

	mu        sync.Mutex
	vaultIDs  map[string]string
	itemIDs   map[vaultItemKey]string
}

// New constructs a Provider and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	host, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("connect: invalid host: %w", err)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("connect: missing token")
	}
	token, err := secure.NewResolvedSecret([]byte(cfg.Token))
	if err != nil {
		return nil, fmt.Errorf("connect: protect token: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
		},
	}

	p := &Provider{
		client:   client,
		host:     host,
		token:    token,
		vaultIDs: make(map[string]string),
		itemIDs:  make(map[vaultItemKey]string),
	}

	if err := p.Validate(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) Name() provider.Name { return provider.NameConnect }

func (p *Provider) Accepts(kind reference.Kind) bool { return kind == reference.KindOnePassword }

func (p *Provider) MaxBatchSize() int { return MaxConcurrent }

func (p *Provider) MaxConcurrent() int { return MaxConcurrent }

func (p *Provider) Validate(ctx context.Context) error {
	req, err := p.newRequest(ctx, http.MethodGet, "/v1/vaults", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return provider.NewError(p.Name(), provider.KindTransient, reference.Reference{}, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return provider.NewError(p.Name(), provider.KindAuthFailure, reference.Reference{}, fmt.Errorf("connect server rejected token"))
	}
	if resp.StatusCode >= 300 {
		return provider.NewError(p.Name(), provider.KindTransient, reference.Reference{}, fmt.Errorf("connect server returned %s", resp.Status))
	}
	return nil
}

func (p *Provider) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := *p.host
	u.Path = strings.TrimRight(u.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	var tokenErr error
	_ = p.token.Use(func(plaintext []byte) error {
		req.Header.Set("Authorization", "Bearer "+string(plaintext))
		return nil
	})
	if tokenErr != nil {
		return nil, tokenErr
	}
	return req, nil
}

type vaultResponse struct {
	ID string `json:"id"`
}

type itemResponse struct {
	ID string `json:"id"`
}

type connectField struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Value string `json:"value"`
}

type connectItemDetail struct {
	Fields []connectField `json:"fields"`
}

func (p *Provider) resolveVaultID(ctx context.Context, nameOrID string) (string, error) {
	p.mu.Lock()
	if id, ok := p.vaultIDs[nameOrID]; ok {
		p.mu.Unlock()
		return id, nil
	}
	p.mu.Unlock()

	req, err := p.newRequest(ctx, http.MethodGet, "/v1/vaults", nil)
	if err != nil {
		return "", err
	}
	q := req.URL.Query()
	q.Set("filter", fmt.Sprintf(`name eq "%s"`, nameOrID))
	req.URL.RawQuery = q.Encode()

	resp, err := p.client.Do(req)
	if err != nil {
		return "", provider.NewError(p.Name(), provider.KindTransient, reference.Reference{}, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", provider.NewError(p.Name(), statusToKind(resp.StatusCode), reference.Reference{}, fmt.Errorf("vault lookup failed: %s", resp.Status))
	}

	var vaults []vaultResponse
	if err := json.NewDecoder(resp.Body).Decode(&vaults); err != nil {
		return "", provider.NewError(p.Name(), provider.KindTransient, reference.Reference{}, err)
	}
	if len(vaults) == 0 {
		return "", provider.NewError(p.Name(), provider.KindNotFound, reference.Reference{}, fmt.Errorf("vault %q not found", nameOrID))
	}

	p.mu.Lock()
	p.vaultIDs[nameOrID] = vaults[0].ID
	p.mu.Unlock()
	return vaults[0].ID, nil
}

func (p *Provider) resolveItemID(ctx context.Context, vaultID, nameOrID string) (string, error) {
	key := vaultItemKey{vault: vaultID, item: nameOrID}
	p.mu.Lock()
	if id, ok := p.itemIDs[key]; ok {
		p.mu.Unlock()
		return id, nil
	}
	p.mu.Unlock()

	req, err := p.newRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/vaults/%s/items", vaultID), nil)
	if err != nil {
		return "", err
	}
	q := req.URL.Query()
	q.Set("filter", fmt.Sprintf(`title eq "%s"`, nameOrID))
	req.URL.RawQuery = q.Encode()

	resp, err := p.client.Do(req)
	if err != nil {
		return "", provider.NewError(p.Name(), provider.KindTransient, reference.Reference{}, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", provider.NewError(p.Name(), statusToKind(resp.StatusCode), reference.Reference{}, fmt.Errorf("item lookup failed: %s", resp.Status))
	}

	var items []itemResponse
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return "", provider.NewError(p.Name(), provider.KindTransient, reference.Reference{}, err)
	}
	if len(items) == 0 {
		return "", provider.NewError(p.Name(), provider.KindNotFound, reference.Reference{}, fmt.Errorf("item %q not found in vault", nameOrID))
	}

	p.mu.Lock()
	p.itemIDs[key] = items[0].ID
	p.mu.Unlock()
	return items[0].ID, nil
}

func (p *Provider) FetchOne(ctx context.Context, ref reference.Reference) (*secure.ResolvedSecret, error) {
	if ref.Kind != reference.KindOnePassword {
		return nil, provider.NewError(p.Name(), provider.KindUnsupported, ref, fmt.Errorf("not an op:// reference"))
	}
	opRef := ref.OnePass

	vaultID, err := p.resolveVaultID(ctx, opRef.Vault)
	if err != nil {
		return nil, err
	}
	itemID, err := p.resolveItemID(ctx, vaultID, opRef.Item)
	if err != nil {
		return nil, err
	}

	req, err := p.newRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/vaults/%s/items/%s", vaultID, itemID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, provider.NewError(p.Name(), provider.KindTransient, ref, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, provider.NewError(p.Name(), provider.KindNotFound, ref, fmt.Errorf("item not found"))
	case http.StatusUnauthorized:
		return nil, provider.NewError(p.Name(), provider.KindAuthFailure, ref, fmt.Errorf("invalid token"))
	default:
		return nil, provider.NewError(p.Name(), statusToKind(resp.StatusCode), ref, fmt.Errorf("connect api error: %s", resp.Status))
	}

	var detail connectItemDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, provider.NewError(p.Name(), provider.KindTransient, ref, err)
	}

	for _, f := range detail.Fields {
		if f.ID == opRef.Field || f.Label == opRef.Field {
			secret, err := secure.NewResolvedSecret([]byte(f.Value))
			if err != nil {
				return nil, provider.NewError(p.Name(), provider.KindTransient, ref, err)
			}
			return secret, nil
		}
	}
	return nil, provider.NewError(p.Name(), provider.KindNotFound, ref, fmt.Errorf("field %q not found", opRef.Field))
}

// FetchMany fetches each reference concurrently, capped at MaxConcurrent.
// Vault and item IDs are cached as each FetchOne looks them up; nothing is
// looked up ahead of the fetches.
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
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return provider.KindAuthFailure
	case code == http.StatusNotFound:
		return provider.KindNotFound
	case code == http.StatusTooManyRequests:
		return provider.KindQuotaExceeded
	case code >= 500:
		return provider.KindTransient
	default:
		return provider.KindMalformed
	}
}
