package connect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpbradley/locket/internal/provider"
	"github.com/bpbradley/locket/internal/reference"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/vaults", func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("filter")
		if filter == "" {
			json.NewEncoder(w).Encode([]vaultResponse{{ID: "v1"}})
			return
		}
		if filter == `name eq "Personal"` {
			json.NewEncoder(w).Encode([]vaultResponse{{ID: "v1"}})
			return
		}
		json.NewEncoder(w).Encode([]vaultResponse{})
	})
	mux.HandleFunc("/v1/vaults/v1/items", func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("filter")
		if filter == `title eq "MyItem"` {
			json.NewEncoder(w).Encode([]itemResponse{{ID: "i1"}})
			return
		}
		json.NewEncoder(w).Encode([]itemResponse{})
	})
	mux.HandleFunc("/v1/vaults/v1/items/i1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(connectItemDetail{Fields: []connectField{
			{ID: "password", Label: "password", Value: "s3cr3t"},
		}})
	})
	return httptest.NewServer(mux)
}

func TestNew_ValidatesConnectivityAtConstruction(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	p, err := New(context.Background(), Config{Host: srv.URL, Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, provider.NameConnect, p.Name())
}

func TestNew_RejectsMissingToken(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	_, err := New(context.Background(), Config{Host: srv.URL})
	assert.Error(t, err)
}

func TestNew_UnauthorizedIsAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(context.Background(), Config{Host: srv.URL, Token: "bad"})
	require.Error(t, err)
	perr, ok := err.(*provider.Error)
	require.True(t, ok)
	assert.Equal(t, provider.KindAuthFailure, perr.Kind)
}

func TestFetchOne_ResolvesFieldByVaultAndItemName(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	p, err := New(context.Background(), Config{Host: srv.URL, Token: "tok"})
	require.NoError(t, err)

	ref, ok := reference.Parse("op://Personal/MyItem/password")
	require.True(t, ok)

	secret, err := p.FetchOne(context.Background(), ref)
	require.NoError(t, err)
	var got string
	require.NoError(t, secret.Use(func(b []byte) error { got = string(b); return nil }))
	assert.Equal(t, "s3cr3t", got)
}

func TestFetchOne_UnknownVaultIsNotFound(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	p, err := New(context.Background(), Config{Host: srv.URL, Token: "tok"})
	require.NoError(t, err)

	ref, ok := reference.Parse("op://Missing/MyItem/password")
	require.True(t, ok)

	_, err = p.FetchOne(context.Background(), ref)
	require.Error(t, err)
	perr, ok := err.(*provider.Error)
	require.True(t, ok)
	assert.Equal(t, provider.KindNotFound, perr.Kind)
}

func TestFetchOne_UnknownFieldIsNotFound(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	p, err := New(context.Background(), Config{Host: srv.URL, Token: "tok"})
	require.NoError(t, err)

	ref, ok := reference.Parse("op://Personal/MyItem/nonexistent")
	require.True(t, ok)

	_, err = p.FetchOne(context.Background(), ref)
	require.Error(t, err)
	perr, ok := err.(*provider.Error)
	require.True(t, ok)
	assert.Equal(t, provider.KindNotFound, perr.Kind)
}

func TestFetchOne_CachesVaultAndItemIDsAcrossCalls(t *testing.T) {
	lookups := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/vaults", func(w http.ResponseWriter, r *http.Request) {
		lookups++
		json.NewEncoder(w).Encode([]vaultResponse{{ID: "v1"}})
	})
	mux.HandleFunc("/v1/vaults/v1/items", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]itemResponse{{ID: "i1"}})
	})
	mux.HandleFunc("/v1/vaults/v1/items/i1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(connectItemDetail{Fields: []connectField{{ID: "password", Value: "s3cr3t"}}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, err := New(context.Background(), Config{Host: srv.URL, Token: "tok"})
	require.NoError(t, err)
	baselineLookups := lookups

	ref, ok := reference.Parse("op://Personal/MyItem/password")
	require.True(t, ok)

	_, err = p.FetchOne(context.Background(), ref)
	require.NoError(t, err)
	_, err = p.FetchOne(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, baselineLookups+1, lookups, "vault lookup for the same name should be served from cache on the second fetch")
}

func TestFetchMany_ResolvesAllReferences(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	p, err := New(context.Background(), Config{Host: srv.URL, Token: "tok"})
	require.NoError(t, err)

	ref, ok := reference.Parse("op://Personal/MyItem/password")
	require.True(t, ok)

	results, err := p.FetchMany(context.Background(), []reference.Reference{ref})
	require.NoError(t, err)
	assert.Contains(t, results, ref)
}

func TestAccepts_OnlyOnePasswordKind(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	p, err := New(context.Background(), Config{Host: srv.URL, Token: "tok"})
	require.NoError(t, err)

	assert.True(t, p.Accepts(reference.KindOnePassword))
	assert.False(t, p.Accepts(reference.KindInfisical))
}

func TestStatusToKind_MapsKnownStatusCodes(t *testing.T) {
	cases := map[int]provider.ErrorKind{
		http.StatusUnauthorized:     provider.KindAuthFailure,
		http.StatusForbidden:        provider.KindAuthFailure,
		http.StatusNotFound:         provider.KindNotFound,
		http.StatusTooManyRequests:  provider.KindQuotaExceeded,
		http.StatusInternalServerError: provider.KindTransient,
		http.StatusBadRequest:       provider.KindMalformed,
	}
	for code, want := range cases {
		t.Run(fmt.Sprintf("status_%d", code), func(t *testing.T) {
			assert.Equal(t, want, statusToKind(code))
		})
	}
}
