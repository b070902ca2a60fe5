package bws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpbradley/locket/internal/provider"
	"github.com/bpbradley/locket/internal/reference"
)

const testUUID = "bfe1d886-e0d5-4bde-953e-b1a2005a3af0"

func newTestServer(t *testing.T, secretValue string, secretStatus int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/connect/token":
			json.NewEncoder(w).Encode(loginResponse{AccessToken: "bearer-token", ExpiresIn: 60})
		case r.URL.Path == "/secrets/"+testUUID:
			w.WriteHeader(secretStatus)
			if secretStatus == http.StatusOK {
				json.NewEncoder(w).Encode(secretResponse{ID: testUUID, Value: secretValue})
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestNew_RejectsEmptyAccessToken(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestNew_LogsInSuccessfully(t *testing.T) {
	srv := newTestServer(t, "p4ss", http.StatusOK)
	defer srv.Close()

	p, err := New(context.Background(), Config{IdentityURL: srv.URL, APIURL: srv.URL, AccessToken: "0.client-id.client-secret"})
	require.NoError(t, err)
	assert.Equal(t, provider.NameBws, p.Name())
}

func TestFetchOne_ReturnsSecretValue(t *testing.T) {
	srv := newTestServer(t, "p4ss", http.StatusOK)
	defer srv.Close()
	p, err := New(context.Background(), Config{IdentityURL: srv.URL, APIURL: srv.URL, AccessToken: "0.id.secret"})
	require.NoError(t, err)

	ref, ok := reference.Parse(testUUID)
	require.True(t, ok)

	secret, err := p.FetchOne(context.Background(), ref)
	require.NoError(t, err)
	var got string
	require.NoError(t, secret.Use(func(b []byte) error { got = string(b); return nil }))
	assert.Equal(t, "p4ss", got)
}

func TestFetchOne_NotFoundMapsToKindNotFound(t *testing.T) {
	srv := newTestServer(t, "", http.StatusNotFound)
	defer srv.Close()
	p, err := New(context.Background(), Config{IdentityURL: srv.URL, APIURL: srv.URL, AccessToken: "0.id.secret"})
	require.NoError(t, err)

	ref, ok := reference.Parse(testUUID)
	require.True(t, ok)

	_, err = p.FetchOne(context.Background(), ref)
	require.Error(t, err)
	perr, ok := err.(*provider.Error)
	require.True(t, ok)
	assert.Equal(t, provider.KindNotFound, perr.Kind)
}

func TestFetchOne_ForbiddenMapsToPermissionDenied(t *testing.T) {
	srv := newTestServer(t, "", http.StatusForbidden)
	defer srv.Close()
	p, err := New(context.Background(), Config{IdentityURL: srv.URL, APIURL: srv.URL, AccessToken: "0.id.secret"})
	require.NoError(t, err)

	ref, ok := reference.Parse(testUUID)
	require.True(t, ok)

	_, err = p.FetchOne(context.Background(), ref)
	require.Error(t, err)
	perr, ok := err.(*provider.Error)
	require.True(t, ok)
	assert.Equal(t, provider.KindPermissionDenied, perr.Kind)
}

func TestFetchOne_ServerErrorMapsToTransient(t *testing.T) {
	srv := newTestServer(t, "", http.StatusInternalServerError)
	defer srv.Close()
	p, err := New(context.Background(), Config{IdentityURL: srv.URL, APIURL: srv.URL, AccessToken: "0.id.secret"})
	require.NoError(t, err)

	ref, ok := reference.Parse(testUUID)
	require.True(t, ok)

	_, err = p.FetchOne(context.Background(), ref)
	require.Error(t, err)
	perr, ok := err.(*provider.Error)
	require.True(t, ok)
	assert.Equal(t, provider.KindTransient, perr.Kind)
	assert.True(t, perr.Retryable())
}

func TestFetchOne_TooManyRequestsMapsToQuotaExceeded(t *testing.T) {
	srv := newTestServer(t, "", http.StatusTooManyRequests)
	defer srv.Close()
	p, err := New(context.Background(), Config{IdentityURL: srv.URL, APIURL: srv.URL, AccessToken: "0.id.secret"})
	require.NoError(t, err)

	ref, ok := reference.Parse(testUUID)
	require.True(t, ok)

	_, err = p.FetchOne(context.Background(), ref)
	require.Error(t, err)
	perr, ok := err.(*provider.Error)
	require.True(t, ok)
	assert.Equal(t, provider.KindQuotaExceeded, perr.Kind)
}

func TestFetchMany_ResolvesAllReferencesConcurrently(t *testing.T) {
	srv := newTestServer(t, "p4ss", http.StatusOK)
	defer srv.Close()
	p, err := New(context.Background(), Config{IdentityURL: srv.URL, APIURL: srv.URL, AccessToken: "0.id.secret"})
	require.NoError(t, err)

	ref, ok := reference.Parse(testUUID)
	require.True(t, ok)

	results, err := p.FetchMany(context.Background(), []reference.Reference{ref})
	require.NoError(t, err)
	require.Contains(t, results, ref)
}

func TestAccepts_OnlyBwsKind(t *testing.T) {
	srv := newTestServer(t, "p4ss", http.StatusOK)
	defer srv.Close()
	p, err := New(context.Background(), Config{IdentityURL: srv.URL, APIURL: srv.URL, AccessToken: "0.id.secret"})
	require.NoError(t, err)

	assert.True(t, p.Accepts(reference.KindBws))
	assert.False(t, p.Accepts(reference.KindInfisical))
}
