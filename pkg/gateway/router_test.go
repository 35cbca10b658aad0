package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/registry"
)

type fakeStore struct {
	services []registry.Service
}

func (f *fakeStore) Snapshot() []registry.Service { return f.services }

type fakeValidator struct {
	status  int
	headers http.Header
	body    []byte
	err     error
	calls   int
}

func (f *fakeValidator) Validate(_ context.Context, _, _, _ string) (int, http.Header, []byte, error) {
	f.calls++
	return f.status, f.headers, f.body, f.err
}

func TestUnknownPathReturns404WithoutValidatorCall(t *testing.T) {
	store := &fakeStore{}
	validator := &fakeValidator{status: http.StatusOK, headers: http.Header{}}
	router := New(Config{Store: store, Validator: validator, UpstreamTimeout: 0})

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, validator.calls, "no auth sub-request should be attempted for an unroutable path")
}

func TestHealthEndpointBypassesAuth(t *testing.T) {
	store := &fakeStore{}
	validator := &fakeValidator{}
	router := New(Config{Store: store, Validator: validator, UpstreamTimeout: 0})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, validator.calls)
}

func TestMissingCredentialsPropagatesResolverStatus(t *testing.T) {
	store := &fakeStore{
		services: []registry.Service{{
			Name: "weather", Path: "/weather", Enabled: true,
			ProxyPassURL:        "http://upstream.local",
			SupportedTransports: []registry.Transport{registry.TransportStreamableHTTP},
			AuthProvider:        registry.AuthProviderDefault,
		}},
	}
	validator := &fakeValidator{status: http.StatusUnauthorized, headers: http.Header{}, body: []byte(`{"detail":"missing credentials"}`)}
	router := New(Config{Store: store, Validator: validator, UpstreamTimeout: 0})

	req := httptest.NewRequest(http.MethodGet, "/weather/tools/list", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1, validator.calls)
}

func TestForbiddenPrincipalReturns403WithoutUpstreamDial(t *testing.T) {
	store := &fakeStore{
		services: []registry.Service{{
			Name: "finance", Path: "/finance", Enabled: true,
			// Deliberately unroutable upstream: if the proxy were ever
			// dialed the test would hang/err instead of returning 403
			// cleanly, proving no upstream I/O was attempted.
			ProxyPassURL:        "http://127.0.0.1:1",
			SupportedTransports: []registry.Transport{registry.TransportStreamableHTTP},
			AuthProvider:        registry.AuthProviderDefault,
		}},
	}
	validator := &fakeValidator{status: http.StatusForbidden, headers: http.Header{}, body: []byte(`{"detail":"forbidden"}`)}
	router := New(Config{Store: store, Validator: validator, UpstreamTimeout: 0})

	req := httptest.NewRequest(http.MethodGet, "/finance/tools/list", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHappyPathProxiesToUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tools/list", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"), "default provider must strip the client credential before forwarding upstream")
		assert.Equal(t, "Bearer upstream-secret", r.Header.Get("X-Upstream-Auth"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	defer upstream.Close()

	store := &fakeStore{
		services: []registry.Service{{
			Name: "weather", Path: "/weather", Enabled: true,
			ProxyPassURL:        upstream.URL,
			SupportedTransports: []registry.Transport{registry.TransportStreamableHTTP},
			AuthProvider:        registry.AuthProviderDefault,
			HeadersTemplate:     []registry.Header{{Name: "X-Upstream-Auth", Value: "Bearer upstream-secret"}},
		}},
	}
	headers := http.Header{}
	headers.Set("X-User", "alice")
	headers.Set("X-Scopes", "mcp-servers-restricted/read")
	validator := &fakeValidator{status: http.StatusNoContent, headers: headers}
	router := New(Config{Store: store, Validator: validator, UpstreamTimeout: 0})

	req := httptest.NewRequest(http.MethodGet, "/weather/tools/list", nil)
	req.Header.Set("Authorization", "Bearer client-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"result"`)
}

func TestPassthroughProviderPreservesClientAuthorization(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer client-token", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("X-Authorization"), "the internal validation-only header must never leave the gateway")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	store := &fakeStore{
		services: []registry.Service{{
			Name: "passthrough-svc", Path: "/pt", Enabled: true,
			ProxyPassURL:        upstream.URL,
			SupportedTransports: []registry.Transport{registry.TransportStreamableHTTP},
			AuthProvider:        registry.AuthProviderPassthrough,
		}},
	}
	validator := &fakeValidator{status: http.StatusNoContent, headers: http.Header{}}
	router := New(Config{Store: store, Validator: validator, UpstreamTimeout: 0})

	req := httptest.NewRequest(http.MethodGet, "/pt/tools/list", nil)
	req.Header.Set("Authorization", "Bearer client-token")
	req.Header.Set("X-Authorization", "Bearer client-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
