package registryapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/registry"
)

type fakeStore struct{ services []registry.Service }

func (f fakeStore) List(filter registry.Filter) []registry.Service {
	var out []registry.Service
	for _, svc := range f.services {
		if filter.Enabled != nil && svc.Enabled != *filter.Enabled {
			continue
		}
		out = append(out, svc)
	}
	return out
}

func sample(path string, enabled bool) registry.Service {
	return registry.Service{
		Name: "svc" + path, Path: path, Enabled: enabled,
		SupportedTransports: []registry.Transport{registry.TransportStreamableHTTP},
	}
}

func TestListServersHidesDisabledFromNonAdmin(t *testing.T) {
	store := fakeStore{services: []registry.Service{sample("/a", true), sample("/b", false)}}
	h := New(store, "gw")

	req := httptest.NewRequest(http.MethodGet, "/v0.1/servers", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gw::svc/a")
	assert.NotContains(t, rec.Body.String(), "svc/b")
}

func TestListServersShowsDisabledToAdmin(t *testing.T) {
	store := fakeStore{services: []registry.Service{sample("/a", true), sample("/b", false)}}
	h := New(store, "gw")

	req := httptest.NewRequest(http.MethodGet, "/v0.1/servers", nil)
	req.Header.Set("X-Is-Admin", "true")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gw::svc/b")
}

func TestListServersAppliesLimit(t *testing.T) {
	store := fakeStore{}
	for i := 0; i < 5; i++ {
		store.services = append(store.services, sample("/svc"+string(rune('a'+i)), true))
	}
	h := New(store, "")

	req := httptest.NewRequest(http.MethodGet, "/v0.1/servers?limit=2", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Servers, 2)
	assert.NotEmpty(t, body.Metadata.NextCursor)
}

func TestListServersRejectsZeroLimit(t *testing.T) {
	store := fakeStore{services: []registry.Service{sample("/a", true)}}
	h := New(store, "")

	req := httptest.NewRequest(http.MethodGet, "/v0.1/servers?limit=0", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_limit")
}
