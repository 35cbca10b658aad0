package adminapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/health"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/registry"
)

type fakeRegistry struct {
	registered []registry.Service
	removed    []string
	enabled    map[string]bool
}

func (f *fakeRegistry) Register(s registry.Service) error {
	f.registered = append(f.registered, s)
	return nil
}
func (f *fakeRegistry) Remove(path string) error {
	f.removed = append(f.removed, path)
	return nil
}
func (f *fakeRegistry) SetEnabled(path string, enabled bool) error {
	if f.enabled == nil {
		f.enabled = map[string]bool{}
	}
	f.enabled[path] = enabled
	return nil
}
func (f *fakeRegistry) GetByPath(path string) (registry.Service, error) {
	return registry.Service{Path: path}, nil
}
func (f *fakeRegistry) UpdateHealth(string, registry.HealthState, []registry.Tool) error { return nil }

type fakeScopes struct {
	added   []string
	removed []string
}

func (f *fakeScopes) AddServerToScope(scope, service string, tools []string) error {
	f.added = append(f.added, scope+":"+service)
	return nil
}
func (f *fakeScopes) RemoveServerFromScope(scope, service string) error {
	f.removed = append(f.removed, scope+":"+service)
	return nil
}

func TestAdminEndpointsRejectNonAdmin(t *testing.T) {
	h := New(&fakeRegistry{}, &fakeScopes{}, health.NewProber(nil, nil, 0, "", ""))
	req := httptest.NewRequest(http.MethodPost, "/admin/services", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRegisterServiceDelegatesToStore(t *testing.T) {
	reg := &fakeRegistry{}
	h := New(reg, &fakeScopes{}, health.NewProber(nil, nil, 0, "", ""))

	body := `{"name":"weather","path":"/weather","proxy_pass_url":"http://up","supported_transports":["streamable-http"],"auth_provider":"default"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/services", bytes.NewReader([]byte(body)))
	req.Header.Set("X-Is-Admin", "true")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, reg.registered, 1)
	assert.Equal(t, "/weather", reg.registered[0].Path)
}

func TestAddServerToScopeDelegates(t *testing.T) {
	scopes := &fakeScopes{}
	h := New(&fakeRegistry{}, scopes, health.NewProber(nil, nil, 0, "", ""))

	req := httptest.NewRequest(http.MethodPost, "/admin/scopes/mcp-servers-restricted/read", bytes.NewReader([]byte(`{"service":"/weather"}`)))
	req.Header.Set("X-Is-Admin", "true")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, scopes.added, 1)
}
