// Package adminapi implements the gateway's mutating admin surface
// (spec.md §6, class (i)): register/remove a Service, flip its enabled
// flag, edit scope-group membership, and trigger an ad hoc health
// check. The Edge Router forwards a request here once its auth
// sub-request succeeds for any authenticated caller, and sets
// X-Is-Admin: true only when the Auth Resolver reported an admin
// Principal; ServeHTTP rejects every request without that header.
package adminapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/apierror"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/health"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/registry"
)

// RegistryStore is the subset of *registry.Store the admin API
// mutates.
type RegistryStore interface {
	Register(registry.Service) error
	Remove(path string) error
	SetEnabled(path string, enabled bool) error
	GetByPath(path string) (registry.Service, error)
	UpdateHealth(path string, state registry.HealthState, tools []registry.Tool) error
}

// ScopeEditor is the subset of *registry.ScopeStore the admin API
// mutates to add or remove a Service from a scope's grant list.
type ScopeEditor interface {
	AddServerToScope(scope, service string, tools []string) error
	RemoveServerFromScope(scope, service string) error
}

// Handler serves the /admin/ mutating endpoints.
type Handler struct {
	store  RegistryStore
	scopes ScopeEditor
	prober *health.Prober
}

// New builds an admin Handler.
func New(store RegistryStore, scopes ScopeEditor, prober *health.Prober) *Handler {
	return &Handler{store: store, scopes: scopes, prober: prober}
}

// ServeHTTP routes every /admin/... request this package recognizes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		apierror.Write(w, apierror.ErrForbidden)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/admin")
	switch {
	case path == "/services" && r.Method == http.MethodPost:
		h.registerService(w, r)
	case strings.HasPrefix(path, "/services/") && r.Method == http.MethodDelete:
		h.removeService(w, r, strings.TrimPrefix(path, "/services"))
	case strings.HasPrefix(path, "/services/") && strings.HasSuffix(path, "/enabled") && r.Method == http.MethodPut:
		h.setEnabled(w, r, strings.TrimSuffix(strings.TrimPrefix(path, "/services"), "/enabled"))
	case strings.HasPrefix(path, "/services/") && strings.HasSuffix(path, "/healthcheck") && r.Method == http.MethodPost:
		h.healthCheck(w, r, strings.TrimSuffix(strings.TrimPrefix(path, "/services"), "/healthcheck"))
	case strings.HasPrefix(path, "/scopes/") && r.Method == http.MethodPost:
		h.addServerToScope(w, r, strings.TrimPrefix(path, "/scopes/"))
	case strings.HasPrefix(path, "/scopes/") && r.Method == http.MethodDelete:
		h.removeServerFromScope(w, r, strings.TrimPrefix(path, "/scopes/"))
	default:
		apierror.Write(w, apierror.ErrNotFound)
	}
}

func isAdmin(r *http.Request) bool {
	return r.Header.Get("X-Is-Admin") == "true"
}

func (h *Handler) registerService(w http.ResponseWriter, r *http.Request) {
	var svc registry.Service
	if err := json.NewDecoder(r.Body).Decode(&svc); err != nil {
		apierror.Write(w, apierror.Wrap(http.StatusBadRequest, "invalid_body", "could not parse service document", err))
		return
	}
	if err := h.store.Register(svc); err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, svc)
}

func (h *Handler) removeService(w http.ResponseWriter, r *http.Request, path string) {
	if err := h.store.Remove(path); err != nil {
		writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type enabledBody struct {
	Enabled bool `json:"enabled"`
}

func (h *Handler) setEnabled(w http.ResponseWriter, r *http.Request, path string) {
	var body enabledBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierror.Write(w, apierror.Wrap(http.StatusBadRequest, "invalid_body", "could not parse enabled flag", err))
		return
	}
	if err := h.store.SetEnabled(path, body.Enabled); err != nil {
		writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request, path string) {
	svc, err := h.store.GetByPath(path)
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	result := h.prober.Probe(r.Context(), svc)
	state := registry.HealthState{Status: result.Status, Reason: result.Reason}
	var tools []registry.Tool
	if result.Status == registry.HealthHealthy {
		tools = result.Tools
		state.NumTools = len(tools)
	}
	if err := h.store.UpdateHealth(path, state, tools); err != nil {
		apierror.Write(w, apierror.Wrap(http.StatusInternalServerError, "persist_failed", "probed service but failed to record result", err))
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type scopeGrantBody struct {
	Service string   `json:"service"`
	Tools   []string `json:"tools,omitempty"`
}

// addServerToScope implements POST /admin/scopes/{scope}, granting the
// request body's service (and optional tool subset) access under that
// scope (spec.md §6's add_server_to_scopes_groups operation).
func (h *Handler) addServerToScope(w http.ResponseWriter, r *http.Request, scope string) {
	var body scopeGrantBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierror.Write(w, apierror.Wrap(http.StatusBadRequest, "invalid_body", "could not parse scope grant", err))
		return
	}
	if body.Service == "" {
		apierror.Write(w, apierror.Wrap(http.StatusBadRequest, "invalid_body", "service is required", nil))
		return
	}
	if err := h.scopes.AddServerToScope(scope, body.Service, body.Tools); err != nil {
		apierror.Write(w, apierror.Wrap(http.StatusInternalServerError, "scope_write_failed", "failed to update scope mapping", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// removeServerFromScope implements DELETE /admin/scopes/{scope}?service=...
func (h *Handler) removeServerFromScope(w http.ResponseWriter, r *http.Request, scope string) {
	service := r.URL.Query().Get("service")
	if service == "" {
		apierror.Write(w, apierror.Wrap(http.StatusBadRequest, "invalid_request", "service query parameter is required", nil))
		return
	}
	if err := h.scopes.RemoveServerFromScope(scope, service); err != nil {
		apierror.Write(w, apierror.Wrap(http.StatusInternalServerError, "scope_write_failed", "failed to update scope mapping", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeRegistryError(w http.ResponseWriter, err error) {
	switch err.(type) {
	case *registry.ErrConflict:
		apierror.Write(w, apierror.Wrap(http.StatusConflict, "conflict", err.Error(), err))
	case *registry.ErrNotFound:
		apierror.Write(w, apierror.ErrNotFound)
	case *registry.ErrForbiddenByScanStatus:
		apierror.Write(w, apierror.Wrap(http.StatusForbidden, "scan_status_forbids_enable", err.Error(), err))
	default:
		apierror.Write(w, apierror.Wrap(http.StatusBadRequest, "invalid_request", err.Error(), err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
