// Package registryapi implements the gateway's own read-only catalog
// surface (spec.md §6, class (i) "UI/API for the registry itself"):
// /v0.1/servers and /v0.1/servers/{name}/versions[/{version}], modeled
// on the cursor/metadata pagination shape of the community MCP
// registry client the teacher consumes in pkg/registryapi/client.go,
// but serving this gateway's own Registry Store instead of a remote
// one.
package registryapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/apierror"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/registry"
)

const (
	defaultLimit = 100
	minLimit     = 1
	maxLimit     = 1000
)

// Store is the subset of *registry.Store the catalog API reads.
type Store interface {
	List(registry.Filter) []registry.Service
}

// Handler serves the /v0.1/servers family of endpoints. Namespace
// prefixes every Service's flattened "name" in list responses, letting
// one gateway present its catalog under a configurable scheme (e.g.
// "mcp-gateway-registry::weather") without renaming the underlying
// Service record.
type Handler struct {
	store     Store
	namespace string
}

// New builds a catalog Handler.
func New(store Store, namespace string) *Handler {
	return &Handler{store: store, namespace: namespace}
}

// serverSummary is the flattened, namespaced view of a Service exposed
// by the catalog API.
type serverSummary struct {
	Name         string   `json:"name"`
	Path         string   `json:"path"`
	Description  string   `json:"description"`
	Tags         []string `json:"tags,omitempty"`
	Transports   []string `json:"supported_transports"`
	NumTools     int      `json:"num_tools"`
	HealthStatus string   `json:"health_status"`
}

type listResponse struct {
	Servers  []serverSummary `json:"servers"`
	Metadata struct {
		NextCursor string `json:"next_cursor,omitempty"`
	} `json:"metadata"`
}

func (h *Handler) flatten(svc registry.Service) serverSummary {
	transports := make([]string, len(svc.SupportedTransports))
	for i, t := range svc.SupportedTransports {
		transports[i] = string(t)
	}
	name := svc.Name
	if h.namespace != "" {
		name = h.namespace + "::" + svc.Name
	}
	return serverSummary{
		Name:         name,
		Path:         svc.Path,
		Description:  svc.Description,
		Tags:         svc.Tags,
		Transports:   transports,
		NumTools:     len(svc.Tools),
		HealthStatus: string(svc.Health.Status),
	}
}

// ServeHTTP routes GET /v0.1/servers and GET /v0.1/servers/{name}/versions[/{version}].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		apierror.Write(w, apierror.ErrNotFound)
		return
	}

	trimmed := strings.TrimPrefix(r.URL.Path, "/v0.1/servers")
	trimmed = strings.Trim(trimmed, "/")

	switch {
	case trimmed == "":
		h.listServers(w, r)
	case strings.Contains(trimmed, "/versions"):
		h.serverVersions(w, r, trimmed)
	default:
		apierror.Write(w, apierror.ErrNotFound)
	}
}

// listServers implements GET /v0.1/servers with cursor-based pagination
// over the Store's enabled Services, sorted by path (the Store's own
// List ordering), hiding disabled Services from non-admin callers.
func (h *Handler) listServers(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		apierror.Write(w, err)
		return
	}
	cursor := decodeCursor(r.URL.Query().Get("cursor"))

	isAdmin := isAdminRequest(r)

	var filter registry.Filter
	if !isAdmin {
		enabledTrue := true
		filter.Enabled = &enabledTrue
	}
	all := h.store.List(filter)

	start := 0
	if cursor != "" {
		for i, svc := range all {
			if svc.Path == cursor {
				start = i + 1
				break
			}
		}
	}

	end := start + limit
	var nextCursor string
	if end < len(all) {
		nextCursor = all[end-1].Path
	} else {
		end = len(all)
	}

	page := all[start:end]
	resp := listResponse{Servers: make([]serverSummary, 0, len(page))}
	for _, svc := range page {
		resp.Servers = append(resp.Servers, h.flatten(svc))
	}
	resp.Metadata.NextCursor = encodeCursor(nextCursor)

	writeJSON(w, http.StatusOK, resp)
}

// serverVersions implements GET /v0.1/servers/{name}/versions and
// /v0.1/servers/{name}/versions/{version}. This gateway has no
// multi-version server model, so every Service answers with exactly
// one "version": its current registered state.
func (h *Handler) serverVersions(w http.ResponseWriter, r *http.Request, trimmed string) {
	parts := strings.SplitN(trimmed, "/versions", 2)
	name := parts[0]

	isAdmin := isAdminRequest(r)
	var filter registry.Filter
	if !isAdmin {
		enabledTrue := true
		filter.Enabled = &enabledTrue
	}

	var found *registry.Service
	for _, svc := range h.store.List(filter) {
		if svc.Name == name {
			s := svc
			found = &s
			break
		}
	}
	if found == nil {
		apierror.Write(w, apierror.ErrNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"versions": []serverSummary{h.flatten(*found)},
	})
}

func isAdminRequest(r *http.Request) bool {
	return r.Header.Get("X-Is-Admin") == "true"
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultLimit, nil
	}
	if n < minLimit {
		return 0, apierror.New(http.StatusBadRequest, "invalid_limit", "limit must be at least 1")
	}
	if n > maxLimit {
		return maxLimit, nil
	}
	return n, nil
}

func decodeCursor(raw string) string {
	if raw == "" {
		return ""
	}
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return ""
	}
	return string(decoded)
}

func encodeCursor(path string) string {
	if path == "" {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(path))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
