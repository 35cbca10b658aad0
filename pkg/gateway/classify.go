package gateway

import (
	"sort"
	"strings"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/registry"
)

// requestClass is the URL-prefix classification from spec.md §4.1.
type requestClass int

const (
	classUnknown requestClass = iota
	classHealth
	classInternalAPI // (i) UI/API for the registry itself (catalog, admin)
	classProxiedMCP  // (iii) proxied MCP traffic to a registered Service
)

// matchService performs the longest-prefix match over enabled Services
// required by spec.md §4.1, breaking ties lexicographically (excluded
// in practice by the path-uniqueness invariant).
func matchService(enabled []registry.Service, path string) (*registry.Service, bool) {
	candidates := make([]registry.Service, 0, len(enabled))
	for _, svc := range enabled {
		if !svc.Enabled {
			continue
		}
		if path == svc.Path || strings.HasPrefix(path, svc.Path+"/") {
			candidates = append(candidates, svc)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if len(candidates[i].Path) != len(candidates[j].Path) {
			return len(candidates[i].Path) > len(candidates[j].Path)
		}
		return candidates[i].Path < candidates[j].Path
	})
	match := candidates[0]
	return &match, true
}

// internalAPIPrefixes are the path prefixes classified as (i) UI/API
// for the registry itself: the catalog surface and the admin surface,
// both of which require an auth sub-request before further dispatch.
var internalAPIPrefixes = []string{"/v0.1/", "/admin/"}

func isInternalAPIPath(path string) bool {
	for _, p := range internalAPIPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func classify(path string, enabled []registry.Service) (requestClass, *registry.Service) {
	if path == "/health" {
		return classHealth, nil
	}
	if svc, ok := matchService(enabled, path); ok {
		return classProxiedMCP, svc
	}
	if isInternalAPIPath(path) {
		return classInternalAPI, nil
	}
	return classUnknown, nil
}
