package auth

import (
	"net/http"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/apierror"
)

// ValidateHandler implements the internal GET /validate contract of
// spec.md §6: 204 with X-User/X-Username/X-Scopes/X-Auth-Method headers
// on success, or the resolver's own status code with a JSON {"detail"}
// body on failure. The Edge Router forwards the original request path
// via X-Original-Path so a Service-scoped 403 can be decided here,
// where the scope mapping lives, rather than re-derived downstream.
func (r *Resolver) ValidateHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		p, err := r.Validate(req.Context(), req)
		if err != nil {
			apierror.Write(w, err)
			return
		}

		if path := req.Header.Get("X-Original-Path"); path != "" {
			if err := AuthorizeForPath(&p, path); err != nil {
				apierror.Write(w, err)
				return
			}
		}

		w.Header().Set("X-User", p.Username)
		w.Header().Set("X-Username", p.Username)
		w.Header().Set("X-Scopes", p.ScopesHeader())
		w.Header().Set("X-Auth-Method", string(p.AuthMethod))
		if p.IsAdmin {
			w.Header().Set("X-Is-Admin", "true")
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
