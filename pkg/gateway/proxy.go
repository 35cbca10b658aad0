package gateway

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/registry"
)

// rewriteBedrockAgentCoreTarget implements the proxy_pass_url rewrite
// named in spec.md §4.1 for bedrock-agentcore services: strip a
// trailing "/mcp/" suffix, then guarantee the result ends with exactly
// one "/".
func rewriteBedrockAgentCoreTarget(raw string) string {
	raw = strings.TrimSuffix(raw, "/mcp/")
	raw = strings.TrimSuffix(raw, "/mcp")
	return strings.TrimRight(raw, "/") + "/"
}

// targetURL computes the upstream URL a client request to svc should be
// forwarded to, preserving the remainder of the original path after
// svc.Path (spec.md §4.1).
func targetURL(svc *registry.Service, requestPath string) (*url.URL, error) {
	base := svc.ProxyPassURL
	if svc.AuthProvider == registry.AuthProviderBedrockAgentCore {
		base = rewriteBedrockAgentCoreTarget(base)
	}

	target, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing proxy_pass_url %q: %w", base, err)
	}

	remainder := strings.TrimPrefix(requestPath, svc.Path)
	if remainder != "" && !strings.HasPrefix(remainder, "/") {
		remainder = "/" + remainder
	}
	target.Path = strings.TrimSuffix(target.Path, "/") + remainder
	if svc.AuthProvider == registry.AuthProviderBedrockAgentCore && !strings.HasSuffix(target.Path, "/") {
		target.Path += "/"
	}
	return target, nil
}

// newReverseProxy builds a per-request httputil.ReverseProxy targeting
// svc, wiring the auth-provider credential dispatch and error mapping
// described in spec.md §4.1/§7.
func newReverseProxy(svc *registry.Service, upstreamTimeout time.Duration) (*httputil.ReverseProxy, error) {
	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			target, err := targetURL(svc, req.URL.Path)
			if err != nil {
				return // surfaced via ErrorHandler below, Director has no error return
			}
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.URL.Path = target.Path
			req.Host = target.Host
			applyUpstreamCredentials(req, svc)
		},
		Transport: &http.Transport{
			ResponseHeaderTimeout: upstreamTimeout,
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			writeProxyError(w, err)
		},
		FlushInterval: -1, // flush immediately, required for SSE passthrough (spec.md §9)
	}
	return proxy, nil
}

// applyUpstreamCredentials implements the two auth-provider dispatch
// rules of spec.md §4.1: "default" (and "bedrock-agentcore") substitute
// gateway-held credentials from headers_template; "passthrough" leaves
// the client's original Authorization header untouched.
func applyUpstreamCredentials(req *http.Request, svc *registry.Service) {
	switch svc.AuthProvider {
	case registry.AuthProviderPassthrough:
		// Authorization was never touched by the router for passthrough
		// services; forward it exactly as received.
	default:
		req.Header.Del("Authorization")
		for _, h := range svc.HeadersTemplate {
			req.Header.Set(h.Name, h.Value)
		}
	}
}
