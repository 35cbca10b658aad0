package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/apierror"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/metrics"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/registry"
)

// RegistryReader is the subset of *registry.Store the Router consults
// on its hot path.
type RegistryReader interface {
	Snapshot() []registry.Service
}

// Router is the Edge Router (component A).
type Router struct {
	store           RegistryReader
	validator       AuthValidator
	upstreamTimeout time.Duration
	catalogHandler  http.Handler // (i) /v0.1/...
	adminHandler    http.Handler // (i) /admin/...
	metrics         *metrics.Recorder
}

// Config configures a Router.
type Config struct {
	Store           RegistryReader
	Validator       AuthValidator
	UpstreamTimeout time.Duration
	CatalogHandler  http.Handler
	AdminHandler    http.Handler
	Metrics         *metrics.Recorder
}

// New builds a Router from cfg.
func New(cfg Config) *Router {
	return &Router{
		store:           cfg.Store,
		validator:       cfg.Validator,
		upstreamTimeout: cfg.UpstreamTimeout,
		catalogHandler:  cfg.CatalogHandler,
		adminHandler:    cfg.AdminHandler,
		metrics:         cfg.Metrics,
	}
}

// validationCredential picks the header carrying the credential used
// for the internal auth sub-request: X-Authorization if the client (or
// a passthrough Service's caller) already set it, else Authorization.
func validationCredential(r *http.Request) string {
	if v := r.Header.Get("X-Authorization"); v != "" {
		return v
	}
	return r.Header.Get("Authorization")
}

// validationCookie returns the inbound request's session cookie value,
// if any, for the internal auth sub-request's credential mode 2.
func validationCookie(r *http.Request) string {
	c, err := r.Cookie("mcp_gateway_session")
	if err != nil {
		return ""
	}
	return c.Value
}

// ServeHTTP implements the route(request) → response contract of
// spec.md §4.1.
func (router *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	enabled := router.store.Snapshot()
	class, svc := classify(r.URL.Path, enabled)

	switch class {
	case classHealth:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return

	case classUnknown:
		apierror.Write(w, apierror.ErrNotFound)
		return

	case classInternalAPI:
		router.serveInternalAPI(w, r)
		return

	case classProxiedMCP:
		router.serveProxied(w, r, svc, start)
		return
	}
}

func (router *Router) serveInternalAPI(w http.ResponseWriter, r *http.Request) {
	status, headers, body, err := router.validator.Validate(r.Context(), validationCredential(r), validationCookie(r), "")
	if err != nil {
		apierror.Write(w, apierror.Wrap(http.StatusInternalServerError, "resolver_unreachable", "auth resolver unreachable", err))
		return
	}
	if status/100 != 2 {
		forwardFailure(w, status, body)
		return
	}
	copyPrincipalHeaders(r, headers)

	switch {
	case strings.HasPrefix(r.URL.Path, "/admin/"):
		if router.adminHandler == nil {
			apierror.Write(w, apierror.ErrNotFound)
			return
		}
		router.adminHandler.ServeHTTP(w, r)
	default:
		if router.catalogHandler == nil {
			apierror.Write(w, apierror.ErrNotFound)
			return
		}
		router.catalogHandler.ServeHTTP(w, r)
	}
}

func (router *Router) serveProxied(w http.ResponseWriter, r *http.Request, svc *registry.Service, start time.Time) {
	status, headers, body, err := router.validator.Validate(r.Context(), validationCredential(r), validationCookie(r), svc.Path)
	if err != nil {
		apierror.Write(w, apierror.Wrap(http.StatusInternalServerError, "resolver_unreachable", "auth resolver unreachable", err))
		return
	}
	if status/100 != 2 {
		forwardFailure(w, status, body)
		return
	}
	copyPrincipalHeaders(r, headers)
	stripInternalHeaders(r, svc)

	proxy, err := newReverseProxy(svc, router.upstreamTimeout)
	if err != nil {
		apierror.Write(w, apierror.Wrap(http.StatusInternalServerError, "bad_upstream_config", "misconfigured auth provider for this service", err))
		return
	}

	ctx := r.Context()
	if router.upstreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, router.upstreamTimeout)
		defer cancel()
	}

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	proxy.ServeHTTP(rec, r.WithContext(ctx))

	if router.metrics != nil {
		router.metrics.ObserveProxyRequest(svc.Path, rec.status, time.Since(start))
	}
}

func copyPrincipalHeaders(r *http.Request, headers http.Header) {
	for _, h := range []string{"X-User", "X-Username", "X-Scopes", "X-Auth-Method", "X-Is-Admin"} {
		r.Header.Del(h)
		if v := headers.Get(h); v != "" {
			r.Header.Set(h, v)
		}
	}
}

func stripInternalHeaders(r *http.Request, svc *registry.Service) {
	r.Header.Del("X-Authorization")
	stripGatewaySessionCookie(r)
	if svc.AuthProvider == registry.AuthProviderPassthrough {
		return
	}
	r.Header.Del("Authorization")
}

// stripGatewaySessionCookie removes only the gateway's own session
// cookie from an outbound Cookie header, leaving any other cookies the
// client sent untouched.
func stripGatewaySessionCookie(r *http.Request) {
	cookies := r.Cookies()
	if len(cookies) == 0 {
		return
	}
	r.Header.Del("Cookie")
	for _, c := range cookies {
		if c.Name == "mcp_gateway_session" {
			continue
		}
		r.AddCookie(c)
	}
}

func forwardFailure(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeProxyError(w http.ResponseWriter, err error) {
	base := apierror.ErrBadGateway
	if isTimeout(err) {
		base = apierror.ErrGatewayTimeout
	}
	apierror.Write(w, apierror.Wrap(base.Status, base.Code, "upstream server unreachable: "+err.Error(), err))
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return strings.Contains(err.Error(), "deadline exceeded")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.NewResponseController reach the real ResponseWriter's
// Flusher, so ReverseProxy's FlushInterval:-1 SSE streaming isn't
// silently swallowed by this wrapper.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
