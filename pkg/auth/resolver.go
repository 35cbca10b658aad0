package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/apierror"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/registry"
)

// ScopeSource is the subset of registry.ScopeStore the Resolver needs,
// kept as an interface so tests can stub it without a real scopes.yml.
type ScopeSource interface {
	Current() *registry.ScopeMapping
}

// Resolver is the Auth Resolver (component B): it implements
// validate(bearer_token | session_cookie) → Principal | AuthError for
// every auth sub-request the Edge Router issues, per spec.md §4.2.
type Resolver struct {
	verifiers    *IssuerVerifiers
	scopes       ScopeSource
	principals   *PrincipalCache
	cookies      *CookieStore
	adminGroups  map[string]bool
	registryIss  string // issuer string used for registry-minted tokens
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCookieStore enables credential mode 2 (opaque session cookie).
func WithCookieStore(store *CookieStore) Option {
	return func(r *Resolver) { r.cookies = store }
}

// New builds a Resolver. adminGroups identifies groups whose members
// get implicit access to every Service/tool (spec.md §4.2 Administrative
// bypass).
func New(verifiers *IssuerVerifiers, scopes ScopeSource, principalTTL time.Duration, adminGroups []string, opts ...Option) *Resolver {
	admin := make(map[string]bool, len(adminGroups))
	for _, g := range adminGroups {
		admin[g] = true
	}
	r := &Resolver{
		verifiers:   verifiers,
		scopes:      scopes,
		principals:  NewPrincipalCache(principalTTL),
		adminGroups: admin,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type claims struct {
	Subject           string   `json:"sub"`
	PreferredUsername string   `json:"preferred_username"`
	Groups            []string `json:"groups"`
	Scope             string   `json:"scope"`
}

// Validate implements the /validate contract of spec.md §6: given the
// request's credential (bearer token, preferring X-Authorization when
// the Edge Router has already relocated it there; otherwise a session
// cookie), return a resolved Principal or a typed *apierror.Error.
func (r *Resolver) Validate(ctx context.Context, req *http.Request) (Principal, error) {
	if token := bearerToken(req); token != "" {
		return r.validateBearer(ctx, token)
	}
	if r.cookies != nil {
		if c, err := req.Cookie("mcp_gateway_session"); err == nil {
			return r.validateCookie(ctx, c.Value)
		}
	}
	return Principal{}, apierror.ErrCredentialInvalid
}

func bearerToken(req *http.Request) string {
	h := req.Header.Get("X-Authorization")
	if h == "" {
		h = req.Header.Get("Authorization")
	}
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

func (r *Resolver) validateBearer(ctx context.Context, token string) (Principal, error) {
	cacheKey := SignatureKey(token)
	if cached, ok := r.principals.Get(cacheKey); ok {
		return cached, nil
	}

	idToken, err := r.verifiers.VerifyAny(ctx, token)
	if err != nil {
		return Principal{}, apierror.Wrap(apierror.ErrCredentialInvalid.Status, apierror.ErrCredentialInvalid.Code, classifyVerifyError(err), err)
	}

	var c claims
	if err := idToken.Claims(&c); err != nil {
		return Principal{}, apierror.Wrap(apierror.ErrMalformedClaims.Status, apierror.ErrMalformedClaims.Code, apierror.ErrMalformedClaims.Detail, err)
	}

	username := c.PreferredUsername
	if username == "" {
		username = c.Subject
	}

	scopes := r.scopes.Current().ScopesForGroups(c.Groups)
	scopes = unionScopes(scopes, strings.Fields(c.Scope))

	p := r.buildPrincipal(username, c.Groups, scopes, MethodOIDCBearer, idToken.Issuer)
	r.principals.Set(cacheKey, p, time.Until(idToken.Expiry))
	return p, nil
}

// unionScopes merges b into a, preserving a's order and skipping
// duplicates, so a token's own scope claim can only add access beyond
// what its groups already grant, never narrow it.
func unionScopes(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			a = append(a, s)
		}
	}
	return a
}

func classifyVerifyError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "expired"):
		return apierror.ErrCredentialExpired.Detail
	case strings.Contains(msg, "issuer"):
		return apierror.ErrUnknownIssuer.Detail
	default:
		return "token signature invalid"
	}
}

func (r *Resolver) validateCookie(ctx context.Context, cookie string) (Principal, error) {
	sess, err := r.cookies.Lookup(ctx, cookie)
	if err != nil {
		return Principal{}, apierror.Wrap(apierror.ErrCredentialInvalid.Status, apierror.ErrCredentialInvalid.Code, "invalid or expired session cookie", err)
	}
	groups := strings.Fields(sess.Groups)
	mapping := r.scopes.Current()
	scopeSet := mapping.ScopesForGroups(groups)
	p := r.buildPrincipal(sess.Username, groups, scopeSet, MethodSessionCookie, "registry-session")
	return p, nil
}

// buildPrincipal computes accessible_servers/accessible_tools from the
// resolved scope set, and applies the administrative bypass (spec.md
// §4.2).
func (r *Resolver) buildPrincipal(username string, groups, scopes []string, method Method, provider string) Principal {
	isAdmin := false
	for _, g := range groups {
		if r.adminGroups[g] {
			isAdmin = true
			break
		}
	}

	mapping := r.scopes.Current()
	servers, tools := mapping.Access(scopes)

	return Principal{
		Username:          username,
		Groups:            groups,
		Scopes:            scopes,
		AuthMethod:        method,
		Provider:          provider,
		IsAdmin:           isAdmin,
		AccessibleServers: servers,
		AccessibleTools:   tools,
	}
}

// AuthorizeForPath returns apierror.ErrForbidden unless p may reach
// path, per testable property 3 in spec.md §8.
func AuthorizeForPath(p *Principal, path string) error {
	if !p.CanAccessServer(path) {
		return fmt.Errorf("%w: path %s", apierror.ErrForbidden, path)
	}
	return nil
}
