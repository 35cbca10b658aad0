package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	gocache "github.com/patrickmn/go-cache"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/log"
)

// verifierEntry is either a ready *oidc.IDTokenVerifier or, on
// discovery failure, nil with err set — the negative-cache case from
// spec.md §4.2(a).
type verifierEntry struct {
	verifier *oidc.IDTokenVerifier
	err      error
}

// IssuerVerifiers resolves and caches one oidc.IDTokenVerifier per
// configured issuer URL, with a positive TTL (default 1h) and a
// negative TTL (default 60s) on discovery failure, per spec.md §4.2(a).
// Discovery itself (the issuer's /.well-known/openid-configuration plus
// its JWKS document) is delegated to coreos/go-oidc/v3, which also
// handles per-kid key refresh transparently.
type IssuerVerifiers struct {
	issuers  []string
	clientID string
	cache    *gocache.Cache
	negTTL   time.Duration
}

// NewIssuerVerifiers builds a verifier cache for the given acceptable
// issuer URLs. clientID may be empty; when set it is enforced as an
// expected audience.
func NewIssuerVerifiers(issuers []string, clientID string, positiveTTL, negativeTTL time.Duration) *IssuerVerifiers {
	return &IssuerVerifiers{
		issuers:  issuers,
		clientID: clientID,
		cache:    gocache.New(positiveTTL, 2*positiveTTL),
		negTTL:   negativeTTL,
	}
}

func (v *IssuerVerifiers) negativeTTL() time.Duration {
	if v.negTTL <= 0 {
		return 60 * time.Second
	}
	return v.negTTL
}

func (v *IssuerVerifiers) get(ctx context.Context, issuer string) (*oidc.IDTokenVerifier, error) {
	if cached, ok := v.cache.Get(issuer); ok {
		entry := cached.(verifierEntry)
		return entry.verifier, entry.err
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		log.Base().Warn().Err(err).Str("issuer", issuer).Msg("JWKS/discovery fetch failed, negative-caching")
		v.cache.Set(issuer, verifierEntry{err: fmt.Errorf("discovering issuer %s: %w", issuer, err)}, v.negativeTTL())
		return nil, err
	}

	cfg := &oidc.Config{SkipClientIDCheck: v.clientID == "", ClientID: v.clientID}
	verifier := provider.Verifier(cfg)
	v.cache.SetDefault(issuer, verifierEntry{verifier: verifier})
	return verifier, nil
}

// VerifyAny tries every configured issuer in order, returning the first
// one under which rawToken verifies successfully. This handles tokens
// minted against a hostname the gateway can only reach under a
// different one (spec.md §4.2(d)).
func (v *IssuerVerifiers) VerifyAny(ctx context.Context, rawToken string) (*oidc.IDToken, error) {
	var lastErr error
	for _, issuer := range v.issuers {
		verifier, err := v.get(ctx, issuer)
		if err != nil {
			lastErr = err
			continue
		}
		tok, err := verifier.Verify(ctx, rawToken)
		if err != nil {
			lastErr = err
			continue
		}
		return tok, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no issuers configured")
	}
	return nil, lastErr
}

// SignatureKey derives a stable cache key from a JWT's signature
// segment, used to key the principal cache without storing raw token
// bytes (spec.md §4.2 caching).
func SignatureKey(rawToken string) string {
	sig := rawToken
	if i := strings.LastIndex(rawToken, "."); i >= 0 {
		sig = rawToken[i+1:]
	}
	sum := sha256.Sum256([]byte(sig))
	return hex.EncodeToString(sum[:])
}
