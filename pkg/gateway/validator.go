// Package gateway is the Edge Router (component A): it classifies every
// inbound request by URL prefix, delegates to the Auth Resolver for
// classes (i) admin/catalog API and (iii) proxied MCP traffic, and
// forwards admitted requests upstream or to an internal handler, per
// spec.md §4.1.
package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// AuthValidator performs the internal "auth sub-request" of spec.md
// §4.1: given the inbound request's credential, session cookie, and
// original path, it returns the status code and response headers the
// Auth Resolver's /validate endpoint produced.
type AuthValidator interface {
	Validate(ctx context.Context, authorization, cookie, originalPath string) (status int, headers http.Header, body []byte, err error)
}

// RemoteValidator calls a real /validate endpoint over HTTP, matching
// the internal HTTP surface described in spec.md §6. It is "remote"
// only in the sense of being a separate HTTP round-trip; in the
// reference deployment it targets the gateway process's own internal
// listener.
type RemoteValidator struct {
	BaseURL string
	Client  *http.Client
}

// NewRemoteValidator builds a RemoteValidator targeting baseURL (e.g.
// "http://127.0.0.1:8081").
func NewRemoteValidator(baseURL string, client *http.Client) *RemoteValidator {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteValidator{BaseURL: strings.TrimSuffix(baseURL, "/"), Client: client}
}

// Validate issues GET {BaseURL}/validate with the client's credential
// relocated to X-Authorization, its session cookie (if any) forwarded
// unchanged, and the original request path forwarded as
// X-Original-Path, per spec.md §4.1/§6.
func (v *RemoteValidator) Validate(ctx context.Context, authorization, cookie, originalPath string) (int, http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.BaseURL+"/validate", nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("building validate request: %w", err)
	}
	if authorization != "" {
		req.Header.Set("X-Authorization", authorization)
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: "mcp_gateway_session", Value: cookie})
	}
	if originalPath != "" {
		req.Header.Set("X-Original-Path", originalPath)
	}

	resp, err := v.Client.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("calling auth resolver: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("reading validate response: %w", err)
	}
	return resp.StatusCode, resp.Header, body, nil
}
