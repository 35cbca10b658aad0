// Package health is the Health Monitor (component D): it periodically
// opens a scratch MCP session against every enabled Service, runs the
// initialize/notifications.initialized/tools.list handshake, and
// records the result back onto the Registry Store.
package health

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/mcpwire"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/registry"
)

// CredentialSource supplies the Authorization value a probe should
// present to a Service, and lets the Health Monitor ask for a fresh one
// after a 401, mirroring the single-retry rule of spec.md §5.
type CredentialSource interface {
	Credential(ctx context.Context, svc registry.Service) (string, error)
	Refresh(ctx context.Context, svc registry.Service) (string, error)
}

// StaticCredentials always returns the Service's own headers_template,
// never refreshing — the default for services whose upstream credential
// is fixed at registration time.
type StaticCredentials struct{}

func (StaticCredentials) Credential(_ context.Context, svc registry.Service) (string, error) {
	for _, h := range svc.HeadersTemplate {
		if h.Name == "Authorization" {
			return h.Value, nil
		}
	}
	return "", nil
}

func (StaticCredentials) Refresh(ctx context.Context, svc registry.Service) (string, error) {
	return StaticCredentials{}.Credential(ctx, svc)
}

// Result is the outcome of one probe cycle.
type Result struct {
	Status   registry.HealthStatus
	Reason   string
	Tools    []registry.Tool
	Duration time.Duration
}

// Prober runs the three-step MCP handshake against one Service, through
// the gateway's own public listener rather than dialing the Service's
// upstream directly, so every probe exercises the same classify/
// validate/proxy path a real client request would.
type Prober struct {
	Client      *http.Client
	Credentials CredentialSource
	Timeout     time.Duration
	GatewayURL  string // e.g. "http://127.0.0.1:8080", trimmed of trailing slash
	AdminCookie string // session cookie admitting the probe past the Edge Router's auth gate
}

// NewProber builds a Prober with sane defaults. gatewayURL is the
// gateway's own public listener address; adminCookie is a session
// value the Router's auth sub-request will resolve to an admin
// Principal, so probes reach every enabled Service regardless of its
// scope grants.
func NewProber(client *http.Client, creds CredentialSource, timeout time.Duration, gatewayURL, adminCookie string) *Prober {
	if client == nil {
		client = http.DefaultClient
	}
	if creds == nil {
		creds = StaticCredentials{}
	}
	return &Prober{
		Client:      client,
		Credentials: creds,
		Timeout:     timeout,
		GatewayURL:  strings.TrimSuffix(gatewayURL, "/"),
		AdminCookie: adminCookie,
	}
}

// Probe runs initialize, notifications/initialized, and tools/list
// against the Service's path through the gateway itself, classifying
// the outcome per spec.md §5: a 401 on the first attempt triggers
// exactly one credential refresh and retry before the Service is
// marked healthy-auth-expired; a context deadline marks it
// unhealthy(timeout); any other failure marks it unhealthy with the
// error text as the reason.
func (p *Prober) Probe(ctx context.Context, svc registry.Service) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	cred, err := p.Credentials.Credential(ctx, svc)
	if err != nil {
		return Result{Status: registry.HealthUnhealthy, Reason: "credential_error: " + err.Error(), Duration: time.Since(start)}
	}

	tools, err := p.handshake(ctx, svc, cred)
	if err == errUnauthorized {
		refreshed, rerr := p.Credentials.Refresh(ctx, svc)
		if rerr != nil {
			return Result{Status: registry.HealthHealthyAuthExpired, Reason: "credential refresh failed", Duration: time.Since(start)}
		}
		tools, err = p.handshake(ctx, svc, refreshed)
		if err == errUnauthorized {
			return Result{Status: registry.HealthHealthyAuthExpired, Reason: "still unauthorized after refresh", Duration: time.Since(start)}
		}
	}

	switch {
	case err == nil:
		return Result{Status: registry.HealthHealthy, Tools: tools, Duration: time.Since(start)}
	case ctx.Err() != nil:
		return Result{Status: registry.HealthUnhealthy, Reason: "timeout", Duration: time.Since(start)}
	default:
		return Result{Status: registry.HealthUnhealthy, Reason: err.Error(), Duration: time.Since(start)}
	}
}

var errUnauthorized = fmt.Errorf("upstream returned 401")

func (p *Prober) handshake(ctx context.Context, svc registry.Service, credential string) ([]registry.Tool, error) {
	initReq, err := mcpwire.NewInitializeRequest(1, "mcp-gateway-registry-health", "1.0")
	if err != nil {
		return nil, fmt.Errorf("building initialize request: %w", err)
	}
	_, sessionID, err := p.send(ctx, svc, credential, "", initReq, true)
	if err != nil {
		return nil, err
	}

	if err := p.sendNotification(ctx, svc, credential, sessionID, mcpwire.NewInitializedNotification()); err != nil {
		return nil, err
	}

	listReq := mcpwire.NewToolsListRequest(2)
	resp, _, err := p.send(ctx, svc, credential, sessionID, listReq, true)
	if err != nil {
		return nil, err
	}

	var result mcpwire.ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("decoding tools/list result: %w", err)
	}

	tools := make([]registry.Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, registry.Tool{Name: t.Name, Description: t.Description, Schema: t.InputSchema, Tags: svc.Tags})
	}
	return tools, nil
}

// probeURL builds the gateway-facing request target for svc: the
// gateway's own listener plus the Service's registered path, never the
// Service's upstream URL directly.
func (p *Prober) probeURL(svc registry.Service) string {
	return p.GatewayURL + svc.Path
}

func (p *Prober) newProbeRequest(ctx context.Context, svc registry.Service, credential, sessionID string, payload []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.probeURL(svc), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building probe request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if credential != "" {
		httpReq.Header.Set("Authorization", credential)
	}
	if sessionID != "" {
		httpReq.Header.Set(mcpwire.SessionHeader, sessionID)
	}
	if p.AdminCookie != "" {
		httpReq.AddCookie(&http.Cookie{Name: "mcp_gateway_session", Value: p.AdminCookie})
	}
	return httpReq, nil
}

// send issues one JSON-RPC request, returning the decoded response and
// the upstream-assigned session id, if any, carried on the response's
// mcp-session-id header (set on the initialize response, absent
// thereafter).
func (p *Prober) send(ctx context.Context, svc registry.Service, credential, sessionID string, req mcpwire.Request, expectResponse bool) (mcpwire.Response, string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return mcpwire.Response{}, "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := p.newProbeRequest(ctx, svc, credential, sessionID, payload)
	if err != nil {
		return mcpwire.Response{}, "", err
	}
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return mcpwire.Response{}, "", err
	}
	defer resp.Body.Close()

	echoedSession := resp.Header.Get(mcpwire.SessionHeader)
	if echoedSession == "" {
		echoedSession = sessionID
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return mcpwire.Response{}, echoedSession, errUnauthorized
	}
	if resp.StatusCode/100 != 2 {
		return mcpwire.Response{}, echoedSession, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	if !expectResponse {
		return mcpwire.Response{}, echoedSession, nil
	}

	if ct := resp.Header.Get("Content-Type"); bytes.Contains([]byte(ct), []byte("text/event-stream")) {
		reader := mcpwire.NewSSEReader(resp.Body)
		out, err := reader.DecodeResponse()
		return out, echoedSession, err
	}

	var out mcpwire.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return mcpwire.Response{}, echoedSession, fmt.Errorf("decoding probe response: %w", err)
	}
	if out.Error != nil {
		return mcpwire.Response{}, echoedSession, fmt.Errorf("upstream rpc error %d: %s", out.Error.Code, out.Error.Message)
	}
	return out, echoedSession, nil
}

func (p *Prober) sendNotification(ctx context.Context, svc registry.Service, credential, sessionID string, n mcpwire.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}
	httpReq, err := p.newProbeRequest(ctx, svc, credential, sessionID, payload)
	if err != nil {
		return err
	}
	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return errUnauthorized
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("upstream returned status %d for notification", resp.StatusCode)
	}
	return nil
}
