package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/mcpwire"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/registry"
)

func sampleSvc(url string) registry.Service {
	return registry.Service{
		Name:                "weather",
		Path:                "/weather",
		Tags:                []string{"forecast"},
		ProxyPassURL:        url,
		SupportedTransports: []registry.Transport{registry.TransportStreamableHTTP},
		AuthProvider:        registry.AuthProviderDefault,
		Enabled:             true,
	}
}

// These tests stand the fake HTTP server in for the gateway's own
// listener, since that is what the Prober now targets instead of a
// Service's upstream URL.

func TestProbeHealthyHandshake(t *testing.T) {
	calls := 0
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		switch calls {
		case 1:
			w.Header().Set("Mcp-Session-Id", "sess-123")
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2024-11-05","capabilities":{},"serverInfo":{"name":"x","version":"1"}}}`))
		case 2:
			assert.Equal(t, "sess-123", r.Header.Get("Mcp-Session-Id"), "notifications/initialized must echo the session id from initialize")
			w.WriteHeader(http.StatusOK)
		case 3:
			assert.Equal(t, "sess-123", r.Header.Get("Mcp-Session-Id"), "tools/list must echo the session id from initialize")
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":2,"result":{"tools":[{"name":"get_weather","description":"d","inputSchema":{}}]}}`))
		}
	}))
	defer gateway.Close()

	prober := NewProber(gateway.Client(), nil, 5*time.Second, gateway.URL, "admin-session")
	result := prober.Probe(context.Background(), sampleSvc("http://unused.invalid"))

	require.Equal(t, registry.HealthHealthy, result.Status)
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "get_weather", result.Tools[0].Name)
	assert.Equal(t, []string{"forecast"}, result.Tools[0].Tags, "probe-discovered tools must inherit the Service's tags")
}

func TestProbeUnauthorizedRetriesOnceThenAuthExpired(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer gateway.Close()

	prober := NewProber(gateway.Client(), nil, 2*time.Second, gateway.URL, "admin-session")
	result := prober.Probe(context.Background(), sampleSvc("http://unused.invalid"))

	assert.Equal(t, registry.HealthHealthyAuthExpired, result.Status)
}

func TestProbeTimeoutMarksUnhealthy(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer gateway.Close()

	prober := NewProber(gateway.Client(), nil, 20*time.Millisecond, gateway.URL, "admin-session")
	result := prober.Probe(context.Background(), sampleSvc("http://unused.invalid"))

	assert.Equal(t, registry.HealthUnhealthy, result.Status)
	assert.Equal(t, "timeout", result.Reason)
}

func TestProbeSendsAdminSessionCookie(t *testing.T) {
	var gotCookie string
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("mcp_gateway_session"); err == nil {
			gotCookie = c.Value
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	defer gateway.Close()

	prober := NewProber(gateway.Client(), nil, time.Second, gateway.URL, "admin-session")
	_, _, _ = prober.send(context.Background(), sampleSvc("http://unused.invalid"), "", "", mcpwire.Request{}, false)

	assert.Equal(t, "admin-session", gotCookie)
}
