package toolindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/registry"
)

type staticSource struct {
	services []registry.Service
}

func (s staticSource) List(f registry.Filter) []registry.Service {
	var out []registry.Service
	for _, svc := range s.services {
		if f.Enabled != nil && svc.Enabled != *f.Enabled {
			continue
		}
		if f.Health != nil && svc.Health.Status != *f.Health {
			continue
		}
		out = append(out, svc)
	}
	return out
}

func (s staticSource) Subscribe() (<-chan registry.Event, func()) {
	ch := make(chan registry.Event)
	return ch, func() {}
}

func svcWithTools() registry.Service {
	return registry.Service{
		Name: "weather", Path: "/weather", Enabled: true,
		Health: registry.HealthState{Status: registry.HealthHealthy},
		Tools: []registry.Tool{
			{Name: "get_current_weather", Description: "Returns the current weather for a city", Tags: []string{"weather", "read"}},
			{Name: "get_forecast", Description: "Returns a multi-day forecast for a city", Tags: []string{"weather", "read"}},
			{Name: "set_alert_threshold", Description: "Configures severe weather alert thresholds", Tags: []string{"weather", "write"}},
		},
	}
}

func TestQueryRanksLexicallyCloserToolHigher(t *testing.T) {
	idx := New(staticSource{services: []registry.Service{svcWithTools()}}, nil, nil, 0, nil)
	idx.rebuild(nil)

	matches := idx.Query("current weather city", nil, 10)
	require.NotEmpty(t, matches)
	assert.Equal(t, "get_current_weather", matches[0].Entry.Tool.Name)
}

func TestQueryFiltersByTagsWithAndSemantics(t *testing.T) {
	idx := New(staticSource{services: []registry.Service{svcWithTools()}}, nil, nil, 0, nil)
	idx.rebuild(nil)

	matches := idx.Query("weather", []string{"write"}, 10)
	require.Len(t, matches, 1)
	assert.Equal(t, "set_alert_threshold", matches[0].Entry.Tool.Name)

	noMatches := idx.Query("weather", []string{"write", "read"}, 10)
	assert.Empty(t, noMatches)
}

func TestQueryRespectsTopK(t *testing.T) {
	idx := New(staticSource{services: []registry.Service{svcWithTools()}}, nil, nil, 0, nil)
	idx.rebuild(nil)

	matches := idx.Query("weather", nil, 2)
	assert.Len(t, matches, 2)
}

func TestQueryFiltersByInheritedServiceTags(t *testing.T) {
	svc := registry.Service{
		Name: "ledger", Path: "/ledger", Enabled: true,
		Tags:   []string{"finance"},
		Health: registry.HealthState{Status: registry.HealthHealthy},
		Tools: []registry.Tool{
			{Name: "get_balance", Description: "Returns the account balance"},
		},
	}
	idx := New(staticSource{services: []registry.Service{svc}}, nil, nil, 0, nil)
	idx.rebuild(nil)

	matches := idx.Query("balance", []string{"finance"}, 10)
	require.Len(t, matches, 1)
	assert.Equal(t, "get_balance", matches[0].Entry.Tool.Name)
}

func TestDisabledServicesAreExcludedFromCorpus(t *testing.T) {
	disabled := svcWithTools()
	disabled.Enabled = false
	idx := New(staticSource{services: []registry.Service{disabled}}, nil, nil, 0, nil)
	idx.rebuild(nil)

	assert.Empty(t, idx.Query("weather", nil, 10))
}
