package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/log"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/metrics"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/registry"
)

// Updater is the subset of *registry.Store the Monitor writes results
// back to.
type Updater interface {
	UpdateHealth(path string, state registry.HealthState, tools []registry.Tool) error
}

// Lister is the subset of *registry.Store the Monitor reads Services
// from, and the change feed it schedules off of.
type Lister interface {
	List(registry.Filter) []registry.Service
	Subscribe() (<-chan registry.Event, func())
}

// Monitor runs one ticker per enabled Service, bounded by a weighted
// semaphore so a burst of simultaneously-due probes never exceeds the
// configured worker budget.
type Monitor struct {
	store   Lister
	updater Updater
	prober  *Prober
	period  time.Duration
	sem     *semaphore.Weighted
	metrics *metrics.Recorder

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds a Monitor. workers bounds concurrent in-flight probes.
func New(store Lister, updater Updater, prober *Prober, period time.Duration, workers int64, rec *metrics.Recorder) *Monitor {
	if workers <= 0 {
		workers = 16
	}
	return &Monitor{
		store:   store,
		updater: updater,
		prober:  prober,
		period:  period,
		sem:     semaphore.NewWeighted(workers),
		metrics: rec,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Run schedules every currently-enabled Service and then reacts to
// registry events, starting a ticker for newly-registered/enabled
// Services and cancelling one for removed/disabled Services, until ctx
// is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	events, cancelSub := m.store.Subscribe()
	defer cancelSub()

	enabledTrue := true
	for _, svc := range m.store.List(registry.Filter{Enabled: &enabledTrue}) {
		m.schedule(ctx, svc.Path)
	}

	for {
		select {
		case <-ctx.Done():
			m.stopAll()
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handleEvent(ctx, ev)
		}
	}
}

func (m *Monitor) handleEvent(ctx context.Context, ev registry.Event) {
	enabledTrue := true
	switch ev.Kind {
	case registry.EventServiceRemoved:
		m.cancel(ev.Path)
	case registry.EventEnabledChanged, registry.EventServiceRegistered:
		found := false
		for _, svc := range m.store.List(registry.Filter{Enabled: &enabledTrue}) {
			if svc.Path == ev.Path {
				found = true
				break
			}
		}
		if found {
			m.schedule(ctx, ev.Path)
		} else {
			m.cancel(ev.Path)
		}
	}
}

func (m *Monitor) schedule(ctx context.Context, path string) {
	m.mu.Lock()
	if _, exists := m.cancels[path]; exists {
		m.mu.Unlock()
		return
	}
	probeCtx, cancel := context.WithCancel(ctx)
	m.cancels[path] = cancel
	m.mu.Unlock()

	go m.loop(probeCtx, path)
}

func (m *Monitor) cancel(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[path]; ok {
		cancel()
		delete(m.cancels, path)
	}
}

func (m *Monitor) stopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for path, cancel := range m.cancels {
		cancel()
		delete(m.cancels, path)
	}
}

func (m *Monitor) loop(ctx context.Context, path string) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	m.runOnce(ctx, path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runOnce(ctx, path)
		}
	}
}

func (m *Monitor) runOnce(ctx context.Context, path string) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer m.sem.Release(1)

	svcs := m.store.List(registry.Filter{})
	var target *registry.Service
	for i := range svcs {
		if svcs[i].Path == path {
			target = &svcs[i]
			break
		}
	}
	if target == nil {
		return
	}

	result := m.prober.Probe(ctx, *target)

	if m.metrics != nil {
		m.metrics.ObserveProbe(path, string(result.Status), result.Duration)
	}

	state := registry.HealthState{
		Status:          result.Status,
		Reason:          result.Reason,
		LastCheckedTime: time.Now(),
		NumTools:        len(result.Tools),
	}
	var tools []registry.Tool
	if result.Status == registry.HealthHealthy {
		tools = result.Tools
	}
	if err := m.updater.UpdateHealth(path, state, tools); err != nil {
		log.Base().Warn().Err(err).Str("service", path).Msg("failed to record health probe result")
	}
}
