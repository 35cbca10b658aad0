package toolindex

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/log"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/metrics"
	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/registry"
)

// RegistrySource is the subset of *registry.Store the Index builds its
// corpus from.
type RegistrySource interface {
	List(registry.Filter) []registry.Service
	Subscribe() (<-chan registry.Event, func())
}

// Entry is one searchable unit of the corpus: a single tool belonging
// to a single enabled, healthy Service.
type Entry struct {
	ServicePath string
	ServiceName string
	Tool        registry.Tool
	vector      []float32
}

// Match is one scored search result.
type Match struct {
	Entry Entry
	Score float32
}

type corpus struct {
	entries []Entry
}

// Index answers similarity queries over a corpus rebuilt, debounced,
// whenever the Registry Store changes. Readers (Query) never block a
// rebuild in progress and never see a partially-built corpus: the
// current *corpus is swapped atomically, mirroring the Registry
// Store's own snapshot-replacement discipline (spec.md §4.5).
type Index struct {
	source   RegistrySource
	embedder Embedder
	cache    *Store
	debounce time.Duration
	metrics  *metrics.Recorder

	current atomic.Pointer[corpus]
}

// New builds an Index. cache may be nil, in which case every rebuild
// recomputes every tool's vector from scratch.
func New(source RegistrySource, embedder Embedder, cache *Store, debounce time.Duration, rec *metrics.Recorder) *Index {
	if embedder == nil {
		embedder = HashEmbedder{}
	}
	idx := &Index{source: source, embedder: embedder, cache: cache, debounce: debounce, metrics: rec}
	idx.current.Store(&corpus{})
	return idx
}

// Run rebuilds once immediately, then subscribes to the Registry
// Store's event feed and rebuilds again after debounce of quiescence
// following each burst of mutations, until ctx is cancelled.
func (idx *Index) Run(ctx context.Context) {
	idx.rebuild(ctx)

	events, cancel := idx.source.Subscribe()
	defer cancel()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			if timer == nil {
				timer = time.NewTimer(idx.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(idx.debounce)
			}
		case <-timerC:
			idx.rebuild(ctx)
		}
	}
}

func (idx *Index) rebuild(ctx context.Context) {
	enabledTrue := true
	services := idx.source.List(registry.Filter{Enabled: &enabledTrue, Health: healthyPtr()})

	entries := make([]Entry, 0, len(services)*4)
	for _, svc := range services {
		for _, tool := range svc.Tools {
			tags := mergeTags(svc.Tags, tool.Tags)
			text := tool.Description + ". Tags: " + strings.Join(tags, ", ")
			vector := idx.vectorFor(ctx, svc.Path, tool.Name, text)
			tool.Tags = tags
			entries = append(entries, Entry{ServicePath: svc.Path, ServiceName: svc.Name, Tool: tool, vector: vector})
		}
	}

	idx.current.Store(&corpus{entries: entries})
	if idx.metrics != nil {
		idx.metrics.ObserveIndexRebuild(len(entries))
	}
	log.Base().Debug().Int("tools", len(entries)).Int("services", len(services)).Msg("tool index rebuilt")
}

func healthyPtr() *registry.HealthStatus {
	h := registry.HealthHealthy
	return &h
}

func (idx *Index) vectorFor(ctx context.Context, servicePath, toolName, text string) []float32 {
	if idx.cache != nil {
		if v, ok, _ := idx.cache.Get(ctx, servicePath, toolName); ok {
			return v
		}
	}
	v := idx.embedder.Embed(text)
	if idx.cache != nil {
		_ = idx.cache.Put(ctx, servicePath, toolName, v)
	}
	return v
}

// Query searches the current corpus for the topK entries most similar
// to queryText, restricted to entries whose Tool.Tags superset tags
// (AND semantics, case-insensitive), matching spec.md §4.5's filter
// contract.
func (idx *Index) Query(queryText string, tags []string, topK int) []Match {
	snapshot := idx.current.Load()
	queryVector := idx.embedder.Embed(queryText)

	matches := make([]Match, 0, len(snapshot.entries))
	for _, e := range snapshot.entries {
		if !hasAllTags(e.Tool.Tags, tags) {
			continue
		}
		matches = append(matches, Match{Entry: e, Score: cosineSimilarity(queryVector, e.vector)})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		// Stable tie-break so identical scores don't reorder between
		// otherwise-equal queries.
		if matches[i].Entry.ServicePath != matches[j].Entry.ServicePath {
			return matches[i].Entry.ServicePath < matches[j].Entry.ServicePath
		}
		return matches[i].Entry.Tool.Name < matches[j].Entry.Tool.Name
	})

	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// mergeTags returns the union of a Service's tags and a Tool's own
// tags, case-insensitively deduplicated. Tag-based filtering and the
// embedding text both operate on this merged set, since a tool
// advertises a Service's tags along with any of its own.
func mergeTags(serviceTags, toolTags []string) []string {
	out := make([]string, 0, len(serviceTags)+len(toolTags))
	seen := make(map[string]bool, len(serviceTags)+len(toolTags))
	for _, group := range [][]string{serviceTags, toolTags} {
		for _, t := range group {
			key := strings.ToLower(t)
			if !seen[key] {
				seen[key] = true
				out = append(out, t)
			}
		}
	}
	return out
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if strings.EqualFold(w, h) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
