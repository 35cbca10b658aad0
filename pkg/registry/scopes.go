package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/log"
)

// ScopeAccess is one scope's grant: a Service path plus either an
// explicit tool-name set or "*" meaning every tool on that Service.
type ScopeAccess struct {
	Service string   `yaml:"service"`
	Tools   []string `yaml:"tools"` // ["*"] means all
}

func (a ScopeAccess) allTools() bool {
	return len(a.Tools) == 1 && a.Tools[0] == "*"
}

// scopesDocument is the on-disk shape of scopes.yml.
type scopesDocument struct {
	GroupScopes  map[string][]string      `yaml:"group_scopes"`
	ScopeAccess  map[string][]ScopeAccess `yaml:"scope_access"`
}

// ScopeMapping is the immutable, atomically-swappable result of parsing
// scopes.yml: a pure function of Group→Scopes and Scope→Access,
// per spec.md §3.
type ScopeMapping struct {
	groupScopes map[string][]string
	scopeAccess map[string][]ScopeAccess
}

// ScopesForGroups returns the union of scopes granted to any of groups.
// An unknown group contributes no scopes (spec.md §4.2: warn, don't fail).
func (m *ScopeMapping) ScopesForGroups(groups []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range groups {
		for _, sc := range m.groupScopes[g] {
			if !seen[sc] {
				seen[sc] = true
				out = append(out, sc)
			}
		}
	}
	return out
}

// Access computes accessible_servers and accessible_tools for the given
// scope set, using union semantics across scopes that grant the same
// Service different tool sets (spec.md §9 Open Question).
func (m *ScopeMapping) Access(scopes []string) (servers map[string]bool, tools map[string]map[string]bool) {
	servers = make(map[string]bool)
	tools = make(map[string]map[string]bool)

	for _, sc := range scopes {
		for _, grant := range m.scopeAccess[sc] {
			servers[grant.Service] = true
			if tools[grant.Service] == nil {
				tools[grant.Service] = make(map[string]bool)
			}
			if grant.allTools() {
				tools[grant.Service]["*"] = true
				continue
			}
			for _, t := range grant.Tools {
				tools[grant.Service][t] = true
			}
		}
	}
	return servers, tools
}

// ScopeStore holds a ScopeMapping behind an atomic pointer so an
// in-flight request observes either the pre-reload or post-reload
// mapping in entirety, never a mixture (spec.md §3, §5, testable
// property 5).
type ScopeStore struct {
	current atomic.Pointer[ScopeMapping]
	path    string
	watcher *fsnotify.Watcher
	writeMu sync.Mutex // serializes admin-driven edits; Reload stays lock-free
}

// NewScopeStore loads path once and returns a ScopeStore ready to serve
// Current(). Call Watch to enable fsnotify-driven hot reload.
func NewScopeStore(path string) (*ScopeStore, error) {
	s := &ScopeStore{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the active ScopeMapping. Safe for concurrent use.
func (s *ScopeStore) Current() *ScopeMapping {
	return s.current.Load()
}

// Reload re-parses the scopes document and atomically swaps it in.
func (s *ScopeStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading scopes file %s: %w", s.path, err)
	}

	var doc scopesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing scopes file %s: %w", s.path, err)
	}

	mapping := &ScopeMapping{
		groupScopes: doc.GroupScopes,
		scopeAccess: doc.ScopeAccess,
	}
	if mapping.groupScopes == nil {
		mapping.groupScopes = map[string][]string{}
	}
	if mapping.scopeAccess == nil {
		mapping.scopeAccess = map[string][]ScopeAccess{}
	}

	s.current.Store(mapping)
	return nil
}

// Watch starts an fsnotify watcher on the scopes file and reloads on
// every write/create event until ctx-independent Close is called. Reload
// errors are logged and the previous mapping is kept in place.
func (s *ScopeStore) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(s.path); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", s.path, err)
	}
	s.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.Reload(); err != nil {
					log.Base().Error().Err(err).Msg("scope reload failed, keeping previous mapping")
				} else {
					log.Base().Info().Msg("scope mapping reloaded")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Base().Error().Err(err).Msg("scope watcher error")
			}
		}
	}()
	return nil
}

// AddServerToScope grants scope access to service (all tools, unless
// tools is non-empty) by rewriting scopes.yml on disk and then reloading
// the in-memory mapping from that file synchronously, keeping on-disk
// state as the single source of truth.
func (s *ScopeStore) AddServerToScope(scope, service string, tools []string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	doc, err := s.readDocument()
	if err != nil {
		return err
	}
	if len(tools) == 0 {
		tools = []string{"*"}
	}

	grants := doc.ScopeAccess[scope]
	for i, g := range grants {
		if g.Service == service {
			grants[i].Tools = tools
			doc.ScopeAccess[scope] = grants
			return s.writeDocumentAndReload(doc)
		}
	}
	doc.ScopeAccess[scope] = append(grants, ScopeAccess{Service: service, Tools: tools})
	return s.writeDocumentAndReload(doc)
}

// RemoveServerFromScope revokes scope's access to service.
func (s *ScopeStore) RemoveServerFromScope(scope, service string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	doc, err := s.readDocument()
	if err != nil {
		return err
	}

	grants := doc.ScopeAccess[scope]
	out := grants[:0]
	for _, g := range grants {
		if g.Service != service {
			out = append(out, g)
		}
	}
	doc.ScopeAccess[scope] = out
	return s.writeDocumentAndReload(doc)
}

func (s *ScopeStore) readDocument() (*scopesDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading scopes file %s: %w", s.path, err)
	}
	var doc scopesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing scopes file %s: %w", s.path, err)
	}
	if doc.GroupScopes == nil {
		doc.GroupScopes = map[string][]string{}
	}
	if doc.ScopeAccess == nil {
		doc.ScopeAccess = map[string][]ScopeAccess{}
	}
	return &doc, nil
}

// writeDocumentAndReload persists doc via atomic temp-file-then-rename,
// matching the Registry Store's own persistence discipline (spec.md
// §4.3), then reloads synchronously rather than waiting on fsnotify so
// the admin API's response reflects the new mapping immediately.
func (s *ScopeStore) writeDocumentAndReload(doc *scopesDocument) error {
	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling scopes document: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".scopes-*.yml")
	if err != nil {
		return fmt.Errorf("creating temp scopes file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp scopes file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp scopes file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp scopes file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("renaming scopes file into place: %w", err)
	}

	return s.Reload()
}

// Close stops the underlying fsnotify watcher, if running.
func (s *ScopeStore) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
