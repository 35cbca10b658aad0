package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrConflict reports a register() call that collided with an existing
// Service's path or name (spec.md §4.3).
type ErrConflict struct{ Field, Value string }

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("service %s %q already registered", e.Field, e.Value)
}

// ErrNotFound reports an operation against an unknown path.
type ErrNotFound struct{ Path string }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("service %q not found", e.Path) }

// ErrForbiddenByScanStatus reports set_enabled(true) against a Service
// whose scan_status forbids enabling (spec.md §3 invariant).
type ErrForbiddenByScanStatus struct{ Path string }

func (e *ErrForbiddenByScanStatus) Error() string {
	return fmt.Sprintf("service %q cannot be enabled: scan_status forbids it", e.Path)
}

// Persister is the subset of pkg/registry/persist.go's Disk used by the
// Store, kept as an interface so tests can swap in an in-memory fake.
type Persister interface {
	Save(s Service) error
	Delete(path string) error
	LoadAll() ([]Service, error)
}

// Store owns every registered Service. Snapshot is lock-free: it loads an
// immutable slice that every mutation replaces by pointer swap. GetByPath
// and List take mu's read lock, so they run concurrently with each other
// but wait for an in-progress writer, and a writer waits for them.
// Writers serialize on mu.
type Store struct {
	mu       sync.RWMutex
	byPath   map[string]*Service
	byName   map[string]string         // name -> path
	snapshot atomic.Pointer[[]Service] // immutable, replaced wholesale on mutation

	persist Persister

	subMu     sync.RWMutex
	subs      map[int]chan Event
	nextSubID int
}

// New constructs an empty Store backed by persist. Call LoadFromDisk to
// populate it from an existing data root.
func New(persist Persister) *Store {
	return &Store{
		byPath:  make(map[string]*Service),
		byName:  make(map[string]string),
		persist: persist,
		subs:    make(map[int]chan Event),
	}
}

// LoadFromDisk populates the Store from every persisted Service
// document, as performed once at process start (spec.md §4.3).
func (s *Store) LoadFromDisk() error {
	services, err := s.persist.LoadAll()
	if err != nil {
		return fmt.Errorf("loading services: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, svc := range services {
		svc.Health = HealthState{Status: HealthUnknown}
		cp := svc
		s.byPath[svc.Path] = &cp
		s.byName[svc.Name] = svc.Path
	}
	s.rebuildSnapshotLocked()
	return nil
}

func validPath(p string) bool {
	return strings.HasPrefix(p, "/") && len(p) > 1
}

// Register adds a new Service, enforcing path/name uniqueness and the
// security-pending-cannot-be-enabled invariant (spec.md §3), and
// persists it before making it visible to readers.
func (s *Store) Register(svc Service) error {
	if !validPath(svc.Path) {
		return fmt.Errorf("invalid path %q: must begin with / and contain more than /", svc.Path)
	}
	if err := validate.Struct(&svc); err != nil {
		return fmt.Errorf("invalid service: %w", err)
	}
	if svc.ScanStatus == ScanStatusFailed || svc.ScanStatus == ScanStatusSecurityPending {
		svc.Enabled = false
	}
	svc.HeadersTemplate = expandHeaderEnv(svc.HeadersTemplate)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byPath[svc.Path]; ok {
		return &ErrConflict{Field: "path", Value: svc.Path}
	}
	if _, ok := s.byName[svc.Name]; ok {
		return &ErrConflict{Field: "name", Value: svc.Name}
	}

	svc.Health = HealthState{Status: HealthUnknown}
	if err := s.persist.Save(svc); err != nil {
		return fmt.Errorf("persisting service %q: %w", svc.Path, err)
	}

	cp := svc
	s.byPath[svc.Path] = &cp
	s.byName[svc.Name] = svc.Path
	s.rebuildSnapshotLocked()
	s.publish(Event{Kind: EventServiceRegistered, Path: svc.Path})
	return nil
}

// Remove deletes the Service at path.
func (s *Store) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.byPath[path]
	if !ok {
		return &ErrNotFound{Path: path}
	}
	if err := s.persist.Delete(path); err != nil {
		return fmt.Errorf("deleting service %q: %w", path, err)
	}

	delete(s.byPath, path)
	delete(s.byName, svc.Name)
	s.rebuildSnapshotLocked()
	s.publish(Event{Kind: EventServiceRemoved, Path: path})
	return nil
}

// SetEnabled toggles a Service's enabled flag, refusing to enable one
// whose scan_status is security-pending.
func (s *Store) SetEnabled(path string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.byPath[path]
	if !ok {
		return &ErrNotFound{Path: path}
	}
	if enabled && svc.ScanStatus == ScanStatusSecurityPending {
		return &ErrForbiddenByScanStatus{Path: path}
	}

	updated := *svc
	updated.Enabled = enabled
	if err := s.persist.Save(updated); err != nil {
		return fmt.Errorf("persisting service %q: %w", path, err)
	}
	s.byPath[path] = &updated
	s.rebuildSnapshotLocked()
	s.publish(Event{Kind: EventEnabledChanged, Path: path})
	return nil
}

// UpdateHealth is invoked by the Health Monitor after every probe to
// record the latest HealthState and, on success, the refreshed Tool
// list (spec.md §4.4 step 5). Health is not persisted to disk.
func (s *Store) UpdateHealth(path string, health HealthState, tools []Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.byPath[path]
	if !ok {
		return &ErrNotFound{Path: path}
	}

	updated := *svc
	updated.Health = health
	toolsChanged := tools != nil
	if toolsChanged {
		updated.Tools = tools
		if err := s.persist.Save(updated); err != nil {
			return fmt.Errorf("persisting tools for %q: %w", path, err)
		}
	}
	s.byPath[path] = &updated
	s.rebuildSnapshotLocked()
	if toolsChanged {
		s.publish(Event{Kind: EventToolsUpdated, Path: path})
	}
	return nil
}

// GetByPath returns a zero-copy-to-caller snapshot of the Service at
// path (the returned value is a copy; mutating it has no effect on the
// Store).
func (s *Store) GetByPath(path string) (Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.byPath[path]
	if !ok {
		return Service{}, &ErrNotFound{Path: path}
	}
	return svc.Clone(), nil
}

// Filter narrows List/Snapshot results.
type Filter struct {
	Enabled *bool
	Health  *HealthStatus
	Tags    []string // AND semantics, case-insensitive
}

func (f Filter) matches(svc *Service) bool {
	if f.Enabled != nil && svc.Enabled != *f.Enabled {
		return false
	}
	if f.Health != nil && svc.Health.Status != *f.Health {
		return false
	}
	for _, want := range f.Tags {
		found := false
		for _, have := range svc.Tags {
			if strings.EqualFold(want, have) {
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

// List returns every Service matching filter, ordered by path.
func (s *Store) List(filter Filter) []Service {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Service, 0, len(s.byPath))
	for _, svc := range s.byPath {
		if filter.matches(svc) {
			out = append(out, svc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Snapshot returns the Store's current immutable view, used by the Edge
// Router's hot path: readers hold the returned slice without taking
// any lock, and outstanding readers continue to see it after a mutation
// replaces the Store's internal pointer (spec.md §4.3, §5).
func (s *Store) Snapshot() []Service {
	if p := s.snapshot.Load(); p != nil {
		return *p
	}
	return nil
}

// expandHeaderEnv resolves "$VARNAME" references in headers_template
// values against the process environment, once, at registration time.
// The result is what gets persisted; the environment is never
// re-consulted at request time (spec.md §6).
func expandHeaderEnv(headers []Header) []Header {
	out := make([]Header, len(headers))
	for i, h := range headers {
		out[i] = Header{Name: h.Name, Value: os.Expand(h.Value, os.Getenv)}
	}
	return out
}

func (s *Store) rebuildSnapshotLocked() {
	out := make([]Service, 0, len(s.byPath))
	for _, svc := range s.byPath {
		out = append(out, svc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	s.snapshot.Store(&out)
}
