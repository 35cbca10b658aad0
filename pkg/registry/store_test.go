package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	disk, err := NewDisk(t.TempDir())
	require.NoError(t, err)
	return New(disk)
}

func sampleService(path string) Service {
	return Service{
		Name:                "svc" + path,
		Path:                path,
		ProxyPassURL:        "http://upstream:8000/mcp",
		SupportedTransports: []Transport{TransportStreamableHTTP},
		AuthProvider:        AuthProviderDefault,
		Enabled:             true,
	}
}

func TestRegisterUniquePathAndName(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Register(sampleService("/a")))

	err := s.Register(sampleService("/a"))
	require.Error(t, err)
	assert.IsType(t, &ErrConflict{}, err)

	dup := sampleService("/b")
	dup.Name = "svc/a"
	err = s.Register(dup)
	require.Error(t, err)
	assert.IsType(t, &ErrConflict{}, err)
}

func TestRegisterRejectsInvalidPath(t *testing.T) {
	s := newTestStore(t)
	bad := sampleService("/")
	bad.Path = "no-leading-slash"
	require.Error(t, s.Register(bad))
}

func TestSecurityPendingForcesDisabledAndBlocksEnable(t *testing.T) {
	s := newTestStore(t)
	svc := sampleService("/pending")
	svc.Enabled = true
	svc.ScanStatus = ScanStatusSecurityPending
	require.NoError(t, s.Register(svc))

	got, err := s.GetByPath("/pending")
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	err = s.SetEnabled("/pending", true)
	require.Error(t, err)
	assert.IsType(t, &ErrForbiddenByScanStatus{}, err)
}

func TestRegisterThenRemoveRoundTrips(t *testing.T) {
	s := newTestStore(t)
	svc := sampleService("/rt")
	require.NoError(t, s.Register(svc))
	require.NoError(t, s.Remove("/rt"))

	_, err := s.GetByPath("/rt")
	require.Error(t, err)
	assert.IsType(t, &ErrNotFound{}, err)
	assert.Empty(t, s.Snapshot())
}

func TestSnapshotIsStableUnderConcurrentMutation(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Register(sampleService("/a")))

	snap := s.Snapshot()
	require.Len(t, snap, 1)

	require.NoError(t, s.Register(sampleService("/b")))

	// Previously-taken snapshot is untouched by the later mutation.
	assert.Len(t, snap, 1)
	assert.Len(t, s.Snapshot(), 2)
}

func TestListFiltersByEnabledAndTags(t *testing.T) {
	s := newTestStore(t)
	a := sampleService("/a")
	a.Tags = []string{"time"}
	b := sampleService("/b")
	b.Tags = []string{"finance"}
	b.Enabled = false
	require.NoError(t, s.Register(a))
	require.NoError(t, s.Register(b))

	enabled := true
	got := s.List(Filter{Enabled: &enabled})
	require.Len(t, got, 1)
	assert.Equal(t, "/a", got[0].Path)

	got = s.List(Filter{Tags: []string{"FINANCE"}})
	require.Len(t, got, 1)
	assert.Equal(t, "/b", got[0].Path)
}

// countingPersister wraps a Persister and counts Save calls.
type countingPersister struct {
	Persister
	saves int
}

func (c *countingPersister) Save(svc Service) error {
	c.saves++
	return c.Persister.Save(svc)
}

func TestUpdateHealthDoesNotPersistWhenToolsNil(t *testing.T) {
	disk, err := NewDisk(t.TempDir())
	require.NoError(t, err)
	counter := &countingPersister{Persister: disk}
	s := New(counter)
	require.NoError(t, s.Register(sampleService("/a")))
	savesBefore := counter.saves

	require.NoError(t, s.UpdateHealth("/a", HealthState{Status: HealthHealthy, NumTools: 0}, nil))
	assert.Equal(t, savesBefore, counter.saves)
	got, err := s.GetByPath("/a")
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, got.Health.Status)
	assert.Empty(t, got.Tools)
}

func TestEventsPublishOnMutation(t *testing.T) {
	s := newTestStore(t)
	ch, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.Register(sampleService("/a")))
	ev := <-ch
	assert.Equal(t, EventServiceRegistered, ev.Kind)
	assert.Equal(t, "/a", ev.Path)
}
