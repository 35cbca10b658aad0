package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/registry"
)

func writeScopes(t *testing.T, yaml string) *registry.ScopeStore {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "scopes.yml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	store, err := registry.NewScopeStore(path)
	require.NoError(t, err)
	return store
}

const sampleScopesYAML = `
group_scopes:
  engineers:
    - mcp-servers-restricted/read
  admins:
    - mcp-servers-admin/all
scope_access:
  mcp-servers-restricted/read:
    - service: /currenttime
      tools: ["*"]
  mcp-servers-admin/all:
    - service: /finance
      tools: ["get_price"]
`

func TestBuildPrincipalGrantsAccessFromScopes(t *testing.T) {
	scopes := writeScopes(t, sampleScopesYAML)
	r := New(nil, scopes, 0, []string{"admins"})

	p := r.buildPrincipal("alice", []string{"engineers"}, scopes.Current().ScopesForGroups([]string{"engineers"}), MethodOIDCBearer, "test-issuer")

	assert.False(t, p.IsAdmin)
	assert.True(t, p.CanAccessServer("/currenttime"))
	assert.True(t, p.CanAccessTool("/currenttime", "anything"))
	assert.False(t, p.CanAccessServer("/finance"))
}

func TestBuildPrincipalAdminBypass(t *testing.T) {
	scopes := writeScopes(t, sampleScopesYAML)
	r := New(nil, scopes, 0, []string{"admins"})

	p := r.buildPrincipal("bob", []string{"admins"}, nil, MethodOIDCBearer, "test-issuer")

	assert.True(t, p.IsAdmin)
	assert.True(t, p.CanAccessServer("/anything"))
	assert.True(t, p.CanAccessTool("/anything", "anything"))
}

func TestUnknownGroupContributesNoScopes(t *testing.T) {
	scopes := writeScopes(t, sampleScopesYAML)
	got := scopes.Current().ScopesForGroups([]string{"nonexistent-group"})
	assert.Empty(t, got)
}

func TestAuthorizeForPathRejectsUnlistedServer(t *testing.T) {
	p := &Principal{AccessibleServers: map[string]bool{"/a": true}}
	assert.NoError(t, AuthorizeForPath(p, "/a"))
	assert.Error(t, AuthorizeForPath(p, "/b"))
}

func TestUnionScopesAddsWithoutDuplicating(t *testing.T) {
	got := unionScopes([]string{"a", "b"}, []string{"b", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestScopeReloadIsAtomic(t *testing.T) {
	scopes := writeScopes(t, sampleScopesYAML)
	before := scopes.Current()

	require.NoError(t, scopes.Reload())
	after := scopes.Current()

	// Both pointers are valid, distinct snapshots; no request ever sees
	// a mixture of the two maps' contents.
	assert.NotNil(t, before)
	assert.NotNil(t, after)
	assert.NotSame(t, before, after)
}
