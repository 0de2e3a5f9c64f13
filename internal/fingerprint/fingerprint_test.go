package fingerprint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/memcore/internal/fingerprint"
	"github.com/openclaw/memcore/internal/models"
)

func testScope() models.Scope {
	return models.Scope{Tenant: "acme", User: "bob"}
}

func TestID_DeterministicAndScopeQualified(t *testing.T) {
	scope := testScope()
	id1 := fingerprint.ID(scope, "the sky is blue")
	id2 := fingerprint.ID(scope, "the sky is blue")
	require.Equal(t, id1, id2)

	other := models.Scope{Tenant: "acme", User: "alice"}
	id3 := fingerprint.ID(other, "the sky is blue")
	assert.NotEqual(t, id1, id3, "same content under a different scope must fingerprint differently")
}

func TestID_NormalizationTrimsWhitespaceAndFoldsCase(t *testing.T) {
	scope := testScope()
	a := fingerprint.ID(scope, "  The Sky Is Blue  ")
	b := fingerprint.ID(scope, "the sky is blue")
	assert.Equal(t, a, b)
}

func TestID_DifferentContentDifferentID(t *testing.T) {
	scope := testScope()
	a := fingerprint.ID(scope, "the sky is blue")
	b := fingerprint.ID(scope, "the sky is not blue")
	assert.NotEqual(t, a, b)
}

func TestScopeHash_StableAcrossCalls(t *testing.T) {
	scope := testScope()
	assert.Equal(t, fingerprint.ScopeHash(scope), fingerprint.ScopeHash(scope))
}

func TestCacheKeys_AreScopePrefixed(t *testing.T) {
	scope := testScope()
	prefix := fingerprint.CachePrefix(scope)

	assert.Contains(t, fingerprint.SearchCacheKey(scope, "q|active|0|5"), prefix)
	assert.Contains(t, fingerprint.ContextCacheKey(scope, "what's the plan"), prefix)
	assert.Contains(t, fingerprint.IDCacheKey(scope, "abc123"), prefix)
}

func TestResolveLockKey_OrderIndependent(t *testing.T) {
	scope := testScope()
	k1 := fingerprint.ResolveLockKey(scope, []string{"id-a", "id-b", "id-c"})
	k2 := fingerprint.ResolveLockKey(scope, []string{"id-c", "id-a", "id-b"})
	assert.Equal(t, k1, k2, "resolve lock key must not depend on caller-supplied ID order")
}

func TestWriteLockKey_DifferentIDsDifferentKeys(t *testing.T) {
	scope := testScope()
	assert.NotEqual(t,
		fingerprint.WriteLockKey(scope, "id-1"),
		fingerprint.WriteLockKey(scope, "id-2"),
	)
}
