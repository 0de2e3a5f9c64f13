package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDetector() *ConflictDetector {
	tok := NewDefaultTokenizer(map[string][]string{
		"en": {"not", "never", "no longer"},
	})
	return NewConflictDetector(tok, [][2]string{{"planned", "implemented"}})
}

func TestConflictDetector_AsymmetricNegation(t *testing.T) {
	d := newTestDetector()
	conflict, reason := d.Detect("The service uses PostgreSQL", nil, "The service does not use PostgreSQL", nil)
	require.True(t, conflict)
	assert.Contains(t, reason, "negation")
}

func TestConflictDetector_NoConflictWhenBothNegate(t *testing.T) {
	d := newTestDetector()
	conflict, _ := d.Detect("We never deploy on Fridays", nil, "We never deploy on weekends", nil)
	assert.False(t, conflict)
}

func TestConflictDetector_DifferingAssertion(t *testing.T) {
	d := newTestDetector()
	conflict, reason := d.Detect("database: postgres", nil, "database: mongodb", nil)
	require.True(t, conflict)
	assert.Contains(t, reason, "database")
}

func TestConflictDetector_ExclusiveTags(t *testing.T) {
	d := newTestDetector()
	conflict, reason := d.Detect("We will add caching", []string{"planned"}, "We added caching", []string{"implemented"})
	require.True(t, conflict)
	assert.Contains(t, reason, "mutually exclusive")
}

func TestConflictDetector_NoConflict(t *testing.T) {
	d := newTestDetector()
	conflict, _ := d.Detect("The API uses REST", nil, "The API supports pagination", nil)
	assert.False(t, conflict)
}

func TestConflictDetector_DifferingValueNoTagsNoNegation(t *testing.T) {
	d := newTestDetector()
	conflict, reason := d.Detect("The service uses MongoDB", nil, "The service uses PostgreSQL", nil)
	require.True(t, conflict)
	assert.Contains(t, reason, "MongoDB")
	assert.Contains(t, reason, "PostgreSQL")
}

func TestConflictDetector_OrdinaryRephrasingIsNotValueSubstitution(t *testing.T) {
	d := newTestDetector()
	conflict, _ := d.Detect("We never deploy on Fridays", nil, "We never deploy on weekends", nil)
	assert.False(t, conflict, "a lowercase common-noun swap must not be mistaken for a proper-noun value substitution")
}
