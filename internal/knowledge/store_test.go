package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexhq/cortex/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestUpsertServiceIdempotent(t *testing.T) {
	s := newTestStore(t)

	s.UpsertService(model.Service{Name: "api-x", Type: model.ServiceTypeApp})
	s.UpsertService(model.Service{Name: "api-x", Type: model.ServiceTypeApp, Stack: "node"})

	svc, ok := s.GetService("api-x")
	require.True(t, ok)
	assert.Equal(t, "node", svc.Stack)
	assert.Len(t, s.ListServices(), 1)
}

func TestParseReference(t *testing.T) {
	svc, isRef := ParseReference("${{redis-old.REDIS_URL}}")
	assert.True(t, isRef)
	assert.Equal(t, "redis-old", svc)

	_, isRef = ParseReference("db.internal:5432")
	assert.False(t, isRef)
}

func TestClearFlagsEmptiesScope(t *testing.T) {
	s := newTestStore(t)
	s.AddFlag(model.Flag{Service: "web-a", Type: model.FlagHardcodedDB, Message: "x"})
	require.Len(t, s.ListFlags("web-a"), 1)

	s.ClearFlags("web-a")
	assert.Empty(t, s.ListFlags("web-a"))
}

func TestMaskSensitiveValue(t *testing.T) {
	masked := MaskSensitiveValue("DB_PASSWORD", "supersecretvalue123")
	assert.NotContains(t, masked, "supersecretvalue123")
	assert.True(t, len(masked) < len("supersecretvalue123"))

	assert.Equal(t, "production", MaskSensitiveValue("APP_ENV", "production"))
}

func TestSaveIncidentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	inc := model.Incident{ID: "inc-1", Service: "api-x", Trigger: "Manual diagnosis requested"}
	s.SaveIncident(inc)

	got, ok := s.GetIncident("inc-1")
	require.True(t, ok)
	assert.Equal(t, inc.Service, got.Service)
}

func TestGetDeepContextUnknownService(t *testing.T) {
	s := newTestStore(t)
	_, ok := s.GetDeepContext("missing")
	assert.False(t, ok)
}

func TestGetVariableIssuesFlagsHardcodedValue(t *testing.T) {
	s := newTestStore(t)
	s.StoreVariables("api-x", map[string]string{"DB_HOST": "db.internal:5432"})

	issues := s.GetVariableIssues("api-x")
	require.Len(t, issues, 1)
	assert.Equal(t, "DB_HOST", issues[0].Key)
	assert.Equal(t, "Looks hardcoded. Should be a Railway reference?", issues[0].Reason)
}

func TestGetVariableIssuesIgnoresReference(t *testing.T) {
	s := newTestStore(t)
	s.StoreVariables("api-x", map[string]string{"DB_HOST": "${{postgres.DATABASE_URL}}"})

	assert.Empty(t, s.GetVariableIssues("api-x"))
}

func TestGetVariableIssuesIgnoresPlainUnresolvedValue(t *testing.T) {
	s := newTestStore(t)
	s.StoreVariables("api-x", map[string]string{"DB_HOST": "localhost"})

	assert.Empty(t, s.GetVariableIssues("api-x"))
}
