package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultAutonomyConfigMatchesGroundTruthDefaults(t *testing.T) {
	ac := DefaultAutonomyConfig()

	assert.True(t, ac.Defaults.CanRestart)
	assert.True(t, ac.Defaults.CanSetVariables)
	assert.False(t, ac.Defaults.CanRollback)
	assert.True(t, ac.Defaults.CanCreatePR)
	assert.Equal(t, 3, ac.Defaults.MaxRepairAttempts)
	assert.ElementsMatch(t, []string{
		"database_migration", "database_rollback",
		"delete_data", "drop_table", "modify_schema", "truncate",
	}, ac.ForbiddenActions)
}

func TestCanDoUsesDefaultsWhenNoServiceOverride(t *testing.T) {
	ac := DefaultAutonomyConfig()

	assert.True(t, ac.CanDo("api-x", CapRestart))
	assert.True(t, ac.CanDo("api-x", CapSetVariable))
	assert.False(t, ac.CanDo("api-x", CapRollback))
	assert.True(t, ac.CanDo("api-x", CapCreatePR))
}

func TestCanDoForbiddenListOverridesEverything(t *testing.T) {
	ac := DefaultAutonomyConfig()
	ac.ForbiddenActions = append(ac.ForbiddenActions, CapRestart)

	assert.False(t, ac.CanDo("api-x", CapRestart))
}

func TestCanDoServiceOverrideWinsOverDefaults(t *testing.T) {
	ac := DefaultAutonomyConfig()
	ac.Services = map[string]AutonomyDefaults{
		"risky-svc": {CanRestart: false, CanSetVariables: false, CanRollback: false, CanCreatePR: false, MaxRepairAttempts: 1},
	}

	assert.False(t, ac.CanDo("risky-svc", CapRestart))
	assert.True(t, ac.CanDo("other-svc", CapRestart))
}

func TestCanDoUnknownCapabilityDenied(t *testing.T) {
	ac := DefaultAutonomyConfig()
	assert.False(t, ac.CanDo("api-x", "not_a_real_capability"))
}

func TestMaxAttemptsFallsBackToDefault(t *testing.T) {
	ac := DefaultAutonomyConfig()
	assert.Equal(t, 3, ac.MaxAttempts("api-x"))

	ac.Services = map[string]AutonomyDefaults{"api-x": {MaxRepairAttempts: 5}}
	assert.Equal(t, 5, ac.MaxAttempts("api-x"))
}
