package action

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexhq/cortex/internal/config"
	"github.com/cortexhq/cortex/internal/model"
	"github.com/cortexhq/cortex/internal/platform"
)

type fakePlatform struct {
	restartOK  bool
	setVarOK   bool
	rollbackOK bool
}

func (f fakePlatform) GetServices(ctx context.Context, projectID string) ([]platform.ServiceRecord, error) {
	return nil, nil
}
func (f fakePlatform) GetVariables(ctx context.Context, serviceID, environmentID string) (map[string]string, error) {
	return map[string]string{}, nil
}
func (f fakePlatform) GetRecentDeploys(ctx context.Context, serviceID, environmentID string, limit int) ([]platform.DeployRecord, error) {
	return nil, nil
}
func (f fakePlatform) GetServiceLogs(ctx context.Context, serviceID, environmentID string) (string, error) {
	return "", nil
}
func (f fakePlatform) CheckHealth(ctx context.Context, healthURL string) bool { return true }
func (f fakePlatform) Restart(ctx context.Context, serviceID, environmentID string) bool {
	return f.restartOK
}
func (f fakePlatform) SetVariable(ctx context.Context, serviceID, environmentID, key, value string) bool {
	return f.setVarOK
}
func (f fakePlatform) Rollback(ctx context.Context, serviceID, environmentID string) bool {
	return f.rollbackOK
}

var _ platform.Adapter = fakePlatform{}

func TestExecuteRestartPermitted(t *testing.T) {
	autonomy := config.DefaultAutonomyConfig()
	autonomy.Defaults.CanRestart = true

	exec := New(fakePlatform{restartOK: true}, nil, autonomy)
	svc := model.Service{Name: "api-x", ServiceID: "svc1", EnvironmentID: "env1"}

	actions := exec.Execute(context.Background(), svc, "diagnosis", []model.Action{{Type: model.ActionRestart}})

	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionStatusSuccess, actions[0].Status)
}

func TestExecuteRollbackBlockedByDefault(t *testing.T) {
	autonomy := config.DefaultAutonomyConfig()

	exec := New(fakePlatform{rollbackOK: true}, nil, autonomy)
	svc := model.Service{Name: "api-x"}

	actions := exec.Execute(context.Background(), svc, "diagnosis", []model.Action{{Type: model.ActionRollback}})

	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionStatusBlockedByAutonomy, actions[0].Status)
}

func TestExecuteRestartForbiddenListOverridesDefault(t *testing.T) {
	autonomy := config.DefaultAutonomyConfig()
	autonomy.ForbiddenActions = append(autonomy.ForbiddenActions, config.CapRestart)

	exec := New(fakePlatform{restartOK: true}, nil, autonomy)
	svc := model.Service{Name: "api-x"}

	actions := exec.Execute(context.Background(), svc, "diagnosis", []model.Action{{Type: model.ActionRestart}})

	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionStatusBlockedByAutonomy, actions[0].Status)
}

func TestExecuteNotifyOnlyAlwaysPermitted(t *testing.T) {
	autonomy := config.DefaultAutonomyConfig()
	exec := New(fakePlatform{}, nil, autonomy)
	svc := model.Service{Name: "api-x"}

	actions := exec.Execute(context.Background(), svc, "diagnosis", []model.Action{{Type: model.ActionNotifyOnly}})

	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionStatusOK, actions[0].Status)
}

func TestExecuteProposeFixWithoutCodeHostErrors(t *testing.T) {
	autonomy := config.DefaultAutonomyConfig()
	autonomy.Defaults.CanCreatePR = true

	exec := New(fakePlatform{}, nil, autonomy)
	svc := model.Service{Name: "api-x", RepoOwner: "acme", RepoName: "api-x"}

	actions := exec.Execute(context.Background(), svc, "diagnosis", []model.Action{{Type: model.ActionProposeFix}})

	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionStatusError, actions[0].Status)
}

func TestExecuteSetVariableMissingDetailsErrors(t *testing.T) {
	autonomy := config.DefaultAutonomyConfig()
	autonomy.Defaults.CanSetVariables = true

	exec := New(fakePlatform{setVarOK: true}, nil, autonomy)
	svc := model.Service{Name: "api-x"}

	actions := exec.Execute(context.Background(), svc, "diagnosis", []model.Action{{Type: model.ActionSetVariable}})

	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionStatusError, actions[0].Status)
}
