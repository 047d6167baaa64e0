package investigation

import (
	"context"

	"github.com/cortexhq/cortex/internal/platform"
)

// fakePlatformAdapter is a no-op platform.Adapter for tests that don't
// exercise tool dispatch against a live platform.
type fakePlatformAdapter struct{}

func (fakePlatformAdapter) GetServices(ctx context.Context, projectID string) ([]platform.ServiceRecord, error) {
	return nil, nil
}

func (fakePlatformAdapter) GetVariables(ctx context.Context, serviceID, environmentID string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (fakePlatformAdapter) GetRecentDeploys(ctx context.Context, serviceID, environmentID string, limit int) ([]platform.DeployRecord, error) {
	return nil, nil
}

func (fakePlatformAdapter) GetServiceLogs(ctx context.Context, serviceID, environmentID string) (string, error) {
	return "", nil
}

func (fakePlatformAdapter) CheckHealth(ctx context.Context, healthURL string) bool {
	return true
}

func (fakePlatformAdapter) Restart(ctx context.Context, serviceID, environmentID string) bool {
	return true
}

func (fakePlatformAdapter) SetVariable(ctx context.Context, serviceID, environmentID, key, value string) bool {
	return true
}

func (fakePlatformAdapter) Rollback(ctx context.Context, serviceID, environmentID string) bool {
	return true
}

var _ platform.Adapter = fakePlatformAdapter{}
