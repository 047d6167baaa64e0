package investigation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cortexhq/cortex/internal/codehost"
	"github.com/cortexhq/cortex/internal/knowledge"
	"github.com/cortexhq/cortex/internal/llm"
	"github.com/cortexhq/cortex/internal/platform"
)

// toolDefinitions is the closed set of tools exposed to the model, grounded
// 1:1 on original_source/brain.py's TOOLS list.
func toolDefinitions() []llm.Tool {
	serviceInput := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"service": map[string]any{"type": "string", "description": "Service name"},
		},
		"required": []string{"service"},
	}

	return []llm.Tool{
		{Name: "get_logs", Description: "Get recent deploy logs for a service.", InputSchema: serviceInput},
		{Name: "get_variables", Description: "Get environment variables for a service. Sensitive values are masked.", InputSchema: serviceInput},
		{
			Name:        "get_file",
			Description: "Get the content of a file from a service's repository.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"service": map[string]any{"type": "string"},
					"path":    map[string]any{"type": "string", "description": "File path relative to repo root"},
				},
				"required": []string{"service", "path"},
			},
		},
		{Name: "get_deploys", Description: "Get recent deployment history for a service.", InputSchema: serviceInput},
		{
			Name:        "get_commits",
			Description: "Get recent commits for a service's repository.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"service": map[string]any{"type": "string"},
					"limit":   map[string]any{"type": "integer", "description": "Max commits to return, default 5"},
				},
				"required": []string{"service"},
			},
		},
		{Name: "check_health", Description: "Check whether a service's health endpoint is responding.", InputSchema: serviceInput},
		{Name: "get_dependency_status", Description: "Check health of every service this service depends on.", InputSchema: serviceInput},
		{
			Name:        "diagnose_complete",
			Description: "Call this when you have reached a diagnosis. Ends the investigation.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"diagnosis": map[string]any{"type": "string", "description": "Plain-language diagnosis of the problem"},
					"severity":  map[string]any{"type": "string", "enum": []string{"critical", "high", "medium", "low"}},
					"actions": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"type": map[string]any{
									"type": "string",
									"enum": []string{"restart", "set_variable", "rollback", "propose_fix", "notify_only"},
								},
								"details": map[string]any{"type": "object"},
							},
							"required": []string{"type", "details"},
						},
					},
				},
				"required": []string{"diagnosis", "severity", "actions"},
			},
		},
	}
}

// toolExecutor dispatches each tool call against the store and adapters.
type toolExecutor struct {
	store    *knowledge.Store
	platform platform.Adapter
	codehost codehost.Adapter // may be nil
}

// execute runs one tool call and returns its result string. It never
// returns an error: failures are encoded as "Tool error: ..." result
// strings per spec §4.F/§7, so the model sees them and can adapt.
func (e *toolExecutor) execute(ctx context.Context, name string, input map[string]any) string {
	service, _ := input["service"].(string)

	switch name {
	case "get_logs":
		return e.getLogs(ctx, service)
	case "get_variables":
		return e.getVariables(service)
	case "get_file":
		path, _ := input["path"].(string)
		return e.getFile(ctx, service, path)
	case "get_deploys":
		return e.getDeploys(service)
	case "get_commits":
		limit := 5
		if l, ok := input["limit"].(float64); ok && l > 0 {
			limit = int(l)
		}
		return e.getCommits(service, limit)
	case "check_health":
		return e.checkHealth(ctx, service)
	case "get_dependency_status":
		return e.getDependencyStatus(ctx, service)
	default:
		return fmt.Sprintf("Tool error: unknown tool %q", name)
	}
}

func (e *toolExecutor) getLogs(ctx context.Context, service string) string {
	svc, ok := e.store.GetService(service)
	if !ok {
		return fmt.Sprintf("Tool error: unknown service %q", service)
	}
	logs, err := e.platform.GetServiceLogs(ctx, svc.ServiceID, svc.EnvironmentID)
	if err != nil || logs == "" {
		return "No logs available."
	}
	return logs
}

func (e *toolExecutor) getVariables(service string) string {
	vars := e.store.GetVariables(service)
	masked := make(map[string]string, len(vars))
	for _, v := range vars {
		masked[v.Key] = knowledge.MaskSensitiveValue(v.Key, v.Value)
	}
	data, err := json.Marshal(masked)
	if err != nil {
		return "Tool error: could not encode variables"
	}
	return string(data)
}

func (e *toolExecutor) getFile(ctx context.Context, service, path string) string {
	if snap, ok := e.store.GetFile(service, path); ok {
		return snap.Content
	}

	svc, ok := e.store.GetService(service)
	if !ok || !svc.HasRepo() || e.codehost == nil {
		return "File not found"
	}

	content, err := e.codehost.GetFileContent(ctx, svc.RepoOwner, svc.RepoName, path, svc.RepoBranch)
	if err != nil || content == "" {
		return "File not found"
	}
	return content
}

func (e *toolExecutor) getDeploys(service string) string {
	deploys := e.store.ListDeploys(service, 10)
	data, err := json.Marshal(deploys)
	if err != nil {
		return "Tool error: could not encode deploys"
	}
	return string(data)
}

func (e *toolExecutor) getCommits(service string, limit int) string {
	commits := e.store.ListCommits(service, limit)
	data, err := json.Marshal(commits)
	if err != nil {
		return "Tool error: could not encode commits"
	}
	return string(data)
}

func (e *toolExecutor) checkHealth(ctx context.Context, service string) string {
	svc, ok := e.store.GetService(service)
	if !ok {
		return fmt.Sprintf("Tool error: unknown service %q", service)
	}
	if e.platform.CheckHealth(ctx, svc.HealthURL) {
		return "HEALTHY"
	}
	return "UNHEALTHY"
}

type dependencyStatus struct {
	Service string `json:"service"`
	Healthy bool   `json:"healthy"`
}

func (e *toolExecutor) getDependencyStatus(ctx context.Context, service string) string {
	deps := e.store.GetDependencies(service)
	statuses := make([]dependencyStatus, 0, len(deps))
	for _, dep := range deps {
		healthy := true
		if target, ok := e.store.GetService(dep.DependsOn); ok {
			healthy = e.platform.CheckHealth(ctx, target.HealthURL)
		}
		statuses = append(statuses, dependencyStatus{Service: dep.DependsOn, Healthy: healthy})
	}
	data, err := json.Marshal(statuses)
	if err != nil {
		return "Tool error: could not encode dependency status"
	}
	return string(data)
}
