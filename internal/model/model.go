// Package model defines the entities Cortex accumulates about a fleet of
// services: services, dependencies, variables, code snapshots, deploys,
// flags, incidents, and the append-only event log.
package model

import "time"

// ServiceType classifies what a deployable unit is for.
type ServiceType string

const (
	ServiceTypeApp       ServiceType = "app"
	ServiceTypeDatabase  ServiceType = "database"
	ServiceTypeCache     ServiceType = "cache"
	ServiceTypeWorker    ServiceType = "worker"
	ServiceTypeScheduler ServiceType = "scheduler"
)

// Service is a deployable unit on the compute platform.
type Service struct {
	Name          string      `json:"name"`
	ServiceID     string      `json:"service_id"`
	EnvironmentID string      `json:"environment_id"`
	Type          ServiceType `json:"type"`
	Stack         string      `json:"stack"`
	Role          string      `json:"role"`
	RepoOwner     string      `json:"repo_owner,omitempty"`
	RepoName      string      `json:"repo_name,omitempty"`
	RepoBranch    string      `json:"repo_branch,omitempty"`
	HealthURL     string      `json:"health_url,omitempty"`
	LastStatus    string      `json:"last_status,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// HasRepo reports whether the service is linked to a code host repository.
func (s Service) HasRepo() bool {
	return s.RepoOwner != "" && s.RepoName != ""
}

// DepType classifies a dependency edge.
type DepType string

const (
	DepDatabase DepType = "database"
	DepCache    DepType = "cache"
	DepQueue    DepType = "queue"
	DepAPI      DepType = "api"
	DepService  DepType = "service"
)

// Dependency is a directed edge: Service depends on DependsOn.
type Dependency struct {
	Service   string  `json:"service"`
	DependsOn string  `json:"depends_on"`
	Type      DepType `json:"dep_type"`
}

// Variable is one environment-variable row for a service.
type Variable struct {
	Service          string `json:"service"`
	Key              string `json:"key"`
	Value            string `json:"value"`
	IsReference      bool   `json:"is_reference"`
	ReferencesService string `json:"references_service,omitempty"`
}

// FileSnapshot is the fetched content of one "key" configuration file.
type FileSnapshot struct {
	Service   string    `json:"service"`
	Path      string    `json:"path"`
	Content   string    `json:"content"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Commit is a condensed commit record.
type Commit struct {
	Service string    `json:"service"`
	SHA     string    `json:"sha"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
}

// Deploy is one deployment record for a service.
type Deploy struct {
	Service   string         `json:"service"`
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// ProjectInfo holds code-inspection results for a service's repo.
type ProjectInfo struct {
	Service          string `json:"service"`
	Framework        string `json:"framework"`
	Language         string `json:"language"`
	HasTests         bool   `json:"has_tests"`
	HasMigrations    bool   `json:"has_migrations"`
	HasQueueWorkers  bool   `json:"has_queue_workers"`
}

// FlagType enumerates the anomalies Discovery can attach to a service.
type FlagType string

const (
	FlagHardcodedDB         FlagType = "hardcoded_db"
	FlagMissingDependency    FlagType = "missing_dependency"
	FlagMissingVariable      FlagType = "missing_variable"
	FlagNoDatabaseConfig     FlagType = "no_database_config"
	FlagInconsistentVariable FlagType = "inconsistent_variable"
)

// Flag is one anomaly discovered by the Discovery pipeline.
type Flag struct {
	Service   string    `json:"service"`
	Type      FlagType  `json:"flag_type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// ActionStatus enumerates outcomes an Action Executor records.
type ActionStatus string

const (
	ActionStatusSuccess           ActionStatus = "success"
	ActionStatusFailed            ActionStatus = "failed"
	ActionStatusError             ActionStatus = "error"
	ActionStatusPRCreated         ActionStatus = "pr_created"
	ActionStatusBlockedByAutonomy ActionStatus = "blocked_by_autonomy"
	ActionStatusOK                ActionStatus = "ok"
)

// ActionType enumerates the kinds of remediation an investigation can recommend.
type ActionType string

const (
	ActionRestart     ActionType = "restart"
	ActionSetVariable ActionType = "set_variable"
	ActionRollback    ActionType = "rollback"
	ActionProposeFix  ActionType = "propose_fix"
	ActionNotifyOnly  ActionType = "notify_only"
)

// ActionDetails carries the type-specific payload for an Action.
type ActionDetails struct {
	Variable string            `json:"variable,omitempty"`
	Value    string            `json:"value,omitempty"`
	Changes  []FileChange      `json:"changes,omitempty"`
	Title    string            `json:"title,omitempty"`
	Message  string            `json:"message,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// FileChange is one file write proposed as part of a propose_fix action.
type FileChange struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Message string `json:"message"`
}

// Action is a single recommended or executed remediation step.
type Action struct {
	Type     ActionType    `json:"type"`
	Details  ActionDetails `json:"details"`
	Status   ActionStatus  `json:"status,omitempty"`
	PRURL    string        `json:"pr_url,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Severity classifies a diagnosis's urgency.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Incident is the durable record of one investigation.
type Incident struct {
	ID         string     `json:"incident_id"`
	Service    string     `json:"service"`
	Trigger    string     `json:"trigger"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Transcript []Turn     `json:"transcript"`
	Diagnosis  string     `json:"diagnosis"`
	Severity   Severity   `json:"severity,omitempty"`
	Actions    []Action   `json:"actions"`
	Turns      int        `json:"turns"`
	TransportError string `json:"transport_error,omitempty"`
}

// Turn is one round of the investigation's tool-calling loop, kept for the
// incident transcript.
type Turn struct {
	AssistantText string     `json:"assistant_text,omitempty"`
	ToolCalls     []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall records one tool invocation and its result within a turn.
type ToolCall struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Input  string `json:"input"`
	Result string `json:"result"`
}

// Event is one append-only log entry.
type Event struct {
	ID      string         `json:"id"`
	Type    string         `json:"event_type"`
	Service string         `json:"service,omitempty"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Time    time.Time      `json:"timestamp"`
}

// VariableIssue is a heuristic flag on a variable that looks like a
// connection target but whose value is not a platform reference.
type VariableIssue struct {
	Service string `json:"service"`
	Key     string `json:"key"`
	Value   string `json:"value"`
	Reason  string `json:"reason"`
}

// DeepContext is the canonical aggregate consumed by the Investigation Engine.
type DeepContext struct {
	Service           Service          `json:"service"`
	Dependencies      []Dependency     `json:"dependencies"`
	Dependents        []Dependency     `json:"dependents"`
	Variables         []Variable       `json:"variables"`
	VariableIssues    []VariableIssue  `json:"variable_issues"`
	Project           *ProjectInfo     `json:"project,omitempty"`
	Files             []FileSnapshot   `json:"files"`
	RecentCommits     []Commit         `json:"recent_commits"`
	RecentDeploys     []Deploy         `json:"recent_deploys"`
	RecentIncidents   []Incident       `json:"recent_incidents"`
	OpenFlags         []Flag           `json:"open_flags"`
}
