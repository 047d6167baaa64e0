package investigation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cortexhq/cortex/internal/action"
	"github.com/cortexhq/cortex/internal/codehost"
	"github.com/cortexhq/cortex/internal/config"
	"github.com/cortexhq/cortex/internal/knowledge"
	"github.com/cortexhq/cortex/internal/llm"
	"github.com/cortexhq/cortex/internal/model"
	"github.com/cortexhq/cortex/internal/platform"
	"github.com/cortexhq/cortex/internal/refdocs"
)

// Engine drives the bounded, multi-turn tool-calling investigation loop and
// then routes its recommended actions through the autonomy-gated Executor.
type Engine struct {
	store    *knowledge.Store
	platform platform.Adapter
	codehost codehost.Adapter // may be nil
	provider llm.Provider
	refdocs  *refdocs.Loader
	executor *action.Executor

	services config.ServicesConfig
	autonomy config.AutonomyConfig

	cfg Config
}

// New builds an Engine.
func New(store *knowledge.Store, platformAdapter platform.Adapter, codehostAdapter codehost.Adapter, provider llm.Provider, docs *refdocs.Loader, services config.ServicesConfig, autonomy config.AutonomyConfig, cfg Config) *Engine {
	return &Engine{
		store:    store,
		platform: platformAdapter,
		codehost: codehostAdapter,
		provider: provider,
		refdocs:  docs,
		executor: action.New(platformAdapter, codehostAdapter, autonomy),
		services: services,
		autonomy: autonomy,
		cfg:      cfg,
	}
}

// Investigate runs one bounded investigation for a service and trigger,
// persisting the resulting incident regardless of outcome (spec §5: no
// partial incident, only written at the end of the run).
func (e *Engine) Investigate(ctx context.Context, serviceName, trigger string) model.Incident {
	incident := model.Incident{
		ID:        uuid.NewString(),
		Service:   serviceName,
		Trigger:   trigger,
		StartedAt: time.Now(),
	}

	if e.cfg.MaxTurns <= 0 {
		incident.FinishedAt = time.Now()
		e.store.SaveIncident(incident)
		return incident
	}

	deepCtx, ok := e.store.GetDeepContext(serviceName)
	if !ok {
		incident.Diagnosis = "service not found in knowledge store"
		incident.FinishedAt = time.Now()
		e.store.SaveIncident(incident)
		return incident
	}

	if e.provider == nil {
		incident.TransportError = "no LLM provider configured"
		incident.FinishedAt = time.Now()
		e.store.SaveIncident(incident)
		return incident
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	system := e.buildSystemPrompt(deepCtx)
	initial := e.buildInitialMessage(deepCtx, trigger)

	exec := &toolExecutor{store: e.store, platform: e.platform, codehost: e.codehost}
	messages := []llm.Message{{Role: llm.RoleUser, Text: initial}}
	tools := toolDefinitions()

	var diagnosis *Diagnosis

	for turn := 0; turn < e.cfg.MaxTurns; turn++ {
		resp, err := e.provider.Chat(runCtx, llm.ChatRequest{System: system, Messages: messages, Tools: tools})
		if err != nil {
			log.Error().Err(err).Str("service", serviceName).Msg("investigation: llm transport error")
			incident.TransportError = err.Error()
			incident.Turns = turn
			incident.FinishedAt = time.Now()
			e.store.SaveIncident(incident)
			return incident
		}

		assistantMsg := llm.Message{Role: llm.RoleAssistant, Text: resp.Text, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistantMsg)

		turnRecord := model.Turn{AssistantText: resp.Text}

		if len(resp.ToolCalls) == 0 {
			incident.Transcript = append(incident.Transcript, turnRecord)
			incident.Turns = turn + 1
			break
		}

		var diagnoseComplete *Diagnosis
		var toolResults []llm.ToolResult
		for _, tc := range resp.ToolCalls {
			if tc.Name == "diagnose_complete" {
				diagnoseComplete = parseDiagnoseComplete(tc.Input)
				turnRecord.ToolCalls = append(turnRecord.ToolCalls, model.ToolCall{ID: tc.ID, Name: tc.Name, Input: encodeInput(tc.Input), Result: "investigation complete"})
				toolResults = append(toolResults, llm.ToolResult{ToolUseID: tc.ID, Content: "acknowledged"})
				continue
			}

			result := exec.execute(runCtx, tc.Name, tc.Input)
			turnRecord.ToolCalls = append(turnRecord.ToolCalls, model.ToolCall{ID: tc.ID, Name: tc.Name, Input: encodeInput(tc.Input), Result: result})
			toolResults = append(toolResults, llm.ToolResult{ToolUseID: tc.ID, Content: result})
		}

		incident.Transcript = append(incident.Transcript, turnRecord)
		incident.Turns = turn + 1

		if len(toolResults) > 0 {
			messages = append(messages, llm.Message{Role: llm.RoleUser, ToolResults: toolResults})
		}

		if diagnoseComplete != nil {
			diagnosis = diagnoseComplete
			break
		}
	}

	if diagnosis != nil {
		incident.Diagnosis = diagnosis.Text
		incident.Severity = diagnosis.Severity
		incident.Actions = e.executor.Execute(runCtx, deepCtx.Service, diagnosis.Text, diagnosis.Actions)
	}

	incident.FinishedAt = time.Now()
	e.store.SaveIncident(incident)

	if diagnosis != nil && e.refdocs != nil {
		actionTypes := make([]string, 0, len(incident.Actions))
		for _, a := range incident.Actions {
			actionTypes = append(actionTypes, string(a.Type))
		}
		insight := fmt.Sprintf("Resolved in %d turns. Actions: %v", incident.Turns, actionTypes)
		if err := e.refdocs.AddIncidentLearning(deepCtx.Service.Name, deepCtx.Service.Stack, trigger, diagnosis.Text, insight); err != nil {
			log.Warn().Err(err).Str("service", serviceName).Msg("investigation: could not write incident learning")
		}
	}

	return incident
}

func encodeInput(input map[string]any) string {
	data, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func parseDiagnoseComplete(input map[string]any) *Diagnosis {
	d := &Diagnosis{}
	if text, ok := input["diagnosis"].(string); ok {
		d.Text = text
	}
	if sev, ok := input["severity"].(string); ok {
		d.Severity = model.Severity(sev)
	}
	if rawActions, ok := input["actions"].([]any); ok {
		for _, ra := range rawActions {
			m, ok := ra.(map[string]any)
			if !ok {
				continue
			}
			typ, _ := m["type"].(string)
			action := model.Action{Type: model.ActionType(typ)}
			if details, ok := m["details"].(map[string]any); ok {
				action.Details = parseActionDetails(details)
			}
			d.Actions = append(d.Actions, action)
		}
	}
	return d
}

func parseActionDetails(m map[string]any) model.ActionDetails {
	d := model.ActionDetails{}
	if v, ok := m["variable"].(string); ok {
		d.Variable = v
	}
	if v, ok := m["value"].(string); ok {
		d.Value = v
	}
	if v, ok := m["title"].(string); ok {
		d.Title = v
	}
	if v, ok := m["message"].(string); ok {
		d.Message = v
	}
	if rawChanges, ok := m["changes"].([]any); ok {
		for _, rc := range rawChanges {
			cm, ok := rc.(map[string]any)
			if !ok {
				continue
			}
			path, _ := cm["path"].(string)
			content, _ := cm["content"].(string)
			message, _ := cm["message"].(string)
			d.Changes = append(d.Changes, model.FileChange{Path: path, Content: content, Message: message})
		}
	}
	return d
}

// buildSystemPrompt assembles the identity/method, business-context,
// forbidden-actions, known-services, and reference-docs blocks, in the
// order original_source/brain.py's _build_system_prompt uses.
func (e *Engine) buildSystemPrompt(ctx model.DeepContext) string {
	var b strings.Builder

	b.WriteString("You are Cortex, an autonomous platform diagnostics engineer. ")
	b.WriteString("Investigate the reported symptom using the available tools, reach a clear diagnosis, ")
	b.WriteString("and recommend the minimum safe set of actions to resolve it. ")
	b.WriteString("Call diagnose_complete exactly once you are confident in your diagnosis.\n\n")

	if bc, ok := e.services.GetBusinessContext(ctx.Service.Name); ok {
		fmt.Fprintf(&b, "BUSINESS CONTEXT for %s:\n", ctx.Service.Name)
		if bc.ProductName != "" {
			fmt.Fprintf(&b, "- Product: %s\n", bc.ProductName)
		}
		if bc.Priority != "" {
			fmt.Fprintf(&b, "- Priority: %s\n", bc.Priority)
		}
		if bc.Users != "" {
			fmt.Fprintf(&b, "- Users: %s\n", bc.Users)
		}
		if bc.FailureImpact != "" {
			fmt.Fprintf(&b, "- Failure impact: %s\n", bc.FailureImpact)
		}
		if bc.Notes != "" {
			fmt.Fprintf(&b, "- Notes: %s\n", bc.Notes)
		}
		b.WriteString("\n")
	}

	maxAttempts := e.autonomy.MaxAttempts(ctx.Service.Name)
	fmt.Fprintf(&b, "Forbidden action types: %s\n", strings.Join(e.autonomy.ForbiddenActions, ", "))
	fmt.Fprintf(&b, "Max repair attempts for this service: %d\n\n", maxAttempts)

	b.WriteString("Known services:\n")
	for _, svc := range e.store.ListServices() {
		fmt.Fprintf(&b, "- %s (type=%s, stack=%s)\n", svc.Name, svc.Type, svc.Stack)
	}
	b.WriteString("\n")

	if e.refdocs != nil {
		if docs := e.refdocs.GetRelevantDocs(ctx.Service.Stack, string(ctx.Service.Type), nil); docs != "" {
			b.WriteString(docs)
		}
	}

	return b.String()
}

// buildInitialMessage assembles the structured dossier from GetDeepContext,
// grounded on original_source/brain.py's _build_initial_message.
func (e *Engine) buildInitialMessage(ctx model.DeepContext, trigger string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Service: %s (type=%s, stack=%s, role=%s)\n", ctx.Service.Name, ctx.Service.Type, ctx.Service.Stack, ctx.Service.Role)
	fmt.Fprintf(&b, "Trigger: %s\n\n", trigger)

	if len(ctx.Dependencies) > 0 {
		b.WriteString("Dependencies:\n")
		for _, d := range ctx.Dependencies {
			fmt.Fprintf(&b, "- %s (%s)\n", d.DependsOn, d.Type)
		}
		b.WriteString("\n")
	}

	if len(ctx.OpenFlags) > 0 {
		b.WriteString("Open flags:\n")
		for _, f := range ctx.OpenFlags {
			fmt.Fprintf(&b, "- [%s] %s\n", f.Type, f.Message)
		}
		b.WriteString("\n")
	}

	if len(ctx.VariableIssues) > 0 {
		b.WriteString("Variable issues:\n")
		for _, v := range ctx.VariableIssues {
			fmt.Fprintf(&b, "- %s: %s\n", v.Key, v.Reason)
		}
		b.WriteString("\n")
	}

	deploys := ctx.RecentDeploys
	if len(deploys) > 3 {
		deploys = deploys[:3]
	}
	if len(deploys) > 0 {
		b.WriteString("Last deploys:\n")
		for _, d := range deploys {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", d.ID, d.Status, d.CreatedAt.Format(time.RFC3339))
		}
		b.WriteString("\n")
	}

	commits := ctx.RecentCommits
	if len(commits) > 5 {
		commits = commits[:5]
	}
	if len(commits) > 0 {
		b.WriteString("Last commits:\n")
		for _, c := range commits {
			fmt.Fprintf(&b, "- %s %s (%s)\n", c.SHA, c.Message, c.Author)
		}
		b.WriteString("\n")
	}

	incidents := ctx.RecentIncidents
	if len(incidents) > 3 {
		incidents = incidents[:3]
	}
	if len(incidents) > 0 {
		b.WriteString("Prior incidents for this service:\n")
		for _, inc := range incidents {
			fmt.Fprintf(&b, "- %s: %s\n", inc.Trigger, summarize(inc.Diagnosis))
		}
	}

	return b.String()
}

func summarize(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
