// Package action implements the Action Executor (spec component 4.G):
// gates each recommended action through the autonomy policy and dispatches
// permitted ones to the Platform or Code Host adapter.
package action

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/cortexhq/cortex/internal/codehost"
	"github.com/cortexhq/cortex/internal/config"
	"github.com/cortexhq/cortex/internal/model"
	"github.com/cortexhq/cortex/internal/platform"
)

// Executor dispatches diagnosis actions through the autonomy policy.
type Executor struct {
	platform platform.Adapter
	codehost codehost.Adapter // may be nil
	autonomy config.AutonomyConfig
}

// New builds an Executor.
func New(platformAdapter platform.Adapter, codehostAdapter codehost.Adapter, autonomy config.AutonomyConfig) *Executor {
	return &Executor{platform: platformAdapter, codehost: codehostAdapter, autonomy: autonomy}
}

// capabilityFor maps an action type to the autonomy-policy capability that
// gates it. propose_fix maps to create_pr per spec §4.G step 1.
func capabilityFor(t model.ActionType) string {
	switch t {
	case model.ActionRestart:
		return config.CapRestart
	case model.ActionSetVariable:
		return config.CapSetVariable
	case model.ActionRollback:
		return config.CapRollback
	case model.ActionProposeFix:
		return config.CapCreatePR
	default:
		return ""
	}
}

// Execute runs every action in order against service, recording status and
// any artifact (e.g. a PR URL) on each. notify_only is always permitted
// (spec §9's open-question resolution) and never reaches the policy check.
func (e *Executor) Execute(ctx context.Context, svc model.Service, diagnosisText string, actions []model.Action) []model.Action {
	out := make([]model.Action, len(actions))

	for i, act := range actions {
		out[i] = act

		if act.Type == model.ActionNotifyOnly {
			out[i].Status = model.ActionStatusOK
			continue
		}

		cap := capabilityFor(act.Type)
		if cap == "" || !e.autonomy.CanDo(svc.Name, cap) {
			out[i].Status = model.ActionStatusBlockedByAutonomy
			log.Info().Str("service", svc.Name).Str("action", string(act.Type)).Msg("action blocked by autonomy policy")
			continue
		}

		switch act.Type {
		case model.ActionRestart:
			if e.platform.Restart(ctx, svc.ServiceID, svc.EnvironmentID) {
				out[i].Status = model.ActionStatusSuccess
			} else {
				out[i].Status = model.ActionStatusFailed
			}

		case model.ActionSetVariable:
			if act.Details.Variable == "" || act.Details.Value == "" {
				out[i].Status = model.ActionStatusError
				out[i].Error = "set_variable requires details.variable and details.value"
				continue
			}
			if e.platform.SetVariable(ctx, svc.ServiceID, svc.EnvironmentID, act.Details.Variable, act.Details.Value) {
				out[i].Status = model.ActionStatusSuccess
			} else {
				out[i].Status = model.ActionStatusFailed
			}

		case model.ActionRollback:
			if e.platform.Rollback(ctx, svc.ServiceID, svc.EnvironmentID) {
				out[i].Status = model.ActionStatusSuccess
			} else {
				out[i].Status = model.ActionStatusFailed
			}

		case model.ActionProposeFix:
			out[i] = e.proposeFix(ctx, svc, diagnosisText, act)

		default:
			out[i].Status = model.ActionStatusError
			out[i].Error = "unknown action type"
		}
	}

	return out
}

func (e *Executor) proposeFix(ctx context.Context, svc model.Service, diagnosisText string, act model.Action) model.Action {
	if e.codehost == nil || !svc.HasRepo() {
		act.Status = model.ActionStatusError
		act.Error = "no code host adapter or repo configured for this service"
		return act
	}

	changes := make([]codehost.FileChange, 0, len(act.Details.Changes))
	for _, c := range act.Details.Changes {
		changes = append(changes, codehost.FileChange{Path: c.Path, Content: c.Content, Message: c.Message})
	}

	title := act.Details.Title
	if title == "" {
		title = "Cortex: automated fix for " + svc.Name
	}

	pr, err := e.codehost.ProposeFix(ctx, svc.RepoOwner, svc.RepoName, changes, title, diagnosisText)
	if err != nil || pr == nil {
		act.Status = model.ActionStatusFailed
		if err != nil {
			act.Error = err.Error()
		}
		return act
	}

	act.Status = model.ActionStatusPRCreated
	act.PRURL = pr.URL
	return act
}
