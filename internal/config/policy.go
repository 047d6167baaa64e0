package config

// Capability names matching AutonomyDefaults' can_* fields, used as the
// second argument to CanDo.
const (
	CapRestart     = "restart"
	CapSetVariable = "set_variable"
	CapRollback    = "rollback"
	CapCreatePR    = "create_pr"
)

// CanDo reports whether service is permitted to perform capability, per
// original_source/config.py's can_do(): the global forbidden list wins
// first, then a per-service override, then the global default. An unknown
// capability is denied.
func (ac AutonomyConfig) CanDo(service, capability string) bool {
	for _, forbidden := range ac.ForbiddenActions {
		if forbidden == capability {
			return false
		}
	}

	if svc, ok := ac.Services[service]; ok {
		if v, ok := capBool(svc, capability); ok {
			return v
		}
	}

	if v, ok := capBool(ac.Defaults, capability); ok {
		return v
	}

	return false
}

func capBool(d AutonomyDefaults, capability string) (bool, bool) {
	switch capability {
	case CapRestart:
		return d.CanRestart, true
	case CapSetVariable:
		return d.CanSetVariables, true
	case CapRollback:
		return d.CanRollback, true
	case CapCreatePR:
		return d.CanCreatePR, true
	default:
		return false, false
	}
}

// MaxAttempts returns the per-service repair-attempt ceiling, falling back
// to the global default when the service has no override entry or the
// override leaves the field at its zero value.
func (ac AutonomyConfig) MaxAttempts(service string) int {
	if svc, ok := ac.Services[service]; ok && svc.MaxRepairAttempts > 0 {
		return svc.MaxRepairAttempts
	}
	return ac.Defaults.MaxRepairAttempts
}

// ForbiddenActionSet returns the configured forbidden actions as a set for
// fast membership checks.
func (ac AutonomyConfig) ForbiddenActionSet() map[string]struct{} {
	set := make(map[string]struct{}, len(ac.ForbiddenActions))
	for _, a := range ac.ForbiddenActions {
		set[a] = struct{}{}
	}
	return set
}

// GetBusinessContext returns the configured business context for service,
// and whether one was configured.
func (sc ServicesConfig) GetBusinessContext(service string) (BusinessContext, bool) {
	bc, ok := sc[service]
	return bc, ok
}
