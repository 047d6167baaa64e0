// Package investigation implements the Investigation Engine (spec
// component 4.F): a bounded, multi-turn tool-calling conversation with an
// LLM, grounded 1:1 on original_source/brain.py's TOOLS schema, system
// prompt assembly, initial dossier, and diagnose() loop.
package investigation

import (
	"time"

	"github.com/cortexhq/cortex/internal/model"
)

// Config bounds one investigation run.
type Config struct {
	MaxTurns int
	Timeout  time.Duration
}

// DefaultConfig mirrors original_source/brain.py's MAX_TURNS default.
func DefaultConfig() Config {
	return Config{
		MaxTurns: 8,
		Timeout:  5 * time.Minute,
	}
}

// Diagnosis is the structured result of a diagnose_complete tool call.
type Diagnosis struct {
	Text     string
	Severity model.Severity
	Actions  []model.Action
}
