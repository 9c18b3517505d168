// Package profiles defines behavioral profiles that steer worker and
// supervisor strategy.
package profiles

import "fmt"

// CollaborationMode is the closed set of multi-worker strategies.
type CollaborationMode string

const (
	ModeIndependent CollaborationMode = "independent"
	ModeCooperative CollaborationMode = "cooperative"
	ModeCompetitive CollaborationMode = "competitive"
)

// Valid reports whether the mode is one of the known variants.
func (m CollaborationMode) Valid() bool {
	switch m {
	case ModeIndependent, ModeCooperative, ModeCompetitive:
		return true
	}
	return false
}

// Profile is a named collection of behavioral knobs. Numeric knobs are
// constrained to [0,1] at construction.
type Profile struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	// Decision-making preferences, 0.0 to 1.0.
	CreativityVsPrecision float64 `json:"creativity_vs_precision"` // 0 = precise, 1 = creative
	SpeedVsAccuracy       float64 `json:"speed_vs_accuracy"`       // 0 = accurate, 1 = fast
	RiskTolerance         float64 `json:"risk_tolerance"`          // 0 = conservative, 1 = aggressive
	CostSensitivity       float64 `json:"cost_sensitivity"`        // 0 = cost-insensitive, 1 = cost-aware

	// Tool usage.
	PreferToolsOverModel bool `json:"prefer_tools_over_model"`
	MaxToolsPerStep      int  `json:"max_tools_per_step"`
	ToolRetryLimit       int  `json:"tool_retry_limit"`

	// Error handling.
	AggressiveErrorRecovery bool `json:"aggressive_error_recovery"`
	MaxRetries              int  `json:"max_retries"`
	GiveUpAfterErrors       int  `json:"give_up_after_errors"`
	AutoPauseOnErrors       bool `json:"auto_pause_on_errors"`

	// Feature toggles.
	EnableSkillSystem    bool `json:"enable_skill_system"`
	PreferSkillsOverTool bool `json:"prefer_skills_over_tools"`
	EnableCommands       bool `json:"enable_commands"`

	// Multi-agent strategy.
	CollaborationMode CollaborationMode `json:"collaboration_mode"`
	TaskDecomposition bool              `json:"task_decomposition"`
}

// Validate checks knob ranges and the collaboration mode.
func (p *Profile) Validate() error {
	for _, knob := range []struct {
		name  string
		value float64
	}{
		{"creativity_vs_precision", p.CreativityVsPrecision},
		{"speed_vs_accuracy", p.SpeedVsAccuracy},
		{"risk_tolerance", p.RiskTolerance},
		{"cost_sensitivity", p.CostSensitivity},
	} {
		if knob.value < 0 || knob.value > 1 {
			return fmt.Errorf("%s must be between 0.0 and 1.0, got %v", knob.name, knob.value)
		}
	}
	if !p.CollaborationMode.Valid() {
		return fmt.Errorf("invalid collaboration_mode: %q", p.CollaborationMode)
	}
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	return nil
}

// ShouldRetryOnError decides whether another attempt is warranted after
// errorCount consecutive errors.
func (p *Profile) ShouldRetryOnError(errorCount int) bool {
	if errorCount >= p.MaxRetries {
		return false
	}
	if p.AggressiveErrorRecovery {
		return errorCount < p.GiveUpAfterErrors
	}
	return errorCount < min(2, p.MaxRetries)
}
