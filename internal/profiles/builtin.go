package profiles

// builtins is the fixed profile catalogue. Registry lookups copy these so
// callers can tweak knobs without mutating the catalogue.
var builtins = map[string]Profile{
	"conservative": {
		Name:                  "conservative",
		Description:           "Precise and careful execution with strong error checking",
		CreativityVsPrecision: 0.1,
		SpeedVsAccuracy:       0.2,
		RiskTolerance:         0.1,
		CostSensitivity:       0.5,
		MaxToolsPerStep:       2,
		ToolRetryLimit:        3,
		MaxRetries:            2,
		GiveUpAfterErrors:     3,
		AutoPauseOnErrors:     true,
		EnableSkillSystem:     true,
		EnableCommands:        true,
		CollaborationMode:     ModeIndependent,
	},
	"creative": {
		Name:                    "creative",
		Description:             "Creative and fast execution with risk-taking approach",
		CreativityVsPrecision:   0.9,
		SpeedVsAccuracy:         0.9,
		RiskTolerance:           0.9,
		CostSensitivity:         0.5,
		PreferToolsOverModel:    true,
		MaxToolsPerStep:         5,
		ToolRetryLimit:          1,
		AggressiveErrorRecovery: true,
		MaxRetries:              5,
		GiveUpAfterErrors:       10,
		EnableSkillSystem:       true,
		PreferSkillsOverTool:    true,
		EnableCommands:          true,
		CollaborationMode:       ModeCooperative,
		TaskDecomposition:       true,
	},
	"balanced": {
		Name:                  "balanced",
		Description:           "Balanced approach with reasonable trade-offs",
		CreativityVsPrecision: 0.5,
		SpeedVsAccuracy:       0.5,
		RiskTolerance:         0.5,
		CostSensitivity:       0.5,
		MaxToolsPerStep:       3,
		ToolRetryLimit:        2,
		MaxRetries:            3,
		GiveUpAfterErrors:     5,
		EnableSkillSystem:     true,
		EnableCommands:        true,
		CollaborationMode:     ModeIndependent,
		TaskDecomposition:     true,
	},
	"minimal": {
		Name:                  "minimal",
		Description:           "Minimal, safe execution with basic features",
		CreativityVsPrecision: 0.3,
		SpeedVsAccuracy:       0.3,
		RiskTolerance:         0.2,
		CostSensitivity:       0.5,
		MaxToolsPerStep:       1,
		ToolRetryLimit:        1,
		MaxRetries:            1,
		GiveUpAfterErrors:     2,
		AutoPauseOnErrors:     true,
		CollaborationMode:     ModeIndependent,
	},
	"autonomous": {
		Name:                    "autonomous",
		Description:             "Highly autonomous with aggressive error recovery",
		CreativityVsPrecision:   0.7,
		SpeedVsAccuracy:         0.6,
		RiskTolerance:           0.7,
		CostSensitivity:         0.5,
		PreferToolsOverModel:    true,
		MaxToolsPerStep:         4,
		ToolRetryLimit:          3,
		AggressiveErrorRecovery: true,
		MaxRetries:              4,
		GiveUpAfterErrors:       8,
		EnableSkillSystem:       true,
		PreferSkillsOverTool:    true,
		EnableCommands:          true,
		CollaborationMode:       ModeCooperative,
		TaskDecomposition:       true,
	},
}

// Builtins lists built-in profile names.
func Builtins() []string {
	out := make([]string, 0, len(builtins))
	for name := range builtins {
		out = append(out, name)
	}
	return out
}
