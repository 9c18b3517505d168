package config

import "time"

// Config is the root configuration for Drover.
type Config struct {
	Gateway GatewayConfig `json:"gateway"`
	Models  ModelsConfig  `json:"models"`
	Events  EventsConfig  `json:"events"`
	Agent   AgentConfig   `json:"agent"`
	Sandbox SandboxConfig `json:"sandbox"`
	Skills  SkillsConfig  `json:"skills"`
	Plugins PluginsConfig `json:"plugins"`
	Remote  RemoteConfig  `json:"remote"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ModelsConfig holds model provider configuration.
type ModelsConfig struct {
	Default   string                    `json:"default"`
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig configures a single LLM provider.
type ProviderConfig struct {
	Driver    string     `json:"driver"` // "anthropic", "openai", "dummy"
	Model     string     `json:"model"`
	BaseURL   string     `json:"base_url,omitempty"`
	Auth      AuthConfig `json:"auth"`
	MaxTokens int        `json:"max_tokens,omitempty"`
	Timeout   Duration   `json:"timeout,omitempty"`
}

// AuthConfig configures API key resolution.
type AuthConfig struct {
	APIKey string `json:"api_key,omitempty"` // Direct API key or ${{ .Env.VAR }} template
	Token  string `json:"token,omitempty"`   // OAuth/Bearer token
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// AgentConfig holds worker and supervisor settings.
type AgentConfig struct {
	MaxSteps      int      `json:"max_steps"`       // per-task step budget
	MaxWorkers    int      `json:"max_workers"`     // concurrent worker goroutines
	Profile       string   `json:"profile"`         // default behavioral profile
	RunAllTimeout Duration `json:"run_all_timeout"` // wall clock for run-all-pending
}

// SandboxConfig holds command execution policy.
type SandboxConfig struct {
	Allowlist     []string `json:"allowlist"`
	Denylist      []string `json:"denylist"`
	MaxCPUSeconds int      `json:"max_cpu_seconds"`
	MaxMemoryMB   int      `json:"max_memory_mb"`
}

// SkillsConfig configures the skill system.
type SkillsConfig struct {
	Dirs    []string `json:"dirs"`    // skill directories (default: [$DROVER_PATH/skills])
	Enabled []string `json:"enabled"` // enabled skill names (empty = all)
}

// PluginsConfig configures the plugin system.
type PluginsConfig struct {
	Dir     string   `json:"dir"`     // plugin directory (default: $DROVER_PATH/plugins)
	Enabled []string `json:"enabled"` // enabled plugin names (empty = all)
}

// RemoteConfig configures this node's identity on the mesh.
type RemoteConfig struct {
	NodeName     string   `json:"node_name"`
	Capabilities []string `json:"capabilities"`
	GatewayURL   string   `json:"gateway_url,omitempty"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
