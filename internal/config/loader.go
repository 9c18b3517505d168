package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates, strips
// comments, unmarshals it into Config, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variable templates before stripping comments, since
	// templates live inside string values.
	expanded := expandEnvTemplates(string(data))

	standard, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("standardize config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standard, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a config with every default applied, used when no config
// file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18740
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Agent.MaxSteps == 0 {
		cfg.Agent.MaxSteps = 10
	}
	if cfg.Agent.MaxWorkers == 0 {
		cfg.Agent.MaxWorkers = 3
	}
	if cfg.Agent.Profile == "" {
		cfg.Agent.Profile = "balanced"
	}
	if cfg.Agent.RunAllTimeout == 0 {
		cfg.Agent.RunAllTimeout = Duration(300 * time.Second)
	}
	if cfg.Sandbox.MaxCPUSeconds == 0 {
		cfg.Sandbox.MaxCPUSeconds = 30
	}
	if cfg.Sandbox.MaxMemoryMB == 0 {
		cfg.Sandbox.MaxMemoryMB = 1024
	}
	if len(cfg.Skills.Dirs) == 0 {
		cfg.Skills.Dirs = []string{filepath.Join(DroverPath(), "skills")}
	}
	if cfg.Plugins.Dir == "" {
		cfg.Plugins.Dir = filepath.Join(DroverPath(), "plugins")
	}
	if cfg.Remote.NodeName == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "local"
		}
		cfg.Remote.NodeName = host
	}
	if len(cfg.Remote.Capabilities) == 0 {
		cfg.Remote.Capabilities = []string{"general"}
	}
	if cfg.Models.Default == "" {
		if os.Getenv("OPENAI_API_KEY") != "" {
			cfg.Models.Default = "openai"
		} else {
			cfg.Models.Default = "dummy"
		}
	}
}
