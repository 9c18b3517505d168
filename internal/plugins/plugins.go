// Package plugins provides lifecycle hook plugins around task execution.
package plugins

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/droverhq/drover/internal/tasks"
)

// Hook receives task lifecycle callbacks. Errors are logged and swallowed by
// the supervisor; a failing hook never fails the task.
type Hook interface {
	Name() string
	BeforeTask(t *tasks.Task) error
	AfterTask(t *tasks.Task, execErr error) error
}

// Manifest describes an installed plugin.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Hooks       []string `json:"hooks"` // "before_task", "after_task"
	Enabled     bool     `json:"enabled"`
}

// LoadManifest reads and parses a JSONC manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	standard, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(standard, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest %s: %w", path, err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("manifest %s: name is required", path)
	}
	for _, h := range m.Hooks {
		if h != "before_task" && h != "after_task" {
			return nil, fmt.Errorf("manifest %s: unknown hook %q", path, h)
		}
	}
	return &m, nil
}

func marshalManifest(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest %s: %w", m.Name, err)
	}
	return append(data, '\n'), nil
}
