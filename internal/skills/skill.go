// Package skills provides goal-matched prompt templates. A skill recognizes
// goals by keyword triggers and shapes the prompt the worker sends for them.
package skills

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Skill is a declarative prompt template bound to trigger keywords.
type Skill struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Triggers    []string `yaml:"triggers" json:"triggers"`
	// Template is the prompt; {goal} is replaced with the task goal.
	Template string `yaml:"template" json:"template"`
}

// Validate checks the definition for consistency.
func (s *Skill) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("skill name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("skill %q: description is required", s.Name)
	}
	if len(s.Triggers) == 0 {
		return fmt.Errorf("skill %q: at least one trigger is required", s.Name)
	}
	if s.Template == "" {
		return fmt.Errorf("skill %q: template is required", s.Name)
	}
	return nil
}

// Match reports whether any trigger keyword appears in the goal,
// case-insensitively.
func (s *Skill) Match(goal string) bool {
	lower := strings.ToLower(goal)
	for _, trig := range s.Triggers {
		if strings.Contains(lower, strings.ToLower(trig)) {
			return true
		}
	}
	return false
}

// Prompt renders the skill's template for a goal.
func (s *Skill) Prompt(goal string) string {
	return strings.ReplaceAll(s.Template, "{goal}", goal)
}

// LoadSkill reads a YAML skill definition from disk.
func LoadSkill(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill %s: %w", path, err)
	}

	var s Skill
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse skill %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validate skill %s: %w", path, err)
	}
	return &s, nil
}
