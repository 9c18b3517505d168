package skills

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Registry manages loaded skill definitions.
type Registry struct {
	skills map[string]*Skill
	order  []string
}

// NewRegistry creates a registry preloaded with the built-in skills.
func NewRegistry() *Registry {
	r := &Registry{skills: make(map[string]*Skill)}
	for _, s := range builtinSkills {
		// Builtins are static and validated by their own test.
		_ = r.Register(s)
	}
	return r
}

// LoadDir scans a directory for *.yaml / *.yml skill files and loads them.
// A missing directory is skipped; individual load failures are logged and
// skipped.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("skills directory not found, skipping", "dir", dir)
			return nil
		}
		return fmt.Errorf("read skills dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		skill, err := LoadSkill(path)
		if err != nil {
			slog.Warn("failed to load skill", "path", path, "error", err)
			continue
		}
		if err := r.Register(skill); err != nil {
			slog.Warn("failed to register skill", "name", skill.Name, "error", err)
			continue
		}
	}
	return nil
}

// Register adds a skill. Names are unique.
func (r *Registry) Register(skill *Skill) error {
	if _, exists := r.skills[skill.Name]; exists {
		return fmt.Errorf("skill %q already registered", skill.Name)
	}
	r.skills[skill.Name] = skill
	r.order = append(r.order, skill.Name)
	return nil
}

// Get returns the skill with the given name, or nil.
func (r *Registry) Get(name string) *Skill {
	return r.skills[name]
}

// FindForGoal returns the first registered skill matching the goal, or nil.
func (r *Registry) FindForGoal(goal string) *Skill {
	for _, name := range r.order {
		if r.skills[name].Match(goal) {
			return r.skills[name]
		}
	}
	return nil
}

// All returns every registered skill sorted by name.
func (r *Registry) All() []*Skill {
	out := make([]*Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
