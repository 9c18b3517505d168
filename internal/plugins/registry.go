package plugins

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/droverhq/drover/internal/tasks"
)

// Registry pairs installed manifests with in-process hook implementations.
// A manifest without a bound implementation is inert; its hooks are skipped.
type Registry struct {
	mu        sync.Mutex
	dir       string
	manifests map[string]*Manifest
	hooks     map[string]Hook
	logger    *slog.Logger
}

// OpenRegistry loads every plugin manifest under dir. Each plugin lives in
// its own subdirectory holding a manifest.jsonc. A missing dir is created.
func OpenRegistry(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plugins dir: %w", err)
	}

	r := &Registry{
		dir:       dir,
		manifests: make(map[string]*Manifest),
		hooks:     make(map[string]Hook),
		logger:    slog.Default().With("component", "plugins"),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read plugins dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), "manifest.jsonc")
		m, err := LoadManifest(path)
		if err != nil {
			if !os.IsNotExist(err) {
				r.logger.Warn("failed to load plugin", "path", path, "error", err)
			}
			continue
		}
		r.manifests[m.Name] = m
	}
	return r, nil
}

// Bind attaches a hook implementation to its manifest name.
func (r *Registry) Bind(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[h.Name()] = h
}

// Install writes a manifest into the plugin directory.
func (r *Registry) Install(m *Manifest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.manifests[m.Name]; exists {
		return fmt.Errorf("plugin %q already installed", m.Name)
	}
	if err := r.writeManifestLocked(m); err != nil {
		return err
	}
	r.manifests[m.Name] = m
	return nil
}

// Remove deletes a plugin and its directory. Returns false when absent.
func (r *Registry) Remove(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.manifests[name]; !exists {
		return false, nil
	}
	if err := os.RemoveAll(filepath.Join(r.dir, name)); err != nil {
		return false, fmt.Errorf("remove plugin %s: %w", name, err)
	}
	delete(r.manifests, name)
	return true, nil
}

// SetEnabled toggles a plugin and persists its manifest.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.manifests[name]
	if !exists {
		return fmt.Errorf("plugin %q not installed", name)
	}
	m.Enabled = enabled
	return r.writeManifestLocked(m)
}

// List returns installed manifests sorted by name.
func (r *Registry) List() []Manifest {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Manifest, 0, len(r.manifests))
	for _, m := range r.manifests {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunBefore fires every enabled before_task hook. Hook errors are logged and
// swallowed.
func (r *Registry) RunBefore(t *tasks.Task) {
	for _, h := range r.active("before_task") {
		if err := h.BeforeTask(t); err != nil {
			r.logger.Warn("before_task hook failed", "plugin", h.Name(), "task", t.ID, "error", err)
		}
	}
}

// RunAfter fires every enabled after_task hook with the execution outcome.
func (r *Registry) RunAfter(t *tasks.Task, execErr error) {
	for _, h := range r.active("after_task") {
		if err := h.AfterTask(t, execErr); err != nil {
			r.logger.Warn("after_task hook failed", "plugin", h.Name(), "task", t.ID, "error", err)
		}
	}
}

// active returns bound hooks whose manifest is enabled and declares kind,
// ordered by plugin name.
func (r *Registry) active(kind string) []Hook {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.manifests))
	for name, m := range r.manifests {
		if !m.Enabled {
			continue
		}
		declared := false
		for _, h := range m.Hooks {
			if h == kind {
				declared = true
				break
			}
		}
		if !declared {
			continue
		}
		if _, bound := r.hooks[name]; !bound {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Hook, 0, len(names))
	for _, name := range names {
		out = append(out, r.hooks[name])
	}
	return out
}

func (r *Registry) writeManifestLocked(m *Manifest) error {
	dir := filepath.Join(r.dir, m.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create plugin dir: %w", err)
	}
	data, err := marshalManifest(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.jsonc"), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
