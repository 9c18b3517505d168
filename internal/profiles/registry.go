package profiles

import (
	"fmt"
	"sort"
	"sync"

	"github.com/droverhq/drover/internal/storage/jsonstore"
)

// Registry resolves profiles by name: built-ins first, then custom profiles
// persisted to profiles.json.
type Registry struct {
	mu     sync.Mutex
	store  *jsonstore.Store
	custom map[string]Profile
}

// OpenRegistry loads the registry, reading custom profiles from path.
func OpenRegistry(path string) (*Registry, error) {
	store, err := jsonstore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profiles store: %w", err)
	}

	r := &Registry{store: store, custom: make(map[string]Profile)}
	if _, err := store.Get("custom_profiles", &r.custom); err != nil {
		return nil, fmt.Errorf("load custom profiles: %w", err)
	}
	return r, nil
}

// Get resolves a profile by name. Unknown names fall back to "balanced".
func (r *Registry) Get(name string) Profile {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := builtins[name]; ok {
		return p
	}
	if p, ok := r.custom[name]; ok {
		return p
	}
	return builtins["balanced"]
}

// Has reports whether a profile exists under name.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := builtins[name]; ok {
		return true
	}
	_, ok := r.custom[name]
	return ok
}

// Save validates and persists a custom profile. Built-in names are reserved.
func (r *Registry) Save(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := builtins[p.Name]; ok {
		return fmt.Errorf("profile name %q is reserved", p.Name)
	}
	r.custom[p.Name] = p
	return r.store.Set("custom_profiles", r.custom)
}

// Delete removes a custom profile. Returns false when absent.
func (r *Registry) Delete(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.custom[name]; !ok {
		return false, nil
	}
	delete(r.custom, name)
	return true, r.store.Set("custom_profiles", r.custom)
}

// Names lists every known profile, built-ins then customs, each sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := Builtins()
	sort.Strings(b)
	c := make([]string, 0, len(r.custom))
	for name := range r.custom {
		c = append(c, name)
	}
	sort.Strings(c)
	return append(b, c...)
}
