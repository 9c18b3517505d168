package tasks

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/droverhq/drover/internal/storage/jsonstore"
)

// Repository persists tasks as a single JSON map with an id counter.
// Ids are allocated from a persisted next_id counter and never reused.
type Repository struct {
	mu     sync.Mutex
	store  *jsonstore.Store
	tasks  map[int64]*Task
	nextID int64
}

// NewRepository opens (or creates) the task store at path.
func NewRepository(path string) (*Repository, error) {
	store, err := jsonstore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	r := &Repository{
		store:  store,
		tasks:  make(map[int64]*Task),
		nextID: 1,
	}

	var raw map[string]*Task
	if ok, err := store.Get("tasks", &raw); err == nil && ok {
		for idStr, t := range raw {
			id, err := strconv.ParseInt(idStr, 10, 64)
			if err != nil || t == nil {
				continue // skip corrupted entries
			}
			t.ID = id
			r.tasks[id] = t
		}
	}

	var next int64
	if ok, err := store.Get("next_id", &next); err == nil && ok && next > 1 {
		r.nextID = next
	}

	return r, nil
}

// Create allocates an id, persists, and returns a new pending task.
func (r *Repository) Create(goal string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	t := &Task{
		ID:        r.nextID,
		Goal:      goal,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Memory:    make(map[string]any),
	}
	r.nextID++
	r.tasks[t.ID] = t

	if err := r.persist(); err != nil {
		return nil, err
	}
	return t, nil
}

// Get returns the task by id, or nil if absent.
func (r *Repository) Get(id int64) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	return t, ok
}

// ListAll returns all tasks, sorted by id ascending.
func (r *Repository) ListAll() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListByStatus returns tasks with the given status, sorted by id.
func (r *Repository) ListByStatus(status Status) []*Task {
	var out []*Task
	for _, t := range r.ListAll() {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

// Update persists the given task.
func (r *Repository) Update(t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[t.ID]; !ok {
		return fmt.Errorf("task %d not found", t.ID)
	}
	t.UpdatedAt = time.Now().UTC()
	r.tasks[t.ID] = t
	return r.persist()
}

// Delete removes a task by id. Returns true if a task was deleted.
func (r *Repository) Delete(id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return false, nil
	}
	delete(r.tasks, id)
	return true, r.persist()
}

// persist writes the full task map and id counter. Caller holds r.mu.
func (r *Repository) persist() error {
	raw := make(map[string]*Task, len(r.tasks))
	for id, t := range r.tasks {
		raw[strconv.FormatInt(id, 10)] = t
	}
	if err := r.store.Set("tasks", raw); err != nil {
		return fmt.Errorf("persist tasks: %w", err)
	}
	if err := r.store.Set("next_id", r.nextID); err != nil {
		return fmt.Errorf("persist next_id: %w", err)
	}
	return nil
}
