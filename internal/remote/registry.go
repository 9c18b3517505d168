package remote

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/droverhq/drover/internal/storage/jsonstore"
)

// Registry is the persistent node directory (nodes.json).
type Registry struct {
	mu    sync.Mutex
	store *jsonstore.Store
	nodes map[string]*Node
	now   func() time.Time
}

// OpenRegistry loads the node directory from path.
func OpenRegistry(path string) (*Registry, error) {
	store, err := jsonstore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open nodes store: %w", err)
	}

	r := &Registry{store: store, nodes: make(map[string]*Node), now: time.Now}
	var loaded map[string]*Node
	if ok, err := store.Get("nodes", &loaded); err == nil && ok {
		r.nodes = loaded
	}
	return r, nil
}

// Register adds or replaces a node.
func (r *Registry) Register(n *Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[n.NodeID] = n
	return r.persistLocked()
}

// Unregister removes a node. Returns false when absent.
func (r *Registry) Unregister(nodeID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[nodeID]; !ok {
		return false, nil
	}
	delete(r.nodes, nodeID)
	return true, r.persistLocked()
}

// Get returns a copy of the node, or false.
func (r *Registry) Get(nodeID string) (Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// List returns all nodes sorted by id.
func (r *Registry) List() []Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// FindAvailable returns the id of the first available node offering every
// requested capability, scanning in id order. Empty string when none.
func (r *Registry) FindAvailable(capabilities []string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		n := r.nodes[id]
		if n.IsAvailable() && n.HasCapabilities(capabilities) {
			return id
		}
	}
	return ""
}

// UpdateStatus sets a node's status.
func (r *Registry) UpdateStatus(nodeID string, status NodeStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %s not registered", nodeID)
	}
	n.Status = status
	return r.persistLocked()
}

// Heartbeat stamps a node's liveness and marks it online.
func (r *Registry) Heartbeat(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %s not registered", nodeID)
	}
	n.LastHeartbeat = r.now().Unix()
	n.Status = StatusOnline
	return r.persistLocked()
}

// AssignTask tracks a task on a node; ReleaseTask drops it.
func (r *Registry) AssignTask(nodeID string, taskID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %s not registered", nodeID)
	}
	n.AddActiveTask(taskID)
	return r.persistLocked()
}

// ReleaseTask removes a task assignment from a node.
func (r *Registry) ReleaseTask(nodeID string, taskID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %s not registered", nodeID)
	}
	n.RemoveActiveTask(taskID)
	return r.persistLocked()
}

func (r *Registry) persistLocked() error {
	if err := r.store.Set("nodes", r.nodes); err != nil {
		return fmt.Errorf("persist nodes: %w", err)
	}
	return nil
}
