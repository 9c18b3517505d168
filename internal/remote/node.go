// Package remote tracks peer nodes running the same engine and the wire
// protocol used to reach them.
package remote

import (
	"github.com/google/uuid"
)

// NodeStatus is a node's reported liveness.
type NodeStatus string

const (
	StatusUnknown NodeStatus = "unknown"
	StatusOnline  NodeStatus = "online"
	StatusOffline NodeStatus = "offline"
)

// maxActiveTasks caps concurrent assignments per node.
const maxActiveTasks = 3

// Node is a peer that can take delegated tasks.
type Node struct {
	NodeID        string     `json:"node_id"`
	Host          string     `json:"host"`
	Port          int        `json:"port"`
	Capabilities  []string   `json:"capabilities"`
	Status        NodeStatus `json:"status"`
	ActiveTasks   []int64    `json:"active_tasks"`
	LastHeartbeat int64      `json:"last_heartbeat"`
}

// NewNode creates a node, minting a uuid when id is empty.
func NewNode(id, host string, port int, capabilities []string) *Node {
	if id == "" {
		id = uuid.NewString()
	}
	return &Node{
		NodeID:       id,
		Host:         host,
		Port:         port,
		Capabilities: capabilities,
		Status:       StatusUnknown,
	}
}

// HasCapabilities reports whether the node offers every requested capability.
func (n *Node) HasCapabilities(requested []string) bool {
	for _, want := range requested {
		found := false
		for _, have := range n.Capabilities {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// IsAvailable reports whether the node can take another task.
func (n *Node) IsAvailable() bool {
	return n.Status == StatusOnline && len(n.ActiveTasks) < maxActiveTasks
}

// AddActiveTask tracks an assignment. Duplicates are ignored.
func (n *Node) AddActiveTask(taskID int64) {
	for _, id := range n.ActiveTasks {
		if id == taskID {
			return
		}
	}
	n.ActiveTasks = append(n.ActiveTasks, taskID)
}

// RemoveActiveTask drops an assignment. Absent ids are ignored.
func (n *Node) RemoveActiveTask(taskID int64) {
	for i, id := range n.ActiveTasks {
		if id == taskID {
			n.ActiveTasks = append(n.ActiveTasks[:i], n.ActiveTasks[i+1:]...)
			return
		}
	}
}
