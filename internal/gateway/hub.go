package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/remote"
)

// Hub tracks connected remote nodes and routes protocol frames between them
// and the node registry.
type Hub struct {
	mu       sync.Mutex
	conns    map[string]*nodeConn // node id -> connection
	pending  map[int64]chan remote.Message
	registry *remote.Registry
	bus      *events.Bus
	logger   *slog.Logger
}

type nodeConn struct {
	id   string
	conn *websocket.Conn
}

// NewHub creates a hub over the node registry. bus may be nil.
func NewHub(registry *remote.Registry, bus *events.Bus) *Hub {
	return &Hub{
		conns:    make(map[string]*nodeConn),
		pending:  make(map[int64]chan remote.Message),
		registry: registry,
		bus:      bus,
		logger:   slog.Default().With("component", "gateway"),
	}
}

// ServeWS upgrades a node connection and pumps protocol frames until the
// peer disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // nodes dial from arbitrary hosts
	})
	if err != nil {
		h.logger.Error("ws accept", "error", err)
		return
	}

	nc := &nodeConn{conn: conn}
	defer h.drop(nc)

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 {
				h.logger.Debug("ws read", "node", nc.id, "error", err)
			}
			return
		}
		msg, err := remote.Decode(data)
		if err != nil {
			h.logger.Warn("ws bad frame", "node", nc.id, "error", err)
			continue
		}
		if stop := h.handle(nc, msg); stop {
			return
		}
	}
}

// handle processes one inbound frame; true means the connection should end.
func (h *Hub) handle(nc *nodeConn, msg remote.Message) bool {
	if nc.id == "" && msg.NodeID != "" {
		nc.id = msg.NodeID
		h.mu.Lock()
		h.conns[nc.id] = nc
		h.mu.Unlock()
		h.logger.Info("node connected", "node", nc.id)
	}

	switch msg.Type {
	case remote.MsgHeartbeat:
		if err := h.registry.Heartbeat(msg.NodeID); err != nil {
			h.logger.Debug("heartbeat for unknown node", "node", msg.NodeID)
		}
		h.publish(events.NewEvent(events.EventNodeHeartbeat, events.SourceGateway, map[string]any{"node": msg.NodeID}))

	case remote.MsgNodeStatus:
		status := remote.NodeStatus(fmt.Sprint(msg.Payload["status"]))
		if err := h.registry.UpdateStatus(msg.NodeID, status); err != nil {
			// First contact: register the node with the capabilities it
			// announces so the supervisor can delegate to it.
			host, _ := msg.Payload["host"].(string)
			n := remote.NewNode(msg.NodeID, host, 0, capabilityList(msg.Payload["capabilities"]))
			n.Status = status
			if err := h.registry.Register(n); err != nil {
				h.logger.Warn("node registration failed", "node", msg.NodeID, "error", err)
			} else {
				h.logger.Info("node registered", "node", msg.NodeID, "capabilities", n.Capabilities)
			}
		}
		h.publish(events.NewEvent(events.EventNodeStatus, events.SourceGateway, map[string]any{"node": msg.NodeID, "status": string(status)}))

	case remote.MsgTaskUpdate:
		h.publish(events.NewTaskEvent(events.EventTaskStep, events.SourceGateway, msg.TaskID, msg.Payload))

	case remote.MsgTaskComplete, remote.MsgTaskError:
		h.mu.Lock()
		ch := h.pending[msg.TaskID]
		h.mu.Unlock()
		if ch != nil {
			select {
			case ch <- msg:
			default:
			}
		}

	case remote.MsgShutdown:
		return true
	}
	return false
}

// AssignTask sends a task to a connected node and waits for its terminal
// frame.
func (h *Hub) AssignTask(ctx context.Context, nodeID string, taskID int64, goal string) (map[string]any, error) {
	h.mu.Lock()
	nc := h.conns[nodeID]
	if nc == nil {
		h.mu.Unlock()
		return nil, fmt.Errorf("node %s not connected", nodeID)
	}
	ch := make(chan remote.Message, 1)
	h.pending[taskID] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, taskID)
		h.mu.Unlock()
	}()

	frame, err := remote.Encode(remote.Message{
		Type:      remote.MsgTaskAssign,
		TaskID:    taskID,
		Payload:   map[string]any{"goal": goal},
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return nil, err
	}
	if err := nc.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return nil, fmt.Errorf("assign task %d to %s: %w", taskID, nodeID, err)
	}

	select {
	case msg := <-ch:
		if msg.Type == remote.MsgTaskError {
			return nil, fmt.Errorf("remote task %d failed: %s", taskID, msg.Error)
		}
		return msg.Payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connected reports the ids of nodes with a live connection.
func (h *Hub) Connected() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.conns))
	for id := range h.conns {
		out = append(out, id)
	}
	return out
}

func (h *Hub) drop(nc *nodeConn) {
	if nc.id != "" {
		h.mu.Lock()
		delete(h.conns, nc.id)
		h.mu.Unlock()
		if err := h.registry.UpdateStatus(nc.id, remote.StatusOffline); err == nil {
			h.logger.Info("node disconnected", "node", nc.id)
		}
	}
	nc.conn.Close(websocket.StatusNormalClosure, "")
}

// Close tears down every node connection.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, nc := range h.conns {
		nc.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.conns, id)
	}
}

// capabilityList coerces a decoded JSON payload value into capabilities.
func capabilityList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{"general"}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{"general"}
	}
	return out
}

func (h *Hub) publish(e events.Event) {
	if h.bus != nil {
		h.bus.Publish(e)
	}
}
