package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket"
)

// Client is a WebSocket client speaking the node protocol.
type Client struct {
	conn   *websocket.Conn
	nodeID string
}

// Dial connects to a peer node's gateway WebSocket endpoint.
func Dial(ctx context.Context, url, nodeID string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial %s: %w", url, err)
	}
	return &Client{conn: conn, nodeID: nodeID}, nil
}

// Send writes one protocol message.
func (c *Client) Send(ctx context.Context, m Message) error {
	m.NodeID = c.nodeID
	m.Timestamp = time.Now().Unix()
	data, err := Encode(m)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Read blocks for the next protocol message.
func (c *Client) Read(ctx context.Context) (Message, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return Message{}, err
	}
	return Decode(data)
}

// AssignTask sends a task to the peer and waits for the terminal reply.
// The result payload of a task_complete frame is returned; a task_error frame
// becomes an error.
func (c *Client) AssignTask(ctx context.Context, taskID int64, goal string) (map[string]any, error) {
	err := c.Send(ctx, Message{
		Type:    MsgTaskAssign,
		TaskID:  taskID,
		Payload: map[string]any{"goal": goal},
	})
	if err != nil {
		return nil, fmt.Errorf("assign task %d: %w", taskID, err)
	}

	for {
		m, err := c.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("await task %d: %w", taskID, err)
		}
		if m.TaskID != taskID {
			continue
		}
		switch m.Type {
		case MsgTaskComplete:
			return m.Payload, nil
		case MsgTaskError:
			return nil, fmt.Errorf("remote task %d failed: %s", taskID, m.Error)
		default:
			// task_update and heartbeats are progress noise here.
		}
	}
}

// Heartbeat sends a liveness frame.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.Send(ctx, Message{Type: MsgHeartbeat})
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
