package remote

import (
	"encoding/json"
	"fmt"
)

// MessageType enumerates the node wire protocol.
type MessageType string

const (
	MsgHeartbeat    MessageType = "heartbeat"
	MsgTaskAssign   MessageType = "task_assign"
	MsgTaskUpdate   MessageType = "task_update"
	MsgTaskComplete MessageType = "task_complete"
	MsgTaskError    MessageType = "task_error"
	MsgNodeStatus   MessageType = "node_status"
	MsgShutdown     MessageType = "shutdown"
)

// knownTypes guards decode against unknown message kinds.
var knownTypes = map[MessageType]bool{
	MsgHeartbeat:    true,
	MsgTaskAssign:   true,
	MsgTaskUpdate:   true,
	MsgTaskComplete: true,
	MsgTaskError:    true,
	MsgNodeStatus:   true,
	MsgShutdown:     true,
}

// Message is one protocol frame. Encode/Decode round-trip identically.
type Message struct {
	Type      MessageType    `json:"msg_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	NodeID    string         `json:"node_id,omitempty"`
	TaskID    int64          `json:"task_id,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"`
}

// Encode serializes a message to JSON.
func Encode(m Message) ([]byte, error) {
	if !knownTypes[m.Type] {
		return nil, fmt.Errorf("unknown message type: %q", m.Type)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Decode parses a JSON frame back into a Message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if !knownTypes[m.Type] {
		return Message{}, fmt.Errorf("unknown message type: %q", m.Type)
	}
	return m, nil
}
