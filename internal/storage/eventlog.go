// Package storage holds persistence helpers layered on the event bus and
// the JSON store.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/droverhq/drover/internal/events"
)

// EventLogger persists bus events to JSONL files under a log directory:
// task-scoped events land in task_<id>.jsonl, the rest in engine.jsonl.
type EventLogger struct {
	dir         string
	bus         *events.Bus
	unsubscribe func()
}

// NewEventLogger subscribes to all bus events and appends them to dir.
func NewEventLogger(dir string, bus *events.Bus) *EventLogger {
	el := &EventLogger{
		dir: dir,
		bus: bus,
	}
	el.unsubscribe = bus.Subscribe(el.handleEvent)
	return el
}

// Close unsubscribes the logger from the event bus.
func (el *EventLogger) Close() {
	if el.unsubscribe != nil {
		el.unsubscribe()
	}
}

func (el *EventLogger) handleEvent(e events.Event) {
	// Per-step events are already captured in the task's step history.
	if e.Type == events.EventTaskStep {
		return
	}
	_ = el.writeEvent(e)
}

func (el *EventLogger) writeEvent(e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	path := el.logPath(e.TaskID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

func (el *EventLogger) logPath(taskID int64) string {
	if taskID == 0 {
		return filepath.Join(el.dir, "engine.jsonl")
	}
	return filepath.Join(el.dir, fmt.Sprintf("task_%d.jsonl", taskID))
}

// ReadTaskLog reads the JSONL log for one task without a live logger, for
// CLI inspection of a log directory written by another process.
func ReadTaskLog(dir string, taskID int64) ([]events.Event, error) {
	el := &EventLogger{dir: dir}
	return el.ReadTaskLog(taskID)
}

// ReadTaskLog returns the raw JSONL lines logged for one task.
func (el *EventLogger) ReadTaskLog(taskID int64) ([]events.Event, error) {
	data, err := os.ReadFile(el.logPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []events.Event
	for _, line := range splitLines(data) {
		var e events.Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
