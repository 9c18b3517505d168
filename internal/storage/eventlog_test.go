package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/droverhq/drover/internal/events"
)

func TestEventLoggerWriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	bus.Publish(events.NewTaskEvent(events.EventTaskCompleted, events.SourceWorker, 7, map[string]any{"steps": 3}))
	bus.Publish(events.NewEvent(events.EventWorkerStarted, events.SourceSupervisor, map[string]any{"worker": 0}))

	// Give the async subscriber time to process.
	time.Sleep(100 * time.Millisecond)

	got, err := el.ReadTaskLog(7)
	if err != nil {
		t.Fatalf("ReadTaskLog: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("task log entries = %d", len(got))
	}
	if got[0].Type != events.EventTaskCompleted || got[0].TaskID != 7 {
		t.Errorf("entry = %+v", got[0])
	}

	if _, err := os.Stat(filepath.Join(dir, "engine.jsonl")); err != nil {
		t.Errorf("engine log missing: %v", err)
	}
}

func TestEventLoggerSkipsStepEvents(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	bus.Publish(events.NewTaskEvent(events.EventTaskStep, events.SourceWorker, 9, nil))
	time.Sleep(100 * time.Millisecond)

	got, err := el.ReadTaskLog(9)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("step events were logged: %+v", got)
	}
}

func TestReadTaskLogMissingIsEmpty(t *testing.T) {
	bus := events.NewBus(4)
	defer bus.Close()
	el := NewEventLogger(t.TempDir(), bus)
	defer el.Close()

	got, err := el.ReadTaskLog(404)
	if err != nil || got != nil {
		t.Errorf("missing log = %v, %v", got, err)
	}
}
