package heartbeat

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWriteReadCycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")

	w := NewWriter(path, "node-a")
	w.Start()
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)

	status, hb, err := Check(path, 2*time.Minute)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status != StatusAlive {
		t.Errorf("expected alive, got %s", status)
	}
	if hb == nil {
		t.Fatal("expected heartbeat, got nil")
	}
	if hb.PID != os.Getpid() {
		t.Errorf("PID: got %d, want %d", hb.PID, os.Getpid())
	}
	if hb.NodeName != "node-a" {
		t.Errorf("node name = %q", hb.NodeName)
	}
	if hb.Uptime == "" {
		t.Error("expected non-empty uptime")
	}
}

func TestOnBeatHook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")

	var beats atomic.Int32
	w := NewWriter(path, "")
	w.OnBeat = func() { beats.Add(1) }
	w.SetInterval(20 * time.Millisecond)

	w.Start()
	time.Sleep(100 * time.Millisecond)
	w.Stop()

	if beats.Load() < 2 {
		t.Errorf("beats = %d, want at least 2", beats.Load())
	}
}

func TestStaleDetection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")

	old := Heartbeat{
		PID:       os.Getpid(),
		StartedAt: time.Now().Add(-2 * time.Hour),
		Timestamp: time.Now().Add(-1 * time.Hour),
		Uptime:    "1h0m0s",
	}
	data, _ := json.Marshal(old)
	os.WriteFile(path, data, 0o644)

	status, hb, err := Check(path, 30*time.Minute)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status != StatusStale {
		t.Errorf("expected stale, got %s", status)
	}
	if hb == nil {
		t.Fatal("expected heartbeat, got nil")
	}
}

func TestDeadDetection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")

	status, hb, err := Check(path, 2*time.Minute)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status != StatusDead {
		t.Errorf("expected dead, got %s", status)
	}
	if hb != nil {
		t.Errorf("expected nil heartbeat, got %+v", hb)
	}
}

func TestStopRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")

	w := NewWriter(path, "")
	w.Start()
	time.Sleep(50 * time.Millisecond)
	w.Stop()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected heartbeat file to be removed after Stop")
	}
}
