// Package heartbeat provides liveness detection for the drover engine:
// a periodically refreshed heartbeat file plus an optional per-beat hook
// used to fan liveness out to the node registry.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Status is the liveness state derived from a heartbeat file.
type Status string

const (
	StatusAlive Status = "alive"
	StatusStale Status = "stale"
	StatusDead  Status = "dead"
)

// DefaultInterval is the beat period.
const DefaultInterval = 30 * time.Second

// Heartbeat is the record written to the heartbeat file.
type Heartbeat struct {
	PID       int       `json:"pid"`
	NodeName  string    `json:"node_name,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// Writer refreshes the heartbeat file on every beat.
type Writer struct {
	path     string
	nodeName string
	interval time.Duration
	started  time.Time

	// OnBeat, when set, runs after each file write. The engine uses it to
	// push node heartbeats to the registry.
	OnBeat func()

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWriter creates a writer beating at the default interval.
func NewWriter(path, nodeName string) *Writer {
	return &Writer{
		path:     path,
		nodeName: nodeName,
		interval: DefaultInterval,
	}
}

// SetInterval overrides the beat period. Call before Start.
func (w *Writer) SetInterval(d time.Duration) {
	if d > 0 {
		w.interval = d
	}
}

// Start begins beating in a background goroutine. Idempotent.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return
	}

	w.started = time.Now()
	w.done = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.beat()

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.beat()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the writer and removes the heartbeat file.
func (w *Writer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		return
	}

	w.cancel()
	<-w.done
	w.cancel = nil

	os.Remove(w.path)
}

func (w *Writer) beat() {
	hb := Heartbeat{
		PID:       os.Getpid(),
		NodeName:  w.nodeName,
		StartedAt: w.started,
		Timestamp: time.Now(),
		Uptime:    time.Since(w.started).Truncate(time.Second).String(),
	}

	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		return
	}

	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return
	}

	if w.OnBeat != nil {
		w.OnBeat()
	}
}

// Check reads a heartbeat file and classifies its liveness. A heartbeat
// older than maxAge is stale; a missing file is dead.
func Check(path string, maxAge time.Duration) (Status, *Heartbeat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StatusDead, nil, nil
		}
		return StatusDead, nil, fmt.Errorf("read heartbeat: %w", err)
	}

	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return StatusDead, nil, fmt.Errorf("unmarshal heartbeat: %w", err)
	}

	if time.Since(hb.Timestamp) > maxAge {
		return StatusStale, &hb, nil
	}
	return StatusAlive, &hb, nil
}
