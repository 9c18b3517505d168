package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/droverhq/drover/internal/storage/jsonstore"
)

// PatternCategory groups dangerous command patterns by intent.
type PatternCategory string

const (
	CategoryPrivilege PatternCategory = "privilege_elevation"
	CategoryPackage   PatternCategory = "package_mutation"
	CategoryNetwork   PatternCategory = "network"
	CategorySystem    PatternCategory = "system_mutation"
	CategoryProcess   PatternCategory = "process_control"
)

// dangerousPatterns is the built-in denypattern catalogue, scanned
// case-insensitively as substrings of the command line.
var dangerousPatterns = []struct {
	Category PatternCategory
	Patterns []string
}{
	{CategoryPrivilege, []string{"sudo", "doas", "pkexec"}},
	{CategoryPackage, []string{"apt install", "apt-get install", "pip install", "npm install"}},
	{CategoryNetwork, []string{"wget", "curl", "nc ", "ncat", "telnet"}},
	{CategorySystem, []string{"iptables", "ufw", "mount", "umount"}},
	{CategoryProcess, []string{"killall", "pkill", "kill -9", "kill -sigkill"}},
}

// Verdict is the outcome of a filter check.
type Verdict struct {
	Allowed bool     `json:"allowed"`
	Blocked bool     `json:"blocked"`
	Reasons []string `json:"reasons,omitempty"`
}

// blockEvent is one NDJSON record in the filter's append-only event log.
type blockEvent struct {
	Command   string   `json:"command"`
	Reasons   []string `json:"reasons"`
	Timestamp float64  `json:"timestamp"`
}

// Filter is a command-pattern policy, not a kernel-level interposer: it scans
// command strings for dangerous substrings and decides against an allowlist
// and denylist. Blocked attempts are counted persistently and appended to an
// NDJSON event log.
type Filter struct {
	mu        sync.Mutex
	allowlist []string
	denylist  []string
	store     *jsonstore.Store
	eventPath string
	blocked   int64
}

// NewFilter creates a Filter persisting its counter at logPath
// (data/syscall_log.json) with events alongside as NDJSON.
func NewFilter(allowlist, denylist []string, logPath string) (*Filter, error) {
	store, err := jsonstore.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("open syscall log: %w", err)
	}

	f := &Filter{
		allowlist: lowerAll(allowlist),
		denylist:  lowerAll(denylist),
		store:     store,
		eventPath: filepath.Join(filepath.Dir(logPath), "syscall_events.jsonl"),
	}

	var count int64
	if ok, err := store.Get("total_blocked", &count); err == nil && ok {
		f.blocked = count
	}
	return f, nil
}

// CheckCommand decides whether a command may run.
// Pattern hits are blocked when denylisted, when the allowlist is non-empty
// and no allowlist entry appears in the command, or — with no allowlist at
// all — as a plain suspicious pattern.
func (f *Filter) CheckCommand(command string) Verdict {
	f.mu.Lock()
	defer f.mu.Unlock()

	lower := strings.ToLower(command)
	var reasons []string

	for _, group := range dangerousPatterns {
		for _, pat := range group.Patterns {
			if !strings.Contains(lower, pat) {
				continue
			}
			switch {
			case contains(f.denylist, pat):
				reasons = append(reasons, fmt.Sprintf("explicitly denied (%s): %s", group.Category, pat))
			case len(f.allowlist) > 0:
				if !anyContained(lower, f.allowlist) {
					reasons = append(reasons, fmt.Sprintf("not in allowlist (%s): %s", group.Category, pat))
				}
			default:
				reasons = append(reasons, fmt.Sprintf("suspicious pattern (%s): %s", group.Category, pat))
			}
		}
	}

	if len(reasons) == 0 {
		return Verdict{Allowed: true}
	}

	f.blocked += int64(len(reasons))
	f.persistLocked(command, reasons)
	return Verdict{Blocked: true, Reasons: reasons}
}

// BlockedCount returns the persistent count of blocked attempts.
func (f *Filter) BlockedCount() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked
}

// ResetBlockedCount zeroes the persistent counter.
func (f *Filter) ResetBlockedCount() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked = 0
	return f.store.Set("total_blocked", f.blocked)
}

// persistLocked saves the counter and appends an event record. Caller holds f.mu.
func (f *Filter) persistLocked(command string, reasons []string) {
	_ = f.store.Set("total_blocked", f.blocked)
	_ = f.store.Set("last_updated", float64(time.Now().Unix()))

	ev := blockEvent{
		Command:   command,
		Reasons:   reasons,
		Timestamp: float64(time.Now().UnixMilli()) / 1000,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	file, err := os.OpenFile(f.eventPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.Write(append(data, '\n'))
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func anyContained(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
