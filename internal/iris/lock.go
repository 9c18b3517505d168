package iris

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	lockPollInterval = 10 * time.Millisecond
	lockTimeout      = 5 * time.Second
)

// FileLock is a PID-bearing lock file. A holder that died leaves a stale
// lock; Acquire detects that by probing the recorded PID and breaks it
// instead of spinning forever.
type FileLock struct {
	path string
}

// NewFileLock points a lock at path without acquiring it.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Acquire takes the lock, waiting up to the lock timeout. Creation is
// exclusive so two processes cannot both win the same acquisition.
func (l *FileLock) Acquire() error {
	deadline := time.Now().Add(lockTimeout)
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(l.path)
				return fmt.Errorf("write lock file: %w", firstErr(werr, cerr))
			}
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("acquire lock: %w", err)
		}

		if pid, ok := l.holderPID(); ok && !processAlive(pid) {
			// Holder is gone. Removing is racy against a concurrent breaker,
			// but the exclusive create above re-serializes the winners.
			os.Remove(l.path)
			continue
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("acquire lock: timed out after %s (held by %s)", lockTimeout, l.path)
		}
		time.Sleep(lockPollInterval)
	}
}

// Release drops the lock.
func (l *FileLock) Release() {
	os.Remove(l.path)
}

func (l *FileLock) holderPID() (int, bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive probes a PID with signal 0. EPERM still means the process
// exists, just owned by someone else.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
