// Package sandbox provides resource-bounded subprocess execution and a
// command-pattern policy filter for tool invocations.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"mvdan.cc/sh/v3/shell"
)

// Error wraps sandbox-level failures (timeouts, spawn errors).
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

// NewError creates a sandbox error.
func NewError(format string, args ...any) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// IsSandboxError reports whether err is a sandbox failure.
func IsSandboxError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

// Result holds the outcome of a sandboxed subprocess run.
type Result struct {
	ReturnCode int
	Stdout     string
	Stderr     string
	Elapsed    time.Duration
}

// Sandbox runs subprocesses with best-effort resource limits: lowered
// priority, CPU-time / file-descriptor / address-space / process caps, and a
// wall-clock timeout. Limits that the platform does not support are skipped.
type Sandbox struct {
	MaxCPUTime   time.Duration // default 30s, also the wall-clock timeout
	MaxMemoryMB  int           // address-space cap, best-effort
	MaxProcesses int
	MaxOpenFiles int
	Niceness     int
	WorkDir      string
}

// New returns a Sandbox with default limits.
func New() *Sandbox {
	return &Sandbox{
		MaxCPUTime:   30 * time.Second,
		MaxMemoryMB:  1024,
		MaxProcesses: 100,
		MaxOpenFiles: 1024,
		Niceness:     5,
	}
}

// RunCommand splits a shell command string into words and runs it.
// Splitting uses shell field rules, so quoted arguments survive intact.
func (s *Sandbox) RunCommand(ctx context.Context, command string) (*Result, error) {
	fields, err := shell.Fields(command, nil)
	if err != nil {
		return nil, NewError("parse command: %v", err)
	}
	if len(fields) == 0 {
		return nil, NewError("empty command")
	}
	return s.Run(ctx, fields)
}

// Run executes argv under the sandbox limits and returns its output.
// On timeout the process is killed and a sandbox error is returned.
func (s *Sandbox) Run(ctx context.Context, argv []string) (*Result, error) {
	if len(argv) == 0 {
		return nil, NewError("empty command")
	}

	timeout := s.MaxCPUTime
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, args := s.wrapLimits(argv)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = s.WorkDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		return nil, NewError("process timed out after %s", timeout)
	}

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			return nil, NewError("spawn: %v", err)
		}
	}

	return &Result{
		ReturnCode: code,
		Stdout:     sanitize(stdout.Bytes()),
		Stderr:     sanitize(stderr.Bytes()),
		Elapsed:    elapsed,
	}, nil
}

// wrapLimits prefixes argv with a shell prelude applying ulimit caps and a
// niceness bump. Limits that fail to apply are silently skipped by the shell.
func (s *Sandbox) wrapLimits(argv []string) (string, []string) {
	var prelude []string
	if secs := int(s.MaxCPUTime.Seconds()); secs > 0 {
		prelude = append(prelude, fmt.Sprintf("ulimit -S -t %d 2>/dev/null", secs))
	}
	if s.MaxOpenFiles > 0 {
		prelude = append(prelude, fmt.Sprintf("ulimit -S -n %d 2>/dev/null", s.MaxOpenFiles))
	}
	if s.MaxProcesses > 0 {
		prelude = append(prelude, fmt.Sprintf("ulimit -S -u %d 2>/dev/null", s.MaxProcesses))
	}
	if s.MaxMemoryMB > 0 {
		prelude = append(prelude, fmt.Sprintf("ulimit -S -v %d 2>/dev/null", s.MaxMemoryMB*1024))
	}

	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}

	script := strings.Join(prelude, "; ")
	if script != "" {
		script += "; "
	}
	script += fmt.Sprintf("exec nice -n %d %s", s.Niceness, strings.Join(quoted, " "))

	return "sh", []string{"-c", script}
}

// shellQuote single-quotes a word for safe embedding in a sh -c script.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// sanitize converts raw process output to valid UTF-8, replacing bad bytes.
func sanitize(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
