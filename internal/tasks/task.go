// Package tasks provides the persistent task entity, its status state
// machine, and the id-assigning repository.
package tasks

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// allowedTransitions is the task status transition table.
var allowedTransitions = map[Status][]Status{
	StatusPending: {StatusRunning},
	StatusRunning: {StatusPaused, StatusDone, StatusError},
	StatusPaused:  {StatusRunning, StatusError},
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Step is a single record in a task's append-only execution history.
// StepID is dense and 1-based: it always equals the step's index + 1.
type Step struct {
	StepID    int       `json:"step_id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Task is a persistent unit of work driven by the engine.
type Task struct {
	ID        int64          `json:"id"`
	Goal      string         `json:"goal"`
	Status    Status         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Steps     []Step         `json:"steps"`
	Memory    map[string]any `json:"memory,omitempty"`
	Priority  int            `json:"priority,omitempty"`
}

// AddStep appends a step to the task history and bumps UpdatedAt.
func (t *Task) AddStep(action, result, errText string) {
	t.Steps = append(t.Steps, Step{
		StepID:    len(t.Steps) + 1,
		Timestamp: time.Now().UTC(),
		Action:    action,
		Result:    result,
		Error:     errText,
	})
	t.UpdatedAt = time.Now().UTC()
}

// UpdateStatus transitions the task, validating against the transition table.
func (t *Task) UpdateStatus(next Status) error {
	if t.Status == next {
		return nil
	}
	if !CanTransition(t.Status, next) {
		return fmt.Errorf("invalid status transition %s → %s", t.Status, next)
	}
	t.Status = next
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// LastSteps returns up to n most recent steps, oldest first.
func (t *Task) LastSteps(n int) []Step {
	if len(t.Steps) <= n {
		return t.Steps
	}
	return t.Steps[len(t.Steps)-n:]
}
