// Package scheduler submits task goals on cron or interval schedules.
package scheduler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one persisted schedule: a goal submitted whenever the schedule
// fires. Exactly one of Cron and IntervalSec is set.
type Entry struct {
	ID          string    `json:"id"`
	Goal        string    `json:"goal"`
	Priority    int       `json:"priority,omitempty"`
	Cron        string    `json:"cron,omitempty"`
	IntervalSec int       `json:"interval_sec,omitempty"`
	Enabled     bool      `json:"enabled"`
	MaxRuns     int       `json:"max_runs,omitempty"` // 0 = unbounded
	RunCount    int       `json:"run_count"`
	LastRun     time.Time `json:"last_run,omitzero"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks the entry is well-formed and its cron parses.
func (e *Entry) Validate() error {
	if e.Goal == "" {
		return fmt.Errorf("schedule requires a goal")
	}
	if (e.Cron == "") == (e.IntervalSec == 0) {
		return fmt.Errorf("schedule requires exactly one of cron and interval")
	}
	if e.Cron != "" {
		if _, err := ParseCron(e.Cron); err != nil {
			return err
		}
	}
	if e.IntervalSec < 0 {
		return fmt.Errorf("interval must be positive")
	}
	return nil
}

// NewEntry builds an enabled entry with a fresh id.
func NewEntry(goal, cronExpr string, intervalSec int) *Entry {
	return &Entry{
		ID:          uuid.NewString(),
		Goal:        goal,
		Cron:        cronExpr,
		IntervalSec: intervalSec,
		Enabled:     true,
		CreatedAt:   time.Now().UTC(),
	}
}

// due reports whether the entry should fire at now.
func (e *Entry) due(now time.Time) bool {
	if !e.Enabled {
		return false
	}
	if e.MaxRuns > 0 && e.RunCount >= e.MaxRuns {
		return false
	}

	if e.Cron != "" {
		expr, err := ParseCron(e.Cron)
		if err != nil {
			return false
		}
		// One trigger per matching minute.
		if !e.LastRun.IsZero() && e.LastRun.Truncate(time.Minute).Equal(now.Truncate(time.Minute)) {
			return false
		}
		return expr.Matches(now)
	}

	interval := time.Duration(e.IntervalSec) * time.Second
	return e.LastRun.IsZero() || now.Sub(e.LastRun) >= interval
}
