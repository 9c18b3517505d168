package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/droverhq/drover/internal/events"
)

// tickInterval is how often the scheduler checks for due entries.
const tickInterval = 30 * time.Second

// SubmitFunc hands a due goal to the engine.
type SubmitFunc func(goal string, priority int) error

// Scheduler fires stored schedule entries against the task engine.
type Scheduler struct {
	store  *Store
	submit SubmitFunc
	bus    *events.Bus
	logger *slog.Logger
	now    func() time.Time
}

// New builds a scheduler. bus may be nil.
func New(store *Store, submit SubmitFunc, bus *events.Bus) *Scheduler {
	return &Scheduler{
		store:  store,
		submit: submit,
		bus:    bus,
		logger: slog.Default().With("component", "scheduler"),
		now:    time.Now,
	}
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	s.Tick(s.now())
	for {
		select {
		case t := <-ticker.C:
			s.Tick(t)
		case <-ctx.Done():
			return
		}
	}
}

// Tick fires every entry due at now and returns how many triggered.
func (s *Scheduler) Tick(now time.Time) int {
	fired := 0
	for _, e := range s.store.List() {
		if !e.due(now) {
			continue
		}
		if err := s.submit(e.Goal, e.Priority); err != nil {
			s.logger.Warn("schedule submit failed", "schedule", e.ID, "goal", e.Goal, "error", err)
			continue
		}
		if err := s.store.recordRun(e.ID, now); err != nil {
			s.logger.Warn("schedule record failed", "schedule", e.ID, "error", err)
		}
		fired++
		s.logger.Info("schedule fired", "schedule", e.ID, "goal", e.Goal)
		if s.bus != nil {
			s.bus.Publish(events.NewEvent(events.EventScheduleTrigger, events.SourceScheduler, map[string]any{
				"schedule": e.ID,
				"goal":     e.Goal,
			}))
		}
	}
	return fired
}
