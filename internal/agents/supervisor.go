package agents

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/droverhq/drover/internal/auth"
	"github.com/droverhq/drover/internal/commands"
	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/metrics"
	"github.com/droverhq/drover/internal/plugins"
	"github.com/droverhq/drover/internal/profiles"
	"github.com/droverhq/drover/internal/remote"
	"github.com/droverhq/drover/internal/router"
	"github.com/droverhq/drover/internal/skills"
	"github.com/droverhq/drover/internal/tasks"
	"github.com/droverhq/drover/internal/tools"
)

const (
	// DefaultMaxWorkers is the worker goroutine count.
	DefaultMaxWorkers = 3
	// DefaultRunAllTimeout bounds a run_all_pending batch.
	DefaultRunAllTimeout = 300 * time.Second
	// shutdownJoinTimeout bounds Shutdown's wait for workers to drain.
	shutdownJoinTimeout = 5 * time.Second
)

// queueItem orders tasks by priority (higher first), FIFO within a priority.
type queueItem struct {
	priority int
	seq      uint64
	task     *tasks.Task
}

type taskQueue []*queueItem

func (q taskQueue) Len() int { return len(q) }
func (q taskQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}
func (q taskQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *taskQueue) Push(x any)        { *q = append(*q, x.(*queueItem)) }
func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// RunAllReport summarizes a run_all_pending batch.
type RunAllReport struct {
	Total         int `json:"total"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	Queued        int `json:"queued"`
	ActiveWorkers int `json:"active_workers"`
}

// SupervisorConfig carries the supervisor's collaborators.
type SupervisorConfig struct {
	Repo       *tasks.Repository
	Router     *router.Router
	Tools      *tools.Registry
	Commands   *commands.Registry
	Skills     *skills.Registry
	Plugins    *plugins.Registry
	Nodes      *remote.Registry
	Bus        *events.Bus
	Metrics    *metrics.Metrics
	Sessions   *auth.Sessions
	Profile    profiles.Profile
	MaxWorkers int
	MaxSteps   int
	RemoteExec func(ctx context.Context, nodeID string, task *tasks.Task) error
}

// Supervisor owns the task queue and the worker pool. Constructing one
// allocates state only; call Start to spawn workers and Shutdown to stop.
type Supervisor struct {
	cfg    SupervisorConfig
	logger *slog.Logger

	mu      sync.Mutex // guards queue, seq, active, assignments, started
	queue   taskQueue
	seq     uint64
	active  map[int64]int // task id -> worker id
	started bool

	memMu  sync.Mutex // guards shared cross-worker memory
	memory map[string]any

	workers    []*Worker
	wakeCh     chan struct{}
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// NewSupervisor builds a supervisor. It spawns nothing.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	return &Supervisor{
		cfg:    cfg,
		logger: slog.Default().With("component", "supervisor"),
		active: make(map[int64]int),
		memory: make(map[string]any),
	}
}

// SetRemoteExec installs the remote execution transport. Call before Start;
// the gateway uses this to route delegated tasks through its websocket hub.
func (s *Supervisor) SetRemoteExec(fn func(ctx context.Context, nodeID string, task *tasks.Task) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.RemoteExec = fn
}

// Start spawns the worker pool. Calling Start twice is an error.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("supervisor already started")
	}
	s.started = true
	s.wakeCh = make(chan struct{}, 1)
	s.shutdownCh = make(chan struct{})

	s.workers = make([]*Worker, s.cfg.MaxWorkers)
	for i := 0; i < s.cfg.MaxWorkers; i++ {
		w := NewWorker(i, s.cfg.Router, s.cfg.Tools, s.cfg.Commands, s.cfg.Skills, s.cfg.Profile)
		w.SetMaxSteps(s.cfg.MaxSteps)
		w.SetServices(s.cfg.Repo, s.cfg.Metrics, s.cfg.Sessions)
		s.workers[i] = w
		s.wg.Add(1)
		go s.workerLoop(w)
		s.publish(events.NewEvent(events.EventWorkerStarted, events.SourceSupervisor, map[string]any{"worker": i}))
	}
	return nil
}

// Shutdown signals workers to stop and joins them, giving up after 5s.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	close(s.shutdownCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownJoinTimeout):
		s.logger.Warn("shutdown join timed out", "timeout", shutdownJoinTimeout)
		return fmt.Errorf("shutdown: workers did not drain within %s", shutdownJoinTimeout)
	}

	for _, w := range s.workers {
		s.publish(events.NewEvent(events.EventWorkerStopped, events.SourceSupervisor, map[string]any{"worker": w.ID}))
	}
	return nil
}

// Enqueue adds a task to the queue, ordered by its priority.
func (s *Supervisor) Enqueue(task *tasks.Task) {
	s.mu.Lock()
	s.seq++
	heap.Push(&s.queue, &queueItem{priority: task.Priority, seq: s.seq, task: task})
	s.mu.Unlock()

	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// QueueLen reports how many tasks are waiting.
func (s *Supervisor) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// ActiveCount reports how many tasks are executing right now.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// WorkerStatuses reports each worker's status keyed by id.
func (s *Supervisor) WorkerStatuses() map[int]string {
	out := make(map[int]string, len(s.workers))
	for _, w := range s.workers {
		out[w.ID] = w.Status()
	}
	return out
}

// SetMemory stores a value in the cross-worker shared memory.
func (s *Supervisor) SetMemory(key string, value any) {
	s.memMu.Lock()
	defer s.memMu.Unlock()
	s.memory[key] = value
}

// Memory reads a value from the cross-worker shared memory.
func (s *Supervisor) Memory(key string) (any, bool) {
	s.memMu.Lock()
	defer s.memMu.Unlock()
	v, ok := s.memory[key]
	return v, ok
}

func (s *Supervisor) workerLoop(w *Worker) {
	defer s.wg.Done()
	for {
		item := s.dequeue()
		if item == nil {
			select {
			case <-s.wakeCh:
				// Re-arm for siblings: one send may wake one of several idle
				// workers while more than one task was enqueued.
				select {
				case s.wakeCh <- struct{}{}:
				default:
				}
				continue
			case <-s.shutdownCh:
				return
			}
		}

		s.mu.Lock()
		s.active[item.task.ID] = w.ID
		s.mu.Unlock()

		s.runTask(w, item.task)

		s.mu.Lock()
		delete(s.active, item.task.ID)
		s.mu.Unlock()
	}
}

func (s *Supervisor) dequeue() *queueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Len() == 0 {
		return nil
	}
	return heap.Pop(&s.queue).(*queueItem)
}

// runTask drives one task through delegation, plugin hooks, the collaboration
// strategy, and persistence.
func (s *Supervisor) runTask(w *Worker, task *tasks.Task) {
	ctx := context.Background()

	if nodeID := s.delegationTarget(); nodeID != "" {
		if s.delegate(ctx, nodeID, task) {
			return
		}
		// Remote execution failed, fall through to local.
	}

	if err := task.UpdateStatus(tasks.StatusRunning); err != nil {
		s.logger.Warn("task not runnable", "task_id", task.ID, "status", task.Status, "error", err)
		return
	}
	s.persist(task)
	s.publish(events.NewTaskEvent(events.EventTaskStarted, events.SourceSupervisor, task.ID, map[string]any{"worker": w.ID}))

	if s.cfg.Plugins != nil {
		s.cfg.Plugins.RunBefore(task)
	}

	var res ExecResult
	switch s.cfg.Profile.CollaborationMode {
	case profiles.ModeCooperative:
		res = s.runCooperative(ctx, w, task)
	case profiles.ModeCompetitive:
		res = s.runCompetitive(ctx, task)
	default:
		res = w.Execute(ctx, task)
	}

	var runErr error
	if res.Success {
		if task.Status == tasks.StatusRunning {
			_ = task.UpdateStatus(tasks.StatusDone)
		}
		s.publish(events.NewTaskEvent(events.EventTaskCompleted, events.SourceWorker, task.ID, map[string]any{"steps": res.StepsCompleted}))
	} else if task.Status == tasks.StatusRunning {
		_ = task.UpdateStatus(tasks.StatusError)
		runErr = fmt.Errorf("%s", res.Err)
		s.publish(events.NewTaskEvent(events.EventTaskFailed, events.SourceWorker, task.ID, map[string]any{"error": res.Err}))
	}
	s.persist(task)

	if s.cfg.Plugins != nil {
		s.cfg.Plugins.RunAfter(task, runErr)
	}
}

// delegationTarget reports the node a task should be sent to, or "" for
// local execution. Delegation needs an available "general" node, a profile
// tolerant enough of remote risk, and no strong speed bias.
func (s *Supervisor) delegationTarget() string {
	if s.cfg.Nodes == nil || s.cfg.RemoteExec == nil {
		return ""
	}
	if s.cfg.Profile.RiskTolerance < 0.3 || s.cfg.Profile.SpeedVsAccuracy > 0.7 {
		return ""
	}
	return s.cfg.Nodes.FindAvailable([]string{"general"})
}

func (s *Supervisor) delegate(ctx context.Context, nodeID string, task *tasks.Task) bool {
	if err := s.cfg.Nodes.AssignTask(nodeID, task.ID); err != nil {
		s.logger.Warn("node assignment failed", "node", nodeID, "task_id", task.ID, "error", err)
		return false
	}
	defer func() {
		if err := s.cfg.Nodes.ReleaseTask(nodeID, task.ID); err != nil {
			s.logger.Warn("node release failed", "node", nodeID, "task_id", task.ID, "error", err)
		}
	}()

	s.publish(events.NewTaskEvent(events.EventTaskDelegated, events.SourceSupervisor, task.ID, map[string]any{"node": nodeID}))
	_ = task.UpdateStatus(tasks.StatusRunning)
	s.persist(task)

	if err := s.cfg.RemoteExec(ctx, nodeID, task); err != nil {
		s.logger.Warn("remote execution failed, running locally", "node", nodeID, "task_id", task.ID, "error", err)
		_ = task.UpdateStatus(tasks.StatusPaused)
		_ = task.UpdateStatus(tasks.StatusRunning)
		res := s.workers[0].Execute(ctx, task)
		s.finishLocal(task, res)
		return true
	}

	task.AddStep("delegate", fmt.Sprintf("executed on node %s", nodeID), "")
	_ = task.UpdateStatus(tasks.StatusDone)
	s.persist(task)
	s.publish(events.NewTaskEvent(events.EventTaskCompleted, events.SourceSupervisor, task.ID, map[string]any{"node": nodeID}))
	return true
}

func (s *Supervisor) finishLocal(task *tasks.Task, res ExecResult) {
	if res.Success {
		if task.Status == tasks.StatusRunning {
			_ = task.UpdateStatus(tasks.StatusDone)
		}
		s.publish(events.NewTaskEvent(events.EventTaskCompleted, events.SourceWorker, task.ID, map[string]any{"steps": res.StepsCompleted}))
	} else if task.Status == tasks.StatusRunning {
		_ = task.UpdateStatus(tasks.StatusError)
		s.publish(events.NewTaskEvent(events.EventTaskFailed, events.SourceWorker, task.ID, map[string]any{"error": res.Err}))
	}
	s.persist(task)
}

// runCooperative decomposes a multi-part goal into subtasks executed in
// sequence by the same worker. Decomposition only happens when the profile
// opts in; otherwise the goal runs whole, as do single-part goals.
func (s *Supervisor) runCooperative(ctx context.Context, w *Worker, task *tasks.Task) ExecResult {
	if !s.cfg.Profile.TaskDecomposition {
		return w.Execute(ctx, task)
	}
	parts := decomposeGoal(task.Goal)
	if len(parts) < 2 {
		return w.Execute(ctx, task)
	}

	total := 0
	for i, part := range parts {
		sub := &tasks.Task{
			ID:     task.ID,
			Goal:   part,
			Status: tasks.StatusRunning,
		}
		res := w.Execute(ctx, sub)
		total += res.StepsCompleted
		task.AddStep("subtask", fmt.Sprintf("[%d/%d] %s", i+1, len(parts), part), res.Err)
		s.memMu.Lock()
		s.memory[fmt.Sprintf("task:%d:subtask:%d", task.ID, i)] = res.Success
		s.memMu.Unlock()
		if !res.Success {
			return ExecResult{StepsCompleted: total, Err: res.Err}
		}
	}
	return ExecResult{Success: true, StepsCompleted: total}
}

// runCompetitive races every worker on independent copies of the task and
// keeps the first successful result's step log.
func (s *Supervisor) runCompetitive(ctx context.Context, task *tasks.Task) ExecResult {
	type attempt struct {
		worker int
		copy   *tasks.Task
		res    ExecResult
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan attempt, len(s.workers))
	for _, w := range s.workers {
		go func(w *Worker) {
			cp := &tasks.Task{ID: task.ID, Goal: task.Goal, Status: tasks.StatusRunning}
			results <- attempt{worker: w.ID, copy: cp, res: w.Execute(raceCtx, cp)}
		}(w)
	}

	var last attempt
	for i := 0; i < len(s.workers); i++ {
		a := <-results
		last = a
		if a.res.Success {
			cancel()
			task.Steps = append(task.Steps, a.copy.Steps...)
			task.AddStep("race", fmt.Sprintf("worker %d won", a.worker), "")
			return a.res
		}
	}
	task.Steps = append(task.Steps, last.copy.Steps...)
	return last.res
}

// RunAllPending enqueues every pending task and blocks until the queue and
// the active set drain, or the timeout passes.
func (s *Supervisor) RunAllPending(ctx context.Context, timeout time.Duration) (RunAllReport, error) {
	if timeout <= 0 {
		timeout = DefaultRunAllTimeout
	}

	pending := s.cfg.Repo.ListByStatus(tasks.StatusPending)
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	for _, t := range pending {
		s.Enqueue(t)
	}

	report := RunAllReport{Total: len(pending)}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			s.mu.Lock()
			drained := s.queue.Len() == 0 && len(s.active) == 0
			s.mu.Unlock()
			if drained {
				return s.finishReport(report, pending), nil
			}
		case <-deadline.C:
			return s.finishReport(report, pending), fmt.Errorf("run all pending: timed out after %s", timeout)
		case <-ctx.Done():
			return s.finishReport(report, pending), ctx.Err()
		}
	}
}

func (s *Supervisor) finishReport(report RunAllReport, batch []*tasks.Task) RunAllReport {
	for _, t := range batch {
		cur, ok := s.cfg.Repo.Get(t.ID)
		if !ok {
			continue
		}
		switch cur.Status {
		case tasks.StatusDone:
			report.Completed++
		case tasks.StatusError:
			report.Failed++
		}
	}
	s.mu.Lock()
	report.Queued = s.queue.Len()
	s.mu.Unlock()
	for _, status := range s.WorkerStatuses() {
		if status == "running" {
			report.ActiveWorkers++
		}
	}
	return report
}

func (s *Supervisor) persist(task *tasks.Task) {
	if s.cfg.Repo == nil {
		return
	}
	if err := s.cfg.Repo.Update(task); err != nil {
		s.logger.Warn("task persist failed", "task_id", task.ID, "error", err)
	}
}

func (s *Supervisor) publish(e events.Event) {
	if s.cfg.Bus != nil {
		s.cfg.Bus.Publish(e)
	}
}

// decomposeGoal splits a goal into subgoals on sentence and conjunction
// boundaries. Goals without such seams come back whole.
func decomposeGoal(goal string) []string {
	normalized := strings.NewReplacer(
		"; ", "\x00",
		". ", "\x00",
		" then ", "\x00",
		" and then ", "\x00",
	).Replace(goal)

	var parts []string
	for _, p := range strings.Split(normalized, "\x00") {
		p = strings.TrimSpace(strings.TrimSuffix(p, "."))
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return []string{goal}
	}
	return parts
}
