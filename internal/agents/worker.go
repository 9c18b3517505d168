// Package agents implements the decision→action worker loop and the
// supervisor that schedules workers over a priority queue.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/droverhq/drover/internal/auth"
	"github.com/droverhq/drover/internal/commands"
	"github.com/droverhq/drover/internal/metrics"
	"github.com/droverhq/drover/internal/profiles"
	"github.com/droverhq/drover/internal/providers"
	"github.com/droverhq/drover/internal/router"
	"github.com/droverhq/drover/internal/skills"
	"github.com/droverhq/drover/internal/tasks"
	"github.com/droverhq/drover/internal/tools"
)

// DefaultMaxSteps bounds the decision loop per task.
const DefaultMaxSteps = 10

// completionMarkers end the loop on a case-insensitive substring hit.
var completionMarkers = []string{"done", "complete", "finished", "success"}

// toolCallRe matches tool invocations like name(key=value, other="quoted").
var toolCallRe = regexp.MustCompile(`(\w+)\(([^)]*)\)`)

// ExecResult is the outcome of one task execution.
type ExecResult struct {
	Success        bool
	StepsCompleted int
	Interrupted    bool
	Err            string
}

// Worker runs one task at a time through the decision→action loop.
type Worker struct {
	ID       int
	router   *router.Router
	tools    *tools.Registry
	commands *commands.Registry
	skills   *skills.Registry
	profile  profiles.Profile
	repo     *tasks.Repository
	metrics  *metrics.Metrics
	sessions *auth.Sessions
	maxSteps int
	provider string // pinned by a switch_model command, empty = policy
	status   atomic.Value
	logger   *slog.Logger
}

// NewWorker builds a worker. commands and skills may be nil.
func NewWorker(id int, rt *router.Router, tr *tools.Registry, cr *commands.Registry, sr *skills.Registry, profile profiles.Profile) *Worker {
	w := &Worker{
		ID:       id,
		router:   rt,
		tools:    tr,
		commands: cr,
		skills:   sr,
		profile:  profile,
		maxSteps: DefaultMaxSteps,
		logger:   slog.Default().With("component", "worker", "worker_id", id),
	}
	w.status.Store("idle")
	return w
}

// SetServices hands the worker the engine services intercepted commands act
// on. Any of them may be nil; the affected commands then report their store
// as unavailable.
func (w *Worker) SetServices(repo *tasks.Repository, m *metrics.Metrics, sessions *auth.Sessions) {
	w.repo = repo
	w.metrics = m
	w.sessions = sessions
}

// SetMaxSteps overrides the step budget.
func (w *Worker) SetMaxSteps(n int) {
	if n > 0 {
		w.maxSteps = n
	}
}

// Status reports "idle", "running", or "error".
func (w *Worker) Status() string {
	return w.status.Load().(string)
}

// Execute runs the decision loop for a task, mutating the task's step log.
// The caller owns persistence.
func (w *Worker) Execute(ctx context.Context, task *tasks.Task) ExecResult {
	w.status.Store("running")
	res := w.runLoop(ctx, task)
	if res.Err != "" && !res.Success {
		w.status.Store("error")
	} else {
		w.status.Store("idle")
	}
	return res
}

func (w *Worker) runLoop(ctx context.Context, task *tasks.Task) ExecResult {
	system := w.systemPrompt(task.Goal)

	for step := 1; step <= w.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return ExecResult{StepsCompleted: step - 1, Err: err.Error()}
		}

		prompt := fmt.Sprintf("Task goal: %s\nCurrent step: %d", task.Goal, step)
		pc := providers.Context{System: w.assembleContext(task)}
		if system != "" {
			pc.System = system + "\n\n" + pc.System
		}
		decision, err := w.router.Generate(ctx, prompt, router.Options{
			Provider: w.provider,
			Goal:     task.Goal,
			Context:  pc,
		})
		if err != nil {
			task.AddStep("decision", "", err.Error())
			return ExecResult{StepsCompleted: step, Err: err.Error()}
		}
		task.AddStep("decision", decision, "")

		if w.commands != nil && w.profile.EnableCommands {
			if cmd := w.commands.FindForText(decision); cmd != nil {
				interrupted := w.runCommand(cmd, task, decision)
				if interrupted {
					return ExecResult{Success: true, StepsCompleted: step, Interrupted: true}
				}
				continue
			}
		}

		if isComplete(decision) {
			return ExecResult{Success: true, StepsCompleted: step}
		}

		calls := detectToolCalls(decision)
		if len(calls) == 0 {
			task.AddStep("action", truncate(decision, 200), "")
			continue
		}
		if len(calls) > w.profile.MaxToolsPerStep && w.profile.MaxToolsPerStep > 0 {
			calls = calls[:w.profile.MaxToolsPerStep]
		}

		for _, call := range calls {
			result := w.executeTool(ctx, call)
			task.AddStep("action", result.Output, result.Error)
			if result.Error != "" {
				return ExecResult{
					StepsCompleted: step,
					Err:            "Tool failed: " + result.Error,
				}
			}
		}
	}

	// The step budget bounds work, it does not define failure: a task that
	// made max_steps of progress without erroring counts as satisfied.
	return ExecResult{Success: true, StepsCompleted: w.maxSteps}
}

// assembleContext serializes what the model needs to decide the next step:
// task identity, goal, status, the last three steps, and the tool schemas it
// may call. Rebuilt every step because the step log grows under it.
func (w *Worker) assembleContext(task *tasks.Task) string {
	payload := map[string]any{
		"task_id": task.ID,
		"goal":    task.Goal,
		"status":  task.Status,
		"steps":   task.LastSteps(3),
	}
	if w.tools != nil {
		payload["available_tools"] = w.tools.Schemas()
	}
	b, err := json.Marshal(payload)
	if err != nil {
		w.logger.Warn("context assembly failed", "task_id", task.ID, "error", err)
		return ""
	}
	return string(b)
}

// runCommand logs a command step, applies its state changes, and reports
// whether execution should stop.
func (w *Worker) runCommand(cmd *commands.Command, task *tasks.Task, decision string) bool {
	res := cmd.Execute(commands.Context{
		Router:   w.router,
		Metrics:  w.metrics,
		Tasks:    w.repo,
		Sessions: w.sessions,
		TaskID:   task.ID,
	}, parseCommandArgs(decision))
	task.AddStep("command", fmt.Sprintf("%s: %s", cmd.Name, res.Output), "")

	for _, change := range res.StateChanges {
		switch c := change.(type) {
		case commands.SwitchProvider:
			w.provider = c.Provider
		case commands.Pause:
			if tasks.CanTransition(task.Status, tasks.StatusPaused) {
				_ = task.UpdateStatus(tasks.StatusPaused)
			}
		case commands.Resume:
			if tasks.CanTransition(task.Status, tasks.StatusRunning) {
				_ = task.UpdateStatus(tasks.StatusRunning)
			}
		case commands.InjectContext:
			if task.Memory == nil {
				task.Memory = make(map[string]any)
			}
			task.Memory["injected_context"] = c.Text
		}
	}
	return res.InterruptExecution
}

// executeTool looks up and runs one tool call, converting panics into
// security violations so a misbehaving tool cannot take the worker down.
func (w *Worker) executeTool(ctx context.Context, call toolCall) (result tools.Result) {
	tool := w.tools.Get(call.Name)
	if tool == nil {
		return tools.Result{Error: "Tool not found: " + call.Name}
	}

	defer func() {
		if r := recover(); r != nil {
			result = tools.Result{Error: fmt.Sprintf("Security violation in %s: %v", call.Name, r)}
		}
	}()
	return tool.Execute(ctx, call.Args)
}

// systemPrompt picks a matching skill template when the skill system is on.
func (w *Worker) systemPrompt(goal string) string {
	if w.skills == nil || !w.profile.EnableSkillSystem {
		return ""
	}
	if s := w.skills.FindForGoal(goal); s != nil {
		return s.Prompt(goal)
	}
	return ""
}

type toolCall struct {
	Name string
	Args map[string]string
}

// detectToolCalls extracts name(key=value, ...) invocations from model text.
func detectToolCalls(text string) []toolCall {
	matches := toolCallRe.FindAllStringSubmatch(text, -1)
	calls := make([]toolCall, 0, len(matches))
	for _, m := range matches {
		args := make(map[string]string)
		for _, pair := range strings.Split(m[2], ",") {
			key, value, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}
			args[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"`)
		}
		calls = append(calls, toolCall{Name: m[1], Args: args})
	}
	return calls
}

// parseCommandArgs extracts key=value pairs from a command sentence.
func parseCommandArgs(text string) map[string]string {
	args := make(map[string]string)
	for _, field := range strings.Fields(text) {
		if key, value, ok := strings.Cut(field, "="); ok {
			args[strings.TrimSpace(key)] = strings.Trim(value, `"`)
		}
	}
	return args
}

func isComplete(decision string) bool {
	lower := strings.ToLower(decision)
	for _, marker := range completionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
