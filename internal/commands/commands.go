// Package commands implements in-band command interception: model output is
// scanned for trigger phrases, and matches execute against engine state
// instead of being treated as plain text.
package commands

import (
	"fmt"
	"strings"

	"github.com/droverhq/drover/internal/auth"
	"github.com/droverhq/drover/internal/metrics"
	"github.com/droverhq/drover/internal/router"
	"github.com/droverhq/drover/internal/tasks"
)

// StateChange is a request from a command to alter engine state. The closed
// set of variants keeps appliers exhaustive.
type StateChange interface{ isStateChange() }

// SwitchProvider asks the engine to route subsequent requests to Provider.
type SwitchProvider struct{ Provider string }

// Pause asks the engine to pause the current task.
type Pause struct{}

// Resume asks the engine to resume the current task.
type Resume struct{}

// InjectContext asks the engine to append Text to the task's working memory.
type InjectContext struct{ Text string }

func (SwitchProvider) isStateChange() {}
func (Pause) isStateChange()          {}
func (Resume) isStateChange()         {}
func (InjectContext) isStateChange()  {}

// Context gives commands access to the engine services they act on.
type Context struct {
	Router   *router.Router
	Metrics  *metrics.Metrics
	Tasks    *tasks.Repository
	Sessions *auth.Sessions
	TaskID   int64
}

// Result is a command's outcome.
type Result struct {
	Success            bool
	Output             string
	StateChanges       []StateChange
	InterruptExecution bool
}

// Command is one interceptable operation.
type Command struct {
	Name        string
	Description string
	Triggers    []string
	Execute     func(ctx Context, args map[string]string) Result
}

// Registry holds commands in registration order.
type Registry struct {
	commands []*Command
}

// NewRegistry creates a registry preloaded with the built-in command set.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(authStatusCommand())
	r.Register(switchModelCommand())
	r.Register(pauseCommand())
	r.Register(resumeCommand())
	r.Register(inspectTaskCommand())
	r.Register(injectContextCommand())
	return r
}

// NewEmptyRegistry creates a registry with no commands.
func NewEmptyRegistry() *Registry {
	return &Registry{}
}

// Register appends a command.
func (r *Registry) Register(c *Command) {
	r.commands = append(r.commands, c)
}

// List returns commands in registration order.
func (r *Registry) List() []*Command {
	return r.commands
}

// FindForText returns the first registered command whose trigger appears in
// text, case-insensitively. Nil when nothing matches.
func (r *Registry) FindForText(text string) *Command {
	lower := strings.ToLower(text)
	for _, c := range r.commands {
		for _, trig := range c.Triggers {
			if strings.Contains(lower, strings.ToLower(trig)) {
				return c
			}
		}
	}
	return nil
}

func authStatusCommand() *Command {
	return &Command{
		Name:        "auth_status",
		Description: "Report login sessions per provider",
		Triggers:    []string{"auth status", "login status"},
		Execute: func(ctx Context, _ map[string]string) Result {
			if ctx.Sessions == nil {
				return Result{Success: false, Output: "no session store available"}
			}
			sessions := ctx.Sessions.List()
			if len(sessions) == 0 {
				return Result{Success: true, Output: "no auth sessions"}
			}
			var sb strings.Builder
			for _, s := range sessions {
				fmt.Fprintf(&sb, "%s: %s (%s)\n", s.Provider, s.Status, s.Method)
			}
			return Result{Success: true, Output: strings.TrimRight(sb.String(), "\n")}
		},
	}
}

func switchModelCommand() *Command {
	return &Command{
		Name:        "switch_model",
		Description: "Switch the active provider",
		Triggers:    []string{"switch model", "switch provider", "use model"},
		Execute: func(ctx Context, args map[string]string) Result {
			name := args["provider"]
			if name == "" {
				return Result{Success: false, Output: "switch_model requires a provider name"}
			}
			if ctx.Router == nil || ctx.Router.Get(name) == nil {
				return Result{Success: false, Output: "unknown provider: " + name}
			}
			if ctx.Metrics != nil && !ctx.Metrics.IsAvailable(name) {
				return Result{Success: false, Output: "provider unavailable: " + name}
			}
			return Result{
				Success:      true,
				Output:       "switched to " + name,
				StateChanges: []StateChange{SwitchProvider{Provider: name}},
			}
		},
	}
}

func pauseCommand() *Command {
	return &Command{
		Name:        "pause",
		Description: "Pause the current task",
		Triggers:    []string{"pause task", "pause execution"},
		Execute: func(Context, map[string]string) Result {
			return Result{
				Success:            true,
				Output:             "pausing task",
				StateChanges:       []StateChange{Pause{}},
				InterruptExecution: true,
			}
		},
	}
}

func resumeCommand() *Command {
	return &Command{
		Name:        "resume",
		Description: "Resume a paused task",
		Triggers:    []string{"resume task", "resume execution"},
		Execute: func(Context, map[string]string) Result {
			return Result{
				Success:      true,
				Output:       "resuming task",
				StateChanges: []StateChange{Resume{}},
			}
		},
	}
}

func inspectTaskCommand() *Command {
	return &Command{
		Name:        "inspect_task",
		Description: "Show the current task's state",
		Triggers:    []string{"inspect task", "task status"},
		Execute: func(ctx Context, _ map[string]string) Result {
			if ctx.Tasks == nil {
				return Result{Success: false, Output: "no task repository available"}
			}
			task, ok := ctx.Tasks.Get(ctx.TaskID)
			if !ok {
				return Result{Success: false, Output: fmt.Sprintf("task %d not found", ctx.TaskID)}
			}
			return Result{
				Success: true,
				Output: fmt.Sprintf("task %d: %s [%s] steps=%d",
					task.ID, task.Goal, task.Status, len(task.Steps)),
			}
		},
	}
}

func injectContextCommand() *Command {
	return &Command{
		Name:        "inject_context",
		Description: "Inject text into the task's working memory",
		Triggers:    []string{"inject context", "add context"},
		Execute: func(_ Context, args map[string]string) Result {
			text := args["text"]
			if text == "" {
				return Result{Success: false, Output: "inject_context requires text"}
			}
			return Result{
				Success:      true,
				Output:       "context injected",
				StateChanges: []StateChange{InjectContext{Text: text}},
			}
		},
	}
}
