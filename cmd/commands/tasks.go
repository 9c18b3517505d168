package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/heartbeat"
	"github.com/droverhq/drover/internal/storage"
	"github.com/droverhq/drover/internal/tasks"
)

// NewAddCommand returns the add subcommand.
func NewAddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Create a new task",
		ArgsUsage: "<goal>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "priority",
				Aliases: []string{"p"},
				Usage:   "Queue priority (higher runs first)",
			},
		},
		Action: runAdd,
	}
}

func runAdd(_ context.Context, cmd *cli.Command) error {
	goal := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if goal == "" {
		return fmt.Errorf("usage: drover add <goal>")
	}

	repo, err := openRepo()
	if err != nil {
		return err
	}
	t, err := repo.Create(goal)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	if p := cmd.Int("priority"); p != 0 {
		t.Priority = p
		if err := repo.Update(t); err != nil {
			return fmt.Errorf("set priority: %w", err)
		}
	}

	fmt.Printf("Created task %d: %s\n", t.ID, t.Goal)
	return nil
}

// NewListCommand returns the list subcommand.
func NewListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List tasks",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "status",
				Usage: "Filter by status (pending, running, paused, done, error)",
			},
		},
		Action: runList,
	}
}

func runList(_ context.Context, cmd *cli.Command) error {
	repo, err := openRepo()
	if err != nil {
		return err
	}

	var list []*tasks.Task
	if s := cmd.String("status"); s != "" {
		list = repo.ListByStatus(tasks.Status(s))
	} else {
		list = repo.ListAll()
	}
	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tSTEPS\tGOAL")
	for _, t := range list {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\n",
			t.ID,
			t.Status,
			t.Priority,
			len(t.Steps),
			truncate(t.Goal, 60),
		)
	}
	return w.Flush()
}

// NewRunCommand returns the run subcommand.
func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run pending tasks, or one task with --task",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "task",
				Aliases: []string{"t"},
				Usage:   "Run a single task by id",
			},
		},
		Action: runRun,
	}
}

func runRun(ctx context.Context, cmd *cli.Command) error {
	eng, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.supervisor.Start(); err != nil {
		return err
	}
	defer eng.supervisor.Shutdown()

	if id := int64(cmd.Int("task")); id > 0 {
		return runSingle(ctx, eng, id)
	}

	timeout := eng.cfg.Agent.RunAllTimeout.Duration()
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	report, err := eng.supervisor.RunAllPending(ctx, timeout)
	if err != nil {
		return err
	}

	fmt.Printf("Total:     %d\n", report.Total)
	fmt.Printf("Completed: %d\n", report.Completed)
	fmt.Printf("Failed:    %d\n", report.Failed)
	fmt.Printf("Queued:    %d\n", report.Queued)
	fmt.Printf("Workers:   %d active\n", report.ActiveWorkers)
	if report.Failed > 0 {
		return fmt.Errorf("%d task(s) failed", report.Failed)
	}
	return nil
}

// runSingle enqueues one task and waits for it to reach a terminal status.
func runSingle(ctx context.Context, eng *engine, id int64) error {
	t, ok := eng.repo.Get(id)
	if !ok {
		return fmt.Errorf("task %d not found", id)
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("task %d is already %s", id, t.Status)
	}

	eng.supervisor.Enqueue(t)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cur, ok := eng.repo.Get(id)
			if !ok {
				return fmt.Errorf("task %d disappeared", id)
			}
			switch cur.Status {
			case tasks.StatusDone:
				fmt.Printf("Task %d completed in %d step(s).\n", id, len(cur.Steps))
				return nil
			case tasks.StatusError:
				if n := len(cur.Steps); n > 0 {
					last := cur.Steps[n-1]
					return fmt.Errorf("task %d failed: %s", id, last.Error)
				}
				return fmt.Errorf("task %d failed", id)
			case tasks.StatusPaused:
				fmt.Printf("Task %d paused after %d step(s).\n", id, len(cur.Steps))
				return nil
			}
		}
	}
}

// NewPauseCommand returns the pause subcommand.
func NewPauseCommand() *cli.Command {
	return &cli.Command{
		Name:      "pause",
		Usage:     "Pause a running task",
		ArgsUsage: "<task_id>",
		Action:    runPause,
	}
}

func runPause(_ context.Context, cmd *cli.Command) error {
	id, err := taskIDArg(cmd, "pause")
	if err != nil {
		return err
	}
	repo, err := openRepo()
	if err != nil {
		return err
	}

	t, ok := repo.Get(id)
	if !ok {
		return fmt.Errorf("task %d not found", id)
	}
	if err := t.UpdateStatus(tasks.StatusPaused); err != nil {
		return fmt.Errorf("pause task %d: %w", id, err)
	}
	if err := repo.Update(t); err != nil {
		return err
	}
	fmt.Printf("Task %d paused.\n", id)
	return nil
}

// NewResumeCommand returns the resume subcommand.
func NewResumeCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "Resume a paused task and run it to completion",
		ArgsUsage: "<task_id>",
		Action:    runResume,
	}
}

func runResume(ctx context.Context, cmd *cli.Command) error {
	id, err := taskIDArg(cmd, "resume")
	if err != nil {
		return err
	}

	eng, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	t, ok := eng.repo.Get(id)
	if !ok {
		return fmt.Errorf("task %d not found", id)
	}
	if t.Status != tasks.StatusPaused {
		return fmt.Errorf("task %d is not paused (status %s)", id, t.Status)
	}

	if err := eng.supervisor.Start(); err != nil {
		return err
	}
	defer eng.supervisor.Shutdown()

	return runSingle(ctx, eng, id)
}

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show engine status: tasks, providers, nodes",
		Action: runStatus,
	}
}

func runStatus(_ context.Context, cmd *cli.Command) error {
	eng, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	fmt.Printf("Data: %s\n\n", config.DataPath())

	counts := map[tasks.Status]int{}
	for _, t := range eng.repo.ListAll() {
		counts[t.Status]++
	}
	fmt.Println("Tasks:")
	for _, s := range []tasks.Status{tasks.StatusPending, tasks.StatusRunning, tasks.StatusPaused, tasks.StatusDone, tasks.StatusError} {
		if counts[s] > 0 {
			fmt.Printf("  %-8s %d\n", s, counts[s])
		}
	}
	if len(counts) == 0 {
		fmt.Println("  none")
	}

	fmt.Println("\nProviders:")
	for _, name := range eng.router.Names() {
		marker := " "
		if name == eng.router.Default() {
			marker = "*"
		}
		avail := "available"
		if !eng.metrics.IsAvailable(name) {
			avail = "cooling down"
		}
		fmt.Printf("  %s %-12s health=%.2f %s\n", marker, name, eng.metrics.Health(name), avail)
	}

	nodes := eng.nodes.List()
	fmt.Printf("\nNodes: %d registered\n", len(nodes))
	for _, n := range nodes {
		fmt.Printf("  %-16s %s %v\n", n.NodeID, n.Status, n.Capabilities)
	}

	hbStatus, hb, err := heartbeat.Check(filepath.Join(config.DataPath(), "heartbeat.json"), 2*heartbeat.DefaultInterval)
	if err != nil {
		return err
	}
	if hb != nil {
		fmt.Printf("\nGateway: %s (pid %d, up %s)\n", hbStatus, hb.PID, hb.Uptime)
	} else {
		fmt.Printf("\nGateway: %s\n", hbStatus)
	}
	return nil
}

// NewLogsCommand returns the logs subcommand.
func NewLogsCommand() *cli.Command {
	return &cli.Command{
		Name:      "logs",
		Usage:     "Show a task's step history and logged events",
		ArgsUsage: "<task_id>",
		Action:    runLogs,
	}
}

func runLogs(_ context.Context, cmd *cli.Command) error {
	id, err := taskIDArg(cmd, "logs")
	if err != nil {
		return err
	}
	repo, err := openRepo()
	if err != nil {
		return err
	}

	t, ok := repo.Get(id)
	if !ok {
		return fmt.Errorf("task %d not found", id)
	}

	fmt.Printf("Task %d [%s]: %s\n\n", t.ID, t.Status, t.Goal)
	for _, s := range t.Steps {
		line := s.Result
		if s.Error != "" {
			line = "error: " + s.Error
		}
		fmt.Printf("  %3d %s %-10s %s\n", s.StepID, s.Timestamp.Format("15:04:05"), s.Action, truncate(line, 100))
	}

	evs, err := storage.ReadTaskLog(logDir(), id)
	if err != nil {
		return err
	}
	if len(evs) > 0 {
		fmt.Println("\nEvents:")
		for _, e := range evs {
			fmt.Printf("  %s %-16s %s\n", e.Timestamp.Format("15:04:05"), e.Type, payloadSummary(e.Payload))
		}
	}
	return nil
}

// NewWorkersCommand returns the workers subcommand.
func NewWorkersCommand() *cli.Command {
	return &cli.Command{
		Name:   "workers",
		Usage:  "Show worker pool configuration and live gateway stats",
		Action: runWorkers,
	}
}

func runWorkers(_ context.Context, cmd *cli.Command) error {
	cfg := loadConfig(cmd)

	fmt.Printf("Configured workers: %d\n", cfg.Agent.MaxWorkers)
	fmt.Printf("Step budget:        %d\n", cfg.Agent.MaxSteps)
	if cfg.Agent.Profile != "" {
		fmt.Printf("Profile:            %s\n", cfg.Agent.Profile)
	}

	// Live stats come from a running gateway, if there is one.
	url := fmt.Sprintf("http://%s:%d/api/status", cfg.Gateway.Host, cfg.Gateway.Port)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Println("\nGateway: offline")
		return nil
	}
	defer resp.Body.Close()

	var status struct {
		Queued  int            `json:"queued"`
		Active  int            `json:"active"`
		Workers map[string]any `json:"workers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode gateway status: %w", err)
	}
	fmt.Printf("\nGateway: online\n")
	fmt.Printf("  active tasks: %d\n", status.Active)
	fmt.Printf("  queued tasks: %d\n", status.Queued)
	for id, st := range status.Workers {
		fmt.Printf("  worker %s: %v\n", id, st)
	}
	return nil
}

// NewStreamCommand returns the stream subcommand.
func NewStreamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Follow a task's event log until it finishes",
		ArgsUsage: "<task_id>",
		Action:    runStream,
	}
}

func runStream(ctx context.Context, cmd *cli.Command) error {
	id, err := taskIDArg(cmd, "stream")
	if err != nil {
		return err
	}

	printed := 0
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		evs, err := storage.ReadTaskLog(logDir(), id)
		if err != nil {
			return err
		}
		for _, e := range evs[min(printed, len(evs)):] {
			fmt.Printf("%s %-16s %s\n", e.Timestamp.Format("15:04:05"), e.Type, payloadSummary(e.Payload))
			if e.Type == events.EventTaskCompleted || e.Type == events.EventTaskFailed {
				return nil
			}
		}
		printed = len(evs)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func taskIDArg(cmd *cli.Command, verb string) (int64, error) {
	arg := cmd.Args().First()
	if arg == "" {
		return 0, fmt.Errorf("usage: drover %s <task_id>", verb)
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task id %q", arg)
	}
	return id, nil
}

func logDir() string {
	return filepath.Join(config.DataPath(), "logs")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func payloadSummary(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return truncate(string(data), 80)
}
