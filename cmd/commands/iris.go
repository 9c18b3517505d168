package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/droverhq/drover/internal/iris"
)

func irisDirFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "dir",
		Aliases: []string{"d"},
		Usage:   "Workspace root",
		Value:   ".",
	}
}

// NewIrisNewCommand returns the iris-new subcommand.
func NewIrisNewCommand() *cli.Command {
	return &cli.Command{
		Name:      "iris-new",
		Usage:     "Create a guided-edit task and initialize the workspace context",
		ArgsUsage: "<goal>",
		Flags:     []cli.Flag{irisDirFlag()},
		Action:    runIrisNew,
	}
}

func runIrisNew(_ context.Context, cmd *cli.Command) error {
	goal := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if goal == "" {
		return fmt.Errorf("usage: drover iris-new <goal>")
	}

	repo, err := openRepo()
	if err != nil {
		return err
	}
	t, err := repo.Create(goal)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	cm, err := iris.NewContextManager(cmd.String("dir"))
	if err != nil {
		return err
	}
	created, err := cm.Initialize(goal)
	if err != nil {
		return err
	}
	if created {
		fmt.Println("Initialized .context for this workspace.")
	}

	fmt.Printf("Created task %d: %s\n", t.ID, t.Goal)
	fmt.Printf("Run it with: drover iris-run %d\n", t.ID)
	return nil
}

// NewIrisListCommand returns the iris-list subcommand.
func NewIrisListCommand() *cli.Command {
	return &cli.Command{
		Name:   "iris-list",
		Usage:  "Show the workspace context: project, current task, read state",
		Flags:  []cli.Flag{irisDirFlag()},
		Action: runIrisList,
	}
}

func runIrisList(_ context.Context, cmd *cli.Command) error {
	cm, err := iris.NewContextManager(cmd.String("dir"))
	if err != nil {
		return err
	}
	pctx, err := cm.LoadContext()
	if err != nil {
		return fmt.Errorf("no context in this workspace (run iris-new first): %w", err)
	}

	fmt.Printf("Project: %s (%s)\n", pctx.Project.Name, pctx.Project.ID)
	fmt.Printf("Updated: %s\n", pctx.Project.LastUpdated)
	fmt.Printf("Policy:  read_before_write=%v trusted=%v\n", pctx.Policy.ReadBeforeWrite, pctx.Policy.TrustedWorkspace)

	if ct := pctx.CurrentTask; ct != nil {
		fmt.Printf("\nCurrent task %d [%s, phase %s]: %s\n", ct.TaskID, ct.Status, ct.LastPhase, ct.Goal)
		fmt.Printf("Files read: %d, planned edits: %d\n", len(ct.FilesRead), len(ct.Plan.IntendedEdits))
		if ct.Summary != "" {
			fmt.Printf("Summary: %s\n", ct.Summary)
		}
	} else {
		fmt.Println("\nNo current task.")
	}
	return nil
}

// NewIrisRunCommand returns the iris-run subcommand.
func NewIrisRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "iris-run",
		Usage:     "Drive a task through READ, PLAN, WRITE, and VERIFY",
		ArgsUsage: "<task_id>",
		Flags: []cli.Flag{
			irisDirFlag(),
			&cli.StringFlag{
				Name:  "suffix",
				Usage: "Primary source suffix",
				Value: ".go",
			},
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Apply edits without confirmation",
			},
		},
		Action: runIrisRun,
	}
}

func runIrisRun(ctx context.Context, cmd *cli.Command) error {
	id, err := taskIDArg(cmd, "iris-run")
	if err != nil {
		return err
	}

	eng, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	loop, err := iris.NewLoop(cmd.String("dir"), eng.repo, eng.router)
	if err != nil {
		return err
	}
	loop.Suffix = cmd.String("suffix")
	if cmd.Bool("yes") {
		loop.Confirm = func(string) bool { return true }
	}

	return loop.Execute(ctx, id)
}

// NewIrisAttachCommand returns the iris-attach subcommand.
func NewIrisAttachCommand() *cli.Command {
	return &cli.Command{
		Name:      "iris-attach",
		Usage:     "Resume a task in an already-initialized workspace",
		ArgsUsage: "<task_id>",
		Flags: []cli.Flag{
			irisDirFlag(),
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Apply edits without confirmation",
			},
		},
		Action: runIrisAttach,
	}
}

func runIrisAttach(ctx context.Context, cmd *cli.Command) error {
	id, err := taskIDArg(cmd, "iris-attach")
	if err != nil {
		return err
	}

	cm, err := iris.NewContextManager(cmd.String("dir"))
	if err != nil {
		return err
	}
	pctx, err := cm.LoadContext()
	if err != nil {
		return fmt.Errorf("no context in this workspace (run iris-new first): %w", err)
	}
	if ct := pctx.CurrentTask; ct != nil && ct.TaskID != id {
		fmt.Printf("Replacing current task %d (%s) with task %d.\n", ct.TaskID, ct.Status, id)
	}

	eng, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	loop, err := iris.NewLoop(cmd.String("dir"), eng.repo, eng.router)
	if err != nil {
		return err
	}
	if cmd.Bool("yes") {
		loop.Confirm = func(string) bool { return true }
	}
	return loop.Execute(ctx, id)
}

// NewIrisLogsCommand returns the iris-logs subcommand.
func NewIrisLogsCommand() *cli.Command {
	return &cli.Command{
		Name:      "iris-logs",
		Usage:     "Show the workspace journal, optionally for one task",
		ArgsUsage: "[task_id]",
		Flags:     []cli.Flag{irisDirFlag()},
		Action:    runIrisLogs,
	}
}

func runIrisLogs(_ context.Context, cmd *cli.Command) error {
	var taskID int64
	if cmd.Args().First() != "" {
		id, err := taskIDArg(cmd, "iris-logs")
		if err != nil {
			return err
		}
		taskID = id
	}

	cm, err := iris.NewContextManager(cmd.String("dir"))
	if err != nil {
		return err
	}
	journal, err := cm.LoadJournal()
	if err != nil {
		return err
	}

	shown := 0
	for _, e := range journal.Entries {
		if taskID != 0 && e.TaskID != taskID {
			continue
		}
		shown++
		fmt.Printf("%s [%s] task=%d %s\n", e.TS, e.Phase, e.TaskID, e.Desc)
	}
	if shown == 0 {
		fmt.Println("No journal entries.")
	}
	return nil
}
