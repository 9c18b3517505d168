package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/scheduler"
)

// NewScheduleCommand returns the schedule subcommand.
func NewScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Manage recurring goal submissions",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Schedule a goal by cron expression or interval",
				ArgsUsage: "<goal>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "cron",
						Usage: "Five-field cron expression",
					},
					&cli.IntFlag{
						Name:  "every",
						Usage: "Interval in seconds",
					},
					&cli.IntFlag{
						Name:    "priority",
						Aliases: []string{"p"},
						Usage:   "Queue priority for submitted tasks",
					},
					&cli.IntFlag{
						Name:  "max-runs",
						Usage: "Stop after this many runs (0 = unlimited)",
					},
				},
				Action: runScheduleAdd,
			},
			{
				Name:   "list",
				Usage:  "List schedule entries",
				Action: runScheduleList,
			},
			{
				Name:      "remove",
				Usage:     "Remove a schedule entry",
				ArgsUsage: "<id>",
				Action:    runScheduleRemove,
			},
		},
		DefaultCommand: "list",
	}
}

func openScheduleStore() (*scheduler.Store, error) {
	return scheduler.OpenStore(filepath.Join(config.DataPath(), "schedules.json"))
}

func runScheduleAdd(_ context.Context, cmd *cli.Command) error {
	goal := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if goal == "" {
		return fmt.Errorf("usage: drover schedule add <goal> [--cron EXPR | --every SECONDS]")
	}

	store, err := openScheduleStore()
	if err != nil {
		return err
	}

	e := scheduler.NewEntry(goal, cmd.String("cron"), cmd.Int("every"))
	e.Priority = cmd.Int("priority")
	e.MaxRuns = cmd.Int("max-runs")
	if err := store.Add(e); err != nil {
		return err
	}

	fmt.Printf("Scheduled %s: %s\n", e.ID, e.Goal)
	return nil
}

func runScheduleList(_ context.Context, _ *cli.Command) error {
	store, err := openScheduleStore()
	if err != nil {
		return err
	}

	list := store.List()
	if len(list) == 0 {
		fmt.Println("No schedules.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWHEN\tRUNS\tLAST\tENABLED\tGOAL")
	for _, e := range list {
		when := e.Cron
		if when == "" {
			when = fmt.Sprintf("every %ds", e.IntervalSec)
		}
		last := "-"
		if !e.LastRun.IsZero() {
			last = e.LastRun.Format("01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%v\t%s\n",
			e.ID, when, e.RunCount, last, e.Enabled, truncate(e.Goal, 50))
	}
	return w.Flush()
}

func runScheduleRemove(_ context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: drover schedule remove <id>")
	}

	store, err := openScheduleStore()
	if err != nil {
		return err
	}
	removed, err := store.Remove(id)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("schedule %s not found", id)
	}
	fmt.Printf("Removed schedule %s.\n", id)
	return nil
}
