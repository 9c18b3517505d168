package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/droverhq/drover/internal/agents"
	"github.com/droverhq/drover/internal/heartbeat"
	"github.com/droverhq/drover/internal/remote"
	"github.com/droverhq/drover/internal/tasks"
)

// NewNodeCommand returns the node subcommand.
func NewNodeCommand() *cli.Command {
	return &cli.Command{
		Name:  "node",
		Usage: "Join a gateway as a remote worker node",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "gateway",
				Usage: "Gateway websocket URL (ws://host:port/ws)",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Node id announced to the gateway",
			},
			&cli.StringSliceFlag{
				Name:  "capability",
				Usage: "Capability to announce (repeatable)",
			},
		},
		Action: runNode,
	}
}

func runNode(ctx context.Context, cmd *cli.Command) error {
	eng, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	url := cmd.String("gateway")
	if url == "" {
		url = eng.cfg.Remote.GatewayURL
	}
	if url == "" {
		url = fmt.Sprintf("ws://%s:%d/ws", eng.cfg.Gateway.Host, eng.cfg.Gateway.Port)
	}

	name := cmd.String("name")
	if name == "" {
		name = eng.cfg.Remote.NodeName
	}
	if name == "" {
		name, _ = os.Hostname()
	}

	caps := cmd.StringSlice("capability")
	if len(caps) == 0 {
		caps = eng.cfg.Remote.Capabilities
	}
	if len(caps) == 0 {
		caps = []string{"general"}
	}

	client, err := remote.Dial(ctx, url, name)
	if err != nil {
		return err
	}
	defer client.Close()

	host, _ := os.Hostname()
	err = client.Send(ctx, remote.Message{
		Type: remote.MsgNodeStatus,
		Payload: map[string]any{
			"status":       string(remote.StatusOnline),
			"host":         host,
			"capabilities": caps,
		},
	})
	if err != nil {
		return fmt.Errorf("announce node: %w", err)
	}
	slog.Info("node connected", "gateway", url, "node", name, "capabilities", caps)

	go func() {
		ticker := time.NewTicker(heartbeat.DefaultInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := client.Heartbeat(ctx); err != nil {
					return
				}
			}
		}
	}()

	worker := agents.NewWorker(0, eng.router, eng.tools, eng.commands, eng.skills, eng.profiles.Get(eng.cfg.Agent.Profile))
	worker.SetMaxSteps(eng.cfg.Agent.MaxSteps)
	worker.SetServices(eng.repo, eng.metrics, eng.sessions)

	for {
		msg, err := client.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("gateway connection lost: %w", err)
		}

		switch msg.Type {
		case remote.MsgTaskAssign:
			goal, _ := msg.Payload["goal"].(string)
			slog.Info("task assigned", "task_id", msg.TaskID, "goal", goal)

			t := &tasks.Task{ID: msg.TaskID, Goal: goal, Status: tasks.StatusRunning}
			res := worker.Execute(ctx, t)

			var reply remote.Message
			if res.Success {
				reply = remote.Message{
					Type:    remote.MsgTaskComplete,
					TaskID:  msg.TaskID,
					Payload: map[string]any{"steps": res.StepsCompleted},
				}
			} else {
				reply = remote.Message{
					Type:   remote.MsgTaskError,
					TaskID: msg.TaskID,
					Error:  res.Err,
				}
			}
			if err := client.Send(ctx, reply); err != nil {
				return fmt.Errorf("report task %d: %w", msg.TaskID, err)
			}

		case remote.MsgShutdown:
			slog.Info("gateway requested shutdown")
			return nil
		}
	}
}
