package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/gateway"
	"github.com/droverhq/drover/internal/heartbeat"
	"github.com/droverhq/drover/internal/remote"
	"github.com/droverhq/drover/internal/scheduler"
	"github.com/droverhq/drover/internal/tasks"
)

// NewGatewayCommand returns the gateway subcommand.
func NewGatewayCommand() *cli.Command {
	return &cli.Command{
		Name:  "gateway",
		Usage: "Start the drover gateway: HTTP API, node hub, scheduler, worker pool",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runGateway,
	}
}

func runGateway(ctx context.Context, cmd *cli.Command) error {
	eng, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	host := eng.cfg.Gateway.Host
	port := eng.cfg.Gateway.Port
	if cmd.IsSet("host") {
		host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		port = cmd.Int("port")
	}

	server := gateway.NewServer(gateway.Deps{
		Repo:       eng.repo,
		Nodes:      eng.nodes,
		Bus:        eng.bus,
		Supervisor: eng.supervisor,
	}, host, port)

	// Delegated tasks go out through the websocket hub.
	eng.supervisor.SetRemoteExec(func(ctx context.Context, nodeID string, task *tasks.Task) error {
		_, err := server.Hub().AssignTask(ctx, nodeID, task.ID, task.Goal)
		return err
	})

	if err := eng.supervisor.Start(); err != nil {
		return err
	}
	defer eng.supervisor.Shutdown()

	// Heartbeat file marks this gateway process alive for status checks.
	// Each beat also sweeps nodes that stopped heartbeating.
	hb := heartbeat.NewWriter(filepath.Join(config.DataPath(), "heartbeat.json"), eng.cfg.Remote.NodeName)
	hb.OnBeat = func() {
		cutoff := time.Now().Add(-2 * heartbeat.DefaultInterval).Unix()
		for _, n := range eng.nodes.List() {
			if n.Status == remote.StatusOnline && n.LastHeartbeat < cutoff {
				if err := eng.nodes.UpdateStatus(n.NodeID, remote.StatusOffline); err != nil {
					slog.Warn("node sweep failed", "node", n.NodeID, "error", err)
				}
			}
		}
	}
	hb.Start()
	defer hb.Stop()

	// Scheduled goals feed straight into the supervisor queue.
	store, err := scheduler.OpenStore(filepath.Join(config.DataPath(), "schedules.json"))
	if err != nil {
		return fmt.Errorf("open schedules: %w", err)
	}
	sched := scheduler.New(store, func(goal string, priority int) error {
		t, err := eng.repo.Create(goal)
		if err != nil {
			return err
		}
		if priority != 0 {
			t.Priority = priority
			if err := eng.repo.Update(t); err != nil {
				return err
			}
		}
		eng.supervisor.Enqueue(t)
		return nil
	}, eng.bus)
	go sched.Run(ctx)

	// SIGHUP re-reads .env and the config file in place.
	reloader := config.NewReloader(cmd.String("config"), config.DotenvPath(), eng.cfg)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			if err := reloader.Reload(); err != nil {
				slog.Warn("config reload failed", "error", err)
			}
		}
	}()

	slog.Info("gateway listening", "host", host, "port", port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
