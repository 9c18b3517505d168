package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/droverhq/drover/internal/agents"
	"github.com/droverhq/drover/internal/auth"
	agentcmd "github.com/droverhq/drover/internal/commands"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/events"
	"github.com/droverhq/drover/internal/metrics"
	"github.com/droverhq/drover/internal/plugins"
	"github.com/droverhq/drover/internal/profiles"
	"github.com/droverhq/drover/internal/providers"
	"github.com/droverhq/drover/internal/remote"
	"github.com/droverhq/drover/internal/router"
	"github.com/droverhq/drover/internal/sandbox"
	"github.com/droverhq/drover/internal/secrets"
	"github.com/droverhq/drover/internal/skills"
	"github.com/droverhq/drover/internal/storage"
	"github.com/droverhq/drover/internal/tasks"
	"github.com/droverhq/drover/internal/tools"
)

// engine bundles the wired-up runtime every heavyweight command needs:
// stores, router, registries, event bus, and the supervisor.
type engine struct {
	cfg        *config.Config
	repo       *tasks.Repository
	metrics    *metrics.Metrics
	accounts   *auth.Manager
	sessions   *auth.Sessions
	router     *router.Router
	tools      *tools.Registry
	commands   *agentcmd.Registry
	skills     *skills.Registry
	plugins    *plugins.Registry
	nodes      *remote.Registry
	profiles   *profiles.Registry
	bus        *events.Bus
	eventLog   *storage.EventLogger
	supervisor *agents.Supervisor
}

// loadConfig applies the debug flag and loads the config file named by the
// --config flag, falling back to defaults when it does not exist.
func loadConfig(cmd *cli.Command) *config.Config {
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		slog.Debug("config not found, using defaults", "path", path, "error", err)
		cfg = config.Default()
	}
	return cfg
}

// openRepo opens just the task repository, for commands that touch nothing
// else.
func openRepo() (*tasks.Repository, error) {
	data := config.DataPath()
	if err := os.MkdirAll(data, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return tasks.NewRepository(filepath.Join(data, "tasks.json"))
}

// openEngine wires the full runtime from config and the data directory.
func openEngine(cmd *cli.Command) (*engine, error) {
	cfg := loadConfig(cmd)

	data := config.DataPath()
	if err := os.MkdirAll(data, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	repo, err := tasks.NewRepository(filepath.Join(data, "tasks.json"))
	if err != nil {
		return nil, fmt.Errorf("open task repository: %w", err)
	}
	m, err := metrics.Open(filepath.Join(data, "model_metrics.json"))
	if err != nil {
		return nil, fmt.Errorf("open metrics: %w", err)
	}
	accounts, err := auth.Open(filepath.Join(data, "accounts.json"), secrets.KeyPath())
	if err != nil {
		return nil, fmt.Errorf("open accounts: %w", err)
	}
	sessions, err := auth.OpenSessions(filepath.Join(data, "auth_sessions.json"))
	if err != nil {
		return nil, fmt.Errorf("open sessions: %w", err)
	}

	rt, err := buildRouter(cfg, m, auth.NewRotator(accounts))
	if err != nil {
		return nil, err
	}

	filter, err := sandbox.NewFilter(cfg.Sandbox.Allowlist, cfg.Sandbox.Denylist, filepath.Join(data, "syscall_log.json"))
	if err != nil {
		return nil, fmt.Errorf("open syscall filter: %w", err)
	}
	sb := sandbox.New()
	if cfg.Sandbox.MaxCPUSeconds > 0 {
		sb.MaxCPUTime = time.Duration(cfg.Sandbox.MaxCPUSeconds) * time.Second
	}
	if cfg.Sandbox.MaxMemoryMB > 0 {
		sb.MaxMemoryMB = cfg.Sandbox.MaxMemoryMB
	}

	toolReg := tools.NewRegistry()
	tools.RegisterDefaults(toolReg, sb, filter)
	cmdReg := agentcmd.NewRegistry()

	skillReg := skills.NewRegistry()
	dirs := cfg.Skills.Dirs
	if len(dirs) == 0 {
		dirs = []string{filepath.Join(config.DroverPath(), "skills")}
	}
	for _, dir := range dirs {
		if err := skillReg.LoadDir(dir); err != nil {
			slog.Warn("skill dir not loaded", "dir", dir, "error", err)
		}
	}

	pluginDir := cfg.Plugins.Dir
	if pluginDir == "" {
		pluginDir = filepath.Join(config.DroverPath(), "plugins")
	}
	plugReg, err := plugins.OpenRegistry(pluginDir)
	if err != nil {
		return nil, fmt.Errorf("open plugins: %w", err)
	}

	nodeReg, err := remote.OpenRegistry(filepath.Join(data, "nodes.json"))
	if err != nil {
		return nil, fmt.Errorf("open node registry: %w", err)
	}
	profReg, err := profiles.OpenRegistry(filepath.Join(data, "profiles.json"))
	if err != nil {
		return nil, fmt.Errorf("open profiles: %w", err)
	}

	bus := events.NewBus(cfg.Events.BufferSize)
	eventLog := storage.NewEventLogger(filepath.Join(data, "logs"), bus)

	sup := agents.NewSupervisor(agents.SupervisorConfig{
		Repo:       repo,
		Router:     rt,
		Tools:      toolReg,
		Commands:   cmdReg,
		Skills:     skillReg,
		Plugins:    plugReg,
		Nodes:      nodeReg,
		Bus:        bus,
		Metrics:    m,
		Sessions:   sessions,
		Profile:    profReg.Get(cfg.Agent.Profile),
		MaxWorkers: cfg.Agent.MaxWorkers,
		MaxSteps:   cfg.Agent.MaxSteps,
	})

	return &engine{
		cfg:        cfg,
		repo:       repo,
		metrics:    m,
		accounts:   accounts,
		sessions:   sessions,
		router:     rt,
		tools:      toolReg,
		commands:   cmdReg,
		skills:     skillReg,
		plugins:    plugReg,
		nodes:      nodeReg,
		profiles:   profReg,
		bus:        bus,
		eventLog:   eventLog,
		supervisor: sup,
	}, nil
}

// Close releases the event pipeline. Stores persist on every write and need
// no teardown.
func (e *engine) Close() {
	e.eventLog.Close()
	e.bus.Close()
}

// buildRouter constructs the model router from the config's provider table,
// or the environment-driven default set when none is configured. The dummy
// provider is always registered as an offline fallback.
func buildRouter(cfg *config.Config, m *metrics.Metrics, rotator *auth.Rotator) (*router.Router, error) {
	if len(cfg.Models.Providers) == 0 {
		return router.NewDefault(m, rotator)
	}

	r := router.New(m, rotator)
	r.Register(providers.NewDummy())
	_ = r.SetDefault("dummy")

	for name, pc := range cfg.Models.Providers {
		var (
			p   providers.Provider
			err error
		)
		switch pc.Driver {
		case "openai":
			p, err = providers.NewOpenAI(pc.Auth.APIKey, pc.Model)
		case "anthropic":
			p, err = providers.NewAnthropic(pc.Auth.APIKey, pc.Model)
		case "dummy", "":
			continue
		default:
			err = fmt.Errorf("unknown driver %q", pc.Driver)
		}
		if err != nil {
			return nil, fmt.Errorf("init provider %s: %w", name, err)
		}
		r.Register(p)
	}

	if cfg.Models.Default != "" {
		if err := r.SetDefault(cfg.Models.Default); err != nil {
			slog.Warn("configured default provider unavailable", "provider", cfg.Models.Default, "error", err)
		}
	}
	return r, nil
}
