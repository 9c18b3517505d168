package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/droverhq/drover/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "drover",
		Usage: "Autonomous task execution engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewAddCommand(),
			NewListCommand(),
			NewRunCommand(),
			NewPauseCommand(),
			NewResumeCommand(),
			NewStatusCommand(),
			NewLogsCommand(),
			NewWorkersCommand(),
			NewStreamCommand(),
			NewAuthCommand(),
			NewPluginCommand(),
			NewIrisNewCommand(),
			NewIrisListCommand(),
			NewIrisRunCommand(),
			NewIrisAttachCommand(),
			NewIrisLogsCommand(),
			NewGatewayCommand(),
			NewNodeCommand(),
			NewScheduleCommand(),
		},
	}
}
