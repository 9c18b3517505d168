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
	"github.com/droverhq/drover/internal/plugins"
)

// NewPluginCommand returns the plugin subcommand.
func NewPluginCommand() *cli.Command {
	return &cli.Command{
		Name:  "plugin",
		Usage: "Manage task lifecycle plugins",
		Commands: []*cli.Command{
			{
				Name:      "install",
				Usage:     "Install a plugin from a manifest file or directory",
				ArgsUsage: "<path>",
				Action:    runPluginInstall,
			},
			{
				Name:   "list",
				Usage:  "List installed plugins",
				Action: runPluginList,
			},
			{
				Name:      "remove",
				Usage:     "Remove an installed plugin",
				ArgsUsage: "<name>",
				Action:    runPluginRemove,
			},
			{
				Name:      "enable",
				Usage:     "Enable a plugin",
				ArgsUsage: "<name>",
				Action:    runPluginEnable,
			},
			{
				Name:      "disable",
				Usage:     "Disable a plugin",
				ArgsUsage: "<name>",
				Action:    runPluginDisable,
			},
		},
		DefaultCommand: "list",
	}
}

func openPlugins(cmd *cli.Command) (*plugins.Registry, error) {
	cfg := loadConfig(cmd)
	dir := cfg.Plugins.Dir
	if dir == "" {
		dir = filepath.Join(config.DroverPath(), "plugins")
	}
	return plugins.OpenRegistry(dir)
}

func runPluginInstall(_ context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("usage: drover plugin install <path>")
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		path = filepath.Join(path, "manifest.jsonc")
	}

	m, err := plugins.LoadManifest(path)
	if err != nil {
		return err
	}

	reg, err := openPlugins(cmd)
	if err != nil {
		return err
	}
	if err := reg.Install(m); err != nil {
		return fmt.Errorf("install %s: %w", m.Name, err)
	}
	fmt.Printf("Installed plugin %s %s.\n", m.Name, m.Version)
	return nil
}

func runPluginList(_ context.Context, cmd *cli.Command) error {
	reg, err := openPlugins(cmd)
	if err != nil {
		return err
	}

	list := reg.List()
	if len(list) == 0 {
		fmt.Println("No plugins installed.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tENABLED\tHOOKS\tDESCRIPTION")
	for _, m := range list {
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n",
			m.Name,
			m.Version,
			m.Enabled,
			strings.Join(m.Hooks, ","),
			truncate(m.Description, 50),
		)
	}
	return w.Flush()
}

func runPluginRemove(_ context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("usage: drover plugin remove <name>")
	}

	reg, err := openPlugins(cmd)
	if err != nil {
		return err
	}
	removed, err := reg.Remove(name)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("plugin %s not found", name)
	}
	fmt.Printf("Removed plugin %s.\n", name)
	return nil
}

func runPluginEnable(_ context.Context, cmd *cli.Command) error {
	return setPluginEnabled(cmd, "enable", true)
}

func runPluginDisable(_ context.Context, cmd *cli.Command) error {
	return setPluginEnabled(cmd, "disable", false)
}

func setPluginEnabled(cmd *cli.Command, verb string, enabled bool) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("usage: drover plugin %s <name>", verb)
	}

	reg, err := openPlugins(cmd)
	if err != nil {
		return err
	}
	if err := reg.SetEnabled(name, enabled); err != nil {
		return err
	}
	if enabled {
		fmt.Printf("Enabled plugin %s.\n", name)
	} else {
		fmt.Printf("Disabled plugin %s.\n", name)
	}
	return nil
}
