package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/droverhq/drover/internal/auth"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/secrets"
)

// NewAuthCommand returns the auth subcommand.
func NewAuthCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage provider logins and account rotation",
		Commands: []*cli.Command{
			{
				Name:      "login",
				Usage:     "Record a provider login session",
				ArgsUsage: "<provider>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "method",
						Usage: "Auth method: api_key or login",
						Value: "api_key",
					},
					&cli.StringFlag{
						Name:  "key",
						Usage: "API key to store in the .env file",
					},
				},
				Action: runAuthLogin,
			},
			{
				Name:   "status",
				Usage:  "Show login sessions",
				Action: runAuthStatus,
			},
			{
				Name:      "logout",
				Usage:     "Drop a provider login session",
				ArgsUsage: "<provider>",
				Action:    runAuthLogout,
			},
			{
				Name:  "add-account",
				Usage: "Register an account for rotation",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "provider", Usage: "Provider name", Required: true},
					&cli.StringFlag{Name: "account", Usage: "Account id", Required: true},
					&cli.StringFlag{Name: "key", Usage: "API key or token", Required: true},
					&cli.IntFlag{Name: "priority", Usage: "Rotation priority (higher first)", Value: 1},
				},
				Action: runAuthAddAccount,
			},
			{
				Name:   "list",
				Usage:  "List registered accounts",
				Action: runAuthList,
			},
			{
				Name:      "rotate",
				Usage:     "Show which account the rotator would pick next",
				ArgsUsage: "<provider>",
				Action:    runAuthRotate,
			},
		},
		DefaultCommand: "status",
	}
}

func openSessions() (*auth.Sessions, error) {
	return auth.OpenSessions(filepath.Join(config.DataPath(), "auth_sessions.json"))
}

func openAccounts() (*auth.Manager, error) {
	return auth.Open(filepath.Join(config.DataPath(), "accounts.json"), secrets.KeyPath())
}

func runAuthLogin(_ context.Context, cmd *cli.Command) error {
	provider := cmd.Args().First()
	if provider == "" {
		return fmt.Errorf("usage: drover auth login <provider>")
	}

	if key := cmd.String("key"); key != "" {
		envVar := strings.ToUpper(provider) + "_API_KEY"
		if err := secrets.SetEntry(config.DotenvPath(), envVar, key); err != nil {
			return fmt.Errorf("store key: %w", err)
		}
		fmt.Printf("Stored %s in %s.\n", envVar, config.DotenvPath())
	}

	sessions, err := openSessions()
	if err != nil {
		return err
	}
	if err := sessions.Login(provider, cmd.String("method")); err != nil {
		return fmt.Errorf("login %s: %w", provider, err)
	}
	fmt.Printf("Logged in to %s (%s).\n", provider, cmd.String("method"))
	return nil
}

func runAuthStatus(_ context.Context, _ *cli.Command) error {
	sessions, err := openSessions()
	if err != nil {
		return err
	}

	list := sessions.List()
	if len(list) == 0 {
		fmt.Println("No login sessions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tSTATUS\tMETHOD\tSINCE")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			s.Provider,
			s.Status,
			s.Method,
			time.Unix(s.CreatedAt, 0).Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func runAuthLogout(_ context.Context, cmd *cli.Command) error {
	provider := cmd.Args().First()
	if provider == "" {
		return fmt.Errorf("usage: drover auth logout <provider>")
	}

	sessions, err := openSessions()
	if err != nil {
		return err
	}
	if err := sessions.Logout(provider); err != nil {
		return fmt.Errorf("logout %s: %w", provider, err)
	}
	fmt.Printf("Logged out of %s.\n", provider)
	return nil
}

func runAuthAddAccount(_ context.Context, cmd *cli.Command) error {
	accounts, err := openAccounts()
	if err != nil {
		return err
	}

	acc, err := accounts.AddAccount(
		cmd.String("provider"),
		cmd.String("account"),
		cmd.String("key"),
		cmd.Int("priority"),
	)
	if err != nil {
		return fmt.Errorf("add account: %w", err)
	}
	fmt.Printf("Added account %s for %s (priority %d).\n", acc.AccountID, acc.Provider, acc.Priority)
	return nil
}

func runAuthList(_ context.Context, _ *cli.Command) error {
	accounts, err := openAccounts()
	if err != nil {
		return err
	}

	providers := accounts.Providers()
	if len(providers) == 0 {
		fmt.Println("No accounts registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tACCOUNT\tPRIORITY\tUSES\tSTATE")
	for _, p := range providers {
		for _, acc := range accounts.List(p) {
			state := "available"
			if until := time.Unix(acc.CooldownUntil, 0); acc.CooldownUntil > 0 && time.Now().Before(until) {
				state = "cooldown until " + until.Format("15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", acc.Provider, acc.AccountID, acc.Priority, acc.UseCount, state)
		}
	}
	return w.Flush()
}

func runAuthRotate(_ context.Context, cmd *cli.Command) error {
	provider := cmd.Args().First()
	if provider == "" {
		return fmt.Errorf("usage: drover auth rotate <provider>")
	}

	accounts, err := openAccounts()
	if err != nil {
		return err
	}
	acc, _, err := auth.NewRotator(accounts).SelectAccount(provider)
	if err != nil {
		return err
	}
	fmt.Printf("Next account for %s: %s (priority %d, %d uses)\n", provider, acc.AccountID, acc.Priority, acc.UseCount)
	return nil
}
