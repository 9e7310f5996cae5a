// Package main provides the opsdeck binary entry point.
// Opsdeck is a command line companion for the OpsDeck console: it signs
// operators in and out, inspects the stored session, and answers which
// console routes the current session may open.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	opsdeck "github.com/opsdeck/opsdeck-go"
	"github.com/opsdeck/opsdeck-go/config"
)

const (
	Version = "0.1.0"
	appName = "opsdeck"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		demo       bool
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "OpsDeck console session tool",
		Long: `Opsdeck manages an operator session against the OpsDeck console API.

It signs operators in (including MFA challenges), keeps the session in a
credential store so later invocations reuse it, and evaluates which console
routes the session may open.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&demo, "demo", false, "Use a built-in demo backend instead of a console API")

	app := func(cmd *cobra.Command) (*App, error) {
		logger := newLogger(logLevel)
		cfg, err := loadConfig(configPath, logger, demo)
		if err != nil {
			return nil, err
		}
		return newApp(cfg, logger, demo)
	}

	cmd.AddCommand(loginCmd(app))
	cmd.AddCommand(logoutCmd(app))
	cmd.AddCommand(whoamiCmd(app))
	cmd.AddCommand(checkCmd(app))
	cmd.AddCommand(routesCmd(app))
	cmd.AddCommand(passwdCmd(app))
	cmd.AddCommand(configCmd())

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	})

	return cmd
}

type appFunc func(cmd *cobra.Command) (*App, error)

func loginCmd(build appFunc) *cobra.Command {
	var (
		username string
		password string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the console",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := build(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			ctx := cmd.Context()
			if username == "" {
				username = prompt("Username: ")
			}
			if password == "" {
				password = prompt("Password: ")
			}

			res, err := app.client.Login(ctx, username, password)
			if err != nil {
				return loginError(err)
			}

			if res.Status == opsdeck.LoginChallengeRequired {
				code := prompt("Verification code: ")
				if err := app.client.VerifyChallenge(ctx, code); err != nil {
					return loginError(err)
				}
			}

			id := app.client.Identity()
			if id == nil {
				return fmt.Errorf("login did not establish a session")
			}
			fmt.Printf("Logged in as %s (%s)\n", id.Username, id.Role)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Account username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password (prompted when omitted)")
	return cmd
}

func logoutCmd(build appFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and discard the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := build(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			app.client.Logout(cmd.Context())
			fmt.Println("Logged out")
			return nil
		},
	}
}

func whoamiCmd(build appFunc) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity behind the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := build(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			id := app.client.Identity()
			if id == nil {
				return fmt.Errorf("not logged in")
			}

			if remote {
				id, err = app.client.RefreshIdentity(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to refresh identity: %w", err)
				}
			}

			fmt.Printf("User:  %s\n", id.Username)
			if id.DisplayName != "" {
				fmt.Printf("Name:  %s\n", id.DisplayName)
			}
			fmt.Printf("Role:  %s\n", id.Role)
			if names := id.Permissions.Names(); len(names) > 0 {
				fmt.Printf("Grants: %s\n", strings.Join(names, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "Re-fetch the identity from the console instead of the stored copy")
	return cmd
}

func checkCmd(build appFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "check <route>...",
		Short: "Evaluate the navigation gate for one or more routes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := build(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			for _, route := range args {
				printDecision(route, app.client.Guard(route))
			}
			return nil
		},
	}
}

func routesCmd(build appFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List console routes and the gate decision for each",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := build(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			for _, route := range opsdeck.DefaultRoutes() {
				printDecision(route.Name, app.client.Guard(route.Name))
			}
			return nil
		},
	}
}

func passwdCmd(build appFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the password of the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := build(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			next := prompt("New password: ")
			again := prompt("Repeat new password: ")
			if next != again {
				return fmt.Errorf("passwords do not match")
			}

			if err := app.client.ChangePassword(cmd.Context(), next); err != nil {
				return fmt.Errorf("failed to change password: %w", err)
			}
			fmt.Println("Password changed")
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the opsdeck configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default user config file if none exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(slog.Default())
			path, err := loader.EnsureUserConfig()
			if err != nil {
				return err
			}
			fmt.Printf("Config file: %s\n", path)
			return nil
		},
	})

	return cmd
}

func loadConfig(path string, logger *slog.Logger, demo bool) (*config.Config, error) {
	if path != "" {
		cfg, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		if !demo {
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
		}
		return cfg, nil
	}
	if demo {
		return config.DefaultConfig(), nil
	}
	return config.NewLoader(logger).Load()
}

func newLogger(level string) *slog.Logger {
	lv := slog.LevelWarn
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "info":
		lv = slog.LevelInfo
	case "error":
		lv = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
	slog.SetDefault(logger)
	return logger
}

func loginError(err error) error {
	if ra := opsdeck.RetryAfterOf(err); ra > 0 {
		return fmt.Errorf("%w (retry in %s)", err, ra)
	}
	return err
}

func printDecision(route string, d opsdeck.Decision) {
	if d.Allowed() {
		fmt.Printf("%-16s allow\n", route)
		return
	}
	fmt.Printf("%-16s %s -> %s\n", route, d.Action, d.Target)
}

func prompt(label string) string {
	fmt.Print(label)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	return strings.TrimSpace(line)
}
