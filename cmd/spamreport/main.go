// spamreport watches a mailbox's spam folder and forwards new junk messages
// to a reporting address, on a fixed schedule, without ever modifying the
// mailbox itself.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/spamreport/agent/pkgs/agent"
	"github.com/spamreport/agent/pkgs/config"
	"github.com/spamreport/agent/pkgs/forward"
	"github.com/spamreport/agent/pkgs/mailbox"
	"github.com/spamreport/agent/pkgs/prompt"
	"github.com/spamreport/agent/pkgs/registry"
	"github.com/spamreport/agent/pkgs/selector"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		simulate   bool
		once       bool
		passPrompt bool
		verbose    bool
	)

	root := &cobra.Command{
		Use:   "spamreport",
		Short: "Unattended spam folder reporting agent",
		Long: "spamreport connects to a mailbox read-only, finds new messages in the\n" +
			"spam folder, downloads them locally and forwards them as attachments to a\n" +
			"reporting address. State between runs lives in small files under the\n" +
			"configured state directory.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			if passPrompt {
				pass, err := readPassword()
				if err != nil {
					return err
				}
				// Injected through the environment so the config layer
				// treats it like any other override.
				os.Setenv("SPAMREPORT_APP_PASSWORD", pass)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("%w\n(run 'spamreport init' to create a config file)", err)
			}
			if cmd.Flags().Changed("simulate") {
				cfg.Simulate = simulate
			}

			return run(cmd.Context(), cfg, logger, once)
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", "spamreport.yaml", "path to the configuration file")
	root.Flags().BoolVar(&simulate, "simulate", true, "perform every step except the final dispatch")
	root.Flags().BoolVar(&once, "once", false, "run a single iteration and exit")
	root.Flags().BoolVar(&passPrompt, "pass-prompt", false, "prompt for the app password instead of reading it from the config")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newInitCmd(&configPath))
	return root
}

func newInitCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a placeholder configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.WriteExample(*configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s. Fill in your account, app password and report address.\n", *configPath)
			return nil
		},
	}
}

func run(parent context.Context, cfg *config.Config, logger *slog.Logger, once bool) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Simulate {
		logger.Info("simulation mode: no report will actually be sent")
	}

	dial := func() (agent.Mailbox, error) {
		return mailbox.Dial(mailbox.Options{
			Host:     cfg.IMAP.Host,
			Port:     cfg.IMAP.Port,
			Username: cfg.Account,
			Password: cfg.AppPassword,
			TLS:      true,
		}, logger)
	}

	prompter := prompt.NewTerminal(os.Stdin, os.Stderr)
	statePath := func(name string) string { return filepath.Join(cfg.StateDirectory, name) }

	confirm := registry.NewMarker(statePath("first_run_confirmed"))
	a := agent.New(cfg, agent.Deps{
		Dial:     dial,
		Selector: selector.New(selector.NewCache(statePath("spam_folder")), cfg.SpamFolder, prompter, logger),
		Registry: registry.New(statePath("reported_uids"), logger),
		Gate:     forward.NewGate(confirm, prompter, cfg.Simulate, logger),
		Dispatcher: forward.NewDispatcher(forward.Options{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.Account,
			Password: cfg.AppPassword,
			StartTLS: true,
		}, cfg.Account, cfg.ReportAddress, cfg.Simulate, logger),
		FirstRun: registry.NewMarker(statePath("first_iteration_done")),
		Logger:   logger,
	})

	return a.Run(ctx, once)
}

func readPassword() (string, error) {
	fmt.Fprint(os.Stderr, "App password: ")
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimSpace(string(pass)), nil
}
