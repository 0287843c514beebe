package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"bumpbot/internal/config"
	"bumpbot/internal/scheduler"
	"bumpbot/internal/storage"
	"bumpbot/pkg/logx"
)

func newCheckCmd(f *rootFlags) *cobra.Command {
	var history int
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the config and print the resolved run plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := config.LoadEnvFiles(f.envFile); err != nil {
				return err
			}
			cfg, err := config.NewConfigManager(f.config).Parse()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			s, err := config.Normalize(cfg, os.Getenv)
			if err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if err := scheduler.ValidateAccounts(s.Accounts, s.Loop.Delay); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			out := cmd.OutOrStdout()
			printPlan(out, f.config, cfg, s)
			if history <= 0 {
				return nil
			}
			return printHistory(cmd, out, s, history)
		},
	}
	cmd.Flags().IntVar(&history, "history", 0, "also print the N most recent run records")
	return cmd
}

func printPlan(w io.Writer, path string, cfg *config.Config, s *config.Settings) {
	fmt.Fprintf(w, "config: %s (ok)\n", path)
	for _, warn := range cfg.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	fmt.Fprintf(w, "policy: %s (delay %s, jitter %s, max_cycles %d, max_runs %d)\n",
		scheduler.PolicyFor(s.Loop), config.FormatDelay(s.Loop.Delay), config.FormatDelay(s.Loop.JitterMax),
		s.Loop.MaxCycles, s.Loop.MaxRuns)
	fmt.Fprintf(w, "accounts: %d\n", len(s.Accounts))
	for i, a := range s.Accounts {
		cd, _ := scheduler.ParseCooldown(a.Cooldown, s.Loop.Delay)
		jm := s.Loop.JitterMax
		if a.JitterMax != nil {
			jm = *a.JitterMax
		}
		login := "manual"
		if a.HasCredentials() {
			login = "credentials"
		}
		fmt.Fprintf(w, "  %d. %s  cooldown=%s jitter=%s login=%s reuse=%t close=%t security=%t headless=%t\n",
			i+1, a.SessionName, cd, config.FormatDelay(jm), login,
			a.ReuseBrowser, a.CloseOnFinish(), a.EnableSecurityAction, a.Headless)
	}
	var channels []string
	if s.Notifier.WebhookURL != "" {
		channels = append(channels, "webhook")
	}
	if s.Notifier.TelegramToken != "" {
		channels = append(channels, "telegram")
	}
	fmt.Fprintf(w, "notifier: enabled=%t channels=%s\n", s.Notifier.Enabled, orNone(strings.Join(channels, ",")))
	fmt.Fprintf(w, "storage: %s %s\n", s.Storage.Driver, s.Storage.Path)
}

func printHistory(cmd *cobra.Command, w io.Writer, s *config.Settings, n int) error {
	st, err := storage.Open(storage.Config{Driver: s.Storage.Driver, Path: s.Storage.Path, BusyTimeout: s.Storage.BusyTimeout}, logx.Nop())
	if err != nil {
		return err
	}
	if st == nil {
		fmt.Fprintln(w, "history: storage disabled")
		return nil
	}
	defer st.Close()
	recs, err := st.RecentRuns(cmd.Context(), n)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "history: %d run(s)\n", len(recs))
	for _, r := range recs {
		status := "ok"
		if !r.Success {
			status = "FAIL " + r.Kind
		}
		line := fmt.Sprintf("  %s  %-12s cycle=%d attempts=%d took=%s %s",
			r.StartedAt.Local().Format(time.DateTime), r.Session, r.Cycle, r.Attempts,
			config.FormatDelay(time.Duration(r.TookMS)*time.Millisecond), status)
		if r.Error != "" {
			line += "  " + r.Error
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
