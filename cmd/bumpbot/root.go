package main

import "github.com/spf13/cobra"

type rootFlags struct {
	config  string
	envFile string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:           "bumpbot",
		Short:         "Run scheduled chat-channel bumps across several accounts",
		Long:          "bumpbot signs in to a chat web UI with one browser profile per account, sends the configured slash command twice per run, and repeats on a schedule.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&f.config, "config", "c", "./config.json", "path to the config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&f.envFile, "env", ".env", "KEY=VALUE file loaded before the config (missing is fine)")

	run := newRunCmd(f)
	rootCmd.RunE = run.RunE
	rootCmd.AddCommand(run, newCheckCmd(f))
	return rootCmd
}
