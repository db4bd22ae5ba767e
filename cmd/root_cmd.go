// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xataio/searchsync/cmd/config"
	"github.com/xataio/searchsync/pkg/otel"
)

// Version is the searchsync version
var (
	Version = "development"
	Env     string
)

func Prepare() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "searchsync",
		Short:        "Keeps search indexes in sync with Postgres and queries them through one API",
		SilenceUsage: true,
		Version:      version(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(); err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			return nil
		},
	}

	viper.SetEnvPrefix("SEARCHSYNC")
	viper.AutomaticEnv()

	// Flag definition

	// root cmd
	rootCmd.PersistentFlags().StringP("config", "c", "", ".yaml config file to use with searchsync")
	rootCmd.PersistentFlags().String("log-level", "info", "log level for the application. One of trace, debug, info, warn, error, fatal, panic")
	rootCmd.PersistentFlags().String("log-format", "console", "log format for the application. One of console, json")

	// search cmd
	searchCmd.Flags().String("options", "", "Search options as a JSON object, e.g. '{\"perPage\": 5, \"filters\": {\"category\": [\"news\"]}}'")
	searchCmd.Flags().Bool("autocomplete", false, "Run an autocomplete query, returning the role fields of the top hits only")

	// sync cmd
	syncRefreshCmd.Flags().Bool("dry-run", false, "Rebuild the indexes into in-memory engines without contacting any backend")
	syncRefreshCmd.Flags().Bool("force", false, "Drop the swap counter left behind by an interrupted refresh")
	syncDocumentCmd.Flags().Bool("delete", false, "Remove the document from the index instead of syncing it")
	syncCmd.AddCommand(syncRefreshCmd)
	syncCmd.AddCommand(syncOrphansCmd)
	syncCmd.AddCommand(syncDocumentCmd)

	// status cmd
	statusCmd.Flags().Bool("json", false, "Output the status in JSON format")

	// schema cmd
	schemaCmd.Flags().Bool("live", false, "Fetch the schema of the existing backend index instead of building it from the configuration")

	// Flag binding for root cmd
	rootFlagBinding(rootCmd)

	// register subcommands
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(schemaCmd)
	return rootCmd
}

// Execute executes the root command.
func Execute() error {
	cmd := Prepare()
	return cmd.Execute()
}

func withSignalWatcher(fn func(ctx context.Context, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(),
			syscall.SIGHUP,
			syscall.SIGINT,
			syscall.SIGTERM,
			syscall.SIGQUIT)
		defer cancel()
		return fn(ctx, cmd, args)
	}
}

func rootFlagBinding(cmd *cobra.Command) {
	viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("LOG_LEVEL", cmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("LOG_FORMAT", cmd.PersistentFlags().Lookup("log-format"))
}

func version() string {
	if Env != "" {
		return Env + " (" + Version + ")"
	}
	return Version
}

func newInstrumentationProvider(cfg *otel.Config) (otel.InstrumentationProvider, error) {
	if cfg != nil && cfg.ServiceVersion == "" {
		cfg.ServiceVersion = Version
	}
	p, err := otel.NewInstrumentationProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialising instrumentation provider: %w", err)
	}
	return p, nil
}
