// Package cli implements the finsync command line.
package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dvloznov/finance-sync/internal/config"
	"github.com/dvloznov/finance-sync/internal/cursor"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/service"
)

// RootOptions holds global flags and the configuration resolved from them.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"

	viper  *viper.Viper
	Config *config.Config
	Log    zerolog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the finsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{viper: config.New()}

	cmd := &cobra.Command{
		Use:   "finsync",
		Short: "Sync bank transactions into a spreadsheet-like store",
		Long: `finsync drains transaction changefeeds from Plaid or SaltEdge and
reconciles them into a tabular store keyed by transaction id.

Settings come from --config (YAML), FINSYNC_* environment variables and
flags, in increasing precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.String("integration", "", "aggregator: plaid|saltedge (default plaid)")
	pf.StringP("environment", "e", "", "aggregator environment (default sandbox)")
	pf.String("kv-backend", "", "credential and cursor store: memory|sqlite|gcs")
	pf.String("kv-sqlite-path", "", "SQLite file for the key-value store")
	pf.String("kv-gcs-bucket", "", "gs://bucket/prefix for the key-value store")
	pf.String("store-backend", "", "transaction store: memory|sqlite|bigquery")
	pf.String("store-name", "", "sheet name inside the transaction store")
	pf.String("store-sqlite-path", "", "SQLite file for the transaction store")
	pf.String("store-bigquery-project", "", "GCP project of the BigQuery store")
	pf.String("store-bigquery-dataset", "", "BigQuery dataset of the store")
	pf.String("plaid-base-url", "", "override the Plaid API root")
	pf.String("saltedge-base-url", "", "override the SaltEdge API root")
	pf.Bool("sync-upsert-added", false, "update rows whose id already exists instead of appending")
	pf.Bool("sync-grow-header", false, "append header columns for new fields")
	pf.String("log-level", "", "log level (debug|info|warn|error)")
	pf.Bool("log-json", false, "log JSON lines instead of console output")

	// Add subcommands
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewResetCursorCommand(opts))
	cmd.AddCommand(NewDisconnectCommand(opts))
	cmd.AddCommand(NewCredentialsCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewPurgeCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// load resolves the configuration for the command being run and puts a
// logger in its context.
func (o *RootOptions) load(cmd *cobra.Command) error {
	if !isValidFormat(o.Format) {
		return NewExitError(ExitConfigError, fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}
	if err := config.BindFlags(o.viper, cmd.Flags()); err != nil {
		return WrapExitError(ExitConfigError, "binding flags", err)
	}
	cfg, err := config.Load(o.viper, o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitConfigError, "loading configuration", err)
	}
	o.Config = cfg

	o.Log = logger.NewWithOptions(logger.Options{
		Level: cfg.Log.Level,
		JSON:  cfg.Log.JSON,
		Out:   cmd.ErrOrStderr(),
	})
	cmd.SetContext(logger.WithContext(cmd.Context(), o.Log))
	return nil
}

// open builds the service from the loaded configuration.
func (o *RootOptions) open(cmd *cobra.Command) (*service.Service, error) {
	svc, err := service.Open(cmd.Context(), o.Config)
	if err != nil {
		return nil, WrapExitError(ExitConfigError, "opening backends", err)
	}
	return svc, nil
}

// scope addresses item and account in the configured environment.
func (o *RootOptions) scope(item, account string) cursor.Scope {
	return cursor.Scope{Environment: o.Config.Environment, ItemID: item, AccountID: account}
}

func (o *RootOptions) output(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
