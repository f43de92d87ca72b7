// Package cli implements the cquill command line interface.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/cquill/internal/cassandra"
	"github.com/example/cquill/internal/config"
	"github.com/example/cquill/internal/journal"
	"github.com/example/cquill/internal/logging"
	"github.com/example/cquill/internal/migration"
)

// Session is a cluster session owned by a command.
type Session interface {
	migration.Session
	Close()
}

// Connector opens a cluster session.
type Connector func(ctx context.Context, opts cassandra.Options) (Session, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	ConfigFile         string
	Host               string
	Keyspace           string
	ScriptDir          string
	HistoryKeyspace    string
	HistoryReplication string
	HistoryTable       string
	Consistency        string
	Timeout            time.Duration
	JournalPath        string
	LogFormat          string

	// Connect opens the cluster session; tests replace it.
	Connect Connector

	// Environment replaces the process environment when non-nil.
	Environment map[string]string

	// JournalOptions are applied when the journal is opened.
	JournalOptions []journal.Option

	// MigrateOptions are passed to the migration engine.
	MigrateOptions []migration.Option
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the cquill CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithOptions(&RootOptions{})
}

// NewRootCommandWithOptions creates the root command around opts. A nil
// Connect uses the gocql session.
func NewRootCommandWithOptions(opts *RootOptions) *cobra.Command {
	if opts.Connect == nil {
		opts.Connect = connectCassandra
	}

	cmd := &cobra.Command{
		Use:   "cquill",
		Short: "cquill - versioned CQL migrations",
		Long: `cquill applies versioned CQL scripts (v001_name.cql, v002_name.cql, ...)
to a Cassandra keyspace and records every applied script in a history table,
so repeated runs apply only new scripts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output and debug logging")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVarP(&opts.ConfigFile, "config", "c", "", "YAML configuration file")
	flags.StringVar(&opts.Host, "host", "", "Cassandra node address (default $CASSANDRA_NODE or 127.0.0.1:9042)")
	flags.StringVarP(&opts.Keyspace, "keyspace", "k", "", "keyspace the scripts are applied to")
	flags.StringVarP(&opts.ScriptDir, "cql-dir", "d", config.DefaultScriptDir, "directory holding the CQL scripts")
	flags.StringVar(&opts.HistoryKeyspace, "history-keyspace", config.DefaultHistoryKeyspace, "keyspace of the history table")
	flags.StringVar(&opts.HistoryReplication, "history-replication", "", "replication of the history keyspace when it is created")
	flags.StringVar(&opts.HistoryTable, "history-table", config.DefaultHistoryTable, "name of the history table")
	flags.StringVar(&opts.Consistency, "consistency", "", "consistency level (default QUORUM)")
	flags.DurationVar(&opts.Timeout, "timeout", 0, "statement timeout")
	flags.StringVar(&opts.JournalPath, "journal", config.DefaultJournalPath, "SQLite run journal; empty disables it")
	flags.StringVar(&opts.LogFormat, "log-format", "", "log format (text|json)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))
	cmd.AddCommand(NewReplicationCommand(opts))

	return cmd
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

func connectCassandra(ctx context.Context, opts cassandra.Options) (Session, error) {
	session, err := cassandra.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// loadConfig layers explicitly set flags over the file and environment
// configuration and validates the result.
func loadConfig(cmd *cobra.Command, opts *RootOptions) (config.Config, error) {
	cfg, err := layerConfig(cmd, opts)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// layerConfig applies explicitly set flags over the file and environment
// configuration without validating it.
func layerConfig(cmd *cobra.Command, opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		File:        opts.ConfigFile,
		Environment: opts.Environment,
	})
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	apply := func(name string, target *string, value string) {
		if flags.Changed(name) {
			*target = value
		}
	}
	apply("host", &cfg.Host, opts.Host)
	apply("keyspace", &cfg.Keyspace, opts.Keyspace)
	apply("cql-dir", &cfg.ScriptDir, opts.ScriptDir)
	apply("history-keyspace", &cfg.HistoryKeyspace, opts.HistoryKeyspace)
	apply("history-replication", &cfg.HistoryReplication, opts.HistoryReplication)
	apply("history-table", &cfg.HistoryTable, opts.HistoryTable)
	apply("consistency", &cfg.Consistency, opts.Consistency)
	apply("journal", &cfg.JournalPath, opts.JournalPath)
	apply("log-format", &cfg.LogFormat, opts.LogFormat)
	if flags.Changed("timeout") {
		cfg.Timeout = opts.Timeout
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// newLogger builds the command logger writing to stderr.
func newLogger(cmd *cobra.Command, cfg config.Config) (*slog.Logger, error) {
	return logging.New(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// openJournal opens the run journal, or returns nil when it is disabled.
func openJournal(ctx context.Context, cfg config.Config, opts *RootOptions) (*journal.Journal, error) {
	if cfg.JournalPath == "" {
		return nil, nil
	}
	return journal.Open(ctx, journal.DefaultConfig(cfg.JournalPath), opts.JournalOptions...)
}
