package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/cquill/internal/cassandra"
	"github.com/example/cquill/internal/journal"
	"github.com/example/cquill/internal/logging"
	"github.com/example/cquill/internal/migration"
)

// ScriptInfo is the JSON shape of a script.
type ScriptInfo struct {
	Version  int    `json:"version"`
	Name     string `json:"name"`
	Checksum string `json:"checksum"`
}

// MigrateResult is the success payload of the migrate command.
type MigrateResult struct {
	RunID    string       `json:"run_id,omitempty"`
	Keyspace string       `json:"keyspace"`
	Applied  []ScriptInfo `json:"applied"`
}

// MigrateFailure is the error detail of a failed migrate command.
type MigrateFailure struct {
	RunID         string `json:"run_id,omitempty"`
	Applied       []int  `json:"applied"`
	FailedVersion *int   `json:"failed_version,omitempty"`
	FailedScript  string `json:"failed_script,omitempty"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending CQL scripts",
		Long: `Apply every CQL script of the script directory that has no record in the
history table, in ascending version order.

The run stops at the first failing script. Scripts applied before the failure
stay recorded, so the next run resumes with the failed script. A recorded
script that was modified or removed stops the run before anything is applied.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, rootOpts)
		},
	}
}

func runMigrate(cmd *cobra.Command, opts *RootOptions) error {
	formatter := newFormatter(cmd, opts)

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return formatter.Fail("invalid configuration", err, nil)
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return formatter.Fail("invalid configuration", err, nil)
	}
	ctx := logging.ContextWithLogger(cmd.Context(), logger)

	runCfg, err := cfg.RunConfig()
	if err != nil {
		return formatter.Fail("invalid configuration", err, nil)
	}

	runs, err := openJournal(ctx, cfg, opts)
	if err != nil {
		return formatter.Fail("cannot open run journal", err, nil)
	}
	var run journal.Run
	if runs != nil {
		defer runs.Close()
		if run, err = runs.Start("migrate", runCfg.ApplyKeyspace); err != nil {
			return formatter.Fail("cannot start run", err, nil)
		}
	}
	runID := ""
	finish := func(applied []migration.Script, runErr error) {
		if runs == nil {
			return
		}
		runID = run.ID.String()
		if _, err := runs.Finish(ctx, run, applied, runErr); err != nil {
			logger.Warn("failed to record run", "run_id", runID, "error", err)
		}
	}

	scripts, err := migration.Discover(runCfg.ScriptDir)
	if err != nil {
		finish(nil, err)
		return formatter.Fail("script discovery failed", err, failureDetails(runID, err))
	}
	formatter.VerboseLog("Found %d script(s) in %s", len(scripts), runCfg.ScriptDir)

	applied, migrateErr := migrate(ctx, cfg.CassandraOptions(), opts, scripts, runCfg)
	finish(applied, migrateErr)

	if migrateErr != nil {
		return formatter.Fail("migration failed", migrateErr, failureDetails(runID, migrateErr))
	}
	return outputMigrateSuccess(formatter, MigrateResult{
		RunID:    runID,
		Keyspace: runCfg.ApplyKeyspace,
		Applied:  scriptInfos(applied),
	})
}

func migrate(ctx context.Context, clusterOpts cassandra.Options, opts *RootOptions, scripts []migration.Script, runCfg migration.RunConfig) ([]migration.Script, error) {
	session, err := opts.Connect(ctx, clusterOpts)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	return migration.Migrate(ctx, session, scripts, runCfg, opts.MigrateOptions...)
}

func failureDetails(runID string, err error) *MigrateFailure {
	details := &MigrateFailure{RunID: runID, Applied: []int{}}
	var migrateErr *migration.MigrateError
	if !errors.As(err, &migrateErr) {
		return details
	}
	details.Applied = migrateErr.AppliedVersions()
	if v, ok := migrateErr.FailedVersion(); ok {
		details.FailedVersion = &v
		details.FailedScript = migrateErr.FailedScript.Name
	}
	return details
}

func outputMigrateSuccess(formatter *OutputFormatter, result MigrateResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	var b strings.Builder
	if len(result.Applied) == 0 {
		fmt.Fprintf(&b, "Keyspace %s is up to date", result.Keyspace)
	} else {
		fmt.Fprintf(&b, "Applied %d script(s) to %s:", len(result.Applied), result.Keyspace)
		for _, s := range result.Applied {
			fmt.Fprintf(&b, "\n  v%d  %s", s.Version, s.Name)
		}
	}
	return formatter.Success(b.String())
}

func scriptInfos(scripts []migration.Script) []ScriptInfo {
	out := make([]ScriptInfo, len(scripts))
	for i, s := range scripts {
		out[i] = ScriptInfo{Version: s.Version, Name: s.Name, Checksum: s.Checksum}
	}
	return out
}
