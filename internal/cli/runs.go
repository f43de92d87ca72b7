package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/cquill/internal/journal"
	"github.com/example/cquill/internal/keyspace"
)

// RunInfo is the JSON shape of a journal run.
type RunInfo struct {
	ID            string    `json:"id"`
	Command       string    `json:"command"`
	Keyspace      string    `json:"keyspace"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Applied       []int     `json:"applied"`
	FailedVersion *int      `json:"failed_version,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:           "runs",
		Short:         "List recent migrate runs from the local journal",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(cmd, rootOpts, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of runs to show")

	return cmd
}

func runRuns(cmd *cobra.Command, opts *RootOptions, limit int) error {
	formatter := newFormatter(cmd, opts)

	if limit < 0 {
		return formatter.Fail("invalid flag", &keyspace.ConfigError{Msg: fmt.Sprintf("limit %d must not be negative", limit)}, nil)
	}

	// runs reads the journal only, so cluster settings are not validated.
	cfg, err := layerConfig(cmd, opts)
	if err != nil {
		return formatter.Fail("invalid configuration", err, nil)
	}

	runs, err := openJournal(cmd.Context(), cfg, opts)
	if err != nil {
		return formatter.Fail("cannot open run journal", err, nil)
	}
	if runs == nil {
		return formatter.Fail("run journal is disabled", &keyspace.ConfigError{Msg: "no journal path configured"}, nil)
	}
	defer runs.Close()

	recent, err := runs.Recent(cmd.Context(), limit)
	if err != nil {
		return formatter.Fail("cannot read run journal", err, nil)
	}
	return outputRuns(formatter, runInfos(recent))
}

func runInfos(runs []journal.Run) []RunInfo {
	out := make([]RunInfo, len(runs))
	for i, r := range runs {
		out[i] = RunInfo{
			ID:            r.ID.String(),
			Command:       r.Command,
			Keyspace:      r.ApplyKeyspace,
			StartedAt:     r.StartedAt,
			FinishedAt:    r.FinishedAt,
			Applied:       r.Applied,
			FailedVersion: r.FailedVersion,
			Error:         r.Error,
		}
	}
	return out
}

func outputRuns(formatter *OutputFormatter, runs []RunInfo) error {
	if formatter.Format == "json" {
		return formatter.Success(runs)
	}
	if len(runs) == 0 {
		return formatter.Success("No runs recorded")
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tKEYSPACE\tAPPLIED\tRESULT")
	for _, r := range runs {
		result := "ok"
		if r.Error != "" {
			result = "failed"
			if r.FailedVersion != nil {
				result = fmt.Sprintf("failed at v%d", *r.FailedVersion)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.StartedAt.Format(time.RFC3339), r.Keyspace, formatVersions(r.Applied), result)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return formatter.Success(strings.TrimRight(b.String(), "\n"))
}

func formatVersions(versions []int) string {
	if len(versions) == 0 {
		return "-"
	}
	parts := make([]string, len(versions))
	for i, v := range versions {
		parts[i] = fmt.Sprintf("v%d", v)
	}
	return strings.Join(parts, ",")
}
