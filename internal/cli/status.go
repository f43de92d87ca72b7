package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/cquill/internal/logging"
	"github.com/example/cquill/internal/migration"
)

// AppliedInfo is the JSON shape of a history record.
type AppliedInfo struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	AppliedAt time.Time `json:"applied_at"`
}

// DriftInfo is the JSON shape of a drift finding.
type DriftInfo struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
	Missing bool   `json:"missing"`
	Message string `json:"message"`
}

// StatusResult is the success payload of the status command.
type StatusResult struct {
	Keyspace       string        `json:"keyspace"`
	CurrentVersion *int          `json:"current_version,omitempty"`
	UpToDate       bool          `json:"up_to_date"`
	Applied        []AppliedInfo `json:"applied"`
	Pending        []ScriptInfo  `json:"pending"`
	Drift          []DriftInfo   `json:"drift"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied, pending and drifted scripts",
		Long: `Compare the script directory with the history table without changing
anything. The history keyspace and table are not created when missing.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, rootOpts)
		},
	}
}

func runStatus(cmd *cobra.Command, opts *RootOptions) error {
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
	scripts, err := migration.Discover(runCfg.ScriptDir)
	if err != nil {
		return formatter.Fail("script discovery failed", err, nil)
	}

	session, err := opts.Connect(ctx, cfg.CassandraOptions())
	if err != nil {
		return formatter.Fail("cannot connect", err, nil)
	}
	defer session.Close()

	report, err := migration.Status(ctx, session, scripts, runCfg)
	if err != nil {
		return formatter.Fail("status failed", err, nil)
	}
	return outputStatus(formatter, statusResult(runCfg.ApplyKeyspace, report))
}

func statusResult(keyspace string, report *migration.StatusReport) StatusResult {
	result := StatusResult{
		Keyspace: keyspace,
		UpToDate: report.UpToDate(),
		Applied:  make([]AppliedInfo, len(report.Applied)),
		Pending:  scriptInfos(report.Pending),
		Drift:    make([]DriftInfo, len(report.Drift)),
	}
	if v, ok := report.CurrentVersion(); ok {
		result.CurrentVersion = &v
	}
	for i, r := range report.Applied {
		result.Applied[i] = AppliedInfo{Version: r.Version, Name: r.Name, AppliedAt: r.AppliedAt}
	}
	for i, d := range report.Drift {
		result.Drift[i] = DriftInfo{Version: d.Version, Name: d.Name, Missing: d.Missing(), Message: d.Error()}
	}
	return result
}

func outputStatus(formatter *OutputFormatter, result StatusResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Keyspace: %s\n", result.Keyspace)
	if result.CurrentVersion != nil {
		fmt.Fprintf(&b, "Current version: %d\n", *result.CurrentVersion)
	} else {
		b.WriteString("Current version: none\n")
	}
	fmt.Fprintf(&b, "Applied: %d  Pending: %d  Drift: %d", len(result.Applied), len(result.Pending), len(result.Drift))
	for _, p := range result.Pending {
		fmt.Fprintf(&b, "\n  pending  v%d  %s", p.Version, p.Name)
	}
	for _, d := range result.Drift {
		state := "modified"
		if d.Missing {
			state = "missing"
		}
		fmt.Fprintf(&b, "\n  %-8s v%d  %s", state, d.Version, d.Name)
	}
	return formatter.Success(b.String())
}
