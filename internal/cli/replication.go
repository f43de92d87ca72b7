package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/cquill/internal/keyspace"
)

// ReplicationResult is the success payload of the replication command.
type ReplicationResult struct {
	Class             string           `json:"class"`
	ReplicationFactor *uint8           `json:"replication_factor,omitempty"`
	Datacenters       map[string]uint8 `json:"datacenters,omitempty"`
	Canonical         string           `json:"canonical"`
	CreateStatement   string           `json:"create_statement,omitempty"`
}

// NewReplicationCommand creates the replication command.
func NewReplicationCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replication <text>",
		Short: "Check a keyspace replication object",
		Long: `Parse a keyspace replication object such as

  "{'class': 'NetworkTopologyStrategy', 'dc1': 3, 'dc2': 2}"

and print its canonical form. With --keyspace the CREATE KEYSPACE statement
used for the history keyspace is printed as well. No cluster is contacted.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplication(cmd, rootOpts, args[0])
		},
	}
}

func runReplication(cmd *cobra.Command, opts *RootOptions, text string) error {
	formatter := newFormatter(cmd, opts)

	replication, err := keyspace.ParseReplication(text)
	if err != nil {
		return formatter.Fail("invalid replication", err, nil)
	}

	result := ReplicationResult{
		Class:     replication.Class(),
		Canonical: replication.String(),
	}
	switch r := replication.(type) {
	case keyspace.SimpleStrategy:
		factor := r.Factor
		result.ReplicationFactor = &factor
	case keyspace.NetworkTopologyStrategy:
		result.Datacenters = r.DatacenterFactors
	}

	if opts.Keyspace != "" {
		cfg := keyspace.Config{Name: opts.Keyspace, Replication: replication}
		if err := cfg.Validate(); err != nil {
			return formatter.Fail("invalid keyspace", err, nil)
		}
		result.CreateStatement = cfg.CreateStatement()
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	out := result.Canonical
	if result.CreateStatement != "" {
		out = fmt.Sprintf("%s\n%s", out, result.CreateStatement)
	}
	return formatter.Success(out)
}
