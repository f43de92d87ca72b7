package migration

import (
	"context"
	"time"

	"github.com/example/cquill/internal/keyspace"
)

// Script is a migration script discovered on disk.
type Script struct {
	Version  int    // Version parsed from the file name; defines application order
	Name     string // File name, e.g. "v002_add_users.cql"
	Path     string // Path to the script file
	Content  string // Full CQL text
	Checksum string // Hex encoded SHA-256 of Content
}

// Statements returns the individual CQL statements of the script.
func (s Script) Statements() []string {
	return SplitStatements(s.Content)
}

// HistoryRecord is one applied script as persisted in the history table.
type HistoryRecord struct {
	Version   int
	Name      string
	Checksum  string
	AppliedAt time.Time
}

// RunConfig holds the per-invocation settings of a migration run.
type RunConfig struct {
	ScriptDir       string
	ApplyKeyspace   string
	HistoryKeyspace keyspace.Config
	HistoryTable    string
}

// Validate checks that every keyspace and table name is usable.
func (c RunConfig) Validate() error {
	if err := keyspace.ValidateName("apply keyspace", c.ApplyKeyspace); err != nil {
		return err
	}
	if err := keyspace.ValidateName("history keyspace", c.HistoryKeyspace.Name); err != nil {
		return err
	}
	return keyspace.ValidateName("history table", c.HistoryTable)
}

// Session is the cluster capability required by the engine.
type Session interface {
	// Execute runs a single CQL statement against keyspace and returns the
	// resulting rows keyed by column name. An empty keyspace runs the
	// statement without a keyspace, so table names must be qualified.
	Execute(ctx context.Context, keyspace, statement string, values ...any) ([]map[string]any, error)

	// Tables lists the table names of keyspace. The error wraps
	// ErrKeyspaceNotFound when the keyspace does not exist.
	Tables(ctx context.Context, keyspace string) ([]string, error)
}
