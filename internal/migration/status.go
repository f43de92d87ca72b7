package migration

import "context"

// StatusReport describes the migration state of a keyspace without changing it.
type StatusReport struct {
	Applied []HistoryRecord // Recorded scripts in version order
	Pending []Script        // Scripts that the next run would apply, in order
	Drift   []*DriftError   // Recorded scripts that are missing or modified
}

// CurrentVersion returns the highest applied version and whether any script
// has been applied.
func (r *StatusReport) CurrentVersion() (int, bool) {
	if len(r.Applied) == 0 {
		return 0, false
	}
	return r.Applied[len(r.Applied)-1].Version, true
}

// UpToDate reports whether a run would neither fail on drift nor apply anything.
func (r *StatusReport) UpToDate() bool {
	return len(r.Pending) == 0 && len(r.Drift) == 0
}

// Status compares scripts against the history table. It never creates the
// history keyspace or table; when they do not exist every script is pending.
func Status(ctx context.Context, session Session, scripts []Script, cfg RunConfig) (*StatusReport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sorted, err := sortScripts(scripts)
	if err != nil {
		return nil, err
	}

	history := NewHistoryStore(session, cfg.HistoryKeyspace, cfg.HistoryTable)
	exists, err := history.Exists(ctx)
	if err != nil {
		return nil, newMigrateError(ErrBootstrap, err)
	}

	var records []HistoryRecord
	if exists {
		records, err = history.Load(ctx)
		if err != nil {
			return nil, newMigrateError(ErrBootstrap, err)
		}
	}

	return &StatusReport{
		Applied: records,
		Pending: pendingScripts(records, sorted),
		Drift:   detectDrift(records, sorted),
	}, nil
}
