package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/example/cquill/internal/logging"
)

// Option configures a migration run.
type Option func(*engine)

// WithLogger sets the logger used for progress messages. Without it the
// logger attached to the context is used, falling back to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(e *engine) {
		e.logger = logger
	}
}

// WithClock overrides the time source for applied_at timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *engine) {
		e.now = now
	}
}

type engine struct {
	session Session
	config  RunConfig
	history *HistoryStore
	logger  *slog.Logger
	now     func() time.Time
}

func newEngine(ctx context.Context, session Session, cfg RunConfig, opts []Option) *engine {
	e := &engine{
		session: session,
		config:  cfg,
		history: NewHistoryStore(session, cfg.HistoryKeyspace, cfg.HistoryTable),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.FromContext(ctx)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Migrate ensures the history keyspace and table exist and then applies every
// pending script with Perform. scripts are usually the result of Discover.
func Migrate(ctx context.Context, session Session, scripts []Script, cfg RunConfig, opts ...Option) ([]Script, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := newEngine(ctx, session, cfg, opts)

	e.logger.Debug("ensuring history table",
		"keyspace", cfg.HistoryKeyspace.Name,
		"table", cfg.HistoryTable)
	if err := e.history.Ensure(ctx); err != nil {
		e.logger.Error("history bootstrap failed", "error", err)
		return nil, err
	}
	return e.perform(ctx, scripts)
}

// Perform applies every script without a history record, in ascending version
// order, against the apply keyspace. It returns the scripts applied by this
// call; an empty result means the keyspace is up to date.
//
// Before applying anything, every history record must match a script with the
// same version and checksum, otherwise a *MigrateError of kind ErrDrift is
// returned and nothing is applied. A script is recorded only after all of its
// statements succeed. The first failure stops the run with a *MigrateError of
// kind ErrApply.
func Perform(ctx context.Context, session Session, scripts []Script, cfg RunConfig, opts ...Option) ([]Script, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newEngine(ctx, session, cfg, opts).perform(ctx, scripts)
}

func (e *engine) perform(ctx context.Context, scripts []Script) ([]Script, error) {
	startTime := time.Now()

	scripts, err := sortScripts(scripts)
	if err != nil {
		return nil, err
	}

	records, err := e.history.Load(ctx)
	if err != nil {
		e.logger.Error("failed to load history", "error", err)
		return nil, newMigrateError(ErrBootstrap, err)
	}
	e.logger.Info("loaded history",
		"applied", len(records),
		"discovered", len(scripts))

	if drift := detectDrift(records, scripts); len(drift) > 0 {
		for _, d := range drift {
			e.logger.Error("applied script drift", "version", d.Version, "script", d.Name, "error", d)
		}
		return nil, newMigrateError(ErrDrift, joinDrift(drift))
	}

	pending := pendingScripts(records, scripts)
	if len(pending) == 0 {
		e.logger.Info("schema is up to date", "keyspace", e.config.ApplyKeyspace)
		return []Script{}, nil
	}
	if len(records) > 0 && pending[0].Version < records[len(records)-1].Version {
		e.logger.Warn("applying script older than the latest applied version",
			"version", pending[0].Version,
			"latest_applied", records[len(records)-1].Version)
	}

	applied := make([]Script, 0, len(pending))
	for i, script := range pending {
		scriptStart := time.Now()
		e.logger.Info("applying script",
			"version", script.Version,
			"script", script.Name,
			"keyspace", e.config.ApplyKeyspace,
			"position", fmt.Sprintf("%d/%d", i+1, len(pending)))

		if err := e.apply(ctx, script); err != nil {
			return nil, e.fail(script, applied, err)
		}

		record := HistoryRecord{
			Version:   script.Version,
			Name:      script.Name,
			Checksum:  script.Checksum,
			AppliedAt: e.now().UTC(),
		}
		if err := e.history.Append(ctx, record); err != nil {
			return nil, e.fail(script, applied, fmt.Errorf("record history: %w", err))
		}

		applied = append(applied, script)
		e.logger.Info("script applied",
			"version", script.Version,
			"script", script.Name,
			"duration", time.Since(scriptStart))
	}

	e.logger.Info("migration completed",
		"applied", len(applied),
		"duration", time.Since(startTime))
	return applied, nil
}

// apply executes the statements of script one at a time. Statements already
// executed stay applied when a later statement fails.
func (e *engine) apply(ctx context.Context, script Script) error {
	for i, stmt := range script.Statements() {
		if _, err := e.session.Execute(ctx, e.config.ApplyKeyspace, stmt); err != nil {
			return &StatementError{
				Keyspace:  e.config.ApplyKeyspace,
				Index:     i + 1,
				Statement: stmt,
				Err:       err,
			}
		}
	}
	return nil
}

func (e *engine) fail(script Script, applied []Script, err error) *MigrateError {
	failed := script
	e.logger.Error("script failed",
		"version", script.Version,
		"script", script.Name,
		"applied_this_run", versions(applied),
		"error", err)
	return &MigrateError{
		Kind:         ErrApply,
		Cause:        err,
		FailedScript: &failed,
		Applied:      append([]Script(nil), applied...),
	}
}

// sortScripts returns a copy of scripts in ascending version order and rejects
// duplicate versions.
func sortScripts(scripts []Script) ([]Script, error) {
	sorted := append([]Script(nil), scripts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Version == sorted[i-1].Version {
			return nil, newMigrateError(ErrDiscovery, &ScriptError{
				Name: sorted[i].Name,
				Err: fmt.Errorf("%w: version %d found in both %s and %s",
					ErrDuplicateVersion, sorted[i].Version, sorted[i-1].Name, sorted[i].Name),
			})
		}
	}
	return sorted, nil
}

// detectDrift compares history against scripts on disk. Both inputs must be
// sorted by version.
func detectDrift(records []HistoryRecord, scripts []Script) []*DriftError {
	byVersion := make(map[int]Script, len(scripts))
	for _, s := range scripts {
		byVersion[s.Version] = s
	}

	var drift []*DriftError
	for _, r := range records {
		s, ok := byVersion[r.Version]
		switch {
		case !ok:
			drift = append(drift, &DriftError{Version: r.Version, Name: r.Name, Recorded: r.Checksum})
		case s.Checksum != r.Checksum:
			drift = append(drift, &DriftError{Version: r.Version, Name: r.Name, Recorded: r.Checksum, Current: s.Checksum})
		}
	}
	return drift
}

func pendingScripts(records []HistoryRecord, scripts []Script) []Script {
	recorded := make(map[int]bool, len(records))
	for _, r := range records {
		recorded[r.Version] = true
	}

	var pending []Script
	for _, s := range scripts {
		if !recorded[s.Version] {
			pending = append(pending, s)
		}
	}
	return pending
}

func joinDrift(drift []*DriftError) error {
	errs := make([]error, len(drift))
	for i, d := range drift {
		errs[i] = d
	}
	return errors.Join(errs...)
}
