package migration_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/example/cquill/internal/keyspace"
	"github.com/example/cquill/internal/logging"
	"github.com/example/cquill/internal/migration"
	"github.com/example/cquill/internal/testfixtures"
)

const (
	applyKeyspace   = "app"
	historyKeyspace = "cquill"
	historyTable    = "migrated_cql"
)

var threeScripts = map[string]string{
	"v001_users.cql":  "CREATE TABLE users (id int PRIMARY KEY);",
	"v002_orders.cql": "CREATE TABLE orders (id int PRIMARY KEY);\nALTER TABLE orders ADD total decimal;",
	"v003_items.cql":  "CREATE TABLE items (id int PRIMARY KEY);",
}

func testRunConfig(dir string) migration.RunConfig {
	return migration.RunConfig{
		ScriptDir:       dir,
		ApplyKeyspace:   applyKeyspace,
		HistoryKeyspace: keyspace.Simple(historyKeyspace, 1),
		HistoryTable:    historyTable,
	}
}

// newCluster returns a fake cluster holding an empty apply keyspace.
func newCluster() *testfixtures.Session {
	session := testfixtures.NewSession()
	session.CreateKeyspace(applyKeyspace)
	return session
}

func discover(t *testing.T, dir string) []migration.Script {
	t.Helper()
	scripts, err := migration.Discover(dir)
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	return scripts
}

func migrate(t *testing.T, session migration.Session, dir string, opts ...migration.Option) ([]migration.Script, error) {
	t.Helper()
	opts = append([]migration.Option{migration.WithLogger(logging.Discard())}, opts...)
	return migration.Migrate(context.Background(), session, discover(t, dir), testRunConfig(dir), opts...)
}

func appliedVersions(scripts []migration.Script) []int {
	out := make([]int, len(scripts))
	for i, s := range scripts {
		out[i] = s.Version
	}
	return out
}

func TestMigrate_FreshClusterAppliesEverything(t *testing.T) {
	session := newCluster()
	dir := testfixtures.ScriptDir(t, threeScripts)
	clock := testfixtures.NewClock(time.Time{})

	applied, err := migrate(t, session, dir, migration.WithClock(clock.TickFunc(time.Second)))
	if err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	if got := appliedVersions(applied); !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Fatalf("expected [1 2 3], got %v", got)
	}

	if !session.HasTable(historyKeyspace, historyTable) {
		t.Fatal("history table was not created")
	}
	for _, table := range []string{"users", "orders", "items"} {
		if !session.HasTable(applyKeyspace, table) {
			t.Errorf("table %s missing from apply keyspace", table)
		}
	}

	rows := session.Rows(historyKeyspace, historyTable)
	if len(rows) != 3 {
		t.Fatalf("expected 3 history rows, got %d", len(rows))
	}
	for i, row := range rows {
		script := applied[i]
		if row["version"] != script.Version || row["name"] != script.Name || row["checksum"] != script.Checksum {
			t.Errorf("history row %d does not match script %s: %v", i, script.Name, row)
		}
		want := testfixtures.ReferenceTime().Add(time.Duration(i+1) * time.Second)
		if got, _ := row["applied_at"].(time.Time); !got.Equal(want) {
			t.Errorf("history row %d applied_at = %v, want %v", i, got, want)
		}
	}

	// Script statements run in the apply keyspace, history statements run unscoped.
	if got := len(session.StatementsIn(applyKeyspace)); got != 4 {
		t.Errorf("expected 4 statements in %s, got %d", applyKeyspace, got)
	}
}

func TestMigrate_SecondRunIsNoOp(t *testing.T) {
	session := newCluster()
	dir := testfixtures.ScriptDir(t, threeScripts)

	if _, err := migrate(t, session, dir); err != nil {
		t.Fatalf("first run returned error: %v", err)
	}
	before := len(session.Executed())

	applied, err := migrate(t, session, dir)
	if err != nil {
		t.Fatalf("second run returned error: %v", err)
	}
	if applied == nil || len(applied) != 0 {
		t.Fatalf("expected empty non-nil result, got %#v", applied)
	}

	// Only the history SELECT is issued on an up to date keyspace.
	after := session.Executed()[before:]
	if len(after) != 1 || !strings.HasPrefix(after[0].Statement, "SELECT") {
		t.Fatalf("expected a single SELECT, got %+v", after)
	}
}

func TestMigrate_AppliesOnlyPendingScripts(t *testing.T) {
	session := newCluster()
	dir := testfixtures.ScriptDir(t, map[string]string{
		"v001_users.cql": threeScripts["v001_users.cql"],
	})

	if _, err := migrate(t, session, dir); err != nil {
		t.Fatalf("first run returned error: %v", err)
	}

	testfixtures.WriteScripts(t, dir, map[string]string{
		"v002_orders.cql": threeScripts["v002_orders.cql"],
		"v003_items.cql":  threeScripts["v003_items.cql"],
	})

	applied, err := migrate(t, session, dir)
	if err != nil {
		t.Fatalf("second run returned error: %v", err)
	}
	if got := appliedVersions(applied); !reflect.DeepEqual(got, []int{2, 3}) {
		t.Fatalf("expected [2 3], got %v", got)
	}
	if n := session.CountPrefix("CREATE TABLE users"); n != 1 {
		t.Errorf("script 1 executed %d times", n)
	}
}

func TestMigrate_AppliesOlderPendingScript(t *testing.T) {
	session := newCluster()
	dir := testfixtures.ScriptDir(t, map[string]string{
		"v001_users.cql": threeScripts["v001_users.cql"],
		"v003_items.cql": threeScripts["v003_items.cql"],
	})
	if _, err := migrate(t, session, dir); err != nil {
		t.Fatalf("first run returned error: %v", err)
	}

	testfixtures.WriteScripts(t, dir, map[string]string{
		"v002_orders.cql": threeScripts["v002_orders.cql"],
	})
	applied, err := migrate(t, session, dir)
	if err != nil {
		t.Fatalf("second run returned error: %v", err)
	}
	if got := appliedVersions(applied); !reflect.DeepEqual(got, []int{2}) {
		t.Fatalf("expected [2], got %v", got)
	}
}

func TestMigrate_FailureThenResume(t *testing.T) {
	session := newCluster()
	dir := testfixtures.ScriptDir(t, threeScripts)
	boom := errors.New("server error: invalid column type")
	session.FailOn("ALTER TABLE orders", boom)

	applied, err := migrate(t, session, dir)
	if applied != nil {
		t.Fatalf("expected no result on failure, got %v", applied)
	}

	var migrateErr *migration.MigrateError
	if !errors.As(err, &migrateErr) {
		t.Fatalf("expected MigrateError, got %T: %v", err, err)
	}
	if !errors.Is(err, migration.ErrApply) {
		t.Errorf("expected ErrApply kind, got %v", migrateErr.Kind)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected cause to wrap the statement error")
	}
	if v, ok := migrateErr.FailedVersion(); !ok || v != 2 {
		t.Errorf("expected failed version 2, got %d (%v)", v, ok)
	}
	if got := migrateErr.AppliedVersions(); !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("expected applied [1], got %v", got)
	}
	var stmtErr *migration.StatementError
	if !errors.As(err, &stmtErr) || stmtErr.Index != 2 || stmtErr.Keyspace != applyKeyspace {
		t.Errorf("expected second statement failure in %s, got %+v", applyKeyspace, stmtErr)
	}

	// Version 2 was not recorded; its first statement stays applied.
	if rows := session.Rows(historyKeyspace, historyTable); len(rows) != 1 {
		t.Fatalf("expected 1 history row after failure, got %d", len(rows))
	}
	if !session.HasTable(applyKeyspace, "orders") {
		t.Error("statements before the failing one should stay applied")
	}

	session.ClearFailures()
	applied, err = migrate(t, session, dir)
	if err != nil {
		t.Fatalf("resume returned error: %v", err)
	}
	if got := appliedVersions(applied); !reflect.DeepEqual(got, []int{2, 3}) {
		t.Fatalf("expected [2 3] on resume, got %v", got)
	}
	if n := session.CountPrefix("CREATE TABLE users"); n != 1 {
		t.Errorf("script 1 executed %d times", n)
	}
}

func TestMigrate_DriftAppliesNothing(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(t *testing.T, dir string)
		missing bool
	}{
		{
			name: "applied script modified",
			mutate: func(t *testing.T, dir string) {
				testfixtures.WriteScripts(t, dir, map[string]string{
					"v001_users.cql": "CREATE TABLE users (id int PRIMARY KEY, email text);",
				})
			},
		},
		{
			name: "applied script removed",
			mutate: func(t *testing.T, dir string) {
				testfixtures.RemoveScript(t, dir, "v001_users.cql")
			},
			missing: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newCluster()
			dir := testfixtures.ScriptDir(t, map[string]string{
				"v001_users.cql": threeScripts["v001_users.cql"],
			})
			if _, err := migrate(t, session, dir); err != nil {
				t.Fatalf("first run returned error: %v", err)
			}

			tt.mutate(t, dir)
			testfixtures.WriteScripts(t, dir, map[string]string{
				"v002_orders.cql": threeScripts["v002_orders.cql"],
			})
			before := len(session.StatementsIn(applyKeyspace))

			applied, err := migrate(t, session, dir)
			if applied != nil {
				t.Fatalf("expected no result, got %v", applied)
			}
			if !errors.Is(err, migration.ErrDrift) {
				t.Fatalf("expected ErrDrift, got %v", err)
			}
			var driftErr *migration.DriftError
			if !errors.As(err, &driftErr) {
				t.Fatalf("expected DriftError in chain, got %v", err)
			}
			if driftErr.Version != 1 || driftErr.Missing() != tt.missing {
				t.Errorf("unexpected drift %+v", driftErr)
			}
			if after := len(session.StatementsIn(applyKeyspace)); after != before {
				t.Errorf("drift must not apply anything: %d statements before, %d after", before, after)
			}
		})
	}
}

func TestMigrate_BootstrapFailure(t *testing.T) {
	session := newCluster()
	session.TablesErr = errors.New("no hosts available")
	dir := testfixtures.ScriptDir(t, threeScripts)

	_, err := migrate(t, session, dir)
	var migrateErr *migration.MigrateError
	if !errors.As(err, &migrateErr) {
		t.Fatalf("expected MigrateError, got %v", err)
	}
	if !errors.Is(err, migration.ErrBootstrap) {
		t.Errorf("expected ErrBootstrap, got %v", migrateErr.Kind)
	}
	if migrateErr.FailedScript != nil {
		t.Errorf("expected no failed script, got %+v", migrateErr.FailedScript)
	}
	if len(session.StatementsIn(applyKeyspace)) != 0 {
		t.Error("no script should run when bootstrap fails")
	}
}

func TestMigrate_HistoryAppendFailure(t *testing.T) {
	session := newCluster()
	dir := testfixtures.ScriptDir(t, threeScripts)
	session.FailOn("INSERT INTO cquill.migrated_cql", errors.New("write timeout"))

	_, err := migrate(t, session, dir)
	var migrateErr *migration.MigrateError
	if !errors.As(err, &migrateErr) {
		t.Fatalf("expected MigrateError, got %v", err)
	}
	if !errors.Is(err, migration.ErrApply) {
		t.Errorf("expected ErrApply, got %v", migrateErr.Kind)
	}
	if v, ok := migrateErr.FailedVersion(); !ok || v != 1 {
		t.Errorf("expected failed version 1, got %d", v)
	}
	if len(migrateErr.Applied) != 0 {
		t.Errorf("expected nothing applied, got %v", migrateErr.AppliedVersions())
	}
	if !strings.Contains(err.Error(), "record history") {
		t.Errorf("unexpected error message %q", err.Error())
	}
}

func TestMigrate_InvalidRunConfig(t *testing.T) {
	session := newCluster()
	cfg := testRunConfig(t.TempDir())
	cfg.ApplyKeyspace = "bad-name"

	_, err := migration.Migrate(context.Background(), session, nil, cfg)
	if !errors.Is(err, keyspace.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if len(session.Executed()) != 0 {
		t.Fatal("no statement should be executed for an invalid configuration")
	}
}

func TestPerform_RejectsDuplicateVersions(t *testing.T) {
	session := newCluster()
	scripts := []migration.Script{
		{Version: 1, Name: "v1_a.cql", Content: "CREATE TABLE a (id int PRIMARY KEY);"},
		{Version: 1, Name: "v1_b.cql", Content: "CREATE TABLE b (id int PRIMARY KEY);"},
	}

	_, err := migration.Perform(context.Background(), session, scripts, testRunConfig(""),
		migration.WithLogger(logging.Discard()))
	if !errors.Is(err, migration.ErrDiscovery) || !errors.Is(err, migration.ErrDuplicateVersion) {
		t.Fatalf("expected duplicate version discovery error, got %v", err)
	}
}

func TestPerform_RequiresHistoryTable(t *testing.T) {
	session := newCluster()
	dir := testfixtures.ScriptDir(t, threeScripts)

	_, err := migration.Perform(context.Background(), session, discover(t, dir), testRunConfig(dir),
		migration.WithLogger(logging.Discard()))
	if !errors.Is(err, migration.ErrBootstrap) {
		t.Fatalf("expected ErrBootstrap without a history table, got %v", err)
	}
}

func TestMigrate_UsesContextLogger(t *testing.T) {
	var buf strings.Builder
	logger, err := logging.New(&buf, logging.FormatText, "info")
	if err != nil {
		t.Fatalf("logging.New returned error: %v", err)
	}
	ctx := logging.ContextWithLogger(context.Background(), logger)
	dir := testfixtures.ScriptDir(t, threeScripts)

	if _, err := migration.Migrate(ctx, newCluster(), discover(t, dir), testRunConfig(dir)); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "script applied") {
		t.Fatalf("expected progress logs on the context logger, got %q", buf.String())
	}
}
