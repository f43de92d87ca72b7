package testfixtures

import (
	"context"
	"errors"
	"testing"

	"github.com/example/cquill/internal/migration"
)

func TestSessionKeyspaceAndTableLifecycle(t *testing.T) {
	ctx := context.Background()
	session := NewSession()

	if _, err := session.Tables(ctx, "app"); !errors.Is(err, migration.ErrKeyspaceNotFound) {
		t.Fatalf("expected ErrKeyspaceNotFound, got %v", err)
	}

	mustExec(t, session, "", "CREATE KEYSPACE IF NOT EXISTS app WITH REPLICATION = {'class': 'SimpleStrategy', 'replication_factor': 1}")
	mustExec(t, session, "app", "CREATE TABLE users (id int PRIMARY KEY)")
	mustExec(t, session, "", `CREATE TABLE IF NOT EXISTS app."Events" (id int PRIMARY KEY)`)

	tables, err := session.Tables(ctx, "app")
	if err != nil {
		t.Fatalf("Tables returned error: %v", err)
	}
	if len(tables) != 2 || tables[0] != "Events" || tables[1] != "users" {
		t.Fatalf("unexpected tables: %v", tables)
	}

	mustExec(t, session, "", "DROP KEYSPACE IF EXISTS app")
	if session.HasKeyspace("app") {
		t.Fatal("keyspace should be dropped")
	}
}

func TestSessionInsertAndSelect(t *testing.T) {
	ctx := context.Background()
	session := NewSession()
	session.CreateKeyspace("cquill")
	mustExec(t, session, "", "CREATE TABLE cquill.history (version int PRIMARY KEY, name text)")
	mustExec(t, session, "", "INSERT INTO cquill.history (version, name) VALUES (?, ?)", 1, "v001.cql")

	rows, err := session.Execute(ctx, "", "SELECT version, name FROM cquill.history")
	if err != nil {
		t.Fatalf("select returned error: %v", err)
	}
	if len(rows) != 1 || rows[0]["version"] != 1 || rows[0]["name"] != "v001.cql" {
		t.Fatalf("unexpected rows: %v", rows)
	}

	if _, err := session.Execute(ctx, "", "INSERT INTO cquill.missing (version) VALUES (?)", 1); err == nil {
		t.Fatal("expected error inserting into missing table")
	}
	if _, err := session.Execute(ctx, "nope", "CREATE TABLE t (id int PRIMARY KEY)"); err == nil {
		t.Fatal("expected error creating table in missing keyspace")
	}
}

func TestSessionFailOn(t *testing.T) {
	ctx := context.Background()
	session := NewSession()
	boom := errors.New("boom")
	session.FailOn("ALTER", boom)

	if _, err := session.Execute(ctx, "app", "ALTER TABLE users ADD email text"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n := len(session.Executed()); n != 0 {
		t.Fatalf("failed statements must not be recorded, got %d", n)
	}

	session.ClearFailures()
	if _, err := session.Execute(ctx, "app", "ALTER TABLE users ADD email text"); err != nil {
		t.Fatalf("unexpected error after ClearFailures: %v", err)
	}
	if got := session.StatementsIn("app"); len(got) != 1 {
		t.Fatalf("expected one statement in app, got %v", got)
	}
	if session.CountPrefix("ALTER TABLE") != 1 {
		t.Fatal("expected one ALTER TABLE statement")
	}
}

func mustExec(t *testing.T, session *Session, keyspace, stmt string, values ...any) {
	t.Helper()
	if _, err := session.Execute(context.Background(), keyspace, stmt, values...); err != nil {
		t.Fatalf("Execute(%q) returned error: %v", stmt, err)
	}
}
