package migration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/example/cquill/internal/keyspace"
)

// HistoryStore reads and writes the history table of applied scripts.
type HistoryStore struct {
	session  Session
	keyspace keyspace.Config
	table    string
}

// NewHistoryStore returns a store for table inside the history keyspace.
func NewHistoryStore(session Session, ks keyspace.Config, table string) *HistoryStore {
	return &HistoryStore{
		session:  session,
		keyspace: ks,
		table:    table,
	}
}

// qualifiedTable returns the keyspace qualified history table name.
func (h *HistoryStore) qualifiedTable() string {
	return keyspace.QuoteIdent(h.keyspace.Name) + "." + keyspace.QuoteIdent(h.table)
}

// CreateTableStatement renders the idempotent history table DDL.
func (h *HistoryStore) CreateTableStatement() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    version int PRIMARY KEY,
    name text,
    checksum text,
    applied_at timestamp
)`, h.qualifiedTable())
}

// Exists reports whether the history keyspace and table are both present.
func (h *HistoryStore) Exists(ctx context.Context) (bool, error) {
	tables, err := h.session.Tables(ctx, h.keyspace.Name)
	if err != nil {
		if errors.Is(err, ErrKeyspaceNotFound) {
			return false, nil
		}
		return false, err
	}
	return containsTable(tables, h.table), nil
}

// Ensure creates the history keyspace and table when they are missing. It is
// safe to call on every run; when both exist no statement is executed.
//
// Errors are *MigrateError values of kind ErrBootstrap.
func (h *HistoryStore) Ensure(ctx context.Context) error {
	createTable := false

	tables, err := h.session.Tables(ctx, h.keyspace.Name)
	switch {
	case errors.Is(err, ErrKeyspaceNotFound):
		if err := h.exec(ctx, h.keyspace.CreateStatement()); err != nil {
			return newMigrateError(ErrBootstrap, err)
		}
		createTable = true
	case err != nil:
		return newMigrateError(ErrBootstrap, fmt.Errorf("list tables of keyspace %s: %w", h.keyspace.Name, err))
	default:
		createTable = !containsTable(tables, h.table)
	}

	if createTable {
		if err := h.exec(ctx, h.CreateTableStatement()); err != nil {
			return newMigrateError(ErrBootstrap, err)
		}
	}
	return nil
}

// Load returns every history record in ascending version order.
func (h *HistoryStore) Load(ctx context.Context) ([]HistoryRecord, error) {
	query := "SELECT version, name, checksum, applied_at FROM " + h.qualifiedTable()
	rows, err := h.session.Execute(ctx, "", query)
	if err != nil {
		return nil, &StatementError{Keyspace: h.keyspace.Name, Statement: query, Err: err}
	}

	records := make([]HistoryRecord, 0, len(rows))
	for _, row := range rows {
		record, err := decodeRecord(row)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Version < records[j].Version
	})
	return records, nil
}

// Append writes a history record.
func (h *HistoryStore) Append(ctx context.Context, record HistoryRecord) error {
	insert := "INSERT INTO " + h.qualifiedTable() + " (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)"
	return h.exec(ctx, insert, record.Version, record.Name, record.Checksum, record.AppliedAt)
}

func (h *HistoryStore) exec(ctx context.Context, statement string, values ...any) error {
	if _, err := h.session.Execute(ctx, "", statement, values...); err != nil {
		return &StatementError{Keyspace: h.keyspace.Name, Statement: statement, Err: err}
	}
	return nil
}

func containsTable(tables []string, table string) bool {
	for _, t := range tables {
		if t == table {
			return true
		}
	}
	return false
}

func decodeRecord(row map[string]any) (HistoryRecord, error) {
	version, ok := asInt(row["version"])
	if !ok {
		return HistoryRecord{}, fmt.Errorf("%w: version %v", ErrHistoryCorrupt, row["version"])
	}
	checksum, ok := row["checksum"].(string)
	if !ok {
		return HistoryRecord{}, fmt.Errorf("%w: checksum of version %d", ErrHistoryCorrupt, version)
	}
	name, _ := row["name"].(string)
	appliedAt, _ := row["applied_at"].(time.Time)

	return HistoryRecord{
		Version:   version,
		Name:      name,
		Checksum:  checksum,
		AppliedAt: appliedAt,
	}, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}
