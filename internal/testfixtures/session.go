package testfixtures

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/example/cquill/internal/migration"
)

var (
	createKeyspacePattern = regexp.MustCompile(`(?is)^CREATE\s+KEYSPACE\s+(?:IF\s+NOT\s+EXISTS\s+)?("[^"]+"|\w+)`)
	dropKeyspacePattern   = regexp.MustCompile(`(?is)^DROP\s+KEYSPACE\s+(?:IF\s+EXISTS\s+)?("[^"]+"|\w+)`)
	createTablePattern    = regexp.MustCompile(`(?is)^CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?(?:("[^"]+"|\w+)\.)?("[^"]+"|\w+)`)
	insertPattern         = regexp.MustCompile(`(?is)^INSERT\s+INTO\s+(?:("[^"]+"|\w+)\.)?("[^"]+"|\w+)\s*\(([^)]*)\)`)
	selectPattern         = regexp.MustCompile(`(?is)^SELECT\s+.+?\s+FROM\s+(?:("[^"]+"|\w+)\.)?("[^"]+"|\w+)`)
)

// ExecutedStatement is a statement received by Session.
type ExecutedStatement struct {
	Keyspace  string
	Statement string
	Values    []any
}

type failure struct {
	substr string
	err    error
}

// Session is an in-memory stand-in for a Cassandra cluster implementing
// migration.Session. It understands the subset of CQL the engine issues
// (CREATE/DROP KEYSPACE, CREATE TABLE, INSERT, SELECT) and accepts every other
// statement without effect.
type Session struct {
	mu        sync.Mutex
	keyspaces map[string]map[string][]map[string]any // keyspace -> table -> rows
	executed  []ExecutedStatement
	failures  []failure

	// TablesErr, when set, is returned by Tables.
	TablesErr error
}

// NewSession returns an empty cluster.
func NewSession() *Session {
	return &Session{keyspaces: make(map[string]map[string][]map[string]any)}
}

var _ migration.Session = (*Session)(nil)

// CreateKeyspace adds an empty keyspace without recording a statement.
func (s *Session) CreateKeyspace(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keyspaces[name]; !ok {
		s.keyspaces[name] = make(map[string][]map[string]any)
	}
}

// FailOn makes every statement containing substr fail with err until
// ClearFailures is called.
func (s *Session) FailOn(substr string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{substr: substr, err: err})
}

// ClearFailures removes every failure registered with FailOn.
func (s *Session) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = nil
}

// Execute implements migration.Session.
func (s *Session) Execute(ctx context.Context, keyspace, statement string, values ...any) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.failures {
		if strings.Contains(statement, f.substr) {
			return nil, f.err
		}
	}
	s.executed = append(s.executed, ExecutedStatement{
		Keyspace:  keyspace,
		Statement: statement,
		Values:    append([]any(nil), values...),
	})

	stmt := strings.TrimSpace(statement)
	switch {
	case createKeyspacePattern.MatchString(stmt):
		name := ident(createKeyspacePattern.FindStringSubmatch(stmt)[1])
		if _, ok := s.keyspaces[name]; !ok {
			s.keyspaces[name] = make(map[string][]map[string]any)
		}
		return nil, nil
	case dropKeyspacePattern.MatchString(stmt):
		delete(s.keyspaces, ident(dropKeyspacePattern.FindStringSubmatch(stmt)[1]))
		return nil, nil
	case createTablePattern.MatchString(stmt):
		m := createTablePattern.FindStringSubmatch(stmt)
		tables, err := s.keyspaceLocked(m[1], keyspace)
		if err != nil {
			return nil, err
		}
		if name := ident(m[2]); tables[name] == nil {
			tables[name] = []map[string]any{}
		}
		return nil, nil
	case insertPattern.MatchString(stmt):
		m := insertPattern.FindStringSubmatch(stmt)
		rows, table, err := s.tableLocked(m[1], keyspace, m[2])
		if err != nil {
			return nil, err
		}
		columns := strings.Split(m[3], ",")
		if len(columns) != len(values) {
			return nil, fmt.Errorf("invalid query: %d columns but %d values", len(columns), len(values))
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[ident(strings.TrimSpace(col))] = values[i]
		}
		rows[table] = append(rows[table], row)
		return nil, nil
	case selectPattern.MatchString(stmt):
		m := selectPattern.FindStringSubmatch(stmt)
		rows, table, err := s.tableLocked(m[1], keyspace, m[2])
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(rows[table]))
		for _, row := range rows[table] {
			copied := make(map[string]any, len(row))
			for k, v := range row {
				copied[k] = v
			}
			out = append(out, copied)
		}
		return out, nil
	}
	return nil, nil
}

// Tables implements migration.Session.
func (s *Session) Tables(ctx context.Context, keyspace string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.TablesErr != nil {
		return nil, s.TablesErr
	}
	tables, ok := s.keyspaces[keyspace]
	if !ok {
		return nil, fmt.Errorf("keyspace %s: %w", keyspace, migration.ErrKeyspaceNotFound)
	}
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// HasKeyspace reports whether the keyspace exists.
func (s *Session) HasKeyspace(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keyspaces[name]
	return ok
}

// HasTable reports whether the table exists in keyspace.
func (s *Session) HasTable(keyspace, table string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keyspaces[keyspace][table]
	return ok
}

// Rows returns a copy of the rows stored in keyspace.table.
func (s *Session) Rows(keyspace, table string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.keyspaces[keyspace][table]...)
}

// Executed returns every successfully received statement in order.
func (s *Session) Executed() []ExecutedStatement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ExecutedStatement(nil), s.executed...)
}

// StatementsIn returns the statements executed against keyspace.
func (s *Session) StatementsIn(keyspace string) []string {
	var out []string
	for _, e := range s.Executed() {
		if e.Keyspace == keyspace {
			out = append(out, e.Statement)
		}
	}
	return out
}

// CountPrefix counts executed statements starting with prefix.
func (s *Session) CountPrefix(prefix string) int {
	n := 0
	for _, e := range s.Executed() {
		if strings.HasPrefix(e.Statement, prefix) {
			n++
		}
	}
	return n
}

func (s *Session) keyspaceLocked(qualifier, current string) (map[string][]map[string]any, error) {
	name := current
	if qualifier != "" {
		name = ident(qualifier)
	}
	if name == "" {
		return nil, fmt.Errorf("invalid query: no keyspace has been specified")
	}
	tables, ok := s.keyspaces[name]
	if !ok {
		return nil, fmt.Errorf("invalid query: keyspace %s does not exist", name)
	}
	return tables, nil
}

func (s *Session) tableLocked(qualifier, current, table string) (map[string][]map[string]any, string, error) {
	tables, err := s.keyspaceLocked(qualifier, current)
	if err != nil {
		return nil, "", err
	}
	name := ident(table)
	if _, ok := tables[name]; !ok {
		return nil, "", fmt.Errorf("invalid query: table %s does not exist", name)
	}
	return tables, name, nil
}

// ident normalises a CQL identifier: quoted names keep their case, unquoted
// names are lowercased.
func ident(name string) string {
	if len(name) >= 2 && strings.HasPrefix(name, `"`) && strings.HasSuffix(name, `"`) {
		return strings.ReplaceAll(name[1:len(name)-1], `""`, `"`)
	}
	return strings.ToLower(name)
}
