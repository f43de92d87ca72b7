package cassandra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gocql/gocql"

	"github.com/example/cquill/internal/logging"
	"github.com/example/cquill/internal/migration"
)

// Session is a migration.Session backed by a gocql cluster. Statements for a
// keyspace run on a gocql session bound to it, created on first use.
type Session struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	root     *gocql.Session
	sessions map[string]*gocql.Session
}

var _ migration.Session = (*Session)(nil)

// Connect opens an unscoped session to the cluster. Failures are
// *migration.MigrateError values of kind migration.ErrConnectivity.
func Connect(ctx context.Context, opts Options) (*Session, error) {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = slog.Default()
	}
	if err := ctx.Err(); err != nil {
		return nil, connectivityError(err)
	}

	cluster, err := opts.ClusterConfig("")
	if err != nil {
		return nil, connectivityError(err)
	}
	root, err := cluster.CreateSession()
	if err != nil {
		logger.Error("failed to connect to cluster", "hosts", opts.Hosts, "error", err)
		return nil, connectivityError(fmt.Errorf("connect to %v: %w", opts.Hosts, err))
	}
	logger.Debug("connected to cluster", "hosts", opts.Hosts, "consistency", cluster.Consistency.String())

	return &Session{
		opts:     opts,
		logger:   logger,
		root:     root,
		sessions: make(map[string]*gocql.Session),
	}, nil
}

// Execute implements migration.Session.
func (s *Session) Execute(ctx context.Context, keyspace, statement string, values ...any) ([]map[string]any, error) {
	session, err := s.session(keyspace)
	if err != nil {
		return nil, err
	}

	iter := session.Query(statement, values...).WithContext(ctx).Iter()
	rows, err := iter.SliceMap()
	if closeErr := iter.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Tables implements migration.Session using the cluster schema metadata.
func (s *Session) Tables(ctx context.Context, keyspace string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	root := s.root
	s.mu.Unlock()
	if root == nil {
		return nil, errors.New("session is closed")
	}

	meta, err := root.KeyspaceMetadata(keyspace)
	if err != nil {
		if errors.Is(err, gocql.ErrKeyspaceDoesNotExist) {
			return nil, fmt.Errorf("keyspace %s: %w", keyspace, migration.ErrKeyspaceNotFound)
		}
		return nil, fmt.Errorf("read metadata of keyspace %s: %w", keyspace, err)
	}

	names := make([]string, 0, len(meta.Tables))
	for name := range meta.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close releases every gocql session.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for keyspace, session := range s.sessions {
		session.Close()
		delete(s.sessions, keyspace)
	}
	if s.root != nil {
		s.root.Close()
		s.root = nil
	}
}

func (s *Session) session(keyspace string) (*gocql.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.root == nil {
		return nil, errors.New("session is closed")
	}
	if keyspace == "" {
		return s.root, nil
	}
	if session, ok := s.sessions[keyspace]; ok {
		return session, nil
	}

	cluster, err := s.opts.ClusterConfig(keyspace)
	if err != nil {
		return nil, err
	}
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("open session for keyspace %s: %w", keyspace, err)
	}
	s.logger.Debug("opened keyspace session", "keyspace", keyspace)
	s.sessions[keyspace] = session
	return session, nil
}

func connectivityError(err error) *migration.MigrateError {
	return &migration.MigrateError{Kind: migration.ErrConnectivity, Cause: err}
}
