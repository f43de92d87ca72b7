// Package keyspace models Cassandra keyspaces managed by cquill: the keyspace
// name, its replication strategy, and the DDL used to create it.
package keyspace

import (
	"regexp"
	"strings"
)

// maxNameLength is the longest keyspace or table name Cassandra accepts.
const maxNameLength = 48

var (
	identPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	safePattern  = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// Config describes a keyspace by name and replication strategy.
type Config struct {
	Name string
	// Replication defaults to SimpleStrategy with a factor of 1 when nil.
	Replication Replication
}

// Simple returns a Config using SimpleStrategy with the given factor.
func Simple(name string, factor uint8) Config {
	return Config{
		Name:        name,
		Replication: SimpleStrategy{Factor: factor},
	}
}

// New builds a Config from a keyspace name and a textual replication map.
// An empty replication text leaves the replication unset.
func New(name, replication string) (Config, error) {
	cfg := Config{Name: name}
	if strings.TrimSpace(replication) != "" {
		r, err := ParseReplication(replication)
		if err != nil {
			return Config{}, err
		}
		cfg.Replication = r
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ResolvedReplication returns the configured replication or the development
// default.
func (c Config) ResolvedReplication() Replication {
	if c.Replication == nil {
		return SimpleStrategy{Factor: 1}
	}
	return c.Replication
}

// Validate checks that the keyspace name is a legal CQL identifier.
func (c Config) Validate() error {
	return ValidateName("keyspace", c.Name)
}

// CreateStatement renders an idempotent CREATE KEYSPACE statement.
func (c Config) CreateStatement() string {
	return "CREATE KEYSPACE IF NOT EXISTS " + QuoteIdent(c.Name) + " WITH REPLICATION = " + c.ResolvedReplication().String()
}

// DropStatement renders an idempotent DROP KEYSPACE statement.
func (c Config) DropStatement() string {
	return "DROP KEYSPACE IF EXISTS " + QuoteIdent(c.Name)
}

// ValidateName checks that name is usable as a keyspace or table identifier.
// kind names the object in the error message.
func ValidateName(kind, name string) error {
	switch {
	case name == "":
		return configErrorf("%s name must not be empty", kind)
	case len(name) > maxNameLength:
		return configErrorf("%s name %s is longer than %d characters", kind, name, maxNameLength)
	case !identPattern.MatchString(name):
		return configErrorf("%s name %s is not a valid identifier", kind, name)
	}
	return nil
}

// QuoteIdent quotes a CQL identifier unless it is already in the lowercase
// form Cassandra stores unquoted names in.
func QuoteIdent(name string) string {
	if safePattern.MatchString(name) {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
