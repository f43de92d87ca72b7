// Package config assembles the cquill run configuration from defaults, an
// optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/example/cquill/internal/cassandra"
	"github.com/example/cquill/internal/keyspace"
	"github.com/example/cquill/internal/logging"
	"github.com/example/cquill/internal/migration"
)

const (
	// DefaultNodeAddress is used when neither a host nor CASSANDRA_NODE is set.
	DefaultNodeAddress = "127.0.0.1:9042"

	// DefaultPort is appended to node addresses without a port.
	DefaultPort = "9042"

	// NodeEnvVar names the environment variable consulted for the node address.
	NodeEnvVar = "CASSANDRA_NODE"

	DefaultHistoryKeyspace = "cquill"
	DefaultHistoryTable    = "migrated_cql"
	DefaultScriptDir       = "./cql"
	DefaultJournalPath     = ".cquill/journal.db"
)

// Config captures every setting of a cquill invocation.
type Config struct {
	Host           string        `yaml:"host" env:"CQUILL_HOST"`
	Consistency    string        `yaml:"consistency" env:"CQUILL_CONSISTENCY"`
	ProtoVersion   int           `yaml:"proto_version" env:"CQUILL_PROTO_VERSION"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CQUILL_CONNECT_TIMEOUT"`
	Timeout        time.Duration `yaml:"timeout" env:"CQUILL_TIMEOUT"`
	Username       string        `yaml:"username" env:"CQUILL_USERNAME"`
	Password       string        `yaml:"password" env:"CQUILL_PASSWORD"`

	ScriptDir          string `yaml:"cql_dir" env:"CQUILL_CQL_DIR"`
	Keyspace           string `yaml:"keyspace" env:"CQUILL_KEYSPACE"`
	HistoryKeyspace    string `yaml:"history_keyspace" env:"CQUILL_HISTORY_KEYSPACE"`
	HistoryReplication string `yaml:"history_replication" env:"CQUILL_HISTORY_REPLICATION"`
	HistoryTable       string `yaml:"history_table" env:"CQUILL_HISTORY_TABLE"`

	// JournalPath is the SQLite run journal; empty disables the journal.
	JournalPath string `yaml:"journal" env:"CQUILL_JOURNAL"`

	LogFormat string `yaml:"log_format" env:"CQUILL_LOG_FORMAT"`
	LogLevel  string `yaml:"log_level" env:"CQUILL_LOG_LEVEL"`
}

// LoadOptions controls where Load reads from.
type LoadOptions struct {
	// File is an optional YAML file. A missing file is an error only when set.
	File string

	// Environment replaces the process environment when non-nil.
	Environment map[string]string
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	opts := cassandra.DefaultOptions()
	return Config{
		Consistency:        opts.Consistency,
		ConnectTimeout:     opts.ConnectTimeout,
		Timeout:            opts.Timeout,
		ScriptDir:          DefaultScriptDir,
		HistoryKeyspace:    DefaultHistoryKeyspace,
		HistoryReplication: keyspace.DefaultReplication,
		HistoryTable:       DefaultHistoryTable,
		JournalPath:        DefaultJournalPath,
		LogFormat:          logging.FormatText,
		LogLevel:           "info",
	}
}

// Load applies the YAML file and then the environment on top of Default. The
// result is not validated so that command line flags can still override it.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return Config{}, &keyspace.ConfigError{Msg: fmt.Sprintf("cannot read config file %s: %v", opts.File, err)}
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, &keyspace.ConfigError{Msg: fmt.Sprintf("cannot parse config file %s: %v", opts.File, err)}
		}
	}

	environ := opts.Environment
	if environ == nil {
		environ = env.ToMap(os.Environ())
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, &keyspace.ConfigError{Msg: invalidEnvMessage(err)}
	}
	cfg.Host = NodeAddress(cfg.Host, environ)

	return cfg, nil
}

// Validate reports every missing and invalid value at once. The error matches
// keyspace.ErrConfig.
func (c Config) Validate() error {
	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 4)

	if strings.TrimSpace(c.Keyspace) == "" {
		missing = append(missing, "keyspace")
	} else if keyspace.ValidateName("keyspace", c.Keyspace) != nil {
		invalid = append(invalid, "keyspace")
	}
	if strings.TrimSpace(c.ScriptDir) == "" {
		missing = append(missing, "cql_dir")
	}
	if keyspace.ValidateName("history keyspace", c.HistoryKeyspace) != nil {
		invalid = append(invalid, "history_keyspace")
	}
	if keyspace.ValidateName("history table", c.HistoryTable) != nil {
		invalid = append(invalid, "history_table")
	}
	if _, err := keyspace.ParseReplication(c.HistoryReplication); err != nil {
		invalid = append(invalid, "history_replication")
	}
	if err := c.CassandraOptions().Validate(); err != nil {
		invalid = append(invalid, "cassandra")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		invalid = append(invalid, "log_level")
	}
	if f := strings.ToLower(c.LogFormat); f != logging.FormatText && f != logging.FormatJSON {
		invalid = append(invalid, "log_format")
	}

	if len(missing) > 0 {
		return &keyspace.ConfigError{Msg: "required configuration values are missing: " + strings.Join(missing, ", ")}
	}
	if len(invalid) > 0 {
		return &keyspace.ConfigError{Msg: "configuration values are invalid: " + strings.Join(invalid, ", ")}
	}
	return nil
}

// RunConfig converts the configuration into the engine's run settings.
func (c Config) RunConfig() (migration.RunConfig, error) {
	history, err := keyspace.New(c.HistoryKeyspace, c.HistoryReplication)
	if err != nil {
		return migration.RunConfig{}, err
	}
	return migration.RunConfig{
		ScriptDir:       c.ScriptDir,
		ApplyKeyspace:   c.Keyspace,
		HistoryKeyspace: history,
		HistoryTable:    c.HistoryTable,
	}, nil
}

// CassandraOptions returns the connection settings. Host may list several
// comma separated nodes.
func (c Config) CassandraOptions() cassandra.Options {
	var hosts []string
	for _, host := range strings.Split(c.Host, ",") {
		if host = strings.TrimSpace(host); host != "" {
			hosts = append(hosts, withPort(host))
		}
	}
	return cassandra.Options{
		Hosts:          hosts,
		Consistency:    c.Consistency,
		ProtoVersion:   c.ProtoVersion,
		ConnectTimeout: c.ConnectTimeout,
		Timeout:        c.Timeout,
		Username:       c.Username,
		Password:       c.Password,
	}
}

// NodeAddress resolves the node to connect to: host when set, otherwise the
// CASSANDRA_NODE variable of environ, otherwise DefaultNodeAddress. Port 9042
// is appended when the address has none.
func NodeAddress(host string, environ map[string]string) string {
	address := strings.TrimSpace(host)
	if address == "" {
		address = strings.TrimSpace(environ[NodeEnvVar])
	}
	if address == "" {
		address = DefaultNodeAddress
	}
	return withPort(address)
}

func withPort(address string) string {
	if strings.Contains(address, ":") {
		return address
	}
	return address + ":" + DefaultPort
}

func invalidEnvMessage(err error) string {
	var agg env.AggregateError
	if !errors.As(err, &agg) {
		return "invalid environment: " + err.Error()
	}
	invalid := make([]string, 0, len(agg.Errors))
	for _, e := range agg.Errors {
		var parseErr env.ParseError
		if errors.As(e, &parseErr) {
			invalid = append(invalid, parseErr.Name)
			continue
		}
		invalid = append(invalid, e.Error())
	}
	return "environment variable values are invalid: " + strings.Join(invalid, ", ")
}
