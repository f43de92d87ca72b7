// Package cassandra implements migration.Session on top of gocql.
package cassandra

import (
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
)

// Options holds the cluster connection settings.
type Options struct {
	// Hosts are node addresses in host:port form
	Hosts []string

	// Consistency is the consistency level name, e.g. "QUORUM" or "LOCAL_ONE"
	Consistency string

	// ProtoVersion pins the native protocol version; 0 negotiates
	ProtoVersion int

	// ConnectTimeout bounds the initial connection to each host
	ConnectTimeout time.Duration

	// Timeout bounds every statement
	Timeout time.Duration

	// Username and Password enable password authentication when Username is set
	Username string
	Password string
}

// DefaultOptions returns options for a single local node.
func DefaultOptions() Options {
	return Options{
		Hosts:          []string{"127.0.0.1:9042"},
		Consistency:    "QUORUM",
		ConnectTimeout: 10 * time.Second,
		Timeout:        30 * time.Second,
	}
}

// Validate checks the options without contacting the cluster.
func (o Options) Validate() error {
	if len(o.Hosts) == 0 {
		return fmt.Errorf("at least one host is required")
	}
	for _, host := range o.Hosts {
		if strings.TrimSpace(host) == "" {
			return fmt.Errorf("host must not be empty")
		}
	}
	if _, err := o.consistency(); err != nil {
		return err
	}
	if o.ProtoVersion < 0 || o.ProtoVersion > 5 {
		return fmt.Errorf("unsupported protocol version %d", o.ProtoVersion)
	}
	if o.ConnectTimeout < 0 || o.Timeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	if o.Password != "" && o.Username == "" {
		return fmt.Errorf("password given without username")
	}
	return nil
}

func (o Options) consistency() (gocql.Consistency, error) {
	if o.Consistency == "" {
		return gocql.Quorum, nil
	}
	consistency, err := gocql.ParseConsistencyWrapper(strings.ToUpper(o.Consistency))
	if err != nil {
		return 0, fmt.Errorf("invalid consistency %q: %w", o.Consistency, err)
	}
	return consistency, nil
}

// ClusterConfig builds the gocql cluster configuration bound to keyspace. An
// empty keyspace leaves the session unscoped.
func (o Options) ClusterConfig(keyspace string) (*gocql.ClusterConfig, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	consistency, err := o.consistency()
	if err != nil {
		return nil, err
	}

	cluster := gocql.NewCluster(o.Hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = consistency
	if o.ProtoVersion > 0 {
		cluster.ProtoVersion = o.ProtoVersion
	}
	if o.ConnectTimeout > 0 {
		cluster.ConnectTimeout = o.ConnectTimeout
	}
	if o.Timeout > 0 {
		cluster.Timeout = o.Timeout
	}
	if o.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: o.Username,
			Password: o.Password,
		}
	}
	return cluster, nil
}
