// Package cassandra provides a Cassandra backed document store, including connection
// and session management and per-API consistency customization.
package cassandra

import (
	"fmt"
	"sync"
	"time"

	log "log/slog"

	"github.com/gocql/gocql"
)

// Config contains configuration for connecting to a Cassandra cluster and the docstore keyspace.
type Config struct {
	// ClusterHosts lists contact points for the Cassandra cluster.
	ClusterHosts []string `json:"cluster_hosts"`
	// Keyspace is the keyspace holding the documents table. Defaults to "docstore".
	Keyspace string `json:"keyspace"`
	// Consistency is the default consistency level for queries.
	Consistency gocql.Consistency `json:"-"`
	// ConnectionTimeout is the session connection timeout.
	ConnectionTimeout time.Duration `json:"connection_timeout"`
	// Authenticator is used when the cluster requires authentication.
	Authenticator gocql.Authenticator `json:"-"`
	// ReplicationClause defines the keyspace replication (e.g., SimpleStrategy).
	ReplicationClause string `json:"replication_clause"`

	// ConsistencyBook allows overriding per-API consistency levels.
	ConsistencyBook ConsistencyBook `json:"-"`
}

// ConsistencyBook enumerates per-API consistency levels used by this package.
// Zero (gocql.Any) keeps the session default.
type ConsistencyBook struct {
	DocumentGet    gocql.Consistency
	DocumentPut    gocql.Consistency
	DocumentRemove gocql.Consistency
	// SerialConsistency applies to the lightweight transactions guarding writes.
	SerialConsistency gocql.SerialConsistency
}

// Connection wraps a Cassandra session and its configuration.
type Connection struct {
	Session *gocql.Session
	Config
}

var session *gocql.Session
var config Config
var refCount int
var mux sync.Mutex

// IsConnectionInstantiated reports whether a global Connection has been created.
func IsConnectionInstantiated() bool {
	mux.Lock()
	defer mux.Unlock()
	return session != nil
}

func withDefaults(cfg Config) Config {
	if cfg.Keyspace == "" {
		cfg.Keyspace = "docstore"
	}
	if cfg.Consistency == gocql.Any {
		// Defaults to LocalQuorum consistency. You should set it to an appropriate level.
		cfg.Consistency = gocql.LocalQuorum
	}
	if cfg.ReplicationClause == "" {
		// Specify an appropriate replication feature.
		cfg.ReplicationClause = "{'class':'SimpleStrategy', 'replication_factor':1}"
	}
	return cfg
}

// OpenConnection returns the existing global Connection or opens a new one using the provided config.
func OpenConnection(cfg Config) (*Connection, error) {
	mux.Lock()
	defer mux.Unlock()

	cfg = withDefaults(cfg)
	if session == nil {
		log.Info("Opening Cassandra connection", "hosts", cfg.ClusterHosts, "keyspace", cfg.Keyspace)
		cluster := gocql.NewCluster(cfg.ClusterHosts...)
		cluster.Consistency = cfg.Consistency
		if cfg.ConnectionTimeout > 0 {
			cluster.ConnectTimeout = cfg.ConnectionTimeout
		}
		if cfg.Authenticator != nil {
			cluster.Authenticator = cfg.Authenticator
			cfg.Authenticator = nil
		}
		s, err := cluster.CreateSession()
		if err != nil {
			return nil, fmt.Errorf("failed to create cassandra session: %w", err)
		}
		session = s
		config = cfg
	}

	if err := initKeyspace(session, cfg); err != nil {
		return nil, err
	}

	refCount++
	return &Connection{
		Session: session,
		Config:  cfg,
	}, nil
}

// GetGlobalConnection returns the global connection using the global configuration.
func GetGlobalConnection() (*Connection, error) {
	mux.Lock()
	defer mux.Unlock()

	if session == nil {
		return nil, fmt.Errorf("cassandra connection is closed; call OpenConnection(config) to open it")
	}
	return &Connection{
		Session: session,
		Config:  config,
	}, nil
}

func initKeyspace(s *gocql.Session, config Config) error {
	if err := s.Query(fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = %s;", config.Keyspace, config.ReplicationClause)).Exec(); err != nil {
		return fmt.Errorf("failed to create keyspace %s: %w", config.Keyspace, err)
	}
	if err := s.Query(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.documents (id text PRIMARY KEY, body blob, version bigint, collection text);", config.Keyspace)).Exec(); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	if err := s.Query(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.sequences (name text PRIMARY KEY, value bigint);", config.Keyspace)).Exec(); err != nil {
		return fmt.Errorf("failed to create sequences table: %w", err)
	}
	return nil
}

// CloseConnection closes and clears the global connection, if it exists.
func CloseConnection() {
	mux.Lock()
	defer mux.Unlock()
	if session != nil {
		log.Info("Closing Cassandra connection")
		session.Close()
		session = nil
		refCount = 0
	}
}

// Close releases the connection, the global session closes with its last reference.
func (c *Connection) Close() {
	mux.Lock()
	defer mux.Unlock()
	refCount--
	if refCount <= 0 && session != nil {
		log.Info("Closing Cassandra connection")
		session.Close()
		session = nil
		refCount = 0
	}
}
