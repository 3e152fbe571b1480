// Package redis provides a Redis backed document store, a HiLo range source and a
// high watermark publisher.
package redis

import (
	"crypto/tls"
	"fmt"
	"sync"

	log "log/slog"

	"github.com/redis/go-redis/v9"
)

// Options holds configuration for connecting to a Redis server.
type Options struct {
	// Address is the host:port of the Redis server.
	Address string `json:"address"`
	// Password is the password used to authenticate.
	Password string `json:"password,omitempty"`
	// DB is the database index to select.
	DB int `json:"db"`
	// KeyPrefix namespaces every key written by this package. Defaults to "docstore:".
	KeyPrefix string `json:"key_prefix,omitempty"`
	// TLSConfig contains TLS configuration for secure connections.
	TLSConfig *tls.Config `json:"-"`
}

// DefaultOptions returns Options with localhost defaults (no password, DB 0).
func DefaultOptions() Options {
	return Options{
		Address:   "localhost:6379",
		KeyPrefix: defaultKeyPrefix,
	}
}

const defaultKeyPrefix = "docstore:"

// Connection wraps a redis.Client and the Options used to create it.
type Connection struct {
	Client  *redis.Client
	Options Options
}

var connection *Connection
var mux sync.Mutex

// IsConnectionInstantiated reports whether the package-level singleton connection exists.
func IsConnectionInstantiated() bool {
	mux.Lock()
	defer mux.Unlock()
	return connection != nil
}

// OpenConnection initializes and returns the package-level singleton connection.
// Subsequent calls return the same connection.
func OpenConnection(options Options) (*Connection, error) {
	mux.Lock()
	defer mux.Unlock()
	if connection != nil {
		return connection, nil
	}
	log.Info("Opening Redis connection", "address", options.Address, "db", options.DB)
	connection = NewConnection(options)
	return connection, nil
}

// OpenConnectionWithURL initializes the package-level singleton connection from a Redis URI.
func OpenConnectionWithURL(url string) (*Connection, error) {
	mux.Lock()
	defer mux.Unlock()
	if connection != nil {
		return connection, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	log.Info("Opening Redis connection with URL", "address", opts.Addr, "db", opts.DB)
	connection = newConnection(opts, defaultKeyPrefix)
	return connection, nil
}

// CloseConnection closes the package-level singleton connection, if present.
func CloseConnection() error {
	mux.Lock()
	defer mux.Unlock()
	if connection == nil {
		return nil
	}
	log.Info("Closing Redis connection")
	err := connection.Close()
	connection = nil
	return err
}

// NewConnection creates a connection not shared through the package singleton. The
// caller owns it and has to Close it.
func NewConnection(options Options) *Connection {
	return newConnection(&redis.Options{
		TLSConfig: options.TLSConfig,
		Addr:      options.Address,
		Password:  options.Password,
		DB:        options.DB,
	}, options.KeyPrefix)
}

func newConnection(opts *redis.Options, prefix string) *Connection {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Connection{
		Client: redis.NewClient(opts),
		Options: Options{
			Address:   opts.Addr,
			Password:  opts.Password,
			DB:        opts.DB,
			KeyPrefix: prefix,
			TLSConfig: opts.TLSConfig,
		},
	}
}

// Close closes the underlying client, if not already closed.
func (c *Connection) Close() error {
	if c == nil || c.Client == nil {
		return nil
	}
	err := c.Client.Close()
	c.Client = nil
	return err
}

func (c *Connection) documentKey(id string) string {
	return c.Options.KeyPrefix + "doc:" + id
}

func (c *Connection) versionKey() string {
	return c.Options.KeyPrefix + "version"
}

func (c *Connection) sequenceKey(prefix string) string {
	return c.Options.KeyPrefix + "seq:" + prefix
}

func (c *Connection) hiloKey(collection string) string {
	return c.Options.KeyPrefix + "hilo:" + collection
}

func (c *Connection) watermarkKey() string {
	return c.Options.KeyPrefix + "watermark"
}
