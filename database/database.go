// Package database is the entry point of the docstore client: it holds the configuration
// and the collaborators shared by all sessions and opens sessions on demand.
package database

import (
	"fmt"
	log "log/slog"

	"github.com/sharedcode/docstore"
	"github.com/sharedcode/docstore/converter"
	"github.com/sharedcode/docstore/idgen"
	"github.com/sharedcode/docstore/session"
)

// Database manages the configuration and the backend shared by sessions.
// It is safe for concurrent use, the sessions it opens are not.
type Database struct {
	options     docstore.Options
	backend     docstore.Backend
	converter   docstore.Converter
	identity    docstore.IdentityAccessor
	idGenerator docstore.IDGenerator
	listeners   []any
	observers   []docstore.Observer
}

// Option customizes a Database.
type Option func(*Database)

// WithConverter replaces the default JSON converter.
func WithConverter(c docstore.Converter) Option {
	return func(db *Database) { db.converter = c }
}

// WithIdentityAccessor sets the accessor of entity id fields.
func WithIdentityAccessor(ia docstore.IdentityAccessor) Option {
	return func(db *Database) { db.identity = ia }
}

// WithIDGenerator replaces the default UUID id generator.
func WithIDGenerator(g docstore.IDGenerator) Option {
	return func(db *Database) { db.idGenerator = g }
}

// WithListener registers a session listener, see session.Session.AddListener.
func WithListener(l any) Option {
	return func(db *Database) { db.listeners = append(db.listeners, l) }
}

// WithObserver registers an observer notified by every session.
func WithObserver(o docstore.Observer) Option {
	return func(db *Database) { db.observers = append(db.observers, o) }
}

// Open validates options and returns a Database over backend.
func Open(options docstore.Options, backend docstore.Backend, opts ...Option) (*Database, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend can't be nil")
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}
	db := &Database{
		options: options,
		backend: backend,
	}
	for _, o := range opts {
		o(db)
	}
	if db.converter == nil {
		db.converter = converter.New(options.Conventions)
	}
	if db.identity == nil {
		if ia, ok := db.converter.(docstore.IdentityAccessor); ok {
			db.identity = ia
		} else {
			return nil, fmt.Errorf("converter %T does not access identities, use WithIdentityAccessor", db.converter)
		}
	}
	if db.idGenerator == nil {
		db.idGenerator = idgen.NewUUIDGenerator(options.Conventions)
	}
	log.Debug("database opened", "database", options.Database, "backend", fmt.Sprintf("%T", backend))
	return db, nil
}

// Options returns the database options.
func (db *Database) Options() docstore.Options {
	return db.options
}

// Backend returns the document store used by sessions.
func (db *Database) Backend() docstore.Backend {
	return db.backend
}

// NewSession opens a new unit of work.
func (db *Database) NewSession() (*session.Session, error) {
	return session.New(db.sessionConfig(db.options))
}

// NewSessionWithOptions opens a session with options overriding the database's.
func (db *Database) NewSessionWithOptions(options docstore.Options) (*session.Session, error) {
	return session.New(db.sessionConfig(options))
}

func (db *Database) sessionConfig(options docstore.Options) session.Config {
	return session.Config{
		Options:     options,
		Transport:   db.backend,
		Reader:      db.backend,
		Converter:   db.converter,
		Identity:    db.identity,
		IDGenerator: db.idGenerator,
		Listeners:   db.listeners,
		Observers:   db.observers,
	}
}
