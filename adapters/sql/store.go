// Package sql provides a database/sql backed document store for SQLite (modernc, pure Go)
// and Postgres (pgx). A batch runs in one database transaction.
package sql

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"modernc.org/sqlite"

	"github.com/sharedcode/docstore"
	"github.com/sharedcode/docstore/encoding"
)

const (
	// DriverSQLite selects the modernc SQLite driver.
	DriverSQLite = "sqlite"
	// DriverPostgres selects the pgx Postgres driver.
	DriverPostgres = "pgx"

	versionSequence = "@version"
)

// Config holds the SQL store settings.
type Config struct {
	// Driver is DriverSQLite or DriverPostgres. Defaults to DriverSQLite.
	Driver string `json:"driver"`
	// DSN is the SQLite file path or the Postgres connection string.
	DSN string `json:"dsn"`
	// TablePrefix is prepended to the documents and sequences table names. Defaults to "docstore_".
	TablePrefix string `json:"table_prefix"`
	// Separator is the identity parts separator used for server assigned ids. Defaults to "/".
	Separator string `json:"separator"`
}

// Store persists one row per document.
type Store struct {
	db        *stdsql.DB
	config    Config
	documents string
	sequences string
	// SQLite allows one writer, batches of this process are serialized.
	locker sync.Mutex
}

var _ docstore.Backend = (*Store)(nil)

// Open opens the database described by cfg and ensures the tables exist.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	if cfg.TablePrefix == "" {
		cfg.TablePrefix = "docstore_"
	}
	if cfg.Separator == "" {
		cfg.Separator = "/"
	}
	switch cfg.Driver {
	case DriverSQLite:
		if cfg.DSN == "" {
			cfg.DSN = "docstore.db"
		}
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres dsn can't be empty")
		}
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}
	db, err := stdsql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	s := &Store{
		db:        db,
		config:    cfg,
		documents: cfg.TablePrefix + "documents",
		sequences: cfg.TablePrefix + "sequences",
	}
	if err := s.ensureTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("sql document store opened", "driver", cfg.Driver)
	return s, nil
}

func (s *Store) ensureTables(ctx context.Context) error {
	blob := "BLOB"
	if s.config.Driver == DriverPostgres {
		blob = "BYTEA"
	}
	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		body %s NOT NULL,
		version BIGINT NOT NULL,
		collection TEXT
	)`, s.documents, blob),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		name TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	)`, s.sequences),
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure tables: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying sql.DB.
func (s *Store) DB() *stdsql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// rebind turns '?' placeholders into the driver's form.
func (s *Store) rebind(query string) string {
	if s.config.Driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Get fetches documents with ids, nil entries for missing ones.
func (s *Store) Get(ctx context.Context, ids ...string) ([]docstore.Document, error) {
	r := make([]docstore.Document, len(ids))
	if len(ids) == 0 {
		return r, nil
	}
	args := make([]any, len(ids))
	for i := range ids {
		args[i] = ids[i]
	}
	q := fmt.Sprintf("SELECT id, body FROM %s WHERE id IN (%s)", s.documents, strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","))
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("select documents: %w", err)
	}
	defer func() { _ = rows.Close() }()
	found := map[string]docstore.Document{}
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var d docstore.Document
		if err := encoding.DocumentMarshaler.Unmarshal(body, &d); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", id, err)
		}
		found[id] = d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, id := range ids {
		if d, ok := found[id]; ok {
			// Duplicate ids in the request get distinct copies.
			r[i] = d.Clone()
		}
	}
	return r, nil
}

// Execute applies commands in one transaction, a failing command rolls back the batch.
func (s *Store) Execute(ctx context.Context, commands []docstore.Command) (_ []docstore.Result, retErr error) {
	s.locker.Lock()
	defer s.locker.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	version, err := s.reserve(ctx, tx, versionSequence, int64(len(commands)))
	if err != nil {
		return nil, err
	}
	now := time.Now()
	results := make([]docstore.Result, 0, len(commands))
	for _, c := range commands {
		id := c.ID
		if c.Kind == docstore.Put && docstore.NeedsServerID(id, s.config.Separator) {
			n, err := s.reserve(ctx, tx, "seq:"+docstore.ServerIDPrefix(id, c.Document, s.config.Separator), 1)
			if err != nil {
				return nil, err
			}
			id = docstore.ServerID(id, c.Document, n, s.config.Separator)
		}
		current, err := s.current(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		m, err := docstore.ApplyCommand(c, id, current, docstore.Version(version), now)
		if err != nil {
			return nil, err
		}
		switch {
		case m.Write:
			version++
			if err := s.put(ctx, tx, id, current != nil, m.Document); err != nil {
				return nil, err
			}
		case m.Remove:
			if _, err := tx.ExecContext(ctx, s.rebind(fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.documents)), id); err != nil {
				return nil, fmt.Errorf("delete %s: %w", id, err)
			}
		}
		results = append(results, m.Result)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return results, nil
}

func (s *Store) current(ctx context.Context, tx *stdsql.Tx, id string) (docstore.Document, error) {
	q := fmt.Sprintf("SELECT body FROM %s WHERE id = ?", s.documents)
	if s.config.Driver == DriverPostgres {
		q += " FOR UPDATE"
	}
	var body []byte
	if err := tx.QueryRowContext(ctx, s.rebind(q), id).Scan(&body); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select %s: %w", id, err)
	}
	var d docstore.Document
	if err := encoding.DocumentMarshaler.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	return d, nil
}

// put inserts a new row or updates the existing one. A concurrent insert of the same id
// is reported as ConcurrencyViolation.
func (s *Store) put(ctx context.Context, tx *stdsql.Tx, id string, exists bool, doc docstore.Document) error {
	body, err := encoding.DocumentMarshaler.Marshal(doc)
	if err != nil {
		return err
	}
	md := doc.Metadata()
	var q string
	if exists {
		q = fmt.Sprintf("UPDATE %s SET body = ?, version = ?, collection = ? WHERE id = ?", s.documents)
		_, err = tx.ExecContext(ctx, s.rebind(q), body, int64(md.Version()), md.Collection(), id)
	} else {
		q = fmt.Sprintf("INSERT INTO %s (id, body, version, collection) VALUES (?, ?, ?, ?)", s.documents)
		_, err = tx.ExecContext(ctx, s.rebind(q), id, body, int64(md.Version()), md.Collection())
	}
	if err != nil {
		if isUniqueViolation(err) {
			return docstore.NewError(docstore.ConcurrencyViolation, id, "document %s was created by a concurrent writer", id)
		}
		return fmt.Errorf("upsert %s: %w", id, err)
	}
	return nil
}

// reserve advances the named sequence by n and returns the first reserved number.
func (s *Store) reserve(ctx context.Context, tx *stdsql.Tx, name string, n int64) (int64, error) {
	q := fmt.Sprintf(`INSERT INTO %[1]s (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = %[1]s.value + excluded.value
		RETURNING value`, s.sequences)
	var last int64
	if err := tx.QueryRowContext(ctx, s.rebind(q), name, n).Scan(&last); err != nil {
		return 0, fmt.Errorf("reserve sequence %s: %w", name, err)
	}
	return last - n + 1, nil
}

func isUniqueViolation(err error) bool {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		// SQLITE_CONSTRAINT and its extended codes.
		return se.Code()&0xff == 19
	}
	return false
}
