package cassandra

import (
	"context"
	"fmt"
	"time"

	log "log/slog"

	"github.com/gocql/gocql"
	"golang.org/x/sync/errgroup"

	"github.com/sharedcode/docstore"
	"github.com/sharedcode/docstore/encoding"
)

// maxReadConcurrency caps the parallel single partition reads of one batch.
const maxReadConcurrency = 16

// versionSequence is the sequences row holding the store wide version counter.
const versionSequence = "@version"

// Store keeps one row per document in the documents table. Writes are guarded by
// lightweight transactions on the version read before the batch was applied, so a
// concurrent writer is detected as a ConcurrencyViolation. Cassandra can't make a
// multi partition write atomic: all preconditions are verified before the first write,
// but a conflict detected mid-way leaves the earlier writes of the batch applied.
type Store struct {
	connection *Connection
	separator  string
}

var _ docstore.Backend = (*Store)(nil)

// NewStore returns a store over connection, or over the global connection when nil.
func NewStore(connection *Connection, separator string) *Store {
	if separator == "" {
		separator = "/"
	}
	return &Store{connection: connection, separator: separator}
}

func (s *Store) getConnection() (*Connection, error) {
	if s.connection != nil {
		return s.connection, nil
	}
	return GetGlobalConnection()
}

type row struct {
	doc     docstore.Document
	version int64
}

// Get fetches documents with ids, nil entries for missing ones.
func (s *Store) Get(ctx context.Context, ids ...string) ([]docstore.Document, error) {
	conn, err := s.getConnection()
	if err != nil {
		return nil, err
	}
	rows, err := s.read(ctx, conn, ids)
	if err != nil {
		return nil, err
	}
	r := make([]docstore.Document, len(ids))
	for i := range ids {
		r[i] = rows[i].doc
	}
	return r, nil
}

func (s *Store) read(ctx context.Context, conn *Connection, ids []string) ([]row, error) {
	rows := make([]row, len(ids))
	stmt := fmt.Sprintf("SELECT body, version FROM %s.documents WHERE id = ?;", conn.Config.Keyspace)
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxReadConcurrency)
	for i, id := range ids {
		i, id := i, id
		eg.Go(func() error {
			qry := conn.Session.Query(stmt, id).WithContext(ctx)
			if conn.Config.ConsistencyBook.DocumentGet > gocql.Any {
				qry.Consistency(conn.Config.ConsistencyBook.DocumentGet)
			}
			var body []byte
			var version int64
			if err := qry.Scan(&body, &version); err != nil {
				if err == gocql.ErrNotFound {
					return nil
				}
				return fmt.Errorf("cassandra get failed for %s: %w", id, err)
			}
			var d docstore.Document
			if err := encoding.DocumentMarshaler.Unmarshal(body, &d); err != nil {
				return fmt.Errorf("cassandra document %s is corrupt: %w", id, err)
			}
			rows[i] = row{doc: d, version: version}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

// Execute applies commands, see Store for the atomicity guarantees.
func (s *Store) Execute(ctx context.Context, commands []docstore.Command) ([]docstore.Result, error) {
	conn, err := s.getConnection()
	if err != nil {
		return nil, err
	}

	// Reserve server assigned id numbers per prefix and one version per command.
	ids := make([]string, len(commands))
	need := map[string]int64{}
	for i, c := range commands {
		ids[i] = c.ID
		if c.Kind == docstore.Put && docstore.NeedsServerID(c.ID, s.separator) {
			need[docstore.ServerIDPrefix(c.ID, c.Document, s.separator)]++
		}
	}
	next := map[string]int64{}
	for p, n := range need {
		if next[p], err = s.reserve(ctx, conn, "seq:"+p, n); err != nil {
			return nil, err
		}
	}
	for i, c := range commands {
		if c.Kind == docstore.Put && docstore.NeedsServerID(c.ID, s.separator) {
			p := docstore.ServerIDPrefix(c.ID, c.Document, s.separator)
			ids[i] = fmt.Sprintf("%s%d", p, next[p])
			next[p]++
		}
	}
	version, err := s.reserve(ctx, conn, versionSequence, int64(len(commands)))
	if err != nil {
		return nil, err
	}

	var distinct []string
	index := map[string]int{}
	for _, id := range ids {
		if _, ok := index[id]; !ok {
			index[id] = len(distinct)
			distinct = append(distinct, id)
		}
	}
	rows, err := s.read(ctx, conn, distinct)
	if err != nil {
		return nil, err
	}
	state := make(map[string]docstore.Document, len(distinct))
	for i, id := range distinct {
		state[id] = rows[i].doc
	}

	now := time.Now()
	touched := map[string]bool{}
	results := make([]docstore.Result, 0, len(commands))
	for i, c := range commands {
		m, err := docstore.ApplyCommand(c, ids[i], state[ids[i]], docstore.Version(version), now)
		if err != nil {
			return nil, err
		}
		if m.Write {
			version++
			state[m.ID] = m.Document
			touched[m.ID] = true
		} else if m.Remove {
			state[m.ID] = nil
			touched[m.ID] = true
		}
		results = append(results, m.Result)
	}

	for _, id := range distinct {
		if !touched[id] {
			continue
		}
		before := rows[index[id]]
		if err := s.write(ctx, conn, id, before, state[id]); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// write persists the final state of one document, conditioned on the row being unchanged since read.
func (s *Store) write(ctx context.Context, conn *Connection, id string, before row, after docstore.Document) error {
	ks := conn.Config.Keyspace
	var qry *gocql.Query
	var consistency gocql.Consistency
	switch {
	case after == nil && before.doc == nil:
		return nil
	case after == nil:
		qry = conn.Session.Query(fmt.Sprintf("DELETE FROM %s.documents WHERE id = ? IF version = ?;", ks), id, before.version)
		consistency = conn.Config.ConsistencyBook.DocumentRemove
	default:
		body, err := encoding.DocumentMarshaler.Marshal(after)
		if err != nil {
			return err
		}
		md := after.Metadata()
		if before.doc == nil {
			qry = conn.Session.Query(fmt.Sprintf("INSERT INTO %s.documents (id, body, version, collection) VALUES (?, ?, ?, ?) IF NOT EXISTS;", ks),
				id, body, int64(md.Version()), md.Collection())
		} else {
			qry = conn.Session.Query(fmt.Sprintf("UPDATE %s.documents SET body = ?, version = ?, collection = ? WHERE id = ? IF version = ?;", ks),
				body, int64(md.Version()), md.Collection(), id, before.version)
		}
		consistency = conn.Config.ConsistencyBook.DocumentPut
	}
	qry = qry.WithContext(ctx)
	if consistency > gocql.Any {
		qry.Consistency(consistency)
	}
	if sc := conn.Config.ConsistencyBook.SerialConsistency; sc != 0 {
		qry.SerialConsistency(sc)
	}
	applied, err := qry.MapScanCAS(map[string]any{})
	if err != nil {
		return fmt.Errorf("cassandra write failed for %s: %w", id, err)
	}
	if !applied {
		log.Warn("cassandra conditional write rejected, batch partially applied", "id", id)
		return docstore.NewError(docstore.ConcurrencyViolation, id, "document %s was changed by a concurrent writer", id)
	}
	return nil
}

// reserve advances the named sequence by n and returns the first reserved number.
func (s *Store) reserve(ctx context.Context, conn *Connection, name string, n int64) (int64, error) {
	ks := conn.Config.Keyspace
	var first int64
	err := docstore.Retry(ctx, func(ctx context.Context) error {
		var cur int64
		err := conn.Session.Query(fmt.Sprintf("SELECT value FROM %s.sequences WHERE name = ?;", ks), name).WithContext(ctx).Scan(&cur)
		var applied bool
		switch {
		case err == gocql.ErrNotFound:
			applied, err = conn.Session.Query(fmt.Sprintf("INSERT INTO %s.sequences (name, value) VALUES (?, ?) IF NOT EXISTS;", ks), name, n).
				WithContext(ctx).MapScanCAS(map[string]any{})
		case err == nil:
			applied, err = conn.Session.Query(fmt.Sprintf("UPDATE %s.sequences SET value = ? WHERE name = ? IF value = ?;", ks), cur+n, name, cur).
				WithContext(ctx).MapScanCAS(map[string]any{})
		}
		if err != nil {
			return fmt.Errorf("cassandra sequence reservation failed for %s: %w", name, err)
		}
		if !applied {
			return docstore.RetryableError(fmt.Errorf("cassandra sequence %s contended", name))
		}
		first = cur + 1
		return nil
	}, nil)
	return first, err
}
