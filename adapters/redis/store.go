package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/docstore"
	"github.com/sharedcode/docstore/encoding"
)

// Store is a document store keeping one JSON value per document. Batches run in a
// MULTI/EXEC transaction guarded by WATCH on every key they read, so a concurrent writer
// aborts the transaction and the batch is retried.
type Store struct {
	conn      *Connection
	separator string
}

var _ docstore.Backend = (*Store)(nil)

// NewStore returns a store over conn, or over the package connection when conn is nil.
func NewStore(conn *Connection, separator string) (*Store, error) {
	if conn == nil {
		mux.Lock()
		conn = connection
		mux.Unlock()
	}
	if conn == nil || conn.Client == nil {
		return nil, fmt.Errorf("redis connection is not open; can't create store")
	}
	if separator == "" {
		separator = "/"
	}
	return &Store{conn: conn, separator: separator}, nil
}

// Get fetches documents with ids, nil entries for missing ones.
func (s *Store) Get(ctx context.Context, ids ...string) ([]docstore.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.conn.documentKey(id)
	}
	values, err := s.conn.Client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get failed for %v: %w", ids, err)
	}
	return decodeDocuments(ids, values)
}

func decodeDocuments(ids []string, values []any) ([]docstore.Document, error) {
	r := make([]docstore.Document, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var d docstore.Document
		if err := encoding.DocumentMarshaler.Unmarshal([]byte(str), &d); err != nil {
			return nil, fmt.Errorf("redis document %s is corrupt: %w", ids[i], err)
		}
		r[i] = d
	}
	return r, nil
}

// Execute applies commands atomically.
func (s *Store) Execute(ctx context.Context, commands []docstore.Command) ([]docstore.Result, error) {
	var results []docstore.Result
	err := docstore.Retry(ctx, func(ctx context.Context) error {
		var err error
		results, err = s.execute(ctx, commands)
		if errors.Is(err, redis.TxFailedErr) {
			log.Debug("redis batch transaction aborted by a concurrent writer, retrying")
			return docstore.RetryableError(err)
		}
		return err
	}, nil)
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) execute(ctx context.Context, commands []docstore.Command) ([]docstore.Result, error) {
	prefixes := map[string]struct{}{}
	for _, c := range commands {
		if c.Kind == docstore.Put && docstore.NeedsServerID(c.ID, s.separator) {
			prefixes[docstore.ServerIDPrefix(c.ID, c.Document, s.separator)] = struct{}{}
		}
	}
	watched := []string{s.conn.versionKey()}
	for p := range prefixes {
		watched = append(watched, s.conn.sequenceKey(p))
	}

	var results []docstore.Result
	err := s.conn.Client.Watch(ctx, func(tx *redis.Tx) error {
		version, err := getInt(ctx, tx, s.conn.versionKey())
		if err != nil {
			return err
		}
		sequences := make(map[string]int64, len(prefixes))
		for p := range prefixes {
			if sequences[p], err = getInt(ctx, tx, s.conn.sequenceKey(p)); err != nil {
				return err
			}
		}

		// Resolve server assigned ids, then watch and read every target document.
		ids := make([]string, len(commands))
		seen := map[string]struct{}{}
		var docIDs, docKeys []string
		for i, c := range commands {
			ids[i] = c.ID
			if c.Kind == docstore.Put && docstore.NeedsServerID(c.ID, s.separator) {
				p := docstore.ServerIDPrefix(c.ID, c.Document, s.separator)
				sequences[p]++
				ids[i] = fmt.Sprintf("%s%d", p, sequences[p])
			}
			if _, ok := seen[ids[i]]; !ok {
				seen[ids[i]] = struct{}{}
				docIDs = append(docIDs, ids[i])
				docKeys = append(docKeys, s.conn.documentKey(ids[i]))
			}
		}
		if err := tx.Watch(ctx, docKeys...).Err(); err != nil {
			return err
		}
		values, err := tx.MGet(ctx, docKeys...).Result()
		if err != nil {
			return err
		}
		loaded, err := decodeDocuments(docIDs, values)
		if err != nil {
			return err
		}
		state := make(map[string]docstore.Document, len(docIDs))
		for i, id := range docIDs {
			state[id] = loaded[i]
		}

		now := time.Now()
		written := map[string]bool{}
		results = make([]docstore.Result, 0, len(commands))
		for i, c := range commands {
			m, err := docstore.ApplyCommand(c, ids[i], state[ids[i]], docstore.Version(version+1), now)
			if err != nil {
				return err
			}
			switch {
			case m.Write:
				version++
				state[m.ID] = m.Document
				written[m.ID] = true
			case m.Remove:
				state[m.ID] = nil
				written[m.ID] = true
			}
			results = append(results, m.Result)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for id := range written {
				d := state[id]
				if d == nil {
					pipe.Del(ctx, s.conn.documentKey(id))
					continue
				}
				ba, err := encoding.DocumentMarshaler.Marshal(d)
				if err != nil {
					return err
				}
				pipe.Set(ctx, s.conn.documentKey(id), ba, 0)
			}
			pipe.Set(ctx, s.conn.versionKey(), version, 0)
			for p, n := range sequences {
				pipe.Set(ctx, s.conn.sequenceKey(p), n, 0)
			}
			return nil
		})
		return err
	}, watched...)
	if err != nil {
		var de docstore.Error
		if errors.As(err, &de) || errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
		return nil, fmt.Errorf("redis batch of %d commands failed: %w", len(commands), err)
	}
	return results, nil
}

func getInt(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	n, err := tx.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
