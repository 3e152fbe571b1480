// Package inmemory contains a process local document store, handy for tests and for
// applications that need the unit of work without a database.
package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/sharedcode/docstore"
)

// Store keeps documents in a map. Batches are applied atomically, a failing command
// leaves the store untouched. Store is safe for concurrent use.
type Store struct {
	locker    sync.Mutex
	docs      *documentRepository
	version   docstore.Version
	sequence  int64
	separator string
	now       func() time.Time
}

var _ docstore.Backend = (*Store)(nil)

// NewStore returns an empty in-memory store using "/" as identity parts separator.
func NewStore() *Store {
	return NewStoreWithSeparator("/")
}

// NewStoreWithSeparator returns an empty in-memory store.
func NewStoreWithSeparator(separator string) *Store {
	return &Store{
		docs:      newDocumentRepository(nil),
		separator: separator,
		now:       time.Now,
	}
}

// Execute applies commands in order as one atomic batch.
func (s *Store) Execute(ctx context.Context, commands []docstore.Command) ([]docstore.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.locker.Lock()
	defer s.locker.Unlock()

	staged := newDocumentRepository(s.docs)
	version, sequence := s.version, s.sequence
	now := s.now()
	results := make([]docstore.Result, 0, len(commands))
	for _, c := range commands {
		id := c.ID
		if c.Kind == docstore.Put && docstore.NeedsServerID(id, s.separator) {
			sequence++
			id = docstore.ServerID(id, c.Document, sequence, s.separator)
		}
		m, err := docstore.ApplyCommand(c, id, staged.Get(id), version+1, now)
		if err != nil {
			return nil, err
		}
		if m.Write {
			version++
			staged.Add(id, m.Document)
		}
		if m.Remove {
			staged.Remove(id)
		}
		results = append(results, m.Result)
	}
	staged.merge()
	s.version, s.sequence = version, sequence
	return results, nil
}

// Get returns copies of the documents with ids, nil entries for missing ones.
func (s *Store) Get(ctx context.Context, ids ...string) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.locker.Lock()
	defer s.locker.Unlock()
	r := make([]docstore.Document, len(ids))
	for i, id := range ids {
		r[i] = s.docs.Get(id).Clone()
	}
	return r, nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.locker.Lock()
	defer s.locker.Unlock()
	return s.docs.count()
}

// Version returns the last version assigned by the store.
func (s *Store) Version() docstore.Version {
	s.locker.Lock()
	defer s.locker.Unlock()
	return s.version
}
