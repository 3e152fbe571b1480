// Package fs contains a file system backed document store. Documents are stored one
// file each, written with direct I/O and spread over a 4-level folder hierarchy.
package fs

import (
	"context"
	"fmt"
	"hash/fnv"
	log "log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sharedcode/docstore"
	"github.com/sharedcode/docstore/encoding"
)

const (
	permission      = 0o640
	versionSequence = "@version"
)

// Config holds the file system store settings.
type Config struct {
	// BasePath is the folder holding the store.
	BasePath string `json:"base_path"`
	// Separator is the identity parts separator used for server assigned ids. Defaults to "/".
	Separator string `json:"separator"`
}

// Store keeps documents as files under BasePath. Batches of this process are
// serialized and every precondition is validated before the first file is written.
// The store is meant for a single process, there is no cross process locking.
type Store struct {
	config Config
	files  blockFile
	locker sync.Mutex
}

var _ docstore.Backend = (*Store)(nil)

// NewStore returns a store rooted at cfg.BasePath, creating the folder if needed.
func NewStore(cfg Config) (*Store, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("base path can't be empty")
	}
	if cfg.Separator == "" {
		cfg.Separator = "/"
	}
	if err := os.MkdirAll(cfg.BasePath, 0o750); err != nil {
		return nil, fmt.Errorf("create base path %s: %w", cfg.BasePath, err)
	}
	return &Store{config: cfg, files: blockFile{dio: NewDirectIO()}}, nil
}

// ToFilePath returns the file holding the document with id. The folder levels come
// from a hash of the id, keeping per folder file counts low.
func (s *Store) ToFilePath(id string) string {
	h := fnv.New32a()
	h.Write([]byte(id))
	x := fmt.Sprintf("%08x", h.Sum32())
	return filepath.Join(s.config.BasePath, "docs", x[0:1], x[1:2], x[2:3], x[3:4], url.PathEscape(id)+".json")
}

func (s *Store) sequencesPath() string {
	return filepath.Join(s.config.BasePath, "sequences.json")
}

// Get fetches documents with ids, nil entries for missing ones.
func (s *Store) Get(ctx context.Context, ids ...string) ([]docstore.Document, error) {
	r := make([]docstore.Document, len(ids))
	for i, id := range ids {
		d, err := s.readDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		r[i] = d
	}
	return r, nil
}

func (s *Store) readDocument(ctx context.Context, id string) (docstore.Document, error) {
	ba, err := s.files.read(ctx, s.ToFilePath(id))
	if err != nil {
		return nil, fmt.Errorf("fs get failed for %s: %w", id, err)
	}
	if ba == nil {
		return nil, nil
	}
	var d docstore.Document
	if err := encoding.DocumentMarshaler.Unmarshal(ba, &d); err != nil {
		return nil, fmt.Errorf("fs document %s is corrupt: %w", id, err)
	}
	return d, nil
}

// Execute applies commands, see Store for the atomicity guarantees.
func (s *Store) Execute(ctx context.Context, commands []docstore.Command) ([]docstore.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.locker.Lock()
	defer s.locker.Unlock()

	seqs := map[string]int64{}
	ba, err := s.files.read(ctx, s.sequencesPath())
	if err != nil {
		return nil, err
	}
	if ba != nil {
		if err := encoding.DefaultMarshaler.Unmarshal(ba, &seqs); err != nil {
			return nil, fmt.Errorf("sequences file is corrupt: %w", err)
		}
	}

	state := map[string]docstore.Document{}
	var order []string
	now := time.Now()
	results := make([]docstore.Result, 0, len(commands))
	for _, c := range commands {
		id := c.ID
		if c.Kind == docstore.Put && docstore.NeedsServerID(id, s.config.Separator) {
			p := "seq:" + docstore.ServerIDPrefix(id, c.Document, s.config.Separator)
			seqs[p]++
			id = docstore.ServerID(id, c.Document, seqs[p], s.config.Separator)
		}
		current, ok := state[id]
		if !ok {
			if current, err = s.readDocument(ctx, id); err != nil {
				return nil, err
			}
		}
		m, err := docstore.ApplyCommand(c, id, current, docstore.Version(seqs[versionSequence]+1), now)
		if err != nil {
			return nil, err
		}
		if m.Write || m.Remove {
			if _, seen := state[id]; !seen {
				order = append(order, id)
			}
			if m.Write {
				seqs[versionSequence]++
			}
			state[id] = m.Document
		} else if !ok {
			state[id] = current
		}
		results = append(results, m.Result)
	}

	if ba, err = encoding.DefaultMarshaler.Marshal(seqs); err != nil {
		return nil, err
	}
	if err := s.files.write(ctx, s.sequencesPath(), ba, permission); err != nil {
		return nil, fmt.Errorf("fs sequences write failed: %w", err)
	}
	for _, id := range order {
		if err := s.writeDocument(ctx, id, state[id]); err != nil {
			log.Warn("fs batch partially applied", "id", id, "error", err)
			return nil, err
		}
	}
	return results, nil
}

func (s *Store) writeDocument(ctx context.Context, id string, doc docstore.Document) error {
	path := s.ToFilePath(id)
	if doc == nil {
		if err := s.files.remove(path); err != nil {
			return fmt.Errorf("fs remove failed for %s: %w", id, err)
		}
		return nil
	}
	ba, err := encoding.DocumentMarshaler.Marshal(doc)
	if err != nil {
		return err
	}
	if err := s.files.write(ctx, path, ba, permission); err != nil {
		return fmt.Errorf("fs put failed for %s: %w", id, err)
	}
	return nil
}
