package session

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sharedcode/docstore"
)

type item struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Price float64  `json:"price"`
	Tags  []string `json:"tags,omitempty"`
}

// fakeBackend is a scripted Transport and DocumentReader.
type fakeBackend struct {
	docs     map[string]docstore.Document
	gets     [][]string
	batches  [][]docstore.Command
	version  docstore.Version
	seq      int
	fail     error
	truncate bool
	// beforeExecute runs when a batch arrives, before it is applied.
	beforeExecute func()
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{docs: map[string]docstore.Document{}}
}

func (f *fakeBackend) put(id string, version docstore.Version, body docstore.Document) {
	d := body.Clone()
	d[docstore.MetadataKey] = map[string]any{
		docstore.MetadataID:         id,
		docstore.MetadataVersion:    int64(version),
		docstore.MetadataCollection: strings.Split(id, "/")[0],
	}
	f.docs[id] = d
	if version > f.version {
		f.version = version
	}
}

func (f *fakeBackend) Get(ctx context.Context, ids ...string) ([]docstore.Document, error) {
	f.gets = append(f.gets, ids)
	r := make([]docstore.Document, len(ids))
	for i, id := range ids {
		if d, ok := f.docs[id]; ok {
			r[i] = d.Clone()
		}
	}
	return r, nil
}

func (f *fakeBackend) Execute(ctx context.Context, commands []docstore.Command) ([]docstore.Result, error) {
	f.batches = append(f.batches, commands)
	if f.beforeExecute != nil {
		f.beforeExecute()
	}
	if f.fail != nil {
		return nil, f.fail
	}
	r := make([]docstore.Result, 0, len(commands))
	for _, c := range commands {
		res := docstore.Result{Kind: c.Kind, ID: c.ID}
		switch c.Kind {
		case docstore.Put:
			if c.ID == "" || strings.HasSuffix(c.ID, "/") {
				f.seq++
				res.ID = fmt.Sprintf("%s%d", c.ID, f.seq)
			}
			f.version++
			res.Version = f.version
			d := c.Document.Clone()
			md := d.Metadata()
			md[docstore.MetadataID] = res.ID
			md[docstore.MetadataVersion] = int64(res.Version)
			f.docs[res.ID] = d
		case docstore.Delete:
			delete(f.docs, c.ID)
		}
		r = append(r, res)
	}
	if f.truncate {
		r = r[:len(r)-1]
	}
	return r, nil
}

// fixedGenerator returns the same id for every entity.
type fixedGenerator string

func (g fixedGenerator) GenerateID(entity any, collection string) (string, error) {
	return string(g), nil
}

func (g fixedGenerator) GenerateIDContext(ctx context.Context, entity any, collection string) (string, error) {
	return string(g), nil
}

func newTestSession(t *testing.T, b *fakeBackend, mutate ...func(*Config)) *Session {
	t.Helper()
	cfg := Config{
		Options:   docstore.DefaultOptions(),
		Transport: b,
		Reader:    b,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func kinds(commands []docstore.Command) []docstore.CommandKind {
	r := make([]docstore.CommandKind, len(commands))
	for i, c := range commands {
		r[i] = c.Kind
	}
	return r
}

func mustLoad(t *testing.T, s *Session, id string) *item {
	t.Helper()
	e, err := Load[*item](context.Background(), s, id)
	if err != nil {
		t.Fatalf("Load(%s) failed: %v", id, err)
	}
	if e == nil {
		t.Fatalf("Load(%s) got nil", id)
	}
	return e
}
