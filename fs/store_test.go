package fs

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sharedcode/docstore"
	"github.com/sharedcode/docstore/internal/backendtest"
)

func Test_Store_Contract(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) docstore.Backend {
		s, err := NewStore(Config{BasePath: t.TempDir()})
		if err != nil {
			t.Fatalf("NewStore failed: %v", err)
		}
		return s
	})
}

func Test_BlockFile_RoundTrip(t *testing.T) {
	ctx := context.Background()
	b := blockFile{dio: NewDirectIO()}
	name := filepath.Join(t.TempDir(), "a", "b.json")
	for _, data := range [][]byte{{}, []byte(`{"a":1}`), bytes.Repeat([]byte("x"), blockSize)} {
		if err := b.write(ctx, name, data, permission); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		fi, _ := os.Stat(name)
		if fi.Size()%blockSize != 0 {
			t.Fatalf("file size %d is not block aligned", fi.Size())
		}
		got, err := b.read(ctx, name)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("got %d bytes want %d", len(got), len(data))
		}
	}
	if _, err := os.Stat(name + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}
}

func Test_BlockFile_MissingAndCorrupt(t *testing.T) {
	ctx := context.Background()
	b := blockFile{dio: NewDirectIO()}
	dir := t.TempDir()
	got, err := b.read(ctx, filepath.Join(dir, "none"))
	if err != nil || got != nil {
		t.Fatalf("got %v, %v want nil, nil", got, err)
	}
	bad := filepath.Join(dir, "bad")
	os.WriteFile(bad, []byte("short"), 0o640)
	if _, err := b.read(ctx, bad); err == nil {
		t.Fatalf("expected error for a file with an invalid size")
	}
	if err := b.remove(filepath.Join(dir, "none")); err != nil {
		t.Fatalf("removing a missing file failed: %v", err)
	}
}

func Test_Store_FilePathAndPersistence(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	s, err := NewStore(Config{BasePath: base})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	p := s.ToFilePath("items/1")
	if !strings.HasPrefix(p, filepath.Join(base, "docs")) || !strings.HasSuffix(p, "items%2F1.json") {
		t.Fatalf("unexpected path %s", p)
	}
	if p != s.ToFilePath("items/1") {
		t.Fatalf("path is not stable")
	}
	r, err := s.Execute(ctx, []docstore.Command{{Kind: docstore.Put, ID: "items/", Document: docstore.Document{"n": 1.0}}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	s2, _ := NewStore(Config{BasePath: base})
	docs, err := s2.Get(ctx, r[0].ID)
	if err != nil || docs[0] == nil || !isOne(docs[0]["n"]) {
		t.Fatalf("got %v, %v want the stored document", docs, err)
	}
	r2, err := s2.Execute(ctx, []docstore.Command{{Kind: docstore.Put, ID: "items/", Document: docstore.Document{}}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if r2[0].ID == r[0].ID || r2[0].Version <= r[0].Version {
		t.Fatalf("sequences not persisted: %+v then %+v", r[0], r2[0])
	}
}

func Test_NewStore_Validation(t *testing.T) {
	if _, err := NewStore(Config{}); err == nil {
		t.Fatalf("expected error for empty base path")
	}
}

func isOne(v any) bool {
	eq, _ := docstore.NumbersEqual(v, 1)
	return eq
}
