package sql

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sharedcode/docstore"
	"github.com/sharedcode/docstore/internal/backendtest"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{DSN: filepath.Join(t.TempDir(), "db", "docstore.db")})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_SQLite_Contract(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) docstore.Backend {
		return newSQLiteStore(t)
	})
}

func Test_SQLite_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "docstore.db")
	s, err := Open(ctx, Config{DSN: path})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	r, err := s.Execute(ctx, []docstore.Command{{Kind: docstore.Put, ID: "items/", Document: docstore.Document{"n": 1.0}}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	s.Close()

	s, err = Open(ctx, Config{DSN: path})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	docs, err := s.Get(ctx, r[0].ID)
	if err != nil || docs[0] == nil {
		t.Fatalf("got %v, %v want the stored document", docs, err)
	}
	r2, err := s.Execute(ctx, []docstore.Command{{Kind: docstore.Put, ID: "items/", Document: docstore.Document{"n": 2.0}}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if r2[0].ID == r[0].ID || r2[0].Version <= r[0].Version {
		t.Fatalf("sequences not persisted: %+v then %+v", r[0], r2[0])
	}
}

func Test_Open_Validation(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "oracle"}); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
	if _, err := Open(context.Background(), Config{Driver: DriverPostgres}); err == nil {
		t.Fatalf("expected error for empty postgres dsn")
	}
}

func Test_Rebind(t *testing.T) {
	s := &Store{config: Config{Driver: DriverPostgres}}
	if got := s.rebind("SELECT a FROM t WHERE x = ? AND y = ?"); got != "SELECT a FROM t WHERE x = $1 AND y = $2" {
		t.Fatalf("got %v", got)
	}
	s.config.Driver = DriverSQLite
	if got := s.rebind("x = ?"); got != "x = ?" {
		t.Fatalf("got %v want x = ?", got)
	}
}

func Test_UniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("23505 not detected")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "42P01"}) {
		t.Fatalf("42P01 classified as unique violation")
	}
}

// Integration test, e.g. DOCSTORE_POSTGRES_DSN=postgres://localhost/docstore?sslmode=disable.
func Test_Postgres_Contract(t *testing.T) {
	dsn := os.Getenv("DOCSTORE_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DOCSTORE_POSTGRES_DSN not set")
	}
	backendtest.Run(t, func(t *testing.T) docstore.Backend {
		prefix := "t" + docstore.NewUUID().String()[:8] + "_"
		s, err := Open(context.Background(), Config{Driver: DriverPostgres, DSN: dsn, TablePrefix: prefix})
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		t.Cleanup(func() {
			s.DB().Exec("DROP TABLE IF EXISTS " + prefix + "documents")
			s.DB().Exec("DROP TABLE IF EXISTS " + prefix + "sequences")
			s.Close()
		})
		return s
	})
}
