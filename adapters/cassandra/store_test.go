package cassandra

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/gocql/gocql"

	"github.com/sharedcode/docstore"
	"github.com/sharedcode/docstore/internal/backendtest"
)

func Test_Config_Defaults(t *testing.T) {
	cfg := withDefaults(Config{})
	if cfg.Keyspace != "docstore" || cfg.Consistency != gocql.LocalQuorum || cfg.ReplicationClause == "" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	cfg = withDefaults(Config{Keyspace: "shop", Consistency: gocql.One})
	if cfg.Keyspace != "shop" || cfg.Consistency != gocql.One {
		t.Fatalf("explicit values overwritten: %+v", cfg)
	}
}

func Test_Store_NoConnection(t *testing.T) {
	if IsConnectionInstantiated() {
		t.Skip("a global connection is open")
	}
	if _, err := NewStore(nil, "").Get(context.Background(), "a"); err == nil {
		t.Fatalf("expected error without a connection")
	}
}

// Integration test, e.g. DOCSTORE_CASSANDRA_HOSTS=localhost.
func Test_Store_Contract(t *testing.T) {
	hosts := os.Getenv("DOCSTORE_CASSANDRA_HOSTS")
	if hosts == "" {
		t.Skip("DOCSTORE_CASSANDRA_HOSTS not set")
	}
	backendtest.Run(t, func(t *testing.T) docstore.Backend {
		ks := "docstore_test_" + strings.ReplaceAll(docstore.NewUUID().String(), "-", "")[:12]
		conn, err := OpenConnection(Config{ClusterHosts: strings.Split(hosts, ","), Keyspace: ks})
		if err != nil {
			t.Fatalf("OpenConnection failed: %v", err)
		}
		t.Cleanup(func() {
			conn.Session.Query("DROP KEYSPACE IF EXISTS " + ks).Exec()
			conn.Close()
		})
		return NewStore(conn, "/")
	})
}
