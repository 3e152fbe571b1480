package database

import (
	"context"
	"testing"

	"github.com/sharedcode/docstore"
	"github.com/sharedcode/docstore/idgen"
	"github.com/sharedcode/docstore/inmemory"
	"github.com/sharedcode/docstore/session"
)

type user struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func Test_Open_Validates(t *testing.T) {
	if _, err := Open(docstore.DefaultOptions(), nil); err == nil {
		t.Fatalf("expected error for nil backend")
	}
	o := docstore.DefaultOptions()
	o.MaxRequestsPerSession = -1
	if _, err := Open(o, inmemory.NewStore()); err == nil {
		t.Fatalf("expected error for negative request budget")
	}
	db, err := Open(docstore.Options{}, inmemory.NewStore())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if db.Options().MaxRequestsPerSession != docstore.DefaultMaxRequestsPerSession {
		t.Fatalf("defaults not applied: %+v", db.Options())
	}
}

func Test_Database_SessionsShareBackend(t *testing.T) {
	ctx := context.Background()
	db, err := Open(docstore.DefaultOptions(), inmemory.NewStore(),
		WithIDGenerator(idgen.NewHiLo(idgen.NewLocalRangeSource(), 0, docstore.Conventions{})))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	s1, _ := db.NewSession()
	u := &user{Name: "ann", Age: 30}
	if err := s1.Store(u); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if u.ID != "users/1" {
		t.Fatalf("got id %q want users/1", u.ID)
	}
	if err := s1.SaveChanges(ctx); err != nil {
		t.Fatalf("SaveChanges failed: %v", err)
	}

	s2, _ := db.NewSession()
	if s1.ID() == s2.ID() || s1.Hash() == s2.Hash() {
		t.Fatalf("sessions should have distinct identities")
	}
	got, err := session.Load[*user](ctx, s2, "users/1")
	if err != nil || got == nil {
		t.Fatalf("Load got %v, %v", got, err)
	}
	if got == u {
		t.Fatalf("sessions must not share entity instances")
	}
	if got.Name != "ann" || got.Age != 30 {
		t.Fatalf("got %+v", got)
	}
}

func Test_Database_OptimisticConcurrencyAcrossSessions(t *testing.T) {
	ctx := context.Background()
	o := docstore.DefaultOptions()
	o.UseOptimisticConcurrency = true
	db, _ := Open(o, inmemory.NewStore())

	seed, _ := db.NewSession()
	seed.StoreWithID(&user{Name: "ann"}, "users/ann")
	if err := seed.SaveChanges(ctx); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	a, _ := db.NewSession()
	b, _ := db.NewSession()
	ua, _ := session.Load[*user](ctx, a, "users/ann")
	ub, _ := session.Load[*user](ctx, b, "users/ann")
	ua.Age = 1
	ub.Age = 2
	if err := a.SaveChanges(ctx); err != nil {
		t.Fatalf("first writer failed: %v", err)
	}
	if err := b.SaveChanges(ctx); !docstore.IsCode(err, docstore.ConcurrencyViolation) {
		t.Fatalf("got %v want ConcurrencyViolation", err)
	}
	if changed, _ := b.HasChanged(ub); !changed {
		t.Fatalf("losing session should keep its changes for a retry")
	}
}
