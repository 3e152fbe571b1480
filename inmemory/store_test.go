package inmemory

import (
	"context"
	"testing"

	"github.com/sharedcode/docstore"
	"github.com/sharedcode/docstore/internal/backendtest"
)

func Test_Store_Contract(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) docstore.Backend { return NewStore() })
}

func Test_Store_GetReturnsCopies(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	s.Execute(ctx, []docstore.Command{{Kind: docstore.Put, ID: "a/1", Document: docstore.Document{"x": 1.0}}})
	d, _ := s.Get(ctx, "a/1")
	d[0]["x"] = 2.0
	again, _ := s.Get(ctx, "a/1")
	if again[0]["x"] != 1.0 {
		t.Fatalf("store content changed through a returned document")
	}
	if s.Len() != 1 || s.Version() != 1 {
		t.Fatalf("got len %d version %d want 1, 1", s.Len(), s.Version())
	}
}

func Test_Store_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewStore().Execute(ctx, []docstore.Command{{Kind: docstore.Put, ID: "a/1"}}); err == nil {
		t.Fatalf("expected context error")
	}
}
