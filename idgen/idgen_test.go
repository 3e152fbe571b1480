package idgen

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/sharedcode/docstore"
)

func Test_UUIDGenerator_PrefixesCollection(t *testing.T) {
	g := NewUUIDGenerator(docstore.DefaultOptions().Conventions)
	id, err := g.GenerateID(nil, "items")
	if err != nil {
		t.Fatalf("GenerateID failed: %v", err)
	}
	if !strings.HasPrefix(id, "items/") {
		t.Fatalf("got %q want items/ prefix", id)
	}
	if _, err := docstore.ParseUUID(strings.TrimPrefix(id, "items/")); err != nil {
		t.Fatalf("suffix is not a UUID: %v", err)
	}
}

func Test_UUIDGenerator_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewUUIDGenerator(docstore.Conventions{}).GenerateIDContext(ctx, nil, "items"); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v want context.Canceled", err)
	}
}

func Test_HiLo_SequentialWithinAndAcrossRanges(t *testing.T) {
	h := NewHiLo(NewLocalRangeSource(), 2, docstore.Conventions{})
	want := []string{"items/1", "items/2", "items/3", "items/4", "items/5"}
	for i, w := range want {
		id, err := h.GenerateID(nil, "items")
		if err != nil {
			t.Fatalf("GenerateID #%d failed: %v", i, err)
		}
		if id != w {
			t.Fatalf("GenerateID #%d got %q want %q", i, id, w)
		}
	}
	other, _ := h.GenerateID(nil, "users")
	if other != "users/1" {
		t.Fatalf("got %q want users/1", other)
	}
}

type countingSource struct {
	calls int
	inner RangeSource
}

func (c *countingSource) NextRange(ctx context.Context, collection string, size int64) (int64, int64, error) {
	c.calls++
	return c.inner.NextRange(ctx, collection, size)
}

func Test_HiLo_ReservesOnlyWhenExhausted(t *testing.T) {
	src := &countingSource{inner: NewLocalRangeSource()}
	h := NewHiLo(src, 10, docstore.Conventions{})
	for i := 0; i < 10; i++ {
		h.GenerateID(nil, "items")
	}
	if src.calls != 1 {
		t.Fatalf("got %d range reservations want 1", src.calls)
	}
	h.GenerateID(nil, "items")
	if src.calls != 2 {
		t.Fatalf("got %d range reservations want 2", src.calls)
	}
}

type failingSource struct{}

func (failingSource) NextRange(ctx context.Context, collection string, size int64) (int64, int64, error) {
	return 0, 0, errors.New("store down")
}

func Test_HiLo_SourceFailure(t *testing.T) {
	h := NewHiLo(failingSource{}, 0, docstore.Conventions{})
	if _, err := h.GenerateID(nil, "items"); err == nil {
		t.Fatalf("expected error from failing range source")
	}
}

func Test_HiLo_ConcurrentUnique(t *testing.T) {
	h := NewHiLo(NewLocalRangeSource(), 3, docstore.Conventions{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[string]bool{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id, err := h.GenerateID(nil, "items")
				if err != nil {
					t.Errorf("GenerateID failed: %v", err)
					return
				}
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %s", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != 400 {
		t.Fatalf("got %d ids want 400", len(seen))
	}
}
