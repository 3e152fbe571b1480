// Package backendtest holds the contract tests every document store backend has to pass.
package backendtest

import (
	"context"
	"strings"
	"testing"

	"github.com/sharedcode/docstore"
)

// Factory returns a new, empty backend. Cleanup is the factory's responsibility (t.Cleanup).
type Factory func(t *testing.T) docstore.Backend

// Run executes the backend contract tests.
func Run(t *testing.T, newBackend Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, b docstore.Backend)
	}{
		{"PutGet", putGet},
		{"ServerAssignedIDs", serverAssignedIDs},
		{"MustNotExist", mustNotExist},
		{"VersionPrecondition", versionPrecondition},
		{"AtomicBatch", atomicBatch},
		{"DeleteAndMissing", deleteAndMissing},
		{"Patch", patch},
		{"MonotonicVersions", monotonicVersions},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			c.fn(t, newBackend(t))
		})
	}
}

func doc(collection string, kv ...any) docstore.Document {
	d := docstore.Document{docstore.MetadataKey: map[string]any{docstore.MetadataCollection: collection}}
	for i := 0; i+1 < len(kv); i += 2 {
		d[kv[i].(string)] = kv[i+1]
	}
	return d
}

func execute(t *testing.T, b docstore.Backend, commands ...docstore.Command) []docstore.Result {
	t.Helper()
	r, err := b.Execute(context.Background(), commands)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(r) != len(commands) {
		t.Fatalf("got %d results want %d", len(r), len(commands))
	}
	return r
}

func get(t *testing.T, b docstore.Backend, id string) docstore.Document {
	t.Helper()
	r, err := b.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", id, err)
	}
	if len(r) != 1 {
		t.Fatalf("got %d documents want 1", len(r))
	}
	return r[0]
}

func putGet(t *testing.T, b docstore.Backend) {
	r := execute(t, b, docstore.Command{Kind: docstore.Put, ID: "items/a", Document: doc("items", "name", "pen")})
	if r[0].Kind != docstore.Put || r[0].ID != "items/a" || r[0].Version <= 0 {
		t.Fatalf("unexpected result %+v", r[0])
	}
	d := get(t, b, "items/a")
	if d == nil {
		t.Fatalf("items/a not found")
	}
	if d["name"] != "pen" {
		t.Fatalf("got name %v want pen", d["name"])
	}
	md := d.Metadata()
	if md.ID() != "items/a" || md.Version() != r[0].Version || md.Collection() != "items" {
		t.Fatalf("unexpected metadata %v", md)
	}
	docs, err := b.Get(context.Background(), "items/a", "items/none")
	if err != nil || len(docs) != 2 || docs[0] == nil || docs[1] != nil {
		t.Fatalf("multi get got %v, %v", docs, err)
	}
}

func serverAssignedIDs(t *testing.T, b docstore.Backend) {
	r := execute(t, b,
		docstore.Command{Kind: docstore.Put, ID: "items/", Document: doc("items", "n", 1.0)},
		docstore.Command{Kind: docstore.Put, ID: "", Document: doc("items", "n", 2.0)},
	)
	if !strings.HasPrefix(r[0].ID, "items/") || r[0].ID == "items/" {
		t.Fatalf("got %q want a server assigned items/ id", r[0].ID)
	}
	if !strings.HasPrefix(r[1].ID, "items/") || r[1].ID == r[0].ID {
		t.Fatalf("got %q want a distinct server assigned items/ id", r[1].ID)
	}
	if get(t, b, r[1].ID) == nil {
		t.Fatalf("%s not found", r[1].ID)
	}
}

func mustNotExist(t *testing.T, b docstore.Backend) {
	c := docstore.Command{Kind: docstore.Put, ID: "items/x", Document: doc("items"), ExpectedVersion: docstore.VersionPtr(docstore.VersionMustNotExist)}
	execute(t, b, c)
	_, err := b.Execute(context.Background(), []docstore.Command{c})
	if !docstore.IsCode(err, docstore.ConcurrencyViolation) {
		t.Fatalf("got %v want ConcurrencyViolation", err)
	}
}

func versionPrecondition(t *testing.T, b docstore.Backend) {
	r := execute(t, b, docstore.Command{Kind: docstore.Put, ID: "items/v", Document: doc("items", "n", 1.0)})
	v := r[0].Version
	stale := docstore.VersionPtr(v + 100)
	_, err := b.Execute(context.Background(), []docstore.Command{{Kind: docstore.Put, ID: "items/v", Document: doc("items", "n", 2.0), ExpectedVersion: stale}})
	if !docstore.IsCode(err, docstore.ConcurrencyViolation) {
		t.Fatalf("got %v want ConcurrencyViolation", err)
	}
	r = execute(t, b, docstore.Command{Kind: docstore.Put, ID: "items/v", Document: doc("items", "n", 3.0), ExpectedVersion: docstore.VersionPtr(v)})
	if r[0].Version <= v {
		t.Fatalf("got version %d want greater than %d", r[0].Version, v)
	}
	_, err = b.Execute(context.Background(), []docstore.Command{{Kind: docstore.Delete, ID: "items/v", ExpectedVersion: docstore.VersionPtr(v)}})
	if !docstore.IsCode(err, docstore.ConcurrencyViolation) {
		t.Fatalf("stale delete got %v want ConcurrencyViolation", err)
	}
}

func atomicBatch(t *testing.T, b docstore.Backend) {
	execute(t, b, docstore.Command{Kind: docstore.Put, ID: "items/taken", Document: doc("items")})
	_, err := b.Execute(context.Background(), []docstore.Command{
		{Kind: docstore.Put, ID: "items/first", Document: doc("items")},
		{Kind: docstore.Put, ID: "items/taken", Document: doc("items"), ExpectedVersion: docstore.VersionPtr(docstore.VersionMustNotExist)},
	})
	if !docstore.IsCode(err, docstore.ConcurrencyViolation) {
		t.Fatalf("got %v want ConcurrencyViolation", err)
	}
	if get(t, b, "items/first") != nil {
		t.Fatalf("failed batch must not apply its earlier commands")
	}
}

func deleteAndMissing(t *testing.T, b docstore.Backend) {
	execute(t, b, docstore.Command{Kind: docstore.Put, ID: "items/d", Document: doc("items")})
	r := execute(t, b,
		docstore.Command{Kind: docstore.Delete, ID: "items/d"},
		docstore.Command{Kind: docstore.Delete, ID: "items/never"},
	)
	if r[0].Kind != docstore.Delete || r[0].ID != "items/d" {
		t.Fatalf("unexpected result %+v", r[0])
	}
	if get(t, b, "items/d") != nil {
		t.Fatalf("items/d should be deleted")
	}
}

func patch(t *testing.T, b docstore.Backend) {
	execute(t, b, docstore.Command{Kind: docstore.Put, ID: "items/p", Document: doc("items", "count", 1.0, "name", "a")})
	execute(t, b,
		docstore.Command{Kind: docstore.Patch, ID: "items/p", Patch: []docstore.PatchOperation{
			{Op: docstore.PatchIncrement, Path: "count", Value: 2.0},
			{Op: docstore.PatchSet, Path: "address.city", Value: "Oslo"},
			{Op: docstore.PatchRemove, Path: "name"},
		}},
		docstore.Command{Kind: docstore.Patch, ID: "items/none", Patch: []docstore.PatchOperation{{Op: docstore.PatchSet, Path: "x", Value: 1.0}}},
	)
	d := get(t, b, "items/p")
	if eq, _ := docstore.NumbersEqual(d["count"], 3); !eq {
		t.Fatalf("got count %v want 3", d["count"])
	}
	if addr, _ := d["address"].(map[string]any); addr["city"] != "Oslo" {
		t.Fatalf("got address %v want Oslo", d["address"])
	}
	if _, ok := d["name"]; ok {
		t.Fatalf("name should be removed")
	}
	if d.Metadata().Collection() != "items" {
		t.Fatalf("patch should keep the collection, got %v", d.Metadata())
	}
	if get(t, b, "items/none") != nil {
		t.Fatalf("patching a missing document must not create it")
	}
}

func monotonicVersions(t *testing.T, b docstore.Backend) {
	var last docstore.Version
	for i := 0; i < 3; i++ {
		r := execute(t, b, docstore.Command{Kind: docstore.Put, ID: "items/m", Document: doc("items", "i", float64(i))})
		if r[0].Version <= last {
			t.Fatalf("version %d is not greater than %d", r[0].Version, last)
		}
		last = r[0].Version
	}
}
