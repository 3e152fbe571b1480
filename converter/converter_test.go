package converter

import (
	"reflect"
	"testing"

	"github.com/sharedcode/docstore"
)

type item struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type tagged struct {
	Key  string `json:"key" docstore:"id"`
	Name string `json:"name"`
}

type noID struct {
	Name string `json:"name"`
}

func Test_JSON_ToDocument_DropsIdentityAndMergesMetadata(t *testing.T) {
	c := New(docstore.Conventions{})
	doc, err := c.ToDocument(&item{ID: "items/1", Name: "pen", Price: 2}, docstore.Metadata{docstore.MetadataCollection: "items"})
	if err != nil {
		t.Fatalf("ToDocument failed: %v", err)
	}
	if _, ok := doc["id"]; ok {
		t.Fatalf("identity field should not be part of the document body: %v", doc)
	}
	if doc["name"] != "pen" {
		t.Fatalf("got name %v want pen", doc["name"])
	}
	if doc.Metadata().Collection() != "items" {
		t.Fatalf("got collection %q want items", doc.Metadata().Collection())
	}
}

func Test_JSON_ToEntity_SetsIdentity(t *testing.T) {
	c := New(docstore.Conventions{})
	doc := docstore.Document{"name": "pen", "price": 2.5}
	e, err := c.ToEntity(reflect.TypeOf(&item{}), "items/7", doc, nil)
	if err != nil {
		t.Fatalf("ToEntity failed: %v", err)
	}
	it, ok := e.(*item)
	if !ok {
		t.Fatalf("got %T want *item", e)
	}
	if it.ID != "items/7" || it.Name != "pen" || it.Price != 2.5 {
		t.Fatalf("got %+v", it)
	}
}

func Test_JSON_TaggedIdentityField(t *testing.T) {
	c := New(docstore.Conventions{})
	e := &tagged{Name: "x"}
	if err := c.SetIdentity(e, "tags/1"); err != nil {
		t.Fatalf("SetIdentity failed: %v", err)
	}
	id, ok := c.GetIdentity(e)
	if !ok || id != "tags/1" || e.Key != "tags/1" {
		t.Fatalf("got %q, %v want tags/1, true", id, ok)
	}
}

func Test_JSON_NoIdentityField(t *testing.T) {
	c := New(docstore.Conventions{})
	e := &noID{Name: "x"}
	if _, ok := c.GetIdentity(e); ok {
		t.Fatalf("expected no identity field")
	}
	if err := c.SetIdentity(e, "a/1"); err != nil {
		t.Fatalf("SetIdentity on entity without identity field should be a no-op, got %v", err)
	}
}

func Test_JSON_DynamicDocumentEntity(t *testing.T) {
	c := New(docstore.Conventions{})
	e, err := c.ToEntity(reflect.TypeOf(&docstore.Document{}), "docs/1", docstore.Document{"a": 1.0}, docstore.Metadata{docstore.MetadataID: "docs/1"})
	if err != nil {
		t.Fatalf("ToEntity failed: %v", err)
	}
	d := e.(*docstore.Document)
	if id, _ := c.GetIdentity(d); id != "docs/1" {
		t.Fatalf("got %q want docs/1", id)
	}
	doc, err := c.ToDocument(d, docstore.Metadata{docstore.MetadataID: "docs/1"})
	if err != nil {
		t.Fatalf("ToDocument failed: %v", err)
	}
	if eq, _ := docstore.NumbersEqual(doc["a"], 1); !eq {
		t.Fatalf("got %v want 1", doc["a"])
	}
}
