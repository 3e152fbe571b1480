package cel

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sharedcode/docstore"
	"github.com/sharedcode/docstore/database"
	"github.com/sharedcode/docstore/inmemory"
)

func TestBasicCEL(t *testing.T) {
	e, err := NewEvaluator("positive", "doc.total > 0.0")
	if err != nil {
		t.Fatal(err)
	}
	ok, err := e.Evaluate("orders/1", docstore.Document{"total": 2.0}, nil)
	if err != nil || !ok {
		t.Fatalf("got %v, %v want true", ok, err)
	}
	ok, _ = e.Evaluate("orders/1", docstore.Document{"total": -1.0}, nil)
	if ok {
		t.Fatalf("expected false for a negative total")
	}
}

func TestCEL_DecodedNumbers(t *testing.T) {
	e, err := NewEvaluator("positive", "doc.total > 0.0 && doc.qty == 3")
	if err != nil {
		t.Fatal(err)
	}
	ok, err := e.Evaluate("orders/1", docstore.Document{"total": json.Number("2.5"), "qty": json.Number("3")}, nil)
	if err != nil || !ok {
		t.Fatalf("got %v, %v want true", ok, err)
	}
}

func TestCEL_MetadataAndID(t *testing.T) {
	e, err := NewEvaluator("prefix", "id.startsWith(metadata['@collection'] + '/')")
	if err != nil {
		t.Fatal(err)
	}
	ok, err := e.Evaluate("orders/1", docstore.Document{}, docstore.Metadata{docstore.MetadataCollection: "orders"})
	if err != nil || !ok {
		t.Fatalf("got %v, %v want true", ok, err)
	}
}

func TestCEL_CompileErrors(t *testing.T) {
	if _, err := NewEvaluator("", "true"); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if _, err := NewEvaluator("x", ""); err == nil {
		t.Fatalf("expected error for empty expression")
	}
	if _, err := NewEvaluator("x", "doc.total >"); err == nil {
		t.Fatalf("expected compile error")
	}
	if _, err := NewEvaluator("x", "1 + 2"); err == nil {
		t.Fatalf("expected error for a non bool expression")
	}
}

func TestValidator_Collections(t *testing.T) {
	v, err := NewValidator(
		Rule{Name: "total", Collection: "orders", Expression: "doc.total > 0.0"},
		Rule{Name: "named", Expression: "has(doc.name)"},
	)
	if err != nil {
		t.Fatal(err)
	}
	md := docstore.Metadata{docstore.MetadataCollection: "items"}
	if err := v.Validate("items/1", docstore.Document{"name": "pen"}, md); err != nil {
		t.Fatalf("items/1 rejected: %v", err)
	}
	md = docstore.Metadata{docstore.MetadataCollection: "orders"}
	err = v.Validate("orders/1", docstore.Document{"name": "o", "total": 0.0}, md)
	if !errors.Is(err, ErrRuleViolated) {
		t.Fatalf("got %v want ErrRuleViolated", err)
	}
}

type Order struct {
	ID    string  `json:"id"`
	Total float64 `json:"total"`
}

func TestValidator_BlocksSave(t *testing.T) {
	v, err := NewValidator(Rule{Name: "total", Collection: "orders", Expression: "doc.total > 0.0"})
	if err != nil {
		t.Fatal(err)
	}
	store := inmemory.NewStore()
	db, err := database.Open(docstore.DefaultOptions(), store, database.WithListener(v))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	s, _ := db.NewSession()
	s.StoreWithID(&Order{Total: -5}, "orders/1")
	if err := s.SaveChanges(ctx); !errors.Is(err, ErrRuleViolated) {
		t.Fatalf("got %v want ErrRuleViolated", err)
	}
	if store.Len() != 0 {
		t.Fatalf("rejected document was stored")
	}

	s, _ = db.NewSession()
	s.StoreWithID(&Order{Total: 5}, "orders/2")
	if err := s.SaveChanges(ctx); err != nil {
		t.Fatalf("SaveChanges failed: %v", err)
	}
}
