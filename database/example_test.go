package database_test

import (
	"context"
	"fmt"

	"github.com/sharedcode/docstore"
	"github.com/sharedcode/docstore/database"
	"github.com/sharedcode/docstore/inmemory"
	"github.com/sharedcode/docstore/session"
)

type Order struct {
	ID       string  `json:"id"`
	Customer string  `json:"customer"`
	Total    float64 `json:"total"`
}

// Example_unitOfWork stores, changes and deletes documents through sessions.
func Example_unitOfWork() {
	ctx := context.Background()
	db, err := database.Open(docstore.DefaultOptions(), inmemory.NewStore())
	if err != nil {
		fmt.Println(err)
		return
	}

	s, _ := db.NewSession()
	s.StoreWithID(&Order{Customer: "acme", Total: 10}, "orders/1")
	if err := s.SaveChanges(ctx); err != nil {
		fmt.Println(err)
		return
	}

	s, _ = db.NewSession()
	o, _ := session.Load[*Order](ctx, s, "orders/1")
	o.Total = 12.5
	changes, _ := s.WhatChangedFor(o)
	fmt.Println(changes[0].Path, changes[0].OldValue, "->", changes[0].NewValue)
	s.SaveChanges(ctx)

	s, _ = db.NewSession()
	s.DeleteByID("orders/1", nil)
	s.SaveChanges(ctx)
	gone, _ := session.Load[*Order](ctx, s, "orders/1")
	fmt.Println(gone == nil)
	// Output:
	// total 10 -> 12.5
	// true
}
