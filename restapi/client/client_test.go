package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/sharedcode/docstore"
	"github.com/sharedcode/docstore/database"
	"github.com/sharedcode/docstore/inmemory"
	"github.com/sharedcode/docstore/internal/backendtest"
	"github.com/sharedcode/docstore/restapi"
	"github.com/sharedcode/docstore/session"
)

func newGateway(t *testing.T, wrap func(gin.HandlerFunc) gin.HandlerFunc) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	routes := restapi.NewRoutes()
	if err := restapi.NewServer(inmemory.NewStore()).RegisterRoutes(routes); err != nil {
		t.Fatalf("RegisterRoutes failed: %v", err)
	}
	router := gin.New()
	routes.Mount(router.Group("/api/v1"), wrap)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func Test_Client_Contract(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) docstore.Backend {
		c, err := New(Config{BaseURL: newGateway(t, nil).URL + "/api/v1/"})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		return c
	})
}

type order struct {
	ID    string
	Total float64
}

func Test_Client_Session(t *testing.T) {
	c, _ := New(Config{BaseURL: newGateway(t, nil).URL + "/api/v1"})
	db, err := database.Open(docstore.DefaultOptions(), c)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ctx := context.Background()
	s, _ := db.NewSession()
	o := &order{Total: 10}
	if err := s.Store(o); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := s.SaveChanges(ctx); err != nil {
		t.Fatalf("SaveChanges failed: %v", err)
	}
	if o.ID == "" {
		t.Fatalf("id not assigned")
	}

	s2, _ := db.NewSession()
	got, err := session.Load[*order](ctx, s2, o.ID)
	if err != nil || got == nil {
		t.Fatalf("Load got %v, %v", got, err)
	}
	if got.Total != 10 {
		t.Fatalf("got %v want 10", got.Total)
	}
	if s2.NumberOfRequests() != 1 {
		t.Fatalf("got %d requests want 1", s2.NumberOfRequests())
	}
}

func Test_Client_Errors(t *testing.T) {
	deny := func(h gin.HandlerFunc) gin.HandlerFunc {
		return func(c *gin.Context) {
			if c.GetHeader("Authorization") != "Bearer secret" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, restapi.ErrorResponse{Message: "Unauthorized"})
				return
			}
			h(c)
		}
	}
	srv := newGateway(t, deny)
	ctx := context.Background()

	c, _ := New(Config{BaseURL: srv.URL + "/api/v1"})
	if _, err := c.Execute(ctx, []docstore.Command{{Kind: docstore.Put, ID: "a"}}); err == nil {
		t.Fatalf("expected unauthorized error")
	}

	c, _ = New(Config{BaseURL: srv.URL + "/api/v1", Token: "secret"})
	cmd := docstore.Command{Kind: docstore.Put, ID: "a", ExpectedVersion: docstore.VersionPtr(docstore.VersionMustNotExist)}
	if _, err := c.Execute(ctx, []docstore.Command{cmd}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	_, err := c.Execute(ctx, []docstore.Command{cmd})
	if !docstore.IsCode(err, docstore.ConcurrencyViolation) {
		t.Fatalf("got %v want ConcurrencyViolation", err)
	}

	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}
