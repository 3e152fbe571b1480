package restapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sharedcode/docstore"
	"github.com/sharedcode/docstore/inmemory"
)

type recorder struct {
	outcomes []string
}

func (r *recorder) BatchExecuted(outcome string, d time.Duration) {
	r.outcomes = append(r.outcomes, outcome)
}

func newRouter(t *testing.T) (*gin.Engine, *recorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := &recorder{}
	s := NewServer(inmemory.NewStore())
	s.Recorder = rec
	routes := NewRoutes()
	if err := s.RegisterRoutes(routes); err != nil {
		t.Fatalf("RegisterRoutes failed: %v", err)
	}
	router := gin.New()
	routes.Mount(router.Group("/api/v1"), nil)
	return router, rec
}

func do(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func Test_Routes_Duplicate(t *testing.T) {
	routes := NewRoutes()
	h := func(c *gin.Context) {}
	if err := routes.RegisterMethod(GET, "/a", h); err != nil {
		t.Fatalf("RegisterMethod failed: %v", err)
	}
	if err := routes.RegisterMethod(GET, "/a", h); err == nil {
		t.Fatalf("expected duplicate error")
	}
	routes.RegisterMethod(POST, "/a", h)
	routes.RegisterMethod(GET, "/0", h)
	ms := routes.Methods()
	if len(ms) != 3 || ms[0].Path != "/0" || ms[1].Verb != GET || ms[2].Verb != POST {
		t.Fatalf("unexpected order %+v", ms)
	}
}

func Test_Server_BatchAndRead(t *testing.T) {
	router, rec := newRouter(t)
	w := do(router, http.MethodPost, "/api/v1/batch", BatchRequest{Commands: []docstore.Command{
		{Kind: docstore.Put, ID: "items/", Document: docstore.Document{"name": "pen"}},
	}})
	if w.Code != http.StatusOK {
		t.Fatalf("got %v want 200, body %s", w.Code, w.Body.String())
	}
	var br BatchResponse
	json.Unmarshal(w.Body.Bytes(), &br)
	if len(br.Results) != 1 || br.Results[0].ID == "items/" {
		t.Fatalf("unexpected results %+v", br.Results)
	}
	id := br.Results[0].ID

	w = do(router, http.MethodGet, "/api/v1/docs?id="+id+"&id=items/none", nil)
	var dr DocumentsResponse
	json.Unmarshal(w.Body.Bytes(), &dr)
	if len(dr.Documents) != 2 || dr.Documents[0]["name"] != "pen" || dr.Documents[1] != nil {
		t.Fatalf("unexpected documents %v", dr.Documents)
	}

	w = do(router, http.MethodGet, "/api/v1/document/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %v want 200", w.Code)
	}
	w = do(router, http.MethodGet, "/api/v1/document/items/none", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("got %v want 404", w.Code)
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0] != "ok" {
		t.Fatalf("got outcomes %v", rec.outcomes)
	}
}

func Test_Server_Errors(t *testing.T) {
	router, rec := newRouter(t)
	c := docstore.Command{Kind: docstore.Put, ID: "items/1", Document: docstore.Document{}, ExpectedVersion: docstore.VersionPtr(docstore.VersionMustNotExist)}
	do(router, http.MethodPost, "/api/v1/batch", BatchRequest{Commands: []docstore.Command{c}})
	w := do(router, http.MethodPost, "/api/v1/batch", BatchRequest{Commands: []docstore.Command{c}})
	if w.Code != http.StatusConflict {
		t.Fatalf("got %v want 409", w.Code)
	}
	var er ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &er)
	if er.Code != "ConcurrencyViolation" || er.Message == "" {
		t.Fatalf("unexpected error %+v", er)
	}
	if rec.outcomes[1] != "ConcurrencyViolation" {
		t.Fatalf("got outcomes %v", rec.outcomes)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batch", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got %v want 400", w.Code)
	}
}
