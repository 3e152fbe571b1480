package restapi

import (
	"fmt"
	"sort"

	"github.com/gin-gonic/gin"
)

// HTTPVerb enumerates supported HTTP operations.
type HTTPVerb int

const (
	// Unknown represents an unspecified HTTP verb.
	Unknown HTTPVerb = iota
	// GET lists or retrieves resources.
	GET
	// GET_ONE retrieves a single resource.
	GET_ONE
	// DELETE removes resources.
	DELETE
	// POST creates resources.
	POST
	// PUT replaces resources.
	PUT
	// PATCH partially updates resources.
	PATCH
)

// RestMethod describes a REST route handler.
type RestMethod struct {
	Verb    HTTPVerb
	Path    string
	Handler gin.HandlerFunc
}

// Routes is a registry of REST methods, mounted on a gin route group.
type Routes struct {
	methods map[string]RestMethod
}

// NewRoutes returns an empty registry.
func NewRoutes() *Routes {
	return &Routes{methods: make(map[string]RestMethod)}
}

// RegisterMethod builds a RestMethod and registers it using Register.
func (r *Routes) RegisterMethod(verb HTTPVerb, path string, h gin.HandlerFunc) error {
	return r.Register(RestMethod{
		Verb:    verb,
		Path:    path,
		Handler: h,
	})
}

// Register inserts a RestMethod preventing duplicates.
func (r *Routes) Register(m RestMethod) error {
	key := fmt.Sprintf("%d_%s", m.Verb, m.Path)
	if _, exists := r.methods[key]; exists {
		return fmt.Errorf("can't add %s, an existing handler in REST method map exists", key)
	}
	r.methods[key] = m
	return nil
}

// Methods returns the registered methods ordered by path then verb.
func (r *Routes) Methods() []RestMethod {
	ms := make([]RestMethod, 0, len(r.methods))
	for _, m := range r.methods {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Path != ms[j].Path {
			return ms[i].Path < ms[j].Path
		}
		return ms[i].Verb < ms[j].Verb
	})
	return ms
}

// Mount adds the registered methods to g, each handler wrapped with wrap when not nil
// (e.g. token verification).
func (r *Routes) Mount(g gin.IRoutes, wrap func(gin.HandlerFunc) gin.HandlerFunc) {
	for _, rm := range r.Methods() {
		h := rm.Handler
		if wrap != nil {
			h = wrap(h)
		}
		switch rm.Verb {
		case GET, GET_ONE:
			g.GET(rm.Path, h)
		case DELETE:
			g.DELETE(rm.Path, h)
		case POST:
			g.POST(rm.Path, h)
		case PUT:
			g.PUT(rm.Path, h)
		case PATCH:
			g.PATCH(rm.Path, h)
		default:
			panic(fmt.Sprintf("HTTP verb %d not supported", rm.Verb))
		}
	}
}
