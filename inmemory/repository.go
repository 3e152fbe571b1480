package inmemory

import (
	"github.com/sharedcode/docstore"
)

// documentRepository is a map of documents. A repository with a parent is a staging
// overlay: reads fall through to the parent, writes and removals stay local until merged.
type documentRepository struct {
	lookup  map[string]docstore.Document
	removed map[string]struct{}
	parent  *documentRepository
}

func newDocumentRepository(parent *documentRepository) *documentRepository {
	return &documentRepository{
		lookup:  make(map[string]docstore.Document),
		removed: make(map[string]struct{}),
		parent:  parent,
	}
}

// Add will upsert doc to the map.
func (r *documentRepository) Add(id string, doc docstore.Document) {
	r.lookup[id] = doc
	delete(r.removed, id)
}

// Get will retrieve the document with id, nil if there is none.
func (r *documentRepository) Get(id string) docstore.Document {
	if d, ok := r.lookup[id]; ok {
		return d
	}
	if _, ok := r.removed[id]; ok {
		return nil
	}
	if r.parent != nil {
		return r.parent.Get(id)
	}
	return nil
}

// Remove will remove the document with id.
func (r *documentRepository) Remove(id string) {
	delete(r.lookup, id)
	if r.parent != nil {
		r.removed[id] = struct{}{}
	}
}

// merge applies the staged changes onto the parent.
func (r *documentRepository) merge() {
	for id := range r.removed {
		r.parent.Remove(id)
	}
	for id, d := range r.lookup {
		r.parent.Add(id, d)
	}
}

func (r *documentRepository) count() int {
	return len(r.lookup)
}
