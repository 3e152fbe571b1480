package session

import (
	"context"
	"fmt"
	"reflect"

	"github.com/sharedcode/docstore"
)

// Load returns the entity of type typ stored under id, nil when it does not exist.
// Tracked and known missing ids are answered without a round trip.
func (s *Session) Load(ctx context.Context, typ reflect.Type, id string) (any, error) {
	r, err := s.LoadMany(ctx, typ, id)
	if err != nil {
		return nil, err
	}
	return r[0], nil
}

// LoadMany loads ids in one round trip. The result is aligned with ids, nil entries mean
// the document does not exist.
func (s *Session) LoadMany(ctx context.Context, typ reflect.Type, ids ...string) ([]any, error) {
	result := make([]any, len(ids))
	var misses []string
	missIndex := make(map[string][]int)
	for i, id := range ids {
		if err := s.options.Conventions.ValidateID(id); err != nil {
			return nil, err
		}
		if id == "" {
			return nil, fmt.Errorf("id can't be empty")
		}
		if r, ok := s.tracking.lookupByID(id); ok {
			result[i] = r.entity
			continue
		}
		if s.tracking.isDeleted(id) {
			continue
		}
		if _, ok := missIndex[id]; !ok {
			misses = append(misses, id)
		}
		missIndex[id] = append(missIndex[id], i)
	}
	if len(misses) == 0 {
		return result, nil
	}
	if s.reader == nil {
		return nil, fmt.Errorf("session has no document reader")
	}
	if err := s.incrementRequests(); err != nil {
		return nil, err
	}
	docs, err := s.reader.Get(ctx, misses...)
	if err != nil {
		return nil, err
	}
	if len(docs) != len(misses) {
		return nil, docstore.NewError(docstore.TransportFailure, len(docs), "reader returned %d documents for %d ids", len(docs), len(misses))
	}
	for i, id := range misses {
		if docs[i] == nil {
			s.tracking.markMissing(id)
			continue
		}
		e, err := s.materialize(ctx, typ, id, docs[i], docs[i].Metadata(), true)
		if err != nil {
			return nil, err
		}
		for _, j := range missIndex[id] {
			result[j] = e
		}
	}
	return result, nil
}

// Load is the typed form of Session.Load. T is usually a pointer to a struct, the zero
// value is returned when the document does not exist.
func Load[T any](ctx context.Context, s *Session, id string) (T, error) {
	var zero T
	e, err := s.Load(ctx, reflect.TypeOf((*T)(nil)).Elem(), id)
	if err != nil || e == nil {
		return zero, err
	}
	return as[T](e)
}
