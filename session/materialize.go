package session

import (
	"context"
	"fmt"
	"reflect"

	"github.com/sharedcode/docstore"
)

// Materialize turns a raw document into an entity of typ. With an empty id the result is
// an untracked projection, see Project. Otherwise the tracked instance for id is returned
// when there is one, and a new instance is created (and tracked when track is true)
// when there is not. A document pending deletion in this session materializes to nil.
func (s *Session) Materialize(ctx context.Context, typ reflect.Type, id string, doc docstore.Document, track bool) (any, error) {
	return s.materialize(ctx, typ, id, doc, doc.Metadata(), track)
}

func (s *Session) materialize(ctx context.Context, typ reflect.Type, id string, doc docstore.Document, md docstore.Metadata, track bool) (any, error) {
	if err := checkReadVeto(id, md); err != nil {
		return nil, err
	}
	if id == "" {
		return s.project(ctx, typ, doc)
	}
	if r, ok := s.tracking.lookupByID(id); ok {
		return r.entity, nil
	}
	if s.isPendingDelete(id) {
		return nil, nil
	}

	entity, err := s.convert(ctx, pointerType(typ), id, doc, md)
	if err != nil {
		return nil, err
	}
	r := &documentInfo{
		entityType:       reflect.TypeOf(entity),
		collection:       md.Collection(),
		originalValue:    doc.WithoutMetadata().Clone(),
		metadata:         md.Clone(),
		originalMetadata: md.Clone(),
		version:          md.Version(),
	}
	if r.metadata == nil {
		r.metadata = docstore.Metadata{}
	}
	if !track {
		return entity, nil
	}
	if err := s.tracking.assign(id, entity, r); err != nil {
		return nil, err
	}
	return entity, nil
}

// isPendingDelete reports whether the next save deletes id.
func (s *Session) isPendingDelete(id string) bool {
	if _, ok := s.tracking.deletedByKey(id); ok {
		return true
	}
	return s.hasDeferred(id, docstore.Delete)
}

// convert runs the conversion listeners around the converter.
func (s *Session) convert(ctx context.Context, typ reflect.Type, id string, doc docstore.Document, md docstore.Metadata) (any, error) {
	e := &docstore.ConversionEvent{SessionID: s.id, ID: id, Type: typ, Document: doc}
	if err := s.beforeConversion(ctx, e); err != nil {
		return nil, err
	}
	entity, err := s.converter.ToEntity(typ, id, doc.WithoutMetadata(), md)
	if err != nil {
		return nil, docstore.NewError(docstore.ConversionFailure, id, "could not convert document %s to entity of type %v: %w", id, typ, err)
	}
	if id != "" {
		if cur, ok := s.identity.GetIdentity(entity); ok && cur == "" {
			if err := s.identity.SetIdentity(entity, id); err != nil {
				return nil, err
			}
		}
	}
	e.Entity = entity
	if err := s.afterConversion(ctx, e); err != nil {
		return nil, err
	}
	return entity, nil
}

// project converts an untracked result. A {"$values": [...]} wrapper is unwrapped; a
// slice typ yields a slice, a scalar typ yields one instance, or []any when more than
// one document came back.
func (s *Session) project(ctx context.Context, typ reflect.Type, doc docstore.Document) (any, error) {
	var items []any
	if v, ok := doc[docstore.ValuesKey]; ok {
		list, ok := v.([]any)
		if !ok {
			return nil, docstore.NewError(docstore.ConversionFailure, nil, "%s of a projection should be a list, got %T", docstore.ValuesKey, v)
		}
		items = list
	} else if doc != nil {
		items = []any{map[string]any(doc)}
	}

	elemType := typ
	asSlice := typ.Kind() == reflect.Slice
	if asSlice {
		elemType = typ.Elem()
	}
	entities := make([]any, 0, len(items))
	for i, item := range items {
		m, ok := asMap(item)
		if !ok {
			return nil, docstore.NewError(docstore.ConversionFailure, i, "projection item %d should be an object, got %T", i, item)
		}
		d := docstore.Document(m)
		md := d.Metadata()
		if err := checkReadVeto(md.ID(), md); err != nil {
			return nil, err
		}
		e, err := s.convert(ctx, pointerType(elemType), "", d, md)
		if err != nil {
			return nil, err
		}
		// Hoist the id found only in nested metadata into the identity field.
		if id := md.ID(); id != "" {
			if cur, ok := s.identity.GetIdentity(e); ok && cur == "" {
				if err := s.identity.SetIdentity(e, id); err != nil {
					return nil, err
				}
			}
		}
		entities = append(entities, e)
	}

	if asSlice {
		out := reflect.MakeSlice(typ, 0, len(entities))
		for _, e := range entities {
			v := reflect.ValueOf(e)
			if elemType.Kind() != reflect.Pointer {
				v = v.Elem()
			}
			out = reflect.Append(out, v)
		}
		return out.Interface(), nil
	}
	switch len(entities) {
	case 0:
		return nil, nil
	case 1:
		return entities[0], nil
	}
	return entities, nil
}

// Project converts doc into an untracked value of type T.
func Project[T any](ctx context.Context, s *Session, doc docstore.Document) (T, error) {
	var zero T
	v, err := s.project(ctx, reflect.TypeOf((*T)(nil)).Elem(), doc)
	if err != nil || v == nil {
		return zero, err
	}
	return as[T](v)
}

// Refresh reloads a tracked entity from the store and copies the fresh field values
// onto it in place. Unsaved local changes are overwritten.
func (s *Session) Refresh(ctx context.Context, entity any) error {
	r, err := s.record(entity)
	if err != nil {
		return err
	}
	if s.reader == nil {
		return fmt.Errorf("session has no document reader")
	}
	if err := s.incrementRequests(); err != nil {
		return err
	}
	docs, err := s.reader.Get(ctx, r.key)
	if err != nil {
		return err
	}
	var fresh docstore.Document
	if len(docs) > 0 {
		fresh = docs[0]
	}
	return s.refresh(ctx, r, fresh)
}

func (s *Session) refresh(ctx context.Context, r *documentInfo, fresh docstore.Document) error {
	if fresh == nil {
		return docstore.NewError(docstore.DocumentGone, r.key, "can't refresh %s, the document does not exist anymore", r.key)
	}
	md := fresh.Metadata()
	if err := checkReadVeto(r.key, md); err != nil {
		return err
	}
	throwaway, err := s.convert(ctx, r.entityType, r.key, fresh, md)
	if err != nil {
		return err
	}
	if err := copyFields(r.entity, throwaway); err != nil {
		return docstore.NewError(docstore.ConversionFailure, r.key, "refreshing %s failed: %w", r.key, err)
	}
	r.originalValue = fresh.WithoutMetadata().Clone()
	r.metadata = md.Clone()
	if r.metadata == nil {
		r.metadata = docstore.Metadata{}
	}
	r.originalMetadata = md.Clone()
	r.version = md.Version()
	return nil
}

// copyFields copies every settable field of src onto dst, both pointers of the same type.
func copyFields(dst, src any) error {
	dv, sv := reflect.ValueOf(dst), reflect.ValueOf(src)
	if dv.Type() != sv.Type() {
		return fmt.Errorf("can't copy %T onto %T", src, dst)
	}
	dv, sv = dv.Elem(), sv.Elem()
	if dv.Kind() != reflect.Struct {
		dv.Set(sv)
		return nil
	}
	for i := 0; i < dv.NumField(); i++ {
		if f := dv.Field(i); f.CanSet() {
			f.Set(sv.Field(i))
		}
	}
	return nil
}

func checkReadVeto(id string, md docstore.Metadata) error {
	if v, ok := md.ReadVeto(); ok {
		return docstore.NewError(docstore.ReadVetoed, v,
			"document %s can't be read, reason: %s, trigger: %s", id, v.Reason, v.Trigger)
	}
	return nil
}

// pointerType returns typ as a pointer type.
func pointerType(typ reflect.Type) reflect.Type {
	if typ.Kind() == reflect.Pointer {
		return typ
	}
	return reflect.PointerTo(typ)
}

// as converts v, a pointer from the converter, to T.
func as[T any](v any) (T, error) {
	var zero T
	if t, ok := v.(T); ok {
		return t, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		if t, ok := rv.Elem().Interface().(T); ok {
			return t, nil
		}
	}
	return zero, fmt.Errorf("can't use %T as %T", v, zero)
}
