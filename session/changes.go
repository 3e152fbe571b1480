package session

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/sharedcode/docstore"
)

// ChangeKind classifies a DocumentChange.
type ChangeKind int

const (
	FieldChanged ChangeKind = iota + 1
	FieldAdded
	FieldRemoved
	DocumentAdded
	DocumentDeleted
)

func (k ChangeKind) String() string {
	switch k {
	case FieldChanged:
		return "FieldChanged"
	case FieldAdded:
		return "FieldAdded"
	case FieldRemoved:
		return "FieldRemoved"
	case DocumentAdded:
		return "DocumentAdded"
	case DocumentDeleted:
		return "DocumentDeleted"
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// DocumentChange is one field level difference between an entity and its persisted snapshot.
type DocumentChange struct {
	Kind ChangeKind
	// Path of the field, dot separated with [i] for array elements. Metadata
	// fields are prefixed with "@metadata.".
	Path     string
	OldValue any
	NewValue any
}

// Metadata keys maintained by the store, not part of dirty checking.
var serverManagedMetadata = map[string]struct{}{
	docstore.MetadataID:           {},
	docstore.MetadataVersion:      {},
	docstore.MetadataLastModified: {},
}

// detect runs the change detector on r. When report is true all differences are
// collected, otherwise it stops at the first one. The current document form is
// returned when it was computed.
func (s *Session) detect(r *documentInfo, report bool) (bool, []DocumentChange, docstore.Document, error) {
	if r.ignoreChanges {
		return false, nil, nil, nil
	}
	if s.idDiverged(r) {
		var changes []DocumentChange
		if report {
			id, _ := s.identity.GetIdentity(r.entity)
			changes = []DocumentChange{{Kind: FieldChanged, Path: s.options.Conventions.IdentityField, OldValue: r.key, NewValue: id}}
		}
		return true, changes, nil, nil
	}
	if r.originalMetadata.IsReadOnly() && r.metadata.IsReadOnly() {
		return false, nil, nil, nil
	}
	doc, err := s.toDocument(r)
	if err != nil {
		return false, nil, nil, err
	}
	if len(r.originalValue) == 0 {
		var changes []DocumentChange
		if report {
			changes = []DocumentChange{{Kind: DocumentAdded, NewValue: doc}}
		}
		return true, changes, doc, nil
	}
	w := &diffWalker{report: report}
	w.compareMaps("", r.originalValue, doc.WithoutMetadata(), nil)
	if w.changed && !report {
		return true, nil, doc, nil
	}
	w.compareMaps(docstore.MetadataKey, r.originalMetadata, r.metadata, serverManagedMetadata)
	return w.changed, w.changes, doc, nil
}

// idDiverged reports whether the entity's id field no longer matches its tracked key.
func (s *Session) idDiverged(r *documentInfo) bool {
	id, ok := s.identity.GetIdentity(r.entity)
	return ok && id != "" && r.key != "" && id != r.key
}

func (s *Session) toDocument(r *documentInfo) (docstore.Document, error) {
	doc, err := s.converter.ToDocument(r.entity, r.metadata)
	if err != nil {
		return nil, docstore.NewError(docstore.ConversionFailure, r.key, "converting %s (%T) to document failed: %w", r.key, r.entity, err)
	}
	return doc, nil
}

type diffWalker struct {
	report  bool
	changed bool
	changes []DocumentChange
}

func (w *diffWalker) add(kind ChangeKind, path string, old, cur any) {
	w.changed = true
	if w.report {
		w.changes = append(w.changes, DocumentChange{Kind: kind, Path: path, OldValue: old, NewValue: cur})
	}
}

func (w *diffWalker) done() bool {
	return w.changed && !w.report
}

func (w *diffWalker) compareMaps(prefix string, old, cur map[string]any, skip map[string]struct{}) {
	keys := make([]string, 0, len(old)+len(cur))
	for k := range old {
		keys = append(keys, k)
	}
	for k := range cur {
		if _, ok := old[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if w.done() {
			return
		}
		if _, ok := skip[k]; ok {
			continue
		}
		path := joinPath(prefix, k)
		ov, inOld := old[k]
		cv, inCur := cur[k]
		switch {
		case !inOld:
			w.add(FieldAdded, path, nil, cv)
		case !inCur:
			w.add(FieldRemoved, path, ov, nil)
		default:
			w.compareValues(path, ov, cv)
		}
	}
}

func (w *diffWalker) compareValues(path string, old, cur any) {
	if om, ok := asMap(old); ok {
		if cm, ok := asMap(cur); ok {
			w.compareMaps(path, om, cm, nil)
			return
		}
	}
	if oa, ok := old.([]any); ok {
		if ca, ok := cur.([]any); ok {
			w.compareArrays(path, oa, ca)
			return
		}
	}
	if !equalScalars(old, cur) {
		w.add(FieldChanged, path, old, cur)
	}
}

func (w *diffWalker) compareArrays(path string, old, cur []any) {
	n := min(len(old), len(cur))
	for i := 0; i < n; i++ {
		if w.done() {
			return
		}
		w.compareValues(fmt.Sprintf("%s[%d]", path, i), old[i], cur[i])
	}
	for i := n; i < len(cur); i++ {
		if w.done() {
			return
		}
		w.add(FieldAdded, fmt.Sprintf("%s[%d]", path, i), nil, cur[i])
	}
	for i := n; i < len(old); i++ {
		if w.done() {
			return
		}
		w.add(FieldRemoved, fmt.Sprintf("%s[%d]", path, i), old[i], nil)
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case docstore.Document:
		return m, true
	case docstore.Metadata:
		return m, true
	}
	return nil, false
}

// equalScalars compares leaf values; numbers compare by value regardless of their Go
// type, integers exactly.
func equalScalars(a, b any) bool {
	if eq, ok := docstore.NumbersEqual(a, b); ok {
		return eq
	}
	if docstore.IsNumber(a) || docstore.IsNumber(b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// HasChanged reports whether entity would be written by the next save. Untracked
// entities count as changed.
func (s *Session) HasChanged(entity any) (bool, error) {
	r, ok := s.tracking.lookupByEntity(entity)
	if !ok {
		return true, nil
	}
	if r.deleted {
		return true, nil
	}
	changed, _, _, err := s.detect(r, false)
	return changed, err
}

// HasChanges reports whether the next save would send any command.
func (s *Session) HasChanges() (bool, error) {
	if s.deferred.Length() > 0 || len(s.tracking.deleted) > 0 {
		return true, nil
	}
	for _, r := range s.tracking.records() {
		changed, _, _, err := s.detect(r, false)
		if err != nil {
			return false, err
		}
		if changed {
			return true, nil
		}
	}
	return false, nil
}

// WhatChangedFor lists the changes of one tracked entity.
func (s *Session) WhatChangedFor(entity any) ([]DocumentChange, error) {
	r, ok := s.tracking.lookupByEntity(entity)
	if !ok {
		return nil, docstore.NewError(docstore.NotAssociated, nil, "%T is not associated with the session", entity)
	}
	if r.deleted {
		return []DocumentChange{{Kind: DocumentDeleted, OldValue: r.originalValue}}, nil
	}
	_, changes, _, err := s.detect(r, true)
	return changes, err
}

// WhatChanged reports the pending deletions and changes keyed by document id without
// touching any tracking state. Deleted entities that never got an id are left out.
func (s *Session) WhatChanged() (map[string][]DocumentChange, error) {
	r := make(map[string][]DocumentChange)
	for _, d := range s.tracking.deletedRecords() {
		if !s.tracking.isConcreteID(d.key) {
			continue
		}
		r[d.key] = append(r[d.key], DocumentChange{Kind: DocumentDeleted, OldValue: d.originalValue})
	}
	for _, rec := range s.tracking.records() {
		changed, changes, _, err := s.detect(rec, true)
		if err != nil {
			return nil, err
		}
		if changed {
			r[rec.key] = append(r[rec.key], changes...)
		}
	}
	return r, nil
}
