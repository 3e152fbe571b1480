package session

import (
	"reflect"
	"slices"
	"strings"

	"github.com/sharedcode/docstore"
)

// documentInfo is the tracking record of one entity.
type documentInfo struct {
	// key is the document id, empty (or a "collection/" prefix) until the store assigns one.
	key        string
	entity     any
	entityType reflect.Type
	collection string

	// originalValue is the last known persisted document body, the diff baseline.
	originalValue    docstore.Document
	metadata         docstore.Metadata
	originalMetadata docstore.Metadata
	version          docstore.Version

	forceConcurrencyCheck bool
	ignoreChanges         bool
	deleted               bool

	// seq gives records their insertion order.
	seq uint64
}

// trackingMap is the identity map of a session: entity <-> id <-> record.
// It is not safe for concurrent use.
type trackingMap struct {
	separator    string
	byEntity     map[any]*documentInfo
	byID         map[string]*documentInfo
	deleted      map[any]*documentInfo
	knownMissing map[string]struct{}
	nextSeq      uint64
}

func newTrackingMap(separator string) *trackingMap {
	t := &trackingMap{separator: separator}
	t.clear()
	return t
}

// isConcreteID reports whether id names one document, as opposed to an empty id or a
// "collection/" prefix that asks the store to assign the rest.
func (t *trackingMap) isConcreteID(id string) bool {
	return id != "" && !strings.HasSuffix(id, t.separator)
}

func (t *trackingMap) isTracked(id string) bool {
	_, ok := t.byID[id]
	return ok
}

func (t *trackingMap) isDeleted(id string) bool {
	_, ok := t.knownMissing[id]
	return ok
}

func (t *trackingMap) isLoadedOrDeleted(id string) bool {
	return t.isTracked(id) || t.isDeleted(id)
}

func (t *trackingMap) lookupByEntity(entity any) (*documentInfo, bool) {
	r, ok := t.byEntity[entity]
	return r, ok
}

func (t *trackingMap) lookupByID(id string) (*documentInfo, bool) {
	r, ok := t.byID[id]
	return r, ok
}

// assign maps id to entity and its record. It fails if id is held by a different live entity.
func (t *trackingMap) assign(id string, entity any, record *documentInfo) error {
	if existing, ok := t.byID[id]; ok && existing.entity != entity {
		return docstore.NewError(docstore.NonUniqueObjectIdentity, id,
			"attempted to associate a different object with id %q", id)
	}
	if old, ok := t.byEntity[entity]; ok && old != record {
		t.unlinkID(old)
		record.seq = old.seq
	} else if record.seq == 0 {
		t.nextSeq++
		record.seq = t.nextSeq
	}
	record.key = id
	record.entity = entity
	t.byEntity[entity] = record
	if t.isConcreteID(id) {
		t.byID[id] = record
		delete(t.knownMissing, id)
	}
	return nil
}

// remove detaches entity from both directions without scheduling a delete.
func (t *trackingMap) remove(entity any) {
	r, ok := t.byEntity[entity]
	if !ok {
		return
	}
	delete(t.byEntity, entity)
	delete(t.deleted, entity)
	t.unlinkID(r)
}

func (t *trackingMap) unlinkID(r *documentInfo) {
	if cur, ok := t.byID[r.key]; ok && cur == r {
		delete(t.byID, r.key)
	}
}

// markDeleted moves a record into the deleted set. Its id leaves the live map and
// becomes known missing.
func (t *trackingMap) markDeleted(r *documentInfo) {
	r.deleted = true
	t.deleted[r.entity] = r
	t.unlinkID(r)
	if t.isConcreteID(r.key) {
		t.knownMissing[r.key] = struct{}{}
	}
}

func (t *trackingMap) markMissing(id string) {
	if _, ok := t.byID[id]; ok {
		return
	}
	t.knownMissing[id] = struct{}{}
}

// deletedByKey returns the pending deleted record holding id, if any.
func (t *trackingMap) deletedByKey(id string) (*documentInfo, bool) {
	for _, r := range t.deleted {
		if r.key == id {
			return r, true
		}
	}
	return nil, false
}

// records returns the live (not deleted) records in insertion order.
func (t *trackingMap) records() []*documentInfo {
	r := make([]*documentInfo, 0, len(t.byEntity))
	for _, v := range t.byEntity {
		if !v.deleted {
			r = append(r, v)
		}
	}
	sortBySeq(r)
	return r
}

// deletedRecords returns the deleted set in the order entities were tracked.
func (t *trackingMap) deletedRecords() []*documentInfo {
	r := make([]*documentInfo, 0, len(t.deleted))
	for _, v := range t.deleted {
		r = append(r, v)
	}
	sortBySeq(r)
	return r
}

func (t *trackingMap) clear() {
	t.byEntity = make(map[any]*documentInfo)
	t.byID = make(map[string]*documentInfo)
	t.deleted = make(map[any]*documentInfo)
	t.knownMissing = make(map[string]struct{})
}

func sortBySeq(r []*documentInfo) {
	slices.SortFunc(r, func(a, b *documentInfo) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
}
