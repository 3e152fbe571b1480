// Package session implements the unit of work: it tracks loaded and stored entities,
// detects what changed and writes all pending changes in one batch.
//
// A Session is single-owner and must not be used from multiple goroutines at once.
// Open one session per goroutine or request instead.
package session

import (
	"context"
	"fmt"
	log "log/slog"
	"reflect"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/sharedcode/docstore"
	"github.com/sharedcode/docstore/converter"
	"github.com/sharedcode/docstore/idgen"
)

// instanceCounter numbers sessions process wide.
var instanceCounter atomic.Uint64

// Config carries the collaborators of a session.
type Config struct {
	Options   docstore.Options
	Transport docstore.Transport
	Reader    docstore.DocumentReader
	// Converter defaults to the JSON converter.
	Converter docstore.Converter
	// Identity defaults to Converter when it implements docstore.IdentityAccessor.
	Identity docstore.IdentityAccessor
	// IDGenerator defaults to the UUID generator.
	IDGenerator docstore.IDGenerator
	Listeners   []any
	Observers   []docstore.Observer
}

// Session is a unit of work over a document store.
type Session struct {
	id      docstore.UUID
	hash    uint64
	options docstore.Options

	transport   docstore.Transport
	reader      docstore.DocumentReader
	converter   docstore.Converter
	identity    docstore.IdentityAccessor
	idGenerator docstore.IDGenerator
	listeners   []any
	observers   []docstore.Observer

	tracking *trackingMap
	// deferred holds raw docstore.Command values queued for the next save.
	deferred      *queue.Queue
	deferredByID  map[string][]docstore.CommandKind
	budget        requestBudget
	highWatermark docstore.Version
}

// New creates a session.
func New(cfg Config) (*Session, error) {
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	if cfg.Converter == nil {
		cfg.Converter = converter.New(cfg.Options.Conventions)
	}
	if cfg.Identity == nil {
		ia, ok := cfg.Converter.(docstore.IdentityAccessor)
		if !ok {
			return nil, fmt.Errorf("converter %T does not implement IdentityAccessor, set Config.Identity", cfg.Converter)
		}
		cfg.Identity = ia
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = idgen.NewUUIDGenerator(cfg.Options.Conventions)
	}
	s := &Session{
		id:          docstore.NewUUID(),
		hash:        instanceCounter.Add(1),
		options:     cfg.Options,
		transport:   cfg.Transport,
		reader:      cfg.Reader,
		converter:   cfg.Converter,
		identity:    cfg.Identity,
		idGenerator: cfg.IDGenerator,
		listeners:   append([]any(nil), cfg.Listeners...),
		observers:   append([]docstore.Observer(nil), cfg.Observers...),
		tracking:    newTrackingMap(cfg.Options.Conventions.IdentityPartsSeparator),
		deferred:    queue.New(),
		budget:      requestBudget{max: cfg.Options.MaxRequestsPerSession},
	}
	s.deferredByID = make(map[string][]docstore.CommandKind)
	return s, nil
}

// ID returns the session's unique id.
func (s *Session) ID() docstore.UUID {
	return s.id
}

// Hash returns the process wide instance number of the session.
func (s *Session) Hash() uint64 {
	return s.hash
}

// Options returns the session's options.
func (s *Session) Options() docstore.Options {
	return s.options
}

// SetOptimisticConcurrency toggles version preconditions on every put of this session.
func (s *Session) SetOptimisticConcurrency(on bool) {
	s.options.UseOptimisticConcurrency = on
}

// HighWatermark returns the highest version acknowledged by a save of this session.
func (s *Session) HighWatermark() docstore.Version {
	return s.highWatermark
}

// IsLoaded reports whether a live entity is tracked under id.
func (s *Session) IsLoaded(id string) bool {
	return s.tracking.isTracked(id)
}

// IsDeleted reports whether id is deleted in this session or known not to exist.
func (s *Session) IsDeleted(id string) bool {
	return s.tracking.isDeleted(id)
}

// IsLoadedOrDeleted reports whether the session knows the state of id without a round trip.
func (s *Session) IsLoadedOrDeleted(id string) bool {
	return s.tracking.isLoadedOrDeleted(id)
}

// Store starts tracking a new entity. The id comes from the entity's identity field
// or the id generator.
func (s *Session) Store(entity any) error {
	return s.store(context.Background(), entity, "", nil, false)
}

// StoreContext is Store using the id generator's context aware path, which may reserve
// id ranges remotely.
func (s *Session) StoreContext(ctx context.Context, entity any) error {
	return s.store(ctx, entity, "", nil, true)
}

// StoreWithID starts tracking entity under id.
func (s *Session) StoreWithID(entity any, id string) error {
	return s.store(context.Background(), entity, id, nil, false)
}

// StoreWithVersion starts tracking entity under id and forces version to be checked when saving.
// Use docstore.VersionMustNotExist to require that the document does not exist yet.
func (s *Session) StoreWithVersion(entity any, id string, version docstore.Version) error {
	return s.store(context.Background(), entity, id, &version, false)
}

func (s *Session) store(ctx context.Context, entity any, id string, version *docstore.Version, async bool) error {
	if err := checkEntity(entity); err != nil {
		return err
	}
	if r, ok := s.tracking.lookupByEntity(entity); ok {
		if r.deleted {
			return docstore.NewError(docstore.AlreadyDeleted, r.key, "can't store %s, it was already deleted in this session", r.key)
		}
		if version != nil {
			r.version = *version
			r.forceConcurrencyCheck = true
		}
		return nil
	}

	collection := s.options.Conventions.CollectionName(entity)
	if id == "" {
		id, _ = s.identity.GetIdentity(entity)
	}
	if id == "" {
		var err error
		if async {
			id, err = s.idGenerator.GenerateIDContext(ctx, entity, collection)
		} else {
			id, err = s.idGenerator.GenerateID(entity, collection)
		}
		if err != nil {
			return err
		}
	}
	if err := s.options.Conventions.ValidateID(id); err != nil {
		return err
	}
	if _, ok := s.deferredByID[id]; ok {
		return docstore.NewError(docstore.DeferredCommandConflict, id, "can't store %s, a deferred command already targets it", id)
	}

	md := docstore.Metadata{}
	if collection != "" {
		md[docstore.MetadataCollection] = collection
	}
	r := &documentInfo{
		entityType: reflect.TypeOf(entity),
		collection: collection,
		metadata:   md,
	}
	if version != nil {
		r.version = *version
		r.forceConcurrencyCheck = true
	}
	if err := s.tracking.assign(id, entity, r); err != nil {
		return err
	}
	if s.tracking.isConcreteID(id) {
		md[docstore.MetadataID] = id
		if err := s.identity.SetIdentity(entity, id); err != nil {
			s.tracking.remove(entity)
			return err
		}
	}
	return nil
}

// Delete marks a tracked entity for deletion on the next save.
func (s *Session) Delete(entity any) error {
	return s.DeleteContext(context.Background(), entity)
}

// DeleteContext is Delete with a context handed to before-delete listeners.
func (s *Session) DeleteContext(ctx context.Context, entity any) error {
	r, ok := s.tracking.lookupByEntity(entity)
	if !ok {
		return docstore.NewError(docstore.NotAssociated, nil, "%T is not associated with the session, can't delete unknown entity", entity)
	}
	return s.deleteRecord(ctx, r)
}

func (s *Session) deleteRecord(ctx context.Context, r *documentInfo) error {
	if r.deleted {
		return nil
	}
	if r.originalMetadata.IsReadOnly() || r.metadata.IsReadOnly() {
		return docstore.NewError(docstore.ReadOnlyViolation, r.key, "%s is marked as read only and can't be deleted", r.key)
	}
	if err := s.beforeDelete(ctx, &docstore.DeleteEvent{SessionID: s.id, ID: r.key, Entity: r.entity, Metadata: r.metadata}); err != nil {
		return err
	}
	s.tracking.markDeleted(r)
	return nil
}

// DeleteByID marks the document id for deletion. A nil expectedVersion deletes
// regardless of the stored version. Deleting a tracked entity that has unsaved changes
// by id is refused, delete the entity itself instead.
func (s *Session) DeleteByID(id string, expectedVersion *docstore.Version) error {
	if err := s.options.Conventions.ValidateID(id); err != nil {
		return err
	}
	if r, ok := s.tracking.lookupByID(id); ok {
		changed, _, _, err := s.detect(r, false)
		if err != nil {
			return err
		}
		if changed {
			return docstore.NewError(docstore.ChangedEntityDeleteByKey, id,
				"can't delete changed entity using identifier %s, use Delete(entity) instead", id)
		}
		if expectedVersion != nil {
			r.version = *expectedVersion
			r.forceConcurrencyCheck = true
		}
		return s.deleteRecord(context.Background(), r)
	}
	if s.isPendingDelete(id) {
		return nil
	}
	return s.Defer(docstore.Command{Kind: docstore.Delete, ID: id, ExpectedVersion: expectedVersion})
}

// Defer queues raw commands for the next save. They run before the session's own
// deletes and puts, in the order they were deferred.
func (s *Session) Defer(commands ...docstore.Command) error {
	for _, c := range commands {
		if err := s.options.Conventions.ValidateID(c.ID); err != nil {
			return err
		}
		if c.Kind != docstore.Put && c.Kind != docstore.Delete && c.Kind != docstore.Patch {
			return fmt.Errorf("unsupported deferred command kind %v", c.Kind)
		}
		if s.hasDeferred(c.ID, docstore.Delete) || (c.Kind == docstore.Delete && len(s.deferredByID[c.ID]) > 0) {
			return docstore.NewError(docstore.DeferredCommandConflict, c.ID, "a deferred command conflicting with %v already targets %s", c.Kind, c.ID)
		}
	}
	for _, c := range commands {
		if c.Kind == docstore.Delete {
			s.tracking.markMissing(c.ID)
		}
		s.enqueue(c)
	}
	return nil
}

// Patch defers a patch of document id.
func (s *Session) Patch(id string, ops ...docstore.PatchOperation) error {
	if len(ops) == 0 {
		return nil
	}
	return s.Defer(docstore.Command{Kind: docstore.Patch, ID: id, Patch: ops})
}

func (s *Session) enqueue(c docstore.Command) {
	s.deferred.Add(c)
	s.deferredByID[c.ID] = append(s.deferredByID[c.ID], c.Kind)
}

func (s *Session) hasDeferred(id string, kind docstore.CommandKind) bool {
	for _, k := range s.deferredByID[id] {
		if k == kind {
			return true
		}
	}
	return false
}

func (s *Session) clearDeferred() {
	s.deferred = queue.New()
	s.deferredByID = make(map[string][]docstore.CommandKind)
}

// Evict stops tracking entity. Pending changes of it are discarded.
func (s *Session) Evict(entity any) {
	s.tracking.remove(entity)
}

// Clear discards the whole unit of work. The session stays usable.
func (s *Session) Clear() {
	s.tracking.clear()
	s.clearDeferred()
}

// IgnoreChangesFor excludes entity from dirty checking.
func (s *Session) IgnoreChangesFor(entity any) error {
	r, err := s.record(entity)
	if err != nil {
		return err
	}
	r.ignoreChanges = true
	return nil
}

// MetadataFor returns the live metadata of a tracked entity. Changes to it are saved.
func (s *Session) MetadataFor(entity any) (docstore.Metadata, error) {
	r, err := s.record(entity)
	if err != nil {
		return nil, err
	}
	if r.metadata == nil {
		r.metadata = docstore.Metadata{}
	}
	return r.metadata, nil
}

// VersionFor returns the last known version of a tracked entity.
func (s *Session) VersionFor(entity any) (docstore.Version, error) {
	r, err := s.record(entity)
	if err != nil {
		return docstore.NoVersion, err
	}
	return r.version, nil
}

// IDFor returns the document id of a tracked entity.
func (s *Session) IDFor(entity any) (string, error) {
	r, err := s.record(entity)
	if err != nil {
		return "", err
	}
	return r.key, nil
}

func (s *Session) record(entity any) (*documentInfo, error) {
	r, ok := s.tracking.lookupByEntity(entity)
	if !ok {
		return nil, docstore.NewError(docstore.NotAssociated, nil, "%T is not associated with the session", entity)
	}
	return r, nil
}

func checkEntity(entity any) error {
	v := reflect.ValueOf(entity)
	if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() {
		return fmt.Errorf("entity must be a non-nil pointer, got %T", entity)
	}
	return nil
}

func (s *Session) logger() *log.Logger {
	return log.Default().With("session", s.id.String(), "database", s.options.Database)
}
