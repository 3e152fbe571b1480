package docstore

import (
	"context"
	"reflect"
)

// Converter turns entities into their structural document form and back.
// Implementations must be deterministic for dirty checking to be meaningful.
type Converter interface {
	// ToDocument returns the document form of entity with metadata merged under @metadata.
	ToDocument(entity any, metadata Metadata) (Document, error)
	// ToEntity materializes a new instance of typ (a pointer type) from doc.
	ToEntity(typ reflect.Type, id string, doc Document, metadata Metadata) (any, error)
}

// IdentityAccessor reads and writes the identity (id) field of an entity.
type IdentityAccessor interface {
	// GetIdentity returns the entity's id field value and whether the entity has an id field.
	GetIdentity(entity any) (string, bool)
	// SetIdentity assigns id to the entity's id field. Entities without one are left untouched.
	SetIdentity(entity any, id string) error
}

// IDGenerator assigns document ids on the client.
type IDGenerator interface {
	// GenerateID returns a new id for entity without blocking on remote calls.
	GenerateID(entity any, collection string) (string, error)
	// GenerateIDContext returns a new id for entity and may reserve id ranges remotely.
	GenerateIDContext(ctx context.Context, entity any, collection string) (string, error)
}

// Transport executes a batch of commands in one round trip. Results are positionally
// aligned with commands. On error no result is reported and the batch is considered
// not applied.
type Transport interface {
	Execute(ctx context.Context, commands []Command) ([]Result, error)
}

// DocumentReader fetches documents by id. The returned slice is aligned with ids,
// a nil entry means the document does not exist.
type DocumentReader interface {
	Get(ctx context.Context, ids ...string) ([]Document, error)
}

// Backend is a document store usable by sessions.
type Backend interface {
	Transport
	DocumentReader
}

// Observer receives notifications about session round trips and completed saves.
// Observers are shared across sessions and must be safe for concurrent use.
type Observer interface {
	RequestIssued(sessionID UUID, count int)
	SaveCompleted(ctx context.Context, summary SaveSummary)
}

// StoreEvent is handed to before/after store listeners.
type StoreEvent struct {
	SessionID UUID
	ID        string
	Entity    any
	Metadata  Metadata
	Document  Document
	vetoed    bool
}

// VetoSnapshot discards the cached serialization of the pending entity; the session
// recomputes the document after all before-store listeners ran.
func (e *StoreEvent) VetoSnapshot() {
	e.vetoed = true
}

// IsSnapshotVetoed reports whether a listener called VetoSnapshot.
func (e *StoreEvent) IsSnapshotVetoed() bool {
	return e.vetoed
}

// DeleteEvent is handed to before-delete listeners.
type DeleteEvent struct {
	SessionID UUID
	ID        string
	Entity    any
	Metadata  Metadata
}

// ConversionEvent is handed to before/after conversion listeners.
type ConversionEvent struct {
	SessionID UUID
	ID        string
	Type      reflect.Type
	Document  Document
	// Entity is only set for after-conversion listeners.
	Entity any
}

// BeforeStoreListener runs before a put command is built for a changed entity.
type BeforeStoreListener interface {
	BeforeStore(ctx context.Context, e *StoreEvent) error
}

// AfterStoreListener runs after a put result was reconciled into the session.
type AfterStoreListener interface {
	AfterStore(ctx context.Context, e *StoreEvent) error
}

// BeforeDeleteListener runs when an entity is marked for deletion.
type BeforeDeleteListener interface {
	BeforeDelete(ctx context.Context, e *DeleteEvent) error
}

// BeforeConversionListener runs before a document is converted into an entity.
type BeforeConversionListener interface {
	BeforeConversion(ctx context.Context, e *ConversionEvent) error
}

// AfterConversionListener runs after a document was converted into an entity.
type AfterConversionListener interface {
	AfterConversion(ctx context.Context, e *ConversionEvent) error
}
