package docstore

import (
	"time"
)

// Reserved document keys and metadata attributes.
const (
	// MetadataKey is the document key carrying the document's metadata.
	MetadataKey = "@metadata"
	// ValuesKey wraps a projection result list, e.g. {"$values": [...]}.
	ValuesKey = "$values"

	MetadataID           = "@id"
	MetadataVersion      = "@version"
	MetadataCollection   = "@collection"
	MetadataReadOnly     = "@read-only"
	MetadataReadVeto     = "@read-veto"
	MetadataLastModified = "@last-modified"
)

// Version is the opaque version token (ETag equivalent) of a document. Stores assign
// monotonically increasing versions, NoVersion means "unknown/new".
type Version int64

const (
	// NoVersion marks a document whose server state is not (yet) known.
	NoVersion Version = 0
	// VersionMustNotExist is the precondition sentinel requiring that the document does not exist yet.
	VersionMustNotExist Version = -1
)

// VersionPtr returns a pointer to v, handy for Command.ExpectedVersion.
func VersionPtr(v Version) *Version {
	return &v
}

// Document is the structural (raw) form of an entity.
type Document map[string]any

// Metadata is the server visible attribute set of a document.
type Metadata map[string]any

// Metadata returns the metadata embedded in the document, nil if there is none.
func (d Document) Metadata() Metadata {
	if d == nil {
		return nil
	}
	switch m := d[MetadataKey].(type) {
	case Metadata:
		return m
	case map[string]any:
		return Metadata(m)
	}
	return nil
}

// ID returns the @id stored in the document's metadata.
func (d Document) ID() string {
	return d.Metadata().ID()
}

// WithoutMetadata returns a shallow copy of the document minus its @metadata.
func (d Document) WithoutMetadata() Document {
	if d == nil {
		return nil
	}
	r := make(Document, len(d))
	for k, v := range d {
		if k == MetadataKey {
			continue
		}
		r[k] = v
	}
	return r
}

// Clone deep copies the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneMap(d))
}

// Clone deep copies the metadata.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	return Metadata(cloneMap(m))
}

// ID returns the @id attribute.
func (m Metadata) ID() string {
	s, _ := m[MetadataID].(string)
	return s
}

// Collection returns the @collection attribute.
func (m Metadata) Collection() string {
	s, _ := m[MetadataCollection].(string)
	return s
}

// Version returns the @version attribute, NoVersion if absent.
func (m Metadata) Version() Version {
	switch v := m[MetadataVersion].(type) {
	case Version:
		return v
	case int64:
		return Version(v)
	case int:
		return Version(v)
	case float64:
		return Version(v)
	case interface{ Int64() (int64, error) }:
		if n, err := v.Int64(); err == nil {
			return Version(n)
		}
	}
	return NoVersion
}

// IsReadOnly reports whether the @read-only flag is set.
func (m Metadata) IsReadOnly() bool {
	b, _ := m[MetadataReadOnly].(bool)
	return b
}

// ReadVeto returns the read veto signal carried by the metadata, if any.
func (m Metadata) ReadVeto() (ReadVeto, bool) {
	raw, ok := m[MetadataReadVeto]
	if !ok || raw == nil {
		return ReadVeto{}, false
	}
	switch v := raw.(type) {
	case ReadVeto:
		return v, true
	case *ReadVeto:
		return *v, true
	case map[string]any:
		r, _ := v["reason"].(string)
		t, _ := v["trigger"].(string)
		return ReadVeto{Reason: r, Trigger: t}, true
	}
	return ReadVeto{}, true
}

// ReadVeto is the server side signal that a document may not be surfaced to the caller.
type ReadVeto struct {
	Reason  string `json:"reason"`
	Trigger string `json:"trigger"`
}

// CommandKind enumerates the batch command operations.
type CommandKind int

const (
	// Put stores (inserts or replaces) a document.
	Put CommandKind = iota + 1
	// Delete removes a document.
	Delete
	// Patch applies a list of field operations to an existing document.
	Patch
)

func (k CommandKind) String() string {
	switch k {
	case Put:
		return "PUT"
	case Delete:
		return "DELETE"
	case Patch:
		return "PATCH"
	}
	return "UNKNOWN"
}

// Command is one entry of a save batch.
type Command struct {
	Kind CommandKind `json:"kind"`
	// ID of the target document. For puts an empty ID, or an ID ending with the identity
	// parts separator (e.g. "items/"), asks the store to assign one.
	ID string `json:"id"`
	// Document is the put payload, including @metadata.
	Document Document `json:"document,omitempty"`
	// ExpectedVersion is the optimistic concurrency precondition; nil disables the check.
	ExpectedVersion *Version `json:"expected_version,omitempty"`
	// Patch lists the operations of a Patch command.
	Patch []PatchOperation `json:"patch,omitempty"`
}

// Result is the store's acknowledgement of one command, positionally aligned with the batch.
type Result struct {
	Kind     CommandKind `json:"kind"`
	ID       string      `json:"id"`
	Version  Version     `json:"version"`
	Metadata Metadata    `json:"metadata,omitempty"`
}

// SaveSummary describes a completed save, handed to Observers.
type SaveSummary struct {
	SessionID     UUID
	Puts          int
	Deletes       int
	Deferred      int
	HighWatermark Version
	Duration      time.Duration
}

func cloneMap(m map[string]any) map[string]any {
	r := make(map[string]any, len(m))
	for k, v := range m {
		r[k] = cloneValue(v)
	}
	return r
}

// CloneValue deep copies a structural value (maps, slices, scalars).
func CloneValue(v any) any {
	return cloneValue(v)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Document:
		return Document(cloneMap(t))
	case Metadata:
		return Metadata(cloneMap(t))
	case []any:
		r := make([]any, len(t))
		for i := range t {
			r[i] = cloneValue(t[i])
		}
		return r
	}
	return v
}
