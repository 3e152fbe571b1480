package docstore

import (
	"fmt"
	"strings"
	"time"
)

// Mutation is the outcome of applying one command to the current state of its document.
type Mutation struct {
	// ID is the resolved document id.
	ID string
	// Write is set when Document is the document's new state.
	Write bool
	// Remove is set when the document has to be removed.
	Remove   bool
	Document Document
	Result   Result
}

// NeedsServerID reports whether a put id asks the store to assign the id: an empty id or
// one ending with the separator.
func NeedsServerID(id, separator string) bool {
	return id == "" || strings.HasSuffix(id, separator)
}

// ServerIDPrefix returns the prefix a store assigned id starts with: id itself, or the
// document's collection followed by separator when id is empty.
func ServerIDPrefix(id string, doc Document, separator string) string {
	if id != "" {
		return id
	}
	if c := doc.Metadata().Collection(); c != "" {
		return c + separator
	}
	return ""
}

// ServerID completes a put id with the store assigned sequence number n.
func ServerID(id string, doc Document, n int64, separator string) string {
	return fmt.Sprintf("%s%d", ServerIDPrefix(id, doc, separator), n)
}

// CheckPrecondition verifies expected against the current document, nil when it does not exist.
func CheckPrecondition(id string, expected *Version, current Document) error {
	if expected == nil {
		return nil
	}
	if *expected == VersionMustNotExist || *expected == NoVersion {
		if current != nil {
			return NewError(ConcurrencyViolation, id, "document %s already exists", id)
		}
		return nil
	}
	if current == nil {
		return NewError(ConcurrencyViolation, id, "document %s does not exist, expected version %d", id, *expected)
	}
	if v := current.Metadata().Version(); v != *expected {
		return NewError(ConcurrencyViolation, id, "document %s has version %d, expected version %d", id, v, *expected)
	}
	return nil
}

// ApplyCommand computes what command c does to current (nil when missing). id is the
// resolved document id and version the version to stamp on a written document.
func ApplyCommand(c Command, id string, current Document, version Version, now time.Time) (Mutation, error) {
	m := Mutation{ID: id, Result: Result{Kind: c.Kind, ID: id}}
	if err := CheckPrecondition(id, c.ExpectedVersion, current); err != nil {
		return m, err
	}
	switch c.Kind {
	case Put:
		m.Write = true
		m.Document = c.Document.Clone()
		if m.Document == nil {
			m.Document = Document{}
		}
	case Delete:
		m.Remove = current != nil
		return m, nil
	case Patch:
		if current == nil {
			// Nothing to patch.
			return m, nil
		}
		doc, err := ApplyPatch(current, c.Patch)
		if err != nil {
			return m, fmt.Errorf("patch of %s failed: %w", id, err)
		}
		m.Write = true
		m.Document = doc
	default:
		return m, fmt.Errorf("unsupported command kind %v for %s", c.Kind, id)
	}

	md := m.Document.Metadata().Clone()
	if md == nil {
		md = Metadata{}
	}
	if current != nil && md.Collection() == "" {
		if c := current.Metadata().Collection(); c != "" {
			md[MetadataCollection] = c
		}
	}
	md[MetadataID] = id
	md[MetadataVersion] = int64(version)
	md[MetadataLastModified] = now.UTC().Format(time.RFC3339Nano)
	m.Document[MetadataKey] = map[string]any(md)

	m.Result.Version = version
	m.Result.Metadata = Metadata{
		MetadataID:           id,
		MetadataVersion:      int64(version),
		MetadataLastModified: md[MetadataLastModified],
	}
	return m, nil
}
