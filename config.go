package docstore

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/sharedcode/docstore/encoding"
)

// DefaultMaxRequestsPerSession is the round trip ceiling applied when Options leaves it unset.
const DefaultMaxRequestsPerSession = 30

// Conventions controls naming rules shared by sessions, converters and id generators.
type Conventions struct {
	// IdentityField is the struct field (or json name) carrying the document id. Defaults to "ID".
	IdentityField string `json:"identity_field,omitempty"`
	// IdentityPartsSeparator separates collection prefix from the rest of an id. Defaults to "/".
	IdentityPartsSeparator string `json:"identity_parts_separator,omitempty"`
	// CollectionNames maps Go type names to collection names, overriding the default.
	CollectionNames map[string]string `json:"collection_names,omitempty"`
}

// Options holds the configuration for a database and the sessions it opens.
type Options struct {
	// Database name, informational, used for logging and metrics labels.
	Database string `json:"database"`
	// UseOptimisticConcurrency makes every put carry the last known version as precondition.
	UseOptimisticConcurrency bool `json:"use_optimistic_concurrency"`
	// MaxRequestsPerSession caps remote round trips of one session.
	MaxRequestsPerSession int `json:"max_requests_per_session"`
	// Conventions for ids and collections.
	Conventions Conventions `json:"conventions"`
}

// DefaultOptions returns Options with defaults applied.
func DefaultOptions() Options {
	o := Options{}
	o.applyDefaults()
	return o
}

func (o *Options) applyDefaults() {
	if o.MaxRequestsPerSession == 0 {
		o.MaxRequestsPerSession = DefaultMaxRequestsPerSession
	}
	if o.Conventions.IdentityField == "" {
		o.Conventions.IdentityField = "ID"
	}
	if o.Conventions.IdentityPartsSeparator == "" {
		o.Conventions.IdentityPartsSeparator = "/"
	}
}

// Validate applies defaults and checks the options for consistency.
func (o *Options) Validate() error {
	o.applyDefaults()
	if o.MaxRequestsPerSession < 0 {
		return fmt.Errorf("max requests per session can't be negative, got %d", o.MaxRequestsPerSession)
	}
	if len(o.Conventions.IdentityPartsSeparator) != 1 {
		return fmt.Errorf("identity parts separator should be a single character, got %q", o.Conventions.IdentityPartsSeparator)
	}
	return nil
}

// LoadOptions reads Options from a JSON file and validates them.
func LoadOptions(path string) (Options, error) {
	var o Options
	ba, err := os.ReadFile(path)
	if err != nil {
		return o, fmt.Errorf("failed to read options file %s: %w", path, err)
	}
	if err := encoding.DefaultMarshaler.Unmarshal(ba, &o); err != nil {
		return o, fmt.Errorf("failed to decode options file %s: %w", path, err)
	}
	if err := o.Validate(); err != nil {
		return o, err
	}
	return o, nil
}

// CollectionName returns the collection of the entity's type: an explicit mapping if
// configured, otherwise the lower cased type name pluralized with a trailing "s".
func (c Conventions) CollectionName(entity any) string {
	t := reflect.TypeOf(entity)
	for t != nil && (t.Kind() == reflect.Pointer || t.Kind() == reflect.Slice) {
		t = t.Elem()
	}
	if t == nil || t.Name() == "" {
		return ""
	}
	if n, ok := c.CollectionNames[t.Name()]; ok {
		return n
	}
	name := strings.ToLower(t.Name())
	if strings.HasSuffix(name, "s") {
		return name
	}
	if strings.HasSuffix(name, "y") && len(name) > 1 && !strings.ContainsRune("aeiou", rune(name[len(name)-2])) {
		return name[:len(name)-1] + "ies"
	}
	return name + "s"
}

// ValidateID rejects ids that start with the identity parts separator.
func (c Conventions) ValidateID(id string) error {
	sep := c.IdentityPartsSeparator
	if sep == "" {
		sep = "/"
	}
	if strings.HasPrefix(id, sep) {
		return NewError(InvalidIdentifier, id, "id %q can't start with %q", id, sep)
	}
	return nil
}
