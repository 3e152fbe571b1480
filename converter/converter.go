// Package converter provides the default JSON based entity converter and the reflection
// based identity accessor used by sessions.
package converter

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/sharedcode/docstore"
	"github.com/sharedcode/docstore/encoding"
)

// IdentityTag marks the identity field explicitly, e.g. `docstore:"id"`.
const IdentityTag = "docstore"

// JSON converts entities through their JSON form. The identity field is kept out of the
// document body, the id travels in @metadata.@id instead.
type JSON struct {
	identityField string
	fields        sync.Map // reflect.Type -> identityInfo
}

type identityInfo struct {
	index    []int
	jsonName string
	found    bool
}

var (
	_ docstore.Converter        = (*JSON)(nil)
	_ docstore.IdentityAccessor = (*JSON)(nil)
)

// New returns a JSON converter using conventions.IdentityField as the identity field name.
func New(conventions docstore.Conventions) *JSON {
	f := conventions.IdentityField
	if f == "" {
		f = "ID"
	}
	return &JSON{identityField: f}
}

// ToDocument returns the structural form of entity with metadata merged under @metadata.
func (c *JSON) ToDocument(entity any, metadata docstore.Metadata) (docstore.Document, error) {
	if d, ok := entity.(*docstore.Document); ok {
		doc := d.WithoutMetadata().Clone()
		doc[docstore.MetadataKey] = map[string]any(metadata.Clone())
		return doc, nil
	}
	m, err := encoding.ToMap(entity)
	if err != nil {
		return nil, fmt.Errorf("converting %T to document failed: %w", entity, err)
	}
	if info := c.identity(reflect.TypeOf(entity)); info.found {
		delete(m, info.jsonName)
	}
	if metadata == nil {
		metadata = docstore.Metadata{}
	}
	m[docstore.MetadataKey] = map[string]any(metadata.Clone())
	return docstore.Document(m), nil
}

// ToEntity materializes a new instance of typ from doc. typ may be a struct type or a
// pointer to one, the result is always a pointer.
func (c *JSON) ToEntity(typ reflect.Type, id string, doc docstore.Document, metadata docstore.Metadata) (any, error) {
	if typ == nil {
		return nil, fmt.Errorf("entity type can't be nil")
	}
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	ptr := reflect.New(typ)
	if typ == reflect.TypeOf(docstore.Document{}) {
		d := doc.Clone()
		if d == nil {
			d = docstore.Document{}
		}
		if metadata != nil {
			d[docstore.MetadataKey] = map[string]any(metadata.Clone())
		}
		ptr.Elem().Set(reflect.ValueOf(d))
		return ptr.Interface(), nil
	}
	if err := encoding.FromMap(doc.WithoutMetadata(), ptr.Interface()); err != nil {
		return nil, err
	}
	if id != "" {
		if err := c.SetIdentity(ptr.Interface(), id); err != nil {
			return nil, err
		}
	}
	return ptr.Interface(), nil
}

// GetIdentity returns the value of the entity's identity field.
func (c *JSON) GetIdentity(entity any) (string, bool) {
	if d, ok := entity.(*docstore.Document); ok {
		if d == nil {
			return "", false
		}
		return d.ID(), true
	}
	info := c.identity(reflect.TypeOf(entity))
	if !info.found {
		return "", false
	}
	v := reflect.ValueOf(entity)
	if v.IsNil() {
		return "", false
	}
	f := v.Elem().FieldByIndex(info.index)
	return f.String(), true
}

// SetIdentity assigns id to the entity's identity field.
func (c *JSON) SetIdentity(entity any, id string) error {
	if d, ok := entity.(*docstore.Document); ok {
		if *d == nil {
			*d = docstore.Document{}
		}
		md := d.Metadata()
		if md == nil {
			md = docstore.Metadata{}
			(*d)[docstore.MetadataKey] = map[string]any(md)
		}
		md[docstore.MetadataID] = id
		return nil
	}
	info := c.identity(reflect.TypeOf(entity))
	if !info.found {
		return nil
	}
	v := reflect.ValueOf(entity)
	if v.IsNil() {
		return fmt.Errorf("can't set identity of a nil %T", entity)
	}
	f := v.Elem().FieldByIndex(info.index)
	if !f.CanSet() {
		return fmt.Errorf("identity field of %T is not settable", entity)
	}
	f.SetString(id)
	return nil
}

// identity resolves (and caches) the identity field of a pointer-to-struct type.
func (c *JSON) identity(t reflect.Type) identityInfo {
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return identityInfo{}
	}
	if v, ok := c.fields.Load(t); ok {
		return v.(identityInfo)
	}
	info := c.findIdentity(t.Elem())
	c.fields.Store(t, info)
	return info
}

func (c *JSON) findIdentity(st reflect.Type) identityInfo {
	var byName *reflect.StructField
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.IsExported() || f.Type.Kind() != reflect.String {
			continue
		}
		if f.Tag.Get(IdentityTag) == "id" {
			return identityInfo{index: f.Index, jsonName: jsonName(f), found: true}
		}
		if byName == nil && f.Name == c.identityField {
			ff := f
			byName = &ff
		}
	}
	if byName == nil {
		return identityInfo{}
	}
	return identityInfo{index: byName.Index, jsonName: jsonName(*byName), found: true}
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" {
		return f.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return f.Name
	}
	return name
}
