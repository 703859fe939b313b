// Package delivery models the Contentful Content Delivery API: content types,
// entries, assets and links, the query builder, the HTTP client and the
// sync iterator.
//
// Entries are schema-driven. Field values are held in a map from field id to
// a Value, and every Value is one of Scalar, List, *Entry, *Asset or *Link.
// A *Link is a reference the upstream response did not resolve.
package delivery

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrUnresolvedLink is returned when a field points at an entry or asset
	// that was not part of the upstream response.
	ErrUnresolvedLink = errors.New("unresolved link")

	// ErrUnknownField is returned when a field id is not defined on the content type.
	ErrUnknownField = errors.New("unknown field")
)

// Field is a single field definition of a content type.
type Field struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Type      string      `json:"type"`
	LinkType  string      `json:"linkType,omitempty"`
	Localized bool        `json:"localized"`
	Disabled  bool        `json:"disabled"`
	Omitted   bool        `json:"omitted"`
	Items     *FieldItems `json:"items,omitempty"`
}

// FieldItems describes the element type of an Array field.
type FieldItems struct {
	Type     string `json:"type"`
	LinkType string `json:"linkType,omitempty"`
}

// ContentType is the schema an entry conforms to.
type ContentType struct {
	ID           string
	Name         string
	DisplayField string
	Fields       []Field
}

// HasField reports whether the content type defines a field with the given id.
func (ct *ContentType) HasField(id string) bool {
	if ct == nil {
		return false
	}
	for _, f := range ct.Fields {
		if f.ID == id {
			return true
		}
	}
	return false
}

// System holds the sys block of an upstream resource.
type System struct {
	ID            string
	Type          string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Revision      int
	Locale        string
	SpaceID       string
	EnvironmentID string
	ContentTypeID string
}

// Value is a field value: Scalar, List, *Entry, *Asset or *Link.
type Value interface {
	isValue()
}

// Scalar wraps a plain JSON value (string, float64, bool, nil, or a JSON
// object such as a location or rich text document).
type Scalar struct {
	V any
}

// List is an array field value.
type List []Value

// Link is a reference that could not be resolved against the response includes.
type Link struct {
	ID       string
	LinkType string
}

// File is the file metadata of an asset.
type File struct {
	URL         string
	FileName    string
	ContentType string
	Size        int64
}

// Asset is a media resource. File is nil when the asset has no file attached.
type Asset struct {
	Sys         System
	Title       string
	Description string
	File        *File
}

// Entry is a single content record.
type Entry struct {
	Sys         System
	ContentType *ContentType
	fields      map[string]Value
}

func (Scalar) isValue() {}
func (List) isValue()   {}
func (*Link) isValue()  {}
func (*Asset) isValue() {}
func (*Entry) isValue() {}

// NewEntry creates an entry. The content type may be nil when the schema is
// unknown; field iteration then falls back to the fields present on the entry.
func NewEntry(sys System, ct *ContentType, fields map[string]Value) *Entry {
	if fields == nil {
		fields = make(map[string]Value)
	}
	if ct != nil && sys.ContentTypeID == "" {
		sys.ContentTypeID = ct.ID
	}
	return &Entry{Sys: sys, ContentType: ct, fields: fields}
}

// ID returns the entry id.
func (e *Entry) ID() string {
	return e.Sys.ID
}

// ContentTypeID returns the id of the entry's content type.
func (e *Entry) ContentTypeID() string {
	if e.Sys.ContentTypeID != "" {
		return e.Sys.ContentTypeID
	}
	if e.ContentType != nil {
		return e.ContentType.ID
	}
	return ""
}

// FieldIDs returns the ids of every field defined on the content type, in
// schema order. Without a content type the ids present on the entry are
// returned sorted.
func (e *Entry) FieldIDs() []string {
	if e.ContentType != nil {
		ids := make([]string, 0, len(e.ContentType.Fields))
		for _, f := range e.ContentType.Fields {
			if f.Omitted {
				continue
			}
			ids = append(ids, f.ID)
		}
		return ids
	}

	ids := make([]string, 0, len(e.fields))
	for id := range e.fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Field resolves a field value. An absent field yields (nil, nil). A field
// holding a link the response did not include yields ErrUnresolvedLink.
// Unresolved links inside arrays are skipped.
func (e *Entry) Field(id string) (Value, error) {
	if e.ContentType != nil && !e.ContentType.HasField(id) {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownField, id, e.ContentType.ID)
	}

	v, ok := e.fields[id]
	if !ok {
		return nil, nil
	}

	switch val := v.(type) {
	case *Link:
		return nil, fmt.Errorf("%w: %s %s", ErrUnresolvedLink, val.LinkType, val.ID)
	case List:
		out := make(List, 0, len(val))
		for _, item := range val {
			if _, unresolved := item.(*Link); unresolved {
				continue
			}
			out = append(out, item)
		}
		return out, nil
	default:
		return v, nil
	}
}

// FieldString returns the field value if it is a non-empty string scalar.
func (e *Entry) FieldString(id string) string {
	v, err := e.Field(id)
	if err != nil {
		return ""
	}
	s, ok := v.(Scalar)
	if !ok {
		return ""
	}
	str, _ := s.V.(string)
	return str
}

// SetField stores a field value. Used by decoders and tests.
func (e *Entry) SetField(id string, v Value) {
	e.fields[id] = v
}

// EntryCollection is a page of entries returned by a query.
type EntryCollection struct {
	Total int
	Skip  int
	Limit int
	Items []*Entry
}

// IDs returns the entry ids in collection order.
func (c *EntryCollection) IDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, 0, len(c.Items))
	for _, e := range c.Items {
		ids = append(ids, e.ID())
	}
	return ids
}
