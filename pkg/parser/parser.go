// Package parser turns delivery entries into plain nested structures that can
// be serialized into the cache.
//
// A Parsed value holds system metadata under underscore-prefixed keys
// (_id, _contentType, _createdAt, ...) and the entry's fields under their
// field ids. It contains only strings, numbers, booleans, nil, []any and
// map[string]any.
package parser

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/contentful-cache/pkg/delivery"
)

// System keys of a parsed entry.
const (
	KeyID          = "_id"
	KeyCreatedAt   = "_createdAt"
	KeyLocale      = "_locale"
	KeyRevision    = "_revision"
	KeySpace       = "_space"
	KeyContentType = "_contentType"
	KeyUpdatedAt   = "_updatedAt"
)

// Parsed is the cache-durable projection of an entry.
type Parsed = map[string]any

// Parser projects entries into Parsed structures. Parsers producing different
// shapes must report different identities; the identity partitions the
// entry cache.
type Parser interface {
	Identity() string
	ParseEntry(e *delivery.Entry) Parsed
}

// ParseAll parses every entry with p.
func ParseAll(p Parser, entries []*delivery.Entry) []Parsed {
	out := make([]Parsed, 0, len(entries))
	for _, e := range entries {
		out = append(out, p.ParseEntry(e))
	}
	return out
}

// Simple resolves every field of an entry recursively.
type Simple struct {
	logger zerolog.Logger
}

// NewSimple creates the default full-depth parser.
func NewSimple(logger zerolog.Logger) *Simple {
	return &Simple{logger: logger}
}

// Identity implements Parser.
func (p *Simple) Identity() string {
	return "contentful.parser.simple"
}

// ParseEntry implements Parser.
func (p *Simple) ParseEntry(e *delivery.Entry) Parsed {
	return p.resolveEntry(e, map[*delivery.Entry]bool{})
}

// ToArray parses an entry, a collection, a slice of entries or a single field
// value. Anything else is returned unchanged.
func (p *Simple) ToArray(v any) any {
	path := map[*delivery.Entry]bool{}
	switch val := v.(type) {
	case *delivery.Entry:
		return p.resolveEntry(val, path)
	case *delivery.EntryCollection:
		if val == nil {
			return []any{}
		}
		return p.entries(val.Items, path)
	case []*delivery.Entry:
		return p.entries(val, path)
	case delivery.Value:
		return p.value(val, path)
	default:
		return v
	}
}

func (p *Simple) entries(list []*delivery.Entry, path map[*delivery.Entry]bool) []any {
	out := make([]any, 0, len(list))
	for _, e := range list {
		out = append(out, p.resolveEntry(e, path))
	}
	return out
}

// resolveEntry parses e. path holds the entries currently being resolved; a
// link back into it is replaced by a stub holding id and content type.
func (p *Simple) resolveEntry(e *delivery.Entry, path map[*delivery.Entry]bool) Parsed {
	if path[e] {
		return stub(e)
	}
	path[e] = true
	defer delete(path, e)

	out := systemFields(e)
	for _, id := range e.FieldIDs() {
		v, err := e.Field(id)
		if err != nil {
			p.logger.Warn().
				Err(err).
				Str("entry_id", e.ID()).
				Str("field_id", id).
				Msg("Field could not be resolved")
			out[id] = nil
			continue
		}
		out[id] = p.value(v, path)
	}
	return dropEmptyStrings(out)
}

func (p *Simple) value(v delivery.Value, path map[*delivery.Entry]bool) any {
	switch val := v.(type) {
	case nil:
		return nil
	case delivery.Scalar:
		return val.V
	case delivery.List:
		out := make([]any, 0, len(val))
		for _, item := range val {
			out = append(out, p.value(item, path))
		}
		return out
	case *delivery.Asset:
		if val.File == nil {
			return ""
		}
		return val.File.URL
	case *delivery.Entry:
		return p.resolveEntry(val, path)
	default:
		return nil
	}
}

// RouteCollection resolves only id, content type and the slug field. It is
// used to build the route collection over thousands of entries.
type RouteCollection struct {
	slugField string
}

// NewRouteCollection creates the shallow route collection parser.
func NewRouteCollection(slugField string) *RouteCollection {
	return &RouteCollection{slugField: slugField}
}

// Identity implements Parser.
func (p *RouteCollection) Identity() string {
	return "contentful.parser.route_collection"
}

// ParseEntry implements Parser.
func (p *RouteCollection) ParseEntry(e *delivery.Entry) Parsed {
	out := Parsed{
		KeyID:          e.ID(),
		KeyContentType: e.ContentTypeID(),
	}
	if p.slugField != "" {
		out[p.slugField] = e.FieldString(p.slugField)
	}
	return dropEmptyStrings(out)
}

func systemFields(e *delivery.Entry) Parsed {
	return Parsed{
		KeyID:          e.ID(),
		KeyCreatedAt:   formatTime(e.Sys.CreatedAt),
		KeyLocale:      e.Sys.Locale,
		KeyRevision:    e.Sys.Revision,
		KeySpace:       e.Sys.SpaceID,
		KeyContentType: e.ContentTypeID(),
		KeyUpdatedAt:   formatTime(e.Sys.UpdatedAt),
	}
}

func stub(e *delivery.Entry) Parsed {
	return Parsed{KeyID: e.ID(), KeyContentType: e.ContentTypeID()}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// dropEmptyStrings removes keys holding "". false, 0, nil and empty nested
// values stay.
func dropEmptyStrings(m Parsed) Parsed {
	for k, v := range m {
		if s, ok := v.(string); ok && s == "" {
			delete(m, k)
		}
	}
	return m
}
