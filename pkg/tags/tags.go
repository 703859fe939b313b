// Package tags computes the cache tags a cached value depends on.
//
// A tag set always contains the configured default tags and the id of every
// entry reachable from the value. Entries of a routable content type with a
// slug also contribute their routing tag.
package tags

import (
	"crypto/md5"
	"encoding/hex"
	"sort"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/contentful-cache/pkg/config"
	"github.com/Sternrassler/contentful-cache/pkg/delivery"
	"github.com/Sternrassler/contentful-cache/pkg/parser"
)

// CollectionTag marks the cached route collection.
const CollectionTag = "route_collection"

const routingSuffix = "-contentful-routing"

// RoutingTag returns the tag of a routing cache item for a slug.
func RoutingTag(slug string) string {
	sum := md5.Sum([]byte(slug))
	return hex.EncodeToString(sum[:]) + routingSuffix
}

// Extractor computes tag sets from entries and parsed entries.
type Extractor struct {
	routing config.Routing
	logger  zerolog.Logger
}

// NewExtractor creates an extractor for the given routing configuration.
func NewExtractor(routing config.Routing, logger zerolog.Logger) *Extractor {
	return &Extractor{routing: routing, logger: logger}
}

// ForEntry returns the tags of a single entry and everything it links to.
func (x *Extractor) ForEntry(e *delivery.Entry) []string {
	return x.Compute(e)
}

// ForEntries returns the union of the tags of all entries.
func (x *Extractor) ForEntries(entries []*delivery.Entry) []string {
	list := make(delivery.List, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}
	return x.Compute(list)
}

// Compute returns the sorted tag set of a field value. Scalars and assets
// yield the default tags only. Fields that cannot be resolved are logged and
// contribute nothing.
func (x *Extractor) Compute(v delivery.Value) []string {
	set := newSet(x.routing.DefaultTags)
	x.collect(v, set, map[*delivery.Entry]bool{})
	return set.sorted()
}

func (x *Extractor) collect(v delivery.Value, set tagSet, visited map[*delivery.Entry]bool) {
	switch val := v.(type) {
	case *delivery.Entry:
		if val == nil || visited[val] {
			return
		}
		visited[val] = true

		set.add(val.ID())
		if x.routing.SlugField != "" && x.routing.IsRoutable(val.ContentTypeID()) {
			if slug := val.FieldString(x.routing.SlugField); slug != "" {
				set.add(RoutingTag(slug))
			}
		}

		for _, id := range val.FieldIDs() {
			fv, err := val.Field(id)
			if err != nil {
				x.logger.Warn().
					Err(err).
					Str("entry_id", val.ID()).
					Str("field_id", id).
					Msg("Field skipped while computing tags")
				continue
			}
			x.collect(fv, set, visited)
		}
	case delivery.List:
		for _, item := range val {
			x.collect(item, set, visited)
		}
	}
}

// FromParsed returns the tag set of a parsed entry. Every nested structure
// carrying an _id contributes it, together with its routing tag when its
// content type is routable.
func (x *Extractor) FromParsed(p parser.Parsed) []string {
	set := newSet(x.routing.DefaultTags)
	x.collectParsed(p, set)
	return set.sorted()
}

func (x *Extractor) collectParsed(v any, set tagSet) {
	switch val := v.(type) {
	case map[string]any:
		if id, ok := val[parser.KeyID].(string); ok {
			set.add(id)
			ct, _ := val[parser.KeyContentType].(string)
			if x.routing.SlugField != "" && x.routing.IsRoutable(ct) {
				if slug, ok := val[x.routing.SlugField].(string); ok && slug != "" {
					set.add(RoutingTag(slug))
				}
			}
		}
		for _, child := range val {
			x.collectParsed(child, set)
		}
	case []any:
		for _, item := range val {
			x.collectParsed(item, set)
		}
	}
}

type tagSet map[string]struct{}

func newSet(initial []string) tagSet {
	s := make(tagSet, len(initial))
	for _, t := range initial {
		s.add(t)
	}
	return s
}

func (s tagSet) add(tag string) {
	if tag == "" {
		return
	}
	s[tag] = struct{}{}
}

func (s tagSet) sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
