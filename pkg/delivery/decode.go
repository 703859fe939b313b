package delivery

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

type rawLinkSys struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	LinkType string `json:"linkType"`
}

type rawLink struct {
	Sys rawLinkSys `json:"sys"`
}

type rawSys struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Revision    int       `json:"revision"`
	Version     int       `json:"version"`
	Locale      string    `json:"locale"`
	Space       *rawLink  `json:"space"`
	Environment *rawLink  `json:"environment"`
	ContentType *rawLink  `json:"contentType"`
}

type rawResource struct {
	Sys    rawSys                     `json:"sys"`
	Fields map[string]json.RawMessage `json:"fields"`
}

type rawIncludes struct {
	Entry []rawResource `json:"Entry"`
	Asset []rawResource `json:"Asset"`
}

type rawCollection struct {
	Total    int           `json:"total"`
	Skip     int           `json:"skip"`
	Limit    int           `json:"limit"`
	Items    []rawResource `json:"items"`
	Includes rawIncludes   `json:"includes"`
}

type rawContentType struct {
	Sys          rawSys  `json:"sys"`
	Name         string  `json:"name"`
	DisplayField string  `json:"displayField"`
	Fields       []Field `json:"fields"`
}

type rawFile struct {
	URL         string `json:"url"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Details     struct {
		Size int64 `json:"size"`
	} `json:"details"`
}

func (s rawSys) system() System {
	sys := System{
		ID:        s.ID,
		Type:      s.Type,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Revision:  s.Revision,
		Locale:    s.Locale,
	}
	if sys.Revision == 0 {
		sys.Revision = s.Version
	}
	if s.Space != nil {
		sys.SpaceID = s.Space.Sys.ID
	}
	if s.Environment != nil {
		sys.EnvironmentID = s.Environment.Sys.ID
	}
	if s.ContentType != nil {
		sys.ContentTypeID = s.ContentType.Sys.ID
	}
	return sys
}

// contentTypeIDs returns the distinct content type ids referenced by the
// items and included entries, sorted.
func (c *rawCollection) contentTypeIDs() []string {
	seen := make(map[string]struct{})
	for _, list := range [][]rawResource{c.Items, c.Includes.Entry} {
		for _, r := range list {
			if r.Sys.ContentType != nil {
				seen[r.Sys.ContentType.Sys.ID] = struct{}{}
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// resolver turns raw resources into entries, wiring links between them.
// Entries are registered as shells first so that links to entries appearing
// later in the payload (or cyclic links) resolve to the same pointer.
type resolver struct {
	types   map[string]*ContentType
	locale  string
	entries map[string]*Entry
	assets  map[string]*Asset
}

func newResolver(types map[string]*ContentType, locale string) *resolver {
	if types == nil {
		types = map[string]*ContentType{}
	}
	return &resolver{
		types:   types,
		locale:  locale,
		entries: make(map[string]*Entry),
		assets:  make(map[string]*Asset),
	}
}

func (r *resolver) register(resources []rawResource) error {
	for _, res := range resources {
		switch res.Sys.Type {
		case "Entry":
			if _, ok := r.entries[res.Sys.ID]; ok {
				continue
			}
			sys := res.Sys.system()
			r.entries[sys.ID] = NewEntry(sys, r.types[sys.ContentTypeID], nil)
		case "Asset":
			if _, ok := r.assets[res.Sys.ID]; ok {
				continue
			}
			asset, err := r.asset(res)
			if err != nil {
				return err
			}
			r.assets[asset.Sys.ID] = asset
		}
	}
	return nil
}

func (r *resolver) asset(res rawResource) (*Asset, error) {
	a := &Asset{Sys: res.Sys.system()}

	var title, description string
	if raw, ok := r.localized(res.Fields["title"]); ok {
		_ = json.Unmarshal(raw, &title)
	}
	if raw, ok := r.localized(res.Fields["description"]); ok {
		_ = json.Unmarshal(raw, &description)
	}
	a.Title = title
	a.Description = description

	if raw, ok := r.localized(res.Fields["file"]); ok {
		var f rawFile
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode asset %s file: %w", a.Sys.ID, err)
		}
		a.File = &File{URL: f.URL, FileName: f.FileName, ContentType: f.ContentType, Size: f.Details.Size}
	}
	return a, nil
}

// fill decodes the fields of a registered entry.
func (r *resolver) fill(res rawResource) error {
	entry, ok := r.entries[res.Sys.ID]
	if !ok {
		return fmt.Errorf("entry %s not registered", res.Sys.ID)
	}
	for id, raw := range res.Fields {
		value, ok := r.localized(raw)
		if !ok {
			continue
		}
		var decoded any
		if err := json.Unmarshal(value, &decoded); err != nil {
			return fmt.Errorf("decode field %s of entry %s: %w", id, res.Sys.ID, err)
		}
		entry.SetField(id, r.convert(decoded))
	}
	return nil
}

// localized picks the configured locale out of a localized field value.
// Without a locale the raw value is returned unchanged.
func (r *resolver) localized(raw json.RawMessage) (json.RawMessage, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	if r.locale == "" {
		return raw, true
	}
	var perLocale map[string]json.RawMessage
	if err := json.Unmarshal(raw, &perLocale); err != nil {
		return nil, false
	}
	v, ok := perLocale[r.locale]
	return v, ok
}

func (r *resolver) convert(v any) Value {
	switch val := v.(type) {
	case []any:
		list := make(List, 0, len(val))
		for _, item := range val {
			list = append(list, r.convert(item))
		}
		return list
	case map[string]any:
		if link, ok := asLink(val); ok {
			return r.link(link)
		}
		return Scalar{V: val}
	default:
		return Scalar{V: val}
	}
}

func (r *resolver) link(l rawLinkSys) Value {
	switch l.LinkType {
	case "Entry":
		if e, ok := r.entries[l.ID]; ok {
			return e
		}
	case "Asset":
		if a, ok := r.assets[l.ID]; ok {
			return a
		}
	}
	return &Link{ID: l.ID, LinkType: l.LinkType}
}

func asLink(m map[string]any) (rawLinkSys, bool) {
	sys, ok := m["sys"].(map[string]any)
	if !ok {
		return rawLinkSys{}, false
	}
	if t, _ := sys["type"].(string); t != "Link" {
		return rawLinkSys{}, false
	}
	id, _ := sys["id"].(string)
	linkType, _ := sys["linkType"].(string)
	return rawLinkSys{ID: id, Type: "Link", LinkType: linkType}, true
}

func decodeCollection(data []byte) (*rawCollection, error) {
	var raw rawCollection
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode entries response: %w", err)
	}
	// A select without sys.type strips the type from the items of an
	// entries response; every item there is an entry.
	for i := range raw.Items {
		if raw.Items[i].Sys.Type == "" {
			raw.Items[i].Sys.Type = "Entry"
		}
	}
	return &raw, nil
}

func buildCollection(raw *rawCollection, types map[string]*ContentType, locale string) (*EntryCollection, error) {
	r := newResolver(types, locale)
	if err := r.register(raw.Items); err != nil {
		return nil, err
	}
	if err := r.register(raw.Includes.Entry); err != nil {
		return nil, err
	}
	if err := r.register(raw.Includes.Asset); err != nil {
		return nil, err
	}

	for _, list := range [][]rawResource{raw.Items, raw.Includes.Entry} {
		for _, res := range list {
			if res.Sys.Type != "Entry" {
				continue
			}
			if err := r.fill(res); err != nil {
				return nil, err
			}
		}
	}

	collection := &EntryCollection{Total: raw.Total, Skip: raw.Skip, Limit: raw.Limit}
	for _, res := range raw.Items {
		if e, ok := r.entries[res.Sys.ID]; ok && res.Sys.Type == "Entry" {
			collection.Items = append(collection.Items, e)
		}
	}
	return collection, nil
}

func decodeResource(data []byte) (*rawResource, error) {
	var raw rawResource
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode entry payload: %w", err)
	}
	return &raw, nil
}

// ParseEntry decodes a single entry payload, e.g. a webhook body. When locale
// is non-empty the fields are expected in the localized form
// {"field": {"en-US": value}} and the given locale is picked. Links cannot be
// resolved in a single payload and stay *Link values.
func ParseEntry(data []byte, types map[string]*ContentType, locale string) (*Entry, error) {
	raw, err := decodeResource(data)
	if err != nil {
		return nil, err
	}
	return buildEntry(raw, types, locale)
}

func buildEntry(raw *rawResource, types map[string]*ContentType, locale string) (*Entry, error) {
	if raw.Sys.Type != "Entry" {
		return nil, fmt.Errorf("%w: %q", ErrNotAnEntry, raw.Sys.Type)
	}
	r := newResolver(types, locale)
	if err := r.register([]rawResource{*raw}); err != nil {
		return nil, err
	}
	if err := r.fill(*raw); err != nil {
		return nil, err
	}
	return r.entries[raw.Sys.ID], nil
}

func decodeContentType(data []byte) (*ContentType, error) {
	var raw rawContentType
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode content type: %w", err)
	}
	return &ContentType{
		ID:           raw.Sys.ID,
		Name:         raw.Name,
		DisplayField: raw.DisplayField,
		Fields:       raw.Fields,
	}, nil
}
