package delivery

import (
	"net/url"
	"strconv"
	"strings"
)

// Query builds the query parameters of an entries request. The canonical
// string form (QueryString) is deterministic and is used for cache keys.
type Query struct {
	params url.Values
}

// NewQuery returns an empty query.
func NewQuery() *Query {
	return &Query{params: url.Values{}}
}

// ParseQuery restores a query from its canonical string form.
func ParseQuery(queryString string) (*Query, error) {
	values, err := url.ParseQuery(queryString)
	if err != nil {
		return nil, err
	}
	return &Query{params: values}, nil
}

// SetContentType restricts the query to one content type.
func (q *Query) SetContentType(id string) *Query {
	q.params.Set("content_type", id)
	return q
}

// SetInclude sets the link resolution depth.
func (q *Query) SetInclude(levels int) *Query {
	q.params.Set("include", strconv.Itoa(levels))
	return q
}

// SetLimit sets the page size.
func (q *Query) SetLimit(limit int) *Query {
	q.params.Set("limit", strconv.Itoa(limit))
	return q
}

// SetSkip sets the page offset.
func (q *Query) SetSkip(skip int) *Query {
	q.params.Set("skip", strconv.Itoa(skip))
	return q
}

// SetLocale selects the locale of the returned fields.
func (q *Query) SetLocale(locale string) *Query {
	q.params.Set("locale", locale)
	return q
}

// OrderBy sets the order parameter, e.g. "-sys.createdAt".
func (q *Query) OrderBy(fields ...string) *Query {
	q.params.Set("order", strings.Join(fields, ","))
	return q
}

// Select restricts the returned properties, e.g. "sys.id".
func (q *Query) Select(fields ...string) *Query {
	q.params.Set("select", strings.Join(fields, ","))
	return q
}

// Where adds an equality filter, e.g. Where("fields.slug", "/about").
func (q *Query) Where(field, value string) *Query {
	q.params.Set(field, value)
	return q
}

// WhereIn adds an inclusion filter, e.g. WhereIn("sys.id", ids).
func (q *Query) WhereIn(field string, values []string) *Query {
	q.params.Set(field+"[in]", strings.Join(values, ","))
	return q
}

// ContentType returns the content type filter, if any.
func (q *Query) ContentType() string {
	return q.params.Get("content_type")
}

// Limit returns the page size or 0 if unset.
func (q *Query) Limit() int {
	n, _ := strconv.Atoi(q.params.Get("limit"))
	return n
}

// Include returns the link resolution depth or 0 if unset.
func (q *Query) Include() int {
	n, _ := strconv.Atoi(q.params.Get("include"))
	return n
}

// Locale returns the requested locale, if any.
func (q *Query) Locale() string {
	return q.params.Get("locale")
}

// Clone returns an independent copy of the query.
func (q *Query) Clone() *Query {
	c := NewQuery()
	for k, v := range q.params {
		c.params[k] = append([]string(nil), v...)
	}
	return c
}

// Params returns a copy of the query parameters.
func (q *Query) Params() url.Values {
	return q.Clone().params
}

// QueryString returns the canonical string form. Parameters are sorted by
// key so equal queries always produce equal strings.
func (q *Query) QueryString() string {
	return q.params.Encode()
}
