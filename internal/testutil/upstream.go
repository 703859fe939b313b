package testutil

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/Sternrassler/contentful-cache/pkg/delivery"
)

// FakeUpstream answers entry queries from an in-memory entry set. It
// understands content_type, sys.id[in], fields.<id> and fields.<id>[in]
// filters and the limit parameter.
type FakeUpstream struct {
	mu      sync.Mutex
	entries []*delivery.Entry
	queries []*delivery.Query

	// Err fails every query when set.
	Err error

	// ContentTypeErrs fails queries for a content type.
	ContentTypeErrs map[string]error
}

// NewFakeUpstream creates a fake serving the given entries.
func NewFakeUpstream(entries ...*delivery.Entry) *FakeUpstream {
	return &FakeUpstream{entries: entries, ContentTypeErrs: map[string]error{}}
}

// Add adds entries to the served set.
func (f *FakeUpstream) Add(entries ...*delivery.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entries...)
}

// Queries returns the queries received so far.
func (f *FakeUpstream) Queries() []*delivery.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*delivery.Query(nil), f.queries...)
}

// Calls returns the number of queries received.
func (f *FakeUpstream) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

// GetEntries implements the upstream client interface.
func (f *FakeUpstream) GetEntries(ctx context.Context, q *delivery.Query) (*delivery.EntryCollection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, q.Clone())
	if f.Err != nil {
		return nil, f.Err
	}
	if err := f.ContentTypeErrs[q.ContentType()]; err != nil {
		return nil, err
	}

	params := q.Params()
	var items []*delivery.Entry
	for _, e := range f.entries {
		if matches(e, params) {
			items = append(items, e)
		}
	}

	total := len(items)
	if limit := q.Limit(); limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return &delivery.EntryCollection{Total: total, Limit: q.Limit(), Items: items}, nil
}

func matches(e *delivery.Entry, params url.Values) bool {
	for key := range params {
		want := params.Get(key)
		switch {
		case key == "content_type":
			if e.ContentTypeID() != want {
				return false
			}
		case key == "sys.id":
			if e.ID() != want {
				return false
			}
		case key == "sys.id[in]":
			if !oneOf(e.ID(), want) {
				return false
			}
		case strings.HasPrefix(key, "fields.") && strings.HasSuffix(key, "[in]"):
			field := strings.TrimSuffix(strings.TrimPrefix(key, "fields."), "[in]")
			if !oneOf(e.FieldString(field), want) {
				return false
			}
		case strings.HasPrefix(key, "fields."):
			if e.FieldString(strings.TrimPrefix(key, "fields.")) != want {
				return false
			}
		}
	}
	return true
}

func oneOf(s, commaList string) bool {
	for _, v := range strings.Split(commaList, ",") {
		if v == s {
			return true
		}
	}
	return false
}
