package testutil

import (
	"context"
	"time"

	"github.com/Sternrassler/contentful-cache/pkg/delivery"
)

// ContentType builds a content type with Symbol fields named by fieldIDs.
func ContentType(id string, fieldIDs ...string) *delivery.ContentType {
	ct := &delivery.ContentType{ID: id, Name: id}
	for _, f := range fieldIDs {
		ct.Fields = append(ct.Fields, delivery.Field{ID: f, Name: f, Type: "Symbol"})
	}
	return ct
}

// Entry builds an entry of the given content type.
func Entry(ct *delivery.ContentType, id string, fields map[string]delivery.Value) *delivery.Entry {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	sys := delivery.System{
		ID:            id,
		Type:          "Entry",
		CreatedAt:     created,
		UpdatedAt:     created.Add(time.Hour),
		Revision:      1,
		Locale:        "en-US",
		SpaceID:       "space",
		ContentTypeID: ct.ID,
	}
	return delivery.NewEntry(sys, ct, fields)
}

// Str wraps a string scalar.
func Str(s string) delivery.Value {
	return delivery.Scalar{V: s}
}

// Num wraps a numeric scalar.
func Num(f float64) delivery.Value {
	return delivery.Scalar{V: f}
}

// Bool wraps a boolean scalar.
func Bool(b bool) delivery.Value {
	return delivery.Scalar{V: b}
}

// SliceIterator iterates over a fixed slice of entries.
type SliceIterator struct {
	Entries []*delivery.Entry
	Error   error

	pos     int
	current *delivery.Entry
}

// Next implements delivery.EntryIterator.
func (it *SliceIterator) Next(ctx context.Context) bool {
	if it.pos >= len(it.Entries) {
		it.current = nil
		return false
	}
	it.current = it.Entries[it.pos]
	it.pos++
	return true
}

// Entry implements delivery.EntryIterator.
func (it *SliceIterator) Entry() *delivery.Entry {
	return it.current
}

// Err implements delivery.EntryIterator.
func (it *SliceIterator) Err() error {
	if it.pos >= len(it.Entries) {
		return it.Error
	}
	return nil
}
