package toc

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Record is one item of an ordered collection.
type Record struct {
	// ID is stable and unique within the collection.
	ID string
	// Key orders the record inside its collection.
	Key string
	// Height is the quantized display height; zero counts as one.
	Height int
	// Data is the JSON state delivered to the front end.
	Data json.RawMessage
}

// EffectiveHeight returns Height, treating non-positive values as 1.
func (r *Record) EffectiveHeight() int {
	if r.Height <= 0 {
		return 1
	}
	return r.Height
}

// Comparator orders records. It must be a total order; ties are broken by
// the comparators in this package using the record id.
type Comparator func(a, b *Record) int

// ByKey orders records by the bytes of their Key, then by ID.
func ByKey(a, b *Record) int {
	if c := strings.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Descending reverses a comparator.
func Descending(cmp Comparator) Comparator {
	return func(a, b *Record) int {
		return cmp(b, a)
	}
}

// Collated orders records by their Key using the collation rules of tag
// (case-insensitive), then by ID. Used for human-visible names such as
// folder paths.
//
// The returned comparator is not safe for concurrent use; lists only call it
// from the loop goroutine.
func Collated(tag language.Tag) Comparator {
	c := collate.New(tag, collate.IgnoreCase)
	return func(a, b *Record) int {
		if r := c.CompareString(a.Key, b.Key); r != 0 {
			return r
		}
		return strings.Compare(a.ID, b.ID)
	}
}
