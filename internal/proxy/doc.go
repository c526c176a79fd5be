// Package proxy implements the backend half of a list view.
//
// A proxy subscribes to one TOC and to the overlay namespace of that TOC,
// accumulates what its client view needs to hear since the last flush, and
// registers itself with the batch manager whenever it becomes dirty.
//
// EntireListProxy mirrors the whole TOC as a sequence of add, change and
// remove entries. WindowedListProxy mirrors a window of the TOC chosen by
// seek requests and reports it as a positional snapshot.
package proxy
