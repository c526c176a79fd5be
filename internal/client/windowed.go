package client

import (
	"errors"
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/listbridge/internal/loop"
	"github.com/roach88/listbridge/internal/wire"
)

// ErrInvalidSeekTarget is returned when seeking on an item that is not in
// the view's current window.
var ErrInvalidSeekTarget = errors.New("client: item is not in list")

// WhatChanged summarizes one applied windowed update.
type WhatChanged struct {
	Offset       bool
	TotalCount   bool
	ItemSet      bool
	ItemContents bool
}

// WindowedListView holds the window of a TOC chosen by its latest seek.
// Slots whose item has not been sent yet are nil.
type WindowedListView struct {
	api     *API
	handle  string
	factory ItemFactory
	logger  *slog.Logger

	serial       uint64
	metaSerial   uint64
	offset       int
	heightOffset int
	totalCount   int
	totalHeight  int
	items        []Item
	byID         map[string]Item
	tocMeta      map[string]any
	released     bool

	coherentMode bool
	buffered     *wire.Update

	onSeeked     listeners[WhatChanged]
	onMetaChange listeners[map[string]any]
	onEvent      map[string]*listeners[any]
}

func newWindowedListView(api *API, handle string, factory ItemFactory) *WindowedListView {
	return &WindowedListView{
		api:     api,
		handle:  handle,
		factory: factory,
		logger:  api.logger.With("view", "windowed", "handle", handle),
		byID:    make(map[string]Item),
		tocMeta: map[string]any{},
		onEvent: make(map[string]*listeners[any]),
	}
}

// Handle returns the view's handle.
func (v *WindowedListView) Handle() string { return v.handle }

// Serial counts applied updates.
func (v *WindowedListView) Serial() uint64 { return v.serial }

// MetaSerial counts applied TOC meta changes.
func (v *WindowedListView) MetaSerial() uint64 { return v.metaSerial }

// Offset is the absolute index of the first slot.
func (v *WindowedListView) Offset() int { return v.offset }

// HeightOffset is the total height of the records before the window.
func (v *WindowedListView) HeightOffset() int { return v.heightOffset }

// TotalCount is the number of records in the TOC.
func (v *WindowedListView) TotalCount() int { return v.totalCount }

// TotalHeight is the total height of the TOC.
func (v *WindowedListView) TotalHeight() int { return v.totalHeight }

// TOCMeta returns the latest TOC meta dictionary.
func (v *WindowedListView) TOCMeta() map[string]any { return v.tocMeta }

// Released reports whether Release was called.
func (v *WindowedListView) Released() bool { return v.released }

// Items returns the window's slots; unsent items are nil.
func (v *WindowedListView) Items() []Item {
	return slices.Clone(v.items)
}

// ByID returns the item with id if it is in the window.
func (v *WindowedListView) ByID(id string) Item { return v.byID[id] }

// ItemByAbsoluteIndex returns the item at a TOC index, or nil when the
// index is outside the window or the slot is unsent.
func (v *WindowedListView) ItemByAbsoluteIndex(index int) Item {
	rel := index - v.offset
	if rel < 0 || rel >= len(v.items) {
		return nil
	}
	return v.items[rel]
}

// AtTop reports whether the window starts at the first record.
func (v *WindowedListView) AtTop() bool { return v.offset == 0 }

// AtBottom reports whether the window ends at the last record.
func (v *WindowedListView) AtBottom() bool { return v.totalCount == v.offset+len(v.items) }

// SetCoherentMode makes the view hold back non-coherent updates and apply
// them, merged, with the next coherent one.
func (v *WindowedListView) SetCoherentMode(on bool) {
	v.coherentMode = on
	if !on && v.buffered != nil {
		u := v.buffered
		v.buffered = nil
		v.apply(u)
	}
}

// CoherentMode reports whether coherent mode is on.
func (v *WindowedListView) CoherentMode() bool { return v.coherentMode }

// OnSeeked registers a listener called after every applied update.
func (v *WindowedListView) OnSeeked(fn func(WhatChanged)) (unsubscribe func()) {
	return v.onSeeked.add(fn)
}

// OnMetaChange registers a listener for TOC meta changes.
func (v *WindowedListView) OnMetaChange(fn func(map[string]any)) (unsubscribe func()) {
	return v.onMetaChange.add(fn)
}

// OnEvent registers a listener for a named event forwarded by the TOC.
func (v *WindowedListView) OnEvent(name string, fn func(data any)) (unsubscribe func()) {
	l, ok := v.onEvent[name]
	if !ok {
		l = &listeners[any]{}
		v.onEvent[name] = l
	}
	return l.add(fn)
}

// SeekToTop shows the first records.
func (v *WindowedListView) SeekToTop(visibleDesired, bufferDesired int) {
	v.seek(&wire.SeekProxy{Mode: wire.SeekTop, VisibleDesired: visibleDesired, BufferDesired: bufferDesired})
}

// SeekToBottom shows the last records.
func (v *WindowedListView) SeekToBottom(visibleDesired, bufferDesired int) {
	v.seek(&wire.SeekProxy{Mode: wire.SeekBottom, VisibleDesired: visibleDesired, BufferDesired: bufferDesired})
}

// SeekFocusedOnItem keeps it in view with the given context around it. it
// must be in the current window.
func (v *WindowedListView) SeekFocusedOnItem(it Item, bufferAbove, visibleAbove, visibleBelow, bufferBelow int) error {
	if it == nil || !slices.Contains(v.items, it) {
		return ErrInvalidSeekTarget
	}
	v.seek(&wire.SeekProxy{
		Mode:         wire.SeekFocus,
		FocusKey:     it.ID(),
		BufferAbove:  bufferAbove,
		VisibleAbove: visibleAbove,
		VisibleBelow: visibleBelow,
		BufferBelow:  bufferBelow,
	})
	return nil
}

// SeekFocusedOnAbsoluteIndex focuses on whatever record is at index.
func (v *WindowedListView) SeekFocusedOnAbsoluteIndex(index, bufferAbove, visibleAbove, visibleBelow, bufferBelow int) {
	v.seek(&wire.SeekProxy{
		Mode:         wire.SeekFocusIndex,
		Index:        index,
		BufferAbove:  bufferAbove,
		VisibleAbove: visibleAbove,
		VisibleBelow: visibleBelow,
		BufferBelow:  bufferBelow,
	})
}

// SeekInCoordinateSpace selects records by height: visible units starting
// at offset, plus before and after units of buffer.
func (v *WindowedListView) SeekInCoordinateSpace(offset, before, visible, after int) {
	v.seek(&wire.SeekProxy{Mode: wire.SeekCoordinates, Offset: offset, Before: before, Visible: visible, After: after})
}

func (v *WindowedListView) seek(req *wire.SeekProxy) {
	if v.released {
		v.logger.Debug("seek on released view ignored")
		return
	}
	v.api.send(wire.New(v.handle, req))
}

// Refresh asks the backend to refresh the view's TOC.
func (v *WindowedListView) Refresh() *loop.Future {
	return v.api.RefreshView(v.handle)
}

// Grow asks the backend to sync further back in time.
func (v *WindowedListView) Grow() {
	v.api.send(wire.New(v.handle, &wire.GrowView{}))
}

// applyUpdate applies u, or buffers it in coherent mode until a coherent
// update arrives.
func (v *WindowedListView) applyUpdate(u *wire.Update) {
	if v.coherentMode {
		if v.buffered != nil || !u.CoherentSnapshot {
			v.mergeBuffered(u)
		}
		if !u.CoherentSnapshot {
			return
		}
		if v.buffered != nil {
			u = v.buffered
			v.buffered = nil
		}
	}
	v.apply(u)
}

// mergeBuffered folds u into the buffered update: scalars and ids are
// replaced, values are pruned to the new ids and overlaid, events append.
func (v *WindowedListView) mergeBuffered(u *wire.Update) {
	if v.buffered == nil {
		c := *u
		c.Values = maps.Clone(u.Values)
		c.Events = slices.Clone(u.Events)
		v.buffered = &c
		return
	}
	b := v.buffered
	b.Offset = u.Offset
	b.HeightOffset = u.HeightOffset
	b.TotalCount = u.TotalCount
	b.TotalHeight = u.TotalHeight
	if u.TOCMeta != nil {
		b.TOCMeta = u.TOCMeta
	}
	b.IDs = u.IDs
	b.CoherentSnapshot = u.CoherentSnapshot

	keep := make(map[string]bool, len(u.IDs))
	for _, id := range u.IDs {
		keep[id] = true
	}
	for id := range b.Values {
		if !keep[id] {
			delete(b.Values, id)
		}
	}
	for id, nv := range u.Values {
		if b.Values == nil {
			b.Values = make(map[string]wire.Value)
		}
		old, ok := b.Values[id]
		if ok && nv.State == nil {
			nv.State = old.State
		}
		if ok && nv.Overlays == nil {
			nv.Overlays = old.Overlays
		}
		b.Values[id] = nv
	}
	b.Events = append(b.Events, u.Events...)
}

func (v *WindowedListView) apply(u *wire.Update) {
	v.serial++
	serial := v.serial

	existing := v.byID
	byID := make(map[string]Item, len(u.IDs))
	items := make([]Item, 0, len(u.IDs))

	what := WhatChanged{
		Offset:     u.Offset != v.offset,
		TotalCount: u.TotalCount != v.totalCount,
		ItemSet:    len(u.IDs) != len(v.items),
	}

	for _, id := range u.IDs {
		val, hasValue := u.Values[id]
		it, known := existing[id]
		switch {
		case known:
			if hasValue {
				what.ItemContents = true
				ch := ItemChange{StateChanged: val.State != nil, OverlaysChanged: val.Overlays != nil}
				it.base().serial = serial
				if ch.StateChanged {
					if err := it.Update(val.State); err != nil {
						v.logger.Warn("item state did not decode", "error", err)
					}
				}
				if ch.OverlaysChanged {
					it.UpdateOverlays(val.Overlays)
				}
				it.base().changes.emit(ch)
			}
			delete(existing, id)
			byID[id] = it

		case hasValue:
			what.ItemSet = true
			var err error
			it, err = newItem(v.factory, id, val.State, val.Overlays)
			if err != nil {
				v.logger.Warn("item state did not decode", "error", err)
			}
			it.base().serial = serial
			byID[id] = it

		default:
			it = nil
		}
		items = append(items, it)
	}

	for _, dead := range existing {
		what.ItemSet = true
		dead.Release()
	}

	v.offset = u.Offset
	v.heightOffset = u.HeightOffset
	v.totalCount = u.TotalCount
	v.totalHeight = u.TotalHeight
	v.items = items
	v.byID = byID

	if u.TOCMeta != nil {
		v.tocMeta = u.TOCMeta
		v.metaSerial++
		v.onMetaChange.emit(v.tocMeta)
	}

	v.onSeeked.emit(what)

	for _, ev := range u.Events {
		if l, ok := v.onEvent[ev.Name]; ok {
			l.emit(ev.Data)
		}
	}
}

// Release tells the backend to clean up the view and releases every item.
// Releasing twice is a no-op.
func (v *WindowedListView) Release() {
	if v.released {
		return
	}
	v.released = true
	v.api.releaseView(v.handle)
	for _, it := range v.items {
		if it != nil {
			it.Release()
		}
	}
	v.buffered = nil
}
