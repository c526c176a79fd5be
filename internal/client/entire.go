package client

import (
	"log/slog"

	"github.com/roach88/listbridge/internal/loop"
	"github.com/roach88/listbridge/internal/wire"
)

// ItemEvent reports an item added to, changed in or removed from a view.
type ItemEvent struct {
	Item  Item
	Index int
	ItemChange
}

// EntireListView holds every item of a TOC.
type EntireListView struct {
	api     *API
	handle  string
	factory ItemFactory
	logger  *slog.Logger

	serial   uint64
	items    []Item
	complete bool
	released bool

	onAdd      listeners[ItemEvent]
	onChange   listeners[ItemEvent]
	onRemove   listeners[ItemEvent]
	onComplete listeners[*EntireListView]
}

func newEntireListView(api *API, handle string, factory ItemFactory) *EntireListView {
	return &EntireListView{
		api:     api,
		handle:  handle,
		factory: factory,
		logger:  api.logger.With("view", "entire", "handle", handle),
	}
}

// Handle returns the view's handle.
func (v *EntireListView) Handle() string { return v.handle }

// Serial counts applied updates.
func (v *EntireListView) Serial() uint64 { return v.serial }

// Complete reports whether the first update has been applied.
func (v *EntireListView) Complete() bool { return v.complete }

// Released reports whether Release was called.
func (v *EntireListView) Released() bool { return v.released }

// Len returns the number of items.
func (v *EntireListView) Len() int { return len(v.items) }

// Items returns the items in order.
func (v *EntireListView) Items() []Item {
	out := make([]Item, len(v.items))
	copy(out, v.items)
	return out
}

// At returns the item at index, or nil.
func (v *EntireListView) At(index int) Item {
	if index < 0 || index >= len(v.items) {
		return nil
	}
	return v.items[index]
}

// ByID returns the item with id, or nil.
func (v *EntireListView) ByID(id string) Item {
	for _, it := range v.items {
		if it.ID() == id {
			return it
		}
	}
	return nil
}

// OnAdd registers a listener for added items.
func (v *EntireListView) OnAdd(fn func(ItemEvent)) (unsubscribe func()) { return v.onAdd.add(fn) }

// OnChange registers a listener for changed items.
func (v *EntireListView) OnChange(fn func(ItemEvent)) (unsubscribe func()) {
	return v.onChange.add(fn)
}

// OnRemove registers a listener for removed items. The item is released
// after the listeners run.
func (v *EntireListView) OnRemove(fn func(ItemEvent)) (unsubscribe func()) {
	return v.onRemove.add(fn)
}

// OnComplete registers a listener called after every applied update.
func (v *EntireListView) OnComplete(fn func(*EntireListView)) (unsubscribe func()) {
	return v.onComplete.add(fn)
}

// Refresh asks the backend to refresh the view's TOC. The future resolves
// when the refresh is done.
func (v *EntireListView) Refresh() *loop.Future {
	return v.api.RefreshView(v.handle)
}

// applyUpdate applies the changes in order.
func (v *EntireListView) applyUpdate(u *wire.Update) {
	v.serial++
	serial := v.serial

	for _, c := range u.Changes {
		switch c.Type {
		case wire.ChangeAdd:
			if c.Index < 0 || c.Index > len(v.items) {
				v.logger.Error("add index out of range", "index", c.Index, "len", len(v.items))
				continue
			}
			it, err := newItem(v.factory, c.ID, c.State, c.Overlays)
			if err != nil {
				v.logger.Warn("item state did not decode", "error", err)
			}
			it.base().serial = serial
			v.items = append(v.items, nil)
			copy(v.items[c.Index+1:], v.items[c.Index:])
			v.items[c.Index] = it
			v.onAdd.emit(ItemEvent{Item: it, Index: c.Index})

		case wire.ChangeChange:
			it := v.At(c.Index)
			if it == nil {
				v.logger.Error("change index out of range", "index", c.Index, "len", len(v.items))
				continue
			}
			ch := ItemChange{StateChanged: c.State != nil, OverlaysChanged: c.Overlays != nil}
			it.base().serial = serial
			if ch.StateChanged {
				if err := it.Update(c.State); err != nil {
					v.logger.Warn("item state did not decode", "error", err)
				}
			}
			if ch.OverlaysChanged {
				it.UpdateOverlays(c.Overlays)
			}
			v.onChange.emit(ItemEvent{Item: it, Index: c.Index, ItemChange: ch})
			it.base().changes.emit(ch)

		case wire.ChangeRemove:
			it := v.At(c.Index)
			if it == nil {
				v.logger.Error("remove index out of range", "index", c.Index, "len", len(v.items))
				continue
			}
			v.items = append(v.items[:c.Index], v.items[c.Index+1:]...)
			v.onRemove.emit(ItemEvent{Item: it, Index: c.Index})
			it.Release()

		default:
			v.logger.Warn("unknown change type", "type", string(c.Type))
		}
	}

	v.complete = true
	v.onComplete.emit(v)
}

// Release tells the backend to clean up the view and releases every item.
// Releasing twice is a no-op.
func (v *EntireListView) Release() {
	if v.released {
		return
	}
	v.released = true
	v.api.releaseView(v.handle)
	for _, it := range v.items {
		it.Release()
	}
}
