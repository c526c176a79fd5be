package client

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/listbridge/internal/wire"
)

// Item is one materialized record of a view.
type Item interface {
	ID() string
	// Serial is the view serial of the last update that touched the item.
	Serial() uint64
	// Update replaces the item's state.
	Update(state json.RawMessage) error
	// UpdateOverlays replaces the item's overlays.
	UpdateOverlays(overlays wire.Overlays)
	// Release tears down the item's listeners.
	Release()

	base() *ItemBase
}

// ItemChange describes one applied change of an item.
type ItemChange struct {
	StateChanged    bool
	OverlaysChanged bool
}

// ItemBase carries what every item has in common. Embed it and implement
// Update.
type ItemBase struct {
	id       string
	serial   uint64
	raw      json.RawMessage
	overlays wire.Overlays
	released bool
	changes  listeners[ItemChange]
}

func (b *ItemBase) base() *ItemBase { return b }

// ID returns the item id.
func (b *ItemBase) ID() string { return b.id }

// Serial returns the serial of the last update that touched the item.
func (b *ItemBase) Serial() uint64 { return b.serial }

// Raw returns the item's state as sent by the backend.
func (b *ItemBase) Raw() json.RawMessage { return b.raw }

// Overlays returns the item's current overlays.
func (b *ItemBase) Overlays() wire.Overlays { return b.overlays }

// Overlay returns the value of one overlay, or nil.
func (b *ItemBase) Overlay(name string) any { return b.overlays[name] }

// UpdateOverlays replaces the item's overlays.
func (b *ItemBase) UpdateOverlays(overlays wire.Overlays) { b.overlays = overlays }

// Released reports whether the item was released.
func (b *ItemBase) Released() bool { return b.released }

// OnChange calls fn whenever the view applies a change to the item.
func (b *ItemBase) OnChange(fn func(ItemChange)) (unsubscribe func()) {
	return b.changes.add(fn)
}

// Release drops all change listeners.
func (b *ItemBase) Release() {
	b.released = true
	b.changes.reset()
}

// decode unmarshals state into fields and records it as the raw state.
func (b *ItemBase) decode(state json.RawMessage, fields any) error {
	if err := json.Unmarshal(state, fields); err != nil {
		return fmt.Errorf("decode %s state: %w", b.id, err)
	}
	b.raw = state
	return nil
}

// ItemFactory builds a fresh item. The view applies the initial state and
// overlays itself.
type ItemFactory func(id string) Item

// newItem builds an item of factory with its initial state and overlays.
// A state that does not decode still yields the item, with the error.
func newItem(factory ItemFactory, id string, state json.RawMessage, overlays wire.Overlays) (Item, error) {
	it := factory(id)
	it.base().id = id
	var err error
	if state != nil {
		err = it.Update(state)
	}
	if overlays != nil {
		it.UpdateOverlays(overlays)
	}
	return it, err
}
