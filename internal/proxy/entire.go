package proxy

import (
	"github.com/roach88/listbridge/internal/batch"
	"github.com/roach88/listbridge/internal/loop"
	"github.com/roach88/listbridge/internal/toc"
	"github.com/roach88/listbridge/internal/wire"
)

// EntireListProxy mirrors every record of a TOC.
//
// Between flushes it keeps at most one add or change entry per id: later
// changes and overlay pushes are folded into the existing entry. A remove
// only forgets the coalescing slot, so a later event for the same id starts
// a new entry behind the remove.
type EntireListProxy struct {
	base

	pending         []wire.Change
	idToChangeIndex map[string]int
}

var _ batch.Proxy = (*EntireListProxy)(nil)

// NewEntireListProxy creates a proxy for list owned by ctx. It starts
// dirty; PopulateFromList performs the first flush.
func NewEntireListProxy(list *toc.List, ctx Context, opts Options) *EntireListProxy {
	p := &EntireListProxy{
		base:            newBase(list, ctx, opts, "entire-list-proxy"),
		idToChangeIndex: make(map[string]int),
	}
	p.dirty = true
	p.needsCoherentFlush = true
	return p
}

// PopulateFromList queues an add for every current record, subscribes to
// the TOC and its overlay namespace, and requests an immediate flush. Call
// it exactly once.
func (p *EntireListProxy) PopulateFromList() {
	for i, rec := range p.list.Items() {
		p.OnAdd(rec, i)
	}
	p.batch.RegisterDirtyView(p, batch.FlushImmediate)
	p.subscribe(p, p.OnOverlayPush)
}

// Acquire resolves with the proxy.
func (p *EntireListProxy) Acquire(owner string) *loop.Future {
	return p.acquire(p)
}

// Release stops listening. Releasing twice is a no-op.
func (p *EntireListProxy) Release(owner string) error {
	if p.release(p) {
		p.logger.Debug("released")
	}
	return nil
}

// OnAdd queues an add entry carrying freshly resolved overlays.
func (p *EntireListProxy) OnAdd(rec *toc.Record, index int) {
	p.markDirty(p)
	p.idToChangeIndex[rec.ID] = len(p.pending)
	p.pending = append(p.pending, wire.Change{
		Type:     wire.ChangeAdd,
		ID:       rec.ID,
		Index:    index,
		State:    rec.Data,
		Overlays: p.resolve(rec.ID),
	})
}

// OnChange updates the pending entry for the id in place, or queues a
// change entry with unchanged overlays.
func (p *EntireListProxy) OnChange(rec *toc.Record, index int) {
	if i, ok := p.idToChangeIndex[rec.ID]; ok {
		p.pending[i].State = rec.Data
		return
	}

	p.markDirty(p)
	p.idToChangeIndex[rec.ID] = len(p.pending)
	p.pending = append(p.pending, wire.Change{
		Type:  wire.ChangeChange,
		Index: index,
		State: rec.Data,
	})
}

// OnOverlayPush re-resolves the overlays of id. Ids the TOC no longer
// knows are ignored.
func (p *EntireListProxy) OnOverlayPush(id string) {
	if !p.list.Has(id) {
		return
	}
	overlays := p.resolve(id)

	if i, ok := p.idToChangeIndex[id]; ok {
		p.pending[i].Overlays = overlays
		return
	}

	p.markDirty(p)
	p.idToChangeIndex[id] = len(p.pending)
	p.pending = append(p.pending, wire.Change{
		Type:     wire.ChangeChange,
		Index:    p.list.IndexOf(id),
		Overlays: overlays,
	})
}

// OnRemove queues a remove entry.
func (p *EntireListProxy) OnRemove(id string, index int) {
	p.markDirty(p)
	p.pending = append(p.pending, wire.Change{
		Type:  wire.ChangeRemove,
		Index: index,
	})
	delete(p.idToChangeIndex, id)
}

// Flush swaps out the accumulated entries. The result is always coherent
// because the proxy never waits on a read.
func (p *EntireListProxy) Flush() *wire.Update {
	changes := p.pending
	p.pending = nil
	clear(p.idToChangeIndex)
	p.dirty = false

	return &wire.Update{
		Changes:          changes,
		CoherentSnapshot: true,
	}
}

// PendingChanges returns the number of queued entries.
func (p *EntireListProxy) PendingChanges() int { return len(p.pending) }
