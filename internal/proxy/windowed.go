package proxy

import (
	"fmt"

	"github.com/roach88/listbridge/internal/batch"
	"github.com/roach88/listbridge/internal/loop"
	"github.com/roach88/listbridge/internal/toc"
	"github.com/roach88/listbridge/internal/wire"
)

// WindowedListProxy mirrors the slice of a TOC selected by the most recent
// seek.
//
// The proxy remembers which ids the client holds with current state. A
// flush sends every id in the window but only includes state for ids the
// client does not hold, and overlays for held ids whose overlays were
// pushed since the last flush. Seeks by index or coordinates latch onto the
// item they land on, so later flushes keep that item in view while the TOC
// changes around it.
type WindowedListProxy struct {
	base

	seeked bool
	seek   wire.SeekProxy
	// focusIndex is the last index of the focused item, used to re-anchor
	// when it disappears.
	focusIndex int

	validData      map[string]bool
	overlayPending map[string]bool
	tocMeta        map[string]any
	events         []wire.Event
}

var _ batch.Proxy = (*WindowedListProxy)(nil)

// NewWindowedListProxy creates a proxy for list owned by ctx.
func NewWindowedListProxy(list *toc.List, ctx Context, opts Options) *WindowedListProxy {
	return &WindowedListProxy{
		base:           newBase(list, ctx, opts, "windowed-list-proxy"),
		validData:      make(map[string]bool),
		overlayPending: make(map[string]bool),
	}
}

// Start subscribes to the TOC and requests an immediate flush so the view
// learns the TOC's size before its first seek.
func (p *WindowedListProxy) Start() {
	p.subscribe(p, p.OnOverlayPush)
	p.tocMeta = p.list.Meta()
	p.markDirtyUrgent(p, batch.FlushImmediate)
}

// Acquire resolves with the proxy.
func (p *WindowedListProxy) Acquire(owner string) *loop.Future {
	return p.acquire(p)
}

// Release stops listening. Releasing twice is a no-op.
func (p *WindowedListProxy) Release(owner string) error {
	if p.release(p) {
		p.logger.Debug("released")
	}
	return nil
}

// Seek re-windows the proxy and flushes immediately.
func (p *WindowedListProxy) Seek(req wire.SeekProxy) error {
	if err := checkSeekCounts(req); err != nil {
		return err
	}
	switch req.Mode {
	case wire.SeekTop, wire.SeekBottom, wire.SeekFocusIndex, wire.SeekCoordinates:
	case wire.SeekFocus:
		if req.FocusKey == "" {
			return fmt.Errorf("proxy: focus seek without focusKey")
		}
		if i := p.list.IndexOf(req.FocusKey); i >= 0 {
			p.focusIndex = i
		}
	default:
		return fmt.Errorf("proxy: unknown seek mode %q", req.Mode)
	}

	p.logger.Debug("seek", "mode", string(req.Mode))
	p.seeked = true
	p.seek = req
	p.markDirtyUrgent(p, batch.FlushImmediate)
	return nil
}

func checkSeekCounts(req wire.SeekProxy) error {
	counts := []struct {
		name string
		n    int
	}{
		{"visibleDesired", req.VisibleDesired},
		{"bufferDesired", req.BufferDesired},
		{"bufferAbove", req.BufferAbove},
		{"visibleAbove", req.VisibleAbove},
		{"visibleBelow", req.VisibleBelow},
		{"bufferBelow", req.BufferBelow},
		{"before", req.Before},
		{"visible", req.Visible},
		{"after", req.After},
	}
	for _, c := range counts {
		if c.n < 0 {
			return fmt.Errorf("proxy: negative %s %d", c.name, c.n)
		}
	}
	return nil
}

// Mode returns the current seek mode, empty before the first seek.
func (p *WindowedListProxy) Mode() wire.SeekMode {
	return p.seek.Mode
}

// OnAdd marks the proxy dirty; the window is recomputed on flush.
func (p *WindowedListProxy) OnAdd(_ *toc.Record, _ int) {
	p.markDirty(p)
}

// OnChange invalidates the client's copy of the record.
func (p *WindowedListProxy) OnChange(rec *toc.Record, _ int) {
	delete(p.validData, rec.ID)
	p.markDirty(p)
}

// OnRemove marks the proxy dirty.
func (p *WindowedListProxy) OnRemove(id string, _ int) {
	delete(p.validData, id)
	delete(p.overlayPending, id)
	p.markDirty(p)
}

// OnOverlayPush queues an overlay-only value for ids the client holds. Ids
// the client does not hold get fresh overlays with their state anyway.
func (p *WindowedListProxy) OnOverlayPush(id string) {
	if !p.validData[id] {
		return
	}
	p.overlayPending[id] = true
	p.markDirty(p)
}

// OnTOCMetaChange forwards the TOC's meta with the next flush.
func (p *WindowedListProxy) OnTOCMetaChange(meta map[string]any) {
	p.tocMeta = meta
	p.markDirty(p)
}

// OnBroadcastEvent forwards a named event with the next flush.
func (p *WindowedListProxy) OnBroadcastEvent(name string, data any) {
	p.events = append(p.events, wire.Event{Name: name, Data: data})
	p.markDirty(p)
}

// Flush recomputes the window and returns it as a positional snapshot.
// TOCs are fully in memory, so the snapshot is always coherent.
func (p *WindowedListProxy) Flush() *wire.Update {
	begin, end := p.window()

	u := &wire.Update{
		Offset:           begin,
		HeightOffset:     p.list.HeightBefore(begin),
		TotalCount:       p.list.Len(),
		TotalHeight:      p.list.TotalHeight(),
		TOCMeta:          p.tocMeta,
		Events:           p.events,
		CoherentSnapshot: true,
	}

	valid := make(map[string]bool, end-begin)
	for i := begin; i < end; i++ {
		rec := p.list.At(i)
		u.IDs = append(u.IDs, rec.ID)
		switch {
		case !p.validData[rec.ID]:
			p.setValue(u, rec.ID, wire.Value{State: rec.Data, Overlays: p.resolve(rec.ID)})
		case p.overlayPending[rec.ID]:
			p.setValue(u, rec.ID, wire.Value{Overlays: p.resolve(rec.ID)})
		}
		valid[rec.ID] = true
	}

	p.validData = valid
	clear(p.overlayPending)
	p.tocMeta = nil
	p.events = nil
	p.dirty = false
	return u
}

func (p *WindowedListProxy) setValue(u *wire.Update, id string, v wire.Value) {
	if u.Values == nil {
		u.Values = make(map[string]wire.Value)
	}
	u.Values[id] = v
}

// window computes [begin, end) for the current seek, latching index and
// coordinate seeks onto the focused item.
func (p *WindowedListProxy) window() (begin, end int) {
	n := p.list.Len()
	if !p.seeked || n == 0 {
		return 0, 0
	}
	s := &p.seek

	switch s.Mode {
	case wire.SeekTop:
		return 0, min(n, s.VisibleDesired+s.BufferDesired)

	case wire.SeekBottom:
		return max(0, n-(s.VisibleDesired+s.BufferDesired)), n

	case wire.SeekFocusIndex:
		p.latch(clamp(s.Index, 0, n-1))

	case wire.SeekCoordinates:
		first := p.list.IndexAtHeight(s.Offset)
		begin = p.list.IndexAtHeight(max(0, s.Offset-s.Before))
		last := p.list.IndexAtHeight(s.Offset + max(s.Visible+s.After, 1) - 1)
		*s = wire.SeekProxy{
			Mode:         wire.SeekFocus,
			BufferAbove:  first - begin,
			VisibleBelow: last - first,
		}
		p.latch(first)
	}

	idx := p.list.IndexOf(s.FocusKey)
	if idx < 0 {
		// The focused item is gone; take whatever now occupies its slot.
		idx = clamp(p.focusIndex, 0, n-1)
		s.FocusKey = p.list.At(idx).ID
	}
	p.focusIndex = idx

	begin = max(0, idx-s.BufferAbove-s.VisibleAbove)
	end = min(n, idx+1+s.VisibleBelow+s.BufferBelow)
	return begin, end
}

func (p *WindowedListProxy) latch(idx int) {
	p.seek.Mode = wire.SeekFocus
	p.seek.FocusKey = p.list.At(idx).ID
	p.focusIndex = idx
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
