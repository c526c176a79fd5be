package proxy

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/listbridge/internal/overlay"
	"github.com/roach88/listbridge/internal/toc"
	"github.com/roach88/listbridge/internal/wire"
)

func numberedList(n int) *toc.List {
	recs := make([]*toc.Record, n)
	for i := range recs {
		recs[i] = record(fmt.Sprintf("m%02d", i), fmt.Sprintf("%02d", i))
	}
	return toc.NewList(toc.ListOptions{Type: "conversations"}, recs...)
}

func startWindowed(t *testing.T, f *fixture, list *toc.List) *WindowedListProxy {
	t.Helper()
	p := NewWindowedListProxy(list, f.ctx, f.opts())
	f.loop.Do(p.Start)
	return p
}

func TestWindowed_StartSendsEmptyWindow(t *testing.T) {
	f := newFixture()
	p := startWindowed(t, f, numberedList(10))

	u := f.ctx.last(t)
	assert.Empty(t, u.IDs)
	assert.Equal(t, 0, u.Offset)
	assert.Equal(t, 10, u.TotalCount)
	assert.Equal(t, 10, u.TotalHeight)
	assert.Equal(t, wire.SeekMode(""), p.Mode())
}

func TestWindowed_SeekRejectsNegativeCounts(t *testing.T) {
	f := newFixture()
	p := startWindowed(t, f, numberedList(10))
	f.loop.Do(func() {
		require.NoError(t, p.Seek(wire.SeekProxy{Mode: wire.SeekTop, VisibleDesired: 3}))
	})
	sent := len(f.ctx.sent)

	for _, req := range []wire.SeekProxy{
		{Mode: wire.SeekTop, VisibleDesired: -1},
		{Mode: wire.SeekBottom, VisibleDesired: 2, BufferDesired: -3},
		{Mode: wire.SeekFocusIndex, Index: 4, BufferAbove: -1},
		{Mode: wire.SeekCoordinates, Offset: 2, Visible: -5},
	} {
		f.loop.Do(func() {
			assert.Error(t, p.Seek(req))
		})
	}

	assert.Len(t, f.ctx.sent, sent)
	assert.Equal(t, wire.SeekTop, p.Mode())
}

func TestWindowed_SeekTopAndBottom(t *testing.T) {
	f := newFixture()
	p := startWindowed(t, f, numberedList(10))

	f.loop.Do(func() {
		require.NoError(t, p.Seek(wire.SeekProxy{Mode: wire.SeekTop, VisibleDesired: 3, BufferDesired: 1}))
	})
	u := f.ctx.last(t)
	assert.Equal(t, []string{"m00", "m01", "m02", "m03"}, u.IDs)
	assert.Len(t, u.Values, 4)
	assert.Equal(t, 0, u.Offset)

	f.loop.Do(func() {
		require.NoError(t, p.Seek(wire.SeekProxy{Mode: wire.SeekBottom, VisibleDesired: 2, BufferDesired: 0}))
	})
	u = f.ctx.last(t)
	assert.Equal(t, []string{"m08", "m09"}, u.IDs)
	assert.Equal(t, 8, u.Offset)
	assert.Equal(t, 8, u.HeightOffset)
}

func TestWindowed_OnlyUnheldStateIsSent(t *testing.T) {
	f := newFixture()
	list := numberedList(10)
	p := startWindowed(t, f, list)

	f.loop.Do(func() { _ = p.Seek(wire.SeekProxy{Mode: wire.SeekTop, VisibleDesired: 3}) })
	f.loop.Do(func() { _ = p.Seek(wire.SeekProxy{Mode: wire.SeekTop, VisibleDesired: 4}) })

	u := f.ctx.last(t)
	assert.Equal(t, []string{"m00", "m01", "m02", "m03"}, u.IDs)
	require.Len(t, u.Values, 1)
	assert.Contains(t, u.Values, "m03")
	assert.NotNil(t, u.Values["m03"].State)
}

func TestWindowed_ChangeInvalidatesHeldState(t *testing.T) {
	f := newFixture()
	list := numberedList(5)
	p := startWindowed(t, f, list)
	f.loop.Do(func() { _ = p.Seek(wire.SeekProxy{Mode: wire.SeekTop, VisibleDesired: 5}) })

	list.Upsert(&toc.Record{ID: "m02", Key: "02", Data: json.RawMessage(`"new"`)})
	require.True(t, p.Dirty())
	u := p.Flush()

	assert.Len(t, u.IDs, 5)
	assert.Equal(t, map[string]wire.Value{"m02": {State: json.RawMessage(`"new"`), Overlays: wire.Overlays{}}}, u.Values)
}

func TestWindowed_OverlayPushForHeldIDs(t *testing.T) {
	f := newFixture()
	board := overlay.NewStatusBoard(f.overlays, "conversations", "sync")
	list := numberedList(5)
	p := startWindowed(t, f, list)
	f.loop.Do(func() { _ = p.Seek(wire.SeekProxy{Mode: wire.SeekTop, VisibleDesired: 2}) })

	board.Set("m04", "busy")
	assert.False(t, p.Dirty(), "not held by the client")

	board.Set("m01", "busy")
	u := p.Flush()
	assert.Equal(t, map[string]wire.Value{"m01": {Overlays: wire.Overlays{"sync": "busy"}}}, u.Values)
}

func TestWindowed_FocusFollowsItem(t *testing.T) {
	f := newFixture()
	list := numberedList(10)
	p := startWindowed(t, f, list)

	f.loop.Do(func() {
		require.NoError(t, p.Seek(wire.SeekProxy{
			Mode: wire.SeekFocus, FocusKey: "m05",
			BufferAbove: 1, VisibleAbove: 1, VisibleBelow: 1, BufferBelow: 0,
		}))
	})
	assert.Equal(t, []string{"m03", "m04", "m05", "m06"}, f.ctx.last(t).IDs)

	list.Remove("m00")
	list.Remove("m01")
	u := p.Flush()
	assert.Equal(t, []string{"m03", "m04", "m05", "m06"}, u.IDs)
	assert.Equal(t, 1, u.Offset)
	assert.Equal(t, 8, u.TotalCount)
}

func TestWindowed_FocusReanchorsWhenItemVanishes(t *testing.T) {
	f := newFixture()
	list := numberedList(10)
	p := startWindowed(t, f, list)
	f.loop.Do(func() {
		_ = p.Seek(wire.SeekProxy{Mode: wire.SeekFocus, FocusKey: "m05", VisibleBelow: 1})
	})

	list.Remove("m05")
	u := p.Flush()
	assert.Equal(t, []string{"m06", "m07"}, u.IDs)
	assert.Equal(t, 5, u.Offset)
}

func TestWindowed_FocusIndexLatches(t *testing.T) {
	f := newFixture()
	list := numberedList(10)
	p := startWindowed(t, f, list)
	f.loop.Do(func() {
		_ = p.Seek(wire.SeekProxy{Mode: wire.SeekFocusIndex, Index: 4, VisibleAbove: 1, VisibleBelow: 1})
	})
	assert.Equal(t, []string{"m03", "m04", "m05"}, f.ctx.last(t).IDs)
	assert.Equal(t, wire.SeekFocus, p.Mode())

	list.Upsert(record("a", "-1"))
	u := p.Flush()
	assert.Equal(t, []string{"m03", "m04", "m05"}, u.IDs)
	assert.Equal(t, 4, u.Offset)
}

func TestWindowed_CoordinatesUseHeights(t *testing.T) {
	f := newFixture()
	list := toc.NewList(toc.ListOptions{Type: "events"},
		&toc.Record{ID: "a", Key: "1", Height: 4},
		&toc.Record{ID: "b", Key: "2", Height: 4},
		&toc.Record{ID: "c", Key: "3", Height: 4},
		&toc.Record{ID: "d", Key: "4", Height: 4},
	)
	p := startWindowed(t, f, list)

	f.loop.Do(func() {
		require.NoError(t, p.Seek(wire.SeekProxy{Mode: wire.SeekCoordinates, Offset: 5, Before: 2, Visible: 4}))
	})
	u := f.ctx.last(t)
	assert.Equal(t, []string{"a", "b", "c"}, u.IDs)
	assert.Equal(t, 0, u.HeightOffset)
	assert.Equal(t, 16, u.TotalHeight)
	assert.Equal(t, wire.SeekFocus, p.Mode())
}

func TestWindowed_MetaAndEventsRideAlong(t *testing.T) {
	f := newFixture()
	list := numberedList(3)
	p := startWindowed(t, f, list)

	list.ApplyMetaChanges(map[string]any{"syncing": true})
	list.BroadcastEvent("syncComplete", map[string]any{"newish": 2})
	u := p.Flush()

	assert.Equal(t, map[string]any{"syncing": true}, u.TOCMeta)
	assert.Equal(t, []wire.Event{{Name: "syncComplete", Data: map[string]any{"newish": 2}}}, u.Events)

	u = p.Flush()
	assert.Nil(t, u.TOCMeta)
	assert.Nil(t, u.Events)
}

func TestWindowed_SeekValidation(t *testing.T) {
	f := newFixture()
	p := startWindowed(t, f, numberedList(3))

	assert.Error(t, p.Seek(wire.SeekProxy{Mode: "sideways"}))
	assert.Error(t, p.Seek(wire.SeekProxy{Mode: wire.SeekFocus}))
}

func TestWindowed_ReleaseUnsubscribes(t *testing.T) {
	f := newFixture()
	list := numberedList(3)
	p := startWindowed(t, f, list)

	require.NoError(t, p.Release("h1"))
	assert.Equal(t, 0, list.Listeners())
	assert.False(t, f.batch.Tracked(p))
}
