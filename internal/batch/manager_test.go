package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/listbridge/internal/loop"
	"github.com/roach88/listbridge/internal/testutil"
	"github.com/roach88/listbridge/internal/wire"
)

type fakeProxy struct {
	name          string
	dirty         bool
	needsCoherent bool
	flushes       int
	sent          []*wire.Update
}

func (p *fakeProxy) Dirty() bool { return p.dirty }

func (p *fakeProxy) Flush() *wire.Update {
	p.flushes++
	p.dirty = false
	return &wire.Update{CoherentSnapshot: true}
}

func (p *fakeProxy) SendUpdate(u *wire.Update) { p.sent = append(p.sent, u) }
func (p *fakeProxy) NeedsCoherentFlush() bool  { return p.needsCoherent }
func (p *fakeProxy) ClearNeedsCoherentFlush()  { p.needsCoherent = false }
func (p *fakeProxy) TOCType() string           { return "fake" }
func (p *fakeProxy) ContextName() string       { return p.name }

func (p *fakeProxy) touch() {
	p.dirty = true
	p.needsCoherent = true
}

func newManager(t *testing.T) (*Manager, *loop.Loop, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock()
	l := loop.New(loop.WithClock(clock))
	return New(l, Options{}), l, clock
}

func TestRegisterDirtyView_NormalWaitsForDelay(t *testing.T) {
	m, l, clock := newManager(t)
	p := &fakeProxy{name: "h1"}
	p.touch()

	l.Do(func() { m.RegisterDirtyView(p, FlushNormal) })
	assert.Empty(t, p.sent)

	clock.Advance(DefaultFlushDelay - time.Millisecond)
	l.RunPending()
	assert.Empty(t, p.sent)

	clock.Advance(time.Millisecond)
	l.RunPending()
	require.Len(t, p.sent, 1)
	assert.False(t, p.sent[0].CoherentSnapshot)
	assert.True(t, m.Tracked(p), "non-coherent delivery keeps the proxy tracked")
}

func TestRegisterDirtyView_NormalIsCoalesced(t *testing.T) {
	m, l, clock := newManager(t)
	a := &fakeProxy{name: "a"}
	b := &fakeProxy{name: "b"}
	a.touch()
	b.touch()

	l.Do(func() {
		m.RegisterDirtyView(a, FlushNormal)
		m.RegisterDirtyView(b, FlushNormal)
	})
	assert.Equal(t, 1, l.PendingTimers())

	clock.Advance(DefaultFlushDelay)
	l.RunPending()
	assert.Len(t, a.sent, 1)
	assert.Len(t, b.sent, 1)
}

func TestRegisterDirtyView_ImmediateFlushesSynchronously(t *testing.T) {
	m, l, _ := newManager(t)
	p := &fakeProxy{name: "h1"}
	p.touch()

	l.Do(func() {
		m.RegisterDirtyView(p, FlushNormal)
		q := &fakeProxy{name: "h2"}
		q.touch()
		m.RegisterDirtyView(q, FlushImmediate)
		assert.Len(t, q.sent, 1)
	})
	assert.Len(t, p.sent, 1, "immediate flushes the whole pending set")
	assert.Equal(t, 0, l.PendingTimers(), "pending timer is cleared")
}

func TestRegisterDirtyView_SoonRunsAfterTurnBeforeTimers(t *testing.T) {
	m, l, clock := newManager(t)
	p := &fakeProxy{name: "h1"}
	var order []string

	l.Do(func() {
		p.touch()
		m.RegisterDirtyView(p, FlushNormal)
		m.RegisterDirtyView(p, FlushSoon)
		m.RegisterDirtyView(p, FlushSoon)
		l.Post(func() { order = append(order, "macrotask") })
		order = append(order, "turn")
		assert.Empty(t, p.sent)
	})
	order = append(order, "flushed")
	l.RunPending()

	assert.Equal(t, []string{"turn", "flushed", "macrotask"}, order)
	assert.Len(t, p.sent, 1)
	assert.Equal(t, 1, p.flushes)
	assert.Equal(t, 0, l.PendingTimers())

	clock.Advance(DefaultFlushDelay)
	l.RunPending()
	assert.Len(t, p.sent, 1, "no redundant timer flush")
}

func TestFlushPending_SkipsCleanProxies(t *testing.T) {
	m, l, _ := newManager(t)
	dirty := &fakeProxy{name: "dirty"}
	clean := &fakeProxy{name: "clean"}
	dirty.touch()

	l.Do(func() {
		m.RegisterDirtyView(clean, FlushNormal)
		m.RegisterDirtyView(dirty, FlushImmediate)
	})
	assert.Len(t, dirty.sent, 1)
	assert.Empty(t, clean.sent)
}

func TestFlushBecauseTaskGroupCompleted_CoherentConvergence(t *testing.T) {
	m, l, _ := newManager(t)
	a := &fakeProxy{name: "a"}
	b := &fakeProxy{name: "b"}
	a.touch()
	b.touch()

	l.Do(func() {
		m.RegisterDirtyView(a, FlushImmediate)
		m.RegisterDirtyView(b, FlushNormal)
	})
	require.Len(t, a.sent, 1)
	assert.Equal(t, 2, m.PendingCount())

	l.Do(m.FlushBecauseTaskGroupCompleted)
	require.Len(t, a.sent, 2, "clean but owed a coherent snapshot")
	require.Len(t, b.sent, 1)
	assert.True(t, a.sent[1].CoherentSnapshot)
	assert.True(t, b.sent[0].CoherentSnapshot)
	assert.False(t, m.Tracked(a))
	assert.False(t, m.Tracked(b))
	assert.False(t, a.needsCoherent)

	l.Do(m.FlushBecauseTaskGroupCompleted)
	assert.Len(t, a.sent, 2, "untracked until dirtied again")

	a.touch()
	l.Do(func() { m.RegisterDirtyView(a, FlushNormal) })
	l.Do(m.FlushBecauseTaskGroupCompleted)
	assert.Len(t, a.sent, 3)
}

type fakeCache struct {
	fns []func()
}

func (c *fakeCache) OnCacheDrop(fn func()) func() {
	c.fns = append(c.fns, fn)
	return func() { c.fns = nil }
}

func TestCacheDrop_FlushesNonCoherently(t *testing.T) {
	clock := testutil.NewFakeClock()
	l := loop.New(loop.WithClock(clock))
	cache := &fakeCache{}
	m := New(l, Options{CacheDrops: cache, FlushDelay: time.Second})
	p := &fakeProxy{name: "h1"}
	p.touch()

	l.Do(func() { m.RegisterDirtyView(p, FlushNormal) })
	for _, fn := range cache.fns {
		fn()
	}
	l.RunPending()

	require.Len(t, p.sent, 1)
	assert.False(t, p.sent[0].CoherentSnapshot)
	assert.Equal(t, 0, l.PendingTimers())

	m.Close()
	assert.Empty(t, cache.fns)
}

func TestForget(t *testing.T) {
	m, l, clock := newManager(t)
	p := &fakeProxy{name: "h1"}
	p.touch()

	l.Do(func() {
		m.RegisterDirtyView(p, FlushNormal)
		m.Forget(p)
		m.Forget(p)
	})
	clock.Advance(DefaultFlushDelay)
	l.RunPending()
	assert.Empty(t, p.sent)
}
