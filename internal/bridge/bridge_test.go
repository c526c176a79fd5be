package bridge

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/listbridge/internal/batch"
	"github.com/roach88/listbridge/internal/loop"
	"github.com/roach88/listbridge/internal/overlay"
	"github.com/roach88/listbridge/internal/testutil"
	"github.com/roach88/listbridge/internal/toc"
	"github.com/roach88/listbridge/internal/wire"
)

type testCmd struct{ name string }

func (c *testCmd) MessageType() string { return c.name }

type harness struct {
	t     *testing.T
	loop  *loop.Loop
	clock *testutil.FakeClock
	tocs  *toc.Registry
	b     *Bridge
	sent  []wire.Message
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, clock: testutil.NewFakeClock(), tocs: toc.NewRegistry()}
	h.loop = loop.New(loop.WithClock(h.clock))
	h.tocs.Register(NamespaceAccounts, toc.StaticProvider(toc.ListOptions{Type: NamespaceAccounts}, map[string][]*toc.Record{
		"": {
			{ID: "acct1", Key: "1", Data: json.RawMessage(`{"id":"acct1","name":"Work"}`)},
			{ID: "acct2", Key: "2", Data: json.RawMessage(`{"id":"acct2","name":"Home"}`)},
		},
	}))
	h.b = New(Services{Loop: h.loop, TOCs: h.tocs}, func(m wire.Message) { h.sent = append(h.sent, m) })
	return h
}

// receive delivers msg as its own macrotask and runs everything it causes.
func (h *harness) receive(handle string, body wire.Body) {
	h.loop.Post(func() { h.b.Receive(wire.New(handle, body)) })
	h.loop.RunPending()
}

func (h *harness) sentOf(msgType string) []wire.Message {
	var out []wire.Message
	for _, m := range h.sent {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func TestBridge_Ping(t *testing.T) {
	h := newHarness(t)
	h.receive("p1", &wire.Ping{})

	require.Len(t, h.sent, 1)
	assert.Equal(t, wire.TypePong, h.sent[0].Type)
	assert.Equal(t, "p1", h.sent[0].Handle)
}

func TestBridge_UnroutableIsDropped(t *testing.T) {
	h := newHarness(t)
	h.receive("h1", &testCmd{name: "launchMissiles"})
	h.receive("h1", &wire.Promised{Wrapped: wire.New("h1", &wire.GrowView{})})

	assert.Empty(t, h.sent)
}

func TestBridge_ViewAccountsSendsInitialState(t *testing.T) {
	h := newHarness(t)
	h.receive("v1", &wire.ViewAccounts{})

	updates := h.sentOf(wire.TypeUpdate)
	require.Len(t, updates, 1)
	u := updates[0].Body.(*wire.Update)
	require.Len(t, u.Changes, 2)
	assert.Equal(t, wire.ChangeAdd, u.Changes[0].Type)
	assert.JSONEq(t, `{"id":"acct1","name":"Work"}`, string(u.Changes[0].State))

	nc, ok := h.b.Context().Get("v1")
	require.True(t, ok)
	assert.False(t, nc.Busy())
	assert.NotNil(t, nc.Proxy())
}

func TestBridge_CleanupReleasesViewAndReplies(t *testing.T) {
	h := newHarness(t)
	h.receive("v1", &wire.ViewAccounts{})
	list := h.b.Context().contexts["v1"].Proxy().List()

	h.receive("v1", &wire.CleanupContext{})
	h.receive("v1", &wire.CleanupContext{})

	assert.Len(t, h.sentOf(wire.TypeContextCleanedUp), 2)
	assert.Equal(t, 0, list.Listeners())
	assert.Empty(t, list.Owners())
	assert.Equal(t, 0, h.b.Context().Len())
}

// Commands on one handle run strictly in order, even when the first one
// is slow and fails.
func TestBridge_SameHandleCommandsAreSerialized(t *testing.T) {
	for _, fail := range []bool{false, true} {
		h := newHarness(t)
		var log []string
		slow := loop.NewPromise()

		h.b.Handle("create", func(req *Request) (loop.Result, error) {
			_, err := h.b.Context().CreateNamedContext(req.Handle(), "Test", "")
			require.NoError(t, err)
			log = append(log, "A start")
			return loop.Deferred(slow.Future()), nil
		})
		h.b.Handle("fast", func(req *Request) (loop.Result, error) {
			log = append(log, "B")
			return loop.Immediate(nil), nil
		})
		h.b.Handle("other", func(req *Request) (loop.Result, error) {
			log = append(log, "other handle")
			return loop.Immediate(nil), nil
		})

		h.receive("H", &testCmd{name: "create"})
		h.receive("H", &testCmd{name: "fast"})
		h.receive("H", &testCmd{name: "fast"})
		h.receive("K", &testCmd{name: "other"})
		assert.Equal(t, []string{"A start", "other handle"}, log)

		nc, _ := h.b.Context().Get("H")
		assert.Equal(t, 2, nc.QueuedCommands())

		if fail {
			_ = slow.Reject(errors.New("create failed"))
		} else {
			_ = slow.Resolve(nil)
		}
		h.loop.RunPending()

		assert.Equal(t, []string{"A start", "other handle", "B", "B"}, log)
		assert.False(t, nc.Busy())
		assert.Equal(t, 0, nc.QueuedCommands())
	}
}

func TestBridge_QueueDrainsThroughImmediateAndFailingCommands(t *testing.T) {
	h := newHarness(t)
	var log []string
	gate := loop.NewPromise()
	second := loop.NewPromise()

	h.b.Handle("open", func(req *Request) (loop.Result, error) {
		h.b.Context().CreateNamedContext(req.Handle(), "Test", "")
		return loop.Deferred(gate.Future()), nil
	})
	h.b.Handle("step", func(req *Request) (loop.Result, error) {
		log = append(log, "step")
		return loop.Immediate(nil), nil
	})
	h.b.Handle("boom", func(req *Request) (loop.Result, error) {
		log = append(log, "boom")
		panic("handler exploded")
	})
	h.b.Handle("err", func(req *Request) (loop.Result, error) {
		log = append(log, "err")
		return loop.Result{}, errors.New("nope")
	})
	h.b.Handle("wait", func(req *Request) (loop.Result, error) {
		log = append(log, "wait")
		return loop.Deferred(second.Future()), nil
	})

	for _, name := range []string{"open", "step", "boom", "err", "wait", "step"} {
		h.receive("H", &testCmd{name: name})
	}
	_ = gate.Resolve(nil)
	h.loop.RunPending()
	assert.Equal(t, []string{"step", "boom", "err", "wait"}, log)

	_ = second.Resolve(nil)
	h.loop.RunPending()
	assert.Equal(t, []string{"step", "boom", "err", "wait", "step"}, log)
}

// A continuation that panics fails its command instead of holding the
// handle's queue.
func TestBridge_PanickingContinuationReleasesQueue(t *testing.T) {
	h := newHarness(t)
	var log []string
	h.b.Handle("open", func(req *Request) (loop.Result, error) {
		_, err := h.b.Context().CreateNamedContext(req.Handle(), "Test", "")
		require.NoError(t, err)
		return loop.Deferred(h.loop.Then(loop.Resolved(nil), func(any) (any, error) {
			var m map[string]bool
			m["populated"] = true
			return nil, nil
		})), nil
	})
	h.b.Handle("fast", func(req *Request) (loop.Result, error) {
		log = append(log, "fast")
		return loop.Immediate(nil), nil
	})

	h.receive("H", &testCmd{name: "open"})
	h.receive("H", &testCmd{name: "fast"})
	h.loop.RunPending()

	assert.Equal(t, []string{"fast"}, log)
	nc, ok := h.b.Context().Get("H")
	require.True(t, ok)
	assert.False(t, nc.Busy())
	assert.Equal(t, 0, nc.QueuedCommands())

	h.receive("H", &wire.CleanupContext{})
	assert.Len(t, h.sentOf(wire.TypeContextCleanedUp), 1)
	assert.Equal(t, 0, h.b.Context().Len())
}

func TestBridge_CommandsWithoutHandleAreNotOrdered(t *testing.T) {
	h := newHarness(t)
	var log []string
	h.b.Handle("slow", func(*Request) (loop.Result, error) {
		log = append(log, "slow")
		return loop.Deferred(loop.NewPromise().Future()), nil
	})
	h.receive("", &testCmd{name: "slow"})
	h.receive("", &testCmd{name: "slow"})
	assert.Equal(t, []string{"slow", "slow"}, log)
}

// A slow view creation followed by a seek: the seek's effects appear only
// after the creation settles.
func TestBridge_SeekWaitsForSlowViewCreation(t *testing.T) {
	h := newHarness(t)
	gate := loop.NewPromise()
	list := toc.NewList(toc.ListOptions{Type: NamespaceConversations},
		&toc.Record{ID: "c1", Key: "1", Data: json.RawMessage(`1`)},
		&toc.Record{ID: "c2", Key: "2", Data: json.RawMessage(`2`)},
		&toc.Record{ID: "c3", Key: "3", Data: json.RawMessage(`3`)},
	)
	h.tocs.Register(NamespaceConversations, toc.ProviderFunc(func(name string) *loop.Future {
		return h.loop.Then(gate.Future(), func(any) (any, error) { return list, nil })
	}))

	h.receive("H", &wire.ViewFolderConversations{FolderID: "inbox"})
	h.receive("H", &wire.SeekProxy{Mode: wire.SeekTop, VisibleDesired: 2})
	assert.Empty(t, h.sentOf(wire.TypeUpdate))

	_ = gate.Resolve(nil)
	h.loop.RunPending()

	updates := h.sentOf(wire.TypeUpdate)
	require.Len(t, updates, 2)
	first := updates[0].Body.(*wire.Update)
	assert.Empty(t, first.IDs)
	assert.Equal(t, 3, first.TotalCount)
	second := updates[1].Body.(*wire.Update)
	assert.Equal(t, []string{"c1", "c2"}, second.IDs)
}

func TestBridge_SeekOnUnknownOrEntireView(t *testing.T) {
	h := newHarness(t)
	h.receive("nope", &wire.SeekProxy{Mode: wire.SeekTop})
	h.receive("v1", &wire.ViewAccounts{})
	h.receive("v1", &wire.SeekProxy{Mode: wire.SeekTop})

	assert.Len(t, h.sentOf(wire.TypeUpdate), 1)
}

type countingSyncer struct {
	loop    *loop.Loop
	pending []*loop.Promise
	grown   []string
}

func (s *countingSyncer) RefreshList(_, _, _ string) *loop.Future {
	p := loop.NewPromise()
	s.pending = append(s.pending, p)
	return p.Future()
}

func (s *countingSyncer) GrowFolder(folderID, _ string) *loop.Future {
	s.grown = append(s.grown, folderID)
	return loop.Resolved(nil)
}

func TestBridge_RefreshDeliversCoherentSnapshot(t *testing.T) {
	h := newHarness(t)
	syncer := &countingSyncer{loop: h.loop}
	h.b.Shutdown()
	h.sent = nil

	tracker := h.b.Services().Tasks
	mgr := batch.New(h.loop, batch.Options{})
	h.b = New(Services{Loop: h.loop, TOCs: h.tocs, Tasks: tracker, Batch: mgr, Syncer: syncer},
		func(m wire.Message) { h.sent = append(h.sent, m) })
	list := toc.NewList(toc.ListOptions{
		Type: NamespaceFolders,
		Refresh: []toc.RefreshFunc{func(why string) *loop.Future {
			return syncer.RefreshList(NamespaceFolders, "acct1", why)
		}},
	}, &toc.Record{ID: "f1", Key: "inbox"})
	h.tocs.Register(NamespaceFolders, toc.ProviderFunc(func(string) *loop.Future { return loop.Resolved(list) }))

	h.receive("v1", &wire.ViewFolders{AccountID: "acct1"})
	require.Len(t, h.sentOf(wire.TypeUpdate), 1)
	assert.False(t, h.sentOf(wire.TypeUpdate)[0].Body.(*wire.Update).CoherentSnapshot)

	h.receive("p1", &wire.Promised{Wrapped: wire.New("v1", &wire.RefreshView{})})
	require.Len(t, syncer.pending, 1)
	assert.Empty(t, h.sentOf(wire.TypePromisedResult))

	_ = syncer.pending[0].Resolve(nil)
	h.loop.RunPending()

	updates := h.sentOf(wire.TypeUpdate)
	require.Len(t, updates, 2)
	assert.True(t, updates[1].Body.(*wire.Update).CoherentSnapshot)
	results := h.sentOf(wire.TypePromisedResult)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].Handle)

	h.receive("v1", &wire.GrowView{})
	assert.Empty(t, syncer.grown, "folder lists do not grow")
}

func TestBridge_FailedRefreshRepliesWithError(t *testing.T) {
	h := newHarness(t)
	syncer := &countingSyncer{loop: h.loop}
	h.b = New(Services{Loop: h.loop, TOCs: h.tocs, Syncer: syncer}, func(m wire.Message) { h.sent = append(h.sent, m) })
	list := toc.NewList(toc.ListOptions{
		Type: NamespaceFolders,
		Refresh: []toc.RefreshFunc{func(why string) *loop.Future {
			return syncer.RefreshList(NamespaceFolders, "acct1", why)
		}},
	}, &toc.Record{ID: "f1", Key: "inbox"})
	h.tocs.Register(NamespaceFolders, toc.ProviderFunc(func(string) *loop.Future { return loop.Resolved(list) }))

	h.receive("v1", &wire.ViewFolders{AccountID: "acct1"})
	h.receive("p1", &wire.Promised{Wrapped: wire.New("v1", &wire.RefreshView{})})
	require.Len(t, syncer.pending, 1)

	_ = syncer.pending[0].Reject(errors.New("server unreachable"))
	h.loop.RunPending()

	results := h.sentOf(wire.TypePromisedResult)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].Handle)
	assert.Contains(t, results[0].Body.(*wire.PromisedResult).Error, "server unreachable")

	nc, ok := h.b.Context().Get("v1")
	require.True(t, ok)
	assert.False(t, nc.Busy())
}

func TestBridge_GrowFolderConversations(t *testing.T) {
	h := newHarness(t)
	syncer := &countingSyncer{loop: h.loop}
	h.b = New(Services{Loop: h.loop, TOCs: h.tocs, Syncer: syncer}, func(m wire.Message) { h.sent = append(h.sent, m) })
	h.tocs.Register(NamespaceConversations, toc.StaticProvider(toc.ListOptions{Type: NamespaceConversations},
		map[string][]*toc.Record{"inbox": nil}))

	h.receive("v1", &wire.ViewFolderConversations{FolderID: "inbox"})
	h.receive("v1", &wire.GrowView{})
	assert.Equal(t, []string{"inbox"}, syncer.grown)
}

func TestBridge_Broadcast(t *testing.T) {
	h := newHarness(t)
	h.b.Broadcast("accountsChanged", map[string]any{"n": 1})

	require.Len(t, h.sent, 1)
	assert.Equal(t, "", h.sent[0].Handle)
	assert.Equal(t, &wire.Broadcast{Name: "accountsChanged", Data: map[string]any{"n": 1}}, h.sent[0].Body)
}

func TestLoggingSyncer_FlickersStatus(t *testing.T) {
	l := loop.New()
	m := overlay.NewManager(nil)
	board := overlay.NewStatusBoard(m, NamespaceFolders, SyncStatusOverlay)
	s := NewLoggingSyncer(l, board, nil)

	f := s.GrowFolder("f1", "test")
	assert.Equal(t, "syncing", board.Get("f1"))
	assert.False(t, f.Settled())

	l.RunPending()
	assert.True(t, f.Settled())
	assert.Nil(t, board.Get("f1"))
}
