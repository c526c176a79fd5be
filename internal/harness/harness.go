package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/listbridge/internal/batch"
	"github.com/roach88/listbridge/internal/bridge"
	"github.com/roach88/listbridge/internal/client"
	"github.com/roach88/listbridge/internal/loop"
	"github.com/roach88/listbridge/internal/store"
	"github.com/roach88/listbridge/internal/testutil"
	"github.com/roach88/listbridge/internal/toc"
	"github.com/roach88/listbridge/internal/wire"
)

// Options configures a run.
type Options struct {
	// Logger receives the session's logs. Defaults to discarding them.
	Logger *slog.Logger
}

// Harness is one scenario session: a bridge and a client API sharing a
// single loop driven by a fake clock, over an in-memory record store.
type Harness struct {
	ctx    context.Context
	loop   *loop.Loop
	clock  *testutil.FakeClock
	store  *store.Store
	tocs   *toc.Registry
	bridge *bridge.Bridge
	api    *client.API
	logger *slog.Logger

	views  map[string]*openView
	order  []string
	result *Result
	closed bool
}

type openView struct {
	entire   *client.EntireListView
	windowed *client.WindowedListView
}

// Run executes a test scenario and returns the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithOptions(scenario, Options{})
}

// RunWithOptions executes a test scenario.
//
// Each scenario runs in a fresh in-memory database. Lists load inline and
// timers only fire on advance steps, so the same scenario always produces
// the same trace.
//
// Execution flow:
// 1. Seed the store
// 2. Start the bridge and the client on one loop
// 3. Execute steps, settling the loop after each
// 4. Evaluate assertions against the trace, store and views
func RunWithOptions(scenario *Scenario, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx := context.Background()

	st, err := store.Open(":memory:", store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	if err := Seed(ctx, st, scenario.Lists); err != nil {
		return nil, err
	}

	h := newHarness(ctx, st, scenario, logger)
	err = h.script(scenario.Steps)
	h.snapshotViews()
	h.close()
	if err != nil {
		return nil, err
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, errMsg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(errMsg)
	}
	return h.result, nil
}

// Seed writes lists into st, one transaction per list.
func Seed(ctx context.Context, st *store.Store, lists []SeedList) error {
	for _, l := range lists {
		recs := make([]*toc.Record, 0, len(l.Records))
		for _, rs := range l.Records {
			rec, err := rs.record()
			if err != nil {
				return fmt.Errorf("seed %s/%s: %w", l.Namespace, l.Name, err)
			}
			recs = append(recs, rec)
		}
		if err := st.PutAll(ctx, l.Namespace, l.Name, recs); err != nil {
			return fmt.Errorf("seed %s/%s: %w", l.Namespace, l.Name, err)
		}
	}
	return nil
}

func (r RecordSpec) record() (*toc.Record, error) {
	data := r.Data
	if data == nil {
		data = map[string]interface{}{"id": r.ID}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("record %q: %w", r.ID, err)
	}
	return &toc.Record{ID: r.ID, Key: r.Key, Height: r.Height, Data: raw}, nil
}

func newHarness(ctx context.Context, st *store.Store, scenario *Scenario, logger *slog.Logger) *Harness {
	h := &Harness{
		ctx:    ctx,
		clock:  testutil.NewFakeClock(),
		store:  st,
		tocs:   toc.NewRegistry(),
		logger: logger.With("component", "harness", "scenario", scenario.Name),
		views:  make(map[string]*openView),
		result: NewResult(),
	}
	h.loop = loop.New(loop.WithClock(h.clock), loop.WithLogger(logger))

	bridge.RegisterFeeds(h.tocs, h.loop, st, bridge.FeedConfig{
		Raw:        rawNamespaces(scenario),
		Refresh:    h.refresh,
		LoadInline: true,
		Logger:     logger,
	})

	var delay time.Duration
	if scenario.FlushDelay != "" {
		delay, _ = time.ParseDuration(scenario.FlushDelay)
	}
	mgr := batch.New(h.loop, batch.Options{FlushDelay: delay, CacheDrops: st, Logger: logger})

	h.bridge = bridge.New(bridge.Services{
		Loop:   h.loop,
		Batch:  mgr,
		TOCs:   h.tocs,
		Logger: logger,
	}, h.down)
	h.api = client.New(h.up, client.Options{
		Handles: testutil.NewSequentialHandles("h"),
		Logger:  logger,
	})
	return h
}

// close shuts the bridge down. Anything it sends is not traced.
func (h *Harness) close() {
	h.closed = true
	h.bridge.Shutdown()
	h.settle()
}

// rawNamespaces returns the seeded and scripted namespaces that are not
// served by a standard view.
func rawNamespaces(s *Scenario) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(ns string) {
		if ns != "" && !seen[ns] {
			seen[ns] = true
			out = append(out, ns)
		}
	}
	for _, l := range s.Lists {
		add(l.Namespace)
	}
	for _, step := range s.Steps {
		switch {
		case step.Open != nil && step.Open.View == ViewRaw:
			add(step.Open.Namespace)
		case step.Put != nil:
			add(step.Put.Namespace)
		}
	}
	return out
}

// refresh re-announces a stored list on a later macrotask, as a sync
// would after re-reading it.
func (h *Harness) refresh(namespace, name, why string) *loop.Future {
	p := loop.NewPromise()
	h.loop.Post(func() {
		h.logger.Debug("resync", "namespace", namespace, "name", name, "why", why)
		if err := h.store.Resync(h.ctx, namespace, name); err != nil {
			_ = p.Reject(err)
			return
		}
		_ = p.Resolve(nil)
	})
	return p.Future()
}

// settle runs the loop until no task is queued. Pending timers stay
// pending until an advance step.
func (h *Harness) settle() {
	for h.loop.RunPending() > 0 {
	}
}

// up carries a client message to the bridge.
func (h *Harness) up(msg wire.Message) {
	h.carry(DirUp, msg, h.bridge.Receive)
}

// down carries a bridge message to the client.
func (h *Harness) down(msg wire.Message) {
	h.carry(DirDown, msg, h.api.Receive)
}

// carry records msg and delivers a JSON round-tripped copy on a later
// macrotask, as a real transport would.
func (h *Harness) carry(dir string, msg wire.Message, deliver func(wire.Message)) {
	if h.closed {
		return
	}
	raw, err := wire.Encode(msg)
	if err != nil {
		h.result.AddError(fmt.Sprintf("%s %s %s: encode: %v", dir, msg.Type, msg.Handle, err))
		return
	}
	var env struct {
		Data any `json:"data"`
	}
	_ = json.Unmarshal(raw, &env)
	h.result.addTrace(dir, msg.Type, msg.Handle, env.Data)

	cp, err := wire.Decode(raw)
	if err != nil {
		h.result.AddError(fmt.Sprintf("%s %s %s: decode: %v", dir, msg.Type, msg.Handle, err))
		return
	}
	h.loop.Post(func() { deliver(cp) })
}

func (h *Harness) script(steps []Step) error {
	for i := range steps {
		step := &steps[i]
		if err := h.execute(step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Kind(), err)
		}
		h.settle()
		h.logger.Debug("step completed", "step", i, "kind", step.Kind(), "trace", len(h.result.Trace))
	}
	return nil
}

// execute runs one step as a loop macrotask.
func (h *Harness) execute(step *Step) error {
	var err error
	h.loop.Do(func() { err = h.apply(step) })
	if err != nil {
		return err
	}
	if step.Advance != "" {
		d, _ := time.ParseDuration(step.Advance)
		h.clock.Advance(d)
	}
	return nil
}

func (h *Harness) apply(step *Step) error {
	switch {
	case step.Open != nil:
		return h.open(step.Open)
	case step.Seek != nil:
		return h.seek(step.Seek)
	case step.Refresh != nil:
		v, err := h.view(step.Refresh.View)
		if err != nil {
			return err
		}
		if v.windowed != nil {
			v.windowed.Refresh()
		} else {
			v.entire.Refresh()
		}
	case step.Grow != nil:
		w, err := h.windowed(step.Grow.View)
		if err != nil {
			return err
		}
		w.Grow()
	case step.Release != nil:
		v, err := h.view(step.Release.View)
		if err != nil {
			return err
		}
		if v.windowed != nil {
			v.windowed.Release()
		} else {
			v.entire.Release()
		}
	case step.Coherent != nil:
		w, err := h.windowed(step.Coherent.View)
		if err != nil {
			return err
		}
		w.SetCoherentMode(step.Coherent.Enabled)
	case step.Send != nil:
		return h.send(step.Send)
	case step.Put != nil:
		rec, err := step.Put.Record.record()
		if err != nil {
			return err
		}
		return h.store.Put(h.ctx, step.Put.Namespace, step.Put.List, rec)
	case step.Delete != nil:
		_, err := h.store.Delete(h.ctx, step.Delete.Namespace, step.Delete.List, step.Delete.ID)
		return err
	case step.Meta != nil:
		l, err := h.list(step.Meta.Namespace, step.Meta.List)
		if err != nil {
			return err
		}
		l.ApplyMetaChanges(step.Meta.Changes)
	case step.Event != nil:
		l, err := h.list(step.Event.Namespace, step.Event.List)
		if err != nil {
			return err
		}
		l.BroadcastEvent(step.Event.Name, step.Event.Data)
	case step.Broadcast != nil:
		h.bridge.Broadcast(step.Broadcast.Name, step.Broadcast.Data)
	case step.DropCache:
		return h.store.DropCache(h.ctx)
	}
	return nil
}

func (h *Harness) open(o *OpenStep) error {
	v := &openView{}
	switch o.View {
	case ViewAccounts:
		v.entire = h.api.ViewAccounts().EntireListView
	case ViewFolders:
		v.entire = h.api.ViewFolders(o.ID).EntireListView
	case ViewRaw:
		v.entire = h.api.ViewRawList(o.Namespace, o.Name)
	case ViewConversations:
		v.windowed = h.api.ViewFolderConversations(o.ID)
	case ViewEvents:
		v.windowed = h.api.ViewCalendarEvents(o.ID)
	default:
		return fmt.Errorf("unknown view %q", o.View)
	}
	alias := o.Alias()
	h.views[alias] = v
	h.order = append(h.order, alias)
	return nil
}

func (h *Harness) seek(s *SeekStep) error {
	w, err := h.windowed(s.View)
	if err != nil {
		return err
	}
	switch s.Mode {
	case SeekTop:
		w.SeekToTop(s.Visible, s.Buffer)
	case SeekBottom:
		w.SeekToBottom(s.Visible, s.Buffer)
	case SeekItem:
		return w.SeekFocusedOnItem(w.ByID(s.Item), s.BufferAbove, s.VisibleAbove, s.VisibleBelow, s.BufferBelow)
	case SeekIndex:
		w.SeekFocusedOnAbsoluteIndex(s.Index, s.BufferAbove, s.VisibleAbove, s.VisibleBelow, s.BufferBelow)
	case SeekCoordinates:
		w.SeekInCoordinateSpace(s.Offset, s.Before, s.Visible, s.After)
	default:
		return fmt.Errorf("unknown seek mode %q", s.Mode)
	}
	return nil
}

func (h *Harness) send(s *SendStep) error {
	env := map[string]any{"type": s.Type, "handle": s.Handle}
	if s.Data != nil {
		env["data"] = s.Data
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.Type, err)
	}
	msg, err := wire.Decode(raw)
	if err != nil {
		return fmt.Errorf("decode %s: %w", s.Type, err)
	}
	h.up(msg)
	return nil
}

func (h *Harness) view(alias string) (*openView, error) {
	v, ok := h.views[alias]
	if !ok {
		return nil, fmt.Errorf("unknown view %q", alias)
	}
	return v, nil
}

func (h *Harness) windowed(alias string) (*client.WindowedListView, error) {
	v, err := h.view(alias)
	if err != nil {
		return nil, err
	}
	if v.windowed == nil {
		return nil, fmt.Errorf("view %q is not windowed", alias)
	}
	return v.windowed, nil
}

// list returns the live TOC for namespace/name. Lists are loaded inline,
// so the future is already settled.
func (h *Harness) list(namespace, name string) (*toc.List, error) {
	v, err := h.tocs.Get(namespace, name).Result()
	if err != nil {
		return nil, err
	}
	l, ok := v.(*toc.List)
	if !ok {
		return nil, fmt.Errorf("list %s/%s is not loaded", namespace, name)
	}
	return l, nil
}

func (h *Harness) snapshotViews() {
	for _, alias := range h.order {
		v := h.views[alias]
		var s ViewState
		var items []client.Item
		if v.windowed != nil {
			s = ViewState{
				Handle:     v.windowed.Handle(),
				Offset:     v.windowed.Offset(),
				TotalCount: v.windowed.TotalCount(),
				Released:   v.windowed.Released(),
			}
			items = v.windowed.Items()
		} else {
			s = ViewState{
				Handle:   v.entire.Handle(),
				Released: v.entire.Released(),
			}
			items = v.entire.Items()
			s.TotalCount = len(items)
		}
		s.IDs = make([]string, len(items))
		for i, it := range items {
			if it != nil {
				s.IDs[i] = it.ID()
			}
		}
		h.result.Views[alias] = s
	}
}
