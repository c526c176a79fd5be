package proxy

import (
	"fmt"
	"log/slog"

	"github.com/roach88/listbridge/internal/batch"
	"github.com/roach88/listbridge/internal/loop"
	"github.com/roach88/listbridge/internal/overlay"
	"github.com/roach88/listbridge/internal/toc"
	"github.com/roach88/listbridge/internal/wire"
)

// Context is the named context a proxy delivers its updates through.
type Context interface {
	Name() string
	SendMessage(body wire.Body)
}

// Scheduler receives dirty registrations. *batch.Manager implements it.
type Scheduler interface {
	RegisterDirtyView(p batch.Proxy, mode batch.FlushMode)
	Forget(p batch.Proxy)
}

// Options carries the collaborators shared by both proxy kinds.
type Options struct {
	Batch    Scheduler
	Overlays *overlay.Manager
	Logger   *slog.Logger
}

// base holds the state and plumbing common to both proxies.
type base struct {
	list     *toc.List
	ctx      Context
	batch    Scheduler
	overlays *overlay.Manager
	resolve  overlay.Resolver
	logger   *slog.Logger

	dirty              bool
	needsCoherentFlush bool

	active       bool
	released     bool
	unsubscribes []func()
}

func newBase(list *toc.List, ctx Context, opts Options, kind string) base {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	overlays := opts.Overlays
	if overlays == nil {
		overlays = overlay.NewManager(logger)
	}
	return base{
		list:     list,
		ctx:      ctx,
		batch:    opts.Batch,
		overlays: overlays,
		resolve:  overlays.MakeBoundResolver(list.OverlayNamespace()),
		logger: logger.With(
			"component", kind,
			"toc", list.Type(),
			"context", ctx.Name(),
		),
	}
}

// List returns the mirrored TOC.
func (b *base) List() *toc.List { return b.list }

// Dirty reports whether there is something to flush.
func (b *base) Dirty() bool { return b.dirty }

// NeedsCoherentFlush reports whether the view is owed a coherent snapshot.
func (b *base) NeedsCoherentFlush() bool { return b.needsCoherentFlush }

// ClearNeedsCoherentFlush is called by the batch manager after a coherent
// delivery.
func (b *base) ClearNeedsCoherentFlush() { b.needsCoherentFlush = false }

// TOCType returns the kind of the mirrored TOC.
func (b *base) TOCType() string { return b.list.Type() }

// ContextName returns the handle of the owning context.
func (b *base) ContextName() string { return b.ctx.Name() }

// SendUpdate delivers u to the view.
func (b *base) SendUpdate(u *wire.Update) { b.ctx.SendMessage(u) }

func (b *base) subscribe(self toc.Listener, onOverlayPush func(id string)) {
	b.active = true
	b.unsubscribes = append(b.unsubscribes,
		b.list.Subscribe(self),
		b.overlays.Subscribe(b.list.OverlayNamespace(), onOverlayPush),
	)
}

// release unsubscribes; it reports false if the proxy was not active.
func (b *base) release(self batch.Proxy) bool {
	b.released = true
	if !b.active {
		return false
	}
	b.active = false
	for _, fn := range b.unsubscribes {
		fn()
	}
	b.unsubscribes = nil
	if b.batch != nil {
		b.batch.Forget(self)
	}
	return true
}

// markDirty registers with the batch manager on the clean-to-dirty edge.
func (b *base) markDirty(self batch.Proxy) {
	if b.dirty {
		return
	}
	b.dirty = true
	b.needsCoherentFlush = true
	b.batch.RegisterDirtyView(self, batch.FlushNormal)
}

// markDirtyUrgent registers with mode regardless of the current state.
func (b *base) markDirtyUrgent(self batch.Proxy, mode batch.FlushMode) {
	b.dirty = true
	b.needsCoherentFlush = true
	b.batch.RegisterDirtyView(self, mode)
}

// acquire resolves with self; a proxy has exactly one owner, its context.
func (b *base) acquire(self any) *loop.Future {
	if b.released {
		return loop.Rejected(fmt.Errorf("proxy: %s acquired after release", b.ctx.Name()))
	}
	return loop.Resolved(self)
}
