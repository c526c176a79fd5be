package bridge

import (
	"fmt"

	"github.com/roach88/listbridge/internal/loop"
	"github.com/roach88/listbridge/internal/proxy"
	"github.com/roach88/listbridge/internal/toc"
	"github.com/roach88/listbridge/internal/wire"
)

// TOC namespaces served by the standard handlers.
const (
	NamespaceAccounts      = "accounts"
	NamespaceFolders       = "folders"
	NamespaceConversations = "conversations"
	NamespaceEvents        = "events"
)

// Viewing types.
const (
	ViewingAccounts = "accounts"
	ViewingAccount  = "account"
	ViewingFolder   = "folder"
	ViewingCalendar = "calendar"
	ViewingRaw      = "raw"
)

func (b *Bridge) registerHandlers() {
	b.Handle(wire.TypePing, b.cmdPing)
	b.Handle(wire.TypeViewAccounts, b.cmdViewAccounts)
	b.Handle(wire.TypeViewFolders, b.cmdViewFolders)
	b.Handle(wire.TypeViewFolderConversations, b.cmdViewFolderConversations)
	b.Handle(wire.TypeViewCalendarEvents, b.cmdViewCalendarEvents)
	b.Handle(wire.TypeViewRawList, b.cmdViewRawList)
	b.Handle(wire.TypeSeekProxy, b.cmdSeekProxy)
	b.Handle(wire.TypeRefreshView, b.cmdRefreshView)
	b.Handle(wire.TypeGrowView, b.cmdGrowView)
	b.Handle(wire.TypeCleanupContext, b.cmdCleanupContext)

	b.HandlePromised(wire.TypeRefreshView, b.promisedRefreshView)
}

func (b *Bridge) cmdPing(req *Request) (loop.Result, error) {
	b.send(wire.New(req.Handle(), &wire.Pong{}))
	return loop.Immediate(nil), nil
}

func (b *Bridge) cmdViewAccounts(req *Request) (loop.Result, error) {
	return b.viewEntire(req, "AccountsView", Viewing{Type: ViewingAccounts}, NamespaceAccounts, "")
}

func (b *Bridge) cmdViewFolders(req *Request) (loop.Result, error) {
	body := req.Msg.Body.(*wire.ViewFolders)
	return b.viewEntire(req, "FoldersView", Viewing{Type: ViewingAccount, ID: body.AccountID}, NamespaceFolders, body.AccountID)
}

func (b *Bridge) cmdViewRawList(req *Request) (loop.Result, error) {
	body := req.Msg.Body.(*wire.ViewRawList)
	return b.viewEntire(req, "RawListView", Viewing{Type: ViewingRaw, ID: body.Namespace + "/" + body.Name}, body.Namespace, body.Name)
}

func (b *Bridge) cmdViewFolderConversations(req *Request) (loop.Result, error) {
	body := req.Msg.Body.(*wire.ViewFolderConversations)
	return b.viewWindowed(req, "FolderConversationsView", Viewing{Type: ViewingFolder, ID: body.FolderID}, NamespaceConversations, body.FolderID)
}

func (b *Bridge) cmdViewCalendarEvents(req *Request) (loop.Result, error) {
	body := req.Msg.Body.(*wire.ViewCalendarEvents)
	return b.viewWindowed(req, "CalendarEventsView", Viewing{Type: ViewingCalendar, ID: body.CalendarID}, NamespaceEvents, body.CalendarID)
}

// viewEntire creates the context, acquires the TOC and an entire-list
// proxy, and populates it. The result resolves once the first update has
// been sent.
func (b *Bridge) viewEntire(req *Request, kind string, viewing Viewing, namespace, name string) (loop.Result, error) {
	nc, f, err := b.acquireTOC(req, kind, viewing, namespace, name)
	if err != nil {
		return loop.Result{}, err
	}
	f = b.loop.Then(f, func(v any) (any, error) {
		p := proxy.NewEntireListProxy(v.(*toc.List), nc, b.proxyOptions())
		nc.SetProxy(p)
		return nc.Acquire(p), nil
	})
	f = b.loop.Then(f, func(v any) (any, error) {
		v.(*proxy.EntireListProxy).PopulateFromList()
		return nil, nil
	})
	return loop.Deferred(f), nil
}

// viewWindowed is viewEntire for windowed views. The first update reports
// the TOC's size; the client then seeks.
func (b *Bridge) viewWindowed(req *Request, kind string, viewing Viewing, namespace, name string) (loop.Result, error) {
	nc, f, err := b.acquireTOC(req, kind, viewing, namespace, name)
	if err != nil {
		return loop.Result{}, err
	}
	f = b.loop.Then(f, func(v any) (any, error) {
		p := proxy.NewWindowedListProxy(v.(*toc.List), nc, b.proxyOptions())
		nc.SetProxy(p)
		return nc.Acquire(p), nil
	})
	f = b.loop.Then(f, func(v any) (any, error) {
		v.(*proxy.WindowedListProxy).Start()
		return nil, nil
	})
	return loop.Deferred(f), nil
}

func (b *Bridge) acquireTOC(req *Request, kind string, viewing Viewing, namespace, name string) (*NamedContext, *loop.Future, error) {
	nc, err := b.contexts.CreateNamedContext(req.Handle(), kind, "")
	if err != nil {
		return nil, nil, err
	}
	nc.SetViewing(viewing)
	f := b.loop.Then(b.svc.TOCs.Get(namespace, name), func(v any) (any, error) {
		return nc.Acquire(v.(*toc.List)), nil
	})
	return nc, f, nil
}

func (b *Bridge) proxyOptions() proxy.Options {
	return proxy.Options{
		Batch:    b.svc.Batch,
		Overlays: b.svc.Overlays,
		Logger:   b.svc.Logger,
	}
}

func (b *Bridge) cmdSeekProxy(req *Request) (loop.Result, error) {
	nc, err := b.contexts.MustGet(req.Handle())
	if err != nil {
		return loop.Result{}, err
	}
	wp, ok := nc.Proxy().(*proxy.WindowedListProxy)
	if !ok {
		return loop.Result{}, fmt.Errorf("bridge: %s view %q cannot seek", nc.Kind(), nc.Name())
	}
	return loop.Immediate(nil), wp.Seek(*req.Msg.Body.(*wire.SeekProxy))
}

// refresh asks the view's TOC to refresh inside a root task group, so the
// view receives a coherent snapshot when the refresh completes.
func (b *Bridge) refresh(req *Request) (*loop.Future, error) {
	nc, err := b.contexts.MustGet(req.Handle())
	if err != nil {
		return nil, err
	}
	p := nc.Proxy()
	if p == nil {
		return loop.Resolved(nil), nil
	}
	group := b.svc.Tasks.Root(wire.TypeRefreshView + ":" + nc.Name())
	return group.Track(p.List().Refresh(wire.TypeRefreshView)), nil
}

func (b *Bridge) cmdRefreshView(req *Request) (loop.Result, error) {
	if _, err := b.refresh(req); err != nil {
		return loop.Result{}, err
	}
	return loop.Immediate(nil), nil
}

func (b *Bridge) promisedRefreshView(req *Request) (loop.Result, error) {
	f, err := b.refresh(req)
	if err != nil {
		return loop.Result{}, err
	}
	p := loop.NewPromise()
	b.loop.Await(f, func(_ any, err error) {
		if err != nil {
			req.ReplyError(err)
			_ = p.Reject(err)
			return
		}
		req.Reply(nil)
		_ = p.Resolve(nil)
	})
	return loop.Deferred(p.Future()), nil
}

func (b *Bridge) cmdGrowView(req *Request) (loop.Result, error) {
	nc, err := b.contexts.MustGet(req.Handle())
	if err != nil {
		return loop.Result{}, err
	}
	v := nc.Viewing()
	if v.Type != ViewingFolder {
		b.logger.Debug("growView ignored", "handle", nc.Name(), "viewing", v.Type)
		return loop.Immediate(nil), nil
	}
	group := b.svc.Tasks.Root(wire.TypeGrowView + ":" + nc.Name())
	group.Track(b.svc.Syncer.GrowFolder(v.ID, wire.TypeGrowView))
	return loop.Immediate(nil), nil
}

func (b *Bridge) cmdCleanupContext(req *Request) (loop.Result, error) {
	b.contexts.Cleanup(req.Handle())
	b.send(wire.New(req.Handle(), &wire.ContextCleanedUp{}))
	return loop.Immediate(nil), nil
}
