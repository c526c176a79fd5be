package client

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/listbridge/internal/loop"
	"github.com/roach88/listbridge/internal/wire"
)

// HandleGenerator allocates view and request handles.
type HandleGenerator interface {
	Generate() string
}

// UUIDHandles allocates time-ordered UUIDv7 handles.
type UUIDHandles struct{}

// Generate implements HandleGenerator.
func (UUIDHandles) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Options configures an API.
type Options struct {
	Handles HandleGenerator
	Logger  *slog.Logger
}

type view interface {
	applyUpdate(u *wire.Update)
}

// API is the front-end side of the bridge. It must be used from the loop
// that delivers its incoming messages.
type API struct {
	send    func(wire.Message)
	handles HandleGenerator
	logger  *slog.Logger

	views    map[string]view
	promised map[string]*loop.Promise
	pings    map[string]*loop.Promise

	broadcasts listeners[*wire.Broadcast]
}

// New creates an API that sends its commands through send.
func New(send func(wire.Message), opts Options) *API {
	if opts.Handles == nil {
		opts.Handles = UUIDHandles{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &API{
		send:     send,
		handles:  opts.Handles,
		logger:   opts.Logger.With("component", "client"),
		views:    make(map[string]view),
		promised: make(map[string]*loop.Promise),
		pings:    make(map[string]*loop.Promise),
	}
}

// ViewAccounts opens an entire-list view of all accounts.
func (a *API) ViewAccounts() *AccountsListView {
	return &AccountsListView{a.open(&wire.ViewAccounts{}, NewAccount)}
}

// ViewFolders opens an entire-list view of an account's folders.
func (a *API) ViewFolders(accountID string) *FoldersListView {
	return &FoldersListView{
		EntireListView: a.open(&wire.ViewFolders{AccountID: accountID}, NewFolder),
		accountID:      accountID,
	}
}

// ViewRawList opens an entire-list view of any registered TOC.
func (a *API) ViewRawList(namespace, name string) *EntireListView {
	return a.open(&wire.ViewRawList{Namespace: namespace, Name: name}, NewRawItem)
}

// ViewFolderConversations opens a windowed view of a folder's
// conversations.
func (a *API) ViewFolderConversations(folderID string) *WindowedListView {
	return a.openWindowed(&wire.ViewFolderConversations{FolderID: folderID}, NewConversation)
}

// ViewCalendarEvents opens a windowed view of a calendar.
func (a *API) ViewCalendarEvents(calendarID string) *WindowedListView {
	return a.openWindowed(&wire.ViewCalendarEvents{CalendarID: calendarID}, NewCalEvent)
}

func (a *API) open(cmd wire.Body, factory ItemFactory) *EntireListView {
	handle := a.handles.Generate()
	v := newEntireListView(a, handle, factory)
	a.views[handle] = v
	a.send(wire.New(handle, cmd))
	return v
}

func (a *API) openWindowed(cmd wire.Body, factory ItemFactory) *WindowedListView {
	handle := a.handles.Generate()
	v := newWindowedListView(a, handle, factory)
	a.views[handle] = v
	a.send(wire.New(handle, cmd))
	return v
}

// RefreshView asks the backend to refresh the TOC behind handle. The future
// resolves once the refresh and the resulting flush have completed.
func (a *API) RefreshView(handle string) *loop.Future {
	return a.Promise(wire.New(handle, &wire.RefreshView{}))
}

// Promise sends msg wrapped as a promised command and returns a future for
// its promisedResult.
func (a *API) Promise(msg wire.Message) *loop.Future {
	ph := a.handles.Generate()
	p := loop.NewPromise()
	a.promised[ph] = p
	a.send(wire.New(ph, &wire.Promised{Wrapped: msg}))
	return p.Future()
}

// Ping resolves when the backend answers.
func (a *API) Ping() *loop.Future {
	h := a.handles.Generate()
	p := loop.NewPromise()
	a.pings[h] = p
	a.send(wire.New(h, &wire.Ping{}))
	return p.Future()
}

// OnBroadcast registers a listener for bridge-wide notifications.
func (a *API) OnBroadcast(fn func(*wire.Broadcast)) (unsubscribe func()) {
	return a.broadcasts.add(fn)
}

// OpenViews returns the number of views not yet released.
func (a *API) OpenViews() int { return len(a.views) }

// Receive routes one message from the backend.
func (a *API) Receive(msg wire.Message) {
	switch body := msg.Body.(type) {
	case *wire.Update:
		v, ok := a.views[msg.Handle]
		if !ok {
			a.logger.Debug("update for unknown view", "handle", msg.Handle)
			return
		}
		v.applyUpdate(body)

	case *wire.ContextCleanedUp:
		a.logger.Debug("context cleaned up", "handle", msg.Handle)

	case *wire.PromisedResult:
		p, ok := a.promised[msg.Handle]
		if !ok {
			a.logger.Warn("promised result without request", "handle", msg.Handle)
			return
		}
		delete(a.promised, msg.Handle)
		if body.Error != "" {
			_ = p.Reject(errors.New(body.Error))
			return
		}
		_ = p.Resolve(body.Data)

	case *wire.Broadcast:
		a.broadcasts.emit(body)

	case *wire.Pong:
		if p, ok := a.pings[msg.Handle]; ok {
			delete(a.pings, msg.Handle)
			_ = p.Resolve(nil)
		}

	default:
		a.logger.Warn("unroutable message", "type", msg.Type, "handle", msg.Handle)
	}
}

func (a *API) releaseView(handle string) {
	delete(a.views, handle)
	a.send(wire.New(handle, &wire.CleanupContext{}))
}
