package bridge

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/listbridge/internal/loop"
	"github.com/roach88/listbridge/internal/metrics"
	"github.com/roach88/listbridge/internal/toc"
	"github.com/roach88/listbridge/internal/wire"
)

// Resource is anything a named context can hold for its view.
type Resource interface {
	Acquire(owner string) *loop.Future
	Release(owner string) error
}

// Proxy is the view proxy a context keeps for seek and refresh commands.
type Proxy interface {
	Resource
	List() *toc.List
}

// Viewing describes what a context's view shows, for commands such as
// growView that need more than the TOC.
type Viewing struct {
	Type string
	ID   string
}

// Context is the registry of named contexts of one bridge. Parent and child
// links are kept as an id-indexed tree.
type Context struct {
	send    func(wire.Message)
	metrics *metrics.Metrics
	logger  *slog.Logger

	contexts map[string]*NamedContext
	children map[string][]string
	parents  map[string]string
}

// NewContext creates an empty registry. send delivers messages to the
// client.
func NewContext(send func(wire.Message), m *metrics.Metrics, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		send:     send,
		metrics:  m,
		logger:   logger.With("component", "bridge-context"),
		contexts: make(map[string]*NamedContext),
		children: make(map[string][]string),
		parents:  make(map[string]string),
	}
}

// CreateNamedContext registers a context for name. If parent is non-empty
// the new context is cleaned up whenever the parent is.
func (c *Context) CreateNamedContext(name, kind, parent string) (*NamedContext, error) {
	if name == "" {
		return nil, fmt.Errorf("bridge: named context requires a handle")
	}
	if _, exists := c.contexts[name]; exists {
		return nil, fmt.Errorf("bridge: named context %q already exists", name)
	}
	if parent != "" {
		if _, ok := c.contexts[parent]; !ok {
			return nil, &Error{Code: ErrCodeNoSuchContext, Message: "no such parent namedContext", Handle: parent}
		}
	}

	nc := &NamedContext{name: name, kind: kind, registry: c}
	c.contexts[name] = nc
	if parent != "" {
		c.parents[name] = parent
		c.children[parent] = append(c.children[parent], name)
	}
	c.metrics.ContextOpened()
	c.logger.Debug("named context created", "handle", name, "kind", kind, "parent", parent)
	return nc, nil
}

// Get returns the context for name.
func (c *Context) Get(name string) (*NamedContext, bool) {
	nc, ok := c.contexts[name]
	return nc, ok
}

// MustGet returns the context for name or a NO_SUCH_CONTEXT error.
func (c *Context) MustGet(name string) (*NamedContext, error) {
	nc, ok := c.contexts[name]
	if !ok {
		return nil, &Error{Code: ErrCodeNoSuchContext, Message: "no such namedContext", Handle: name}
	}
	return nc, nil
}

// Children returns the handles of the direct children of name.
func (c *Context) Children(name string) []string {
	return slices.Clone(c.children[name])
}

// Len returns the number of live contexts.
func (c *Context) Len() int { return len(c.contexts) }

// Cleanup cleans up the children of name, then releases its resources in
// acquisition order. Cleaning up an unknown handle is a no-op.
func (c *Context) Cleanup(name string) {
	nc, ok := c.contexts[name]
	if !ok {
		return
	}
	for _, child := range c.Children(name) {
		c.Cleanup(child)
	}

	delete(c.contexts, name)
	delete(c.children, name)
	if parent, ok := c.parents[name]; ok {
		delete(c.parents, name)
		siblings := c.children[parent]
		if i := slices.Index(siblings, name); i >= 0 {
			c.children[parent] = slices.Delete(siblings, i, i+1)
		}
	}

	nc.cleanup(c.logger)
	c.metrics.ContextClosed()
	c.logger.Debug("named context cleaned up", "handle", name, "kind", nc.kind)
}

// CleanupAll cleans up every context, parents first so children go with
// them.
func (c *Context) CleanupAll() {
	var roots []string
	for name := range c.contexts {
		if _, hasParent := c.parents[name]; !hasParent {
			roots = append(roots, name)
		}
	}
	slices.Sort(roots)
	for _, name := range roots {
		c.Cleanup(name)
	}
}

// NamedContext is the lifecycle container of one view.
type NamedContext struct {
	name     string
	kind     string
	registry *Context

	resources []Resource
	atCleanup []func()
	cleanedUp bool

	proxy   Proxy
	viewing Viewing

	pendingCommand *loop.Future
	commandQueue   []*command
}

// Name returns the handle.
func (nc *NamedContext) Name() string { return nc.name }

// Kind returns the view kind, such as "FoldersView".
func (nc *NamedContext) Kind() string { return nc.kind }

// CleanedUp reports whether the context was cleaned up.
func (nc *NamedContext) CleanedUp() bool { return nc.cleanedUp }

// Proxy returns the view proxy, or nil before the view is set up.
func (nc *NamedContext) Proxy() Proxy { return nc.proxy }

// SetProxy records the view proxy.
func (nc *NamedContext) SetProxy(p Proxy) { nc.proxy = p }

// Viewing returns what the view shows.
func (nc *NamedContext) Viewing() Viewing { return nc.viewing }

// SetViewing records what the view shows.
func (nc *NamedContext) SetViewing(v Viewing) { nc.viewing = v }

// Busy reports whether a command is in flight.
func (nc *NamedContext) Busy() bool { return nc.pendingCommand != nil }

// QueuedCommands returns the number of commands waiting behind the one in
// flight.
func (nc *NamedContext) QueuedCommands() int { return len(nc.commandQueue) }

// Acquire registers r for release at cleanup and acquires it in this
// context's name.
func (nc *NamedContext) Acquire(r Resource) *loop.Future {
	if nc.cleanedUp {
		return loop.Rejected(&Error{
			Code:    ErrCodeContextCleanedUp,
			Message: "acquire after cleanup",
			Handle:  nc.name,
		})
	}
	nc.resources = append(nc.resources, r)
	return r.Acquire(nc.name)
}

// RunAtCleanup registers fn to run after the resources are released.
func (nc *NamedContext) RunAtCleanup(fn func()) {
	nc.atCleanup = append(nc.atCleanup, fn)
}

// SendMessage sends body to the client addressed to this context's handle.
// Messages sent after cleanup are dropped.
func (nc *NamedContext) SendMessage(body wire.Body) {
	if nc.cleanedUp {
		nc.registry.logger.Debug("dropping message for cleaned up context",
			"handle", nc.name, "type", body.MessageType())
		return
	}
	nc.registry.send(wire.New(nc.name, body))
}

func (nc *NamedContext) cleanup(logger *slog.Logger) {
	nc.cleanedUp = true
	for _, r := range nc.resources {
		if err := releaseOne(r, nc.name); err != nil {
			logger.Error("release failed", "handle", nc.name, "error", err)
		}
	}
	nc.resources = nil
	for _, fn := range nc.atCleanup {
		if err := runOne(fn); err != nil {
			logger.Error("cleanup hook failed", "handle", nc.name, "error", err)
		}
	}
	nc.atCleanup = nil
	nc.proxy = nil
}

func releaseOne(r Resource, owner string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &Error{Code: ErrCodeReleaseFailure, Message: "release panicked", Handle: owner, Err: fmt.Errorf("%v", rec)}
		}
	}()
	if rerr := r.Release(owner); rerr != nil {
		return &Error{Code: ErrCodeReleaseFailure, Message: "release failed", Handle: owner, Err: rerr}
	}
	return nil
}

func runOne(fn func()) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &Error{Code: ErrCodeReleaseFailure, Message: "cleanup hook panicked", Err: fmt.Errorf("%v", rec)}
		}
	}()
	fn()
	return nil
}
