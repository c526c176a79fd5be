package toc

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/listbridge/internal/loop"
)

// Provider produces the list with the given name in its namespace. The
// future resolves with a *List.
type Provider interface {
	Get(name string) *loop.Future
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(name string) *loop.Future

// Get calls f.
func (f ProviderFunc) Get(name string) *loop.Future { return f(name) }

// Registry maps namespaces to providers.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register installs the provider for namespace, replacing any earlier one.
func (r *Registry) Register(namespace string, p Provider) {
	r.providers[namespace] = p
}

// Namespaces returns the registered namespaces, sorted.
func (r *Registry) Namespaces() []string {
	out := make([]string, 0, len(r.providers))
	for ns := range r.providers {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Get resolves with the list namespace/name. The list is not acquired;
// callers acquire it through their named context.
func (r *Registry) Get(namespace, name string) *loop.Future {
	p, ok := r.providers[namespace]
	if !ok {
		return loop.Rejected(fmt.Errorf("toc: no provider for namespace %q", namespace))
	}
	return p.Get(name)
}

// StaticProvider serves fixed record sets. Lists are created on first use
// and recreated after they are forgotten.
func StaticProvider(opts ListOptions, lists map[string][]*Record) Provider {
	live := make(map[string]*List)
	return ProviderFunc(func(name string) *loop.Future {
		if l, ok := live[name]; ok {
			return loop.Resolved(l)
		}
		records, ok := lists[name]
		if !ok {
			return loop.Rejected(fmt.Errorf("toc: no %s list named %q", opts.Type, name))
		}
		o := opts
		o.OnForgotten = func(l *List) {
			delete(live, name)
			if opts.OnForgotten != nil {
				opts.OnForgotten(l)
			}
		}
		copies := make([]*Record, len(records))
		for i, rec := range records {
			c := *rec
			copies[i] = &c
		}
		l := NewList(o, copies...)
		live[name] = l
		return loop.Resolved(l)
	})
}

// Change is one mutation reported by a Feed.
type Change struct {
	Namespace string
	Name      string
	// Record is nil for deletions.
	Record *Record
	// ID identifies the deleted record when Record is nil.
	ID string
}

// Feed is a durable source of records, such as the SQLite store.
// Implementations may be called from any goroutine.
type Feed interface {
	Load(ctx context.Context, namespace, name string) ([]*Record, error)
	// Watch calls fn for every change in namespace until unsubscribed. fn
	// may run on any goroutine.
	Watch(namespace string, fn func(Change)) (unsubscribe func())
}

// FeedOptions configures a FeedProvider.
type FeedOptions struct {
	ListOptions
	Namespace string
	// RefreshName, when set, becomes the list's refresher for each name.
	RefreshName func(name, why string) *loop.Future
	// LoadInline loads lists on the loop goroutine instead of spawning.
	// The scenario harness uses it to keep runs deterministic.
	LoadInline bool
}

// FeedProvider builds lists from a Feed and applies the feed's changes to
// live lists on the loop goroutine.
type FeedProvider struct {
	loop   *loop.Loop
	feed   Feed
	opts   FeedOptions
	logger *slog.Logger

	live    map[string]*List
	loading map[string]*loop.Future
	// pending buffers changes that arrive while a list is loading.
	pending map[string][]Change
	unwatch func()
}

// NewFeedProvider creates a provider for opts.Namespace backed by feed.
func NewFeedProvider(l *loop.Loop, feed Feed, opts FeedOptions) *FeedProvider {
	if opts.Type == "" {
		opts.Type = opts.Namespace
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedProvider{
		loop:    l,
		feed:    feed,
		opts:    opts,
		logger:  logger.With("namespace", opts.Namespace),
		live:    make(map[string]*List),
		loading: make(map[string]*loop.Future),
		pending: make(map[string][]Change),
	}
}

// Get resolves with the named list, loading it from the feed on first use.
// Concurrent requests for a list that is loading share one load.
func (p *FeedProvider) Get(name string) *loop.Future {
	if l, ok := p.live[name]; ok {
		return loop.Resolved(l)
	}
	if f, ok := p.loading[name]; ok {
		return f
	}

	p.ensureWatching()
	ns := p.opts.Namespace

	if p.opts.LoadInline {
		records, err := p.feed.Load(context.Background(), ns, name)
		if err != nil {
			p.logger.Error("list load failed", "name", name, "error", err)
			return loop.Rejected(err)
		}
		return loop.Resolved(p.build(name, records))
	}

	p.pending[name] = nil
	load := p.loop.Spawn(func() (any, error) {
		return p.feed.Load(context.Background(), ns, name)
	})
	f := p.loop.Then(load, func(v any) (any, error) {
		delete(p.loading, name)
		l := p.build(name, v.([]*Record))
		for _, c := range p.pending[name] {
			p.apply(l, c)
		}
		delete(p.pending, name)
		return l, nil
	})
	p.loop.Await(f, func(_ any, err error) {
		if err != nil {
			delete(p.loading, name)
			delete(p.pending, name)
			p.logger.Error("list load failed", "name", name, "error", err)
		}
	})
	p.loading[name] = f
	return f
}

// Live returns the number of lists currently held by at least one owner.
func (p *FeedProvider) Live() int { return len(p.live) }

// Close stops watching the feed.
func (p *FeedProvider) Close() {
	if p.unwatch != nil {
		p.unwatch()
		p.unwatch = nil
	}
}

func (p *FeedProvider) build(name string, records []*Record) *List {
	o := p.opts.ListOptions
	o.Type = p.opts.Type
	o.Logger = p.logger
	if p.opts.RefreshName != nil {
		refresh := p.opts.RefreshName
		o.Refresh = append(append([]RefreshFunc(nil), o.Refresh...), func(why string) *loop.Future {
			return refresh(name, why)
		})
	}
	o.OnForgotten = func(l *List) {
		delete(p.live, name)
		if p.opts.OnForgotten != nil {
			p.opts.OnForgotten(l)
		}
	}
	l := NewList(o, records...)
	p.live[name] = l
	p.logger.Debug("list loaded", "name", name, "count", l.Len())
	return l
}

func (p *FeedProvider) ensureWatching() {
	if p.unwatch != nil {
		return
	}
	p.unwatch = p.feed.Watch(p.opts.Namespace, func(c Change) {
		p.loop.Post(func() { p.route(c) })
	})
}

func (p *FeedProvider) route(c Change) {
	if l, ok := p.live[c.Name]; ok {
		p.apply(l, c)
		return
	}
	if buf, ok := p.pending[c.Name]; ok {
		p.pending[c.Name] = append(buf, c)
	}
}

func (p *FeedProvider) apply(l *List, c Change) {
	if c.Record == nil {
		l.Remove(c.ID)
		return
	}
	l.Upsert(c.Record)
}
