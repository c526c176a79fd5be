package overlay

import (
	"log/slog"

	"github.com/roach88/listbridge/internal/wire"
)

// ProviderFunc returns the overlay value a provider contributes for id, or
// nil when it has nothing to say.
type ProviderFunc func(id string) any

// Resolver returns the current overlays for id. The result is never nil.
type Resolver func(id string) wire.Overlays

type provider struct {
	name string
	fn   ProviderFunc
}

type subscriber struct {
	id int
	fn func(id string)
}

// Manager holds the overlay providers and push subscribers of every
// namespace. It must only be used from the backend loop goroutine.
type Manager struct {
	providers map[string][]provider
	subs      map[string][]subscriber
	nextSub   int
	logger    *slog.Logger
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		providers: make(map[string][]provider),
		subs:      make(map[string][]subscriber),
		logger:    logger.With("component", "overlay"),
	}
}

// RegisterProvider adds a provider to namespace under name. The provider's
// value appears in resolved overlays under that name. Registering a name
// twice replaces the earlier provider.
func (m *Manager) RegisterProvider(namespace, name string, fn ProviderFunc) {
	ps := m.providers[namespace]
	for i, p := range ps {
		if p.name == name {
			ps[i].fn = fn
			return
		}
	}
	m.providers[namespace] = append(ps, provider{name: name, fn: fn})
}

// MakeBoundResolver returns a Resolver for namespace. Providers registered
// after the call are still consulted.
func (m *Manager) MakeBoundResolver(namespace string) Resolver {
	return func(id string) wire.Overlays {
		out := wire.Overlays{}
		for _, p := range m.providers[namespace] {
			if v := p.fn(id); v != nil {
				out[p.name] = v
			}
		}
		return out
	}
}

// Subscribe calls fn whenever an id in namespace is announced.
func (m *Manager) Subscribe(namespace string, fn func(id string)) (unsubscribe func()) {
	m.nextSub++
	sid := m.nextSub
	m.subs[namespace] = append(m.subs[namespace], subscriber{id: sid, fn: fn})
	return func() {
		subs := m.subs[namespace]
		for i, s := range subs {
			if s.id == sid {
				m.subs[namespace] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Subscribers returns the number of push subscribers of namespace.
func (m *Manager) Subscribers(namespace string) int {
	return len(m.subs[namespace])
}

// Announce tells every subscriber of namespace that id's overlays changed.
func (m *Manager) Announce(namespace, id string) {
	subs := append([]subscriber(nil), m.subs[namespace]...)
	m.logger.Debug("overlay push", "namespace", namespace, "id", id, "subscribers", len(subs))
	for _, s := range subs {
		s.fn(id)
	}
}
