package batch

import (
	"log/slog"
	"time"

	"github.com/roach88/listbridge/internal/loop"
	"github.com/roach88/listbridge/internal/metrics"
	"github.com/roach88/listbridge/internal/wire"
)

// DefaultFlushDelay bounds how long a dirty proxy waits without urgency.
const DefaultFlushDelay = 5 * time.Second

// FlushMode is the urgency of a dirty registration.
type FlushMode int

const (
	// FlushNormal flushes within the flush delay.
	FlushNormal FlushMode = iota
	// FlushSoon flushes at the end of the current turn, before any timer.
	FlushSoon
	// FlushImmediate flushes synchronously.
	FlushImmediate
)

func (m FlushMode) String() string {
	switch m {
	case FlushSoon:
		return "soon"
	case FlushImmediate:
		return "immediate"
	default:
		return "normal"
	}
}

// Proxy is the view proxy contract the Manager relies on.
type Proxy interface {
	// Dirty reports whether the proxy has something to send.
	Dirty() bool
	// Flush swaps out the accumulated state.
	Flush() *wire.Update
	// SendUpdate delivers u to the proxy's view.
	SendUpdate(u *wire.Update)
	NeedsCoherentFlush() bool
	ClearNeedsCoherentFlush()
	TOCType() string
	ContextName() string
}

// CacheDropSource signals that the underlying cache evicted data.
type CacheDropSource interface {
	OnCacheDrop(fn func()) (unsubscribe func())
}

type scheduleKind int

const (
	scheduleIdle scheduleKind = iota
	scheduleMicrotask
	scheduleTimer
)

// schedule is the single flush slot: Idle, MicrotaskScheduled or
// TimerScheduled(timer).
type schedule struct {
	kind  scheduleKind
	timer loop.TimerID
}

// Options configures a Manager.
type Options struct {
	// FlushDelay defaults to DefaultFlushDelay.
	FlushDelay time.Duration
	// CacheDrops, if set, triggers a non-coherent flush on every signal.
	CacheDrops CacheDropSource
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Manager is the batch coordinator of one backend session. It must only be
// used from the loop goroutine.
type Manager struct {
	loop       *loop.Loop
	flushDelay time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger

	pending  []Proxy
	tracked  map[Proxy]struct{}
	schedule schedule

	unsubscribe func()
}

// New creates a Manager on l.
func New(l *loop.Loop, opts Options) *Manager {
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = DefaultFlushDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Manager{
		loop:       l,
		flushDelay: opts.FlushDelay,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With("component", "batch"),
		tracked:    make(map[Proxy]struct{}),
	}
	if opts.CacheDrops != nil {
		m.unsubscribe = opts.CacheDrops.OnCacheDrop(func() {
			l.Post(m.CacheDropped)
		})
	}
	return m
}

// FlushDelay returns the worst-case batching latency.
func (m *Manager) FlushDelay() time.Duration { return m.flushDelay }

// Close stops listening for cache drops and cancels a pending timer.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	if m.schedule.kind == scheduleTimer {
		m.loop.ClearTimeout(m.schedule.timer)
	}
	m.schedule = schedule{}
}

// Tracked reports whether p is in the pending set.
func (m *Manager) Tracked(p Proxy) bool {
	_, ok := m.tracked[p]
	return ok
}

// PendingCount returns the size of the pending set.
func (m *Manager) PendingCount() int { return len(m.pending) }

// Forget removes p from the pending set without flushing it. Called when a
// proxy is released.
func (m *Manager) Forget(p Proxy) {
	if _, ok := m.tracked[p]; !ok {
		return
	}
	m.untrack(p)
}

// RegisterDirtyView adds p to the pending set and schedules a flush
// according to mode.
func (m *Manager) RegisterDirtyView(p Proxy, mode FlushMode) {
	_, already := m.tracked[p]
	m.logger.Debug("dirtying",
		"toc", p.TOCType(),
		"context", p.ContextName(),
		"mode", mode.String(),
		"alreadyTracked", already,
	)
	if !already {
		m.tracked[p] = struct{}{}
		m.pending = append(m.pending, p)
	}

	switch mode {
	case FlushImmediate:
		m.flushPending(metrics.ReasonImmediate, false)

	case FlushSoon:
		if m.schedule.kind == scheduleMicrotask {
			return
		}
		if m.schedule.kind == scheduleTimer {
			m.loop.ClearTimeout(m.schedule.timer)
		}
		m.schedule = schedule{kind: scheduleMicrotask}
		m.loop.Microtask(func() {
			m.flushPending(metrics.ReasonSoon, false)
		})

	default:
		if m.schedule.kind != scheduleIdle {
			return
		}
		id := m.loop.SetTimeout(m.flushDelay, func() {
			m.schedule = schedule{}
			m.flushPending(metrics.ReasonTimer, false)
		})
		m.schedule = schedule{kind: scheduleTimer, timer: id}
	}
}

// FlushBecauseTaskGroupCompleted delivers a coherent snapshot to every
// tracked proxy, untracking each one whose payload is coherent.
func (m *Manager) FlushBecauseTaskGroupCompleted() {
	m.flushPending(metrics.ReasonCoherent, true)
}

// CacheDropped flushes every dirty proxy so no diff outlives the data it
// refers to.
func (m *Manager) CacheDropped() {
	m.flushPending(metrics.ReasonCacheDrop, false)
}

func (m *Manager) flushPending(reason string, coherent bool) {
	if m.schedule.kind == scheduleTimer {
		m.loop.ClearTimeout(m.schedule.timer)
	}
	m.schedule = schedule{}

	m.metrics.FlushPass(reason)
	if len(m.pending) == 0 {
		return
	}
	m.logger.Debug("flushing",
		"proxies", len(m.pending),
		"reason", reason,
		"coherent", coherent,
	)

	// Proxies dirtied by a delivery during this pass wait for the next one.
	for _, p := range append([]Proxy(nil), m.pending...) {
		if _, ok := m.tracked[p]; !ok {
			continue
		}
		if !p.Dirty() && !(coherent && p.NeedsCoherentFlush()) {
			continue
		}

		u := p.Flush()
		u.CoherentSnapshot = u.CoherentSnapshot && coherent
		p.SendUpdate(u)
		m.metrics.UpdateSent(p.TOCType(), u.CoherentSnapshot, len(u.Changes)+len(u.IDs))

		if u.CoherentSnapshot {
			p.ClearNeedsCoherentFlush()
			m.untrack(p)
		}
	}
}

func (m *Manager) untrack(p Proxy) {
	delete(m.tracked, p)
	for i, q := range m.pending {
		if q == p {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}
