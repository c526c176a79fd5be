// Package taskgroup tracks groups of asynchronous work. When a root group
// and all of its descendants have settled, the tracker announces it; the
// bridge uses that signal to deliver coherent snapshots.
package taskgroup

import (
	"log/slog"

	"github.com/roach88/listbridge/internal/loop"
)

// Tracker owns the task groups of one backend session. It must only be used
// from the loop goroutine.
type Tracker struct {
	loop   *loop.Loop
	logger *slog.Logger

	live    int
	subs    []rootSub
	nextSub int
}

type rootSub struct {
	id int
	fn func(name string)
}

// Group counts outstanding work: tracked futures plus incomplete child
// groups.
type Group struct {
	tracker     *Tracker
	name        string
	parent      *Group
	outstanding int
	done        bool
}

// NewTracker creates a tracker on l.
func NewTracker(l *loop.Loop, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{loop: l, logger: logger.With("component", "taskgroup")}
}

// OnRootCompleted calls fn with the name of every root group that completes.
func (t *Tracker) OnRootCompleted(fn func(name string)) (unsubscribe func()) {
	t.nextSub++
	id := t.nextSub
	t.subs = append(t.subs, rootSub{id: id, fn: fn})
	return func() {
		for i, s := range t.subs {
			if s.id == id {
				t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
				return
			}
		}
	}
}

// Live returns the number of groups that have not completed.
func (t *Tracker) Live() int { return t.live }

// Root starts a top-level group. It completes once everything tracked in it
// settles; a group that never tracks anything never completes.
func (t *Tracker) Root(name string) *Group {
	t.live++
	t.logger.Debug("group started", "group", name)
	return &Group{tracker: t, name: name}
}

// Child starts a group whose completion the parent waits for.
func (g *Group) Child(name string) *Group {
	c := g.tracker.Root(name)
	c.parent = g
	g.outstanding++
	return c
}

// Name returns the group's name.
func (g *Group) Name() string { return g.name }

// Done reports whether the group completed.
func (g *Group) Done() bool { return g.done }

// Track adds f to the group. Failures count as settled.
func (g *Group) Track(f *loop.Future) *loop.Future {
	if g.done {
		g.tracker.logger.Warn("task tracked on completed group", "group", g.name)
		return f
	}
	g.outstanding++
	g.tracker.loop.Await(f, func(_ any, err error) {
		if err != nil {
			g.tracker.logger.Debug("task failed", "group", g.name, "error", err)
		}
		g.settleOne()
	})
	return f
}

func (g *Group) settleOne() {
	g.outstanding--
	if g.outstanding > 0 || g.done {
		return
	}
	g.done = true
	t := g.tracker
	t.live--
	t.logger.Debug("group completed", "group", g.name, "root", g.parent == nil)

	if g.parent != nil {
		g.parent.settleOne()
		return
	}
	for _, s := range append([]rootSub(nil), t.subs...) {
		s.fn(g.name)
	}
}
