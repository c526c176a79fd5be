package store

import (
	"context"
	"fmt"

	"github.com/roach88/listbridge/internal/toc"
)

// Watch calls fn for every write to namespace until unsubscribed. fn runs
// on the writing goroutine, after the commit.
func (s *Store) Watch(namespace string, fn func(toc.Change)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextWatch++
	id := s.nextWatch
	if s.watchers[namespace] == nil {
		s.watchers[namespace] = make(map[int]func(toc.Change))
	}
	s.watchers[namespace][id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers[namespace], id)
	}
}

func (s *Store) notify(c toc.Change) {
	s.mu.Lock()
	fns := make([]func(toc.Change), 0, len(s.watchers[c.Namespace]))
	for _, fn := range s.watchers[c.Namespace] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// OnCacheDrop calls fn whenever DropCache runs. It implements
// batch.CacheDropSource.
func (s *Store) OnCacheDrop(fn func()) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextDrop++
	id := s.nextDrop
	s.drops[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.drops, id)
	}
}

// DropCache releases SQLite's page cache and tells listeners that cached
// reads may be stale.
func (s *Store) DropCache(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA shrink_memory"); err != nil {
		return fmt.Errorf("drop cache: %w", err)
	}
	s.logger.Debug("cache dropped")

	s.mu.Lock()
	fns := make([]func(), 0, len(s.drops))
	for _, fn := range s.drops {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return nil
}
