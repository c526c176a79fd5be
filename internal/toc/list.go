package toc

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"sort"

	"github.com/roach88/listbridge/internal/loop"
)

// ErrAlreadyAcquired is returned when an owner acquires a list it already
// holds.
var ErrAlreadyAcquired = errors.New("toc: owner already holds a reference")

// ErrNotAcquired is returned when an owner releases a list it does not hold.
var ErrNotAcquired = errors.New("toc: owner holds no reference")

// RefreshFunc asks an external data source to bring a list up to date. The
// future resolves once the refresh is complete.
type RefreshFunc func(why string) *loop.Future

// ListOptions configures a List.
type ListOptions struct {
	// Type names the collection kind ("accounts", "folders", ...).
	Type string
	// OverlayNamespace selects the overlay resolvers consulted for items.
	// Defaults to Type.
	OverlayNamespace string
	// Compare orders records. Defaults to ByKey.
	Compare Comparator
	// Refresh is run by List.Refresh.
	Refresh []RefreshFunc
	// OnForgotten runs once the last owner releases the list.
	OnForgotten func(*List)
	Logger      *slog.Logger
}

// List is an ordered, reference counted collection of Records.
type List struct {
	typ       string
	overlayNS string
	cmp       Comparator
	refresh   []RefreshFunc
	forgotten func(*List)
	logger    *slog.Logger

	items []*Record
	byID  map[string]*Record
	meta  map[string]any

	subs    []subscription
	nextSub int

	owners []string
}

// NewList creates a list holding records, sorted with opts.Compare.
func NewList(opts ListOptions, records ...*Record) *List {
	if opts.Compare == nil {
		opts.Compare = ByKey
	}
	if opts.OverlayNamespace == "" {
		opts.OverlayNamespace = opts.Type
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	l := &List{
		typ:       opts.Type,
		overlayNS: opts.OverlayNamespace,
		cmp:       opts.Compare,
		refresh:   opts.Refresh,
		forgotten: opts.OnForgotten,
		logger:    opts.Logger.With("toc", opts.Type),
		byID:      make(map[string]*Record, len(records)),
		meta:      make(map[string]any),
	}
	for _, rec := range records {
		if _, dup := l.byID[rec.ID]; dup {
			l.logger.Warn("duplicate record id ignored", "id", rec.ID)
			continue
		}
		l.byID[rec.ID] = rec
		l.items = append(l.items, rec)
	}
	sort.SliceStable(l.items, func(i, j int) bool {
		return l.cmp(l.items[i], l.items[j]) < 0
	})
	return l
}

// Type returns the collection kind.
func (l *List) Type() string { return l.typ }

// OverlayNamespace returns the namespace used to resolve overlays.
func (l *List) OverlayNamespace() string { return l.overlayNS }

// Len returns the number of records.
func (l *List) Len() int { return len(l.items) }

// Items returns a copy of the ordered records.
func (l *List) Items() []*Record {
	out := make([]*Record, len(l.items))
	copy(out, l.items)
	return out
}

// At returns the record at index, or nil when out of range.
func (l *List) At(index int) *Record {
	if index < 0 || index >= len(l.items) {
		return nil
	}
	return l.items[index]
}

// Get returns the record with id.
func (l *List) Get(id string) (*Record, bool) {
	rec, ok := l.byID[id]
	return rec, ok
}

// Has reports whether id is present.
func (l *List) Has(id string) bool {
	_, ok := l.byID[id]
	return ok
}

// IndexOf returns the index of id, or -1.
func (l *List) IndexOf(id string) int {
	rec, ok := l.byID[id]
	if !ok {
		return -1
	}
	// Binary search lands on the record because ids break ties; fall back
	// to a scan for comparators that do not.
	i := sort.Search(len(l.items), func(i int) bool {
		return l.cmp(l.items[i], rec) >= 0
	})
	if i < len(l.items) && l.items[i].ID == id {
		return i
	}
	for i, r := range l.items {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// TotalHeight is the sum of all effective record heights.
func (l *List) TotalHeight() int {
	return l.HeightBefore(len(l.items))
}

// HeightBefore is the sum of the effective heights of items [0, index).
func (l *List) HeightBefore(index int) int {
	if index > len(l.items) {
		index = len(l.items)
	}
	h := 0
	for _, rec := range l.items[:max(index, 0)] {
		h += rec.EffectiveHeight()
	}
	return h
}

// IndexAtHeight returns the index of the record covering height offset h.
// Offsets past the end clamp to the last record; an empty list returns 0.
func (l *List) IndexAtHeight(h int) int {
	if h <= 0 || len(l.items) == 0 {
		return 0
	}
	acc := 0
	for i, rec := range l.items {
		acc += rec.EffectiveHeight()
		if h < acc {
			return i
		}
	}
	return len(l.items) - 1
}

// Meta returns a copy of the meta dictionary.
func (l *List) Meta() map[string]any {
	return maps.Clone(l.meta)
}

// Subscribe registers a listener. The returned function unsubscribes it.
func (l *List) Subscribe(listener Listener) (unsubscribe func()) {
	l.nextSub++
	id := l.nextSub
	l.subs = append(l.subs, subscription{id: id, listener: listener})
	return func() {
		for i, s := range l.subs {
			if s.id == id {
				l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
				return
			}
		}
	}
}

// Listeners returns the number of subscribed listeners.
func (l *List) Listeners() int { return len(l.subs) }

// Upsert adds rec, or replaces the record with the same id. A replacement
// that keeps its position is reported as a change; one that moves is
// reported as a remove followed by an add.
func (l *List) Upsert(rec *Record) {
	if _, ok := l.byID[rec.ID]; !ok {
		l.insert(rec)
		return
	}

	idx := l.IndexOf(rec.ID)
	if l.fitsAt(rec, idx) {
		l.items[idx] = rec
		l.byID[rec.ID] = rec
		l.emitChange(rec, idx)
		return
	}

	l.removeAt(idx)
	l.insert(rec)
}

// Remove deletes the record with id. It reports whether it was present.
func (l *List) Remove(id string) bool {
	idx := l.IndexOf(id)
	if idx < 0 {
		return false
	}
	l.removeAt(idx)
	return true
}

// ApplyMetaChanges merges changes into the meta dictionary; a nil value
// deletes a key. Listeners are told only if something actually changed.
func (l *List) ApplyMetaChanges(changes map[string]any) {
	changed := false
	for k, v := range changes {
		old, present := l.meta[k]
		switch {
		case v == nil && present:
			delete(l.meta, k)
			changed = true
		case v != nil && (!present || !reflect.DeepEqual(old, v)):
			l.meta[k] = v
			changed = true
		}
	}
	if !changed {
		return
	}
	for _, s := range l.snapshotSubs() {
		if ml, ok := s.listener.(MetaListener); ok {
			ml.OnTOCMetaChange(l.Meta())
		}
	}
}

// BroadcastEvent forwards a named event to every EventListener.
func (l *List) BroadcastEvent(name string, data any) {
	for _, s := range l.snapshotSubs() {
		if el, ok := s.listener.(EventListener); ok {
			el.OnBroadcastEvent(name, data)
		}
	}
}

// Refresh runs every configured RefreshFunc and resolves when all of them
// have. A list without refreshers resolves immediately.
func (l *List) Refresh(why string) *loop.Future {
	l.logger.Debug("refresh requested", "why", why)
	fs := make([]*loop.Future, 0, len(l.refresh))
	for _, fn := range l.refresh {
		fs = append(fs, fn(why))
	}
	return loop.All(fs...)
}

// Acquire adds owner as a holder and resolves with the list.
func (l *List) Acquire(owner string) *loop.Future {
	for _, o := range l.owners {
		if o == owner {
			return loop.Rejected(fmt.Errorf("%w: %s", ErrAlreadyAcquired, owner))
		}
	}
	l.owners = append(l.owners, owner)
	return loop.Resolved(l)
}

// Release drops owner's reference. Releasing the last reference forgets
// the list.
func (l *List) Release(owner string) error {
	for i, o := range l.owners {
		if o != owner {
			continue
		}
		l.owners = append(l.owners[:i], l.owners[i+1:]...)
		if len(l.owners) == 0 && l.forgotten != nil {
			l.logger.Debug("last reference released")
			l.forgotten(l)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotAcquired, owner)
}

// Owners returns the current holders in acquisition order.
func (l *List) Owners() []string {
	out := make([]string, len(l.owners))
	copy(out, l.owners)
	return out
}

func (l *List) fitsAt(rec *Record, idx int) bool {
	if idx > 0 && l.cmp(l.items[idx-1], rec) > 0 {
		return false
	}
	if idx < len(l.items)-1 && l.cmp(rec, l.items[idx+1]) > 0 {
		return false
	}
	return true
}

func (l *List) insert(rec *Record) {
	idx := sort.Search(len(l.items), func(i int) bool {
		return l.cmp(l.items[i], rec) > 0
	})
	l.items = append(l.items, nil)
	copy(l.items[idx+1:], l.items[idx:])
	l.items[idx] = rec
	l.byID[rec.ID] = rec
	for _, s := range l.snapshotSubs() {
		s.listener.OnAdd(rec, idx)
	}
}

func (l *List) removeAt(idx int) {
	rec := l.items[idx]
	l.items = append(l.items[:idx], l.items[idx+1:]...)
	delete(l.byID, rec.ID)
	for _, s := range l.snapshotSubs() {
		s.listener.OnRemove(rec.ID, idx)
	}
}

func (l *List) emitChange(rec *Record, idx int) {
	for _, s := range l.snapshotSubs() {
		s.listener.OnChange(rec, idx)
	}
}

// snapshotSubs lets listeners unsubscribe while being notified.
func (l *List) snapshotSubs() []subscription {
	out := make([]subscription, len(l.subs))
	copy(out, l.subs)
	return out
}
