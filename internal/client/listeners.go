package client

// listeners is a list of callbacks for one event kind.
type listeners[T any] struct {
	next int
	fns  []listener[T]
}

type listener[T any] struct {
	id int
	fn func(T)
}

func (l *listeners[T]) add(fn func(T)) (unsubscribe func()) {
	l.next++
	id := l.next
	l.fns = append(l.fns, listener[T]{id: id, fn: fn})
	return func() {
		for i, e := range l.fns {
			if e.id == id {
				l.fns = append(l.fns[:i:i], l.fns[i+1:]...)
				return
			}
		}
	}
}

func (l *listeners[T]) emit(v T) {
	for _, e := range append([]listener[T](nil), l.fns...) {
		e.fn(v)
	}
}

func (l *listeners[T]) len() int { return len(l.fns) }

func (l *listeners[T]) reset() { l.fns = nil }
