package toc

// Listener observes structural changes of a List.
type Listener interface {
	OnAdd(rec *Record, index int)
	OnChange(rec *Record, index int)
	OnRemove(id string, index int)
}

// MetaListener is optionally implemented by Listeners that want meta
// dictionary changes.
type MetaListener interface {
	OnTOCMetaChange(meta map[string]any)
}

// EventListener is optionally implemented by Listeners that want broadcast
// events.
type EventListener interface {
	OnBroadcastEvent(name string, data any)
}

type subscription struct {
	id       int
	listener Listener
}
