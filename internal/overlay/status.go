package overlay

import "reflect"

// StatusBoard is an overlay provider backed by a map of id to status value.
// Setting a status announces the id.
type StatusBoard struct {
	m         *Manager
	namespace string
	status    map[string]any
}

// NewStatusBoard creates a board and registers it with m as provider name
// in namespace.
func NewStatusBoard(m *Manager, namespace, name string) *StatusBoard {
	b := &StatusBoard{m: m, namespace: namespace, status: make(map[string]any)}
	m.RegisterProvider(namespace, name, b.Get)
	return b
}

// Get returns the status of id, or nil.
func (b *StatusBoard) Get(id string) any {
	return b.status[id]
}

// Set records the status of id; nil clears it. Unchanged values are not
// announced.
func (b *StatusBoard) Set(id string, v any) {
	old, ok := b.status[id]
	switch {
	case v == nil && !ok:
		return
	case v == nil:
		delete(b.status, id)
	case ok && reflect.DeepEqual(old, v):
		return
	default:
		b.status[id] = v
	}
	b.m.Announce(b.namespace, id)
}
