// Package transport carries wire messages between the backend bridge and
// the front-end API.
package transport

import (
	"log/slog"
	"sync"

	"github.com/roach88/listbridge/internal/loop"
	"github.com/roach88/listbridge/internal/wire"
)

// Receiver consumes messages delivered to one side.
type Receiver interface {
	Receive(msg wire.Message)
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(msg wire.Message)

// Receive implements Receiver.
func (f ReceiverFunc) Receive(msg wire.Message) { f(msg) }

// End is one side of a Pipe. Messages sent from an End are copied through
// the JSON codec and delivered on the peer's loop.
type End struct {
	name   string
	loop   *loop.Loop
	peer   *End
	logger *slog.Logger

	mu   sync.Mutex
	recv Receiver
}

// Pipe connects two loops. Attach a receiver to each end before sending.
func Pipe(a, b *loop.Loop, logger *slog.Logger) (*End, *End) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "transport")
	ea := &End{name: "a", loop: a, logger: logger}
	eb := &End{name: "b", loop: b, logger: logger}
	ea.peer, eb.peer = eb, ea
	return ea, eb
}

// Attach sets the receiver for messages arriving at this end.
func (e *End) Attach(r Receiver) {
	e.mu.Lock()
	e.recv = r
	e.mu.Unlock()
}

// Send delivers msg to the peer. It never shares memory with the peer:
// a message that does not survive encoding is dropped and logged.
func (e *End) Send(msg wire.Message) {
	c, err := wire.Clone(msg)
	if err != nil {
		e.logger.Error("message dropped", "type", msg.Type, "handle", msg.Handle, "error", err)
		return
	}
	peer := e.peer
	if !peer.loop.Post(func() { peer.deliver(c) }) {
		e.logger.Debug("peer loop stopped", "type", msg.Type, "handle", msg.Handle)
	}
}

func (e *End) deliver(msg wire.Message) {
	e.mu.Lock()
	r := e.recv
	e.mu.Unlock()
	if r == nil {
		e.logger.Warn("no receiver attached", "end", e.name, "type", msg.Type)
		return
	}
	r.Receive(msg)
}
