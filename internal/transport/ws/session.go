package ws

import (
	"context"

	"github.com/roach88/listbridge/internal/loop"
	"github.com/roach88/listbridge/internal/transport"
	"github.com/roach88/listbridge/internal/wire"
)

// LoopSession runs a receiver on its own loop. Messages are posted to the
// loop, so the receiver only ever runs on the loop goroutine.
type LoopSession struct {
	loop    *loop.Loop
	recv    transport.Receiver
	onClose func()
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewLoopSession starts l and delivers received messages to r on it.
// onClose, if set, runs on the loop when the session closes.
func NewLoopSession(l *loop.Loop, r transport.Receiver, onClose func()) *LoopSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &LoopSession{loop: l, recv: r, onClose: onClose, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		_ = l.Run(ctx)
	}()
	return s
}

// Receive implements transport.Receiver.
func (s *LoopSession) Receive(msg wire.Message) {
	s.loop.Post(func() { s.recv.Receive(msg) })
}

// Do runs fn on the session's loop and waits for it.
func (s *LoopSession) Do(fn func()) {
	ran := make(chan struct{})
	if !s.loop.Post(func() {
		defer close(ran)
		fn()
	}) {
		return
	}
	select {
	case <-ran:
	case <-s.done:
	}
}

// Close runs onClose on the loop, drains the loop and stops it.
func (s *LoopSession) Close() {
	if s.onClose != nil {
		s.loop.Post(s.onClose)
	}
	s.loop.Stop()
	<-s.done
	s.cancel()
}
