package bridge

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/listbridge/internal/batch"
	"github.com/roach88/listbridge/internal/loop"
	"github.com/roach88/listbridge/internal/metrics"
	"github.com/roach88/listbridge/internal/overlay"
	"github.com/roach88/listbridge/internal/taskgroup"
	"github.com/roach88/listbridge/internal/toc"
	"github.com/roach88/listbridge/internal/wire"
)

// Handler processes one command. A Deferred result holds the command's
// handle until its future settles; an error is logged as a command failure.
type Handler func(req *Request) (loop.Result, error)

// Request is a command being processed.
type Request struct {
	// Msg is the command, unwrapped if it arrived promised.
	Msg    wire.Message
	Bridge *Bridge

	reply func(res *wire.PromisedResult)
}

// Handle returns the command's handle.
func (r *Request) Handle() string { return r.Msg.Handle }

// Promised reports whether the sender awaits a promisedResult.
func (r *Request) Promised() bool { return r.reply != nil }

// Reply sends the promised result. Only the first call has an effect, and
// calls on unpromised requests do nothing.
func (r *Request) Reply(data any) {
	if r.reply != nil {
		r.reply(&wire.PromisedResult{Data: data})
	}
}

// ReplyError sends a failed promised result carrying err's message.
func (r *Request) ReplyError(err error) {
	if r.reply != nil {
		r.reply(&wire.PromisedResult{Error: err.Error()})
	}
}

type command struct {
	req      *Request
	handler  Handler
	received time.Time
}

// Services are the backend collaborators handlers use.
type Services struct {
	Loop     *loop.Loop
	Batch    *batch.Manager
	Overlays *overlay.Manager
	TOCs     *toc.Registry
	Tasks    *taskgroup.Tracker
	Syncer   Syncer
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Bridge dispatches commands from one client.
type Bridge struct {
	svc      Services
	loop     *loop.Loop
	send     func(wire.Message)
	contexts *Context
	metrics  *metrics.Metrics
	logger   *slog.Logger

	handlers map[string]Handler
	promised map[string]Handler

	unsubscribe func()
}

// New creates a bridge sending to the client through send and registers
// the standard handlers.
func New(svc Services, send func(wire.Message)) *Bridge {
	if svc.Logger == nil {
		svc.Logger = slog.Default()
	}
	if svc.Overlays == nil {
		svc.Overlays = overlay.NewManager(svc.Logger)
	}
	if svc.TOCs == nil {
		svc.TOCs = toc.NewRegistry()
	}
	if svc.Tasks == nil {
		svc.Tasks = taskgroup.NewTracker(svc.Loop, svc.Logger)
	}
	if svc.Batch == nil {
		svc.Batch = batch.New(svc.Loop, batch.Options{Metrics: svc.Metrics, Logger: svc.Logger})
	}
	if svc.Syncer == nil {
		svc.Syncer = NewLoggingSyncer(svc.Loop, nil, svc.Logger)
	}

	b := &Bridge{
		svc:      svc,
		loop:     svc.Loop,
		send:     send,
		metrics:  svc.Metrics,
		logger:   svc.Logger.With("component", "bridge"),
		handlers: make(map[string]Handler),
		promised: make(map[string]Handler),
	}
	b.contexts = NewContext(send, svc.Metrics, svc.Logger)
	b.unsubscribe = svc.Tasks.OnRootCompleted(func(name string) {
		b.logger.Debug("root task group completed", "group", name)
		svc.Batch.FlushBecauseTaskGroupCompleted()
	})
	b.registerHandlers()
	return b
}

// Context returns the named context registry.
func (b *Bridge) Context() *Context { return b.contexts }

// Services returns the collaborators the bridge was built with.
func (b *Bridge) Services() Services { return b.svc }

// Handle registers h for msgType, replacing any earlier handler.
func (b *Bridge) Handle(msgType string, h Handler) {
	b.handlers[msgType] = h
}

// HandlePromised registers h for msgType arriving wrapped in a promised
// message.
func (b *Bridge) HandlePromised(msgType string, h Handler) {
	b.promised[msgType] = h
}

// Broadcast sends a named event to the client, outside of any view.
func (b *Bridge) Broadcast(name string, data any) {
	b.send(wire.New("", &wire.Broadcast{Name: name, Data: data}))
}

// Shutdown cleans up every context and detaches from the task tracker.
func (b *Bridge) Shutdown() {
	if b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
	}
	b.contexts.CleanupAll()
}

// Receive routes one message from the client.
func (b *Bridge) Receive(msg wire.Message) {
	req := &Request{Msg: msg, Bridge: b}
	handlers := b.handlers

	if p, ok := msg.Body.(*wire.Promised); ok {
		promisedHandle := msg.Handle
		replied := false
		req.Msg = p.Wrapped
		req.reply = func(res *wire.PromisedResult) {
			if replied {
				return
			}
			replied = true
			b.send(wire.New(promisedHandle, res))
		}
		handlers = b.promised
	}

	h, ok := handlers[req.Msg.Type]
	if !ok {
		err := &Error{
			Code:    ErrCodeUnroutable,
			Message: "no handler for message type",
			Type:    req.Msg.Type,
			Handle:  req.Msg.Handle,
		}
		b.logger.Warn("dropping message", "error", err)
		b.metrics.CommandDone(req.Msg.Type, metrics.ResultUnroutable, 0)
		return
	}

	cmd := &command{req: req, handler: h, received: b.loop.Clock().Now()}
	handle := req.Handle()

	if nc, ok := b.contexts.Get(handle); ok && handle != "" {
		if nc.pendingCommand != nil {
			nc.commandQueue = append(nc.commandQueue, cmd)
			b.metrics.CommandQueued()
			return
		}
		b.runOnContext(nc, cmd)
		return
	}

	res := b.process(cmd)
	if !res.IsDeferred() || handle == "" {
		return
	}
	// The command may have created the context it is addressed to; later
	// commands on the handle must wait for it.
	if nc, ok := b.contexts.Get(handle); ok {
		b.hold(nc, res.Future())
	}
}

// runOnContext processes cmd and then the context's queue until the queue
// is empty or a command goes asynchronous.
func (b *Bridge) runOnContext(nc *NamedContext, cmd *command) {
	for {
		res := b.process(cmd)
		if res.IsDeferred() {
			b.hold(nc, res.Future())
			return
		}
		if len(nc.commandQueue) == 0 {
			nc.pendingCommand = nil
			return
		}
		cmd = nc.commandQueue[0]
		nc.commandQueue[0] = nil
		nc.commandQueue = nc.commandQueue[1:]
	}
}

func (b *Bridge) hold(nc *NamedContext, f *loop.Future) {
	nc.pendingCommand = f
	b.loop.Await(f, func(any, error) {
		if len(nc.commandQueue) == 0 {
			nc.pendingCommand = nil
			return
		}
		next := nc.commandQueue[0]
		nc.commandQueue[0] = nil
		nc.commandQueue = nc.commandQueue[1:]
		b.runOnContext(nc, next)
	})
}

// process runs one handler. Panics and errors are logged as command
// failures; the result is then Immediate so the handle's queue advances.
func (b *Bridge) process(cmd *command) (res loop.Result) {
	msgType := cmd.req.Msg.Type
	handle := cmd.req.Handle()

	defer func() {
		if r := recover(); r != nil {
			b.fail(cmd, fmt.Errorf("handler panicked: %v", r))
			res = loop.Immediate(nil)
		}
	}()

	res, err := cmd.handler(cmd.req)
	if err != nil {
		b.fail(cmd, err)
		return loop.Immediate(nil)
	}
	if !res.IsDeferred() {
		b.done(cmd)
		return res
	}

	b.logger.Debug("command deferred", "type", msgType, "handle", handle)
	b.loop.Await(res.Future(), func(_ any, err error) {
		if err != nil {
			b.fail(cmd, err)
			return
		}
		b.done(cmd)
	})
	return res
}

func (b *Bridge) done(cmd *command) {
	b.metrics.CommandDone(cmd.req.Msg.Type, metrics.ResultOK, b.loop.Clock().Now().Sub(cmd.received))
}

func (b *Bridge) fail(cmd *command, err error) {
	ferr := &Error{
		Code:    ErrCodeCommandFailure,
		Message: "command failed",
		Type:    cmd.req.Msg.Type,
		Handle:  cmd.req.Handle(),
		Err:     err,
	}
	b.logger.Error("command failed", "error", ferr)
	b.metrics.CommandDone(cmd.req.Msg.Type, metrics.ResultFailed, b.loop.Clock().Now().Sub(cmd.received))
}
