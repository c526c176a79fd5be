// Package ws carries wire messages over a websocket, one bridge session per
// connection.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/listbridge/internal/transport"
	"github.com/roach88/listbridge/internal/wire"
)

const (
	writeWait  = 10 * time.Second
	closeGrace = time.Second
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("ws: connection closed")

// Conn is a message-oriented websocket connection. Send is safe from any
// goroutine; ReadLoop must run on exactly one.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

func newConn(c *websocket.Conn, logger *slog.Logger) *Conn {
	return &Conn{ws: c, logger: logger}
}

// Dial connects to a listbridge server.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c, res, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	_ = res.Body.Close()
	return newConn(c, logger.With("component", "ws", "peer", url)), nil
}

// Send writes msg as one text frame.
func (c *Conn) Send(msg wire.Message) error {
	b, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

// SendFunc returns a send function that logs failures instead of
// returning them, for components that take a func(wire.Message).
func (c *Conn) SendFunc() func(wire.Message) {
	return func(msg wire.Message) {
		if err := c.Send(msg); err != nil && !errors.Is(err, ErrClosed) {
			c.logger.Warn("send failed", "type", msg.Type, "handle", msg.Handle, "error", err)
		}
	}
}

// ReadLoop decodes incoming frames and hands them to r until the
// connection closes. Frames that do not decode are logged and skipped.
func (c *Conn) ReadLoop(r transport.Receiver) error {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}
		msg, err := wire.Decode(data)
		if err != nil {
			c.logger.Warn("undecodable frame", "error", err)
			continue
		}
		r.Receive(msg)
	}
}

// Close sends a close frame and closes the connection. Closing twice is a
// no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	err := c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGrace))
	c.mu.Unlock()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debug("close frame not sent", "error", err)
	}
	return c.ws.Close()
}

// Session is what a server runs for one connection.
type Session interface {
	transport.Receiver
	// Close ends the session after its connection is gone.
	Close()
}

// OpenFunc starts a session that replies through send.
type OpenFunc func(send func(wire.Message)) (Session, error)

// Server upgrades HTTP requests and runs one session per connection.
type Server struct {
	open     OpenFunc
	upgrader websocket.Upgrader
	logger   *slog.Logger

	wg    sync.WaitGroup
	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// NewServer creates a server whose sessions are built by open.
func NewServer(open OpenFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		open: open,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger.With("component", "ws"),
		conns:  make(map[*Conn]struct{}),
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()

	conn := newConn(c, s.logger.With("remote", r.RemoteAddr))
	s.track(conn)
	defer s.untrack(conn)
	defer conn.Close()

	sess, err := s.open(conn.SendFunc())
	if err != nil {
		s.logger.Error("session not opened", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer sess.Close()

	s.logger.Info("session opened", "remote", r.RemoteAddr)
	if err := conn.ReadLoop(sess); err != nil {
		s.logger.Debug("connection ended", "remote", r.RemoteAddr, "error", err)
	}
	s.logger.Info("session closed", "remote", r.RemoteAddr)
}

func (s *Server) track(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

// CloseAll closes every open connection, which ends their sessions.
// http.Server.Shutdown does not reach upgraded connections.
func (s *Server) CloseAll() {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// Wait blocks until every session has ended.
func (s *Server) Wait() {
	s.wg.Wait()
}
