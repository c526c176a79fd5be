package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/listbridge/internal/bridge"
	"github.com/roach88/listbridge/internal/client"
	"github.com/roach88/listbridge/internal/loop"
	"github.com/roach88/listbridge/internal/toc"
	"github.com/roach88/listbridge/internal/wire"
)

func accountsRegistry() *toc.Registry {
	tocs := toc.NewRegistry()
	tocs.Register(bridge.NamespaceAccounts, toc.StaticProvider(toc.ListOptions{Type: bridge.NamespaceAccounts}, map[string][]*toc.Record{
		"": {
			{ID: "acct1", Key: "1", Data: json.RawMessage(`{"id":"acct1","name":"Work","enabled":true}`)},
		},
	}))
	return tocs
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	tocs := accountsRegistry()
	srv := NewServer(func(send func(wire.Message)) (Session, error) {
		l := loop.New()
		b := bridge.New(bridge.Services{Loop: l, TOCs: tocs}, send)
		return NewLoopSession(l, b, b.Shutdown), nil
	}, nil)
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)
	return srv, "ws" + strings.TrimPrefix(hs.URL, "http")
}

func TestServer_RoundTrip(t *testing.T) {
	_, url := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, url, nil)
	require.NoError(t, err)

	front := loop.New()
	api := client.New(conn.SendFunc(), client.Options{})
	sess := NewLoopSession(front, api, nil)
	defer sess.Close()
	go func() { _ = conn.ReadLoop(sess) }()

	var accounts *client.AccountsListView
	var ping *loop.Future
	sess.Do(func() {
		accounts = api.ViewAccounts()
		ping = api.Ping()
	})

	_, err = ping.Wait(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var n int
		sess.Do(func() { n = accounts.Len() })
		return n == 1
	}, 5*time.Second, 10*time.Millisecond)

	var name string
	sess.Do(func() { name = accounts.AccountByID("acct1").Name })
	assert.Equal(t, "Work", name)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Send(wire.New("", &wire.Ping{})), ErrClosed)
}

func TestServer_SkipsUndecodableFrames(t *testing.T) {
	_, url := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.ws.WriteMessage(websocket.TextMessage, []byte(`{"nope":`)))
	require.NoError(t, conn.Send(wire.New("p1", &wire.Ping{})))

	_, data, err := conn.ws.ReadMessage()
	require.NoError(t, err)
	msg, err := wire.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, wire.TypePong, msg.Type)
	assert.Equal(t, "p1", msg.Handle)
}

func TestDial_Fails(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/none", nil)
	assert.Error(t, err)
}

func TestServer_CloseAllEndsSessions(t *testing.T) {
	srv, url := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// A pong proves the session is up.
	require.NoError(t, conn.Send(wire.New("p1", &wire.Ping{})))
	_, _, err = conn.ws.ReadMessage()
	require.NoError(t, err)

	srv.CloseAll()
	srv.Wait()

	_, _, err = conn.ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
