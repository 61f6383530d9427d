package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Realm/internal/core"
	"github.com/dkeye/Realm/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

type server struct {
	*httptest.Server
	conns chan *websocket.Conn
	token chan string
}

// newServer echoes every text frame and exposes each accepted socket.
func newServer(t *testing.T) *server {
	t.Helper()
	s := &server{conns: make(chan *websocket.Conn, 4), token: make(chan string, 4)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := r.URL.Query().Get("token")
		if tok == "bad" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		s.token <- tok
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- ws
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *server) url(token string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?token=" + token
}

func TestDialEchoesFrames(t *testing.T) {
	s := newServer(t)
	frames := make(chan core.Frame, 4)

	conn, err := NewDialer(Options{}).Dial(context.Background(), s.url("abc"), func(f core.Frame) { frames <- f })
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "abc", <-s.token)

	require.NoError(t, conn.TrySend(core.Frame(`{"type":"PING"}`)))
	select {
	case f := <-frames:
		assert.JSONEq(t, `{"type":"PING"}`, string(f))
	case <-time.After(2 * time.Second):
		t.Fatal("no echo")
	}
}

func TestLocalCloseHasNoCause(t *testing.T) {
	s := newServer(t)
	conn, err := NewDialer(Options{}).Dial(context.Background(), s.url("abc"), nil)
	require.NoError(t, err)

	conn.Close()
	<-conn.Done()
	assert.NoError(t, conn.Err())
	assert.ErrorIs(t, conn.TrySend(core.Frame("x")), ErrClosed)
	conn.Close()
}

func TestRemoteCloseReportsCause(t *testing.T) {
	s := newServer(t)
	conn, err := NewDialer(Options{}).Dial(context.Background(), s.url("abc"), nil)
	require.NoError(t, err)

	srv := <-s.conns
	require.NoError(t, srv.Close())

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("drop not noticed")
	}
	assert.Error(t, conn.Err())
}

func TestDialRejectedToken(t *testing.T) {
	s := newServer(t)
	_, err := NewDialer(Options{}).Dial(context.Background(), s.url("bad"), nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindPermissionDenied, domain.KindOf(err))
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusUnauthorized, de.Status)
}

func TestDialUnreachable(t *testing.T) {
	s := newServer(t)
	u := s.url("abc")
	s.Close()

	_, err := NewDialer(Options{}).Dial(context.Background(), u, nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindNetwork, domain.KindOf(err))
}

func TestTrySendBackpressure(t *testing.T) {
	c := newConn(nil, Options{SendBuffer: 1})
	require.NoError(t, c.TrySend(core.Frame("a")))
	assert.ErrorIs(t, c.TrySend(core.Frame("b")), ErrBackpressure)
	c.Close()
	assert.ErrorIs(t, c.TrySend(core.Frame("c")), ErrClosed)
}
