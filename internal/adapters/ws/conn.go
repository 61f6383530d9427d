// Package ws is the gorilla/websocket transport behind the realtime client.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Realm/internal/core"
	"github.com/dkeye/Realm/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

type Options struct {
	WriteTimeout     time.Duration
	PingPeriod       time.Duration
	ReadLimit        int64
	SendBuffer       int
	HandshakeTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		WriteTimeout:     5 * time.Second,
		PingPeriod:       54 * time.Second,
		ReadLimit:        32768,
		SendBuffer:       32,
		HandshakeTimeout: 10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = def.PingPeriod
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = def.ReadLimit
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = def.SendBuffer
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = def.HandshakeTimeout
	}
	return o
}

// pongWait is how long the peer may stay silent; pings go out a little sooner.
func (o Options) pongWait() time.Duration { return o.PingPeriod * 10 / 9 }

// Dialer implements core.SignalDialer.
type Dialer struct {
	opts   Options
	dialer *websocket.Dialer
}

func NewDialer(opts Options) *Dialer {
	opts = opts.withDefaults()
	return &Dialer{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}
}

func (d *Dialer) Dial(ctx context.Context, url string, onFrame func(core.Frame)) (core.SignalConnection, error) {
	ws, resp, err := d.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, dialError(ctx, resp, err)
	}
	c := newConn(ws, d.opts)
	c.logger.Info().Msg("socket open")
	go c.writePump()
	go c.readPump(onFrame)
	return c, nil
}

// Accept runs the same pumps over a socket upgraded by an HTTP handler.
func Accept(ws *websocket.Conn, opts Options, onFrame func(core.Frame)) *Conn {
	c := newConn(ws, opts.withDefaults())
	go c.writePump()
	go c.readPump(onFrame)
	return c
}

func dialError(ctx context.Context, resp *http.Response, err error) error {
	const op = "ws.dial"
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &domain.Error{
				Kind:   domain.KindPermissionDenied,
				Op:     op,
				Status: resp.StatusCode,
				Err:    errors.Wrap(domain.ErrPermissionDenied, err.Error()),
			}
		}
		return &domain.Error{Kind: domain.KindServerRejected, Op: op, Status: resp.StatusCode, Err: errors.Wrap(err, "handshake")}
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return domain.E(domain.KindTimeout, op, errors.Wrap(err, "handshake"))
	}
	return domain.E(domain.KindNetwork, op, errors.Wrap(err, "dial"))
}

// Conn is one open socket: a buffered send queue drained by writePump and a
// readPump feeding onFrame.
type Conn struct {
	ws     *websocket.Conn
	opts   Options
	send   chan core.Frame
	done   chan struct{}
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	err    error
}

func newConn(ws *websocket.Conn, opts Options) *Conn {
	logger := log.With().Str("module", "adapters.ws").Logger()
	if ws != nil {
		logger = logger.With().Str("remote", ws.RemoteAddr().String()).Logger()
	}
	return &Conn{
		ws:     ws,
		opts:   opts,
		send:   make(chan core.Frame, opts.SendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		c.logger.Warn().Int("queued", len(c.send)).Msg("send queue full")
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() { c.shutdown(nil) }

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *Conn) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = cause
	close(c.send)
	close(c.done)
	c.mu.Unlock()

	if c.ws != nil {
		_ = c.ws.Close()
	}
	if cause != nil {
		c.logger.Warn().Err(cause).Msg("socket closed")
	} else {
		c.logger.Info().Msg("socket closed")
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.shutdown(errors.Wrap(err, "set write deadline"))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.shutdown(errors.Wrap(err, "write"))
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.shutdown(errors.Wrap(err, "ping"))
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) readPump(onFrame func(core.Frame)) {
	c.ws.SetReadLimit(c.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.pongWait()))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.pongWait()))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(errors.Wrap(err, "read"))
			return
		}
		if onFrame != nil {
			onFrame(data)
		}
	}
}
