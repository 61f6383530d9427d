// Package realtime owns the single gateway connection: its lifecycle,
// reconnection, subscription replay and the typed send/receive surface.
package realtime

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/Realm/internal/app/fanout"
	"github.com/dkeye/Realm/internal/core"
	"github.com/dkeye/Realm/internal/domain"
	"github.com/dkeye/Realm/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DefaultTypingInterval = 3 * time.Second
	DefaultDialTimeout    = 10 * time.Second
)

type Options struct {
	// URL is the gateway endpoint without the token, e.g. ws://host/ws.
	URL    string
	Token  string
	Dialer core.SignalDialer

	Backoff        Backoff
	Scheduler      Scheduler
	Now            func() time.Time
	DialTimeout    time.Duration
	TypingInterval time.Duration
	EventBuffer    int
	Policy         fanout.Policy
}

type Client struct {
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	state   protocol.ConnState
	conn    core.SignalConnection
	attempt int
	timer   Timer
	// gen changes on every dial and on Disconnect so callbacks from a
	// previous connection can recognise themselves as stale.
	gen uint64

	subs   *Registry
	events *fanout.Hub[protocol.Event]

	typingMu sync.Mutex
	typing   map[domain.ChannelID]*rate.Limiter
}

func NewClient(opts Options) *Client {
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff
	}
	if opts.Scheduler == nil {
		opts.Scheduler = clockScheduler{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.TypingInterval <= 0 {
		opts.TypingInterval = DefaultTypingInterval
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = fanout.DefaultBuffer
	}
	return &Client{
		opts:   opts,
		logger: log.With().Str("module", "app.realtime").Logger(),
		state:  protocol.StateIdle,
		subs:   NewRegistry(),
		events: fanout.NewHub[protocol.Event](opts.Policy),
		typing: make(map[domain.ChannelID]*rate.Limiter),
	}
}

func (c *Client) State() protocol.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

func (c *Client) Subscriptions() *Registry { return c.subs }

// Subscribe opens a typed event stream. Close the returned subscription to stop.
func (c *Client) Subscribe(opts ...fanout.Option[protocol.Event]) *fanout.Subscription[protocol.Event] {
	all := append([]fanout.Option[protocol.Event]{fanout.WithBuffer[protocol.Event](c.opts.EventBuffer)}, opts...)
	return c.events.Subscribe(all...)
}

// Connect opens the socket. It is a no-op while already connecting or open.
// A failed first dial is retried with backoff like any later drop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == protocol.StateOpen || c.state == protocol.StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.stopTimerLocked()
	c.attempt = 0
	gen := c.beginDialLocked()
	c.mu.Unlock()

	c.publishState(protocol.StateConnecting, 0, nil)
	return c.dial(ctx, gen)
}

// Disconnect cancels any pending retry and closes the socket. The client
// stays idle until the next Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.stopTimerLocked()
	c.gen++
	conn := c.conn
	c.conn = nil
	prev := c.state
	c.state = protocol.StateIdle
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if prev != protocol.StateIdle {
		c.logger.Info().Msg("disconnected")
		c.publishState(protocol.StateIdle, 0, nil)
	}
}

// Close disconnects and ends every event stream.
func (c *Client) Close() {
	c.Disconnect()
	c.events.Close()
}

func (c *Client) beginDialLocked() uint64 {
	c.gen++
	c.state = protocol.StateConnecting
	return c.gen
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", &domain.Error{Kind: domain.KindInvalid, Op: "realtime.url", Err: err}
	}
	q := u.Query()
	q.Set("token", c.opts.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) dial(ctx context.Context, gen uint64) error {
	target, err := c.dialURL()
	if err != nil {
		c.mu.Lock()
		if gen == c.gen {
			c.state = protocol.StateOffline
		}
		c.mu.Unlock()
		c.publishState(protocol.StateOffline, 0, err)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()
	conn, err := c.opts.Dialer.Dial(ctx, target, func(f core.Frame) { c.onFrame(gen, f) })

	c.mu.Lock()
	if gen != c.gen {
		// Disconnect or another dial won the race.
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return domain.E(domain.KindNotConnected, "realtime.dial", domain.ErrNotConnected)
	}
	if err != nil {
		c.logger.Warn().Err(err).Int("attempt", c.attempt).Msg("dial failed")
		ev := c.handleDropLocked(gen, err)
		c.mu.Unlock()
		c.events.Publish(context.Background(), ev)
		return domain.E(domain.KindNetwork, "realtime.dial", err)
	}

	c.conn = conn
	c.state = protocol.StateOpen
	c.attempt = 0
	replayed := c.replayLocked(conn)
	c.mu.Unlock()

	c.logger.Info().Int("replayed", replayed).Msg("connected")
	c.publishState(protocol.StateOpen, 0, nil)
	go c.watch(gen, conn)
	return nil
}

// replayLocked sends one join per remembered realm and channel, realms first.
func (c *Client) replayLocked(conn core.SignalConnection) int {
	n := 0
	for _, id := range c.subs.Realms() {
		if c.writeLocked(conn, protocol.OutboundEnvelope{Type: protocol.TypeJoinRealm, RealmID: id}) == nil {
			n++
		}
	}
	for _, id := range c.subs.Channels() {
		if c.writeLocked(conn, protocol.OutboundEnvelope{Type: protocol.TypeJoinChannel, ChannelID: id}) == nil {
			n++
		}
	}
	return n
}

func (c *Client) watch(gen uint64, conn core.SignalConnection) {
	<-conn.Done()
	cause := conn.Err()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.logger.Warn().Err(cause).Msg("connection lost")
	ev := c.handleDropLocked(gen, cause)
	c.mu.Unlock()

	c.events.Publish(context.Background(), ev)
}

// handleDropLocked either schedules the next attempt or gives up.
func (c *Client) handleDropLocked(gen uint64, cause error) protocol.Event {
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	if !c.opts.Backoff.Retry(c.attempt) {
		c.state = protocol.StateOffline
		c.logger.Error().Int("attempts", c.attempt).Msg("reconnect attempts exhausted, offline")
		return protocol.ConnectionStateChanged{
			Meta:    protocol.Meta{Timestamp: c.opts.Now()},
			State:   protocol.StateOffline,
			Attempt: c.attempt,
			Err:     domain.ErrConnectivityLost.Error(),
		}
	}

	delay := c.opts.Backoff.Delay(c.attempt)
	c.state = protocol.StateClosed
	c.timer = c.opts.Scheduler.AfterFunc(delay, func() { c.retry(gen) })
	c.logger.Info().Int("attempt", c.attempt).Dur("delay", delay).Msg("reconnect scheduled")
	return protocol.ConnectionStateChanged{
		Meta:    protocol.Meta{Timestamp: c.opts.Now()},
		State:   protocol.StateClosed,
		Attempt: c.attempt,
		Err:     errText,
	}
}

func (c *Client) retry(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != protocol.StateClosed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.attempt++
	attempt := c.attempt
	next := c.beginDialLocked()
	c.mu.Unlock()

	c.publishState(protocol.StateConnecting, attempt, nil)
	_ = c.dial(context.Background(), next)
}

func (c *Client) publishState(s protocol.ConnState, attempt int, err error) {
	ev := protocol.ConnectionStateChanged{
		Meta:    protocol.Meta{Timestamp: c.opts.Now()},
		State:   s,
		Attempt: attempt,
	}
	if err != nil {
		ev.Err = err.Error()
	}
	c.events.Publish(context.Background(), ev)
}

func (c *Client) onFrame(gen uint64, f core.Frame) {
	c.mu.Lock()
	stale := gen != c.gen
	c.mu.Unlock()
	if stale {
		return
	}

	env, err := protocol.ParseInbound(f)
	if err != nil {
		c.logger.Warn().Err(err).Msg("bad frame")
		return
	}
	ev, err := protocol.Decode(env)
	if err != nil {
		c.logger.Warn().Err(err).Str("type", string(env.Type)).Msg("bad payload")
		return
	}
	if u, ok := ev.(protocol.Unknown); ok {
		c.logger.Debug().Str("type", string(u.Type)).Msg("unmodelled event")
	}
	c.logger.Debug().Str("type", string(ev.EventType())).Msg("event")
	c.events.Publish(context.Background(), ev)
}

// Send writes one envelope if the socket is open. Nothing is queued: a send
// while not connected is dropped and reported as KindNotConnected.
func (c *Client) Send(env protocol.OutboundEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != protocol.StateOpen || c.conn == nil {
		c.logger.Warn().Str("type", string(env.Type)).Str("state", c.state.String()).Msg("send dropped, not connected")
		return domain.E(domain.KindNotConnected, "realtime.send", domain.ErrNotConnected)
	}
	return c.writeLocked(c.conn, env)
}

func (c *Client) writeLocked(conn core.SignalConnection, env protocol.OutboundEnvelope) error {
	b, err := env.Marshal(c.opts.Now())
	if err != nil {
		return domain.E(domain.KindInvalid, "realtime.send", err)
	}
	if err := conn.TrySend(b); err != nil {
		c.logger.Warn().Err(err).Str("type", string(env.Type)).Msg("send failed")
		return domain.E(domain.KindNetwork, "realtime.send", err)
	}
	c.logger.Debug().Str("type", string(env.Type)).Msg("sent")
	return nil
}

// sendIfOpen is for envelopes that replay covers later anyway.
func (c *Client) sendIfOpen(env protocol.OutboundEnvelope) error {
	err := c.Send(env)
	if domain.KindOf(err) == domain.KindNotConnected {
		return nil
	}
	return err
}
