package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Realm/internal/core"
	"github.com/dkeye/Realm/internal/protocol"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	done   chan struct{}
	once   sync.Once
	err    error
}

func newFakeConn() *fakeConn { return &fakeConn{done: make(chan struct{})} }

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return errors.New("connection closed")
	default:
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() { c.drop(nil) }

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// drop simulates the server going away.
func (c *fakeConn) drop(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *fakeConn) envelopes() []protocol.OutboundEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.OutboundEnvelope, 0, len(c.frames))
	for _, f := range c.frames {
		var env struct {
			protocol.OutboundEnvelope
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(f, &env); err == nil {
			e := env.OutboundEnvelope
			e.Data = env.Data
			out = append(out, e)
		}
	}
	return out
}

func dataOf(env protocol.OutboundEnvelope) string {
	raw, _ := env.Data.(json.RawMessage)
	return string(raw)
}

func (c *fakeConn) types() []protocol.Type {
	var out []protocol.Type
	for _, e := range c.envelopes() {
		out = append(out, e.Type)
	}
	return out
}

type fakeDialer struct {
	mu      sync.Mutex
	urls    []string
	conns   []*fakeConn
	onFrame func(core.Frame)
	fail    bool
}

func (d *fakeDialer) Dial(_ context.Context, url string, onFrame func(core.Frame)) (core.SignalConnection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	d.onFrame = onFrame
	return c, nil
}

func (d *fakeDialer) setFail(v bool) {
	d.mu.Lock()
	d.fail = v
	d.mu.Unlock()
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) deliver(raw string) {
	d.mu.Lock()
	fn := d.onFrame
	d.mu.Unlock()
	fn(core.Frame(raw))
}

type manualTimer struct {
	s       *manualScheduler
	d       time.Duration
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// manualScheduler records requested delays and fires them on demand.
type manualScheduler struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []*manualTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, d: d, f: f}
	s.delays = append(s.delays, d)
	s.pending = append(s.pending, t)
	return t
}

func (s *manualScheduler) waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.pending {
		if !t.stopped {
			n++
		}
	}
	return n
}

// fire runs every pending, unstopped timer once.
func (s *manualScheduler) fire() int {
	s.mu.Lock()
	ready := s.pending
	s.pending = nil
	s.mu.Unlock()

	n := 0
	for _, t := range ready {
		s.mu.Lock()
		stopped := t.stopped
		s.mu.Unlock()
		if !stopped {
			t.f()
			n++
		}
	}
	return n
}

func (s *manualScheduler) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}
