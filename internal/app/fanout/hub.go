// Package fanout delivers values to many bounded subscriber streams.
package fanout

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

const DefaultBuffer = 64

type Option[T any] func(*Subscription[T])

func WithBuffer[T any](n int) Option[T] {
	return func(s *Subscription[T]) {
		if n > 0 {
			s.ch = make(chan T, n)
		}
	}
}

// WithFilter delivers only values for which keep returns true.
func WithFilter[T any](keep func(T) bool) Option[T] {
	return func(s *Subscription[T]) { s.filter = keep }
}

func WithPolicy[T any](p Policy) Option[T] {
	return func(s *Subscription[T]) { s.policy = p }
}

func WithName[T any](name string) Option[T] {
	return func(s *Subscription[T]) { s.name = name }
}

type Subscription[T any] struct {
	id     uint64
	name   string
	hub    *Hub[T]
	ch     chan T
	done   chan struct{}
	once   sync.Once
	filter func(T) bool
	policy Policy

	dropped atomic.Uint64
}

// C is closed after the subscription ends.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Done is closed as soon as Close is called.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

func (s *Subscription[T]) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		close(s.done)
		s.hub.remove(s)
	})
}

func (s *Subscription[T]) info() Info {
	return Info{ID: s.id, Name: s.name, Dropped: s.dropped.Load()}
}

// PublishResult reports delivery stats.
type PublishResult struct {
	Sent    int
	Dropped int
	Removed int
}

// Hub is a threadsafe set of subscriptions.
type Hub[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription[T]
	next   uint64
	policy Policy
	closed bool
}

// NewHub uses policy for subscribers that do not bring their own.
func NewHub[T any](policy Policy) *Hub[T] {
	if policy == nil {
		policy = FixedPolicy(DropEvent)
	}
	return &Hub[T]{
		subs:   make(map[uint64]*Subscription[T]),
		policy: policy,
	}
}

func (h *Hub[T]) Subscribe(opts ...Option[T]) *Subscription[T] {
	s := &Subscription[T]{
		hub:  h,
		ch:   make(chan T, DefaultBuffer),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.policy == nil {
		s.policy = h.policy
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.done)
		close(s.ch)
		s.once.Do(func() {})
		return s
	}
	h.next++
	s.id = h.next
	h.subs[s.id] = s
	log.Debug().Str("module", "app.fanout").Uint64("sub", s.id).Str("name", s.name).Msg("subscribed")
	return s
}

func (h *Hub[T]) remove(s *Subscription[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s.id]; !ok {
		return
	}
	delete(h.subs, s.id)
	close(s.ch)
	log.Debug().Str("module", "app.fanout").Uint64("sub", s.id).Str("name", s.name).Msg("unsubscribed")
}

func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish offers v to every subscriber. Sends happen under the read lock so a
// concurrent Close cannot close a channel mid-send; Close unblocks Block
// subscribers through their done channel first.
func (h *Hub[T]) Publish(ctx context.Context, v T) PublishResult {
	var (
		res  PublishResult
		kick []*Subscription[T]
	)

	h.mu.RLock()
	for _, s := range h.subs {
		if s.filter != nil && !s.filter(v) {
			continue
		}
		select {
		case s.ch <- v:
			res.Sent++
			continue
		case <-s.done:
			continue
		default:
		}

		switch s.policy.OnBackPressure(s.info()) {
		case Block:
			select {
			case s.ch <- v:
				res.Sent++
			case <-s.done:
			case <-ctx.Done():
				s.dropped.Add(1)
				res.Dropped++
			}
		case Unsubscribe:
			kick = append(kick, s)
		default:
			s.dropped.Add(1)
			res.Dropped++
		}
	}
	h.mu.RUnlock()

	// Cleanup is done outside the RLock.
	for _, s := range kick {
		log.Warn().Str("module", "app.fanout").Uint64("sub", s.id).Str("name", s.name).Msg("slow subscriber removed")
		s.Close()
		res.Removed++
	}
	if res.Dropped > 0 {
		log.Debug().Str("module", "app.fanout").Int("sent", res.Sent).Int("dropped", res.Dropped).Msg("publish result")
	}
	return res
}

// Close ends every subscription; later Subscribe calls get a closed stream.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription[T], 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}
