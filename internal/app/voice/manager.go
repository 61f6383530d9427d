// Package voice manages the local user's voice session: capture, one peer
// connection per remote participant, speaking detection and the
// mute/deafen/screen-share controls.
package voice

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Realm/internal/app/fanout"
	"github.com/dkeye/Realm/internal/core"
	"github.com/dkeye/Realm/internal/domain"
	"github.com/dkeye/Realm/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	FFTSize          int
	LocalThreshold   float64
	RemoteThreshold  float64
	SampleInterval   time.Duration
	KeyframeInterval time.Duration
	MaxVolume        float64
}

func DefaultConfig() Config {
	return Config{
		FFTSize:          DefaultFFTSize,
		LocalThreshold:   LocalThreshold,
		RemoteThreshold:  RemoteThreshold,
		SampleInterval:   16 * time.Millisecond,
		KeyframeInterval: 3 * time.Second,
		MaxVolume:        2,
	}
}

type Options struct {
	Self     domain.User
	Devices  core.MediaDevices
	Peers    core.PeerFactory
	Decoders core.DecoderFactory
	Sink     core.PlaybackSink
	API      API
	Signal   Signaler
	Config   Config
}

// Snapshot is the published view of the session.
type Snapshot struct {
	ChannelID    *domain.ChannelID    `json:"channel_id"`
	Muted        bool                 `json:"muted"`
	Deafened     bool                 `json:"deafened"`
	Streaming    bool                 `json:"streaming"`
	PushToTalk   bool                 `json:"push_to_talk"`
	Transmitting bool                 `json:"transmitting"`
	Participants []domain.Participant `json:"participants"`
}

type Manager struct {
	opts   Options
	self   domain.UserID
	logger zerolog.Logger

	mu          sync.Mutex
	connections map[domain.ChannelID]*Connection
	joining     bool
	muted       bool
	deafened    bool
	ptt         bool
	pttPressed  bool

	// deafenedFlag mirrors deafened for the remote audio loops.
	deafenedFlag atomic.Bool

	roster *fanout.Hub[Snapshot]
}

func NewManager(opts Options) *Manager {
	def := DefaultConfig()
	if opts.Config.FFTSize == 0 {
		opts.Config.FFTSize = def.FFTSize
	}
	if opts.Config.LocalThreshold == 0 {
		opts.Config.LocalThreshold = def.LocalThreshold
	}
	if opts.Config.RemoteThreshold == 0 {
		opts.Config.RemoteThreshold = def.RemoteThreshold
	}
	if opts.Config.SampleInterval <= 0 {
		opts.Config.SampleInterval = def.SampleInterval
	}
	if opts.Config.KeyframeInterval <= 0 {
		opts.Config.KeyframeInterval = def.KeyframeInterval
	}
	if opts.Config.MaxVolume <= 0 {
		opts.Config.MaxVolume = def.MaxVolume
	}
	return &Manager{
		opts:        opts,
		self:        opts.Self.ID,
		logger:      log.With().Str("module", "app.voice").Str("self", string(opts.Self.ID)).Logger(),
		connections: make(map[domain.ChannelID]*Connection),
		roster:      fanout.NewHub[Snapshot](nil),
	}
}

// Subscribe streams a Snapshot after every roster or control change.
func (m *Manager) Subscribe(opts ...fanout.Option[Snapshot]) *fanout.Subscription[Snapshot] {
	return m.roster.Subscribe(opts...)
}

// Run consumes realtime events until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	sub := m.opts.Signal.Subscribe(
		fanout.WithName[protocol.Event]("voice"),
		fanout.WithBuffer[protocol.Event](256),
		fanout.WithPolicy[protocol.Event](fanout.FixedPolicy(fanout.Block)),
		fanout.WithFilter(func(ev protocol.Event) bool {
			switch ev.(type) {
			case protocol.VoiceSignal, protocol.VoiceStateUpdated, protocol.ConnectionStateChanged:
				return true
			}
			return false
		}),
	)
	defer sub.Close()

	m.logger.Info().Msg("voice dispatch loop started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("voice dispatch loop stopped")
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			m.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent applies one realtime event to the session.
func (m *Manager) HandleEvent(ctx context.Context, ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.VoiceSignal:
		m.handleSignal(e)
	case protocol.VoiceStateUpdated:
		m.handleVoiceState(e)
	case protocol.ConnectionStateChanged:
		if e.State == protocol.StateOpen {
			m.republish()
		}
	}
}

// Join acquires the microphone and enters channel, leaving any other
// channel first. Only one join may be in flight at a time.
func (m *Manager) Join(ctx context.Context, channel domain.ChannelID) error {
	m.mu.Lock()
	if m.joining {
		m.mu.Unlock()
		return domain.E(domain.KindInvalid, "voice.join", domain.ErrJoinInProgress)
	}
	if _, ok := m.connections[channel]; ok {
		m.mu.Unlock()
		return nil
	}
	m.joining = true
	previous := make([]domain.ChannelID, 0, len(m.connections))
	for id := range m.connections {
		previous = append(previous, id)
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.joining = false
		m.mu.Unlock()
	}()

	for _, id := range previous {
		if err := m.Leave(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("channel", string(id)).Msg("leave previous channel")
		}
	}

	logger := m.logger.With().Str("channel", string(channel)).Logger()
	mic, err := m.opts.Devices.GetUserMedia(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("microphone unavailable")
		if errors.Is(err, domain.ErrPermissionDenied) {
			return domain.E(domain.KindPermissionDenied, "voice.join", err)
		}
		return domain.E(domain.KindOf(err), "voice.join", err)
	}

	if _, err := m.opts.API.JoinVoice(ctx, channel); err != nil {
		logger.Error().Err(err).Msg("join rejected")
		mic.Stop()
		return err
	}

	users, err := m.opts.API.VoiceUsers(ctx, channel)
	if err != nil {
		logger.Warn().Err(err).Msg("could not load voice roster")
	}

	conn, err := newConnection(m, channel, mic)
	if err != nil {
		mic.Stop()
		_ = m.opts.API.LeaveVoice(context.WithoutCancel(ctx))
		return domain.E(domain.KindInvalid, "voice.join", err)
	}
	for _, st := range users {
		if st.UserID == m.self {
			continue
		}
		conn.participants[st.UserID] = domain.NewParticipant(st)
	}

	m.mu.Lock()
	m.connections[channel] = conn
	m.applyGateLocked()
	// The smaller id offers to members already in the roster.
	var offers []*peer
	for user := range conn.participants {
		if m.self >= user {
			continue
		}
		p, err := conn.newPeerLocked(user)
		if err != nil {
			logger.Error().Err(err).Str("user", string(user)).Msg("create peer")
			continue
		}
		offers = append(offers, p)
	}
	m.mu.Unlock()

	conn.start()
	for _, p := range offers {
		conn.negotiate(p)
	}
	logger.Info().Int("participants", len(users)).Msg("joined voice channel")
	m.publishState(ctx)
	m.notify()
	return nil
}

// Leave tears down channel. Leaving a channel that is not joined is a no-op.
func (m *Manager) Leave(ctx context.Context, channel domain.ChannelID) error {
	m.mu.Lock()
	conn, ok := m.connections[channel]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.connections, channel)
	gone := make([]domain.UserID, 0, len(conn.participants))
	for user := range conn.participants {
		gone = append(gone, user)
	}
	m.mu.Unlock()

	conn.close()
	for _, user := range gone {
		m.forget(user)
	}
	m.logger.Info().Str("channel", string(channel)).Msg("left voice channel")

	err := m.opts.API.LeaveVoice(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("leave not acknowledged")
	}
	if serr := m.opts.Signal.UpdateVoiceState(protocol.VoiceStateData{}); serr != nil {
		m.logger.Debug().Err(serr).Msg("voice state not broadcast")
	}
	m.notify()
	return err
}

// LeaveAll leaves whatever channel is joined.
func (m *Manager) LeaveAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]domain.ChannelID, 0, len(m.connections))
	for id := range m.connections {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		errs = append(errs, m.Leave(ctx, id))
	}
	return errors.Join(errs...)
}

// Close leaves every channel and ends roster streams.
func (m *Manager) Close(ctx context.Context) {
	_ = m.LeaveAll(ctx)
	m.roster.Close()
}

// ToggleMute flips the mute flag and returns the new value.
func (m *Manager) ToggleMute(ctx context.Context) (bool, error) {
	m.mu.Lock()
	m.muted = !m.muted
	muted := m.muted
	m.applyGateLocked()
	m.mu.Unlock()

	m.logger.Info().Bool("muted", muted).Msg("mute toggled")
	err := m.pushState(ctx)
	m.notify()
	return muted, err
}

// ToggleDeafen flips the deafen flag and returns the new value. Deafening
// also mutes; undeafening leaves the mute flag as it is.
func (m *Manager) ToggleDeafen(ctx context.Context) (bool, error) {
	m.mu.Lock()
	m.deafened = !m.deafened
	if m.deafened {
		m.muted = true
	}
	deafened := m.deafened
	m.deafenedFlag.Store(deafened)
	m.applyGateLocked()
	m.mu.Unlock()

	m.logger.Info().Bool("deafened", deafened).Msg("deafen toggled")
	err := m.pushState(ctx)
	m.notify()
	return deafened, err
}

func (m *Manager) SetPushToTalk(enabled bool) {
	m.mu.Lock()
	m.ptt = enabled
	if !enabled {
		m.pttPressed = false
	}
	m.applyGateLocked()
	m.mu.Unlock()
	m.notify()
}

// PushToTalk reports the talk key state. While push-to-talk is enabled and
// the user is muted, holding the key opens the microphone.
func (m *Manager) PushToTalk(pressed bool) {
	m.mu.Lock()
	if !m.ptt {
		m.mu.Unlock()
		return
	}
	m.pttPressed = pressed
	m.applyGateLocked()
	m.mu.Unlock()
	m.notify()
}

// SetVolume sets the playback gain for one remote user.
func (m *Manager) SetVolume(user domain.UserID, volume float64) {
	volume = math.Max(0, math.Min(volume, m.opts.Config.MaxVolume))
	m.mu.Lock()
	for _, conn := range m.connections {
		if p, ok := conn.participants[user]; ok {
			p.Volume = volume
		}
		for _, rs := range conn.remotes[user] {
			rs.setGain(volume)
		}
	}
	m.mu.Unlock()
	m.notify()
}

func (m *Manager) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

func (m *Manager) Deafened() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deafened
}

// transmittingLocked is whether the microphone should reach peers.
func (m *Manager) transmittingLocked() bool {
	if m.ptt && m.pttPressed && !m.deafened {
		return true
	}
	return !m.muted
}

func (m *Manager) applyGateLocked() {
	open := m.transmittingLocked()
	for _, conn := range m.connections {
		if open {
			conn.audioGate.Open()
		} else {
			conn.audioGate.Mute()
		}
	}
}

func (m *Manager) currentLocked() *Connection {
	for _, c := range m.connections {
		return c
	}
	return nil
}

// Snapshot returns the current session view.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	s := Snapshot{
		Muted:        m.muted,
		Deafened:     m.deafened,
		PushToTalk:   m.ptt,
		Transmitting: m.transmittingLocked(),
		Participants: []domain.Participant{},
	}
	conn := m.currentLocked()
	if conn == nil {
		return s
	}
	id := conn.channel
	s.ChannelID = &id
	s.Streaming = conn.screen != nil
	self := *conn.self
	self.Muted = m.muted
	self.Deafened = m.deafened
	self.Streaming = s.Streaming
	self.Speaking = self.Speaking && s.Transmitting
	s.Participants = append(s.Participants, self)
	for _, p := range conn.participants {
		s.Participants = append(s.Participants, *p)
	}
	slices.SortFunc(s.Participants[1:], func(a, b domain.Participant) int {
		switch {
		case a.UserID < b.UserID:
			return -1
		case a.UserID > b.UserID:
			return 1
		}
		return 0
	})
	return s
}

func (m *Manager) notify() {
	m.roster.Publish(context.Background(), m.Snapshot())
}

func (m *Manager) voiceStateLocked(speaking bool) protocol.VoiceStateData {
	st := protocol.VoiceStateData{Muted: m.muted, Deafened: m.deafened}
	if conn := m.currentLocked(); conn != nil {
		id := conn.channel
		st.ChannelID = &id
		st.Streaming = conn.screen != nil
		st.Speaking = speaking && m.transmittingLocked()
	}
	return st
}

// publishState broadcasts the live flags over the socket.
func (m *Manager) publishState(_ context.Context) {
	m.mu.Lock()
	conn := m.currentLocked()
	speaking := conn != nil && conn.self.Speaking
	st := m.voiceStateLocked(speaking)
	m.mu.Unlock()
	if st.ChannelID == nil {
		return
	}
	if err := m.opts.Signal.UpdateVoiceState(st); err != nil {
		m.logger.Debug().Err(err).Msg("voice state not broadcast")
	}
}

// pushState persists the flags over REST and broadcasts them.
func (m *Manager) pushState(ctx context.Context) error {
	m.mu.Lock()
	connected := m.currentLocked() != nil
	muted, deafened := m.muted, m.deafened
	m.mu.Unlock()
	if !connected {
		return nil
	}

	_, err := m.opts.API.UpdateVoiceState(ctx, domain.VoiceStatePatch{Muted: &muted, Deafened: &deafened})
	if err != nil {
		m.logger.Warn().Err(err).Msg("voice state update rejected")
	}
	m.publishState(ctx)
	return err
}

func (m *Manager) republish() {
	m.mu.Lock()
	connected := m.currentLocked() != nil
	m.mu.Unlock()
	if connected {
		m.logger.Info().Msg("gateway reconnected, rebroadcasting voice state")
		m.publishState(context.Background())
	}
}

// forget clears per-user playback state once user is no longer heard.
func (m *Manager) forget(user domain.UserID) {
	if s, ok := m.opts.Sink.(core.ForgettingSink); ok {
		s.Forget(user)
	}
}

func (m *Manager) handleVoiceState(e protocol.VoiceStateUpdated) {
	st := e.State
	if st.UserID == "" || st.UserID == m.self {
		return
	}

	var (
		toClose  *peer
		changed  bool
		offerTo  *peer
		logger   = m.logger.With().Str("user", string(st.UserID)).Logger()
		joinedID = st.ChannelID
	)

	m.mu.Lock()
	conn := m.currentLocked()
	if conn == nil {
		m.mu.Unlock()
		return
	}

	if joinedID != nil && *joinedID == conn.channel {
		p, known := conn.participants[st.UserID]
		if !known {
			p = domain.NewParticipant(st)
			conn.participants[st.UserID] = p
			logger.Info().Msg("participant joined")
			if _, ok := conn.peers[st.UserID]; !ok {
				np, err := conn.newPeerLocked(st.UserID)
				if err != nil {
					logger.Error().Err(err).Msg("create peer")
				} else {
					offerTo = np
				}
			}
		} else {
			p.Muted = st.Muted || st.SelfMuted
			p.Deafened = st.Deafened || st.SelfDeaf
			p.Streaming = st.Streaming
			if st.User != nil {
				p.Username = st.User.Name()
			}
		}
		if len(conn.remotes[st.UserID]) == 0 {
			p.Speaking = e.Speaking
		}
		changed = true
	} else if _, ok := conn.participants[st.UserID]; ok {
		delete(conn.participants, st.UserID)
		toClose = conn.detachPeerLocked(st.UserID)
		logger.Info().Msg("participant left")
		changed = true
	}
	m.mu.Unlock()

	if toClose != nil {
		toClose.pc.Close()
	}
	if joinedID == nil || *joinedID != conn.channel {
		m.forget(st.UserID)
	}
	if offerTo != nil {
		conn.negotiate(offerTo)
	}
	if changed {
		m.notify()
	}
}
