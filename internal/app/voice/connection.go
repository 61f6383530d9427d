package voice

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Realm/internal/core"
	"github.com/dkeye/Realm/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Connection is one joined voice channel. All maps are guarded by the
// owning Manager's mutex.
type Connection struct {
	m       *Manager
	channel domain.ChannelID
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mic       core.AudioCapture
	audio     *webrtc.TrackLocalStaticSample
	audioGate *gate
	local     *SpeakingDetector

	screen     core.CaptureTrack
	video      *webrtc.TrackLocalStaticSample
	screenGate *gate

	self         *domain.Participant
	participants map[domain.UserID]*domain.Participant
	peers        map[domain.UserID]*peer
	remotes      map[domain.UserID][]*remoteStream
}

func newConnection(m *Manager, channel domain.ChannelID, mic core.AudioCapture) (*Connection, error) {
	streamID := "realm-" + string(m.self)
	audio, err := webrtc.NewTrackLocalStaticSample(mic.Codec(), "audio-"+string(m.self), streamID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		m:         m,
		channel:   channel,
		logger:    m.logger.With().Str("channel", string(channel)).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		mic:       mic,
		audio:     audio,
		audioGate: &gate{},
		local: &SpeakingDetector{
			Analyser:  NewAnalyser(m.opts.Config.FFTSize),
			Threshold: m.opts.Config.LocalThreshold,
		},
		self: &domain.Participant{
			UserID:    m.self,
			Username:  m.opts.Self.Name(),
			Avatar:    m.opts.Self.Avatar,
			Connected: true,
			Volume:    1,
		},
		participants: make(map[domain.UserID]*domain.Participant),
		peers:        make(map[domain.UserID]*peer),
		remotes:      make(map[domain.UserID][]*remoteStream),
	}, nil
}

func (c *Connection) start() {
	c.mic.OnEnded(func() {
		c.logger.Warn().Msg("microphone ended, leaving channel")
		go c.leaveIfCurrent()
	})
	c.goLoop(func() { pumpLocal(c.ctx, c.mic, c.audio, c.audioGate, c.logger) })
	c.goLoop(func() { c.pcmLoop() })
	c.goLoop(func() { c.sampleLoop() })
}

// leaveIfCurrent leaves the channel unless c was already replaced or left.
func (c *Connection) leaveIfCurrent() {
	m := c.m
	m.mu.Lock()
	current := m.connections[c.channel] == c
	m.mu.Unlock()
	if !current {
		return
	}
	if err := m.Leave(context.Background(), c.channel); err != nil {
		c.logger.Warn().Err(err).Msg("leave after microphone ended")
	}
}

func (c *Connection) goLoop(f func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		f()
	}()
}

// close stops capture and closes every peer. Loops blocked on a device read
// return once the device is stopped.
func (c *Connection) close() {
	c.m.mu.Lock()
	c.audioGate.Delete()
	if c.screenGate != nil {
		c.screenGate.Delete()
	}
	screen := c.screen
	c.screen, c.video = nil, nil
	peers := make([]*peer, 0, len(c.peers))
	for id, p := range c.peers {
		peers = append(peers, p)
		delete(c.peers, id)
	}
	clear(c.remotes)
	c.m.mu.Unlock()

	c.cancel()
	c.mic.Stop()
	if screen != nil {
		screen.Stop()
	}
	for _, p := range peers {
		p.pc.Close()
	}
	c.wg.Wait()
}

func (c *Connection) pcmLoop() {
	for {
		pcm, err := c.mic.ReadPCM()
		if err != nil {
			c.logger.Debug().Err(err).Msg("pcm tap closed")
			return
		}
		c.local.Analyser.Write(pcm)
		if c.ctx.Err() != nil {
			return
		}
	}
}

// sampleLoop is the analysis clock for local and remote speaking state.
func (c *Connection) sampleLoop() {
	t := time.NewTicker(c.m.opts.Config.SampleInterval)
	defer t.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
			c.sample()
		}
	}
}

func (c *Connection) sample() {
	m := c.m
	localSpeaking, localChanged := c.local.Sample()

	m.mu.Lock()
	if !m.transmittingLocked() {
		localSpeaking = false
		localChanged = c.self.Speaking != localSpeaking
	}
	c.self.Speaking = localSpeaking

	remoteChanged := false
	for user, streams := range c.remotes {
		speaking := false
		for _, rs := range streams {
			if rs.detector == nil {
				continue
			}
			if s, _ := rs.detector.Sample(); s {
				speaking = true
			}
		}
		if p, ok := c.participants[user]; ok && p.Speaking != speaking {
			p.Speaking = speaking
			remoteChanged = true
		}
	}
	m.mu.Unlock()

	if localChanged {
		m.publishState(c.ctx)
	}
	if localChanged || remoteChanged {
		m.notify()
	}
}

// detachPeerLocked removes the peer for user and returns it for closing
// outside the lock.
func (c *Connection) detachPeerLocked(user domain.UserID) *peer {
	p, ok := c.peers[user]
	if !ok {
		return nil
	}
	delete(c.peers, user)
	delete(c.remotes, user)
	return p
}
