package voice

import (
	"context"

	"github.com/dkeye/Realm/internal/core"
	"github.com/dkeye/Realm/internal/domain"
	"github.com/dkeye/Realm/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// peer is the negotiation state for one remote user. Fields are guarded by
// the Manager's mutex.
type peer struct {
	user   domain.UserID
	pc     core.PeerConnection
	polite bool
	logger zerolog.Logger

	audioSender core.RTPSender
	videoSender core.RTPSender

	makingOffer bool
	// pending holds remote candidates that arrived before the remote description.
	pending []webrtc.ICECandidateInit
}

// newPeerLocked builds and registers a peer carrying the current local tracks.
func (c *Connection) newPeerLocked(user domain.UserID) (*peer, error) {
	m := c.m
	pc, err := m.opts.Peers.NewPeer(user)
	if err != nil {
		return nil, err
	}
	p := &peer{
		user:   user,
		pc:     pc,
		polite: m.self > user,
		logger: c.logger.With().Str("peer", string(user)).Logger(),
	}

	channel := c.channel
	pc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		data := protocol.SignalData{
			TargetUserID:  user,
			Candidate:     ci.Candidate,
			SDPMid:        ci.SDPMid,
			SDPMLineIndex: ci.SDPMLineIndex,
		}
		if err := m.opts.Signal.SendSignal(protocol.TypeVoiceICECandidate, channel, data); err != nil {
			p.logger.Warn().Err(err).Msg("send candidate")
		}
	})
	pc.OnTrack(func(ctx context.Context, track core.RemoteTrack) {
		c.onRemoteTrack(ctx, p, track)
	})
	pc.OnClosed(func() {
		c.onPeerClosed(p)
	})
	if err := pc.Start(c.ctx); err != nil {
		pc.Close()
		return nil, err
	}

	if p.audioSender, err = pc.AddTrack(c.audio); err != nil {
		pc.Close()
		return nil, err
	}
	if c.video != nil {
		if p.videoSender, err = pc.AddTrack(c.video); err != nil {
			p.logger.Warn().Err(err).Msg("attach screen track")
		}
	}

	c.peers[user] = p
	if _, ok := c.participants[user]; !ok {
		c.participants[user] = &domain.Participant{UserID: user, Connected: true, Volume: 1}
	}
	p.logger.Info().Bool("polite", p.polite).Msg("peer created")
	return p, nil
}

// negotiate creates and sends an offer to p.
func (c *Connection) negotiate(p *peer) {
	m := c.m
	m.mu.Lock()
	if c.peers[p.user] != p {
		m.mu.Unlock()
		return
	}
	p.makingOffer = true
	offer, err := p.pc.CreateOffer()
	p.makingOffer = false
	m.mu.Unlock()

	if err != nil {
		p.logger.Error().Err(err).Msg("create offer")
		return
	}
	data := protocol.SignalData{TargetUserID: p.user, SDP: offer.SDP}
	if err := m.opts.Signal.SendSignal(protocol.TypeVoiceOffer, c.channel, data); err != nil {
		p.logger.Warn().Err(err).Msg("send offer")
		return
	}
	p.logger.Debug().Msg("offer sent")
}

func (c *Connection) onPeerClosed(p *peer) {
	m := c.m
	m.mu.Lock()
	if c.peers[p.user] != p {
		m.mu.Unlock()
		return
	}
	delete(c.peers, p.user)
	delete(c.remotes, p.user)
	if part, ok := c.participants[p.user]; ok {
		part.Connected = false
		part.Speaking = false
	}
	m.mu.Unlock()

	p.logger.Info().Msg("peer closed")
	m.forget(p.user)
	m.notify()
}

// handleSignal applies one offer, answer or candidate addressed to us.
func (m *Manager) handleSignal(e protocol.VoiceSignal) {
	if e.Signal.TargetUserID != m.self || e.UserID == "" || e.UserID == m.self {
		return
	}
	from := e.UserID

	m.mu.Lock()
	conn := m.currentLocked()
	if conn == nil || (e.ChannelID != "" && e.ChannelID != conn.channel) {
		m.mu.Unlock()
		m.logger.Debug().Str("from", string(from)).Msg("signal for a channel we are not in")
		return
	}

	p, ok := conn.peers[from]
	if !ok {
		if e.Kind == protocol.TypeVoiceAnswer {
			m.mu.Unlock()
			m.logger.Warn().Str("from", string(from)).Msg("answer without a peer")
			return
		}
		var err error
		if p, err = conn.newPeerLocked(from); err != nil {
			m.mu.Unlock()
			m.logger.Error().Err(err).Str("from", string(from)).Msg("create peer")
			return
		}
	}

	var reply *protocol.SignalData
	switch e.Kind {
	case protocol.TypeVoiceOffer:
		reply = p.acceptOfferLocked(e.Signal.SDP)
	case protocol.TypeVoiceAnswer:
		p.acceptAnswerLocked(e.Signal.SDP)
	case protocol.TypeVoiceICECandidate:
		p.addCandidateLocked(webrtc.ICECandidateInit{
			Candidate:     e.Signal.Candidate,
			SDPMid:        e.Signal.SDPMid,
			SDPMLineIndex: e.Signal.SDPMLineIndex,
		})
	}
	channel := conn.channel
	m.mu.Unlock()

	if reply != nil {
		if err := m.opts.Signal.SendSignal(protocol.TypeVoiceAnswer, channel, *reply); err != nil {
			p.logger.Warn().Err(err).Msg("send answer")
		}
	}
	m.notify()
}

// acceptOfferLocked resolves glare with the polite-peer rule and returns the
// answer to send, or nil when the offer is ignored.
func (p *peer) acceptOfferLocked(sdp string) *protocol.SignalData {
	collision := p.makingOffer || p.pc.SignalingState() != webrtc.SignalingStateStable
	if collision && !p.polite {
		p.logger.Info().Msg("ignoring colliding offer")
		return nil
	}
	if collision {
		if err := p.pc.Rollback(); err != nil {
			p.logger.Error().Err(err).Msg("rollback")
			return nil
		}
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		p.logger.Error().Err(err).Msg("apply offer")
		return nil
	}
	p.flushCandidatesLocked()

	answer, err := p.pc.CreateAnswer()
	if err != nil {
		p.logger.Error().Err(err).Msg("create answer")
		return nil
	}
	return &protocol.SignalData{TargetUserID: p.user, SDP: answer.SDP}
}

func (p *peer) acceptAnswerLocked(sdp string) {
	if p.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		p.logger.Warn().Str("state", p.pc.SignalingState().String()).Msg("unexpected answer")
		return
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		p.logger.Error().Err(err).Msg("apply answer")
		return
	}
	p.flushCandidatesLocked()
}

func (p *peer) addCandidateLocked(ci webrtc.ICECandidateInit) {
	if !p.pc.HasRemoteDescription() {
		p.pending = append(p.pending, ci)
		return
	}
	if err := p.pc.AddICECandidate(ci); err != nil {
		p.logger.Warn().Err(err).Msg("add candidate")
	}
}

func (p *peer) flushCandidatesLocked() {
	for _, ci := range p.pending {
		if err := p.pc.AddICECandidate(ci); err != nil {
			p.logger.Warn().Err(err).Msg("add buffered candidate")
		}
	}
	p.pending = nil
}
