package rtc

import (
	"context"
	"sync"

	"github.com/dkeye/Realm/internal/core"
	"github.com/dkeye/Realm/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var errForeignSender = errors.New("sender does not belong to this connection")

// Peer wraps a pion PeerConnection as a core.PeerConnection. Local
// descriptions are applied as soon as they are created and candidates
// trickle out through OnICECandidate.
type Peer struct {
	pc     *webrtc.PeerConnection
	remote domain.UserID
	logger zerolog.Logger
	cancel context.CancelFunc

	mu      sync.RWMutex
	onICE   func(webrtc.ICECandidateInit)
	onTrack func(ctx context.Context, track core.RemoteTrack)

	onClosed  func()
	closeOnce sync.Once
}

func newPeer(pc *webrtc.PeerConnection, remote domain.UserID) *Peer {
	return &Peer{
		pc:     pc,
		remote: remote,
		logger: log.With().Str("module", "adapters.rtc").Str("peer", string(remote)).Logger(),
	}
}

func (p *Peer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		p.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			cancel()
			p.fireClosed()
		}
	})

	p.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		p.mu.RLock()
		fn := p.onICE
		p.mu.RUnlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		p.mu.RLock()
		fn := p.onTrack
		p.mu.RUnlock()
		if fn != nil {
			fn(ctx, track)
		}
	})
	return nil
}

func (p *Peer) fireClosed() {
	p.closeOnce.Do(func() {
		p.mu.RLock()
		fn := p.onClosed
		p.mu.RUnlock()
		if fn != nil {
			fn()
		}
	})
}

func (p *Peer) Close() {
	if p.cancel != nil {
		p.cancel()
	}
	if err := p.pc.Close(); err != nil {
		p.logger.Error().Err(err).Msg("close error")
	} else {
		p.logger.Info().Msg("closed")
	}
	p.fireClosed()
}

func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, errors.Wrap(err, "create offer")
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, errors.Wrap(err, "set local offer")
	}
	return offer, nil
}

func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, errors.Wrap(err, "create answer")
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, errors.Wrap(err, "set local answer")
	}
	return answer, nil
}

func (p *Peer) SetRemoteDescription(d webrtc.SessionDescription) error {
	return errors.Wrapf(p.pc.SetRemoteDescription(d), "set remote %s", d.Type)
}

func (p *Peer) HasRemoteDescription() bool { return p.pc.RemoteDescription() != nil }

func (p *Peer) SignalingState() webrtc.SignalingState { return p.pc.SignalingState() }

func (p *Peer) Rollback() error {
	return errors.Wrap(p.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}), "rollback")
}

func (p *Peer) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(ci)
}

func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onICE = fn
	p.mu.Unlock()
}

// OnTrack sets application-level callback for remote tracks.
func (p *Peer) OnTrack(fn func(ctx context.Context, track core.RemoteTrack)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

// OnClosed sets application-level callback for cleanup tracks
func (p *Peer) OnClosed(fn func()) {
	p.mu.Lock()
	p.onClosed = fn
	p.mu.Unlock()
}

// AddTrack attaches a local track and drains the sender's RTCP so the
// interceptors keep running.
func (p *Peer) AddTrack(track webrtc.TrackLocal) (core.RTPSender, error) {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return nil, errors.Wrap(err, "add track")
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return sender, nil
}

func (p *Peer) RemoveTrack(s core.RTPSender) error {
	sender, ok := s.(*webrtc.RTPSender)
	if !ok {
		return errForeignSender
	}
	return errors.Wrap(p.pc.RemoveTrack(sender), "remove track")
}

func (p *Peer) WriteRTCP(pkts []rtcp.Packet) error {
	return p.pc.WriteRTCP(pkts)
}
