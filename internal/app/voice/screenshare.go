package voice

import (
	"context"

	"github.com/dkeye/Realm/internal/core"
	"github.com/dkeye/Realm/internal/domain"
	"github.com/pion/webrtc/v4"
)

// StartScreenShare captures the display and sends it to every peer. When the
// capture ends on its own (the user stops sharing from the OS picker) the
// share is reverted without an explicit StopScreenShare.
func (m *Manager) StartScreenShare(ctx context.Context) error {
	m.mu.Lock()
	conn := m.currentLocked()
	if conn == nil {
		m.mu.Unlock()
		return domain.E(domain.KindInvalid, "voice.screenshare", domain.ErrNotInVoice)
	}
	if conn.screen != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	src, err := m.opts.Devices.GetDisplayMedia(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("display capture unavailable")
		kind := domain.KindOf(err)
		if kind == domain.KindUnknown {
			kind = domain.KindPermissionDenied
		}
		return domain.E(kind, "voice.screenshare", err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(src.Codec(), "screen-"+string(m.self), "realm-"+string(m.self))
	if err != nil {
		src.Stop()
		return domain.E(domain.KindInvalid, "voice.screenshare", err)
	}

	m.mu.Lock()
	if m.currentLocked() != conn || conn.screen != nil {
		m.mu.Unlock()
		src.Stop()
		return nil
	}
	conn.screen = src
	conn.video = video
	conn.screenGate = &gate{}
	renegotiate := make([]*peer, 0, len(conn.peers))
	for _, p := range conn.peers {
		if p.videoSender != nil {
			if err := p.videoSender.ReplaceTrack(video); err != nil {
				p.logger.Warn().Err(err).Msg("replace screen track")
			}
			continue
		}
		sender, err := p.pc.AddTrack(video)
		if err != nil {
			p.logger.Warn().Err(err).Msg("add screen track")
			continue
		}
		p.videoSender = sender
		renegotiate = append(renegotiate, p)
	}
	g := conn.screenGate
	m.mu.Unlock()

	src.OnEnded(func() {
		m.logger.Info().Msg("display capture ended")
		if err := m.stopScreenShare(context.Background(), src); err != nil {
			m.logger.Warn().Err(err).Msg("auto stop screen share")
		}
	})
	conn.goLoop(func() { pumpLocal(conn.ctx, src, video, g, conn.logger) })

	for _, p := range renegotiate {
		conn.negotiate(p)
	}
	m.logger.Info().Int("peers", len(renegotiate)).Msg("screen share started")
	err = m.pushStreaming(ctx, true)
	m.notify()
	return err
}

func (m *Manager) StopScreenShare(ctx context.Context) error {
	return m.stopScreenShare(ctx, nil)
}

// stopScreenShare ends the current share. When only is set, the share is
// stopped only if it still uses that capture, so an ended callback from an
// older share cannot stop a newer one.
func (m *Manager) stopScreenShare(ctx context.Context, only core.CaptureTrack) error {
	m.mu.Lock()
	conn := m.currentLocked()
	if conn == nil || conn.screen == nil || (only != nil && conn.screen != only) {
		m.mu.Unlock()
		return nil
	}
	src := conn.screen
	conn.screenGate.Delete()
	conn.screen, conn.video, conn.screenGate = nil, nil, nil
	renegotiate := make([]*peer, 0, len(conn.peers))
	for _, p := range conn.peers {
		if p.videoSender == nil {
			continue
		}
		if err := p.pc.RemoveTrack(p.videoSender); err != nil {
			p.logger.Warn().Err(err).Msg("remove screen track")
		}
		p.videoSender = nil
		renegotiate = append(renegotiate, p)
	}
	m.mu.Unlock()

	src.Stop()
	for _, p := range renegotiate {
		conn.negotiate(p)
	}
	m.logger.Info().Msg("screen share stopped")
	err := m.pushStreaming(ctx, false)
	m.notify()
	return err
}

func (m *Manager) pushStreaming(ctx context.Context, streaming bool) error {
	_, err := m.opts.API.UpdateVoiceState(ctx, domain.VoiceStatePatch{Streaming: &streaming})
	if err != nil {
		m.logger.Warn().Err(err).Msg("streaming state update rejected")
	}
	m.publishState(ctx)
	return err
}
