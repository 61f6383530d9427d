package voice

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/dkeye/Realm/internal/core"
	"github.com/dkeye/Realm/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// pumpLocal reads encoded samples from a capture source and forwards them to
// the shared local track while the gate is open.
func pumpLocal(ctx context.Context, src core.CaptureTrack, dst *webrtc.TrackLocalStaticSample, g *gate, logger zerolog.Logger) {
	logger = logger.With().Str("track", src.ID()).Str("kind", src.Kind().String()).Logger()
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("local pump ctx done")
			return
		default:
		}
		sample, err := src.ReadSample()
		if err != nil {
			logger.Debug().Err(err).Msg("local pump source closed")
			return
		}
		switch g.State() {
		case GateDelete:
			return
		case GateMuted:
		case GateOpen:
			if err := dst.WriteSample(sample); err != nil {
				logger.Warn().Err(err).Msg("local pump write error")
			}
		}
	}
}

// remoteStream is one inbound track from a remote user.
type remoteStream struct {
	user     domain.UserID
	track    core.RemoteTrack
	detector *SpeakingDetector
	gain     atomic.Uint64 // math.Float64bits
}

func (rs *remoteStream) setGain(v float64) { rs.gain.Store(math.Float64bits(v)) }

func (rs *remoteStream) getGain() float64 { return math.Float64frombits(rs.gain.Load()) }

func (c *Connection) onRemoteTrack(ctx context.Context, p *peer, track core.RemoteTrack) {
	m := c.m
	logger := p.logger.With().Str("track_id", track.ID()).Str("kind", track.Kind().String()).Logger()
	rs := &remoteStream{user: p.user, track: track}
	rs.setGain(1)

	var dec core.AudioDecoder
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		rs.detector = &SpeakingDetector{
			Analyser:  NewAnalyser(m.opts.Config.FFTSize),
			Threshold: m.opts.Config.RemoteThreshold,
		}
		if m.opts.Decoders != nil {
			d, err := m.opts.Decoders()
			if err != nil {
				logger.Error().Err(err).Msg("create decoder")
			} else {
				dec = d
			}
		}
	}

	m.mu.Lock()
	if c.peers[p.user] != p {
		m.mu.Unlock()
		return
	}
	if part, ok := c.participants[p.user]; ok {
		rs.setGain(part.Volume)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			part.Streaming = true
		}
	}
	c.remotes[p.user] = append(c.remotes[p.user], rs)
	m.mu.Unlock()

	logger.Info().Str("codec", track.Codec().MimeType).Msg("remote track started")
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go c.requestKeyframes(ctx, p, track, logger)
	}
	c.relayRemote(ctx, rs, dec, logger)
	c.dropRemote(p.user, rs)
}

// relayRemote reads RTP from the remote track, feeds the speaking analyser
// and hands audio to the playback sink unless deafened.
func (c *Connection) relayRemote(ctx context.Context, rs *remoteStream, dec core.AudioDecoder, logger zerolog.Logger) {
	m := c.m
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("remote relay ctx done")
			return
		default:
		}
		pkt, _, err := rs.track.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("remote relay read RTP error, stopping")
			return
		}
		if dec == nil {
			continue
		}
		c.playRemote(rs, dec, pkt, m.opts.Sink, logger)
	}
}

func (c *Connection) playRemote(rs *remoteStream, dec core.AudioDecoder, pkt *rtp.Packet, sink core.PlaybackSink, logger zerolog.Logger) {
	if len(pkt.Payload) == 0 {
		return
	}
	pcm, err := dec.Decode(pkt.Payload)
	if err != nil {
		logger.Debug().Err(err).Uint16("seq", pkt.SequenceNumber).Msg("decode error")
		return
	}
	rs.detector.Analyser.Write(pcm)

	if sink == nil || c.m.deafenedFlag.Load() {
		return
	}
	gain := rs.getGain()
	if gain != 1 {
		scaled := make([]float32, len(pcm))
		for i, s := range pcm {
			scaled[i] = float32(math.Max(-1, math.Min(1, float64(s)*gain)))
		}
		pcm = scaled
	}
	sink.Play(rs.user, pcm)
}

// requestKeyframes asks the sender of a screen share for a fresh keyframe on
// start and then periodically, so late joiners get a decodable picture.
func (c *Connection) requestKeyframes(ctx context.Context, p *peer, track core.RemoteTrack, logger zerolog.Logger) {
	send := func() bool {
		pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
		if err := p.pc.WriteRTCP(pli); err != nil {
			logger.Debug().Err(err).Msg("PLI write failed, stopping")
			return false
		}
		return true
	}
	if !send() {
		return
	}
	t := time.NewTicker(c.m.opts.Config.KeyframeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !send() {
				return
			}
		}
	}
}

func (c *Connection) dropRemote(user domain.UserID, rs *remoteStream) {
	m := c.m
	m.mu.Lock()
	streams := c.remotes[user]
	for i, s := range streams {
		if s == rs {
			c.remotes[user] = append(streams[:i], streams[i+1:]...)
			break
		}
	}
	if len(c.remotes[user]) == 0 {
		delete(c.remotes, user)
	}
	if part, ok := c.participants[user]; ok && rs.track.Kind() == webrtc.RTPCodecTypeAudio {
		part.Speaking = false
	}
	m.mu.Unlock()
	m.notify()
}
