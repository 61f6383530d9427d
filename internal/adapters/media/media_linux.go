//go:build linux

package media

import (
	"context"
	"io"
	"sync"

	"github.com/dkeye/Realm/internal/core"
	"github.com/dkeye/Realm/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Devices captures the microphone (malgo) and the X11 screen through
// pion/mediadevices.
type Devices struct {
	selector *mediadevices.CodecSelector
	logger   zerolog.Logger
}

func NewDevices() (*Devices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, errors.Wrap(err, "vp8 params")
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, errors.Wrap(err, "opus params")
	}

	return &Devices{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		logger: log.With().Str("module", "adapters.media").Logger(),
	}, nil
}

// Populate registers the capture codecs on a media engine.
func (d *Devices) Populate(me *webrtc.MediaEngine) { d.selector.Populate(me) }

func (d *Devices) GetUserMedia(ctx context.Context) (core.AudioCapture, error) {
	const op = "media.microphone"
	if err := ctx.Err(); err != nil {
		return nil, domain.E(domain.KindTimeout, op, err)
	}
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(*mediadevices.MediaTrackConstraints) {},
		Codec: d.selector,
	})
	if err != nil {
		d.logger.Warn().Err(err).Msg("GetUserMedia failed")
		return nil, domain.E(domain.KindPermissionDenied, op, errors.Wrap(domain.ErrPermissionDenied, err.Error()))
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, domain.E(domain.KindPermissionDenied, op, domain.ErrNoMediaDevice)
	}
	for _, extra := range tracks[1:] {
		_ = extra.Close()
	}

	at, ok := tracks[0].(*mediadevices.AudioTrack)
	if !ok {
		_ = tracks[0].Close()
		return nil, domain.E(domain.KindInvalid, op, errors.New("microphone track has no raw reader"))
	}
	c, err := newCapture(tracks[0], OpusCapability, d.logger)
	if err != nil {
		return nil, domain.E(domain.KindInvalid, op, err)
	}
	c.pcm = at.NewReader(false)
	d.logger.Info().Str("track", c.ID()).Msg("microphone captured")
	return c, nil
}

func (d *Devices) GetDisplayMedia(ctx context.Context) (core.CaptureTrack, error) {
	const op = "media.display"
	if err := ctx.Err(); err != nil {
		return nil, domain.E(domain.KindTimeout, op, err)
	}
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(*mediadevices.MediaTrackConstraints) {},
		Codec: d.selector,
	})
	if err != nil {
		d.logger.Warn().Err(err).Msg("GetDisplayMedia failed")
		return nil, domain.E(domain.KindPermissionDenied, op, errors.Wrap(domain.ErrPermissionDenied, err.Error()))
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, domain.E(domain.KindPermissionDenied, op, domain.ErrNoMediaDevice)
	}
	c, err := newCapture(tracks[0], VP8Capability, d.logger)
	if err != nil {
		return nil, domain.E(domain.KindInvalid, op, err)
	}
	d.logger.Info().Str("track", c.ID()).Msg("display captured")
	return c, nil
}

// capture is one mediadevices track read as encoded samples.
type capture struct {
	track  mediadevices.Track
	codec  webrtc.RTPCodecCapability
	enc    mediadevices.EncodedReadCloser
	pcm    audio.Reader
	logger zerolog.Logger

	mu      sync.Mutex
	onEnded func()
	stopped bool
	once    sync.Once
}

func newCapture(track mediadevices.Track, codec webrtc.RTPCodecCapability, logger zerolog.Logger) (*capture, error) {
	enc, err := track.NewEncodedReader(codec.MimeType)
	if err != nil {
		_ = track.Close()
		return nil, errors.Wrapf(err, "%s encoder", codec.MimeType)
	}
	c := &capture{
		track:  track,
		codec:  codec,
		enc:    enc,
		logger: logger.With().Str("track", track.ID()).Logger(),
	}
	track.OnEnded(func(err error) {
		c.mu.Lock()
		fn, stopped := c.onEnded, c.stopped
		c.mu.Unlock()
		if stopped {
			return
		}
		c.logger.Info().Err(err).Msg("capture ended")
		if fn != nil {
			fn()
		}
	})
	return c, nil
}

func (c *capture) ID() string { return c.track.ID() }

func (c *capture) Kind() webrtc.RTPCodecType { return c.track.Kind() }

func (c *capture) Codec() webrtc.RTPCodecCapability { return c.codec }

func (c *capture) ReadSample() (media.Sample, error) {
	buf, release, err := c.enc.Read()
	if err != nil {
		return media.Sample{}, err
	}
	if release != nil {
		defer release()
	}
	data := make([]byte, len(buf.Data))
	copy(data, buf.Data)
	return media.Sample{Data: data, Duration: sampleDuration(buf.Samples, c.codec.ClockRate)}, nil
}

func (c *capture) ReadPCM() ([]float32, error) {
	if c.pcm == nil {
		return nil, io.EOF
	}
	chunk, release, err := c.pcm.Read()
	if err != nil {
		return nil, err
	}
	if release != nil {
		defer release()
	}
	switch v := chunk.(type) {
	case *wave.Int16Interleaved:
		return downmixInt16(v.Data, v.Size.Channels), nil
	case *wave.Float32Interleaved:
		return downmixFloat32(v.Data, v.Size.Channels), nil
	}
	return nil, errors.Errorf("unsupported pcm chunk %T", chunk)
}

func (c *capture) OnEnded(fn func()) {
	c.mu.Lock()
	c.onEnded = fn
	c.mu.Unlock()
}

func (c *capture) Stop() {
	c.once.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()
		if err := c.enc.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("encoder close")
		}
		if err := c.track.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("track close")
		}
	})
}
