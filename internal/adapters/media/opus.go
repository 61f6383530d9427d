package media

import (
	"github.com/dkeye/Realm/internal/core"
	"github.com/pkg/errors"
	"layeh.com/gopus"
)

const (
	opusSampleRate = 48000
	opusChannels   = 2
	// 120 ms at 48 kHz, the largest Opus frame.
	opusMaxFrame = 5760
)

// OpusDecoder turns WebRTC Opus payloads into mono PCM for speaking
// detection and playback.
type OpusDecoder struct {
	dec *gopus.Decoder
}

func NewOpusDecoder() (core.AudioDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, errors.Wrap(err, "opus decoder")
	}
	return &OpusDecoder{dec: dec}, nil
}

func (d *OpusDecoder) Decode(payload []byte) ([]float32, error) {
	pcm, err := d.dec.Decode(payload, opusMaxFrame, false)
	if err != nil {
		return nil, errors.Wrap(err, "opus decode")
	}
	return downmixInt16(pcm, opusChannels), nil
}
