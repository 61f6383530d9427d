// Package media adapts local capture devices and remote Opus audio to the
// voice manager's interfaces.
package media

import (
	"time"

	"github.com/pion/webrtc/v4"
)

var (
	OpusCapability = webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	}
	VP8Capability = webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}
)

// downmixInt16 averages interleaved channels into mono floats in [-1, 1].
func downmixInt16(data []int16, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	out := make([]float32, len(data)/channels)
	for i := range out {
		var sum int32
		for ch := range channels {
			sum += int32(data[i*channels+ch])
		}
		out[i] = float32(sum) / float32(channels) / 32768
	}
	return out
}

func downmixFloat32(data []float32, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	out := make([]float32, len(data)/channels)
	for i := range out {
		var sum float32
		for ch := range channels {
			sum += data[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// sampleDuration converts an RTP sample count at clockRate into wall time.
func sampleDuration(samples, clockRate uint32) time.Duration {
	if clockRate == 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(clockRate)
}
