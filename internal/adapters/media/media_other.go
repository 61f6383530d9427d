//go:build !linux

package media

import (
	"context"

	"github.com/dkeye/Realm/internal/core"
	"github.com/dkeye/Realm/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Devices has no capture backend on this platform. Voice joins fail with a
// permission error and the client stays receive-only.
type Devices struct{}

func NewDevices() (*Devices, error) {
	log.Warn().Str("module", "adapters.media").Msg("local capture is only supported on linux")
	return &Devices{}, nil
}

func (d *Devices) Populate(me *webrtc.MediaEngine) {
	if err := me.RegisterDefaultCodecs(); err != nil {
		log.Error().Err(err).Str("module", "adapters.media").Msg("register codecs")
	}
}

func (d *Devices) GetUserMedia(context.Context) (core.AudioCapture, error) {
	return nil, domain.E(domain.KindPermissionDenied, "media.microphone", domain.ErrNoMediaDevice)
}

func (d *Devices) GetDisplayMedia(context.Context) (core.CaptureTrack, error) {
	return nil, domain.E(domain.KindPermissionDenied, "media.display", domain.ErrNoMediaDevice)
}
