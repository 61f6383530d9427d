package rtc

import (
	"time"

	"github.com/dkeye/Realm/internal/core"
	"github.com/dkeye/Realm/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
)

type Config struct {
	STUNServers []string
	// Codecs registers codecs on the media engine. Nil registers pion's defaults.
	Codecs func(*webrtc.MediaEngine)

	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		STUNServers:         []string{"stun:stun.l.google.com:19302"},
		DisconnectedTimeout: 30 * time.Second,
		FailedTimeout:       120 * time.Second,
		KeepAliveInterval:   2 * time.Second,
	}
}

// Factory builds peers against one shared webrtc.API.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewFactory(cfg Config) (*Factory, error) {
	def := DefaultConfig()
	if cfg.DisconnectedTimeout <= 0 {
		cfg.DisconnectedTimeout = def.DisconnectedTimeout
	}
	if cfg.FailedTimeout <= 0 {
		cfg.FailedTimeout = def.FailedTimeout
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = def.KeepAliveInterval
	}

	me := &webrtc.MediaEngine{}
	if cfg.Codecs != nil {
		cfg.Codecs(me)
	} else if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, errors.Wrap(err, "register codecs")
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, errors.Wrap(err, "register interceptors")
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)
	return &Factory{api: api, cfg: ICEConfig(cfg.STUNServers)}, nil
}

// ICEConfig turns a STUN URL list into a peer configuration.
func ICEConfig(stun []string) webrtc.Configuration {
	if len(stun) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stun}},
	}
}

func (f *Factory) NewPeer(remote domain.UserID) (core.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "new peer connection for %s", remote)
	}
	return newPeer(pc, remote), nil
}
