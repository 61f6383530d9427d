package core

import (
	"context"

	"github.com/dkeye/Realm/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// PeerConnection is one WebRTC session with a single remote user.
type PeerConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()

	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	HasRemoteDescription() bool
	SignalingState() webrtc.SignalingState
	// Rollback discards a pending local offer.
	Rollback() error

	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track RemoteTrack))
	// OnClosed sets a callback for cleanup media session.
	OnClosed(func())

	AddTrack(webrtc.TrackLocal) (RTPSender, error)
	RemoveTrack(RTPSender) error
	WriteRTCP([]rtcp.Packet) error
}

type RTPSender interface {
	Track() webrtc.TrackLocal
	ReplaceTrack(webrtc.TrackLocal) error
}

// RemoteTrack is the read side of an inbound media track.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	SSRC() webrtc.SSRC
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// PeerFactory builds peers against the shared WebRTC API.
type PeerFactory interface {
	NewPeer(remote domain.UserID) (PeerConnection, error)
}

// CaptureTrack is an encoded local media source.
type CaptureTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecCapability
	// ReadSample blocks until the next encoded sample is ready.
	ReadSample() (media.Sample, error)
	// OnEnded fires once when the source stops on its own.
	OnEnded(func())
	Stop()
}

// AudioCapture is a microphone: encoded samples plus a raw PCM tap for level analysis.
type AudioCapture interface {
	CaptureTrack
	// ReadPCM returns the next chunk of mono samples in [-1, 1].
	ReadPCM() ([]float32, error)
}

// MediaDevices acquires local capture. GetUserMedia fails with
// domain.ErrPermissionDenied when the device cannot be opened.
type MediaDevices interface {
	GetUserMedia(ctx context.Context) (AudioCapture, error)
	GetDisplayMedia(ctx context.Context) (CaptureTrack, error)
}

// AudioDecoder turns one Opus payload into mono PCM.
type AudioDecoder interface {
	Decode(payload []byte) ([]float32, error)
}

type DecoderFactory func() (AudioDecoder, error)

// PlaybackSink receives decoded remote audio already scaled by the
// participant's volume.
type PlaybackSink interface {
	Play(from domain.UserID, pcm []float32)
}

// ForgettingSink is a PlaybackSink that keeps per-user state and must be told
// when a user is gone.
type ForgettingSink interface {
	PlaybackSink
	Forget(from domain.UserID)
}
