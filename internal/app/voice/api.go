package voice

import (
	"context"

	"github.com/dkeye/Realm/internal/app/fanout"
	"github.com/dkeye/Realm/internal/domain"
	"github.com/dkeye/Realm/internal/protocol"
)

// API is the REST side of voice presence.
type API interface {
	JoinVoice(ctx context.Context, channel domain.ChannelID) (*domain.VoiceState, error)
	LeaveVoice(ctx context.Context) error
	UpdateVoiceState(ctx context.Context, patch domain.VoiceStatePatch) (*domain.VoiceState, error)
	VoiceUsers(ctx context.Context, channel domain.ChannelID) ([]domain.VoiceState, error)
}

// Signaler is the realtime side: live state broadcast, WebRTC negotiation
// and the inbound event stream.
type Signaler interface {
	SendSignal(kind protocol.Type, channel domain.ChannelID, data protocol.SignalData) error
	UpdateVoiceState(st protocol.VoiceStateData) error
	Subscribe(opts ...fanout.Option[protocol.Event]) *fanout.Subscription[protocol.Event]
}
