package rest

import (
	"context"
	"net/http"

	"github.com/dkeye/Realm/internal/domain"
)

// The voice routes satisfy voice.API.

func (c *Client) JoinVoice(ctx context.Context, channel domain.ChannelID) (*domain.VoiceState, error) {
	var st domain.VoiceState
	in := map[string]string{"channel_id": string(channel)}
	if err := c.do(ctx, http.MethodPost, "/voice/join", nil, in, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) LeaveVoice(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/voice/leave", nil, nil, nil)
}

// UpdateVoiceState sends only the fields set in patch. The backend answers
// with an acknowledgement, so the returned state echoes the patch.
func (c *Client) UpdateVoiceState(ctx context.Context, patch domain.VoiceStatePatch) (*domain.VoiceState, error) {
	if err := c.do(ctx, http.MethodPut, "/voice/state", nil, patch, nil); err != nil {
		return nil, err
	}
	st := &domain.VoiceState{}
	if patch.Muted != nil {
		st.Muted = *patch.Muted
	}
	if patch.Deafened != nil {
		st.Deafened = *patch.Deafened
	}
	if patch.Streaming != nil {
		st.Streaming = *patch.Streaming
	}
	return st, nil
}

func (c *Client) VoiceUsers(ctx context.Context, channel domain.ChannelID) ([]domain.VoiceState, error) {
	return list[domain.VoiceState](ctx, c, "/voice/channels/"+seg(string(channel))+"/users", nil)
}
