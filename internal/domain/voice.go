package domain

import "time"

// VoiceState is the server-side record of a user's voice presence.
type VoiceState struct {
	ID        string     `json:"id,omitempty"`
	UserID    UserID     `json:"user_id"`
	ChannelID *ChannelID `json:"channel_id"`
	Muted     bool       `json:"muted"`
	Deafened  bool       `json:"deafened"`
	SelfMuted bool       `json:"self_muted"`
	SelfDeaf  bool       `json:"self_deaf"`
	Streaming bool       `json:"streaming"`
	UpdatedAt time.Time  `json:"updated_at"`
	User      *User      `json:"user,omitempty"`
}

// VoiceStatePatch is a partial update; nil fields are left untouched.
type VoiceStatePatch struct {
	Muted     *bool `json:"muted,omitempty"`
	Deafened  *bool `json:"deafened,omitempty"`
	Streaming *bool `json:"streaming,omitempty"`
}

// Participant is the local view of someone in a voice channel.
// Speaking is derived from audio analysis and never persisted.
type Participant struct {
	UserID    UserID  `json:"user_id"`
	Username  string  `json:"username"`
	Avatar    string  `json:"avatar,omitempty"`
	Muted     bool    `json:"muted"`
	Deafened  bool    `json:"deafened"`
	Streaming bool    `json:"streaming"`
	Connected bool    `json:"connected"`
	Speaking  bool    `json:"speaking"`
	Volume    float64 `json:"volume"`
}

// NewParticipant builds a participant from a server voice state.
func NewParticipant(st VoiceState) *Participant {
	p := &Participant{
		UserID:    st.UserID,
		Muted:     st.Muted || st.SelfMuted,
		Deafened:  st.Deafened || st.SelfDeaf,
		Streaming: st.Streaming,
		Connected: true,
		Volume:    1,
	}
	if st.User != nil {
		p.Username = st.User.Name()
		p.Avatar = st.User.Avatar
	}
	return p
}
