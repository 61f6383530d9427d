package protocol

import (
	"github.com/dkeye/Realm/internal/domain"
)

type MessageCreateData struct {
	Content string             `json:"content"`
	Type    domain.MessageType `json:"type,omitempty"`
}

type MessageUpdateData struct {
	MessageID domain.MessageID `json:"message_id"`
	Content   string           `json:"content"`
}

type MessageDeleteData struct {
	MessageID domain.MessageID `json:"message_id"`
}

type ReactionData struct {
	MessageID domain.MessageID `json:"message_id"`
	Emoji     string           `json:"emoji"`
}

type PresenceData struct {
	Status   domain.Status `json:"status"`
	Activity string        `json:"activity,omitempty"`
}

// VoiceStateData is the live voice flag set a client publishes for itself.
type VoiceStateData struct {
	ChannelID *domain.ChannelID `json:"channel_id"`
	Muted     bool              `json:"muted"`
	Deafened  bool              `json:"deafened"`
	Streaming bool              `json:"streaming"`
	Speaking  bool              `json:"speaking"`
}

// legacyTypingData is carried by the gateway's lower-case "typing" broadcast.
type legacyTypingData struct {
	UserID   domain.UserID `json:"user_id"`
	IsTyping bool          `json:"is_typing"`
}

// SignalData rides on VOICE_OFFER, VOICE_ANSWER and VOICE_ICE_CANDIDATE.
// Only the field matching the envelope type is set.
type SignalData struct {
	TargetUserID  domain.UserID `json:"target_user_id"`
	SDP           string        `json:"sdp,omitempty"`
	Candidate     string        `json:"candidate,omitempty"`
	SDPMid        *string       `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16       `json:"sdp_mline_index,omitempty"`
}
