// Package protocol describes the JSON envelopes exchanged with the realtime
// gateway and decodes inbound ones into a closed set of typed events.
package protocol

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/dkeye/Realm/internal/domain"
)

type Type string

const (
	TypeJoinChannel       Type = "JOIN_CHANNEL"
	TypeLeaveChannel      Type = "LEAVE_CHANNEL"
	TypeJoinRealm         Type = "JOIN_REALM"
	TypeLeaveRealm        Type = "LEAVE_REALM"
	TypeTypingStart       Type = "TYPING_START"
	TypeTypingStop        Type = "TYPING_STOP"
	TypeMessageCreate     Type = "MESSAGE_CREATE"
	TypeMessageUpdate     Type = "MESSAGE_UPDATE"
	TypeMessageDelete     Type = "MESSAGE_DELETE"
	TypeReactionAdd       Type = "MESSAGE_REACTION_ADD"
	TypeReactionRemove    Type = "MESSAGE_REACTION_REMOVE"
	TypeVoiceStateUpdate  Type = "VOICE_STATE_UPDATE"
	TypePresenceUpdate    Type = "PRESENCE_UPDATE"
	TypeVoiceOffer        Type = "VOICE_OFFER"
	TypeVoiceAnswer       Type = "VOICE_ANSWER"
	TypeVoiceICECandidate Type = "VOICE_ICE_CANDIDATE"

	// TypeTyping is the gateway's own broadcast for typing changes.
	TypeTyping Type = "TYPING"
)

// OutboundEnvelope is what the client writes to the socket.
type OutboundEnvelope struct {
	Type      Type             `json:"type"`
	Data      any              `json:"data,omitempty"`
	RealmID   domain.RealmID   `json:"realm_id,omitempty"`
	ChannelID domain.ChannelID `json:"channel_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// InboundEnvelope is what the gateway delivers; Data is decoded per Type.
type InboundEnvelope struct {
	Type      Type             `json:"type"`
	Data      json.RawMessage  `json:"data,omitempty"`
	RealmID   domain.RealmID   `json:"realm_id,omitempty"`
	ChannelID domain.ChannelID `json:"channel_id,omitempty"`
	UserID    domain.UserID    `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Normalize upper-cases the type so lower-case gateway spellings match.
func (t Type) Normalize() Type {
	return Type(strings.ToUpper(string(t)))
}

// Marshal stamps the envelope with now when it carries no timestamp.
func (e OutboundEnvelope) Marshal(now time.Time) ([]byte, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = now.UTC()
	}
	return json.Marshal(e)
}

// ParseInbound reads one socket frame.
func ParseInbound(frame []byte) (InboundEnvelope, error) {
	var env InboundEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return InboundEnvelope{}, &domain.Error{Kind: domain.KindInvalid, Op: "protocol.parse", Err: err}
	}
	env.Type = env.Type.Normalize()
	return env, nil
}
