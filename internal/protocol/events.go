package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/Realm/internal/domain"
)

// Event is the closed set of things a subscriber can receive. The unexported
// marker keeps implementations inside this package.
type Event interface {
	EventType() Type
	Routing() Meta
	isEvent()
}

// Meta is the routing information common to every inbound envelope.
type Meta struct {
	RealmID   domain.RealmID   `json:"realm_id,omitempty"`
	ChannelID domain.ChannelID `json:"channel_id,omitempty"`
	UserID    domain.UserID    `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

func (m Meta) Routing() Meta { return m }
func (Meta) isEvent()        {}

type MessageCreated struct {
	Meta
	Message domain.Message `json:"message"`
}

type MessageUpdated struct {
	Meta
	Message domain.Message `json:"message"`
}

type MessageDeleted struct {
	Meta
	MessageID domain.MessageID `json:"message_id"`
}

type ReactionAdded struct {
	Meta
	MessageID domain.MessageID `json:"message_id"`
	Emoji     string           `json:"emoji"`
}

type ReactionRemoved struct {
	Meta
	MessageID domain.MessageID `json:"message_id"`
	Emoji     string           `json:"emoji"`
}

type Typing struct {
	Meta
	Typing bool `json:"typing"`
}

type PresenceUpdated struct {
	Meta
	Status   domain.Status `json:"status"`
	Activity string        `json:"activity,omitempty"`
}

type VoiceStateUpdated struct {
	Meta
	State    domain.VoiceState `json:"state"`
	Speaking bool              `json:"speaking"`
}

// VoiceSignal is one offer, answer or ICE candidate from a remote peer.
type VoiceSignal struct {
	Meta
	Kind   Type       `json:"kind"`
	Signal SignalData `json:"signal"`
}

// Unknown keeps envelopes of types this client does not model.
type Unknown struct {
	Meta
	Type Type            `json:"type"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}

// ConnState is the realtime connection lifecycle.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateOpen
	StateClosed
	StateOffline
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateOffline:
		return "offline"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s ConnState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ConnectionStateChanged is produced locally, never by the gateway.
type ConnectionStateChanged struct {
	Meta
	State   ConnState `json:"state"`
	Attempt int       `json:"attempt"`
	Err     string    `json:"error,omitempty"`
}

const TypeConnectionState Type = "CONNECTION_STATE"

func (MessageCreated) EventType() Type  { return TypeMessageCreate }
func (MessageUpdated) EventType() Type  { return TypeMessageUpdate }
func (MessageDeleted) EventType() Type  { return TypeMessageDelete }
func (ReactionAdded) EventType() Type   { return TypeReactionAdd }
func (ReactionRemoved) EventType() Type { return TypeReactionRemove }
func (PresenceUpdated) EventType() Type { return TypePresenceUpdate }

func (VoiceStateUpdated) EventType() Type      { return TypeVoiceStateUpdate }
func (e VoiceSignal) EventType() Type          { return e.Kind }
func (e Unknown) EventType() Type              { return e.Type }
func (ConnectionStateChanged) EventType() Type { return TypeConnectionState }

func (e Typing) EventType() Type {
	if e.Typing {
		return TypeTypingStart
	}
	return TypeTypingStop
}

// Decode turns an inbound envelope into its typed event. Types outside the
// known set become Unknown; a known type with a malformed payload is an error.
func Decode(env InboundEnvelope) (Event, error) {
	meta := Meta{
		RealmID:   env.RealmID,
		ChannelID: env.ChannelID,
		UserID:    env.UserID,
		Timestamp: env.Timestamp,
	}

	switch env.Type.Normalize() {
	case TypeMessageCreate:
		var m domain.Message
		if err := unmarshal(env, &m); err != nil {
			return nil, err
		}
		return MessageCreated{Meta: meta, Message: m}, nil
	case TypeMessageUpdate:
		var m domain.Message
		if err := unmarshal(env, &m); err != nil {
			return nil, err
		}
		return MessageUpdated{Meta: meta, Message: m}, nil
	case TypeMessageDelete:
		var d MessageDeleteData
		if err := unmarshal(env, &d); err != nil {
			return nil, err
		}
		return MessageDeleted{Meta: meta, MessageID: d.MessageID}, nil
	case TypeReactionAdd:
		var d ReactionData
		if err := unmarshal(env, &d); err != nil {
			return nil, err
		}
		return ReactionAdded{Meta: meta, MessageID: d.MessageID, Emoji: d.Emoji}, nil
	case TypeReactionRemove:
		var d ReactionData
		if err := unmarshal(env, &d); err != nil {
			return nil, err
		}
		return ReactionRemoved{Meta: meta, MessageID: d.MessageID, Emoji: d.Emoji}, nil
	case TypeTypingStart:
		return Typing{Meta: meta, Typing: true}, nil
	case TypeTypingStop:
		return Typing{Meta: meta, Typing: false}, nil
	case TypeTyping:
		var d legacyTypingData
		if err := unmarshal(env, &d); err != nil {
			return nil, err
		}
		if d.UserID != "" {
			meta.UserID = d.UserID
		}
		return Typing{Meta: meta, Typing: d.IsTyping}, nil
	case TypePresenceUpdate:
		var d PresenceData
		if err := unmarshal(env, &d); err != nil {
			return nil, err
		}
		return PresenceUpdated{Meta: meta, Status: d.Status, Activity: d.Activity}, nil
	case TypeVoiceStateUpdate:
		var d struct {
			domain.VoiceState
			Speaking bool `json:"speaking"`
		}
		if err := unmarshal(env, &d); err != nil {
			return nil, err
		}
		if d.UserID == "" {
			d.UserID = env.UserID
		}
		return VoiceStateUpdated{Meta: meta, State: d.VoiceState, Speaking: d.Speaking}, nil
	case TypeVoiceOffer, TypeVoiceAnswer, TypeVoiceICECandidate:
		var d SignalData
		if err := unmarshal(env, &d); err != nil {
			return nil, err
		}
		return VoiceSignal{Meta: meta, Kind: env.Type.Normalize(), Signal: d}, nil
	}
	return Unknown{Meta: meta, Type: env.Type, Raw: env.Data}, nil
}

func unmarshal(env InboundEnvelope, v any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return &domain.Error{
			Kind: domain.KindInvalid,
			Op:   "protocol.decode",
			Msg:  string(env.Type),
			Err:  err,
		}
	}
	return nil
}
