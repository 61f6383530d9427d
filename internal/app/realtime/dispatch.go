package realtime

import (
	"strings"

	"github.com/dkeye/Realm/internal/domain"
	"github.com/dkeye/Realm/internal/protocol"
	"golang.org/x/time/rate"
)

// JoinRealm remembers the realm and joins it now if the socket is open.
func (c *Client) JoinRealm(id domain.RealmID) error {
	c.subs.AddRealm(id)
	return c.sendIfOpen(protocol.OutboundEnvelope{Type: protocol.TypeJoinRealm, RealmID: id})
}

func (c *Client) LeaveRealm(id domain.RealmID) error {
	c.subs.RemoveRealm(id)
	return c.sendIfOpen(protocol.OutboundEnvelope{Type: protocol.TypeLeaveRealm, RealmID: id})
}

// JoinChannel remembers the channel and joins it now if the socket is open.
func (c *Client) JoinChannel(id domain.ChannelID) error {
	c.subs.AddChannel(id)
	return c.sendIfOpen(protocol.OutboundEnvelope{Type: protocol.TypeJoinChannel, ChannelID: id})
}

func (c *Client) LeaveChannel(id domain.ChannelID) error {
	c.subs.RemoveChannel(id)
	c.forgetTyping(id)
	return c.sendIfOpen(protocol.OutboundEnvelope{Type: protocol.TypeLeaveChannel, ChannelID: id})
}

func (c *Client) SendMessage(channel domain.ChannelID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return &domain.Error{Kind: domain.KindInvalid, Op: "realtime.message_create", Msg: "empty content"}
	}
	return c.Send(protocol.OutboundEnvelope{
		Type:      protocol.TypeMessageCreate,
		ChannelID: channel,
		Data:      protocol.MessageCreateData{Content: content, Type: domain.MessageText},
	})
}

func (c *Client) EditMessage(channel domain.ChannelID, id domain.MessageID, content string) error {
	return c.Send(protocol.OutboundEnvelope{
		Type:      protocol.TypeMessageUpdate,
		ChannelID: channel,
		Data:      protocol.MessageUpdateData{MessageID: id, Content: content},
	})
}

func (c *Client) DeleteMessage(channel domain.ChannelID, id domain.MessageID) error {
	return c.Send(protocol.OutboundEnvelope{
		Type:      protocol.TypeMessageDelete,
		ChannelID: channel,
		Data:      protocol.MessageDeleteData{MessageID: id},
	})
}

func (c *Client) AddReaction(channel domain.ChannelID, id domain.MessageID, emoji string) error {
	return c.Send(protocol.OutboundEnvelope{
		Type:      protocol.TypeReactionAdd,
		ChannelID: channel,
		Data:      protocol.ReactionData{MessageID: id, Emoji: emoji},
	})
}

func (c *Client) RemoveReaction(channel domain.ChannelID, id domain.MessageID, emoji string) error {
	return c.Send(protocol.OutboundEnvelope{
		Type:      protocol.TypeReactionRemove,
		ChannelID: channel,
		Data:      protocol.ReactionData{MessageID: id, Emoji: emoji},
	})
}

// StartTyping sends at most one TYPING_START per channel per typing interval.
func (c *Client) StartTyping(channel domain.ChannelID) error {
	if !c.typingLimiter(channel).Allow() {
		return nil
	}
	return c.Send(protocol.OutboundEnvelope{Type: protocol.TypeTypingStart, ChannelID: channel})
}

// StopTyping always sends and lets the next StartTyping through immediately.
func (c *Client) StopTyping(channel domain.ChannelID) error {
	c.forgetTyping(channel)
	return c.Send(protocol.OutboundEnvelope{Type: protocol.TypeTypingStop, ChannelID: channel})
}

func (c *Client) typingLimiter(channel domain.ChannelID) *rate.Limiter {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	l, ok := c.typing[channel]
	if !ok {
		l = rate.NewLimiter(rate.Every(c.opts.TypingInterval), 1)
		c.typing[channel] = l
	}
	return l
}

func (c *Client) forgetTyping(channel domain.ChannelID) {
	c.typingMu.Lock()
	delete(c.typing, channel)
	c.typingMu.Unlock()
}

func (c *Client) UpdatePresence(status domain.Status, activity string) error {
	if !status.Valid() {
		return &domain.Error{Kind: domain.KindInvalid, Op: "realtime.presence", Err: domain.ErrInvalidStatus}
	}
	return c.Send(protocol.OutboundEnvelope{
		Type: protocol.TypePresenceUpdate,
		Data: protocol.PresenceData{Status: status, Activity: activity},
	})
}

func (c *Client) UpdateVoiceState(st protocol.VoiceStateData) error {
	env := protocol.OutboundEnvelope{Type: protocol.TypeVoiceStateUpdate, Data: st}
	if st.ChannelID != nil {
		env.ChannelID = *st.ChannelID
	}
	return c.Send(env)
}

// SendSignal carries one WebRTC negotiation step to target inside channel.
func (c *Client) SendSignal(kind protocol.Type, channel domain.ChannelID, data protocol.SignalData) error {
	switch kind {
	case protocol.TypeVoiceOffer, protocol.TypeVoiceAnswer, protocol.TypeVoiceICECandidate:
	default:
		return &domain.Error{Kind: domain.KindInvalid, Op: "realtime.signal", Msg: string(kind)}
	}
	return c.Send(protocol.OutboundEnvelope{Type: kind, ChannelID: channel, Data: data})
}
