package rest

import (
	"context"
	"net/http"
	"strings"

	"github.com/dkeye/Realm/internal/domain"
	"github.com/pkg/errors"
)

var errEmptyContent = errors.New("message content required")

func (c *Client) SendMessage(ctx context.Context, channel domain.ChannelID, content string) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domain.E(domain.KindInvalid, "rest.send_message", errEmptyContent)
	}
	var m domain.Message
	in := map[string]string{"content": content, "type": string(domain.MessageText)}
	if err := c.do(ctx, http.MethodPost, "/channels/"+seg(string(channel))+"/messages", nil, in, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) Messages(ctx context.Context, channel domain.ChannelID, page domain.Page) ([]domain.Message, error) {
	return list[domain.Message](ctx, c, "/channels/"+seg(string(channel))+"/messages", pageQuery(page))
}

func (c *Client) EditMessage(ctx context.Context, id domain.MessageID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.E(domain.KindInvalid, "rest.edit_message", errEmptyContent)
	}
	return c.do(ctx, http.MethodPut, "/messages/"+seg(string(id)), nil, map[string]string{"content": content}, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, id domain.MessageID) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+seg(string(id)), nil, nil, nil)
}

func (c *Client) AddReaction(ctx context.Context, id domain.MessageID, emoji string) error {
	return c.do(ctx, http.MethodPost, "/messages/"+seg(string(id))+"/reactions", nil, map[string]string{"emoji": emoji}, nil)
}

func (c *Client) RemoveReaction(ctx context.Context, id domain.MessageID, emoji string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+seg(string(id))+"/reactions/"+seg(emoji), nil, nil, nil)
}

func (c *Client) SendDirectMessage(ctx context.Context, to domain.UserID, content string) (*domain.DirectMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domain.E(domain.KindInvalid, "rest.send_dm", errEmptyContent)
	}
	var m domain.DirectMessage
	if err := c.do(ctx, http.MethodPost, "/dm/"+seg(string(to)), nil, map[string]string{"content": content}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) Conversation(ctx context.Context, with domain.UserID, page domain.Page) ([]domain.DirectMessage, error) {
	return list[domain.DirectMessage](ctx, c, "/dm/"+seg(string(with)), pageQuery(page))
}

func (c *Client) Conversations(ctx context.Context) ([]domain.Conversation, error) {
	return list[domain.Conversation](ctx, c, "/conversations", nil)
}

func (c *Client) EditDirectMessage(ctx context.Context, id domain.MessageID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.E(domain.KindInvalid, "rest.edit_dm", errEmptyContent)
	}
	return c.do(ctx, http.MethodPut, "/dm/"+seg(string(id)), nil, map[string]string{"content": content}, nil)
}

func (c *Client) DeleteDirectMessage(ctx context.Context, id domain.MessageID) error {
	return c.do(ctx, http.MethodDelete, "/dm/"+seg(string(id)), nil, nil, nil)
}
