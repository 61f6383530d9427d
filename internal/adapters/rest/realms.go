package rest

import (
	"context"
	"net/http"
	"strings"

	"github.com/dkeye/Realm/internal/domain"
	"github.com/pkg/errors"
)

func (c *Client) CreateRealm(ctx context.Context, name, description string) (*domain.Realm, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.E(domain.KindInvalid, "rest.create_realm", errors.New("realm name is required"))
	}
	var r domain.Realm
	in := map[string]string{"name": name, "description": description}
	if err := c.do(ctx, http.MethodPost, "/realms", nil, in, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) Realms(ctx context.Context) ([]domain.Realm, error) {
	return list[domain.Realm](ctx, c, "/realms", nil)
}

func (c *Client) Realm(ctx context.Context, id domain.RealmID) (*domain.Realm, error) {
	var r domain.Realm
	if err := c.do(ctx, http.MethodGet, "/realms/"+seg(string(id)), nil, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// JoinRealm joins by invite code.
func (c *Client) JoinRealm(ctx context.Context, inviteCode string) error {
	return c.do(ctx, http.MethodPost, "/realms/"+seg(inviteCode)+"/join", nil, nil, nil)
}

func (c *Client) LeaveRealm(ctx context.Context, id domain.RealmID) error {
	return c.do(ctx, http.MethodDelete, "/realms/"+seg(string(id))+"/leave", nil, nil, nil)
}

func (c *Client) CreateChannel(ctx context.Context, realm domain.RealmID, in domain.ChannelInput) (*domain.Channel, error) {
	if in.Type == "" {
		in.Type = domain.ChannelText
	}
	var ch domain.Channel
	if err := c.do(ctx, http.MethodPost, "/realms/"+seg(string(realm))+"/channels", nil, in, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (c *Client) Channels(ctx context.Context, realm domain.RealmID) ([]domain.Channel, error) {
	return list[domain.Channel](ctx, c, "/realms/"+seg(string(realm))+"/channels", nil)
}

func (c *Client) Channel(ctx context.Context, id domain.ChannelID) (*domain.Channel, error) {
	var ch domain.Channel
	if err := c.do(ctx, http.MethodGet, "/channels/"+seg(string(id)), nil, nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (c *Client) UpdateChannel(ctx context.Context, id domain.ChannelID, in domain.ChannelInput) error {
	return c.do(ctx, http.MethodPut, "/channels/"+seg(string(id)), nil, in, nil)
}

func (c *Client) DeleteChannel(ctx context.Context, id domain.ChannelID) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+seg(string(id)), nil, nil, nil)
}

func (c *Client) CreateRole(ctx context.Context, realm domain.RealmID, in domain.RoleInput) (*domain.Role, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, domain.E(domain.KindInvalid, "rest.create_role", errors.New("role name is required"))
	}
	var r domain.Role
	if err := c.do(ctx, http.MethodPost, "/realms/"+seg(string(realm))+"/roles", nil, in, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) Roles(ctx context.Context, realm domain.RealmID) ([]domain.Role, error) {
	return list[domain.Role](ctx, c, "/realms/"+seg(string(realm))+"/roles", nil)
}

func (c *Client) UpdateRole(ctx context.Context, id domain.RoleID, in domain.RoleInput) error {
	return c.do(ctx, http.MethodPut, "/roles/"+seg(string(id)), nil, in, nil)
}

func (c *Client) DeleteRole(ctx context.Context, id domain.RoleID) error {
	return c.do(ctx, http.MethodDelete, "/roles/"+seg(string(id)), nil, nil, nil)
}

func (c *Client) AssignRole(ctx context.Context, realm domain.RealmID, user domain.UserID, role domain.RoleID) error {
	path := "/realms/" + seg(string(realm)) + "/members/" + seg(string(user)) + "/roles/" + seg(string(role))
	return c.do(ctx, http.MethodPost, path, nil, nil, nil)
}

func (c *Client) RemoveRole(ctx context.Context, user domain.UserID, role domain.RoleID) error {
	return c.do(ctx, http.MethodDelete, "/members/"+seg(string(user))+"/roles/"+seg(string(role)), nil, nil, nil)
}

// Moderate applies a kick, ban, timeout or unban. Duration is hours for a
// ban (zero is permanent) and minutes for a timeout.
func (c *Client) Moderate(ctx context.Context, realm domain.RealmID, user domain.UserID, kind domain.ModerationKind, reason string, duration int) error {
	path := "/realms/" + seg(string(realm)) + "/members/" + seg(string(user))
	body := map[string]any{"reason": reason}
	switch kind {
	case domain.ModerationKick:
		return c.do(ctx, http.MethodPost, path+"/kick", nil, body, nil)
	case domain.ModerationBan:
		body["duration"] = duration
		return c.do(ctx, http.MethodPost, path+"/ban", nil, body, nil)
	case domain.ModerationTimeout:
		if duration <= 0 {
			return domain.E(domain.KindInvalid, "rest.moderate", errors.New("timeout needs a positive duration"))
		}
		body["duration"] = duration
		return c.do(ctx, http.MethodPost, path+"/timeout", nil, body, nil)
	case domain.ModerationUnban:
		return c.do(ctx, http.MethodDelete, path+"/ban", nil, nil, nil)
	}
	return domain.E(domain.KindInvalid, "rest.moderate", errors.Errorf("unknown action %q", kind))
}

func (c *Client) ModerationLog(ctx context.Context, realm domain.RealmID) ([]domain.ModerationAction, error) {
	return list[domain.ModerationAction](ctx, c, "/realms/"+seg(string(realm))+"/moderation", nil)
}
