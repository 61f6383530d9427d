package rest

import (
	"context"
	"net/http"

	"github.com/dkeye/Realm/internal/domain"
)

func (c *Client) Profile(ctx context.Context) (*domain.User, error) {
	var u domain.User
	if err := c.do(ctx, http.MethodGet, "/profile", nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) UpdateProfile(ctx context.Context, p domain.ProfileUpdate) (*domain.User, error) {
	var u domain.User
	if err := c.do(ctx, http.MethodPut, "/profile", nil, p, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) UpdateStatus(ctx context.Context, s domain.StatusUpdate) error {
	if !s.Status.Valid() {
		return domain.E(domain.KindInvalid, "rest.status", domain.ErrInvalidStatus)
	}
	return c.do(ctx, http.MethodPut, "/status", nil, s, nil)
}

func (c *Client) SendFriendRequest(ctx context.Context, username string) error {
	if err := domain.ValidateUsername(username); err != nil {
		return domain.E(domain.KindInvalid, "rest.friend_request", err)
	}
	return c.do(ctx, http.MethodPost, "/friends/request", nil, map[string]string{"username": username}, nil)
}

func (c *Client) AcceptFriendRequest(ctx context.Context, requestID string) error {
	return c.do(ctx, http.MethodPost, "/friends/"+seg(requestID)+"/accept", nil, nil, nil)
}

func (c *Client) Friends(ctx context.Context) ([]domain.Friend, error) {
	return list[domain.Friend](ctx, c, "/friends", nil)
}

func (c *Client) FriendRequests(ctx context.Context) ([]domain.Friend, error) {
	return list[domain.Friend](ctx, c, "/friends/requests", nil)
}

func (c *Client) Notifications(ctx context.Context) ([]domain.Notification, error) {
	return list[domain.Notification](ctx, c, "/notifications", nil)
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, "/notifications/"+seg(id)+"/read", nil, nil, nil)
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/notifications/read-all", nil, nil, nil)
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/notifications/unread-count", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}
