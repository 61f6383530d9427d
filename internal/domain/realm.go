package domain

import "time"

type (
	RealmID   string
	ChannelID string
	RoleID    string
)

type Realm struct {
	ID          RealmID   `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IconURL     string    `json:"icon_url,omitempty"`
	OwnerID     UserID    `json:"owner_id"`
	InviteCode  string    `json:"invite_code,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Channels    []Channel `json:"channels,omitempty"`
	Roles       []Role    `json:"roles,omitempty"`
}

type ChannelType string

const (
	ChannelText  ChannelType = "text"
	ChannelVoice ChannelType = "voice"
)

type Channel struct {
	ID         ChannelID   `json:"id"`
	RealmID    RealmID     `json:"realm_id"`
	CategoryID *string     `json:"category_id,omitempty"`
	Name       string      `json:"name"`
	Type       ChannelType `json:"type"`
	Topic      string      `json:"topic,omitempty"`
	Position   int         `json:"position"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

type Role struct {
	ID          RoleID    `json:"id"`
	RealmID     RealmID   `json:"realm_id"`
	Name        string    `json:"name"`
	Color       string    `json:"color,omitempty"`
	Position    int       `json:"position"`
	Permissions int64     `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
}

type ModerationKind string

const (
	ModerationKick    ModerationKind = "kick"
	ModerationBan     ModerationKind = "ban"
	ModerationTimeout ModerationKind = "timeout"
	ModerationUnban   ModerationKind = "unban"
)

type ModerationAction struct {
	ID          string         `json:"id"`
	RealmID     RealmID        `json:"realm_id"`
	UserID      UserID         `json:"user_id"`
	ModeratorID UserID         `json:"moderator_id"`
	Action      ModerationKind `json:"action"`
	Reason      string         `json:"reason,omitempty"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	User        *User          `json:"user,omitempty"`
	Moderator   *User          `json:"moderator,omitempty"`
}

type Notification struct {
	ID        string    `json:"id"`
	UserID    UserID    `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message,omitempty"`
	Data      string    `json:"data,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// RoleInput creates a role; on update, nil pointers leave fields unchanged.
type RoleInput struct {
	Name        string `json:"name,omitempty"`
	Color       string `json:"color,omitempty"`
	Permissions int64  `json:"permissions,omitempty"`
	Mentionable *bool  `json:"mentionable,omitempty"`
	Hoisted     *bool  `json:"hoisted,omitempty"`
	Position    *int   `json:"position,omitempty"`
}

type ChannelInput struct {
	Name  string      `json:"name,omitempty"`
	Type  ChannelType `json:"type,omitempty"`
	Topic string      `json:"topic,omitempty"`
}
