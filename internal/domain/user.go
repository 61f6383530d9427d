// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"time"
)

const (
	MinUsernameLen = 3
	MaxUsernameLen = 50
)

var (
	ErrUsernameTooLong  = errors.New("username too long")
	ErrUsernameTooShort = errors.New("username too short")
	ErrInvalidStatus    = errors.New("invalid status")
)

type UserID string

type Status string

const (
	StatusOnline    Status = "online"
	StatusIdle      Status = "idle"
	StatusDND       Status = "dnd"
	StatusInvisible Status = "invisible"
)

// Valid reports whether the backend accepts s.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusIdle, StatusDND, StatusInvisible:
		return true
	}
	return false
}

type User struct {
	ID           UserID    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	Avatar       string    `json:"avatar,omitempty"`
	Banner       string    `json:"banner,omitempty"`
	AboutMe      string    `json:"about_me,omitempty"`
	Status       Status    `json:"status,omitempty"`
	CustomStatus string    `json:"custom_status,omitempty"`
	Activity     string    `json:"activity,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Name returns the display name, falling back to the username.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// ValidateUsername applies the same bounds the backend enforces on register.
func ValidateUsername(username string) error {
	if len(username) < MinUsernameLen {
		return ErrUsernameTooShort
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}

type ProfileUpdate struct {
	DisplayName  string `json:"display_name,omitempty"`
	AboutMe      string `json:"about_me,omitempty"`
	CustomStatus string `json:"custom_status,omitempty"`
}

type StatusUpdate struct {
	Status   Status `json:"status"`
	Activity string `json:"activity,omitempty"`
}

type FriendStatus string

const (
	FriendPending  FriendStatus = "pending"
	FriendAccepted FriendStatus = "accepted"
)

type Friend struct {
	ID        string       `json:"id"`
	UserID    UserID       `json:"user_id"`
	FriendID  UserID       `json:"friend_id"`
	Status    FriendStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	User      *User        `json:"user,omitempty"`
}
