package domain

import "time"

type MessageID string

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

type Message struct {
	ID          MessageID    `json:"id"`
	ChannelID   ChannelID    `json:"channel_id"`
	UserID      UserID       `json:"user_id"`
	Content     string       `json:"content"`
	Type        MessageType  `json:"type,omitempty"`
	EditedAt    *time.Time   `json:"edited_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	User        *User        `json:"user,omitempty"`
	Reactions   []Reaction   `json:"reactions,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Reaction struct {
	ID        string    `json:"id,omitempty"`
	MessageID MessageID `json:"message_id"`
	UserID    UserID    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`
}

type DirectMessage struct {
	ID          MessageID   `json:"id"`
	SenderID    UserID      `json:"sender_id"`
	RecipientID UserID      `json:"recipient_id"`
	Content     string      `json:"content"`
	Type        MessageType `json:"type,omitempty"`
	EditedAt    *time.Time  `json:"edited_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	Sender      *User       `json:"sender,omitempty"`
	Recipient   *User       `json:"recipient,omitempty"`
}

// Page selects a window of a message history.
type Page struct {
	Limit  int
	Offset int
}

// DefaultPage mirrors the client's default history window.
var DefaultPage = Page{Limit: 50}

type Conversation struct {
	ID           string    `json:"id"`
	User1ID      UserID    `json:"user1_id"`
	User2ID      UserID    `json:"user2_id"`
	LastMessage  string    `json:"last_message,omitempty"`
	LastActivity time.Time `json:"last_activity"`
	User1        *User     `json:"user1,omitempty"`
	User2        *User     `json:"user2,omitempty"`
}
