// Database models for chat threads
package db

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Message roles stored in the chat log
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Response kinds recorded on model entries
const (
	KindNormal   = "normal"
	KindFallback = "fallback"
)

// Chat is one conversation thread. Messages is an append-only JSON log
// of alternating user and model entries.
type Chat struct {
	ID        string                           `json:"id" gorm:"primaryKey;size:191"`
	UserID    string                           `json:"user_id" gorm:"index;size:36;not null"`
	Title     *string                          `json:"title" gorm:"size:500"`
	Messages  datatypes.JSONSlice[ChatMessage] `json:"messages"`
	CreatedAt time.Time                        `json:"created_at"`
	UpdatedAt time.Time                        `json:"updated_at"`
	DeletedAt gorm.DeletedAt                   `json:"-" gorm:"index"`
}

func (Chat) TableName() string {
	return "chats"
}

// ChatMessage is a single entry of Chat.Messages.
type ChatMessage struct {
	Role  string     `json:"role"`
	Parts []TextPart `json:"parts"`
	Kind  string     `json:"kind,omitempty"` // model entries only
}

type TextPart struct {
	Text string `json:"text"`
}

// NewUserMessage builds a user entry.
func NewUserMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Parts: []TextPart{{Text: text}}}
}

// NewModelMessage builds a model entry. An empty kind is stored as normal.
func NewModelMessage(text, kind string) ChatMessage {
	if kind == "" {
		kind = KindNormal
	}
	return ChatMessage{Role: RoleModel, Parts: []TextPart{{Text: text}}, Kind: kind}
}

// Text joins all parts of the entry.
func (m ChatMessage) Text() string {
	if len(m.Parts) == 1 {
		return m.Parts[0].Text
	}
	var sb strings.Builder
	for _, p := range m.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// LastModelMessage returns the most recent model entry, if any.
func (c *Chat) LastModelMessage() (ChatMessage, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleModel {
			return c.Messages[i], true
		}
	}
	return ChatMessage{}, false
}
