package models

import "time"

// ChatRequest is the body of POST /api/chat. It is checked by the chat
// handler's own validator, not by gin binding.
type ChatRequest struct {
	Message string `json:"message" validate:"required,notblank"`
	ChatID  string `json:"chatId" validate:"required,notblank,max=191"`
	Model   string `json:"model" validate:"required,supported_model"`
}

// CancelRequest is the body of POST /api/chat/cancel.
type CancelRequest struct {
	ChatID string `json:"chatId" binding:"required"`
}

// StreamStatus reports whether a chat has a live stream in this process.
type StreamStatus struct {
	ChatID      string     `json:"chatId"`
	IsStreaming bool       `json:"isStreaming"`
	Model       string     `json:"model,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
}

// ChatSummary is one entry of the chat history sidebar.
type ChatSummary struct {
	ID        string        `json:"id"`
	Title     *string       `json:"title"`
	CreatedAt time.Time     `json:"createdAt"`
	Messages  []ChatMessage `json:"messages"`
}

// ChatMessage mirrors a stored log entry.
type ChatMessage struct {
	Role  string     `json:"role"`
	Parts []TextPart `json:"parts"`
	Kind  string     `json:"kind,omitempty"`
}

type TextPart struct {
	Text string `json:"text"`
}

// ChatDocument is the latest model answer split into its two formats.
type ChatDocument struct {
	ChatID             string  `json:"chatId"`
	Markdown           string  `json:"markdown"`
	HTML               *string `json:"html"`
	HasMultipleFormats bool    `json:"hasMultipleFormats"`
	Kind               string  `json:"kind,omitempty"`
}
