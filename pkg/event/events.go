package event

// ============================================================================
// Event Names (constants)
// ============================================================================

const (
	ChatUpdated       = "chat.updated"
	ChatStreamStarted = "chat.streamStarted"
	ChatStreamEnded   = "chat.streamEnded"
	ChatDeleted       = "chat.deleted"
)

// ============================================================================
// Chat Events
// ============================================================================

// ChatUpdatedEvent is emitted after a turn has been persisted.
type ChatUpdatedEvent struct {
	ChatID string `json:"chatId"`
	UserID string `json:"-"`
	Kind   string `json:"kind,omitempty"`
}

func (e ChatUpdatedEvent) EventName() string { return ChatUpdated }
func (e ChatUpdatedEvent) Owner() string     { return e.UserID }

// ChatStreamStartedEvent is emitted when a relay starts streaming.
type ChatStreamStartedEvent struct {
	ChatID string `json:"chatId"`
	UserID string `json:"-"`
	Model  string `json:"model"`
}

func (e ChatStreamStartedEvent) EventName() string { return ChatStreamStarted }
func (e ChatStreamStartedEvent) Owner() string     { return e.UserID }

// ChatStreamEndedEvent is emitted when a relay stops streaming for any reason.
type ChatStreamEndedEvent struct {
	ChatID    string `json:"chatId"`
	UserID    string `json:"-"`
	Cancelled bool   `json:"cancelled"`
	Fallback  bool   `json:"fallback,omitempty"`
}

func (e ChatStreamEndedEvent) EventName() string { return ChatStreamEnded }
func (e ChatStreamEndedEvent) Owner() string     { return e.UserID }

// ChatDeletedEvent is emitted when a chat is soft-deleted.
type ChatDeletedEvent struct {
	ChatID string `json:"chatId"`
	UserID string `json:"-"`
}

func (e ChatDeletedEvent) EventName() string { return ChatDeleted }
func (e ChatDeletedEvent) Owner() string     { return e.UserID }
