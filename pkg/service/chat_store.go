package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tosgen/tosgen/pkg/db"
	"github.com/tosgen/tosgen/pkg/utils"
)

// Turn is one completed prompt/response exchange.
type Turn struct {
	ChatID   string
	UserID   string
	Prompt   string
	Response string
	Kind     string
}

// ChatStore persists chat threads.
type ChatStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewChatStore(gdb *gorm.DB) *ChatStore {
	return &ChatStore{db: gdb, logger: utils.GetLogger()}
}

// AppendTurn adds the user entry and the model entry of t to the chat log in
// one transaction. The row is created on first use with the prompt as title.
// A chat id owned by another user yields ErrChatNotFound and nothing changes.
func (s *ChatStore) AppendTurn(ctx context.Context, t Turn) error {
	if t.ChatID == "" || t.UserID == "" {
		return fmt.Errorf("append turn: chat id and user id are required")
	}
	now := time.Now()
	lock := db.SupportsRowLocking(s.db)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		title := t.Prompt
		seed := &db.Chat{
			ID:        t.ChatID,
			UserID:    t.UserID,
			Title:     &title,
			Messages:  datatypes.JSONSlice[db.ChatMessage]{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
			return fmt.Errorf("seed chat: %w", err)
		}

		q := tx.Unscoped()
		if lock {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var chat db.Chat
		err := q.Where("id = ? AND user_id = ?", t.ChatID, t.UserID).Take(&chat).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrChatNotFound
		}
		if err != nil {
			return fmt.Errorf("load chat: %w", err)
		}

		entries := append(chat.Messages,
			db.NewUserMessage(t.Prompt),
			db.NewModelMessage(t.Response, t.Kind),
		)

		res := tx.Unscoped().Model(&db.Chat{}).
			Where("id = ? AND user_id = ?", t.ChatID, t.UserID).
			UpdateColumns(map[string]any{
				"messages":   entries,
				"title":      gorm.Expr("CASE WHEN title IS NULL OR title = '' THEN ? ELSE title END", t.Prompt),
				"updated_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("update chat: %w", res.Error)
		}
		return nil
	})
}

// History returns the stored log of a chat owned by userID. A chat that does
// not exist yet has an empty history.
func (s *ChatStore) History(ctx context.Context, chatID, userID string) ([]db.ChatMessage, error) {
	var chat db.Chat
	err := s.db.WithContext(ctx).Unscoped().
		Select("id", "messages").
		Where("id = ? AND user_id = ?", chatID, userID).
		Take(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return chat.Messages, nil
}

// Get returns one non-deleted chat owned by userID.
func (s *ChatStore) Get(ctx context.Context, chatID, userID string) (*db.Chat, error) {
	var chat db.Chat
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", chatID, userID).
		Take(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &chat, nil
}

// List returns the user's non-deleted chats, newest first.
func (s *ChatStore) List(ctx context.Context, userID string) ([]db.Chat, error) {
	var chats []db.Chat
	err := s.db.WithContext(ctx).
		Select("id", "user_id", "title", "created_at", "updated_at", "messages").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

// Delete soft-deletes a chat owned by userID.
func (s *ChatStore) Delete(ctx context.Context, chatID, userID string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", chatID, userID).
		Delete(&db.Chat{})
	if res.Error != nil {
		return fmt.Errorf("delete chat: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrChatNotFound
	}
	return nil
}
