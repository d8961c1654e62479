// Chat HTTP handlers - streaming relay and chat history
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/tosgen/tosgen/pkg/auth"
	"github.com/tosgen/tosgen/pkg/db"
	"github.com/tosgen/tosgen/pkg/document"
	"github.com/tosgen/tosgen/pkg/event"
	"github.com/tosgen/tosgen/pkg/models"
	"github.com/tosgen/tosgen/pkg/service"
	"github.com/tosgen/tosgen/pkg/utils"
)

// UserLookup loads the account behind a session.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*db.User, error)
}

// ChatModelProvider resolves allow-listed model names.
type ChatModelProvider interface {
	Supported(name string) bool
	ChatModel(ctx context.Context, name string) (einoModel.BaseChatModel, error)
	List() []models.ModelInfo
}

// ChatRepository is the chat persistence used by the handlers.
type ChatRepository interface {
	AppendTurn(ctx context.Context, t service.Turn) error
	History(ctx context.Context, chatID, userID string) ([]db.ChatMessage, error)
	Get(ctx context.Context, chatID, userID string) (*db.Chat, error)
	List(ctx context.Context, userID string) ([]db.Chat, error)
	Delete(ctx context.Context, chatID, userID string) error
}

// CancelForwarder hands a cancel request to other processes.
type CancelForwarder interface {
	Publish(ctx context.Context, chatID, userID string) error
}

// ChatDeps groups the collaborators of ChatHandler. Bus may be nil.
type ChatDeps struct {
	Sessions       auth.SessionResolver
	Users          UserLookup
	Models         ChatModelProvider
	Store          ChatRepository
	Registry       *service.StreamRegistry
	Adapter        *service.StreamAdapter
	Bus            CancelForwarder
	Emitter        *event.Emitter
	CancelDebounce time.Duration
}

// ChatHandler handles chat-related HTTP requests
type ChatHandler struct {
	ChatDeps
	validate   *validator.Validate
	persisting sync.WaitGroup
	logger     *slog.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(deps ChatDeps) *ChatHandler {
	if deps.Registry == nil {
		deps.Registry = service.NewStreamRegistry()
	}
	if deps.Adapter == nil {
		deps.Adapter = service.NewStreamAdapter(nil, 0)
	}
	if deps.Emitter == nil {
		deps.Emitter = event.NewEmitter()
	}
	ensureValidators()
	return &ChatHandler{
		ChatDeps: deps,
		validate: newRequestValidator(deps.Models.Supported),
		logger:   utils.GetLogger(),
	}
}

// RegisterRoutes registers chat routes
func (h *ChatHandler) RegisterRoutes(r *gin.RouterGroup) {
	// The relay validates the body before it looks at the session.
	r.POST("/chat", h.Chat)

	authed := r.Group("", RequireSession(h.Sessions))
	{
		authed.POST("/chat/cancel", h.CancelStream)
		authed.GET("/chat/status/:chatId", h.GetStreamStatus)

		chats := authed.Group("/chats")
		chats.GET("", h.ListChats)
		chats.GET("/:id", h.GetChat)
		chats.GET("/:id/document", h.GetDocument)
		chats.DELETE("/:id", h.DeleteChat)

		authed.GET("/models", h.ListModels)
	}
}

// Wait blocks until every completed turn handed off by Chat is stored.
func (h *ChatHandler) Wait() { h.persisting.Wait() }

func somethingWentWrong(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{"message": "Something went wrong."})
}

// Chat streams a model answer as plain text and stores the exchange.
// POST /api/chat
func (h *ChatHandler) Chat(c *gin.Context) {
	var req models.ChatRequest
	err := c.ShouldBindJSON(&req)
	if err == nil {
		err = h.validate.Struct(&req)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation error", "errors": flattenErrors(err)})
		return
	}

	session, err := h.Sessions.Resolve(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	ctx := c.Request.Context()
	user, err := h.Users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			h.logger.Error("Session user missing from database", "userId", session.UserID)
		} else {
			h.logger.Error("Failed to load user", "userId", session.UserID, "error", err)
		}
		somethingWentWrong(c)
		return
	}

	systemPrompt := service.BuildSystemPrompt()

	chatModel, err := h.Models.ChatModel(ctx, req.Model)
	if err != nil {
		h.logger.Error("Failed to create chat model", "model", req.Model, "error", err)
		somethingWentWrong(c)
		return
	}

	history, err := h.Store.History(ctx, req.ChatID, user.ID)
	if err != nil {
		h.logger.Error("Failed to load chat history", "chatId", req.ChatID, "error", err)
		somethingWentWrong(c)
		return
	}

	stream := service.NewStreamSession(context.WithoutCancel(ctx), req.ChatID, user.ID, req.Model)
	h.Registry.Register(req.ChatID, stream)
	defer h.Registry.Release(req.ChatID, stream)
	stopWatch := h.watchDisconnect(ctx, stream)
	defer stopWatch()

	w := c.Writer
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	h.Emitter.Emit(event.ChatStreamStartedEvent{ChatID: req.ChatID, UserID: user.ID, Model: req.Model})

	var writeErr error
	res := h.Adapter.StreamChat(stream.Context(), chatModel, &service.StreamRequest{
		SystemPrompt:   systemPrompt,
		ConversationID: req.ChatID,
		UserMessage:    req.Message,
		History:        history,
		OnToken: func(token string) {
			if _, err := io.WriteString(w, token); err != nil {
				if writeErr == nil {
					writeErr = err
					h.logger.Warn("Failed to write chunk", "chatId", req.ChatID, "error", err)
				}
				return
			}
			w.Flush()
		},
	})

	if res.Cancelled {
		h.logger.Info("Chat stream cancelled",
			"chatId", req.ChatID,
			"cause", stream.Cause(),
			"relayedChars", len(res.Response),
		)
		h.Emitter.Emit(event.ChatStreamEndedEvent{ChatID: req.ChatID, UserID: user.ID, Cancelled: true})
		return
	}

	if res.Err != nil {
		h.logger.Warn("Relayed fallback response", "chatId", req.ChatID, "error", res.Err)
	}

	// The response ends when Chat returns; the turn is stored after that.
	turn := service.Turn{
		ChatID:   req.ChatID,
		UserID:   user.ID,
		Prompt:   req.Message,
		Response: res.Response,
		Kind:     res.Kind,
	}
	h.persisting.Add(1)
	go func() {
		defer h.persisting.Done()
		h.storeTurn(context.WithoutCancel(ctx), turn, res, stream.StartedAt, req.Model)
	}()
}

func (h *ChatHandler) storeTurn(ctx context.Context, turn service.Turn, res *service.StreamResult, startedAt time.Time, model string) {
	if err := h.Store.AppendTurn(ctx, turn); err != nil {
		h.logger.Error("Failed to persist chat turn", "chatId", turn.ChatID, "error", err)
	} else {
		h.Emitter.Emit(event.ChatUpdatedEvent{ChatID: turn.ChatID, UserID: turn.UserID, Kind: turn.Kind})
	}
	h.Emitter.Emit(event.ChatStreamEndedEvent{ChatID: turn.ChatID, UserID: turn.UserID, Fallback: turn.Kind == db.KindFallback})

	h.logger.Info("Chat stream completed",
		"chatId", turn.ChatID,
		"model", model,
		"kind", turn.Kind,
		"estimatedInputTokens", res.BillableTokens.Input,
		"estimatedOutputTokens", res.BillableTokens.Output,
		"estimatedTotalTokens", res.BillableTokens.Total,
		"duration", time.Since(startedAt),
	)
}

// watchDisconnect cancels s once reqCtx has been done for the debounce
// period. The returned func disarms the watcher.
func (h *ChatHandler) watchDisconnect(reqCtx context.Context, s *service.StreamSession) func() {
	var (
		mu      sync.Mutex
		timer   *time.Timer
		stopped bool
	)
	stop := context.AfterFunc(reqCtx, func() {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		timer = time.AfterFunc(h.CancelDebounce, func() {
			s.Cancel(service.ErrClientDisconnected)
		})
	})
	return func() {
		stop()
		mu.Lock()
		defer mu.Unlock()
		stopped = true
		if timer != nil {
			timer.Stop()
		}
	}
}

// CancelStream cancels an active stream owned by the caller
// POST /api/chat/cancel
func (h *ChatHandler) CancelStream(c *gin.Context) {
	var req models.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation error", "errors": flattenErrors(err)})
		return
	}
	session := MustSession(c)

	ok, err := h.Registry.CancelOwned(req.ChatID, session.UserID)
	if err != nil {
		h.logger.Warn("Refused cancel for foreign stream", "chatId", req.ChatID, "userId", session.UserID)
		c.JSON(http.StatusNotFound, gin.H{"error": "Controller not found"})
		return
	}
	if ok {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	if h.Bus != nil {
		if err := h.Bus.Publish(c.Request.Context(), req.ChatID, session.UserID); err != nil {
			h.logger.Error("Failed to forward cancel", "chatId", req.ChatID, "error", err)
			somethingWentWrong(c)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"success": true, "forwarded": true})
		return
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "Controller not found"})
}

// GetStreamStatus reports whether the caller's chat is streaming in this process
// GET /api/chat/status/:chatId
func (h *ChatHandler) GetStreamStatus(c *gin.Context) {
	session := MustSession(c)
	chatID := c.Param("chatId")

	status := models.StreamStatus{ChatID: chatID}
	if s, ok := h.Registry.Lookup(chatID); ok && s.UserID == session.UserID {
		started := s.StartedAt
		status.IsStreaming = true
		status.Model = s.Model
		status.StartedAt = &started
	}
	c.JSON(http.StatusOK, status)
}

// ListChats returns the caller's chats, newest first
// GET /api/chats
func (h *ChatHandler) ListChats(c *gin.Context) {
	session := MustSession(c)
	chats, err := h.Store.List(c.Request.Context(), session.UserID)
	if err != nil {
		h.logger.Error("Failed to list chats", "userId", session.UserID, "error", err)
		somethingWentWrong(c)
		return
	}
	out := make([]models.ChatSummary, 0, len(chats))
	for i := range chats {
		out = append(out, toSummary(&chats[i]))
	}
	c.JSON(http.StatusOK, out)
}

// GetChat returns one chat owned by the caller
// GET /api/chats/:id
func (h *ChatHandler) GetChat(c *gin.Context) {
	chat, ok := h.loadChat(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toSummary(chat))
}

// GetDocument splits the latest model answer of a chat into markdown and HTML
// GET /api/chats/:id/document
func (h *ChatHandler) GetDocument(c *gin.Context) {
	chat, ok := h.loadChat(c)
	if !ok {
		return
	}
	msg, ok := chat.LastModelMessage()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No document yet"})
		return
	}
	text := msg.Text()
	parts := document.Split(text)
	c.JSON(http.StatusOK, models.ChatDocument{
		ChatID:             chat.ID,
		Markdown:           parts.Markdown,
		HTML:               parts.HTML,
		HasMultipleFormats: document.HasMultipleFormats(text),
		Kind:               msg.Kind,
	})
}

// DeleteChat soft-deletes a chat owned by the caller
// DELETE /api/chats/:id
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	session := MustSession(c)
	id := c.Param("id")
	err := h.Store.Delete(c.Request.Context(), id, session.UserID)
	if errors.Is(err, service.ErrChatNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to delete chat", "chatId", id, "error", err)
		somethingWentWrong(c)
		return
	}
	h.Emitter.Emit(event.ChatDeletedEvent{ChatID: id, UserID: session.UserID})
	c.Status(http.StatusNoContent)
}

// ListModels returns the model allow-list without credentials
// GET /api/models
func (h *ChatHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, h.Models.List())
}

func (h *ChatHandler) loadChat(c *gin.Context) (*db.Chat, bool) {
	session := MustSession(c)
	id := c.Param("id")
	chat, err := h.Store.Get(c.Request.Context(), id, session.UserID)
	if errors.Is(err, service.ErrChatNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
		return nil, false
	}
	if err != nil {
		h.logger.Error("Failed to load chat", "chatId", id, "error", err)
		somethingWentWrong(c)
		return nil, false
	}
	return chat, true
}

func toSummary(chat *db.Chat) models.ChatSummary {
	msgs := make([]models.ChatMessage, 0, len(chat.Messages))
	for _, m := range chat.Messages {
		parts := make([]models.TextPart, 0, len(m.Parts))
		for _, p := range m.Parts {
			parts = append(parts, models.TextPart{Text: p.Text})
		}
		msgs = append(msgs, models.ChatMessage{Role: m.Role, Parts: parts, Kind: m.Kind})
	}
	return models.ChatSummary{
		ID:        chat.ID,
		Title:     chat.Title,
		CreatedAt: chat.CreatedAt,
		Messages:  msgs,
	}
}
