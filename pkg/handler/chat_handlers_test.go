package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tosgen/tosgen/pkg/auth"
	"github.com/tosgen/tosgen/pkg/db"
	"github.com/tosgen/tosgen/pkg/event"
	"github.com/tosgen/tosgen/pkg/models"
	"github.com/tosgen/tosgen/pkg/service"
)

// scriptedModel streams chunks and can fail or hold the stream open.
type scriptedModel struct {
	chunks   []string
	startErr error
	failErr  error
	hold     bool
	calls    int
	mu       sync.Mutex
}

func (m *scriptedModel) Generate(ctx context.Context, in []*schema.Message, _ ...einoModel.Option) (*schema.Message, error) {
	return schema.AssistantMessage(strings.Join(m.chunks, ""), nil), nil
}

func (m *scriptedModel) Stream(ctx context.Context, in []*schema.Message, _ ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.startErr != nil {
		return nil, m.startErr
	}
	sr, sw := schema.Pipe[*schema.Message](len(m.chunks) + 1)
	go func() {
		defer sw.Close()
		for _, c := range m.chunks {
			if sw.Send(schema.AssistantMessage(c, nil), nil) {
				return
			}
		}
		if m.failErr != nil {
			sw.Send(nil, m.failErr)
			return
		}
		if m.hold {
			<-ctx.Done()
			sw.Send(nil, ctx.Err())
		}
	}()
	return sr, nil
}

func (m *scriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type fakeModels struct {
	model     einoModel.BaseChatModel
	createErr error
	allow     []string
}

func (f *fakeModels) Supported(name string) bool {
	if f.allow != nil {
		return slices.Contains(f.allow, name)
	}
	return name == "gpt-4o-mini" || name == "gemini-2.5-flash-lite"
}

func (f *fakeModels) ChatModel(ctx context.Context, name string) (einoModel.BaseChatModel, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.model, nil
}

func (f *fakeModels) List() []models.ModelInfo {
	return []models.ModelInfo{{Name: "gemini-2.5-flash-lite", Provider: "google"}}
}

type fakeBus struct {
	mu        sync.Mutex
	published []string
}

func (b *fakeBus) Publish(ctx context.Context, chatID, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, chatID+"/"+userID)
	return nil
}

type harness struct {
	router   *gin.Engine
	chat     *ChatHandler
	sessions *auth.Manager
	users    *service.UserService
	store    *service.ChatStore
	registry *service.StreamRegistry
	models   *fakeModels
	emitter  *event.Emitter
	user     *db.User
	token    string
}

func newHarness(t *testing.T, model einoModel.BaseChatModel, bus CancelForwarder) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	mgr, err := auth.NewManager("test-secret", "tosgen_session", time.Hour)
	require.NoError(t, err)

	users := service.NewUserService(gdb).WithCost(bcrypt.MinCost)
	name := "Adam Smith"
	user, err := users.CreateUser(context.Background(), "test@example.com", "password123", &name)
	require.NoError(t, err)
	token, _, err := mgr.Issue(&auth.Session{UserID: user.ID, Email: user.Email})
	require.NoError(t, err)

	h := &harness{
		sessions: mgr,
		users:    users,
		store:    service.NewChatStore(gdb),
		registry: service.NewStreamRegistry(),
		models:   &fakeModels{model: model},
		emitter:  event.NewEmitter(),
		user:     user,
		token:    token,
	}

	h.chat = NewChatHandler(ChatDeps{
		Sessions:       mgr,
		Users:          users,
		Models:         h.models,
		Store:          h.store,
		Registry:       h.registry,
		Adapter:        service.NewStreamAdapter(service.CharEstimator{}, 10),
		Bus:            bus,
		Emitter:        h.emitter,
		CancelDebounce: 20 * time.Millisecond,
	})
	authH := NewAuthHandler(users, mgr)

	h.router = gin.New()
	api := h.router.Group("/api")
	h.chat.RegisterRoutes(api)
	authH.RegisterRoutes(api)
	return h
}

func (h *harness) request(method, path string, body any, authed bool) *httptest.ResponseRecorder {
	var buf io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		buf = strings.NewReader(b)
	default:
		data, _ := json.Marshal(b)
		buf = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	h.chat.Wait()
	return rec
}

func chatBody(msg, chatID, model string) map[string]string {
	return map[string]string{"message": msg, "chatId": chatID, "model": model}
}

func TestChat_ValidationBeforeAuth(t *testing.T) {
	model := &scriptedModel{chunks: []string{"x"}}
	h := newHarness(t, model, nil)

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"empty message", chatBody("", "c1", "gpt-4o-mini"), "message"},
		{"blank message", chatBody("   ", "c1", "gpt-4o-mini"), "message"},
		{"missing chat id", map[string]string{"message": "hi", "model": "gpt-4o-mini"}, "chatId"},
		{"unsupported model", chatBody("hi", "c1", "gpt-5-ultra"), "model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.request(http.MethodPost, "/api/chat", tt.body, false)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var resp struct {
				Error  string           `json:"error"`
				Errors ValidationErrors `json:"errors"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "Validation error", resp.Error)
			assert.NotEmpty(t, resp.Errors.FieldErrors[tt.field])
			assert.NotNil(t, resp.Errors.FormErrors)
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		rec := h.request(http.MethodPost, "/api/chat", "{not json", false)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "formErrors")
	})

	assert.Equal(t, 0, model.Calls())
	assert.Equal(t, 0, h.registry.Len())
}

func TestChat_Unauthorized(t *testing.T) {
	model := &scriptedModel{chunks: []string{"x"}}
	h := newHarness(t, model, nil)

	rec := h.request(http.MethodPost, "/api/chat", chatBody("hi", "c1", "gpt-4o-mini"), false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
	assert.Equal(t, 0, model.Calls())
}

func TestChat_StreamsAndPersists(t *testing.T) {
	model := &scriptedModel{chunks: []string{"[MARKDOWN]\n# Terms", "\n[HTML]", "<div>Terms</div>"}}
	h := newHarness(t, model, nil)

	var updated []event.Event
	h.emitter.On(event.ChatUpdated, func(ev event.Event) { updated = append(updated, ev) })

	rec := h.request(http.MethodPost, "/api/chat", chatBody("SaaS terms", "c1", "gemini-2.5-flash-lite"), true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-transform", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.Equal(t, "[MARKDOWN]\n# Terms\n[HTML]<div>Terms</div>", rec.Body.String())

	chat, err := h.store.Get(context.Background(), "c1", h.user.ID)
	require.NoError(t, err)
	require.Len(t, chat.Messages, 2)
	assert.Equal(t, "SaaS terms", chat.Messages[0].Text())
	assert.Equal(t, rec.Body.String(), chat.Messages[1].Text())
	assert.Equal(t, db.KindNormal, chat.Messages[1].Kind)
	assert.Equal(t, "SaaS terms", *chat.Title)
	assert.Len(t, updated, 1)
	assert.Equal(t, 0, h.registry.Len())

	doc := h.request(http.MethodGet, "/api/chats/c1/document", nil, true)
	require.Equal(t, http.StatusOK, doc.Code)
	var d models.ChatDocument
	require.NoError(t, json.Unmarshal(doc.Body.Bytes(), &d))
	assert.Equal(t, "# Terms", d.Markdown)
	require.NotNil(t, d.HTML)
	assert.Equal(t, "<div>Terms</div>", *d.HTML)
	assert.True(t, d.HasMultipleFormats)
}

func TestChat_FallbackIsStreamedAndTagged(t *testing.T) {
	model := &scriptedModel{startErr: errors.New("upstream 503")}
	h := newHarness(t, model, nil)

	rec := h.request(http.MethodPost, "/api/chat", chatBody("hi", "c1", "gpt-4o-mini"), true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.FallbackResponse, rec.Body.String())

	history, err := h.store.History(context.Background(), "c1", h.user.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, db.KindFallback, history[1].Kind)
	assert.Equal(t, service.FallbackResponse, history[1].Text())
}

func TestChat_SetupFailures(t *testing.T) {
	t.Run("model creation", func(t *testing.T) {
		h := newHarness(t, &scriptedModel{}, nil)
		h.models.createErr = service.ErrModelNotConfigured

		rec := h.request(http.MethodPost, "/api/chat", chatBody("hi", "c1", "gpt-4o-mini"), true)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"message":"Something went wrong."}`, rec.Body.String())
		assert.Equal(t, 0, h.registry.Len())
	})

	t.Run("session user missing", func(t *testing.T) {
		h := newHarness(t, &scriptedModel{chunks: []string{"x"}}, nil)
		ghost, _, err := h.sessions.Issue(&auth.Session{UserID: "ghost"})
		require.NoError(t, err)
		h.token = ghost

		rec := h.request(http.MethodPost, "/api/chat", chatBody("hi", "c1", "gpt-4o-mini"), true)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, 0, h.registry.Len())
	})
}

func TestChat_SecondTurnUsesHistory(t *testing.T) {
	model := &scriptedModel{chunks: []string{"answer"}}
	h := newHarness(t, model, nil)

	for i := 0; i < 2; i++ {
		rec := h.request(http.MethodPost, "/api/chat", chatBody("q", "c1", "gpt-4o-mini"), true)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	history, err := h.store.History(context.Background(), "c1", h.user.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

// streamUntil starts a relay request against srv and returns once the first
// chunk has been read.
func streamUntil(t *testing.T, ctx context.Context, srv *httptest.Server, token, chatID string) (*http.Response, string) {
	t.Helper()
	data, _ := json.Marshal(chatBody("hi", chatID, "gpt-4o-mini"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/chat", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	buf := make([]byte, 64)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	return resp, string(buf[:n])
}

func TestChat_ExplicitCancelStopsWithoutPersisting(t *testing.T) {
	model := &scriptedModel{chunks: []string{"partial"}, hold: true}
	h := newHarness(t, model, nil)
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	resp, first := streamUntil(t, context.Background(), srv, h.token, "c1")
	defer resp.Body.Close()
	assert.Equal(t, "partial", first)
	require.True(t, h.registry.IsStreaming("c1"))

	status := h.request(http.MethodGet, "/api/chat/status/c1", nil, true)
	assert.Contains(t, status.Body.String(), `"isStreaming":true`)

	rec := h.request(http.MethodPost, "/api/chat/cancel", map[string]string{"chatId": "c1"}, true)
	assert.Equal(t, http.StatusOK, rec.Code)

	rest, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, string(rest))

	require.Eventually(t, func() bool { return h.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	history, err := h.store.History(context.Background(), "c1", h.user.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestChat_ClientDisconnectCancelsAfterDebounce(t *testing.T) {
	model := &scriptedModel{chunks: []string{"partial"}, hold: true}
	h := newHarness(t, model, nil)
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	resp, _ := streamUntil(t, ctx, srv, h.token, "c1")
	session, ok := h.registry.Lookup("c1")
	require.True(t, ok)

	cancel()
	_ = resp.Body.Close()

	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session not cancelled after disconnect")
	}
	assert.ErrorIs(t, session.Cause(), service.ErrClientDisconnected)
	require.Eventually(t, func() bool { return h.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	history, err := h.store.History(context.Background(), "c1", h.user.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestChat_NewRequestSupersedesOld(t *testing.T) {
	model := &scriptedModel{chunks: []string{"partial"}, hold: true}
	h := newHarness(t, model, nil)
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	resp1, _ := streamUntil(t, context.Background(), srv, h.token, "c1")
	defer resp1.Body.Close()
	first, _ := h.registry.Lookup("c1")

	resp2, _ := streamUntil(t, context.Background(), srv, h.token, "c1")
	defer resp2.Body.Close()

	_, err := io.ReadAll(resp1.Body)
	require.NoError(t, err)
	assert.ErrorIs(t, first.Cause(), service.ErrStreamSuperseded)

	second, ok := h.registry.Lookup("c1")
	require.True(t, ok)
	assert.NotSame(t, first, second)
	assert.True(t, h.registry.Cancel("c1"))
}

func TestCancelStream_Unknown(t *testing.T) {
	t.Run("local only", func(t *testing.T) {
		h := newHarness(t, &scriptedModel{}, nil)
		rec := h.request(http.MethodPost, "/api/chat/cancel", map[string]string{"chatId": "nope"}, true)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error":"Controller not found"}`, rec.Body.String())
	})

	t.Run("forwarded on bus", func(t *testing.T) {
		bus := &fakeBus{}
		h := newHarness(t, &scriptedModel{}, bus)
		rec := h.request(http.MethodPost, "/api/chat/cancel", map[string]string{"chatId": "nope"}, true)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, []string{"nope/" + h.user.ID}, bus.published)
	})

	t.Run("requires session", func(t *testing.T) {
		h := newHarness(t, &scriptedModel{}, nil)
		rec := h.request(http.MethodPost, "/api/chat/cancel", map[string]string{"chatId": "nope"}, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestCancelStream_ForeignSession(t *testing.T) {
	h := newHarness(t, &scriptedModel{}, nil)
	s := service.NewStreamSession(context.Background(), "c1", "someone-else", "m")
	h.registry.Register("c1", s)

	rec := h.request(http.MethodPost, "/api/chat/cancel", map[string]string{"chatId": "c1"}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoError(t, s.Cause())
}

func TestChats_ScopedToOwner(t *testing.T) {
	h := newHarness(t, &scriptedModel{}, nil)
	ctx := context.Background()
	require.NoError(t, h.store.AppendTurn(ctx, service.Turn{ChatID: "mine", UserID: h.user.ID, Prompt: "p", Response: "r"}))
	require.NoError(t, h.store.AppendTurn(ctx, service.Turn{ChatID: "theirs", UserID: "other", Prompt: "p", Response: "r"}))

	rec := h.request(http.MethodGet, "/api/chats", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.ChatSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "mine", list[0].ID)

	assert.Equal(t, http.StatusNotFound, h.request(http.MethodGet, "/api/chats/theirs", nil, true).Code)
	assert.Equal(t, http.StatusOK, h.request(http.MethodGet, "/api/chats/mine", nil, true).Code)
	assert.Equal(t, http.StatusNotFound, h.request(http.MethodDelete, "/api/chats/theirs", nil, true).Code)
	assert.Equal(t, http.StatusNoContent, h.request(http.MethodDelete, "/api/chats/mine", nil, true).Code)
	assert.Equal(t, http.StatusNotFound, h.request(http.MethodGet, "/api/chats/mine", nil, true).Code)
}

func TestChat_BakeryScenario(t *testing.T) {
	model := &scriptedModel{chunks: []string{"[MARKDOWN]\n# Terms of Service\n", "[HTML]\n<div>Terms</div>"}}
	h := newHarness(t, model, nil)

	rec := h.request(http.MethodPost, "/api/chat", chatBody("I run an online bakery", "abc123", "gemini-2.5-flash-lite"), true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())

	chat, err := h.store.Get(context.Background(), "abc123", h.user.ID)
	require.NoError(t, err)
	require.NotNil(t, chat.Title)
	assert.Equal(t, "I run an online bakery", *chat.Title)
	require.Len(t, chat.Messages, 2)
	assert.Equal(t, db.RoleModel, chat.Messages[1].Role)
}

func TestChat_CancelOnSlowProvider(t *testing.T) {
	// Never produces a chunk and never completes on its own.
	model := &scriptedModel{hold: true}
	h := newHarness(t, model, nil)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- h.request(http.MethodPost, "/api/chat", chatBody("hi", "slow", "gpt-4o-mini"), true)
	}()

	require.Eventually(t, func() bool { return h.registry.IsStreaming("slow") }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.True(t, h.registry.Cancel("slow"))

	select {
	case rec := <-done:
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Body.String())
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not return after cancel")
	}

	assert.Equal(t, 0, h.registry.Len())
	history, err := h.store.History(context.Background(), "slow", h.user.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestChat_AllowListIsPerHandler(t *testing.T) {
	h := newHarness(t, &scriptedModel{chunks: []string{"ok"}}, nil)

	// A second handler with a different allow-list must not replace the first one's.
	other := NewChatHandler(ChatDeps{
		Sessions: h.sessions,
		Users:    h.users,
		Models:   &fakeModels{allow: []string{"local-llama"}},
		Store:    h.store,
	})
	otherRouter := gin.New()
	other.RegisterRoutes(otherRouter.Group("/api"))

	rec := h.request(http.MethodPost, "/api/chat", chatBody("hi", "c1", "gpt-4o-mini"), true)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = h.request(http.MethodPost, "/api/chat", chatBody("hi", "c2", "local-llama"), false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	data, _ := json.Marshal(chatBody("hi", "c3", "gpt-4o-mini"))
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	otherRec := httptest.NewRecorder()
	otherRouter.ServeHTTP(otherRec, req)
	assert.Equal(t, http.StatusBadRequest, otherRec.Code)
	assert.Contains(t, otherRec.Body.String(), "Unsupported model")
}

func TestListModels_RequiresSessionAndHidesKeys(t *testing.T) {
	h := newHarness(t, &scriptedModel{}, nil)

	rec := h.request(http.MethodGet, "/api/models", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, rec.Body.String(), "gemini")

	rec = h.request(http.MethodGet, "/api/models", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.ModelInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "gemini-2.5-flash-lite", list[0].Name)
	assert.NotContains(t, rec.Body.String(), "api_key")
}

func TestChat_ResponseEndsBeforeTurnIsStored(t *testing.T) {
	h := newHarness(t, &scriptedModel{chunks: []string{"done"}}, nil)

	release := make(chan struct{})
	stored := make(chan struct{})
	h.chat.Store = &gatedStore{ChatRepository: h.store, release: release, stored: stored}

	rec := httptest.NewRecorder()
	data, _ := json.Marshal(chatBody("hi", "c1", "gpt-4o-mini"))
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.token)
	h.router.ServeHTTP(rec, req)

	// The body is complete while the write is still held back.
	assert.Equal(t, "done", rec.Body.String())
	history, err := h.store.History(context.Background(), "c1", h.user.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	close(release)
	h.chat.Wait()
	<-stored
	history, err = h.store.History(context.Background(), "c1", h.user.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

// gatedStore holds AppendTurn until release is closed.
type gatedStore struct {
	ChatRepository
	release <-chan struct{}
	stored  chan<- struct{}
}

func (s *gatedStore) AppendTurn(ctx context.Context, t service.Turn) error {
	<-s.release
	err := s.ChatRepository.AppendTurn(ctx, t)
	close(s.stored)
	return err
}
