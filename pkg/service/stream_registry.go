package service

import (
	"context"
	"sync"
	"time"
)

// StreamSession is the cancellation handle of one in-flight relay request.
type StreamSession struct {
	ChatID    string
	UserID    string
	Model     string
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewStreamSession derives a cancellable context from parent.
func NewStreamSession(parent context.Context, chatID, userID, model string) *StreamSession {
	ctx, cancel := context.WithCancelCause(parent)
	return &StreamSession{
		ChatID:    chatID,
		UserID:    userID,
		Model:     model,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Context is the context the model stream must run under.
func (s *StreamSession) Context() context.Context { return s.ctx }

// Done is closed once the session is cancelled.
func (s *StreamSession) Done() <-chan struct{} { return s.ctx.Done() }

// Cancel revokes the session. Only the first cause is kept.
func (s *StreamSession) Cancel(cause error) {
	if cause == nil {
		cause = ErrStreamCancelled
	}
	s.cancel(cause)
}

// Cause returns why the session was cancelled, or nil while it is live.
func (s *StreamSession) Cause() error { return context.Cause(s.ctx) }

// StreamRegistry maps chat ids to their in-flight stream session.
// There is at most one session per chat id.
type StreamRegistry struct {
	mu       sync.Mutex
	sessions map[string]*StreamSession
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{sessions: make(map[string]*StreamSession)}
}

// Register stores s under chatID, revoking any session already there.
func (r *StreamRegistry) Register(chatID string, s *StreamSession) {
	r.mu.Lock()
	prev := r.sessions[chatID]
	r.sessions[chatID] = s
	r.mu.Unlock()

	if prev != nil && prev != s {
		prev.Cancel(ErrStreamSuperseded)
	}
}

func (r *StreamRegistry) Lookup(chatID string) (*StreamSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	return s, ok
}

// Cancel revokes and removes the session for chatID. It reports false when
// nothing is registered.
func (r *StreamRegistry) Cancel(chatID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[chatID]
	if ok {
		delete(r.sessions, chatID)
	}
	r.mu.Unlock()

	if ok {
		s.Cancel(ErrStreamCancelled)
	}
	return ok
}

// CancelOwned is Cancel restricted to sessions started by userID.
func (r *StreamRegistry) CancelOwned(chatID, userID string) (bool, error) {
	r.mu.Lock()
	s, ok := r.sessions[chatID]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	if s.UserID != userID {
		r.mu.Unlock()
		return false, ErrStreamNotOwned
	}
	delete(r.sessions, chatID)
	r.mu.Unlock()

	s.Cancel(ErrStreamCancelled)
	return true, nil
}

// Release removes s if it is still the session registered for chatID.
func (r *StreamRegistry) Release(chatID string, s *StreamSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[chatID]; ok && cur == s {
		delete(r.sessions, chatID)
	}
}

func (r *StreamRegistry) IsStreaming(chatID string) bool {
	_, ok := r.Lookup(chatID)
	return ok
}

func (r *StreamRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
