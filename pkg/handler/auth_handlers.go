// Auth HTTP handlers - credential login and session inspection
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tosgen/tosgen/pkg/auth"
	"github.com/tosgen/tosgen/pkg/db"
	"github.com/tosgen/tosgen/pkg/models"
	"github.com/tosgen/tosgen/pkg/service"
	"github.com/tosgen/tosgen/pkg/utils"
)

// Authenticator checks credentials.
type Authenticator interface {
	UserLookup
	Authenticate(ctx context.Context, email, password string) (*db.User, error)
}

// AuthHandler handles login, logout and the current user endpoint.
type AuthHandler struct {
	users    Authenticator
	sessions *auth.Manager
	logger   *slog.Logger
}

func NewAuthHandler(users Authenticator, sessions *auth.Manager) *AuthHandler {
	ensureValidators()
	return &AuthHandler{users: users, sessions: sessions, logger: utils.GetLogger()}
}

// RegisterRoutes registers auth routes
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth/login", h.Login)
	r.POST("/auth/logout", h.Logout)
	r.GET("/user/me", RequireSession(h.sessions), h.Me)
}

// Login verifies credentials and sets the session cookie
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation error", "errors": flattenErrors(err)})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, service.ErrPasswordNotSet):
		c.JSON(http.StatusForbidden, gin.H{"error": service.ErrPasswordNotSet.Error()})
		return
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	case err != nil:
		h.logger.Error("Login failed", "error", err)
		somethingWentWrong(c)
		return
	}

	s := &auth.Session{UserID: user.ID, Email: user.Email}
	if user.FullName != nil {
		s.Name = *user.FullName
	}
	token, exp, err := h.sessions.Issue(s)
	if err != nil {
		h.logger.Error("Failed to issue session", "userId", user.ID, "error", err)
		somethingWentWrong(c)
		return
	}
	h.sessions.SetCookie(c.Writer, token, exp, c.Request.TLS != nil)

	h.logger.Info("User logged in", "userId", user.ID)
	c.JSON(http.StatusOK, models.LoginResponse{User: toUserDTO(user), Token: token, ExpiresAt: exp})
}

// Logout clears the session cookie
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	h.sessions.ClearCookie(c.Writer)
	c.Status(http.StatusNoContent)
}

// Me returns the current user
// GET /api/user/me
func (h *AuthHandler) Me(c *gin.Context) {
	session := MustSession(c)
	user, err := h.users.GetByID(c.Request.Context(), session.UserID)
	if errors.Is(err, service.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to load user", "userId", session.UserID, "error", err)
		somethingWentWrong(c)
		return
	}
	c.JSON(http.StatusOK, toUserDTO(user))
}

func toUserDTO(u *db.User) models.UserDTO {
	return models.UserDTO{ID: u.ID, Email: u.Email, FullName: u.FullName, CreatedAt: u.CreatedAt}
}
