package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tosgen/tosgen/pkg/auth"
)

const requestIDHeader = "X-Request-ID"

// RequireSession aborts with 401 unless the request carries a valid session.
func RequireSession(sessions auth.SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := sessions.Resolve(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Request = c.Request.WithContext(auth.WithSession(c.Request.Context(), s))
		c.Next()
	}
}

// MustSession returns the session stored by RequireSession. It panics on
// routes outside RequireSession.
func MustSession(c *gin.Context) *auth.Session {
	s, ok := auth.FromContext(c.Request.Context())
	if !ok {
		panic("handler: no session in request context")
	}
	return s
}

// RequestLogger assigns a request id and logs one line per request.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Header(requestIDHeader, id)

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "HTTP request",
			"requestId", id,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
