package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tosgen/tosgen/pkg/auth"
	"github.com/tosgen/tosgen/pkg/config"
	"github.com/tosgen/tosgen/pkg/db"
	"github.com/tosgen/tosgen/pkg/event"
	"github.com/tosgen/tosgen/pkg/handler"
	"github.com/tosgen/tosgen/pkg/models"
	"github.com/tosgen/tosgen/pkg/service"
	"github.com/tosgen/tosgen/pkg/utils"
)

// Deps holds the long-lived services shared by the HTTP handlers.
type Deps struct {
	DB       *gorm.DB
	Sessions *auth.Manager
	Users    *service.UserService
	Models   *service.ModelService
	Store    *service.ChatStore
	Registry *service.StreamRegistry
	Adapter  *service.StreamAdapter
	Emitter  *event.Emitter
	Bus      *service.CancelBus // nil without redis
}

// NewDeps opens the database and builds every service from cfg.
func NewDeps(ctx context.Context, cfg *config.AppConfig) (*Deps, error) {
	logger := utils.GetLogger()

	sessions, err := auth.NewManager(cfg.Auth.Secret, cfg.CookieName(), cfg.SessionTTL())
	if err != nil {
		return nil, fmt.Errorf("auth: %w (set AUTH_SECRET)", err)
	}

	gdb, err := db.Open(cfg.DatabaseDriver(), cfg.DatabaseDSN())
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return nil, err
	}
	logger.Info("Database ready", "driver", cfg.DatabaseDriver())

	registry := service.NewStreamRegistry()
	d := &Deps{
		DB:       gdb,
		Sessions: sessions,
		Users:    service.NewUserService(gdb),
		Models:   service.NewModelService(cfg.Models()),
		Store:    service.NewChatStore(gdb),
		Registry: registry,
		Adapter:  service.NewStreamAdapter(service.NewTokenEstimator(cfg.TokenEstimator()), cfg.ContextTurns()),
		Emitter:  event.NewEmitter(),
	}

	if cfg.Redis.Addr == "" {
		logger.Info("Redis not configured, stream cancellation is process-local")
		return d, nil
	}
	rdb, err := service.NewRedisClient(cfg.Redis)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	d.Bus = service.NewCancelBus(rdb, cfg.CancelChannel(), registry)
	return d, nil
}

// Close releases the database and redis connections.
func (d *Deps) Close() {
	if d.Bus != nil {
		_ = d.Bus.Close()
	}
	if d.DB != nil {
		if sqlDB, err := d.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

type Server struct {
	cfg       *config.AppConfig
	deps      *Deps
	ginEngine *gin.Engine
	chat      *handler.ChatHandler
	logger    *slog.Logger
	port      int
	stopped   chan struct{}
}

func NewServer(cfg *config.AppConfig, deps *Deps) *Server {
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())
	ginEngine.Use(handler.RequestLogger(utils.GetLogger()))
	ginEngine.Use(corsMiddleware(cfg.AllowedOrigins()))

	attachStatic(ginEngine, cfg.Server.StaticDir)

	server := &Server{
		cfg:       cfg,
		deps:      deps,
		ginEngine: ginEngine,
		logger:    utils.GetLogger(),
		port:      cfg.Port(),
		stopped:   make(chan struct{}),
	}

	server.SetupRoutes()

	return server
}

// corsMiddleware allows browser requests from localhost, from the server's
// own host and from the configured origins. Session cookies are sent
// cross-origin, so the origin is echoed with credentials on.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	extra := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		extra[strings.ToLower(o)] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// If there's no Origin header, it's not a browser CORS request.
		if origin != "" {
			if !originAllowed(origin, c.Request.Host, extra) {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func originAllowed(origin, host string, extra map[string]bool) bool {
	if extra[strings.ToLower(origin)] {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	// Same-origin requests carry an Origin too.
	return strings.EqualFold(u.Host, host)
}

// Start listens on the configured address and serves until ctx is done.
// It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host(), fmt.Sprintf("%d", s.cfg.Port()))
	srv := &http.Server{Addr: addr, Handler: s.ginEngine, ReadHeaderTimeout: 10 * time.Second}

	// Attempt to listen on port first; if occupied return error immediately
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	}
	s.logger.Info("Server listening", "addr", ln.Addr().String())

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server stopped", "error", err)
		}
	}()

	go func() {
		defer close(s.stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Graceful shutdown timed out", "error", err)
			return
		}
		// Handlers have returned; finish the chat turns they handed off.
		s.chat.Wait()
	}()
	return nil
}

// Wait blocks until a started server has shut down.
func (s *Server) Wait() { <-s.stopped }

func (s *Server) SetupRoutes() {
	d := s.deps

	s.ginEngine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	chatDeps := handler.ChatDeps{
		Sessions:       d.Sessions,
		Users:          d.Users,
		Models:         d.Models,
		Store:          d.Store,
		Registry:       d.Registry,
		Adapter:        d.Adapter,
		Emitter:        d.Emitter,
		CancelDebounce: s.cfg.CancelDebounce(),
	}
	// A nil *CancelBus must not end up in the interface field.
	if d.Bus != nil {
		chatDeps.Bus = d.Bus
	}
	chatHandler := handler.NewChatHandler(chatDeps)
	s.chat = chatHandler
	authHandler := handler.NewAuthHandler(d.Users, d.Sessions)
	wsHandler := event.NewWSHandler(d.Emitter, d.Sessions)

	// API group
	// /api
	apiGroup := s.ginEngine.Group("/api")

	// Runtime info for clients to discover base URLs and the model allow-list.
	apiGroup.GET("/runtime", func(c *gin.Context) {
		host := s.cfg.Host()
		httpBase := fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprintf("%d", s.port)))
		wsBase := fmt.Sprintf("ws://%s", net.JoinHostPort(host, fmt.Sprintf("%d", s.port)))
		c.JSON(http.StatusOK, models.RuntimeInfo{
			HTTPBaseURL:   httpBase,
			WSBaseURL:     wsBase,
			Port:          s.port,
			Models:        d.Models.Names(),
			ActiveStreams: d.Registry.Len(),
			CancelBus:     d.Bus != nil,
		})
	})

	chatHandler.RegisterRoutes(apiGroup)
	authHandler.RegisterRoutes(apiGroup)

	// Event notifications
	// /api/events/ws
	apiGroup.GET("/events/ws", wsHandler.Handle)
}
