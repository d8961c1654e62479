package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tosgen/tosgen/pkg/config"
	"github.com/tosgen/tosgen/pkg/utils"
)

// CancelMessage is published when a cancel request reaches a process that
// does not hold the stream.
type CancelMessage struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
	Origin string `json:"origin"`
}

// CancelBus forwards cancel requests between processes over Redis pub/sub.
type CancelBus struct {
	rdb      *redis.Client
	channel  string
	registry *StreamRegistry
	origin   string
	logger   *slog.Logger
}

// NewRedisClient builds a client from the redis config section. Addr may be a
// host:port pair or a redis:// URL.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	if strings.HasPrefix(cfg.Addr, "redis://") || strings.HasPrefix(cfg.Addr, "rediss://") {
		opts, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 10 * time.Second,
	}), nil
}

func NewCancelBus(rdb *redis.Client, channel string, registry *StreamRegistry) *CancelBus {
	if channel == "" {
		channel = config.DefaultCancelChannel
	}
	return &CancelBus{
		rdb:      rdb,
		channel:  channel,
		registry: registry,
		origin:   uuid.New().String(),
		logger:   utils.GetLogger(),
	}
}

// Publish asks every subscribed process to cancel chatID on behalf of userID.
func (b *CancelBus) Publish(ctx context.Context, chatID, userID string) error {
	payload, err := json.Marshal(CancelMessage{ChatID: chatID, UserID: userID, Origin: b.origin})
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish cancel: %w", err)
	}
	return nil
}

// Run applies incoming cancel messages to the local registry until ctx ends.
// ready, if non-nil, is closed once the subscription is confirmed.
func (b *CancelBus) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	b.logger.Info("Cancel bus subscribed", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(msg.Payload)
		}
	}
}

func (b *CancelBus) handle(payload string) {
	var m CancelMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		b.logger.Warn("Invalid cancel message", "error", err)
		return
	}
	ok, err := b.registry.CancelOwned(m.ChatID, m.UserID)
	if err != nil {
		b.logger.Warn("Refused forwarded cancel", "chatId", m.ChatID, "error", err)
		return
	}
	if ok {
		b.logger.Info("Cancelled stream from bus", "chatId", m.ChatID, "origin", m.Origin)
	}
}

func (b *CancelBus) Close() error {
	return b.rdb.Close()
}
