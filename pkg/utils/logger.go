package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// LogOptions selects the handler used by InitLogger.
type LogOptions struct {
	Level  string // debug, info, warn, error
	Format string // tint, text, json
	Output io.Writer
}

var (
	loggerMu sync.RWMutex
	logger   *slog.Logger
)

// InitLogger installs the process logger. It may be called again after the
// config has been loaded to switch level or format.
func InitLogger(opts ...LogOptions) *slog.Logger {
	var o LogOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Output == nil {
		o.Output = os.Stderr
	}

	level := ParseLevel(o.Level)
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(o.Format)) {
	case "json":
		handler = slog.NewJSONHandler(o.Output, &slog.HandlerOptions{Level: level})
	case "text":
		handler = slog.NewTextHandler(o.Output, &slog.HandlerOptions{Level: level})
	default:
		handler = tint.NewHandler(o.Output, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
		})
	}

	l := slog.New(handler)
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
	slog.SetDefault(l)
	return l
}

// GetLogger returns the process logger, initializing a default one on first use.
func GetLogger() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	return InitLogger()
}

// ParseLevel maps a config string to a slog level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
