package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino-ext/components/model/qianfan"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/tosgen/tosgen/pkg/config"
	"github.com/tosgen/tosgen/pkg/models"
	"github.com/tosgen/tosgen/pkg/utils"
)

// ModelService resolves client-facing model names to provider chat models.
// Only configured names are accepted.
type ModelService struct {
	configs map[string]config.ModelConfig
	order   []string
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[string]einoModel.BaseChatModel
}

func NewModelService(cfgs []config.ModelConfig) *ModelService {
	s := &ModelService{
		configs: make(map[string]config.ModelConfig, len(cfgs)),
		cache:   make(map[string]einoModel.BaseChatModel),
		logger:  utils.GetLogger(),
	}
	for _, c := range cfgs {
		if _, dup := s.configs[c.Name]; !dup {
			s.order = append(s.order, c.Name)
		}
		s.configs[c.Name] = c
	}
	return s
}

// Supported reports whether name is in the allow-list.
func (s *ModelService) Supported(name string) bool {
	_, ok := s.configs[name]
	return ok
}

// Names returns the allow-list in configuration order.
func (s *ModelService) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// List returns the configured models. Keys are never included.
func (s *ModelService) List() []models.ModelInfo {
	out := make([]models.ModelInfo, 0, len(s.order))
	for _, name := range s.order {
		c := s.configs[name]
		out = append(out, models.ModelInfo{
			Name:       c.Name,
			Provider:   c.Provider,
			Model:      c.Model,
			BaseURL:    c.BaseURL,
			Configured: c.APIKey != "" || !needsAPIKey(c.Provider),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ChatModel returns the chat model bound to name, creating it on first use.
func (s *ModelService) ChatModel(ctx context.Context, name string) (einoModel.BaseChatModel, error) {
	cfg, ok := s.configs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotConfigured, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.cache[name]; ok {
		return m, nil
	}
	m, err := s.CreateChatModel(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	s.cache[name] = m
	s.logger.Info("Chat model initialized", "name", name, "provider", cfg.Provider, "model", cfg.Model)
	return m, nil
}

// CreateChatModel builds a provider client from one model entry.
func (s *ModelService) CreateChatModel(ctx context.Context, cfg *config.ModelConfig) (einoModel.BaseChatModel, error) {
	if cfg == nil {
		return nil, fmt.Errorf("model config is nil")
	}
	if cfg.APIKey == "" && needsAPIKey(cfg.Provider) {
		return nil, fmt.Errorf("%w: %s has no API key", ErrModelNotConfigured, cfg.Name)
	}

	var maxTokens *int
	if cfg.MaxTokens > 0 {
		maxTokens = &cfg.MaxTokens
	}

	switch cfg.Provider {
	case "openai", "custom":
		chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   maxTokens,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
		}
		return chatModel, nil

	case "google":
		genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client:      genaiClient,
			Model:       cfg.Model,
			MaxTokens:   maxTokens,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini model: %w", err)
		}
		return chatModel, nil

	case "anthropic":
		maxOut := cfg.MaxTokens
		if maxOut <= 0 {
			maxOut = 8192
		}
		claudeCfg := &claude.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   maxOut,
			Temperature: cfg.Temperature,
		}
		if cfg.BaseURL != "" {
			claudeCfg.BaseURL = &cfg.BaseURL
		}
		chatModel, err := claude.NewChatModel(ctx, claudeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create Claude model: %w", err)
		}
		return chatModel, nil

	case "deepseek":
		chatModel, err := deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create DeepSeek model: %w", err)
		}
		return chatModel, nil

	case "ollama":
		chatModel, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama model: %w", err)
		}
		return chatModel, nil

	case "qianfan":
		// The qianfan SDK reads credentials from one process-wide config.
		// config.Validate allows a single qianfan entry.
		qianfanConfig := qianfan.GetQianfanSingletonConfig()
		if cfg.BaseURL != "" {
			qianfanConfig.BaseURL = cfg.BaseURL
		}
		qianfanConfig.BearerToken = cfg.APIKey
		chatModel, err := qianfan.NewChatModel(ctx, &qianfan.ChatModelConfig{
			Model: cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Qianfan model: %w", err)
		}
		return chatModel, nil

	case "qwen":
		chatModel, err := qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Qwen model: %w", err)
		}
		return chatModel, nil

	case "ark":
		timeout := time.Second * 600
		retries := 3
		chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:    cfg.BaseURL,
			Timeout:    &timeout,
			RetryTimes: &retries,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ark model: %w", err)
		}
		return chatModel, nil
	}

	return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
}

func needsAPIKey(provider string) bool {
	return provider != "ollama"
}
