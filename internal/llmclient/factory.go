// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bitesense/api/schemas"
	"github.com/xkilldash9x/bitesense/internal/config"
)

// NewBackend creates the Backend for the configured provider.
func NewBackend(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (Backend, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiBackend(ctx, cfg, logger)
	case config.ProviderOpenAI:
		return NewOpenAIBackend(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderOpenAI)
	}
}

// NewManagerFromConfig wires a Manager whose backend is built from cfg on Init.
func NewManagerFromConfig(cfg config.LLMConfig, logger *zap.Logger) *Manager {
	factory := func(ctx context.Context) (Backend, error) {
		return NewBackend(ctx, cfg, logger)
	}
	return NewManager(factory, OptionsFromConfig(cfg), logger)
}

// OptionsFromConfig derives per-request sampling. Detection is deterministic,
// elaboration asks for JSON, and chat uses the configured temperature.
func OptionsFromConfig(cfg config.LLMConfig) ManagerOptions {
	base := schemas.GenerationOptions{
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		TopK:        cfg.TopK,
		MaxTokens:   cfg.MaxTokens,
	}

	detect := base
	detect.Temperature = 0

	elaborate := base
	elaborate.ForceJSONFormat = true

	return ManagerOptions{Detect: detect, Elaborate: elaborate, Chat: base}
}
