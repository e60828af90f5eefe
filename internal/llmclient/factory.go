// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/internal/config"
)

// NewGateway builds the configured provider, with a separate vision-tier
// model when one is configured, wrapped in pacing, retries and token
// accounting. usage may be nil.
func NewGateway(ctx context.Context, cfg config.LLMConfig, usage *UsageCounter, logger *zap.Logger) (*Client, error) {
	return newGateway(ctx, cfg, usage, nil, logger)
}

func newGateway(ctx context.Context, cfg config.LLMConfig, usage *UsageCounter, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	text, err := newProvider(ctx, cfg, cfg.Model, httpClient, logger)
	if err != nil {
		return nil, err
	}
	var vision provider
	if cfg.VisionModel != "" && cfg.VisionModel != cfg.Model {
		if vision, err = newProvider(ctx, cfg, cfg.VisionModel, httpClient, logger); err != nil {
			return nil, err
		}
	}
	r, err := newRouter(logger, text, vision)
	if err != nil {
		return nil, err
	}
	return newClient(r, logger,
		WithRequestsPerMinute(cfg.RequestsPerMinute),
		WithMaxRetries(cfg.MaxRetries),
		WithAttemptTimeout(cfg.APITimeout),
		WithUsageCounter(usage),
	), nil
}

func newProvider(ctx context.Context, cfg config.LLMConfig, model string, httpClient *http.Client, logger *zap.Logger) (provider, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return newOpenAIProvider(cfg.APIKey, cfg.Endpoint, model, cfg.Temperature, cfg.MaxTokens, httpClient, logger), nil
	case config.ProviderGemini:
		return newGeminiProvider(ctx, cfg.APIKey, cfg.Endpoint, model, cfg.Temperature, cfg.MaxTokens, httpClient, logger)
	case config.ProviderOllama:
		return newOllamaProvider(cfg.Endpoint, model, cfg.Temperature, cfg.MaxTokens, httpClient, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s, %s]",
			cfg.Provider, config.ProviderOpenAI, config.ProviderGemini, config.ProviderOllama)
	}
}
