package llm

import (
	"context"
	"fmt"
	"os"

	"apollorag/config"
	"apollorag/internal/port"
)

// New builds the generator named by cfg.Provider. Hosted providers go
// through fantasy; "http" and "local" use the plain chat completions client.
func New(ctx context.Context, cfg config.GeneratorConfig) (port.Generator, error) {
	switch cfg.Provider {
	case "openai", "anthropic", "openrouter":
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("API key not found. Set %s environment variable", cfg.APIKeyEnv)
		}
		return NewFantasyGenerator(ctx, FantasyConfig{
			Provider: cfg.Provider,
			APIKey:   key,
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
		})
	case "http", "local":
		return NewChatGenerator(cfg.Provider, cfg.Model, cfg.BaseURL, cfg.APIKeyEnv, cfg.Timeout)
	case "mock":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported generator provider: %s", cfg.Provider)
	}
}
