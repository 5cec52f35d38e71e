package llm

import (
	"context"
	"fmt"
	"strings"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/anthropic"
	"charm.land/fantasy/providers/openai"
	"charm.land/fantasy/providers/openrouter"
)

type FantasyConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
}

// FantasyGenerator generates text through a fantasy language model.
type FantasyGenerator struct {
	model fantasy.LanguageModel
	name  string
}

func NewFantasyGenerator(ctx context.Context, cfg FantasyConfig) (*FantasyGenerator, error) {
	var provider fantasy.Provider
	var err error

	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{openai.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		provider, err = openai.New(opts...)

	case "anthropic":
		opts := []anthropic.Option{anthropic.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		provider, err = anthropic.New(opts...)

	case "openrouter":
		opts := []openrouter.Option{openrouter.WithAPIKey(cfg.APIKey)}
		provider, err = openrouter.New(opts...)

	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}

	model, err := provider.LanguageModel(ctx, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("get language model: %w", err)
	}

	return &FantasyGenerator{
		model: model,
		name:  cfg.Model,
	}, nil
}

// Generate joins the system instructions into one system prompt.
func (g *FantasyGenerator) Generate(ctx context.Context, system []string, user string) (string, error) {
	var opts []fantasy.AgentOption
	if len(system) > 0 {
		opts = append(opts, fantasy.WithSystemPrompt(strings.Join(system, "\n\n")))
	}
	agent := fantasy.NewAgent(g.model, opts...)

	result, err := agent.Generate(ctx, fantasy.AgentCall{
		Prompt: user,
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	return result.Response.Content.Text(), nil
}

func (g *FantasyGenerator) ModelName() string {
	return g.name
}
