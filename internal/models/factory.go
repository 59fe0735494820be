package models

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/neorix/internal/config"
)

// CreateService creates the chat service for a named provider. The gemini and vertex
// drivers use native SDK chats; every other driver goes through an eino ChatModel.
func CreateService(ctx context.Context, name string, cfg config.ProviderConfig) (Service, error) {
	switch strings.ToLower(cfg.Driver) {
	case "gemini":
		auth, err := ResolveAuth(cfg)
		if err != nil {
			return nil, fmt.Errorf("resolve auth: %w", err)
		}
		return NewGemini(ctx, name, cfg, auth)
	case "vertex":
		return NewVertex(ctx, name, cfg)
	}

	m, err := CreateModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewEinoService(name, cfg, m), nil
}

// CreateModel creates a model.ToolCallingChatModel from a provider config.
func CreateModel(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	switch strings.ToLower(cfg.Driver) {
	case "gemini", "gemini-eino":
		auth, err := ResolveAuth(config.ProviderConfig{Driver: "gemini-eino", Auth: cfg.Auth})
		if err != nil {
			return nil, fmt.Errorf("resolve auth: %w", err)
		}
		return NewGeminiEino(ctx, cfg, auth)
	case "anthropic":
		auth, err := ResolveAuth(cfg)
		if err != nil {
			return nil, fmt.Errorf("resolve auth: %w", err)
		}
		return NewAnthropic(ctx, cfg, auth)
	case "openai":
		auth, err := ResolveAuth(cfg)
		if err != nil {
			return nil, fmt.Errorf("resolve auth: %w", err)
		}
		return NewOpenAI(ctx, cfg, auth)
	case "mistral":
		auth, err := ResolveAuth(cfg)
		if err != nil {
			return nil, fmt.Errorf("resolve auth: %w", err)
		}
		return NewMistral(ctx, cfg, auth)
	case "ollama":
		return NewOllama(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown driver: %s", cfg.Driver)
	}
}
