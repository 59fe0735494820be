package models

import (
	"context"
	"time"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/neorix/internal/config"
)

const (
	defaultMistralBaseURL = "https://api.mistral.ai/v1"
	defaultMistralModel   = "mistral-small-latest"
)

// NewOpenAI creates a ChatModel for the OpenAI API.
func NewOpenAI(ctx context.Context, cfg config.ProviderConfig, auth ResolvedAuth) (model.ToolCallingChatModel, error) {
	return newOpenAICompatible(ctx, cfg, auth, "", "", time.Minute)
}

// NewMistral creates a ChatModel for Mistral through its OpenAI-compatible endpoint.
func NewMistral(ctx context.Context, cfg config.ProviderConfig, auth ResolvedAuth) (model.ToolCallingChatModel, error) {
	return newOpenAICompatible(ctx, cfg, auth, defaultMistralBaseURL, defaultMistralModel, 5*time.Minute)
}

// newOpenAICompatible builds the eino openai model. The model name set here is only
// the provider default; each stream passes the mode's model with model.WithModel.
func newOpenAICompatible(ctx context.Context, cfg config.ProviderConfig, auth ResolvedAuth, baseURL, modelName string, timeout time.Duration) (model.ToolCallingChatModel, error) {
	mc := &einoopenai.ChatModelConfig{
		APIKey:  auth.Value,
		Model:   firstNonEmpty(cfg.Model, modelName),
		BaseURL: firstNonEmpty(cfg.BaseURL, baseURL),
		Timeout: timeout,
	}
	if d := cfg.Timeout.Duration(); d > 0 {
		mc.Timeout = d
	}
	if cfg.MaxTokens > 0 {
		n := cfg.MaxTokens
		mc.MaxCompletionTokens = &n
	}
	if p, ok := optFloat(cfg.Options, "top_p"); ok {
		mc.TopP = &p
	}
	return einoopenai.NewChatModel(ctx, mc)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// optFloat reads a numeric provider option. JSON numbers decode as float64.
func optFloat(opts map[string]any, key string) (float32, bool) {
	v, ok := opts[key].(float64)
	return float32(v), ok
}
