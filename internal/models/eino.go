package models

import (
	"context"
	"errors"
	"io"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/neorix/internal/callbacks"
	"github.com/dohr-michael/neorix/internal/config"
	"github.com/dohr-michael/neorix/internal/events"
	"github.com/dohr-michael/neorix/internal/modes"
)

// EinoService adapts any eino chat model to Service. One model instance serves every
// mode; model name and temperature are passed per request.
type EinoService struct {
	provider string
	cfg      config.ProviderConfig
	model    model.BaseChatModel
}

// NewEinoService wraps m for the named provider.
func NewEinoService(provider string, cfg config.ProviderConfig, m model.BaseChatModel) *EinoService {
	return &EinoService{provider: provider, cfg: cfg, model: m}
}

// Open implements Service. It never contacts the provider.
func (s *EinoService) Open(_ context.Context, mc modes.Config) (Chat, error) {
	return &einoChat{
		provider:    s.provider,
		model:       s.model,
		modelName:   ResolveModel(s.cfg, mc),
		temperature: mc.Temperature,
		history:     []*schema.Message{schema.SystemMessage(mc.Instruction)},
	}, nil
}

// Describe implements Describer.
func (s *EinoService) Describe(mc modes.Config) (string, string) {
	return s.provider, ResolveModel(s.cfg, mc)
}

type einoChat struct {
	provider    string
	model       model.BaseChatModel
	modelName   string
	temperature float32

	mu      sync.Mutex
	history []*schema.Message
}

func (c *einoChat) Stream(ctx context.Context, text string) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		user := schema.UserMessage(text)

		c.mu.Lock()
		input := append(slices.Clone(c.history), user)
		c.mu.Unlock()

		opts := []model.Option{model.WithTemperature(c.temperature)}
		if c.modelName != "" {
			opts = append(opts, model.WithModel(c.modelName))
		}

		ctx := callbacks.Attach(ctx, c.provider, events.Logger(ctx))
		sr, err := c.model.Stream(ctx, input, opts...)
		if err != nil {
			yield(Chunk{}, err)
			return
		}
		defer sr.Close()

		var full strings.Builder
		for {
			msg, err := sr.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				yield(Chunk{}, err)
				return
			}
			if msg == nil {
				continue
			}

			chunk := Chunk{Text: msg.Content}
			if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
				chunk.Usage = &Usage{
					Input:  msg.ResponseMeta.Usage.PromptTokens,
					Output: msg.ResponseMeta.Usage.CompletionTokens,
				}
			}
			full.WriteString(msg.Content)

			if chunk.Text == "" && chunk.Usage == nil {
				continue
			}
			if !yield(chunk, nil) {
				return
			}
		}

		// Only completed turns become history.
		c.mu.Lock()
		c.history = append(c.history, user, schema.AssistantMessage(full.String(), nil))
		c.mu.Unlock()
	}
}

// ResolveModel picks the model id for a mode: mode_models[mode] > model > the mode's own.
func ResolveModel(cfg config.ProviderConfig, mc modes.Config) string {
	if m := cfg.ModeModels[string(mc.Mode)]; m != "" {
		return m
	}
	if cfg.Model != "" {
		return cfg.Model
	}
	return mc.Model
}
