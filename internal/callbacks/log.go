// Package callbacks provides Eino callback handlers for hosted model calls.
package callbacks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	ub "github.com/cloudwego/eino/utils/callbacks"
)

// Attach installs a logging handler for one chat model call on ctx. Drivers built on
// eino-ext report through it.
func Attach(ctx context.Context, provider string, logger *slog.Logger) context.Context {
	info := &callbacks.RunInfo{
		Name:      provider,
		Type:      provider,
		Component: components.ComponentOfChatModel,
	}
	return callbacks.InitCallbacks(ctx, info, NewLogHandler(logger))
}

// NewLogHandler creates a callback handler that logs chat model calls at debug level,
// with the token usage reported by the provider.
func NewLogHandler(logger *slog.Logger) callbacks.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	modelHandler := &ub.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *callbacks.RunInfo, input *model.CallbackInput) context.Context {
			attrs := []any{"provider", info.Name, "messages", len(input.Messages)}
			if input.Config != nil {
				attrs = append(attrs, "model", input.Config.Model)
			}
			logger.Debug("llm request", attrs...)
			return ctx
		},

		OnEnd: func(ctx context.Context, info *callbacks.RunInfo, output *model.CallbackOutput) context.Context {
			logUsage(logger, info, output.TokenUsage, 0)
			return ctx
		},

		OnEndWithStreamOutput: func(ctx context.Context, info *callbacks.RunInfo, output *schema.StreamReader[*model.CallbackOutput]) context.Context {
			// The copy must be drained off the caller's goroutine or the reply stops streaming.
			go func() {
				defer output.Close()
				start := time.Now()
				var usage *model.TokenUsage
				for {
					out, err := output.Recv()
					if errors.Is(err, io.EOF) {
						break
					}
					if err != nil {
						logger.Debug("llm stream aborted", "provider", info.Name, "error", err)
						return
					}
					if out != nil && out.TokenUsage != nil {
						usage = out.TokenUsage
					}
				}
				logUsage(logger, info, usage, time.Since(start))
			}()
			return ctx
		},

		OnError: func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			logger.Debug("llm error", "provider", info.Name, "error", err)
			return ctx
		},
	}

	return ub.NewHandlerHelper().
		ChatModel(modelHandler).
		Handler()
}

func logUsage(logger *slog.Logger, info *callbacks.RunInfo, usage *model.TokenUsage, d time.Duration) {
	attrs := []any{"provider", info.Name}
	if usage != nil {
		attrs = append(attrs, "tokens_input", usage.PromptTokens, "tokens_output", usage.CompletionTokens)
	}
	if d > 0 {
		attrs = append(attrs, "duration", d)
	}
	logger.Debug("llm response", attrs...)
}
