package models

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/neorix/internal/config"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// NewOllama creates a ChatModel for a local or proxied Ollama server.
func NewOllama(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	timeout := 5 * time.Minute
	if d := cfg.Timeout.Duration(); d > 0 {
		timeout = d
	}

	opts := &einoollama.Options{NumPredict: cfg.MaxTokens}
	if v, ok := optFloat(cfg.Options, "top_p"); ok {
		opts.TopP = v
	}
	if v, ok := optFloat(cfg.Options, "num_ctx"); ok {
		opts.NumCtx = int(v)
	}
	if v, ok := optFloat(cfg.Options, "top_k"); ok {
		opts.TopK = int(v)
	}

	return einoollama.NewChatModel(ctx, &einoollama.ChatModelConfig{
		BaseURL: firstNonEmpty(cfg.BaseURL, defaultOllamaBaseURL),
		Model:   cfg.Model,
		Timeout: timeout,
		Options: opts,
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: &jsonOnlyTransport{next: http.DefaultTransport, provider: "ollama"},
		},
	})
}

// jsonOnlyTransport reports failed and non-JSON responses, such as a proxy answering
// "no available server" in plain text, as *ErrModelUnavailable.
type jsonOnlyTransport struct {
	next     http.RoundTripper
	provider string
}

func (t *jsonOnlyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, &ErrModelUnavailable{Provider: t.provider, Cause: err}
	}

	ct := resp.Header.Get("Content-Type")
	if resp.StatusCode < 400 && (ct == "" || strings.Contains(ct, "json")) {
		return resp, nil
	}

	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return nil, &ErrModelUnavailable{Provider: t.provider, Body: strings.TrimSpace(string(body))}
}
