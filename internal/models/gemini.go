package models

import (
	"context"
	"fmt"
	"iter"
	"os"

	einogemini "github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/dohr-michael/neorix/internal/config"
	"github.com/dohr-michael/neorix/internal/modes"
)

const (
	defaultGeminiModel    = "gemini-3-flash-preview"
	defaultVertexLocation = "us-central1"
)

// GenAIService opens native Gemini chats through google.golang.org/genai. History is
// kept by the SDK's chat object.
type GenAIService struct {
	provider string
	cfg      config.ProviderConfig
	client   *genai.Client
}

// NewGemini creates a service on the Gemini Developer API.
func NewGemini(ctx context.Context, provider string, cfg config.ProviderConfig, auth ResolvedAuth) (*GenAIService, error) {
	client, err := newGenAIClient(ctx, cfg, &genai.ClientConfig{
		APIKey:  auth.Value,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GenAIService{provider: provider, cfg: cfg, client: client}, nil
}

// NewVertex creates a service on Vertex AI. Credentials come from ADC.
func NewVertex(ctx context.Context, provider string, cfg config.ProviderConfig) (*GenAIService, error) {
	project := cfg.Project
	if project == "" {
		project = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if project == "" {
		return nil, fmt.Errorf("%w: vertex project not set (config project or GOOGLE_CLOUD_PROJECT)", ErrNoCredentials)
	}
	location := cfg.Location
	if location == "" {
		location = defaultVertexLocation
	}

	client, err := newGenAIClient(ctx, cfg, &genai.ClientConfig{
		Project:  project,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, err
	}
	return &GenAIService{provider: provider, cfg: cfg, client: client}, nil
}

func newGenAIClient(ctx context.Context, cfg config.ProviderConfig, cc *genai.ClientConfig) (*genai.Client, error) {
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	if d := cfg.Timeout.Duration(); d > 0 {
		cc.HTTPOptions.Timeout = &d
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client, nil
}

// Open creates a chat bound to the mode's instruction, model and temperature.
// Chats.Create builds a local handle and does not contact the API.
func (s *GenAIService) Open(ctx context.Context, mc modes.Config) (Chat, error) {
	modelName := ResolveModel(s.cfg, mc)

	gc := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(mc.Instruction, genai.RoleUser),
		Temperature:       genai.Ptr(mc.Temperature),
	}
	if s.cfg.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(s.cfg.MaxTokens)
	}

	chat, err := s.client.Chats.Create(ctx, modelName, gc, nil)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return &genaiChat{chat: chat}, nil
}

// Describe implements Describer.
func (s *GenAIService) Describe(mc modes.Config) (string, string) {
	return s.provider, ResolveModel(s.cfg, mc)
}

type genaiChat struct {
	chat *genai.Chat
}

func (c *genaiChat) Stream(ctx context.Context, text string) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		for resp, err := range c.chat.SendMessageStream(ctx, genai.Part{Text: text}) {
			if err != nil {
				yield(Chunk{}, err)
				return
			}
			chunk := Chunk{Text: resp.Text()}
			if u := resp.UsageMetadata; u != nil {
				chunk.Usage = &Usage{
					Input:  int(u.PromptTokenCount),
					Output: int(u.CandidatesTokenCount),
				}
			}
			if chunk.Text == "" && chunk.Usage == nil {
				continue
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// NewGeminiEino creates a Gemini ChatModel through the eino adapter. Unlike
// GenAIService, history is replayed by the caller on every request.
func NewGeminiEino(ctx context.Context, cfg config.ProviderConfig, auth ResolvedAuth) (model.ToolCallingChatModel, error) {
	client, err := newGenAIClient(ctx, cfg, &genai.ClientConfig{
		APIKey:  auth.Value,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultGeminiModel
	}

	modelConfig := &einogemini.Config{
		Client: client,
		Model:  modelName,
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		modelConfig.MaxTokens = &maxTokens
	}

	return einogemini.NewChatModel(ctx, modelConfig)
}
