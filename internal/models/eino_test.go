package models

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/neorix/internal/config"
	"github.com/dohr-michael/neorix/internal/modes"
)

type fakeModel struct {
	mu      sync.Mutex
	inputs  [][]*schema.Message
	options []*model.Options
	reply   []*schema.Message
	err     error
}

func (f *fakeModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return nil, errors.New("not used")
}

func (f *fakeModel) Stream(_ context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	f.options = append(f.options, model.GetCommonOptions(nil, opts...))
	if f.err != nil {
		return nil, f.err
	}
	return schema.StreamReaderFromArray(f.reply), nil
}

func collect(t *testing.T, c Chat, text string) ([]string, *Usage, error) {
	t.Helper()
	var texts []string
	var usage *Usage
	for chunk, err := range c.Stream(context.Background(), text) {
		if err != nil {
			return texts, usage, err
		}
		if chunk.Text != "" {
			texts = append(texts, chunk.Text)
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}
	return texts, usage, nil
}

func TestEinoChat_StreamsAndKeepsHistory(t *testing.T) {
	fm := &fakeModel{reply: []*schema.Message{
		schema.AssistantMessage("Sal", nil),
		schema.AssistantMessage("", nil),
		schema.AssistantMessage("om", nil),
		{Role: schema.Assistant, ResponseMeta: &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 12, CompletionTokens: 3}}},
	}}
	svc := NewEinoService("local", config.ProviderConfig{Driver: "ollama"}, fm)

	mc := modes.ConfigFor(modes.Fast)
	chat, err := svc.Open(context.Background(), mc)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	texts, usage, err := collect(t, chat, "salom")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(texts) != 2 || texts[0] != "Sal" || texts[1] != "om" {
		t.Fatalf("texts = %q", texts)
	}
	if usage == nil || usage.Input != 12 || usage.Output != 3 {
		t.Fatalf("usage = %+v", usage)
	}

	first := fm.inputs[0]
	if len(first) != 2 || first[0].Role != schema.System || first[0].Content != mc.Instruction {
		t.Fatalf("first request = %+v", first)
	}
	opts := fm.options[0]
	if opts.Temperature == nil || *opts.Temperature != mc.Temperature {
		t.Errorf("temperature option = %v", opts.Temperature)
	}
	if opts.Model == nil || *opts.Model != mc.Model {
		t.Errorf("model option = %v", opts.Model)
	}

	if _, _, err := collect(t, chat, "yana"); err != nil {
		t.Fatalf("second Stream: %v", err)
	}
	second := fm.inputs[1]
	if len(second) != 4 {
		t.Fatalf("second request has %d messages, want 4", len(second))
	}
	if second[2].Role != schema.Assistant || second[2].Content != "Salom" {
		t.Errorf("history reply = %+v", second[2])
	}
}

func TestEinoChat_ErrorDoesNotExtendHistory(t *testing.T) {
	fm := &fakeModel{err: errors.New("connection refused")}
	chat, _ := NewEinoService("x", config.ProviderConfig{}, fm).Open(context.Background(), modes.ConfigFor(modes.General))

	if _, _, err := collect(t, chat, "salom"); err == nil {
		t.Fatal("expected error")
	}

	fm.err = nil
	if _, _, err := collect(t, chat, "salom"); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if n := len(fm.inputs[1]); n != 2 {
		t.Fatalf("failed turn leaked into history: %d messages", n)
	}
}

func TestEinoChat_EarlyBreakDoesNotExtendHistory(t *testing.T) {
	fm := &fakeModel{reply: []*schema.Message{
		schema.AssistantMessage("a", nil),
		schema.AssistantMessage("b", nil),
	}}
	chat, _ := NewEinoService("x", config.ProviderConfig{}, fm).Open(context.Background(), modes.ConfigFor(modes.General))

	for range chat.Stream(context.Background(), "salom") {
		break
	}
	if _, _, err := collect(t, chat, "yana"); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if n := len(fm.inputs[1]); n != 2 {
		t.Fatalf("abandoned turn leaked into history: %d messages", n)
	}
}
