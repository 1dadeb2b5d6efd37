package genai

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// fakeCompletions records the last request and returns a canned response.
type fakeCompletions struct {
	lastParams openai.ChatCompletionNewParams
	resp       *openai.ChatCompletion
	err        error
}

func (f *fakeCompletions) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.lastParams = body
	return f.resp, f.err
}

func newTestClient(fake *fakeCompletions) *Client {
	return &Client{completions: fake, model: DefaultModel, temperature: DefaultTemperature, maxTokens: DefaultMaxTokens}
}

func TestGenerateWithMessagesReturnsContent(t *testing.T) {
	fake := &fakeCompletions{resp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "  hola, aquí estoy  "}}},
	}}
	c := newTestClient(fake)

	out, err := c.GenerateWithMessages(context.Background(), []Message{
		{Role: "system", Content: "contexto"},
		{Role: "user", Content: "hola"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hola, aquí estoy" {
		t.Errorf("expected trimmed reply, got %q", out)
	}
	if len(fake.lastParams.Messages) != 2 {
		t.Errorf("expected 2 outbound messages, got %d", len(fake.lastParams.Messages))
	}
}

func TestGenerateWithMessagesNoChoices(t *testing.T) {
	fake := &fakeCompletions{resp: &openai.ChatCompletion{}}
	c := newTestClient(fake)

	_, err := c.GenerateWithMessages(context.Background(), []Message{{Role: "user", Content: "hola"}})
	if !errors.Is(err, ErrNoUsableReply) {
		t.Errorf("expected ErrNoUsableReply, got %v", err)
	}
}

func TestGenerateWithMessagesEmptyContent(t *testing.T) {
	fake := &fakeCompletions{resp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "   "}}},
	}}
	c := newTestClient(fake)

	_, err := c.GenerateWithMessages(context.Background(), []Message{{Role: "user", Content: "hola"}})
	if !errors.Is(err, ErrNoUsableReply) {
		t.Errorf("expected ErrNoUsableReply for blank content, got %v", err)
	}
}

func TestGenerateWithMessagesTransportError(t *testing.T) {
	fake := &fakeCompletions{err: errors.New("connection refused")}
	c := newTestClient(fake)

	_, err := c.GenerateWithMessages(context.Background(), []Message{{Role: "user", Content: "hola"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrNoUsableReply) {
		t.Error("transport errors should not be ErrNoUsableReply")
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Error("expected error without API key")
	}
	c, err := NewClient(WithAPIKey("sk-test"), WithModel("gpt-4o"), WithTemperature(0.2), WithMaxTokens(128))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.model != "gpt-4o" || c.temperature != 0.2 || c.maxTokens != 128 {
		t.Errorf("options not applied: %+v", c)
	}
}
