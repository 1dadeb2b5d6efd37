// Package genai provides the conversational language model client used to
// generate chat replies, wrapped behind a small interface so flows can be
// tested without network access.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default generation parameters.
const (
	// DefaultModel is the chat model used when none is configured.
	DefaultModel = openai.ChatModelGPT4oMini
	// DefaultTemperature is the sampling temperature for chat replies.
	DefaultTemperature = 0.7
	// DefaultMaxTokens caps the length of a generated reply.
	DefaultMaxTokens = 512
)

// ErrNoUsableReply indicates the model returned no choices or empty content.
// Callers are expected to substitute deterministic local fallback text.
var ErrNoUsableReply = errors.New("no usable reply from language model")

// Message is one entry of an outbound request: hidden system context, a
// prior transcript turn, or the new user turn.
type Message struct {
	Role    string // "system", "user" or "assistant"
	Content string
}

// ClientInterface is the conversational API surface used by flows.
type ClientInterface interface {
	// GenerateWithMessages produces a reply for the ordered message list.
	GenerateWithMessages(ctx context.Context, msgs []Message) (string, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int64
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the API key for the conversational API.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel overrides the chat model identifier.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(temperature float64) Option {
	return func(o *Opts) {
		o.Temperature = temperature
	}
}

// WithMaxTokens overrides the reply length cap.
func WithMaxTokens(maxTokens int64) Option {
	return func(o *Opts) {
		o.MaxTokens = maxTokens
	}
}

// completionService defines the minimal chat completion surface, so tests can
// substitute a fake without a real HTTP client.
type completionService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client wraps the chat completion service for generating replies.
type Client struct {
	completions completionService
	model       string
	temperature float64
	maxTokens   int64
}

// NewClient initializes a new GenAI client from the provided options.
// The API key is required; model and generation parameters have defaults.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: DefaultModel, Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	slog.Debug("genai.NewClient: creating client", "model", cfg.Model, "temperature", cfg.Temperature, "maxTokens", cfg.MaxTokens)

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{
		completions: &cli.Chat.Completions,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// GenerateWithMessages sends the ordered message list to the chat completion
// API and returns the first available reply text. Missing choices or empty
// content yield ErrNoUsableReply.
func (c *Client) GenerateWithMessages(ctx context.Context, msgs []Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    toParamMessages(msgs),
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(c.maxTokens),
	}

	resp, err := c.completions.New(ctx, params)
	if err != nil {
		slog.Error("genai.GenerateWithMessages: chat completion failed", "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("genai.GenerateWithMessages: no choices returned")
		return "", ErrNoUsableReply
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		slog.Warn("genai.GenerateWithMessages: empty reply content")
		return "", ErrNoUsableReply
	}
	slog.Debug("genai.GenerateWithMessages: reply generated", "length", len(content))
	return content, nil
}

// toParamMessages converts transcript messages to API request parameters.
func toParamMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
