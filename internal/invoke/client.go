package invoke

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ari/llm-ledger/internal/tracker"
	openai "github.com/sashabaranov/go-openai"
)

// ChatCompleter is the part of the OpenAI client this package needs
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client wraps a chat completion client and records the outcome of every
// call in a ledger, whether it succeeded or not.
type Client struct {
	chat     ChatCompleter
	ledger   tracker.Recorder
	provider string
	logger   *slog.Logger
	now      func() time.Time
}

// Config configures NewOpenAI
type Config struct {
	APIKey   string
	BaseURL  string
	Provider string
}

// NewOpenAI creates a Client for an OpenAI-compatible endpoint
func NewOpenAI(cfg Config, ledger tracker.Recorder, logger *slog.Logger) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	return New(openai.NewClientWithConfig(clientCfg), provider, ledger, logger)
}

// New creates a Client around an existing chat completer
func New(chat ChatCompleter, provider string, ledger tracker.Recorder, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		chat:     chat,
		ledger:   ledger,
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}
}

// Chat sends req on behalf of caller and records the call. conversationID
// may be empty. The response and error are those of the underlying client.
func (c *Client) Chat(ctx context.Context, caller, conversationID string, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	start := c.now()
	resp, err := c.chat.CreateChatCompletion(ctx, req)
	elapsed := c.now().Sub(start)

	model := req.Model
	if err == nil && resp.Model != "" {
		model = resp.Model
	}

	rec := c.ledger.Record(c.provider, model, caller,
		tracker.WithConversation(conversationID),
		tracker.WithTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		tracker.WithDuration(float64(elapsed)/float64(time.Millisecond)),
		tracker.WithSuccess(err == nil),
	)

	c.logger.Debug("llm call recorded",
		"provider", rec.Provider,
		"model", rec.Model,
		"caller", rec.Caller,
		"conversation_id", rec.ConversationID,
		"total_tokens", rec.TotalTokens,
		"cost_usd", rec.EstimatedCostUSD,
		"duration_ms", rec.DurationMs,
		"success", rec.Success)

	if err != nil {
		return resp, fmt.Errorf("chat completion for %s failed: %w", caller, err)
	}
	return resp, nil
}

// Ask sends a single user prompt and returns the first choice's content
func (c *Client) Ask(ctx context.Context, caller, conversationID, model, prompt string) (string, error) {
	resp, err := c.Chat(ctx, caller, conversationID, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
