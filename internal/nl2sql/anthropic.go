package nl2sql

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// AnthropicCompleter uses the Messages API.
type AnthropicCompleter struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewAnthropicCompleter(cfg AnthropicConfig) (*AnthropicCompleter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(anthropic.ModelClaudeHaiku4_5_20251001)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		option.WithMaxRetries(0),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	return &AnthropicCompleter{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}, nil
}

func (c *AnthropicCompleter) Complete(ctx context.Context, completion Completion) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   int64(completion.MaxTokens),
		Temperature: anthropic.Float(completion.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: completion.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(completion.User)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in response")
}
