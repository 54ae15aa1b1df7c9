package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultClaudeModel = "claude-3-5-haiku-latest"
	claudeMaxTokens    = 1024
)

// ClaudeProvider generates recommendations with the Anthropic Messages API
type ClaudeProvider struct {
	client anthropic.Client
	model  string
}

// NewClaudeProvider creates a Claude-backed provider. Extra request options
// (base URL, HTTP client) are passed through to the SDK.
func NewClaudeProvider(apiKey, model string, opts ...option.RequestOption) (*ClaudeProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("claude provider requires an API key")
	}
	if model == "" || model == "llama3.2" {
		model = defaultClaudeModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &ClaudeProvider{client: anthropic.NewClient(opts...), model: model}, nil
}

func (c *ClaudeProvider) Name() string { return "claude:" + c.model }

// Generate implements RecommendationProvider
func (c *ClaudeProvider) Generate(ctx context.Context, contextText string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: claudeMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(BuildPrompt(contextText))),
		},
		System: []anthropic.TextBlockParam{
			{Text: systemMessage},
		},
		Temperature: anthropic.Float(0.7),
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("Claude API call failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
