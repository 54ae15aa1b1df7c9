package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiProvider generates recommendations with the Gemini API
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a Gemini-backed provider
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini provider requires an API key")
	}
	if model == "" || model == "llama3.2" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func (g *GeminiProvider) Name() string { return "gemini:" + g.model }

// Generate implements RecommendationProvider
func (g *GeminiProvider) Generate(ctx context.Context, contextText string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(0.7)),
		TopP:              genai.Ptr(float32(0.9)),
		SystemInstruction: genai.NewContentFromText(systemMessage, genai.RoleUser),
	}
	contents := []*genai.Content{genai.NewContentFromText(BuildPrompt(contextText), genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}

	var sb strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					sb.WriteString(part.Text)
				}
			}
			if sb.Len() > 0 {
				break
			}
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
