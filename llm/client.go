package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client generates recommendations through an OpenAI-compatible chat API.
// Ollama serves the same API under /v1, which is the default deployment.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	sampling Sampling
	http     *http.Client
}

// Sampling are the decoding parameters sent with every request
type Sampling struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// DefaultSampling keeps advice focused and short enough to read in one screen
var DefaultSampling = Sampling{Temperature: 0.3, TopP: 0.9, MaxTokens: 700}

// NewClient creates a chat client. Requests carry no client-side timeout;
// Generate bounds them through the context.
func NewClient(endpoint, apiKey, model string) *Client {
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		model:    model,
		sampling: DefaultSampling,
		http: &http.Client{Transport: &http.Transport{
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		}},
	}
}

// WithSampling overrides the decoding parameters
func (c *Client) WithSampling(s Sampling) *Client {
	c.sampling = s
	return c
}

// Message is one chat turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the chat completions request body
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type choice struct {
	Message      Message `json:"message"`
	Delta        Message `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type chatResponse struct {
	Choices []choice `json:"choices"`
}

// StreamCallback receives each generated fragment in order
type StreamCallback func(chunk string) error

// StatusError is a non-200 reply from the chat endpoint
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat endpoint returned %d: %s", e.Code, e.Body)
}

var errNoChoices = errors.New("chat endpoint returned no choices")

// Name identifies the provider in logs and cache keys
func (c *Client) Name() string { return "openai:" + c.model }

// Generate implements RecommendationProvider
func (c *Client) Generate(ctx context.Context, contextText string) (string, error) {
	body, err := c.post(ctx, adviceMessages(contextText), false)
	if err != nil {
		return "", err
	}
	defer body.Close()

	var resp chatResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream implements StreamingProvider. The returned text is the
// concatenation of every fragment passed to callback.
func (c *Client) GenerateStream(ctx context.Context, contextText string, callback StreamCallback) (string, error) {
	body, err := c.post(ctx, adviceMessages(contextText), true)
	if err != nil {
		return "", err
	}
	defer body.Close()

	var sb strings.Builder
	err = readStream(body, func(chunk string) error {
		sb.WriteString(chunk)
		return callback(chunk)
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

func adviceMessages(contextText string) []Message {
	return []Message{
		{Role: "system", Content: systemMessage},
		{Role: "user", Content: BuildPrompt(contextText)},
	}
}

// post sends a chat request and returns the body of a 200 reply
func (c *Client) post(ctx context.Context, messages []Message, stream bool) (io.ReadCloser, error) {
	payload, err := json.Marshal(ChatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.sampling.Temperature,
		TopP:        c.sampling.TopP,
		MaxTokens:   c.sampling.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp.Body, nil
}

// readStream walks "data: {...}" events until [DONE] or a finish reason.
// Malformed events are skipped.
func readStream(r io.Reader, callback StreamCallback) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			return nil
		}

		var chunk chatResponse
		if json.Unmarshal([]byte(data), &chunk) != nil || len(chunk.Choices) == 0 {
			continue
		}
		ch := chunk.Choices[0]
		if ch.Delta.Content != "" {
			if err := callback(ch.Delta.Content); err != nil {
				return fmt.Errorf("stream callback: %w", err)
			}
		}
		if ch.FinishReason != nil {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}
