package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-insight/config"
)

type fakeProvider struct {
	text  string
	err   error
	delay time.Duration
	panic bool
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Generate(ctx context.Context, _ string) (string, error) {
	if f.panic {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

func TestExtractRecommendation(t *testing.T) {
	assert.Equal(t, "Trim losers early.", ExtractRecommendation("prompt echo\nRecommendation: Trim losers early. "))
	assert.Equal(t, "last", ExtractRecommendation("Recommendation: first Recommendation: last"))
	assert.Equal(t, "plain text", ExtractRecommendation("  plain text\n"))
}

func TestBuildPromptEndsWithMarker(t *testing.T) {
	p := BuildPrompt("Trade patterns: {}.")
	assert.Contains(t, p, "Trade patterns: {}.")
	assert.True(t, strings.HasSuffix(p, "Recommendation:"))
}

func TestGenerateSuccess(t *testing.T) {
	res := Generate(context.Background(), &fakeProvider{text: "Recommendation: hold"}, "ctx", time.Second)
	require.True(t, res.OK())
	assert.Equal(t, "hold", res.Text)
}

func TestGenerateWrapsErrors(t *testing.T) {
	res := Generate(context.Background(), &fakeProvider{err: errors.New("model not found")}, "ctx", time.Second)
	require.False(t, res.OK())
	assert.Equal(t, "fake", res.Err.Provider)
	assert.False(t, res.Err.Timeout)
	assert.Contains(t, res.Err.Error(), "model not found")
}

func TestGenerateTimeout(t *testing.T) {
	res := Generate(context.Background(), &fakeProvider{text: "late", delay: time.Second}, "ctx", 20*time.Millisecond)
	require.False(t, res.OK())
	assert.True(t, res.Err.Timeout)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestGenerateRecoversPanic(t *testing.T) {
	res := Generate(context.Background(), &fakeProvider{panic: true}, "ctx", time.Second)
	require.False(t, res.OK())
	assert.Contains(t, res.Err.Error(), "panic")
}

func TestGenerateEmptyText(t *testing.T) {
	res := Generate(context.Background(), &fakeProvider{text: "Recommendation:   "}, "ctx", time.Second)
	require.False(t, res.OK())
	assert.ErrorIs(t, res.Err, ErrEmptyResponse)
}

func TestClientGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3.2", req.Model)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Contains(t, req.Messages[1].Content, "Aggregated sentiment")
		}

		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"Recommendation: reduce size"}}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/v1/", "key", "llama3.2")
	res := Generate(context.Background(), c, "Aggregated sentiment scores: {}", time.Second)
	require.True(t, res.OK(), "%v", res.Err)
	assert.Equal(t, "reduce size", res.Text)
}

func TestClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", "m").Generate(context.Background(), "x")
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "overloaded", se.Body)
}

func TestClientStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Recommendation:", " cut", " losses"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	var chunks []string
	res := GenerateStreaming(context.Background(), NewClient(srv.URL, "", "m"), "x", time.Second, func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.True(t, res.OK(), "%v", res.Err)
	assert.Equal(t, "cut losses", res.Text)
	assert.Len(t, chunks, 3)
}

func TestGenerateStreamingFallsBack(t *testing.T) {
	res := GenerateStreaming(context.Background(), &fakeProvider{text: "ok"}, "x", time.Second, func(string) error { return nil })
	require.True(t, res.OK())
	assert.Equal(t, "ok", res.Text)
}

func TestClaudeProviderGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",`+
			`"content":[{"type":"text","text":"Recommendation: rebalance"}],`+
			`"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`)
	}))
	defer srv.Close()

	p, err := NewClaudeProvider("key", "claude-test", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	require.NoError(t, err)

	res := Generate(context.Background(), p, "x", 5*time.Second)
	require.True(t, res.OK(), "%v", res.Err)
	assert.Equal(t, "rebalance", res.Text)
}

func TestNewProviderRejectsUnknown(t *testing.T) {
	_, err := NewProvider(context.Background(), configFor("mystery"))
	assert.Error(t, err)

	p, err := NewProvider(context.Background(), configFor("ollama"))
	require.NoError(t, err)
	assert.Equal(t, "openai:llama3.2", p.Name())

	_, err = NewProvider(context.Background(), configFor("claude"))
	assert.Error(t, err, "claude without a key")
}

func configFor(provider string) config.LLMConfig {
	return config.LLMConfig{Provider: provider, Endpoint: "http://localhost:11434/v1", Model: "llama3.2"}
}
