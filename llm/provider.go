package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phuslu/log"

	"trade-insight/config"
)

// RecommendationProvider turns an analysis context into free-text advice
type RecommendationProvider interface {
	Name() string
	Generate(ctx context.Context, contextText string) (string, error)
}

// StreamingProvider can deliver advice incrementally
type StreamingProvider interface {
	RecommendationProvider
	GenerateStream(ctx context.Context, contextText string, callback StreamCallback) (string, error)
}

// GenerationError is the typed failure of a provider call
type GenerationError struct {
	Provider string
	Timeout  bool
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: generation timed out: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Result is either generated text or a typed failure
type Result struct {
	Text string
	Err  *GenerationError
}

// OK reports whether generation succeeded
func (r Result) OK() bool { return r.Err == nil }

// ErrEmptyResponse is returned when the model produced no recommendation text
var ErrEmptyResponse = errors.New("empty recommendation")

// Generate calls the provider under a timeout. Errors and panics come back
// as a GenerationError and never escape to the caller.
func Generate(ctx context.Context, p RecommendationProvider, contextText string, timeout time.Duration) Result {
	return run(ctx, p, timeout, func(ctx context.Context) (string, error) {
		return p.Generate(ctx, contextText)
	})
}

// GenerateStreaming is Generate with incremental delivery when the provider supports it
func GenerateStreaming(ctx context.Context, p RecommendationProvider, contextText string, timeout time.Duration, callback StreamCallback) Result {
	sp, ok := p.(StreamingProvider)
	if !ok || callback == nil {
		return Generate(ctx, p, contextText, timeout)
	}
	return run(ctx, p, timeout, func(ctx context.Context) (string, error) {
		return sp.GenerateStream(ctx, contextText, callback)
	})
}

func run(ctx context.Context, p RecommendationProvider, timeout time.Duration, call func(context.Context) (string, error)) (res Result) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: &GenerationError{Provider: p.Name(), Err: fmt.Errorf("provider panic: %v", r)}}
		}
	}()

	start := time.Now()
	text, err := call(ctx)
	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
		log.Warn().Err(err).Str("provider", p.Name()).Bool("timeout", timedOut).Msg("Recommendation generation failed")
		return Result{Err: &GenerationError{Provider: p.Name(), Timeout: timedOut, Err: err}}
	}

	text = ExtractRecommendation(text)
	if text == "" {
		return Result{Err: &GenerationError{Provider: p.Name(), Err: ErrEmptyResponse}}
	}
	log.Debug().Str("provider", p.Name()).Dur("elapsed", time.Since(start)).Int("chars", len(text)).Msg("Recommendation generated")
	return Result{Text: text}
}

// NewProvider builds the provider selected in configuration
func NewProvider(ctx context.Context, cfg config.LLMConfig) (RecommendationProvider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai", "ollama":
		return NewClient(cfg.Endpoint, cfg.APIKey, cfg.Model), nil
	case "gemini":
		return NewGeminiProvider(ctx, cfg.APIKey, cfg.Model)
	case "claude", "anthropic":
		return NewClaudeProvider(cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
